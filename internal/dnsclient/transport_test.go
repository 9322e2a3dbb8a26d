package dnsclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransport(t *testing.T) {
	tests := []struct {
		input string
		want  Transport
	}{
		{"UDP", TransportUDP},
		{"TCP", TransportTCP},
		{"DoT", TransportDoT},
		{"DoH", TransportDoH},
		{"DHCP", TransportDHCP},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTransport(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestParseTransportUnknown(t *testing.T) {
	for _, input := range []string{"", "udp", "https", "DOH"} {
		_, err := ParseTransport(input)
		assert.ErrorContains(t, err, "unsupported protocol")
	}
}

func TestTransportTextRoundTrip(t *testing.T) {
	for _, tr := range []Transport{TransportUDP, TransportTCP, TransportDoT, TransportDoH, TransportDHCP} {
		text, err := tr.MarshalText()
		require.NoError(t, err)

		var parsed Transport
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, tr, parsed)
	}
}
