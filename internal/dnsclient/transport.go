package dnsclient

import "fmt"

// Transport identifies the wire protocol carrying queries to the upstream
// DNS server.
type Transport uint8

const (
	TransportUDP Transport = iota
	TransportTCP
	TransportDoT
	TransportDoH
	// TransportDHCP discovers the upstream from DHCP leases and is handled
	// entirely by an external client strategy, never by the stream builder.
	TransportDHCP
)

func (t Transport) String() string {
	switch t {
	case TransportUDP:
		return "UDP"
	case TransportTCP:
		return "TCP"
	case TransportDoT:
		return "DoT"
	case TransportDoH:
		return "DoH"
	case TransportDHCP:
		return "DHCP"
	default:
		return fmt.Sprintf("Transport(%d)", uint8(t))
	}
}

func ParseTransport(s string) (Transport, error) {
	switch s {
	case "UDP":
		return TransportUDP, nil
	case "TCP":
		return TransportTCP, nil
	case "DoT":
		return TransportDoT, nil
	case "DoH":
		return TransportDoH, nil
	case "DHCP":
		return TransportDHCP, nil
	default:
		return 0, fmt.Errorf("unsupported protocol %q", s)
	}
}

func (t Transport) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Transport) UnmarshalText(b []byte) error {
	parsed, err := ParseTransport(string(b))
	if err == nil {
		*t = parsed
	}
	return err
}
