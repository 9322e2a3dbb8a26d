package resolver

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	answers map[uint16][]netip.Addr
	err     error
}

func (f fakeResolver) Resolve(_ context.Context, msg *dns.Msg) (*dns.Msg, error) {
	if f.err != nil {
		return nil, f.err
	}
	resp := new(dns.Msg)
	resp.SetReply(msg)
	q := msg.Question[0]
	for _, addr := range f.answers[q.Qtype] {
		hdr := dns.RR_Header{Name: q.Name, Class: dns.ClassINET, Ttl: 60}
		if addr.Is4() {
			hdr.Rrtype = dns.TypeA
			resp.Answer = append(resp.Answer, &dns.A{Hdr: hdr, A: net.IP(addr.AsSlice())})
		} else {
			hdr.Rrtype = dns.TypeAAAA
			resp.Answer = append(resp.Answer, &dns.AAAA{Hdr: hdr, AAAA: net.IP(addr.AsSlice())})
		}
	}
	return resp, nil
}

func TestHostResolverLiteral(t *testing.T) {
	r := NewHostResolver(fakeResolver{})
	addr, err := r.ResolveHost(context.Background(), "192.0.2.7", false)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.0.2.7"), addr)
}

func TestHostResolverQueries(t *testing.T) {
	r := NewHostResolver(fakeResolver{answers: map[uint16][]netip.Addr{
		dns.TypeA: {netip.MustParseAddr("192.0.2.1")},
	}})
	addr, err := r.ResolveHost(context.Background(), "dns.example.net", false)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), addr)
}

func TestHostResolverPreferIPv4(t *testing.T) {
	r := NewHostResolver(fakeResolver{answers: map[uint16][]netip.Addr{
		dns.TypeA:    {netip.MustParseAddr("192.0.2.1")},
		dns.TypeAAAA: {netip.MustParseAddr("2001:db8::1")},
	}})

	addr, err := r.ResolveHost(context.Background(), "dns.example.net", true)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), addr)
}

func TestHostResolverNoAnswer(t *testing.T) {
	r := NewHostResolver(fakeResolver{})
	addr, err := r.ResolveHost(context.Background(), "unknown.example.net", false)
	require.NoError(t, err)
	assert.False(t, addr.IsValid())
}

func TestHostResolverError(t *testing.T) {
	r := NewHostResolver(fakeResolver{err: errors.New("upstream unreachable")})
	_, err := r.ResolveHost(context.Background(), "dns.example.net", false)
	require.Error(t, err)
}

func TestPickAddr(t *testing.T) {
	v4 := netip.MustParseAddr("192.0.2.1")
	v6 := netip.MustParseAddr("2001:db8::1")

	assert.Equal(t, v6, pickAddr([]netip.Addr{v6, v4}, false))
	assert.Equal(t, v4, pickAddr([]netip.Addr{v6, v4}, true))
	assert.Equal(t, v6, pickAddr([]netip.Addr{v6}, true))
	assert.False(t, pickAddr(nil, true).IsValid())
}
