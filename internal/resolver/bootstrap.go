package resolver

import (
	"context"
	"errors"
	"net"
	"net/netip"

	"github.com/miekg/dns"
)

// HostResolver resolves a hostname to a single IP address. It exists to
// break the bootstrap circularity: the upstream DNS server's own hostname
// must be resolved before any query can be sent to it.
//
// A zero netip.Addr with a nil error means the host has no address.
type HostResolver interface {
	ResolveHost(ctx context.Context, host string, preferIPv4 bool) (netip.Addr, error)
}

// NewHostResolver implements HostResolver on top of any DNSResolver by
// issuing A and AAAA queries and picking the first suitable answer.
func NewHostResolver(r DNSResolver) HostResolver {
	return hostResolver{r}
}

type hostResolver struct {
	resolver DNSResolver
}

func (s hostResolver) ResolveHost(ctx context.Context, host string, preferIPv4 bool) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr, nil
	}

	fqdn := dns.Fqdn(host)
	var addrs []netip.Addr
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(fqdn, qtype)
		resp, err := s.resolver.Resolve(ctx, msg)
		if err != nil {
			return netip.Addr{}, err
		}
		addrs = append(addrs, AnswerAddrs(resp)...)
	}

	return pickAddr(addrs, preferIPv4), nil
}

// AnswerAddrs extracts the A and AAAA addresses from a response.
func AnswerAddrs(resp *dns.Msg) []netip.Addr {
	var addrs []netip.Addr
	for _, rr := range resp.Answer {
		var ip net.IP
		switch v := rr.(type) {
		case *dns.A:
			ip = v.A
		case *dns.AAAA:
			ip = v.AAAA
		default:
			continue
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, addr.Unmap())
		}
	}
	return addrs
}

func pickAddr(addrs []netip.Addr, preferIPv4 bool) netip.Addr {
	if preferIPv4 {
		for _, addr := range addrs {
			if addr.Is4() {
				return addr
			}
		}
	}
	if len(addrs) > 0 {
		return addrs[0]
	}
	return netip.Addr{}
}

// SystemHostResolver resolves hosts through the OS stub resolver. Used as
// the default bootstrap when no DNS-based one is configured.
type SystemHostResolver struct {
	// Resolver overrides net.DefaultResolver when set.
	Resolver *net.Resolver
}

var _ HostResolver = SystemHostResolver{}

func (s SystemHostResolver) ResolveHost(ctx context.Context, host string, preferIPv4 bool) (netip.Addr, error) {
	r := s.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	network := "ip"
	if preferIPv4 {
		network = "ip4"
	}
	addrs, err := r.LookupNetIP(ctx, network, host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return netip.Addr{}, nil
		}
		return netip.Addr{}, err
	}
	if len(addrs) == 0 {
		return netip.Addr{}, nil
	}
	return addrs[0].Unmap(), nil
}
