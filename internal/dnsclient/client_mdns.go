package dnsclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/pion/mdns"
	"golang.org/x/net/ipv4"

	"github.com/mikhailv/proxy-dns/internal/metrics"
	"github.com/mikhailv/proxy-dns/internal/resolver"
)

// mdnsClient answers A queries for local-network names over multicast DNS.
// It shares the resolver contract with the upstream clients so the suffix
// routing decorator can swap it in transparently.
type mdnsClient struct {
	listenAddr string
	timeout    time.Duration

	mu   sync.Mutex
	conn *mdns.Conn
}

var _ resolver.DNSResolver = (*mdnsClient)(nil)

// NewMDNSClient builds the multicast strategy. The listener is opened on
// first use and kept for the life of the client.
func NewMDNSClient(listenAddr string, timeout time.Duration) resolver.DNSResolver {
	return &mdnsClient{listenAddr: listenAddr, timeout: timeout}
}

func (c *mdnsClient) Resolve(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	defer metrics.Measure("mdns.resolve")()

	if !resolver.HasSingleQuestion(msg, dns.TypeA) {
		return nil, errors.New("mdns: only single-question A queries are supported")
	}
	name := msg.Question[0].Name

	conn, err := c.connect()
	if err != nil {
		return nil, fmt.Errorf("mdns listen: %w", err)
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	answer, src, err := conn.Query(queryCtx, strings.TrimSuffix(name, "."))
	if err != nil {
		return nil, fmt.Errorf("mdns query: %w", err)
	}
	ipAddr, ok := src.(*net.IPAddr)
	if !ok {
		return nil, fmt.Errorf("mdns: unexpected source address %T", src)
	}

	resp := new(dns.Msg)
	resp.SetReply(msg)
	resp.Answer = []dns.RR{&dns.A{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: answer.TTL},
		A:   ipAddr.IP,
	}}
	return resp, nil
}

func (c *mdnsClient) connect() (*mdns.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	addr, err := net.ResolveUDPAddr("udp4", c.listenAddr)
	if err != nil {
		return nil, err
	}
	pc, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}
	conn, err := mdns.Server(ipv4.NewPacketConn(pc), &mdns.Config{})
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	c.conn = conn
	return conn, nil
}
