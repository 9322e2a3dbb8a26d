package dnsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync"

	"github.com/miekg/dns"

	"github.com/mikhailv/proxy-dns/internal/metrics"
	"github.com/mikhailv/proxy-dns/internal/resolver"
)

// DHCPClientFactory constructs the DHCP-discovered upstream strategy from a
// network interface name. The returned client must honor the same exchange
// contract as Client.
type DHCPClientFactory func(iface string) (resolver.DNSResolver, error)

// Config describes one upstream DNS server.
type Config struct {
	// Host is the upstream server: a domain name or a literal IP. For the
	// DHCP transport it names the interface to discover the server on.
	Host string
	Port uint16

	Transport Transport

	// Iface binds outgoing sockets to the named network interface.
	Iface string

	// Bootstrap resolves Host when it is a domain name. Without it, Host
	// must already be a literal IP.
	Bootstrap resolver.HostResolver

	// NewDHCPClient is required when Transport is TransportDHCP.
	NewDHCPClient DHCPClientFactory
}

// Client exchanges DNS messages with a single upstream server over a lazily
// established connection. A background task pumps the connection's I/O; when
// it is found dead the next exchange transparently builds a fresh connection.
type Client struct {
	logger   *slog.Logger
	endpoint endpoint

	host      string
	port      uint16
	transport Transport

	// dial builds the connection; swappable in tests.
	dial dialFunc

	// mu serializes every exchange on this client, so reconnection and
	// query sending never race. Callers needing parallelism use multiple
	// client instances.
	mu     sync.Mutex
	sess   session
	driver *task
}

var _ resolver.DNSResolver = (*Client)(nil)

// NewClient builds the upstream client for cfg. The DHCP transport is
// delegated entirely to cfg.NewDHCPClient; everything else resolves Host to
// an IP first (through cfg.Bootstrap when present) and connects lazily on
// the first exchange.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (resolver.DNSResolver, error) {
	if cfg.Transport == TransportDHCP {
		if cfg.NewDHCPClient == nil {
			return nil, errors.New("dns client: no DHCP client constructor configured")
		}
		return cfg.NewDHCPClient(cfg.Host)
	}

	ip, err := resolveUpstreamAddr(ctx, cfg)
	if err != nil {
		return nil, err
	}

	e := endpoint{
		transport: cfg.Transport,
		addr:      netip.AddrPortFrom(ip, cfg.Port),
		iface:     cfg.Iface,
	}
	switch cfg.Transport {
	case TransportDoT, TransportDoH:
		// The original host string drives SNI and certificate validation.
		e.serverName = cfg.Host
	}

	return &Client{
		logger:    logger,
		endpoint:  e,
		host:      cfg.Host,
		port:      cfg.Port,
		transport: cfg.Transport,
		dial:      dialSession,
	}, nil
}

func resolveUpstreamAddr(ctx context.Context, cfg Config) (netip.Addr, error) {
	if cfg.Bootstrap != nil {
		ip, err := cfg.Bootstrap.ResolveHost(ctx, cfg.Host, false)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("resolve hostname failure: %w", err)
		}
		if !ip.IsValid() {
			return netip.Addr{}, fmt.Errorf("can't resolve default DNS: %s", cfg.Host)
		}
		return ip.Unmap(), nil
	}
	ip, err := netip.ParseAddr(cfg.Host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve DNS hostname error: %w, %s", err, cfg.Host)
	}
	return ip.Unmap(), nil
}

// ID identifies the client in logs and metrics.
func (c *Client) ID() string {
	return fmt.Sprintf("%s#%s:%d", c.transport, c.host, c.port)
}

// Resolve sends msg to the upstream server and returns the first matching
// answer. A query with ID 0 gets a fresh random nonzero ID assigned; the
// caller's message is never mutated.
//
// A failing exchange is surfaced as-is: the dead connection is only detected
// and replaced on the next call.
func (c *Client) Resolve(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	defer metrics.MeasureTarget("dns_client.exchange", c.ID())()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.sess == nil:
		c.logger.Info("initializing dns client", "endpoint", c.endpoint.String())
		if err := c.connect(ctx); err != nil {
			return nil, err
		}
	case c.driver.finished():
		c.logger.Warn("dns client background task is finished, likely connection closed, restarting a new one",
			"endpoint", c.endpoint.String(), "err", c.driver.Err())
		if err := c.connect(ctx); err != nil {
			return nil, err
		}
	}

	req := msg
	if req.Id == 0 {
		req = msg.Copy()
		req.Id = newID()
	}

	resp, err := c.sess.roundTrip(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("dns exchange failed: %w", err)
	}
	return resp, nil
}

// connect replaces both connection handles with a fresh pair. On failure
// both stay unset, so the next call starts from scratch. The previous
// session and its task are simply dropped; their goroutine exits once the
// dead connection is garbage.
func (c *Client) connect(ctx context.Context) error {
	sess, driver, err := c.dial(ctx, c.endpoint)
	if err != nil {
		c.sess = nil
		c.driver = nil
		return fmt.Errorf("dns connect %s: %w", c.endpoint, err)
	}
	c.sess = sess
	c.driver = driver
	return nil
}

// newID returns a random nonzero message ID; 0 is reserved as the
// "assign one for me" sentinel.
func newID() uint16 {
	for {
		if id := dns.Id(); id != 0 {
			return id
		}
	}
}

// endpoint is the fully resolved description of the upstream server. Built
// once at construction, never mutated.
type endpoint struct {
	transport  Transport
	addr       netip.AddrPort
	iface      string
	serverName string // DoT/DoH only
}

func (e endpoint) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.transport, e.addr)
	if e.iface != "" {
		fmt.Fprintf(&b, " bind: %s", e.iface)
	}
	if e.serverName != "" {
		fmt.Fprintf(&b, " host: %s", e.serverName)
	}
	return b.String()
}

// task tracks a spawned background goroutine. There is no cancellation:
// the goroutine exits on its own when its connection dies.
type task struct {
	done chan struct{}
	err  error
}

func spawn(fn func() error) *task {
	t := &task{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.err = fn()
	}()
	return t
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Err reports why the task finished; nil while still running.
func (t *task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
