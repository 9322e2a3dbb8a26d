package dnsclient

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikhailv/proxy-dns/internal/resolver"
)

type stubHostResolver struct {
	addr netip.Addr
	err  error
}

func (s stubHostResolver) ResolveHost(context.Context, string, bool) (netip.Addr, error) {
	return s.addr, s.err
}

type stubSession struct {
	mu       sync.Mutex
	requests []*dns.Msg
	respond  func(req *dns.Msg) (*dns.Msg, error)
}

func (s *stubSession) roundTrip(_ context.Context, req *dns.Msg) (*dns.Msg, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.respond != nil {
		return s.respond(req)
	}
	resp := new(dns.Msg)
	resp.SetReply(req)
	return resp, nil
}

func echoSession() *stubSession {
	return &stubSession{}
}

func newTestClient(t *testing.T, dial dialFunc) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), Config{
		Host:      "8.8.8.8",
		Port:      53,
		Transport: TransportUDP,
	}, discardLogger())
	require.NoError(t, err)
	c := client.(*Client)
	c.dial = dial
	return c
}

func testQuery() *dns.Msg {
	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)
	return msg
}

func TestNewClientLiteralHost(t *testing.T) {
	client, err := NewClient(context.Background(), Config{
		Host:      "1.1.1.1",
		Port:      53,
		Transport: TransportUDP,
	}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "UDP#1.1.1.1:53", client.(*Client).ID())
}

func TestNewClientBadLiteralHost(t *testing.T) {
	_, err := NewClient(context.Background(), Config{
		Host:      "not-an-ip",
		Port:      53,
		Transport: TransportUDP,
	}, discardLogger())
	require.Error(t, err)
	assert.ErrorContains(t, err, "resolve DNS hostname error")
	assert.ErrorContains(t, err, "not-an-ip")
}

func TestNewClientBootstrap(t *testing.T) {
	client, err := NewClient(context.Background(), Config{
		Host:      "dns.example.net",
		Port:      853,
		Transport: TransportDoT,
		Bootstrap: stubHostResolver{addr: netip.MustParseAddr("9.9.9.9")},
	}, discardLogger())
	require.NoError(t, err)

	c := client.(*Client)
	assert.Equal(t, "DoT#dns.example.net:853", c.ID())
	assert.Equal(t, netip.MustParseAddrPort("9.9.9.9:853"), c.endpoint.addr)
	assert.Equal(t, "dns.example.net", c.endpoint.serverName)
}

func TestNewClientBootstrapNoAddress(t *testing.T) {
	_, err := NewClient(context.Background(), Config{
		Host:      "dns.example.net",
		Port:      53,
		Transport: TransportUDP,
		Bootstrap: stubHostResolver{},
	}, discardLogger())
	require.Error(t, err)
	assert.ErrorContains(t, err, "can't resolve default DNS: dns.example.net")
}

func TestNewClientBootstrapError(t *testing.T) {
	_, err := NewClient(context.Background(), Config{
		Host:      "dns.example.net",
		Port:      53,
		Transport: TransportUDP,
		Bootstrap: stubHostResolver{err: errors.New("boom")},
	}, discardLogger())
	require.Error(t, err)
	assert.ErrorContains(t, err, "resolve hostname failure")
	assert.ErrorContains(t, err, "boom")
}

func TestNewClientDHCP(t *testing.T) {
	stub := echoSession()
	client, err := NewClient(context.Background(), Config{
		Host:      "eth0",
		Transport: TransportDHCP,
		NewDHCPClient: func(iface string) (resolver.DNSResolver, error) {
			assert.Equal(t, "eth0", iface)
			return &Client{
				logger: discardLogger(),
				sess:   stub,
				driver: spawn(func() error { select {} }),
			}, nil
		},
	}, discardLogger())
	require.NoError(t, err)

	_, err = client.Resolve(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Len(t, stub.requests, 1)
}

func TestNewClientDHCPWithoutFactory(t *testing.T) {
	_, err := NewClient(context.Background(), Config{
		Host:      "eth0",
		Transport: TransportDHCP,
	}, discardLogger())
	require.Error(t, err)
}

func TestClientLazyConnect(t *testing.T) {
	stub := echoSession()
	var dials int
	c := newTestClient(t, func(ctx context.Context, e endpoint) (session, *task, error) {
		dials++
		return stub, spawn(func() error { select {} }), nil
	})

	require.Zero(t, dials)

	_, err := c.Resolve(context.Background(), testQuery())
	require.NoError(t, err)
	_, err = c.Resolve(context.Background(), testQuery())
	require.NoError(t, err)

	assert.Equal(t, 1, dials, "connection must be reused while healthy")
}

func TestClientAssignsNonzeroID(t *testing.T) {
	stub := echoSession()
	c := newTestClient(t, func(ctx context.Context, e endpoint) (session, *task, error) {
		return stub, spawn(func() error { select {} }), nil
	})

	msg := testQuery()
	msg.Id = 0
	_, err := c.Resolve(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, stub.requests, 1)
	assert.NotZero(t, stub.requests[0].Id, "zero ID must be replaced")
	assert.Zero(t, msg.Id, "caller's message must not be mutated")
}

func TestClientKeepsExplicitID(t *testing.T) {
	stub := echoSession()
	c := newTestClient(t, func(ctx context.Context, e endpoint) (session, *task, error) {
		return stub, spawn(func() error { select {} }), nil
	})

	msg := testQuery()
	msg.Id = 1234
	_, err := c.Resolve(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, stub.requests, 1)
	assert.EqualValues(t, 1234, stub.requests[0].Id)
}

func TestClientReconnectsAfterDriverExit(t *testing.T) {
	var dials int
	c := newTestClient(t, func(ctx context.Context, e endpoint) (session, *task, error) {
		dials++
		if dials == 1 {
			return echoSession(), spawn(func() error { return errors.New("connection reset") }), nil
		}
		return echoSession(), spawn(func() error { select {} }), nil
	})

	_, err := c.Resolve(context.Background(), testQuery())
	require.NoError(t, err)

	// let the first driver finish
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.driver.finished()
	}, time.Second, time.Millisecond)

	_, err = c.Resolve(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Equal(t, 2, dials, "dead connection must be rebuilt")
}

func TestClientConnectFailure(t *testing.T) {
	dialErr := errors.New("dial tcp: connection refused")
	var dials int
	c := newTestClient(t, func(ctx context.Context, e endpoint) (session, *task, error) {
		dials++
		if dials == 1 {
			return nil, nil, dialErr
		}
		return echoSession(), spawn(func() error { select {} }), nil
	})

	_, err := c.Resolve(context.Background(), testQuery())
	require.Error(t, err)
	assert.ErrorIs(t, err, dialErr)
	assert.ErrorContains(t, err, "dns connect")

	// failed connect leaves no half-built state; the next call retries
	_, err = c.Resolve(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Equal(t, 2, dials)
}

func TestClientExchangeError(t *testing.T) {
	exchangeErr := errors.New("read timeout")
	stub := &stubSession{respond: func(*dns.Msg) (*dns.Msg, error) { return nil, exchangeErr }}
	c := newTestClient(t, func(ctx context.Context, e endpoint) (session, *task, error) {
		return stub, spawn(func() error { select {} }), nil
	})

	_, err := c.Resolve(context.Background(), testQuery())
	require.Error(t, err)
	assert.ErrorIs(t, err, exchangeErr)
	assert.ErrorContains(t, err, "dns exchange failed")
}

func TestClientSerializesExchanges(t *testing.T) {
	var inFlight atomic.Int32
	var overlapped atomic.Bool
	stub := &stubSession{respond: func(req *dns.Msg) (*dns.Msg, error) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(time.Millisecond) // widen the window so overlap would be caught
		inFlight.Add(-1)
		resp := new(dns.Msg)
		resp.SetReply(req)
		return resp, nil
	}}
	c := newTestClient(t, func(ctx context.Context, e endpoint) (session, *task, error) {
		return stub, spawn(func() error { select {} }), nil
	})

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Resolve(context.Background(), testQuery())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, overlapped.Load(), "two exchanges must never run at once")
	assert.Len(t, stub.requests, n)
}

func TestEndpointString(t *testing.T) {
	tests := []struct {
		name string
		e    endpoint
		want string
	}{
		{
			name: "udp",
			e:    endpoint{transport: TransportUDP, addr: netip.MustParseAddrPort("8.8.8.8:53")},
			want: "UDP: 8.8.8.8:53",
		},
		{
			name: "bound iface",
			e:    endpoint{transport: TransportTCP, addr: netip.MustParseAddrPort("8.8.8.8:53"), iface: "eth0"},
			want: "TCP: 8.8.8.8:53 bind: eth0",
		},
		{
			name: "tls",
			e:    endpoint{transport: TransportDoT, addr: netip.MustParseAddrPort("1.1.1.1:853"), serverName: "one.one.one.one"},
			want: "DoT: 1.1.1.1:853 host: one.one.one.one",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.e.String())
		})
	}
}

func TestNewIDNonzero(t *testing.T) {
	for i := 0; i < 1000; i++ {
		require.NotZero(t, newID())
	}
}
