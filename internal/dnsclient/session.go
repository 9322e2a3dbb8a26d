package dnsclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/miekg/dns"
	"golang.org/x/net/http2"
)

// maxUDPPayloadSize is the EDNS0 buffer size advertised for UDP exchanges.
const maxUDPPayloadSize = 1232

// session is an established connection to the upstream server, ready to
// carry DNS exchanges. Implementations are safe for use by the single
// locked caller in Client.Resolve.
type session interface {
	roundTrip(ctx context.Context, req *dns.Msg) (*dns.Msg, error)
}

// connSession multiplexes DNS messages over one dns.Conn (UDP, TCP or TLS).
// A read loop pumps responses off the wire and hands each one to the waiter
// registered under its message ID.
type connSession struct {
	conn *dns.Conn

	mu      sync.Mutex
	waiters map[uint16]chan *dns.Msg

	done    chan struct{}
	readErr error
}

var _ session = (*connSession)(nil)

func newConnSession(conn *dns.Conn) (*connSession, *task) {
	s := &connSession{
		conn:    conn,
		waiters: make(map[uint16]chan *dns.Msg),
		done:    make(chan struct{}),
	}
	return s, spawn(s.readLoop)
}

func (s *connSession) readLoop() error {
	for {
		msg, err := s.conn.ReadMsg()
		if err != nil {
			s.readErr = err
			close(s.done)
			_ = s.conn.Close()
			return err
		}
		s.dispatch(msg)
	}
}

func (s *connSession) dispatch(msg *dns.Msg) {
	s.mu.Lock()
	ch, ok := s.waiters[msg.Id]
	if ok {
		delete(s.waiters, msg.Id)
	}
	s.mu.Unlock()
	if ok {
		ch <- msg
	}
	// Responses with no waiter are dropped: late arrivals after a timeout,
	// or unsolicited traffic.
}

func (s *connSession) roundTrip(ctx context.Context, req *dns.Msg) (*dns.Msg, error) {
	ch := make(chan *dns.Msg, 1)
	s.mu.Lock()
	s.waiters[req.Id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiters, req.Id)
		s.mu.Unlock()
	}()

	deadline, _ := ctx.Deadline() // zero deadline clears the previous one
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMsg(req); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-s.done:
		return nil, fmt.Errorf("dns connection closed: %w", s.readErr)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dohSession exchanges DNS messages as RFC 8484 POST requests over a single
// HTTP/2 connection.
type dohSession struct {
	cc  *http2.ClientConn
	url string
}

var _ session = (*dohSession)(nil)

const dohMediaType = "application/dns-message"

func (s *dohSession) roundTrip(ctx context.Context, req *dns.Msg) (*dns.Msg, error) {
	packed, err := req.Pack()
	if err != nil {
		return nil, fmt.Errorf("pack query: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(packed))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", dohMediaType)
	httpReq.Header.Set("Accept", dohMediaType)

	httpResp, err := s.cc.RoundTrip(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh server returned %s", httpResp.Status)
	}
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	resp := new(dns.Msg)
	if err := resp.Unpack(body); err != nil {
		return nil, fmt.Errorf("unpack response: %w", err)
	}
	return resp, nil
}

// monitoredConn reports the first I/O failure on the underlying connection,
// giving the DoH transport a liveness signal equivalent to a read loop.
type monitoredConn struct {
	net.Conn

	once sync.Once
	dead chan struct{}
	err  error
}

func newMonitoredConn(conn net.Conn) *monitoredConn {
	return &monitoredConn{Conn: conn, dead: make(chan struct{})}
}

func (c *monitoredConn) fail(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.dead)
	})
}

func (c *monitoredConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if err != nil {
		c.fail(err)
	}
	return n, err
}

func (c *monitoredConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if err != nil {
		c.fail(err)
	}
	return n, err
}

func (c *monitoredConn) Close() error {
	err := c.Conn.Close()
	c.fail(net.ErrClosed)
	return err
}

// wait blocks until the connection dies and returns the cause.
func (c *monitoredConn) wait() error {
	<-c.dead
	return c.err
}
