package dnsclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/http2"
)

const connectTimeout = 5 * time.Second

// dialFunc builds a live session plus the background task driving it.
type dialFunc func(ctx context.Context, e endpoint) (session, *task, error)

// dialSession connects to the endpoint with the transport it specifies.
// The returned task finishes when the connection dies; the caller polls it
// to decide when to reconnect.
func dialSession(ctx context.Context, e endpoint) (session, *task, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch e.transport {
	case TransportUDP:
		conn, err := dialNet(ctx, "udp", e)
		if err != nil {
			return nil, nil, err
		}
		sess, driver := newConnSession(&dns.Conn{Conn: conn, UDPSize: maxUDPPayloadSize})
		return sess, driver, nil

	case TransportTCP:
		conn, err := dialNet(ctx, "tcp", e)
		if err != nil {
			return nil, nil, err
		}
		sess, driver := newConnSession(&dns.Conn{Conn: conn})
		return sess, driver, nil

	case TransportDoT:
		conn, err := dialTLS(ctx, e, tlsConfigDoT(e.serverName))
		if err != nil {
			return nil, nil, err
		}
		sess, driver := newConnSession(&dns.Conn{Conn: conn})
		return sess, driver, nil

	case TransportDoH:
		conn, err := dialTLS(ctx, e, tlsConfigDoH(e.serverName, e.addr.Addr()))
		if err != nil {
			return nil, nil, err
		}
		mconn := newMonitoredConn(conn)
		cc, err := (&http2.Transport{}).NewClientConn(mconn)
		if err != nil {
			_ = mconn.Close()
			return nil, nil, fmt.Errorf("http2 handshake: %w", err)
		}
		sess := &dohSession{cc: cc, url: dohURL(e)}
		return sess, spawn(mconn.wait), nil

	default:
		return nil, nil, fmt.Errorf("unsupported protocol %q", e.transport)
	}
}

func dialNet(ctx context.Context, network string, e endpoint) (net.Conn, error) {
	d := net.Dialer{}
	if e.iface != "" {
		d.Control = bindToDeviceControl(e.iface)
	}
	return d.DialContext(ctx, network, e.addr.String())
}

func dialTLS(ctx context.Context, e endpoint, cfg *tls.Config) (net.Conn, error) {
	conn, err := dialNet(ctx, "tcp", e)
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tlsConn, nil
}

func dohURL(e endpoint) string {
	host := e.serverName
	if strings.Contains(host, ":") { // IPv6 literal needs brackets in the authority
		host = "[" + host + "]"
	}
	if e.addr.Port() == 443 {
		return fmt.Sprintf("https://%s/dns-query", host)
	}
	return fmt.Sprintf("https://%s:%d/dns-query", host, e.addr.Port())
}
