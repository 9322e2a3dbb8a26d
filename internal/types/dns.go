package types

import (
	"net/netip"
	"time"

	"github.com/mikhailv/proxy-dns/internal/stream"
)

var _ stream.CursorAware = (*DNSQuery)(nil)

// DNSQuery is one resolved query as seen by the query history API.
type DNSQuery struct {
	Cursor     stream.Cursor `json:"cursor,omitempty"`
	Time       time.Time     `json:"time"`
	ClientAddr string        `json:"client_addr,omitempty"`
	Domain     string        `json:"domain"`
	Type       string        `json:"type"`
	Upstream   string        `json:"upstream,omitempty"`
	Rcode      string        `json:"rcode"`
	Elapsed    time.Duration `json:"elapsed"`
	IPs        []netip.Addr  `json:"ips,omitempty"`
}

func (s *DNSQuery) SetCursor(cursor stream.Cursor) {
	s.Cursor = cursor
}

var _ stream.CursorAware = (*DNSRawQuery)(nil)

type DNSRawQuery struct {
	Cursor     stream.Cursor `json:"cursor,omitempty"`
	Time       time.Time     `json:"time"`
	ClientAddr string        `json:"client_addr,omitempty"`
	Response   bool          `json:"response,omitempty"`
	Text       string        `json:"text"`
}

func (s *DNSRawQuery) SetCursor(cursor stream.Cursor) {
	s.Cursor = cursor
}
