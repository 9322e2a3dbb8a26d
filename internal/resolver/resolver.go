package resolver

import (
	"context"

	"github.com/miekg/dns"
)

// DNSResolver is the exchange contract shared by every upstream client
// strategy: one query message in, the first matching answer out.
type DNSResolver interface {
	Resolve(ctx context.Context, msg *dns.Msg) (*dns.Msg, error)
}

func HasSingleQuestion(msg *dns.Msg, types ...uint16) bool {
	if len(msg.Question) != 1 {
		return false
	}
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if msg.Question[0].Qtype == t {
			return true
		}
	}
	return false
}

func RefusedResponse(req *dns.Msg) *dns.Msg {
	resp := &dns.Msg{}
	resp.SetRcode(req, dns.RcodeRefused)
	return resp
}
