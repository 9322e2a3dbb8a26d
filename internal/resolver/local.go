package resolver

import (
	"context"
	"strings"

	"github.com/miekg/dns"
)

// NewLocalResolver routes A queries for the given domain suffixes to a
// local-network resolver (typically mDNS) and everything else to next.
func NewLocalResolver(next, local DNSResolver, suffixes []string) DNSResolver {
	normalized := make([]string, len(suffixes))
	for i, suffix := range suffixes {
		normalized[i] = strings.Trim(suffix, ".") + "."
	}
	return localResolver{next: next, local: local, suffixes: normalized}
}

type localResolver struct {
	next     DNSResolver
	local    DNSResolver
	suffixes []string
}

var _ DNSResolver = localResolver{}

func (s localResolver) Resolve(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	if s.shouldProcessQuery(msg) {
		return s.local.Resolve(ctx, msg)
	}
	return s.next.Resolve(ctx, msg)
}

func (s localResolver) shouldProcessQuery(msg *dns.Msg) bool {
	if !HasSingleQuestion(msg, dns.TypeA) {
		return false
	}
	for _, suffix := range s.suffixes {
		if strings.HasSuffix(msg.Question[0].Name, suffix) {
			return true
		}
	}
	return false
}
