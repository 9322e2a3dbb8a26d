package dnssvc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miekg/dns"

	"github.com/mikhailv/proxy-dns/internal/resolver"
	"github.com/mikhailv/proxy-dns/internal/stream"
	"github.com/mikhailv/proxy-dns/internal/types"
)

// UpstreamIdentity names the resolver a query was forwarded to, for the
// query history. Clients that expose an ID are recorded under it.
type UpstreamIdentity interface {
	ID() string
}

var _ resolver.DNSResolver = (*QueryLog)(nil)

// QueryLog decorates a resolver with in-memory query history: every
// exchange is recorded both in raw wire-text form and as a structured
// summary, each in its own streaming buffer.
type QueryLog struct {
	logger         *slog.Logger
	resolver       resolver.DNSResolver
	upstream       string
	queryStream    *stream.Buffered[types.DNSQuery]
	rawQueryStream *stream.Buffered[types.DNSRawQuery]
}

func NewQueryLog(logger *slog.Logger, res resolver.DNSResolver, historySize int) *QueryLog {
	var upstream string
	if id, ok := res.(UpstreamIdentity); ok {
		upstream = id.ID()
	}
	return &QueryLog{
		logger:         logger,
		resolver:       res,
		upstream:       upstream,
		queryStream:    stream.NewBufferedStream[types.DNSQuery](historySize),
		rawQueryStream: stream.NewBufferedStream[types.DNSRawQuery](historySize),
	}
}

func (s *QueryLog) QueryStream() *stream.Buffered[types.DNSQuery] {
	return s.queryStream
}

func (s *QueryLog) RawQueryStream() *stream.Buffered[types.DNSRawQuery] {
	return s.rawQueryStream
}

func (s *QueryLog) Resolve(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	s.appendRawQuery(ctx, false, msg.String())

	start := time.Now()
	resp, err := s.resolver.Resolve(ctx, msg)
	elapsed := time.Since(start)
	if err != nil {
		s.appendRawQuery(ctx, true, fmt.Sprintf("ERROR: query (id: %d) failed: %v", msg.Id, err))
		return nil, err
	}
	s.appendRawQuery(ctx, true, resp.String())

	s.appendQuery(ctx, msg, resp, elapsed)

	return resp, nil
}

func (s *QueryLog) appendRawQuery(ctx context.Context, response bool, text string) {
	s.rawQueryStream.Append(types.DNSRawQuery{
		Time:       time.Now(),
		ClientAddr: resolver.ClientAddr(ctx),
		Response:   response,
		Text:       text,
	})
}

func (s *QueryLog) appendQuery(ctx context.Context, msg, resp *dns.Msg, elapsed time.Duration) {
	if len(msg.Question) == 0 {
		return
	}
	q := msg.Question[0]
	res := types.DNSQuery{
		Time:       time.Now(),
		ClientAddr: resolver.ClientAddr(ctx),
		Domain:     normalizeName(q.Name),
		Type:       dns.TypeToString[q.Qtype],
		Upstream:   s.upstream,
		Rcode:      dns.RcodeToString[resp.Rcode],
		Elapsed:    elapsed,
		IPs:        resolver.AnswerAddrs(resp),
	}
	s.queryStream.Append(res)
	s.logger.Debug("domain resolved", "domain", res.Domain, "type", res.Type, "rcode", res.Rcode, "ips", len(res.IPs), "client_addr", res.ClientAddr)
}

func normalizeName(name string) string {
	if name == "." {
		return name
	}
	if n := len(name); n > 0 && name[n-1] == '.' {
		return name[:n-1]
	}
	return name
}
