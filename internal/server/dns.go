package server

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/miekg/dns"

	"github.com/mikhailv/proxy-dns/internal/metrics"
	"github.com/mikhailv/proxy-dns/internal/resolver"
)

// DNSServer is the plain-UDP front of the resolver chain. Queries it cannot
// answer are refused rather than dropped, so clients fail over quickly.
type DNSServer struct {
	logger   *slog.Logger
	resolver resolver.DNSResolver
	srv      *dns.Server
}

func NewDNSServer(addr string, logger *slog.Logger, res resolver.DNSResolver) *DNSServer {
	return &DNSServer{
		logger:   logger,
		resolver: res,
		srv: &dns.Server{
			Addr:         addr,
			Net:          "udp",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Serve blocks until the listener fails or ctx is canceled.
func (s *DNSServer) Serve(ctx context.Context) {
	s.srv.Handler = dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		s.handle(ctx, w, req)
	})

	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.ShutdownContext(shutdownCtx); err != nil {
			s.logger.Error("dns server shutdown failed", "err", err)
		}
	})

	s.logger.Info("dns server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil {
		s.logger.Error("dns server failed", "err", err)
		os.Exit(1)
	}
}

func (s *DNSServer) handle(ctx context.Context, w dns.ResponseWriter, req *dns.Msg) {
	defer metrics.Measure("dns.serve")()

	answer, err := s.resolver.Resolve(resolver.WithClientAddr(ctx, w.RemoteAddr().String()), req)
	if err != nil {
		s.logger.Error("query failed", "err", err)
		metrics.CountResult("dns.serve", "error")
		answer = resolver.RefusedResponse(req)
	} else {
		metrics.CountResult("dns.serve", "ok")
	}
	_ = w.WriteMsg(answer)
}
