package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/mikhailv/proxy-dns/internal/log"
	"github.com/mikhailv/proxy-dns/internal/metrics"
	"github.com/mikhailv/proxy-dns/internal/resolver"
	"github.com/mikhailv/proxy-dns/internal/stream"
	"github.com/mikhailv/proxy-dns/internal/types"
)

const (
	dohMediaType      = "application/dns-message"
	dohMaxRequestSize = 64 << 10
)

// History groups the streams the API serves under /api.
type History struct {
	Logs       *stream.Buffered[log.Entry]
	Queries    *stream.Buffered[types.DNSQuery]
	RawQueries *stream.Buffered[types.DNSRawQuery]
}

// HTTPServer exposes the management surface: Prometheus metrics, a DoH
// endpoint over the resolver chain, and the query/log history with live
// websocket tails.
type HTTPServer struct {
	logger   *slog.Logger
	resolver resolver.DNSResolver
	history  History
	srv      *http.Server
}

func NewHTTPServer(addr string, logger *slog.Logger, res resolver.DNSResolver, history History) *HTTPServer {
	s := &HTTPServer{
		logger:   logger,
		resolver: res,
		history:  history,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Serve blocks until the listener fails or ctx is canceled.
func (s *HTTPServer) Serve(ctx context.Context) {
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown failed", "err", err)
		}
	})

	s.logger.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("http server failed", "err", err)
		os.Exit(1)
	}
}

func (s *HTTPServer) routes() http.Handler {
	apiLogger := log.WithPrefix(s.logger, "api")

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("POST /dns-query", s.instrument("doh.query", s.handleDoH))
	registerHistoryAPI(mux, "/api/logs", s.history.Logs, apiLogger, logFilter)
	registerHistoryAPI(mux, "/api/dns-queries", s.history.Queries, apiLogger, queryFilter)
	registerHistoryAPI(mux, "/api/dns-raw-queries", s.history.RawQueries, apiLogger, rawQueryFilter)

	return cors.Default().Handler(mux)
}

type apiHandler func(w http.ResponseWriter, req *http.Request) (status int, err error)

// instrument times the handler, counts its status, and turns returned errors
// into plain-text responses.
func (s *HTTPServer) instrument(op string, handler apiHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer metrics.Measure(op)()
		status, err := handler(w, req)
		if err != nil {
			http.Error(w, http.StatusText(status), status)
			s.logger.Error("request failed", "op", op, "status", status, "err", err)
		}
		metrics.CountResult(op, strconv.Itoa(status))
	})
}

// handleDoH answers RFC 8484 POST queries through the resolver chain.
func (s *HTTPServer) handleDoH(w http.ResponseWriter, req *http.Request) (int, error) {
	if ct := req.Header.Get("Content-Type"); ct != dohMediaType {
		return http.StatusUnsupportedMediaType, fmt.Errorf("doh: unexpected content type %q", ct)
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, dohMaxRequestSize))
	if err != nil {
		return http.StatusBadRequest, fmt.Errorf("doh: read query: %w", err)
	}
	var query dns.Msg
	if err := query.Unpack(body); err != nil {
		return http.StatusBadRequest, fmt.Errorf("doh: malformed query: %w", err)
	}

	ctx := resolver.WithClientAddr(req.Context(), req.RemoteAddr)
	answer, err := s.resolver.Resolve(ctx, &query)
	if err != nil {
		return http.StatusBadGateway, fmt.Errorf("doh: resolve: %w", err)
	}
	packed, err := answer.Pack()
	if err != nil {
		return http.StatusInternalServerError, fmt.Errorf("doh: pack answer: %w", err)
	}

	w.Header().Set("Content-Type", dohMediaType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(packed)
	return http.StatusOK, nil
}
