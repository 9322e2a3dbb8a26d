package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/netip"
	"os"

	"github.com/mikhailv/proxy-dns/internal/config"
	"github.com/mikhailv/proxy-dns/internal/dnsclient"
	"github.com/mikhailv/proxy-dns/internal/dnssvc"
	"github.com/mikhailv/proxy-dns/internal/log"
	"github.com/mikhailv/proxy-dns/internal/resolver"
	"github.com/mikhailv/proxy-dns/internal/server"
	"github.com/mikhailv/proxy-dns/internal/setup"
	"github.com/mikhailv/proxy-dns/internal/stream"
)

func main() {
	ctx := setup.SignalContext(context.Background())

	configFile := flag.String("config", "./config.yaml", "config file path")
	pprofAddr := flag.String("pprof", "", "pprof handler address")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to load config: %v", err)
		os.Exit(1)
	}

	logger, logStream := setupLogger(*debug, cfg.History.LogSize)

	setup.Pprof(ctx, *pprofAddr, logger)

	upstream, err := setupUpstream(ctx, cfg.Upstream, log.WithPrefix(logger, "dns_client"))
	if err != nil {
		logger.Error("failed to create dns client", "err", err)
		os.Exit(1)
	}

	var res resolver.DNSResolver = upstream
	if len(cfg.MDNS.Domains) > 0 {
		local := dnsclient.NewMDNSClient(cfg.MDNS.Addr, cfg.MDNS.QueryTimeout)
		res = resolver.NewLocalResolver(res, local, cfg.MDNS.Domains)
	}

	queryLog := dnssvc.NewQueryLog(log.WithPrefix(logger, "dns_svc"), res, cfg.History.DNSQuerySize)

	httpServer := server.NewHTTPServer(cfg.HTTPAddr, log.WithPrefix(logger, "http"), queryLog, server.History{
		Logs:       logStream,
		Queries:    queryLog.QueryStream(),
		RawQueries: queryLog.RawQueryStream(),
	})
	go httpServer.Serve(ctx)

	udpServer := server.NewDNSServer(cfg.Addr, log.WithPrefix(logger, "dns"), queryLog)
	go udpServer.Serve(ctx)

	<-ctx.Done()
}

func setupUpstream(ctx context.Context, cfg config.Upstream, logger *slog.Logger) (resolver.DNSResolver, error) {
	bootstrap, err := setupBootstrap(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return dnsclient.NewClient(ctx, dnsclient.Config{
		Host:      cfg.Host,
		Port:      cfg.Port,
		Transport: cfg.Transport,
		Iface:     cfg.Interface,
		Bootstrap: bootstrap,
	}, logger)
}

// setupBootstrap builds the resolver used for the upstream server's own
// hostname. A configured bootstrap address gets its own plain UDP client;
// otherwise the OS stub resolver is used. A literal upstream host needs no
// bootstrap at all.
func setupBootstrap(ctx context.Context, cfg config.Upstream, logger *slog.Logger) (resolver.HostResolver, error) {
	if _, err := netip.ParseAddr(cfg.Host); err == nil {
		return nil, nil
	}
	if cfg.Bootstrap == "" {
		return resolver.SystemHostResolver{}, nil
	}
	addr, err := netip.ParseAddrPort(cfg.Bootstrap)
	if err != nil {
		return nil, fmt.Errorf("invalid bootstrap address %q: %w", cfg.Bootstrap, err)
	}
	client, err := dnsclient.NewClient(ctx, dnsclient.Config{
		Host:      addr.Addr().String(),
		Port:      addr.Port(),
		Transport: dnsclient.TransportUDP,
	}, log.WithPrefix(logger, "bootstrap"))
	if err != nil {
		return nil, err
	}
	return resolver.NewHostResolver(client), nil
}

func setupLogger(debug bool, historySize int) (*slog.Logger, *stream.Buffered[log.Entry]) {
	var recorder *log.Recorder
	logger := setup.Logger(debug, func(handler slog.Handler) slog.Handler {
		recorder = log.NewRecorder(handler, historySize)
		return recorder
	})
	return logger, recorder.Stream()
}
