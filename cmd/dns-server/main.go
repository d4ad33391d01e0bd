package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/faanross/simulacra_png/internal/chunker"
	"github.com/faanross/simulacra_png/internal/cli"
	"github.com/faanross/simulacra_png/internal/config"
	"github.com/faanross/simulacra_png/internal/dnsserver"
)

func main() {
	cli.Exit(run(os.Args[1:]))
}

func run(args []string) error {
	var (
		common     cli.CommonFlags
		addr       string
		uploadAddr string
		domain     string
		storage    string
		dataPath   string
		zoneFile   string
	)
	fs := pflag.NewFlagSet("dns-server", pflag.ContinueOnError)
	common.AddFlags(fs)
	fs.StringVar(&addr, "addr", "", "DNS listen address, UDP and TCP (overrides dns.addr)")
	fs.StringVar(&uploadAddr, "upload-addr", "", "HTTP upload API address (overrides dns.upload_addr)")
	fs.StringVar(&domain, "domain", "", "zone served (overrides dns.domain)")
	fs.StringVar(&storage, "storage", "", "memory, file or sqlite (overrides storage.kind)")
	fs.StringVar(&dataPath, "data", "", "JSON file or SQLite database (overrides storage.path)")
	fs.StringVar(&zoneFile, "zone", "", "zone file written by stego-send --zone to preload")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, logger, err := common.Setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	override(&cfg.DNS.Addr, addr)
	override(&cfg.DNS.UploadAddr, uploadAddr)
	override(&cfg.DNS.Domain, domain)
	override(&cfg.Storage.Kind, storage)
	override(&cfg.Storage.Path, dataPath)
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := dnsserver.NewStorage(cfg.Storage.Kind, cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := dnsserver.NewServer(cfg.DNS.Domain, cfg.DNS.TTL, store, logger)

	if zoneFile != "" {
		if err := preload(srv, zoneFile, cfg.DNS.Domain, logger); err != nil {
			return err
		}
	}
	logStats(store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.DNS.Addr)
	})
	if cfg.DNS.UploadAddr != "" {
		g.Go(func() error {
			return serveUploads(gctx, cfg, srv, logger)
		})
	}
	g.Go(func() error {
		srv.RunCleanup(gctx, cfg.DNS.CleanupInterval, cfg.DNS.Retention)
		return nil
	})

	logger.Info("dns drop running",
		zap.String("domain", cfg.DNS.Domain),
		zap.String("dns_addr", cfg.DNS.Addr),
		zap.String("upload_addr", cfg.DNS.UploadAddr),
		zap.String("storage", cfg.Storage.Kind),
		zap.Duration("retention", cfg.DNS.Retention),
	)
	err = g.Wait()
	logStats(store, logger)
	return err
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func preload(srv *dnsserver.Server, path, domain string, logger *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := chunker.ParseZoneFile(f, domain)
	if err != nil {
		return err
	}
	ids, err := srv.Queue().LoadZone(records)
	if err != nil {
		return err
	}
	logger.Info("zone file loaded", zap.String("path", path), zap.Strings("message_ids", ids))
	return nil
}

func serveUploads(ctx context.Context, cfg *config.Config, srv *dnsserver.Server, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", cfg.DNS.UploadAddr)
	if err != nil {
		return err
	}
	hs := &http.Server{
		Handler:           srv.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(logger),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- hs.Serve(ln) }()
	logger.Info("upload api listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	}
}

func logStats(store dnsserver.Storage, logger *zap.Logger) {
	stats, err := store.GetStats()
	if err != nil {
		logger.Warn("storage stats unavailable", zap.Error(err))
		return
	}
	logger.Info("storage",
		zap.Int("messages", stats.TotalMessages),
		zap.Int("new", stats.NewMessages),
		zap.Int("delivered", stats.Delivered),
		zap.Int("consumed", stats.Consumed),
		zap.Int("chunks", stats.TotalChunks),
	)
}
