package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/faanross/simulacra_png/internal/cli"
	"github.com/faanross/simulacra_png/internal/httpapi"
)

func main() {
	cli.Exit(run(os.Args[1:]))
}

func run(args []string) error {
	var (
		common cli.CommonFlags
		addr   string
	)
	fs := pflag.NewFlagSet("stego-server", pflag.ContinueOnError)
	common.AddFlags(fs)
	fs.StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
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
	if addr != "" {
		cfg.HTTP.Addr = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting stego server",
		zap.String("addr", cfg.HTTP.Addr),
		zap.Int("max_concurrent", cfg.HTTP.MaxConcurrent),
		zap.Int("max_upload_mb", cfg.HTTP.MaxUploadMB),
		zap.Bool("passphrase_policy", cfg.PassphrasePolicy),
	)
	return httpapi.NewServer(cfg, logger).ListenAndServe(ctx)
}
