package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/faanross/simulacra_png/internal/carrier"
	"github.com/faanross/simulacra_png/internal/cli"
	"github.com/faanross/simulacra_png/internal/decoder"
	"github.com/faanross/simulacra_png/internal/dnsclient"
	"github.com/faanross/simulacra_png/internal/scrypto"
)

func main() {
	cli.Exit(run(os.Args[1:]))
}

type options struct {
	outDir   string
	decode   bool
	password []byte
}

func run(args []string) error {
	var (
		common   cli.CommonFlags
		server   string
		domain   string
		msgID    string
		poll     bool
		clientID string
		outDir   string
		decode   bool
		password string
		interval time.Duration
	)
	fs := pflag.NewFlagSet("stego-receive", pflag.ContinueOnError)
	common.AddFlags(fs)
	fs.StringVar(&server, "server", "127.0.0.1:5353", "drop DNS server host:port")
	fs.StringVar(&domain, "domain", "", "drop zone (default dns.domain)")
	fs.StringVar(&msgID, "msg", "", "message id to retrieve")
	fs.BoolVar(&poll, "poll", false, "poll for new messages until interrupted")
	fs.StringVar(&clientID, "client", "receiver1", "client id used when polling")
	fs.DurationVar(&interval, "interval", 5*time.Second, "poll interval")
	fs.StringVarP(&outDir, "output", "o", ".", "directory for received images")
	fs.BoolVar(&decode, "decode", false, "extract the hidden message after retrieval")
	fs.StringVarP(&password, "password", "p", "", "passphrase for --decode (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if msgID == "" && !poll {
		return errors.New("pass --msg <id> or --poll")
	}

	cfg, logger, err := common.Setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if domain == "" {
		domain = cfg.DNS.Domain
	}

	opts := options{outDir: outDir, decode: decode}
	if decode {
		if password != "" {
			opts.password = []byte(password)
		} else if opts.password, err = scrypto.GetSecurePassword("Passphrase: "); err != nil {
			return err
		}
		defer scrypto.ZeroBytes(opts.password)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rx := dnsclient.NewReceiver(server, domain, logger)
	rx.PollInterval = interval

	if poll {
		cli.Header("Simulacra receive (polling)")
		cli.Field("Client", clientID)
		cli.Field("Server", server)
		err := rx.Poll(ctx, clientID, func(id string, data []byte) error {
			return handle(id, data, opts, logger)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	cli.Header("Simulacra receive")
	start := time.Now()
	data, manifest, err := rx.Retrieve(ctx, msgID)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	cli.Field("Message ID", msgID)
	cli.Field("Chunks", manifest.TotalChunks)
	cli.Field("Size", fmt.Sprintf("%d bytes", len(data)))
	cli.Field("Rate", fmt.Sprintf("%.2f KB/s", float64(len(data))/1024/elapsed.Seconds()))
	cli.Field("BLAKE3", "verified")
	return handle(msgID, data, opts, logger)
}

func handle(id string, data []byte, opts options, logger *zap.Logger) error {
	path := filepath.Join(opts.outDir, fmt.Sprintf("received_%s.png", id))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	cli.Success("Saved %s", path)

	if !opts.decode {
		return nil
	}
	c, _, err := carrier.DecodeBytes(data)
	if err != nil {
		return err
	}
	message, err := decoder.NewSecureStegoDecoder(opts.password, decoder.WithLogger(logger)).Extract(c.Pixels)
	if err != nil {
		return err
	}
	out := filepath.Join(opts.outDir, fmt.Sprintf("decoded_%s.txt", id))
	if err := os.WriteFile(out, message.Message, 0600); err != nil {
		return err
	}
	cli.Success("Hidden message (%d bytes) written to %s", len(message.Message), out)
	return nil
}
