package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/faanross/simulacra_png/internal/carrier"
	"github.com/faanross/simulacra_png/internal/chunker"
	"github.com/faanross/simulacra_png/internal/cli"
	"github.com/faanross/simulacra_png/internal/dnsclient"
)

func main() {
	cli.Exit(run(os.Args[1:]))
}

func run(args []string) error {
	var (
		common   cli.CommonFlags
		input    string
		server   string
		domain   string
		encoding string
		zoneOut  string
	)
	fs := pflag.NewFlagSet("stego-send", pflag.ContinueOnError)
	common.AddFlags(fs)
	fs.StringVarP(&input, "input", "i", "", "stego image to publish")
	fs.StringVar(&server, "server", "", "drop upload API, host:port or URL (default dns.upload_addr)")
	fs.StringVar(&domain, "domain", "", "drop zone (default dns.domain)")
	fs.StringVar(&encoding, "encoding", chunker.ENCODE_BASE32, "chunk encoding: base32 or hex")
	fs.StringVar(&zoneOut, "zone", "", "write a zone file here instead of uploading")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if input == "" {
		return errors.New("no input image: pass --input")
	}
	if encoding != chunker.ENCODE_BASE32 && encoding != chunker.ENCODE_HEX {
		return fmt.Errorf("unknown encoding %q", encoding)
	}

	cfg, logger, err := common.Setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if domain == "" {
		domain = cfg.DNS.Domain
	}
	if server == "" {
		server = cfg.DNS.UploadAddr
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	// Refuse anything that would not survive as a carrier.
	if _, kind, err := carrier.DecodeBytes(data); err != nil {
		return err
	} else if kind == "jpeg" || kind == "webp" {
		return fmt.Errorf("%w: %s", carrier.ErrLossyFormat, kind)
	}

	ch := chunker.NewChunker(chunker.ChunkerConfig{Encoding: encoding}, logger)
	msg, err := ch.ChunkMessage(data)
	if err != nil {
		return err
	}

	cli.Header("Simulacra send")
	cli.Field("Image", fmt.Sprintf("%s (%d bytes)", input, len(data)))
	cli.Field("Message ID", msg.ShortID())
	cli.Field("Chunks", fmt.Sprintf("%d x %d bytes (%s)", len(msg.Chunks), ch.PayloadSize(), encoding))
	cli.Field("BLAKE3", msg.Checksum)

	if zoneOut != "" {
		enc := chunker.NewDNSEncoder(domain, cfg.DNS.TTL, logger)
		_, records := enc.EncodeToDNS(msg)
		f, err := os.Create(zoneOut)
		if err != nil {
			return err
		}
		if err := enc.GenerateZoneFile(f, records); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		cli.Success("Zone file with %d records written to %s", len(records), zoneOut)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	start := time.Now()
	resp, err := dnsclient.NewUploadClient(server, domain, logger).Upload(ctx, msg)
	if err != nil {
		return err
	}
	cli.Success("Uploaded %s (%d chunks) in %v", resp.MessageID, resp.Chunks, time.Since(start).Round(time.Millisecond))
	cli.Field("Retrieve with", fmt.Sprintf("stego-receive --msg %s --domain %s", resp.MessageID, domain))
	return nil
}
