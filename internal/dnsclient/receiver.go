package dnsclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/faanross/simulacra_png/internal/chunker"
)

// ErrNoAnswer means the server answered without a TXT record.
var ErrNoAnswer = errors.New("no TXT answer")

// Receiver retrieves messages from a drop over DNS
type Receiver struct {
	server       string
	domain       string
	encoder      *chunker.DNSEncoder
	chunker      *chunker.Chunker
	client       *dns.Client
	logger       *zap.Logger
	PollInterval time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	Parallel     int
}

// NewReceiver creates a receiver querying server (host:port) for domain
func NewReceiver(server, domain string, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{
		server:       server,
		domain:       strings.TrimSuffix(domain, "."),
		encoder:      chunker.NewDNSEncoder(domain, 0, logger),
		chunker:      chunker.NewChunker(chunker.ChunkerConfig{}, logger),
		client:       &dns.Client{Timeout: 5 * time.Second},
		logger:       logger,
		PollInterval: 5 * time.Second,
		MaxRetries:   3,
		RetryDelay:   time.Second,
		Parallel:     4,
	}
}

func (r *Receiver) queryTXT(ctx context.Context, name string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)

	resp, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return nil, err
	}
	if resp.Truncated {
		tcp := &dns.Client{Net: "tcp", Timeout: r.client.Timeout}
		if resp, _, err = tcp.ExchangeContext(ctx, m, r.server); err != nil {
			return nil, err
		}
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s: %s", name, dns.RcodeToString[resp.Rcode])
	}
	for _, ans := range resp.Answer {
		if txt, ok := ans.(*dns.TXT); ok {
			return txt.Txt, nil
		}
	}
	return nil, ErrNoAnswer
}

// queryWithRetry retries with linear backoff until MaxRetries is spent.
func (r *Receiver) queryWithRetry(ctx context.Context, name string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * r.RetryDelay):
			}
		}
		txt, err := r.queryTXT(ctx, name)
		if err == nil {
			return strings.Join(txt, ""), nil
		}
		lastErr = err
		r.logger.Debug("query failed", zap.String("name", name), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return "", lastErr
}

// FetchManifest retrieves and parses the manifest record
func (r *Receiver) FetchManifest(ctx context.Context, msgID string) (*chunker.Manifest, error) {
	value, err := r.queryWithRetry(ctx, r.encoder.ManifestName(msgID))
	if err != nil {
		return nil, fmt.Errorf("manifest fetch failed: %w", err)
	}
	return chunker.ParseManifest(msgID, value)
}

// Retrieve fetches every chunk of msgID, reassembles them and verifies the
// result against the manifest checksum.
func (r *Receiver) Retrieve(ctx context.Context, msgID string) ([]byte, *chunker.Manifest, error) {
	start := time.Now()
	manifest, err := r.FetchManifest(ctx, msgID)
	if err != nil {
		return nil, nil, err
	}

	chunks := make([]chunker.Chunk, manifest.TotalChunks)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.Parallel, 1))
	for i := 0; i < manifest.TotalChunks; i++ {
		g.Go(func() error {
			value, err := r.queryWithRetry(gctx, r.encoder.ChunkName(i, msgID))
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			chunk, err := r.chunker.DecodeChunk(value)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			chunks[i] = *chunk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("incomplete retrieval: %w", err)
	}

	data, err := r.chunker.ReassembleMessage(chunks)
	if err != nil {
		return nil, nil, fmt.Errorf("reassembly failed: %w", err)
	}
	if err := manifest.Verify(data); err != nil {
		return nil, nil, err
	}

	elapsed := time.Since(start)
	r.logger.Info("message retrieved",
		zap.String("message_id", msgID),
		zap.Int("chunks", manifest.TotalChunks),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", elapsed),
	)
	return data, manifest, nil
}

// CheckForNewMessages asks the drop which messages are new to clientID
func (r *Receiver) CheckForNewMessages(ctx context.Context, clientID string) ([]string, error) {
	txt, err := r.queryTXT(ctx, fmt.Sprintf("consume.%s.%s", clientID, r.domain))
	if errors.Is(err, ErrNoAnswer) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, s := range txt {
		if s != "" {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

// Acknowledge marks msgID consumed by clientID
func (r *Receiver) Acknowledge(ctx context.Context, msgID, clientID string) error {
	_, err := r.queryTXT(ctx, fmt.Sprintf("ack.%s.%s.%s", msgID, clientID, r.domain))
	return err
}

// Poll checks for new messages until ctx is done, retrieving each one,
// passing it to handle and acknowledging it when handle succeeds. The
// interval doubles after five empty polls in a row.
func (r *Receiver) Poll(ctx context.Context, clientID string, handle func(msgID string, data []byte) error) error {
	consecutiveEmpty := 0
	for {
		ids, err := r.CheckForNewMessages(ctx, clientID)
		if err != nil {
			r.logger.Warn("poll failed", zap.Error(err))
		}

		for _, id := range ids {
			data, _, err := r.Retrieve(ctx, id)
			if err != nil {
				r.logger.Error("retrieval failed", zap.String("message_id", id), zap.Error(err))
				continue
			}
			if err := handle(id, data); err != nil {
				r.logger.Error("handler failed", zap.String("message_id", id), zap.Error(err))
				continue
			}
			if err := r.Acknowledge(ctx, id, clientID); err != nil {
				r.logger.Warn("ack failed", zap.String("message_id", id), zap.Error(err))
			}
		}

		wait := r.PollInterval
		if len(ids) == 0 {
			consecutiveEmpty++
			if consecutiveEmpty > 5 {
				wait *= 2
			}
		} else {
			consecutiveEmpty = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
