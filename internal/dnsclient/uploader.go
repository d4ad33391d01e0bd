// Package dnsclient is the sender and receiver side of the DNS drop.
package dnsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/faanross/simulacra_png/internal/chunker"
	"github.com/faanross/simulacra_png/internal/dnsserver"
)

// UploadClient publishes chunked messages to a drop's HTTP API
type UploadClient struct {
	baseURL string
	encoder *chunker.DNSEncoder
	http    *http.Client
	logger  *zap.Logger
}

// NewUploadClient creates an upload client. addr is host:port or a URL.
func NewUploadClient(addr, domain string, logger *zap.Logger) *UploadClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &UploadClient{
		baseURL: strings.TrimSuffix(base, "/"),
		encoder: chunker.NewDNSEncoder(domain, 0, logger),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// Upload sends every chunk and the manifest of msg in one request
func (uc *UploadClient) Upload(ctx context.Context, msg *chunker.Message) (*dnsserver.UploadResponse, error) {
	manifest, records := uc.encoder.EncodeToDNS(msg)

	req := dnsserver.UploadRequest{
		MessageID: manifest.MessageID,
		Chunks:    make(map[string]string, len(msg.Chunks)),
		Manifest:  manifest.String(),
	}
	for _, rec := range records[1:] {
		req.Chunks[rec.Name] = rec.Value
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, uc.baseURL+"/upload", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	uc.logger.Debug("uploading message",
		zap.String("message_id", req.MessageID),
		zap.Int("chunks", len(req.Chunks)),
		zap.String("url", httpReq.URL.String()),
	)

	resp, err := uc.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var failure struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&failure)
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, failure.Error)
	}

	var result dnsserver.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}
