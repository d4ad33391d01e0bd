// Package httpapi exposes the embedding and extraction engines over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/semaphore"

	"github.com/faanross/simulacra_png/internal/config"
)

// Server handles /embed, /extract and /status.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	sem       *semaphore.Weighted
	startTime time.Time
	stats     counters
}

type counters struct {
	embeds   atomic.Int64
	extracts atomic.Int64
	failures atomic.Int64
	rejected atomic.Int64
	inFlight atomic.Int64
}

// Stats is the /status payload.
type Stats struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	Embeds        int64   `json:"embeds"`
	Extracts      int64   `json:"extracts"`
	Failures      int64   `json:"failures"`
	Rejected      int64   `json:"rejected"`
	InFlight      int64   `json:"in_flight"`
	MaxConcurrent int     `json:"max_concurrent"`
}

// NewServer creates a server from validated configuration.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(cfg.HTTP.MaxConcurrent)),
		startTime: time.Now(),
	}
}

// Handler returns the routed handler with request IDs attached.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/embed", s.handleEmbed)
	mux.HandleFunc("/extract", s.handleExtract)
	mux.HandleFunc("/status", s.handleStatus)
	return s.withRequestID(mux)
}

// Stats snapshots the counters.
func (s *Server) Stats() Stats {
	return Stats{
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Embeds:        s.stats.embeds.Load(),
		Extracts:      s.stats.extracts.Load(),
		Failures:      s.stats.failures.Load(),
		Rejected:      s.stats.rejected.Load(),
		InFlight:      s.stats.inFlight.Load(),
		MaxConcurrent: s.cfg.HTTP.MaxConcurrent,
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.HTTP.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.HTTP.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.HTTP.MaxConnections)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

type ctxKey struct{}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		logger := s.logger.With(zap.String("request_id", id))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, logger)))
	})
}

func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	if l, ok := r.Context().Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return s.logger
}
