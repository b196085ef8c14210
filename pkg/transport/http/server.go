package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sandpit-dev/sandpit/pkg/transport"
)

// Server owns the gateway's HTTP listener. It assembles the transport
// adapter, applies outer middleware, and drains in-flight batches on
// shutdown.
type Server struct {
	inner   *http.Server
	adapter *Adapter
	drain   time.Duration
	logger  *slog.Logger
}

// ServerConfig carries listener settings. Zero values fall back to the
// defaults documented per field.
type ServerConfig struct {
	// Addr is the listen address; ":8080" when empty.
	Addr string
	// MaxBodySize caps request bodies; 10 MiB when zero.
	MaxBodySize int64
	// DrainTimeout bounds graceful shutdown; 30s when zero.
	DrainTimeout time.Duration
	// Logger receives lifecycle events; slog.Default() when nil.
	Logger *slog.Logger
	// Wrap, when set, wraps the adapter handler with outer HTTP
	// middleware such as auth and metrics.
	Wrap func(http.Handler) http.Handler
}

func (c *ServerConfig) fill() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = 10 << 20
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// NewServer builds the gateway listener around a session manager. The
// store may be nil when batch persistence is not configured. Recovery,
// request ID, and logging middleware are always installed on the batch
// path.
func NewServer(manager transport.SessionManager, store transport.SessionStore, cfg ServerConfig) *Server {
	cfg.fill()

	adapter := NewAdapter(manager, store, cfg.MaxBodySize,
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(cfg.Logger),
	)

	handler := http.Handler(adapter.Handler())
	if cfg.Wrap != nil {
		handler = cfg.Wrap(handler)
	}

	return &Server{
		inner:   &http.Server{Addr: cfg.Addr, Handler: handler},
		adapter: adapter,
		drain:   cfg.DrainTimeout,
		logger:  cfg.Logger,
	}
}

// Run starts the listener and blocks until SIGINT or SIGTERM arrives,
// then shuts down gracefully within the drain timeout.
func (s *Server) Run() error {
	return s.serve(nil)
}

// Serve is Run on a caller-provided listener, letting tests bind an
// ephemeral port.
func (s *Server) Serve(ln net.Listener) error {
	return s.serve(ln)
}

func (s *Server) serve(ln net.Listener) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", slog.String("addr", s.inner.Addr))
		var err error
		if ln != nil {
			err = s.inner.Serve(ln)
		} else {
			err = s.inner.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			failed <- err
		}
	}()

	select {
	case err := <-failed:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received", slog.Duration("drain", s.drain))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), s.drain)
	defer cancel()
	if err := s.inner.Shutdown(drainCtx); err != nil {
		s.logger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("gateway stopped")
	return nil
}

// Shutdown stops the listener, waiting for in-flight requests until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
