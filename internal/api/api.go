package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/chat"
	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/messaging"
	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/session"
)

// ServiceName identifies the service in the root status summary.
const ServiceName = "agentic-whatsapp-chatbot"

// shutdownTimeout bounds graceful shutdown after SIGINT/SIGTERM.
const shutdownTimeout = 10 * time.Second

// WebhookValidator checks inbound webhook authenticity. Implemented by the
// Twilio client; tests substitute a fake.
type WebhookValidator interface {
	ValidationEnabled() bool
	ValidateSignature(url string, params map[string]string, signature string) bool
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the session store, chat service, and messaging service into
// the HTTP endpoints. Endpoints are orchestration only; each composes the
// injected components in a fixed order plus input shape validation.
type Server struct {
	store      *session.Store
	chatSvc    *chat.Service
	msgService messaging.Service
	validator  WebhookValidator
	addr       string
}

// NewServer creates an API server with injected dependencies.
func NewServer(store *session.Store, chatSvc *chat.Service, msgService messaging.Service, validator WebhookValidator, opts ...Option) *Server {
	cfg := Opts{Addr: ":8000"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		store:      store,
		chatSvc:    chatSvc,
		msgService: msgService,
		validator:  validator,
		addr:       cfg.Addr,
	}
}

// Handler returns the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.rootHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("POST /webhook", s.webhookHandler)
	mux.HandleFunc("GET /sessions", s.sessionsHandler)
	mux.HandleFunc("GET /sessions/{phone}", s.sessionDetailHandler)
	mux.HandleFunc("DELETE /sessions/{phone}", s.deleteSessionHandler)
	mux.HandleFunc("POST /send-message", s.sendMessageHandler)
	mux.HandleFunc("GET /storage/status", s.storageStatusHandler)
	return mux
}

// Run starts the HTTP server and blocks until SIGINT/SIGTERM, then shuts
// down gracefully.
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("Server.Run: shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	if err := s.msgService.Stop(); err != nil {
		slog.Warn("Server.Run: messaging service stop failed", "error", err)
	}
	slog.Info("Server.Run: shutdown complete")
	return nil
}
