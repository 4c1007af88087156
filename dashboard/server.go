package dashboard

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

//go:embed templates/index.html
var templateFS embed.FS

const (
	// DefaultListenAddr keeps the dashboard on loopback unless configured otherwise.
	DefaultListenAddr      = "127.0.0.1:8080"
	defaultShutdownTimeout = 5 * time.Second
	defaultReadTimeout     = 10 * time.Second
)

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Addr            string
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

func (o ServerOptions) withDefaults() ServerOptions {
	out := o
	if out.Addr == "" {
		out.Addr = DefaultListenAddr
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = defaultShutdownTimeout
	}
	if out.Logger == nil {
		out.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return out
}

// Server exposes a View as an HTML page and a JSON API.
type Server struct {
	view   *View
	opts   ServerOptions
	logger *slog.Logger
	page   *template.Template
	router *mux.Router
}

func NewServer(view *View, opts ServerOptions) (*Server, error) {
	if view == nil {
		return nil, errors.New("view is required")
	}
	opts = opts.withDefaults()

	page, err := template.New("index.html").Funcs(template.FuncMap{
		"barHeight": barHeight,
		"barX":      barX,
		"sub":       sub,
	}).ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse dashboard template: %w", err)
	}

	s := &Server{
		view:   view,
		opts:   opts,
		logger: opts.Logger,
		page:   page,
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the routed handler with request middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %q: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", listener.Addr().String())
		errs <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve dashboard: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown dashboard: %w", err)
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve dashboard: %w", err)
	}
	s.logger.Info("dashboard stopped")
	return nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID, s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/messages", s.handleSendForm).Methods(http.MethodPost)
	r.HandleFunc("/devices", s.handleRegisterForm).Methods(http.MethodPost)
	r.HandleFunc("/devices/select", s.handleSelectForm).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages/records", s.handleMessageRecords).Methods(http.MethodGet)
	api.HandleFunc("/messages/{account}/read", s.handleMarkRead).Methods(http.MethodPost)
	api.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices", s.handleRegisterDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices/{id}", s.handleUpdateDevice).Methods(http.MethodPut)
	api.HandleFunc("/devices/{id}", s.handleDeactivateDevice).Methods(http.MethodDelete)
	api.HandleFunc("/devices/{name}/series", s.handleSeries).Methods(http.MethodGet)
	api.HandleFunc("/wallet", s.handleWallet).Methods(http.MethodGet)

	return r
}
