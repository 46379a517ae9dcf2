// Package server wires the HTTP router and runs the listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"3tcapital/ecfcore/internal/infrastructure/config"
	httpx "3tcapital/ecfcore/internal/infrastructure/http"
	"3tcapital/ecfcore/internal/infrastructure/http/middleware"
)

// Options carries the handlers the router mounts. Every handler except
// HealthHandler is optional; a missing one answers 503.
type Options struct {
	Config config.AppConfig
	Logger *slog.Logger

	HealthHandler             http.Handler
	IssueHandler              http.Handler
	TransmitHandler           http.Handler
	InvalidateIdentityHandler http.Handler
	ProvisionSequenceHandler  http.Handler
	GetSequenceHandler        http.Handler
	ExchangeTrailHandler      http.Handler
}

// Server owns the HTTP listener and the JWT authenticator.
type Server struct {
	cfg        config.AppConfig
	log        *slog.Logger
	httpServer *http.Server
	auth       *middleware.JWTAuthenticator
}

func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.HealthHandler == nil {
		return nil, errors.New("health handler is required")
	}

	auth, err := middleware.NewJWTAuthenticator(opts.Config.Auth, opts.Logger)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(opts.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestTimeout(opts.Config.HTTP.RequestTimeout))
	r.Use(auth.Middleware)

	r.Method(http.MethodGet, "/api/v1/health", opts.HealthHandler)

	r.Route("/api/v1/tenants/{tenantID}", func(r chi.Router) {
		r.Use(auth.TenantGuard)

		r.Method(http.MethodPost, "/invoices/{invoiceID}/issue", orUnavailable(opts.IssueHandler, "issuance", opts.Logger))
		r.Method(http.MethodPost, "/invoices/{invoiceID}/transmit", orUnavailable(opts.TransmitHandler, "transmission", opts.Logger))
		r.Method(http.MethodPost, "/sequences", orUnavailable(opts.ProvisionSequenceHandler, "sequence provisioning", opts.Logger))
		r.Method(http.MethodGet, "/sequences/{documentType}", orUnavailable(opts.GetSequenceHandler, "sequence lookup", opts.Logger))
		r.Method(http.MethodDelete, "/signing-identity/cache", orUnavailable(opts.InvalidateIdentityHandler, "signing identity cache", opts.Logger))
		r.Method(http.MethodGet, "/documents/{fiscalNumber}/exchanges", orUnavailable(opts.ExchangeTrailHandler, "exchange trail", opts.Logger))
	})

	srv := &http.Server{
		Addr:         opts.Config.HTTP.Address(),
		Handler:      r,
		ReadTimeout:  opts.Config.HTTP.ReadTimeout,
		WriteTimeout: opts.Config.HTTP.WriteTimeout,
		IdleTimeout:  opts.Config.HTTP.IdleTimeout,
	}

	return &Server{cfg: opts.Config, log: opts.Logger, httpServer: srv, auth: auth}, nil
}

// Run serves until ctx is cancelled, then drains in-flight requests for at
// most the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server started", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info("HTTP server shutting down", "timeout", s.cfg.HTTP.ShutdownTimeout.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Close stops the JWKS refresher.
func (s *Server) Close() {
	s.auth.Close()
}

func orUnavailable(h http.Handler, feature string, log *slog.Logger) http.Handler {
	if h != nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusServiceUnavailable, feature+" is not available", []string{feature + " is not configured on this instance"}, log)
	})
}
