// Package server constructs and starts the GlobalChat HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use; WebSocket connections
// manage their own deadlines once upgraded.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer starts the HTTP server and blocks until it exits. It serves
// TLS when a certificate is configured, plus a plain listener on
// HTTPRedirectPort that only redirects to HTTPS.
func StartServer(server *http.Server, cfg *Config, log *slog.Logger) error {
	if !cfg.UsesTLS() {
		log.Info("Server listening", "addr", server.Addr)
		return server.ListenAndServe()
	}

	if cfg.HTTPRedirectPort != "" {
		redirect := CreateServer(cfg.HTTPRedirectPort, server.Handler)
		server.RegisterOnShutdown(func() {
			_ = redirect.Close()
		})
		go func() {
			log.Info("HTTPS redirect listener started", "addr", redirect.Addr)
			if err := redirect.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("HTTPS redirect listener failed", "error", err)
			}
		}()
	}

	log.Info("Server listening with TLS", "addr", server.Addr)
	return server.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration, log *slog.Logger) error {
	log.Info("Shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	log.Info("HTTP server shutdown completed")
	return nil
}
