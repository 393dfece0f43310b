package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"github.com/Tyrowin/globalchat/internal/backplane"
	"github.com/Tyrowin/globalchat/internal/server"
	"github.com/Tyrowin/globalchat/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the hub, relay and HTTP server, then blocks until a signal or a
// server failure, shutting everything down in reverse order.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)
	log.Info("Starting GlobalChat server...", "env", cfg.Environment, "backplane", cfg.Backplane)

	// 2. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Backplane
	bp, err := backplane.New(ctx, cfg.BackplaneConfig(), log)
	if err != nil {
		return fmt.Errorf("backplane setup failed: %w", err)
	}
	if bp != nil {
		defer func() {
			log.Info("Closing backplane...")
			_ = bp.Close()
		}()
	}

	// 4. Hub & Relay
	hub := server.NewHub(log, server.WithBackplane(bp))
	go hub.Run()

	relay := server.NewChatHub(hub, cfg.EchoToSender, log)
	handlers := server.NewHandlers(hub, relay, cfg, log)

	// 5. HTTP Server
	mux := server.SetupRoutes(handlers, web.Handler())
	httpServer := server.CreateServer(cfg.Port, server.Middleware(cfg, mux, log))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer, cfg, log)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = hub.Shutdown(cfg.ShutdownTimeout)
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	// 6. Graceful Shutdown
	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil {
		log.Error("HTTP server shutdown failed", "error", err)
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("Hub shutdown incomplete", "error", err)
	}

	log.Info("Server stopped")
	return nil
}
