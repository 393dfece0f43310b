// Package server exposes HTTP handlers, including transport negotiation,
// WebSocket upgrades, and health checks.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// AvailableTransport describes one transport offered during negotiation.
type AvailableTransport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

// NegotiateResponse tells a client which transports the hub accepts.
type NegotiateResponse struct {
	NegotiateVersion    int                  `json:"negotiateVersion"`
	ConnectionID        string               `json:"connectionId"`
	ConnectionToken     string               `json:"connectionToken"`
	AvailableTransports []AvailableTransport `json:"availableTransports"`
}

// Handlers serves the hub endpoints for one Hub.
type Handlers struct {
	hub        *Hub
	dispatcher Dispatcher
	cfg        *Config
	upgrader   websocket.Upgrader
	log        *slog.Logger
}

// NewHandlers creates the HTTP handlers for hub, dispatching invocations to dispatcher.
func NewHandlers(hub *Hub, dispatcher Dispatcher, cfg *Config, log *slog.Logger) *Handlers {
	origins := newOriginPolicy(cfg.Origins(), log)
	return &Handlers{
		hub:        hub,
		dispatcher: dispatcher,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		log: log,
	}
}

// Negotiate answers the client's transport negotiation. Only WebSockets with
// the text transfer format are offered.
func (h *Handlers) Negotiate(w http.ResponseWriter, _ *http.Request) {
	response := NegotiateResponse{
		NegotiateVersion: 1,
		ConnectionID:     uuid.NewString(),
		ConnectionToken:  uuid.NewString(),
		AvailableTransports: []AvailableTransport{
			{Transport: "WebSockets", TransferFormats: []string{"Text"}},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Warn("Error writing negotiate response", "error", err)
	}
}

// WebSocket upgrades the request and hands the connection to the hub, which
// performs the protocol handshake and admits it.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, h.hub, h.dispatcher, r.RemoteAddr, h.cfg)
	h.hub.Serve(client)
}

// Health reports liveness and the number of admitted connections.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GlobalChat server is running! Connections: %d", h.hub.Count())
}
