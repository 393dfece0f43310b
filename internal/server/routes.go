// Package server wires HTTP handlers into a ServeMux for the GlobalChat
// application via routing helpers.
package server

import "net/http"

// HubPath is where the chat hub is mapped.
const HubPath = "/chatHub"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// It maps negotiation and the WebSocket endpoint under HubPath, the health
// check, and hands every other path to static.
func SetupRoutes(h *Handlers, static http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+HubPath+"/negotiate", h.Negotiate)
	mux.HandleFunc(HubPath, h.WebSocket)
	mux.HandleFunc("GET /health", h.Health)
	if static != nil {
		mux.Handle("/", static)
	}
	return mux
}
