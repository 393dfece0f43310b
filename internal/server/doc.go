// Package server implements the GlobalChat hub: the connection manager, the
// chat relay, and the HTTP and WebSocket endpoints that expose them.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, the relay, routing, and HTTP handlers. Browsers
// and the terminal client talk to the hub at HubPath using the JSON hub
// protocol from the protocol package.
package server
