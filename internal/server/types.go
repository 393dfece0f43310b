// Package server defines shared message payload types and utility helpers that
// are reused across client and hub logic.
package server

import (
	"encoding/json"
	"strings"
)

// ReceiveMessageEvent is the client-side event every chat message is delivered as.
const ReceiveMessageEvent = "ReceiveMessage"

// ConnectionID identifies one live connection. It is assigned on admission
// and never reused.
type ConnectionID string

// ChatMessage is the value relayed from one sender to every connection.
// It is built per invocation and never stored.
type ChatMessage struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

// Arguments returns the message as positional invocation arguments.
func (m ChatMessage) Arguments() []any {
	return []any{m.User, m.Message}
}

// broadcastEnvelope is what travels over a backplane so that every other
// server process can rebuild the same invocation for its own connections.
// Origin names the publishing hub, which has already delivered locally.
type broadcastEnvelope struct {
	Origin    string            `json:"origin"`
	Event     string            `json:"event"`
	Arguments []json.RawMessage `json:"arguments"`
	Except    ConnectionID      `json:"except,omitempty"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
