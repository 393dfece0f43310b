// Package testhelpers provides common utilities for testing the GlobalChat
// server and clients.
//
// It wraps raw WebSocket connections with the hub protocol handshake and
// record framing so tests can speak to the hub the way a browser does.
package testhelpers

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/globalchat/internal/protocol"
)

// TestOrigin is the Origin header sent by DialHub.
const TestOrigin = "http://localhost:8080"

// WebSocketURL turns an httptest server URL into the hub WebSocket URL.
func WebSocketURL(serverURL, path string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + path
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// ConnectWebSocket opens a raw WebSocket connection with the given origin.
// It does not perform the hub handshake.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// HubConn is a test-side hub connection that buffers records received
// together in one frame.
type HubConn struct {
	Conn    *websocket.Conn
	pending []protocol.Message
}

// DialHub connects to url and completes the json/1 handshake.
func DialHub(url string) (*HubConn, error) {
	conn, _, err := ConnectWebSocket(url, TestOrigin)
	if err != nil {
		return nil, err
	}

	hc := &HubConn{Conn: conn}
	if err := hc.Handshake(protocol.HandshakeRequest{Protocol: protocol.Name, Version: protocol.Version}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return hc, nil
}

// Handshake sends req and checks the server accepts it.
func (c *HubConn) Handshake(req protocol.HandshakeRequest) error {
	if err := c.Conn.WriteMessage(websocket.TextMessage, protocol.MustFrame(req)); err != nil {
		return err
	}

	if err := c.Conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return err
	}
	_, data, err := c.Conn.ReadMessage()
	if err != nil {
		return err
	}
	rest, err := protocol.ParseHandshakeResponse(data)
	if err != nil {
		return err
	}
	return c.queue(rest)
}

// Invoke sends an invocation. An empty id asks for no completion.
func (c *HubConn) Invoke(id, target string, args ...any) error {
	frame, err := protocol.Frame(protocol.NewInvocation(id, target, args...))
	if err != nil {
		return err
	}
	return c.Conn.WriteMessage(websocket.TextMessage, frame)
}

// Next returns the next record, reading a new frame when none is buffered.
func (c *HubConn) Next(timeout time.Duration) (protocol.Message, error) {
	for len(c.pending) == 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return protocol.Message{}, err
		}
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return protocol.Message{}, err
		}
		records, err := protocol.Split(data)
		if err != nil {
			return protocol.Message{}, err
		}
		if err := c.queue(records); err != nil {
			return protocol.Message{}, err
		}
	}

	msg := c.pending[0]
	c.pending = c.pending[1:]
	return msg, nil
}

// NextOfType returns the next record of type typ, skipping pings and
// anything else in between.
func (c *HubConn) NextOfType(typ protocol.MessageType, timeout time.Duration) (protocol.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return protocol.Message{}, fmt.Errorf("no record of type %d within %s", typ, timeout)
		}
		msg, err := c.Next(remaining)
		if err != nil {
			return protocol.Message{}, err
		}
		if msg.Type == typ {
			return msg, nil
		}
	}
}

// ReceiveMessage waits for the next ReceiveMessage event and returns its
// user and message arguments.
func (c *HubConn) ReceiveMessage(timeout time.Duration) (string, string, error) {
	msg, err := c.NextOfType(protocol.InvocationType, timeout)
	if err != nil {
		return "", "", err
	}
	if msg.Target != "ReceiveMessage" {
		return "", "", fmt.Errorf("unexpected target %q", msg.Target)
	}
	var user, message string
	if err := protocol.Arguments(msg.Arguments, &user, &message); err != nil {
		return "", "", err
	}
	return user, message, nil
}

// ExpectNoInvocation fails the test if an invocation arrives within wait.
func (c *HubConn) ExpectNoInvocation(t *testing.T, wait time.Duration) {
	t.Helper()
	msg, err := c.NextOfType(protocol.InvocationType, wait)
	if err == nil {
		t.Errorf("Expected no invocation, got %s(%d args)", msg.Target, len(msg.Arguments))
	}
}

// Close sends a close frame and closes the socket.
func (c *HubConn) Close() error {
	_ = c.Conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.Conn.Close()
}

func (c *HubConn) queue(records [][]byte) error {
	for _, record := range records {
		msg, err := protocol.Decode(record)
		if err != nil {
			return err
		}
		c.pending = append(c.pending, msg)
	}
	return nil
}
