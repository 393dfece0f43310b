// Package server manages individual WebSocket clients, handling the
// handshake, read/write pumps, and lifecycle control for each connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/globalchat/internal/protocol"
)

var errStreamingUnsupported = errors.New("streaming invocations are not supported")

// Dispatcher executes hub methods invoked by a connection.
type Dispatcher interface {
	Invoke(caller ConnectionID, target string, args []json.RawMessage) error
}

// Client represents one WebSocket connection in the chat system.
// It manages the connection state, outbound frame queue, hub reference,
// and client address information.
type Client struct {
	id             ConnectionID
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	dispatcher     Dispatcher
	addr           string
	closed         bool
	maxMessageSize int64
	keepAlive      time.Duration
	clientTimeout  time.Duration
	writeTimeout   time.Duration
	closeError     string
	pendingRecords [][]byte
	log            *slog.Logger
}

// NewClient creates a Client for conn. The send queue is buffered to
// SendBufferSize frames; conn may be nil in tests that never pump.
func NewClient(conn *websocket.Conn, hub *Hub, dispatcher Dispatcher, addr string, cfg *Config) *Client {
	if conn != nil {
		conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		hub:            hub,
		dispatcher:     dispatcher,
		addr:           addr,
		maxMessageSize: int64(cfg.MaxMessageSize),
		keepAlive:      cfg.KeepAliveInterval,
		clientTimeout:  cfg.ClientTimeout,
		writeTimeout:   cfg.WriteTimeout,
		log:            hub.log.With("addr", addr),
	}
}

// ID returns the identity assigned on admission.
func (c *Client) ID() ConnectionID {
	return c.id
}

// GetSendChan returns the client's outbound queue for reading queued frames.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// handshake reads the protocol handshake and answers it directly on the
// socket, before the write pump exists. Records that arrived together with
// the handshake are dispatched once the client has been admitted.
func (c *Client) handshake() bool {
	c.extendReadDeadline()

	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		c.handleReadError(err)
		return false
	}

	_, rest, err := protocol.ParseHandshake(raw)
	if err != nil {
		c.log.Warn("Handshake failed", "error", err)
		c.writeDirect(protocol.MustFrame(protocol.HandshakeResponse{Error: err.Error()}))
		return false
	}

	if !c.writeDirect(protocol.MustFrame(protocol.HandshakeResponse{})) {
		return false
	}

	c.pendingRecords = rest
	return true
}

func (c *Client) writeDirect(frame []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.log.Warn("Error setting write deadline", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.log.Warn("Error writing handshake response", "error", err)
		return false
	}
	return true
}

func (c *Client) extendReadDeadline() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.clientTimeout)); err != nil {
		c.log.Warn("Error setting read deadline", "error", err)
	}
}

// handleReadError logs the read error at a level matching how expected it is.
func (c *Client) handleReadError(err error) {
	if errors.Is(err, websocket.ErrReadLimit) {
		c.log.Warn("Message exceeded maximum size", "limit", c.maxMessageSize)
		return
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		c.log.Info("Client disconnected", "connection", c.id, "reason", err)
		return
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.log.Info("Client connection closed", "connection", c.id, "reason", err)
		return
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.log.Info("Client timed out", "connection", c.id, "timeout", c.clientTimeout)
		return
	}

	c.log.Warn("WebSocket read error", "connection", c.id, "error", err)
}

func (c *Client) readPump() {
	defer c.hub.Remove(c.id)

	if records := c.pendingRecords; len(records) > 0 {
		c.pendingRecords = nil
		if !c.processRecords(records) {
			return
		}
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.extendReadDeadline()

		if !c.processMessage(raw) {
			return
		}
	}
}

// processMessage splits a frame into records and handles each one. It
// returns false when the connection must be closed.
func (c *Client) processMessage(raw []byte) bool {
	records, err := protocol.Split(raw)
	if err != nil {
		c.log.Warn("Invalid frame", "connection", c.id, "error", err)
		c.closeError = "Connection closed with an error."
		return false
	}
	return c.processRecords(records)
}

func (c *Client) processRecords(records [][]byte) bool {
	for _, record := range records {
		msg, err := protocol.Decode(record)
		if err != nil {
			c.log.Warn("Invalid record", "connection", c.id, "error", err)
			c.closeError = "Connection closed with an error."
			return false
		}

		switch msg.Type {
		case protocol.InvocationType:
			c.invoke(msg)
		case protocol.StreamInvocationType:
			c.complete(msg.InvocationID, errStreamingUnsupported)
		case protocol.PingType, protocol.CompletionType, protocol.StreamItemType, protocol.CancelInvocationType:
		case protocol.CloseType:
			c.log.Debug("Client sent close", "connection", c.id, "error", msg.Error)
			return false
		default:
			c.log.Debug("Ignoring unknown message type", "connection", c.id, "type", msg.Type)
		}
	}
	return true
}

func (c *Client) invoke(msg protocol.Message) {
	var err error
	if c.dispatcher == nil {
		err = ErrUnknownMethod
	} else {
		err = c.dispatcher.Invoke(c.id, msg.Target, msg.Arguments)
	}
	if err != nil {
		c.log.Debug("Invocation failed", "connection", c.id, "target", msg.Target, "error", err)
	}
	c.complete(msg.InvocationID, err)
}

// complete answers a blocking invocation. Non-blocking invocations carry no
// id and get no completion.
func (c *Client) complete(invocationID string, err error) {
	if invocationID == "" {
		return
	}
	if !c.hub.safeSend(c, protocol.MustFrame(protocol.NewCompletion(invocationID, err))) {
		c.log.Debug("Dropped completion", "connection", c.id, "invocation", invocationID)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.keepAlive)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("Error closing connection", "error", err)
		}
	}
}

// handleMessage processes outgoing frames and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.log.Warn("Error setting write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close record followed by a WebSocket close frame
func (c *Client) writeCloseMessage() bool {
	closeRecord := protocol.Close{
		Type:           protocol.CloseType,
		Error:          c.closeError,
		AllowReconnect: c.closeError == "",
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, protocol.MustFrame(closeRecord)); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug("Error writing close record", "error", err)
		}
		return false
	}
	if err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug("Error writing close message", "error", err)
		}
	}
	return false
}

// writeTextMessage writes a frame and any frames queued behind it. Records
// are self-delimiting, so queued frames are concatenated as they are.
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.log.Debug("Error creating writer", "error", err)
		return false
	}

	if !c.writeMessageContent(w, message) {
		return false
	}

	if !c.writeQueuedMessages(w) {
		return false
	}

	return c.closeWriter(w)
}

// writeMessageContent writes the main frame content
func (c *Client) writeMessageContent(w io.WriteCloser, message []byte) bool {
	if _, err := w.Write(message); err != nil {
		c.log.Debug("Error writing message", "error", err)
		return false
	}
	return true
}

// writeQueuedMessages writes frames already waiting in the queue
func (c *Client) writeQueuedMessages(w io.WriteCloser) bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		message, ok := <-c.send
		if !ok {
			// Removed while batching; the next receive sees the closed queue.
			return true
		}
		if !c.writeMessageContent(w, message) {
			return false
		}
	}
	return true
}

// closeWriter closes the message writer
func (c *Client) closeWriter(w io.WriteCloser) bool {
	if err := w.Close(); err != nil {
		c.log.Debug("Error closing writer", "error", err)
		return false
	}
	return true
}

// handlePing sends a protocol ping to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.log.Warn("Error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, protocol.MustFrame(protocol.Ping{Type: protocol.PingType})); err != nil {
		c.log.Debug("Error writing ping", "error", err)
		return false
	}
	return true
}
