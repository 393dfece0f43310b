// Package server coordinates connection admission, message broadcast, and
// connection cleanup for the GlobalChat hub via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/Tyrowin/globalchat/internal/backplane"
	"github.com/Tyrowin/globalchat/internal/protocol"
)

const publishTimeout = 5 * time.Second

// Broadcaster delivers events to admitted connections.
//
//go:generate mockgen -destination=../mocks/mock_broadcaster.go -package=mocks github.com/Tyrowin/globalchat/internal/server Broadcaster
type Broadcaster interface {
	BroadcastAll(event string, msg ChatMessage)
	BroadcastOthers(except ConnectionID, event string, msg ChatMessage)
}

// Hub owns the set of live connections. Admission, removal and broadcast
// are safe to call concurrently; a broadcast never reaches a connection
// removed before it started and never blocks on a slow one.
//
// With a backplane, local connections are served directly and the
// backplane only carries the broadcast to other hubs, so a subscription
// gap never costs local delivery.
type Hub struct {
	instance  string
	clients   map[ConnectionID]*Client
	mutex     sync.RWMutex
	closing   bool
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	backplane backplane.Backplane
	log       *slog.Logger
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithBackplane makes every broadcast travel through bp so that hubs in
// other processes deliver it too. A nil bp keeps delivery local.
func WithBackplane(bp backplane.Backplane) HubOption {
	return func(h *Hub) {
		h.backplane = bp
	}
}

// NewHub creates a Hub with no connections. Run must be started before
// Shutdown is called.
func NewHub(log *slog.Logger, opts ...HubOption) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		instance: uuid.NewString(),
		clients:  make(map[ConnectionID]*Client),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		log:      log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run keeps the backplane subscription alive, when one is configured, and
// blocks until Shutdown. On exit every remaining connection is closed.
func (h *Hub) Run() {
	defer close(h.done)

	if h.backplane != nil {
		subscribed := make(chan struct{})
		go func() {
			defer close(subscribed)
			h.subscribe()
		}()
		<-subscribed
	} else {
		<-h.ctx.Done()
	}

	h.shutdownClients()
}

func (h *Hub) subscribe() {
	for {
		err := h.backplane.Subscribe(h.ctx, h.deliverEnvelope)
		if h.ctx.Err() != nil {
			return
		}
		h.log.Error("Backplane subscription ended, resubscribing", "error", err)

		select {
		case <-h.ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// Admit registers an open connection and returns its fresh identity. Once
// the hub is shutting down the connection is closed straight away instead,
// so its write pump sends the close record and exits.
func (h *Hub) Admit(client *Client) ConnectionID {
	id := ConnectionID(uuid.NewString())

	h.mutex.Lock()
	client.id = id
	if h.closing {
		client.closed = true
		h.mutex.Unlock()
		close(client.send)
		h.log.Info("Client refused, hub is shutting down", "connection", id, "addr", client.addr)
		return id
	}
	client.closed = false
	h.clients[id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.log.Info("Client admitted", "connection", id, "addr", client.addr, "total", clientCount)
	return id
}

// Remove deregisters a connection. Removing an absent id is a no-op.
func (h *Hub) Remove(id ConnectionID) {
	h.mutex.Lock()
	client, ok := h.clients[id]
	if !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	h.log.Info("Client removed", "connection", id, "addr", client.addr, "total", clientCount)
}

// Has reports whether id is currently admitted.
func (h *Hub) Has(id ConnectionID) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, ok := h.clients[id]
	return ok
}

// Count returns the number of admitted connections.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// BroadcastAll delivers event to every admitted connection, the caller's
// own included. Delivery failures are never reported to the caller.
func (h *Hub) BroadcastAll(event string, msg ChatMessage) {
	h.broadcast(event, msg, "")
}

// BroadcastOthers delivers event to every admitted connection except one.
func (h *Hub) BroadcastOthers(except ConnectionID, event string, msg ChatMessage) {
	h.broadcast(event, msg, except)
}

// SendTo delivers event to a single connection. It reports false when the
// connection is absent or cannot keep up.
func (h *Hub) SendTo(id ConnectionID, event string, msg ChatMessage) bool {
	frame, err := protocol.Frame(protocol.NewInvocation("", event, msg.Arguments()...))
	if err != nil {
		h.log.Error("Error encoding invocation", "event", event, "error", err)
		return false
	}

	h.mutex.RLock()
	client, ok := h.clients[id]
	h.mutex.RUnlock()
	if !ok {
		return false
	}
	return h.safeSend(client, frame)
}

func (h *Hub) broadcast(event string, msg ChatMessage, except ConnectionID) {
	frame, err := protocol.Frame(protocol.NewInvocation("", event, msg.Arguments()...))
	if err != nil {
		h.log.Error("Error encoding invocation", "event", event, "error", err)
		return
	}
	h.deliverLocal(frame, except)

	if h.backplane != nil {
		if err := h.publish(event, msg, except); err != nil {
			h.log.Warn("Backplane publish failed, other hubs miss this broadcast", "event", event, "error", err)
		}
	}
}

func (h *Hub) publish(event string, msg ChatMessage, except ConnectionID) error {
	args := make([]json.RawMessage, 0, 2)
	for _, arg := range msg.Arguments() {
		raw, err := json.Marshal(arg)
		if err != nil {
			return err
		}
		args = append(args, raw)
	}

	payload, err := json.Marshal(broadcastEnvelope{Origin: h.instance, Event: event, Arguments: args, Except: except})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(h.ctx, publishTimeout)
	defer cancel()
	return h.backplane.Publish(ctx, payload)
}

// deliverEnvelope handles a broadcast received from the backplane.
func (h *Hub) deliverEnvelope(payload []byte) {
	var envelope broadcastEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		h.log.Warn("Discarding malformed backplane payload", "error", err)
		return
	}
	if envelope.Origin == h.instance {
		return
	}

	args := lo.Map(envelope.Arguments, func(arg json.RawMessage, _ int) any { return arg })
	frame, err := protocol.Frame(protocol.NewInvocation("", envelope.Event, args...))
	if err != nil {
		h.log.Error("Error encoding invocation", "event", envelope.Event, "error", err)
		return
	}
	h.deliverLocal(frame, envelope.Except)
}

// deliverLocal sends frame to every local connection except one.
func (h *Hub) deliverLocal(frame []byte, except ConnectionID) {
	targets := lo.Filter(h.getClientSnapshot(), func(client *Client, _ int) bool {
		return except == "" || client.id != except
	})

	h.log.Debug("Broadcasting message", "clients", len(targets))

	clientsToRemove := h.broadcastToClients(targets, frame)
	h.removeFailedClients(clientsToRemove)
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return lo.Values(h.clients)
}

// broadcastToClients sends the frame to all given clients and returns those that failed
func (h *Hub) broadcastToClients(clients []*Client, frame []byte) []*Client {
	var clientsToRemove []*Client
	for _, client := range clients {
		if !h.safeSend(client, frame) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}
	return clientsToRemove
}

func (h *Hub) safeSend(client *Client, frame []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the entire send so Remove cannot close the
	// channel underneath us.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if current, exists := h.clients[client.id]; !exists || current != client || client.closed {
		return false
	}

	select {
	case client.send <- frame:
		return true
	default:
		return false
	}
}

// removeFailedClients evicts clients whose send buffer is full. Clients that
// disappeared concurrently are skipped.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if current, exists := h.clients[client.id]; exists && current == client {
			delete(h.clients, client.id)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			h.log.Warn("Client removed due to full send buffer", "connection", client.id, "addr", client.addr)
		}
	}
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
	}
}

// Serve runs the lifecycle of an accepted WebSocket connection: handshake,
// admission, then the read and write pumps. It returns immediately. Once
// the hub is shutting down the connection is closed without a handshake.
func (h *Hub) Serve(client *Client) {
	h.mutex.Lock()
	if h.closing {
		h.mutex.Unlock()
		h.log.Info("Refusing connection, hub is shutting down", "addr", client.addr)
		client.closeConnection()
		return
	}
	h.wg.Add(1)
	h.mutex.Unlock()

	go func() {
		defer h.wg.Done()
		if !client.handshake() {
			client.closeConnection()
			return
		}
		h.Admit(client)

		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			client.writePump()
		}()
		client.readPump()
	}()
}

// shutdownClients removes every connection; each write pump then sends a
// close record and closes its socket.
func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections...")

	h.mutex.Lock()
	h.closing = true
	h.mutex.Unlock()

	clients := h.getClientSnapshot()
	for _, client := range clients {
		h.Remove(client.id)
	}

	h.log.Info("Closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or context.DeadlineExceeded when the timeout is reached first.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...")

	h.cancel()
	deadline := time.After(timeout)

	select {
	case <-h.done:
	case <-deadline:
		h.log.Warn("Hub shutdown timeout reached before the run loop stopped")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-deadline:
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
