package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/globalchat/internal/protocol"
)

// State is the connection state of a Session.
type State int

// Session states.
const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

var (
	// ErrNotConnected is returned when invoking while not Connected.
	ErrNotConnected = errors.New("session is not connected")
	// ErrAlreadyStarted is returned by Start on a running session.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrConnectionClosed is returned for invocations cut off by a drop.
	ErrConnectionClosed = errors.New("connection closed before the invocation completed")
	// ErrInvocationFailed wraps an error reported by the hub.
	ErrInvocationFailed = errors.New("invocation failed")
	// ErrReconnectFailed is reported to OnClose when the retry policy gives up.
	ErrReconnectFailed = errors.New("reconnect attempts exhausted")
	// ErrServerClosed is reported when the hub closes the connection for good.
	ErrServerClosed = errors.New("server closed the connection")
)

// Defaults matching the hub's own keep-alive settings.
const (
	DefaultKeepAliveInterval = 15 * time.Second
	DefaultServerTimeout     = 30 * time.Second
	DefaultHandshakeTimeout  = 15 * time.Second
)

// Handler receives the raw arguments of a hub event.
type Handler func(args []json.RawMessage)

// Option configures a Session.
type Option func(*Session)

// WithRetryPolicy sets the reconnect policy. nil disables reconnecting.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Session) {
		if p == nil {
			p = DelayPolicy{}
		}
		s.retry = p
	}
}

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) {
		s.log = log
	}
}

// WithKeepAliveInterval sets how often pings are sent. Zero disables them.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(s *Session) {
		s.keepAlive = d
	}
}

// WithServerTimeout sets how long the hub may stay silent before the
// connection is considered lost. Zero disables the timeout.
func WithServerTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.serverTimeout = d
	}
}

// WithHandshakeTimeout bounds the wait for the handshake response.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.handshakeTimeout = d
	}
}

// OnStateChange registers fn to be called on every state transition.
func OnStateChange(fn func(State)) Option {
	return func(s *Session) {
		s.onStateChange = fn
	}
}

// OnReconnecting registers fn to be called when a drop starts reconnecting.
func OnReconnecting(fn func(cause error)) Option {
	return func(s *Session) {
		s.onReconnecting = fn
	}
}

// OnReconnected registers fn to be called after a successful reconnect.
func OnReconnected(fn func()) Option {
	return func(s *Session) {
		s.onReconnected = fn
	}
}

// OnClose registers fn to be called once the session is Disconnected for
// good. err is nil after Stop.
func OnClose(fn func(err error)) Option {
	return func(s *Session) {
		s.onClose = fn
	}
}

// Session is a client connection to the hub. It dispatches hub events to
// registered handlers, invokes hub methods, and reconnects after unexpected
// drops according to its RetryPolicy.
//
// Handlers and hooks run on the session's read goroutine in arrival order.
// They must not call Stop or wait on Invoke.
type Session struct {
	url              string
	dialer           Dialer
	retry            RetryPolicy
	keepAlive        time.Duration
	serverTimeout    time.Duration
	handshakeTimeout time.Duration
	log              *slog.Logger

	onStateChange  func(State)
	onReconnecting func(error)
	onReconnected  func()
	onClose        func(error)

	hookMu   sync.Mutex
	mu       sync.Mutex
	state    State
	conn     Conn
	running  bool
	stopping bool
	cancel   context.CancelFunc
	done     chan struct{}
	handlers map[string][]Handler
	pending  map[string]chan protocol.Message
	nextID   int
}

// NewSession creates a Disconnected session for the hub at url.
func NewSession(url string, dialer Dialer, opts ...Option) *Session {
	s := &Session{
		url:              url,
		dialer:           dialer,
		retry:            DefaultRetryPolicy,
		keepAlive:        DefaultKeepAliveInterval,
		serverTimeout:    DefaultServerTimeout,
		handshakeTimeout: DefaultHandshakeTimeout,
		log:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		handlers:         make(map[string][]Handler),
		pending:          make(map[string]chan protocol.Message),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// On registers handler for event. Event names match case-insensitively.
func (s *Session) On(event string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(event)
	s.handlers[key] = append(s.handlers[key], handler)
}

// OnReceiveMessage registers fn for ReceiveMessage events.
func (s *Session) OnReceiveMessage(fn func(user, message string)) {
	s.On("ReceiveMessage", func(args []json.RawMessage) {
		var user, message string
		if err := protocol.Arguments(args, &user, &message); err != nil {
			s.log.Warn("Ignoring malformed ReceiveMessage", "error", err)
			return
		}
		fn(user, message)
	})
}

// Start connects and completes the handshake. ctx bounds this first
// attempt only; the session then lives until Stop or until reconnecting
// gives up.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	life, cancel := context.WithCancel(context.Background())
	s.running = true
	s.stopping = false
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.setState(Connecting)

	dialCtx, stopDial := context.WithCancel(ctx)
	unlink := context.AfterFunc(life, stopDial)
	conn, rest, err := s.connect(dialCtx)
	unlink()
	stopDial()

	if err == nil {
		s.mu.Lock()
		if s.stopping {
			err = context.Canceled
		} else {
			s.conn = conn
		}
		s.mu.Unlock()
		if err != nil {
			_ = conn.Close()
		}
	}
	if err != nil {
		cancel()
		s.finish(nil, false)
		return fmt.Errorf("connect %s: %w", s.url, err)
	}

	s.setState(Connected)
	go s.run(life, conn, rest)
	return nil
}

// Stop closes the connection without reconnecting and waits until the
// session is Disconnected.
func (s *Session) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	cancel, conn, done := s.cancel, s.conn, s.done
	s.mu.Unlock()

	cancel()
	if conn != nil {
		_ = conn.WriteMessage(protocol.MustFrame(protocol.Close{Type: protocol.CloseType}))
		_ = conn.Close()
	}
	<-done
	return nil
}

// Invoke calls a hub method and waits for its completion.
func (s *Session) Invoke(ctx context.Context, target string, args ...any) error {
	s.mu.Lock()
	conn := s.conn
	if s.state != Connected || conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	id := strconv.Itoa(s.nextID)
	s.nextID++
	reply := make(chan protocol.Message, 1)
	s.pending[id] = reply
	s.mu.Unlock()

	frame, err := protocol.Frame(protocol.NewInvocation(id, target, args...))
	if err == nil {
		err = conn.WriteMessage(frame)
	}
	if err != nil {
		s.forget(id)
		return fmt.Errorf("invoke %s: %w", target, err)
	}

	select {
	case msg, ok := <-reply:
		if !ok {
			return fmt.Errorf("invoke %s: %w", target, ErrConnectionClosed)
		}
		if msg.Error != "" {
			return fmt.Errorf("invoke %s: %w: %s", target, ErrInvocationFailed, msg.Error)
		}
		return nil
	case <-ctx.Done():
		s.forget(id)
		return ctx.Err()
	}
}

// Send calls a hub method without waiting for the hub to accept it.
func (s *Session) Send(target string, args ...any) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.state == Connected
	s.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	frame, err := protocol.Frame(protocol.NewInvocation("", target, args...))
	if err != nil {
		return fmt.Errorf("send %s: %w", target, err)
	}
	if err := conn.WriteMessage(frame); err != nil {
		return fmt.Errorf("send %s: %w", target, err)
	}
	return nil
}

func (s *Session) connect(ctx context.Context) (Conn, [][]byte, error) {
	conn, err := s.dialer.Dial(ctx, s.url)
	if err != nil {
		return nil, nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	fail := func(err error) (Conn, [][]byte, error) {
		stop()
		_ = conn.Close()
		return nil, nil, err
	}

	handshake := protocol.MustFrame(protocol.HandshakeRequest{Protocol: protocol.Name, Version: protocol.Version})
	if err := conn.WriteMessage(handshake); err != nil {
		return fail(fmt.Errorf("send handshake: %w", err))
	}

	if s.handshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))
	}
	data, err := conn.ReadMessage()
	if err != nil {
		return fail(fmt.Errorf("read handshake response: %w", err))
	}
	rest, err := protocol.ParseHandshakeResponse(data)
	if err != nil {
		return fail(err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	if !stop() {
		return nil, nil, ctx.Err()
	}
	return conn, rest, nil
}

func (s *Session) run(ctx context.Context, conn Conn, rest [][]byte) {
	for {
		reconnect, cause := s.serve(conn, rest)

		s.mu.Lock()
		s.conn = nil
		stopping := s.stopping
		s.mu.Unlock()
		s.failPending()
		_ = conn.Close()

		if stopping {
			s.finish(nil, true)
			return
		}
		s.log.Warn("Connection lost", "error", cause)
		if !reconnect {
			s.finish(cause, true)
			return
		}

		var err error
		conn, rest, err = s.reconnect(ctx, cause)
		if err != nil {
			if ctx.Err() != nil {
				err = nil
			}
			s.finish(err, true)
			return
		}
	}
}

// serve reads from conn until it fails or the hub closes it. It reports
// whether reconnecting is allowed.
func (s *Session) serve(conn Conn, records [][]byte) (bool, error) {
	stopPing := s.startKeepAlive(conn)
	defer stopPing()

	for {
		if done, reconnect, err := s.dispatch(records); done {
			return reconnect, err
		}

		if s.serverTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.serverTimeout))
		}
		data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		records, err = protocol.Split(data)
		if err != nil {
			return true, err
		}
	}
}

// dispatch handles records in order. done is true once a close record
// arrives.
func (s *Session) dispatch(records [][]byte) (done, reconnect bool, err error) {
	for _, record := range records {
		msg, err := protocol.Decode(record)
		if err != nil {
			return true, true, err
		}

		switch msg.Type {
		case protocol.InvocationType:
			s.invokeHandlers(msg)
		case protocol.CompletionType:
			s.complete(msg)
		case protocol.CloseType:
			if msg.Error != "" {
				return true, msg.AllowReconnect, fmt.Errorf("%w: %s", ErrServerClosed, msg.Error)
			}
			return true, msg.AllowReconnect, ErrServerClosed
		case protocol.PingType:
		default:
			s.log.Debug("Ignoring message", "type", msg.Type)
		}
	}
	return false, false, nil
}

func (s *Session) invokeHandlers(msg protocol.Message) {
	s.mu.Lock()
	handlers := slices.Clone(s.handlers[strings.ToLower(msg.Target)])
	s.mu.Unlock()

	if len(handlers) == 0 {
		s.log.Debug("No handler registered", "target", msg.Target)
		return
	}
	for _, handler := range handlers {
		handler(msg.Arguments)
	}
}

func (s *Session) complete(msg protocol.Message) {
	s.mu.Lock()
	reply, ok := s.pending[msg.InvocationID]
	delete(s.pending, msg.InvocationID)
	s.mu.Unlock()

	if !ok {
		s.log.Debug("Completion for unknown invocation", "invocation", msg.InvocationID)
		return
	}
	reply <- msg
}

func (s *Session) forget(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Session) failPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, reply := range s.pending {
		close(reply)
		delete(s.pending, id)
	}
}

func (s *Session) startKeepAlive(conn Conn) func() {
	if s.keepAlive <= 0 {
		return func() {}
	}

	ping := protocol.MustFrame(protocol.Ping{Type: protocol.PingType})
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := conn.WriteMessage(ping); err != nil {
					s.log.Debug("Error writing ping", "error", err)
					return
				}
			}
		}
	}()

	return func() {
		close(stop)
		wg.Wait()
	}
}

func (s *Session) reconnect(ctx context.Context, cause error) (Conn, [][]byte, error) {
	delay, ok := s.retry.NextRetryDelay(0, 0)
	if !ok {
		return nil, nil, cause
	}

	s.setState(Reconnecting)
	if s.onReconnecting != nil {
		s.onReconnecting(cause)
	}

	lost := time.Now()
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay, ok = s.retry.NextRetryDelay(attempt, time.Since(lost))
			if !ok {
				return nil, nil, fmt.Errorf("%w after %d attempts: %v", ErrReconnectFailed, attempt, cause)
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, ctx.Err()
		case <-timer.C:
		}

		conn, rest, err := s.connect(ctx)
		if err != nil {
			s.log.Warn("Reconnect attempt failed", "attempt", attempt+1, "error", err)
			continue
		}

		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			_ = conn.Close()
			return nil, nil, context.Canceled
		}
		s.conn = conn
		s.mu.Unlock()

		s.setState(Connected)
		if s.onReconnected != nil {
			s.onReconnected()
		}
		return conn, rest, nil
	}
}

// finish moves the session to its final Disconnected state.
func (s *Session) finish(err error, notify bool) {
	s.mu.Lock()
	s.conn = nil
	s.running = false
	done := s.done
	s.mu.Unlock()

	s.setState(Disconnected)
	if notify && s.onClose != nil {
		s.onClose(err)
	}
	close(done)
}

func (s *Session) setState(state State) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()

	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	s.log.Info("Connection state changed", "state", state.String())
	if s.onStateChange != nil {
		s.onStateChange(state)
	}
}
