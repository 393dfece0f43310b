package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// UserFlagDuration is how long an empty name input stays flagged.
const UserFlagDuration = 2 * time.Second

// SendFailedAlert is shown when the hub does not accept a message.
const SendFailedAlert = "Failed to send message. Please try again."

// SendMessageMethod is the hub method that relays a chat message.
const SendMessageMethod = "SendMessage"

var (
	// ErrNoUser is returned by Send when the display name is blank.
	ErrNoUser = errors.New("display name is required")
	// ErrNoMessage is returned by Send when the message is blank.
	ErrNoMessage = errors.New("message is empty")
	// ErrSendInProgress is returned while an earlier Send is still waiting.
	ErrSendInProgress = errors.New("a message is already being sent")
)

// Invoker calls hub methods. Session implements it.
type Invoker interface {
	Invoke(ctx context.Context, target string, args ...any) error
}

// View is the input side of a chat user interface.
type View interface {
	FocusUser()
	FocusMessage()
	// FlagUser highlights, or stops highlighting, the name input.
	FlagUser(flagged bool)
	ClearMessage()
	SetSendEnabled(enabled bool)
	Alert(message string)
}

// NameStore remembers the display name between runs.
type NameStore interface {
	SaveName(name string) error
}

// Timer is the part of *time.Timer the Composer needs.
type Timer interface {
	Stop() bool
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithNameStore persists the display name whenever it changes.
func WithNameStore(store NameStore) ComposerOption {
	return func(c *Composer) {
		c.names = store
	}
}

// WithAfterFunc replaces time.AfterFunc, for tests.
func WithAfterFunc(afterFunc func(time.Duration, func()) Timer) ComposerOption {
	return func(c *Composer) {
		c.afterFunc = afterFunc
	}
}

// WithComposerLogger sets the composer logger.
func WithComposerLogger(log *slog.Logger) ComposerOption {
	return func(c *Composer) {
		c.log = log
	}
}

// Composer applies the send rules of the chat input: a name is required,
// blank messages are dropped, and the send control is disabled while a
// message is in flight.
type Composer struct {
	invoker   Invoker
	view      View
	names     NameStore
	afterFunc func(time.Duration, func()) Timer
	log       *slog.Logger

	mu        sync.Mutex
	sending   bool
	flagTimer Timer
	lastName  string
}

// NewComposer creates a Composer sending through invoker and driving view.
func NewComposer(invoker Invoker, view View, opts ...ComposerOption) *Composer {
	c := &Composer{
		invoker: invoker,
		view:    view,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetName records name as the current display name, persisting it when it
// changed. Blank names are not persisted.
func (c *Composer) SetName(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	c.mu.Lock()
	changed := name != c.lastName
	c.lastName = name
	c.mu.Unlock()

	if changed && c.names != nil {
		if err := c.names.SaveName(name); err != nil {
			c.log.Warn("Could not save display name", "error", err)
		}
	}
}

// Send relays message as user. A blank user flags the name input for
// UserFlagDuration and returns ErrNoUser; a blank message returns
// ErrNoMessage. Neither reaches the hub. A rejected or failed invocation
// raises SendFailedAlert and returns the error.
func (c *Composer) Send(ctx context.Context, user, message string) error {
	user = strings.TrimSpace(user)
	message = strings.TrimSpace(message)

	if user == "" {
		c.flagUser()
		return ErrNoUser
	}
	if message == "" {
		return ErrNoMessage
	}

	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return ErrSendInProgress
	}
	c.sending = true
	c.mu.Unlock()

	c.SetName(user)

	c.view.SetSendEnabled(false)
	defer func() {
		c.mu.Lock()
		c.sending = false
		c.mu.Unlock()
		c.view.SetSendEnabled(true)
	}()

	if err := c.invoker.Invoke(ctx, SendMessageMethod, user, message); err != nil {
		c.log.Error("Error sending message", "error", err)
		c.view.Alert(SendFailedAlert)
		return err
	}

	c.view.ClearMessage()
	c.view.FocusMessage()
	return nil
}

// flagUser focuses and flags the name input. A repeated flag restarts the
// countdown so the input stays flagged for the full duration.
func (c *Composer) flagUser() {
	c.view.FocusUser()
	c.view.FlagUser(true)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flagTimer != nil {
		c.flagTimer.Stop()
	}
	c.flagTimer = c.afterFunc(UserFlagDuration, func() {
		c.view.FlagUser(false)
	})
}
