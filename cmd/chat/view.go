package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gookit/color"

	"github.com/Tyrowin/globalchat/internal/client"
	"github.com/Tyrowin/globalchat/internal/render"
)

// terminal writes the transcript and composer feedback to one stream.
// Lines from the session goroutine and the input loop never interleave.
type terminal struct {
	mu      sync.Mutex
	out     io.Writer
	colours bool
	flagged bool
	now     func() time.Time
}

var _ client.View = (*terminal)(nil)

func newTerminal(out io.Writer, colours bool) *terminal {
	return &terminal{out: out, colours: colours, now: time.Now}
}

func (t *terminal) println(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintln(t.out, line)
}

func (t *terminal) paint(c color.Color, s string) string {
	if !t.colours {
		return s
	}
	return c.Render(s)
}

// Message prints a received chat message stamped with the local time.
func (t *terminal) Message(user, text string) {
	t.println(render.Terminal(render.Message{User: user, Text: text, ReceivedAt: t.now()}, t.colours))
}

// Status prints a connection state change.
func (t *terminal) Status(state client.State) {
	switch state {
	case client.Connected:
		t.println(t.paint(color.FgGreen, "* Online"))
	case client.Reconnecting:
		t.println(t.paint(color.FgYellow, "* Reconnecting..."))
	case client.Disconnected:
		t.println(t.paint(color.FgRed, "* Offline"))
	case client.Connecting:
		t.println(t.paint(color.FgGray, "* Connecting..."))
	}
}

// Info prints a hint for the user.
func (t *terminal) Info(msg string) {
	t.println(t.paint(color.FgGray, msg))
}

func (t *terminal) FocusUser() {}

func (t *terminal) FocusMessage() {}

func (t *terminal) ClearMessage() {}

// FlagUser prints a prompt when the name becomes flagged. Clearing the
// flag prints nothing.
func (t *terminal) FlagUser(flagged bool) {
	t.mu.Lock()
	was := t.flagged
	t.flagged = flagged
	t.mu.Unlock()
	if flagged && !was {
		t.println(t.paint(color.FgRed, "! Set a display name first: /name <your name>"))
	}
}

// SetSendEnabled is a no-op: input is read one line at a time, so nothing
// else can be sent while a message is in flight.
func (t *terminal) SetSendEnabled(bool) {}

func (t *terminal) Alert(message string) {
	t.println(t.paint(color.FgRed, "! "+message))
}
