// Package render turns received chat messages into something a person can
// read: an escaped HTML fragment for browsers or a coloured terminal line.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
	"unicode"
	"unicode/utf16"

	"github.com/gookit/color"
)

// TimeLayout is the 12-hour clock shown next to each message.
const TimeLayout = "03:04 PM"

// Palette holds the avatar colours, picked by AvatarColor.
var Palette = [...]string{
	"#FF6B6B",
	"#4ECDC4",
	"#45B7D1",
	"#FFA07A",
	"#98D8C8",
	"#F7DC6F",
	"#BB8FCE",
	"#85C1E2",
	"#F8B739",
	"#52B788",
}

// Message is a received chat message ready for display.
type Message struct {
	User       string
	Text       string
	ReceivedAt time.Time
}

// Initials returns the first character of each space-separated word of
// name, upper-cased and limited to two characters.
func Initials(name string) string {
	var b strings.Builder
	for _, word := range strings.Split(name, " ") {
		for _, r := range word {
			b.WriteRune(r)
			break
		}
	}

	initials := []rune(strings.ToUpper(b.String()))
	if len(initials) > 2 {
		initials = initials[:2]
	}
	return string(initials)
}

// AvatarColor deterministically picks a Palette colour for name. The hash
// matches the browser client so both render a user in the same colour.
func AvatarColor(name string) string {
	var hash int64
	for _, unit := range utf16.Encode([]rune(name)) {
		hash = int64(unit) + (int64(int32(hash)<<5) - hash)
	}
	if hash < 0 {
		hash = -hash
	}
	return Palette[hash%int64(len(Palette))]
}

// FormatTime formats t in the viewer's local zone.
func FormatTime(t time.Time) string {
	return t.Local().Format(TimeLayout)
}

var messageTemplate = template.Must(template.New("message").Parse(
	`<div class="message">` +
		`<div class="message-avatar" style="{{.AvatarStyle}}">{{.Initials}}</div>` +
		`<div class="message-content">` +
		`<div class="message-user">{{.User}}</div>` +
		`<div class="message-text">{{.Text}}</div>` +
		`<div class="message-time">{{.Time}}</div>` +
		`</div></div>`))

type messageView struct {
	AvatarStyle template.CSS
	Initials    string
	User        string
	Text        string
	Time        string
}

// HTML renders msg as a message fragment. User and text are escaped, so
// markup in either shows up as text.
func HTML(msg Message) (string, error) {
	view := messageView{
		AvatarStyle: template.CSS("background-color: " + AvatarColor(msg.User)),
		Initials:    Initials(msg.User),
		User:        msg.User,
		Text:        msg.Text,
		Time:        FormatTime(msg.ReceivedAt),
	}

	var buf bytes.Buffer
	if err := messageTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render message: %w", err)
	}
	return buf.String(), nil
}

// Terminal renders msg as a single line. With colours on, the initials and
// name use the avatar colour. Control characters are dropped so a message
// cannot move the cursor or clear the screen.
func Terminal(msg Message, colours bool) string {
	user := sanitize(msg.User)
	text := sanitize(msg.Text)
	initials := "(" + Initials(user) + ")"
	stamp := "[" + FormatTime(msg.ReceivedAt) + "]"

	if colours {
		avatar := color.HEX(AvatarColor(msg.User))
		initials = avatar.Sprint(initials)
		user = avatar.Sprint(user)
		stamp = color.New(color.FgGray).Render(stamp)
	}
	return fmt.Sprintf("%s %s %s: %s", stamp, initials, user, text)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
