package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Tyrowin/globalchat/internal/protocol"
)

// ErrUnknownMethod is returned when a connection invokes a method the hub does not expose.
var ErrUnknownMethod = errors.New("method does not exist")

type hubMethod func(caller ConnectionID, args []json.RawMessage) error

// ChatHub is the remote surface of the chat. It exposes a single method,
// SendMessage, which relays one message to every connection.
type ChatHub struct {
	clients      Broadcaster
	echoToSender bool
	methods      map[string]hubMethod
	log          *slog.Logger
}

// NewChatHub wires the relay to clients. With echoToSender false the
// caller's own connection is left out of each broadcast.
func NewChatHub(clients Broadcaster, echoToSender bool, log *slog.Logger) *ChatHub {
	h := &ChatHub{
		clients:      clients,
		echoToSender: echoToSender,
		log:          log,
	}
	h.methods = map[string]hubMethod{
		"sendmessage": h.invokeSendMessage,
	}
	return h
}

// SendMessage relays message from user as a ReceiveMessage event. Neither
// argument is validated; any connection may claim any name.
func (h *ChatHub) SendMessage(caller ConnectionID, user, message string) {
	msg := ChatMessage{User: user, Message: message}
	if h.echoToSender {
		h.clients.BroadcastAll(ReceiveMessageEvent, msg)
		return
	}
	h.clients.BroadcastOthers(caller, ReceiveMessageEvent, msg)
}

// Invoke dispatches a wire invocation. Method names match case-insensitively.
func (h *ChatHub) Invoke(caller ConnectionID, target string, args []json.RawMessage) error {
	method, ok := h.methods[strings.ToLower(target)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMethod, target)
	}
	return method(caller, args)
}

func (h *ChatHub) invokeSendMessage(caller ConnectionID, args []json.RawMessage) error {
	var user, message string
	if err := protocol.Arguments(args, &user, &message); err != nil {
		return fmt.Errorf("SendMessage: %w", err)
	}

	h.log.Debug("Relaying message", "connection", caller, "user", user, "length", len(message))
	h.SendMessage(caller, user, message)
	return nil
}
