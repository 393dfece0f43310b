// Package protocol implements the JSON hub protocol spoken on /chatHub.
//
// Every message is a JSON object terminated by the ASCII record separator
// (0x1E). A single WebSocket frame may carry several records. The first
// record a client sends is the handshake request; the server answers with a
// handshake response before any other traffic flows.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// RecordSeparator terminates every record on the wire.
const RecordSeparator byte = 0x1e

// Name and Version identify the only protocol the server accepts.
const (
	Name    = "json"
	Version = 1
)

// MessageType is the "type" discriminator of a hub message.
type MessageType int

// Hub message types.
const (
	InvocationType       MessageType = 1
	StreamItemType       MessageType = 2
	CompletionType       MessageType = 3
	StreamInvocationType MessageType = 4
	CancelInvocationType MessageType = 5
	PingType             MessageType = 6
	CloseType            MessageType = 7
)

var (
	// ErrIncompleteRecord is returned when data does not end with a record separator.
	ErrIncompleteRecord = errors.New("incomplete record")
	// ErrUnsupportedProtocol is returned for handshakes asking for anything but json/1.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	// ErrArguments is returned when invocation arguments do not match the target signature.
	ErrArguments = errors.New("invalid arguments")
)

// HandshakeRequest is the first record sent by a client.
type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponse answers a handshake. An empty Error means success.
type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// Message is the decoded form of any hub record.
type Message struct {
	Type           MessageType       `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

// Invocation calls a method on the remote side. Without an InvocationID no
// completion is expected.
type Invocation struct {
	Type         MessageType `json:"type"`
	InvocationID string      `json:"invocationId,omitempty"`
	Target       string      `json:"target"`
	Arguments    []any       `json:"arguments"`
}

// Completion reports the outcome of an invocation.
type Completion struct {
	Type         MessageType `json:"type"`
	InvocationID string      `json:"invocationId"`
	Error        string      `json:"error,omitempty"`
}

// Ping keeps an idle connection alive.
type Ping struct {
	Type MessageType `json:"type"`
}

// Close tells the peer the connection is going away.
type Close struct {
	Type           MessageType `json:"type"`
	Error          string      `json:"error,omitempty"`
	AllowReconnect bool        `json:"allowReconnect,omitempty"`
}

// NewInvocation builds an invocation record value.
func NewInvocation(invocationID, target string, args ...any) Invocation {
	if args == nil {
		args = []any{}
	}
	return Invocation{Type: InvocationType, InvocationID: invocationID, Target: target, Arguments: args}
}

// NewCompletion builds a completion, carrying err's text when err is not nil.
func NewCompletion(invocationID string, err error) Completion {
	c := Completion{Type: CompletionType, InvocationID: invocationID}
	if err != nil {
		c.Error = err.Error()
	}
	return c
}

// Frame marshals v and appends the record separator.
func Frame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return append(data, RecordSeparator), nil
}

// MustFrame is Frame for values that always marshal, such as Ping and Close.
func MustFrame(v any) []byte {
	data, err := Frame(v)
	if err != nil {
		panic(err)
	}
	return data
}

// Split cuts data into records, dropping the separators. Trailing bytes
// after the last separator are an error: frames never carry partial records.
func Split(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if data[len(data)-1] != RecordSeparator {
		return nil, ErrIncompleteRecord
	}

	parts := bytes.Split(data[:len(data)-1], []byte{RecordSeparator})
	records := make([][]byte, 0, len(parts))
	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		records = append(records, part)
	}
	return records, nil
}

// Decode parses a single record without its separator.
func Decode(record []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(record, &msg); err != nil {
		return Message{}, fmt.Errorf("decode record: %w", err)
	}
	return msg, nil
}

// ParseHandshake reads the handshake request from the first frame of a
// connection and returns any records that followed it in the same frame.
func ParseHandshake(data []byte) (HandshakeRequest, [][]byte, error) {
	records, err := Split(data)
	if err != nil {
		return HandshakeRequest{}, nil, err
	}
	if len(records) == 0 {
		return HandshakeRequest{}, nil, ErrIncompleteRecord
	}

	var req HandshakeRequest
	if err := json.Unmarshal(records[0], &req); err != nil {
		return HandshakeRequest{}, nil, fmt.Errorf("decode handshake: %w", err)
	}
	if req.Protocol != Name || req.Version != Version {
		return req, nil, fmt.Errorf("%w: %s/%d", ErrUnsupportedProtocol, req.Protocol, req.Version)
	}
	return req, records[1:], nil
}

// ParseHandshakeResponse reads the server's answer to a handshake and returns
// any records that followed it.
func ParseHandshakeResponse(data []byte) ([][]byte, error) {
	records, err := Split(data)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrIncompleteRecord
	}

	var resp HandshakeResponse
	if err := json.Unmarshal(records[0], &resp); err != nil {
		return nil, fmt.Errorf("decode handshake response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("handshake rejected: %s", resp.Error)
	}
	return records[1:], nil
}

// Arguments unmarshals raw invocation arguments into dst, one pointer per
// expected argument. The count must match exactly.
func Arguments(raw []json.RawMessage, dst ...any) error {
	if len(raw) != len(dst) {
		return fmt.Errorf("%w: expected %d, got %d", ErrArguments, len(dst), len(raw))
	}
	for i := range raw {
		if err := json.Unmarshal(raw[i], dst[i]); err != nil {
			return fmt.Errorf("%w: argument %d: %v", ErrArguments, i, err)
		}
	}
	return nil
}
