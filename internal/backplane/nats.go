package backplane

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// NATS fans payloads out over a NATS subject.
type NATS struct {
	conn    *nats.Conn
	subject string
	log     *slog.Logger
}

// NewNATS connects to url. The client keeps reconnecting on its own after
// the initial connection succeeds.
func NewNATS(url, subject string, log *slog.Logger) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("globalchat"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS backplane disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS backplane reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("could not connect to NATS at %s: %w", url, err)
	}

	log.Info("Connected to NATS backplane", "url", url, "subject", subject)
	return &NATS{conn: conn, subject: subject, log: log}, nil
}

func (n *NATS) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.conn.Publish(n.subject, payload)
}

func (n *NATS) Subscribe(ctx context.Context, deliver func([]byte)) error {
	sub, err := n.conn.Subscribe(n.subject, func(m *nats.Msg) {
		deliver(m.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", n.subject, err)
	}

	<-ctx.Done()

	if err := sub.Unsubscribe(); err != nil && n.conn.IsConnected() {
		n.log.Warn("Error unsubscribing from NATS", "subject", n.subject, "error", err)
	}
	return nil
}

func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}
