// Package backplane fans hub broadcasts out across server processes.
//
// A backplane carries opaque payloads. Every process publishes its
// broadcasts and delivers whatever it receives, including its own
// publications, to its local connections.
package backplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Kinds accepted by New.
const (
	KindNone   = "none"
	KindMemory = "memory"
	KindRedis  = "redis"
	KindNATS   = "nats"
	KindAMQP   = "amqp"
)

// ErrUnknownKind is returned by New for an unrecognised backplane kind.
var ErrUnknownKind = errors.New("unknown backplane kind")

// Backplane publishes payloads to, and receives payloads from, every
// process sharing the same channel.
//
//go:generate mockgen -destination=../mocks/mock_backplane.go -package=mocks github.com/Tyrowin/globalchat/internal/backplane Backplane
type Backplane interface {
	Publish(ctx context.Context, payload []byte) error
	// Subscribe blocks, handing each received payload to deliver, until ctx
	// is cancelled or the subscription fails.
	Subscribe(ctx context.Context, deliver func(payload []byte)) error
	Close() error
}

// Config selects and parameterises a backplane.
type Config struct {
	Kind          string
	Channel       string
	RedisAddr     string
	NATSURL       string
	AMQPURL       string
	ConnectTries  int
	RetryInterval time.Duration
}

// New builds the backplane described by cfg. It returns nil for KindNone.
func New(ctx context.Context, cfg Config, log *slog.Logger) (Backplane, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", KindNone:
		return nil, nil
	case KindMemory:
		return NewLoopback(), nil
	case KindRedis:
		return orNil(NewRedis(ctx, cfg.RedisAddr, cfg.Channel, log))
	case KindNATS:
		return orNil(NewNATS(cfg.NATSURL, cfg.Channel, log))
	case KindAMQP:
		return orNil(NewAMQP(ctx, cfg.AMQPURL, cfg.Channel, cfg.ConnectTries, cfg.RetryInterval, log))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

// orNil keeps a failed constructor from yielding a non-nil interface around
// a nil pointer.
func orNil[B Backplane](b B, err error) (Backplane, error) {
	if err != nil {
		return nil, err
	}
	return b, nil
}
