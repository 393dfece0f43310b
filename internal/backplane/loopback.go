package backplane

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when publishing on a closed loopback.
var ErrClosed = errors.New("backplane closed")

// Loopback is an in-process backplane. Several hubs in one process sharing a
// Loopback behave like several servers sharing a broker.
type Loopback struct {
	mu          sync.RWMutex
	subscribers map[int]func([]byte)
	next        int
	closed      bool
}

// NewLoopback creates an empty in-process backplane.
func NewLoopback() *Loopback {
	return &Loopback{subscribers: make(map[int]func([]byte))}
}

// Publish hands payload to every current subscriber.
func (l *Loopback) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	for _, deliver := range l.subscribers {
		deliver(append([]byte(nil), payload...))
	}
	return nil
}

// Subscribe registers deliver until ctx is done.
func (l *Loopback) Subscribe(ctx context.Context, deliver func([]byte)) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	id := l.next
	l.next++
	l.subscribers[id] = deliver
	l.mu.Unlock()

	<-ctx.Done()

	l.mu.Lock()
	delete(l.subscribers, id)
	l.mu.Unlock()
	return nil
}

// Subscribers reports how many subscriptions are active.
func (l *Loopback) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subscribers)
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.subscribers = make(map[int]func([]byte))
	return nil
}
