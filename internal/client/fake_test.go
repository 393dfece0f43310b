package client_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/globalchat/internal/client"
	"github.com/Tyrowin/globalchat/internal/protocol"
)

var errFakeClosed = errors.New("fake connection closed")

// fakeConn is one end of an in-memory hub connection. The test plays the
// hub through Push and Written.
type fakeConn struct {
	toClient   chan []byte
	fromClient chan []byte
	closed     chan struct{}
	once       sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		toClient:   make(chan []byte, 64),
		fromClient: make(chan []byte, 64),
		closed:     make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.toClient:
		return data, nil
	case <-c.closed:
		return nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	select {
	case c.fromClient <- append([]byte(nil), data...):
		return nil
	case <-c.closed:
		return errFakeClosed
	}
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Push queues v as a framed record for the client to read.
func (c *fakeConn) Push(t *testing.T, v any) {
	t.Helper()
	c.toClient <- protocol.MustFrame(v)
}

// newReadyConn returns a connection whose handshake response is already
// queued, so Start completes without the test answering it.
func newReadyConn(t *testing.T) *fakeConn {
	c := newFakeConn()
	c.Push(t, protocol.HandshakeResponse{})
	return c
}

// Written returns the next record the client wrote, skipping pings and the
// handshake request.
func (c *fakeConn) Written(t *testing.T) protocol.Message {
	t.Helper()
	for {
		select {
		case data := <-c.fromClient:
			records, err := protocol.Split(data)
			require.NoError(t, err)
			require.Len(t, records, 1)
			msg, err := protocol.Decode(records[0])
			require.NoError(t, err)
			if msg.Type == protocol.PingType || msg.Type == 0 {
				continue
			}
			return msg
		case <-time.After(2 * time.Second):
			t.Fatal("client wrote nothing")
			return protocol.Message{}
		}
	}
}

// fakeDialer hands out scripted connections in order. Each dial takes the
// next entry of results; an entry with a nil conn fails with its error.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   int
	dialed  chan *fakeConn
}

type dialResult struct {
	conn *fakeConn
	err  error
}

func newFakeDialer(results ...dialResult) *fakeDialer {
	return &fakeDialer{results: results, dialed: make(chan *fakeConn, len(results)+1)}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (client.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.results) == 0 {
		return nil, errors.New("no more scripted connections")
	}
	next := d.results[0]
	d.results = d.results[1:]
	if next.err != nil {
		return nil, next.err
	}
	d.dialed <- next.conn
	return next.conn, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// recorder collects hook calls.
type recorder struct {
	mu           sync.Mutex
	states       []client.State
	reconnecting int
	reconnected  int
	closed       chan error
}

func newRecorder() *recorder {
	return &recorder{closed: make(chan error, 1)}
}

func (r *recorder) options() []client.Option {
	return []client.Option{
		client.OnStateChange(func(s client.State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		}),
		client.OnReconnecting(func(error) {
			r.mu.Lock()
			r.reconnecting++
			r.mu.Unlock()
		}),
		client.OnReconnected(func() {
			r.mu.Lock()
			r.reconnected++
			r.mu.Unlock()
		}),
		client.OnClose(func(err error) {
			r.closed <- err
		}),
	}
}

func (r *recorder) States() []client.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]client.State(nil), r.states...)
}

func (r *recorder) Counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconnecting, r.reconnected
}

func (r *recorder) WaitClosed(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.closed:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close")
		return nil
	}
}
