package client_test

import (
	"context"
	"log/slog"
	"net"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/globalchat/internal/client"
	"github.com/Tyrowin/globalchat/internal/render"
	"github.com/Tyrowin/globalchat/internal/server"
	"github.com/Tyrowin/globalchat/internal/testhelpers"
)

type chatServer struct {
	url      string
	hub      *server.Hub
	listener *trackingListener
}

// trackingListener remembers accepted connections so a test can cut them,
// hijacked WebSockets included.
type trackingListener struct {
	net.Listener
	mu    sync.Mutex
	conns []net.Conn
}

func (l *trackingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		l.mu.Lock()
		l.conns = append(l.conns, conn)
		l.mu.Unlock()
	}
	return conn, err
}

func (l *trackingListener) CutAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, conn := range l.conns {
		_ = conn.Close()
	}
	l.conns = nil
}

func startChatServer(t *testing.T) *chatServer {
	t.Helper()

	log := logs.GetLoggerFromLevel(slog.LevelError)
	cfg := server.NewConfig()
	cfg.Environment = server.EnvDevelopment

	hub := server.NewHub(log)
	go hub.Run()

	handlers := server.NewHandlers(hub, server.NewChatHub(hub, cfg.EchoToSender, log), cfg, log)
	ts := httptest.NewUnstartedServer(server.Middleware(cfg, server.SetupRoutes(handlers, nil), log))
	listener := &trackingListener{Listener: ts.Listener}
	ts.Listener = listener
	ts.Start()
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = hub.Shutdown(2 * time.Second) })

	return &chatServer{url: testhelpers.WebSocketURL(ts.URL, server.HubPath), hub: hub, listener: listener}
}

type received struct {
	user    string
	message string
}

func connectClient(t *testing.T, srv *chatServer, opts ...client.Option) (*client.Session, <-chan received) {
	t.Helper()

	s := client.NewSession(srv.url, client.WebSocketDialer{HandshakeTimeout: 2 * time.Second}, opts...)
	inbox := make(chan received, 16)
	s.OnReceiveMessage(func(user, message string) {
		inbox <- received{user: user, message: message}
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return s, inbox
}

func expectMessage(t *testing.T, inbox <-chan received) received {
	t.Helper()
	select {
	case msg := <-inbox:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return received{}
	}
}

func TestEndToEnd_AliceGreetsEveryone(t *testing.T) {
	srv := startChatServer(t)

	alice, aliceInbox := connectClient(t, srv)
	_, bobInbox := connectClient(t, srv)
	require.Eventually(t, func() bool { return srv.hub.Count() == 2 }, 2*time.Second, 5*time.Millisecond)

	view := &fakeView{}
	composer := client.NewComposer(alice, view)
	require.NoError(t, composer.Send(context.Background(), "Alice", "hi"))

	for _, inbox := range []<-chan received{aliceInbox, bobInbox} {
		msg := expectMessage(t, inbox)
		require.Equal(t, received{user: "Alice", message: "hi"}, msg)

		line := render.Terminal(render.Message{User: msg.user, Text: msg.message, ReceivedAt: time.Now()}, false)
		require.Contains(t, line, "(A) Alice: hi")
	}
	require.Equal(t, []string{"disable-send", "clear-message", "focus-message", "enable-send"}, view.Events())
}

func TestEndToEnd_EmptyNameNeverReachesTheHub(t *testing.T) {
	srv := startChatServer(t)

	alice, _ := connectClient(t, srv)
	_, bobInbox := connectClient(t, srv)
	require.Eventually(t, func() bool { return srv.hub.Count() == 2 }, 2*time.Second, 5*time.Millisecond)

	composer := client.NewComposer(alice, &fakeView{})
	require.ErrorIs(t, composer.Send(context.Background(), "", "hello"), client.ErrNoUser)

	select {
	case msg := <-bobInbox:
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEndToEnd_ReconnectsAfterTransportDrop(t *testing.T) {
	srv := startChatServer(t)

	reconnected := make(chan struct{}, 1)
	s, inbox := connectClient(t, srv,
		client.WithRetryPolicy(client.DelayPolicy{0, 50 * time.Millisecond, 100 * time.Millisecond}),
		client.OnReconnected(func() { reconnected <- struct{}{} }),
	)
	require.Eventually(t, func() bool { return srv.hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Cut the transport under both ends.
	srv.listener.CutAll()

	select {
	case <-reconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not reconnect")
	}
	require.Equal(t, client.Connected, s.State())
	require.Eventually(t, func() bool { return srv.hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Invoke(context.Background(), "SendMessage", "Alice", "still here"))
	require.Equal(t, "still here", expectMessage(t, inbox).message)
}
