package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/globalchat/internal/client"
	"github.com/Tyrowin/globalchat/internal/protocol"
)

const hubURL = "ws://localhost:8080/chatHub"

func newTestSession(d client.Dialer, rec *recorder, extra ...client.Option) *client.Session {
	opts := append(rec.options(),
		client.WithKeepAliveInterval(0),
		client.WithRetryPolicy(client.DelayPolicy{0}),
	)
	return client.NewSession(hubURL, d, append(opts, extra...)...)
}

func invokeAsync(ctx context.Context, s *client.Session, target string, args ...any) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- s.Invoke(ctx, target, args...)
	}()
	return result
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("invocation did not return")
		return nil
	}
}

func TestState_String(t *testing.T) {
	require.Equal(t, "Disconnected", client.Disconnected.String())
	require.Equal(t, "Connecting", client.Connecting.String())
	require.Equal(t, "Connected", client.Connected.String())
	require.Equal(t, "Reconnecting", client.Reconnecting.String())
	require.Equal(t, "State(9)", client.State(9).String())
}

func TestSession_StartConnects(t *testing.T) {
	conn := newReadyConn(t)
	rec := newRecorder()
	s := newTestSession(newFakeDialer(dialResult{conn: conn}), rec)

	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, client.Connected, s.State())

	require.NoError(t, s.Stop())
	require.NoError(t, rec.WaitClosed(t))
	require.Equal(t, client.Disconnected, s.State())
	require.Equal(t, []client.State{client.Connecting, client.Connected, client.Disconnected}, rec.States())
}

func TestSession_StartDialFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	rec := newRecorder()
	s := newTestSession(newFakeDialer(dialResult{err: dialErr}), rec)

	err := s.Start(context.Background())
	require.ErrorIs(t, err, dialErr)
	require.Equal(t, client.Disconnected, s.State())
	require.Equal(t, []client.State{client.Connecting, client.Disconnected}, rec.States())

	select {
	case err := <-rec.closed:
		t.Fatalf("OnClose called after a failed start: %v", err)
	default:
	}
}

func TestSession_StartHandshakeRejected(t *testing.T) {
	conn := newFakeConn()
	conn.Push(t, protocol.HandshakeResponse{Error: "protocol not supported"})
	s := newTestSession(newFakeDialer(dialResult{conn: conn}), newRecorder())

	err := s.Start(context.Background())
	require.ErrorContains(t, err, "protocol not supported")
	require.Equal(t, client.Disconnected, s.State())
}

func TestSession_StartTwice(t *testing.T) {
	s := newTestSession(newFakeDialer(dialResult{conn: newReadyConn(t)}), newRecorder())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	require.ErrorIs(t, s.Start(context.Background()), client.ErrAlreadyStarted)
}

func TestSession_StopWithoutStart(t *testing.T) {
	s := newTestSession(newFakeDialer(), newRecorder())
	require.NoError(t, s.Stop())
}

func TestSession_InvokeCompletes(t *testing.T) {
	conn := newReadyConn(t)
	s := newTestSession(newFakeDialer(dialResult{conn: conn}), newRecorder())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	result := invokeAsync(context.Background(), s, "SendMessage", "Alice", "hi")

	msg := conn.Written(t)
	require.Equal(t, protocol.InvocationType, msg.Type)
	require.Equal(t, "SendMessage", msg.Target)
	require.NotEmpty(t, msg.InvocationID)
	var user, message string
	require.NoError(t, protocol.Arguments(msg.Arguments, &user, &message))
	require.Equal(t, "Alice", user)
	require.Equal(t, "hi", message)

	conn.Push(t, protocol.NewCompletion(msg.InvocationID, nil))
	require.NoError(t, waitResult(t, result))
}

func TestSession_InvokeIDsAreDistinct(t *testing.T) {
	conn := newReadyConn(t)
	s := newTestSession(newFakeDialer(dialResult{conn: conn}), newRecorder())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	first := invokeAsync(context.Background(), s, "SendMessage", "A", "1")
	msg1 := conn.Written(t)
	second := invokeAsync(context.Background(), s, "SendMessage", "A", "2")
	msg2 := conn.Written(t)
	require.NotEqual(t, msg1.InvocationID, msg2.InvocationID)

	// Completions may arrive out of order.
	conn.Push(t, protocol.NewCompletion(msg2.InvocationID, errors.New("second failed")))
	conn.Push(t, protocol.NewCompletion(msg1.InvocationID, nil))
	require.ErrorContains(t, waitResult(t, second), "second failed")
	require.NoError(t, waitResult(t, first))
}

func TestSession_InvokeServerError(t *testing.T) {
	conn := newReadyConn(t)
	s := newTestSession(newFakeDialer(dialResult{conn: conn}), newRecorder())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	result := invokeAsync(context.Background(), s, "SendMessage", "Alice")
	msg := conn.Written(t)
	conn.Push(t, protocol.NewCompletion(msg.InvocationID, errors.New("wrong number of arguments")))

	err := waitResult(t, result)
	require.ErrorIs(t, err, client.ErrInvocationFailed)
	require.ErrorContains(t, err, "wrong number of arguments")
}

func TestSession_InvokeNotConnected(t *testing.T) {
	s := newTestSession(newFakeDialer(), newRecorder())
	require.ErrorIs(t, s.Invoke(context.Background(), "SendMessage", "a", "b"), client.ErrNotConnected)
	require.ErrorIs(t, s.Send("SendMessage", "a", "b"), client.ErrNotConnected)
}

func TestSession_InvokeHonoursContext(t *testing.T) {
	conn := newReadyConn(t)
	s := newTestSession(newFakeDialer(dialResult{conn: conn}), newRecorder())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Invoke(ctx, "SendMessage", "Alice", "hi"), context.DeadlineExceeded)
}

func TestSession_InvokeCutOffByDrop(t *testing.T) {
	conn := newReadyConn(t)
	rec := newRecorder()
	s := newTestSession(newFakeDialer(dialResult{conn: conn}), rec, client.WithRetryPolicy(nil))
	require.NoError(t, s.Start(context.Background()))

	result := invokeAsync(context.Background(), s, "SendMessage", "Alice", "hi")
	conn.Written(t)
	require.NoError(t, conn.Close())

	require.ErrorIs(t, waitResult(t, result), client.ErrConnectionClosed)
	require.ErrorIs(t, rec.WaitClosed(t), errFakeClosed)
}

func TestSession_SendDoesNotWait(t *testing.T) {
	conn := newReadyConn(t)
	s := newTestSession(newFakeDialer(dialResult{conn: conn}), newRecorder())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	require.NoError(t, s.Send("SendMessage", "Alice", "hi"))
	msg := conn.Written(t)
	require.Empty(t, msg.InvocationID)
	require.Equal(t, "SendMessage", msg.Target)
}

func TestSession_DispatchesEventsInOrder(t *testing.T) {
	conn := newReadyConn(t)
	s := newTestSession(newFakeDialer(dialResult{conn: conn}), newRecorder())

	received := make(chan string, 10)
	s.OnReceiveMessage(func(user, message string) {
		received <- user + ":" + message
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	for _, body := range []string{"one", "two", "three"} {
		conn.Push(t, protocol.NewInvocation("", "ReceiveMessage", "Alice", body))
	}
	for _, want := range []string{"Alice:one", "Alice:two", "Alice:three"} {
		select {
		case got := <-received:
			require.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatal("handler not called")
		}
	}
}

func TestSession_EventNamesMatchCaseInsensitively(t *testing.T) {
	conn := newReadyConn(t)
	s := newTestSession(newFakeDialer(dialResult{conn: conn}), newRecorder())

	called := make(chan int, 1)
	s.On("receivemessage", func(args []json.RawMessage) {
		called <- len(args)
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	conn.Push(t, protocol.NewInvocation("", "ReceiveMessage", "Alice", "hi"))
	select {
	case n := <-called:
		require.Equal(t, 2, n)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestSession_RecordsAfterHandshakeResponse(t *testing.T) {
	conn := newFakeConn()
	frame := append(protocol.MustFrame(protocol.HandshakeResponse{}),
		protocol.MustFrame(protocol.NewInvocation("", "ReceiveMessage", "Bob", "early"))...)
	conn.toClient <- frame

	s := newTestSession(newFakeDialer(dialResult{conn: conn}), newRecorder())
	received := make(chan string, 1)
	s.OnReceiveMessage(func(_, message string) { received <- message })
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	select {
	case got := <-received:
		require.Equal(t, "early", got)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestSession_ReconnectsAfterDrop(t *testing.T) {
	first := newReadyConn(t)
	second := newReadyConn(t)
	rec := newRecorder()
	d := newFakeDialer(dialResult{conn: first}, dialResult{conn: second})
	s := newTestSession(d, rec)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	require.NoError(t, first.Close())

	require.Eventually(t, func() bool {
		_, reconnected := rec.Counts()
		return reconnected == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, client.Connected, s.State())
	require.Equal(t, []client.State{client.Connecting, client.Connected, client.Reconnecting, client.Connected}, rec.States())

	reconnecting, _ := rec.Counts()
	require.Equal(t, 1, reconnecting)

	result := invokeAsync(context.Background(), s, "SendMessage", "Alice", "back")
	msg := second.Written(t)
	second.Push(t, protocol.NewCompletion(msg.InvocationID, nil))
	require.NoError(t, waitResult(t, result))
}

func TestSession_ReconnectGivesUp(t *testing.T) {
	first := newReadyConn(t)
	rec := newRecorder()
	d := newFakeDialer(
		dialResult{conn: first},
		dialResult{err: errors.New("refused")},
		dialResult{err: errors.New("refused")},
	)
	s := newTestSession(d, rec, client.WithRetryPolicy(client.DelayPolicy{0, 0}))
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, first.Close())

	require.ErrorIs(t, rec.WaitClosed(t), client.ErrReconnectFailed)
	require.Equal(t, client.Disconnected, s.State())
	require.Equal(t, 3, d.Dials())
	require.Equal(t, []client.State{client.Connecting, client.Connected, client.Reconnecting, client.Disconnected}, rec.States())
}

func TestSession_NoReconnectWithoutPolicy(t *testing.T) {
	first := newReadyConn(t)
	rec := newRecorder()
	d := newFakeDialer(dialResult{conn: first})
	s := newTestSession(d, rec, client.WithRetryPolicy(client.DelayPolicy{}))
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, first.Close())

	require.ErrorIs(t, rec.WaitClosed(t), errFakeClosed)
	require.Equal(t, 1, d.Dials())
	require.NotContains(t, rec.States(), client.Reconnecting)
}

func TestSession_ServerCloseWithoutReconnect(t *testing.T) {
	first := newReadyConn(t)
	rec := newRecorder()
	d := newFakeDialer(dialResult{conn: first}, dialResult{conn: newReadyConn(t)})
	s := newTestSession(d, rec)
	require.NoError(t, s.Start(context.Background()))

	first.Push(t, protocol.Close{Type: protocol.CloseType, Error: "Connection closed with an error."})

	err := rec.WaitClosed(t)
	require.ErrorIs(t, err, client.ErrServerClosed)
	require.ErrorContains(t, err, "Connection closed with an error.")
	require.Equal(t, 1, d.Dials())
}

func TestSession_ServerCloseAllowingReconnect(t *testing.T) {
	first := newReadyConn(t)
	rec := newRecorder()
	d := newFakeDialer(dialResult{conn: first}, dialResult{conn: newReadyConn(t)})
	s := newTestSession(d, rec)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	first.Push(t, protocol.Close{Type: protocol.CloseType, AllowReconnect: true})

	require.Eventually(t, func() bool {
		_, reconnected := rec.Counts()
		return reconnected == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 2, d.Dials())
}

func TestSession_StopDoesNotReconnect(t *testing.T) {
	conn := newReadyConn(t)
	rec := newRecorder()
	d := newFakeDialer(dialResult{conn: conn}, dialResult{conn: newReadyConn(t)})
	s := newTestSession(d, rec)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Stop())
	require.NoError(t, rec.WaitClosed(t))
	require.Equal(t, 1, d.Dials())
	require.Equal(t, protocol.CloseType, conn.Written(t).Type)

	reconnecting, _ := rec.Counts()
	require.Zero(t, reconnecting)
	require.NoError(t, s.Stop())
}

func TestSession_StopDuringReconnectDelay(t *testing.T) {
	first := newReadyConn(t)
	rec := newRecorder()
	s := newTestSession(newFakeDialer(dialResult{conn: first}), rec,
		client.WithRetryPolicy(client.DelayPolicy{time.Hour}))
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return s.State() == client.Reconnecting }, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked during reconnect delay")
	}
	require.NoError(t, rec.WaitClosed(t))
	require.Equal(t, client.Disconnected, s.State())
}

func TestSession_SendsKeepAlivePings(t *testing.T) {
	conn := newReadyConn(t)
	s := newTestSession(newFakeDialer(dialResult{conn: conn}), newRecorder(),
		client.WithKeepAliveInterval(10*time.Millisecond))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-conn.fromClient:
			records, err := protocol.Split(data)
			require.NoError(t, err)
			msg, err := protocol.Decode(records[0])
			require.NoError(t, err)
			if msg.Type == protocol.PingType {
				return
			}
		case <-deadline:
			t.Fatal("no ping sent")
		}
	}
}
