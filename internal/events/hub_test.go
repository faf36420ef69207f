package events

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitForSubscribers(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Subscribers() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastToSubscribers(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	var conns []*websocket.Conn
	for i := 0; i < 2; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
		require.NoError(t, err)
		defer conn.Close()
		conns = append(conns, conn)
	}
	waitForSubscribers(t, hub, 2)

	hub.Publish(Event{Type: TypeIteration, Scheme: "easy_bald", Iteration: 4})

	for _, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var e Event
		require.NoError(t, conn.ReadJSON(&e))
		assert.Equal(t, TypeIteration, e.Type)
		assert.Equal(t, 4, e.Iteration)
		assert.Equal(t, "easy_bald", e.Scheme)
		assert.False(t, e.Time.IsZero())
	}
}

func TestHub_ReplaysBacklog(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	hub.Publish(Event{Type: TypePhase, Phase: "base_selection"})
	hub.Publish(Event{Type: TypePhase, Phase: "self_training"})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	for _, phase := range []string{"base_selection", "self_training"} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var e Event
		require.NoError(t, conn.ReadJSON(&e))
		assert.Equal(t, phase, e.Phase)
	}
}

func TestHub_CloseDisconnects(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()
	waitForSubscribers(t, hub, 1)

	hub.Close()
	assert.Zero(t, hub.Subscribers())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)

	// Publishing after close is a no-op.
	hub.Publish(Event{Type: TypeDone})
}

func TestWatch_StopsOnErrStop(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	hub.Publish(Event{Type: TypeIteration, Iteration: 0})
	hub.Publish(Event{Type: TypeIteration, Iteration: 1})
	hub.Publish(Event{Type: TypeDone})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seen []string
	err := Watch(ctx, wsURL(srv), func(e Event) error {
		seen = append(seen, e.Type)
		if e.Type == TypeDone {
			return ErrStop
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{TypeIteration, TypeIteration, TypeDone}, seen)
}

func TestWatch_ReturnsCallbackError(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()
	hub.Publish(Event{Type: TypeError, Message: "boom"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := Watch(ctx, wsURL(srv), func(e Event) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestWatch_CancelledWhileUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := Watch(ctx, "ws://127.0.0.1:1/events", func(Event) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
