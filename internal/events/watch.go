package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ErrStop can be returned by a Watch callback to end watching without error.
var ErrStop = errors.New("stop watching")

// Watch connects to an event feed and calls fn for every event, reconnecting
// with exponential backoff until ctx is cancelled or fn returns an error.
func Watch(ctx context.Context, url string, fn func(Event) error) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		err := watchOnce(ctx, url, fn)
		if errors.Is(err, ErrStop) {
			return nil
		}
		var cbErr callbackError
		if errors.As(err, &cbErr) {
			return cbErr.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// Server closed the stream cleanly.
			backoff = time.Second
		}
		log.Warn().Err(err).Dur("backoff", backoff).Msg("Event feed disconnected, reconnecting with exponential backoff...")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

type callbackError struct{ err error }

func (e callbackError) Error() string { return e.err.Error() }
func (e callbackError) Unwrap() error { return e.err }

func watchOnce(ctx context.Context, url string, fn func(Event) error) error {
	log.Info().Str("url", url).Msg("Connecting to event feed")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	conn.SetReadLimit(1 << 20)
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout + pingInterval))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout + pingInterval))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}
		var e Event
		if err := json.Unmarshal(data, &e); err != nil {
			log.Warn().Err(err).Msg("Skipping malformed event")
			continue
		}
		if err := fn(e); err != nil {
			if errors.Is(err, ErrStop) {
				return ErrStop
			}
			return callbackError{err}
		}
	}
}
