// Package ws connects a client to the signaling relay over a websocket. It
// implements call.Signaler for outbound events and feeds inbound envelopes
// to whoever subscribes.
package ws

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/serenechat/serene/internal/core/domain"
)

var ErrClosed = errors.New("signaling connection closed")

// EventHandler consumes one inbound envelope. Handlers run on the read
// goroutine; anything slow should hand off.
type EventHandler func(ctx context.Context, env domain.Envelope)

// Conn is one authenticated connection to the relay.
type Conn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   []EventHandler
	onClosed   func()

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects and authenticates against the relay's websocket endpoint.
// The token travels as a query parameter, matching what the server verifies
// before upgrading.
func Dial(ctx context.Context, serverURL, token string) (*Conn, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.New("relay rejected token")
		}
		return nil, err
	}

	return &Conn{
		conn:   conn,
		closed: make(chan struct{}),
	}, nil
}

// OnEvent subscribes to inbound envelopes. Must be called before Run.
func (c *Conn) OnEvent(fn EventHandler) {
	c.handlersMu.Lock()
	c.handlers = append(c.handlers, fn)
	c.handlersMu.Unlock()
}

// OnClosed registers the connection loss hook. Must be called before Run.
func (c *Conn) OnClosed(fn func()) {
	c.handlersMu.Lock()
	c.onClosed = fn
	c.handlersMu.Unlock()
}

// Emit sends one event to the relay. Implements call.Signaler.
func (c *Conn) Emit(event string, payload any) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	env, err := domain.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(env); err != nil {
		log.Debug().Err(err).Str("event", event).Msg("Signaling write failed")
		_ = c.Close()
		return ErrClosed
	}
	return nil
}

// Run reads envelopes until the connection drops, dispatching each to the
// subscribed handlers. It returns after the closed hook has fired; a clean
// local Close returns nil.
func (c *Conn) Run(ctx context.Context) error {
	defer func() {
		_ = c.Close()

		c.handlersMu.RLock()
		onClosed := c.onClosed
		c.handlersMu.RUnlock()
		if onClosed != nil {
			onClosed()
		}
	}()

	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.closed:
				return nil
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().Err(err).Msg("Signaling connection lost")
			}
			return err
		}

		c.handlersMu.RLock()
		handlers := make([]EventHandler, len(c.handlers))
		copy(handlers, c.handlers)
		c.handlersMu.RUnlock()

		for _, fn := range handlers {
			fn(ctx, env)
		}
	}
}

// Close tears the connection down. Safe to call repeatedly.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
