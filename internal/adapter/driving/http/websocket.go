package http

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/serenechat/serene/internal/core/domain"
)

const sendBufferSize = 256

// WSClient is one live signaling connection. Writes go through a buffered
// channel drained by a single writer goroutine; gorilla connections allow
// only one concurrent writer.
type WSClient struct {
	handle domain.ConnectionID
	userID domain.UserID
	conn   *websocket.Conn

	send chan domain.Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSClient(userID domain.UserID, conn *websocket.Conn) *WSClient {
	return &WSClient{
		handle: domain.NewConnectionID(),
		userID: userID,
		conn:   conn,
		send:   make(chan domain.Envelope, sendBufferSize),
		closed: make(chan struct{}),
	}
}

func (c *WSClient) Handle() domain.ConnectionID { return c.handle }
func (c *WSClient) UserID() domain.UserID       { return c.userID }

// Send queues an envelope for delivery. A full buffer drops the frame rather
// than blocking the relay; delivery is at most once either way.
func (c *WSClient) Send(env domain.Envelope) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}

	select {
	case c.send <- env:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *WSClient) writePump() {
	for {
		select {
		case <-c.closed:
			return
		case env := <-c.send:
			if err := c.conn.WriteJSON(env); err != nil {
				log.Debug().Err(err).Str("user_id", c.userID.String()).Msg("Write failed, closing connection")
				_ = c.Close()
				return
			}
		}
	}
}

func (h *Handler) upgrader() websocket.Upgrader {
	allowed := h.allowedOrigin
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowed == "" || allowed == "*" {
				return true
			}
			return r.Header.Get("Origin") == allowed
		},
	}
}

// ServeWS upgrades the connection, registers presence for the verified user,
// and relays inbound signaling events until the transport drops.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := h.Verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	up := h.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := newWSClient(userID, conn)
	go client.writePump()

	l := log.With().Str("user_id", userID.String()).Str("handle", client.Handle().String()).Logger()
	l.Info().Msg("New client connected")

	h.Hub.Register(r.Context(), client)

	defer func() {
		l.Info().Msg("Client disconnected")
		h.Hub.Unregister(r.Context(), client)
	}()

	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}

		if err := h.Relay.HandleEvent(r.Context(), userID, env); err != nil {
			l.Warn().Err(err).Str("event", env.Event).Msg("Failed to handle signaling event")
		}
	}
}
