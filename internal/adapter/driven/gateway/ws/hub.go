package ws

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/serenechat/serene/internal/core/domain"
	"github.com/serenechat/serene/internal/core/port"
)

// Hub owns every live connection and implements port.RealTimeGateway on top
// of the presence registry. The registry decides who is deliverable; the hub
// only fans frames out to connection handles.
//
// A replaced connection is not closed here: it stays in the hub, keeps its
// send path, and simply stops receiving user-addressed deliveries because the
// registry no longer points at it.
type Hub struct {
	registry port.PresenceRegistry

	mu      sync.Mutex
	clients map[domain.ConnectionID]port.Client
	stopped bool
}

func NewHub(registry port.PresenceRegistry) *Hub {
	return &Hub{
		registry: registry,
		clients:  make(map[domain.ConnectionID]port.Client),
	}
}

// Register adds a live connection and binds it to its user in the presence
// registry, then broadcasts the updated roster to everyone.
func (h *Hub) Register(ctx context.Context, c port.Client) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		_ = c.Close()
		return
	}
	h.clients[c.Handle()] = c
	replaced, hadOld := h.registry.Register(c.UserID(), c.Handle())
	h.mu.Unlock()

	if hadOld {
		log.Info().
			Str("user_id", c.UserID().String()).
			Str("old_handle", replaced.String()).
			Str("new_handle", c.Handle().String()).
			Msg("Presence entry replaced; old connection is now undeliverable")
	} else {
		log.Info().Str("user_id", c.UserID().String()).Msg("Client registered")
	}

	h.BroadcastOnlineUsers(ctx)
}

// Unregister drops a connection. The presence entry is removed only when it
// still points at this handle, so a stale connection closing cannot evict a
// newer one.
func (h *Hub) Unregister(ctx context.Context, c port.Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.Handle()]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.Handle())
	_, removed := h.registry.Unregister(c.Handle())
	h.mu.Unlock()

	_ = c.Close()
	log.Info().Str("user_id", c.UserID().String()).Bool("presence_removed", removed).Msg("Client unregistered")

	h.BroadcastOnlineUsers(ctx)
}

func (h *Hub) SendToUser(ctx context.Context, userID domain.UserID, env domain.Envelope) error {
	handle, ok := h.registry.Lookup(userID)
	if !ok {
		return domain.ErrNotConnected
	}

	h.mu.Lock()
	client, ok := h.clients[handle]
	h.mu.Unlock()
	if !ok {
		return domain.ErrNotConnected
	}

	return client.Send(env)
}

// BroadcastOnlineUsers pushes the current roster to every connection,
// registered or replaced. Fire and forget: a slow or broken connection is
// logged and skipped, never retried.
func (h *Hub) BroadcastOnlineUsers(ctx context.Context) {
	env, err := domain.NewEnvelope(domain.EventOnlineUsers, h.registry.Online())
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode online roster")
		return
	}

	h.mu.Lock()
	targets := make([]port.Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.Send(env); err != nil {
			log.Warn().Err(err).Str("user_id", c.UserID().String()).Msg("Roster broadcast dropped for connection")
		}
	}
}

// Stop closes every connection. Restart drops all presence and in-flight
// call state; nothing here is durable.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.stopped = true
	clients := h.clients
	h.clients = make(map[domain.ConnectionID]port.Client)
	h.mu.Unlock()

	for _, c := range clients {
		h.registry.Unregister(c.Handle())
		if err := c.Close(); err != nil {
			log.Error().Err(err).Str("user_id", c.UserID().String()).Msg("Error closing client connection")
		}
	}
}
