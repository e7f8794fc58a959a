package memory

import (
	"sync"

	"github.com/serenechat/serene/internal/core/domain"
)

// Registry implements port.PresenceRegistry with a mutex-guarded map. Every
// mutation is a single replace or delete, so no multi-key invariant exists
// and no finer locking is needed.
type Registry struct {
	mu      sync.Mutex
	entries map[domain.UserID]domain.ConnectionID
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[domain.UserID]domain.ConnectionID),
	}
}

func (r *Registry) Register(userID domain.UserID, handle domain.ConnectionID) (domain.ConnectionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, hadOld := r.entries[userID]
	r.entries[userID] = handle
	if hadOld && old == handle {
		return domain.ConnectionID{}, false
	}
	return old, hadOld
}

func (r *Registry) Lookup(userID domain.UserID) (domain.ConnectionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handle, ok := r.entries[userID]
	return handle, ok
}

func (r *Registry) Unregister(handle domain.ConnectionID) (domain.UserID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, stored := range r.entries {
		if stored == handle {
			delete(r.entries, userID)
			return userID, true
		}
	}
	return "", false
}

func (r *Registry) Online() []domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.UserID, 0, len(r.entries))
	for userID := range r.entries {
		out = append(out, userID)
	}
	return out
}
