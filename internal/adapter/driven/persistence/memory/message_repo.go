package memory

import (
	"context"
	"sync"

	"github.com/serenechat/serene/internal/core/domain"
)

// MessageRepository is the in-process stand-in for the durable store owned by
// the surrounding system.
type MessageRepository struct {
	mu       sync.Mutex
	messages []domain.Message
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{}
}

func (r *MessageRepository) Save(ctx context.Context, msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

// All returns a copy of every stored message, oldest first.
func (r *MessageRepository) All() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Message, len(r.messages))
	copy(out, r.messages)
	return out
}
