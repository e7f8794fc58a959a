package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/serenechat/serene/internal/core/domain"
	"github.com/serenechat/serene/internal/core/port"
)

// ChatService persists direct messages and pushes them to the receiver's
// live connection when there is one. An offline receiver is not an error;
// the durable store is the source of truth, the push is best effort.
type ChatService struct {
	repo    port.MessageRepository
	gateway port.RealTimeGateway
}

func NewChatService(repo port.MessageRepository, gateway port.RealTimeGateway) *ChatService {
	return &ChatService{
		repo:    repo,
		gateway: gateway,
	}
}

func (s *ChatService) SendMessage(ctx context.Context, senderID, receiverID domain.UserID, content string) (*domain.Message, error) {
	msg, err := domain.NewMessage(senderID, receiverID, content)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, *msg); err != nil {
		return nil, err
	}

	env, err := domain.NewEnvelope(domain.EventNewMessage, msg)
	if err != nil {
		return nil, err
	}
	if err := s.gateway.SendToUser(ctx, receiverID, env); err != nil {
		if !errors.Is(err, domain.ErrNotConnected) {
			log.Error().Err(err).Str("receiver_id", receiverID.String()).Msg("Failed to push message")
		}
	}

	return msg, nil
}
