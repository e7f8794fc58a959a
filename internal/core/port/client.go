package port

import "github.com/serenechat/serene/internal/core/domain"

type Client interface {
	Handle() domain.ConnectionID
	UserID() domain.UserID
	Send(env domain.Envelope) error
	Close() error
}
