package port

import (
	"context"

	"github.com/serenechat/serene/internal/core/domain"
)

type MessageRepository interface {
	Save(ctx context.Context, msg domain.Message) error
}
