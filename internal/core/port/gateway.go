package port

import (
	"context"

	"github.com/serenechat/serene/internal/core/domain"
)

// RealTimeGateway pushes events to live connections. Delivery is at most
// once: SendToUser returns domain.ErrNotConnected when the destination has no
// registered connection, and callers decide whether that matters.
type RealTimeGateway interface {
	SendToUser(ctx context.Context, userID domain.UserID, env domain.Envelope) error
	BroadcastOnlineUsers(ctx context.Context)
}
