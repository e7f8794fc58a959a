package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/serenechat/serene/internal/core/domain"
	"github.com/serenechat/serene/internal/core/port"
)

// RelayService routes call signaling between participants. It is stateless:
// every event carries its own destination, the presence registry resolves it,
// and a miss drops the event. Delivery is at most once; retrying would
// duplicate call:incoming notifications on the other side.
type RelayService struct {
	gateway port.RealTimeGateway
}

func NewRelayService(gateway port.RealTimeGateway) *RelayService {
	return &RelayService{gateway: gateway}
}

// HandleEvent relays one inbound signaling event from a connected user. The
// sender identity always comes from the verified connection, never from the
// payload. Unknown events are dropped. A malformed payload is the only error
// surfaced to the caller.
func (s *RelayService) HandleEvent(ctx context.Context, from domain.UserID, env domain.Envelope) error {
	switch env.Event {
	case domain.EventCallRequest:
		var p domain.CallRequest
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return s.forward(ctx, env.Event, p.ReceiverID, domain.EventCallIncoming, domain.CallIncoming{
			CallID:   p.CallID,
			Caller:   p.Caller,
			CallType: p.CallType,
		})

	case domain.EventCallAccept:
		var p domain.CallAccept
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return s.forward(ctx, env.Event, p.CallerID, domain.EventCallAccepted, domain.CallAccepted{
			CallID:   p.CallID,
			Receiver: p.Receiver,
		})

	case domain.EventCallReject:
		var p domain.CallReject
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return s.forward(ctx, env.Event, p.CallerID, domain.EventCallRejected, domain.CallRejected{
			CallID: p.CallID,
		})

	case domain.EventCallOffer:
		var p domain.CallOffer
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return s.forward(ctx, env.Event, p.To, domain.EventCallOffer, domain.CallOffer{
			CallID: p.CallID,
			Offer:  p.Offer,
			From:   from,
		})

	case domain.EventCallAnswer:
		var p domain.CallAnswer
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return s.forward(ctx, env.Event, p.To, domain.EventCallAnswer, domain.CallAnswer{
			CallID: p.CallID,
			Answer: p.Answer,
			From:   from,
		})

	case domain.EventCallICE:
		var p domain.CallICE
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return s.forward(ctx, env.Event, p.To, domain.EventCallICE, domain.CallICE{
			CallID:    p.CallID,
			Candidate: p.Candidate,
			From:      from,
		})

	case domain.EventCallHangup:
		var p domain.CallHangup
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return s.forward(ctx, env.Event, p.To, domain.EventCallHangup, domain.CallHangup{
			CallID: p.CallID,
			From:   from,
		})

	default:
		log.Warn().Str("event", env.Event).Str("from", from.String()).Msg("Dropping unknown signaling event")
		return nil
	}
}

func (s *RelayService) forward(ctx context.Context, inEvent string, to domain.UserID, outEvent string, payload any) error {
	env, err := domain.NewEnvelope(outEvent, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", outEvent, err)
	}

	if err := s.gateway.SendToUser(ctx, to, env); err != nil {
		if errors.Is(err, domain.ErrNotConnected) {
			// Destination offline: drop silently toward the sender.
			log.Debug().Str("event", inEvent).Str("to", to.String()).Msg("Destination not connected, event dropped")
			return nil
		}
		log.Error().Err(err).Str("event", outEvent).Str("to", to.String()).Msg("Failed to deliver signaling event")
		return nil
	}
	return nil
}
