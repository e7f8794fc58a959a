// Package call drives one participant's side of a two-party call: the
// ringing handshake, offer/answer negotiation, and candidate exchange. It
// talks to the outside world only through the Signaler and SessionFactory
// interfaces, so the signaling transport and the media engine stay pluggable.
package call

import (
	"context"
	"encoding/json"

	"github.com/serenechat/serene/internal/core/domain"
)

// Signaler sends signaling events to the relay server. Delivery is at most
// once; an offline peer simply never hears the event.
type Signaler interface {
	Emit(event string, payload any) error
}

// Session is the local end of one peer media session. Descriptions and
// candidates are opaque JSON blobs; the implementation decides what they
// mean. Teardown must be idempotent.
type Session interface {
	// CreateOffer builds the local offer and applies it as the local
	// description.
	CreateOffer(ctx context.Context) (json.RawMessage, error)

	// CreateAnswer builds the local answer and applies it as the local
	// description. Valid only after SetRemoteDescription.
	CreateAnswer(ctx context.Context) (json.RawMessage, error)

	SetRemoteDescription(desc json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error

	SetAudioEnabled(enabled bool) error
	SetVideoEnabled(enabled bool) error

	Teardown()
}

// SessionCallbacks are fired by a Session as negotiation progresses. All of
// them may be called from the media engine's own goroutines.
type SessionCallbacks struct {
	// OnCandidate fires for each locally gathered negotiation candidate.
	OnCandidate func(candidate json.RawMessage)

	// OnConnected fires once the transport reports the peer link is up.
	OnConnected func()

	// OnClosed fires when the transport fails or closes underneath the call.
	OnClosed func()
}

// SessionFactory acquires local media and builds a peer session for a call.
// Acquisition may block indefinitely on a user permission prompt; a device or
// permission failure surfaces to callers as domain.ErrMediaUnavailable.
type SessionFactory interface {
	NewSession(ctx context.Context, callType domain.CallType, cb SessionCallbacks) (Session, error)
}

// IncomingCall surfaces a ringing call to the embedding application, which
// answers or declines it.
type IncomingCall struct {
	CallID   domain.CallID
	Caller   domain.Profile
	CallType domain.CallType

	Accept  func(ctx context.Context) (*Machine, error)
	Decline func()
}
