package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/serenechat/serene/internal/core/domain"
)

// Manager owns the active call machines on this client and routes inbound
// signaling events to them by call id. Each call is independent; the manager
// itself holds no negotiation state.
type Manager struct {
	sig     Signaler
	factory SessionFactory
	selfID  domain.UserID
	profile domain.Profile

	mu    sync.Mutex
	calls map[domain.CallID]*Machine

	incomingMu sync.RWMutex
	incoming   []func(*IncomingCall)
}

func NewManager(sig Signaler, factory SessionFactory, selfID domain.UserID, displayName string) *Manager {
	return &Manager{
		sig:     sig,
		factory: factory,
		selfID:  selfID,
		profile: domain.Profile{ID: selfID, Name: displayName},
		calls:   make(map[domain.CallID]*Machine),
	}
}

// OnIncoming registers a callback fired for each incoming ring. Multiple
// handlers may be registered.
func (mgr *Manager) OnIncoming(fn func(*IncomingCall)) {
	mgr.incomingMu.Lock()
	mgr.incoming = append(mgr.incoming, fn)
	mgr.incomingMu.Unlock()
}

// Initiate starts an outgoing call and rings the peer.
func (mgr *Manager) Initiate(peerID domain.UserID, callType domain.CallType) (*Machine, error) {
	if !callType.Valid() {
		return nil, fmt.Errorf("invalid call type %q", callType)
	}
	if peerID == "" {
		return nil, fmt.Errorf("missing peer id")
	}

	m := newOutgoingMachine(mgr.sig, mgr.factory, mgr.selfID, mgr.profile, peerID, callType)
	mgr.track(m)

	if err := m.start(); err != nil {
		m.terminate("ring failed")
		return nil, err
	}
	return m, nil
}

// Call returns the machine for a call id, if the call is still alive.
func (mgr *Manager) Call(id domain.CallID) (*Machine, bool) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	m, ok := mgr.calls[id]
	return m, ok
}

// HandleEvent dispatches one event delivered by the signaling transport.
// Events for unknown calls are dropped; the relay gives no stronger
// guarantee than at-most-once anyway.
func (mgr *Manager) HandleEvent(ctx context.Context, env domain.Envelope) {
	switch env.Event {
	case domain.EventCallIncoming:
		var p domain.CallIncoming
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Warn().Err(err).Msg("Malformed call:incoming")
			return
		}
		mgr.handleIncoming(p)

	case domain.EventCallAccepted:
		var p domain.CallAccepted
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if m, ok := mgr.Call(p.CallID); ok {
			if err := m.handleAccepted(ctx); err != nil {
				log.Warn().Err(err).Str("call_id", p.CallID.String()).Msg("Accept handling failed")
			}
		}

	case domain.EventCallRejected:
		var p domain.CallRejected
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if m, ok := mgr.Call(p.CallID); ok {
			m.handleRejected()
		}

	case domain.EventCallOffer:
		var p domain.CallOffer
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if m, ok := mgr.Call(p.CallID); ok {
			if err := m.handleOffer(ctx, p.Offer); err != nil {
				log.Warn().Err(err).Str("call_id", p.CallID.String()).Msg("Offer handling failed")
			}
		}

	case domain.EventCallAnswer:
		var p domain.CallAnswer
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if m, ok := mgr.Call(p.CallID); ok {
			if err := m.handleAnswer(p.Answer); err != nil {
				log.Warn().Err(err).Str("call_id", p.CallID.String()).Msg("Answer handling failed")
			}
		}

	case domain.EventCallICE:
		var p domain.CallICE
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if m, ok := mgr.Call(p.CallID); ok {
			m.handleCandidate(p.Candidate)
		} else {
			log.Debug().Str("call_id", p.CallID.String()).Msg("Candidate for unknown call dropped")
		}

	case domain.EventCallHangup:
		var p domain.CallHangup
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if m, ok := mgr.Call(p.CallID); ok {
			m.handleHangup()
		}

	default:
		// Not a call event; other subsystems consume their own.
	}
}

// HandleTransportFailure ends every active call without signaling: the
// connection to the relay is gone, which each side treats like a remote
// hangup.
func (mgr *Manager) HandleTransportFailure() {
	for _, m := range mgr.snapshot() {
		m.handleTransportFailure()
	}
}

// Close hangs up every active call.
func (mgr *Manager) Close() {
	for _, m := range mgr.snapshot() {
		m.Hangup()
	}
}

func (mgr *Manager) handleIncoming(p domain.CallIncoming) {
	var caller domain.Profile
	if err := json.Unmarshal(p.Caller, &caller); err != nil || caller.ID == "" {
		log.Warn().Err(err).Str("call_id", p.CallID.String()).Msg("call:incoming without usable caller identity")
		return
	}

	mgr.mu.Lock()
	if _, exists := mgr.calls[p.CallID]; exists {
		mgr.mu.Unlock()
		log.Debug().Str("call_id", p.CallID.String()).Msg("Duplicate call:incoming dropped")
		return
	}
	mgr.mu.Unlock()

	m := newIncomingMachine(mgr.sig, mgr.factory, mgr.selfID, mgr.profile, p.CallID, caller.ID, p.CallType)
	mgr.track(m)

	ic := &IncomingCall{
		CallID:   p.CallID,
		Caller:   caller,
		CallType: p.CallType,
		Accept: func(ctx context.Context) (*Machine, error) {
			return m, m.accept(ctx)
		},
		Decline: m.Decline,
	}

	mgr.incomingMu.RLock()
	handlers := make([]func(*IncomingCall), len(mgr.incoming))
	copy(handlers, mgr.incoming)
	mgr.incomingMu.RUnlock()

	for _, fn := range handlers {
		fn(ic)
	}
}

func (mgr *Manager) track(m *Machine) {
	id := m.ID()
	m.mu.Lock()
	m.onTerminated = func() {
		mgr.mu.Lock()
		delete(mgr.calls, id)
		mgr.mu.Unlock()
	}
	m.mu.Unlock()

	mgr.mu.Lock()
	mgr.calls[id] = m
	mgr.mu.Unlock()
}

func (mgr *Manager) snapshot() []*Machine {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	out := make([]*Machine, 0, len(mgr.calls))
	for _, m := range mgr.calls {
		out = append(out, m)
	}
	return out
}
