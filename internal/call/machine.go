package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/serenechat/serene/internal/core/domain"
)

// Machine is one participant's state machine for one call:
//
//	Idle → OutgoingRinging | IncomingRinging → Negotiating → Connected → Terminated
//
// Terminated is absorbing: teardown from there is a no-op, and the result of
// any operation still in flight when it is reached is discarded. At most one
// offer and one answer are ever produced; the caller never answers and the
// callee never offers.
type Machine struct {
	sig     Signaler
	factory SessionFactory
	selfID  domain.UserID
	profile domain.Profile

	mu            sync.Mutex
	rec           domain.CallRecord
	session       Session
	offerCreated  bool
	answerCreated bool

	// acquireMu serializes media acquisition so a racing accept and offer
	// cannot build two sessions.
	acquireMu sync.Mutex

	queue *candidateQueue

	// onState, if set, observes every transition. Fired outside the lock.
	onState func(domain.CallState)

	// onTerminated lets the owning Manager drop its reference.
	onTerminated func()
}

func newOutgoingMachine(sig Signaler, factory SessionFactory, selfID domain.UserID, profile domain.Profile, peerID domain.UserID, callType domain.CallType) *Machine {
	return &Machine{
		sig:     sig,
		factory: factory,
		selfID:  selfID,
		profile: profile,
		rec: domain.CallRecord{
			CallID: domain.NewCallID(),
			Role:   domain.RoleCaller,
			PeerID: peerID,
			Type:   callType,
			State:  domain.CallIdle,
		},
		queue: &candidateQueue{},
	}
}

func newIncomingMachine(sig Signaler, factory SessionFactory, selfID domain.UserID, profile domain.Profile, callID domain.CallID, callerID domain.UserID, callType domain.CallType) *Machine {
	return &Machine{
		sig:     sig,
		factory: factory,
		selfID:  selfID,
		profile: profile,
		rec: domain.CallRecord{
			CallID: callID,
			Role:   domain.RoleCallee,
			PeerID: callerID,
			Type:   callType,
			State:  domain.CallIncomingRinging,
		},
		queue: &candidateQueue{},
	}
}

func (m *Machine) ID() domain.CallID { return m.rec.CallID }

func (m *Machine) PeerID() domain.UserID { return m.rec.PeerID }

func (m *Machine) State() domain.CallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.State
}

// Record returns a copy of this side's call record.
func (m *Machine) Record() domain.CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec
}

// OnStateChange registers a transition observer. Must be set before the
// machine starts processing events.
func (m *Machine) OnStateChange(fn func(domain.CallState)) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

// start sends the ring to the callee. Caller side only.
func (m *Machine) start() error {
	caller, err := json.Marshal(m.profile)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.rec.State != domain.CallIdle {
		m.mu.Unlock()
		return nil
	}
	notify := m.transitionLocked(domain.CallOutgoingRinging)
	m.mu.Unlock()
	notify()

	return m.sig.Emit(domain.EventCallRequest, domain.CallRequest{
		ReceiverID: m.rec.PeerID,
		CallType:   m.rec.Type,
		CallID:     m.rec.CallID,
		Caller:     caller,
	})
}

// accept answers an incoming ring: tell the caller, then acquire media and
// build the peer session. Callee side only.
func (m *Machine) accept(ctx context.Context) error {
	receiver, err := json.Marshal(m.profile)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.rec.State != domain.CallIncomingRinging {
		state := m.rec.State
		m.mu.Unlock()
		return fmt.Errorf("accept in state %s", state)
	}
	notify := m.transitionLocked(domain.CallNegotiating)
	m.mu.Unlock()
	notify()

	if err := m.sig.Emit(domain.EventCallAccept, domain.CallAccept{
		CallID:   m.rec.CallID,
		CallerID: m.rec.PeerID,
		Receiver: receiver,
	}); err != nil {
		log.Warn().Err(err).Str("call_id", m.rec.CallID.String()).Msg("Failed to emit call:accept")
	}

	_, err = m.ensureSession(ctx)
	return err
}

// Decline rejects an incoming ring. Callee side only.
func (m *Machine) Decline() {
	m.mu.Lock()
	if m.rec.State != domain.CallIncomingRinging {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.sig.Emit(domain.EventCallReject, domain.CallReject{
		CallID:   m.rec.CallID,
		CallerID: m.rec.PeerID,
	}); err != nil {
		log.Warn().Err(err).Str("call_id", m.rec.CallID.String()).Msg("Failed to emit call:reject")
	}
	m.terminate("declined")
}

// Hangup ends the call from any state, telling the peer when one is known.
// Safe to call repeatedly; also covers cancelling an unanswered outgoing
// ring.
func (m *Machine) Hangup() {
	m.mu.Lock()
	if m.rec.State == domain.CallTerminated {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.sig.Emit(domain.EventCallHangup, domain.CallHangup{
		CallID: m.rec.CallID,
		To:     m.rec.PeerID,
	}); err != nil {
		log.Warn().Err(err).Str("call_id", m.rec.CallID.String()).Msg("Failed to emit call:hangup")
	}
	m.terminate("local hangup")
}

// SetAudioEnabled toggles the local microphone.
func (m *Machine) SetAudioEnabled(enabled bool) error {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return domain.ErrMediaUnavailable
	}
	return sess.SetAudioEnabled(enabled)
}

// SetVideoEnabled toggles the local camera.
func (m *Machine) SetVideoEnabled(enabled bool) error {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return domain.ErrMediaUnavailable
	}
	return sess.SetVideoEnabled(enabled)
}

// handleAccepted reacts to the callee picking up: acquire media, create the
// one local offer, send it. Caller side only.
func (m *Machine) handleAccepted(ctx context.Context) error {
	m.mu.Lock()
	if m.rec.Role != domain.RoleCaller || m.rec.State != domain.CallOutgoingRinging {
		m.mu.Unlock()
		return nil
	}
	notify := m.transitionLocked(domain.CallNegotiating)
	m.mu.Unlock()
	notify()

	sess, err := m.ensureSession(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.rec.State == domain.CallTerminated {
		m.mu.Unlock()
		return domain.ErrCallTerminated
	}
	if m.offerCreated {
		m.mu.Unlock()
		return domain.ErrOfferAlreadyCreated
	}
	m.offerCreated = true
	m.mu.Unlock()

	offer, err := sess.CreateOffer(ctx)
	if err != nil {
		m.abort(fmt.Errorf("%w: %w", domain.ErrNegotiationFailed, err))
		return fmt.Errorf("%w: %w", domain.ErrNegotiationFailed, err)
	}

	if m.State() == domain.CallTerminated {
		return domain.ErrCallTerminated
	}

	return m.sig.Emit(domain.EventCallOffer, domain.CallOffer{
		CallID: m.rec.CallID,
		To:     m.rec.PeerID,
		Offer:  offer,
	})
}

// handleRejected reacts to the callee declining. Caller side only.
func (m *Machine) handleRejected() {
	m.mu.Lock()
	if m.rec.Role != domain.RoleCaller {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.terminate("rejected by peer")
}

// handleOffer applies the caller's offer and produces the one local answer.
// Callee side only.
func (m *Machine) handleOffer(ctx context.Context, offer json.RawMessage) error {
	m.mu.Lock()
	if m.rec.Role != domain.RoleCallee || m.rec.State != domain.CallNegotiating {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	// The offer may overtake our own media acquisition; ensureSession blocks
	// until a session exists either way. The caller's candidates keep
	// queueing meanwhile.
	sess, err := m.ensureSession(ctx)
	if err != nil {
		return err
	}

	if err := m.applyRemote(sess, offer); err != nil {
		return err
	}

	m.mu.Lock()
	if m.rec.State == domain.CallTerminated {
		m.mu.Unlock()
		return domain.ErrCallTerminated
	}
	if m.answerCreated {
		m.mu.Unlock()
		return domain.ErrAnswerAlreadyCreated
	}
	m.answerCreated = true
	m.mu.Unlock()

	answer, err := sess.CreateAnswer(ctx)
	if err != nil {
		m.abort(fmt.Errorf("%w: %w", domain.ErrNegotiationFailed, err))
		return fmt.Errorf("%w: %w", domain.ErrNegotiationFailed, err)
	}

	if m.State() == domain.CallTerminated {
		return domain.ErrCallTerminated
	}

	return m.sig.Emit(domain.EventCallAnswer, domain.CallAnswer{
		CallID: m.rec.CallID,
		To:     m.rec.PeerID,
		Answer: answer,
	})
}

// handleAnswer applies the callee's answer. Caller side only.
func (m *Machine) handleAnswer(answer json.RawMessage) error {
	m.mu.Lock()
	if m.rec.Role != domain.RoleCaller || m.rec.State != domain.CallNegotiating {
		m.mu.Unlock()
		return nil
	}
	sess := m.session
	m.mu.Unlock()

	if sess == nil {
		return domain.ErrNegotiationFailed
	}
	return m.applyRemote(sess, answer)
}

// handleCandidate buffers or applies one remote candidate. Valid in any
// non-terminal state; everything goes through the queue.
func (m *Machine) handleCandidate(candidate json.RawMessage) {
	m.mu.Lock()
	terminated := m.rec.State == domain.CallTerminated
	m.mu.Unlock()
	if terminated {
		return
	}
	m.queue.Push(candidate)
}

// handleHangup reacts to the peer ending the call. Transport failure is
// routed here as well; the two are indistinguishable by design.
func (m *Machine) handleHangup() {
	m.terminate("remote hangup")
}

// handleTransportFailure terminates without signaling anyone: the transport
// is gone.
func (m *Machine) handleTransportFailure() {
	m.terminate("transport failure")
}

// ensureSession returns the peer session, acquiring local media and building
// it on first use. Safe against a racing accept/offer pair; termination while
// acquisition was in flight tears the fresh session straight down.
func (m *Machine) ensureSession(ctx context.Context) (Session, error) {
	m.acquireMu.Lock()
	defer m.acquireMu.Unlock()

	m.mu.Lock()
	if m.rec.State == domain.CallTerminated {
		m.mu.Unlock()
		return nil, domain.ErrCallTerminated
	}
	if sess := m.session; sess != nil {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	sess, err := m.factory.NewSession(ctx, m.rec.Type, SessionCallbacks{
		OnCandidate: m.emitLocalCandidate,
		OnConnected: m.handleTransportConnected,
		OnClosed:    m.handleTransportFailure,
	})
	if err != nil {
		wrapped := fmt.Errorf("%w: %w", domain.ErrMediaUnavailable, err)
		m.abort(wrapped)
		return nil, wrapped
	}

	m.mu.Lock()
	if m.rec.State == domain.CallTerminated {
		m.mu.Unlock()
		sess.Teardown()
		return nil, domain.ErrCallTerminated
	}
	m.session = sess
	m.mu.Unlock()
	return sess, nil
}

// applyRemote sets the remote description and releases the candidate queue.
// The flush is keyed here because "session exists and a remote description
// is being applied" is exactly the readiness condition for candidates.
func (m *Machine) applyRemote(sess Session, desc json.RawMessage) error {
	if err := sess.SetRemoteDescription(desc); err != nil {
		wrapped := fmt.Errorf("%w: %w", domain.ErrNegotiationFailed, err)
		m.abort(wrapped)
		return wrapped
	}
	m.queue.Flush(sess.AddCandidate)
	return nil
}

func (m *Machine) emitLocalCandidate(candidate json.RawMessage) {
	if m.State() == domain.CallTerminated {
		return
	}
	if err := m.sig.Emit(domain.EventCallICE, domain.CallICE{
		CallID:    m.rec.CallID,
		To:        m.rec.PeerID,
		Candidate: candidate,
	}); err != nil {
		log.Warn().Err(err).Str("call_id", m.rec.CallID.String()).Msg("Failed to emit local candidate")
	}
}

func (m *Machine) handleTransportConnected() {
	m.mu.Lock()
	if m.rec.State == domain.CallTerminated || m.rec.State == domain.CallConnected {
		m.mu.Unlock()
		return
	}
	notify := m.transitionLocked(domain.CallConnected)
	m.mu.Unlock()
	notify()
}

// abort ends the call on a local failure, telling the peer best effort.
func (m *Machine) abort(cause error) {
	m.mu.Lock()
	alreadyDone := m.rec.State == domain.CallTerminated
	m.mu.Unlock()
	if alreadyDone {
		return
	}

	log.Error().Err(cause).Str("call_id", m.rec.CallID.String()).Msg("Aborting call")
	if err := m.sig.Emit(domain.EventCallHangup, domain.CallHangup{
		CallID: m.rec.CallID,
		To:     m.rec.PeerID,
	}); err != nil {
		log.Debug().Err(err).Str("call_id", m.rec.CallID.String()).Msg("Best-effort hangup not delivered")
	}
	m.terminate("aborted")
}

// terminate drives the machine to its terminal state and releases resources.
// Converges to the same outcome no matter how many paths reach it.
func (m *Machine) terminate(reason string) {
	m.mu.Lock()
	if m.rec.State == domain.CallTerminated {
		m.mu.Unlock()
		return
	}
	notify := m.transitionLocked(domain.CallTerminated)
	sess := m.session
	onTerminated := m.onTerminated
	m.mu.Unlock()

	m.queue.Discard()
	if sess != nil {
		sess.Teardown()
	}
	notify()
	if onTerminated != nil {
		onTerminated()
	}

	log.Info().Str("call_id", m.rec.CallID.String()).Str("reason", reason).Msg("Call terminated")
}

// transitionLocked changes state and returns the observer notification to
// run after the lock is released.
func (m *Machine) transitionLocked(to domain.CallState) func() {
	m.rec.State = to
	fn := m.onState
	if fn == nil {
		return func() {}
	}
	return func() { fn(to) }
}
