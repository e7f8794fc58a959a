package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/serenechat/serene/internal/core/domain"
)

type emission struct {
	event   string
	payload any
}

type fakeSignaler struct {
	mu      sync.Mutex
	emitted []emission
}

func (s *fakeSignaler) Emit(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitted = append(s.emitted, emission{event: event, payload: payload})
	return nil
}

func (s *fakeSignaler) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.emitted))
	for i, e := range s.emitted {
		out[i] = e.event
	}
	return out
}

func (s *fakeSignaler) count(event string) int {
	n := 0
	for _, e := range s.events() {
		if e == event {
			n++
		}
	}
	return n
}

func (s *fakeSignaler) last(event string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.emitted) - 1; i >= 0; i-- {
		if s.emitted[i].event == event {
			return s.emitted[i].payload, true
		}
	}
	return nil, false
}

type fakeSession struct {
	mu          sync.Mutex
	offers      int
	answers     int
	remoteDescs []json.RawMessage
	applied     []string
	teardowns   int
	failRemote  bool
	cb          SessionCallbacks
}

func (s *fakeSession) CreateOffer(context.Context) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers++
	return json.RawMessage(`{"type":"offer","sdp":"local"}`), nil
}

func (s *fakeSession) CreateAnswer(context.Context) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers++
	return json.RawMessage(`{"type":"answer","sdp":"local"}`), nil
}

func (s *fakeSession) SetRemoteDescription(desc json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRemote {
		return errors.New("bad description")
	}
	s.remoteDescs = append(s.remoteDescs, desc)
	return nil
}

func (s *fakeSession) AddCandidate(c json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, string(c))
	return nil
}

func (s *fakeSession) SetAudioEnabled(bool) error { return nil }
func (s *fakeSession) SetVideoEnabled(bool) error { return nil }

func (s *fakeSession) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardowns++
}

func (s *fakeSession) appliedCandidates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.applied))
	copy(out, s.applied)
	return out
}

type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
	failWith error
}

func (f *fakeFactory) NewSession(_ context.Context, _ domain.CallType, cb SessionCallbacks) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	s := &fakeSession{cb: cb}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) session(t *testing.T) *fakeSession {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		t.Fatal("no session was created")
	}
	return f.sessions[len(f.sessions)-1]
}

func newCallerMachine(sig *fakeSignaler, factory *fakeFactory) *Machine {
	return newOutgoingMachine(sig, factory, "u1", domain.Profile{ID: "u1", Name: "Ada"}, "u2", domain.CallTypeVideo)
}

func TestCallerRingsOnStart(t *testing.T) {
	sig := &fakeSignaler{}
	m := newCallerMachine(sig, &fakeFactory{})

	if err := m.start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if m.State() != domain.CallOutgoingRinging {
		t.Fatalf("state = %s; want outgoing_ringing", m.State())
	}

	payload, ok := sig.last(domain.EventCallRequest)
	if !ok {
		t.Fatal("call:request was not emitted")
	}
	req := payload.(domain.CallRequest)
	if req.ReceiverID != "u2" || req.CallType != domain.CallTypeVideo || req.CallID == "" {
		t.Fatalf("request = %+v", req)
	}
}

func TestCallerFullHappyPath(t *testing.T) {
	sig := &fakeSignaler{}
	factory := &fakeFactory{}
	m := newCallerMachine(sig, factory)
	ctx := context.Background()

	if err := m.start(); err != nil {
		t.Fatal(err)
	}
	if err := m.handleAccepted(ctx); err != nil {
		t.Fatalf("handleAccepted: %v", err)
	}

	if m.State() != domain.CallNegotiating {
		t.Fatalf("state = %s; want negotiating", m.State())
	}
	sess := factory.session(t)
	if sess.offers != 1 {
		t.Fatalf("offers = %d; want 1", sess.offers)
	}
	if sig.count(domain.EventCallOffer) != 1 {
		t.Fatal("call:offer was not emitted exactly once")
	}

	if err := m.handleAnswer(json.RawMessage(`{"type":"answer","sdp":"remote"}`)); err != nil {
		t.Fatalf("handleAnswer: %v", err)
	}
	if len(sess.remoteDescs) != 1 {
		t.Fatalf("remote descriptions = %d; want 1", len(sess.remoteDescs))
	}

	sess.cb.OnConnected()
	if m.State() != domain.CallConnected {
		t.Fatalf("state = %s; want connected", m.State())
	}
}

// A duplicated call:accepted delivery must not create a second offer.
func TestAtMostOneOffer(t *testing.T) {
	sig := &fakeSignaler{}
	factory := &fakeFactory{}
	m := newCallerMachine(sig, factory)
	ctx := context.Background()

	_ = m.start()
	if err := m.handleAccepted(ctx); err != nil {
		t.Fatal(err)
	}
	// Second accepted: dropped by the state guard.
	if err := m.handleAccepted(ctx); err != nil {
		t.Fatal(err)
	}

	if factory.session(t).offers != 1 {
		t.Fatalf("offers = %d; want 1", factory.session(t).offers)
	}
	if sig.count(domain.EventCallOffer) != 1 {
		t.Fatalf("call:offer emitted %d times; want 1", sig.count(domain.EventCallOffer))
	}
}

// Scenario: the callee rejects before ever accepting. The caller terminates
// without having created an offer.
func TestCallerRejectedBeforeOffer(t *testing.T) {
	sig := &fakeSignaler{}
	factory := &fakeFactory{}
	m := newCallerMachine(sig, factory)

	_ = m.start()
	m.handleRejected()

	if m.State() != domain.CallTerminated {
		t.Fatalf("state = %s; want terminated", m.State())
	}
	if len(factory.sessions) != 0 {
		t.Fatal("no media session should have been acquired")
	}
	if sig.count(domain.EventCallOffer) != 0 {
		t.Fatal("an offer was created for a rejected call")
	}
}

// Scenario: candidates arrive before the remote answer. All are queued, then
// flushed in arrival order exactly once when the answer is applied.
func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	sig := &fakeSignaler{}
	factory := &fakeFactory{}
	m := newCallerMachine(sig, factory)
	ctx := context.Background()

	_ = m.start()
	if err := m.handleAccepted(ctx); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		m.handleCandidate(candidate(i))
	}

	sess := factory.session(t)
	if got := sess.appliedCandidates(); len(got) != 0 {
		t.Fatalf("candidates applied before remote description: %v", got)
	}

	if err := m.handleAnswer(json.RawMessage(`{"type":"answer","sdp":"remote"}`)); err != nil {
		t.Fatal(err)
	}

	got := sess.appliedCandidates()
	if len(got) != 3 {
		t.Fatalf("applied = %v; want all three", got)
	}
	for i, c := range got {
		if c != string(candidate(i)) {
			t.Fatalf("applied[%d] = %s; out of arrival order", i, c)
		}
	}

	// A late candidate goes straight through, still exactly once.
	m.handleCandidate(candidate(3))
	if got := sess.appliedCandidates(); len(got) != 4 {
		t.Fatalf("late candidate not applied: %v", got)
	}
}

func TestTeardownIdempotent(t *testing.T) {
	sig := &fakeSignaler{}
	factory := &fakeFactory{}
	m := newCallerMachine(sig, factory)
	ctx := context.Background()

	_ = m.start()
	_ = m.handleAccepted(ctx)

	m.Hangup()
	m.Hangup()
	m.handleHangup() // remote hangup after local: still a no-op

	if m.State() != domain.CallTerminated {
		t.Fatalf("state = %s", m.State())
	}
	if got := factory.session(t).teardowns; got != 1 {
		t.Fatalf("teardowns = %d; resources were double-released", got)
	}
	if sig.count(domain.EventCallHangup) != 1 {
		t.Fatalf("call:hangup emitted %d times; want 1", sig.count(domain.EventCallHangup))
	}
}

func TestRemoteHangupTerminates(t *testing.T) {
	sig := &fakeSignaler{}
	factory := &fakeFactory{}
	m := newCallerMachine(sig, factory)

	_ = m.start()
	_ = m.handleAccepted(context.Background())
	m.handleHangup()

	if m.State() != domain.CallTerminated {
		t.Fatalf("state = %s", m.State())
	}
	if factory.session(t).teardowns != 1 {
		t.Fatal("media was not released")
	}
	// Remote hangup is not echoed back.
	if sig.count(domain.EventCallHangup) != 0 {
		t.Fatal("hangup was echoed to the peer")
	}
}

func TestTransportFailureTreatedAsHangup(t *testing.T) {
	sig := &fakeSignaler{}
	factory := &fakeFactory{}
	m := newCallerMachine(sig, factory)

	_ = m.start()
	_ = m.handleAccepted(context.Background())

	factory.session(t).cb.OnClosed()

	if m.State() != domain.CallTerminated {
		t.Fatalf("state = %s", m.State())
	}
	if factory.session(t).teardowns != 1 {
		t.Fatal("media was not released on transport failure")
	}
}

func TestMediaFailureAbortsAndNotifiesPeer(t *testing.T) {
	sig := &fakeSignaler{}
	factory := &fakeFactory{failWith: errors.New("permission denied")}
	m := newCallerMachine(sig, factory)

	_ = m.start()
	err := m.handleAccepted(context.Background())
	if !errors.Is(err, domain.ErrMediaUnavailable) {
		t.Fatalf("err = %v; want ErrMediaUnavailable", err)
	}
	if m.State() != domain.CallTerminated {
		t.Fatalf("state = %s; want terminated", m.State())
	}
	if sig.count(domain.EventCallHangup) != 1 {
		t.Fatal("best-effort hangup was not sent")
	}
}

func TestNegotiationFailureAborts(t *testing.T) {
	sig := &fakeSignaler{}
	factory := &fakeFactory{}
	m := newCallerMachine(sig, factory)
	ctx := context.Background()

	_ = m.start()
	_ = m.handleAccepted(ctx)
	factory.session(t).failRemote = true

	err := m.handleAnswer(json.RawMessage(`{"type":"answer","sdp":"broken"}`))
	if !errors.Is(err, domain.ErrNegotiationFailed) {
		t.Fatalf("err = %v; want ErrNegotiationFailed", err)
	}
	if m.State() != domain.CallTerminated {
		t.Fatalf("state = %s", m.State())
	}
}

func TestCandidateAfterTerminationDropped(t *testing.T) {
	sig := &fakeSignaler{}
	factory := &fakeFactory{}
	m := newCallerMachine(sig, factory)
	ctx := context.Background()

	_ = m.start()
	_ = m.handleAccepted(ctx)
	_ = m.handleAnswer(json.RawMessage(`{"type":"answer","sdp":"remote"}`))
	m.Hangup()

	m.handleCandidate(candidate(9))
	if got := factory.session(t).appliedCandidates(); len(got) != 0 {
		t.Fatalf("candidate applied after termination: %v", got)
	}
}

func TestLocalCandidatesSuppressedAfterTermination(t *testing.T) {
	sig := &fakeSignaler{}
	factory := &fakeFactory{}
	m := newCallerMachine(sig, factory)

	_ = m.start()
	_ = m.handleAccepted(context.Background())
	cb := factory.session(t).cb

	m.Hangup()
	before := sig.count(domain.EventCallICE)
	cb.OnCandidate(candidate(0))
	if sig.count(domain.EventCallICE) != before {
		t.Fatal("local candidate emitted after termination")
	}
}

func TestCalleeAnswerFlow(t *testing.T) {
	sig := &fakeSignaler{}
	factory := &fakeFactory{}
	m := newIncomingMachine(sig, factory, "u2", domain.Profile{ID: "u2", Name: "Bea"}, "c-1", "u1", domain.CallTypeAudio)
	ctx := context.Background()

	if m.State() != domain.CallIncomingRinging {
		t.Fatalf("state = %s", m.State())
	}

	if err := m.accept(ctx); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if m.State() != domain.CallNegotiating {
		t.Fatalf("state = %s; want negotiating", m.State())
	}
	payload, ok := sig.last(domain.EventCallAccept)
	if !ok {
		t.Fatal("call:accept was not emitted")
	}
	acc := payload.(domain.CallAccept)
	if acc.CallerID != "u1" || acc.CallID != "c-1" {
		t.Fatalf("accept = %+v", acc)
	}

	if err := m.handleOffer(ctx, json.RawMessage(`{"type":"offer","sdp":"remote"}`)); err != nil {
		t.Fatalf("handleOffer: %v", err)
	}

	sess := factory.session(t)
	if sess.answers != 1 {
		t.Fatalf("answers = %d; want exactly one", sess.answers)
	}
	if sig.count(domain.EventCallAnswer) != 1 {
		t.Fatal("call:answer not emitted exactly once")
	}

	// Duplicate offer delivery must not mint a second answer.
	if err := m.handleOffer(ctx, json.RawMessage(`{"type":"offer","sdp":"remote"}`)); !errors.Is(err, domain.ErrAnswerAlreadyCreated) {
		t.Fatalf("err = %v; want ErrAnswerAlreadyCreated", err)
	}
	if sess.answers != 1 {
		t.Fatalf("answers = %d after duplicate offer", sess.answers)
	}
}

func TestCalleeDecline(t *testing.T) {
	sig := &fakeSignaler{}
	factory := &fakeFactory{}
	m := newIncomingMachine(sig, factory, "u2", domain.Profile{ID: "u2"}, "c-1", "u1", domain.CallTypeVideo)

	m.Decline()

	if m.State() != domain.CallTerminated {
		t.Fatalf("state = %s", m.State())
	}
	payload, ok := sig.last(domain.EventCallReject)
	if !ok {
		t.Fatal("call:reject was not emitted")
	}
	rej := payload.(domain.CallReject)
	if rej.CallID != "c-1" || rej.CallerID != "u1" {
		t.Fatalf("reject = %+v", rej)
	}
	if len(factory.sessions) != 0 {
		t.Fatal("declining must not acquire media")
	}
}

func TestCalleeNeverOffersCallerNeverAnswers(t *testing.T) {
	sig := &fakeSignaler{}
	factory := &fakeFactory{}
	ctx := context.Background()

	callee := newIncomingMachine(sig, factory, "u2", domain.Profile{ID: "u2"}, "c-1", "u1", domain.CallTypeAudio)
	_ = callee.accept(ctx)
	// call:accepted addressed to a callee is a caller-only event: dropped.
	if err := callee.handleAccepted(ctx); err != nil {
		t.Fatal(err)
	}
	if sig.count(domain.EventCallOffer) != 0 {
		t.Fatal("callee produced an offer")
	}

	caller := newCallerMachine(sig, factory)
	_ = caller.start()
	_ = caller.handleAccepted(ctx)
	// call:offer addressed to a caller is a callee-only event: dropped.
	if err := caller.handleOffer(ctx, json.RawMessage(`{"type":"offer","sdp":"x"}`)); err != nil {
		t.Fatal(err)
	}
	if sig.count(domain.EventCallAnswer) != 0 {
		t.Fatal("caller produced an answer")
	}
}

func TestStateObserverSeesTransitions(t *testing.T) {
	sig := &fakeSignaler{}
	factory := &fakeFactory{}
	m := newCallerMachine(sig, factory)

	var seen []string
	m.OnStateChange(func(s domain.CallState) { seen = append(seen, s.String()) })

	_ = m.start()
	_ = m.handleAccepted(context.Background())
	m.Hangup()

	want := []string{"outgoing_ringing", "negotiating", "terminated"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("transitions = %v; want %v", seen, want)
	}
}
