package domain

import "fmt"

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallRole is which side of the call this participant is on. The caller is
// the only side that may ever produce an offer, the callee the only side that
// may produce an answer.
type CallRole string

const (
	RoleCaller CallRole = "caller"
	RoleCallee CallRole = "callee"
)

type CallState int

const (
	CallIdle CallState = iota
	CallOutgoingRinging
	CallIncomingRinging
	CallNegotiating
	CallConnected
	CallTerminated
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallOutgoingRinging:
		return "outgoing_ringing"
	case CallIncomingRinging:
		return "incoming_ringing"
	case CallNegotiating:
		return "negotiating"
	case CallConnected:
		return "connected"
	case CallTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("call_state(%d)", int(s))
	}
}

// CallRecord is one participant's view of a call. Each side holds its own
// record; the relay never synchronizes them.
type CallRecord struct {
	CallID CallID
	Role   CallRole
	PeerID UserID
	Type   CallType
	State  CallState
}
