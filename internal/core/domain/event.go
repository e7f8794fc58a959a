package domain

import "encoding/json"

// Wire event names. The call:* pairs mirror each other: the left column of
// each pair is what a participant emits, the right column is what its peer
// receives after the relay resolves the destination and attaches the sender.
const (
	EventCallRequest  = "call:request"
	EventCallIncoming = "call:incoming"
	EventCallAccept   = "call:accept"
	EventCallAccepted = "call:accepted"
	EventCallReject   = "call:reject"
	EventCallRejected = "call:rejected"
	EventCallOffer    = "call:offer"
	EventCallAnswer   = "call:answer"
	EventCallICE      = "call:ice"
	EventCallHangup   = "call:hangup"

	EventOnlineUsers = "getOnlineUsers"
	EventNewMessage  = "newMessage"
)

// Envelope is the message frame of the signaling transport: a named event
// plus a JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// Profile is the public identity blob attached to call:request and
// call:accept so the other side can render who is calling. The relay treats
// it as opaque; only the client endpoints decode it.
type Profile struct {
	ID   UserID `json:"_id"`
	Name string `json:"name,omitempty"`
}

// CallRequest is emitted by the caller to start a call attempt.
type CallRequest struct {
	ReceiverID UserID          `json:"receiverId"`
	CallType   CallType        `json:"callType"`
	CallID     CallID          `json:"callId"`
	Caller     json.RawMessage `json:"caller"`
}

// CallIncoming is what the callee receives for a CallRequest.
type CallIncoming struct {
	CallID   CallID          `json:"callId"`
	Caller   json.RawMessage `json:"caller"`
	CallType CallType        `json:"callType"`
}

type CallAccept struct {
	CallID   CallID          `json:"callId"`
	CallerID UserID          `json:"callerId"`
	Receiver json.RawMessage `json:"receiver,omitempty"`
}

type CallAccepted struct {
	CallID   CallID          `json:"callId"`
	Receiver json.RawMessage `json:"receiver,omitempty"`
}

type CallReject struct {
	CallID   CallID `json:"callId"`
	CallerID UserID `json:"callerId"`
}

type CallRejected struct {
	CallID CallID `json:"callId"`
}

// CallOffer carries a session description. The blob is opaque to the relay;
// From is filled in by the relay on delivery, never trusted from the sender.
type CallOffer struct {
	CallID CallID          `json:"callId"`
	To     UserID          `json:"to,omitempty"`
	Offer  json.RawMessage `json:"offer"`
	From   UserID          `json:"from,omitempty"`
}

type CallAnswer struct {
	CallID CallID          `json:"callId"`
	To     UserID          `json:"to,omitempty"`
	Answer json.RawMessage `json:"answer"`
	From   UserID          `json:"from,omitempty"`
}

// CallICE carries one negotiation candidate. Candidates for the same call
// must reach the peer in the order they were sent.
type CallICE struct {
	CallID    CallID          `json:"callId"`
	To        UserID          `json:"to,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
	From      UserID          `json:"from,omitempty"`
}

type CallHangup struct {
	CallID CallID `json:"callId"`
	To     UserID `json:"to,omitempty"`
	From   UserID `json:"from,omitempty"`
}
