package domain

import "errors"

var (
	// ErrNotConnected means the destination user has no live connection.
	// The relay swallows it: delivery is at-most-once and never acknowledged.
	ErrNotConnected = errors.New("user not connected")

	// ErrMediaUnavailable means local media could not be acquired
	// (device missing or permission denied). Surfaced to the local user only.
	ErrMediaUnavailable = errors.New("local media unavailable")

	// ErrNegotiationFailed means a session description was malformed or
	// rejected by the media layer.
	ErrNegotiationFailed = errors.New("negotiation failed")

	// ErrCallTerminated means the call reached its terminal state while an
	// operation was in flight; the operation's result was discarded.
	ErrCallTerminated = errors.New("call terminated")

	ErrOfferAlreadyCreated  = errors.New("offer already created for call")
	ErrAnswerAlreadyCreated = errors.New("answer already created for call")
)
