package domain

import (
	"github.com/google/uuid"
)

// UserID is the verified identity of a user. It is minted by the upstream
// identity provider, not by this subsystem, so it stays opaque here.
type UserID string

func (id UserID) String() string {
	return string(id)
}

// ConnectionID is the handle of one live transport session. A handle is bound
// to at most one user and becomes undeliverable once replaced or closed.
type ConnectionID uuid.UUID

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.New())
}

func (id ConnectionID) String() string {
	return uuid.UUID(id).String()
}

// CallID identifies one call attempt end-to-end. Generated by the initiating
// side, never reused.
type CallID string

func NewCallID() CallID {
	return CallID(uuid.New().String())
}

func (id CallID) String() string {
	return string(id)
}

type MessageID uuid.UUID

func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

func (id MessageID) String() string {
	return uuid.UUID(id).String()
}

// MarshalText keeps the canonical uuid form on the wire.
func (id MessageID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *MessageID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = MessageID(u)
	return nil
}
