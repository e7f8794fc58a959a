package domain

import (
	"errors"
	"time"
)

// Message is a direct chat message pushed to the receiver's live connection
// when it has one. Storage beyond the in-memory repository is owned by the
// surrounding system.
type Message struct {
	ID         MessageID `json:"id"`
	SenderID   UserID    `json:"senderId"`
	ReceiverID UserID    `json:"receiverId"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

func NewMessage(senderID, receiverID UserID, content string) (*Message, error) {
	if content == "" {
		return nil, errors.New("message content cannot be empty")
	}
	if receiverID == "" {
		return nil, errors.New("message receiver cannot be empty")
	}
	return &Message{
		ID:         NewMessageID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
