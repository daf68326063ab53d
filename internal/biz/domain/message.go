package domain

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a message
type Sender string

const (
	SenderCustomer   Sender = "customer"
	SenderBot        Sender = "bot"
	SenderSystemNote Sender = "system-note"
)

// Image is an inline image payload
type Image struct {
	Data     []byte
	MimeType string
}

// Message is one turn of a conversation
type Message struct {
	ID           string
	Conversation ConversationKey
	Sender       Sender
	Text         string
	Image        *Image
	CreatedAt    time.Time
	Delivered    bool // platform send confirmed; only meaningful for bot messages
}

// NewMessage creates a message with a fresh id
func NewMessage(conv ConversationKey, sender Sender, text string, at time.Time) *Message {
	return &Message{
		ID:           uuid.NewString(),
		Conversation: conv,
		Sender:       sender,
		Text:         text,
		CreatedAt:    at,
	}
}

// IsDialogue reports whether the message belongs in LLM history
func (m *Message) IsDialogue() bool {
	return m.Sender == SenderCustomer || m.Sender == SenderBot
}
