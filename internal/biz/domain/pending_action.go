package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActionType is the escalation category of a pending action
type ActionType string

const (
	ActionHotLead         ActionType = "HOT_LEAD"
	ActionDiscountRequest ActionType = "DISCOUNT_REQUEST"
	ActionUnknownQuery    ActionType = "UNKNOWN_QUERY"
)

// PendingAction is the single outstanding escalation of a bot
type PendingAction struct {
	ID           string          `json:"id"`
	Type         ActionType      `json:"type"`
	UserMessage  string          `json:"user_message"`
	CreatedAt    time.Time       `json:"created_at"`
	Conversation ConversationKey `json:"conversation"`
}

// Default triggering text per type, used when the batch carried no text
var defaultUserMessage = map[ActionType]string{
	ActionHotLead:         "اتمام شراء",
	ActionDiscountRequest: "صورة",
	ActionUnknownQuery:    "استفسار",
}

// NewPendingAction builds a pending action for the given escalation
func NewPendingAction(t ActionType, userMessage string, conv ConversationKey, now time.Time) *PendingAction {
	if userMessage == "" {
		userMessage = defaultUserMessage[t]
	}
	return &PendingAction{
		ID:           uuid.NewString(),
		Type:         t,
		UserMessage:  userMessage,
		CreatedAt:    now,
		Conversation: conv,
	}
}

// Valid reports whether the type is one of the known escalations
func (t ActionType) Valid() bool {
	_, ok := defaultUserMessage[t]
	return ok
}
