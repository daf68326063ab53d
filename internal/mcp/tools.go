package mcp

import (
	"github.com/rawbot-ai/rawbot/internal/api"
	"github.com/rawbot-ai/rawbot/internal/biz/domain"
)

// Tool names
const (
	ToolGetBotState          = "rawbot_get_bot_state"
	ToolSetMode              = "rawbot_set_mode"
	ToolAnswerPendingAction  = "rawbot_answer_pending_action"
	ToolDismissPendingAction = "rawbot_dismiss_pending_action"
	ToolAddObservation       = "rawbot_add_observation"
	ToolGetConversation      = "rawbot_get_conversation"
)

// BotInput selects a bot
type BotInput struct {
	BotID int64 `json:"bot_id" jsonschema:"numeric id of the bot"`
}

// BotStateOutput is the bot's operator view
type BotStateOutput struct {
	Bot   *api.BotState `json:"bot,omitempty"`
	Error string        `json:"error,omitempty"`
}

// SetModeInput changes operational flags
type SetModeInput struct {
	BotID       int64 `json:"bot_id" jsonschema:"numeric id of the bot"`
	IsActive    *bool `json:"is_active,omitempty" jsonschema:"false stops every automatic reply"`
	IsListening *bool `json:"is_listening,omitempty" jsonschema:"true records messages without replying"`
}

// SetModeOutput reports the flags after the change
type SetModeOutput struct {
	IsActive    bool   `json:"is_active"`
	IsListening bool   `json:"is_listening"`
	Error       string `json:"error,omitempty"`
}

// AnswerInput answers the live pending action
type AnswerInput struct {
	BotID       int64  `json:"bot_id" jsonschema:"numeric id of the bot"`
	Instruction string `json:"instruction" jsonschema:"the owner's decision, relayed to the customer in the bot's voice"`
}

// DismissOutput reports the dismissed action
type DismissOutput struct {
	Dismissed *domain.PendingAction `json:"dismissed,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// ObservationInput adds a standing fact
type ObservationInput struct {
	BotID int64  `json:"bot_id" jsonschema:"numeric id of the bot"`
	Text  string `json:"text" jsonschema:"the fact the bot should remember"`
}

// ObservationOutput reports whether the fact was new
type ObservationOutput struct {
	Added bool   `json:"added"`
	Error string `json:"error,omitempty"`
}

// ConversationInput selects a conversation
type ConversationInput struct {
	BotID      int64  `json:"bot_id" jsonschema:"numeric id of the bot"`
	Channel    string `json:"channel" jsonschema:"instagram, whatsapp or console"`
	CustomerID string `json:"customer_id" jsonschema:"platform id of the customer"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of messages (default 20)"`
}

// ConversationOutput contains recent messages, oldest first
type ConversationOutput struct {
	Messages []api.MessageView `json:"messages"`
	Error    string            `json:"error,omitempty"`
}

// SuccessOutput is the result of a plain mutation
type SuccessOutput struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
