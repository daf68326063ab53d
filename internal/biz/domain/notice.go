package domain

import "time"

// NoticeKind classifies an operator-facing notice
type NoticeKind string

const (
	NoticeHandoff            NoticeKind = "handoff"    // hot lead handed to the owner
	NoticeOpenPanel          NoticeKind = "open_panel" // operator input needed
	NoticeSystemNote         NoticeKind = "system_note"
	NoticeLearned            NoticeKind = "learned"
	NoticeState              NoticeKind = "state"
	NoticePendingOverwritten NoticeKind = "pending_overwritten"
	NoticeMessage            NoticeKind = "message" // a conversation message was recorded
)

// Notice is one event pushed to operator surfaces
type Notice struct {
	BotID        int64           `json:"bot_id"`
	Kind         NoticeKind      `json:"kind"`
	Conversation ConversationKey `json:"conversation"`
	Sender       Sender          `json:"sender,omitempty"`
	Text         string          `json:"text,omitempty"`
	Action       *PendingAction  `json:"action,omitempty"`
	Flags        *Flags          `json:"flags,omitempty"`
	At           time.Time       `json:"at"`
}
