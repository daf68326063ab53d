package repo

import (
	"context"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
)

// HistoryRepo is the conversation history repository interface
type HistoryRepo interface {
	// Append stores a message at the end of its conversation
	Append(ctx context.Context, msg *domain.Message) error

	// MarkDelivered records that a bot message reached the platform
	MarkDelivered(ctx context.Context, conv domain.ConversationKey, msgID string) error

	// Recent returns up to limit newest messages in chronological order
	Recent(ctx context.Context, conv domain.ConversationKey, limit int) ([]domain.Message, error)

	Close() error
}
