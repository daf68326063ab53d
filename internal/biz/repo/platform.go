package repo

import (
	"context"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
)

// PlatformRepo delivers customer-facing text to a messaging platform.
// Credentials are read from the bot and forwarded untouched.
type PlatformRepo interface {
	Send(ctx context.Context, bot *domain.BotProfile, conv domain.ConversationKey, text string) error
}

// Notifier surfaces notices to operator-facing surfaces
type Notifier interface {
	Notify(ctx context.Context, n *domain.Notice) error
}
