package repo

import (
	"context"
	"errors"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
)

// ErrBotNotFound is returned when no bot has the requested id
var ErrBotNotFound = errors.New("bot not found")

// BotRepo is the bot profile repository interface.
// It is the single source of truth for the cross-process flags and the
// pending action slot; every mutation of those is atomic.
type BotRepo interface {
	// Get reads a bot fresh from storage
	Get(ctx context.Context, id int64) (*domain.BotProfile, error)

	// FindByChannel resolves an inbound recipient identifier to a bot.
	// Returns nil, nil when no bot matches.
	FindByChannel(ctx context.Context, ch domain.Channel, identifier string) (*domain.BotProfile, error)

	// List lists all bots
	List(ctx context.Context) ([]*domain.BotProfile, error)

	// Save creates or updates the profile fields. Flags, pending action and
	// learned observations are only changed through the dedicated methods.
	Save(ctx context.Context, bot *domain.BotProfile) error

	// CompareAndSetFlags writes next only if the stored flags equal expected
	CompareAndSetFlags(ctx context.Context, id int64, expected, next domain.Flags) (bool, error)

	// SetPendingAction fills the single slot, returning what it replaced
	SetPendingAction(ctx context.Context, id int64, action *domain.PendingAction) (*domain.PendingAction, error)

	// ClearPendingAction empties the slot only if it still holds expectedID
	ClearPendingAction(ctx context.Context, id int64, expectedID string) (bool, error)

	// AppendObservation adds to the learned observations with set-union semantics
	AppendObservation(ctx context.Context, id int64, observation string) (bool, error)

	// Watch streams the bot every time it changes until ctx is done
	Watch(ctx context.Context, id int64) (<-chan *domain.BotProfile, error)

	Close() error
}
