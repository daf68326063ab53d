package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
)

// CAS retries before giving up on a contended flag update
const maxFlagAttempts = 5

// BotUsecase handles bot profile management for operator surfaces
type BotUsecase struct {
	botRepo    repo.BotRepo
	dispatcher *Dispatcher
	contexts   *ContextStore
	logger     *zap.Logger
	now        func() time.Time
}

// NewBotUsecase creates a new bot usecase
func NewBotUsecase(botRepo repo.BotRepo, dispatcher *Dispatcher, contexts *ContextStore, logger *zap.Logger) *BotUsecase {
	return &BotUsecase{
		botRepo:    botRepo,
		dispatcher: dispatcher,
		contexts:   contexts,
		logger:     logger,
		now:        time.Now,
	}
}

// Get reads a bot
func (uc *BotUsecase) Get(ctx context.Context, id int64) (*domain.BotProfile, error) {
	return uc.botRepo.Get(ctx, id)
}

// List lists all bots
func (uc *BotUsecase) List(ctx context.Context) ([]*domain.BotProfile, error) {
	return uc.botRepo.List(ctx)
}

// Create stores a new bot with a generated license key
func (uc *BotUsecase) Create(ctx context.Context, bot *domain.BotProfile) error {
	if strings.TrimSpace(bot.BotName) == "" {
		return fmt.Errorf("bot name is required")
	}
	if bot.Language == "" {
		bot.Language = domain.LanguageArabic
	}
	if bot.License.Key == "" {
		key, err := domain.GenerateLicenseKey()
		if err != nil {
			return fmt.Errorf("failed to generate license key: %w", err)
		}
		bot.License.Key = key
	}
	bot.UpdatedAt = uc.now()
	return uc.botRepo.Save(ctx, bot)
}

// SetMode changes the operational flags; nil leaves a flag unchanged
func (uc *BotUsecase) SetMode(ctx context.Context, id int64, active, listening *bool) (domain.Flags, error) {
	for attempt := 0; attempt < maxFlagAttempts; attempt++ {
		bot, err := uc.botRepo.Get(ctx, id)
		if err != nil {
			return domain.Flags{}, err
		}
		current := bot.Flags()
		next := current
		if active != nil {
			next.IsActive = *active
		}
		if listening != nil {
			next.IsListening = *listening
		}
		if next == current {
			return current, nil
		}

		ok, err := uc.botRepo.CompareAndSetFlags(ctx, id, current, next)
		if err != nil {
			return domain.Flags{}, err
		}
		if ok {
			uc.logger.Info("bot mode changed",
				zap.Int64("bot_id", id),
				zap.Bool("active", next.IsActive),
				zap.Bool("listening", next.IsListening))
			uc.dispatcher.Notify(ctx, &domain.Notice{BotID: id, Kind: domain.NoticeState, Flags: &next})
			return next, nil
		}
	}
	return domain.Flags{}, fmt.Errorf("failed to update flags for bot %d: contended", id)
}

// AddObservation records a standing fact for a bot
func (uc *BotUsecase) AddObservation(ctx context.Context, id int64, observation string) (bool, error) {
	observation = strings.TrimSpace(observation)
	if observation == "" {
		return false, fmt.Errorf("observation is empty")
	}
	return uc.botRepo.AppendObservation(ctx, id, observation)
}

// LiveContext returns the operator's just-in-time context for a bot
func (uc *BotUsecase) LiveContext(id int64) string {
	return uc.contexts.Get(id)
}

// ActivateLicense marks a bot's license active for the given duration
func (uc *BotUsecase) ActivateLicense(ctx context.Context, id int64, key string, validFor time.Duration) (*domain.BotProfile, error) {
	bot, err := uc.botRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.ValidLicenseKey(key) || key != bot.License.Key {
		return nil, fmt.Errorf("invalid license key")
	}
	now := uc.now()
	bot.License.Activated = true
	bot.License.ActivationDate = now
	if validFor > 0 {
		bot.License.ExpiresAt = now.Add(validFor)
	}
	bot.UpdatedAt = now
	if err := uc.botRepo.Save(ctx, bot); err != nil {
		return nil, err
	}
	return bot, nil
}
