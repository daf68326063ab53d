package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
)

// ErrNoPendingAction is returned when there is nothing to answer or dismiss
var ErrNoPendingAction = errors.New("no pending action")

// ActionUsecase is the escalation state machine: idle <-> awaiting-owner.
// The pending action slot lives in BotRepo so every process sees it.
type ActionUsecase struct {
	botRepo    repo.BotRepo
	composer   *Composer
	generator  *Generator
	dispatcher *Dispatcher
	contexts   *ContextStore
	logger     *zap.Logger
	now        func() time.Time
}

// NewActionUsecase creates a new action usecase
func NewActionUsecase(
	botRepo repo.BotRepo,
	composer *Composer,
	generator *Generator,
	dispatcher *Dispatcher,
	contexts *ContextStore,
	logger *zap.Logger,
) *ActionUsecase {
	return &ActionUsecase{
		botRepo:    botRepo,
		composer:   composer,
		generator:  generator,
		dispatcher: dispatcher,
		contexts:   contexts,
		logger:     logger,
		now:        time.Now,
	}
}

// Current returns the live pending action of a bot, or nil
func (uc *ActionUsecase) Current(ctx context.Context, botID int64) (*domain.PendingAction, error) {
	bot, err := uc.botRepo.Get(ctx, botID)
	if err != nil {
		return nil, err
	}
	return bot.PendingAction, nil
}

// Escalate moves the bot to awaiting-owner. A live action is overwritten.
func (uc *ActionUsecase) Escalate(ctx context.Context, bot *domain.BotProfile, conv domain.ConversationKey, tag domain.ActionType, userMessage string) (*domain.PendingAction, error) {
	action := domain.NewPendingAction(tag, userMessage, conv, uc.now())
	prev, err := uc.botRepo.SetPendingAction(ctx, bot.ID, action)
	if err != nil {
		return nil, fmt.Errorf("failed to persist pending action: %w", err)
	}
	if prev != nil {
		uc.logger.Warn("pending action overwritten",
			zap.Int64("bot_id", bot.ID),
			zap.String("previous_id", prev.ID),
			zap.String("previous_type", string(prev.Type)))
		uc.dispatcher.Notify(ctx, &domain.Notice{
			BotID:        bot.ID,
			Kind:         domain.NoticePendingOverwritten,
			Conversation: prev.Conversation,
			Action:       prev,
		})
	}

	cfg := uc.composer.Config()
	switch tag {
	case domain.ActionHotLead:
		uc.dispatcher.Notify(ctx, &domain.Notice{
			BotID:        bot.ID,
			Kind:         domain.NoticeHandoff,
			Conversation: conv,
			Text:         cfg.NoteHandoff,
			Action:       action,
		})
	case domain.ActionDiscountRequest:
		uc.openPanel(ctx, bot.ID, conv, action, cfg.NoteDiscount)
	case domain.ActionUnknownQuery:
		uc.openPanel(ctx, bot.ID, conv, action, cfg.NoteUnknown)
	}

	uc.logger.Info("escalated",
		zap.Int64("bot_id", bot.ID),
		zap.String("conversation", conv.String()),
		zap.String("type", string(tag)),
		zap.String("action_id", action.ID))
	return action, nil
}

func (uc *ActionUsecase) openPanel(ctx context.Context, botID int64, conv domain.ConversationKey, action *domain.PendingAction, note string) {
	uc.dispatcher.Notify(ctx, &domain.Notice{
		BotID:        botID,
		Kind:         domain.NoticeOpenPanel,
		Conversation: conv,
		Text:         note,
		Action:       action,
	})
	uc.dispatcher.SystemNote(ctx, botID, conv, note)
}

// Resolve answers the live pending action with the owner's instruction and
// bridges it back to the customer through one more model call.
func (uc *ActionUsecase) Resolve(ctx context.Context, botID int64, instruction string) error {
	bot, err := uc.botRepo.Get(ctx, botID)
	if err != nil {
		return err
	}
	action := bot.PendingAction
	if action == nil {
		return ErrNoPendingAction
	}

	cleared, err := uc.botRepo.ClearPendingAction(ctx, botID, action.ID)
	if err != nil {
		return fmt.Errorf("failed to clear pending action: %w", err)
	}
	if !cleared {
		// answered elsewhere or replaced since we read it
		return ErrNoPendingAction
	}

	cfg := uc.composer.Config()
	conv := action.Conversation
	note := domain.DecisionNote(action.UserMessage, instruction)
	if _, err := uc.botRepo.AppendObservation(ctx, botID, note); err != nil {
		uc.logger.Error("failed to store decision note", zap.Int64("bot_id", botID), zap.Error(err))
	}
	uc.dispatcher.SystemNote(ctx, botID, conv, uc.composer.Note(cfg.NoteDirectiveSaved, "{{instruction}}", instruction))

	obs, _ := domain.AppendObservation(append([]string(nil), bot.LearnedObservations...), note)
	effective := bot.WithObservations(obs)
	effective.PendingAction = nil

	system := uc.composer.Compose(effective, uc.contexts.Get(botID), nil, -1)
	bridge := uc.composer.BridgeInstruction(action, bot.BotName, instruction)

	text, fallback := uc.generator.Reply(ctx, conv, bot.Language, system, bridge, nil, time.Time{})
	parts := SplitParts(text)
	if fallback {
		parts = []string{text}
	}
	if len(parts) == 0 {
		uc.logger.Info("bridge produced no reply", zap.Int64("bot_id", botID))
		return nil
	}

	if _, err := uc.dispatcher.Deliver(ctx, effective, conv, parts, BridgePacing); err != nil {
		return fmt.Errorf("failed to deliver bridge reply: %w", err)
	}
	uc.logger.Info("pending action resolved",
		zap.Int64("bot_id", botID),
		zap.String("action_id", action.ID),
		zap.Int("parts", len(parts)))
	return nil
}

// Dismiss clears the live pending action without answering it
func (uc *ActionUsecase) Dismiss(ctx context.Context, botID int64) (*domain.PendingAction, error) {
	bot, err := uc.botRepo.Get(ctx, botID)
	if err != nil {
		return nil, err
	}
	if bot.PendingAction == nil {
		return nil, ErrNoPendingAction
	}
	cleared, err := uc.botRepo.ClearPendingAction(ctx, botID, bot.PendingAction.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to clear pending action: %w", err)
	}
	if !cleared {
		return nil, ErrNoPendingAction
	}
	uc.logger.Info("pending action dismissed", zap.Int64("bot_id", botID), zap.String("action_id", bot.PendingAction.ID))
	return bot.PendingAction, nil
}
