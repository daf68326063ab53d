package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
)

// ConversationUsecase turns a drained batch into customer-facing output
type ConversationUsecase struct {
	botRepo    repo.BotRepo
	composer   *Composer
	generator  *Generator
	dispatcher *Dispatcher
	actions    *ActionUsecase
	contexts   *ContextStore
	logger     *zap.Logger
	now        func() time.Time
}

// NewConversationUsecase creates a new conversation usecase
func NewConversationUsecase(
	botRepo repo.BotRepo,
	composer *Composer,
	generator *Generator,
	dispatcher *Dispatcher,
	actions *ActionUsecase,
	contexts *ContextStore,
	logger *zap.Logger,
) *ConversationUsecase {
	return &ConversationUsecase{
		botRepo:    botRepo,
		composer:   composer,
		generator:  generator,
		dispatcher: dispatcher,
		actions:    actions,
		contexts:   contexts,
		logger:     logger,
		now:        time.Now,
	}
}

// Respond answers one batch. Listening or inactive bots stay silent.
func (uc *ConversationUsecase) Respond(ctx context.Context, batch *domain.Batch) error {
	if batch == nil || batch.Empty() {
		return nil
	}
	key := batch.Key
	log := uc.logger.With(zap.Int64("bot_id", key.BotID), zap.String("conversation", key.String()))

	// flags are read at flush time, never from schedule time
	bot, err := uc.botRepo.Get(ctx, key.BotID)
	if err != nil {
		return err
	}
	if !bot.CanAutoReply() {
		log.Debug("batch discarded", zap.Bool("active", bot.IsActive), zap.Bool("listening", bot.IsListening))
		return nil
	}

	cfg := uc.composer.Config()
	hours := domain.HoursSince(batch.PrevActivity, uc.now())
	system := uc.composer.Compose(bot, uc.contexts.Get(bot.ID), batch.Caller, hours)

	text := batch.Text()
	image := batch.Image()
	if text == "" {
		if image != nil {
			text = cfg.ImagePlaceholder
		} else {
			text = cfg.EmptyPlaceholder
		}
	}

	raw, fallback := uc.generator.Reply(ctx, key, bot.Language, system, text, image, batch.OpenedAt())

	// the owner may have taken over while the model was thinking
	if fresh, err := uc.botRepo.Get(ctx, key.BotID); err == nil {
		if !fresh.CanAutoReply() {
			log.Info("reply dropped, bot switched mode during generation")
			return nil
		}
		bot = fresh
	}

	if fallback {
		uc.dispatcher.Send(ctx, bot, key, raw)
		return nil
	}

	reply := Interpret(raw)
	switch reply.Kind {
	case domain.ReplyNone:
		log.Debug("empty model reply")
		return nil

	case domain.ReplyNormal:
		n, err := uc.dispatcher.Deliver(ctx, bot, key, reply.Parts, NormalPacing)
		log.Info("replied", zap.Int("parts", len(reply.Parts)), zap.Int("delivered", n), zap.Float64("hours_since_last", hours))
		return err

	case domain.ReplyEscalation:
		if reply.Text != "" {
			uc.dispatcher.Send(ctx, bot, key, reply.Text)
		}
		_, err := uc.actions.Escalate(ctx, bot, key, reply.Tag, batch.Text())
		return err
	}
	return nil
}
