package usecase

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
)

// LearningUsecase distils owner corrections into durable observations
type LearningUsecase struct {
	llm        repo.LLMRepo
	botRepo    repo.BotRepo
	composer   *Composer
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewLearningUsecase creates a new learning usecase
func NewLearningUsecase(llm repo.LLMRepo, botRepo repo.BotRepo, composer *Composer, dispatcher *Dispatcher, logger *zap.Logger) *LearningUsecase {
	return &LearningUsecase{
		llm:        llm,
		botRepo:    botRepo,
		composer:   composer,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Distill asks the model for a reusable rule. ok is false when the
// exchange was too generic or the call failed.
func (uc *LearningUsecase) Distill(ctx context.Context, question, ownerReply string) (string, bool) {
	out, err := uc.llm.Complete(ctx, uc.composer.DistillPrompt(question, ownerReply))
	if err != nil {
		uc.logger.Warn("distillation failed", zap.Error(err))
		return "", false
	}
	out = strings.Trim(strings.TrimSpace(out), `"`)
	sentinel := uc.composer.Config().NothingSentinel
	if out == "" || (sentinel != "" && strings.Contains(out, sentinel)) {
		return "", false
	}
	return out, true
}

// LearnFromCorrection distils and, when something was learned, records it
func (uc *LearningUsecase) LearnFromCorrection(ctx context.Context, botID int64, conv domain.ConversationKey, question, ownerReply string) (string, bool) {
	obs, ok := uc.Distill(ctx, question, ownerReply)
	if !ok {
		uc.logger.Debug("nothing learned", zap.Int64("bot_id", botID))
		return "", false
	}
	if _, err := uc.botRepo.AppendObservation(ctx, botID, obs); err != nil {
		uc.logger.Error("failed to store observation", zap.Int64("bot_id", botID), zap.Error(err))
		return "", false
	}

	uc.dispatcher.SystemNote(ctx, botID, conv, uc.composer.Note(uc.composer.Config().NoteLearned, "{{observation}}", obs))
	uc.dispatcher.Notify(ctx, &domain.Notice{BotID: botID, Kind: domain.NoticeLearned, Conversation: conv, Text: obs})
	uc.logger.Info("learned observation", zap.Int64("bot_id", botID), zap.String("observation", obs))
	return obs, true
}
