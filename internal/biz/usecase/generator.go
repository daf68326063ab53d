package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
)

// history rows fetched before windowing; leaves room for notes and the current batch
const historyFetchLimit = 50

// Generator runs one model turn with conversation history and maps
// provider failures onto canned persona replies
type Generator struct {
	llm     repo.LLMRepo
	history repo.HistoryRepo
	cfg     PromptConfig
	logger  *zap.Logger
}

// NewGenerator creates a new generator
func NewGenerator(llm repo.LLMRepo, history repo.HistoryRepo, cfg PromptConfig, logger *zap.Logger) *Generator {
	return &Generator{llm: llm, history: history, cfg: cfg, logger: logger}
}

// Reply generates model text for one turn. Messages created at or after
// cutoff are left out of history. When the provider fails, the canned
// reply in lang is returned with fallback set.
func (g *Generator) Reply(ctx context.Context, conv domain.ConversationKey, lang domain.LanguageMode, system, text string, image *domain.Image, cutoff time.Time) (reply string, fallback bool) {
	var window []domain.Message
	msgs, err := g.history.Recent(ctx, conv, historyFetchLimit)
	if err != nil {
		g.logger.Warn("failed to load history", zap.String("conversation", conv.String()), zap.Error(err))
	} else {
		c := &domain.Conversation{Key: conv, History: msgs}
		window = c.DialogueWindow(g.cfg.MaxHistoryCount, cutoff)
	}

	out, err := g.llm.Generate(ctx, &repo.GenerateRequest{
		SystemInstruction: system,
		History:           window,
		Text:              text,
		Image:             image,
	})
	if err != nil {
		if errors.Is(err, repo.ErrQuotaExceeded) {
			g.logger.Warn("model quota exceeded", zap.String("conversation", conv.String()))
			return g.cfg.FallbackReply(lang, true), true
		}
		g.logger.Error("model call failed", zap.String("conversation", conv.String()), zap.Error(err))
		return g.cfg.FallbackReply(lang, false), true
	}
	return out, false
}
