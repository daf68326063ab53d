package data

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz/repo"
	"github.com/rawbot-ai/rawbot/internal/conf"
	"github.com/rawbot-ai/rawbot/internal/infra/feishu"
)

// Repositories contains all repositories
type Repositories struct {
	Bots    repo.BotRepo
	History repo.HistoryRepo
	LLM     repo.LLMRepo
	Graph   repo.PlatformRepo
	Alerts  repo.Notifier // nil when Feishu is not configured

	closers []func() error
}

// NewRepositories creates all repositories from configuration
func NewRepositories(ctx context.Context, cfg *conf.Config, logger *zap.Logger) (*Repositories, error) {
	r, err := NewStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	switch cfg.LLM.Provider {
	case conf.ProviderOpenAI:
		r.LLM, err = NewOpenAIRepo(cfg.LLM)
	default:
		r.LLM, err = NewGeminiRepo(ctx, cfg.LLM)
	}
	if err != nil {
		r.Close()
		return nil, err
	}

	r.Graph = NewGraphSender(cfg.Meta.GraphAPIBase, nil)

	if cfg.Feishu.Enabled() {
		client := feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret)
		r.Alerts = NewFeishuNotifier(client, cfg.Feishu.AlertChatID, logger)
		logger.Info("[Feishu] operator alerts enabled", zap.String("chat_id", cfg.Feishu.AlertChatID))
	}

	logger.Info("[Data] repositories ready",
		zap.String("store", cfg.Store.Backend),
		zap.String("llm", cfg.LLM.Provider))
	return r, nil
}

// NewStore opens only the bot and history stores
func NewStore(ctx context.Context, cfg conf.StoreConfig) (*Repositories, error) {
	r := &Repositories{}
	switch cfg.Backend {
	case conf.StoreMemory:
		r.Bots = NewMemoryBotRepo()
		r.History = NewMemoryHistoryRepo()
	case conf.StoreFirestore:
		store, err := NewFirestoreStore(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, err
		}
		r.Bots = store.Bots()
		r.History = store.History()
		r.closers = append(r.closers, store.Close)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		bots, err := NewSQLiteBotRepo(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		history, err := NewSQLiteHistoryRepo(cfg.DBPath)
		if err != nil {
			bots.Close()
			return nil, err
		}
		r.Bots, r.History = bots, history
		r.closers = append(r.closers, bots.Close, history.Close)
	}
	return r, nil
}

// Close releases storage handles
func (r *Repositories) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
