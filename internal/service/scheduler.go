package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
)

// StateWatcher follows stored bot state and publishes a state notice
// whenever the flags or the pending action change
type StateWatcher struct {
	botRepo  repo.BotRepo
	notifier repo.Notifier
	logger   *zap.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	watching map[int64]bool
	wg       sync.WaitGroup
}

// NewStateWatcher creates a new state watcher
func NewStateWatcher(botRepo repo.BotRepo, notifier repo.Notifier, logger *zap.Logger) *StateWatcher {
	return &StateWatcher{
		botRepo:  botRepo,
		notifier: notifier,
		logger:   logger,
		watching: make(map[int64]bool),
	}
}

// Start watches every stored bot
func (w *StateWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	bots, err := w.botRepo.List(ctx)
	if err != nil {
		return err
	}
	for _, b := range bots {
		if err := w.Watch(b.ID); err != nil {
			w.logger.Warn("failed to watch bot", zap.Int64("bot_id", b.ID), zap.Error(err))
		}
	}
	w.logger.Info("[StateWatcher] Started", zap.Int("bots", len(bots)))
	return nil
}

// Watch adds a bot, typically one created after Start
func (w *StateWatcher) Watch(botID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil || w.watching[botID] {
		return nil
	}

	ch, err := w.botRepo.Watch(w.ctx, botID)
	if err != nil {
		return err
	}
	w.watching[botID] = true
	w.wg.Add(1)
	go w.loop(botID, ch)
	return nil
}

// Stop ends all watches
func (w *StateWatcher) Stop() {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()
	w.wg.Wait()
	w.logger.Info("[StateWatcher] Stopped")
}

func (w *StateWatcher) loop(botID int64, ch <-chan *domain.BotProfile) {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		delete(w.watching, botID)
		w.mu.Unlock()
	}()

	var (
		last      domain.Flags
		lastPA    string
		published bool
	)
	for bot := range ch {
		flags := bot.Flags()
		pa := ""
		if bot.PendingAction != nil {
			pa = bot.PendingAction.ID
		}
		if published && flags == last && pa == lastPA {
			continue
		}
		last, lastPA, published = flags, pa, true

		n := &domain.Notice{
			BotID:  bot.ID,
			Kind:   domain.NoticeState,
			Flags:  &flags,
			Action: bot.PendingAction,
			At:     bot.UpdatedAt,
		}
		if bot.PendingAction != nil {
			n.Conversation = bot.PendingAction.Conversation
		}
		if err := w.notifier.Notify(w.ctx, n); err != nil {
			w.logger.Debug("state notify failed", zap.Int64("bot_id", botID), zap.Error(err))
		}
	}
}
