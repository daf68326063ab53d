package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
)

// PendingReminder re-alerts the operator about pending actions that have
// waited longer than a threshold. Each action is reminded once.
type PendingReminder struct {
	botRepo  repo.BotRepo
	notifier repo.Notifier
	logger   *zap.Logger

	pollInterval time.Duration
	after        time.Duration
	now          func() time.Time

	reminded map[string]bool
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewPendingReminder creates a new reminder
func NewPendingReminder(botRepo repo.BotRepo, notifier repo.Notifier, after time.Duration, logger *zap.Logger) *PendingReminder {
	return &PendingReminder{
		botRepo:      botRepo,
		notifier:     notifier,
		logger:       logger,
		pollInterval: 60 * time.Second,
		after:        after,
		now:          time.Now,
		reminded:     make(map[string]bool),
		stopCh:       make(chan struct{}),
	}
}

// Start starts the reminder loop
func (r *PendingReminder) Start() {
	if r.running {
		return
	}
	r.running = true
	r.wg.Add(1)
	go r.loop()
	r.logger.Info("[PendingReminder] Started",
		zap.Duration("poll_interval", r.pollInterval),
		zap.Duration("after", r.after))
}

// Stop stops the reminder loop
func (r *PendingReminder) Stop() {
	if !r.running {
		return
	}
	r.running = false
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("[PendingReminder] Stopped")
}

func (r *PendingReminder) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runOnce(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

// runOnce checks every bot and returns how many reminders were sent
func (r *PendingReminder) runOnce(ctx context.Context) int {
	bots, err := r.botRepo.List(ctx)
	if err != nil {
		r.logger.Warn("failed to list bots", zap.Error(err))
		return 0
	}

	live := make(map[string]bool)
	sent := 0
	now := r.now()
	for _, bot := range bots {
		pa := bot.PendingAction
		if pa == nil {
			continue
		}
		live[pa.ID] = true
		if r.reminded[pa.ID] || now.Sub(pa.CreatedAt) < r.after {
			continue
		}

		kind := domain.NoticeOpenPanel
		if pa.Type == domain.ActionHotLead {
			kind = domain.NoticeHandoff
		}
		err := r.notifier.Notify(ctx, &domain.Notice{
			BotID:        bot.ID,
			Kind:         kind,
			Conversation: pa.Conversation,
			Action:       pa,
			Text:         pa.UserMessage,
			At:           now,
		})
		if err != nil {
			r.logger.Warn("reminder failed", zap.Int64("bot_id", bot.ID), zap.Error(err))
			continue
		}
		r.reminded[pa.ID] = true
		sent++
		r.logger.Info("pending action reminder sent",
			zap.Int64("bot_id", bot.ID),
			zap.String("action", string(pa.Type)),
			zap.Duration("waiting", now.Sub(pa.CreatedAt)))
	}

	// forget resolved actions
	for id := range r.reminded {
		if !live[id] {
			delete(r.reminded, id)
		}
	}
	return sent
}
