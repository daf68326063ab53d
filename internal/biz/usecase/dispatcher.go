package usecase

import (
	"context"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
)

// Pacing simulates typing cadence between reply parts
type Pacing struct {
	PerChar   time.Duration
	Base      time.Duration
	SkipFirst bool // first part goes out immediately
}

var (
	// NormalPacing paces replies to customer turns
	NormalPacing = Pacing{PerChar: 20 * time.Millisecond, Base: 500 * time.Millisecond, SkipFirst: true}
	// BridgePacing paces replies relaying an owner answer
	BridgePacing = Pacing{PerChar: 20 * time.Millisecond, Base: 300 * time.Millisecond}
)

// Delay returns the wait before part i
func (p Pacing) Delay(i int, part string) time.Duration {
	if i == 0 && p.SkipFirst {
		return 0
	}
	return time.Duration(utf8.RuneCountInString(part))*p.PerChar + p.Base
}

// SleepFunc waits d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dispatcher records bot output in history and delivers it to the platform
type Dispatcher struct {
	platform repo.PlatformRepo
	history  repo.HistoryRepo
	notifier repo.Notifier
	logger   *zap.Logger

	sleep SleepFunc
	now   func() time.Time
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(platform repo.PlatformRepo, history repo.HistoryRepo, notifier repo.Notifier, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		platform: platform,
		history:  history,
		notifier: notifier,
		logger:   logger,
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// SetSleep replaces the pacing sleeper
func (d *Dispatcher) SetSleep(fn SleepFunc) {
	d.sleep = fn
}

// Deliver sends parts strictly in order, waiting the paced delay before each.
// It returns how many parts were confirmed delivered.
func (d *Dispatcher) Deliver(ctx context.Context, bot *domain.BotProfile, conv domain.ConversationKey, parts []string, pacing Pacing) (int, error) {
	delivered := 0
	for i, part := range parts {
		if err := d.sleep(ctx, pacing.Delay(i, part)); err != nil {
			return delivered, err
		}
		if msg := d.Send(ctx, bot, conv, part); msg.Delivered {
			delivered++
		}
	}
	return delivered, nil
}

// Send records a bot message and pushes it to the platform once.
// Platform failures are logged and leave the message undelivered.
func (d *Dispatcher) Send(ctx context.Context, bot *domain.BotProfile, conv domain.ConversationKey, text string) *domain.Message {
	msg := domain.NewMessage(conv, domain.SenderBot, text, d.now())
	if err := d.history.Append(ctx, msg); err != nil {
		d.logger.Warn("failed to record bot message", zap.String("conversation", conv.String()), zap.Error(err))
	}

	if err := d.platform.Send(ctx, bot, conv, text); err != nil {
		d.logger.Warn("platform send failed",
			zap.Int64("bot_id", bot.ID),
			zap.String("conversation", conv.String()),
			zap.Error(err))
	} else {
		msg.Delivered = true
		if err := d.history.MarkDelivered(ctx, conv, msg.ID); err != nil {
			d.logger.Warn("failed to mark delivered", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}

	d.notify(ctx, &domain.Notice{
		BotID:        bot.ID,
		Kind:         domain.NoticeMessage,
		Conversation: conv,
		Sender:       domain.SenderBot,
		Text:         text,
	})
	return msg
}

// Record stores a bot message the owner already delivered from the
// platform app. Nothing is sent.
func (d *Dispatcher) Record(ctx context.Context, botID int64, conv domain.ConversationKey, text string) *domain.Message {
	msg := domain.NewMessage(conv, domain.SenderBot, text, d.now())
	msg.Delivered = true
	if err := d.history.Append(ctx, msg); err != nil {
		d.logger.Warn("failed to record owner message", zap.String("conversation", conv.String()), zap.Error(err))
	}
	d.notify(ctx, &domain.Notice{
		BotID:        botID,
		Kind:         domain.NoticeMessage,
		Conversation: conv,
		Sender:       domain.SenderBot,
		Text:         text,
	})
	return msg
}

// SystemNote records an operator-facing note in the conversation
func (d *Dispatcher) SystemNote(ctx context.Context, botID int64, conv domain.ConversationKey, text string) {
	msg := domain.NewMessage(conv, domain.SenderSystemNote, text, d.now())
	if err := d.history.Append(ctx, msg); err != nil {
		d.logger.Warn("failed to record system note", zap.String("conversation", conv.String()), zap.Error(err))
	}
	d.notify(ctx, &domain.Notice{
		BotID:        botID,
		Kind:         domain.NoticeSystemNote,
		Conversation: conv,
		Sender:       domain.SenderSystemNote,
		Text:         text,
	})
}

// Notify forwards a notice to operator surfaces
func (d *Dispatcher) Notify(ctx context.Context, n *domain.Notice) {
	d.notify(ctx, n)
}

func (d *Dispatcher) notify(ctx context.Context, n *domain.Notice) {
	if d.notifier == nil {
		return
	}
	if n.At.IsZero() {
		n.At = d.now()
	}
	if err := d.notifier.Notify(ctx, n); err != nil {
		d.logger.Debug("notify failed", zap.String("kind", string(n.Kind)), zap.Error(err))
	}
}
