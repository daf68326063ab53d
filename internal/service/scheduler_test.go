package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/data"
)

func TestStateWatcher_PublishesChanges(t *testing.T) {
	ctx := context.Background()
	bots := data.NewMemoryBotRepo()
	bot := &domain.BotProfile{BotName: "نورة", IsActive: true}
	require.NoError(t, bots.Save(ctx, bot))

	notifier := &recordingNotifier{}
	w := NewStateWatcher(bots, notifier, zap.NewNop())
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.Eventually(t, func() bool { return len(notifier.kinds()) == 1 }, time.Second, 5*time.Millisecond)

	// observation changes are not state changes
	_, err := bots.AppendObservation(ctx, bot.ID, "fact")
	require.NoError(t, err)

	_, err = bots.CompareAndSetFlags(ctx, bot.ID, domain.Flags{IsActive: true}, domain.Flags{IsActive: true, IsListening: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(notifier.kinds()) == 2 }, time.Second, 5*time.Millisecond)

	notifier.mu.Lock()
	last := notifier.notices[len(notifier.notices)-1]
	notifier.mu.Unlock()
	assert.Equal(t, domain.NoticeState, last.Kind)
	require.NotNil(t, last.Flags)
	assert.True(t, last.Flags.IsListening)
}

func TestStateWatcher_WatchNewBot(t *testing.T) {
	ctx := context.Background()
	bots := data.NewMemoryBotRepo()
	notifier := &recordingNotifier{}
	w := NewStateWatcher(bots, notifier, zap.NewNop())
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	bot := &domain.BotProfile{BotName: "later"}
	require.NoError(t, bots.Save(ctx, bot))
	require.NoError(t, w.Watch(bot.ID))
	require.NoError(t, w.Watch(bot.ID), "watching twice is a no-op")

	conv := domain.ConversationKey{BotID: bot.ID, Channel: domain.ChannelConsole, CustomerID: "c"}
	_, err := bots.SetPendingAction(ctx, bot.ID, domain.NewPendingAction(domain.ActionHotLead, "", conv, time.Now()))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		for _, n := range notifier.notices {
			if n.Action != nil && n.Action.Type == domain.ActionHotLead {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestPendingReminder_RemindsOnce(t *testing.T) {
	ctx := context.Background()
	bots := data.NewMemoryBotRepo()
	bot := &domain.BotProfile{BotName: "نورة"}
	require.NoError(t, bots.Save(ctx, bot))

	now := time.Now()
	conv := domain.ConversationKey{BotID: bot.ID, Channel: domain.ChannelWhatsApp, CustomerID: "c"}
	action := domain.NewPendingAction(domain.ActionDiscountRequest, "خصم؟", conv, now.Add(-20*time.Minute))
	_, err := bots.SetPendingAction(ctx, bot.ID, action)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	r := NewPendingReminder(bots, notifier, 15*time.Minute, zap.NewNop())
	r.now = func() time.Time { return now }

	assert.Equal(t, 1, r.runOnce(ctx))
	assert.Equal(t, 0, r.runOnce(ctx))
	assert.Equal(t, []domain.NoticeKind{domain.NoticeOpenPanel}, notifier.kinds())

	ok, err := bots.ClearPendingAction(ctx, bot.ID, action.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, r.runOnce(ctx))
	assert.Empty(t, r.reminded)
}

func TestPendingReminder_FreshActionWaits(t *testing.T) {
	ctx := context.Background()
	bots := data.NewMemoryBotRepo()
	bot := &domain.BotProfile{BotName: "نورة"}
	require.NoError(t, bots.Save(ctx, bot))

	conv := domain.ConversationKey{BotID: bot.ID, Channel: domain.ChannelInstagram, CustomerID: "c"}
	_, err := bots.SetPendingAction(ctx, bot.ID, domain.NewPendingAction(domain.ActionHotLead, "", conv, time.Now()))
	require.NoError(t, err)

	r := NewPendingReminder(bots, &recordingNotifier{}, 15*time.Minute, zap.NewNop())
	assert.Equal(t, 0, r.runOnce(ctx))

	r.Start()
	r.Stop()
}
