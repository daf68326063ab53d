package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
)

func textBatch(prev time.Time, texts ...string) *domain.Batch {
	now := time.Now()
	b := &domain.Batch{Key: testConv, PrevActivity: prev}
	for i, t := range texts {
		b.Items = append(b.Items, domain.BufferItem{Text: t, ReceivedAt: now.Add(time.Duration(i) * time.Millisecond)})
	}
	return b
}

func TestRespond_FirstMessagePriceQuestion(t *testing.T) {
	h := newHarness(testBot())
	ctx := context.Background()
	h.llm.replies = []string{"باقة حمراء 50 ريال"}

	require.NoError(t, h.conversation.Respond(ctx, textBatch(time.Time{}, "كم السعر؟")))

	calls := h.llm.calls()
	require.Len(t, calls, 1)
	req := calls[0]
	assert.Equal(t, "كم السعر؟", req.Text)
	assert.Empty(t, req.History)
	assert.Contains(t, req.SystemInstruction, DefaultPromptConfig.ToneCasual)
	assert.Contains(t, req.SystemInstruction, DefaultPromptConfig.LanguageArabic)
	assert.Contains(t, req.SystemInstruction, "اسمي نورة")

	assert.Equal(t, []string{"باقة حمراء 50 ريال"}, h.platform.texts())
	assert.Equal(t, []time.Duration{0}, h.sleeps)
}

func TestRespond_HistoryExcludesCurrentBatch(t *testing.T) {
	h := newHarness(testBot())
	ctx := context.Background()
	h.llm.replies = []string{"تمام"}

	past := time.Now().Add(-time.Hour)
	addCustomerMessage(h, "هلا", past)
	_ = h.history.Append(ctx, domain.NewMessage(testConv, domain.SenderBot, "هلا فيك", past.Add(time.Second)))
	_ = h.history.Append(ctx, domain.NewMessage(testConv, domain.SenderSystemNote, "note", past.Add(2*time.Second)))

	batch := textBatch(past.Add(time.Second), "عندكم توصيل؟")
	addCustomerMessage(h, "عندكم توصيل؟", batch.OpenedAt())

	require.NoError(t, h.conversation.Respond(ctx, batch))

	req := h.llm.calls()[0]
	require.Len(t, req.History, 2)
	assert.Equal(t, "هلا", req.History[0].Text)
	assert.Equal(t, "هلا فيك", req.History[1].Text)
	assert.Contains(t, req.SystemInstruction, DefaultPromptConfig.GreetingContinuation)
}

func TestRespond_ReturningCustomer(t *testing.T) {
	h := newHarness(testBot())
	h.llm.replies = []string{"يا هلا"}

	require.NoError(t, h.conversation.Respond(context.Background(), textBatch(time.Now().Add(-72*time.Hour), "مرحبا")))
	assert.Contains(t, h.llm.calls()[0].SystemInstruction, DefaultPromptConfig.GreetingReturning)
}

func TestRespond_MultiPartPaced(t *testing.T) {
	h := newHarness(testBot())
	h.llm.replies = []string{"هلا|||الباقة بـ 50"}

	require.NoError(t, h.conversation.Respond(context.Background(), textBatch(time.Time{}, "a", "b")))

	assert.Equal(t, "a\nb", h.llm.calls()[0].Text)
	assert.Equal(t, []string{"هلا", "الباقة بـ 50"}, h.platform.texts())
	assert.Equal(t, []time.Duration{0, NormalPacing.Delay(1, "الباقة بـ 50")}, h.sleeps)
}

func TestRespond_SilentModes(t *testing.T) {
	tests := []struct {
		name  string
		flags domain.Flags
	}{
		{"inactive", domain.Flags{IsActive: false}},
		{"listening", domain.Flags{IsActive: true, IsListening: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(testBot())
			h.bots.setFlags(1, tt.flags)
			h.llm.replies = []string{"x"}

			require.NoError(t, h.conversation.Respond(context.Background(), textBatch(time.Time{}, "hi")))
			assert.Empty(t, h.llm.calls())
			assert.Empty(t, h.platform.texts())
		})
	}
}

func TestRespond_ModeChangedDuringGeneration(t *testing.T) {
	h := newHarness(testBot())
	h.llm.replies = []string{"late reply"}
	h.llm.onCall = func() { h.bots.setFlags(1, domain.Flags{IsActive: true, IsListening: true}) }

	require.NoError(t, h.conversation.Respond(context.Background(), textBatch(time.Time{}, "hi")))
	assert.Len(t, h.llm.calls(), 1)
	assert.Empty(t, h.platform.texts())
}

func TestRespond_ProviderFailures(t *testing.T) {
	t.Run("quota", func(t *testing.T) {
		h := newHarness(testBot())
		h.llm.err = quotaErr()
		require.NoError(t, h.conversation.Respond(context.Background(), textBatch(time.Time{}, "hi")))
		assert.Equal(t, []string{DefaultPromptConfig.QuotaReply}, h.platform.texts())
	})

	t.Run("network", func(t *testing.T) {
		h := newHarness(testBot())
		h.llm.err = errNetwork
		require.NoError(t, h.conversation.Respond(context.Background(), textBatch(time.Time{}, "hi")))
		assert.Equal(t, []string{DefaultPromptConfig.NetworkReply}, h.platform.texts())
	})

	t.Run("english bot", func(t *testing.T) {
		bot := testBot()
		bot.Language = domain.LanguageEnglish
		h := newHarness(bot)
		h.llm.err = quotaErr()
		require.NoError(t, h.conversation.Respond(context.Background(), textBatch(time.Time{}, "how much?")))
		assert.Equal(t, []string{DefaultPromptConfig.QuotaReplyEnglish}, h.platform.texts())

		h.platform.reset()
		h.llm.err = errNetwork
		require.NoError(t, h.conversation.Respond(context.Background(), textBatch(time.Time{}, "hello?")))
		assert.Equal(t, []string{DefaultPromptConfig.NetworkReplyEnglish}, h.platform.texts())
	})
}

func TestRespond_EmptyModelOutput(t *testing.T) {
	h := newHarness(testBot())
	h.llm.replies = []string{"  |||  "}
	require.NoError(t, h.conversation.Respond(context.Background(), textBatch(time.Time{}, "hi")))
	assert.Empty(t, h.platform.texts())
}

func TestRespond_ImageOnly(t *testing.T) {
	h := newHarness(testBot())
	h.llm.replies = []string{"وصلتني الصورة"}

	img := &domain.Image{Data: []byte{1, 2, 3}, MimeType: "image/png"}
	batch := &domain.Batch{Key: testConv, Items: []domain.BufferItem{{Image: img, ReceivedAt: time.Now()}}}
	require.NoError(t, h.conversation.Respond(context.Background(), batch))

	req := h.llm.calls()[0]
	assert.Equal(t, DefaultPromptConfig.ImagePlaceholder, req.Text)
	assert.Equal(t, img, req.Image)
}

func TestRespond_Escalation(t *testing.T) {
	h := newHarness(testBot())
	ctx := context.Background()
	h.llm.replies = []string{"اختيار ممتاز! بحولك للمالك [[REQ_HANDOFF]]"}

	require.NoError(t, h.conversation.Respond(ctx, textBatch(time.Time{}, "تم", "كيف أدفع؟")))

	assert.Equal(t, []string{"اختيار ممتاز! بحولك للمالك"}, h.platform.texts())
	cur, err := h.actions.Current(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, domain.ActionHotLead, cur.Type)
	assert.Equal(t, "تم\nكيف أدفع؟", cur.UserMessage)
	assert.Equal(t, testConv, cur.Conversation)
	assert.Contains(t, h.notifier.kinds(), domain.NoticeHandoff)
}

func TestRespond_BareTagSendsNothing(t *testing.T) {
	h := newHarness(testBot())
	ctx := context.Background()
	h.llm.replies = []string{"[[REQ_DISCOUNT]]"}

	require.NoError(t, h.conversation.Respond(ctx, textBatch(time.Time{}, "خصم؟")))
	assert.Empty(t, h.platform.texts())
	cur, _ := h.actions.Current(ctx, 1)
	require.NotNil(t, cur)
	assert.Equal(t, domain.ActionDiscountRequest, cur.Type)
}

func TestRespond_LiveContextInPrompt(t *testing.T) {
	h := newHarness(testBot())
	h.llm.replies = []string{"ok"}
	h.contexts.Append(1, "العرض ينتهي الليلة")

	require.NoError(t, h.conversation.Respond(context.Background(), textBatch(time.Time{}, "hi")))
	assert.Contains(t, h.llm.calls()[0].SystemInstruction, "- العرض ينتهي الليلة")
}
