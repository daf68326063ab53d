package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz"
	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
	"github.com/rawbot-ai/rawbot/internal/biz/usecase"
	"github.com/rawbot-ai/rawbot/internal/data"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Mock implementations

type fakeLLM struct {
	mu      sync.Mutex
	replies []string
	texts   []string
	systems []string
}

func (f *fakeLLM) Generate(ctx context.Context, req *repo.GenerateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, req.Text)
	f.systems = append(f.systems, req.SystemInstruction)
	if len(f.replies) == 0 {
		return "", nil
	}
	out := f.replies[0]
	f.replies = f.replies[1:]
	return out, nil
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return "NOTHING", nil
}

func (f *fakeLLM) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *fakeLLM) lastSystem() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.systems) == 0 {
		return ""
	}
	return f.systems[len(f.systems)-1]
}

type sentMessage struct {
	conv domain.ConversationKey
	text string
}

type fakePlatform struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakePlatform) Send(ctx context.Context, bot *domain.BotProfile, conv domain.ConversationKey, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{conv: conv, text: text})
	return nil
}

func (f *fakePlatform) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (r *recordingNotifier) Notify(ctx context.Context, n *domain.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, *n)
	return nil
}

func (r *recordingNotifier) kinds() []domain.NoticeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.NoticeKind
	for _, n := range r.notices {
		out = append(out, n.Kind)
	}
	return out
}

type pipeline struct {
	svc      *ConversationService
	uc       *biz.Usecases
	bots     repo.BotRepo
	history  repo.HistoryRepo
	llm      *fakeLLM
	platform *fakePlatform
	notifier *recordingNotifier
	bot      *domain.BotProfile
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	p := &pipeline{
		bots:     data.NewMemoryBotRepo(),
		history:  data.NewMemoryHistoryRepo(),
		llm:      &fakeLLM{},
		platform: &fakePlatform{},
		notifier: &recordingNotifier{},
	}
	p.bot = &domain.BotProfile{
		BotName:   "نورة",
		StoreName: "متجر الورد",
		ToneValue: 10,
		Language:  domain.LanguageArabic,
		IsActive:  true,
		Instagram: domain.InstagramChannel{BusinessID: "ig-1", AccessToken: "t"},
	}
	require.NoError(t, p.bots.Save(context.Background(), p.bot))

	p.uc = biz.NewUsecases(biz.Deps{
		Bots:     p.bots,
		History:  p.history,
		LLM:      p.llm,
		Platform: p.platform,
		Notifier: p.notifier,
	}, usecase.DefaultPromptConfig, usecase.BufferConfig{
		TextDelay:  20 * time.Millisecond,
		ImageDelay: 60 * time.Millisecond,
	}, zap.NewNop())
	p.uc.Dispatcher.SetSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() })

	p.svc = NewConversationService(p.uc, p.bots, p.history, zap.NewNop())
	p.svc.Start()
	t.Cleanup(p.svc.Stop)
	return p
}

func (p *pipeline) conv(customer string) domain.ConversationKey {
	return domain.ConversationKey{BotID: p.bot.ID, Channel: domain.ChannelInstagram, CustomerID: customer}
}

// Tests

func TestHandleInbound_FirstMessageGetsGreetingReply(t *testing.T) {
	p := newPipeline(t)
	p.llm.replies = []string{"هلا والله! أنا نورة ||| السعر 50 ريال"}

	err := p.svc.HandleInbound(context.Background(), &InboundMessage{
		Channel:     domain.ChannelInstagram,
		RecipientID: "ig-1",
		CustomerID:  "cust-1",
		MessageID:   "mid.1",
		Text:        "كم السعر؟",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(p.platform.texts()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"هلا والله! أنا نورة", "السعر 50 ريال"}, p.platform.texts())
	assert.Equal(t, []string{"كم السعر؟"}, p.llm.calls())

	msgs, err := p.history.Recent(context.Background(), p.conv("cust-1"), 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.SenderCustomer, msgs[0].Sender)
	assert.True(t, msgs[1].Delivered)
	assert.True(t, msgs[2].Delivered)
}

func TestHandleInbound_UnknownRecipient(t *testing.T) {
	p := newPipeline(t)

	err := p.svc.HandleInbound(context.Background(), &InboundMessage{
		Channel:     domain.ChannelInstagram,
		RecipientID: "someone-else",
		CustomerID:  "c",
		Text:        "hello",
	})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, p.llm.calls())
}

func TestHandleCustomerMessage_Batches(t *testing.T) {
	p := newPipeline(t)
	p.llm.replies = []string{"تمام"}
	ctx := context.Background()
	conv := p.conv("cust-2")

	require.NoError(t, p.svc.HandleCustomerMessage(ctx, conv, "a", nil, nil))
	require.NoError(t, p.svc.HandleCustomerMessage(ctx, conv, "b", nil, nil))

	require.Eventually(t, func() bool { return len(p.platform.texts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a\nb"}, p.llm.calls())
}

func TestHandleCustomerMessage_ListeningSuppressesReply(t *testing.T) {
	p := newPipeline(t)
	p.llm.replies = []string{"should not be sent"}
	ctx := context.Background()

	_, err := p.uc.Bot.SetMode(ctx, p.bot.ID, nil, boolPtr(true))
	require.NoError(t, err)

	conv := p.conv("cust-3")
	require.NoError(t, p.svc.HandleCustomerMessage(ctx, conv, "hello", nil, nil))
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, p.platform.texts())
	assert.Empty(t, p.llm.calls())

	msgs, err := p.history.Recent(ctx, conv, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "customer message still recorded")
}

func TestHandleConsoleInput_OwnerSpeakBypassesModel(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	conv := p.conv("cust-4")

	require.NoError(t, p.svc.HandleConsoleInput(ctx, conv, "عندكم توصيل؟"))
	require.NoError(t, p.svc.HandleConsoleInput(ctx, conv, ".  ايه نوصل لكل المناطق "))

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, p.llm.calls(), "buffered customer text dropped by the owner taking over")
	assert.Equal(t, []string{"ايه نوصل لكل المناطق"}, p.platform.texts())

	bot, err := p.bots.Get(ctx, p.bot.ID)
	require.NoError(t, err)
	assert.False(t, bot.IsActive)
}

func TestHandleOperatorInput_PlainTextNotHandled(t *testing.T) {
	p := newPipeline(t)
	handled, err := p.svc.HandleOperatorInput(context.Background(), p.conv("c"), "just text")
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestHandleInbound_EchoOnlyHonoursSigils(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.svc.HandleInbound(ctx, &InboundMessage{
		Channel: domain.ChannelInstagram, RecipientID: "ig-1", CustomerID: "cust-5",
		Text: "echo of a bot reply", Echo: true,
	}))
	require.NoError(t, p.svc.HandleInbound(ctx, &InboundMessage{
		Channel: domain.ChannelInstagram, RecipientID: "ig-1", CustomerID: "cust-5",
		Text: "!الخصم 10% فقط", Echo: true,
	}))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, p.llm.calls())
	assert.Contains(t, p.uc.Contexts.Get(p.bot.ID), "الخصم 10% فقط")
}

func TestHandleInbound_EchoNeverResends(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	conv := p.conv("cust-9")
	echo := func(text string) *InboundMessage {
		return &InboundMessage{
			Channel: domain.ChannelInstagram, RecipientID: "ig-1", CustomerID: "cust-9",
			Text: text, Echo: true,
		}
	}

	t.Run("owner typed in the app", func(t *testing.T) {
		require.NoError(t, p.svc.HandleInbound(ctx, echo(".اهلا انا المالك")))
		assert.Empty(t, p.platform.texts())

		msgs, err := p.history.Recent(ctx, conv, 0)
		require.NoError(t, err)
		require.NotEmpty(t, msgs)
		assert.Equal(t, domain.SenderBot, msgs[0].Sender)
		assert.Equal(t, "اهلا انا المالك", msgs[0].Text)
	})

	t.Run("bot reply comes back", func(t *testing.T) {
		_, err := p.uc.Bot.SetMode(ctx, p.bot.ID, boolPtr(true), nil)
		require.NoError(t, err)
		p.llm.replies = []string{"...خليني أشوف"}
		require.NoError(t, p.svc.HandleCustomerMessage(ctx, conv, "عندكم مقاس كبير؟", nil, nil))
		require.Eventually(t, func() bool { return len(p.platform.texts()) == 1 }, 2*time.Second, 5*time.Millisecond)

		require.NoError(t, p.svc.HandleInbound(ctx, echo("...خليني أشوف")))

		assert.Equal(t, []string{"...خليني أشوف"}, p.platform.texts())
		bot, err := p.bots.Get(ctx, p.bot.ID)
		require.NoError(t, err)
		assert.True(t, bot.IsActive)
	})
}

func TestHandleCustomerMessage_Escalation(t *testing.T) {
	p := newPipeline(t)
	p.llm.replies = []string{"لحظة أتأكد لك [[UNKNOWN_QUERY]]"}
	ctx := context.Background()
	conv := p.conv("cust-6")

	require.NoError(t, p.svc.HandleCustomerMessage(ctx, conv, "عندكم فرع بجدة؟", nil, nil))

	require.Eventually(t, func() bool {
		bot, err := p.bots.Get(ctx, p.bot.ID)
		return err == nil && bot.PendingAction != nil
	}, 2*time.Second, 5*time.Millisecond)

	bot, err := p.bots.Get(ctx, p.bot.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionUnknownQuery, bot.PendingAction.Type)
	assert.Equal(t, "عندكم فرع بجدة؟", bot.PendingAction.UserMessage)
	assert.Equal(t, conv, bot.PendingAction.Conversation)
	assert.Equal(t, []string{"لحظة أتأكد لك"}, p.platform.texts())
	assert.Contains(t, p.notifier.kinds(), domain.NoticeOpenPanel)
}

func TestHandleCustomerMessage_SystemNotesDoNotCountAsActivity(t *testing.T) {
	const (
		firstMarker        = "أول رسالة فقط"
		returningMarker    = "عودة عميل بعد فترة"
		continuationMarker = "محادثة مستمرة"
	)

	t.Run("note before first message", func(t *testing.T) {
		p := newPipeline(t)
		p.llm.replies = []string{"هلا"}
		ctx := context.Background()
		conv := p.conv("cust-7")

		require.NoError(t, p.svc.HandleConsoleInput(ctx, conv, "!عندنا عرض اليوم"))
		require.NoError(t, p.svc.HandleCustomerMessage(ctx, conv, "كم السعر؟", nil, nil))

		require.Eventually(t, func() bool { return len(p.llm.calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
		system := p.llm.lastSystem()
		assert.Contains(t, system, firstMarker)
		assert.NotContains(t, system, continuationMarker)
	})

	t.Run("note after a long silence", func(t *testing.T) {
		p := newPipeline(t)
		p.llm.replies = []string{"هلا مرة ثانية"}
		ctx := context.Background()
		conv := p.conv("cust-8")

		old := domain.NewMessage(conv, domain.SenderCustomer, "شكرا", time.Now().Add(-72*time.Hour))
		require.NoError(t, p.history.Append(ctx, old))
		p.uc.Dispatcher.SystemNote(ctx, p.bot.ID, conv, "note")

		require.NoError(t, p.svc.HandleCustomerMessage(ctx, conv, "رجعت", nil, nil))

		require.Eventually(t, func() bool { return len(p.llm.calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
		system := p.llm.lastSystem()
		assert.Contains(t, system, returningMarker)
		assert.NotContains(t, system, continuationMarker)
	})
}

func TestHandleCustomerMessage_LocksReleased(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv := p.conv("cust-lock-" + string(rune('a'+i%3)))
			assert.NoError(t, p.svc.HandleCustomerMessage(ctx, conv, "hi", nil, nil))
		}(i)
	}
	wg.Wait()

	p.svc.locksMu.Lock()
	defer p.svc.locksMu.Unlock()
	assert.Empty(t, p.svc.locks)
}

func boolPtr(b bool) *bool { return &b }
