package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
)

// Mock implementations

type mockBotRepo struct {
	mu   sync.Mutex
	bots map[int64]*domain.BotProfile
}

func newMockBotRepo(bots ...*domain.BotProfile) *mockBotRepo {
	m := &mockBotRepo{bots: make(map[int64]*domain.BotProfile)}
	for _, b := range bots {
		m.bots[b.ID] = b
	}
	return m
}

func (m *mockBotRepo) snapshot(b *domain.BotProfile) *domain.BotProfile {
	cp := *b
	cp.LearnedObservations = append([]string(nil), b.LearnedObservations...)
	if b.PendingAction != nil {
		pa := *b.PendingAction
		cp.PendingAction = &pa
	}
	return &cp
}

func (m *mockBotRepo) Get(ctx context.Context, id int64) (*domain.BotProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return nil, repo.ErrBotNotFound
	}
	return m.snapshot(b), nil
}

func (m *mockBotRepo) FindByChannel(ctx context.Context, ch domain.Channel, identifier string) (*domain.BotProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bots {
		if b.ChannelIdentifier(ch) == identifier {
			return m.snapshot(b), nil
		}
	}
	return nil, nil
}

func (m *mockBotRepo) List(ctx context.Context) ([]*domain.BotProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.BotProfile
	for _, b := range m.bots {
		out = append(out, m.snapshot(b))
	}
	return out, nil
}

func (m *mockBotRepo) Save(ctx context.Context, bot *domain.BotProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bots[bot.ID] = m.snapshot(bot)
	return nil
}

func (m *mockBotRepo) CompareAndSetFlags(ctx context.Context, id int64, expected, next domain.Flags) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return false, repo.ErrBotNotFound
	}
	if b.Flags() != expected {
		return false, nil
	}
	b.IsActive, b.IsListening = next.IsActive, next.IsListening
	return true, nil
}

func (m *mockBotRepo) SetPendingAction(ctx context.Context, id int64, action *domain.PendingAction) (*domain.PendingAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return nil, repo.ErrBotNotFound
	}
	prev := b.PendingAction
	b.PendingAction = action
	return prev, nil
}

func (m *mockBotRepo) ClearPendingAction(ctx context.Context, id int64, expectedID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return false, repo.ErrBotNotFound
	}
	if b.PendingAction == nil || b.PendingAction.ID != expectedID {
		return false, nil
	}
	b.PendingAction = nil
	return true, nil
}

func (m *mockBotRepo) AppendObservation(ctx context.Context, id int64, observation string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return false, repo.ErrBotNotFound
	}
	var added bool
	b.LearnedObservations, added = domain.AppendObservation(b.LearnedObservations, observation)
	return added, nil
}

func (m *mockBotRepo) Watch(ctx context.Context, id int64) (<-chan *domain.BotProfile, error) {
	ch := make(chan *domain.BotProfile)
	close(ch)
	return ch, nil
}

func (m *mockBotRepo) Close() error { return nil }

func (m *mockBotRepo) setFlags(id int64, f domain.Flags) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bots[id].IsActive, m.bots[id].IsListening = f.IsActive, f.IsListening
}

type mockHistoryRepo struct {
	mu       sync.Mutex
	messages []domain.Message
}

func (m *mockHistoryRepo) Append(ctx context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *mockHistoryRepo) MarkDelivered(ctx context.Context, conv domain.ConversationKey, msgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		if m.messages[i].ID == msgID {
			m.messages[i].Delivered = true
		}
	}
	return nil
}

func (m *mockHistoryRepo) Recent(ctx context.Context, conv domain.ConversationKey, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for _, msg := range m.messages {
		if msg.Conversation == conv {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *mockHistoryRepo) Close() error { return nil }

func (m *mockHistoryRepo) bySender(s domain.Sender) []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for _, msg := range m.messages {
		if msg.Sender == s {
			out = append(out, msg)
		}
	}
	return out
}

type mockLLM struct {
	mu        sync.Mutex
	replies   []string
	err       error
	complete  string
	requests  []*repo.GenerateRequest
	prompts   []string
	callDelay time.Duration
	onCall    func()
}

func (m *mockLLM) Generate(ctx context.Context, req *repo.GenerateRequest) (string, error) {
	if m.callDelay > 0 {
		time.Sleep(m.callDelay)
	}
	if m.onCall != nil {
		m.onCall()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return "", m.err
	}
	if len(m.replies) == 0 {
		return "", nil
	}
	r := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return r, nil
}

func (m *mockLLM) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	return m.complete, nil
}

func (m *mockLLM) calls() []*repo.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*repo.GenerateRequest(nil), m.requests...)
}

func (m *mockLLM) completions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

type mockPlatform struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *mockPlatform) Send(ctx context.Context, bot *domain.BotProfile, conv domain.ConversationKey, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, text)
	return nil
}

func (m *mockPlatform) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func (m *mockPlatform) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

type mockNotifier struct {
	mu      sync.Mutex
	notices []*domain.Notice
}

func (m *mockNotifier) Notify(ctx context.Context, n *domain.Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, n)
	return nil
}

func (m *mockNotifier) kinds() []domain.NoticeKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.NoticeKind
	for _, n := range m.notices {
		out = append(out, n.Kind)
	}
	return out
}

var errNetwork = errors.New("dial tcp: connection refused")

func quotaErr() error {
	return fmt.Errorf("generate content: %w", repo.ErrQuotaExceeded)
}

// harness wires the usecases over mocks with instant pacing
type harness struct {
	bots     *mockBotRepo
	history  *mockHistoryRepo
	llm      *mockLLM
	platform *mockPlatform
	notifier *mockNotifier

	composer     *Composer
	contexts     *ContextStore
	dispatcher   *Dispatcher
	buffer       *BufferUsecase
	actions      *ActionUsecase
	learning     *LearningUsecase
	override     *OverrideUsecase
	conversation *ConversationUsecase
	sleeps       []time.Duration
	sleepMu      sync.Mutex
}

func newHarness(bot *domain.BotProfile) *harness {
	h := &harness{
		bots:     newMockBotRepo(bot),
		history:  &mockHistoryRepo{},
		llm:      &mockLLM{},
		platform: &mockPlatform{},
		notifier: &mockNotifier{},
	}
	logger := zap.NewNop()
	h.composer = NewComposer(DefaultPromptConfig)
	h.contexts = NewContextStore()
	h.dispatcher = NewDispatcher(h.platform, h.history, h.notifier, logger)
	h.dispatcher.SetSleep(func(ctx context.Context, d time.Duration) error {
		h.sleepMu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.sleepMu.Unlock()
		return nil
	})
	generator := NewGenerator(h.llm, h.history, DefaultPromptConfig, logger)
	h.buffer = NewBufferUsecase(BufferConfig{TextDelay: 20 * time.Millisecond, ImageDelay: 60 * time.Millisecond}, logger)
	h.actions = NewActionUsecase(h.bots, h.composer, generator, h.dispatcher, h.contexts, logger)
	h.learning = NewLearningUsecase(h.llm, h.bots, h.composer, h.dispatcher, logger)
	h.override = NewOverrideUsecase(h.bots, h.history, h.buffer, h.actions, h.learning, h.dispatcher, h.composer, h.contexts, logger)
	h.conversation = NewConversationUsecase(h.bots, h.composer, generator, h.dispatcher, h.actions, h.contexts, logger)
	return h
}

func testBot() *domain.BotProfile {
	return &domain.BotProfile{
		ID:           1,
		BotName:      "نورة",
		StoreName:    "متجر الورد",
		BusinessType: "محل ورد",
		Products:     "باقة حمراء 50 ريال",
		WorkHours:    "9-11",
		ToneValue:    10,
		Language:     domain.LanguageArabic,
		IsActive:     true,
	}
}

var testConv = domain.ConversationKey{BotID: 1, Channel: domain.ChannelConsole, CustomerID: "cust-1"}
