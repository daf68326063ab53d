package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz"
	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
	"github.com/rawbot-ai/rawbot/internal/biz/usecase"
)

// history rows scanned for the last customer or bot message
const activityWindow = 50

// ConversationService routes inbound customer and operator input through
// the override channel, the debounce buffer and the responder
type ConversationService struct {
	uc          *biz.Usecases
	botRepo     repo.BotRepo
	historyRepo repo.HistoryRepo
	logger      *zap.Logger
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// serializes append+buffer per conversation so history order matches buffer order
	locksMu sync.Mutex
	locks   map[string]*conversationLock
}

// conversationLock is dropped from the map once nobody holds or waits on it
type conversationLock struct {
	mu   sync.Mutex
	refs int // guarded by locksMu
}

// NewConversationService creates a new conversation service
func NewConversationService(uc *biz.Usecases, botRepo repo.BotRepo, historyRepo repo.HistoryRepo, logger *zap.Logger) *ConversationService {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConversationService{
		uc:          uc,
		botRepo:     botRepo,
		historyRepo: historyRepo,
		logger:      logger,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		locks:       make(map[string]*conversationLock),
	}
}

// InboundMessage is a normalized platform event
type InboundMessage struct {
	Channel     domain.Channel
	RecipientID string // business id / phone number id the customer wrote to
	CustomerID  string
	MessageID   string
	Text        string
	Image       *domain.Image
	Caller      *domain.CustomerProfile
	// Echo marks a message the business account itself sent from the
	// platform app; only operator sigils are honoured for those
	Echo bool
}

// Start wires the flush handler
func (s *ConversationService) Start() {
	s.uc.Buffer.SetFlushHandler(s.flush)
	s.logger.Info("[Service] conversation pipeline started")
}

// Stop cancels pending flushes, aborts running replies and waits for
// background learning
func (s *ConversationService) Stop() {
	s.uc.Buffer.Stop()
	s.cancel()
	s.uc.Override.Wait()
	s.logger.Info("[Service] conversation pipeline stopped")
}

// HandleInbound resolves the bot for a platform event and processes it.
// Events for unknown bots are dropped without error.
func (s *ConversationService) HandleInbound(ctx context.Context, msg *InboundMessage) error {
	bot, err := s.botRepo.FindByChannel(ctx, msg.Channel, msg.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to resolve bot: %w", err)
	}
	if bot == nil {
		s.logger.Info("no bot for recipient",
			zap.String("channel", string(msg.Channel)),
			zap.String("recipient", msg.RecipientID))
		return nil
	}

	conv := domain.ConversationKey{BotID: bot.ID, Channel: msg.Channel, CustomerID: msg.CustomerID}

	if msg.Echo {
		if s.sentByBot(ctx, conv, msg.Text) {
			return nil
		}
		cmd, ok := usecase.ParseCommand(msg.Text)
		if !ok {
			return nil
		}
		cmd.Echo = true
		return s.uc.Override.Handle(ctx, conv, cmd)
	}

	return s.HandleCustomerMessage(ctx, conv, msg.Text, msg.Image, msg.Caller)
}

// HandleCustomerMessage records a customer turn and buffers it for a reply
func (s *ConversationService) HandleCustomerMessage(ctx context.Context, conv domain.ConversationKey, text string, image *domain.Image, caller *domain.CustomerProfile) error {
	text = strings.TrimSpace(text)
	if text == "" && image == nil {
		return nil
	}

	unlock := s.lockConversation(conv)
	defer unlock()

	now := s.now()

	// system notes are not conversation activity
	var prevActivity time.Time
	if recent, err := s.historyRepo.Recent(ctx, conv, activityWindow); err != nil {
		s.logger.Warn("failed to read last activity", zap.String("conversation", conv.String()), zap.Error(err))
	} else {
		prevActivity = (&domain.Conversation{Key: conv, History: recent}).LastActivity(now)
	}

	msg := domain.NewMessage(conv, domain.SenderCustomer, text, now)
	msg.Image = image
	if err := s.historyRepo.Append(ctx, msg); err != nil {
		return fmt.Errorf("failed to record customer message: %w", err)
	}

	s.uc.Dispatcher.Notify(ctx, &domain.Notice{
		BotID:        conv.BotID,
		Kind:         domain.NoticeMessage,
		Conversation: conv,
		Sender:       domain.SenderCustomer,
		Text:         text,
	})

	s.uc.Buffer.Add(conv, domain.BufferItem{Text: text, Image: image, ReceivedAt: now}, prevActivity, caller)
	return nil
}

// HandleOperatorInput applies sigil input. It reports false for plain text.
func (s *ConversationService) HandleOperatorInput(ctx context.Context, conv domain.ConversationKey, input string) (bool, error) {
	cmd, ok := usecase.ParseCommand(input)
	if !ok {
		return false, nil
	}
	if err := s.uc.Override.Handle(ctx, conv, cmd); err != nil {
		return true, err
	}
	return true, nil
}

// HandleConsoleInput treats sigil lines as operator input and anything
// else as the customer speaking
func (s *ConversationService) HandleConsoleInput(ctx context.Context, conv domain.ConversationKey, input string) error {
	handled, err := s.HandleOperatorInput(ctx, conv, input)
	if handled || err != nil {
		return err
	}
	return s.HandleCustomerMessage(ctx, conv, input, nil, nil)
}

// flush runs under the buffer's per-conversation flush lock
func (s *ConversationService) flush(batch *domain.Batch) {
	start := time.Now()
	if err := s.uc.Conversation.Respond(s.ctx, batch); err != nil {
		s.logger.Error("failed to respond",
			zap.Int64("bot_id", batch.Key.BotID),
			zap.String("conversation", batch.Key.String()),
			zap.Error(err))
		return
	}
	s.logger.Debug("batch handled",
		zap.String("conversation", batch.Key.String()),
		zap.Int("items", len(batch.Items)),
		zap.Duration("took", time.Since(start)))
}

// sentByBot reports whether an echo repeats a message the bot sent itself.
// Bot messages are recorded before the platform send, so the echo always
// finds them.
func (s *ConversationService) sentByBot(ctx context.Context, conv domain.ConversationKey, text string) bool {
	text = strings.TrimSpace(text)
	recent, err := s.historyRepo.Recent(ctx, conv, activityWindow)
	if err != nil {
		s.logger.Warn("failed to read history for echo", zap.String("conversation", conv.String()), zap.Error(err))
		return false
	}
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].Sender == domain.SenderBot && strings.TrimSpace(recent[i].Text) == text {
			return true
		}
	}
	return false
}

// lockConversation locks conv and returns its unlock func
func (s *ConversationService) lockConversation(conv domain.ConversationKey) func() {
	key := conv.String()
	s.locksMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &conversationLock{}
		s.locks[key] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.locksMu.Unlock()
	}
}
