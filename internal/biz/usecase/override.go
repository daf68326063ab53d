package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
)

// Operator sigils
const (
	SigilOwnerSpeak = "."
	SigilAdmin      = "!"
)

// CommandKind is the bypass behaviour selected by a sigil
type CommandKind int

const (
	CommandOwnerSpeak CommandKind = iota + 1
	CommandAdminInstruction
)

// Command is parsed operator input
type Command struct {
	Kind CommandKind
	Text string // sigil stripped, trimmed
	// Echo is set when the owner typed the command in the platform app,
	// so the customer has already seen it
	Echo bool
}

// ParseCommand detects an operator sigil. ok is false for plain input.
func ParseCommand(input string) (Command, bool) {
	raw := strings.TrimSpace(input)
	switch {
	case strings.HasPrefix(raw, SigilOwnerSpeak):
		return Command{Kind: CommandOwnerSpeak, Text: strings.TrimSpace(raw[len(SigilOwnerSpeak):])}, true
	case strings.HasPrefix(raw, SigilAdmin):
		return Command{Kind: CommandAdminInstruction, Text: strings.TrimSpace(raw[len(SigilAdmin):])}, true
	}
	return Command{}, false
}

// learning runs detached from the operator request
const learnTimeout = 60 * time.Second

// OverrideUsecase applies operator commands that bypass the model
type OverrideUsecase struct {
	botRepo     repo.BotRepo
	historyRepo repo.HistoryRepo
	buffer      *BufferUsecase
	actions     *ActionUsecase
	learning    *LearningUsecase
	dispatcher  *Dispatcher
	composer    *Composer
	contexts    *ContextStore
	logger      *zap.Logger

	wg sync.WaitGroup
}

// NewOverrideUsecase creates a new override usecase
func NewOverrideUsecase(
	botRepo repo.BotRepo,
	historyRepo repo.HistoryRepo,
	buffer *BufferUsecase,
	actions *ActionUsecase,
	learning *LearningUsecase,
	dispatcher *Dispatcher,
	composer *Composer,
	contexts *ContextStore,
	logger *zap.Logger,
) *OverrideUsecase {
	return &OverrideUsecase{
		botRepo:     botRepo,
		historyRepo: historyRepo,
		buffer:      buffer,
		actions:     actions,
		learning:    learning,
		dispatcher:  dispatcher,
		composer:    composer,
		contexts:    contexts,
		logger:      logger,
	}
}

// Handle applies a parsed command to a conversation
func (uc *OverrideUsecase) Handle(ctx context.Context, conv domain.ConversationKey, cmd Command) error {
	if cmd.Text == "" {
		return nil
	}
	switch cmd.Kind {
	case CommandOwnerSpeak:
		return uc.ownerSpeak(ctx, conv, cmd.Text, cmd.Echo)
	case CommandAdminInstruction:
		return uc.adminInstruction(ctx, conv, cmd.Text)
	}
	return nil
}

// Wait blocks until background learning has finished
func (uc *OverrideUsecase) Wait() {
	uc.wg.Wait()
}

func (uc *OverrideUsecase) ownerSpeak(ctx context.Context, conv domain.ConversationKey, text string, echo bool) error {
	if dropped := uc.buffer.Cancel(conv); dropped > 0 {
		uc.logger.Info("owner took over, buffered input dropped",
			zap.String("conversation", conv.String()),
			zap.Int("items", dropped))
	}

	bot, err := uc.botRepo.Get(ctx, conv.BotID)
	if err != nil {
		return err
	}

	// read before the owner message lands in history
	var question string
	if bot.IsListening {
		if msgs, err := uc.historyRepo.Recent(ctx, conv, historyFetchLimit); err == nil {
			c := &domain.Conversation{Key: conv, History: msgs}
			if last := c.LastCustomerMessage(); last != nil {
				question = last.Text
			}
		}
	}

	if echo {
		uc.dispatcher.Record(ctx, bot.ID, conv, text)
	} else {
		uc.dispatcher.Send(ctx, bot, conv, text)
	}

	if bot.IsActive {
		current := bot.Flags()
		next := domain.Flags{IsActive: false, IsListening: current.IsListening}
		swapped, err := uc.botRepo.CompareAndSetFlags(ctx, bot.ID, current, next)
		if err != nil {
			uc.logger.Error("failed to deactivate bot", zap.Int64("bot_id", bot.ID), zap.Error(err))
		} else if swapped {
			uc.dispatcher.SystemNote(ctx, bot.ID, conv, uc.composer.Config().NoteAutoDeactivate)
			uc.dispatcher.Notify(ctx, &domain.Notice{BotID: bot.ID, Kind: domain.NoticeState, Conversation: conv, Flags: &next})
		}
	}

	if bot.IsListening && question != "" {
		uc.wg.Add(1)
		go func() {
			defer uc.wg.Done()
			lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), learnTimeout)
			defer cancel()
			uc.learning.LearnFromCorrection(lctx, bot.ID, conv, question, text)
		}()
	}
	return nil
}

func (uc *OverrideUsecase) adminInstruction(ctx context.Context, conv domain.ConversationKey, instruction string) error {
	bot, err := uc.botRepo.Get(ctx, conv.BotID)
	if err != nil {
		return err
	}

	if bot.PendingAction != nil {
		err := uc.actions.Resolve(ctx, bot.ID, instruction)
		if !errors.Is(err, ErrNoPendingAction) {
			return err
		}
		// lost the race for the slot; treat as a standing update
	}

	uc.contexts.Append(bot.ID, instruction)
	if _, err := uc.botRepo.AppendObservation(ctx, bot.ID, instruction); err != nil {
		return err
	}
	uc.dispatcher.SystemNote(ctx, bot.ID, conv, uc.composer.Note(uc.composer.Config().NoteMemoryUpdated, "{{instruction}}", instruction))
	return nil
}
