package biz

import (
	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz/repo"
	"github.com/rawbot-ai/rawbot/internal/biz/usecase"
)

// Deps are the collaborators the usecases are built on
type Deps struct {
	Bots     repo.BotRepo
	History  repo.HistoryRepo
	LLM      repo.LLMRepo
	Platform repo.PlatformRepo
	Notifier repo.Notifier
}

// Usecases contains all usecases
type Usecases struct {
	Bot          *usecase.BotUsecase
	Buffer       *usecase.BufferUsecase
	Conversation *usecase.ConversationUsecase
	Action       *usecase.ActionUsecase
	Override     *usecase.OverrideUsecase
	Learning     *usecase.LearningUsecase
	Dispatcher   *usecase.Dispatcher
	Composer     *usecase.Composer
	Contexts     *usecase.ContextStore
}

// NewUsecases wires every usecase together
func NewUsecases(d Deps, prompts usecase.PromptConfig, buffer usecase.BufferConfig, logger *zap.Logger) *Usecases {
	composer := usecase.NewComposer(prompts)
	contexts := usecase.NewContextStore()
	dispatcher := usecase.NewDispatcher(d.Platform, d.History, d.Notifier, logger.Named("dispatch"))
	generator := usecase.NewGenerator(d.LLM, d.History, prompts, logger.Named("llm"))
	bufferUC := usecase.NewBufferUsecase(buffer, logger.Named("buffer"))
	actionUC := usecase.NewActionUsecase(d.Bots, composer, generator, dispatcher, contexts, logger.Named("action"))
	learningUC := usecase.NewLearningUsecase(d.LLM, d.Bots, composer, dispatcher, logger.Named("learning"))

	return &Usecases{
		Bot:          usecase.NewBotUsecase(d.Bots, dispatcher, contexts, logger.Named("bot")),
		Buffer:       bufferUC,
		Conversation: usecase.NewConversationUsecase(d.Bots, composer, generator, dispatcher, actionUC, contexts, logger.Named("conversation")),
		Action:       actionUC,
		Override:     usecase.NewOverrideUsecase(d.Bots, d.History, bufferUC, actionUC, learningUC, dispatcher, composer, contexts, logger.Named("override")),
		Learning:     learningUC,
		Dispatcher:   dispatcher,
		Composer:     composer,
		Contexts:     contexts,
	}
}
