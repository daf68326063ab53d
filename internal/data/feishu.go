package data

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
)

// AlertSender is the part of the Feishu client the notifier needs
type AlertSender interface {
	SendRichText(ctx context.Context, chatID, title string, lines []string) error
	SendTextMentionAll(ctx context.Context, chatID, text string) error
}

// feishuNotifier forwards escalation notices to a Feishu alert chat
type feishuNotifier struct {
	client AlertSender
	chatID string
	logger *zap.Logger
}

// NewFeishuNotifier creates a notifier posting escalations to chatID
func NewFeishuNotifier(client AlertSender, chatID string, logger *zap.Logger) repo.Notifier {
	return &feishuNotifier{client: client, chatID: chatID, logger: logger}
}

// Notify alerts on hot leads and on questions waiting for the owner.
// Other notice kinds are dropped.
func (n *feishuNotifier) Notify(ctx context.Context, notice *domain.Notice) error {
	switch notice.Kind {
	case domain.NoticeHandoff:
		text := fmt.Sprintf("🔥 عميل جاهز للشراء (bot %d, %s/%s): %s",
			notice.BotID, notice.Conversation.Channel, notice.Conversation.CustomerID, actionQuestion(notice))
		if err := n.client.SendTextMentionAll(ctx, n.chatID, text); err != nil {
			return fmt.Errorf("failed to send handoff alert: %w", err)
		}
	case domain.NoticeOpenPanel, domain.NoticePendingOverwritten:
		lines := []string{
			fmt.Sprintf("bot: %d", notice.BotID),
			fmt.Sprintf("conversation: %s", notice.Conversation),
			fmt.Sprintf("question: %s", actionQuestion(notice)),
		}
		if notice.Action != nil {
			lines = append(lines, fmt.Sprintf("type: %s", notice.Action.Type))
		}
		title := "⚠️ المساعد يحتاج توجيهك"
		if notice.Kind == domain.NoticePendingOverwritten {
			title = "♻️ تم استبدال الطلب المعلق"
		}
		if err := n.client.SendRichText(ctx, n.chatID, title, lines); err != nil {
			return fmt.Errorf("failed to send panel alert: %w", err)
		}
	default:
		return nil
	}

	n.logger.Debug("feishu alert sent",
		zap.Int64("bot_id", notice.BotID),
		zap.String("kind", string(notice.Kind)))
	return nil
}

func actionQuestion(n *domain.Notice) string {
	if n.Action != nil {
		return n.Action.UserMessage
	}
	return n.Text
}

// MultiNotifier fans a notice out to several notifiers
type MultiNotifier []repo.Notifier

// Notify delivers to every notifier and joins their errors
func (m MultiNotifier) Notify(ctx context.Context, n *domain.Notice) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
