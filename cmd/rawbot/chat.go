package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
	"github.com/rawbot-ai/rawbot/internal/biz/usecase"
	"github.com/rawbot-ai/rawbot/internal/data"
	"github.com/rawbot-ai/rawbot/internal/service"
)

func newChatCmd() *cobra.Command {
	var (
		botID    int64
		customer string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a bot from the terminal as a customer or as its owner",
		Long: `Each line is one customer message. Lines starting with "." are sent
to the customer as the owner; lines starting with "!" are instructions for
the bot. Commands: /listen on|off, /active on|off, /dismiss, /state, /quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, botID, customer, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().Int64Var(&botID, "bot", 0, "bot id")
	cmd.Flags().StringVar(&customer, "customer", "console", "customer id of the console conversation")
	cmd.MarkFlagRequired("bot")
	return cmd
}

// terminal serializes output from the REPL and the flush goroutine
type terminal struct {
	mu  sync.Mutex
	out io.Writer
}

func (t *terminal) printf(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

// Notify prints operator notices inline
func (t *terminal) Notify(ctx context.Context, n *domain.Notice) error {
	switch n.Kind {
	case domain.NoticeMessage, domain.NoticeState:
		return nil
	case domain.NoticeHandoff:
		t.printf("🔥 [handoff] %s\n", n.Text)
	case domain.NoticeOpenPanel:
		if n.Action != nil {
			t.printf("❓ [%s] %s\n", n.Action.Type, n.Action.UserMessage)
		} else {
			t.printf("❓ %s\n", n.Text)
		}
	default:
		t.printf("ℹ️  [%s] %s\n", n.Kind, n.Text)
	}
	return nil
}

func runChat(ctx context.Context, botID int64, customer string, in io.Reader, out io.Writer) error {
	term := &terminal{out: out}
	console := data.NewConsoleSender(func(conv domain.ConversationKey, text string) {
		term.printf("🤖 %s\n", text)
	})

	a, err := newApp(ctx, func(repos *data.Repositories) (repo.PlatformRepo, repo.Notifier) {
		return data.NewChannelRouter(repos.Graph, console), data.MultiNotifier{term, repos.Alerts}
	})
	if err != nil {
		return err
	}
	defer a.repos.Close()

	bot, err := a.uc.Bot.Get(ctx, botID)
	if err != nil {
		return fmt.Errorf("failed to load bot %d: %w", botID, err)
	}

	svc := service.NewConversationService(a.uc, a.repos.Bots, a.repos.History, logger.Named("service"))
	svc.Start()
	defer svc.Stop()

	conv := domain.ConversationKey{BotID: bot.ID, Channel: domain.ChannelConsole, CustomerID: customer}
	term.printf("Chatting with %s (%s). /quit to exit.\n", bot.BotName, bot.StoreName)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				quit, err := a.chatCommand(ctx, term, bot.ID, line)
				if err != nil {
					term.printf("error: %v\n", err)
				}
				if quit {
					return nil
				}
				continue
			}
			if err := svc.HandleConsoleInput(ctx, conv, line); err != nil {
				term.printf("error: %v\n", err)
			}
		}
	}
}

func (a *app) chatCommand(ctx context.Context, term *terminal, botID int64, line string) (bool, error) {
	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/listen", "/active":
		on, err := parseSwitch(arg)
		if err != nil {
			return false, err
		}
		var flags domain.Flags
		if fields[0] == "/listen" {
			flags, err = a.uc.Bot.SetMode(ctx, botID, nil, &on)
		} else {
			flags, err = a.uc.Bot.SetMode(ctx, botID, &on, nil)
		}
		if err != nil {
			return false, err
		}
		term.printf("active=%t listening=%t\n", flags.IsActive, flags.IsListening)

	case "/dismiss":
		action, err := a.uc.Action.Dismiss(ctx, botID)
		if errors.Is(err, usecase.ErrNoPendingAction) {
			term.printf("no pending action\n")
			return false, nil
		}
		if err != nil {
			return false, err
		}
		term.printf("dismissed %s (%s)\n", action.Type, action.UserMessage)

	case "/state":
		bot, err := a.uc.Bot.Get(ctx, botID)
		if err != nil {
			return false, err
		}
		term.printf("active=%t listening=%t observations=%d\n", bot.IsActive, bot.IsListening, len(bot.LearnedObservations))
		if pa := bot.PendingAction; pa != nil {
			term.printf("pending: %s %q since %s\n", pa.Type, pa.UserMessage, pa.CreatedAt.Format("15:04:05"))
		}
		if c := a.uc.Bot.LiveContext(botID); c != "" {
			term.printf("context:\n%s\n", c)
		}

	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}
