package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rawbot-ai/rawbot/internal/api"
	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
	"github.com/rawbot-ai/rawbot/internal/data"
	"github.com/rawbot-ai/rawbot/internal/server"
	"github.com/rawbot-ai/rawbot/internal/service"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve platform webhooks, the control API and the notice socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	if err := cfg.ValidateWebhook(); err != nil {
		return err
	}

	hub := server.NewHub(logger.Named("ws"))
	console := data.NewConsoleSender(func(conv domain.ConversationKey, text string) {
		logger.Info("[Console] reply", zap.String("conversation", conv.String()), zap.String("text", text))
	})

	var notifier data.MultiNotifier
	a, err := newApp(ctx, func(repos *data.Repositories) (repo.PlatformRepo, repo.Notifier) {
		notifier = data.MultiNotifier{hub, repos.Alerts}
		return data.NewChannelRouter(repos.Graph, console), notifier
	})
	if err != nil {
		return err
	}
	defer a.repos.Close()

	svc := service.NewConversationService(a.uc, a.repos.Bots, a.repos.History, logger.Named("service"))
	svc.Start()
	defer svc.Stop()

	watcher := service.NewStateWatcher(a.repos.Bots, hub, logger.Named("state"))
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	if cfg.Server.ReminderAfter > 0 {
		reminder := service.NewPendingReminder(a.repos.Bots, notifier, cfg.Server.ReminderAfter, logger.Named("reminder"))
		reminder.Start()
		defer reminder.Stop()
	}

	router := server.NewRouter(hub,
		server.NewWebhookServer(svc, cfg.Meta.VerifyToken, logger.Named("webhook")),
		api.NewServer(a.uc, svc, a.repos.History, logger.Named("api")),
	)
	httpSrv := server.NewHTTPServer(":"+cfg.Server.Port, router, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpSrv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		hub.Close()
		return httpSrv.Stop(shutdownCtx)
	})

	logger.Info("Starting rawbot",
		zap.String("version", version),
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.String("llm", cfg.LLM.Provider))
	return g.Wait()
}
