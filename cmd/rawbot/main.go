package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rawbot-ai/rawbot/internal/biz"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
	"github.com/rawbot-ai/rawbot/internal/conf"
	"github.com/rawbot-ai/rawbot/internal/data"
)

var version = "dev"

var (
	cfg    *conf.Config
	logger *zap.Logger
)

func main() {
	root := &cobra.Command{
		Use:           "rawbot",
		Short:         "Multi-tenant Instagram and WhatsApp sales assistant",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to load .env: %w", err)
			}
			cfg = conf.LoadFromEnv()

			var err error
			logger, err = newLogger(cfg.Debug)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				logger.Sync()
			}
		},
	}

	root.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newMCPCmd(),
		newSendCmd(),
		newBotCmd(),
		newLicenseCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger builds a production logger, or a development one in debug mode
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		zcfg := zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zcfg.Build()
	}
	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}

// app is the wired pipeline shared by the serve and chat commands
type app struct {
	repos *data.Repositories
	uc    *biz.Usecases
}

// wiring picks the outbound platform and the operator notifier once the
// repositories are open
type wiring func(repos *data.Repositories) (repo.PlatformRepo, repo.Notifier)

func newApp(ctx context.Context, wire wiring) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	repos, err := data.NewRepositories(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	platform, notifier := wire(repos)
	uc := biz.NewUsecases(biz.Deps{
		Bots:     repos.Bots,
		History:  repos.History,
		LLM:      repos.LLM,
		Platform: platform,
		Notifier: notifier,
	}, cfg.ToPromptConfig(), cfg.Buffer.ToBufferConfig(), logger)
	return &app{repos: repos, uc: uc}, nil
}

// openStore opens only the bot and history stores
func openStore(ctx context.Context) (*data.Repositories, error) {
	return data.NewStore(ctx, cfg.Store)
}
