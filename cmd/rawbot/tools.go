package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz"
	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/data"
	"github.com/rawbot-ai/rawbot/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var apiURL string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve owner control tools over MCP stdio, backed by a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if apiURL == "" {
				apiURL = cfg.Server.APIURL
			}
			h := mcp.NewHandler(mcp.NewClient(apiURL), version, logger.Named("mcp"))
			return h.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&apiURL, "api", "", "rawbot API base URL (default $RAWBOT_API_URL)")
	return cmd
}

func newSendCmd() *cobra.Command {
	var (
		botID   int64
		channel string
		to      string
		text    string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to a customer as the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ch, err := domain.ParseChannel(channel)
			if err != nil {
				return err
			}
			if ch == domain.ChannelConsole {
				return fmt.Errorf("console conversations have no platform recipient")
			}

			repos, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer repos.Close()

			bot, err := repos.Bots.Get(ctx, botID)
			if err != nil {
				return err
			}
			conv := domain.ConversationKey{BotID: bot.ID, Channel: ch, CustomerID: to}
			sender := data.NewGraphSender(cfg.Meta.GraphAPIBase, nil)
			if err := sender.Send(ctx, bot, conv, text); err != nil {
				return fmt.Errorf("failed to send: %w", err)
			}

			msg := domain.NewMessage(conv, domain.SenderBot, text, time.Now())
			msg.Delivered = true
			if err := repos.History.Append(ctx, msg); err != nil {
				logger.Warn("failed to record message", zap.Error(err))
			}
			logger.Info("[Send] delivered", zap.String("conversation", conv.String()))
			return nil
		},
	}
	cmd.Flags().Int64Var(&botID, "bot", 0, "bot id")
	cmd.Flags().StringVar(&channel, "channel", "", "instagram or whatsapp")
	cmd.Flags().StringVar(&to, "to", "", "customer id (IGSID or phone number)")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	for _, f := range []string{"bot", "channel", "to", "text"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newBotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Manage bot profiles",
	}

	var (
		name, store, business, language string
		igBusiness, igToken              string
		waPhoneID, waToken               string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a bot and print its id and license key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repos, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer repos.Close()

			bot := &domain.BotProfile{
				BotName:      name,
				StoreName:    store,
				BusinessType: business,
				Language:     domain.LanguageMode(language),
				IsActive:     true,
			}
			if igBusiness != "" {
				bot.Instagram = domain.InstagramChannel{Connected: true, BusinessID: igBusiness, AccessToken: igToken}
			}
			if waPhoneID != "" {
				bot.WhatsApp = domain.WhatsAppChannel{Connected: true, PhoneNumberID: waPhoneID, AccessToken: waToken}
			}
			if err := storeUsecases(repos).Bot.Create(ctx, bot); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bot %d created, license key %s\n", bot.ID, bot.License.Key)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "persona name")
	create.Flags().StringVar(&store, "store", "", "store name")
	create.Flags().StringVar(&business, "business", "", "business type")
	create.Flags().StringVar(&language, "language", "", "ar, en or both")
	create.Flags().StringVar(&igBusiness, "ig-business-id", "", "Instagram business account id")
	create.Flags().StringVar(&igToken, "ig-token", "", "Instagram access token")
	create.Flags().StringVar(&waPhoneID, "wa-phone-number-id", "", "WhatsApp phone number id")
	create.Flags().StringVar(&waToken, "wa-token", "", "WhatsApp access token")

	list := &cobra.Command{
		Use:   "list",
		Short: "List bots",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repos, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer repos.Close()

			bots, err := repos.Bots.List(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTORE\tACTIVE\tLISTENING\tLICENSED\tPENDING")
			now := time.Now()
			for _, b := range bots {
				pending := "-"
				if b.PendingAction != nil {
					pending = string(b.PendingAction.Type)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%t\t%t\t%s\n",
					b.ID, b.BotName, b.StoreName, b.IsActive, b.IsListening, b.License.Usable(now), pending)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func newLicenseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Generate and activate license keys",
	}

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Print a new license key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := domain.GenerateLicenseKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}

	var (
		botID int64
		key   string
		days  int
	)
	activate := &cobra.Command{
		Use:   "activate",
		Short: "Activate a bot's license",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repos, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer repos.Close()

			bot, err := storeUsecases(repos).Bot.ActivateLicense(ctx, botID, strings.TrimSpace(key), time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "license for bot %d active until %s\n", bot.ID, bot.License.ExpiresAt.Format(time.DateOnly))
			return nil
		},
	}
	activate.Flags().Int64Var(&botID, "bot", 0, "bot id")
	activate.Flags().StringVar(&key, "key", "", "license key")
	activate.Flags().IntVar(&days, "days", 365, "validity in days")
	activate.MarkFlagRequired("bot")
	activate.MarkFlagRequired("key")

	cmd.AddCommand(generate, activate)
	return cmd
}

// storeUsecases wires the usecases that only touch storage
func storeUsecases(repos *data.Repositories) *biz.Usecases {
	return biz.NewUsecases(biz.Deps{
		Bots:    repos.Bots,
		History: repos.History,
	}, cfg.ToPromptConfig(), cfg.Buffer.ToBufferConfig(), logger)
}
