package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/automail/automail/internal/credential"
	"github.com/automail/automail/internal/deliver"
	"github.com/automail/automail/internal/logging"
	"github.com/automail/automail/internal/model"
	"github.com/automail/automail/internal/monitor"
	"github.com/automail/automail/internal/sink/telegram"
	"github.com/automail/automail/internal/source/imapsource"
	"github.com/automail/automail/internal/store"
)

func main() {
	// Local overrides for development; missing .env is fine.
	_ = godotenv.Load()

	var configPath string

	rootCmd := &cobra.Command{
		Use:          "automail",
		Short:        "Forward new mailbox messages to Telegram chats",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", model.DefaultConfigPath(), "path to config file",
	)

	rootCmd.AddCommand(
		runCmd(&configPath),
		onceCmd(&configPath),
		historyCmd(&configPath),
		credentialCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Monitor all configured mailboxes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.close()

			ctx, stop := signal.NotifyContext(
				context.Background(), os.Interrupt, syscall.SIGTERM,
			)
			defer stop()

			// SIGHUP polls every mailbox immediately, ahead of the tickers.
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go func() {
				for range hup {
					app.logger.Info("immediate poll requested")
					app.poller.TriggerAll()
				}
			}()

			app.logger.Info("monitoring started",
				zap.Int("mailboxes", app.mailboxCount),
			)
			return app.poller.Run(ctx)
		},
	}
}

func onceCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single polling cycle for every mailbox and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.close()

			ctx, stop := signal.NotifyContext(
				context.Background(), os.Interrupt, syscall.SIGTERM,
			)
			defer stop()

			var failed bool
			for _, report := range app.poller.RunOnce(ctx) {
				if report.Err != nil {
					failed = true
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n",
						report.MailboxID, report.Err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(),
					"%s: notified=%d skipped=%d initialized=%v\n",
					report.MailboxID, report.Notified,
					report.Skipped, report.Initialized,
				)
			}
			if failed {
				return fmt.Errorf("one or more mailboxes failed")
			}
			return nil
		},
	}
}

func historyCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently delivered notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := model.LoadConfig(*configPath)
			if err != nil {
				return err
			}

			st, err := store.NewSQLiteStore(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			deliveries, err := st.RecentDeliveries(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NOTIFIED\tMAILBOX\tFROM\tSUBJECT\tFILES")
			for _, d := range deliveries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
					d.NotifiedAt.Local().Format("2006-01-02 15:04"),
					d.MailboxID, d.Sender, d.Subject, d.AttachmentCount,
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to show")
	return cmd
}

func credentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage secrets in the system keyring",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a secret under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return credential.Set(args[0], args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return credential.Delete(args[0])
		},
	})

	return cmd
}

// app bundles everything a monitoring command needs.
type app struct {
	logger       *zap.Logger
	store        *store.SQLiteStore
	poller       *monitor.Poller
	mailboxCount int
}

func (a *app) close() {
	_ = a.store.Close()
	_ = a.logger.Sync()
}

// buildApp loads configuration and wires store, sink, scheduler,
// orchestrator, and one source adapter per enabled mailbox.
func buildApp(configPath string) (*app, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	st, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	token, err := resolveBotToken(cfg.Telegram)
	if err != nil {
		st.Close()
		return nil, err
	}

	scheduler := deliver.New(
		telegram.NewClient(telegram.DefaultBaseURL, token),
		time.Duration(cfg.Telegram.AttachmentDelaySec)*time.Second,
		cfg.Telegram.MaxSendAttempts,
		logger,
	)

	orchestrator := monitor.NewOrchestrator(
		st, scheduler, cfg.Telegram.MessageLimit, logger,
	)
	poller := monitor.NewPoller(orchestrator, logger)

	count := 0
	for _, mb := range cfg.Mailboxes {
		if !mb.Enabled {
			logger.Info("mailbox disabled, skipping", zap.String("mailbox", mb.ID))
			continue
		}

		password, err := resolvePassword(mb)
		if err != nil {
			st.Close()
			return nil, err
		}

		poller.Register(imapsource.NewAdapter(mb, password, logger), mb)
		count++
	}

	if count == 0 {
		st.Close()
		return nil, fmt.Errorf("no enabled mailboxes in %s", configPath)
	}

	return &app{
		logger:       logger,
		store:        st,
		poller:       poller,
		mailboxCount: count,
	}, nil
}

// resolveBotToken returns the Telegram bot token from the config, the
// keyring, or the AUTOMAIL_BOT_TOKEN environment variable, in that
// order.
func resolveBotToken(cfg model.TelegramConfig) (string, error) {
	if cfg.BotToken != "" {
		return cfg.BotToken, nil
	}
	if cfg.BotTokenKey != "" {
		token, err := credential.Get(cfg.BotTokenKey)
		if err != nil {
			return "", fmt.Errorf("loading bot token from keyring: %w", err)
		}
		return token, nil
	}
	if token := os.Getenv("AUTOMAIL_BOT_TOKEN"); token != "" {
		return token, nil
	}
	return "", fmt.Errorf(
		"no bot token: set telegram.bot_token, telegram.bot_token_key, or AUTOMAIL_BOT_TOKEN",
	)
}

// resolvePassword returns the mailbox password from the
// AUTOMAIL_PASSWORD_<ID> environment variable or the keyring.
func resolvePassword(mb model.MailboxConfig) (string, error) {
	envKey := "AUTOMAIL_PASSWORD_" + strings.ToUpper(
		strings.ReplaceAll(mb.ID, "-", "_"),
	)
	if pw := os.Getenv(envKey); pw != "" {
		return pw, nil
	}
	if mb.PasswordKey != "" {
		pw, err := credential.Get(mb.PasswordKey)
		if err != nil {
			return "", fmt.Errorf(
				"mailbox %s: loading password from keyring: %w", mb.ID, err,
			)
		}
		return pw, nil
	}
	return "", fmt.Errorf(
		"mailbox %s: no password: set %s or password_key", mb.ID, envKey,
	)
}
