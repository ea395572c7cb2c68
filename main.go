package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ticketbot/bot"
	"ticketbot/clock"
	"ticketbot/config"
	"ticketbot/lang"
	"ticketbot/logging"
	"ticketbot/ops"
	"ticketbot/sinks"
	"ticketbot/storage"
	"ticketbot/throttle"
	"ticketbot/tickets"
)

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:          "ticketbot",
		Short:        "Discord support ticket bot",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "Path to config file")

	rootCmd.AddCommand(initCmd(&configPath))
	rootCmd.AddCommand(runCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(settingsCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config, the logger and the message catalog.
func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logger.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	if cfg.Lang.Path != "" {
		active, n, err := lang.Load(cfg.Lang.Path)
		if err != nil {
			logger.Warn("language file not loaded, using built-in messages", zap.String("path", cfg.Lang.Path), zap.Error(err))
		} else {
			logger.Info("language file loaded", zap.String("language", active), zap.Int("keys", n))
		}
	}
	return cfg, logger, nil
}

func initCmd(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(*configPath); err == nil && !force {
				return fmt.Errorf("%s already exists\nHint: pass --force to overwrite it", *configPath)
			}
			cfg, err := config.LoadConfig("")
			if err != nil {
				return err
			}
			if cfg.Discord.Token == "" {
				cfg.Discord.Token = "YOUR_DISCORD_BOT_TOKEN_HERE"
			}
			if err := config.SaveConfig(cfg, *configPath); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Printf("%s Wrote %s\n", color.New(color.FgGreen).Sprint("✓"), *configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func runCmd(configPath *string) *cobra.Command {
	var cleanup bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and serve the ticket system",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			return run(cfg, logger, cleanup)
		},
	}
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "Remove slash commands on shutdown")
	return cmd
}

func run(cfg *config.Config, logger *zap.Logger, cleanup bool) error {
	if cfg.Discord.Token == "" || cfg.Discord.Token == "YOUR_DISCORD_BOT_TOKEN_HERE" {
		return errors.New("set the bot token in config.json (discord.token) or DISCORD_TOKEN")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	clk := clock.Real()
	deps := map[string]ops.Pinger{"store": store}

	var throttleStore throttle.Store = throttle.NewMemoryStore()
	if cfg.Throttle.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		rs := throttle.NewRedisStore(client, "")
		throttleStore = rs
		deps["redis"] = rs
	}
	th := throttle.New(throttleStore, clk, logger.Named("throttle"))

	b, err := bot.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	fanout := sinks.NewMulti(sinks.NewDiscordSink(b.Session, store, cfg.Tickets.LogChannel, logger))
	if cfg.Sinks.AMQP.Enabled {
		amqpSink, err := sinks.NewAMQPSink(cfg.Sinks.AMQP.URL, cfg.Sinks.AMQP.Exchange, logger)
		if err != nil {
			logger.Warn("AMQP sink disabled", zap.Error(err))
		} else {
			fanout.Add(amqpSink)
		}
	}
	if cfg.Sinks.WebSocket.Enabled {
		fanout.Add(sinks.NewWebSocketSink(cfg.Sinks.WebSocket.URL, cfg.Sinks.WebSocket.Token, logger))
	}
	defer fanout.Close()

	counters := ops.NewCounters()
	orch := tickets.New(tickets.Deps{
		Config:   &cfg.Tickets,
		Store:    store,
		Throttle: th,
		Sink:     fanout,
		Clock:    clk,
		Logger:   logger,
		Metrics:  counters,
	})
	b.Route(ctx, func(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
		counters.Inc("interactions")
		orch.HandleInteraction(ctx, s, i)
	})

	if cfg.Ops.Enabled {
		srv := ops.NewServer(deps, opsStatus{b, orch}, counters, logger)
		srv.Start(cfg.Ops.Addr)
		defer srv.Shutdown() //nolint:errcheck
	}

	if err := b.Start(); err != nil {
		return fmt.Errorf("start bot: %w", err)
	}
	defer b.Stop()

	b.RegisterCommands(tickets.Commands())
	logger.Info("bot is running, press Ctrl+C to exit",
		zap.String("store", cfg.Database.Driver),
		zap.String("throttle", cfg.Throttle.Backend),
		zap.Int("sinks", fanout.Len()))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	sig := <-stop
	logger.Info("shutting down", zap.String("signal", sig.String()))

	cancel()
	if cleanup {
		b.CleanupCommands()
	}
	return nil
}

type opsStatus struct {
	bot  *bot.Bot
	orch *tickets.Orchestrator
}

func (s opsStatus) GatewayReady() bool  { return s.bot.GatewayReady() }
func (s opsStatus) PendingPrompts() int { return s.orch.PendingPrompts() }

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the ticket schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx := cmd.Context()
			store, err := storage.Open(ctx, &cfg.Database, logger)
			if err != nil {
				fmt.Printf("  %s %s: %v\n", color.New(color.FgRed).Sprint("FAILED"), cfg.Database.Driver, err)
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				fmt.Printf("  %s %s: %v\n", color.New(color.FgRed).Sprint("FAILED"), cfg.Database.Driver, err)
				return err
			}
			fmt.Printf("  %s %s schema is up to date\n", color.New(color.FgGreen).Sprint("✓"), cfg.Database.Driver)
			return nil
		},
	}
}

func settingsCmd(configPath *string) *cobra.Command {
	var (
		guildID      string
		logChannel   string
		rulesChannel string
		chatbot      bool
	)
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or update the per-guild ticket settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if guildID == "" {
				guildID = cfg.Discord.GuildID
			}
			if guildID == "" {
				return errors.New("no guild given\nHint: use --guild or set discord.guild_id")
			}

			ctx := cmd.Context()
			store, err := storage.Open(ctx, &cfg.Database, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return err
			}

			gs, err := store.GuildSettings(ctx, guildID)
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			gs.GuildID = guildID
			flags := cmd.Flags()
			changed := false
			if flags.Changed("log-channel") {
				gs.TicketLogsChannelID, changed = logChannel, true
			}
			if flags.Changed("rules-channel") {
				gs.RulesChannelID, changed = rulesChannel, true
			}
			if flags.Changed("chatbot") {
				gs.TicketChatbotEnabled, changed = chatbot, true
			}
			if changed {
				if err := store.SaveGuildSettings(ctx, gs); err != nil {
					return fmt.Errorf("save settings: %w", err)
				}
				fmt.Printf("%s Saved settings for guild %s\n", color.New(color.FgGreen).Sprint("✓"), guildID)
			}

			fmt.Printf("Guild %s\n", guildID)
			fmt.Printf("  Log channel:   %s\n", orUnset(gs.TicketLogsChannelID))
			fmt.Printf("  Rules channel: %s\n", orUnset(gs.RulesChannelID))
			fmt.Printf("  Chatbot:       %t\n", gs.TicketChatbotEnabled)
			return nil
		},
	}
	cmd.Flags().StringVar(&guildID, "guild", "", "Guild ID (defaults to discord.guild_id)")
	cmd.Flags().StringVar(&logChannel, "log-channel", "", "Ticket log channel ID")
	cmd.Flags().StringVar(&rulesChannel, "rules-channel", "", "Rules channel ID")
	cmd.Flags().BoolVar(&chatbot, "chatbot", false, "Whether an automated assistant answers new tickets")
	return cmd
}

func orUnset(s string) string {
	if s == "" {
		return color.New(color.FgYellow).Sprint("(not set)")
	}
	return s
}
