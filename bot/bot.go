package bot

import (
	"context"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"ticketbot/config"
)

// InteractionFunc handles one interaction and may block on user input.
type InteractionFunc func(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate)

type Bot struct {
	Session *discordgo.Session
	Config  *config.Config

	logger    *zap.Logger
	ready     chan struct{}
	connected atomic.Bool
}

func New(cfg *config.Config, logger *zap.Logger) (*Bot, error) {
	s, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsDirectMessages
	return &Bot{
		Session: s,
		Config:  cfg,
		logger:  logger.Named("bot"),
		ready:   make(chan struct{}),
	}, nil
}

// Route sends every interaction to h, guild and DM alike. discordgo runs each
// event handler on its own goroutine, so h may wait on follow-up clicks.
func (b *Bot) Route(ctx context.Context, h InteractionFunc) {
	b.Session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		h(ctx, s, i)
	})
}

func (b *Bot) Start() error {
	b.Session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.Info("bot is online", zap.String("user", r.User.Username), zap.Int("guilds", len(r.Guilds)))
		b.connected.Store(true)
		select {
		case <-b.ready:
		default:
			close(b.ready)
		}
	})
	b.Session.AddHandler(func(s *discordgo.Session, _ *discordgo.Disconnect) {
		b.logger.Warn("gateway disconnected")
		b.connected.Store(false)
	})
	b.Session.AddHandler(func(s *discordgo.Session, _ *discordgo.Resumed) {
		b.logger.Info("gateway resumed")
		b.connected.Store(true)
	})
	return b.Session.Open()
}

func (b *Bot) Stop() {
	_ = b.Session.Close()
}

// GatewayReady reports whether the gateway session is currently up.
func (b *Bot) GatewayReady() bool {
	return b.connected.Load()
}

func (b *Bot) RegisterCommands(cmds []*discordgo.ApplicationCommand) []*discordgo.ApplicationCommand {
	<-b.ready

	appID := b.Session.State.User.ID
	guildID := b.Config.Discord.GuildID
	log := b.logger.With(zap.String("app_id", appID), zap.String("guild_id", guildID))

	log.Info("registering commands", zap.Int("count", len(cmds)))
	registered, err := b.Session.ApplicationCommandBulkOverwrite(appID, guildID, cmds)
	if err != nil {
		log.Error("bulk-overwrite commands failed", zap.Error(err))
		return nil
	}
	log.Info("registered slash commands", zap.Int("count", len(registered)))
	return registered
}

func (b *Bot) CleanupCommands() {
	<-b.ready
	appID := b.Session.State.User.ID
	guildID := b.Config.Discord.GuildID
	if _, err := b.Session.ApplicationCommandBulkOverwrite(appID, guildID, []*discordgo.ApplicationCommand{}); err != nil {
		b.logger.Error("clean up commands failed", zap.Error(err))
		return
	}
	b.logger.Info("cleaned up all slash commands")
}
