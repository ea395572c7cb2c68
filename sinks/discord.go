package sinks

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"ticketbot/storage"
)

type ChannelSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type SettingsProvider interface {
	GuildSettings(ctx context.Context, guildID string) (storage.GuildSettings, error)
}

// DiscordSink posts records to the guild's ticket log channel. The channel
// comes from the settings provider, falling back to the configured one.
type DiscordSink struct {
	session  ChannelSender
	settings SettingsProvider
	fallback string
	logger   *zap.Logger
}

func NewDiscordSink(session ChannelSender, settings SettingsProvider, fallbackChannel string, logger *zap.Logger) *DiscordSink {
	return &DiscordSink{
		session:  session,
		settings: settings,
		fallback: fallbackChannel,
		logger:   logger.Named("discord_sink"),
	}
}

func (d *DiscordSink) Name() string { return "discord" }

func (d *DiscordSink) channelFor(ctx context.Context, guildID string) string {
	if d.settings != nil && guildID != "" {
		gs, err := d.settings.GuildSettings(ctx, guildID)
		if err != nil {
			d.logger.Warn("settings lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		} else if gs.TicketLogsChannelID != "" {
			return gs.TicketLogsChannelID
		}
	}
	return d.fallback
}

func (d *DiscordSink) Deliver(ctx context.Context, r Record) error {
	channelID := d.channelFor(ctx, r.GuildID)
	if channelID == "" {
		d.logger.Debug("no log channel configured", zap.String("guild_id", r.GuildID))
		return nil
	}

	embed := &discordgo.MessageEmbed{
		Title:     r.Title,
		Color:     r.Color,
		Timestamp: r.At.Format("2006-01-02T15:04:05Z07:00"),
	}
	for _, f := range r.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}

	msg := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}
	if r.Artifact != nil {
		msg.Files = []*discordgo.File{{
			Name:        r.Artifact.Name,
			ContentType: "text/plain",
			Reader:      strings.NewReader(r.Artifact.Content),
		}}
	}

	_, err := d.session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
	return err
}
