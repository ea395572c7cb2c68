package tickets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"ticketbot/clock"
	"ticketbot/config"
	"ticketbot/lang"
	"ticketbot/storage"
)

const staffAllow = creatorAllow | discordgo.PermissionManageMessages

type CreateRequest struct {
	GuildID   string
	CreatorID string
	// BotID is the application id, granted access to the channel it creates.
	BotID    string
	Category config.TicketCategory
	Subject  string
}

// ChannelFactory allocates a ticket number, creates the private channel and
// persists the initial record.
type ChannelFactory struct {
	store   storage.Store
	cfg     *config.TicketsConfig
	catalog *CategorySelector
	clock   clock.Clock
	logger  *zap.Logger
}

func NewChannelFactory(store storage.Store, cfg *config.TicketsConfig, catalog *CategorySelector, c clock.Clock, logger *zap.Logger) *ChannelFactory {
	return &ChannelFactory{store: store, cfg: cfg, catalog: catalog, clock: c, logger: logger.Named("factory")}
}

// Create builds the ticket. When the channel cannot be created nothing is
// persisted and the error wraps ErrChannelCreate. Failures after the record is
// stored (summary post, pin) are logged and the ticket is returned.
func (f *ChannelFactory) Create(ctx context.Context, s Session, req CreateRequest) (*storage.Ticket, error) {
	num, err := f.store.NextTicketNumber(ctx, req.GuildID)
	if err != nil {
		return nil, fmt.Errorf("allocate ticket number: %w", err)
	}
	staffRoles := f.catalog.StaffRoles(req.Category)

	ch, err := s.GuildChannelCreateComplex(req.GuildID, discordgo.GuildChannelCreateData{
		Name:                 ChannelName(num, storage.StatusOpen),
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             f.cfg.DiscordCategory,
		Topic:                req.Subject,
		PermissionOverwrites: ticketOverwrites(req.GuildID, req.CreatorID, req.BotID, staffRoles),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChannelCreate, err)
	}

	t := &storage.Ticket{
		GuildID:   req.GuildID,
		ChannelID: ch.ID,
		UserID:    req.CreatorID,
		Number:    num,
		Category:  req.Category.ID,
		Subject:   req.Subject,
		Priority:  f.catalog.Priority(req.Category),
		Status:    storage.StatusOpen,
		CreatedAt: f.clock.Now(),
	}
	if err := f.store.CreateTicket(ctx, t); err != nil {
		if _, derr := s.ChannelDelete(ch.ID); derr != nil {
			f.logger.Warn("orphan ticket channel not removed", zap.String("channel_id", ch.ID), zap.Error(derr))
		}
		return nil, fmt.Errorf("persist ticket: %w", err)
	}

	log := f.logger.With(zap.String("guild_id", t.GuildID), zap.Int64("ticket_id", t.ID), zap.String("channel_id", t.ChannelID))

	msg, err := s.ChannelMessageSendComplex(ch.ID, f.summaryMessage(ctx, s, t, req.Category, staffRoles), discordgo.WithContext(ctx))
	if err != nil {
		log.Warn("post ticket summary failed", zap.Error(err))
		return t, nil
	}
	if err := s.ChannelMessagePin(ch.ID, msg.ID, discordgo.WithContext(ctx)); err != nil {
		log.Warn("pin ticket summary failed", zap.Error(err))
	}
	if err := f.store.SetSummaryMessage(ctx, t.ID, msg.ID); err != nil {
		log.Warn("store summary message id failed", zap.Error(err))
	} else {
		t.SummaryMessageID = msg.ID
	}
	return t, nil
}

func ticketOverwrites(guildID, creatorID, botID string, staffRoles []string) []*discordgo.PermissionOverwrite {
	overwrites := []*discordgo.PermissionOverwrite{
		{ID: guildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
		{ID: creatorID, Type: discordgo.PermissionOverwriteTypeMember, Allow: creatorAllow},
	}
	if botID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    botID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: staffAllow | discordgo.PermissionManageChannels,
		})
	}
	for _, roleID := range staffRoles {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    roleID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: staffAllow,
		})
	}
	return overwrites
}

func (f *ChannelFactory) summaryMessage(ctx context.Context, s Session, t *storage.Ticket, cat config.TicketCategory, staffRoles []string) *discordgo.MessageSend {
	settings, err := f.store.GuildSettings(ctx, t.GuildID)
	if err != nil {
		f.logger.Debug("guild settings unavailable", zap.String("guild_id", t.GuildID), zap.Error(err))
	}

	var desc strings.Builder
	desc.WriteString(lang.T("welcome_description", "user", mention(t.UserID)))
	rules := settings.RulesChannelID
	if rules == "" {
		rules = f.cfg.RulesChannel
	}
	if rules != "" {
		desc.WriteString("\n\n" + lang.T("welcome_rules", "channel", "<#"+rules+">"))
	}
	if settings.TicketChatbotEnabled {
		desc.WriteString("\n\n" + lang.T("welcome_chatbot"))
	}

	expected := cat.ExpectedResponseTime
	if expected == "" {
		expected = "-"
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: lang.T("field_category"), Value: f.catalog.Label(cat.ID), Inline: true},
		{Name: lang.T("field_priority"), Value: PriorityLabel(t.Priority), Inline: true},
		{Name: lang.T("field_expected_response"), Value: expected, Inline: true},
		{Name: lang.T("field_status"), Value: StatusLabel(t.Status), Inline: true},
	}
	if t.Subject != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: lang.T("field_subject"), Value: t.Subject})
	}
	if created, err := discordgo.SnowflakeTimestamp(t.UserID); err == nil {
		fields = append(fields, &discordgo.MessageEmbedField{Name: lang.T("field_account_created"), Value: relativeTime(created), Inline: true})
	}
	if m, err := s.GuildMember(t.GuildID, t.UserID, discordgo.WithContext(ctx)); err == nil && !m.JoinedAt.IsZero() {
		fields = append(fields, &discordgo.MessageEmbedField{Name: lang.T("field_joined"), Value: relativeTime(m.JoinedAt), Inline: true})
	}

	ping := mention(t.UserID)
	for _, roleID := range staffRoles {
		ping += " | <@&" + roleID + ">"
	}

	return &discordgo.MessageSend{
		Content: ping,
		Embeds: []*discordgo.MessageEmbed{{
			Title:       lang.T("ticket_title", "number", fmt.Sprintf("%04d", t.Number)),
			Description: desc.String(),
			Color:       0x57F287,
			Fields:      fields,
			Timestamp:   t.CreatedAt.Format(time.RFC3339),
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    lang.T("button_close"),
						Style:    discordgo.DangerButton,
						CustomID: CustomIDClose,
						Emoji:    &discordgo.ComponentEmoji{Name: "🔒"},
					},
					discordgo.Button{
						Label:    lang.T("button_faq"),
						Style:    discordgo.SecondaryButton,
						CustomID: CustomIDFAQ,
						Emoji:    &discordgo.ComponentEmoji{Name: "❓"},
					},
				},
			},
		},
	}
}

// PriorityLabel renders a priority for display.
func PriorityLabel(p storage.Priority) string {
	return lang.T("priority_" + string(p))
}

// relativeTime renders a Discord timestamp tag ("3 years ago").
func relativeTime(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}
