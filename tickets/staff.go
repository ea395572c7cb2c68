package tickets

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"ticketbot/lang"
	"ticketbot/sinks"
	"ticketbot/storage"
	"ticketbot/throttle"
)

// staffTicket loads the channel's ticket and checks the manage capability.
func (o *Orchestrator) staffTicket(ctx context.Context, i *discordgo.InteractionCreate) (*storage.Ticket, error) {
	t, err := o.ticketInChannel(ctx, i)
	if err != nil {
		return nil, err
	}
	if !o.canManage(i, t.Category) {
		return nil, invalid("staff_only")
	}
	return t, nil
}

func (o *Orchestrator) handleStatus(ctx context.Context, s Session, i *discordgo.InteractionCreate, target string) {
	actor := actorID(i)
	t, err := o.staffTicket(ctx, i)
	if err != nil {
		o.fail(s, i, err)
		return
	}
	to := storage.Status(target)
	if !to.Valid() {
		o.fail(s, i, invalid("invalid_status", "status", target))
		return
	}
	if o.throttle.ShouldSuppress(throttle.Key(actor, ticketKey(t.ID, "status")), actionWindow) {
		o.suppressed(s, i, "", actor)
		return
	}
	// Reject without a round trip; Apply re-checks against the stored row.
	if err := CheckTransition(PathStatusChange, t.Status, to); err != nil {
		o.fail(s, i, err)
		return
	}
	if err := deferEphemeral(s, i); err != nil {
		o.logger.Debug("defer status failed", zap.Error(err))
	}

	before, after, err := o.status.Apply(ctx, s, t.ID, Transition{Path: PathStatusChange, To: to, Actor: actor})
	if err != nil {
		o.failEdit(s, i.Interaction, err)
		return
	}
	o.appendLog(ctx, after, actor, storage.ActionSetStatus, map[string]any{
		"from": string(before.Status),
		"to":   string(after.Status),
	})
	o.recordStaff(ctx, after, actor, "set_status")
	o.forward(ctx, after, actor, storage.ActionSetStatus, sinks.ColorInfo,
		sinks.Field{Name: lang.T("field_previous_status"), Value: StatusLabel(before.Status), Inline: true})
	_ = editResponse(s, i.Interaction, lang.T("status_updated", "status", StatusLabel(after.Status)))
}

func (o *Orchestrator) handlePriority(ctx context.Context, s Session, i *discordgo.InteractionCreate, level string) {
	actor := actorID(i)
	t, err := o.staffTicket(ctx, i)
	if err != nil {
		o.fail(s, i, err)
		return
	}
	p := storage.Priority(level)
	switch {
	case !p.Valid():
		o.fail(s, i, invalid("invalid_priority", "priority", level))
		return
	case !t.Status.Active():
		o.fail(s, i, invalid("ticket_not_active"))
		return
	case p == t.Priority:
		o.fail(s, i, invalid("priority_noop", "priority", PriorityLabel(p)))
		return
	}
	if o.throttle.ShouldSuppress(throttle.Key(actor, ticketKey(t.ID, "priority")), actionWindow) {
		o.suppressed(s, i, "", actor)
		return
	}
	if err := o.store.UpdatePriority(ctx, t.ID, p); err != nil {
		o.fail(s, i, fmt.Errorf("update priority: %w", err))
		return
	}
	prev := t.Priority
	t.Priority = p
	if err := updateSummaryField(ctx, s, t, lang.T("field_priority"), PriorityLabel(p)); err != nil {
		o.logger.Warn("update pinned summary failed", zap.Int64("ticket_id", t.ID), zap.Error(err))
	}
	o.appendLog(ctx, t, actor, storage.ActionSetPriority, map[string]any{"from": string(prev), "to": string(p)})
	o.recordStaff(ctx, t, actor, "set_priority")
	o.forward(ctx, t, actor, storage.ActionSetPriority, sinks.ColorInfo,
		sinks.Field{Name: lang.T("field_priority"), Value: PriorityLabel(p), Inline: true})
	o.respond(s, i, lang.T("priority_updated", "priority", PriorityLabel(p)), false)
}

func (o *Orchestrator) handleMember(ctx context.Context, s Session, i *discordgo.InteractionCreate, add bool) {
	actor := actorID(i)
	t, err := o.staffTicket(ctx, i)
	if err != nil {
		o.fail(s, i, err)
		return
	}
	opt, ok := optionMap(i.ApplicationCommandData().Options)["user"]
	if !ok {
		o.fail(s, i, invalid("user_required"))
		return
	}
	target := opt.UserValue(nil).ID
	if !add && target == t.UserID {
		o.fail(s, i, invalid("cannot_remove_creator"))
		return
	}

	action, kind := storage.ActionAddUser, "add_user"
	if !add {
		action, kind = storage.ActionRemoveUser, "remove_user"
	}
	if o.throttle.ShouldSuppress(throttle.Key(actor, ticketKey(t.ID, kind), target), actionWindow) {
		o.suppressed(s, i, "", actor)
		return
	}

	if add {
		err = s.ChannelPermissionSet(t.ChannelID, target, discordgo.PermissionOverwriteTypeMember, creatorAllow, 0, discordgo.WithContext(ctx))
	} else {
		err = s.ChannelPermissionDelete(t.ChannelID, target, discordgo.WithContext(ctx))
	}
	if err != nil {
		o.fail(s, i, fmt.Errorf("%s: %w", kind, err))
		return
	}

	o.appendLog(ctx, t, actor, action, map[string]any{"target_user_id": target})
	o.recordStaff(ctx, t, actor, kind)
	o.forward(ctx, t, actor, action, sinks.ColorInfo,
		sinks.Field{Name: lang.T("field_user"), Value: mention(target), Inline: true})
	key := "user_added"
	if !add {
		key = "user_removed"
	}
	o.respond(s, i, lang.T(key, "user", mention(target)), false)
}

func (o *Orchestrator) handleNote(ctx context.Context, s Session, i *discordgo.InteractionCreate, text string) {
	actor := actorID(i)
	t, err := o.staffTicket(ctx, i)
	if err != nil {
		o.fail(s, i, err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		o.fail(s, i, invalid("note_empty"))
		return
	}
	if o.throttle.ShouldSuppress(throttle.Key(actor, ticketKey(t.ID, "note")), actionWindow) {
		o.suppressed(s, i, "", actor)
		return
	}
	o.appendLog(ctx, t, actor, storage.ActionNote, map[string]any{"text": text})
	o.recordStaff(ctx, t, actor, "note")
	o.forward(ctx, t, actor, storage.ActionNote, sinks.ColorInfo,
		sinks.Field{Name: lang.T("field_note"), Value: text})
	o.respond(s, i, lang.T("note_saved"), true)
}

func (o *Orchestrator) handleTranscript(ctx context.Context, s Session, i *discordgo.InteractionCreate) {
	actor := actorID(i)
	t, err := o.staffTicket(ctx, i)
	if err != nil {
		o.fail(s, i, err)
		return
	}
	if err := deferEphemeral(s, i); err != nil {
		o.logger.Debug("defer transcript failed", zap.Error(err))
	}
	if !o.transcripts.Generate(ctx, s, TranscriptRequest{Ticket: t, ClosedBy: actor, Reason: t.CloseReason, Manual: true}) {
		_ = editResponse(s, i.Interaction, lang.T("transcript_recent"))
		return
	}
	o.recordStaff(ctx, t, actor, "transcript")
	_ = editResponse(s, i.Interaction, lang.T("transcript_sent"))
}

func (o *Orchestrator) handleFAQ(s Session, i *discordgo.InteractionCreate) {
	faq := o.cfg.FAQ
	if faq == "" {
		faq = lang.T("faq_default")
	}
	o.respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       lang.T("faq_title"),
		Description: faq,
		Color:       sinks.ColorInfo,
	}, true)
}

func (o *Orchestrator) handleRateButton(ctx context.Context, s Session, i *discordgo.InteractionCreate, rawID string) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		o.fail(s, i, invalid("ticket_not_found"))
		return
	}
	if err := o.ratings.OpenForm(ctx, s, i, actorID(i), id); err != nil {
		o.fail(s, i, err)
	}
}

func (o *Orchestrator) handleRatingSubmit(ctx context.Context, s Session, i *discordgo.InteractionCreate, rawID string) {
	actor := actorID(i)
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		o.fail(s, i, invalid("ticket_not_found"))
		return
	}
	if o.throttle.ShouldSuppress(throttle.Key(actor, ticketKey(id, "rating_submit")), actionWindow) {
		o.suppressed(s, i, "", actor)
		return
	}
	values := modalValues(i)
	t, err := o.ratings.Submit(ctx, actor, id, values[ratingInputID], values[feedbackInputID])
	if err != nil {
		o.fail(s, i, err)
		return
	}

	o.inc("ratings")
	o.appendLog(ctx, t, actor, storage.ActionRating, map[string]any{
		"rating":   *t.Rating,
		"feedback": t.Feedback,
	})
	o.ratings.Forward(ctx, t)

	thanks := lang.T("rating_thanks", "rating", strconv.Itoa(*t.Rating))
	if i.Message != nil {
		if err := updateMessage(s, i, thanks, nil); err == nil {
			return
		}
	}
	o.respond(s, i, thanks, true)
}

func (o *Orchestrator) handlePanel(ctx context.Context, s Session, i *discordgo.InteractionCreate) {
	if !o.canManage(i, "") {
		o.fail(s, i, invalid("staff_only"))
		return
	}
	if _, err := s.ChannelMessageSendComplex(i.ChannelID, o.catalog.PanelMessage(), discordgo.WithContext(ctx)); err != nil {
		o.fail(s, i, fmt.Errorf("post panel: %w", err))
		return
	}
	o.respond(s, i, lang.T("panel_posted"), true)
}

func (o *Orchestrator) handleList(ctx context.Context, s Session, i *discordgo.InteractionCreate) {
	if !o.canManage(i, "") {
		o.fail(s, i, invalid("staff_only"))
		return
	}
	active, err := o.store.ListActiveTickets(ctx, i.GuildID)
	if err != nil {
		o.fail(s, i, fmt.Errorf("list tickets: %w", err))
		return
	}
	if len(active) == 0 {
		o.respond(s, i, lang.T("no_active_tickets"), true)
		return
	}

	var sb strings.Builder
	for idx, t := range active {
		if idx == 25 {
			sb.WriteString(lang.T("list_more", "count", strconv.Itoa(len(active)-idx)))
			break
		}
		fmt.Fprintf(&sb, "`#%04d` <#%s> · %s · %s · %s\n",
			t.Number, t.ChannelID, StatusLabel(t.Status), PriorityLabel(t.Priority), mention(t.UserID))
	}
	o.respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       lang.T("list_title", "count", strconv.Itoa(len(active))),
		Description: sb.String(),
		Color:       sinks.ColorInfo,
	}, true)
}

func (o *Orchestrator) handleConfig(ctx context.Context, s Session, i *discordgo.InteractionCreate) {
	if !o.canManage(i, "") {
		o.fail(s, i, invalid("staff_only"))
		return
	}
	settings, err := o.store.GuildSettings(ctx, i.GuildID)
	if err != nil {
		o.fail(s, i, fmt.Errorf("load guild settings: %w", err))
		return
	}

	channelOr := func(primary, fallback string) string {
		if primary == "" {
			primary = fallback
		}
		if primary == "" {
			return lang.T("not_set")
		}
		return "<#" + primary + ">"
	}
	roles := make([]string, 0, len(o.cfg.StaffRoles))
	for _, r := range o.cfg.StaffRoles {
		roles = append(roles, "<@&"+r+">")
	}
	cats := make([]string, 0, len(o.catalog.Categories()))
	for _, c := range o.catalog.Categories() {
		cats = append(cats, fmt.Sprintf("%s `%s` (%s)", o.catalog.Label(c.ID), c.ID, PriorityLabel(o.catalog.Priority(c))))
	}

	o.respondEmbed(s, i, &discordgo.MessageEmbed{
		Title: lang.T("config_title"),
		Color: sinks.ColorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: lang.T("config_log_channel"), Value: channelOr(settings.TicketLogsChannelID, o.cfg.LogChannel), Inline: true},
			{Name: lang.T("config_rules_channel"), Value: channelOr(settings.RulesChannelID, o.cfg.RulesChannel), Inline: true},
			{Name: lang.T("config_chatbot"), Value: strconv.FormatBool(settings.TicketChatbotEnabled), Inline: true},
			{Name: lang.T("config_staff_roles"), Value: orNotSet(strings.Join(roles, " "))},
			{Name: lang.T("config_categories"), Value: orNotSet(strings.Join(cats, "\n"))},
			{Name: lang.T("config_timeouts"), Value: fmt.Sprintf("confirm %s · choice %s · form %s · delete delay %s",
				o.cfg.ConfirmTimeout(), o.cfg.ChoiceTimeout(), o.cfg.ModalTimeout(), o.cfg.DeleteDelay())},
		},
	}, true)
}

func orNotSet(s string) string {
	if s == "" {
		return lang.T("not_set")
	}
	return s
}
