package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"ticketbot/config"
	"ticketbot/lang"
	"ticketbot/sinks"
	"ticketbot/storage"
	"ticketbot/throttle"
)

const subjectInputID = "subject"

func (o *Orchestrator) handleCreate(ctx context.Context, s Session, i *discordgo.InteractionCreate) {
	actor := actorID(i)
	values := i.MessageComponentData().Values
	if len(values) == 0 {
		ack(s, i)
		return
	}
	if o.throttle.ShouldSuppress(throttle.Key(actor, i.GuildID, "ticket_create"), createWindow) {
		o.suppressed(s, i, "", actor)
		return
	}
	cat, err := o.catalog.Resolve(values[0])
	if err != nil {
		o.fail(s, i, err)
		return
	}
	log := o.logger.With(zap.String("guild_id", i.GuildID), zap.String("actor_id", actor), zap.String("category", cat.ID))

	existing, err := o.activeTicket(ctx, s, i.GuildID, actor)
	if err != nil {
		o.fail(s, i, err)
		return
	}

	next := i
	if existing != nil {
		click, ok := o.chooseDuplicate(ctx, s, i, actor, existing)
		if !ok {
			return
		}
		next = click
		log.Info("creating despite active ticket", zap.Int64("existing_ticket_id", existing.ID))
	}

	subject, submit, ok := o.collectSubject(ctx, s, next, actor, cat)
	if !ok {
		log.Info("ticket creation abandoned at subject form")
		if existing != nil {
			_ = editResponse(s, i.Interaction, lang.T("create_abandoned"))
		}
		return
	}
	if err := deferEphemeral(s, submit); err != nil {
		log.Warn("defer subject submission failed", zap.Error(err))
	}

	t, err := o.factory.Create(ctx, s, CreateRequest{
		GuildID:   i.GuildID,
		CreatorID: actor,
		BotID:     i.AppID,
		Category:  cat,
		Subject:   subject,
	})
	if err != nil {
		if errors.Is(err, ErrChannelCreate) {
			log.Warn("ticket channel not created", zap.Error(err))
			_ = editResponse(s, submit.Interaction, lang.T("channel_create_failed"))
			return
		}
		o.failEdit(s, submit.Interaction, err)
		return
	}

	o.inc("tickets_created")
	o.appendLog(ctx, t, actor, storage.ActionCreate, map[string]any{
		"category": cat.ID,
		"subject":  subject,
		"priority": string(t.Priority),
		"forced":   existing != nil,
	})
	o.forward(ctx, t, actor, storage.ActionCreate, sinks.ColorSuccess,
		sinks.Field{Name: lang.T("field_subject"), Value: dashIfEmpty(subject)})
	if existing != nil {
		_ = editResponse(s, i.Interaction, lang.T("ticket_created", "channel_id", t.ChannelID))
	}
	_ = editResponse(s, submit.Interaction, lang.T("ticket_created", "channel_id", t.ChannelID))
}

// activeTicket returns the actor's active ticket, repairing a record whose
// channel no longer exists into closed and reporting no ticket for it.
func (o *Orchestrator) activeTicket(ctx context.Context, s Session, guildID, userID string) (*storage.Ticket, error) {
	t, err := o.store.ActiveTicketForUser(ctx, guildID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up active ticket: %w", err)
	}
	if _, err := s.Channel(t.ChannelID, discordgo.WithContext(ctx)); err != nil {
		if !isUnknownChannel(err) {
			o.logger.Warn("verify ticket channel failed", zap.Int64("ticket_id", t.ID), zap.Error(err))
			return t, nil
		}
		repaired, err := o.status.Repair(ctx, t)
		if errors.Is(err, storage.ErrStatusConflict) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("repair ticket %d: %w", t.ID, err)
		}
		o.logger.Info("closed ticket with missing channel", zap.Int64("ticket_id", t.ID), zap.String("channel_id", t.ChannelID))
		o.appendLog(ctx, repaired, systemActor, storage.ActionClose, map[string]any{
			"from":   string(t.Status),
			"reason": repaired.CloseReason,
			"repair": true,
		})
		return nil, nil
	}
	return t, nil
}

// chooseDuplicate offers the existing ticket or a forced new one. On force the
// click is returned unanswered.
func (o *Orchestrator) chooseDuplicate(ctx context.Context, s Session, i *discordgo.InteractionCreate, actor string, existing *storage.Ticket) (*discordgo.InteractionCreate, bool) {
	wait := o.waiters.Register(actor)
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: lang.T("duplicate_prompt", "channel_id", existing.ChannelID),
			Flags:   discordgo.MessageFlagsEphemeral,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.Button{
							Label: lang.T("button_go_to_ticket"),
							Style: discordgo.LinkButton,
							URL:   fmt.Sprintf("https://discord.com/channels/%s/%s", existing.GuildID, existing.ChannelID),
						},
						discordgo.Button{Label: lang.T("button_create_anyway"), Style: discordgo.PrimaryButton, CustomID: wait.ID("force")},
						discordgo.Button{Label: lang.T("button_cancel"), Style: discordgo.SecondaryButton, CustomID: wait.ID("cancel")},
					},
				},
			},
		},
	})
	if err != nil {
		wait.Cancel()
		o.logger.Warn("duplicate prompt failed", zap.Error(err))
		return nil, false
	}

	click, ok := wait.Next(ctx, o.cfg.ChoiceTimeout())
	if !ok {
		_ = editResponse(s, i.Interaction, lang.T("duplicate_timed_out"))
		return nil, false
	}
	if click.Choice != "force" {
		_ = updateMessage(s, click.I, lang.T("duplicate_cancelled", "channel_id", existing.ChannelID), nil)
		return nil, false
	}
	return click.I, true
}

// collectSubject answers i with the subject form and waits for it.
func (o *Orchestrator) collectSubject(ctx context.Context, s Session, i *discordgo.InteractionCreate, actor string, cat config.TicketCategory) (string, *discordgo.InteractionCreate, bool) {
	wait := o.waiters.Register(actor)
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: wait.ID("subject"),
			Title:    truncate(lang.T("subject_modal_title", "category", cat.Name), 45),
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:    subjectInputID,
							Label:       lang.T("subject_modal_label"),
							Style:       discordgo.TextInputParagraph,
							Placeholder: lang.T("subject_modal_placeholder"),
							Required:    true,
							MaxLength:   1000,
						},
					},
				},
			},
		},
	})
	if err != nil {
		wait.Cancel()
		o.logger.Warn("subject form failed", zap.Error(err))
		return "", nil, false
	}
	submit, ok := wait.Next(ctx, o.cfg.ModalTimeout())
	if !ok {
		return "", nil, false
	}
	return strings.TrimSpace(modalValues(submit.I)[subjectInputID]), submit.I, true
}

func (o *Orchestrator) handleClose(ctx context.Context, s Session, i *discordgo.InteractionCreate) {
	actor := actorID(i)
	t, err := o.ticketInChannel(ctx, i)
	if err != nil {
		o.fail(s, i, err)
		return
	}
	staff := o.canManage(i, t.Category)
	if actor != t.UserID && !staff {
		o.fail(s, i, invalid("no_permission"))
		return
	}
	if !t.Status.Active() {
		o.fail(s, i, invalid("already_closed"))
		return
	}

	key := ticketKey(t.ID, "close")
	if suppressed, holder := o.throttle.Check(ctx, key, actor, closeWindow); suppressed {
		o.suppressed(s, i, holder, actor)
		return
	}

	outcome, click := o.confirm.Confirm(ctx, s, i, actor, ConfirmPrompt{
		Content:      lang.T("close_confirm", "number", fmt.Sprintf("%04d", t.Number)),
		ConfirmLabel: lang.T("button_close"),
		Ephemeral:    true,
	}, o.cfg.ConfirmTimeout())
	if outcome != Confirmed {
		o.logger.Debug("close not confirmed", zap.Int64("ticket_id", t.ID), zap.Stringer("outcome", outcome))
		o.throttle.Release(key)
		return
	}

	var reason string
	inter := click.Interaction
	if staff {
		reason, inter = o.reasons.Collect(ctx, s, click, actor)
	} else if err := updateMessage(s, click, lang.T("closing"), nil); err != nil {
		o.logger.Debug("closing notice failed", zap.Error(err))
	}

	before, after, err := o.status.Apply(ctx, s, t.ID, Transition{Path: PathClose, To: storage.StatusClosed, Actor: actor, Reason: reason})
	if err != nil {
		o.throttle.Release(key)
		o.failEdit(s, inter, err)
		return
	}

	o.inc("tickets_closed")
	o.appendLog(ctx, after, actor, storage.ActionClose, map[string]any{
		"from":   string(before.Status),
		"reason": reason,
	})
	if staff {
		o.recordStaff(ctx, after, actor, "close")
	}
	o.forward(ctx, after, actor, storage.ActionClose, sinks.ColorWarning,
		sinks.Field{Name: lang.T("field_reason"), Value: dashIfEmpty(reason)})

	o.transcripts.Generate(ctx, s, TranscriptRequest{Ticket: after, ClosedBy: actor, Reason: reason})
	o.ratings.Request(ctx, s, after)

	if _, err := s.ChannelMessageSendComplex(after.ChannelID, closedControls(after, actor, reason), discordgo.WithContext(ctx)); err != nil {
		o.logger.Warn("post closed controls failed", zap.Int64("ticket_id", after.ID), zap.Error(err))
	}
	_ = editResponse(s, inter, lang.T("ticket_closed"))
}

func closedControls(t *storage.Ticket, actor, reason string) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       lang.T("closed_title", "number", fmt.Sprintf("%04d", t.Number)),
			Description: lang.T("closed_description", "user", mentionOrDash(actor), "reason", dashIfEmpty(reason)),
			Color:       sinks.ColorWarning,
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{Label: lang.T("button_reopen"), Style: discordgo.SuccessButton, CustomID: CustomIDReopen, Emoji: &discordgo.ComponentEmoji{Name: "🔓"}},
					discordgo.Button{Label: lang.T("button_transcript"), Style: discordgo.SecondaryButton, CustomID: CustomIDTranscript, Emoji: &discordgo.ComponentEmoji{Name: "📄"}},
					discordgo.Button{Label: lang.T("button_delete"), Style: discordgo.DangerButton, CustomID: CustomIDDelete, Emoji: &discordgo.ComponentEmoji{Name: "🗑️"}},
				},
			},
		},
	}
}

func (o *Orchestrator) handleReopen(ctx context.Context, s Session, i *discordgo.InteractionCreate) {
	actor := actorID(i)
	t, err := o.ticketInChannel(ctx, i)
	if err != nil {
		o.fail(s, i, err)
		return
	}
	staff := o.canManage(i, t.Category)
	if actor != t.UserID && !staff {
		o.fail(s, i, invalid("no_permission"))
		return
	}
	if o.throttle.ShouldSuppress(throttle.Key(actor, ticketKey(t.ID, "reopen")), actionWindow) {
		o.suppressed(s, i, "", actor)
		return
	}
	if err := deferEphemeral(s, i); err != nil {
		o.logger.Debug("defer reopen failed", zap.Error(err))
	}

	before, after, err := o.status.Apply(ctx, s, t.ID, Transition{Path: PathReopen, To: storage.StatusOpen, Actor: actor})
	if err != nil {
		o.failEdit(s, i.Interaction, err)
		return
	}

	// The close that preceded this reopen still holds its windows.
	o.throttle.Release(ticketKey(t.ID, "close"))
	o.throttle.Release(ticketKey(t.ID, "rating_request"))

	o.inc("tickets_reopened")
	o.appendLog(ctx, after, actor, storage.ActionReopen, map[string]any{"from": string(before.Status)})
	if staff {
		o.recordStaff(ctx, after, actor, "reopen")
	}
	o.forward(ctx, after, actor, storage.ActionReopen, sinks.ColorSuccess)

	if i.Type == discordgo.InteractionMessageComponent && i.Message != nil {
		o.stripControls(ctx, s, i.ChannelID, i.Message.ID)
	}
	if _, err := s.ChannelMessageSendComplex(after.ChannelID, &discordgo.MessageSend{
		Content: lang.T("ticket_reopened_public", "user", mention(actor)),
	}, discordgo.WithContext(ctx)); err != nil {
		o.logger.Warn("post reopen notice failed", zap.Int64("ticket_id", after.ID), zap.Error(err))
	}
	_ = editResponse(s, i.Interaction, lang.T("ticket_reopened"))
}

func (o *Orchestrator) handleDelete(ctx context.Context, s Session, i *discordgo.InteractionCreate) {
	actor := actorID(i)
	t, err := o.ticketInChannel(ctx, i)
	if err != nil {
		o.fail(s, i, err)
		return
	}
	if !o.canManage(i, t.Category) {
		o.fail(s, i, invalid("staff_only"))
		return
	}
	if err := CheckTransition(PathDelete, t.Status, storage.StatusDeleted); err != nil {
		o.fail(s, i, err)
		return
	}

	key := ticketKey(t.ID, "delete")
	if suppressed, holder := o.throttle.Check(ctx, key, actor, deleteWindow); suppressed {
		o.suppressed(s, i, holder, actor)
		return
	}

	delay := o.cfg.DeleteDelay()
	outcome, click := o.confirm.Confirm(ctx, s, i, actor, ConfirmPrompt{
		Content:      lang.T("delete_confirm", "number", fmt.Sprintf("%04d", t.Number)),
		ConfirmLabel: lang.T("button_delete"),
		Ephemeral:    true,
	}, o.cfg.ConfirmTimeout())
	if outcome != Confirmed {
		o.logger.Debug("delete not confirmed", zap.Int64("ticket_id", t.ID), zap.Stringer("outcome", outcome))
		o.throttle.Release(key)
		return
	}
	if err := updateMessage(s, click, lang.T("deleting", "seconds", fmt.Sprint(int(delay.Seconds()))), nil); err != nil {
		o.logger.Debug("deleting notice failed", zap.Error(err))
	}

	_, after, err := o.status.Apply(ctx, s, t.ID, Transition{Path: PathDelete, To: storage.StatusDeleted, Actor: actor})
	if err != nil {
		o.throttle.Release(key)
		o.failEdit(s, click.Interaction, err)
		return
	}

	o.inc("tickets_deleted")
	o.appendLog(ctx, after, actor, storage.ActionDelete, map[string]any{"reason": after.CloseReason})
	o.recordStaff(ctx, after, actor, "delete")
	o.forward(ctx, after, actor, storage.ActionDelete, sinks.ColorError)
	o.transcripts.Generate(ctx, s, TranscriptRequest{Ticket: after, ClosedBy: actor, Reason: after.CloseReason, Deleting: true})

	if _, err := s.ChannelMessageSendComplex(after.ChannelID, &discordgo.MessageSend{
		Content: lang.T("ticket_deleting_public", "seconds", fmt.Sprint(int(delay.Seconds()))),
	}, discordgo.WithContext(ctx)); err != nil {
		o.logger.Debug("post delete notice failed", zap.Error(err))
	}

	select {
	case <-o.clock.After(delay):
	case <-ctx.Done():
		return
	}
	if _, err := s.ChannelDelete(after.ChannelID); err != nil && !isUnknownChannel(err) {
		o.logger.Warn("delete ticket channel failed", zap.Int64("ticket_id", after.ID), zap.String("channel_id", after.ChannelID), zap.Error(err))
	}
}

// stripControls removes the buttons from a message in the ticket channel.
func (o *Orchestrator) stripControls(ctx context.Context, s Session, channelID, messageID string) {
	components := []discordgo.MessageComponent{}
	edit := discordgo.NewMessageEdit(channelID, messageID)
	edit.Components = &components
	if _, err := s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		o.logger.Debug("strip controls failed", zap.String("message_id", messageID), zap.Error(err))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
