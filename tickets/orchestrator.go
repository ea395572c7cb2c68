// Package tickets runs the support ticket lifecycle: creation from the panel,
// confirmation and reason prompts, status transitions, transcripts and
// satisfaction ratings.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"ticketbot/clock"
	"ticketbot/config"
	"ticketbot/lang"
	"ticketbot/sinks"
	"ticketbot/storage"
	"ticketbot/throttle"
)

const (
	createWindow = 3 * time.Second
	closeWindow  = 30 * time.Second
	deleteWindow = 30 * time.Second
	actionWindow = 3 * time.Second
)

// Metrics counts orchestrator events. A nil Metrics is allowed.
type Metrics interface {
	Inc(name string)
}

type Deps struct {
	Config   *config.TicketsConfig
	Store    storage.Store
	Throttle *throttle.Throttle
	Sink     sinks.Sink
	Clock    clock.Clock
	Logger   *zap.Logger
	Metrics  Metrics
}

// Orchestrator routes interactions to the ticket flows. It is the only writer
// of action log entries.
type Orchestrator struct {
	cfg      *config.TicketsConfig
	store    storage.Store
	throttle *throttle.Throttle
	sink     sinks.Sink
	clock    clock.Clock
	logger   *zap.Logger
	metrics  Metrics

	waiters     *Waiters
	catalog     *CategorySelector
	factory     *ChannelFactory
	confirm     *ConfirmationFlow
	reasons     *ReasonCollector
	status      *StatusMachine
	transcripts *TranscriptGenerator
	ratings     *RatingCollector
}

func New(d Deps) *Orchestrator {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Sink == nil {
		d.Sink = sinks.NewMulti()
	}
	if d.Throttle == nil {
		d.Throttle = throttle.New(throttle.NewMemoryStore(), d.Clock, d.Logger)
	}
	logger := d.Logger.Named("tickets")
	waiters := NewWaiters(d.Clock)
	catalog := NewCategorySelector(d.Config)

	return &Orchestrator{
		cfg:      d.Config,
		store:    d.Store,
		throttle: d.Throttle,
		sink:     d.Sink,
		clock:    d.Clock,
		logger:   logger,
		metrics:  d.Metrics,

		waiters:     waiters,
		catalog:     catalog,
		factory:     NewChannelFactory(d.Store, d.Config, catalog, d.Clock, logger),
		confirm:     NewConfirmationFlow(waiters, logger),
		reasons:     NewReasonCollector(waiters, d.Config.ChoiceTimeout(), d.Config.ModalTimeout(), logger),
		status:      NewStatusMachine(d.Store, d.Clock, logger),
		transcripts: NewTranscriptGenerator(d.Throttle, d.Sink, d.Clock, d.Config.TranscriptLimit, catalog.Label, logger),
		ratings:     NewRatingCollector(d.Store, d.Throttle, d.Sink, d.Clock, logger),
	}
}

// Catalog exposes the category selector for panel rendering outside a flow.
func (o *Orchestrator) Catalog() *CategorySelector {
	return o.catalog
}

// PendingPrompts reports how many prompts are waiting for a click.
func (o *Orchestrator) PendingPrompts() int {
	return o.waiters.Len()
}

// HandleInteraction handles one interaction. It blocks for as long as the
// flow waits on the user, so callers run it on its own goroutine.
func (o *Orchestrator) HandleInteraction(ctx context.Context, s Session, i *discordgo.InteractionCreate) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in interaction handler",
				zap.Any("panic", r),
				zap.String("interaction_id", i.ID),
				zap.String("guild_id", i.GuildID),
				zap.String("channel_id", i.ChannelID),
				zap.ByteString("stack", debug.Stack()))
			o.inc("errors")
			o.respond(s, i, lang.T("generic_error"), true)
		}
	}()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		if i.GuildID == "" {
			return
		}
		o.handleCommand(ctx, s, i)
	case discordgo.InteractionMessageComponent:
		o.handleComponent(ctx, s, i, i.MessageComponentData().CustomID)
	case discordgo.InteractionModalSubmit:
		o.handleModal(ctx, s, i, i.ModalSubmitData().CustomID)
	}
}

func (o *Orchestrator) handleCommand(ctx context.Context, s Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	switch data.Name {
	case "ticket":
		if len(data.Options) == 0 {
			return
		}
		switch data.Options[0].Name {
		case "panel":
			o.handlePanel(ctx, s, i)
		case "list":
			o.handleList(ctx, s, i)
		case "config":
			o.handleConfig(ctx, s, i)
		}
	case "close":
		o.handleClose(ctx, s, i)
	case "reopen":
		o.handleReopen(ctx, s, i)
	case "status":
		o.handleStatus(ctx, s, i, optStr(optionMap(data.Options), "status", ""))
	case "priority":
		o.handlePriority(ctx, s, i, optStr(optionMap(data.Options), "level", ""))
	case "add":
		o.handleMember(ctx, s, i, true)
	case "remove":
		o.handleMember(ctx, s, i, false)
	case "note":
		o.handleNote(ctx, s, i, optStr(optionMap(data.Options), "text", ""))
	case "transcript":
		o.handleTranscript(ctx, s, i)
	}
}

func (o *Orchestrator) handleComponent(ctx context.Context, s Session, i *discordgo.InteractionCreate, customID string) {
	if strings.HasPrefix(customID, awaitPrefix) {
		o.dispatchWaiter(s, i, customID)
		return
	}
	if rest, ok := strings.CutPrefix(customID, customIDRatePrefix); ok {
		o.handleRateButton(ctx, s, i, rest)
		return
	}
	if i.GuildID == "" {
		return
	}
	switch customID {
	case CustomIDCategory:
		o.handleCreate(ctx, s, i)
	case CustomIDClose:
		o.handleClose(ctx, s, i)
	case CustomIDReopen:
		o.handleReopen(ctx, s, i)
	case CustomIDDelete:
		o.handleDelete(ctx, s, i)
	case CustomIDTranscript:
		o.handleTranscript(ctx, s, i)
	case CustomIDFAQ:
		o.handleFAQ(s, i)
	}
}

func (o *Orchestrator) handleModal(ctx context.Context, s Session, i *discordgo.InteractionCreate, customID string) {
	if strings.HasPrefix(customID, awaitPrefix) {
		o.dispatchWaiter(s, i, customID)
		return
	}
	if rest, ok := strings.CutPrefix(customID, customIDRateModal); ok {
		o.handleRatingSubmit(ctx, s, i, rest)
	}
}

func (o *Orchestrator) dispatchWaiter(s Session, i *discordgo.InteractionCreate, customID string) {
	switch o.waiters.Dispatch(customID, i) {
	case WrongActor:
		o.respond(s, i, lang.T("not_for_you"), true)
	case Expired:
		o.respond(s, i, lang.T("prompt_expired"), true)
	}
}

// ticketInChannel loads the ticket bound to the interaction's channel.
func (o *Orchestrator) ticketInChannel(ctx context.Context, i *discordgo.InteractionCreate) (*storage.Ticket, error) {
	t, err := o.store.TicketByChannel(ctx, i.ChannelID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, invalid("not_a_ticket")
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket for channel %s: %w", i.ChannelID, err)
	}
	return t, nil
}

// canManage reports whether the member holds the manage capability for a
// ticket category: Administrator, Manage Channels, or a staff role.
func (o *Orchestrator) canManage(i *discordgo.InteractionCreate, category string) bool {
	if i.Member == nil {
		return false
	}
	if i.Member.Permissions&(discordgo.PermissionAdministrator|discordgo.PermissionManageChannels) != 0 {
		return true
	}
	roles := o.cfg.StaffRoles
	if cat, ok := o.cfg.Category(category); ok {
		roles = append(slices.Clone(roles), cat.StaffRoles...)
	}
	for _, r := range i.Member.Roles {
		if slices.Contains(roles, r) {
			return true
		}
	}
	return false
}

// suppressed answers a trigger absorbed by the throttle. The actor that holds
// the window hears nothing; anyone else is told the action is underway.
func (o *Orchestrator) suppressed(s Session, i *discordgo.InteractionCreate, holder, actor string) {
	o.inc("suppressed")
	if holder != "" && holder != actor {
		o.respond(s, i, lang.T("action_in_progress"), true)
		return
	}
	if i.Type == discordgo.InteractionApplicationCommand {
		o.respond(s, i, lang.T("action_in_progress"), true)
		return
	}
	ack(s, i)
}

func (o *Orchestrator) fail(s Session, i *discordgo.InteractionCreate, err error) {
	if v, ok := isValidation(err); ok {
		o.respond(s, i, v.Error(), true)
		return
	}
	o.logFailure(i.Interaction, err)
	o.respond(s, i, lang.T("generic_error"), true)
}

// failEdit reports err on an interaction that was already answered.
func (o *Orchestrator) failEdit(s Session, inter *discordgo.Interaction, err error) {
	msg := lang.T("generic_error")
	if v, ok := isValidation(err); ok {
		msg = v.Error()
	} else {
		o.logFailure(inter, err)
	}
	if err := editResponse(s, inter, msg); err != nil {
		o.logger.Debug("edit response failed", zap.Error(err))
	}
}

func (o *Orchestrator) logFailure(inter *discordgo.Interaction, err error) {
	o.inc("errors")
	o.logger.Error("ticket interaction failed",
		zap.String("interaction_id", inter.ID),
		zap.String("guild_id", inter.GuildID),
		zap.String("channel_id", inter.ChannelID),
		zap.Error(err))
}

// appendLog writes the audit entry for a mutation that already succeeded.
func (o *Orchestrator) appendLog(ctx context.Context, t *storage.Ticket, actor string, action storage.Action, details map[string]any) {
	err := o.store.AppendActionLog(ctx, &storage.ActionLogEntry{
		GuildID:      t.GuildID,
		TicketID:     t.ID,
		TicketNumber: t.Number,
		UserID:       actor,
		Action:       action,
		Details:      details,
		CreatedAt:    o.clock.Now(),
	})
	if err != nil {
		o.logger.Warn("append action log failed",
			zap.Int64("ticket_id", t.ID), zap.String("action", string(action)), zap.Error(err))
	}
}

func (o *Orchestrator) recordStaff(ctx context.Context, t *storage.Ticket, staffID, actionType string) {
	err := o.store.RecordStaffActivity(ctx, &storage.StaffActivity{
		GuildID:    t.GuildID,
		TicketID:   t.ID,
		StaffID:    staffID,
		ActionType: actionType,
		CreatedAt:  o.clock.Now(),
	})
	if err != nil {
		o.logger.Warn("record staff activity failed", zap.Int64("ticket_id", t.ID), zap.Error(err))
	}
}

// forward sends a lifecycle record to the sinks.
func (o *Orchestrator) forward(ctx context.Context, t *storage.Ticket, actor string, action storage.Action, color int, extra ...sinks.Field) {
	fields := []sinks.Field{
		{Name: lang.T("field_channel"), Value: "<#" + t.ChannelID + ">", Inline: true},
		{Name: lang.T("field_opened_by"), Value: mention(t.UserID), Inline: true},
		{Name: lang.T("field_actor"), Value: mentionOrDash(actor), Inline: true},
		{Name: lang.T("field_category"), Value: o.catalog.Label(t.Category), Inline: true},
		{Name: lang.T("field_status"), Value: StatusLabel(t.Status), Inline: true},
	}
	fields = append(fields, extra...)
	err := o.sink.Deliver(ctx, sinks.Record{
		Kind:         sinks.KindLifecycle,
		Action:       string(action),
		GuildID:      t.GuildID,
		TicketID:     t.ID,
		TicketNumber: t.Number,
		ActorID:      actor,
		Title:        lang.T("log_"+string(action), "number", fmt.Sprintf("%04d", t.Number)),
		Color:        color,
		Fields:       fields,
		At:           o.clock.Now(),
	})
	if err != nil {
		o.logger.Warn("lifecycle sink delivery failed",
			zap.Int64("ticket_id", t.ID), zap.String("action", string(action)), zap.Error(err))
	}
}

func (o *Orchestrator) inc(name string) {
	if o.metrics != nil {
		o.metrics.Inc(name)
	}
}

func ticketKey(id int64, action string) string {
	return throttle.Key(strconv.FormatInt(id, 10), action)
}
