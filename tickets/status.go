package tickets

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"ticketbot/clock"
	"ticketbot/lang"
	"ticketbot/storage"
)

// Path names the flow a transition is requested through. The same target
// status is legal through one path and illegal through another.
type Path int

const (
	PathStatusChange Path = iota
	PathClose
	PathReopen
	PathDelete
)

func (p Path) String() string {
	switch p {
	case PathStatusChange:
		return "status_change"
	case PathClose:
		return "close"
	case PathReopen:
		return "reopen"
	case PathDelete:
		return "delete"
	}
	return "unknown"
}

const systemActor = "system"

var statusEmoji = map[storage.Status]string{
	storage.StatusOpen:       "🟢",
	storage.StatusInProgress: "🟡",
	storage.StatusOnHold:     "🟠",
	storage.StatusClosed:     "🔒",
}

const creatorAllow = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages |
	discordgo.PermissionAttachFiles | discordgo.PermissionReadMessageHistory

// CheckTransition validates moving from -> to through path.
func CheckTransition(path Path, from, to storage.Status) error {
	if from == storage.StatusDeleted {
		return invalid("ticket_deleted")
	}
	switch path {
	case PathStatusChange:
		if !to.Active() {
			return invalid("status_use_close", "status", string(to))
		}
		if !from.Active() {
			return invalid("status_reopen_first")
		}
		if from == to {
			return invalid("status_noop", "status", StatusLabel(to))
		}
	case PathClose:
		if !from.Active() {
			return invalid("already_closed")
		}
		if to != storage.StatusClosed {
			return fmt.Errorf("close path cannot target %s", to)
		}
	case PathReopen:
		if from != storage.StatusClosed {
			return invalid("not_closed")
		}
		if to != storage.StatusOpen {
			return fmt.Errorf("reopen path cannot target %s", to)
		}
	case PathDelete:
		if from != storage.StatusClosed {
			return invalid("delete_close_first")
		}
		if to != storage.StatusDeleted {
			return fmt.Errorf("delete path cannot target %s", to)
		}
	default:
		return fmt.Errorf("unknown transition path %d", path)
	}
	return nil
}

func StatusLabel(s storage.Status) string {
	return lang.T("status_" + string(s))
}

// ChannelName is the decorated channel name for a ticket in status s.
func ChannelName(number int, s storage.Status) string {
	base := fmt.Sprintf("ticket-%04d", number)
	if e, ok := statusEmoji[s]; ok {
		return e + "-" + base
	}
	return base
}

// StatusMachine applies transitions to the stored record and mirrors them in
// the channel.
type StatusMachine struct {
	store  storage.Store
	clock  clock.Clock
	logger *zap.Logger
}

func NewStatusMachine(store storage.Store, c clock.Clock, logger *zap.Logger) *StatusMachine {
	return &StatusMachine{store: store, clock: c, logger: logger.Named("status")}
}

type Transition struct {
	Path   Path
	To     storage.Status
	Actor  string
	Reason string
}

// Apply re-reads the ticket, validates and persists the transition, then
// updates the channel name, the pinned summary and the creator's send
// permission. Decoration failures are logged and do not fail the transition.
// It returns the ticket as it was before and after.
func (m *StatusMachine) Apply(ctx context.Context, s Session, ticketID int64, tr Transition) (before, after *storage.Ticket, err error) {
	before, err = m.store.TicketByID(ctx, ticketID)
	if err != nil {
		return nil, nil, fmt.Errorf("re-read ticket: %w", err)
	}
	if err := CheckTransition(tr.Path, before.Status, tr.To); err != nil {
		return before, nil, err
	}

	u := storage.StatusUpdate{
		From:        before.Status,
		To:          tr.To,
		ClosedAt:    before.ClosedAt,
		ClosedBy:    before.ClosedBy,
		CloseReason: before.CloseReason,
	}
	switch tr.Path {
	case PathClose, PathDelete:
		now := m.clock.Now()
		u.ClosedAt, u.ClosedBy = &now, tr.Actor
		if tr.Reason != "" {
			u.CloseReason = tr.Reason
		}
	case PathReopen:
		u.ClosedAt, u.ClosedBy, u.CloseReason = nil, "", ""
	}

	if err := m.store.UpdateStatus(ctx, ticketID, u); err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			return before, nil, invalid("status_changed_concurrently")
		}
		return before, nil, fmt.Errorf("persist status: %w", err)
	}

	after = cloneTicket(before)
	after.Status = u.To
	after.ClosedAt, after.ClosedBy, after.CloseReason = u.ClosedAt, u.ClosedBy, u.CloseReason
	m.logger.Info("ticket status changed",
		zap.Int64("ticket_id", ticketID),
		zap.Stringer("path", tr.Path),
		zap.String("from", string(before.Status)),
		zap.String("to", string(after.Status)),
		zap.String("actor_id", tr.Actor))

	if tr.To != storage.StatusDeleted {
		m.decorate(ctx, s, after)
	}
	switch tr.Path {
	case PathClose:
		m.setCreatorSend(s, after, false)
	case PathReopen:
		m.setCreatorSend(s, after, true)
	}
	return before, after, nil
}

// Repair marks a ticket whose channel no longer exists as closed by the system.
func (m *StatusMachine) Repair(ctx context.Context, t *storage.Ticket) (*storage.Ticket, error) {
	now := m.clock.Now()
	err := m.store.UpdateStatus(ctx, t.ID, storage.StatusUpdate{
		From:        t.Status,
		To:          storage.StatusClosed,
		ClosedAt:    &now,
		ClosedBy:    systemActor,
		CloseReason: lang.T("reason_channel_missing"),
	})
	if err != nil {
		return nil, err
	}
	repaired := cloneTicket(t)
	repaired.Status = storage.StatusClosed
	repaired.ClosedAt = &now
	repaired.ClosedBy = systemActor
	repaired.CloseReason = lang.T("reason_channel_missing")
	return repaired, nil
}

func (m *StatusMachine) decorate(ctx context.Context, s Session, t *storage.Ticket) {
	log := m.logger.With(zap.Int64("ticket_id", t.ID), zap.String("channel_id", t.ChannelID))

	if _, err := s.ChannelEdit(t.ChannelID, &discordgo.ChannelEdit{Name: ChannelName(t.Number, t.Status)}, discordgo.WithContext(ctx)); err != nil {
		log.Warn("rename ticket channel failed", zap.Error(err))
	}
	if err := updateSummaryField(ctx, s, t, lang.T("field_status"), StatusLabel(t.Status)); err != nil {
		log.Warn("update pinned summary failed", zap.Error(err))
	}
}

func (m *StatusMachine) setCreatorSend(s Session, t *storage.Ticket, allow bool) {
	var err error
	if allow {
		err = s.ChannelPermissionSet(t.ChannelID, t.UserID, discordgo.PermissionOverwriteTypeMember, creatorAllow, 0)
	} else {
		err = s.ChannelPermissionSet(t.ChannelID, t.UserID, discordgo.PermissionOverwriteTypeMember,
			creatorAllow&^discordgo.PermissionSendMessages, discordgo.PermissionSendMessages)
	}
	if err != nil {
		m.logger.Warn("update creator permissions failed",
			zap.Int64("ticket_id", t.ID), zap.Bool("allow_send", allow), zap.Error(err))
	}
}

// updateSummaryField rewrites one field of the pinned summary embed.
func updateSummaryField(ctx context.Context, s Session, t *storage.Ticket, name, value string) error {
	if t.SummaryMessageID == "" {
		return nil
	}
	msg, err := s.ChannelMessage(t.ChannelID, t.SummaryMessageID, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	if len(msg.Embeds) == 0 {
		return nil
	}
	embed := *msg.Embeds[0]
	fields := make([]*discordgo.MessageEmbedField, 0, len(embed.Fields))
	found := false
	for _, f := range embed.Fields {
		cp := *f
		if cp.Name == name {
			cp.Value = value
			found = true
		}
		fields = append(fields, &cp)
	}
	if !found {
		fields = append(fields, &discordgo.MessageEmbedField{Name: name, Value: value, Inline: true})
	}
	embed.Fields = fields
	embeds := []*discordgo.MessageEmbed{&embed}

	edit := discordgo.NewMessageEdit(t.ChannelID, t.SummaryMessageID)
	edit.Embeds = &embeds
	_, err = s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return err
}

func cloneTicket(t *storage.Ticket) *storage.Ticket {
	cp := *t
	return &cp
}
