package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict means a conditional update found the ticket in a
	// different status than the caller read.
	ErrStatusConflict = errors.New("ticket status changed concurrently")
	ErrNotRateable    = errors.New("ticket has not been closed")
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusOnHold     Status = "on_hold"
	StatusClosed     Status = "closed"
	StatusDeleted    Status = "deleted"
)

// ActiveStatuses are the statuses in which a ticket counts against the
// one-open-ticket-per-user rule.
var ActiveStatuses = []Status{StatusOpen, StatusInProgress, StatusOnHold}

func (s Status) Active() bool {
	return s == StatusOpen || s == StatusInProgress || s == StatusOnHold
}

func (s Status) Valid() bool {
	return s.Active() || s == StatusClosed || s == StatusDeleted
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Ticket struct {
	ID               int64
	GuildID          string
	ChannelID        string
	UserID           string
	Number           int
	Category         string
	Subject          string
	Priority         Priority
	Status           Status
	CreatedAt        time.Time
	ClosedAt         *time.Time
	ClosedBy         string
	CloseReason      string
	SummaryMessageID string
	Rating           *int
	Feedback         string
}

// StatusUpdate moves a ticket from From to To. ClosedAt/ClosedBy are written
// as given, so a reopen passes nil/"" to clear them.
type StatusUpdate struct {
	From        Status
	To          Status
	ClosedAt    *time.Time
	ClosedBy    string
	CloseReason string
}

type Action string

const (
	ActionCreate      Action = "create"
	ActionClose       Action = "close"
	ActionDelete      Action = "delete"
	ActionReopen      Action = "reopen"
	ActionSetStatus   Action = "set_status"
	ActionAddUser     Action = "add_user"
	ActionRemoveUser  Action = "remove_user"
	ActionSetPriority Action = "set_priority"
	ActionNote        Action = "note"
	ActionRating      Action = "rating"
)

type ActionLogEntry struct {
	ID           int64
	GuildID      string
	TicketID     int64
	TicketNumber int
	UserID       string
	Action       Action
	Details      map[string]any
	CreatedAt    time.Time
}

type StaffActivity struct {
	ID         int64
	GuildID    string
	TicketID   int64
	StaffID    string
	ActionType string
	CreatedAt  time.Time
}

// GuildSettings is written by the admin dashboard; this process only reads it
// (SaveGuildSettings exists for the CLI stand-in).
type GuildSettings struct {
	GuildID              string
	TicketLogsChannelID  string
	RulesChannelID       string
	TicketChatbotEnabled bool
}
