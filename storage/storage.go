package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ticketbot/config"
)

// Store is the persistent ticket store. Every method is a single statement (or
// single document operation); callers must not assume atomicity across calls.
type Store interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// NextTicketNumber atomically allocates the next ticket number in a guild.
	NextTicketNumber(ctx context.Context, guildID string) (int, error)
	CreateTicket(ctx context.Context, t *Ticket) error
	TicketByID(ctx context.Context, id int64) (*Ticket, error)
	TicketByChannel(ctx context.Context, channelID string) (*Ticket, error)
	ActiveTicketForUser(ctx context.Context, guildID, userID string) (*Ticket, error)
	ListActiveTickets(ctx context.Context, guildID string) ([]Ticket, error)
	UpdateStatus(ctx context.Context, id int64, u StatusUpdate) error
	UpdatePriority(ctx context.Context, id int64, p Priority) error
	SetSummaryMessage(ctx context.Context, id int64, messageID string) error
	SetRating(ctx context.Context, id int64, rating int, feedback string) error

	AppendActionLog(ctx context.Context, e *ActionLogEntry) error
	ActionLogs(ctx context.Context, ticketID int64) ([]ActionLogEntry, error)
	RecordStaffActivity(ctx context.Context, a *StaffActivity) error

	GuildSettings(ctx context.Context, guildID string) (GuildSettings, error)
	SaveGuildSettings(ctx context.Context, s GuildSettings) error
}

// Open connects to the configured driver. The schema is not touched; call
// Migrate once at startup.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return OpenSQLite(cfg.SQLite.Path, logger)
	case "postgres":
		return OpenPostgres(ctx, cfg.Postgres, logger)
	case "mongodb":
		return OpenMongo(ctx, cfg.MongoDB, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (use \"sqlite\", \"postgres\" or \"mongodb\")", cfg.Driver)
	}
}
