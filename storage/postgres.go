package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"ticketbot/config"
)

type PostgresDB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func OpenPostgres(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*PostgresDB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.postgres.dsn (or POSTGRES_DSN) must be set to use driver=postgres")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("connected to postgres")
	return &PostgresDB{pool: pool, logger: logger}, nil
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresDB) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	for _, col := range lateColumns {
		stmt := fmt.Sprintf("ALTER TABLE tickets ADD COLUMN IF NOT EXISTS %s %s", col.name, col.postgresType)
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
	}
	return nil
}

func (p *PostgresDB) NextTicketNumber(ctx context.Context, guildID string) (int, error) {
	const query = `
        INSERT INTO ticket_counters (guild_id, last_number)
        VALUES ($1, (SELECT COALESCE(MAX(ticket_number), 0) FROM tickets WHERE guild_id = $1) + 1)
        ON CONFLICT (guild_id) DO UPDATE SET last_number = ticket_counters.last_number + 1
        RETURNING last_number`
	var n int
	if err := p.pool.QueryRow(ctx, query, guildID).Scan(&n); err != nil {
		return 0, fmt.Errorf("next ticket number: %w", err)
	}
	return n, nil
}

func (p *PostgresDB) CreateTicket(ctx context.Context, t *Ticket) error {
	const query = `
        INSERT INTO tickets (guild_id, channel_id, user_id, ticket_number, category, subject, priority, status, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING id`
	return p.pool.QueryRow(ctx, query,
		t.GuildID, t.ChannelID, t.UserID, t.Number, t.Category, t.Subject,
		string(t.Priority), string(t.Status), t.CreatedAt,
	).Scan(&t.ID)
}

func (p *PostgresDB) TicketByID(ctx context.Context, id int64) (*Ticket, error) {
	return scanPostgresTicket(p.pool.QueryRow(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE id = $1", id))
}

func (p *PostgresDB) TicketByChannel(ctx context.Context, channelID string) (*Ticket, error) {
	return scanPostgresTicket(p.pool.QueryRow(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE channel_id = $1", channelID))
}

func (p *PostgresDB) ActiveTicketForUser(ctx context.Context, guildID, userID string) (*Ticket, error) {
	row := p.pool.QueryRow(ctx,
		"SELECT "+ticketColumns+" FROM tickets WHERE guild_id = $1 AND user_id = $2 AND status = ANY($3) ORDER BY id DESC LIMIT 1",
		guildID, userID, activeStatusStrings(),
	)
	return scanPostgresTicket(row)
}

func (p *PostgresDB) ListActiveTickets(ctx context.Context, guildID string) ([]Ticket, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT "+ticketColumns+" FROM tickets WHERE guild_id = $1 AND status = ANY($2) ORDER BY ticket_number",
		guildID, activeStatusStrings(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		t, err := scanPostgresTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (p *PostgresDB) UpdateStatus(ctx context.Context, id int64, u StatusUpdate) error {
	cmd, err := p.pool.Exec(ctx,
		"UPDATE tickets SET status=$1, closed_at=$2, closed_by=$3, close_reason=$4 WHERE id=$5 AND status=$6",
		string(u.To), u.ClosedAt, u.ClosedBy, u.CloseReason, id, string(u.From),
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return p.expectOne(ctx, cmd, id, ErrStatusConflict)
}

func (p *PostgresDB) UpdatePriority(ctx context.Context, id int64, pr Priority) error {
	cmd, err := p.pool.Exec(ctx, "UPDATE tickets SET priority=$1 WHERE id=$2", string(pr), id)
	if err != nil {
		return err
	}
	return p.expectOne(ctx, cmd, id, ErrNotFound)
}

func (p *PostgresDB) SetSummaryMessage(ctx context.Context, id int64, messageID string) error {
	cmd, err := p.pool.Exec(ctx, "UPDATE tickets SET summary_message_id=$1 WHERE id=$2", messageID, id)
	if err != nil {
		return err
	}
	return p.expectOne(ctx, cmd, id, ErrNotFound)
}

func (p *PostgresDB) SetRating(ctx context.Context, id int64, rating int, feedback string) error {
	cmd, err := p.pool.Exec(ctx,
		"UPDATE tickets SET rating=$1, feedback=$2 WHERE id=$3 AND status IN ($4,$5) AND rating IS NULL",
		rating, feedback, id, string(StatusClosed), string(StatusDeleted),
	)
	if err != nil {
		return fmt.Errorf("set rating: %w", err)
	}
	return p.expectOne(ctx, cmd, id, ErrNotRateable)
}

func (p *PostgresDB) expectOne(ctx context.Context, cmd pgconn.CommandTag, id int64, miss error) error {
	if cmd.RowsAffected() > 0 {
		return nil
	}
	var exists int
	err := p.pool.QueryRow(ctx, "SELECT 1 FROM tickets WHERE id = $1", id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return miss
}

func (p *PostgresDB) AppendActionLog(ctx context.Context, e *ActionLogEntry) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	const query = `
        INSERT INTO ticket_action_logs (guild_id, ticket_id, ticket_number, user_id, action, details, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id`
	return p.pool.QueryRow(ctx, query,
		e.GuildID, e.TicketID, e.TicketNumber, e.UserID, string(e.Action), details, e.CreatedAt,
	).Scan(&e.ID)
}

func (p *PostgresDB) ActionLogs(ctx context.Context, ticketID int64) ([]ActionLogEntry, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT id, guild_id, ticket_id, ticket_number, user_id, action, details, created_at FROM ticket_action_logs WHERE ticket_id = $1 ORDER BY id",
		ticketID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionLogEntry
	for rows.Next() {
		var (
			e      ActionLogEntry
			action string
		)
		if err := rows.Scan(&e.ID, &e.GuildID, &e.TicketID, &e.TicketNumber, &e.UserID, &action, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresDB) RecordStaffActivity(ctx context.Context, a *StaffActivity) error {
	return p.pool.QueryRow(ctx,
		"INSERT INTO ticket_staff_activity (guild_id, ticket_id, staff_id, action_type, created_at) VALUES ($1,$2,$3,$4,$5) RETURNING id",
		a.GuildID, a.TicketID, a.StaffID, a.ActionType, a.CreatedAt,
	).Scan(&a.ID)
}

func (p *PostgresDB) GuildSettings(ctx context.Context, guildID string) (GuildSettings, error) {
	gs := GuildSettings{GuildID: guildID}
	err := p.pool.QueryRow(ctx,
		"SELECT ticket_logs_channel_id, rules_channel_id, ticket_chatbot_enabled FROM guild_settings WHERE guild_id = $1",
		guildID,
	).Scan(&gs.TicketLogsChannelID, &gs.RulesChannelID, &gs.TicketChatbotEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return gs, nil
	}
	return gs, err
}

func (p *PostgresDB) SaveGuildSettings(ctx context.Context, gs GuildSettings) error {
	_, err := p.pool.Exec(ctx, `
        INSERT INTO guild_settings (guild_id, ticket_logs_channel_id, rules_channel_id, ticket_chatbot_enabled)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (guild_id) DO UPDATE SET
            ticket_logs_channel_id = EXCLUDED.ticket_logs_channel_id,
            rules_channel_id = EXCLUDED.rules_channel_id,
            ticket_chatbot_enabled = EXCLUDED.ticket_chatbot_enabled`,
		gs.GuildID, gs.TicketLogsChannelID, gs.RulesChannelID, gs.TicketChatbotEnabled,
	)
	return err
}

func activeStatusStrings() []string {
	out := make([]string, len(ActiveStatuses))
	for i, s := range ActiveStatuses {
		out[i] = string(s)
	}
	return out
}

func scanPostgresTicket(row pgx.Row) (*Ticket, error) {
	var (
		t                     Ticket
		priority, status      string
		closedBy, closeReason *string
		summaryID, feedback   *string
	)
	err := row.Scan(&t.ID, &t.GuildID, &t.ChannelID, &t.UserID, &t.Number, &t.Category, &t.Subject,
		&priority, &status, &t.CreatedAt, &t.ClosedAt, &closedBy, &closeReason, &summaryID, &t.Rating, &feedback)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Priority = Priority(priority)
	t.Status = Status(status)
	t.ClosedBy = deref(closedBy)
	t.CloseReason = deref(closeReason)
	t.SummaryMessageID = deref(summaryID)
	t.Feedback = deref(feedback)
	return &t, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
