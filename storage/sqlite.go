package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteTimeLayout = time.RFC3339Nano

type SQLiteDB struct {
	Path   string
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens the database file at path (":memory:" is accepted).
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteDB, error) {
	if path != ":memory:" {
		_ = os.MkdirAll(filepath.Dir(path), 0755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite pragma: %w", err)
	}

	logger.Info("sqlite opened", zap.String("path", path))
	return &SQLiteDB{Path: path, db: db, logger: logger}, nil
}

func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteDB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDB) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("sqlite schema: %w", err)
	}
	for _, col := range lateColumns {
		exists, err := s.hasColumn(ctx, "tickets", col.name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE tickets ADD COLUMN %s %s", col.name, col.sqliteType)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
		s.logger.Info("column added", zap.String("table", "tickets"), zap.String("column", col.name))
	}
	return nil
}

func (s *SQLiteDB) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (s *SQLiteDB) NextTicketNumber(ctx context.Context, guildID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO ticket_counters (guild_id, last_number)
		VALUES (?, (SELECT COALESCE(MAX(ticket_number), 0) FROM tickets WHERE guild_id = ?) + 1)
		ON CONFLICT(guild_id) DO UPDATE SET last_number = last_number + 1
		RETURNING last_number`,
		guildID, guildID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next ticket number: %w", err)
	}
	return n, nil
}

func (s *SQLiteDB) CreateTicket(ctx context.Context, t *Ticket) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (guild_id, channel_id, user_id, ticket_number, category, subject, priority, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.GuildID, t.ChannelID, t.UserID, t.Number, t.Category, t.Subject, string(t.Priority), string(t.Status),
		t.CreatedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

const ticketColumns = `id, guild_id, channel_id, user_id, ticket_number, category, subject, priority, status,
	created_at, closed_at, closed_by, close_reason, summary_message_id, rating, feedback`

func (s *SQLiteDB) TicketByID(ctx context.Context, id int64) (*Ticket, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE id = ?", id)
	return scanSQLiteTicket(row)
}

func (s *SQLiteDB) TicketByChannel(ctx context.Context, channelID string) (*Ticket, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE channel_id = ?", channelID)
	return scanSQLiteTicket(row)
}

func (s *SQLiteDB) ActiveTicketForUser(ctx context.Context, guildID, userID string) (*Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+ticketColumns+" FROM tickets WHERE guild_id = ? AND user_id = ? AND status IN (?, ?, ?) ORDER BY id DESC LIMIT 1",
		guildID, userID, string(StatusOpen), string(StatusInProgress), string(StatusOnHold),
	)
	return scanSQLiteTicket(row)
}

func (s *SQLiteDB) ListActiveTickets(ctx context.Context, guildID string) ([]Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+ticketColumns+" FROM tickets WHERE guild_id = ? AND status IN (?, ?, ?) ORDER BY ticket_number",
		guildID, string(StatusOpen), string(StatusInProgress), string(StatusOnHold),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		t, err := scanSQLiteTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) UpdateStatus(ctx context.Context, id int64, u StatusUpdate) error {
	var closedAt sql.NullString
	if u.ClosedAt != nil {
		closedAt = sql.NullString{String: u.ClosedAt.UTC().Format(sqliteTimeLayout), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE tickets SET status = ?, closed_at = ?, closed_by = ?, close_reason = ? WHERE id = ? AND status = ?",
		string(u.To), closedAt, u.ClosedBy, u.CloseReason, id, string(u.From),
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return s.expectOne(ctx, res, id, ErrStatusConflict)
}

func (s *SQLiteDB) UpdatePriority(ctx context.Context, id int64, p Priority) error {
	res, err := s.db.ExecContext(ctx, "UPDATE tickets SET priority = ? WHERE id = ?", string(p), id)
	if err != nil {
		return err
	}
	return s.expectOne(ctx, res, id, ErrNotFound)
}

func (s *SQLiteDB) SetSummaryMessage(ctx context.Context, id int64, messageID string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE tickets SET summary_message_id = ? WHERE id = ?", messageID, id)
	if err != nil {
		return err
	}
	return s.expectOne(ctx, res, id, ErrNotFound)
}

func (s *SQLiteDB) SetRating(ctx context.Context, id int64, rating int, feedback string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE tickets SET rating = ?, feedback = ? WHERE id = ? AND status IN (?, ?) AND rating IS NULL",
		rating, feedback, id, string(StatusClosed), string(StatusDeleted),
	)
	if err != nil {
		return fmt.Errorf("set rating: %w", err)
	}
	return s.expectOne(ctx, res, id, ErrNotRateable)
}

// expectOne maps a zero-row update to ErrNotFound when the row is gone and to
// miss otherwise.
func (s *SQLiteDB) expectOne(ctx context.Context, res sql.Result, id int64, miss error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM tickets WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return miss
}

func (s *SQLiteDB) AppendActionLog(ctx context.Context, e *ActionLogEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ticket_action_logs (guild_id, ticket_id, ticket_number, user_id, action, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.GuildID, e.TicketID, e.TicketNumber, e.UserID, string(e.Action), string(details),
		e.CreatedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert action log: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteDB) ActionLogs(ctx context.Context, ticketID int64) ([]ActionLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, guild_id, ticket_id, ticket_number, user_id, action, details, created_at FROM ticket_action_logs WHERE ticket_id = ? ORDER BY id",
		ticketID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionLogEntry
	for rows.Next() {
		var (
			e       ActionLogEntry
			action  string
			details string
			created string
		)
		if err := rows.Scan(&e.ID, &e.GuildID, &e.TicketID, &e.TicketNumber, &e.UserID, &action, &details, &created); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		if details != "" {
			_ = json.Unmarshal([]byte(details), &e.Details)
		}
		e.CreatedAt, _ = time.Parse(sqliteTimeLayout, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) RecordStaffActivity(ctx context.Context, a *StaffActivity) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO ticket_staff_activity (guild_id, ticket_id, staff_id, action_type, created_at) VALUES (?, ?, ?, ?, ?)",
		a.GuildID, a.TicketID, a.StaffID, a.ActionType, a.CreatedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert staff activity: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteDB) GuildSettings(ctx context.Context, guildID string) (GuildSettings, error) {
	gs := GuildSettings{GuildID: guildID}
	var chatbot int
	err := s.db.QueryRowContext(ctx,
		"SELECT ticket_logs_channel_id, rules_channel_id, ticket_chatbot_enabled FROM guild_settings WHERE guild_id = ?",
		guildID,
	).Scan(&gs.TicketLogsChannelID, &gs.RulesChannelID, &chatbot)
	if errors.Is(err, sql.ErrNoRows) {
		return gs, nil
	}
	if err != nil {
		return gs, err
	}
	gs.TicketChatbotEnabled = chatbot != 0
	return gs, nil
}

func (s *SQLiteDB) SaveGuildSettings(ctx context.Context, gs GuildSettings) error {
	chatbot := 0
	if gs.TicketChatbotEnabled {
		chatbot = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_settings (guild_id, ticket_logs_channel_id, rules_channel_id, ticket_chatbot_enabled)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			ticket_logs_channel_id = excluded.ticket_logs_channel_id,
			rules_channel_id = excluded.rules_channel_id,
			ticket_chatbot_enabled = excluded.ticket_chatbot_enabled`,
		gs.GuildID, gs.TicketLogsChannelID, gs.RulesChannelID, chatbot,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTicket(row rowScanner) (*Ticket, error) {
	var (
		t                     Ticket
		priority, status      string
		created               string
		closedAt              sql.NullString
		closedBy, closeReason sql.NullString
		summaryID, feedback   sql.NullString
		rating                sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.GuildID, &t.ChannelID, &t.UserID, &t.Number, &t.Category, &t.Subject,
		&priority, &status, &created, &closedAt, &closedBy, &closeReason, &summaryID, &rating, &feedback)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.Priority = Priority(priority)
	t.Status = Status(status)
	t.CreatedAt, _ = time.Parse(sqliteTimeLayout, created)
	if closedAt.Valid && closedAt.String != "" {
		if ts, err := time.Parse(sqliteTimeLayout, closedAt.String); err == nil {
			t.ClosedAt = &ts
		}
	}
	t.ClosedBy = closedBy.String
	t.CloseReason = closeReason.String
	t.SummaryMessageID = summaryID.String
	if rating.Valid {
		r := int(rating.Int64)
		t.Rating = &r
	}
	t.Feedback = feedback.String
	return &t, nil
}
