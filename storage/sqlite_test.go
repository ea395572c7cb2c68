package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "tickets.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func seedTicket(t *testing.T, db *SQLiteDB, guild, user, channel string) *Ticket {
	t.Helper()
	ctx := context.Background()
	n, err := db.NextTicketNumber(ctx, guild)
	if err != nil {
		t.Fatalf("NextTicketNumber() error = %v", err)
	}
	tk := &Ticket{
		GuildID:   guild,
		ChannelID: channel,
		UserID:    user,
		Number:    n,
		Category:  "general",
		Subject:   "help",
		Priority:  PriorityMedium,
		Status:    StatusOpen,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := db.CreateTicket(ctx, tk); err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	return tk
}

func TestMigrateIdempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateAddsLateColumns(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "old.db"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	_, err = db.db.ExecContext(ctx, `CREATE TABLE tickets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guild_id TEXT NOT NULL, channel_id TEXT NOT NULL, user_id TEXT NOT NULL,
		ticket_number INTEGER NOT NULL, category TEXT NOT NULL, subject TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'open', created_at TEXT NOT NULL, closed_at TEXT, closed_by TEXT)`)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	for _, col := range lateColumns {
		ok, err := db.hasColumn(ctx, "tickets", col.name)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Errorf("column %s not added", col.name)
		}
	}
}

func TestNextTicketNumberSequentialPerGuild(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := db.NextTicketNumber(ctx, "g1")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("g1 number = %d, want %d", got, want)
		}
	}
	if got, _ := db.NextTicketNumber(ctx, "g2"); got != 1 {
		t.Errorf("g2 first number = %d, want 1", got)
	}
}

func TestNextTicketNumberSeedsFromExistingTickets(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.db.ExecContext(ctx,
		"INSERT INTO tickets (guild_id, channel_id, user_id, ticket_number, category, status, created_at) VALUES ('g', 'c', 'u', 41, 'general', 'closed', '2026-01-01T00:00:00Z')")
	if err != nil {
		t.Fatal(err)
	}
	got, err := db.NextTicketNumber(ctx, "g")
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Errorf("number = %d, want 42", got)
	}
}

func TestNextTicketNumberConcurrentUnique(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const workers = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int]bool{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := db.NextTicketNumber(ctx, "g")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != workers {
		t.Errorf("distinct numbers = %d, want %d", len(seen), workers)
	}
}

func TestTicketLookups(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	created := seedTicket(t, db, "g", "u1", "chan-1")

	byChannel, err := db.TicketByChannel(ctx, "chan-1")
	if err != nil {
		t.Fatalf("TicketByChannel() error = %v", err)
	}
	if byChannel.ID != created.ID || byChannel.Number != 1 || byChannel.Priority != PriorityMedium {
		t.Errorf("TicketByChannel() = %+v", byChannel)
	}
	if !byChannel.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("created_at = %v, want %v", byChannel.CreatedAt, created.CreatedAt)
	}
	if byChannel.ClosedAt != nil || byChannel.Rating != nil {
		t.Error("fresh ticket has close or rating data")
	}

	if _, err := db.TicketByChannel(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing channel error = %v, want ErrNotFound", err)
	}

	active, err := db.ActiveTicketForUser(ctx, "g", "u1")
	if err != nil || active.ID != created.ID {
		t.Errorf("ActiveTicketForUser() = %v, %v", active, err)
	}
	if _, err := db.ActiveTicketForUser(ctx, "g", "u2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other user error = %v, want ErrNotFound", err)
	}
}

func TestUpdateStatusConditional(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tk := seedTicket(t, db, "g", "u", "c")

	closedAt := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	err := db.UpdateStatus(ctx, tk.ID, StatusUpdate{
		From: StatusOpen, To: StatusClosed, ClosedAt: &closedAt, ClosedBy: "staff", CloseReason: "Resolved",
	})
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	err = db.UpdateStatus(ctx, tk.ID, StatusUpdate{From: StatusOpen, To: StatusClosed})
	if !errors.Is(err, ErrStatusConflict) {
		t.Errorf("stale update error = %v, want ErrStatusConflict", err)
	}

	got, _ := db.TicketByID(ctx, tk.ID)
	if got.Status != StatusClosed || got.ClosedBy != "staff" || got.CloseReason != "Resolved" {
		t.Errorf("after close = %+v", got)
	}
	if got.ClosedAt == nil || !got.ClosedAt.Equal(closedAt) {
		t.Errorf("closed_at = %v, want %v", got.ClosedAt, closedAt)
	}
	if _, err := db.ActiveTicketForUser(ctx, "g", "u"); !errors.Is(err, ErrNotFound) {
		t.Error("closed ticket still counted as active")
	}

	if err := db.UpdateStatus(ctx, tk.ID, StatusUpdate{From: StatusClosed, To: StatusOpen}); err != nil {
		t.Fatal(err)
	}
	got, _ = db.TicketByID(ctx, tk.ID)
	if got.ClosedAt != nil || got.ClosedBy != "" {
		t.Errorf("reopen kept close data: %+v", got)
	}

	if err := db.UpdateStatus(ctx, 999, StatusUpdate{From: StatusOpen, To: StatusClosed}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing ticket error = %v, want ErrNotFound", err)
	}
}

func TestSetRatingOnlyOnceAfterClose(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tk := seedTicket(t, db, "g", "u", "c")

	if err := db.SetRating(ctx, tk.ID, 5, ""); !errors.Is(err, ErrNotRateable) {
		t.Errorf("rating open ticket error = %v, want ErrNotRateable", err)
	}

	now := time.Now()
	if err := db.UpdateStatus(ctx, tk.ID, StatusUpdate{From: StatusOpen, To: StatusClosed, ClosedAt: &now, ClosedBy: "u"}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetRating(ctx, tk.ID, 4, "thanks"); err != nil {
		t.Fatalf("SetRating() error = %v", err)
	}
	if err := db.SetRating(ctx, tk.ID, 1, "again"); !errors.Is(err, ErrNotRateable) {
		t.Errorf("second rating error = %v, want ErrNotRateable", err)
	}

	got, _ := db.TicketByID(ctx, tk.ID)
	if got.Rating == nil || *got.Rating != 4 || got.Feedback != "thanks" {
		t.Errorf("rating = %v feedback = %q", got.Rating, got.Feedback)
	}
}

func TestActionLogRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tk := seedTicket(t, db, "g", "u", "c")

	entry := &ActionLogEntry{
		GuildID: "g", TicketID: tk.ID, TicketNumber: tk.Number, UserID: "u",
		Action: ActionClose, Details: map[string]any{"reason": "Resolved"}, CreatedAt: time.Now(),
	}
	if err := db.AppendActionLog(ctx, entry); err != nil {
		t.Fatal(err)
	}
	logs, err := db.ActionLogs(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Action != ActionClose || logs[0].Details["reason"] != "Resolved" {
		t.Errorf("ActionLogs() = %+v", logs)
	}
}

func TestGuildSettingsDefaultAndSave(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	gs, err := db.GuildSettings(ctx, "g")
	if err != nil {
		t.Fatal(err)
	}
	if gs.TicketLogsChannelID != "" {
		t.Errorf("default logs channel = %q", gs.TicketLogsChannelID)
	}

	if err := db.SaveGuildSettings(ctx, GuildSettings{GuildID: "g", TicketLogsChannelID: "logs", TicketChatbotEnabled: true}); err != nil {
		t.Fatal(err)
	}
	gs, _ = db.GuildSettings(ctx, "g")
	if gs.TicketLogsChannelID != "logs" || !gs.TicketChatbotEnabled {
		t.Errorf("saved settings = %+v", gs)
	}
}
