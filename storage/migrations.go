package storage

// lateColumns were added to tickets after the first release. Migrate adds any
// that an older database is missing; request paths assume they exist.
var lateColumns = []struct {
	name         string
	sqliteType   string
	postgresType string
}{
	{"priority", "TEXT NOT NULL DEFAULT 'medium'", "TEXT NOT NULL DEFAULT 'medium'"},
	{"close_reason", "TEXT", "TEXT"},
	{"summary_message_id", "TEXT", "TEXT"},
	{"rating", "INTEGER", "INTEGER"},
	{"feedback", "TEXT", "TEXT"},
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tickets (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id      TEXT NOT NULL,
	channel_id    TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	ticket_number INTEGER NOT NULL,
	category      TEXT NOT NULL,
	subject       TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'open',
	created_at    TEXT NOT NULL,
	closed_at     TEXT,
	closed_by     TEXT,
	UNIQUE (guild_id, ticket_number)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_channel ON tickets(channel_id);
CREATE INDEX IF NOT EXISTS idx_tickets_guild_user_status ON tickets(guild_id, user_id, status);

CREATE TABLE IF NOT EXISTS ticket_counters (
	guild_id    TEXT PRIMARY KEY,
	last_number INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ticket_action_logs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id      TEXT NOT NULL,
	ticket_id     INTEGER NOT NULL,
	ticket_number INTEGER NOT NULL,
	user_id       TEXT NOT NULL,
	action        TEXT NOT NULL,
	details       TEXT NOT NULL DEFAULT '{}',
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_logs_ticket ON ticket_action_logs(ticket_id);

CREATE TABLE IF NOT EXISTS ticket_staff_activity (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id    TEXT NOT NULL,
	ticket_id   INTEGER NOT NULL,
	staff_id    TEXT NOT NULL,
	action_type TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_staff_activity_guild_staff ON ticket_staff_activity(guild_id, staff_id);

CREATE TABLE IF NOT EXISTS guild_settings (
	guild_id               TEXT PRIMARY KEY,
	ticket_logs_channel_id TEXT NOT NULL DEFAULT '',
	rules_channel_id       TEXT NOT NULL DEFAULT '',
	ticket_chatbot_enabled INTEGER NOT NULL DEFAULT 0
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tickets (
	id            BIGSERIAL PRIMARY KEY,
	guild_id      TEXT NOT NULL,
	channel_id    TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	ticket_number INTEGER NOT NULL,
	category      TEXT NOT NULL,
	subject       TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'open',
	created_at    TIMESTAMPTZ NOT NULL,
	closed_at     TIMESTAMPTZ,
	closed_by     TEXT,
	UNIQUE (guild_id, ticket_number)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_channel ON tickets(channel_id);
CREATE INDEX IF NOT EXISTS idx_tickets_guild_user_status ON tickets(guild_id, user_id, status);

CREATE TABLE IF NOT EXISTS ticket_counters (
	guild_id    TEXT PRIMARY KEY,
	last_number INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ticket_action_logs (
	id            BIGSERIAL PRIMARY KEY,
	guild_id      TEXT NOT NULL,
	ticket_id     BIGINT NOT NULL,
	ticket_number INTEGER NOT NULL,
	user_id       TEXT NOT NULL,
	action        TEXT NOT NULL,
	details       JSONB NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_logs_ticket ON ticket_action_logs(ticket_id);

CREATE TABLE IF NOT EXISTS ticket_staff_activity (
	id          BIGSERIAL PRIMARY KEY,
	guild_id    TEXT NOT NULL,
	ticket_id   BIGINT NOT NULL,
	staff_id    TEXT NOT NULL,
	action_type TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_staff_activity_guild_staff ON ticket_staff_activity(guild_id, staff_id);

CREATE TABLE IF NOT EXISTS guild_settings (
	guild_id               TEXT PRIMARY KEY,
	ticket_logs_channel_id TEXT NOT NULL DEFAULT '',
	rules_channel_id       TEXT NOT NULL DEFAULT '',
	ticket_chatbot_enabled BOOLEAN NOT NULL DEFAULT FALSE
);
`
