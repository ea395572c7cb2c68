package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Discord  DiscordConfig  `json:"discord"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Throttle ThrottleConfig `json:"throttle"`
	Tickets  TicketsConfig  `json:"tickets"`
	Sinks    SinksConfig    `json:"sinks"`
	Logger   LoggerConfig   `json:"logger"`
	Ops      OpsConfig      `json:"ops"`
	Lang     LangConfig     `json:"lang"`
}

type DiscordConfig struct {
	Token   string `json:"token"`
	GuildID string `json:"guild_id"`
}

type DatabaseConfig struct {
	Driver   string         `json:"driver"`
	SQLite   SQLiteConfig   `json:"sqlite"`
	Postgres PostgresConfig `json:"postgres"`
	MongoDB  MongoDBConfig  `json:"mongodb"`
}

type SQLiteConfig struct {
	Path string `json:"path"`
}

type PostgresConfig struct {
	DSN      string `json:"dsn"`
	MaxConns int32  `json:"max_conns"`
	MinConns int32  `json:"min_conns"`
}

type MongoDBConfig struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ThrottleConfig struct {
	// Backend is "memory" or "redis".
	Backend string `json:"backend"`
}

type TicketsConfig struct {
	LogChannel      string           `json:"log_channel"`
	RulesChannel    string           `json:"rules_channel"`
	StaffRoles      []string         `json:"staff_roles"`
	DiscordCategory string           `json:"discord_category"`
	FAQ             string           `json:"faq"`
	Categories      []TicketCategory `json:"categories"`

	ConfirmTimeoutSeconds int `json:"confirm_timeout_seconds"`
	ChoiceTimeoutSeconds  int `json:"choice_timeout_seconds"`
	ModalTimeoutSeconds   int `json:"modal_timeout_seconds"`
	DeleteDelaySeconds    int `json:"delete_delay_seconds"`
	TranscriptLimit       int `json:"transcript_limit"`
}

type TicketCategory struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Emoji                string   `json:"emoji"`
	Description          string   `json:"description"`
	Priority             string   `json:"priority"`
	ExpectedResponseTime string   `json:"expected_response_time"`
	StaffRoles           []string `json:"staff_roles"`
}

type SinksConfig struct {
	AMQP      AMQPSinkConfig      `json:"amqp"`
	WebSocket WebSocketSinkConfig `json:"websocket"`
}

type AMQPSinkConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
}

type WebSocketSinkConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Token   string `json:"token"`
}

type LoggerConfig struct {
	Level string `json:"level"`
}

type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type LangConfig struct {
	Path string `json:"path"`
}

// DefaultCategories is the catalog used when config.json lists none.
var DefaultCategories = []TicketCategory{
	{ID: "general", Name: "General Support", Emoji: "💬", Description: "Questions about the server or anything else", Priority: "medium", ExpectedResponseTime: "within 24 hours"},
	{ID: "technical", Name: "Technical Issue", Emoji: "🛠️", Description: "Bugs, errors and things that do not work", Priority: "high", ExpectedResponseTime: "within 12 hours"},
	{ID: "billing", Name: "Billing", Emoji: "💳", Description: "Payments, refunds and subscriptions", Priority: "high", ExpectedResponseTime: "within 12 hours"},
	{ID: "report", Name: "Report a User", Emoji: "🚨", Description: "Report rule-breaking behaviour", Priority: "urgent", ExpectedResponseTime: "within 6 hours"},
	{ID: "other", Name: "Other", Emoji: "📁", Description: "Anything that fits nowhere else", Priority: "low", ExpectedResponseTime: "within 48 hours"},
}

// LoadConfig reads the JSON config at path, applies environment overrides
// (a .env file is honoured) and fills defaults.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func SaveConfig(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func applyEnv(cfg *Config) {
	cfg.Discord.Token = getEnv("DISCORD_TOKEN", cfg.Discord.Token)
	cfg.Discord.GuildID = getEnv("DISCORD_GUILD_ID", cfg.Discord.GuildID)
	cfg.Database.Driver = getEnv("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.SQLite.Path = getEnv("SQLITE_PATH", cfg.Database.SQLite.Path)
	cfg.Database.Postgres.DSN = getEnv("POSTGRES_DSN", cfg.Database.Postgres.DSN)
	cfg.Database.MongoDB.URI = getEnv("MONGODB_URI", cfg.Database.MongoDB.URI)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)
	cfg.Sinks.AMQP.URL = getEnv("AMQP_URL", cfg.Sinks.AMQP.URL)
	cfg.Sinks.WebSocket.Token = getEnv("FEED_TOKEN", cfg.Sinks.WebSocket.Token)
	cfg.Logger.Level = getEnv("LOG_LEVEL", cfg.Logger.Level)
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.SQLite.Path == "" {
		cfg.Database.SQLite.Path = "data/tickets.db"
	}
	if cfg.Database.Postgres.MaxConns <= 0 {
		cfg.Database.Postgres.MaxConns = 10
	}
	if cfg.Database.MongoDB.Database == "" {
		cfg.Database.MongoDB.Database = "ticketbot"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Throttle.Backend == "" {
		cfg.Throttle.Backend = "memory"
	}
	if len(cfg.Tickets.Categories) == 0 {
		cfg.Tickets.Categories = append([]TicketCategory(nil), DefaultCategories...)
	}
	for idx := range cfg.Tickets.Categories {
		if cfg.Tickets.Categories[idx].Priority == "" {
			cfg.Tickets.Categories[idx].Priority = "medium"
		}
	}
	if cfg.Tickets.ConfirmTimeoutSeconds <= 0 {
		cfg.Tickets.ConfirmTimeoutSeconds = 30
	}
	if cfg.Tickets.ChoiceTimeoutSeconds <= 0 {
		cfg.Tickets.ChoiceTimeoutSeconds = 60
	}
	if cfg.Tickets.ModalTimeoutSeconds <= 0 {
		cfg.Tickets.ModalTimeoutSeconds = 300
	}
	if cfg.Tickets.DeleteDelaySeconds < 0 {
		cfg.Tickets.DeleteDelaySeconds = 0
	}
	if cfg.Tickets.TranscriptLimit <= 0 || cfg.Tickets.TranscriptLimit > 100 {
		cfg.Tickets.TranscriptLimit = 100
	}
	if cfg.Sinks.AMQP.Exchange == "" {
		cfg.Sinks.AMQP.Exchange = "tickets"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Ops.Addr == "" {
		cfg.Ops.Addr = "127.0.0.1:8080"
	}
}

func (t TicketsConfig) ConfirmTimeout() time.Duration {
	return time.Duration(t.ConfirmTimeoutSeconds) * time.Second
}

func (t TicketsConfig) ChoiceTimeout() time.Duration {
	return time.Duration(t.ChoiceTimeoutSeconds) * time.Second
}

func (t TicketsConfig) ModalTimeout() time.Duration {
	return time.Duration(t.ModalTimeoutSeconds) * time.Second
}

func (t TicketsConfig) DeleteDelay() time.Duration {
	return time.Duration(t.DeleteDelaySeconds) * time.Second
}

// Category looks up a catalog entry by id.
func (t TicketsConfig) Category(id string) (TicketCategory, bool) {
	for _, c := range t.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return TicketCategory{}, false
}

// CategoryStaffRoles returns the roles that staff a category, falling back to
// the global staff roles.
func (t TicketsConfig) CategoryStaffRoles(c TicketCategory) []string {
	if len(c.StaffRoles) > 0 {
		return c.StaffRoles
	}
	return t.StaffRoles
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}
