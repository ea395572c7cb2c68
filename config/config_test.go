package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{"discord":{"token":"abc"}}`))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Throttle.Backend != "memory" {
		t.Errorf("throttle backend = %q, want memory", cfg.Throttle.Backend)
	}
	if got := cfg.Tickets.ConfirmTimeout(); got != 30*time.Second {
		t.Errorf("confirm timeout = %v, want 30s", got)
	}
	if got := cfg.Tickets.ChoiceTimeout(); got != 60*time.Second {
		t.Errorf("choice timeout = %v, want 60s", got)
	}
	if got := cfg.Tickets.ModalTimeout(); got != 300*time.Second {
		t.Errorf("modal timeout = %v, want 300s", got)
	}
	if cfg.Tickets.TranscriptLimit != 100 {
		t.Errorf("transcript limit = %d, want 100", cfg.Tickets.TranscriptLimit)
	}
	if len(cfg.Tickets.Categories) != len(DefaultCategories) {
		t.Errorf("categories = %d, want default %d", len(cfg.Tickets.Categories), len(DefaultCategories))
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Database.SQLite.Path == "" {
		t.Error("expected default sqlite path")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "from-env")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("REDIS_DB", "3")

	cfg, err := LoadConfig(writeConfig(t, `{"discord":{"token":"from-file"}}`))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Discord.Token != "from-env" {
		t.Errorf("token = %q, want from-env", cfg.Discord.Token)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Redis.DB != 3 {
		t.Errorf("redis db = %d, want 3", cfg.Redis.DB)
	}
}

func TestTranscriptLimitClamped(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{"tickets":{"transcript_limit":500}}`))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Tickets.TranscriptLimit != 100 {
		t.Errorf("transcript limit = %d, want 100", cfg.Tickets.TranscriptLimit)
	}
}

func TestCategoryStaffRoles(t *testing.T) {
	tc := TicketsConfig{
		StaffRoles: []string{"global"},
		Categories: []TicketCategory{
			{ID: "billing", StaffRoles: []string{"finance"}},
			{ID: "general"},
		},
	}

	billing, ok := tc.Category("billing")
	if !ok {
		t.Fatal("billing not found")
	}
	if got := tc.CategoryStaffRoles(billing); len(got) != 1 || got[0] != "finance" {
		t.Errorf("billing roles = %v, want [finance]", got)
	}

	general, _ := tc.Category("general")
	if got := tc.CategoryStaffRoles(general); len(got) != 1 || got[0] != "global" {
		t.Errorf("general roles = %v, want [global]", got)
	}

	if _, ok := tc.Category("missing"); ok {
		t.Error("missing category reported as found")
	}
}

func TestSaveConfigLoadsBack(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	cfg.Discord.GuildID = "guild-1"
	cfg.Tickets.DeleteDelaySeconds = 5

	path := filepath.Join(t.TempDir(), "config.json")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if got.Discord.GuildID != "guild-1" {
		t.Errorf("guild id = %q, want guild-1", got.Discord.GuildID)
	}
	if got.Tickets.DeleteDelay() != 5*time.Second {
		t.Errorf("delete delay = %v, want 5s", got.Tickets.DeleteDelay())
	}
	if len(got.Tickets.Categories) != len(DefaultCategories) {
		t.Errorf("categories = %d, want %d", len(got.Tickets.Categories), len(DefaultCategories))
	}
}
