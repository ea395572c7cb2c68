package lang

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltinCatalog(t *testing.T) {
	if got := T("not_a_ticket"); got == "{not_a_ticket}" {
		t.Fatal("built-in catalog missing not_a_ticket")
	}
	if got := T("definitely_missing_key"); got != "{definitely_missing_key}" {
		t.Errorf("missing key = %q", got)
	}
}

func TestPlaceholders(t *testing.T) {
	got := T("ticket_created", "channel_id", "123")
	if got == "" || !strings.Contains(got, "<#123>") {
		t.Errorf("ticket_created = %q, want channel mention", got)
	}
}

func TestLoadOverlay(t *testing.T) {
	original := T("generic_error")
	t.Cleanup(func() {
		mu.Lock()
		messages["generic_error"] = original
		mu.Unlock()
	})

	path := filepath.Join(t.TempDir(), "lang.yml")
	body := "active_language: de\nde:\n  generic_error: \"Etwas ist schiefgelaufen.\"\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	active, n, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if active != "de" || n != 1 {
		t.Errorf("Load() = (%q, %d), want (de, 1)", active, n)
	}
	if got := T("generic_error"); got != "Etwas ist schiefgelaufen." {
		t.Errorf("generic_error = %q", got)
	}
	if got := T("not_a_ticket"); got == "{not_a_ticket}" {
		t.Error("overlay dropped built-in keys")
	}
}

func TestLoadMissingFileKeepsCatalog(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if got := T("not_a_ticket"); got == "{not_a_ticket}" {
		t.Error("catalog lost after failed load")
	}
}
