package tickets

import (
	"testing"

	"ticketbot/storage"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		name    string
		path    Path
		from    storage.Status
		to      storage.Status
		wantKey string
	}{
		{"open to in progress", PathStatusChange, storage.StatusOpen, storage.StatusInProgress, ""},
		{"on hold to open", PathStatusChange, storage.StatusOnHold, storage.StatusOpen, ""},
		{"same status", PathStatusChange, storage.StatusInProgress, storage.StatusInProgress, "status_noop"},
		{"status change to closed", PathStatusChange, storage.StatusOpen, storage.StatusClosed, "status_use_close"},
		{"status change to deleted", PathStatusChange, storage.StatusOpen, storage.StatusDeleted, "status_use_close"},
		{"status change on closed", PathStatusChange, storage.StatusClosed, storage.StatusOpen, "status_reopen_first"},
		{"close active", PathClose, storage.StatusOnHold, storage.StatusClosed, ""},
		{"close closed", PathClose, storage.StatusClosed, storage.StatusClosed, "already_closed"},
		{"reopen closed", PathReopen, storage.StatusClosed, storage.StatusOpen, ""},
		{"reopen open", PathReopen, storage.StatusOpen, storage.StatusOpen, "not_closed"},
		{"delete closed", PathDelete, storage.StatusClosed, storage.StatusDeleted, ""},
		{"delete open", PathDelete, storage.StatusOpen, storage.StatusDeleted, "delete_close_first"},
		{"anything from deleted", PathReopen, storage.StatusDeleted, storage.StatusOpen, "ticket_deleted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTransition(tt.path, tt.from, tt.to)
			if tt.wantKey == "" {
				if err != nil {
					t.Fatalf("CheckTransition() error = %v, want nil", err)
				}
				return
			}
			v, ok := isValidation(err)
			if !ok {
				t.Fatalf("CheckTransition() error = %v, want validation %q", err, tt.wantKey)
			}
			if v.Key != tt.wantKey {
				t.Errorf("key = %q, want %q", v.Key, tt.wantKey)
			}
		})
	}
}

func TestCheckTransitionWrongTarget(t *testing.T) {
	err := CheckTransition(PathClose, storage.StatusOpen, storage.StatusOnHold)
	if err == nil {
		t.Fatal("close path accepted a non-closed target")
	}
	if _, ok := isValidation(err); ok {
		t.Error("wrong target reported as a user validation error")
	}
}

func TestChannelName(t *testing.T) {
	tests := []struct {
		number int
		status storage.Status
		want   string
	}{
		{1, storage.StatusOpen, "🟢-ticket-0001"},
		{42, storage.StatusInProgress, "🟡-ticket-0042"},
		{7, storage.StatusOnHold, "🟠-ticket-0007"},
		{12345, storage.StatusClosed, "🔒-ticket-12345"},
		{3, storage.StatusDeleted, "ticket-0003"},
	}
	for _, tt := range tests {
		if got := ChannelName(tt.number, tt.status); got != tt.want {
			t.Errorf("ChannelName(%d, %s) = %q, want %q", tt.number, tt.status, got, tt.want)
		}
	}
}
