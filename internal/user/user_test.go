package user

import (
	"errors"
	"testing"
	"time"

	"github.com/kajgg/kaj-server/internal/model"
)

func TestValidateUsername(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"alice", "alice", false},
		{"  alice  ", "alice", false},
		{"a_b-C9", "a_b-c9", false},
		{"Alice", "alice", false},
		{"", "", true},
		{"   ", "", true},
		{"ab", "", true},
		{"has space", "", true},
		{"émile", "", true},
		{"@alice", "", true},
		{"abcdefghijklmnopqrstuvwxyz0123456789", "", true}, // 36 chars
	}
	for _, tt := range tests {
		got, err := ValidateUsername(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateUsername(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ValidateUsername(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateEmail(t *testing.T) {
	t.Parallel()

	if got, err := ValidateEmail("Alice@Example.com"); err != nil || got != "alice@example.com" {
		t.Errorf("ValidateEmail() = (%q, %v), want lowered address", got, err)
	}
	for _, bad := range []string{"", "not-an-email", "a@b@c", "Alice <alice@example.com>"} {
		if _, err := ValidateEmail(bad); !errors.Is(err, ErrEmailInvalid) {
			t.Errorf("ValidateEmail(%q) error = %v, want ErrEmailInvalid", bad, err)
		}
	}
}

func TestValidateColor(t *testing.T) {
	t.Parallel()

	for _, good := range []string{"#fff", "#FFAA00", "#012abc"} {
		c := good
		if err := ValidateColor(&c); err != nil {
			t.Errorf("ValidateColor(%q) error = %v", good, err)
		}
	}
	for _, bad := range []string{"fff", "#ffff", "#ggg", "#ffaa0", "red"} {
		c := bad
		if !errors.Is(ValidateColor(&c), ErrInvalidColor) {
			t.Errorf("ValidateColor(%q) accepted", bad)
		}
	}
	if err := ValidateColor(nil); err != nil {
		t.Errorf("ValidateColor(nil) error = %v, want nil", err)
	}
}

func TestEffectiveStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		def    model.Status
		online bool
		want   model.Status
	}{
		{model.StatusOnline, true, model.StatusOnline},
		{model.StatusDND, true, model.StatusDND},
		{model.StatusInvisible, true, model.StatusOffline},
		{model.StatusOnline, false, model.StatusOffline},
	}
	for _, tt := range tests {
		u := &User{DefaultStatus: tt.def}
		if got := u.EffectiveStatus(tt.online); got != tt.want {
			t.Errorf("EffectiveStatus(%v, online=%v) = %v, want %v", tt.def, tt.online, got, tt.want)
		}
	}
}

func TestProjectionsHideSecrets(t *testing.T) {
	t.Parallel()

	u := &User{
		ID:        "u1abcdefgh",
		Username:  "alice",
		Email:     "alice@example.com",
		Password:  "$2a$10$hash",
		Token:     "secret-token",
		Admin:     true,
		Bytes:     42,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	author := u.ToAuthor(model.StatusOnline)
	if !author.Flags.Admin {
		t.Error("ToAuthor() dropped admin flag")
	}

	m := u.ToModel(model.StatusOnline, false)
	if m.Token != "" {
		t.Error("ToModel(includeToken=false) leaked token")
	}
	if m.Bytes != 42 {
		t.Errorf("ToModel() bytes = %d, want 42", m.Bytes)
	}

	withToken := u.ToModel(model.StatusOnline, true)
	if withToken.Token != "secret-token" {
		t.Errorf("ToModel(includeToken=true) token = %q", withToken.Token)
	}
}
