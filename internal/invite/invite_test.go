package invite

import (
	"errors"
	"testing"
	"time"
)

func intp(n int) *int { return &n }

func TestUsable(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		inv  Invite
		want bool
	}{
		{"unbounded", Invite{}, true},
		{"not expired", Invite{ExpiresAt: &future}, true},
		{"expired", Invite{ExpiresAt: &past}, false},
		{"expires exactly now", Invite{ExpiresAt: &now}, false},
		{"uses remaining", Invite{MaxUses: intp(5), Uses: 4}, true},
		{"exhausted", Invite{MaxUses: intp(5), Uses: 5}, false},
		{"expired and exhausted", Invite{ExpiresAt: &past, MaxUses: intp(1), Uses: 1}, false},
	}
	for _, tt := range tests {
		if got := tt.inv.Usable(now); got != tt.want {
			t.Errorf("%s: Usable() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCreateParamsValidate(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if err := (CreateParams{}).Validate(now); err != nil {
		t.Errorf("Validate(unbounded) error = %v", err)
	}
	if err := (CreateParams{ExpiresAt: &future, MaxUses: intp(1)}).Validate(now); err != nil {
		t.Errorf("Validate(valid bounds) error = %v", err)
	}
	if err := (CreateParams{ExpiresAt: &past}).Validate(now); !errors.Is(err, ErrInvalidTTL) {
		t.Errorf("Validate(past expiry) error = %v, want ErrInvalidTTL", err)
	}
	if err := (CreateParams{MaxUses: intp(0)}).Validate(now); !errors.Is(err, ErrInvalidMax) {
		t.Errorf("Validate(zero max uses) error = %v, want ErrInvalidMax", err)
	}
}
