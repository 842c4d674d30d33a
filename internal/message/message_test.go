package message

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kajgg/kaj-server/internal/model"
)

func sp(s string) *string { return &s }

func TestValidateContent(t *testing.T) {
	t.Parallel()

	if got, err := ValidateContent("hi", false); err != nil || got != "hi" {
		t.Errorf("ValidateContent(hi) = (%q, %v)", got, err)
	}
	if _, err := ValidateContent(strings.Repeat("x", MaxContentLength), false); err != nil {
		t.Errorf("ValidateContent(max) error = %v", err)
	}
	if _, err := ValidateContent(strings.Repeat("x", MaxContentLength+1), false); !errors.Is(err, ErrContentLength) {
		t.Errorf("ValidateContent(over max) error = %v, want ErrContentLength", err)
	}
	if _, err := ValidateContent("", false); !errors.Is(err, ErrContentLength) {
		t.Errorf("ValidateContent(empty, disallowed) error = %v, want ErrContentLength", err)
	}
	if _, err := ValidateContent("", true); err != nil {
		t.Errorf("ValidateContent(empty, allowed) error = %v", err)
	}
}

func TestValidateContentTrims(t *testing.T) {
	t.Parallel()

	if got, err := ValidateContent("  hi there \n", false); err != nil || got != "hi there" {
		t.Errorf("ValidateContent(padded) = (%q, %v), want trimmed", got, err)
	}
	// Whitespace-only content counts as empty.
	if _, err := ValidateContent("   \t  ", false); !errors.Is(err, ErrContentLength) {
		t.Errorf("ValidateContent(whitespace, disallowed) error = %v, want ErrContentLength", err)
	}
	if got, err := ValidateContent("   ", true); err != nil || got != "" {
		t.Errorf("ValidateContent(whitespace, allowed) = (%q, %v)", got, err)
	}
	// The limit applies after trimming.
	padded := "  " + strings.Repeat("x", MaxContentLength) + "  "
	if _, err := ValidateContent(padded, false); err != nil {
		t.Errorf("ValidateContent(padded max) error = %v", err)
	}
}

func TestValidateNonce(t *testing.T) {
	t.Parallel()

	if err := ValidateNonce(nil); err != nil {
		t.Errorf("ValidateNonce(nil) error = %v", err)
	}
	if err := ValidateNonce(sp(strings.Repeat("n", MaxNonceLength))); err != nil {
		t.Errorf("ValidateNonce(max) error = %v", err)
	}
	if err := ValidateNonce(sp(strings.Repeat("n", MaxNonceLength+1))); !errors.Is(err, ErrNonceLength) {
		t.Errorf("ValidateNonce(over max) error = %v, want ErrNonceLength", err)
	}
}

func TestValidateEmbeds(t *testing.T) {
	t.Parallel()

	if err := ValidateEmbeds(nil); err != nil {
		t.Errorf("ValidateEmbeds(nil) error = %v", err)
	}

	many := make([]model.Embed, MaxEmbeds+1)
	for i := range many {
		many[i] = model.Embed{Title: sp("t")}
	}
	if err := ValidateEmbeds(many); !errors.Is(err, ErrTooManyEmbeds) {
		t.Errorf("ValidateEmbeds(11) error = %v, want ErrTooManyEmbeds", err)
	}

	if err := ValidateEmbeds([]model.Embed{{}}); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("ValidateEmbeds(empty embed) error = %v, want ErrEmptyMessage", err)
	}

	long := model.Embed{Title: sp(strings.Repeat("t", 257))}
	if err := ValidateEmbeds([]model.Embed{long}); !errors.Is(err, ErrEmbedTooLong) {
		t.Errorf("ValidateEmbeds(long title) error = %v, want ErrEmbedTooLong", err)
	}
}

func TestValidateEmbedURLsAndColor(t *testing.T) {
	t.Parallel()

	ok := model.Embed{
		Title:    sp("release"),
		URL:      sp("https://example.com/release"),
		ImageURL: sp("http://example.com/banner.png"),
		Color:    sp("#1a2B3c"),
	}
	if err := ValidateEmbeds([]model.Embed{ok}); err != nil {
		t.Errorf("ValidateEmbeds(valid) error = %v", err)
	}

	tests := []struct {
		name  string
		embed model.Embed
		want  error
	}{
		{"javascript url", model.Embed{Title: sp("t"), URL: sp("javascript:alert(1)")}, ErrEmbedURL},
		{"schemeless image", model.Embed{Title: sp("t"), ImageURL: sp("example.com/x.png")}, ErrEmbedURL},
		{"ftp video", model.Embed{Title: sp("t"), VideoURL: sp("ftp://example.com/x.mp4")}, ErrEmbedURL},
		{"short color", model.Embed{Title: sp("t"), Color: sp("#fff")}, ErrEmbedColor},
		{"no hash", model.Embed{Title: sp("t"), Color: sp("ff0000!")}, ErrEmbedColor},
		{"bad hex", model.Embed{Title: sp("t"), Color: sp("#gg0000")}, ErrEmbedColor},
	}
	for _, tt := range tests {
		if err := ValidateEmbeds([]model.Embed{tt.embed}); !errors.Is(err, tt.want) {
			t.Errorf("%s: ValidateEmbeds() error = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestListFilterClampLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   int
		want int
	}{
		{0, 50},
		{-5, 1},
		{1, 1},
		{100, 100},
		{500, 100},
	}
	for _, tt := range tests {
		f := ListFilter{Limit: tt.in}
		f.ClampLimit()
		if f.Limit != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.in, f.Limit, tt.want)
		}
	}
}

func TestListFilterAscending(t *testing.T) {
	t.Parallel()

	now := time.Now()
	if (&ListFilter{}).Ascending() {
		t.Error("Ascending() with no cursors = true")
	}
	if !(&ListFilter{After: &now}).Ascending() {
		t.Error("Ascending() with after only = false")
	}
	if (&ListFilter{After: &now, Before: &now}).Ascending() {
		t.Error("Ascending() with both bounds = true")
	}
	if (&ListFilter{Before: &now}).Ascending() {
		t.Error("Ascending() with before only = true")
	}
}

func TestToModelMergesEmbedsUserFirst(t *testing.T) {
	t.Parallel()

	m := &Message{
		ID:           "m1",
		ChannelID:    "c1",
		AuthorID:     "u1",
		Type:         model.MessageDefault,
		Content:      "hi",
		UserEmbeds:   []model.Embed{{Title: sp("user")}},
		SystemEmbeds: []model.Embed{{Title: sp("system")}},
	}

	out := m.ToModel(nil)
	if len(out.Embeds) != 2 {
		t.Fatalf("embeds = %d, want 2", len(out.Embeds))
	}
	if *out.Embeds[0].Title != "user" || *out.Embeds[1].Title != "system" {
		t.Errorf("embed order = [%s, %s], want [user, system]", *out.Embeds[0].Title, *out.Embeds[1].Title)
	}
	if out.Files == nil || out.Mentions == nil {
		t.Error("ToModel() left Files or Mentions nil; clients expect empty arrays")
	}
}
