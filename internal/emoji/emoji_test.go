package emoji

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"blob", "blob", false},
		{" blob_cat-2 ", "blob_cat-2", false},
		{"", "", true},
		{"has space", "", true},
		{strings.Repeat("x", 33), "", true},
		{"émoji", "", true},
	}
	for _, tt := range tests {
		got, err := ValidateName(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ValidateName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtForMIME(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mime     string
		ext      string
		animated bool
		wantErr  bool
	}{
		{"image/png", "png", false, false},
		{"image/jpeg", "jpg", false, false},
		{"image/gif", "gif", true, false},
		{"image/webp", "webp", false, false},
		{"image/svg+xml", "", false, true},
		{"text/html", "", false, true},
	}
	for _, tt := range tests {
		ext, animated, err := ExtForMIME(tt.mime)
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupportedType) {
				t.Errorf("ExtForMIME(%q) error = %v, want ErrUnsupportedType", tt.mime, err)
			}
			continue
		}
		if err != nil || ext != tt.ext || animated != tt.animated {
			t.Errorf("ExtForMIME(%q) = (%q, %v, %v), want (%q, %v)", tt.mime, ext, animated, err, tt.ext, tt.animated)
		}
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()

	e := &Emoji{ID: "e1abcdefgh", Ext: "gif"}
	if got := e.Key("production"); got != "production/emojis/e1abcdefgh.gif" {
		t.Errorf("Key() = %q", got)
	}
	if got := e.BareKey("production"); got != "production/emojis/e1abcdefgh" {
		t.Errorf("BareKey() = %q", got)
	}

	m := e.ToModel("https://files.kaj.gg", "production")
	if m.URL != "https://files.kaj.gg/production/emojis/e1abcdefgh.gif" {
		t.Errorf("ToModel() URL = %q", m.URL)
	}
}
