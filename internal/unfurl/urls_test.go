package unfurl

import (
	"reflect"
	"testing"
)

func TestParseURLs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "no urls",
			text: "just some words",
			want: nil,
		},
		{
			name: "plain url",
			text: "look at https://example.com/page",
			want: []string{"https://example.com/page"},
		},
		{
			name: "trailing punctuation stripped",
			text: "see https://example.com/page.",
			want: []string{"https://example.com/page"},
		},
		{
			name: "wrapping brackets stripped",
			text: "link: <https://example.com/a>",
			want: []string{"https://example.com/a"},
		},
		{
			name: "unmatched paren stripped",
			text: "(as seen on https://example.com/a)",
			want: []string{"https://example.com/a"},
		},
		{
			name: "matched paren kept",
			text: "https://en.wikipedia.org/wiki/Go_(programming_language)",
			want: []string{"https://en.wikipedia.org/wiki/Go_(programming_language)"},
		},
		{
			name: "case insensitive scheme",
			text: "HTTPS://example.com/x",
			want: []string{"HTTPS://example.com/x"},
		},
		{
			name: "duplicates collapse",
			text: "https://a.com https://b.com https://a.com",
			want: []string{"https://a.com", "https://b.com"},
		},
		{
			name: "capped at five",
			text: "https://a.com/1 https://a.com/2 https://a.com/3 https://a.com/4 https://a.com/5 https://a.com/6",
			want: []string{
				"https://a.com/1", "https://a.com/2", "https://a.com/3",
				"https://a.com/4", "https://a.com/5",
			},
		},
		{
			name: "invite links skipped",
			text: "join https://kaj.gg/invites/abc123 and read https://example.com",
			want: []string{"https://example.com"},
		},
		{
			name: "www invite links skipped",
			text: "https://www.kaj.gg/invites/0f8b1c2d-aaaa-bbbb-cccc-0123456789ab",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := ParseURLs(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseURLs(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
