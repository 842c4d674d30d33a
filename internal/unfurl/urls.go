package unfurl

import (
	"regexp"
	"strings"
)

// maxURLs caps how many links one message can unfurl.
const maxURLs = 5

var urlRE = regexp.MustCompile(`(?i)https?://\S+`)

// blacklistREs match URLs that must never be unfurled. Invite links would
// leak private channel names into public embeds.
var blacklistREs = []*regexp.Regexp{
	regexp.MustCompile(`^https?://(?:www\.)?kaj\.gg/invites/([0-9a-fA-F-]{8,}|[A-Za-z0-9_-]{6,})`),
}

// ParseURLs extracts the unfurlable URLs from message content: cleaned of
// surrounding punctuation, blacklist filtered, deduplicated in order of
// appearance and capped.
func ParseURLs(text string) []string {
	if text == "" {
		return nil
	}

	var (
		out  []string
		seen = make(map[string]struct{})
	)
	for _, raw := range urlRE.FindAllString(text, -1) {
		if blacklisted(raw) {
			continue
		}
		u := cleanCandidate(raw)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
		if len(out) == maxURLs {
			break
		}
	}
	return out
}

func blacklisted(raw string) bool {
	for _, re := range blacklistREs {
		if re.MatchString(raw) {
			return true
		}
	}
	return false
}

// cleanCandidate repairs the usual prose damage around a pasted link:
// wrapping quotes and angle brackets, trailing sentence punctuation, and
// closers like ")" that belong to the text rather than the URL.
func cleanCandidate(raw string) string {
	url := strings.Trim(strings.TrimSpace(raw), `'"<>`)

	for url != "" && strings.ContainsRune(".,!?", rune(url[len(url)-1])) {
		url = url[:len(url)-1]
	}
	for _, pair := range [][2]string{{"(", ")"}, {"[", "]"}, {"{", "}"}} {
		opener, closer := pair[0], pair[1]
		for strings.HasSuffix(url, closer) && strings.Count(url, opener) < strings.Count(url, closer) {
			url = url[:len(url)-1]
		}
	}
	return url
}
