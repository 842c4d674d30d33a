package message

import "regexp"

// mentionRE matches an @ followed by a username. Go's regexp has no
// lookbehind, so the boundary rule (no username character directly before
// the @) is checked separately in ExtractMentionUsernames.
var mentionRE = regexp.MustCompile(`@([a-zA-Z0-9_-]{1,32})`)

// ExtractMentionUsernames returns the unique usernames mentioned in content,
// in order of appearance, capped at MaxMentions. An @ embedded in a word,
// like an email address, is not a mention.
func ExtractMentionUsernames(content string) []string {
	if content == "" {
		return nil
	}

	var out []string
	seen := make(map[string]struct{})

	for _, idx := range mentionRE.FindAllStringSubmatchIndex(content, -1) {
		at := idx[0]
		if at > 0 && isUsernameByte(content[at-1]) {
			continue
		}
		username := content[idx[2]:idx[3]]
		if _, ok := seen[username]; ok {
			continue
		}
		seen[username] = struct{}{}
		out = append(out, username)
		if len(out) == MaxMentions {
			break
		}
	}
	return out
}

func isUsernameByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9', b == '_', b == '-':
		return true
	}
	return false
}
