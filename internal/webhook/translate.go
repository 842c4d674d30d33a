package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kajgg/kaj-server/internal/model"
)

// Incoming is the normalised form of a webhook delivery: message content plus
// author-supplied embeds, ready for ingestion.
type Incoming struct {
	Content string        `json:"content"`
	Embeds  []model.Embed `json:"embeds"`
}

// githubPush is the subset of GitHub's push payload the translator reads.
type githubPush struct {
	After      string   `json:"after"`
	Added      []string `json:"added"`
	Removed    []string `json:"removed"`
	Modified   []string `json:"modified"`
	Pusher     struct {
		Name string `json:"name"`
	} `json:"pusher"`
	HeadCommit struct {
		Message string `json:"message"`
	} `json:"head_commit"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Translate normalises a webhook delivery. GitHub deliveries are recognised
// by their User-Agent and Railway deliveries by their payload shape; both are
// translated into an embed. Anything else is treated as a native payload of
// content plus embeds.
func Translate(userAgent, githubEvent string, body []byte) (Incoming, error) {
	if strings.HasPrefix(userAgent, "GitHub-Hookshot/") {
		return translateGitHub(githubEvent, body)
	}
	if in, ok := translateRailway(body); ok {
		return in, nil
	}

	var in Incoming
	if err := json.Unmarshal(body, &in); err != nil {
		return Incoming{}, fmt.Errorf("parse webhook payload: %w", err)
	}
	return in, nil
}

// translateGitHub builds an embed from a push event. The description uses
// inline color codes (&a green, &c red, &e yellow, &r reset) that clients
// render.
func translateGitHub(event string, body []byte) (Incoming, error) {
	if event != "push" {
		// Other GitHub events are accepted and dropped silently.
		return Incoming{}, nil
	}

	var p githubPush
	if err := json.Unmarshal(body, &p); err != nil {
		return Incoming{}, fmt.Errorf("parse github push payload: %w", err)
	}

	var desc strings.Builder
	if n := len(p.Added); n > 0 {
		fmt.Fprintf(&desc, "&a+%d files added", n)
	}
	if n := len(p.Removed); n > 0 {
		fmt.Fprintf(&desc, "&c-%d files removed", n)
	}
	if n := len(p.Modified); n > 0 {
		fmt.Fprintf(&desc, "&e~%d files modified", n)
	}
	reset := ""
	if desc.Len() > 0 {
		reset = "&r"
	}
	fmt.Fprintf(&desc, "\n\n%s%s", reset, p.Pusher.Name)

	url := fmt.Sprintf("https://github.com/%s/commit/%s", p.Repository.FullName, p.After)
	title := p.HeadCommit.Message
	description := desc.String()
	footer := p.Repository.FullName + " | GitHub"

	return Incoming{
		Embeds: []model.Embed{{
			URL:         &url,
			Title:       &title,
			Description: &description,
			Footer:      &footer,
		}},
	}, nil
}

// railwayDeploy is the subset of Railway's deployment webhook the translator
// reads. Railway sends no distinctive User-Agent, so the payload shape is the
// signal.
type railwayDeploy struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Project struct {
		Name string `json:"name"`
	} `json:"project"`
	Environment struct {
		Name string `json:"name"`
	} `json:"environment"`
}

// railwayStatusColors colors the embed by deployment outcome.
var railwayStatusColors = map[string]string{
	"SUCCESS":  "#22c55e",
	"FAILED":   "#ef4444",
	"CRASHED":  "#ef4444",
	"BUILDING": "#eab308",
}

// translateRailway builds a status embed from a Railway deployment payload.
// Returns ok=false when the payload does not look like one.
func translateRailway(body []byte) (Incoming, bool) {
	var p railwayDeploy
	if err := json.Unmarshal(body, &p); err != nil {
		return Incoming{}, false
	}
	if p.Type != "DEPLOY" || p.Status == "" || p.Project.Name == "" {
		return Incoming{}, false
	}

	title := fmt.Sprintf("Deployment %s", strings.ToLower(p.Status))
	description := p.Project.Name
	if p.Environment.Name != "" {
		description += " (" + p.Environment.Name + ")"
	}
	footer := p.Project.Name + " | Railway"

	embed := model.Embed{
		Title:       &title,
		Description: &description,
		Footer:      &footer,
	}
	if color, ok := railwayStatusColors[p.Status]; ok {
		c := color
		embed.Color = &c
	}
	return Incoming{Embeds: []model.Embed{embed}}, true
}
