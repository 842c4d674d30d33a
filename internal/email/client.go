// Package email delivers transactional mail through the Resend HTTP API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.resend.com"

// Client sends emails through Resend. A Client with an empty token is
// disabled and drops everything it is asked to send.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	from    string
}

// NewClient creates a Resend client. from is the sender in RFC 5322 display
// form, e.g. `kaj.gg <no-reply@kaj.gg>`.
func NewClient(token, from string) *Client {
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: defaultBaseURL,
		token:   token,
		from:    from,
	}
}

// Enabled reports whether the client has credentials to send with.
func (c *Client) Enabled() bool {
	return c.token != ""
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Send delivers one email with an HTML body.
func (c *Client) Send(ctx context.Context, to, subject, html string) error {
	if !c.Enabled() {
		return nil
	}

	payload, err := json.Marshal(sendRequest{
		From:    c.from,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("send email: resend returned %d: %s", resp.StatusCode, body)
	}
	return nil
}
