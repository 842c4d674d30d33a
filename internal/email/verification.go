package email

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
)

//go:embed templates/verification.html
var verificationHTML string

var verificationTmpl = template.Must(template.New("verification").Parse(verificationHTML))

type verificationData struct {
	Username string
	Code     string
}

// verificationBody renders the HTML body for an email verification message.
func verificationBody(username, code string) (string, error) {
	var buf bytes.Buffer
	if err := verificationTmpl.Execute(&buf, verificationData{Username: username, Code: code}); err != nil {
		return "", fmt.Errorf("render verification template: %w", err)
	}
	return buf.String(), nil
}

// SendVerification sends the account verification code to a new user.
func (c *Client) SendVerification(ctx context.Context, to, username, code string) error {
	body, err := verificationBody(username, code)
	if err != nil {
		return err
	}
	return c.Send(ctx, to, "Verify your kaj.gg account", body)
}
