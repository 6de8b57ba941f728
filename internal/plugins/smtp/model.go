// Package smtp sends outbound email for the portal, chiefly password reset
// codes. Server settings come from configuration; credentials are never
// logged.
package smtp

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"
)

// Encryption modes for the SMTP connection.
const (
	EncryptionStartTLS = "starttls"
	EncryptionSSL      = "ssl"
	EncryptionNone     = "none"
)

// Mail is an email message to be sent.
type Mail struct {
	To      []string
	Subject string
	Body    string
}

var resetCodeTemplate = template.Must(template.New("reset_code").Parse(
	`Someone asked to reset the password of your {{.AppName}} account.

Your reset code is: {{.Code}}

It expires in {{.ExpiresIn}}. If you didn't ask for this, you can ignore
this email; your password stays unchanged.
`))

// ResetCodeMail renders the message carrying a password reset code.
func ResetCodeMail(appName, to, code string, expiresIn time.Duration) (*Mail, error) {
	var body bytes.Buffer
	err := resetCodeTemplate.Execute(&body, struct {
		AppName   string
		Code      string
		ExpiresIn string
	}{appName, code, humanMinutes(expiresIn)})
	if err != nil {
		return nil, fmt.Errorf("rendering reset code mail: %w", err)
	}

	return &Mail{
		To:      []string{to},
		Subject: appName + " password reset code",
		Body:    body.String(),
	}, nil
}

// humanMinutes renders d as "1 minute" or "N minutes", rounding up.
func humanMinutes(d time.Duration) string {
	n := int(math.Ceil(d.Minutes()))
	if n <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", n)
}

// headerSafe strips CR and LF so a value can't inject extra headers.
func headerSafe(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
