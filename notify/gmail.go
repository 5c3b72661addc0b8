package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

// GmailProvider sends email through the Gmail API on behalf of the
// authenticated account.
type GmailProvider struct {
	service *gmail.Service
	logger  *slog.Logger
}

// NewGmailProvider builds a Gmail mail provider.
func NewGmailProvider(service *gmail.Service, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{service: service, logger: logger}
}

// sanitizeEmailHeader strips control characters so recipient-supplied
// values cannot inject additional RFC 5322 headers.
func sanitizeEmailHeader(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Send sends one HTML email. The From address comes from the
// authenticated Gmail account.
func (g *GmailProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	to = sanitizeEmailHeader(to)
	subject = sanitizeEmailHeader(subject)

	var msg strings.Builder
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	msg.WriteString(htmlBody)
	encoded := base64.URLEncoding.EncodeToString([]byte(msg.String()))

	err := retry.Do(
		func() error {
			start := time.Now()
			_, err := g.service.Users.Messages.Send("me", &gmail.Message{Raw: encoded}).Context(ctx).Do()
			if err != nil {
				g.logger.Warn("gmail send failed",
					"to", to, "duration_ms", time.Since(start).Milliseconds(), "error", err)
				return gmailError(err)
			}
			g.logger.Info("gmail send completed",
				"to", to, "duration_ms", time.Since(start).Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.RetryIf(retryableSend),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Warn("retrying gmail send", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("gmail send after retries: %w", err)
	}
	return nil
}

// gmailError maps Gmail API errors onto apiError so retry gating sees
// their HTTP status.
func gmailError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &apiError{channel: "email", status: apiErr.Code, body: apiErr.Message}
	}
	return err
}
