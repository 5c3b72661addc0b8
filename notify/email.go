package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"realty-notifier/pkg/realty"
)

// MailProvider sends one HTML email. Implementations own the transport;
// the channel owns formatting.
type MailProvider interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Email sends notifications as HTML email through a pluggable provider.
type Email struct {
	provider MailProvider
	logger   *slog.Logger
}

// NewEmail builds an email channel over the given provider.
func NewEmail(provider MailProvider, logger *slog.Logger) *Email {
	return &Email{provider: provider, logger: logger}
}

func (e *Email) Name() string { return "email" }

// ValidateConfig checks a mail provider is wired.
func (e *Email) ValidateConfig() error {
	if e.provider == nil {
		return errors.New("no mail provider configured")
	}
	return nil
}

// Format renders the message as a standalone HTML document.
func (e *Email) Format(msg realty.NotificationMessage) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; }\n")
	b.WriteString(".header { border-bottom: 2px solid #2e86de; padding-bottom: 10px; margin-bottom: 20px; }\n")
	b.WriteString(".details { background: #f8f9fa; padding: 20px; border-radius: 8px; margin: 15px 0; white-space: pre-wrap; }\n")
	b.WriteString(".view-listing { display: inline-block; background: #2e86de; color: #fff; padding: 10px 20px; border-radius: 5px; text-decoration: none; }\n")
	b.WriteString("img.property { max-width: 400px; height: auto; border-radius: 8px; }\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	b.WriteString("<div class=\"header\">\n")
	fmt.Fprintf(&b, "<h2>%s</h2>\n", escapeHTML(msg.Title))
	b.WriteString("</div>\n")

	b.WriteString("<div class=\"details\">\n")
	b.WriteString(escapeHTML(msg.Body))
	b.WriteString("\n</div>\n")

	if msg.ImageURL != "" {
		fmt.Fprintf(&b, "<p><img class=\"property\" src=\"%s\" alt=\"Property\"></p>\n", escapeHTML(msg.ImageURL))
	}
	if msg.URL != "" {
		fmt.Fprintf(&b, "<p><a class=\"view-listing\" href=\"%s\">View Listing</a></p>\n", escapeHTML(msg.URL))
	}

	b.WriteString("</body>\n</html>")
	return b.String()
}

// Send delivers the message to one address. The message title doubles as
// the subject line.
func (e *Email) Send(ctx context.Context, msg realty.NotificationMessage, recipient string) realty.NotificationResult {
	if err := e.provider.Send(ctx, recipient, msg.Title, e.Format(msg)); err != nil {
		return failedResult("email", err.Error())
	}
	return sentResult("email", "")
}
