// Package notify delivers match notifications through per-profile channels.
// Each channel owns its formatting and its delivery transport; the
// dispatcher fans one message out to every channel a profile enables and
// keeps channel failures isolated from each other.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"realty-notifier/pkg/realty"
)

// Channel delivers rendered notifications to one kind of destination.
type Channel interface {
	Name() string

	// ValidateConfig reports whether the channel holds the credentials it
	// needs to send at all.
	ValidateConfig() error

	// Format renders the message in the channel's native markup.
	Format(msg realty.NotificationMessage) string

	// Send delivers the message to one recipient. Delivery problems are
	// reported inside the result, never as a panic or pipeline error.
	Send(ctx context.Context, msg realty.NotificationMessage, recipient string) realty.NotificationResult
}

// apiError reports a non-2xx response from a channel's delivery API.
type apiError struct {
	channel string
	status  int
	body    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.channel, e.status, e.body)
}

// retryableSend gates channel retry on rate limits and server-side
// failures; API rejections and cancellation fail immediately.
func retryableSend(err error) bool {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.status == 429 || apiErr.status >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func sentResult(channel, messageID string) realty.NotificationResult {
	return realty.NotificationResult{
		Channel:   channel,
		Status:    realty.DeliverySuccess,
		MessageID: messageID,
		SentAt:    time.Now().UTC(),
	}
}

func failedResult(channel, reason string) realty.NotificationResult {
	return realty.NotificationResult{
		Channel: channel,
		Status:  realty.DeliveryFailed,
		Error:   reason,
		SentAt:  time.Now().UTC(),
	}
}

// escapeHTML escapes text destined for HTML-formatted channels.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}
