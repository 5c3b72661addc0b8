package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"realty-notifier/pkg/realty"
)

const (
	twilioAPIBase = "https://api.twilio.com"

	// DefaultWhatsAppFrom is the Twilio sandbox sender used when no
	// dedicated number is configured.
	DefaultWhatsAppFrom = "whatsapp:+14155238886"
)

// WhatsApp sends plain-text notifications through the Twilio Messages API.
type WhatsApp struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	client     *http.Client
	logger     *slog.Logger
}

// NewWhatsApp builds a WhatsApp channel. An empty from falls back to the
// Twilio sandbox sender.
func NewWhatsApp(accountSID, authToken, from string, logger *slog.Logger) *WhatsApp {
	if from == "" {
		from = DefaultWhatsAppFrom
	}
	return &WhatsApp{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    twilioAPIBase,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// ValidateConfig checks the Twilio credentials are present.
func (w *WhatsApp) ValidateConfig() error {
	if w.accountSID == "" || w.authToken == "" {
		return errors.New("twilio account sid or auth token not configured")
	}
	return nil
}

// Format renders the message as plain text.
func (w *WhatsApp) Format(msg realty.NotificationMessage) string {
	var b strings.Builder
	b.WriteString(msg.Title + "\n\n")
	b.WriteString(msg.Body)
	if msg.URL != "" {
		b.WriteString("\n\nView Listing: " + msg.URL)
	}
	return b.String()
}

// Send delivers the message to one phone number.
func (w *WhatsApp) Send(ctx context.Context, msg realty.NotificationMessage, recipient string) realty.NotificationResult {
	if !strings.HasPrefix(recipient, "whatsapp:") {
		recipient = "whatsapp:" + recipient
	}

	form := url.Values{}
	form.Set("From", w.from)
	form.Set("To", recipient)
	form.Set("Body", w.Format(msg))

	var messageSID string
	err := retry.Do(
		func() error {
			endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", w.baseURL, w.accountSID)
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.SetBasicAuth(w.accountSID, w.authToken)
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			resp, err := w.client.Do(req)
			if err != nil {
				return fmt.Errorf("twilio request: %w", err)
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					w.logger.Debug("close response body", "channel", "whatsapp", "error", closeErr)
				}
			}()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return &apiError{channel: "whatsapp", status: resp.StatusCode, body: strings.TrimSpace(string(body))}
			}

			var reply struct {
				SID string `json:"sid"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
				return fmt.Errorf("decode twilio response: %w", err)
			}
			messageSID = reply.SID
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.RetryIf(retryableSend),
		retry.OnRetry(func(n uint, err error) {
			w.logger.Warn("retrying whatsapp send", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return failedResult("whatsapp", fmt.Sprintf("send after retries: %v", err))
	}
	return sentResult("whatsapp", messageSID)
}
