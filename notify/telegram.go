package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"realty-notifier/pkg/realty"
)

const (
	telegramAPIBase = "https://api.telegram.org"

	// Bot API hard limits.
	telegramTextLimit    = 4096
	telegramCaptionLimit = 1024
)

// Telegram sends notifications through the Telegram Bot API with HTML
// formatting. Listings with an image go out as a photo with caption.
type Telegram struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
}

// NewTelegram builds a Telegram channel.
func NewTelegram(botToken string, logger *slog.Logger) *Telegram {
	return &Telegram{
		botToken: botToken,
		baseURL:  telegramAPIBase,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// ValidateConfig checks the bot credentials are present.
func (t *Telegram) ValidateConfig() error {
	if t.botToken == "" {
		return errors.New("telegram bot token not configured")
	}
	return nil
}

// Format renders the message as Telegram HTML.
func (t *Telegram) Format(msg realty.NotificationMessage) string {
	var b strings.Builder
	b.WriteString("<b>" + escapeHTML(msg.Title) + "</b>\n\n")
	b.WriteString(escapeHTML(msg.Body))
	if msg.URL != "" {
		b.WriteString("\n\n🔗 <a href=\"" + escapeHTML(msg.URL) + "\">View Listing</a>")
	}
	return b.String()
}

// Send delivers the message to one chat ID.
func (t *Telegram) Send(ctx context.Context, msg realty.NotificationMessage, recipient string) realty.NotificationResult {
	text := t.Format(msg)

	method := "sendMessage"
	payload := map[string]any{
		"chat_id":    recipient,
		"text":       truncate(text, telegramTextLimit),
		"parse_mode": "HTML",
	}
	if msg.ImageURL != "" {
		method = "sendPhoto"
		payload = map[string]any{
			"chat_id":    recipient,
			"photo":      msg.ImageURL,
			"caption":    truncate(text, telegramCaptionLimit),
			"parse_mode": "HTML",
		}
	}

	messageID, err := t.call(ctx, method, payload)
	if err != nil {
		return failedResult("telegram", err.Error())
	}
	return sentResult("telegram", messageID)
}

// call performs one Bot API method with bounded retry and returns the new
// message ID.
func (t *Telegram) call(ctx context.Context, method string, payload map[string]any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", method, err)
	}

	var messageID string
	err = retry.Do(
		func() error {
			url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.botToken, method)
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := t.client.Do(req)
			if err != nil {
				return fmt.Errorf("telegram request: %w", err)
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					t.logger.Debug("close response body", "channel", "telegram", "error", closeErr)
				}
			}()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return &apiError{channel: "telegram", status: resp.StatusCode, body: strings.TrimSpace(string(body))}
			}

			var reply struct {
				OK     bool `json:"ok"`
				Result struct {
					MessageID int64 `json:"message_id"`
				} `json:"result"`
				Description string `json:"description"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
				return fmt.Errorf("decode telegram response: %w", err)
			}
			if !reply.OK {
				return fmt.Errorf("telegram rejected %s: %s", method, reply.Description)
			}
			messageID = strconv.FormatInt(reply.Result.MessageID, 10)
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.RetryIf(retryableSend),
		retry.OnRetry(func(n uint, err error) {
			t.logger.Warn("retrying telegram send", "method", method, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("%s after retries: %w", method, err)
	}
	return messageID, nil
}
