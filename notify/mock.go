package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"realty-notifier/pkg/realty"
)

// MockMailProvider logs emails instead of sending them, for local
// development without Gmail credentials.
type MockMailProvider struct {
	logger *slog.Logger
}

// NewMockMailProvider builds a mock mail provider.
func NewMockMailProvider(logger *slog.Logger) *MockMailProvider {
	return &MockMailProvider{logger: logger}
}

// Send logs the email instead of sending it.
func (m *MockMailProvider) Send(_ context.Context, to, subject, htmlBody string) error {
	m.logger.Info("MOCK EMAIL",
		"to", to,
		"subject", subject,
		"body_length", len(htmlBody))
	return nil
}

// MockChannel accepts every message and logs it, for development runs
// without any channel credentials.
type MockChannel struct {
	logger *slog.Logger
	sent   atomic.Int64
}

// NewMockChannel builds a mock channel.
func NewMockChannel(logger *slog.Logger) *MockChannel {
	return &MockChannel{logger: logger}
}

func (m *MockChannel) Name() string { return "mock" }

func (m *MockChannel) ValidateConfig() error { return nil }

// Format renders the message as plain text.
func (m *MockChannel) Format(msg realty.NotificationMessage) string {
	return msg.Title + "\n\n" + msg.Body
}

// Send logs the message and reports success.
func (m *MockChannel) Send(_ context.Context, msg realty.NotificationMessage, recipient string) realty.NotificationResult {
	n := m.sent.Add(1)
	m.logger.Info("MOCK NOTIFICATION",
		"to", recipient,
		"title", msg.Title,
		"priority", string(msg.Priority))
	return sentResult("mock", fmt.Sprintf("mock-%d", n))
}
