package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"realty-notifier/pkg/realty"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	defaultAnthropicModel   = "claude-3-5-sonnet-20241022"
	anthropicVersion        = "2023-06-01"

	anthropicSystemPrompt = "אתה מומחה בניתוח נכסים. אנא חלץ מידע מטקסטים על נכסים בפורמט JSON מובנה בלבד."
)

// Anthropic extracts property facts through the Anthropic messages API.
type Anthropic struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	maxRetries  int
	client      *http.Client
	logger      *slog.Logger
}

// NewAnthropic builds an Anthropic provider.
func NewAnthropic(cfg Config, logger *slog.Logger) *Anthropic {
	p := &Anthropic{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     defaultAnthropicBaseURL,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		client:      &http.Client{},
		logger:      logger,
	}
	if cfg.BaseURL != "" {
		p.baseURL = cfg.BaseURL
	}
	if p.model == "" {
		p.model = defaultAnthropicModel
	}
	if p.maxTokens <= 0 {
		p.maxTokens = 1000
	}
	if p.timeout <= 0 {
		p.timeout = 30 * time.Second
	}
	if p.maxRetries < 0 {
		p.maxRetries = 0
	}
	return p
}

func (p *Anthropic) Name() string { return "anthropic" }

func (p *Anthropic) Model() string { return p.model }

// Analyze sends the extraction prompt and parses the model's reply.
func (p *Anthropic) Analyze(ctx context.Context, req ExtractionRequest) (realty.ProviderResponse, error) {
	prompt := buildPrompt(req.Text)

	var content string
	var tokens int
	err := retry.Do(
		func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			c, t, err := p.message(attemptCtx, prompt)
			if err != nil {
				return err
			}
			content, tokens = c, t
			return nil
		},
		retry.Attempts(uint(p.maxRetries+1)),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warn("retrying provider request",
				"provider", "anthropic", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return realty.ProviderResponse{}, fmt.Errorf("anthropic analyze after retries: %w", err)
	}

	return buildResponse(p.logger, "anthropic", req.ListingID, content, tokens, 0.8), nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// message performs one messages API round trip.
func (p *Anthropic) message(ctx context.Context, prompt string) (string, int, error) {
	payload := anthropicRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		System:      anthropicSystemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", 0, fmt.Errorf("marshal messages request: %w", err)
	}

	url := strings.TrimRight(p.baseURL, "/") + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", 0, fmt.Errorf("anthropic request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Debug("close response body", "provider", "anthropic", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", 0, &StatusError{Provider: "anthropic", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var body anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", 0, fmt.Errorf("decode anthropic response: %w", err)
	}
	if len(body.Content) == 0 {
		return "", 0, fmt.Errorf("anthropic response has no content")
	}
	return strings.TrimSpace(body.Content[0].Text), body.Usage.InputTokens + body.Usage.OutputTokens, nil
}
