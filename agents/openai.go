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
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultOpenAIModel     = "gpt-4o"
	defaultDeepSeekBaseURL = "https://api.deepseek.com/v1"
	defaultDeepSeekModel   = "deepseek-chat"

	// deepSeekSuffix is appended to the user message; deepseek-chat drifts
	// into prose without the extra reminder.
	deepSeekSuffix = "\n\nאנא החזר JSON תקני בלבד, בלי הסברים נוספים."
)

// ChatProvider speaks the OpenAI chat completions protocol. DeepSeek
// exposes the same wire format, so both providers share this client.
type ChatProvider struct {
	name               string
	apiKey             string
	model              string
	baseURL            string
	userSuffix         string
	temperature        float64
	maxTokens          int
	timeout            time.Duration
	maxRetries         int
	fallbackConfidence float64
	client             *http.Client
	logger             *slog.Logger
}

// NewOpenAI builds a chat provider against the OpenAI API.
func NewOpenAI(cfg Config, logger *slog.Logger) *ChatProvider {
	p := newChatProvider("openai", defaultOpenAIBaseURL, defaultOpenAIModel, cfg, logger)
	p.fallbackConfidence = 0.8
	return p
}

// NewDeepSeek builds a chat provider against the DeepSeek API.
func NewDeepSeek(cfg Config, logger *slog.Logger) *ChatProvider {
	p := newChatProvider("deepseek", defaultDeepSeekBaseURL, defaultDeepSeekModel, cfg, logger)
	p.fallbackConfidence = 0.7
	p.userSuffix = deepSeekSuffix
	return p
}

func newChatProvider(name, baseURL, model string, cfg Config, logger *slog.Logger) *ChatProvider {
	p := &ChatProvider{
		name:        name,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     baseURL,
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
		p.model = model
	}
	if p.timeout <= 0 {
		p.timeout = 30 * time.Second
	}
	if p.maxRetries < 0 {
		p.maxRetries = 0
	}
	return p
}

func (p *ChatProvider) Name() string { return p.name }

func (p *ChatProvider) Model() string { return p.model }

// Analyze sends the extraction prompt and parses the model's reply.
// Transport failures and transient API statuses are retried; a reply that
// arrives but cannot be parsed is returned with zero confidence.
func (p *ChatProvider) Analyze(ctx context.Context, req ExtractionRequest) (realty.ProviderResponse, error) {
	prompt := buildPrompt(req.Text) + p.userSuffix

	var content string
	var tokens int
	err := retry.Do(
		func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			c, t, err := p.complete(attemptCtx, prompt)
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
				"provider", p.name, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return realty.ProviderResponse{}, fmt.Errorf("%s analyze after retries: %w", p.name, err)
	}

	return buildResponse(p.logger, p.name, req.ListingID, content, tokens, p.fallbackConfidence), nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// complete performs one chat completions round trip.
func (p *ChatProvider) complete(ctx context.Context, prompt string) (string, int, error) {
	payload := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", 0, fmt.Errorf("marshal chat request: %w", err)
	}

	url := strings.TrimRight(p.baseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", 0, fmt.Errorf("%s request: %w", p.name, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Debug("close response body", "provider", p.name, "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", 0, &StatusError{Provider: p.name, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", 0, fmt.Errorf("decode %s response: %w", p.name, err)
	}
	if len(body.Choices) == 0 {
		return "", 0, fmt.Errorf("%s response has no choices", p.name)
	}
	return strings.TrimSpace(body.Choices[0].Message.Content), body.Usage.TotalTokens, nil
}
