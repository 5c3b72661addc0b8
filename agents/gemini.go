package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"realty-notifier/pkg/realty"
)

const defaultGeminiModel = "gemini-pro"

// Gemini extracts property facts through the Google generative AI SDK.
type Gemini struct {
	model      string
	timeout    time.Duration
	maxRetries int
	client     *genai.Client
	gen        *genai.GenerativeModel
	logger     *slog.Logger
}

// NewGemini builds a Gemini provider. The caller owns the client lifetime
// and should Close it on shutdown.
func NewGemini(ctx context.Context, cfg Config, logger *slog.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	name := cfg.Model
	if name == "" {
		name = defaultGeminiModel
	}

	gen := client.GenerativeModel(name)
	gen.SetTemperature(float32(cfg.Temperature))
	if cfg.MaxTokens > 0 {
		gen.SetMaxOutputTokens(int32(cfg.MaxTokens))
	}
	gen.ResponseMIMEType = "application/json"
	gen.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}

	p := &Gemini{
		model:      name,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		client:     client,
		gen:        gen,
		logger:     logger,
	}
	if p.timeout <= 0 {
		p.timeout = 30 * time.Second
	}
	if p.maxRetries < 0 {
		p.maxRetries = 0
	}
	return p, nil
}

func (p *Gemini) Name() string { return "gemini" }

func (p *Gemini) Model() string { return p.model }

// Close releases the underlying SDK client.
func (p *Gemini) Close() error {
	return p.client.Close()
}

// Analyze sends the extraction prompt and parses the model's reply.
func (p *Gemini) Analyze(ctx context.Context, req ExtractionRequest) (realty.ProviderResponse, error) {
	prompt := buildPrompt(req.Text)

	var content string
	var tokens int
	err := retry.Do(
		func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			c, t, err := p.generate(attemptCtx, prompt)
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
				"provider", "gemini", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return realty.ProviderResponse{}, fmt.Errorf("gemini analyze after retries: %w", err)
	}

	return buildResponse(p.logger, "gemini", req.ListingID, content, tokens, 0.8), nil
}

// generate performs one SDK round trip and flattens the first candidate's
// text parts.
func (p *Gemini) generate(ctx context.Context, prompt string) (string, int, error) {
	resp, err := p.gen.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", 0, geminiError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", 0, fmt.Errorf("gemini response has no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return "", 0, fmt.Errorf("gemini response has no text parts")
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return content, tokens, nil
}

// geminiError maps SDK API errors onto StatusError so retry gating sees
// their HTTP status.
func geminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &StatusError{Provider: "gemini", StatusCode: apiErr.Code, Body: apiErr.Message}
	}
	return fmt.Errorf("gemini request: %w", err)
}
