package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"realty-notifier/pkg/realty"
)

// Mock is a deterministic in-process provider for development runs without
// API keys. It answers instantly with fixed high-confidence facts.
type Mock struct {
	model string
}

// NewMock builds a mock provider.
func NewMock(model string) *Mock {
	if model == "" {
		model = "mock-1"
	}
	return &Mock{model: model}
}

func (p *Mock) Name() string { return "mock" }

func (p *Mock) Model() string { return p.model }

// Analyze returns canned facts without touching the network.
func (p *Mock) Analyze(ctx context.Context, req ExtractionRequest) (realty.ProviderResponse, error) {
	if err := ctx.Err(); err != nil {
		return realty.ProviderResponse{}, fmt.Errorf("mock analyze: %w", err)
	}

	facts := &realty.PropertyFacts{
		Condition: "good",
		Summary:   "mock analysis for listing " + req.ListingID,
	}
	content, err := json.Marshal(facts)
	if err != nil {
		return realty.ProviderResponse{}, fmt.Errorf("marshal mock facts: %w", err)
	}

	return realty.ProviderResponse{
		Content:    string(content),
		Confidence: 0.9,
		TokensUsed: len(req.Text) / 4,
		Facts:      facts,
	}, nil
}
