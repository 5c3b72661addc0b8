// Package agents queries AI providers for structured property facts and
// merges their answers into one consensus analysis. Providers are
// interchangeable behind a small interface; the analyzer owns fan-out,
// merge policy and per-provider performance tracking.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"realty-notifier/pkg/realty"
)

// ExtractionRequest asks one provider to extract facts from listing text.
type ExtractionRequest struct {
	ListingID string
	Text      string
}

// Provider is one AI backend capable of structured property extraction.
// Analyze returns the content, confidence, token usage and parsed facts;
// the analyzer stamps provider name, model, latency and timestamp. A
// response that came back but could not be parsed is not an error: it is
// returned with zero confidence and no facts.
type Provider interface {
	Name() string
	Model() string
	Analyze(ctx context.Context, req ExtractionRequest) (realty.ProviderResponse, error)
}

// StatusError reports a non-2xx provider API response.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Transient reports whether the status is worth retrying: rate limits and
// server-side failures are, other client errors are not.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// retryable decides whether a provider call error is worth another
// attempt. Everything is transient except API rejections like bad
// requests or invalid credentials.
func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// promptTemplate is the extraction prompt sent to every provider. The
// model is asked for one JSON document in a fixed nested shape.
const promptTemplate = `אנליזה מפורטת של נכס מבוססת על הטקסט הבא:

טקסט מקורי:
%s

אנא חלץ את המידע הבא בפורמט JSON:
{
    "location": {
        "address": "כתובת מדויקת",
        "neighborhood": "שכונה",
        "city": "עיר"
    },
    "property_details": {
        "property_type": "סוג הנכס (דירה/בית/סטודיו וכו')",
        "rooms": "מספר חדרים (מספר)",
        "bedrooms": "מספר חדרי שינה (מספר)",
        "bathrooms": "מספר חדרי רחצה (מספר)",
        "size_sqm": "גודל במ״ר (מספר)",
        "floor": "קומה (מספר)",
        "total_floors": "סך הכל קומות בבניין (מספר)"
    },
    "financial": {
        "price": "מחיר (מספר)",
        "currency": "מטבע (שקל/דולר/יורו)",
        "price_per_sqm": "מחיר למ״ר (מספר)"
    },
    "features": [
        "רשימת תכונות ויתרונות"
    ],
    "amenities": [
        "רשימת שירותים וציוד"
    ],
    "condition": "מצב הנכס (חדש/משופץ/דרוש שיפוץ וכו')",
    "quality_score": "ציון איכות מ-1 עד 10",
    "summary": "סיכום קצר של הנכס",
    "confidence": "רמת ביטחון בניתוח מ-0 עד 1"
}

חשוב: החזר רק JSON תקני, בלי הסברים נוספים.`

// systemPrompt primes chat-style providers before the extraction request.
const systemPrompt = "אתה מומחה בניתוח נכסים. אנא חלץ מידע מטקסטים על נכסים בפורמט JSON מובנה."

func buildPrompt(text string) string {
	return fmt.Sprintf(promptTemplate, text)
}

// flexFloat decodes JSON numbers that models sometimes quote as strings.
// Non-numeric text leaves the value unset rather than failing the whole
// document.
type flexFloat struct {
	Value float64
	Set   bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.Value = v
	f.Set = true
	return nil
}

func (f flexFloat) floatPtr() *float64 {
	if !f.Set {
		return nil
	}
	v := f.Value
	return &v
}

func (f flexFloat) intPtr() *int {
	if !f.Set {
		return nil
	}
	v := int(f.Value)
	return &v
}

// extractionPayload is the wire shape providers are prompted to return.
type extractionPayload struct {
	Location struct {
		Address      string `json:"address"`
		Neighborhood string `json:"neighborhood"`
		City         string `json:"city"`
	} `json:"location"`
	PropertyDetails struct {
		PropertyType string    `json:"property_type"`
		Rooms        flexFloat `json:"rooms"`
		Bedrooms     flexFloat `json:"bedrooms"`
		Bathrooms    flexFloat `json:"bathrooms"`
		SizeSqm      flexFloat `json:"size_sqm"`
		Floor        flexFloat `json:"floor"`
		TotalFloors  flexFloat `json:"total_floors"`
	} `json:"property_details"`
	Financial struct {
		Price       flexFloat `json:"price"`
		Currency    string    `json:"currency"`
		PricePerSqm flexFloat `json:"price_per_sqm"`
	} `json:"financial"`
	Features     []string  `json:"features"`
	Amenities    []string  `json:"amenities"`
	Condition    string    `json:"condition"`
	QualityScore flexFloat `json:"quality_score"`
	Summary      string    `json:"summary"`
	Confidence   flexFloat `json:"confidence"`
}

var jsonBlock = regexp.MustCompile(`(?s)\{.*\}`)

// parseFacts decodes a provider's reply into flat property facts plus the
// model's self-reported confidence (nil when the reply omits one). ok is
// false when no JSON document could be recovered at all.
func parseFacts(content string) (facts *realty.PropertyFacts, confidence *float64, ok bool) {
	cleaned := cleanJSONBlock(content)

	var payload extractionPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		// Some models wrap the document in prose; take the outermost
		// brace block and try once more.
		block := jsonBlock.FindString(cleaned)
		if block == "" {
			return nil, nil, false
		}
		if err := json.Unmarshal([]byte(block), &payload); err != nil {
			return nil, nil, false
		}
	}

	facts = &realty.PropertyFacts{
		Address:      payload.Location.Address,
		Neighborhood: payload.Location.Neighborhood,
		City:         payload.Location.City,
		PropertyType: payload.PropertyDetails.PropertyType,
		Rooms:        payload.PropertyDetails.Rooms.floatPtr(),
		Bedrooms:     payload.PropertyDetails.Bedrooms.floatPtr(),
		Bathrooms:    payload.PropertyDetails.Bathrooms.floatPtr(),
		SizeSqm:      payload.PropertyDetails.SizeSqm.floatPtr(),
		Floor:        payload.PropertyDetails.Floor.intPtr(),
		TotalFloors:  payload.PropertyDetails.TotalFloors.intPtr(),
		Price:        payload.Financial.Price.floatPtr(),
		Currency:     payload.Financial.Currency,
		PricePerSqm:  payload.Financial.PricePerSqm.floatPtr(),
		Features:     payload.Features,
		Amenities:    payload.Amenities,
		Condition:    payload.Condition,
		QualityScore: payload.QualityScore.floatPtr(),
		Summary:      payload.Summary,
	}
	return facts, payload.Confidence.floatPtr(), true
}

// cleanJSONBlock removes markdown code fence wrappers around JSON.
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// Config describes one provider instance. Kind selects the
// implementation; BaseURL is only honored by HTTP chat providers.
type Config struct {
	Kind        string
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

// Provider kinds understood by New.
const (
	KindGemini    = "gemini"
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindDeepSeek  = "deepseek"
	KindMock      = "mock"
)

// New builds a provider from its configuration.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Provider, error) {
	switch cfg.Kind {
	case KindGemini:
		return NewGemini(ctx, cfg, logger)
	case KindOpenAI:
		return NewOpenAI(cfg, logger), nil
	case KindDeepSeek:
		return NewDeepSeek(cfg, logger), nil
	case KindAnthropic:
		return NewAnthropic(cfg, logger), nil
	case KindMock:
		return NewMock(cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

// buildResponse turns raw provider content into a response. Content that
// cannot be parsed demotes the response to zero confidence instead of
// failing the call; a parsed document without a confidence field gets the
// provider's fallback.
func buildResponse(logger *slog.Logger, provider, listingID, content string, tokens int, fallbackConfidence float64) realty.ProviderResponse {
	resp := realty.ProviderResponse{Content: content, TokensUsed: tokens}

	facts, confidence, ok := parseFacts(content)
	if !ok {
		logger.Warn("unparsable provider response",
			"provider", provider, "listing", listingID, "content_length", len(content))
		return resp
	}

	resp.Facts = facts
	if confidence != nil {
		resp.Confidence = *confidence
	} else {
		resp.Confidence = fallbackConfidence
	}
	return resp
}
