// Package realty contains the core domain types for the realty notification service.
package realty

import (
	"strings"
	"time"
)

// Listing represents a single property listing as produced by a crawler
// source. It is immutable once constructed.
type Listing struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Price       *float64       `json:"price,omitempty"`
	Rooms       *float64       `json:"rooms,omitempty"`
	Location    string         `json:"location"`
	URL         string         `json:"url"`
	ImageURL    string         `json:"image_url,omitempty"`
	Features    []string       `json:"features,omitempty"`
	PostedAt    *time.Time     `json:"posted_at,omitempty"`
	RawPayload  map[string]any `json:"raw_payload,omitempty"`
}

// SearchText returns the free text of the listing used for keyword and
// location matching: title, description, location and feature labels joined.
func (l *Listing) SearchText() string {
	parts := make([]string, 0, 3+len(l.Features))
	for _, p := range []string{l.Title, l.Description, l.Location} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	parts = append(parts, l.Features...)
	return strings.Join(parts, " ")
}

// Range is a numeric interval with optional bounds. A nil bound is open.
type Range struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Contains reports whether v falls inside the range. Open bounds always
// accept.
func (r Range) Contains(v float64) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// Defined reports whether at least one bound is set.
func (r Range) Defined() bool {
	return r.Min != nil || r.Max != nil
}

// LocationCriteria describes where a profile wants to live. Neighborhoods
// and streets keep their configured order.
type LocationCriteria struct {
	City          string   `json:"city,omitempty"`
	Neighborhoods []string `json:"neighborhoods,omitempty"`
	Streets       []string `json:"streets,omitempty"`
}

// ChannelConfig enables a notification channel for a profile and names the
// recipient on that channel (chat ID, phone number or email address).
type ChannelConfig struct {
	Enabled   bool   `json:"enabled"`
	Recipient string `json:"recipient"`
}

// ScanTarget points a crawler source at a query URL.
type ScanTarget struct {
	Source string `json:"source"`
	Query  string `json:"query"`
}

// Profile is a user's search profile. It is read-only to the pipeline.
type Profile struct {
	ID                 string                   `json:"id"`
	Name               string                   `json:"name"`
	Active             bool                     `json:"active"`
	Price              Range                    `json:"price"`
	Rooms              Range                    `json:"rooms"`
	Location           LocationCriteria         `json:"location"`
	PropertyTypes      []string                 `json:"property_types,omitempty"`
	FeaturePreferences []string                 `json:"feature_preferences,omitempty"`
	Channels           map[string]ChannelConfig `json:"channels,omitempty"`
	ScanTargets        []ScanTarget             `json:"scan_targets,omitempty"`
}

// Confidence grades how certain a match is.
type Confidence string

// Confidence levels, strongest first.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "no_match"
)

// Rank returns the sort weight of the confidence level; higher is stronger.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// MatchResult is the outcome of scoring one listing against one profile.
// LocationMatches and KeywordMatches carry the matched terms; Reasons is a
// human-readable trace of every check.
type MatchResult struct {
	IsMatch         bool
	Confidence      Confidence
	Score           float64 // clamped to [0,100]
	Reasons         []string
	LocationMatches []string
	KeywordMatches  []string
	PriceMatch      bool
	RoomsMatch      bool
}

// PropertyFacts holds the structured facts one or more AI providers
// extracted from a listing's free text.
type PropertyFacts struct {
	Address      string   `json:"address,omitempty"`
	Neighborhood string   `json:"neighborhood,omitempty"`
	City         string   `json:"city,omitempty"`
	PropertyType string   `json:"property_type,omitempty"`
	Rooms        *float64 `json:"rooms,omitempty"`
	Bedrooms     *float64 `json:"bedrooms,omitempty"`
	Bathrooms    *float64 `json:"bathrooms,omitempty"`
	SizeSqm      *float64 `json:"size_sqm,omitempty"`
	Floor        *int     `json:"floor,omitempty"`
	TotalFloors  *int     `json:"total_floors,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	Currency     string   `json:"currency,omitempty"`
	PricePerSqm  *float64 `json:"price_per_sqm,omitempty"`
	Features     []string `json:"features,omitempty"`
	Amenities    []string `json:"amenities,omitempty"`
	Condition    string   `json:"condition,omitempty"`
	QualityScore *float64 `json:"quality_score,omitempty"`
	Summary      string   `json:"summary,omitempty"`
}

// ProviderResponse is one AI provider's answer for one listing.
type ProviderResponse struct {
	Provider   string         `json:"provider"`
	Content    string         `json:"content,omitempty"`
	Confidence float64        `json:"confidence"`
	Latency    time.Duration  `json:"latency"`
	TokensUsed int            `json:"tokens_used"`
	ModelUsed  string         `json:"model_used"`
	Timestamp  time.Time      `json:"timestamp"`
	Facts      *PropertyFacts `json:"facts,omitempty"`
	Err        error          `json:"-"`
}

// ConsensusAnalysis aggregates the provider responses for one listing.
type ConsensusAnalysis struct {
	ConsensusScore float64            `json:"consensus_score"`
	Facts          *PropertyFacts     `json:"facts,omitempty"`
	Responses      []ProviderResponse `json:"responses"`
}

// Priority orders notifications for channel formatting.
type Priority string

// Notification priorities.
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// NotificationMessage is a channel-agnostic rendering of a match, ready for
// per-channel formatting.
type NotificationMessage struct {
	Title    string
	Body     string
	URL      string
	ImageURL string
	Priority Priority
	Metadata map[string]string
}

// DeliveryStatus records the outcome of one channel send.
type DeliveryStatus string

// Delivery outcomes.
const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed DeliveryStatus = "failed"
)

// NotificationResult is one channel's verdict for one message.
type NotificationResult struct {
	Channel   string         `json:"channel"`
	Status    DeliveryStatus `json:"status"`
	MessageID string         `json:"message_id,omitempty"`
	Error     string         `json:"error,omitempty"`
	SentAt    time.Time      `json:"sent_at"`
}

// NotificationRecord is the persisted audit entry for one delivery attempt.
type NotificationRecord struct {
	ID          string     `json:"id"`
	ProfileID   string     `json:"profile_id"`
	ListingID   string     `json:"listing_id"`
	Fingerprint string     `json:"fingerprint"`
	Channel     string     `json:"channel"`
	Recipient   string     `json:"recipient"`
	Status      string     `json:"status"`
	MessageID   string     `json:"message_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	Score       float64    `json:"score"`
	Confidence  string     `json:"confidence"`
	SentAt      time.Time  `json:"sent_at"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}
