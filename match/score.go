// Package match decides whether a listing fits a search profile. A
// deterministic rule scorer awards points for price, rooms, location,
// property type and features; the engine layers AI consensus evidence on
// top; ranking orders the survivors for dispatch.
package match

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"realty-notifier/normalize"
	"realty-notifier/pkg/realty"
)

// Point weights and thresholds. The exact values and check order are
// load-bearing: tests and downstream confidence tiers depend on them.
const (
	priceWeight        = 30.0
	roomsWeight        = 25.0
	cityWeight         = 20.0
	neighborhoodWeight = 15.0
	streetWeight       = 10.0
	typeWeight         = 10.0
	featureWeight      = 2.0

	matchThreshold = 50.0
)

// Scorer scores listings against profiles using deterministic rules only.
type Scorer struct {
	logger *slog.Logger
}

// NewScorer creates a rule scorer.
func NewScorer(logger *slog.Logger) *Scorer {
	return &Scorer{logger: logger}
}

// Score evaluates one listing against one profile. It is a pure function
// of its inputs: the same pair always produces the same result.
func (s *Scorer) Score(listing *realty.Listing, profile *realty.Profile) realty.MatchResult {
	result, raw := s.score(listing, profile)
	if result.IsMatch {
		result.Reasons = append(result.Reasons, overallReason(result.Score))
	}

	s.logger.Debug("scored listing",
		"listing", listing.ID,
		"profile", profile.ID,
		"match", result.IsMatch,
		"score", raw,
		"confidence", result.Confidence)

	return result
}

// score runs the checks in fixed order and returns the result without the
// summary reason line, plus the unclamped point total for the engine.
func (s *Scorer) score(listing *realty.Listing, profile *realty.Profile) (realty.MatchResult, float64) {
	var (
		raw       float64
		reasons   []string
		locations []string
		keywords  []string
	)

	text := normalize.Text(listing.SearchText())

	// 1. Price. An absent price or an unconstrained profile never blocks a
	// match, but only a real in-range price earns points.
	priceMatch := true
	switch {
	case listing.Price == nil || *listing.Price == 0 || !profile.Price.Defined():
		reasons = append(reasons, "Price not specified")
	case profile.Price.Contains(*listing.Price):
		raw += priceWeight
		reasons = append(reasons, fmt.Sprintf("Price %s ILS within range %s",
			formatPrice(*listing.Price), formatPriceRange(profile.Price)))
	default:
		priceMatch = false
		reasons = append(reasons, fmt.Sprintf("Price %s ILS outside range %s",
			formatPrice(*listing.Price), formatPriceRange(profile.Price)))
	}

	// 2. Rooms, same policy as price.
	roomsMatch := true
	switch {
	case listing.Rooms == nil || *listing.Rooms == 0 || !profile.Rooms.Defined():
		reasons = append(reasons, "Room count not specified")
	case profile.Rooms.Contains(*listing.Rooms):
		raw += roomsWeight
		reasons = append(reasons, fmt.Sprintf("Rooms %s within range %s",
			formatNumber(*listing.Rooms), formatNumberRange(profile.Rooms)))
	default:
		roomsMatch = false
		reasons = append(reasons, fmt.Sprintf("Rooms %s outside range %s",
			formatNumber(*listing.Rooms), formatNumberRange(profile.Rooms)))
	}

	// 3. Location: city, then neighborhoods, then streets, each resolved
	// through the alias table.
	if city := profile.Location.City; city != "" && containsLocation(text, city) {
		raw += cityWeight
		locations = append(locations, "City: "+city)
	}
	for _, neighborhood := range profile.Location.Neighborhoods {
		if containsLocation(text, neighborhood) {
			raw += neighborhoodWeight
			locations = append(locations, "Neighborhood: "+neighborhood)
		}
	}
	for _, street := range profile.Location.Streets {
		if containsLocation(text, street) {
			raw += streetWeight
			locations = append(locations, "Street: "+street)
		}
	}
	if len(locations) > 0 {
		reasons = append(reasons, "Location matches: "+strings.Join(locations, ", "))
	} else {
		reasons = append(reasons, "No specific location matches found")
	}

	// 4. Property types declared on the profile.
	var typeMatches []string
	for _, propType := range profile.PropertyTypes {
		if term := normalize.Text(propType); term != "" && strings.Contains(text, term) {
			raw += typeWeight
			typeMatches = append(typeMatches, propType)
		}
	}
	if len(typeMatches) > 0 {
		keywords = append(keywords, typeMatches...)
		reasons = append(reasons, "Property type matches: "+strings.Join(typeMatches, ", "))
	}

	// 5. Desirable features from the static table, a small bonus each.
	var featureMatches []string
	for _, group := range normalize.FeatureGroups() {
		if featureInText(text, group) {
			raw += featureWeight
			featureMatches = append(featureMatches, group.Canonical)
		}
	}
	if len(featureMatches) > 0 {
		keywords = append(keywords, featureMatches...)
		reasons = append(reasons, "Desirable features: "+strings.Join(featureMatches, ", "))
	}

	result := realty.MatchResult{
		IsMatch:         priceMatch && roomsMatch && raw >= matchThreshold,
		Confidence:      confidenceFor(raw, priceMatch, roomsMatch, len(locations)),
		Score:           clampScore(raw),
		Reasons:         reasons,
		LocationMatches: locations,
		KeywordMatches:  keywords,
		PriceMatch:      priceMatch,
		RoomsMatch:      roomsMatch,
	}
	return result, raw
}

// confidenceFor maps a point total onto a confidence tier. Price or rooms
// misses always gate to no_match.
func confidenceFor(score float64, priceMatch, roomsMatch bool, locationMatches int) realty.Confidence {
	if !priceMatch || !roomsMatch {
		return realty.ConfidenceNone
	}
	switch {
	case score >= 80 && locationMatches >= 2:
		return realty.ConfidenceHigh
	case score >= 60 && locationMatches >= 1:
		return realty.ConfidenceMedium
	case score >= matchThreshold:
		return realty.ConfidenceLow
	default:
		return realty.ConfidenceNone
	}
}

// containsLocation reports whether any known spelling of term appears in
// the normalized text.
func containsLocation(text, term string) bool {
	for _, variant := range normalize.LocationVariants(term) {
		if v := normalize.Text(variant); v != "" && strings.Contains(text, v) {
			return true
		}
	}
	return false
}

// featureInText reports whether the feature's canonical spelling or any
// alias appears in the normalized text.
func featureInText(text string, group normalize.AliasGroup) bool {
	if strings.Contains(text, group.Canonical) {
		return true
	}
	for _, alias := range group.Aliases {
		if strings.Contains(text, strings.ToLower(alias)) {
			return true
		}
	}
	return false
}

func clampScore(raw float64) float64 {
	if raw < 0 {
		return 0
	}
	if raw > 100 {
		return 100
	}
	return raw
}

func overallReason(score float64) string {
	return fmt.Sprintf("Overall match score: %.1f/100", score)
}

// formatNumber renders a float without a trailing zero fraction.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatPrice renders a price with thousands separators.
func formatPrice(v float64) string {
	s := formatNumber(v)
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var sign string
	if strings.HasPrefix(intPart, "-") {
		sign, intPart = "-", intPart[1:]
	}

	var b strings.Builder
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}

	out := sign + b.String()
	if hasFrac {
		out += "." + frac
	}
	return out
}

func formatPriceRange(r realty.Range) string {
	lo, hi := "0", "inf"
	if r.Min != nil {
		lo = formatPrice(*r.Min)
	}
	if r.Max != nil {
		hi = formatPrice(*r.Max)
	}
	return lo + "-" + hi
}

func formatNumberRange(r realty.Range) string {
	lo, hi := "0", "inf"
	if r.Min != nil {
		lo = formatNumber(*r.Min)
	}
	if r.Max != nil {
		hi = formatNumber(*r.Max)
	}
	return lo + "-" + hi
}
