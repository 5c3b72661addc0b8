package match

import (
	"fmt"
	"log/slog"
	"strings"

	"realty-notifier/normalize"
	"realty-notifier/pkg/realty"
)

// AI evidence bonuses. They are strictly additive: consensus input can
// promote a borderline listing but never demote a rule match.
const (
	consensusBonus  = 20.0
	aiLocationBonus = 15.0
	aiPriceBonus    = 10.0
	aiRoomsBonus    = 10.0

	consensusCutoff   = 0.7
	combinedThreshold = 40.0
)

// Engine combines the rule score with AI consensus evidence into the final
// match decision.
type Engine struct {
	scorer *Scorer
	logger *slog.Logger
}

// NewEngine creates an engine on top of scorer.
func NewEngine(scorer *Scorer, logger *slog.Logger) *Engine {
	return &Engine{scorer: scorer, logger: logger}
}

// Evaluate scores the listing and layers AI evidence on top of the rule
// points. The price and rooms gates stay in force: no amount of AI
// evidence turns a hard price or rooms miss into a match. With no usable
// analysis the rule result is returned unchanged.
func (e *Engine) Evaluate(listing *realty.Listing, profile *realty.Profile, analysis *realty.ConsensusAnalysis) realty.MatchResult {
	rule, raw := e.scorer.score(listing, profile)
	if analysis == nil || len(analysis.Responses) == 0 {
		if rule.IsMatch {
			rule.Reasons = append(rule.Reasons, overallReason(rule.Score))
		}
		return rule
	}

	combined := raw
	reasons := rule.Reasons

	if analysis.ConsensusScore > consensusCutoff {
		combined += consensusBonus
		reasons = append(reasons, fmt.Sprintf("AI consensus confidence %.2f", analysis.ConsensusScore))
	}

	if facts := analysis.Facts; facts != nil {
		if loc := factsLocation(facts); loc != "" && locationMatchesProfile(loc, profile) {
			combined += aiLocationBonus
			reasons = append(reasons, "AI-extracted location matches search area")
		}
		if facts.Price != nil && *facts.Price > 0 && profile.Price.Defined() && profile.Price.Contains(*facts.Price) {
			combined += aiPriceBonus
			reasons = append(reasons, fmt.Sprintf("AI-extracted price %s ILS within budget", formatPrice(*facts.Price)))
		}
		if facts.Rooms != nil && *facts.Rooms > 0 && profile.Rooms.Defined() && profile.Rooms.Contains(*facts.Rooms) {
			combined += aiRoomsBonus
			reasons = append(reasons, fmt.Sprintf("AI-extracted room count %s within preference", formatNumber(*facts.Rooms)))
		}
		if len(facts.Features) > 0 {
			reasons = append(reasons, "AI-detected features: "+strings.Join(facts.Features, ", "))
		}
	}

	result := rule
	result.Score = clampScore(combined)
	result.Reasons = reasons
	result.Confidence = confidenceFor(combined, rule.PriceMatch, rule.RoomsMatch, len(rule.LocationMatches))
	result.IsMatch = rule.PriceMatch && rule.RoomsMatch && combined >= combinedThreshold
	if result.IsMatch {
		result.Reasons = append(result.Reasons, overallReason(result.Score))
	}

	e.logger.Debug("evaluated listing",
		"listing", listing.ID,
		"profile", profile.ID,
		"rule_score", raw,
		"combined_score", combined,
		"match", result.IsMatch,
		"confidence", result.Confidence)

	return result
}

// factsLocation flattens the AI-extracted location fields into one string
// for alias matching.
func factsLocation(facts *realty.PropertyFacts) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{facts.Address, facts.Neighborhood, facts.City} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// locationMatchesProfile applies the rule scorer's alias matching to the
// AI-extracted location text.
func locationMatchesProfile(location string, profile *realty.Profile) bool {
	text := normalize.Text(location)
	if text == "" {
		return false
	}
	if city := profile.Location.City; city != "" && containsLocation(text, city) {
		return true
	}
	for _, neighborhood := range profile.Location.Neighborhoods {
		if containsLocation(text, neighborhood) {
			return true
		}
	}
	for _, street := range profile.Location.Streets {
		if containsLocation(text, street) {
			return true
		}
	}
	return false
}
