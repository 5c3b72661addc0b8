package match

import (
	"sort"

	"realty-notifier/pkg/realty"
)

// Candidate pairs a listing with its match result for ranking.
type Candidate struct {
	Listing *realty.Listing
	Result  realty.MatchResult
}

// Rank filters candidates down to matches and orders them strongest first:
// confidence tier, then score. Equal keys keep their input order.
func Rank(candidates []Candidate) []Candidate {
	matched := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Result.IsMatch {
			matched = append(matched, c)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i].Result, matched[j].Result
		if a.Confidence.Rank() != b.Confidence.Rank() {
			return a.Confidence.Rank() > b.Confidence.Rank()
		}
		return a.Score > b.Score
	})

	return matched
}
