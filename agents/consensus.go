package agents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"realty-notifier/pkg/realty"
)

// defaultOverrideThreshold is the confidence above which a later provider
// may overwrite a scalar fact an earlier provider already filled.
const defaultOverrideThreshold = 0.8

// AnalyzerConfig wires an Analyzer.
type AnalyzerConfig struct {
	Providers []Provider
	Tracker   *Tracker
	Logger    *slog.Logger

	// MaxParallel caps concurrent provider calls; zero means all at once.
	MaxParallel int

	// OverrideThreshold replaces the default scalar override confidence
	// when nonzero.
	OverrideThreshold float64
}

// Analyzer fans one listing out to every configured provider and merges
// the answers into a single consensus analysis. Provider failures degrade
// the consensus instead of failing it.
type Analyzer struct {
	providers         []Provider
	tracker           *Tracker
	logger            *slog.Logger
	maxParallel       int
	overrideThreshold float64
}

// NewAnalyzer builds an analyzer from its configuration.
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	a := &Analyzer{
		providers:         cfg.Providers,
		tracker:           cfg.Tracker,
		logger:            cfg.Logger,
		maxParallel:       cfg.MaxParallel,
		overrideThreshold: cfg.OverrideThreshold,
	}
	if a.tracker == nil {
		a.tracker = NewTracker()
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.maxParallel <= 0 {
		a.maxParallel = len(cfg.Providers)
	}
	if a.overrideThreshold <= 0 {
		a.overrideThreshold = defaultOverrideThreshold
	}
	return a
}

// Tracker exposes the per-provider counters for status reporting.
func (a *Analyzer) Tracker() *Tracker {
	return a.tracker
}

// Close releases providers that hold SDK clients.
func (a *Analyzer) Close() error {
	var errs []error
	for _, p := range a.providers {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", p.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Analyze queries all providers for the listing and merges their answers.
// A provider that errors out contributes a zero-confidence response; the
// call itself never fails. With no providers configured the analysis is
// empty.
func (a *Analyzer) Analyze(ctx context.Context, listing *realty.Listing) *realty.ConsensusAnalysis {
	if len(a.providers) == 0 {
		return &realty.ConsensusAnalysis{}
	}

	req := ExtractionRequest{ListingID: listing.ID, Text: listing.SearchText()}

	responses := make([]realty.ProviderResponse, len(a.providers))
	var g errgroup.Group
	g.SetLimit(a.maxParallel)
	for i, p := range a.providers {
		g.Go(func() error {
			start := time.Now()
			resp, err := p.Analyze(ctx, req)
			if err != nil {
				a.logger.Warn("provider analysis failed",
					"provider", p.Name(), "listing", listing.ID, "error", err)
				resp = realty.ProviderResponse{Content: "Error: " + err.Error(), Err: err}
			}
			resp.Provider = p.Name()
			resp.ModelUsed = p.Model()
			resp.Latency = time.Since(start)
			resp.Timestamp = time.Now().UTC()
			responses[i] = resp
			a.tracker.Record(resp)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	// Sort by provider name so the merge is deterministic regardless of
	// which provider answered first.
	sort.Slice(responses, func(i, j int) bool { return responses[i].Provider < responses[j].Provider })

	analysis := &realty.ConsensusAnalysis{
		ConsensusScore: consensusScore(responses),
		Facts:          a.mergeFacts(responses),
		Responses:      responses,
	}
	a.logger.Debug("consensus analysis complete",
		"listing", listing.ID,
		"providers", len(responses),
		"consensus_score", analysis.ConsensusScore)
	return analysis
}

// consensusScore is the mean confidence of the responses that produced
// usable facts.
func consensusScore(responses []realty.ProviderResponse) float64 {
	var sum float64
	var n int
	for _, resp := range responses {
		if resp.Confidence > 0 {
			sum += resp.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// mergeFacts folds the usable responses into one fact sheet. Scalars keep
// the first non-empty value unless a later response clears the override
// threshold; lists are unioned. Returns nil when no response parsed.
func (a *Analyzer) mergeFacts(responses []realty.ProviderResponse) *realty.PropertyFacts {
	merged := &realty.PropertyFacts{}
	found := false
	for _, resp := range responses {
		if resp.Facts == nil || resp.Confidence <= 0 {
			continue
		}
		found = true
		override := resp.Confidence > a.overrideThreshold
		f := resp.Facts

		mergeString(&merged.Address, f.Address, override)
		mergeString(&merged.Neighborhood, f.Neighborhood, override)
		mergeString(&merged.City, f.City, override)
		mergeString(&merged.PropertyType, f.PropertyType, override)
		mergeString(&merged.Currency, f.Currency, override)
		mergeString(&merged.Condition, f.Condition, override)
		mergeString(&merged.Summary, f.Summary, override)

		mergeFloat(&merged.Rooms, f.Rooms, override)
		mergeFloat(&merged.Bedrooms, f.Bedrooms, override)
		mergeFloat(&merged.Bathrooms, f.Bathrooms, override)
		mergeFloat(&merged.SizeSqm, f.SizeSqm, override)
		mergeFloat(&merged.Price, f.Price, override)
		mergeFloat(&merged.PricePerSqm, f.PricePerSqm, override)
		mergeFloat(&merged.QualityScore, f.QualityScore, override)

		mergeInt(&merged.Floor, f.Floor, override)
		mergeInt(&merged.TotalFloors, f.TotalFloors, override)

		merged.Features = mergeList(merged.Features, f.Features)
		merged.Amenities = mergeList(merged.Amenities, f.Amenities)
	}
	if !found {
		return nil
	}
	return merged
}

func mergeString(dst *string, src string, override bool) {
	if src == "" {
		return
	}
	if *dst == "" || override {
		*dst = src
	}
}

func mergeFloat(dst **float64, src *float64, override bool) {
	if src == nil {
		return
	}
	if *dst == nil || override {
		v := *src
		*dst = &v
	}
}

func mergeInt(dst **int, src *int, override bool) {
	if src == nil {
		return
	}
	if *dst == nil || override {
		v := *src
		*dst = &v
	}
}

func mergeList(dst, src []string) []string {
	for _, s := range src {
		if s == "" {
			continue
		}
		if !slices.Contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}
