// Package scan runs the listing pipeline for each cycle: crawl, dedup,
// score, AI enrichment, ranked dispatch, persistence.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"realty-notifier/dedup"
	"realty-notifier/match"
	"realty-notifier/notify"
	"realty-notifier/pkg/realty"
)

// ErrBusy reports that a scan cycle is already in flight.
var ErrBusy = errors.New("scan cycle already in flight")

// Source fetches listings for one scan target.
type Source interface {
	Name() string
	Fetch(ctx context.Context, target realty.ScanTarget) ([]realty.Listing, error)
}

// ProfileSource lists the search profiles to scan for.
type ProfileSource interface {
	Active(ctx context.Context) ([]*realty.Profile, error)
}

// SeenStore answers and records the dedup state of listings.
type SeenStore interface {
	IsSeen(ctx context.Context, fingerprint string) (bool, error)
	MarkSeen(ctx context.Context, fingerprint string, listing *realty.Listing) error
}

// AuditLog persists one record per channel attempt.
type AuditLog interface {
	AppendNotification(ctx context.Context, rec realty.NotificationRecord) error
}

// Analyzer fans one listing out to the AI providers.
type Analyzer interface {
	Analyze(ctx context.Context, listing *realty.Listing) *realty.ConsensusAnalysis
}

// Dispatcher delivers one message across a profile's channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg realty.NotificationMessage, profile *realty.Profile) map[string]realty.NotificationResult
}

// CycleStats summarizes one completed scan cycle.
type CycleStats struct {
	StartedAt   time.Time `json:"started_at"`
	Duration    string    `json:"duration"`
	Profiles    int64     `json:"profiles"`
	Listings    int64     `json:"listings"`
	SkippedSeen int64     `json:"skipped_seen"`
	Evaluated   int64     `json:"evaluated"`
	Matched     int64     `json:"matched"`
	Sent        int64     `json:"sent"`
	Failed      int64     `json:"failed"`
	Errors      int64     `json:"errors"`
}

// Config carries the scanner's collaborators.
type Config struct {
	Profiles   ProfileSource
	Sources    []Source
	Seen       SeenStore
	Audit      AuditLog
	Scorer     *match.Scorer
	Engine     *match.Engine
	Analyzer   Analyzer
	Dispatcher Dispatcher
	Logger     *slog.Logger

	// Workers bounds the profile pool; CycleTimeout caps one whole cycle.
	Workers      int
	CycleTimeout time.Duration
}

// Scanner orchestrates scan cycles.
type Scanner struct {
	profiles   ProfileSource
	sources    map[string]Source
	seen       SeenStore
	audit      AuditLog
	scorer     *match.Scorer
	engine     *match.Engine
	analyzer   Analyzer
	dispatcher Dispatcher
	logger     *slog.Logger

	workers int
	timeout time.Duration

	running atomic.Bool
	mu      sync.Mutex
	last    CycleStats
}

// New creates a scanner from its configuration.
func New(cfg Config) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 10 * time.Minute
	}
	sources := make(map[string]Source, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sources[src.Name()] = src
	}
	return &Scanner{
		profiles:   cfg.Profiles,
		sources:    sources,
		seen:       cfg.Seen,
		audit:      cfg.Audit,
		scorer:     cfg.Scorer,
		engine:     cfg.Engine,
		analyzer:   cfg.Analyzer,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
		workers:    cfg.Workers,
		timeout:    cfg.CycleTimeout,
	}
}

// Running reports whether a cycle is in flight.
func (s *Scanner) Running() bool {
	return s.running.Load()
}

// LastCycle returns the stats of the most recently completed cycle.
func (s *Scanner) LastCycle() CycleStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Run executes one scan cycle. Overlapping calls return ErrBusy so a slow
// cycle never stacks behind ticker drift.
func (s *Scanner) Run(ctx context.Context) (CycleStats, error) {
	if !s.running.CompareAndSwap(false, true) {
		return CycleStats{}, ErrBusy
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	profiles, err := s.profiles.Active(ctx)
	if err != nil {
		return CycleStats{}, fmt.Errorf("list active profiles: %w", err)
	}

	s.logger.Info("scan cycle started", "profiles", len(profiles), "workers", s.workers)

	var c counters
	cache := newFetchCache(s.sources)

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, p := range profiles {
		g.Go(func() error {
			return s.scanProfile(ctx, cache, p, &c)
		})
	}
	runErr := g.Wait()

	stats := c.snapshot(started, len(profiles))
	s.mu.Lock()
	s.last = stats
	s.mu.Unlock()

	s.logger.Info("scan cycle completed",
		"duration", stats.Duration,
		"profiles", stats.Profiles,
		"listings", stats.Listings,
		"skipped_seen", stats.SkippedSeen,
		"evaluated", stats.Evaluated,
		"matched", stats.Matched,
		"sent", stats.Sent,
		"failed", stats.Failed,
		"errors", stats.Errors)

	if runErr != nil {
		return stats, fmt.Errorf("scan cycle: %w", runErr)
	}
	return stats, nil
}

// scanProfile processes every scan target of one profile. Matches are
// collected first so dispatch happens in rank order, strongest first.
// Failures are logged and counted; only context cancellation propagates.
func (s *Scanner) scanProfile(ctx context.Context, cache *fetchCache, p *realty.Profile, c *counters) error {
	var candidates []match.Candidate

	for _, target := range p.ScanTargets {
		if err := ctx.Err(); err != nil {
			s.logger.Info("scan interrupted", "profile", p.ID, "error", err)
			return err
		}

		listings, err := cache.fetch(ctx, target)
		if err != nil {
			s.logger.Warn("target fetch failed",
				"profile", p.ID, "source", target.Source, "query", target.Query, "error", err)
			c.errors.Add(1)
			continue
		}
		c.listings.Add(int64(len(listings)))

		for i := range listings {
			if err := ctx.Err(); err != nil {
				return err
			}
			if cand, ok := s.evaluateListing(ctx, p, &listings[i], c); ok {
				candidates = append(candidates, cand)
			}
		}
	}

	for _, cand := range match.Rank(candidates) {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.notifyMatch(ctx, p, cand, c)
	}
	return nil
}

// evaluateListing runs dedup and scoring for one listing. Non-matches are
// marked seen here; matches are returned for ranked dispatch and marked
// seen only after their notifications go out.
func (s *Scanner) evaluateListing(ctx context.Context, p *realty.Profile, listing *realty.Listing, c *counters) (match.Candidate, bool) {
	fp := dedup.Fingerprint(listing)

	seen, err := s.seen.IsSeen(ctx, fp)
	if err != nil {
		// Fail closed: the listing is neither scored nor marked, so a
		// healthy later cycle can still pick it up.
		s.logger.Warn("dedup check failed", "profile", p.ID, "listing", listing.ID, "error", err)
		c.errors.Add(1)
		return match.Candidate{}, false
	}
	if seen {
		s.logger.Debug("skipping seen listing", "profile", p.ID, "listing", listing.ID)
		c.seen.Add(1)
		return match.Candidate{}, false
	}

	rule := s.scorer.Score(listing, p)

	// A hard price or rooms miss can never become a match, so the
	// provider fan-out would be wasted spend.
	var analysis *realty.ConsensusAnalysis
	if rule.PriceMatch && rule.RoomsMatch {
		analysis = s.analyzer.Analyze(ctx, listing)
	}

	result := s.engine.Evaluate(listing, p, analysis)
	c.evaluated.Add(1)

	if !result.IsMatch {
		s.markSeen(ctx, p, listing, fp, c)
		return match.Candidate{}, false
	}

	c.matched.Add(1)
	return match.Candidate{Listing: listing, Result: result}, true
}

// notifyMatch renders, dispatches and records one matched listing, then
// marks it seen. Marking last trades a possible duplicate notification
// after a crash for never silently dropping a match.
func (s *Scanner) notifyMatch(ctx context.Context, p *realty.Profile, cand match.Candidate, c *counters) {
	msg := notify.BuildMessage(cand.Listing, cand.Result)
	results := s.dispatcher.Dispatch(ctx, msg, p)

	fp := dedup.Fingerprint(cand.Listing)
	for _, res := range results {
		if res.Status == realty.DeliverySuccess {
			c.sent.Add(1)
		} else {
			c.failed.Add(1)
		}
		rec := realty.NotificationRecord{
			ProfileID:   p.ID,
			ListingID:   cand.Listing.ID,
			Fingerprint: fp,
			Channel:     res.Channel,
			Recipient:   p.Channels[res.Channel].Recipient,
			Status:      string(res.Status),
			MessageID:   res.MessageID,
			Error:       res.Error,
			Score:       cand.Result.Score,
			Confidence:  string(cand.Result.Confidence),
			SentAt:      res.SentAt,
		}
		if err := s.audit.AppendNotification(ctx, rec); err != nil {
			s.logger.Warn("append notification failed",
				"profile", p.ID, "listing", cand.Listing.ID, "channel", res.Channel, "error", err)
			c.errors.Add(1)
		}
	}

	s.logger.Info("match notified",
		"profile", p.ID,
		"listing", cand.Listing.ID,
		"score", cand.Result.Score,
		"confidence", cand.Result.Confidence,
		"channels", len(results))

	s.markSeen(ctx, p, cand.Listing, fp, c)
}

func (s *Scanner) markSeen(ctx context.Context, p *realty.Profile, listing *realty.Listing, fp string, c *counters) {
	if err := s.seen.MarkSeen(ctx, fp, listing); err != nil {
		s.logger.Warn("mark seen failed", "profile", p.ID, "listing", listing.ID, "error", err)
		c.errors.Add(1)
	}
}

// counters accumulates cycle totals across the profile pool.
type counters struct {
	listings  atomic.Int64
	seen      atomic.Int64
	evaluated atomic.Int64
	matched   atomic.Int64
	sent      atomic.Int64
	failed    atomic.Int64
	errors    atomic.Int64
}

func (c *counters) snapshot(started time.Time, profiles int) CycleStats {
	return CycleStats{
		StartedAt:   started.UTC(),
		Duration:    time.Since(started).Round(time.Millisecond).String(),
		Profiles:    int64(profiles),
		Listings:    c.listings.Load(),
		SkippedSeen: c.seen.Load(),
		Evaluated:   c.evaluated.Load(),
		Matched:     c.matched.Load(),
		Sent:        c.sent.Load(),
		Failed:      c.failed.Load(),
		Errors:      c.errors.Load(),
	}
}

// fetchCache fetches each distinct scan target once per cycle, however many
// profiles share it. Concurrent duplicates collapse onto one in-flight
// fetch; completed results are served from the cache. Failed fetches are
// not cached, so a sibling profile may retry the target.
type fetchCache struct {
	sources map[string]Source
	flight  singleflight.Group
	mu      sync.Mutex
	results map[string][]realty.Listing
}

func newFetchCache(sources map[string]Source) *fetchCache {
	return &fetchCache{sources: sources, results: make(map[string][]realty.Listing)}
}

func (f *fetchCache) fetch(ctx context.Context, target realty.ScanTarget) ([]realty.Listing, error) {
	key := target.Source + "\x00" + target.Query

	f.mu.Lock()
	cached, ok := f.results[key]
	f.mu.Unlock()
	if ok {
		return cached, nil
	}

	v, err, _ := f.flight.Do(key, func() (any, error) {
		// Recheck under the flight: a caller that lost the race to a
		// completed flight must not fetch again.
		f.mu.Lock()
		cached, ok := f.results[key]
		f.mu.Unlock()
		if ok {
			return cached, nil
		}

		source, ok := f.sources[target.Source]
		if !ok {
			return nil, fmt.Errorf("unknown source %q", target.Source)
		}
		listings, err := source.Fetch(ctx, target)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.results[key] = listings
		f.mu.Unlock()
		return listings, nil
	})
	if err != nil {
		return nil, err
	}
	listings, _ := v.([]realty.Listing)
	return listings, nil
}
