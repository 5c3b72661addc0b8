package scan

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"realty-notifier/dedup"
	"realty-notifier/match"
	"realty-notifier/pkg/realty"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func floatPtr(v float64) *float64 { return &v }

// eventLog records the interleaving of dispatch and mark-seen calls.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) add(ev string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

type fakeProfiles struct {
	profiles []*realty.Profile
	err      error
	started  chan struct{}
	release  chan struct{}
}

func (f *fakeProfiles) Active(_ context.Context) ([]*realty.Profile, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.profiles, f.err
}

type fakeSource struct {
	name    string
	byQuery map[string][]realty.Listing
	errs    map[string]error
	calls   atomic.Int64
	block   chan struct{}
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(_ context.Context, target realty.ScanTarget) ([]realty.Listing, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if err := f.errs[target.Query]; err != nil {
		return nil, err
	}
	return f.byQuery[target.Query], nil
}

type fakeSeen struct {
	mu       sync.Mutex
	seen     map[string]bool
	marks    []string
	checkErr error
	events   *eventLog
}

func (f *fakeSeen) IsSeen(_ context.Context, fp string) (bool, error) {
	if f.checkErr != nil {
		return false, f.checkErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[fp], nil
}

func (f *fakeSeen) MarkSeen(_ context.Context, fp string, listing *realty.Listing) error {
	f.mu.Lock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	f.seen[fp] = true
	f.marks = append(f.marks, listing.ID)
	f.mu.Unlock()
	if f.events != nil {
		f.events.add("mark:" + listing.ID)
	}
	return nil
}

func (f *fakeSeen) marked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.marks...)
}

type fakeAudit struct {
	mu   sync.Mutex
	recs []realty.NotificationRecord
	err  error
}

func (f *fakeAudit) AppendNotification(_ context.Context, rec realty.NotificationRecord) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeAudit) records() []realty.NotificationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realty.NotificationRecord(nil), f.recs...)
}

type fakeAnalyzer struct {
	calls    atomic.Int64
	analysis *realty.ConsensusAnalysis
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ *realty.Listing) *realty.ConsensusAnalysis {
	f.calls.Add(1)
	return f.analysis
}

type fakeDispatcher struct {
	mu          sync.Mutex
	urls        []string
	failChannel string
	events      *eventLog
}

func (f *fakeDispatcher) Dispatch(_ context.Context, msg realty.NotificationMessage, p *realty.Profile) map[string]realty.NotificationResult {
	f.mu.Lock()
	f.urls = append(f.urls, msg.URL)
	f.mu.Unlock()
	if f.events != nil {
		f.events.add("dispatch:" + msg.URL)
	}

	out := make(map[string]realty.NotificationResult)
	for name, cfg := range p.Channels {
		if !cfg.Enabled {
			continue
		}
		res := realty.NotificationResult{Channel: name, Status: realty.DeliverySuccess, MessageID: name + "-1", SentAt: time.Now()}
		if name == f.failChannel {
			res = realty.NotificationResult{Channel: name, Status: realty.DeliveryFailed, Error: "delivery refused", SentAt: time.Now()}
		}
		out[name] = res
	}
	return out
}

func (f *fakeDispatcher) dispatched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

func testProfile(id string) *realty.Profile {
	return &realty.Profile{
		ID:     id,
		Name:   "Dizengoff 2BR",
		Active: true,
		Price:  realty.Range{Min: floatPtr(4000), Max: floatPtr(6500)},
		Rooms:  realty.Range{Min: floatPtr(1), Max: floatPtr(3)},
		Location: realty.LocationCriteria{
			City:          "תל אביב",
			Neighborhoods: []string{"דיזנגוף"},
		},
		PropertyTypes: []string{"דירה"},
		Channels: map[string]realty.ChannelConfig{
			"telegram": {Enabled: true, Recipient: "123456"},
		},
		ScanTargets: []realty.ScanTarget{{Source: "yad2", Query: "https://feed.example/one"}},
	}
}

// strongListing scores 100: price, rooms, city, neighborhood and property
// type all hit.
func strongListing(id string) realty.Listing {
	return realty.Listing{
		ID:       id,
		Source:   "yad2",
		Title:    "דירה 2 חדרים בדיזנגוף",
		Price:    floatPtr(5800),
		Rooms:    floatPtr(2),
		Location: "דיזנגוף, תל אביב",
		URL:      "https://example.com/item/" + id,
	}
}

// plainListing scores 65 with no location hits: a match at low confidence.
func plainListing(id string) realty.Listing {
	return realty.Listing{
		ID:     id,
		Source: "yad2",
		Title:  "דירה להשכרה",
		Price:  floatPtr(5000),
		Rooms:  floatPtr(2),
		URL:    "https://example.com/item/" + id,
	}
}

// expensiveListing fails the price gate.
func expensiveListing(id string) realty.Listing {
	return realty.Listing{
		ID:       id,
		Source:   "yad2",
		Title:    "דירה בדיזנגוף",
		Price:    floatPtr(9500),
		Rooms:    floatPtr(2),
		Location: "תל אביב",
		URL:      "https://example.com/item/" + id,
	}
}

type fixture struct {
	profiles   *fakeProfiles
	source     *fakeSource
	seen       *fakeSeen
	audit      *fakeAudit
	analyzer   *fakeAnalyzer
	dispatcher *fakeDispatcher
	events     *eventLog
	scanner    *Scanner
}

func newFixture(t *testing.T, profiles []*realty.Profile, source *fakeSource, workers int) *fixture {
	t.Helper()
	logger := testLogger()
	scorer := match.NewScorer(logger)

	f := &fixture{
		profiles:   &fakeProfiles{profiles: profiles},
		source:     source,
		seen:       &fakeSeen{},
		audit:      &fakeAudit{},
		analyzer:   &fakeAnalyzer{},
		dispatcher: &fakeDispatcher{},
		events:     &eventLog{},
	}
	f.seen.events = f.events
	f.dispatcher.events = f.events
	f.scanner = New(Config{
		Profiles:   f.profiles,
		Sources:    []Source{source},
		Seen:       f.seen,
		Audit:      f.audit,
		Scorer:     scorer,
		Engine:     match.NewEngine(scorer, logger),
		Analyzer:   f.analyzer,
		Dispatcher: f.dispatcher,
		Logger:     logger,
		Workers:    workers,
	})
	return f
}

// TestRunCycle verifies the full pipeline for one profile: seen listings
// skipped, gate misses marked without dispatch, matches dispatched,
// recorded and marked seen last.
func TestRunCycle(t *testing.T) {
	seenListing := plainListing("already-seen")
	source := &fakeSource{
		name: "yad2",
		byQuery: map[string][]realty.Listing{
			"https://feed.example/one": {strongListing("fresh"), expensiveListing("pricey"), seenListing},
		},
	}
	f := newFixture(t, []*realty.Profile{testProfile("dizengoff")}, source, 2)
	f.seen.seen = map[string]bool{dedup.Fingerprint(&seenListing): true}

	stats, err := f.scanner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if stats.Profiles != 1 || stats.Listings != 3 {
		t.Errorf("Expected 1 profile / 3 listings, got %d / %d", stats.Profiles, stats.Listings)
	}
	if stats.SkippedSeen != 1 {
		t.Errorf("Expected 1 seen skip, got %d", stats.SkippedSeen)
	}
	if stats.Evaluated != 2 || stats.Matched != 1 {
		t.Errorf("Expected 2 evaluated / 1 matched, got %d / %d", stats.Evaluated, stats.Matched)
	}
	if stats.Sent != 1 || stats.Failed != 0 || stats.Errors != 0 {
		t.Errorf("Expected 1 sent and no failures, got %+v", stats)
	}

	// Only the gate-passing listing reaches the providers.
	if got := f.analyzer.calls.Load(); got != 1 {
		t.Errorf("Expected 1 analyzer call, got %d", got)
	}

	urls := f.dispatcher.dispatched()
	if len(urls) != 1 || urls[0] != "https://example.com/item/fresh" {
		t.Errorf("Expected one dispatch for the match, got %v", urls)
	}

	recs := f.audit.records()
	if len(recs) != 1 {
		t.Fatalf("Expected 1 audit record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.ProfileID != "dizengoff" || rec.ListingID != "fresh" || rec.Channel != "telegram" {
		t.Errorf("Expected record identity, got %+v", rec)
	}
	if rec.Status != "success" || rec.Recipient != "123456" || rec.MessageID != "telegram-1" {
		t.Errorf("Expected sent record, got %+v", rec)
	}
	if rec.Score != 100 || rec.Confidence != "high" {
		t.Errorf("Expected score 100 high, got %v %q", rec.Score, rec.Confidence)
	}
	if want := dedup.Fingerprint(strongPtr("fresh")); rec.Fingerprint != want {
		t.Errorf("Expected fingerprint %q, got %q", want, rec.Fingerprint)
	}

	marks := f.seen.marked()
	if len(marks) != 2 {
		t.Fatalf("Expected 2 mark-seen calls, got %v", marks)
	}

	// The match is marked seen only after its dispatch.
	var dispatchIdx, markIdx int
	for i, ev := range f.events.list() {
		if strings.Contains(ev, "dispatch:") && strings.Contains(ev, "fresh") {
			dispatchIdx = i
		}
		if ev == "mark:fresh" {
			markIdx = i
		}
	}
	if dispatchIdx >= markIdx {
		t.Errorf("Expected dispatch before mark, got events %v", f.events.list())
	}

	if last := f.scanner.LastCycle(); last != stats {
		t.Errorf("Expected LastCycle to return run stats, got %+v", last)
	}
}

func strongPtr(id string) *realty.Listing {
	l := strongListing(id)
	return &l
}

// TestRunSeenListingsUntouched verifies seen listings are never scored,
// analyzed, dispatched or re-marked.
func TestRunSeenListingsUntouched(t *testing.T) {
	a, b := strongListing("a"), plainListing("b")
	source := &fakeSource{
		name:    "yad2",
		byQuery: map[string][]realty.Listing{"https://feed.example/one": {a, b}},
	}
	f := newFixture(t, []*realty.Profile{testProfile("dizengoff")}, source, 2)
	f.seen.seen = map[string]bool{
		dedup.Fingerprint(&a): true,
		dedup.Fingerprint(&b): true,
	}

	stats, err := f.scanner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if stats.SkippedSeen != 2 || stats.Evaluated != 0 || stats.Matched != 0 {
		t.Errorf("Expected everything skipped, got %+v", stats)
	}
	if f.analyzer.calls.Load() != 0 {
		t.Error("Expected no analyzer calls for seen listings")
	}
	if len(f.dispatcher.dispatched()) != 0 {
		t.Error("Expected no dispatches for seen listings")
	}
	if len(f.seen.marked()) != 0 {
		t.Error("Expected no re-marks for seen listings")
	}
}

// TestRunDedupErrorFailsClosed verifies a dedup check failure skips the
// listing without scoring or marking it.
func TestRunDedupErrorFailsClosed(t *testing.T) {
	source := &fakeSource{
		name:    "yad2",
		byQuery: map[string][]realty.Listing{"https://feed.example/one": {strongListing("x")}},
	}
	f := newFixture(t, []*realty.Profile{testProfile("dizengoff")}, source, 2)
	f.seen.checkErr = errors.New("database is locked")

	stats, err := f.scanner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if stats.Errors != 1 || stats.Evaluated != 0 || stats.Matched != 0 {
		t.Errorf("Expected fail-closed skip, got %+v", stats)
	}
	if f.analyzer.calls.Load() != 0 || len(f.dispatcher.dispatched()) != 0 {
		t.Error("Expected no scoring or dispatch on dedup failure")
	}
	if len(f.seen.marked()) != 0 {
		t.Error("Expected no mark on dedup failure")
	}
}

// TestRunGateMissSkipsProviders verifies a price gate miss bypasses the AI
// fan-out but still marks the listing seen.
func TestRunGateMissSkipsProviders(t *testing.T) {
	source := &fakeSource{
		name:    "yad2",
		byQuery: map[string][]realty.Listing{"https://feed.example/one": {expensiveListing("pricey")}},
	}
	f := newFixture(t, []*realty.Profile{testProfile("dizengoff")}, source, 2)

	stats, err := f.scanner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if f.analyzer.calls.Load() != 0 {
		t.Error("Expected no analyzer call for a price gate miss")
	}
	if stats.Evaluated != 1 || stats.Matched != 0 {
		t.Errorf("Expected evaluated non-match, got %+v", stats)
	}
	if marks := f.seen.marked(); len(marks) != 1 || marks[0] != "pricey" {
		t.Errorf("Expected non-match marked seen, got %v", marks)
	}
}

// TestRunRankedDispatchOrder verifies matches go out strongest first
// regardless of fetch order.
func TestRunRankedDispatchOrder(t *testing.T) {
	source := &fakeSource{
		name: "yad2",
		byQuery: map[string][]realty.Listing{
			"https://feed.example/one": {plainListing("weak"), strongListing("strong")},
		},
	}
	f := newFixture(t, []*realty.Profile{testProfile("dizengoff")}, source, 2)

	if _, err := f.scanner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	urls := f.dispatcher.dispatched()
	want := []string{"https://example.com/item/strong", "https://example.com/item/weak"}
	if len(urls) != 2 || urls[0] != want[0] || urls[1] != want[1] {
		t.Errorf("Expected dispatch order %v, got %v", want, urls)
	}
}

// TestRunSharedTargetFetchedOnce verifies two profiles sharing a target
// trigger one fetch, and that dedup state is global across profiles.
func TestRunSharedTargetFetchedOnce(t *testing.T) {
	source := &fakeSource{
		name:    "yad2",
		byQuery: map[string][]realty.Listing{"https://feed.example/one": {strongListing("shared")}},
	}
	f := newFixture(t, []*realty.Profile{testProfile("first"), testProfile("second")}, source, 1)

	stats, err := f.scanner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := source.calls.Load(); got != 1 {
		t.Errorf("Expected 1 fetch for the shared target, got %d", got)
	}
	if stats.Listings != 2 {
		t.Errorf("Expected both profiles to see the listing, got %d", stats.Listings)
	}

	// The first profile notifies and marks the listing; the second skips it.
	if stats.Matched != 1 || stats.SkippedSeen != 1 {
		t.Errorf("Expected 1 match and 1 seen skip, got %+v", stats)
	}
	recs := f.audit.records()
	if len(recs) != 1 || recs[0].ProfileID != "first" {
		t.Errorf("Expected one record for the first profile, got %+v", recs)
	}
}

// TestRunFetchErrorIsolation verifies one failing target does not stop the
// profile's other targets.
func TestRunFetchErrorIsolation(t *testing.T) {
	source := &fakeSource{
		name:    "yad2",
		byQuery: map[string][]realty.Listing{"https://feed.example/two": {strongListing("ok")}},
		errs:    map[string]error{"https://feed.example/one": errors.New("http 500")},
	}
	p := testProfile("dizengoff")
	p.ScanTargets = []realty.ScanTarget{
		{Source: "yad2", Query: "https://feed.example/one"},
		{Source: "yad2", Query: "https://feed.example/two"},
	}
	f := newFixture(t, []*realty.Profile{p}, source, 2)

	stats, err := f.scanner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if stats.Errors != 1 {
		t.Errorf("Expected 1 target error, got %d", stats.Errors)
	}
	if stats.Matched != 1 || len(f.dispatcher.dispatched()) != 1 {
		t.Errorf("Expected the healthy target to still match, got %+v", stats)
	}
}

// TestRunUnknownSource verifies a target naming an unregistered source is
// counted as an error without aborting the cycle.
func TestRunUnknownSource(t *testing.T) {
	source := &fakeSource{name: "yad2"}
	p := testProfile("dizengoff")
	p.ScanTargets = []realty.ScanTarget{{Source: "facebook", Query: "https://feed.example/fb"}}
	f := newFixture(t, []*realty.Profile{p}, source, 2)

	stats, err := f.scanner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Errors != 1 || stats.Listings != 0 {
		t.Errorf("Expected unknown source counted as error, got %+v", stats)
	}
}

// TestRunRecordsFailedDeliveries verifies failed channel results land in
// the audit log with their error.
func TestRunRecordsFailedDeliveries(t *testing.T) {
	source := &fakeSource{
		name:    "yad2",
		byQuery: map[string][]realty.Listing{"https://feed.example/one": {strongListing("x")}},
	}
	p := testProfile("dizengoff")
	p.Channels["email"] = realty.ChannelConfig{Enabled: true, Recipient: "user@example.com"}
	f := newFixture(t, []*realty.Profile{p}, source, 2)
	f.dispatcher.failChannel = "email"

	stats, err := f.scanner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if stats.Sent != 1 || stats.Failed != 1 {
		t.Errorf("Expected 1 sent / 1 failed, got %+v", stats)
	}

	recs := f.audit.records()
	if len(recs) != 2 {
		t.Fatalf("Expected 2 audit records, got %d", len(recs))
	}
	byChannel := make(map[string]realty.NotificationRecord, len(recs))
	for _, rec := range recs {
		byChannel[rec.Channel] = rec
	}
	if rec := byChannel["email"]; rec.Status != "failed" || rec.Error != "delivery refused" {
		t.Errorf("Expected failed email record, got %+v", rec)
	}
	if rec := byChannel["telegram"]; rec.Status != "success" || rec.Error != "" {
		t.Errorf("Expected sent telegram record, got %+v", rec)
	}

	// A failed channel does not block the seen mark.
	if marks := f.seen.marked(); len(marks) != 1 || marks[0] != "x" {
		t.Errorf("Expected match marked seen, got %v", marks)
	}
}

// TestRunBusy verifies overlapping cycles are refused.
func TestRunBusy(t *testing.T) {
	source := &fakeSource{name: "yad2"}
	f := newFixture(t, nil, source, 2)
	f.profiles.started = make(chan struct{}, 1)
	f.profiles.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.scanner.Run(context.Background())
		done <- err
	}()

	<-f.profiles.started
	if !f.scanner.Running() {
		t.Error("Expected Running true during a cycle")
	}
	if _, err := f.scanner.Run(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy for overlapping run, got %v", err)
	}

	close(f.profiles.release)
	if err := <-done; err != nil {
		t.Errorf("Expected first run to finish cleanly, got %v", err)
	}
	if f.scanner.Running() {
		t.Error("Expected Running false after the cycle")
	}
}

// TestRunProfileStoreError verifies a profile listing failure aborts the
// cycle with a wrapped error.
func TestRunProfileStoreError(t *testing.T) {
	source := &fakeSource{name: "yad2"}
	f := newFixture(t, nil, source, 2)
	f.profiles.err = errors.New("bucket unreachable")

	_, err := f.scanner.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "list active profiles") {
		t.Errorf("Expected wrapped profile store error, got %v", err)
	}
}

// TestRunCanceledContext verifies cancellation propagates out of the cycle.
func TestRunCanceledContext(t *testing.T) {
	source := &fakeSource{
		name:    "yad2",
		byQuery: map[string][]realty.Listing{"https://feed.example/one": {strongListing("x")}},
	}
	f := newFixture(t, []*realty.Profile{testProfile("dizengoff")}, source, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.scanner.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// TestFetchCacheSingleFlight verifies concurrent fetches of one target
// collapse onto a single upstream call.
func TestFetchCacheSingleFlight(t *testing.T) {
	source := &fakeSource{
		name:    "yad2",
		byQuery: map[string][]realty.Listing{"q": {strongListing("x")}},
		block:   make(chan struct{}),
	}
	cache := newFetchCache(map[string]Source{"yad2": source})
	target := realty.ScanTarget{Source: "yad2", Query: "q"}

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			listings, err := cache.fetch(context.Background(), target)
			if err != nil {
				t.Errorf("fetch failed: %v", err)
				return
			}
			results[i] = len(listings)
		}()
	}

	close(source.block)
	wg.Wait()

	if got := source.calls.Load(); got != 1 {
		t.Errorf("Expected 1 upstream call, got %d", got)
	}
	for i, n := range results {
		if n != 1 {
			t.Errorf("Expected goroutine %d to get 1 listing, got %d", i, n)
		}
	}

	// A later fetch is served from the cache.
	if _, err := cache.fetch(context.Background(), target); err != nil {
		t.Fatalf("cached fetch failed: %v", err)
	}
	if got := source.calls.Load(); got != 1 {
		t.Errorf("Expected cache hit, got %d upstream calls", got)
	}
}

// TestFetchCacheErrorNotCached verifies a failed fetch is retried on the
// next request instead of being cached.
func TestFetchCacheErrorNotCached(t *testing.T) {
	source := &fakeSource{
		name:    "yad2",
		byQuery: map[string][]realty.Listing{"q": {strongListing("x")}},
		errs:    map[string]error{"q": errors.New("http 503")},
	}
	cache := newFetchCache(map[string]Source{"yad2": source})
	target := realty.ScanTarget{Source: "yad2", Query: "q"}

	if _, err := cache.fetch(context.Background(), target); err == nil {
		t.Fatal("Expected first fetch to fail")
	}

	source.errs = nil
	listings, err := cache.fetch(context.Background(), target)
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if len(listings) != 1 || source.calls.Load() != 2 {
		t.Errorf("Expected fresh fetch after error, got %d listings after %d calls", len(listings), source.calls.Load())
	}
}
