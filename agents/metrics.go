package agents

import (
	"sort"
	"sync"
	"time"

	"realty-notifier/pkg/realty"
)

// ProviderStats aggregates one provider's call history. Latency and
// confidence averages cover successful calls only.
type ProviderStats struct {
	Provider      string        `json:"provider"`
	SuccessCount  int           `json:"success_count"`
	FailureCount  int           `json:"failure_count"`
	TotalTokens   int           `json:"total_tokens"`
	AvgLatency    time.Duration `json:"avg_latency"`
	AvgConfidence float64       `json:"avg_confidence"`
	LastUsed      time.Time     `json:"last_used"`
}

// Tracker keeps per-provider performance counters. Safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	stats map[string]*ProviderStats
}

// NewTracker builds an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{stats: make(map[string]*ProviderStats)}
}

// Record folds one response into its provider's counters. A response counts
// as a success when it carries no error and nonzero confidence; token usage
// accrues either way.
func (t *Tracker) Record(resp realty.ProviderResponse) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[resp.Provider]
	if !ok {
		s = &ProviderStats{Provider: resp.Provider}
		t.stats[resp.Provider] = s
	}

	if resp.Err == nil && resp.Confidence > 0 {
		s.SuccessCount++
		n := float64(s.SuccessCount)
		s.AvgLatency = time.Duration((float64(s.AvgLatency)*(n-1) + float64(resp.Latency)) / n)
		s.AvgConfidence = (s.AvgConfidence*(n-1) + resp.Confidence) / n
	} else {
		s.FailureCount++
	}

	s.TotalTokens += resp.TokensUsed
	if resp.Timestamp.IsZero() {
		s.LastUsed = time.Now().UTC()
	} else {
		s.LastUsed = resp.Timestamp
	}
}

// Snapshot copies all counters, sorted by provider name.
func (t *Tracker) Snapshot() []ProviderStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ProviderStats, 0, len(t.stats))
	for _, s := range t.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
