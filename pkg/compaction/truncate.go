package compaction

import "github.com/laceai/lace/pkg/thread"

// Truncate is a cheaper alternative to Summarize: it drops the
// summarizable partition entirely rather than replacing it with a digest.
// It still honors I4 via the shared partition() tie-break, so callers that
// need an audit trail should prefer Summarize; Truncate trades that away
// for a smaller post-compaction thread.
type Truncate struct {
	Config Config
}

// NewTruncate constructs a Truncate strategy, filling unset fields from
// DefaultConfig.
func NewTruncate(cfg Config) Truncate {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.PreserveRecentEvents == 0 {
		cfg.PreserveRecentEvents = DefaultConfig().PreserveRecentEvents
	}
	return Truncate{Config: cfg}
}

// ShouldCompact reports true once the estimated size exceeds MaxTokens.
func (t Truncate) ShouldCompact(events []thread.Event, estimatedTokens int) bool {
	return estimatedTokens > t.Config.MaxTokens
}

// Compact returns only the preserved partition; no COMPACTION_SUMMARY is
// emitted.
func (t Truncate) Compact(events []thread.Event) ([]thread.Event, error) {
	preserved, _ := partition(events, t.Config)
	return preserved, nil
}
