package compaction

import "github.com/laceai/lace/pkg/thread"

// Summarize replaces summarizable events with one COMPACTION_SUMMARY
// event; preserved events keep their original order, relative to where
// the summary is inserted (first).
type Summarize struct {
	Config Config
}

// NewSummarize constructs a Summarize strategy, filling unset fields from
// DefaultConfig.
func NewSummarize(cfg Config) Summarize {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.PreserveRecentEvents == 0 {
		cfg.PreserveRecentEvents = DefaultConfig().PreserveRecentEvents
	}
	return Summarize{Config: cfg}
}

// ShouldCompact reports true once the estimated size exceeds MaxTokens.
func (s Summarize) ShouldCompact(events []thread.Event, estimatedTokens int) bool {
	return estimatedTokens > s.Config.MaxTokens
}

// Compact partitions events and replaces the summarizable partition with a
// single COMPACTION_SUMMARY, placed before the preserved events so the
// summary reads as "everything up to here, then what's kept."
func (s Summarize) Compact(events []thread.Event) ([]thread.Event, error) {
	preserved, summarized := partition(events, s.Config)

	result := make([]thread.Event, 0, len(preserved)+1)
	if len(summarized) > 0 {
		result = append(result, thread.Event{
			Type: thread.EventCompactionSummary,
			Data: thread.NewCompactionSummary(digest(summarized), [2]int{0, len(summarized) - 1}),
		})
	}
	result = append(result, preserved...)
	return result, nil
}
