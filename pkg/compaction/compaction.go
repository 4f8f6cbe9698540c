// Package compaction implements the Compaction Strategy (C3): a pure,
// deterministic function events -> events' used to keep a thread under its
// token budget while preserving pairing between tool calls and results.
package compaction

import (
	"fmt"
	"sort"

	"github.com/laceai/lace/pkg/thread"
)

// Config parameterizes a Strategy. MaxTokens bounds the post-compaction
// size estimate; PreserveRecentEvents is N in "preserve the last N message
// events"; PreserveUserMessages defaults true.
type Config struct {
	MaxTokens            int
	PreserveRecentEvents int
	PreserveUserMessages bool
}

// DefaultConfig matches the reference Summarize strategy's suggested
// defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:            100_000,
		PreserveRecentEvents: 10,
		PreserveUserMessages: true,
	}
}

// Strategy is implemented by Summarize and Truncate. Both are pure and
// deterministic given their Config: identical input events always produce
// identical output events (compaction stability).
type Strategy interface {
	// ShouldCompact reports whether, given an estimated token count for
	// events, compaction should run before the next provider dispatch.
	ShouldCompact(events []thread.Event, estimatedTokens int) bool
	// Compact returns the replacement event sequence. Returned events have
	// Seq left at zero; the caller re-appends them to a fresh physical
	// thread, which assigns real sequence numbers.
	Compact(events []thread.Event) ([]thread.Event, error)
}

// isMessageEvent reports whether an event counts toward
// PreserveRecentEvents' "last N message events" window: a conversational
// turn event rather than bookkeeping (THINKING, tokens).
func isMessageEvent(e thread.Event) bool {
	switch e.Type {
	case thread.EventUserMessage, thread.EventAgentMessage, thread.EventToolCall, thread.EventToolResult, thread.EventLocalSystem, thread.EventCompactionSummary:
		return true
	default:
		return false
	}
}

// partition splits events into a preserved set and a summarizable set:
// preserve (a) the last N message events, (b) all USER_MESSAGE, (c) the
// paired TOOL_CALL/TOOL_RESULT among preserved messages. A pair split by
// the preserved window (one half preserved, its partner not) is summarized
// together, so a call and its result always stay on the same side.
func partition(events []thread.Event, cfg Config) (preserved, summarized []thread.Event) {
	n := len(events)
	preserve := make([]bool, n)

	// (a) last N message events.
	kept := 0
	for i := n - 1; i >= 0 && kept < cfg.PreserveRecentEvents; i-- {
		if isMessageEvent(events[i]) {
			preserve[i] = true
			kept++
		}
	}

	// (b) all USER_MESSAGE.
	if cfg.PreserveUserMessages {
		for i, e := range events {
			if e.Type == thread.EventUserMessage {
				preserve[i] = true
			}
		}
	}

	// (c) pair TOOL_CALL/TOOL_RESULT by callId: if only one half of a pair is
	// preserved, summarize both (both kept or both dropped, per I4).
	callIdx := map[string][2]int{} // callId -> [callEventIdx, resultEventIdx], -1 if absent
	for i, e := range events {
		switch e.Type {
		case thread.EventToolCall:
			d, err := e.DecodeToolCall()
			if err != nil {
				continue
			}
			pair := callIdx[d.CallID]
			pair[0] = i + 1 // store 1-based so zero-value means "absent"
			callIdx[d.CallID] = pair
		case thread.EventToolResult:
			d, err := e.DecodeToolResult()
			if err != nil {
				continue
			}
			pair := callIdx[d.CallID]
			pair[1] = i + 1
			callIdx[d.CallID] = pair
		}
	}
	for _, pair := range callIdx {
		callI, resultI := pair[0]-1, pair[1]-1
		if callI < 0 || resultI < 0 {
			continue // no partner in this event list: nothing to keep together
		}
		if preserve[callI] != preserve[resultI] { // a call and its result must stay together
			preserve[callI] = false
			preserve[resultI] = false
		}
	}

	for i, e := range events {
		if preserve[i] {
			preserved = append(preserved, e)
		} else {
			summarized = append(summarized, e)
		}
	}
	return preserved, summarized
}

// digest builds a structured summary: counts per event type, tools used
// with call counts, first/last timestamps of the summarized range.
func digest(summarized []thread.Event) string {
	if len(summarized) == 0 {
		return "no prior events summarized"
	}

	typeCounts := map[thread.EventType]int{}
	toolCounts := map[string]int{}
	for _, e := range summarized {
		typeCounts[e.Type]++
		if e.Type == thread.EventToolCall {
			if d, err := e.DecodeToolCall(); err == nil {
				toolCounts[d.ToolName]++
			}
		}
	}

	// Deterministic ordering for stable output across repeated compactions.
	types := make([]string, 0, len(typeCounts))
	for t := range typeCounts {
		types = append(types, string(t))
	}
	sort.Strings(types)

	tools := make([]string, 0, len(toolCounts))
	for t := range toolCounts {
		tools = append(tools, t)
	}
	sort.Strings(tools)

	summary := fmt.Sprintf("Summarized %d events (%s) from %s to %s.",
		len(summarized), formatTypeCounts(types, typeCounts),
		summarized[0].Timestamp.Format("2006-01-02T15:04:05Z"),
		summarized[len(summarized)-1].Timestamp.Format("2006-01-02T15:04:05Z"))
	if len(tools) > 0 {
		summary += " Tools used: " + formatToolCounts(tools, toolCounts) + "."
	}
	return summary
}

func formatTypeCounts(types []string, counts map[thread.EventType]int) string {
	out := ""
	for i, t := range types {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s=%d", t, counts[thread.EventType(t)])
	}
	return out
}

func formatToolCounts(tools []string, counts map[string]int) string {
	out := ""
	for i, t := range tools {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s=%d", t, counts[t])
	}
	return out
}
