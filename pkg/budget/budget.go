// Package budget implements the Token Budget Manager (C4): proactive and
// reactive defenses against context-window overflow.
package budget

import (
	"sync"
)

// Message is the budget manager's minimal view of a provider-bound
// message: just enough to estimate size. Providers own the richer wire
// representation (pkg/provider).
type Message struct {
	Role    string
	Content string
}

// Usage mirrors a provider response's accounting fields, so Activity Log
// consumers can render spend without a second type.
type Usage struct {
	InputTokens              int
	OutputTokens             int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
	InputCost                float64
	OutputCost               float64
	CacheCreationCost        float64
	CacheReadCost            float64
	CurrentContextWindow     int
	MaxContextWindow         int
}

// TotalCost sums every cost component.
func (u Usage) TotalCost() float64 {
	return u.InputCost + u.OutputCost + u.CacheCreationCost + u.CacheReadCost
}

// TotalTokens sums every token component.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// add accumulates a new usage observation into the running total.
func (u *Usage) add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CacheCreationInputTokens += o.CacheCreationInputTokens
	u.CacheReadInputTokens += o.CacheReadInputTokens
	u.InputCost += o.InputCost
	u.OutputCost += o.OutputCost
	u.CacheCreationCost += o.CacheCreationCost
	u.CacheReadCost += o.CacheReadCost
	// Context window occupancy is a snapshot, not a sum.
	u.CurrentContextWindow = o.CurrentContextWindow
	if o.MaxContextWindow > 0 {
		u.MaxContextWindow = o.MaxContextWindow
	}
}

// TokenCounter is the provider's optional proactive counting capability.
// The bool return reports whether counting was actually performed; false
// triggers the manager's heuristic fallback.
type TokenCounter interface {
	CountTokens(messages []Message) (tokens int, ok bool)
}

// Config parameterizes a Manager. WindowTokens is the provider's context
// window W; ReserveTokens is R, the space reserved for the response.
// WarnThreshold/BlockThreshold are fractions of the allowed input
// (W - R), e.g. 0.8 and 1.0 as suggested defaults.
type Config struct {
	WindowTokens   int
	ReserveTokens  int
	WarnThreshold  float64
	BlockThreshold float64
	// CharsPerToken is the heuristic fallback divisor (chars / k) used
	// when no TokenCounter is configured or it reports !ok.
	CharsPerToken int
}

// DefaultConfig returns reasonable defaults for a 200k-token-class model.
func DefaultConfig() Config {
	return Config{
		WindowTokens:   200_000,
		ReserveTokens:  8_000,
		WarnThreshold:  0.8,
		BlockThreshold: 1.0,
		CharsPerToken:  4,
	}
}

// Manager is the Token Budget Manager. It is safe for concurrent use; an
// Agent Runtime calls it once per turn before dispatching to the provider.
type Manager struct {
	cfg     Config
	counter TokenCounter

	mu    sync.Mutex
	usage Usage
}

// New constructs a Manager. counter may be nil, in which case estimate
// always uses the heuristic fallback.
func New(cfg Config, counter TokenCounter) *Manager {
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = DefaultConfig().CharsPerToken
	}
	return &Manager{cfg: cfg, counter: counter}
}

// AllowedInput is W - R: the token budget available for the outgoing
// request, leaving room for the response.
func (m *Manager) AllowedInput() int {
	allowed := m.cfg.WindowTokens - m.cfg.ReserveTokens
	if allowed < 0 {
		return 0
	}
	return allowed
}

// Estimate returns the token count for messages, preferring the provider's
// proactive counter and falling back to a chars/k heuristic.
func (m *Manager) Estimate(messages []Message) int {
	if m.counter != nil {
		if tokens, ok := m.counter.CountTokens(messages); ok {
			return tokens
		}
	}
	return m.heuristicEstimate(messages)
}

func (m *Manager) heuristicEstimate(messages []Message) int {
	chars := 0
	for _, msg := range messages {
		chars += len(msg.Content)
	}
	if m.cfg.CharsPerToken <= 0 {
		return chars
	}
	return chars / m.cfg.CharsPerToken
}

// ShouldWarn reports whether estimatedTokens crosses the warn threshold of
// the allowed input budget.
func (m *Manager) ShouldWarn(estimatedTokens int) bool {
	allowed := m.AllowedInput()
	if allowed == 0 {
		return true
	}
	return float64(estimatedTokens) >= float64(allowed)*m.cfg.WarnThreshold
}

// ShouldBlock reports whether estimatedTokens crosses the block threshold;
// a true result means the caller must compact or prune before dispatch.
func (m *Manager) ShouldBlock(estimatedTokens int) bool {
	allowed := m.AllowedInput()
	if allowed == 0 {
		return true
	}
	return float64(estimatedTokens) >= float64(allowed)*m.cfg.BlockThreshold
}

// RecordUsage accumulates a provider response's reported usage into the
// manager's running total, used for reactive accounting when no proactive
// counter is available and for cost-tracking Activity Log entries.
func (m *Manager) RecordUsage(u Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage.add(u)
}

// Usage returns the current accumulated usage.
func (m *Manager) Usage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

// Reset zeroes the accumulated usage, e.g. after a compaction swap.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = Usage{}
}
