package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeCounter struct {
	tokens int
	ok     bool
}

func (f fakeCounter) CountTokens(messages []Message) (int, bool) {
	return f.tokens, f.ok
}

func TestEstimate_PrefersProactiveCounter(t *testing.T) {
	m := New(DefaultConfig(), fakeCounter{tokens: 42, ok: true})
	assert.Equal(t, 42, m.Estimate([]Message{{Role: "user", Content: "hello"}}))
}

func TestEstimate_FallsBackToHeuristic(t *testing.T) {
	m := New(Config{WindowTokens: 200_000, ReserveTokens: 8_000, CharsPerToken: 4}, fakeCounter{ok: false})
	tokens := m.Estimate([]Message{{Content: "12345678"}})
	assert.Equal(t, 2, tokens)
}

func TestShouldWarnAndBlock_Thresholds(t *testing.T) {
	cfg := Config{WindowTokens: 1000, ReserveTokens: 0, WarnThreshold: 0.8, BlockThreshold: 1.0, CharsPerToken: 1}
	m := New(cfg, nil)

	assert.False(t, m.ShouldWarn(799))
	assert.True(t, m.ShouldWarn(800))
	assert.False(t, m.ShouldBlock(999))
	assert.True(t, m.ShouldBlock(1000))
}

func TestRecordUsage_AccumulatesAndResets(t *testing.T) {
	m := New(DefaultConfig(), nil)
	m.RecordUsage(Usage{InputTokens: 10, OutputTokens: 5, InputCost: 0.1, OutputCost: 0.2})
	m.RecordUsage(Usage{InputTokens: 10, OutputTokens: 5, InputCost: 0.1, OutputCost: 0.2})

	got := m.Usage()
	assert.Equal(t, 20, got.InputTokens)
	assert.Equal(t, 10, got.OutputTokens)
	assert.InDelta(t, 0.6, got.TotalCost(), 0.0001)

	m.Reset()
	assert.Equal(t, 0, m.Usage().TotalTokens())
}
