package agent

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laceai/lace/pkg/activity"
	"github.com/laceai/lace/pkg/approval"
	"github.com/laceai/lace/pkg/budget"
	"github.com/laceai/lace/pkg/compaction"
	"github.com/laceai/lace/pkg/provider"
	"github.com/laceai/lace/pkg/store"
	"github.com/laceai/lace/pkg/thread"
	"github.com/laceai/lace/pkg/toolexec"
)

// fakeProvider is a scripted provider: each call to ChatStream pops the
// next scripted response and replays it as a token stream plus a Final.
type fakeProvider struct {
	responses []provider.Response
	calls     int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) ListModels(ctx context.Context) ([]provider.ModelDescriptor, error) {
	return nil, nil
}

func (f *fakeProvider) Chat(ctx context.Context, req provider.Request) (provider.Response, error) {
	return f.next(), nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req provider.Request) (<-chan provider.StreamEvent, error) {
	resp := f.next()
	ch := make(chan provider.StreamEvent, 2)
	if resp.Content != "" {
		ch <- provider.StreamEvent{Kind: provider.StreamTokenDelta, Token: resp.Content}
	}
	ch <- provider.StreamEvent{Kind: provider.StreamFinal, StopReason: resp.StopReason, Usage: resp.Usage, ToolCalls: resp.ToolCalls}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) next() provider.Response {
	if f.calls >= len(f.responses) {
		return provider.Response{StopReason: provider.StopEndTurn}
	}
	r := f.responses[f.calls]
	f.calls++
	return r
}

// echoTool just echoes its input back as the result content.
type echoTool struct{}

type echoInput struct {
	Text string `json:"text"`
}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes input" }
func (echoTool) InputSchema() *jsonschema.Schema {
	return toolexec.GenerateSchema[echoInput]()
}
func (echoTool) RequiresApproval() bool { return false }
func (echoTool) Execute(ctx context.Context, tctx toolexec.Context, input json.RawMessage) (toolexec.ToolResult, error) {
	var in echoInput
	if err := json.Unmarshal(input, &in); err != nil {
		return toolexec.ErrorResult(toolexec.CategoryValidation, err.Error()), nil
	}
	return toolexec.ToolResult{Content: "echo:" + in.Text}, nil
}

// strictTool requires its "text" field, so a call with valid-but-incomplete
// JSON arguments (e.g. "{}") fails schema validation even though it parses.
type strictTool struct{}

type strictInput struct {
	Text string `json:"text" jsonschema:"required"`
}

func (strictTool) Name() string        { return "strict" }
func (strictTool) Description() string { return "requires text" }
func (strictTool) InputSchema() *jsonschema.Schema {
	return toolexec.GenerateSchema[strictInput]()
}
func (strictTool) RequiresApproval() bool { return false }
func (strictTool) Execute(ctx context.Context, tctx toolexec.Context, input json.RawMessage) (toolexec.ToolResult, error) {
	var in strictInput
	if err := json.Unmarshal(input, &in); err != nil {
		return toolexec.ErrorResult(toolexec.CategoryValidation, err.Error()), nil
	}
	return toolexec.ToolResult{Content: "strict:" + in.Text}, nil
}

func newTestAgent(t *testing.T, prov provider.Provider) (*Agent, *thread.Store) {
	t.Helper()
	backing, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { backing.Close() })

	threads := thread.New(backing)

	registry := toolexec.NewRegistry()
	registry.Register(echoTool{})
	registry.Register(strictTool{})
	executor := toolexec.NewExecutor(registry, approval.AutoApprove{}, toolexec.DefaultExecutorConfig())

	budgetMgr := budget.New(budget.DefaultConfig(), nil)
	compactor := compaction.NewTruncate(compaction.DefaultConfig())
	log := activity.New(32)

	a := New("main", "thread-1", "session-1", threads, compactor, budgetMgr, executor, registry, nil, log, prov, DefaultConfig())
	return a, threads
}

func TestSend_NoToolCalls_GoesIdleAfterOneTurn(t *testing.T) {
	prov := &fakeProvider{responses: []provider.Response{
		{Content: "hello there", StopReason: provider.StopEndTurn},
	}}
	a, threads := newTestAgent(t, prov)

	err := a.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, a.State())

	events, err := threads.Events(context.Background(), "thread-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, thread.EventUserMessage, events[0].Type)
	assert.Equal(t, thread.EventAgentMessage, events[1].Type)
}

func TestSend_ToolCallThenFinalAnswer_AppendsCallAndResult(t *testing.T) {
	callInput, _ := json.Marshal(echoInput{Text: "ping"})
	prov := &fakeProvider{responses: []provider.Response{
		{StopReason: provider.StopToolUse, ToolCalls: []provider.ToolCall{{CallID: "c1", Name: "echo", Input: callInput}}},
		{Content: "done", StopReason: provider.StopEndTurn},
	}}
	a, threads := newTestAgent(t, prov)

	err := a.Send(context.Background(), "echo ping")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, a.State())

	events, err := threads.Events(context.Background(), "thread-1")
	require.NoError(t, err)

	var sawToolCall, sawToolResult bool
	for _, e := range events {
		switch e.Type {
		case thread.EventToolCall:
			sawToolCall = true
		case thread.EventToolResult:
			d, derr := e.DecodeToolResult()
			require.NoError(t, derr)
			assert.Contains(t, string(d.Result), "echo:ping")
			sawToolResult = true
		}
	}
	assert.True(t, sawToolCall)
	assert.True(t, sawToolResult)
}

func TestSend_MaxTokensStopReason_FiltersIncompleteToolCalls(t *testing.T) {
	prov := &fakeProvider{responses: []provider.Response{
		{
			Content:    "partial",
			StopReason: provider.StopMaxTokens,
			ToolCalls:  []provider.ToolCall{{CallID: "c1", Name: "echo", Input: nil}},
		},
	}}
	a, threads := newTestAgent(t, prov)

	err := a.Send(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, a.State())

	events, err := threads.Events(context.Background(), "thread-1")
	require.NoError(t, err)
	for _, e := range events {
		assert.NotEqual(t, thread.EventToolCall, e.Type, "incomplete tool call must be filtered by stop-reason repair")
	}
}

func TestSend_MaxTokensStopReason_FiltersValidJSONFailingToolSchema(t *testing.T) {
	prov := &fakeProvider{responses: []provider.Response{
		{
			Content:    "partial",
			StopReason: provider.StopMaxTokens,
			ToolCalls:  []provider.ToolCall{{CallID: "c1", Name: "strict", Input: json.RawMessage(`{}`)}},
		},
	}}
	a, threads := newTestAgent(t, prov)

	err := a.Send(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, a.State())

	events, err := threads.Events(context.Background(), "thread-1")
	require.NoError(t, err)
	for _, e := range events {
		assert.NotEqual(t, thread.EventToolCall, e.Type, "a call missing a required field must be filtered even though its JSON is valid")
	}
}
