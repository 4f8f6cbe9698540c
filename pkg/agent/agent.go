// Package agent implements the Agent Runtime (C7): the turn state machine
// that folds thread events into provider requests, dispatches them, and
// drives the Tool Executor. One Agent runs a single provider-backed turn
// loop against a single thread, budget-gating compaction and draining its
// message queue between turns.
package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/activity"
	"github.com/laceai/lace/pkg/budget"
	"github.com/laceai/lace/pkg/compaction"
	"github.com/laceai/lace/pkg/provider"
	"github.com/laceai/lace/pkg/queue"
	"github.com/laceai/lace/pkg/thread"
	"github.com/laceai/lace/pkg/toolexec"
)

// State is one of the four states a turn moves through.
type State string

const (
	StateIdle          State = "idle"
	StateThinking      State = "thinking"
	StateStreaming     State = "streaming"
	StateToolExecution State = "tool_execution"
)

// Config parameterizes one Agent's provider dispatch.
type Config struct {
	Model        string
	MaxTokens    int
	SystemPrompt string
	// CompactionReason is recorded on the COMPACTION_SUMMARY event's
	// version_history entry.
	CompactionReason string
}

// DefaultConfig returns reasonable defaults; callers are expected to at
// least override Model.
func DefaultConfig() Config {
	return Config{MaxTokens: 8192, CompactionReason: "token_budget_exceeded"}
}

// Agent is one turn-loop instance bound to a single thread. It is not
// safe for concurrent turns on the same Agent; callers serialize via the
// Session Manager.
type Agent struct {
	Name      string
	ThreadID  string // canonical id
	SessionID string

	threads   *thread.Store
	compactor compaction.Strategy
	budgetMgr *budget.Manager
	executor  *toolexec.Executor
	registry  *toolexec.Registry
	queue     *queue.Queue
	pub       activity.Publisher
	prov      provider.Provider

	cfg Config

	mu    sync.Mutex
	state State
}

// New constructs an Agent. All dependencies are required except queue and
// pub, which may be nil (no queue draining / no observability, used by
// tests and utility one-shot prompts).
func New(
	name, threadID, sessionID string,
	threads *thread.Store,
	compactor compaction.Strategy,
	budgetMgr *budget.Manager,
	executor *toolexec.Executor,
	registry *toolexec.Registry,
	q *queue.Queue,
	pub activity.Publisher,
	prov provider.Provider,
	cfg Config,
) *Agent {
	return &Agent{
		Name:      name,
		ThreadID:  threadID,
		SessionID: sessionID,
		threads:   threads,
		compactor: compactor,
		budgetMgr: budgetMgr,
		executor:  executor,
		registry:  registry,
		queue:     q,
		pub:       pub,
		prov:      prov,
		cfg:       cfg,
		state:     StateIdle,
	}
}

// State returns the Agent's current turn state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(ctx context.Context, s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	a.emit(ctx, activity.EventStateChange, s)
}

func (a *Agent) emit(ctx context.Context, t activity.EventType, payload interface{}) {
	if a.pub == nil {
		return
	}
	a.pub.Publish(ctx, activity.Event{Type: t, ThreadID: a.ThreadID, Payload: payload})
}

// Send is the idle -> thinking transition. It appends the user message and
// runs the turn loop to completion (including any queued follow-up
// messages), returning once the Agent is back at idle or ctx is cancelled.
func (a *Agent) Send(ctx context.Context, content string) error {
	if _, err := a.threads.Append(ctx, a.ThreadID, thread.EventUserMessage, thread.NewUserMessage(content)); err != nil {
		return errors.Wrap(err, "agent: appending user message")
	}
	return a.runUntilIdle(ctx)
}

// runUntilIdle runs turns back to back: once idle, it pulls the next
// message off the queue (if any) and starts a fresh turn for it, one
// message per turn, until the queue is empty.
func (a *Agent) runUntilIdle(ctx context.Context) error {
	if err := a.runTurn(ctx); err != nil {
		return err
	}
	for a.queue != nil {
		m, ok := a.queue.Dequeue(ctx)
		if !ok {
			break
		}

		evType := thread.EventUserMessage
		if m.Type == queue.MessageTaskNotification || m.Type == queue.MessageSystem {
			evType = thread.EventLocalSystem
		}
		data := thread.NewUserMessage(m.Content)
		if evType == thread.EventLocalSystem {
			data = thread.NewLocalSystemMessage(m.Content)
		}
		if _, err := a.threads.Append(ctx, a.ThreadID, evType, data); err != nil {
			return errors.Wrap(err, "agent: appending dequeued message")
		}
		a.emit(ctx, activity.EventQueueProcessDone, 1)

		if err := a.runTurn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// runTurn loops compact -> fold -> dispatch -> execute tools until the
// provider stops requesting tools or the turn is cancelled.
func (a *Agent) runTurn(ctx context.Context) error {
	a.setState(ctx, StateThinking)

	for {
		select {
		case <-ctx.Done():
			return a.cancelInFlight(ctx, nil)
		default:
		}

		if err := a.maybeCompact(ctx); err != nil {
			return a.abortWithStorageError(ctx, err)
		}

		events, err := a.threads.Events(ctx, a.ThreadID)
		if err != nil {
			return a.abortWithStorageError(ctx, err)
		}

		req := provider.Request{
			System:    a.cfg.SystemPrompt,
			Messages:  buildMessages(events),
			Tools:     a.toolDescriptors(),
			MaxTokens: a.cfg.MaxTokens,
			Model:     a.cfg.Model,
		}

		resp, err := a.dispatch(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return a.cancelInFlight(ctx, nil)
			}
			return a.abortWithStorageError(ctx, errors.Wrap(err, "agent: provider dispatch failed"))
		}

		toolCalls := resp.ToolCalls
		if resp.StopReason == provider.StopMaxTokens {
			toolCalls = filterCompleteToolCalls(toolCalls, a.registry)
			a.emit(ctx, activity.EventTokenExhaustion, resp)
		}

		if _, err := a.threads.Append(ctx, a.ThreadID, thread.EventAgentMessage, thread.NewAgentMessage(resp.Content)); err != nil {
			return a.abortWithStorageError(ctx, err)
		}
		a.emit(ctx, activity.EventMessage, resp.Content)

		if len(toolCalls) == 0 {
			a.setState(ctx, StateIdle)
			return nil
		}

		a.setState(ctx, StateToolExecution)
		cancelled, err := a.runToolPhase(ctx, toolCalls)
		if err != nil {
			return a.abortWithStorageError(ctx, err)
		}
		if cancelled {
			return a.cancelInFlight(ctx, nil)
		}

		a.setState(ctx, StateThinking)
	}
}

// maybeCompact asks the Budget Manager whether the thread's estimated
// token footprint should block the next request, and if so builds a new
// physical thread from compact(events) and swaps the version mapping.
func (a *Agent) maybeCompact(ctx context.Context) error {
	events, err := a.threads.Events(ctx, a.ThreadID)
	if err != nil {
		return err
	}
	estimated := a.budgetMgr.Estimate(toBudgetMessages(events))
	if !a.budgetMgr.ShouldBlock(estimated) {
		if a.budgetMgr.ShouldWarn(estimated) {
			a.emit(ctx, activity.EventTokenBudgetWarning, estimated)
		}
		return nil
	}

	threadEvents := make([]thread.Event, len(events))
	copy(threadEvents, events)

	compacted, err := a.compactor.Compact(threadEvents)
	if err != nil {
		return errors.Wrap(err, "agent: compaction failed")
	}

	canonical, err := a.threads.GetCanonicalID(ctx, a.ThreadID)
	if err != nil {
		return err
	}

	newPhysical, err := a.threads.Compact(ctx, canonical, compacted, a.cfg.CompactionReason)
	if err != nil {
		return errors.Wrap(err, "agent: compaction swap failed")
	}

	a.emit(ctx, activity.EventCompaction, newPhysical)
	return nil
}

func (a *Agent) toolDescriptors() []provider.ToolDescriptor {
	if a.registry == nil {
		return nil
	}
	names := a.registry.Names()
	descs := make([]provider.ToolDescriptor, 0, len(names))
	for _, name := range names {
		tool, err := a.registry.Lookup(name)
		if err != nil {
			continue
		}
		schema, err := json.Marshal(tool.InputSchema())
		if err != nil {
			continue
		}
		descs = append(descs, provider.ToolDescriptor{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: schema,
		})
	}
	return descs
}

// dispatch prefers streaming and falls back to a single Chat call when the
// provider offers no stream.
func (a *Agent) dispatch(ctx context.Context, req provider.Request) (provider.Response, error) {
	a.setState(ctx, StateStreaming)

	stream, err := a.prov.ChatStream(ctx, req)
	if err != nil {
		return provider.Response{}, err
	}
	if stream == nil {
		return a.prov.Chat(ctx, req)
	}

	var resp provider.Response
	for ev := range stream {
		switch ev.Kind {
		case provider.StreamTokenDelta:
			a.emit(ctx, activity.EventToken, ev.Token)
			resp.Content += ev.Token
		case provider.StreamFinal:
			resp.StopReason = provider.NormalizeStopReason(string(ev.StopReason))
			resp.Usage = ev.Usage
			resp.ToolCalls = ev.ToolCalls
		}
	}
	a.budgetMgr.RecordUsage(budget.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens})
	return resp, nil
}

// runToolPhase appends a TOOL_CALL per call before dispatch, invokes the
// Tool Executor, then appends a TOOL_RESULT per outcome. Returns
// cancelled=true if ctx was done before the batch completed.
func (a *Agent) runToolPhase(ctx context.Context, calls []provider.ToolCall) (cancelled bool, err error) {
	execCalls := make([]toolexec.ToolCall, 0, len(calls))
	for _, c := range calls {
		if _, appendErr := a.threads.Append(ctx, a.ThreadID, thread.EventToolCall, thread.NewToolCall(c.Name, c.CallID, c.Input)); appendErr != nil {
			return false, appendErr
		}
		a.emit(ctx, activity.EventToolCall, c)
		execCalls = append(execCalls, toolexec.ToolCall{CallID: c.CallID, ToolName: c.Name, Input: c.Input})
	}

	tctx := toolexec.Context{ThreadID: a.ThreadID, SessionID: a.SessionID, AgentName: a.Name}
	results := a.executor.ExecuteMany(ctx, execCalls, tctx)

	cancelled = ctx.Err() != nil
	if err := a.appendToolResults(ctx, execCalls, results); err != nil {
		return false, err
	}
	return cancelled, nil
}

// appendToolResults appends one TOOL_RESULT event per call, in the same
// order the calls were issued. ExecuteMany always returns a result for
// every call (cancelled calls carry CategoryCancelled), so this loop never
// has to skip an index; the len(results) guard below is only a defensive
// fallback against a shorter slice, which synthesizes a cancelled result so
// no tool call is ever left without a terminal TOOL_RESULT. When the
// context is already done, appends use a background context so the write
// still lands.
func (a *Agent) appendToolResults(ctx context.Context, calls []toolexec.ToolCall, results []toolexec.ToolResult) error {
	appendCtx := ctx
	if ctx.Err() != nil {
		appendCtx = context.Background()
	}
	for i, c := range calls {
		res := toolexec.ErrorResult(toolexec.CategoryCancelled, "cancelled")
		if i < len(results) {
			res = results[i]
		}
		if _, err := a.threads.Append(appendCtx, a.ThreadID, thread.EventToolResult, thread.NewToolResult(c.CallID, c.ToolName, resultPayload(res.Content), res.IsError)); err != nil {
			return err
		}
		a.emit(appendCtx, activity.EventToolResult, res)
	}
	return nil
}

// cancelInFlight records a LOCAL_SYSTEM_MESSAGE noting the cancellation and
// returns the Agent to idle. Uses context.Background for the append since
// ctx is already done.
func (a *Agent) cancelInFlight(_ context.Context, reason error) error {
	bg := context.Background()
	msg := "turn cancelled"
	if reason != nil {
		msg = "turn cancelled: " + reason.Error()
	}
	if _, err := a.threads.Append(bg, a.ThreadID, thread.EventLocalSystem, thread.NewLocalSystemMessage(msg)); err != nil {
		return err
	}
	a.setState(bg, StateIdle)
	return nil
}

func (a *Agent) abortWithStorageError(ctx context.Context, cause error) error {
	bg := context.Background()
	_, _ = a.threads.Append(bg, a.ThreadID, thread.EventLocalSystem, thread.NewLocalSystemMessage("turn aborted: "+cause.Error()))
	a.setState(bg, StateIdle)
	return cause
}
