package toolexec

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/laceai/lace/pkg/logger"
	"github.com/laceai/lace/pkg/telemetry"
)

// ExecutorConfig parameterizes a Executor.
type ExecutorConfig struct {
	MaxConcurrentTools int
	Retry              RetryConfig
	CircuitBreaker     CircuitBreakerConfig
}

// DefaultExecutorConfig returns reasonable defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrentTools: 4,
		Retry:              DefaultRetryConfig(),
		CircuitBreaker:     DefaultCircuitBreakerConfig(""),
	}
}

// Executor is the Tool Executor (C5). It owns the registry, the approval
// policy, and one circuit breaker per tool name.
type Executor struct {
	registry *Registry
	approval ApprovalPolicy
	cfg      ExecutorConfig
	breakers *CircuitBreakerRegistry
}

// NewExecutor constructs an Executor over registry, gated by approval.
func NewExecutor(registry *Registry, approval ApprovalPolicy, cfg ExecutorConfig) *Executor {
	if cfg.MaxConcurrentTools <= 0 {
		cfg.MaxConcurrentTools = DefaultExecutorConfig().MaxConcurrentTools
	}
	return &Executor{
		registry: registry,
		approval: approval,
		cfg:      cfg,
		breakers: NewCircuitBreakerRegistry(cfg.CircuitBreaker),
	}
}

// Execute validates, authorizes, and dispatches a single tool call,
// applying retry and circuit breaking. It never returns a Go error for a
// tool-level failure: that becomes an isError ToolResult instead, so a
// failed tool never aborts the agent turn.
func (e *Executor) Execute(ctx context.Context, call ToolCall, tctx Context) ToolResult {
	tool, err := e.registry.Lookup(call.ToolName)
	if err != nil {
		return ErrorResult(CategoryValidation, err.Error())
	}

	if err := validateInput(tool, call.Input); err != nil {
		return ErrorResult(CategoryValidation, err.Error())
	}

	if tool.RequiresApproval() && e.approval != nil {
		approved, err := e.approval.RequestApproval(ctx, call, tctx)
		if err != nil {
			return ErrorResult(CategoryUnknown, errors.Wrap(err, "approval check failed").Error())
		}
		if !approved {
			return ErrorResult(CategoryPermission, "tool call denied by approval policy")
		}
	}

	breaker := e.breakers.Get(call.ToolName)

	var result ToolResult
	execErr := breaker.Execute(ctx, func(ctx context.Context) error {
		return telemetry.WithSpan(ctx, "toolexec.execute", func(ctx context.Context) error {
			r, err := withRetry(ctx, e.cfg.Retry, call.ToolName, func(ctx context.Context) (ToolResult, error) {
				return tool.Execute(ctx, tctx, call.Input)
			})
			result = r
			return err
		}, attribute.String("tool.name", call.ToolName))
	})

	if errors.Is(execErr, ErrCircuitOpen) {
		logger.G(ctx).WithField("tool", call.ToolName).Warn("circuit open, failing fast")
		return ErrorResult(CategoryCircuit, "tool circuit breaker is open; try again later")
	}
	if execErr != nil && result.Content == "" {
		// The tool returned an error rather than a ToolResult with content;
		// surface it under the category attached by WithCategory (unknown
		// when there is none) so the turn still gets an actionable isError
		// result instead of silently losing the failure.
		return ErrorResult(categoryOf(execErr), execErr.Error())
	}

	return result
}

// indexedResult pairs a ToolResult with its originating batch index so
// ordering survives out-of-order completion.
type indexedResult struct {
	index  int
	result ToolResult
}

// ExecuteMany dispatches calls with bounded parallelism (a semaphore capped
// at MaxConcurrentTools), preserving result ordering by input index
// regardless of completion order. If every call in the batch fails with an
// overload category (rate_limit/network), it falls back to sequential
// execution for graceful degradation.
func (e *Executor) ExecuteMany(ctx context.Context, calls []ToolCall, tctx Context) []ToolResult {
	if len(calls) == 0 {
		return nil
	}

	results := e.dispatchParallel(ctx, calls, tctx)

	if allOverloaded(results) {
		logger.G(ctx).WithField("batch_size", len(calls)).Warn("all parallel tool calls overloaded, falling back to sequential execution")
		results = e.dispatchSequential(ctx, calls, tctx)
	}

	return results
}

func (e *Executor) dispatchParallel(ctx context.Context, calls []ToolCall, tctx Context) []ToolResult {
	results := make([]ToolResult, len(calls))
	resultCh := make(chan indexedResult, len(calls))
	sem := semaphore.NewWeighted(int64(e.cfg.MaxConcurrentTools))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				resultCh <- indexedResult{index: i, result: ErrorResult(CategoryCancelled, "cancelled before dispatch")}
				return nil
			}
			defer sem.Release(1)

			r := e.Execute(gctx, call, tctx)
			resultCh <- indexedResult{index: i, result: r}
			return nil
		})
	}

	var consumerWg sync.WaitGroup
	consumerWg.Add(1)
	go func() {
		defer consumerWg.Done()
		for ir := range resultCh {
			results[ir.index] = ir.result
		}
	}()

	_ = g.Wait()
	close(resultCh)
	consumerWg.Wait()

	return results
}

func (e *Executor) dispatchSequential(ctx context.Context, calls []ToolCall, tctx Context) []ToolResult {
	results := make([]ToolResult, len(calls))
	var errs *multierror.Error
	for i, call := range calls {
		r := e.Execute(ctx, call, tctx)
		results[i] = r
		if r.IsError {
			errs = multierror.Append(errs, errors.Errorf("%s: %s", call.ToolName, r.Remediation))
		}
	}
	if errs != nil {
		logger.G(ctx).WithError(errs).Debug("sequential fallback completed with errors")
	}
	return results
}

func allOverloaded(results []ToolResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.IsError || !r.Category.overload() {
			return false
		}
	}
	return true
}

func validateInput(tool Tool, input []byte) error {
	if len(input) == 0 {
		return errors.New("empty tool input")
	}
	// Only empty input is rejected here; no JSON-schema validation against
	// InputSchema() is done before dispatch. Each Tool's Execute decodes the
	// input into its typed input struct with encoding/json, which rejects
	// malformed JSON and mismatched types but ignores unknown fields and
	// does not check required fields.
	return nil
}
