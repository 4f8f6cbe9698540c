// Package toolexec implements the Tool Executor (C5): a policy-checked,
// approval-gated, concurrency-limited dispatcher with retry, circuit
// breaking, and graceful degradation.
package toolexec

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// ErrorCategory is the taxonomy carried on a failed ToolResult: a string
// tag, not a parallel Go error hierarchy, so it stays easy to serialize
// into the Activity Log and compare across process boundaries.
type ErrorCategory string

const (
	CategoryRateLimit  ErrorCategory = "rate_limit"
	CategoryNetwork    ErrorCategory = "network"
	CategoryTimeout    ErrorCategory = "timeout"
	CategoryValidation ErrorCategory = "validation"
	CategoryPermission ErrorCategory = "permission"
	CategoryAuth       ErrorCategory = "auth"
	CategoryCancelled  ErrorCategory = "cancelled"
	CategoryCircuit    ErrorCategory = "circuit_broken"
	CategoryUnknown    ErrorCategory = "unknown"
)

// retriable reports whether a category is one the executor's retry loop
// should attempt again: network, rate_limit, and timeout are retriable;
// validation, auth, and permission-denied are not.
func (c ErrorCategory) retriable() bool {
	switch c {
	case CategoryNetwork, CategoryRateLimit, CategoryTimeout:
		return true
	default:
		return false
	}
}

// overload reports whether a category should trigger graceful degradation
// (sequential fallback) when an entire batch fails with it.
func (c ErrorCategory) overload() bool {
	return c == CategoryRateLimit || c == CategoryNetwork
}

// Context is the per-call environment: everything a Tool needs beyond its
// typed input. Cancellation is carried by ctx itself rather than a
// separate field, since Go's context.Context already composes deadline +
// cancellation + values.
type Context struct {
	ThreadID         string
	SessionID        string
	AgentName        string
	WorkingDirectory string
	ProcessEnv       map[string]string
	// Container is an opaque container-runtime handle, present only when
	// the host process enables sandboxing; the core never inspects it.
	Container interface{}
}

// ToolResult is the outcome of executing one tool call.
type ToolResult struct {
	Content  string
	IsError  bool
	Metadata map[string]interface{}

	// Category and RetryAfter are populated only when IsError is true, so
	// callers get an actionable description of what went wrong.
	Category    ErrorCategory
	Remediation string
	RetryAfter  *int // seconds; nil if no specific backoff is suggested
}

// Tool is the external-collaborator contract every registered tool
// implements.
type Tool interface {
	Name() string
	Description() string
	InputSchema() *jsonschema.Schema
	// RequiresApproval reports whether the Tool Executor must consult the
	// ApprovalPolicy before dispatching this tool. The read-only built-ins
	// (file_read, grep, glob) return false; tools with side effects return
	// true.
	RequiresApproval() bool
	Execute(ctx context.Context, tctx Context, input json.RawMessage) (ToolResult, error)
}

// ToolCall is the Agent Runtime's request to dispatch one tool invocation.
type ToolCall struct {
	CallID   string
	ToolName string
	Input    json.RawMessage
}

// ApprovalPolicy is a policy the Tool Executor applies via an injected
// capability. Infrastructure-level tools bypass it by construction
// (RequiresApproval returns false); session-level tools always consult it.
type ApprovalPolicy interface {
	RequestApproval(ctx context.Context, call ToolCall, tctx Context) (approved bool, err error)
}

// ErrorResult builds an isError ToolResult with the given category and a
// human-actionable remediation string.
func ErrorResult(category ErrorCategory, remediation string) ToolResult {
	return ToolResult{IsError: true, Category: category, Remediation: remediation, Content: remediation}
}
