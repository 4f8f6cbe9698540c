// Package approval implements the ApprovalPolicy capability: a policy the
// Tool Executor consults before dispatching any tool that declares
// RequiresApproval. It ships two concrete policies: an auto-approver for
// tests and delegate agents, and an interactive one backed by a callback.
package approval

import (
	"context"

	"github.com/laceai/lace/pkg/toolexec"
)

// AutoApprove approves every call unconditionally. Used by tests and by
// ephemeral delegate agents that should never block on a human.
type AutoApprove struct{}

// RequestApproval always approves.
func (AutoApprove) RequestApproval(ctx context.Context, call toolexec.ToolCall, tctx toolexec.Context) (bool, error) {
	return true, nil
}

// Callback is the shape of the CLI's actual interactive prompt: given a
// pending call and its context, return whether the user approved it.
type Callback func(ctx context.Context, call toolexec.ToolCall, tctx toolexec.Context) (bool, error)

// InteractivePolicy defers every decision to an injected Callback: the
// CLI's real prompt implementation, kept out of this package since it
// renders to a terminal.
type InteractivePolicy struct {
	Callback Callback
}

// NewInteractivePolicy constructs a policy that defers to cb.
func NewInteractivePolicy(cb Callback) *InteractivePolicy {
	return &InteractivePolicy{Callback: cb}
}

// RequestApproval delegates to the configured Callback.
func (p *InteractivePolicy) RequestApproval(ctx context.Context, call toolexec.ToolCall, tctx toolexec.Context) (bool, error) {
	if p.Callback == nil {
		return false, nil
	}
	return p.Callback(ctx, call, tctx)
}
