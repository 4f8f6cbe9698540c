package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laceai/lace/pkg/toolexec"
)

func TestAutoApprove_AlwaysApproves(t *testing.T) {
	p := AutoApprove{}
	approved, err := p.RequestApproval(context.Background(), toolexec.ToolCall{ToolName: "bash"}, toolexec.Context{})
	require.NoError(t, err)
	assert.True(t, approved)
}

func TestInteractivePolicy_DelegatesToCallback(t *testing.T) {
	var seen toolexec.ToolCall
	p := NewInteractivePolicy(func(ctx context.Context, call toolexec.ToolCall, tctx toolexec.Context) (bool, error) {
		seen = call
		return call.ToolName == "file_read", nil
	})

	approved, err := p.RequestApproval(context.Background(), toolexec.ToolCall{ToolName: "file_read"}, toolexec.Context{})
	require.NoError(t, err)
	assert.True(t, approved)
	assert.Equal(t, "file_read", seen.ToolName)

	denied, err := p.RequestApproval(context.Background(), toolexec.ToolCall{ToolName: "bash"}, toolexec.Context{})
	require.NoError(t, err)
	assert.False(t, denied)
}

func TestInteractivePolicy_NilCallbackDenies(t *testing.T) {
	p := NewInteractivePolicy(nil)
	approved, err := p.RequestApproval(context.Background(), toolexec.ToolCall{}, toolexec.Context{})
	require.NoError(t, err)
	assert.False(t, approved)
}
