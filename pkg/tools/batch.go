package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/laceai/lace/pkg/toolexec"
)

// BatchTool dispatches several independent tool invocations concurrently.
// Nested batch invocations are rejected.
type BatchTool struct {
	registry *toolexec.Registry
}

// NewBatchTool constructs a BatchTool that dispatches through registry.
func NewBatchTool(registry *toolexec.Registry) *BatchTool {
	return &BatchTool{registry: registry}
}

// BatchInvocation is one tool call within a batch.
type BatchInvocation struct {
	ToolName   string          `json:"tool_name" jsonschema:"description=The name of the tool to invoke,required"`
	Parameters json.RawMessage `json:"parameters" jsonschema:"description=The parameters to pass to the tool,required"`
}

// BatchInput is the tool's JSON input shape.
type BatchInput struct {
	Description string            `json:"description" jsonschema:"description=A description of the batch operation in less than 10 words,required"`
	Invocations []BatchInvocation `json:"invocations" jsonschema:"description=The independent tool invocations to run,required"`
}

func (t *BatchTool) Name() string { return "batch" }

func (t *BatchTool) Description() string {
	return `Run several independent tool invocations concurrently, to cut down the
back-and-forth between turns.

Use this when you have a list of INDEPENDENT tool calls to make - e.g.
"git status" and "git diff" together. Do NOT use this when one call
depends on the output of another call in the same batch. Nesting a batch
invocation inside another batch is rejected. Results are returned in the
same order as the invocations.`
}

func (t *BatchTool) InputSchema() *jsonschema.Schema {
	return toolexec.GenerateSchema[BatchInput]()
}

func (t *BatchTool) RequiresApproval() bool { return true }

func (t *BatchTool) Execute(ctx context.Context, tctx toolexec.Context, raw json.RawMessage) (toolexec.ToolResult, error) {
	var input BatchInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return toolexec.ErrorResult(toolexec.CategoryValidation, "invalid batch input: "+err.Error()), nil
	}
	for _, inv := range input.Invocations {
		if inv.ToolName == t.Name() {
			return toolexec.ErrorResult(toolexec.CategoryValidation, "nested batch invocation is not allowed"), nil
		}
	}

	results := make([]toolexec.ToolResult, len(input.Invocations))
	var wg sync.WaitGroup
	wg.Add(len(input.Invocations))
	for i, inv := range input.Invocations {
		go func(i int, inv BatchInvocation) {
			defer wg.Done()
			results[i] = t.invoke(ctx, tctx, inv)
		}(i, inv)
	}
	wg.Wait()

	var content strings.Builder
	anyError := false
	for i, r := range results {
		fmt.Fprintf(&content, "<invocation.%d.result>\n%s\n</invocation.%d.result>\n", i, r.Content, i)
		if r.IsError {
			anyError = true
		}
	}

	result := toolexec.ToolResult{
		Content: content.String(),
		IsError: anyError,
		Metadata: map[string]interface{}{
			"description": input.Description,
			"count":       len(results),
		},
	}
	if anyError {
		result.Category = toolexec.CategoryUnknown
	}
	return result, nil
}

func (t *BatchTool) invoke(ctx context.Context, tctx toolexec.Context, inv BatchInvocation) toolexec.ToolResult {
	tool, err := t.registry.Lookup(inv.ToolName)
	if err != nil {
		return toolexec.ErrorResult(toolexec.CategoryValidation, err.Error())
	}
	result, err := tool.Execute(ctx, tctx, inv.Parameters)
	if err != nil {
		return toolexec.ErrorResult(toolexec.CategoryUnknown, err.Error())
	}
	return result
}
