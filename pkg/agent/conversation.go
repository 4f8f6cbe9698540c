package agent

import (
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/laceai/lace/pkg/budget"
	"github.com/laceai/lace/pkg/provider"
	"github.com/laceai/lace/pkg/thread"
	"github.com/laceai/lace/pkg/toolexec"
)

// resultPayload wraps a tool's textual content as the JSON string a
// TOOL_RESULT event's result field expects.
func resultPayload(content string) json.RawMessage {
	b, err := json.Marshal(content)
	if err != nil {
		// content is always a plain string; Marshal cannot fail on it.
		return json.RawMessage(`""`)
	}
	return b
}

// buildMessages folds a thread's events into provider messages: the system
// message is supplied separately by the caller, tool calls and results are
// paired, and any call or result whose counterpart never arrived (orphaned
// by a cancelled turn or a compaction boundary) is dropped from the
// outgoing request while remaining in the event log.
func buildMessages(events []thread.Event) []provider.Message {
	resultByCallID := make(map[string]thread.ToolResultData)
	for _, e := range events {
		if e.Type != thread.EventToolResult {
			continue
		}
		if d, err := e.DecodeToolResult(); err == nil {
			resultByCallID[d.CallID] = d
		}
	}

	callByID := make(map[string]thread.ToolCallData)
	for _, e := range events {
		if e.Type != thread.EventToolCall {
			continue
		}
		if d, err := e.DecodeToolCall(); err == nil {
			callByID[d.CallID] = d
		}
	}

	var out []provider.Message
	emittedCalls := make(map[string]bool)

	for _, e := range events {
		switch e.Type {
		case thread.EventUserMessage:
			d, err := e.DecodeUserMessage()
			if err != nil {
				continue
			}
			out = append(out, provider.Message{Role: provider.RoleUser, Content: d.Content})

		case thread.EventAgentMessage:
			d, err := e.DecodeAgentMessage()
			if err != nil {
				continue
			}
			out = append(out, provider.Message{Role: provider.RoleAssistant, Content: d.Content})

		case thread.EventToolCall:
			d, err := e.DecodeToolCall()
			if err != nil {
				continue
			}
			if _, hasResult := resultByCallID[d.CallID]; !hasResult {
				continue // orphaned call: drop from outgoing request, keep in log
			}
			if emittedCalls[d.CallID] {
				continue
			}
			emittedCalls[d.CallID] = true
			out = append(out, provider.Message{
				Role:      provider.RoleAssistant,
				ToolCalls: []provider.ToolCall{{CallID: d.CallID, Name: d.ToolName, Input: d.Input}},
			})

		case thread.EventToolResult:
			d, err := e.DecodeToolResult()
			if err != nil {
				continue
			}
			if _, hasCall := callByID[d.CallID]; !hasCall {
				continue // orphaned result: drop from outgoing request, keep in log
			}
			out = append(out, provider.Message{
				Role:    provider.RoleTool,
				Content: string(d.Result),
				ToolResult: &provider.ToolResultMessage{
					CallID:  d.CallID,
					Content: string(d.Result),
					IsError: d.IsError,
				},
			})

		case thread.EventLocalSystem:
			d, err := e.DecodeLocalSystemMessage()
			if err != nil {
				continue
			}
			out = append(out, provider.Message{Role: provider.RoleSystem, Content: d.Message})

		case thread.EventCompactionSummary:
			d, err := e.DecodeCompactionSummary()
			if err != nil {
				continue
			}
			out = append(out, provider.Message{Role: provider.RoleSystem, Content: "prior context summary: " + d.Summary})

		case thread.EventAgentToken, thread.EventThinking:
			// Observable-only / transient; never folded into the outgoing
			// request.
		}
	}

	return out
}

// schemaCache holds one compiled jsonschema.Schema per tool name, since a
// registry's tool set and their schemas don't change mid-process.
var schemaCache sync.Map

func compileToolSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(name); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	schemaCache.Store(name, compiled)
	return compiled, nil
}

// filterCompleteToolCalls drops any tool call that a max_tokens stop may
// have cut off mid-generation: arguments that aren't valid JSON at all
// (truncated mid-token), and arguments that parse but fail the named
// tool's declared input schema (truncated mid-field, leaving required
// properties missing). A call for a tool the registry doesn't know is left
// as-is; the Tool Executor will reject it on its own terms.
func filterCompleteToolCalls(calls []provider.ToolCall, registry *toolexec.Registry) []provider.ToolCall {
	out := make([]provider.ToolCall, 0, len(calls))
	for _, c := range calls {
		if len(c.Input) == 0 || !json.Valid(c.Input) {
			continue
		}

		if registry != nil {
			if tool, err := registry.Lookup(c.Name); err == nil {
				raw, err := json.Marshal(tool.InputSchema())
				if err != nil {
					out = append(out, c)
					continue
				}
				schema, err := compileToolSchema(c.Name, raw)
				if err != nil {
					out = append(out, c)
					continue
				}
				var decoded interface{}
				if err := json.Unmarshal(c.Input, &decoded); err != nil {
					continue
				}
				if err := schema.Validate(decoded); err != nil {
					continue
				}
			}
		}

		out = append(out, c)
	}
	return out
}

// toBudgetMessages projects folded provider messages into the minimal
// shape pkg/budget needs to estimate a request's token footprint.
func toBudgetMessages(events []thread.Event) []budget.Message {
	msgs := buildMessages(events)
	out := make([]budget.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, budget.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
