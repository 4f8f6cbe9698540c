// Package thread implements the Thread Store (C2): an in-memory cache over
// the Persistence layer (pkg/store) that resolves canonical thread ids to
// their current physical version transparently.
package thread

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// EventType is the discriminant of a ThreadEvent's typed payload.
type EventType string

const (
	EventUserMessage       EventType = "USER_MESSAGE"
	EventAgentMessage      EventType = "AGENT_MESSAGE"
	EventAgentToken        EventType = "AGENT_TOKEN"
	EventToolCall          EventType = "TOOL_CALL"
	EventToolResult        EventType = "TOOL_RESULT"
	EventThinking          EventType = "THINKING"
	EventLocalSystem       EventType = "LOCAL_SYSTEM_MESSAGE"
	EventCompactionSummary EventType = "COMPACTION_SUMMARY"
)

// ThinkingStatus is the payload discriminant for EventThinking.
type ThinkingStatus string

const (
	ThinkingStart    ThinkingStatus = "start"
	ThinkingComplete ThinkingStatus = "complete"
)

// Event is the in-memory, typed view of a persisted store.Event: the same
// envelope (id, threadId, seq, type, timestamp) plus a JSON payload decoded
// on demand by the typed accessors below.
type Event struct {
	ID        string
	ThreadID  string
	Seq       int64
	Type      EventType
	Data      json.RawMessage
	Timestamp time.Time
}

// UserMessageData is the payload of EventUserMessage.
type UserMessageData struct {
	Content string `json:"content"`
}

// AgentMessageData is the payload of EventAgentMessage.
type AgentMessageData struct {
	Content string `json:"content"`
}

// AgentTokenData is the payload of EventAgentToken (observable only; not
// required to be persisted).
type AgentTokenData struct {
	Token string `json:"token"`
}

// ToolCallData is the payload of EventToolCall.
type ToolCallData struct {
	ToolName string          `json:"toolName"`
	CallID   string          `json:"callId"`
	Input    json.RawMessage `json:"input"`
}

// ToolResultData is the payload of EventToolResult.
type ToolResultData struct {
	CallID   string          `json:"callId"`
	ToolName string          `json:"toolName"`
	Result   json.RawMessage `json:"result"`
	IsError  bool            `json:"isError"`
}

// ThinkingData is the payload of EventThinking.
type ThinkingData struct {
	Status ThinkingStatus `json:"status"`
}

// LocalSystemMessageData is the payload of EventLocalSystem.
type LocalSystemMessageData struct {
	Message string `json:"message"`
}

// CompactionSummaryData is the payload of EventCompactionSummary.
type CompactionSummaryData struct {
	Summary       string `json:"summary"`
	ReplacedRange [2]int `json:"replacedRange"`
}

// DecodeUserMessage unmarshals a USER_MESSAGE payload.
func (e Event) DecodeUserMessage() (UserMessageData, error) {
	var d UserMessageData
	return d, decode(e, EventUserMessage, &d)
}

// DecodeAgentMessage unmarshals an AGENT_MESSAGE payload.
func (e Event) DecodeAgentMessage() (AgentMessageData, error) {
	var d AgentMessageData
	return d, decode(e, EventAgentMessage, &d)
}

// DecodeToolCall unmarshals a TOOL_CALL payload.
func (e Event) DecodeToolCall() (ToolCallData, error) {
	var d ToolCallData
	return d, decode(e, EventToolCall, &d)
}

// DecodeToolResult unmarshals a TOOL_RESULT payload.
func (e Event) DecodeToolResult() (ToolResultData, error) {
	var d ToolResultData
	return d, decode(e, EventToolResult, &d)
}

// DecodeThinking unmarshals a THINKING payload.
func (e Event) DecodeThinking() (ThinkingData, error) {
	var d ThinkingData
	return d, decode(e, EventThinking, &d)
}

// DecodeLocalSystemMessage unmarshals a LOCAL_SYSTEM_MESSAGE payload.
func (e Event) DecodeLocalSystemMessage() (LocalSystemMessageData, error) {
	var d LocalSystemMessageData
	return d, decode(e, EventLocalSystem, &d)
}

// DecodeCompactionSummary unmarshals a COMPACTION_SUMMARY payload.
func (e Event) DecodeCompactionSummary() (CompactionSummaryData, error) {
	var d CompactionSummaryData
	return d, decode(e, EventCompactionSummary, &d)
}

func decode(e Event, want EventType, out interface{}) error {
	if e.Type != want {
		return errors.Errorf("thread: event %s is type %s, not %s", e.ID, e.Type, want)
	}
	return errors.Wrapf(json.Unmarshal(e.Data, out), "thread: decoding %s payload", want)
}

// NewUserMessage constructs the JSON payload for a USER_MESSAGE append.
func NewUserMessage(content string) json.RawMessage {
	return mustMarshal(UserMessageData{Content: content})
}

// NewAgentMessage constructs the JSON payload for an AGENT_MESSAGE append.
func NewAgentMessage(content string) json.RawMessage {
	return mustMarshal(AgentMessageData{Content: content})
}

// NewToolCall constructs the JSON payload for a TOOL_CALL append.
func NewToolCall(toolName, callID string, input json.RawMessage) json.RawMessage {
	return mustMarshal(ToolCallData{ToolName: toolName, CallID: callID, Input: input})
}

// NewToolResult constructs the JSON payload for a TOOL_RESULT append.
func NewToolResult(callID, toolName string, result json.RawMessage, isError bool) json.RawMessage {
	return mustMarshal(ToolResultData{CallID: callID, ToolName: toolName, Result: result, IsError: isError})
}

// NewThinking constructs the JSON payload for a THINKING append.
func NewThinking(status ThinkingStatus) json.RawMessage {
	return mustMarshal(ThinkingData{Status: status})
}

// NewLocalSystemMessage constructs the JSON payload for a
// LOCAL_SYSTEM_MESSAGE append.
func NewLocalSystemMessage(message string) json.RawMessage {
	return mustMarshal(LocalSystemMessageData{Message: message})
}

// NewCompactionSummary constructs the JSON payload for a
// COMPACTION_SUMMARY append.
func NewCompactionSummary(summary string, replacedRange [2]int) json.RawMessage {
	return mustMarshal(CompactionSummaryData{Summary: summary, ReplacedRange: replacedRange})
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Only hand-built structs of primitive fields reach here; a
		// marshal failure means a programming error, not a runtime one.
		panic(errors.Wrap(err, "thread: marshaling event payload"))
	}
	return b
}
