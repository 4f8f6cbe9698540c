package provider

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/logger"
)

// anthropicModels is a static catalog of context/output limits; ListModels
// returns it without calling the API.
var anthropicModels = []ModelDescriptor{
	{ID: string(anthropic.ModelClaudeOpus4_5_20251101), ContextWindow: 200_000, MaxOutputTokens: 32_000},
	{ID: string(anthropic.ModelClaudeSonnet4_5_20250929), ContextWindow: 200_000, MaxOutputTokens: 64_000},
	{ID: string(anthropic.ModelClaudeSonnet4_20250514), ContextWindow: 200_000, MaxOutputTokens: 64_000},
	{ID: string(anthropic.ModelClaudeOpus4_1_20250805), ContextWindow: 200_000, MaxOutputTokens: 32_000},
	{ID: string(anthropic.ModelClaude3_5HaikuLatest), ContextWindow: 200_000, MaxOutputTokens: 8_192},
}

// AnthropicConfig configures the Anthropic provider adapter.
type AnthropicConfig struct {
	APIKey  string // empty uses ANTHROPIC_API_KEY, per the SDK's own default resolution
	BaseURL string
}

// Anthropic wraps anthropic-sdk-go as a provider.Provider.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic constructs an Anthropic provider. Authentication mirrors the
// SDK's own defaults (ANTHROPIC_API_KEY) unless cfg.APIKey is set.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{client: anthropic.NewClient(opts...)}
}

// Name implements Provider.
func (a *Anthropic) Name() string { return "anthropic" }

// ListModels implements Provider.
func (a *Anthropic) ListModels(_ context.Context) ([]ModelDescriptor, error) {
	return anthropicModels, nil
}

// buildParams converts a provider.Request into the SDK's own message shape:
// a system block, the folded message history, and the tool catalog.
func buildParams(req Request) (anthropic.MessageNewParams, error) {
	messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		MaxTokens: int64(req.MaxTokens),
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		Tools:     toAnthropicTools(req.Tools),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params, nil
}

// toAnthropicMessages folds provider.Message history into SDK message
// params. Tool calls on an assistant message become tool_use blocks; each
// ToolResultMessage becomes its own tool_result block, since buildMessages
// in pkg/agent pairs one TOOL_RESULT event to one message.
func toAnthropicMessages(messages []Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if len(tc.Input) > 0 {
					if err := json.Unmarshal(tc.Input, &input); err != nil {
						return nil, errors.Wrapf(err, "provider/anthropic: decoding tool call %s input", tc.CallID)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.CallID, tc.Name, input))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case RoleTool:
			if m.ToolResult == nil {
				continue
			}
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolResult.CallID, m.ToolResult.Content, m.ToolResult.IsError),
			))
		case RoleSystem:
			// folded into params.System by the caller, never into Messages
		}
	}
	return out, nil
}

// toAnthropicTools converts ToolDescriptors into the SDK's tool params.
func toAnthropicTools(tools []ToolDescriptor) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.InputSchema) > 0 {
			_ = json.Unmarshal(t.InputSchema, &schema)
		}
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		}
	}
	return out
}

// fromAnthropicMessage converts an SDK response into a provider.Response,
// dispatching each content block (text/thinking/tool_use) via
// block.AsAny().
func fromAnthropicMessage(msg *anthropic.Message) Response {
	var resp Response
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += variant.Text
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				CallID: variant.ID,
				Name:   variant.Name,
				Input:  []byte(variant.JSON.Input.Raw()),
			})
		}
	}
	resp.StopReason = NormalizeStopReason(string(msg.StopReason))
	resp.Usage = Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	return resp
}

// Chat implements Provider with a single non-streaming call.
func (a *Anthropic) Chat(ctx context.Context, req Request) (Response, error) {
	params, err := buildParams(req)
	if err != nil {
		return Response{}, err
	}
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, errors.Wrap(err, "provider/anthropic: chat")
	}
	return fromAnthropicMessage(msg), nil
}

// ChatStream implements Provider by accumulating stream events with
// message.Accumulate and forwarding token deltas before emitting the
// final response.
func (a *Anthropic) ChatStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)

		stream := a.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		message := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				logger.G(ctx).WithError(err).Error("provider/anthropic: accumulating stream event")
				continue
			}
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if textDelta, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && textDelta.Text != "" {
					events <- StreamEvent{Kind: StreamTokenDelta, Token: textDelta.Text}
				}
			}
		}
		if err := stream.Err(); err != nil {
			logger.G(ctx).WithError(err).Error("provider/anthropic: streaming chat")
			return
		}

		final := fromAnthropicMessage(&message)
		events <- StreamEvent{
			Kind:       StreamFinal,
			StopReason: final.StopReason,
			Usage:      final.Usage,
			ToolCalls:  final.ToolCalls,
		}
	}()
	return events, nil
}
