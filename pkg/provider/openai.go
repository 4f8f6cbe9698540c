package provider

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/laceai/lace/pkg/logger"
)

// openaiModels is a static catalog of reasoning and non-reasoning models,
// collapsed into ModelDescriptors.
var openaiModels = []ModelDescriptor{
	{ID: "gpt-4.1", ContextWindow: 1_047_576, MaxOutputTokens: 32_768},
	{ID: "gpt-4.1-mini", ContextWindow: 1_047_576, MaxOutputTokens: 32_768},
	{ID: "o3", ContextWindow: 200_000, MaxOutputTokens: 100_000},
	{ID: "o4-mini", ContextWindow: 200_000, MaxOutputTokens: 100_000},
}

// reasoningModelPrefixes marks models that take ReasoningEffort instead of
// MaxTokens.
var reasoningModelPrefixes = []string{"o1", "o3", "o4"}

func isReasoningModel(model string) bool {
	for _, p := range reasoningModelPrefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// OpenAIConfig configures the OpenAI provider adapter.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // set for OpenAI-compatible endpoints
}

// OpenAI wraps sashabaranov/go-openai as a provider.Provider, using the
// Chat Completions path (the Responses API variant is not implemented;
// chat-completions covers every operation Provider names).
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI constructs an OpenAI provider.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientCfg)}
}

// Name implements Provider.
func (o *OpenAI) Name() string { return "openai" }

// ListModels implements Provider.
func (o *OpenAI) ListModels(_ context.Context) ([]ModelDescriptor, error) {
	return openaiModels, nil
}

// buildOpenAIRequest converts a provider.Request into the SDK's own request
// shape.
func buildOpenAIRequest(req Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, toOpenAIMessages(req.Messages)...)

	out := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if isReasoningModel(req.Model) {
		out.ReasoningEffort = "medium"
	} else {
		out.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		out.Tools = toOpenAITools(req.Tools)
		out.ToolChoice = "auto"
	}
	return out
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			out = append(out, msg)
		case RoleTool:
			if m.ToolResult == nil {
				continue
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.ToolResult.Content,
				ToolCallID: m.ToolResult.CallID,
			})
		case RoleSystem:
			// folded into the leading system message by buildOpenAIRequest
		}
	}
	return out
}

// toOpenAITools converts ToolDescriptors into the SDK's function-tool shape.
func toOpenAITools(tools []ToolDescriptor) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]interface{}
		if len(t.InputSchema) > 0 {
			_ = json.Unmarshal(t.InputSchema, &schema)
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

func fromOpenAIResponse(resp openai.ChatCompletionResponse) (Response, error) {
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("provider/openai: no response choices returned")
	}
	choice := resp.Choices[0]
	out := Response{
		Content:    choice.Message.Content,
		StopReason: normalizeOpenAIFinishReason(choice.FinishReason),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			CallID: tc.ID,
			Name:   tc.Function.Name,
			Input:  []byte(tc.Function.Arguments),
		})
	}
	if len(out.ToolCalls) > 0 {
		out.StopReason = StopToolUse
	}
	return out, nil
}

func normalizeOpenAIFinishReason(reason openai.FinishReason) StopReason {
	switch reason {
	case openai.FinishReasonLength:
		return StopMaxTokens
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return StopToolUse
	case openai.FinishReasonStop:
		return StopEndTurn
	default:
		return NormalizeStopReason(string(reason))
	}
}

// Chat implements Provider with a single non-streaming call.
func (o *OpenAI) Chat(ctx context.Context, req Request) (Response, error) {
	resp, err := o.client.CreateChatCompletion(ctx, buildOpenAIRequest(req))
	if err != nil {
		return Response{}, errors.Wrap(err, "provider/openai: chat")
	}
	return fromOpenAIResponse(resp)
}

// ChatStream implements Provider, accumulating tool-call deltas by index
// as the SDK streams them in.
func (o *OpenAI) ChatStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	request := buildOpenAIRequest(req)
	request.Stream = true
	request.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := o.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return nil, errors.Wrap(err, "provider/openai: starting stream")
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		defer stream.Close()

		var toolCalls []openai.ToolCall
		var usage openai.Usage
		var finishReason openai.FinishReason

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				logger.G(ctx).WithError(err).Error("provider/openai: streaming chat")
				return
			}
			if resp.Usage != nil {
				usage = *resp.Usage
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content != "" {
					events <- StreamEvent{Kind: StreamTokenDelta, Token: choice.Delta.Content}
				}
				for _, tc := range choice.Delta.ToolCalls {
					if tc.Index == nil {
						continue
					}
					idx := *tc.Index
					for len(toolCalls) <= idx {
						toolCalls = append(toolCalls, openai.ToolCall{})
					}
					if tc.ID != "" {
						toolCalls[idx].ID = tc.ID
					}
					if tc.Function.Name != "" {
						toolCalls[idx].Function.Name = tc.Function.Name
					}
					if tc.Function.Arguments != "" {
						toolCalls[idx].Function.Arguments += tc.Function.Arguments
					}
				}
				if choice.FinishReason != "" {
					finishReason = choice.FinishReason
				}
			}
		}

		final := Response{
			StopReason: normalizeOpenAIFinishReason(finishReason),
			Usage:      Usage{InputTokens: usage.PromptTokens, OutputTokens: usage.CompletionTokens},
		}
		for _, tc := range toolCalls {
			final.ToolCalls = append(final.ToolCalls, ToolCall{
				CallID: tc.ID,
				Name:   tc.Function.Name,
				Input:  []byte(tc.Function.Arguments),
			})
		}
		if len(final.ToolCalls) > 0 {
			final.StopReason = StopToolUse
		}
		events <- StreamEvent{Kind: StreamFinal, StopReason: final.StopReason, Usage: final.Usage, ToolCalls: final.ToolCalls}
	}()
	return events, nil
}
