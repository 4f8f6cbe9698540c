package provider

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/laceai/lace/pkg/logger"
)

// googleModels is a static catalog of context windows for the Gemini
// family.
var googleModels = []ModelDescriptor{
	{ID: "gemini-2.5-pro", ContextWindow: 1_048_576, MaxOutputTokens: 65_536},
	{ID: "gemini-2.5-flash", ContextWindow: 1_048_576, MaxOutputTokens: 65_536},
}

// GoogleConfig configures the Google provider adapter. Backend selection
// precedence: explicit Backend, then GOOGLE_GENAI_USE_VERTEXAI, then
// presence of project/location vs. APIKey.
type GoogleConfig struct {
	Backend  string // "gemini" or "vertexai"; empty auto-detects
	APIKey   string
	Project  string
	Location string
}

func detectGoogleBackend(cfg GoogleConfig) string {
	if cfg.Backend != "" {
		return strings.ToLower(cfg.Backend)
	}
	if env := os.Getenv("GOOGLE_GENAI_USE_VERTEXAI"); env != "" {
		if env == "1" || strings.EqualFold(env, "true") {
			return "vertexai"
		}
		return "gemini"
	}
	if cfg.APIKey != "" {
		return "gemini"
	}
	if cfg.Project != "" || cfg.Location != "" {
		return "vertexai"
	}
	return "gemini"
}

// Google wraps google.golang.org/genai as a provider.Provider.
type Google struct {
	client *genai.Client
}

// NewGoogle constructs a Google provider for either the Gemini API or
// Vertex AI backend, selected by detectGoogleBackend.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	clientCfg := &genai.ClientConfig{}
	switch detectGoogleBackend(cfg) {
	case "vertexai":
		clientCfg.Backend = genai.BackendVertexAI
		clientCfg.Project = cfg.Project
		clientCfg.Location = cfg.Location
	default:
		clientCfg.Backend = genai.BackendGeminiAPI
		clientCfg.APIKey = cfg.APIKey
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, errors.Wrap(err, "provider/google: creating client")
	}
	return &Google{client: client}, nil
}

// Name implements Provider.
func (g *Google) Name() string { return "google" }

// ListModels implements Provider.
func (g *Google) ListModels(_ context.Context) ([]ModelDescriptor, error) {
	return googleModels, nil
}

// buildGooglePrompt converts folded provider messages into genai.Content: a
// leading system-as-user content block, then one content per message,
// folding tool calls into FunctionCall parts and tool results into a single
// FunctionResponse-bearing user content.
func buildGooglePrompt(req Request) []*genai.Content {
	var prompt []*genai.Content
	if req.System != "" {
		prompt = append(prompt, genai.NewContentFromParts(
			[]*genai.Part{genai.NewPartFromText(req.System)}, genai.RoleUser,
		))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleUser:
			prompt = append(prompt, genai.NewContentFromParts(
				[]*genai.Part{genai.NewPartFromText(m.Content)}, genai.RoleUser,
			))
		case RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if len(tc.Input) > 0 {
					_ = json.Unmarshal(tc.Input, &args)
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args}})
			}
			if len(parts) > 0 {
				prompt = append(prompt, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		case RoleTool:
			if m.ToolResult == nil {
				continue
			}
			prompt = append(prompt, genai.NewContentFromParts([]*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{
					Name: m.ToolResult.CallID,
					Response: map[string]any{
						"call_id": m.ToolResult.CallID,
						"result":  m.ToolResult.Content,
						"error":   m.ToolResult.IsError,
					},
				},
			}}, genai.RoleUser))
		case RoleSystem:
			// folded into the leading content block above
		}
	}
	return prompt
}

// toGoogleTools builds one genai.Tool grouping every function declaration.
func toGoogleTools(tools []ToolDescriptor) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var raw map[string]any
		if len(t.InputSchema) > 0 {
			_ = json.Unmarshal(t.InputSchema, &raw)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  jsonSchemaToGoogle(raw),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// jsonSchemaToGoogle converts a JSON-schema-shaped map into genai.Schema,
// since ToolDescriptor carries raw JSON (from invopop/jsonschema) rather
// than a genai.Schema value directly.
func jsonSchemaToGoogle(raw map[string]any) *genai.Schema {
	if raw == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	schema := &genai.Schema{Type: googleSchemaType(raw["type"])}
	if desc, ok := raw["description"].(string); ok {
		schema.Description = desc
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, propRaw := range props {
			if propMap, ok := propRaw.(map[string]any); ok {
				schema.Properties[name] = jsonSchemaToGoogle(propMap)
			}
		}
	}
	if req, ok := raw["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := raw["items"].(map[string]any); ok {
		schema.Items = jsonSchemaToGoogle(items)
	}
	return schema
}

func googleSchemaType(raw any) genai.Type {
	s, _ := raw.(string)
	switch strings.ToLower(s) {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// Chat implements Provider with a single non-streaming call.
func (g *Google) Chat(ctx context.Context, req Request) (Response, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
		Tools:           toGoogleTools(req.Tools),
	}
	prompt := buildGooglePrompt(req)

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, prompt, config)
	if err != nil {
		return Response{}, errors.Wrap(err, "provider/google: chat")
	}
	return fromGoogleResponse(resp), nil
}

func fromGoogleResponse(resp *genai.GenerateContentResponse) Response {
	var out Response
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			switch {
			case part.Text != "":
				out.Content += part.Text
			case part.FunctionCall != nil:
				args, _ := json.Marshal(part.FunctionCall.Args)
				out.ToolCalls = append(out.ToolCalls, ToolCall{
					CallID: part.FunctionCall.Name,
					Name:   part.FunctionCall.Name,
					Input:  args,
				})
			}
		}
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(out.ToolCalls) > 0 {
		out.StopReason = StopToolUse
	} else {
		out.StopReason = StopEndTurn
	}
	return out
}

// ChatStream implements Provider by iterating GenerateContentStream and
// forwarding text parts as token deltas.
func (g *Google) ChatStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
		Tools:           toGoogleTools(req.Tools),
	}
	prompt := buildGooglePrompt(req)

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)

		var final Response
		for chunk, err := range g.client.Models.GenerateContentStream(ctx, req.Model, prompt, config) {
			if err != nil {
				logger.G(ctx).WithError(err).Error("provider/google: streaming chat")
				return
			}
			if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
				continue
			}
			for _, part := range chunk.Candidates[0].Content.Parts {
				switch {
				case part.Text != "":
					final.Content += part.Text
					events <- StreamEvent{Kind: StreamTokenDelta, Token: part.Text}
				case part.FunctionCall != nil:
					args, _ := json.Marshal(part.FunctionCall.Args)
					final.ToolCalls = append(final.ToolCalls, ToolCall{
						CallID: part.FunctionCall.Name,
						Name:   part.FunctionCall.Name,
						Input:  args,
					})
				}
			}
			if chunk.UsageMetadata != nil {
				final.Usage = Usage{
					InputTokens:  int(chunk.UsageMetadata.PromptTokenCount),
					OutputTokens: int(chunk.UsageMetadata.CandidatesTokenCount),
				}
			}
		}

		if len(final.ToolCalls) > 0 {
			final.StopReason = StopToolUse
		} else {
			final.StopReason = StopEndTurn
		}
		events <- StreamEvent{Kind: StreamFinal, StopReason: final.StopReason, Usage: final.Usage, ToolCalls: final.ToolCalls}
	}()
	return events, nil
}
