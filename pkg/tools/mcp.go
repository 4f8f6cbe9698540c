package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/logger"
	"github.com/laceai/lace/pkg/toolexec"
	"github.com/laceai/lace/pkg/version"
)

// MCPServerType selects the transport an external MCP server is reached
// over.
type MCPServerType string

const (
	MCPServerTypeStdio MCPServerType = "stdio"
	MCPServerTypeSSE   MCPServerType = "sse"
)

// MCPServerConfig describes one external MCP server.
type MCPServerConfig struct {
	ServerType    MCPServerType     `mapstructure:"server_type"`
	Command       string            `mapstructure:"command"`
	Args          []string          `mapstructure:"args"`
	Envs          map[string]string `mapstructure:"envs"`
	BaseURL       string            `mapstructure:"base_url"`
	Headers       map[string]string `mapstructure:"headers"`
	ToolWhiteList []string          `mapstructure:"tool_white_list"`
}

func newMCPClient(cfg MCPServerConfig) (*client.Client, error) {
	if cfg.ServerType == "" {
		switch {
		case cfg.BaseURL != "":
			cfg.ServerType = MCPServerTypeSSE
		case cfg.Command != "":
			cfg.ServerType = MCPServerTypeStdio
		default:
			return nil, errors.New("mcp server config needs either command or base_url")
		}
	}

	switch cfg.ServerType {
	case MCPServerTypeStdio:
		if cfg.Command == "" {
			return nil, errors.New("command is required for a stdio mcp server")
		}
		envArgs := make([]string, 0, len(cfg.Envs))
		for k, v := range cfg.Envs {
			envArgs = append(envArgs, fmt.Sprintf("%s=%s", k, v))
		}
		return client.NewClient(transport.NewStdio(cfg.Command, envArgs, cfg.Args...)), nil
	case MCPServerTypeSSE:
		if cfg.BaseURL == "" {
			return nil, errors.New("base_url is required for an sse mcp server")
		}
		tp, err := transport.NewSSE(cfg.BaseURL, transport.WithHeaders(cfg.Headers))
		if err != nil {
			return nil, errors.Wrap(err, "constructing sse transport")
		}
		return client.NewClient(tp), nil
	default:
		return nil, errors.Errorf("unknown mcp server type: %s", cfg.ServerType)
	}
}

// MCPManager owns one client per configured external MCP server and turns
// their advertised tools into toolexec.Tool implementations the registry
// can dispatch through exactly like a built-in tool.
type MCPManager struct {
	clients   map[string]*client.Client
	whiteList map[string][]string
}

// NewMCPManager constructs a client for every server in servers without
// connecting to any of them; call Initialize before ListTools.
func NewMCPManager(servers map[string]MCPServerConfig) (*MCPManager, error) {
	m := &MCPManager{
		clients:   make(map[string]*client.Client, len(servers)),
		whiteList: make(map[string][]string, len(servers)),
	}
	for name, cfg := range servers {
		c, err := newMCPClient(cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "configuring mcp server %q", name)
		}
		m.clients[name] = c
		m.whiteList[name] = cfg.ToolWhiteList
	}
	return m, nil
}

// Initialize starts and handshakes every configured client concurrently.
func (m *MCPManager) Initialize(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(m.clients))
	i := 0
	for name, c := range m.clients {
		name, c, idx := name, c, i
		i++
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Start(ctx); err != nil {
				errs[idx] = errors.Wrapf(err, "starting mcp server %q", name)
				return
			}
			req := mcp.InitializeRequest{}
			req.Params.ClientInfo = mcp.Implementation{Name: "lace", Version: version.Version}
			req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
			if _, err := c.Initialize(ctx, req); err != nil {
				errs[idx] = errors.Wrapf(err, "initializing mcp server %q", name)
			}
		}()
	}
	wg.Wait()

	var first error
	for _, err := range errs {
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close shuts down every configured client, logging rather than failing on
// a single server's close error so the others still get a chance to close.
func (m *MCPManager) Close(ctx context.Context) {
	for name, c := range m.clients {
		if err := c.Close(); err != nil {
			logger.G(ctx).WithField("server", name).WithField("error", err).Warn("failed to close mcp client")
		}
	}
}

// ListTools queries every configured server concurrently and returns every
// whitelisted tool as a toolexec.Tool, ready for registry.Register.
func (m *MCPManager) ListTools(ctx context.Context) ([]toolexec.Tool, error) {
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		tools []toolexec.Tool
		errs  []error
	)
	wg.Add(len(m.clients))
	for name, c := range m.clients {
		name, c := name, c
		go func() {
			defer wg.Done()
			result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
			if err != nil {
				mu.Lock()
				errs = append(errs, errors.Wrapf(err, "listing tools on mcp server %q", name))
				mu.Unlock()
				return
			}
			whitelist := m.whiteList[name]
			mu.Lock()
			for _, t := range result.Tools {
				if len(whitelist) == 0 || containsString(whitelist, t.Name) {
					tools = append(tools, newMCPTool(name, c, t))
				}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(errs) > 0 {
		return tools, errs[0]
	}
	return tools, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// mcpTool adapts one tool advertised by an external MCP server to
// toolexec.Tool.
type mcpTool struct {
	serverName  string
	client      *client.Client
	name        string
	description string
	inputSchema mcp.ToolInputSchema
}

func newMCPTool(serverName string, c *client.Client, t mcp.Tool) *mcpTool {
	return &mcpTool{
		serverName:  serverName,
		client:      c,
		name:        t.Name,
		description: t.Description,
		inputSchema: t.InputSchema,
	}
}

// Name is prefixed with the originating server so identically-named tools
// from two servers never collide in the registry.
func (t *mcpTool) Name() string { return fmt.Sprintf("mcp_%s_%s", t.serverName, t.name) }

func (t *mcpTool) Description() string { return t.description }

// InputSchema re-marshals the server's advertised JSON schema into the
// invopop/jsonschema shape the rest of the Tool Executor uses uniformly,
// since an external server's schema is opaque to the core beyond its wire
// JSON representation.
func (t *mcpTool) InputSchema() *jsonschema.Schema {
	b, err := t.inputSchema.MarshalJSON()
	if err != nil {
		return &jsonschema.Schema{}
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(b, &schema); err != nil {
		return &jsonschema.Schema{}
	}
	return &schema
}

// RequiresApproval is always true: the core has no way to judge the
// side-effect surface of an externally-defined tool, so it always gates
// through the ApprovalPolicy.
func (t *mcpTool) RequiresApproval() bool { return true }

func (t *mcpTool) Execute(ctx context.Context, _ toolexec.Context, raw json.RawMessage) (toolexec.ToolResult, error) {
	var input map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &input); err != nil {
			return toolexec.ErrorResult(toolexec.CategoryValidation, "invalid mcp tool input: "+err.Error()), nil
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.name
	req.Params.Arguments = input

	start := time.Now()
	result, err := t.client.CallTool(ctx, req)
	if err != nil {
		return toolexec.ErrorResult(toolexec.CategoryUnknown, err.Error()), nil
	}

	var content string
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			content += tc.Text
		} else {
			content += fmt.Sprintf("%v", c)
		}
	}
	logger.G(ctx).WithField("tool", t.Name()).WithField("duration", time.Since(start)).Debug("mcp tool call complete")

	return toolexec.ToolResult{Content: content, IsError: result.IsError}, nil
}
