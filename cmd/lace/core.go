package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/activity"
	"github.com/laceai/lace/pkg/agent"
	"github.com/laceai/lace/pkg/approval"
	"github.com/laceai/lace/pkg/budget"
	"github.com/laceai/lace/pkg/compaction"
	"github.com/laceai/lace/pkg/config"
	"github.com/laceai/lace/pkg/db"
	"github.com/laceai/lace/pkg/provider"
	"github.com/laceai/lace/pkg/queue"
	"github.com/laceai/lace/pkg/session"
	"github.com/laceai/lace/pkg/store"
	"github.com/laceai/lace/pkg/task"
	"github.com/laceai/lace/pkg/thread"
	"github.com/laceai/lace/pkg/tools"
	"github.com/laceai/lace/pkg/toolexec"
)

// core bundles every long-lived collaborator a CLI command needs, wired
// from Config.
type core struct {
	cfg      config.Config
	backing  *store.Store
	threads  *thread.Store
	sessions *session.Manager
	tasks    *task.Store
	acts     *activity.Log
	registry *toolexec.Registry
	executor *toolexec.Executor
	compactr compaction.Strategy
	prov     provider.Provider
}

// newCore opens the backing store and wires every collaborator a CLI
// command needs.
func newCore(ctx context.Context, cfg config.Config) (*core, error) {
	dbPath, err := db.DefaultDBPath()
	if err != nil {
		return nil, errors.Wrap(err, "resolving database path")
	}
	backing, err := store.Open(ctx, dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening store")
	}

	threads := thread.New(backing)
	sessions := session.New(threads, backing)
	taskStore := task.New(backing, session.AgentSpawner{Manager: sessions})
	acts := activity.New(256)

	registry := toolexec.NewRegistry()
	registry.Register(tools.NewBashTool(cfg.AllowedCommands))
	registry.Register(&tools.FileReadTool{})
	registry.Register(&tools.FileWriteTool{})
	registry.Register(&tools.FileEditTool{})
	registry.Register(&tools.FileMultiEditTool{})
	registry.Register(&tools.GrepTool{})
	registry.Register(&tools.GlobTool{})
	registry.Register(tools.NewBatchTool(registry))

	if len(cfg.MCPServers) > 0 {
		mcpManager, err := tools.NewMCPManager(cfg.MCPServers)
		if err != nil {
			backing.Close()
			return nil, errors.Wrap(err, "configuring mcp servers")
		}
		if err := mcpManager.Initialize(ctx); err != nil {
			backing.Close()
			return nil, errors.Wrap(err, "initializing mcp servers")
		}
		mcpTools, err := mcpManager.ListTools(ctx)
		if err != nil {
			backing.Close()
			return nil, errors.Wrap(err, "listing mcp tools")
		}
		for _, t := range mcpTools {
			registry.Register(t)
		}
	}

	executor := toolexec.NewExecutor(registry, approval.AutoApprove{}, cfg.ToolexecExecutor())

	compactr := compaction.NewSummarize(compaction.Config{
		MaxTokens:            cfg.Budget.WindowTokens - cfg.Budget.ReserveTokens,
		PreserveRecentEvents: 10,
		PreserveUserMessages: true,
	})

	prov, err := newProvider(ctx, cfg)
	if err != nil {
		backing.Close()
		return nil, errors.Wrap(err, "constructing provider")
	}

	return &core{
		cfg:      cfg,
		backing:  backing,
		threads:  threads,
		sessions: sessions,
		tasks:    taskStore,
		acts:     acts,
		registry: registry,
		executor: executor,
		compactr: compactr,
		prov:     prov,
	}, nil
}

func (c *core) Close() error {
	return c.backing.Close()
}

// newProvider selects a provider.Provider per cfg.Provider.
func newProvider(ctx context.Context, cfg config.Config) (provider.Provider, error) {
	pc := cfg.ProviderConfigFor(cfg.Provider)
	switch cfg.Provider {
	case "anthropic":
		return provider.NewAnthropic(provider.AnthropicConfig{APIKey: pc.APIKey, BaseURL: pc.BaseURL}), nil
	case "openai":
		return provider.NewOpenAI(provider.OpenAIConfig{APIKey: pc.APIKey, BaseURL: pc.BaseURL}), nil
	case "google":
		return provider.NewGoogle(ctx, provider.GoogleConfig{APIKey: pc.APIKey})
	default:
		return nil, errors.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// resolveSession implements "create or load": an empty or unknown name
// creates a new session; an existing name loads it (reconstructed from the
// store if this process hasn't touched it yet).
func resolveSession(ctx context.Context, c *core, name string) (session.Session, error) {
	if name != "" {
		if sess, err := c.sessions.LoadSession(ctx, name); err == nil {
			return sess, nil
		}
	}
	if name == "" {
		name = c.threads.GenerateThreadID()
	}
	return c.sessions.CreateSession(ctx, name)
}

// resolveAgent implements the agent half of "create or load": an empty or
// unknown name registers a new agent in sess; an existing name reuses its
// thread.
func resolveAgent(ctx context.Context, c *core, sess session.Session, name, providerName, model string) (session.AgentMeta, error) {
	if name != "" {
		if metas, err := c.sessions.ListAgents(ctx, sess.ID, session.AgentFilter{IncludeCompleted: true}); err == nil {
			for _, m := range metas {
				if m.Name == name {
					return m, nil
				}
			}
		}
	}
	if name == "" {
		name = "agent-" + uuid.NewString()
	}
	return c.sessions.AddAgent(ctx, sess.ID, session.AgentMeta{
		Name:     name,
		Provider: providerName,
		Model:    model,
	})
}

// buildAgent constructs an agent.Agent bound to meta's thread, wired with
// this core's shared collaborators plus a fresh per-thread queue.
func buildAgent(c *core, sess session.Session, meta session.AgentMeta) *agent.Agent {
	q := queue.New(64, c.acts, meta.ThreadID)
	budgetMgr := budget.New(c.cfg.BudgetManager(), nil)

	agentCfg := agent.DefaultConfig()
	agentCfg.Model = meta.Model
	agentCfg.MaxTokens = c.cfg.MaxTokens

	return agent.New(
		meta.Name, meta.ThreadID, sess.ID,
		c.threads, c.compactr, budgetMgr, c.executor, c.registry, q, c.acts, c.prov,
		agentCfg,
	)
}
