// Package config loads Lace's runtime configuration via spf13/viper:
// defaults set first, then a config file, then LACE_-prefixed environment
// variables, in viper's own precedence order. Load binds no CLI flags;
// cmd/lace applies its flag overrides to the decoded Config.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/laceai/lace/pkg/budget"
	"github.com/laceai/lace/pkg/tools"
	"github.com/laceai/lace/pkg/toolexec"
)

// ProviderConfig holds one provider's credentials and default model.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// RetryConfig mirrors toolexec.RetryConfig with mapstructure tags so it can
// be decoded straight from viper.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// CircuitBreakerConfig mirrors toolexec.CircuitBreakerConfig.
type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
}

// BudgetConfig mirrors budget.Config.
type BudgetConfig struct {
	WindowTokens   int     `mapstructure:"window_tokens"`
	ReserveTokens  int     `mapstructure:"reserve_tokens"`
	WarnThreshold  float64 `mapstructure:"warn_threshold"`
	BlockThreshold float64 `mapstructure:"block_threshold"`
	CharsPerToken  int     `mapstructure:"chars_per_token"`
}

// Config is Lace's fully-resolved runtime configuration.
type Config struct {
	Provider  string                    `mapstructure:"provider"`
	Model     string                    `mapstructure:"model"`
	MaxTokens int                       `mapstructure:"max_tokens"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`

	ToolConcurrency int                  `mapstructure:"tool_concurrency"`
	Retry           RetryConfig          `mapstructure:"retry"`
	CircuitBreaker  CircuitBreakerConfig `mapstructure:"circuit_breaker"`

	Budget BudgetConfig `mapstructure:"budget"`

	AllowedCommands []string `mapstructure:"allowed_commands"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Tracing TracingConfig `mapstructure:"tracing"`

	// MCPServers configures external Model Context Protocol servers whose
	// tools are registered alongside the built-ins.
	MCPServers map[string]tools.MCPServerConfig `mapstructure:"mcp_servers"`
}

// TracingConfig controls OpenTelemetry span emission.
type TracingConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Sampler string  `mapstructure:"sampler"`
	Ratio   float64 `mapstructure:"ratio"`
}

// SetDefaults installs every default value. Call before Load.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("provider", "anthropic")
	v.SetDefault("model", "claude-sonnet-4-5")
	v.SetDefault("max_tokens", 8192)

	v.SetDefault("tool_concurrency", 4)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", 200*time.Millisecond)
	v.SetDefault("retry.max_delay", 5*time.Second)

	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.open_timeout", 30*time.Second)
	v.SetDefault("circuit_breaker.half_open_max_calls", 1)

	v.SetDefault("budget.window_tokens", 200_000)
	v.SetDefault("budget.reserve_tokens", 8_000)
	v.SetDefault("budget.warn_threshold", 0.8)
	v.SetDefault("budget.block_threshold", 1.0)
	v.SetDefault("budget.chars_per_token", 4)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "fmt")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sampler", "ratio")
	v.SetDefault("tracing.ratio", 1.0)
}

// Load builds a viper instance (config file at $HOME/.lace/config.yaml or
// ./config.yaml, LACE_-prefixed env overrides, nested keys via "." -> "_")
// and decodes it into a Config.
func Load() (Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("LACE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.lace")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, errors.Wrap(err, "config: reading config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "config: decoding into struct")
	}
	return cfg, nil
}

// ToolexecRetry converts to toolexec.RetryConfig.
func (c Config) ToolexecRetry() toolexec.RetryConfig {
	return toolexec.RetryConfig{
		MaxRetries: c.Retry.MaxRetries,
		BaseDelay:  c.Retry.BaseDelay,
		MaxDelay:   c.Retry.MaxDelay,
	}
}

// ToolexecCircuitBreaker converts to toolexec.CircuitBreakerConfig.
func (c Config) ToolexecCircuitBreaker() toolexec.CircuitBreakerConfig {
	return toolexec.CircuitBreakerConfig{
		FailureThreshold: c.CircuitBreaker.FailureThreshold,
		OpenTimeout:      c.CircuitBreaker.OpenTimeout,
		HalfOpenMaxCalls: c.CircuitBreaker.HalfOpenMaxCalls,
	}
}

// ToolexecExecutor converts to a full toolexec.ExecutorConfig.
func (c Config) ToolexecExecutor() toolexec.ExecutorConfig {
	return toolexec.ExecutorConfig{
		MaxConcurrentTools: c.ToolConcurrency,
		Retry:              c.ToolexecRetry(),
		CircuitBreaker:     c.ToolexecCircuitBreaker(),
	}
}

// BudgetManager converts to a budget.Config.
func (c Config) BudgetManager() budget.Config {
	return budget.Config{
		WindowTokens:   c.Budget.WindowTokens,
		ReserveTokens:  c.Budget.ReserveTokens,
		WarnThreshold:  c.Budget.WarnThreshold,
		BlockThreshold: c.Budget.BlockThreshold,
		CharsPerToken:  c.Budget.CharsPerToken,
	}
}

// ProviderConfigFor returns the named provider's config, or a zero value if
// unset. Neither this package nor cmd/lace reads provider-specific
// environment variables such as ANTHROPIC_API_KEY; an empty APIKey is passed
// to the provider adapter as is.
func (c Config) ProviderConfigFor(name string) ProviderConfig {
	if c.Providers == nil {
		return ProviderConfig{}
	}
	return c.Providers[name]
}
