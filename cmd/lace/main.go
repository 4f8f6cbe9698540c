// Package main provides the lace CLI entrypoint: a thin caller that
// resolves "create or load" session/agent names and wires Config into the
// Conversation Core's constructors. Viper defaults are set in init(),
// persistent flags are bound to viper, and subcommands are plain cobra
// commands.
package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/laceai/lace/pkg/config"
	"github.com/laceai/lace/pkg/logger"
	"github.com/laceai/lace/pkg/telemetry"
	"github.com/laceai/lace/pkg/version"
)

func init() {
	config.SetDefaults(viper.GetViper())

	viper.SetEnvPrefix("LACE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.lace")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err == nil {
		logger.G(context.TODO()).WithField("config_file", viper.ConfigFileUsed()).Debug("using config file")
	}
}

var rootCmd = &cobra.Command{
	Use:   "lace",
	Short: "lace is a multi-agent coding assistant's conversation core CLI",
	Long:  `lace drives sessions, agents, and tasks over the Conversation Core's event-sourced substrate.`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) > 0 {
			runCmd.Run(cmd, args)
			return
		}
		cmd.Help()
		os.Exit(1)
	},
}

func main() {
	ctx := context.Background()

	cobra.OnInitialize(func() {
		if level := viper.GetString("log_level"); level != "" {
			if err := logger.SetLogLevel(level); err != nil {
				logger.G(ctx).WithField("error", err).WithField("log_level", level).Warn("invalid log level, using default")
			}
		}
		if format := viper.GetString("log_format"); format != "" {
			logger.SetLogFormat(format)
		}
	})

	rootCmd.PersistentFlags().String("provider", "anthropic", "LLM provider to use (anthropic, openai, google)")
	rootCmd.PersistentFlags().String("model", "", "LLM model to use (overrides config)")
	rootCmd.PersistentFlags().Int("max-tokens", 8192, "Maximum tokens for response (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (panic, fatal, error, warn, info, debug, trace)")
	rootCmd.PersistentFlags().String("log-format", "fmt", "Log format (json, text, fmt)")

	viper.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))
	viper.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))
	viper.BindPFlag("max_tokens", rootCmd.PersistentFlags().Lookup("max-tokens"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(versionCmd)

	shutdown, err := telemetry.InitTracer(ctx, telemetry.Config{
		Enabled:        viper.GetBool("tracing.enabled"),
		ServiceName:    "lace",
		ServiceVersion: version.Get().Version,
		SamplerType:    viper.GetString("tracing.sampler"),
		SamplerRatio:   viper.GetFloat64("tracing.ratio"),
	})
	if err != nil {
		logger.G(ctx).WithField("error", err).Warn("tracing disabled: failed to init tracer")
	} else {
		defer shutdown(ctx)
	}

	rootCmd.SetContext(ctx)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.G(ctx).WithField("error", err).Error("failed to execute command")
		os.Exit(1)
	}
}
