package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/laceai/lace/pkg/config"
	"github.com/laceai/lace/pkg/logger"
	"github.com/laceai/lace/pkg/thread"
)

var runCmd = &cobra.Command{
	Use:   "run [message]",
	Short: "Send a message to an agent, creating or loading its session",
	Long: `Resolves --session and --agent under a "create or load" contract,
then sends the given message (or the joined positional args) to that
agent and prints its final response.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")
		if message == "" {
			return fmt.Errorf("a message is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if model := viper.GetString("model"); model != "" {
			cfg.Model = model
		}
		if providerName := viper.GetString("provider"); providerName != "" {
			cfg.Provider = providerName
		}
		if maxTokens := viper.GetInt("max_tokens"); maxTokens > 0 {
			cfg.MaxTokens = maxTokens
		}

		ctx := cmd.Context()
		c, err := newCore(ctx, cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		sessionName, _ := cmd.Flags().GetString("session")
		agentName, _ := cmd.Flags().GetString("agent")

		sess, err := resolveSession(ctx, c, sessionName)
		if err != nil {
			return err
		}
		meta, err := resolveAgent(ctx, c, sess, agentName, cfg.Provider, cfg.Model)
		if err != nil {
			return err
		}

		ag := buildAgent(c, sess, meta)
		if err := ag.Send(ctx, message); err != nil {
			return err
		}

		events, err := c.threads.Events(ctx, meta.ThreadID)
		if err != nil {
			return err
		}
		for i := len(events) - 1; i >= 0; i-- {
			if events[i].Type == thread.EventAgentMessage {
				data, err := events[i].DecodeAgentMessage()
				if err != nil {
					return err
				}
				fmt.Println(data.Content)
				break
			}
		}

		logger.G(ctx).WithField("session", sess.Name).WithField("agent", meta.Name).Debug("run complete")
		return nil
	},
}

func init() {
	runCmd.Flags().String("session", "", "session name to create or load")
	runCmd.Flags().String("agent", "", "agent name to create or load within the session")
}
