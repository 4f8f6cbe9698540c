package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/laceai/lace/pkg/config"
	"github.com/laceai/lace/pkg/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage sessions and their agents",
}

var sessionAgentsCmd = &cobra.Command{
	Use:   "agents [session]",
	Short: "List the agents registered within a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		c, err := newCore(ctx, cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		sess, err := c.sessions.LoadSession(ctx, args[0])
		if err != nil {
			return err
		}

		metas, err := c.sessions.ListAgents(ctx, sess.ID, session.AgentFilter{IncludeCompleted: true})
		if err != nil {
			return err
		}
		for _, m := range metas {
			fmt.Printf("%s\t%s\t%s/%s\t%s\n", m.Name, m.ThreadID, m.Provider, m.Model, m.Status)
		}
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionAgentsCmd)
}
