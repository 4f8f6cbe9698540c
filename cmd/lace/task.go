package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/laceai/lace/pkg/config"
	"github.com/laceai/lace/pkg/store"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create and inspect tasks within a session",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create [title]",
	Short: "Create a task within a session",
	Args:  cobra.MinimumNArgs(1),
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

		sessionName, _ := cmd.Flags().GetString("session")
		assignee, _ := cmd.Flags().GetString("assignee")
		createdBy, _ := cmd.Flags().GetString("created-by")
		prompt, _ := cmd.Flags().GetString("prompt")

		sess, err := resolveSession(ctx, c, sessionName)
		if err != nil {
			return err
		}

		t, err := c.tasks.CreateTask(ctx, store.CreateTaskParams{
			Title:      args[0],
			Prompt:     prompt,
			Priority:   store.TaskPriorityMedium,
			AssignedTo: assignee,
			CreatedBy:  createdBy,
			SessionID:  sess.ID,
		})
		if err != nil {
			return err
		}
		fmt.Println(t.ID)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list [session]",
	Short: "List tasks within a session",
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
		ts, err := c.tasks.ListSessionTasks(ctx, sess.ID)
		if err != nil {
			return err
		}
		for _, t := range ts {
			fmt.Printf("%s\t%s\t%s\t%s\n", t.ID, t.Status, t.AssignedTo, t.Title)
		}
		return nil
	},
}

func init() {
	taskCreateCmd.Flags().String("session", "", "session name to create or load")
	taskCreateCmd.Flags().String("assignee", "", "agent name, or new:<provider>/<model> to spawn one")
	taskCreateCmd.Flags().String("created-by", "cli", "name recorded as the task's creator")
	taskCreateCmd.Flags().String("prompt", "", "detailed instructions for the assigned agent")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskListCmd)
}
