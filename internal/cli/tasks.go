package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkdir700/pi-team/sdk/go/teamguard"
)

var tasksJSON bool

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd)
	tasksListCmd.Flags().BoolVar(&tasksJSON, "json", false, "Print machine-readable JSON")
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Task inspection",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the discovered team's tasks",
	RunE:  runTasksList,
}

func runTasksList(cmd *cobra.Command, args []string) error {
	c, err := teamguard.New()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tasks, err := c.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	if tasksJSON {
		out, _ := json.MarshalIndent(tasks, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return nil
	}

	fmt.Printf("%-12s %-12s %-16s %s\n", "ID", "STATUS", "OWNER", "TITLE")
	for _, t := range tasks {
		owner := t.Owner
		if owner == "" {
			owner = "-"
		}
		title := t.Title
		if len(title) > 48 {
			title = title[:46] + ".."
		}
		fmt.Printf("%-12s %-12s %-16s %s\n", t.ID, t.Status, owner, title)
	}

	return nil
}
