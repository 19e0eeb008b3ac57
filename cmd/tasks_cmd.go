package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/schedule-task-mcp/internal/config"
	"github.com/nextlevelbuilder/schedule-task-mcp/internal/store"
	"github.com/nextlevelbuilder/schedule-task-mcp/internal/task"
)

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect the task database",
	}
	cmd.AddCommand(tasksListCmd())
	cmd.AddCommand(tasksShowCmd())
	cmd.AddCommand(tasksHistoryCmd())
	cmd.AddCommand(tasksDeleteCmd())
	return cmd
}

func tasksListCmd() *cobra.Command {
	var jsonOutput bool
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tasks",
		Run: func(cmd *cobra.Command, args []string) {
			st, zone := openTaskStore()
			defer st.Close()

			tasks, err := st.List(context.Background())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			if status != "" {
				want, err := task.ParseStatus(status)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %s\n", err)
					os.Exit(1)
				}
				filtered := tasks[:0]
				for _, t := range tasks {
					if t.Status == want {
						filtered = append(filtered, t)
					}
				}
				tasks = filtered
			}

			described := make([]*task.Described, 0, len(tasks))
			for _, t := range tasks {
				described = append(described, task.Describe(t, zone))
			}
			printTasks(described, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (scheduled|paused|running|completed|error)")
	return cmd
}

func tasksShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [taskId]",
		Short: "Show one task as JSON",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st, zone := openTaskStore()
			defer st.Close()

			t, err := st.Get(context.Background(), args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			data, _ := json.MarshalIndent(task.Describe(t, zone), "", "  ")
			fmt.Println(string(data))
		},
	}
}

func tasksHistoryCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "history [taskId]",
		Short: "Show a task's run history",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st, zone := openTaskStore()
			defer st.Close()

			t, err := st.Get(context.Background(), args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			d := task.Describe(t, zone)
			if jsonOutput {
				data, _ := json.MarshalIndent(d.History, "", "  ")
				fmt.Println(string(data))
				return
			}
			if len(d.History) == 0 {
				fmt.Println("No runs recorded.")
				return
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "RUN AT\tSTATUS\tMESSAGE\n")
			for _, e := range d.History {
				fmt.Fprintf(tw, "%s\t%s\t%s\n",
					e.RunAtLocal, e.Status, runewidth.Truncate(e.Message, 60, "…"))
			}
			tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func tasksDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [taskId]",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st, _ := openTaskStore()
			defer st.Close()

			existed, err := st.Delete(context.Background(), args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			if !existed {
				fmt.Fprintf(os.Stderr, "Error: %s\n", store.ErrNotFound)
				os.Exit(1)
			}
			fmt.Printf("Deleted task %s\n", args[0])
		},
	}
}

// --- Shared display ---

func printTasks(tasks []*task.Described, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(tasks, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks configured.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tSTATUS\tENABLED\tTRIGGER\tLAST RUN\tNEXT RUN\n")
	for _, d := range tasks {
		lastRun := "never"
		if d.LastRunLocal != "" {
			lastRun = d.LastRunLocal
		}
		nextRun := "-"
		if d.NextRunLocal != "" {
			nextRun = d.NextRunLocal
		}
		fmt.Fprintf(tw, "%s\t%s\t%v\t%s\t%s\t%s\n",
			d.ID, d.Status, d.Enabled,
			runewidth.Truncate(d.TriggerSummary, 28, "…"), lastRun, nextRun)
	}
	tw.Flush()
}

// --- Store helper (direct database access, no server required) ---

func openTaskStore() (*store.Store, *time.Location) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	zone, _ := cfg.Zone()
	return st, zone
}
