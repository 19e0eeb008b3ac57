package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/schedule-task-mcp/internal/config"
)

// version is stamped at release time.
var version = "1.2.0"

var configFlag string

// Execute runs the CLI. Invoked without a subcommand it starts the MCP
// server on stdio, so `schedule-task-mcp` alone is a valid client command.
func Execute() {
	root := &cobra.Command{
		Use:   "schedule-task-mcp",
		Short: "Scheduled task manager speaking MCP over stdio",
		Long: `schedule-task-mcp keeps durable scheduled tasks (interval, cron and
one-shot triggers) in a local SQLite database and exposes them to MCP
clients over stdio. A firing task can ask the connected client to
generate text through MCP sampling.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	root.PersistentFlags().StringVar(&configFlag, "config", "", "config file path (default "+config.DefaultPath()+")")

	root.AddCommand(serveCmd())
	root.AddCommand(tasksCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// resolveConfigPath honors --config, then SCHEDULE_TASK_CONFIG, then the
// default location under the user's home.
func resolveConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	if env := os.Getenv("SCHEDULE_TASK_CONFIG"); env != "" {
		return env
	}
	return config.DefaultPath()
}
