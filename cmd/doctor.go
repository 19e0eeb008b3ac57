package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/schedule-task-mcp/internal/config"
	"github.com/nextlevelbuilder/schedule-task-mcp/internal/store"
	"github.com/nextlevelbuilder/schedule-task-mcp/internal/timeutil"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("schedule-task-mcp doctor")
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	// Database
	fmt.Println()
	fmt.Printf("  Database: %s", cfg.DBPath)
	if _, err := os.Stat(cfg.DBPath); err != nil {
		fmt.Println(" (NOT FOUND, created on first start)")
	} else {
		fmt.Println(" (OK)")
		if st, err := store.Open(cfg.DBPath); err != nil {
			fmt.Printf("  Store open error: %s\n", err)
		} else {
			if n, err := st.Count(context.Background()); err == nil {
				fmt.Printf("  Tasks:    %d\n", n)
			}
			st.Close()
		}
	}

	legacy := cfg.LegacyPath()
	fmt.Printf("  Legacy file: %s", legacy)
	if _, err := os.Stat(legacy); err != nil {
		fmt.Println(" (none)")
	} else {
		fmt.Println(" (PRESENT, imported when the database is empty)")
	}

	// Clock
	fmt.Println()
	zone, zerr := cfg.Zone()
	if zerr != nil {
		fmt.Printf("  Timezone: %s (unresolvable, falling back to %s)\n", cfg.Timezone, zone)
	} else {
		fmt.Printf("  Timezone: %s\n", zone)
	}
	fmt.Printf("  Local now: %s\n", timeutil.FormatLocal(time.Now(), zone))
	fmt.Printf("  Sampling timeout: %s\n", cfg.SamplingTimeout())
	if cfg.SamplingRatePerMin > 0 {
		fmt.Printf("  Sampling rate limit: %d/min\n", cfg.SamplingRatePerMin)
	} else {
		fmt.Println("  Sampling rate limit: none")
	}

	// Telemetry
	fmt.Println()
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint != "" {
		fmt.Printf("  Telemetry: enabled (%s %s)\n", cfg.Telemetry.Protocol, cfg.Telemetry.Endpoint)
	} else {
		fmt.Println("  Telemetry: disabled")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}
