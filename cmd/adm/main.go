// Package main provides the main entry point for the skill model admin CLI tool.
package main

import (
	"context"
	"fmt"
	"os"

	"skillmodel/cmd/adm/commands"
	"skillmodel/internal/config"
	"skillmodel/internal/observability"

	"github.com/spf13/cobra"
)

func main() {
	ctx := context.Background()

	// Set default config file if not already set
	if os.Getenv(config.ConfigFileEnv) == "" {
		for _, path := range []string{"config.yaml", "../config.yaml", "../../config.yaml"} {
			if _, err := os.Stat(path); err == nil {
				if err := os.Setenv(config.ConfigFileEnv, path); err != nil {
					fmt.Fprintf(os.Stderr, "Failed to set %s: %v\n", config.ConfigFileEnv, err)
					os.Exit(1)
				}
				break
			}
		}
	}

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Admin tool logs errors only and never exports telemetry
	cfg.Server.LogLevel = "error"
	cfg.OpenTelemetry.EnableTracing = false
	cfg.OpenTelemetry.EnableMetrics = false
	cfg.OpenTelemetry.EnableLogging = false

	_, _, logger, err := observability.SetupObservability(&cfg.OpenTelemetry, "skillmodel-admin")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize observability: %v\n", err)
		os.Exit(1)
	}

	env := commands.NewEnv(cfg, logger)
	defer env.Close(ctx)

	rootCmd := &cobra.Command{
		Use:   "adm",
		Short: "Skill model administration tool",
		Long: `Skill model administration tool

Runs the analysis pipeline by hand, validates taxonomy documents, inspects
proficiency signals, applies migrations and pauses or resumes the worker.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				fmt.Printf("Error showing help: %v\n", err)
			}
		},
	}

	rootCmd.AddCommand(commands.AnalyzeCommands(env))
	rootCmd.AddCommand(commands.TaxonomyCommands(env))
	rootCmd.AddCommand(commands.SignalCommands(env))
	rootCmd.AddCommand(commands.DatabaseCommands(env))
	rootCmd.AddCommand(commands.WorkerCommands(env))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		env.Close(ctx)
		os.Exit(1)
	}
}
