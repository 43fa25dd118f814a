package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the execution
// core: Postgres-backed resource/execution stores, the Redis-backed job
// queue and stream relay, the sandbox and worker pools, the agent
// engine, and the HTTP/SSE boundary.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the nexora execution core",
		Long: `Start the nexora execution core with its job queue workers and HTTP boundary.

The server will:
1. Load configuration from the specified file (or nexora.yaml)
2. Connect to Postgres and Redis
3. Register the configured LLM providers
4. Provision the sandbox and shared worker pools
5. Start the function and agent queue workers
6. Start the HTTP server for enqueue/approval/SSE endpoints

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  nexora serve

  # Start with custom config
  nexora serve --config /etc/nexora/production.yaml

  # Start with debug logging
  nexora serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")

	return cmd
}
