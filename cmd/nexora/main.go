// Package main provides the CLI entry point for the nexora execution
// core: a pooled sandbox executor, a durable job queue and worker
// runtime, and an agent conversation engine fronted by a minimal
// HTTP/SSE boundary.
//
// # Basic Usage
//
// Start the server:
//
//	nexora serve --config nexora.yaml
//
// # Environment Variables
//
// Configuration can be provided via environment variables, loaded from
// a .env file if present:
//
//   - DATABASE_URL: Postgres connection string
//   - REDIS_ADDR: Redis address backing the job queue
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: LLM provider credentials
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// main is the entry point for the nexora CLI.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nexora",
		Short: "Nexora - multi-tenant AI agent execution core",
		Long: `Nexora runs sandboxed function executions and LLM-driven agent
conversations behind a durable job queue, with an SSE boundary for
streaming chat turns and tool-call approvals to callers.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())

	return rootCmd
}

func resolveConfigPath(path string) string {
	if path == "" {
		if env := os.Getenv("NEXORA_CONFIG"); env != "" {
			return env
		}
		return "nexora.yaml"
	}
	return path
}
