// Command agenticbot answers natural-language data questions by running an
// LLM-driven orchestration loop over a SQL warehouse. It serves the session
// API over HTTP, as an MCP stdio server, or as an interactive terminal REPL.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Set by -ldflags at build time.
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"

	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agenticbot",
	Short: "LLM-orchestrated text-to-SQL assistant",
	Long: `agenticbot turns natural-language questions into read-only SQL, runs it
against the configured warehouse and explains the result. Ambiguous questions
are answered with a clarification question; reply in the same session to continue.

Configuration is read from ~/.config/agenticbot/config.yaml and AGENTICBOT_*
environment variables.`,
	SilenceUsage: true,
	Version:      version,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "agenticbot %s\n", version)
		fmt.Fprintf(out, "Git Commit: %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/agenticbot/config.yaml)")
	rootCmd.AddCommand(serveCmd, mcpCmd, askCmd, versionCmd)
}
