// Command agentgraph-run executes one graph file locally and prints the
// final run as JSON. State and events stay in memory; agent settings come
// from the same environment variables as the daemon.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aescanero/agentgraph/pkg/adapters/sandbox/subprocess"
)

// exitError carries a process exit code through cobra
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

var (
	flagPolicy        string
	flagMaxConcurrent int
	flagTimeout       string
	flagWatch         bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agentgraph-run <graph-file>",
		Short: "Run an agent graph locally and print the final state",
		Long: `agentgraph-run loads a YAML or JSON graph, executes it with the built-in
agents under the configured concurrency limit, and writes the final run as
JSON to stdout. The exit code is 0 when the run completed, 3 otherwise.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runGraph,
	}

	rootCmd.Flags().StringVar(&flagPolicy, "policy", "", "Failure policy override (fail_fast or best_effort)")
	rootCmd.Flags().IntVar(&flagMaxConcurrent, "max-concurrent", 0, "Max concurrent agent attempts (default MAX_CONCURRENT_AGENTS)")
	rootCmd.Flags().StringVar(&flagTimeout, "timeout", "", "Run execution timeout, e.g. 10m (default TIMEOUT_GRAPH_EXECUTION)")
	rootCmd.Flags().BoolVar(&flagWatch, "watch", false, "Print task events to stderr as they happen")

	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(sandboxExecCmd())

	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			if exit.err != nil {
				printError(exit.err)
			}
			os.Exit(exit.code)
		}
		printError(err)
		os.Exit(1)
	}
}

func sandboxExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:    subprocess.ExecCommand,
		Short:  "Serve one sandboxed agent invocation on stdin/stdout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE:   runSandboxChild,
	}
}
