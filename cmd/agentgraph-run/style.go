package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"

	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/ports"
)

var (
	dim       = color.New(color.Faint).SprintFunc()
	cyan      = color.New(color.FgCyan).SprintFunc()
	boldRed   = color.New(color.Bold, color.FgRed).SprintFunc()
	boldGreen = color.New(color.Bold, color.FgGreen).SprintFunc()
	yellow    = color.New(color.FgYellow).SprintFunc()

	okMark = boldGreen("✓")
)

func printError(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", boldRed("error:"), err)
}

func paintStatus(s string) string {
	switch {
	case s == string(domain.NodeStatusSucceeded) || s == string(domain.RunStatusCompleted):
		return boldGreen(s)
	case s == string(domain.NodeStatusFailed) || s == string(domain.RunStatusFailed):
		return boldRed(s)
	case s == string(domain.NodeStatusCancelled) || s == string(domain.RunStatusCancelled):
		return yellow(s)
	default:
		return cyan(s)
	}
}

func printEvent(_ context.Context, event ports.Event) error {
	ts := dim(event.Timestamp.Format(time.RFC3339))
	if event.NodeID != "" {
		fmt.Fprintf(os.Stderr, "%s %-22s %s\n", ts, string(event.Type), cyan(event.NodeID))
		return nil
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", ts, string(event.Type))
	return nil
}

// printSummary writes one line per node to stderr
func printSummary(run *domain.TaskRun) {
	ids := make([]string, 0, len(run.NodeStates))
	for id := range run.NodeStates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintf(os.Stderr, "\nrun %s %s\n", run.TaskID, paintStatus(string(run.Status)))
	for _, id := range ids {
		ns := run.NodeStates[id]
		line := fmt.Sprintf("  %-20s %s %s", id, paintStatus(string(ns.Status)), dim(fmt.Sprintf("attempts=%d", ns.AttemptCount)))
		if ns.Error != nil {
			line += " " + dim(ns.Error.Message)
		}
		fmt.Fprintln(os.Stderr, line)
	}
	if run.Error != "" {
		fmt.Fprintf(os.Stderr, "  %s\n", boldRed(run.Error))
	}
}
