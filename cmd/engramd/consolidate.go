package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/engramd/internal/engram"
)

var (
	consolidateScope    string
	consolidateWindow   int
	consolidateStrategy string
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Trigger a consolidation run on a running daemon",
	Long: `Trigger a consolidation run for one scope and wait for it to
finish.

Examples:
  # Consolidate the default window with the configured strategy
  engramd consolidate --scope /home/dev/projects/api

  # Consolidate today's experiences aggressively
  engramd consolidate --scope /home/dev/projects/api --window-days 0 --strategy aggressive`,
	Args: cobra.NoArgs,
	RunE: runConsolidate,
}

func init() {
	consolidateCmd.Flags().StringVar(&consolidateScope, "scope", "", "scope to consolidate (required)")
	consolidateCmd.Flags().IntVar(&consolidateWindow, "window-days", 0, "trailing days to consolidate (0 means today only)")
	consolidateCmd.Flags().StringVar(&consolidateStrategy, "strategy", "", "strategy: conservative, balanced, or aggressive (default from daemon config)")
	_ = consolidateCmd.MarkFlagRequired("scope")
}

// consolidateRequest matches internal/server consolidateRequest.
type consolidateRequest struct {
	Scope      string `json:"scope"`
	WindowDays *int   `json:"window_days,omitempty"`
	Strategy   string `json:"strategy,omitempty"`
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	req := consolidateRequest{
		Scope:    consolidateScope,
		Strategy: consolidateStrategy,
	}
	if cmd.Flags().Changed("window-days") {
		req.WindowDays = &consolidateWindow
	}

	var run engram.ConsolidationRun
	if err := newAPIClient(serverURL).postJSON("/v1/consolidate", req, &run); err != nil {
		return err
	}

	printRun(os.Stdout, &run)
	return nil
}

// printRun writes a human-readable run summary.
func printRun(w io.Writer, run *engram.ConsolidationRun) {
	fmt.Fprintf(w, "Run:        %s\n", run.ID)
	fmt.Fprintf(w, "Status:     %s\n", run.Status)
	fmt.Fprintf(w, "Scope:      %s\n", run.Scope)
	fmt.Fprintf(w, "Strategy:   %s\n", run.Strategy)
	fmt.Fprintf(w, "Window:     %s to %s\n",
		run.Window.Start.Format(time.RFC3339),
		run.Window.End.Format(time.RFC3339))
	fmt.Fprintf(w, "Seen:       %d  (promoted %d, pruned %d)\n",
		run.Counts.ExperiencesSeen,
		run.Counts.ExperiencesPromoted,
		run.Counts.ExperiencesPruned)
	fmt.Fprintf(w, "Extracted:  %d patterns, %d procedures, %d feedback updates\n",
		run.Counts.Patterns,
		run.Counts.Procedures,
		run.Counts.Feedback)
	if run.Status == engram.RunCompleted {
		fmt.Fprintf(w, "Quality:    %.2f (correctness %.2f, linkage %.2f, recall %.2f)\n",
			run.Quality.OverallQuality,
			run.Quality.CorrectnessRate,
			run.Quality.LinkageRate,
			run.Quality.RetrievalRecall)
	}
	if run.Degraded {
		fmt.Fprintf(w, "Degraded:   yes (a collaborator fell back during the run)\n")
	}
	if run.Reason != "" {
		fmt.Fprintf(w, "Reason:     %s\n", run.Reason)
	}
}
