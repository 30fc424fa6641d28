package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/engramd/internal/engram"
)

var (
	statusScope string
	statusLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent consolidation runs",
	Long: `Show the most recent consolidation runs recorded by a running
daemon, newest first.

Examples:
  # Recent runs across all scopes
  engramd status

  # Recent runs for one scope
  engramd status --scope /home/dev/projects/api --limit 5`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusScope, "scope", "", "filter runs by scope")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "maximum runs to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	query := url.Values{}
	if statusScope != "" {
		query.Set("scope", statusScope)
	}
	query.Set("limit", strconv.Itoa(statusLimit))

	var listed struct {
		Runs []*engram.ConsolidationRun `json:"runs"`
	}
	if err := newAPIClient(serverURL).getJSON("/v1/runs?"+query.Encode(), &listed); err != nil {
		return err
	}

	if len(listed.Runs) == 0 {
		fmt.Println("No consolidation runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATUS\tSCOPE\tSEEN\tPATTERNS\tQUALITY\tNOTE")
	for _, run := range listed.Runs {
		note := run.Reason
		if note == "" && run.Degraded {
			note = "degraded"
		}
		quality := "-"
		if run.Status == engram.RunCompleted {
			quality = fmt.Sprintf("%.2f", run.Quality.OverallQuality)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			run.StartedAt.Format(time.RFC3339),
			run.Status,
			run.Scope,
			run.Counts.ExperiencesSeen,
			run.Counts.Patterns,
			quality,
			note)
	}
	return w.Flush()
}
