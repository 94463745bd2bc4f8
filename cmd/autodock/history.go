package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/autodock/autodock"
	"github.com/autodock/autodock/store"
)

var flagHistoryLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent containerization runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(autodock.DefaultDBPath())
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer s.Close()

		runs, err := s.RecentRuns(flagHistoryLimit)
		if err != nil {
			return fmt.Errorf("query history: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tSOURCE\tTAG\tSTATUS\tATTEMPTS\tDURATION")
		for _, r := range runs {
			status := r.Status
			if r.Stage != "" {
				status = fmt.Sprintf("%s (%s)", r.Status, r.Stage)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				r.StartedAt.Local().Format("2006-01-02 15:04"),
				r.Source, r.Tag, status, r.Attempts,
				(time.Duration(r.DurationMs) * time.Millisecond).Round(time.Second))
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 20, "maximum number of runs to show")
}
