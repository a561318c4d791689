package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/connopt/core/runlog"
)

var (
	historySchedule   string
	historyConnection string
	historySince      time.Duration
	historyFailed     bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded optimization runs from the run log",
	RunE:  runHistory,
}

func init() {
	f := historyCmd.Flags()
	f.StringVar(&historySchedule, "schedule", "", "only runs of this schedule")
	f.StringVar(&historyConnection, "connection", "", "only runs that evaluated this connection")
	f.DurationVar(&historySince, "since", 0, "only runs newer than this duration")
	f.BoolVar(&historyFailed, "failed", false, "only failed runs")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer closeService(svc)

	q := runlog.LogQuery{ScheduleID: historySchedule, ConnectionID: historyConnection, FailedOnly: historyFailed}
	if historySince > 0 {
		q.Start = time.Now().Add(-historySince)
	}
	recs, err := svc.History(cmd.Context(), q)
	if err != nil {
		return err
	}
	for _, r := range recs {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %-12s %-10s %-12s %.3f -> %.3f moves %d/%d\n",
			r.Timestamp.Format(time.RFC3339), r.ScheduleID, r.Strategy, r.Termination,
			r.InitialScore, r.Score, r.MovesApplied, r.MovesApplied+r.MovesRejected)
	}
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
	}
	return nil
}
