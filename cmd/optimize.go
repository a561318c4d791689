package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kilianp07/connopt/core/events"
	"github.com/kilianp07/connopt/core/optimize"
	inframetrics "github.com/kilianp07/connopt/infra/metrics"
)

var (
	scenarioPath    string
	outputPath      string
	metricsTextfile string
	showProgress    bool
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Optimize a scenario and report the result",
	RunE:  runOptimize,
}

func init() {
	optimizeCmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "scenario file (yaml or json)")
	optimizeCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the full result as JSON to this file")
	optimizeCmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "", "write Prometheus metrics in text format to this file")
	optimizeCmd.Flags().BoolVar(&showProgress, "progress", false, "print progress to stderr")
	_ = optimizeCmd.MarkFlagRequired("scenario")
	rootCmd.AddCommand(optimizeCmd)
}

func runOptimize(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newService()
	if err != nil {
		return err
	}
	defer closeService(svc)

	sc, err := svc.LoadScenario(scenarioPath)
	if err != nil {
		return err
	}
	var onProgress optimize.ProgressFunc
	if showProgress {
		errOut := cmd.ErrOrStderr()
		onProgress = func(ev events.ProgressEvent) {
			_, _ = fmt.Fprintf(errOut, "%-12s %5.1f%% best %.3f\n", ev.Phase, ev.Progress, ev.BestScore)
		}
	}
	res := svc.Optimize(ctx, sc, onProgress)

	printSummary(cmd.OutOrStdout(), sc.Schedule.ID, res)
	if outputPath != "" {
		if err := writeJSON(outputPath, res); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	if metricsTextfile != "" {
		if err := inframetrics.WriteTextfile(metricsTextfile, prometheus.DefaultGatherer); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	if !res.Success {
		return fmt.Errorf("optimization failed: %s", res.Message)
	}
	return nil
}

func printSummary(w io.Writer, scheduleID string, res *optimize.Result) {
	st := res.Statistics
	p := func(format string, args ...any) { _, _ = fmt.Fprintf(w, format+"\n", args...) }
	p("schedule     %s (run %s)", scheduleID, res.RunID)
	p("strategy     %s, %s", st.Strategy, st.Termination)
	p("score        %.3f -> %.3f", res.InitialScore, res.Score)
	p("moves        %d applied, %d rejected", st.MovesApplied, st.MovesRejected)
	p("connections  %d ideal, %d improved, %d failed of %d", st.ConnectionsIdeal, st.ConnectionsImproved, st.ConnectionsFailed, st.Connections)
	p("recovery     %.1f of %.1f min borrowed (%.1f%%)", res.Bank.TotalBorrowed, res.Bank.TotalCredit, 100*res.Bank.UtilizationRate)
	for _, c := range res.Connections {
		line := fmt.Sprintf("  %-32s %-14s %s -> %s", c.ConnectionID, c.Status, c.Before, c.After)
		if c.Shift != 0 {
			line += fmt.Sprintf(" trip %d %+.1f min", c.TripNumber, c.Shift)
		}
		if c.Reason != "" {
			line += " (" + c.Reason + ")"
		}
		p("%s", line)
	}
	for _, m := range res.AppliedMoves {
		p("move         %s %+.1f min", optimize.Describe(m), m.TimeAdjustment)
	}
	if hb, ha := st.HeadwaysBefore, st.HeadwaysAfter; hb.Count > 0 {
		p("headways     mean %.1f cv %.2f -> mean %.1f cv %.2f", hb.Mean, hb.CV, ha.Mean, ha.CV)
	}
	for _, warn := range res.Warnings {
		p("warning      %s", warn)
	}
	for _, r := range res.Recommendations {
		p("recommend    %s", r)
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
