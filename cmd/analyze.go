package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kilianp07/connopt/core/model"
)

var analyzeJSON bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Report how well a scenario's schedule serves its connections",
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "scenario file (yaml or json)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the analysis as JSON")
	_ = analyzeCmd.MarkFlagRequired("scenario")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer closeService(svc)

	sc, err := svc.LoadScenario(scenarioPath)
	if err != nil {
		return err
	}
	a := svc.Analyze(sc)
	out := cmd.OutOrStdout()
	if analyzeJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	}

	_, _ = fmt.Fprintf(out, "connections %d, served %d (%.1f%%), average score %.3f\n", a.Total, a.Successful, 100*a.SuccessRate, a.AverageScore)
	types := make([]model.ConnectionType, 0, len(a.ByType))
	for t := range a.ByType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		b := a.ByType[t]
		flag := ""
		if b.Flagged {
			flag = "  flagged"
		}
		_, _ = fmt.Fprintf(out, "  %-14s ideal %d partial %d missed %d%s\n", t, b.Ideal, b.Partial, b.Missed, flag)
	}
	for _, r := range a.Recommendations {
		_, _ = fmt.Fprintf(out, "recommend %s\n", r)
	}
	return nil
}
