package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/connopt/core/model"
)

var (
	busTime        string
	targetTime     string
	connectionType string
	scenarioName   string
	priority       int
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify one bus time against one connection time",
	RunE:  runClassify,
}

func init() {
	f := classifyCmd.Flags()
	f.StringVar(&busTime, "bus", "", "bus time HH:MM")
	f.StringVar(&targetTime, "target", "", "connection time HH:MM")
	f.StringVar(&connectionType, "type", "bus_route", "connection type: bus_route, rail, college_class or school_bell")
	f.StringVar(&scenarioName, "scenario", "arrive_before", "arrive_before or depart_after")
	f.IntVar(&priority, "priority", 5, "connection priority 1-10")
	_ = classifyCmd.MarkFlagRequired("bus")
	_ = classifyCmd.MarkFlagRequired("target")
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, _ []string) error {
	typ, err := model.ParseConnectionType(connectionType)
	if err != nil {
		return err
	}
	sc, err := model.ParseScenario(scenarioName)
	if err != nil {
		return err
	}
	svc, err := newService()
	if err != nil {
		return err
	}
	defer closeService(svc)

	res, err := svc.Classify(busTime, targetTime, typ, sc, priority)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s gap %+.1f min score %.2f", res.Classification, res.GapMinutes, res.Score)
	if res.RecommendedAdjustment != 0 {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), " adjust %+.1f min", res.RecommendedAdjustment)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
