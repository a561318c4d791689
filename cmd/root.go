// Package cmd implements the connopt command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/connopt/app"
	"github.com/kilianp07/connopt/config"
	"github.com/kilianp07/connopt/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "connopt",
	Short:         "Transit connection window optimizer",
	Long:          "connopt shifts bus trips within their recovery budget so they line up with school bells, rail departures and class times.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (yaml or json); defaults plus K_ environment when empty")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// newService loads the configuration and builds the service. The caller
// closes it.
func newService() (*app.Service, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Logging.Apply()
	return app.New(cfg)
}

func closeService(svc *app.Service) {
	if err := svc.Close(); err != nil {
		logger.New("main").Errorf("service close: %v", err)
	}
}
