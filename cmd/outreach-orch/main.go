package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "outreach-orch",
		Short: "Outreach Orchestrator - Investor outreach campaign manager",
		Long: `Outreach Orchestrator runs investor outreach campaigns end to end.
It qualifies and personalizes target firms through a staged pipeline,
queues contact-form submissions for human approval, and executes
approved submissions with bounded retries.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
