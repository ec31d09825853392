package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagFailOnError bool

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Generate insights for every user once and print the report",
	Args:  cobra.NoArgs,
	RunE:  runBatch,
}

func init() {
	batchCmd.Flags().BoolVar(&flagFailOnError, "fail-on-error", false, "Exit non-zero when any user fails")
}

func runBatch(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	report := a.scheduler.RunOnce(cmd.Context())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}

	if report.Error != "" {
		return fmt.Errorf("batch aborted: %s", report.Error)
	}
	if flagFailOnError && report.Failed > 0 {
		return fmt.Errorf("%d of %d users failed", report.Failed, len(report.Results))
	}
	return nil
}
