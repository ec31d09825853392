package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var insightCmd = &cobra.Command{
	Use:   "insight <userId>",
	Short: "Generate and record one user's insight, printing the engine output",
	Args:  cobra.ExactArgs(1),
	RunE:  runInsight,
}

func runInsight(cmd *cobra.Command, args []string) error {
	userID := args[0]
	if _, err := uuid.Parse(userID); err != nil {
		return fmt.Errorf("userId must be a UUID: %w", err)
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	_, raw, err := a.insights.GenerateInsight(cmd.Context(), userID)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), raw)
	return nil
}
