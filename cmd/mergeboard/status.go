package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusFlags clientFlags

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest main-branch pipeline",
	Long: `Fetch the newest pipeline on the configured main branches and print its
stages with their status.

Example:
  mergeboard status --project 42`,
	RunE: runStatus,
}

func init() {
	statusFlags.register(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, _, err := statusFlags.newClient()
	if err != nil {
		return err
	}

	pipeline, err := client.LatestPipeline(cmd.Context(), statusFlags.project)
	if err != nil {
		return err
	}

	fmt.Print(renderPipeline(pipeline))
	return nil
}
