package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mergeboard/internal/merge"
)

var (
	mergeFlags  clientFlags
	mergeIDs    []int64
	mergeLabels []string
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge selected change requests at once",
	Long: `Merge a selection of open merge requests (GitLab) or pull requests (GitHub).

The IDs are matched against the open change requests carrying every given
label; IDs that are not in that list are skipped. All merges run at the same
time and each one is reported, including those the hosting service refused.

Example:
  mergeboard merge --project 42 --ids 1001,1002 --labels ready`,
	RunE: runMerge,
}

func init() {
	mergeFlags.register(mergeCmd)
	mergeCmd.Flags().Int64SliceVar(&mergeIDs, "ids", nil, "Change request IDs to merge (comma separated)")
	mergeCmd.Flags().StringSliceVar(&mergeLabels, "labels", nil, "Only consider change requests with all of these labels")
	_ = mergeCmd.MarkFlagRequired("ids")
}

func runMerge(cmd *cobra.Command, args []string) error {
	client, cfg, err := mergeFlags.newClient()
	if err != nil {
		return err
	}

	journal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	var recorder merge.Recorder
	if journal != nil {
		defer journal.Close()
		recorder = journal
	}

	ctx := cmd.Context()
	listing, err := client.ListOpenChangeRequests(ctx, mergeFlags.project, mergeLabels)
	if err != nil {
		return fmt.Errorf("failed to list change requests: %w", err)
	}

	result := merge.NewOrchestrator(cliLogger(), recorder).MergeSelected(ctx, client, mergeFlags.project, listing, mergeIDs)
	fmt.Print(renderMergeResult(result))

	if result.FailureCount > 0 {
		return fmt.Errorf("%d of %d merges failed", result.FailureCount, len(result.Outcomes))
	}
	return nil
}
