package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mergeboard/internal/trigger"
)

var (
	triggerFlags clientFlags
	triggerStage string
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Start a manual pipeline stage on the main branch",
	Long: `Start a manual stage on the main branch.

On GitLab the manual jobs of the stage in the newest main-branch pipeline are
played; when there are none, a new pipeline is created with MANUAL_STAGE set
to the stage name. On GitHub the stage is a workflow file that is dispatched.

The resulting pipeline status arrives through the webhook.

Example:
  mergeboard trigger --project 42 --stage deploy`,
	RunE: runTrigger,
}

func init() {
	triggerFlags.register(triggerCmd)
	triggerCmd.Flags().StringVar(&triggerStage, "stage", "", "Stage name (GitHub: workflow file name)")
	_ = triggerCmd.MarkFlagRequired("stage")
}

func runTrigger(cmd *cobra.Command, args []string) error {
	client, cfg, err := triggerFlags.newClient()
	if err != nil {
		return err
	}

	journal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	var recorder trigger.Recorder
	if journal != nil {
		defer journal.Close()
		recorder = journal
	}

	result, err := trigger.NewService(cliLogger(), recorder).TriggerStage(cmd.Context(), client, triggerFlags.project, triggerStage)
	if err != nil {
		return err
	}

	fmt.Print(renderTriggerResult(result))
	return nil
}
