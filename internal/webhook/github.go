package webhook

import (
	"fmt"

	"github.com/google/go-github/v57/github"

	"mergeboard/internal/hosting"
)

// EventWorkflowRun is the X-GitHub-Event value the GitHub endpoint accepts.
const EventWorkflowRun = "workflow_run"

// ParseGitHubWorkflowRun normalizes a workflow_run delivery. The workflow
// itself becomes the single stage.
func ParseGitHubWorkflowRun(body []byte) (*hosting.PipelineStatus, error) {
	parsed, err := github.ParseWebHook(EventWorkflowRun, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	event, ok := parsed.(*github.WorkflowRunEvent)
	if !ok || event.WorkflowRun == nil {
		return nil, fmt.Errorf("%w: missing workflow_run", ErrMalformed)
	}

	run := event.GetWorkflowRun()
	if run.GetID() <= 0 {
		return nil, fmt.Errorf("%w: missing run id", ErrMalformed)
	}
	if run.GetHeadBranch() == "" {
		return nil, fmt.Errorf("%w: missing head_branch", ErrMalformed)
	}

	status := hosting.GitHubStatus(run.GetStatus(), run.GetConclusion())
	stageName := event.GetWorkflow().GetName()
	if stageName == "" {
		stageName = run.GetName()
	}

	projectID := event.GetRepo().GetID()
	if projectID == 0 {
		projectID = run.GetRepository().GetID()
	}

	return &hosting.PipelineStatus{
		ID:     run.GetID(),
		Status: status,
		Stages: []hosting.StageStatus{{
			Name:   stageName,
			Status: status,
			Manual: status == hosting.StatusManual,
		}},
		Ref:       run.GetHeadBranch(),
		SHA:       run.GetHeadSHA(),
		WebURL:    run.GetHTMLURL(),
		CreatedAt: run.GetCreatedAt().Time,
		UpdatedAt: run.GetUpdatedAt().Time,
		ProjectID: projectID,
	}, nil
}
