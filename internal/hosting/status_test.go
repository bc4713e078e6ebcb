package hosting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name string
		in   []Status
		want Status
	}{
		{"empty", nil, StatusCreated},
		{"all success", []Status{StatusSuccess, StatusSuccess}, StatusSuccess},
		{"running wins", []Status{StatusSuccess, StatusFailed, StatusRunning}, StatusRunning},
		{"failed over manual", []Status{StatusManual, StatusFailed}, StatusFailed},
		{"preparing is pending", []Status{StatusPreparing, StatusSuccess}, StatusPending},
		{"manual over success", []Status{StatusSuccess, StatusManual}, StatusManual},
		{"skipped only", []Status{StatusSkipped}, StatusSkipped},
		{"unknown passes through", []Status{"blocked"}, "blocked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateStatus(tt.in))
		})
	}
}

func TestBuildStages(t *testing.T) {
	stages := []StageStatus{
		{Name: "build", Status: StatusSuccess},
		{Name: "test"},
		{Name: "deploy", Status: StatusCreated},
	}
	jobs := []JobState{
		{Stage: "test", Status: StatusSuccess},
		{Stage: "test", Status: StatusFailed},
		{Stage: "deploy", Status: StatusManual},
		{Stage: "cleanup", Status: StatusSkipped},
	}

	got := BuildStages(stages, jobs)
	assert.Equal(t, []StageStatus{
		{Name: "build", Status: StatusSuccess},
		{Name: "test", Status: StatusFailed},
		{Name: "deploy", Status: StatusManual, Manual: true},
		{Name: "cleanup", Status: StatusSkipped},
	}, got)

	// input is left untouched
	assert.Equal(t, StageStatus{Name: "test"}, stages[1])
}

func TestBuildStages_NoJobs(t *testing.T) {
	got := BuildStages([]StageStatus{{Name: "build"}}, nil)
	assert.Equal(t, []StageStatus{{Name: "build", Status: StatusCreated}}, got)
}

func TestGitHubStatus(t *testing.T) {
	assert.Equal(t, StatusPending, GitHubStatus("queued", ""))
	assert.Equal(t, StatusRunning, GitHubStatus("in_progress", ""))
	assert.Equal(t, StatusSuccess, GitHubStatus("completed", "success"))
	assert.Equal(t, StatusFailed, GitHubStatus("completed", "timed_out"))
	assert.Equal(t, StatusCanceled, GitHubStatus("completed", "cancelled"))
	assert.Equal(t, StatusManual, GitHubStatus("completed", "action_required"))
}

func TestChangeRequestHasAllLabels(t *testing.T) {
	cr := ChangeRequest{Labels: []string{"ready", "backend"}}
	assert.True(t, cr.HasAllLabels(nil))
	assert.True(t, cr.HasAllLabels([]string{"backend"}))
	assert.False(t, cr.HasAllLabels([]string{"ready", "frontend"}))
}
