package hosting

import (
	"slices"
	"time"
)

// Status is a pipeline or stage state as reported by the hosting service.
// Provider values that have no mapping are passed through verbatim.
type Status string

const (
	StatusCreated            Status = "created"
	StatusWaitingForResource Status = "waiting_for_resource"
	StatusPreparing          Status = "preparing"
	StatusPending            Status = "pending"
	StatusRunning            Status = "running"
	StatusSuccess            Status = "success"
	StatusFailed             Status = "failed"
	StatusCanceled           Status = "canceled"
	StatusSkipped            Status = "skipped"
	StatusManual             Status = "manual"
	StatusScheduled          Status = "scheduled"
)

// StageStatus is the state of one named pipeline stage.
type StageStatus struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Manual bool   `json:"manual"`
}

// PipelineStatus is a full snapshot of a main-branch pipeline. A newer
// snapshot replaces an older one as a whole.
type PipelineStatus struct {
	ID        int64         `json:"id"`
	Status    Status        `json:"status"`
	Stages    []StageStatus `json:"stages"`
	Ref       string        `json:"ref"`
	SHA       string        `json:"sha"`
	WebURL    string        `json:"web_url"`
	CreatedAt time.Time     `json:"created_at,omitzero"`
	UpdatedAt time.Time     `json:"updated_at,omitzero"`
	ProjectID int64         `json:"project_id"`
}

// Clone returns a copy that shares no memory with p.
func (p PipelineStatus) Clone() PipelineStatus {
	p.Stages = slices.Clone(p.Stages)
	return p
}

// User is the author or merger of a change request.
type User struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

// ChangeRequest is an open merge request (GitLab) or pull request (GitHub).
//
// ID identifies the change request globally and is what operators select.
// IID is the project-scoped number the merge call needs.
type ChangeRequest struct {
	ID           int64      `json:"id"`
	IID          int64      `json:"iid"`
	ProjectID    int64      `json:"project_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	SourceBranch string     `json:"source_branch"`
	TargetBranch string     `json:"target_branch"`
	Labels       []string   `json:"labels"`
	State        string     `json:"state"`
	WebURL       string     `json:"web_url"`
	Author       User       `json:"author"`
	MergedBy     *User      `json:"merged_by"`
	MergedAt     *time.Time `json:"merged_at"`
	CreatedAt    time.Time  `json:"created_at,omitzero"`
	UpdatedAt    time.Time  `json:"updated_at,omitzero"`
}

// HasAllLabels reports whether the change request carries every label in want.
func (c ChangeRequest) HasAllLabels(want []string) bool {
	for _, l := range want {
		if !slices.Contains(c.Labels, l) {
			return false
		}
	}
	return true
}

// Project is a repository the credential is a member of.
type Project struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
	DefaultBranch     string `json:"default_branch"`
}

// Label is a project label used for filtering change requests.
type Label struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description,omitempty"`
}

// Trigger modes reported in TriggerResult.Mode.
const (
	TriggerModePlay             = "play"
	TriggerModePipeline         = "pipeline"
	TriggerModeWorkflowDispatch = "workflow_dispatch"
)

// TriggeredJob is a job started by a manual stage trigger.
type TriggeredJob struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// TriggerResult describes what the hosting service accepted for a manual
// stage trigger. The resulting pipeline state arrives later via webhook.
type TriggerResult struct {
	Mode       string         `json:"mode"`
	Stage      string         `json:"stage"`
	Ref        string         `json:"ref"`
	PipelineID int64          `json:"pipeline_id,omitempty"`
	Jobs       []TriggeredJob `json:"jobs,omitempty"`
}
