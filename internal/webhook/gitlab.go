package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mergeboard/internal/hosting"
)

// ErrMalformed is returned for payloads that cannot be normalized. The
// endpoints answer these with 200 so the sender does not retry.
var ErrMalformed = errors.New("malformed webhook payload")

// GitLab pipeline hooks use "2006-01-02 15:04:05 UTC"; newer instances and
// test fixtures send RFC 3339.
var hookTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05 -0700",
}

type hookTime struct {
	time.Time
}

func (t *hookTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range hookTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// hookStage accepts both the plain stage names GitLab sends and
// {"name","status","manual"} objects.
type hookStage struct {
	hosting.StageStatus
}

func (s *hookStage) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		s.Name = name
		return nil
	}
	var obj struct {
		Name   string `json:"name"`
		Status string `json:"status"`
		Manual bool   `json:"manual"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("stage must be a name or an object: %w", err)
	}
	s.StageStatus = hosting.StageStatus{Name: obj.Name, Status: hosting.Status(obj.Status), Manual: obj.Manual}
	return nil
}

type pipelineHook struct {
	ObjectKind       string `json:"object_kind"`
	ObjectAttributes struct {
		ID         int64       `json:"id"`
		Ref        string      `json:"ref"`
		SHA        string      `json:"sha"`
		Status     string      `json:"status"`
		Stages     []hookStage `json:"stages"`
		URL        string      `json:"url"`
		CreatedAt  hookTime    `json:"created_at"`
		UpdatedAt  hookTime    `json:"updated_at"`
		FinishedAt hookTime    `json:"finished_at"`
	} `json:"object_attributes"`
	Project struct {
		ID     int64  `json:"id"`
		WebURL string `json:"web_url"`
	} `json:"project"`
	Builds []struct {
		ID     int64  `json:"id"`
		Stage  string `json:"stage"`
		Name   string `json:"name"`
		Status string `json:"status"`
		Manual bool   `json:"manual"`
	} `json:"builds"`
}

// ParseGitLabPipeline normalizes a GitLab "Pipeline Hook" body. Stage status
// is recomputed from builds when the payload carries them.
func ParseGitLabPipeline(body []byte) (*hosting.PipelineStatus, error) {
	var hook pipelineHook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if hook.ObjectKind != "" && hook.ObjectKind != "pipeline" {
		return nil, fmt.Errorf("%w: object_kind %q is not a pipeline", ErrMalformed, hook.ObjectKind)
	}

	attrs := hook.ObjectAttributes
	if attrs.ID <= 0 {
		return nil, fmt.Errorf("%w: missing pipeline id", ErrMalformed)
	}
	if attrs.Ref == "" {
		return nil, fmt.Errorf("%w: missing ref", ErrMalformed)
	}

	stages := make([]hosting.StageStatus, 0, len(attrs.Stages))
	for _, s := range attrs.Stages {
		stages = append(stages, s.StageStatus)
	}
	jobs := make([]hosting.JobState, 0, len(hook.Builds))
	for _, b := range hook.Builds {
		jobs = append(jobs, hosting.JobState{
			ID:     b.ID,
			Stage:  b.Stage,
			Name:   b.Name,
			Status: hosting.Status(b.Status),
			Manual: b.Manual,
		})
	}

	updated := attrs.UpdatedAt.Time
	if updated.IsZero() {
		updated = attrs.FinishedAt.Time
	}
	if updated.IsZero() {
		updated = attrs.CreatedAt.Time
	}

	webURL := attrs.URL
	if hook.Project.WebURL != "" {
		webURL = strings.TrimSuffix(hook.Project.WebURL, "/") + "/-/pipelines/" + strconv.FormatInt(attrs.ID, 10)
	}

	return &hosting.PipelineStatus{
		ID:        attrs.ID,
		Status:    hosting.Status(attrs.Status),
		Stages:    hosting.BuildStages(stages, jobs),
		Ref:       attrs.Ref,
		SHA:       attrs.SHA,
		WebURL:    webURL,
		CreatedAt: attrs.CreatedAt.Time,
		UpdatedAt: updated,
		ProjectID: hook.Project.ID,
	}, nil
}
