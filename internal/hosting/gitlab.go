package hosting

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/time/rate"
)

// ManualStageVariable is set on pipelines created by TriggerStage when no
// manual job can be played directly.
const ManualStageVariable = "MANUAL_STAGE"

type gitLabClient struct {
	api          *gitlab.Client
	mainBranches []string
}

func newGitLabClient(opts Options) (*gitLabClient, error) {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	api, err := gitlab.NewOAuthClient(opts.Token,
		gitlab.WithBaseURL(opts.BaseURL),
		gitlab.WithHTTPClient(opts.httpClient()),
		gitlab.WithoutRetries(),
		gitlab.WithCustomLimiter(rate.NewLimiter(limit, 1)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}

	return &gitLabClient{api: api, mainBranches: opts.MainBranches}, nil
}

func (c *gitLabClient) ListProjects(ctx context.Context) ([]Project, error) {
	projects, resp, err := c.api.Projects.ListProjects(&gitlab.ListProjectsOptions{
		ListOptions: gitlab.ListOptions{PerPage: projectsPageSize},
		Membership:  gitlab.Ptr(true),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, gitlabFailure("list projects", resp, err, ErrTransport)
	}

	out := make([]Project, 0, len(projects))
	for _, p := range projects {
		out = append(out, Project{
			ID:                int64(p.ID),
			Name:              p.Name,
			PathWithNamespace: p.PathWithNamespace,
			WebURL:            p.WebURL,
			DefaultBranch:     p.DefaultBranch,
		})
	}
	return out, nil
}

func (c *gitLabClient) ListLabels(ctx context.Context, projectID int64) ([]Label, error) {
	labels, resp, err := c.api.Labels.ListLabels(int(projectID), &gitlab.ListLabelsOptions{
		ListOptions: gitlab.ListOptions{PerPage: 100},
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, gitlabFailure("list labels", resp, err, ErrTransport)
	}

	out := make([]Label, 0, len(labels))
	for _, l := range labels {
		out = append(out, Label{
			ID:          int64(l.ID),
			Name:        l.Name,
			Color:       l.Color,
			Description: l.Description,
		})
	}
	return out, nil
}

// ListOpenChangeRequests relies on GitLab's labels filter, which requires
// every listed label to be present.
func (c *gitLabClient) ListOpenChangeRequests(ctx context.Context, projectID int64, labels []string) ([]ChangeRequest, error) {
	opt := &gitlab.ListProjectMergeRequestsOptions{
		ListOptions: gitlab.ListOptions{PerPage: 100},
		State:       gitlab.Ptr("opened"),
	}
	if len(labels) > 0 {
		filter := gitlab.LabelOptions(labels)
		opt.Labels = &filter
	}

	mrs, resp, err := c.api.MergeRequests.ListProjectMergeRequests(int(projectID), opt, gitlab.WithContext(ctx))
	if err != nil {
		return nil, gitlabFailure("list merge requests", resp, err, ErrTransport)
	}

	out := make([]ChangeRequest, 0, len(mrs))
	for _, mr := range mrs {
		cr := ChangeRequest{
			ID:           int64(mr.ID),
			IID:          int64(mr.IID),
			ProjectID:    int64(mr.ProjectID),
			Title:        mr.Title,
			Description:  mr.Description,
			SourceBranch: mr.SourceBranch,
			TargetBranch: mr.TargetBranch,
			Labels:       append([]string{}, mr.Labels...),
			State:        mr.State,
			WebURL:       mr.WebURL,
			MergedAt:     mr.MergedAt,
			CreatedAt:    derefTime(mr.CreatedAt),
			UpdatedAt:    derefTime(mr.UpdatedAt),
		}
		if mr.Author != nil {
			cr.Author = User{Name: mr.Author.Name, Username: mr.Author.Username}
		}
		if mr.MergedBy != nil {
			cr.MergedBy = &User{Name: mr.MergedBy.Name, Username: mr.MergedBy.Username}
		}
		out = append(out, cr)
	}
	return out, nil
}

func (c *gitLabClient) MergeChangeRequest(ctx context.Context, projectID, iid int64) error {
	_, resp, err := c.api.MergeRequests.AcceptMergeRequest(int(projectID), int(iid), &gitlab.AcceptMergeRequestOptions{}, gitlab.WithContext(ctx))
	if err == nil {
		return nil
	}

	failure := gitlabFailure("merge change request", resp, err, ErrMergeRejected)
	if errors.Is(failure, ErrMergeRejected) && c.isMerged(ctx, projectID, iid) {
		return &Error{
			Op:         "merge change request",
			Kind:       ErrAlreadyMerged,
			StatusCode: responseStatus(resp),
			Message:    fmt.Sprintf("!%d is already merged", iid),
			Err:        err,
		}
	}
	return failure
}

func (c *gitLabClient) isMerged(ctx context.Context, projectID, iid int64) bool {
	mr, _, err := c.api.MergeRequests.GetMergeRequest(int(projectID), int(iid), nil, gitlab.WithContext(ctx))
	return err == nil && mr.State == "merged"
}

func (c *gitLabClient) LatestPipeline(ctx context.Context, projectID int64) (*PipelineStatus, error) {
	latest, err := c.latestPipelineInfo(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, &Error{
			Op:      "latest pipeline",
			Kind:    ErrNotFound,
			Message: fmt.Sprintf("no pipeline on %s", strings.Join(c.mainBranches, " or ")),
		}
	}

	jobs, err := c.pipelineJobs(ctx, projectID, latest.ID)
	if err != nil {
		return nil, err
	}

	return &PipelineStatus{
		ID:        int64(latest.ID),
		Status:    Status(latest.Status),
		Stages:    BuildStages(nil, jobs),
		Ref:       latest.Ref,
		SHA:       latest.SHA,
		WebURL:    latest.WebURL,
		CreatedAt: derefTime(latest.CreatedAt),
		UpdatedAt: derefTime(latest.UpdatedAt),
		ProjectID: projectID,
	}, nil
}

// latestPipelineInfo returns the newest pipeline across all main branches,
// or nil when there is none.
func (c *gitLabClient) latestPipelineInfo(ctx context.Context, projectID int64) (*gitlab.PipelineInfo, error) {
	var latest *gitlab.PipelineInfo
	for _, branch := range c.mainBranches {
		pipelines, resp, err := c.api.Pipelines.ListProjectPipelines(int(projectID), &gitlab.ListProjectPipelinesOptions{
			ListOptions: gitlab.ListOptions{PerPage: 1},
			Ref:         gitlab.Ptr(branch),
			OrderBy:     gitlab.Ptr("id"),
			Sort:        gitlab.Ptr("desc"),
		}, gitlab.WithContext(ctx))
		if err != nil {
			return nil, gitlabFailure("list pipelines", resp, err, ErrTransport)
		}
		if len(pipelines) > 0 && (latest == nil || pipelines[0].ID > latest.ID) {
			latest = pipelines[0]
		}
	}
	return latest, nil
}

func (c *gitLabClient) pipelineJobs(ctx context.Context, projectID int64, pipelineID int) ([]JobState, error) {
	jobs, resp, err := c.api.Jobs.ListPipelineJobs(int(projectID), pipelineID, &gitlab.ListJobsOptions{
		ListOptions: gitlab.ListOptions{PerPage: 100},
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, gitlabFailure("list pipeline jobs", resp, err, ErrTransport)
	}

	out := make([]JobState, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobState{
			ID:     int64(j.ID),
			Stage:  j.Stage,
			Name:   j.Name,
			Status: Status(j.Status),
			Manual: j.Status == string(StatusManual),
		})
	}
	// GitLab lists newest jobs first; stage order follows job creation.
	slices.SortFunc(out, func(a, b JobState) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// TriggerStage plays the manual jobs of stage in the latest main-branch
// pipeline. Without any, it starts a new main-branch pipeline carrying the
// stage name in ManualStageVariable.
func (c *gitLabClient) TriggerStage(ctx context.Context, projectID int64, stage string) (*TriggerResult, error) {
	latest, err := c.latestPipelineInfo(ctx, projectID)
	if err != nil {
		return nil, err
	}

	ref := c.mainBranches[0]
	if latest != nil {
		ref = latest.Ref

		jobs, err := c.pipelineJobs(ctx, projectID, latest.ID)
		if err != nil {
			return nil, err
		}

		var played []TriggeredJob
		for _, j := range jobs {
			if j.Stage != stage || j.Status != StatusManual {
				continue
			}
			job, resp, err := c.api.Jobs.PlayJob(int(projectID), int(j.ID), nil, gitlab.WithContext(ctx))
			if err != nil {
				return nil, gitlabFailure("play job", resp, err, ErrTriggerRejected)
			}
			played = append(played, TriggeredJob{ID: int64(job.ID), Name: job.Name, Status: Status(job.Status)})
		}
		if len(played) > 0 {
			return &TriggerResult{
				Mode:       TriggerModePlay,
				Stage:      stage,
				Ref:        ref,
				PipelineID: int64(latest.ID),
				Jobs:       played,
			}, nil
		}
	}

	pipeline, resp, err := c.api.Pipelines.CreatePipeline(int(projectID), &gitlab.CreatePipelineOptions{
		Ref: gitlab.Ptr(ref),
		Variables: &[]*gitlab.PipelineVariableOptions{
			{Key: gitlab.Ptr(ManualStageVariable), Value: gitlab.Ptr(stage)},
		},
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, gitlabFailure("create pipeline", resp, err, ErrTriggerRejected)
	}

	return &TriggerResult{
		Mode:       TriggerModePipeline,
		Stage:      stage,
		Ref:        pipeline.Ref,
		PipelineID: int64(pipeline.ID),
	}, nil
}

// EnsureWebhook registers a pipeline-events hook for url unless one exists.
func (c *gitLabClient) EnsureWebhook(ctx context.Context, projectID int64, url, secret string) (bool, error) {
	hooks, resp, err := c.api.Projects.ListProjectHooks(int(projectID), nil, gitlab.WithContext(ctx))
	if err != nil {
		return false, gitlabFailure("list project hooks", resp, err, ErrTransport)
	}
	for _, h := range hooks {
		if h.URL == url {
			return false, nil
		}
	}

	_, resp, err = c.api.Projects.AddProjectHook(int(projectID), &gitlab.AddProjectHookOptions{
		URL:                   gitlab.Ptr(url),
		Token:                 gitlab.Ptr(secret),
		PipelineEvents:        gitlab.Ptr(true),
		PushEvents:            gitlab.Ptr(false),
		EnableSSLVerification: gitlab.Ptr(strings.HasPrefix(url, "https://")),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return false, gitlabFailure("add project hook", resp, err, ErrTransport)
	}
	return true, nil
}

func gitlabFailure(op string, resp *gitlab.Response, err error, rejected error) error {
	status := responseStatus(resp)
	var message string
	var errResp *gitlab.ErrorResponse
	if errors.As(err, &errResp) {
		message = errResp.Message
		if status == 0 && errResp.Response != nil {
			status = errResp.Response.StatusCode
		}
	}
	return classify(op, status, message, err, rejected)
}

func responseStatus(resp *gitlab.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
