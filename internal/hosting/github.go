package hosting

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// GitHub maps onto the same model: repositories are projects, pull requests
// are change requests (number is the IID), workflow runs are pipelines and
// their jobs are stages.
type gitHubClient struct {
	api          *github.Client
	mainBranches []string
}

func newGitHubClient(opts Options) (*gitHubClient, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub base URL %q: %w", opts.BaseURL, err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	httpClient := opts.httpClient()
	if opts.RequestsPerSecond > 0 {
		httpClient = &http.Client{
			Timeout:   httpClient.Timeout,
			Transport: newLimitedTransport(httpClient.Transport, opts.RequestsPerSecond),
		}
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: opts.Token},
	)
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = httpClient.Timeout

	api := github.NewClient(tc)
	api.BaseURL = base

	return &gitHubClient{api: api, mainBranches: opts.MainBranches}, nil
}

// repository resolves a numeric repository ID to owner and name.
func (c *gitHubClient) repository(ctx context.Context, projectID int64) (*github.Repository, error) {
	repo, resp, err := c.api.Repositories.GetByID(ctx, projectID)
	if err != nil {
		return nil, githubFailure("get repository", resp, err, ErrTransport)
	}
	return repo, nil
}

func (c *gitHubClient) ListProjects(ctx context.Context) ([]Project, error) {
	repos, resp, err := c.api.Repositories.List(ctx, "", &github.RepositoryListOptions{
		Affiliation: "owner,collaborator,organization_member",
		ListOptions: github.ListOptions{PerPage: projectsPageSize},
	})
	if err != nil {
		return nil, githubFailure("list repositories", resp, err, ErrTransport)
	}

	out := make([]Project, 0, len(repos))
	for _, r := range repos {
		out = append(out, Project{
			ID:                r.GetID(),
			Name:              r.GetName(),
			PathWithNamespace: r.GetFullName(),
			WebURL:            r.GetHTMLURL(),
			DefaultBranch:     r.GetDefaultBranch(),
		})
	}
	return out, nil
}

func (c *gitHubClient) ListLabels(ctx context.Context, projectID int64) ([]Label, error) {
	repo, err := c.repository(ctx, projectID)
	if err != nil {
		return nil, err
	}

	labels, resp, err := c.api.Issues.ListLabels(ctx, repo.GetOwner().GetLogin(), repo.GetName(), &github.ListOptions{PerPage: 100})
	if err != nil {
		return nil, githubFailure("list labels", resp, err, ErrTransport)
	}

	out := make([]Label, 0, len(labels))
	for _, l := range labels {
		out = append(out, Label{
			ID:          l.GetID(),
			Name:        l.GetName(),
			Color:       "#" + l.GetColor(),
			Description: l.GetDescription(),
		})
	}
	return out, nil
}

// ListOpenChangeRequests filters client-side; the pulls endpoint has no
// label filter.
func (c *gitHubClient) ListOpenChangeRequests(ctx context.Context, projectID int64, labels []string) ([]ChangeRequest, error) {
	repo, err := c.repository(ctx, projectID)
	if err != nil {
		return nil, err
	}

	pulls, resp, err := c.api.PullRequests.List(ctx, repo.GetOwner().GetLogin(), repo.GetName(), &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, githubFailure("list pull requests", resp, err, ErrTransport)
	}

	out := make([]ChangeRequest, 0, len(pulls))
	for _, pr := range pulls {
		cr := pullToChangeRequest(projectID, pr)
		if cr.HasAllLabels(labels) {
			out = append(out, cr)
		}
	}
	return out, nil
}

func pullToChangeRequest(projectID int64, pr *github.PullRequest) ChangeRequest {
	names := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		names = append(names, l.GetName())
	}

	cr := ChangeRequest{
		ID:           pr.GetID(),
		IID:          int64(pr.GetNumber()),
		ProjectID:    projectID,
		Title:        pr.GetTitle(),
		Description:  pr.GetBody(),
		SourceBranch: pr.GetHead().GetRef(),
		TargetBranch: pr.GetBase().GetRef(),
		Labels:       names,
		State:        "opened",
		WebURL:       pr.GetHTMLURL(),
		Author:       githubUser(pr.GetUser()),
		CreatedAt:    pr.GetCreatedAt().Time,
		UpdatedAt:    pr.GetUpdatedAt().Time,
	}
	if pr.MergedAt != nil {
		t := pr.GetMergedAt().Time
		cr.MergedAt = &t
		cr.State = "merged"
	}
	if pr.MergedBy != nil {
		u := githubUser(pr.MergedBy)
		cr.MergedBy = &u
	}
	return cr
}

func githubUser(u *github.User) User {
	name := u.GetName()
	if name == "" {
		name = u.GetLogin()
	}
	return User{Name: name, Username: u.GetLogin()}
}

func (c *gitHubClient) MergeChangeRequest(ctx context.Context, projectID, iid int64) error {
	repo, err := c.repository(ctx, projectID)
	if err != nil {
		return err
	}
	owner, name := repo.GetOwner().GetLogin(), repo.GetName()

	_, resp, err := c.api.PullRequests.Merge(ctx, owner, name, int(iid), "", nil)
	if err == nil {
		return nil
	}

	failure := githubFailure("merge pull request", resp, err, ErrMergeRejected)
	if errors.Is(failure, ErrMergeRejected) {
		pr, _, getErr := c.api.PullRequests.Get(ctx, owner, name, int(iid))
		if getErr == nil && pr.GetMerged() {
			return &Error{
				Op:         "merge pull request",
				Kind:       ErrAlreadyMerged,
				StatusCode: githubStatus(resp),
				Message:    fmt.Sprintf("#%d is already merged", iid),
				Err:        err,
			}
		}
	}
	return failure
}

func (c *gitHubClient) LatestPipeline(ctx context.Context, projectID int64) (*PipelineStatus, error) {
	repo, err := c.repository(ctx, projectID)
	if err != nil {
		return nil, err
	}
	owner, name := repo.GetOwner().GetLogin(), repo.GetName()

	var latest *github.WorkflowRun
	for _, branch := range c.mainBranches {
		runs, resp, err := c.api.Actions.ListRepositoryWorkflowRuns(ctx, owner, name, &github.ListWorkflowRunsOptions{
			Branch:      branch,
			ListOptions: github.ListOptions{PerPage: 1},
		})
		if err != nil {
			return nil, githubFailure("list workflow runs", resp, err, ErrTransport)
		}
		if len(runs.WorkflowRuns) > 0 && (latest == nil || runs.WorkflowRuns[0].GetID() > latest.GetID()) {
			latest = runs.WorkflowRuns[0]
		}
	}
	if latest == nil {
		return nil, &Error{
			Op:      "latest pipeline",
			Kind:    ErrNotFound,
			Message: fmt.Sprintf("no workflow run on %s", strings.Join(c.mainBranches, " or ")),
		}
	}

	jobs, resp, err := c.api.Actions.ListWorkflowJobs(ctx, owner, name, latest.GetID(), &github.ListWorkflowJobsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, githubFailure("list workflow jobs", resp, err, ErrTransport)
	}

	states := make([]JobState, 0, len(jobs.Jobs))
	for _, j := range jobs.Jobs {
		states = append(states, JobState{
			ID:     j.GetID(),
			Stage:  j.GetName(),
			Name:   j.GetName(),
			Status: GitHubStatus(j.GetStatus(), j.GetConclusion()),
			Manual: j.GetStatus() == "waiting",
		})
	}
	slices.SortFunc(states, func(a, b JobState) int { return cmp.Compare(a.ID, b.ID) })

	return &PipelineStatus{
		ID:        latest.GetID(),
		Status:    GitHubStatus(latest.GetStatus(), latest.GetConclusion()),
		Stages:    BuildStages(nil, states),
		Ref:       latest.GetHeadBranch(),
		SHA:       latest.GetHeadSHA(),
		WebURL:    latest.GetHTMLURL(),
		CreatedAt: latest.GetCreatedAt().Time,
		UpdatedAt: latest.GetUpdatedAt().Time,
		ProjectID: projectID,
	}, nil
}

// TriggerStage dispatches the workflow file named stage on the main branch.
// The repository default branch is used when it is a main branch.
func (c *gitHubClient) TriggerStage(ctx context.Context, projectID int64, stage string) (*TriggerResult, error) {
	repo, err := c.repository(ctx, projectID)
	if err != nil {
		return nil, err
	}

	ref := c.mainBranches[0]
	if slices.Contains(c.mainBranches, repo.GetDefaultBranch()) {
		ref = repo.GetDefaultBranch()
	}

	resp, err := c.api.Actions.CreateWorkflowDispatchEventByFileName(ctx, repo.GetOwner().GetLogin(), repo.GetName(), stage,
		github.CreateWorkflowDispatchEventRequest{Ref: ref})
	if err != nil {
		return nil, githubFailure("dispatch workflow", resp, err, ErrTriggerRejected)
	}

	return &TriggerResult{Mode: TriggerModeWorkflowDispatch, Stage: stage, Ref: ref}, nil
}

// EnsureWebhook registers a workflow_run hook for url unless one exists.
func (c *gitHubClient) EnsureWebhook(ctx context.Context, projectID int64, hookURL, secret string) (bool, error) {
	repo, err := c.repository(ctx, projectID)
	if err != nil {
		return false, err
	}
	owner, name := repo.GetOwner().GetLogin(), repo.GetName()

	hooks, resp, err := c.api.Repositories.ListHooks(ctx, owner, name, &github.ListOptions{PerPage: 100})
	if err != nil {
		return false, githubFailure("list hooks", resp, err, ErrTransport)
	}
	for _, h := range hooks {
		if existing, ok := h.Config["url"].(string); ok && existing == hookURL {
			return false, nil
		}
	}

	insecure := "1"
	if strings.HasPrefix(hookURL, "https://") {
		insecure = "0"
	}
	hookReq := &github.Hook{
		Events: []string{"workflow_run"},
		Active: github.Bool(true),
		Config: map[string]interface{}{
			"url":          hookURL,
			"content_type": "json",
			"secret":       secret,
			"insecure_ssl": insecure,
		},
	}
	if _, resp, err := c.api.Repositories.CreateHook(ctx, owner, name, hookReq); err != nil {
		return false, githubFailure("create hook", resp, err, ErrTransport)
	}
	return true, nil
}

func githubFailure(op string, resp *github.Response, err error, rejected error) error {
	status := githubStatus(resp)
	var message string
	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) {
		message = errResp.Message
		if status == 0 && errResp.Response != nil {
			status = errResp.Response.StatusCode
		}
	}
	return classify(op, status, message, err, rejected)
}

func githubStatus(resp *github.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

// limitedTransport waits on a token bucket before each outbound request.
type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func newLimitedTransport(base http.RoundTripper, perSecond float64) *limitedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &limitedTransport{base: base, limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}
