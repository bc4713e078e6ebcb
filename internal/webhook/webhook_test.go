package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mergeboard/internal/hosting"
)

const testSecret = "x7Kq2LmZ9vB4nR8tW1yC6pD3sF5gH0jA"

func TestTokenMatches(t *testing.T) {
	assert.True(t, TokenMatches(testSecret, testSecret))
	assert.False(t, TokenMatches("wrong", testSecret))
	assert.False(t, TokenMatches("", testSecret))
	assert.False(t, TokenMatches("", ""))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"action":"completed"}`)

	assert.True(t, VerifySignature(payload, Sign(payload, testSecret), testSecret))
	assert.False(t, VerifySignature(payload, Sign(payload, "another-secret"), testSecret))
	assert.False(t, VerifySignature([]byte(`{"action":"requested"}`), Sign(payload, testSecret), testSecret))

	for _, sig := range []string{"", "abc123", "sha1=abc123", "sha256=", "sha256abc"} {
		assert.False(t, VerifySignature(payload, sig, testSecret), sig)
	}
}

func TestSettingsIsMainBranch(t *testing.T) {
	s := Settings{MainBranches: []string{"main", "master"}}

	assert.True(t, s.IsMainBranch("main"))
	assert.True(t, s.IsMainBranch("master"))
	assert.False(t, s.IsMainBranch("feature"))
	assert.False(t, s.IsMainBranch("refs/heads/main"))
	assert.False(t, s.IsMainBranch(""))
}

func TestStoreUpdate(t *testing.T) {
	branches := []string{"main"}
	st := NewStore(Settings{Secret: "one", MainBranches: branches})
	branches[0] = "mutated"

	assert.Equal(t, Settings{Secret: "one", MainBranches: []string{"main"}}, st.Load())

	st.Update(Settings{Secret: "two", MainBranches: []string{"trunk"}})
	assert.Equal(t, "two", st.Load().Secret)
	assert.True(t, st.Load().IsMainBranch("trunk"))
	assert.False(t, st.Load().IsMainBranch("main"))
}

const gitlabPipelineHook = `{
  "object_kind": "pipeline",
  "object_attributes": {
    "id": 31,
    "ref": "master",
    "sha": "bcbb5ec396a2c0f828686f14fac9b80b780504f2",
    "status": "running",
    "stages": ["build", "test", "deploy"],
    "created_at": "2016-08-12 15:23:28 UTC",
    "finished_at": "2016-08-12 15:26:29 UTC"
  },
  "project": {"id": 1, "web_url": "http://192.168.64.1:3005/gitlab-org/gitlab-test"},
  "builds": [
    {"id": 380, "stage": "deploy", "name": "production", "status": "manual", "manual": true},
    {"id": 377, "stage": "test", "name": "test-image", "status": "running"},
    {"id": 378, "stage": "test", "name": "test-build", "status": "success"},
    {"id": 376, "stage": "build", "name": "build-image", "status": "success"}
  ]
}`

func TestParseGitLabPipeline(t *testing.T) {
	status, err := ParseGitLabPipeline([]byte(gitlabPipelineHook))
	require.NoError(t, err)

	assert.Equal(t, int64(31), status.ID)
	assert.Equal(t, hosting.StatusRunning, status.Status)
	assert.Equal(t, "master", status.Ref)
	assert.Equal(t, int64(1), status.ProjectID)
	assert.Equal(t, "http://192.168.64.1:3005/gitlab-org/gitlab-test/-/pipelines/31", status.WebURL)
	assert.Equal(t, time.Date(2016, 8, 12, 15, 23, 28, 0, time.UTC), status.CreatedAt.UTC())
	assert.Equal(t, time.Date(2016, 8, 12, 15, 26, 29, 0, time.UTC), status.UpdatedAt.UTC())
	assert.Equal(t, []hosting.StageStatus{
		{Name: "build", Status: hosting.StatusSuccess},
		{Name: "test", Status: hosting.StatusRunning},
		{Name: "deploy", Status: hosting.StatusManual, Manual: true},
	}, status.Stages)
}

func TestParseGitLabPipeline_StageObjectsAndRFC3339(t *testing.T) {
	body := `{
	  "object_kind": "pipeline",
	  "object_attributes": {
	    "id": 7, "ref": "main", "status": "success",
	    "stages": [{"name": "build", "status": "success"}, {"name": "release", "status": "manual", "manual": true}],
	    "created_at": "2024-03-01T10:00:00Z"
	  },
	  "project": {"id": 9, "web_url": "https://gitlab.example.com/acme/app/"}
	}`

	status, err := ParseGitLabPipeline([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "https://gitlab.example.com/acme/app/-/pipelines/7", status.WebURL)
	assert.Equal(t, status.CreatedAt, status.UpdatedAt)
	assert.Equal(t, []hosting.StageStatus{
		{Name: "build", Status: hosting.StatusSuccess},
		{Name: "release", Status: hosting.StatusManual, Manual: true},
	}, status.Stages)
}

func TestParseGitLabPipeline_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":       `{"object_kind":`,
		"wrong kind":     `{"object_kind":"push","object_attributes":{"id":1,"ref":"main"}}`,
		"missing id":     `{"object_kind":"pipeline","object_attributes":{"ref":"main"}}`,
		"missing ref":    `{"object_kind":"pipeline","object_attributes":{"id":3}}`,
		"bad timestamp":  `{"object_kind":"pipeline","object_attributes":{"id":3,"ref":"main","created_at":"yesterday"}}`,
		"bad stage type": `{"object_kind":"pipeline","object_attributes":{"id":3,"ref":"main","stages":[42]}}`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseGitLabPipeline([]byte(body))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

const githubWorkflowRun = `{
  "action": "completed",
  "workflow": {"id": 161335, "name": "CI"},
  "workflow_run": {
    "id": 30433642,
    "name": "CI",
    "head_branch": "main",
    "head_sha": "acb5820ced9479c074f688cc328bf03f341a511d",
    "status": "completed",
    "conclusion": "success",
    "html_url": "https://github.com/acme/app/actions/runs/30433642",
    "created_at": "2024-03-01T10:00:00Z",
    "updated_at": "2024-03-01T10:05:00Z"
  },
  "repository": {"id": 99, "full_name": "acme/app"}
}`

func TestParseGitHubWorkflowRun(t *testing.T) {
	status, err := ParseGitHubWorkflowRun([]byte(githubWorkflowRun))
	require.NoError(t, err)

	assert.Equal(t, int64(30433642), status.ID)
	assert.Equal(t, hosting.StatusSuccess, status.Status)
	assert.Equal(t, "main", status.Ref)
	assert.Equal(t, int64(99), status.ProjectID)
	assert.Equal(t, []hosting.StageStatus{{Name: "CI", Status: hosting.StatusSuccess}}, status.Stages)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC), status.UpdatedAt.UTC())
}

func TestParseGitHubWorkflowRun_Malformed(t *testing.T) {
	for _, body := range []string{`{`, `{"action":"completed"}`, `{"workflow_run":{"id":1}}`} {
		_, err := ParseGitHubWorkflowRun([]byte(body))
		assert.ErrorIs(t, err, ErrMalformed, body)
	}
}
