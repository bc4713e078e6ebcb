package server

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"mergeboard/internal/audit"
	"mergeboard/internal/hosting"
	"mergeboard/internal/relay"
	"mergeboard/internal/webhook"
)

const testSecret = "x7Kq2LmZ9vB4nR8tW1yC6pD3sF5gH0jA"

// fakeClient is an in-memory hosting.Client.
type fakeClient struct {
	mu sync.Mutex

	projects []hosting.Project
	labels   []hosting.Label
	requests []hosting.ChangeRequest
	listErr  error

	mergeErrs map[int64]error
	merged    []int64

	pipeline    *hosting.PipelineStatus
	pipelineErr error

	triggerResult *hosting.TriggerResult
	triggerErr    error
	triggered     []string

	gotLabels []string
}

func (f *fakeClient) ListProjects(ctx context.Context) ([]hosting.Project, error) {
	return f.projects, f.listErr
}

func (f *fakeClient) ListLabels(ctx context.Context, projectID int64) ([]hosting.Label, error) {
	return f.labels, f.listErr
}

func (f *fakeClient) ListOpenChangeRequests(ctx context.Context, projectID int64, labels []string) ([]hosting.ChangeRequest, error) {
	f.mu.Lock()
	f.gotLabels = slices.Clone(labels)
	f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}

	var out []hosting.ChangeRequest
	for _, cr := range f.requests {
		if cr.HasAllLabels(labels) {
			out = append(out, cr)
		}
	}
	return out, nil
}

func (f *fakeClient) MergeChangeRequest(ctx context.Context, projectID, iid int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merged = append(f.merged, iid)
	return f.mergeErrs[iid]
}

func (f *fakeClient) LatestPipeline(ctx context.Context, projectID int64) (*hosting.PipelineStatus, error) {
	return f.pipeline, f.pipelineErr
}

func (f *fakeClient) TriggerStage(ctx context.Context, projectID int64, stage string) (*hosting.TriggerResult, error) {
	f.mu.Lock()
	f.triggered = append(f.triggered, stage)
	f.mu.Unlock()
	return f.triggerResult, f.triggerErr
}

func (f *fakeClient) EnsureWebhook(ctx context.Context, projectID int64, url, secret string) (bool, error) {
	return true, nil
}

// fakeFactory hands out one fakeClient and remembers the credentials used.
type fakeFactory struct {
	mu          sync.Mutex
	client      *fakeClient
	credentials []string
}

func (f *fakeFactory) ForCredential(token string) (hosting.Client, error) {
	f.mu.Lock()
	f.credentials = append(f.credentials, token)
	f.mu.Unlock()
	if token == "" {
		return nil, &hosting.Error{Op: "create client", Kind: hosting.ErrAuthenticationRejected, Message: "missing credential"}
	}
	return f.client, nil
}

func (f *fakeFactory) Provider() string {
	return hosting.ProviderGitLab
}

func (f *fakeFactory) lastCredential() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.credentials) == 0 {
		return ""
	}
	return f.credentials[len(f.credentials)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestServer returns a test-mode server backed by a fake hosting
// client. journal may be nil.
func setupTestServer(t *testing.T, journal *audit.Journal) (*Server, *fakeClient, *fakeFactory) {
	t.Helper()

	client := &fakeClient{}
	factory := &fakeFactory{client: client}
	store := webhook.NewStore(webhook.Settings{
		Secret:       testSecret,
		MainBranches: []string{"main", "master"},
	})

	srv := NewServer(relay.New(testLogger()), factory, store, journal, testLogger(), Options{
		AllowedOrigins: []string{"http://localhost:5173"},
		TestMode:       true,
	})
	return srv, client, factory
}

func openTestJournal(t *testing.T) *audit.Journal {
	t.Helper()
	journal, err := audit.Open(t.TempDir() + "/audit.db")
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })
	return journal
}
