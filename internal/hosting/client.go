// Package hosting talks to the code-hosting service: projects, labels,
// change requests, pipelines and webhooks. GitLab and GitHub implement the
// same Client interface.
//
// Clients are built per credential and hold no state between calls. They
// never retry; errors are classified into the kinds declared in errors.go.
package hosting

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"
)

// Supported providers.
const (
	ProviderGitLab = "gitlab"
	ProviderGitHub = "github"
)

const (
	DefaultGitLabURL = "https://gitlab.com"
	DefaultGitHubURL = "https://api.github.com/"
	DefaultTimeout   = 30 * time.Second

	// projectsPageSize bounds ListProjects to a single page.
	projectsPageSize = 100
)

// DefaultMainBranches are the refs treated as the main branch when none are
// configured.
var DefaultMainBranches = []string{"main", "master"}

// Client is the hosting API surface used by the orchestrator, the trigger
// and the operator API.
type Client interface {
	ListProjects(ctx context.Context) ([]Project, error)
	ListLabels(ctx context.Context, projectID int64) ([]Label, error)
	ListOpenChangeRequests(ctx context.Context, projectID int64, labels []string) ([]ChangeRequest, error)
	MergeChangeRequest(ctx context.Context, projectID, iid int64) error
	LatestPipeline(ctx context.Context, projectID int64) (*PipelineStatus, error)
	TriggerStage(ctx context.Context, projectID int64, stage string) (*TriggerResult, error)
	EnsureWebhook(ctx context.Context, projectID int64, url, secret string) (bool, error)
}

// Options configures a Client.
type Options struct {
	Provider     string
	BaseURL      string
	Token        string
	MainBranches []string
	Timeout      time.Duration

	// RequestsPerSecond limits outbound calls; 0 means unlimited.
	RequestsPerSecond float64

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

func (o Options) withDefaults() Options {
	if o.Provider == "" {
		o.Provider = ProviderGitLab
	}
	if o.BaseURL == "" {
		switch o.Provider {
		case ProviderGitHub:
			o.BaseURL = DefaultGitHubURL
		default:
			o.BaseURL = DefaultGitLabURL
		}
	}
	if len(o.MainBranches) == 0 {
		o.MainBranches = DefaultMainBranches
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// New creates a Client for opts.Provider.
func New(opts Options) (Client, error) {
	opts = opts.withDefaults()
	if strings.TrimSpace(opts.Token) == "" {
		return nil, &Error{Op: "create client", Kind: ErrAuthenticationRejected, Message: "missing credential"}
	}
	switch opts.Provider {
	case ProviderGitLab:
		c, err := newGitLabClient(opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderGitHub:
		c, err := newGitHubClient(opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown hosting provider %q", opts.Provider)
	}
}

// Factory builds clients that share server-wide options and differ only in
// the operator credential. The main branch list can be replaced at runtime;
// clients built afterwards use the new list.
type Factory struct {
	base     Options
	branches atomic.Pointer[[]string]
}

// NewFactory returns a Factory for base; base.Token is ignored.
func NewFactory(base Options) *Factory {
	base.Token = ""
	f := &Factory{base: base.withDefaults()}
	f.SetMainBranches(f.base.MainBranches)
	return f
}

// ForCredential returns a Client authenticated with token.
func (f *Factory) ForCredential(token string) (Client, error) {
	opts := f.base
	opts.Token = token
	opts.MainBranches = f.MainBranches()
	return New(opts)
}

// Provider returns the configured provider name.
func (f *Factory) Provider() string {
	return f.base.Provider
}

// MainBranches returns the current main branch names.
func (f *Factory) MainBranches() []string {
	return slices.Clone(*f.branches.Load())
}

// SetMainBranches replaces the main branch names; an empty list restores
// DefaultMainBranches.
func (f *Factory) SetMainBranches(branches []string) {
	if len(branches) == 0 {
		branches = DefaultMainBranches
	}
	branches = slices.Clone(branches)
	f.branches.Store(&branches)
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: o.Timeout}
}
