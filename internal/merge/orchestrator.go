// Package merge runs bulk merges of selected change requests.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"mergeboard/internal/hosting"
)

// Merger is the part of hosting.Client the orchestrator needs.
type Merger interface {
	MergeChangeRequest(ctx context.Context, projectID, iid int64) error
}

// Recorder persists a finished batch. audit.Journal implements it.
type Recorder interface {
	RecordMergeBatch(ctx context.Context, result Result) error
}

// Outcome is the settled result of one merge.
type Outcome struct {
	RequestID     int64  `json:"request_id"`
	IID           int64  `json:"iid"`
	Title         string `json:"title,omitempty"`
	Succeeded     bool   `json:"succeeded"`
	AlreadyMerged bool   `json:"already_merged,omitempty"`
	ErrorKind     string `json:"error_kind,omitempty"`
	Error         string `json:"error,omitempty"`

	Err error `json:"-"`
}

// Result aggregates a batch once every merge has settled.
// SuccessCount+FailureCount equals len(Outcomes).
type Result struct {
	BatchID      string    `json:"batch_id"`
	ProjectID    int64     `json:"project_id"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	Outcomes     []Outcome `json:"outcomes"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Orchestrator fans out merges. It is stateless between calls.
type Orchestrator struct {
	logger   *slog.Logger
	recorder Recorder
}

// NewOrchestrator creates an Orchestrator. recorder may be nil.
func NewOrchestrator(logger *slog.Logger, recorder Recorder) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{logger: logger, recorder: recorder}
}

// MergeSelected merges every change request in listing whose ID is in
// requestIDs. Duplicate and unknown IDs are dropped. All merges start at
// once, none is cancelled by ctx, and the call returns after all of them
// have settled. Outcomes follow the order of requestIDs.
func (o *Orchestrator) MergeSelected(ctx context.Context, client Merger, projectID int64, listing []hosting.ChangeRequest, requestIDs []int64) Result {
	selected := o.resolve(listing, requestIDs)

	result := Result{
		BatchID:   uuid.NewString(),
		ProjectID: projectID,
		Outcomes:  make([]Outcome, len(selected)),
		StartedAt: time.Now().UTC(),
	}
	logger := o.logger.With("batch_id", result.BatchID, "project_id", projectID)
	logger.Info("Merge batch started", "requested", len(requestIDs), "resolved", len(selected))

	// Merges already sent must finish even if the operator goes away.
	mergeCtx := context.WithoutCancel(ctx)

	var wg conc.WaitGroup
	for i, cr := range selected {
		wg.Go(func() {
			result.Outcomes[i] = mergeOne(mergeCtx, client, projectID, cr)
		})
	}
	wg.Wait()

	for _, out := range result.Outcomes {
		if out.Succeeded {
			result.SuccessCount++
			logger.Info("Merged change request", "request_id", out.RequestID, "iid", out.IID, "already_merged", out.AlreadyMerged)
			continue
		}
		result.FailureCount++
		logger.Warn("Merge failed", "request_id", out.RequestID, "iid", out.IID, "error_kind", out.ErrorKind, "error", out.Err)
	}
	result.FinishedAt = time.Now().UTC()

	logger.Info("Merge batch finished",
		"success_count", result.SuccessCount,
		"failure_count", result.FailureCount,
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
	)

	if o.recorder != nil {
		if err := o.recorder.RecordMergeBatch(mergeCtx, result); err != nil {
			logger.Warn("Failed to record merge batch", "error", err)
		}
	}

	return result
}

func (o *Orchestrator) resolve(listing []hosting.ChangeRequest, requestIDs []int64) []hosting.ChangeRequest {
	byID := make(map[int64]hosting.ChangeRequest, len(listing))
	for _, cr := range listing {
		byID[cr.ID] = cr
	}

	seen := make(map[int64]bool, len(requestIDs))
	selected := make([]hosting.ChangeRequest, 0, len(requestIDs))
	for _, id := range requestIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		cr, ok := byID[id]
		if !ok {
			o.logger.Debug("Dropping unknown change request id", "request_id", id)
			continue
		}
		selected = append(selected, cr)
	}
	return selected
}

func mergeOne(ctx context.Context, client Merger, projectID int64, cr hosting.ChangeRequest) Outcome {
	out := Outcome{RequestID: cr.ID, IID: cr.IID, Title: cr.Title}

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = client.MergeChangeRequest(ctx, projectID, cr.IID) })
	if rec := pc.Recovered(); rec != nil {
		err = fmt.Errorf("merge of !%d panicked: %w", cr.IID, rec.AsError())
	}

	switch {
	case err == nil:
		out.Succeeded = true
	case hosting.IsSuccessEquivalent(err):
		out.Succeeded = true
		out.AlreadyMerged = true
	default:
		out.ErrorKind = hosting.KindOf(err)
		out.Error = err.Error()
		out.Err = err
	}
	return out
}
