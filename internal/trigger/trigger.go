// Package trigger starts a manual pipeline stage on the main branch.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mergeboard/internal/hosting"
	"mergeboard/internal/security"
)

// ErrInvalidStage is returned before any hosting call when the stage name is
// unusable.
var ErrInvalidStage = errors.New("invalid stage name")

// Triggerer is the part of hosting.Client the service needs.
type Triggerer interface {
	TriggerStage(ctx context.Context, projectID int64, stage string) (*hosting.TriggerResult, error)
}

// Record is one trigger attempt as written to the audit journal.
type Record struct {
	ProjectID  int64
	Stage      string
	Mode       string
	Ref        string
	PipelineID int64
	Succeeded  bool
	ErrorKind  string
	Error      string
	At         time.Time
}

// Recorder persists trigger attempts. audit.Journal implements it.
type Recorder interface {
	RecordTrigger(ctx context.Context, rec Record) error
}

// Service triggers manual stages. It is stateless between calls.
type Service struct {
	logger   *slog.Logger
	recorder Recorder
}

// NewService creates a Service. recorder may be nil.
func NewService(logger *slog.Logger, recorder Recorder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger, recorder: recorder}
}

// TriggerStage asks the hosting service to run stage on the main branch of
// projectID. Every hosting failure matches hosting.ErrTriggerRejected; the
// underlying kind stays reachable with errors.Is. The resulting pipeline
// state arrives later through the webhook.
func (s *Service) TriggerStage(ctx context.Context, client Triggerer, projectID int64, stage string) (*hosting.TriggerResult, error) {
	if err := security.ValidateStageName(stage); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStage, err)
	}

	logger := s.logger.With("project_id", projectID, "stage", stage)

	result, err := client.TriggerStage(ctx, projectID, stage)
	if err != nil && !errors.Is(err, hosting.ErrTriggerRejected) {
		err = fmt.Errorf("trigger stage %q: %w: %w", stage, hosting.ErrTriggerRejected, err)
	}

	rec := Record{ProjectID: projectID, Stage: stage, At: time.Now().UTC()}
	if err != nil {
		rec.ErrorKind = hosting.KindOf(err)
		rec.Error = err.Error()
		logger.Warn("Stage trigger failed", "error_kind", rec.ErrorKind, "error", err)
	} else {
		rec.Succeeded = true
		rec.Mode = result.Mode
		rec.Ref = result.Ref
		rec.PipelineID = result.PipelineID
		logger.Info("Stage triggered", "mode", result.Mode, "ref", result.Ref, "pipeline_id", result.PipelineID, "jobs", len(result.Jobs))
	}

	if s.recorder != nil {
		if recErr := s.recorder.RecordTrigger(context.WithoutCancel(ctx), rec); recErr != nil {
			logger.Warn("Failed to record stage trigger", "error", recErr)
		}
	}

	if err != nil {
		return nil, err
	}
	return result, nil
}
