package audit

import "time"

// MergeRecord is one merge outcome of a batch.
type MergeRecord struct {
	ID            int64     `json:"id"`
	BatchID       string    `json:"batch_id"`
	ProjectID     int64     `json:"project_id"`
	RequestID     int64     `json:"request_id"`
	IID           int64     `json:"iid"`
	Succeeded     bool      `json:"succeeded"`
	AlreadyMerged bool      `json:"already_merged"`
	ErrorKind     *string   `json:"error_kind,omitempty"`    // nullable
	ErrorMessage  *string   `json:"error_message,omitempty"` // nullable
	RecordedAt    time.Time `json:"recorded_at"`
}

// TriggerRecord is one manual stage trigger attempt.
type TriggerRecord struct {
	ID           int64     `json:"id"`
	ProjectID    int64     `json:"project_id"`
	Stage        string    `json:"stage"`
	Mode         *string   `json:"mode,omitempty"`        // nullable, set on success
	Ref          *string   `json:"ref,omitempty"`         // nullable, set on success
	PipelineID   *int64    `json:"pipeline_id,omitempty"` // nullable
	Succeeded    bool      `json:"succeeded"`
	ErrorKind    *string   `json:"error_kind,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	TriggeredAt  time.Time `json:"triggered_at"`
}
