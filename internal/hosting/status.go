package hosting

import "slices"

// statusPrecedence decides the aggregate state of a stage from its jobs: the
// first state present wins.
var statusPrecedence = []Status{
	StatusRunning,
	StatusPending,
	StatusPreparing,
	StatusWaitingForResource,
	StatusFailed,
	StatusCanceled,
	StatusManual,
	StatusScheduled,
	StatusCreated,
	StatusSuccess,
	StatusSkipped,
}

// AggregateStatus folds job states into one stage state.
func AggregateStatus(statuses []Status) Status {
	if len(statuses) == 0 {
		return StatusCreated
	}
	for _, s := range statusPrecedence {
		if slices.Contains(statuses, s) {
			switch s {
			case StatusPreparing, StatusWaitingForResource:
				return StatusPending
			}
			return s
		}
	}
	return statuses[0]
}

// JobState is one job of a pipeline as far as stage aggregation cares.
type JobState struct {
	ID     int64
	Stage  string
	Name   string
	Status Status
	Manual bool
}

// BuildStages returns stages in the order given, with status and manual flag
// recomputed from the jobs that belong to each stage. Stages only known from
// jobs are appended in first-seen order. Stages without jobs keep what they
// came with.
func BuildStages(stages []StageStatus, jobs []JobState) []StageStatus {
	out := slices.Clone(stages)
	index := make(map[string]int, len(out))
	for i, s := range out {
		index[s.Name] = i
	}
	for _, j := range jobs {
		if _, ok := index[j.Stage]; !ok {
			index[j.Stage] = len(out)
			out = append(out, StageStatus{Name: j.Stage})
		}
	}

	byStage := make(map[string][]Status, len(out))
	for _, j := range jobs {
		byStage[j.Stage] = append(byStage[j.Stage], j.Status)
		if j.Manual || j.Status == StatusManual {
			out[index[j.Stage]].Manual = true
		}
	}
	for i := range out {
		if statuses, ok := byStage[out[i].Name]; ok {
			out[i].Status = AggregateStatus(statuses)
		} else if out[i].Status == "" {
			out[i].Status = StatusCreated
		}
	}
	return out
}

// GitHubStatus maps a GitHub Actions status/conclusion pair onto Status.
func GitHubStatus(status, conclusion string) Status {
	switch status {
	case "queued", "requested", "waiting", "pending":
		return StatusPending
	case "in_progress":
		return StatusRunning
	case "completed":
		switch conclusion {
		case "success":
			return StatusSuccess
		case "failure", "timed_out", "startup_failure":
			return StatusFailed
		case "cancelled":
			return StatusCanceled
		case "skipped", "neutral", "stale":
			return StatusSkipped
		case "action_required":
			return StatusManual
		}
		return Status(conclusion)
	}
	return Status(status)
}
