package history

import (
	"time"

	"github.com/pavetsu14/dockhand/internal/pipeline"
)

// RunRecord is the host-side record of one pipeline run.
type RunRecord struct {
	RunID     string                `json:"run_id"`
	Workflow  string                `json:"workflow"`
	EventKind string                `json:"event"`
	Branch    string                `json:"branch"`
	Commit    string                `json:"commit,omitempty"`
	Status    string                `json:"status"`
	Error     string                `json:"error,omitempty"`
	Steps     []pipeline.StepResult `json:"steps"`
	Started   time.Time             `json:"started"`
	Finished  time.Time             `json:"finished"`
}

// FromResult converts a pipeline result into its history record.
func FromResult(res pipeline.Result) RunRecord {
	return RunRecord{
		RunID:     res.RunID,
		Workflow:  res.Workflow,
		EventKind: res.Event.Kind,
		Branch:    res.Event.Branch,
		Commit:    res.Event.Commit,
		Status:    res.Status,
		Error:     res.Error,
		Steps:     res.Steps,
		Started:   res.Started,
		Finished:  res.Finished,
	}
}
