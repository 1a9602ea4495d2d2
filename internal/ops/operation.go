package ops

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
	StatusAborted    Status = "aborted"
)

func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusAborted
}

// Meta describes what an operation is doing, independent of how it runs.
type Meta struct {
	Type        string         `json:"type"`
	TargetID    string         `json:"targetId,omitempty"`
	JobID       string         `json:"jobId,omitempty"`
	Description string         `json:"description,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	Context     map[string]any `json:"context,omitempty"`
}

// Operation is one tracked unit of client work: either a local body with an
// abort capability, or a background job driven purely by status polling.
type Operation struct {
	ID     string         `json:"id"`
	Status Status         `json:"status"`
	Meta   Meta           `json:"meta"`
	Result map[string]any `json:"result,omitempty"`
	Err    string         `json:"error,omitempty"`
}

func (o *Operation) clone() Operation {
	cp := *o
	return cp
}

// DefaultID is the collision key: at most one active operation per
// (type, targetId) pair.
func DefaultID(opType, targetID string) string {
	if targetID == "" {
		return opType
	}
	return opType + ":" + targetID
}
