package domain

import "time"

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further status transition is permitted.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job types handled by the executor registry.
const (
	JobTypeTopicRegeneration     = "topic-regeneration"
	JobTypeChallengeRegeneration = "challenge-regeneration"
	JobTypeGoalRegeneration      = "goal-regeneration"
	JobTypeChatReply             = "chat-reply"
)

// Job is one persisted background AI operation and its lifecycle.
// Terminal statuses are immutable once written; the ledger enforces that.
type Job struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	TargetID    string         `json:"targetId,omitempty"`
	Status      JobStatus      `json:"status"`
	Stage       string         `json:"stage,omitempty"`
	Progress    int            `json:"progress,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	HeartbeatAt *time.Time     `json:"heartbeatAt,omitempty"`
}

// Active reports whether an executor may still be driving this job.
func (j *Job) Active() bool {
	return j != nil && (j.Status == JobPending || j.Status == JobRunning)
}

func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Input != nil {
		cp.Input = make(map[string]any, len(j.Input))
		for k, v := range j.Input {
			cp.Input[k] = v
		}
	}
	if j.Result != nil {
		cp.Result = make(map[string]any, len(j.Result))
		for k, v := range j.Result {
			cp.Result[k] = v
		}
	}
	return &cp
}
