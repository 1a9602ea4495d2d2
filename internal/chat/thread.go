package chat

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PlaceholderPrefix marks an in-progress assistant message id. The suffix is
// the job id of the writer streaming into it.
const PlaceholderPrefix = "pending-"

// CursorMarker trails in-progress content so partially streamed text is
// never mistaken for a finalized reply.
const CursorMarker = "▌"

type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type Thread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PlaceholderID returns the in-progress assistant message id for a job.
func PlaceholderID(jobID string) string { return PlaceholderPrefix + jobID }

// FinalMessageID is deterministic per job so that two independent writers
// finalizing the same request converge on the same message identity.
func FinalMessageID(jobID string) string { return "assistant-" + jobID }
