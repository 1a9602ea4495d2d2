package ops

import (
	"context"
	"encoding/json"

	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/sse"
)

// Tracker turns job-created announcements into tracked background
// operations, so completion handlers fire no matter which surface created
// the job. Only the configured job types are tracked.
type Tracker struct {
	manager *Manager
	types   map[string]bool
}

func NewTracker(manager *Manager, jobTypes ...string) *Tracker {
	types := make(map[string]bool, len(jobTypes))
	for _, t := range jobTypes {
		types[t] = true
	}
	return &Tracker{manager: manager, types: types}
}

// OnEvent inspects one bus message and starts tracking when it announces a
// job of a tracked type. Everything else is ignored.
func (t *Tracker) OnEvent(ctx context.Context, msg sse.Message) {
	if msg.Channel != sse.JobsChannel || msg.Event != sse.EventJobCreated {
		return
	}
	job := decodeJobEvent(msg.Data)
	if job == nil || !t.types[job.Type] {
		return
	}
	t.manager.StartBackground(ctx, "", Meta{
		Type:     job.Type,
		TargetID: job.TargetID,
		JobID:    job.ID,
	})
}

// decodeJobEvent tolerates both in-process delivery (the job pointer
// itself) and cross-process delivery (the JSON shape after a bus round
// trip).
func decodeJobEvent(data any) *domain.Job {
	m, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := m["job"]
	if !ok || raw == nil {
		return nil
	}
	if job, ok := raw.(*domain.Job); ok {
		return job
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var job domain.Job
	if err := json.Unmarshal(buf, &job); err != nil || job.ID == "" {
		return nil
	}
	return &job
}
