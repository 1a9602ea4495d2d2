package services

import (
	"context"

	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/sse"
)

// JobNotifier publishes job lifecycle events to the SSE layer. Executors and
// the API boundary never talk to the hub directly.
type JobNotifier interface {
	JobCreated(job *domain.Job)
	JobProgress(job *domain.Job, stage string, progress int, message string)
	JobDone(job *domain.Job)
	JobFailed(job *domain.Job, stage string, errorMessage string)
	JobCancelled(job *domain.Job)
}

type jobNotifier struct {
	bus Bus
}

func NewJobNotifier(bus Bus) JobNotifier {
	return &jobNotifier{bus: bus}
}

func (n *jobNotifier) publish(event sse.Event, data map[string]any) {
	_ = n.bus.Publish(context.Background(), sse.Message{
		Channel: sse.JobsChannel,
		Event:   event,
		Data:    data,
	})
}

func (n *jobNotifier) JobCreated(job *domain.Job) {
	n.publish(sse.EventJobCreated, map[string]any{"job": job})
}

func (n *jobNotifier) JobProgress(job *domain.Job, stage string, progress int, message string) {
	n.publish(sse.EventJobProgress, map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"stage":    stage,
		"progress": progress,
		"message":  message,
	})
}

func (n *jobNotifier) JobDone(job *domain.Job) {
	n.publish(sse.EventJobDone, map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"job":      job,
	})
}

func (n *jobNotifier) JobFailed(job *domain.Job, stage string, errorMessage string) {
	n.publish(sse.EventJobFailed, map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"stage":    stage,
		"error":    errorMessage,
	})
}

func (n *jobNotifier) JobCancelled(job *domain.Job) {
	n.publish(sse.EventJobCancelled, map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
	})
}
