package registry

import (
	"context"
	"sync"

	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/jobs/ledger"
	"github.com/devpath/devpath-backend/internal/platform/logger"
)

// Canceller is the destroy capability of whatever live session is executing
// a job. It is not serializable and is meaningless outside the owning
// process, so entries are never persisted: after a process restart, cancel
// can only flip the persisted status and rely on the executor noticing.
type Canceller interface {
	Destroy(ctx context.Context) error
}

// Registry maps job id to the live session's destroy capability.
type Registry struct {
	mu      sync.Mutex
	log     *logger.Logger
	ledger  *ledger.Ledger
	entries map[string]Canceller
}

func New(jobLedger *ledger.Ledger, baseLog *logger.Logger) *Registry {
	return &Registry{
		log:     baseLog.With("component", "CancellationRegistry"),
		ledger:  jobLedger,
		entries: map[string]Canceller{},
	}
}

func (r *Registry) Register(jobID string, c Canceller) {
	if jobID == "" || c == nil {
		return
	}
	r.mu.Lock()
	r.entries[jobID] = c
	r.mu.Unlock()
}

func (r *Registry) Unregister(jobID string) {
	r.mu.Lock()
	delete(r.entries, jobID)
	r.mu.Unlock()
}

// Cancel flips the persisted status to cancelled first (the ledger is the
// source of truth), then best-effort destroys any live session in this
// process. Returns false when the job is absent or already terminal, so a
// second cancel of the same job is an observable no-op.
func (r *Registry) Cancel(ctx context.Context, jobID string) bool {
	job, err := r.ledger.Get(ctx, jobID)
	if err != nil || job == nil || job.Status.Terminal() {
		return false
	}
	if _, err := r.ledger.MarkCancelled(ctx, jobID, "Cancelled by user"); err != nil {
		r.log.Warn("cancel: status write failed", "job_id", jobID, "error", err)
	}

	r.mu.Lock()
	entry := r.entries[jobID]
	delete(r.entries, jobID)
	r.mu.Unlock()

	if entry != nil {
		if derr := entry.Destroy(ctx); derr != nil {
			r.log.Warn("cancel: session destroy failed", "job_id", jobID, "error", derr)
		}
	}
	return true
}

// IsJobStillValid re-reads the job from the store and reports whether the
// executor may keep going. Cancellation is cooperative: executors call this
// at every natural suspension point, before and after expensive external
// calls.
func (r *Registry) IsJobStillValid(ctx context.Context, jobID string) bool {
	r.ledger.InvalidateCache()
	job, err := r.ledger.Get(ctx, jobID)
	if err != nil || job == nil {
		return false
	}
	return job.Status != domain.JobCancelled
}
