package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/jobs/ledger"
	"github.com/devpath/devpath-backend/internal/jobs/registry"
	"github.com/devpath/devpath-backend/internal/platform/logger"
	"github.com/devpath/devpath-backend/internal/services"
)

// Context is the execution handle for a single job run. It wraps the job
// record, the ledger, the cancellation registry, and the only sanctioned
// ways to report progress or terminate execution. Executors never write the
// ledger directly.
//
// Terminal writes are guarded: once a job is cancelled (or otherwise
// terminal) Succeed and Fail silently back off instead of overwriting the
// status the cancellation path already wrote.
type Context struct {
	Ctx      context.Context
	Job      *domain.Job
	Ledger   *ledger.Ledger
	Registry *registry.Registry
	Notify   services.JobNotifier
	Log      *logger.Logger
}

func NewContext(ctx context.Context, job *domain.Job, l *ledger.Ledger, r *registry.Registry, notify services.JobNotifier, baseLog *logger.Logger) *Context {
	return &Context{
		Ctx:      ctx,
		Job:      job,
		Ledger:   l,
		Registry: r,
		Notify:   notify,
		Log:      baseLog.With("job_id", job.ID, "job_type", job.Type),
	}
}

// StillValid re-reads the job and reports whether execution may continue.
// Executors call this at every natural suspension point.
func (c *Context) StillValid() bool {
	return c.Registry.IsJobStillValid(c.Ctx, c.Job.ID)
}

// MarkRunning transitions the job out of pending.
func (c *Context) MarkRunning() error {
	job, err := c.Ledger.MarkRunning(c.Ctx, c.Job.ID)
	if errors.Is(err, ledger.ErrTerminal) {
		return err
	}
	if err != nil {
		return err
	}
	if job != nil {
		c.Job = job
	}
	return nil
}

// Progress publishes a non-terminal status update. Rejected writes (job
// already terminal) are dropped without notifying.
func (c *Context) Progress(stage string, pct int, msg string) {
	_, err := c.Ledger.Update(c.Ctx, c.Job.ID, ledger.Patch{Stage: &stage, Progress: &pct})
	if err != nil {
		if !errors.Is(err, ledger.ErrTerminal) {
			c.Log.Warn("progress write failed", "stage", stage, "error", err)
		}
		return
	}
	c.Job.Stage = stage
	c.Job.Progress = pct
	if c.Notify != nil {
		c.Notify.JobProgress(c.Job, stage, pct, msg)
	}
}

// Succeed marks the job completed with its structured result. If the write
// is rejected because the job is already terminal (typically cancelled),
// the executor returns silently; the other writer's status stands.
func (c *Context) Succeed(result map[string]any) {
	job, err := c.Ledger.MarkCompleted(c.Ctx, c.Job.ID, result)
	if errors.Is(err, ledger.ErrTerminal) {
		return
	}
	if err != nil {
		c.Log.Error("completion write failed", "error", err)
		return
	}
	if job != nil {
		c.Job = job
	}
	if c.Notify != nil {
		c.Notify.JobDone(c.Job)
	}
}

// Fail marks the job failed with the error's message, under the same
// terminal guard as Succeed.
func (c *Context) Fail(stage string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	job, uerr := c.Ledger.MarkFailed(c.Ctx, c.Job.ID, msg)
	if errors.Is(uerr, ledger.ErrTerminal) {
		return
	}
	if uerr != nil {
		c.Log.Error("failure write failed", "stage", stage, "error", uerr)
		return
	}
	if job != nil {
		c.Job = job
	}
	if c.Notify != nil {
		c.Notify.JobFailed(c.Job, stage, msg)
	}
}

// InputString reads a string field from the job input.
func (c *Context) InputString(key string) string {
	if c.Job == nil || c.Job.Input == nil {
		return ""
	}
	if v, ok := c.Job.Input[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// InputStrings reads a string-list field from the job input, tolerating the
// []any shape JSON decoding produces.
func (c *Context) InputStrings(key string) []string {
	if c.Job == nil || c.Job.Input == nil {
		return nil
	}
	raw, ok := c.Job.Input[key]
	if !ok || raw == nil {
		return nil
	}
	switch vs := raw.(type) {
	case []string:
		out := make([]string, len(vs))
		copy(out, vs)
		return out
	case []any:
		out := make([]string, 0, len(vs))
		for _, v := range vs {
			if v != nil {
				out = append(out, fmt.Sprint(v))
			}
		}
		return out
	default:
		return nil
	}
}
