package dispatch

import (
	"context"

	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/jobs/ledger"
	"github.com/devpath/devpath-backend/internal/jobs/registry"
	"github.com/devpath/devpath-backend/internal/jobs/runtime"
	"github.com/devpath/devpath-backend/internal/platform/logger"
	"github.com/devpath/devpath-backend/internal/services"
)

// Dispatcher launches executors fire-and-forget. Nothing thrown inside a
// job run may crash the serving process: panics and returned errors are
// caught here and turn into a failed job record.
type Dispatcher struct {
	log      *logger.Logger
	handlers *runtime.HandlerRegistry
	ledger   *ledger.Ledger
	registry *registry.Registry
	notify   services.JobNotifier
}

func NewDispatcher(handlers *runtime.HandlerRegistry, l *ledger.Ledger, r *registry.Registry, notify services.JobNotifier, baseLog *logger.Logger) *Dispatcher {
	return &Dispatcher{
		log:      baseLog.With("component", "JobDispatcher"),
		handlers: handlers,
		ledger:   l,
		registry: r,
		notify:   notify,
	}
}

// Dispatch starts the job's executor on its own goroutine. The executor
// runs detached from the request context: the job must keep going after the
// requesting connection is gone.
func (d *Dispatcher) Dispatch(job *domain.Job) {
	go d.run(job)
}

func (d *Dispatcher) run(job *domain.Job) {
	jc := runtime.NewContext(context.Background(), job, d.ledger, d.registry, d.notify, d.log)

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("job handler panic", "job_id", job.ID, "job_type", job.Type, "panic", r)
			jc.Fail("panic", &panicError{val: r})
		}
	}()

	h, ok := d.handlers.Get(job.Type)
	if !ok {
		d.log.Warn("no handler registered for job_type", "job_type", job.Type, "job_id", job.ID)
		jc.Fail("dispatch", &missingHandlerError{jobType: job.Type})
		return
	}
	if err := h.Run(jc); err != nil {
		// Executors normally call jc.Fail themselves; this is a safety net.
		jc.Fail("run", err)
	}
}

type missingHandlerError struct{ jobType string }

func (e *missingHandlerError) Error() string {
	return "no handler registered for job_type=" + e.jobType
}

type panicError struct{ val any }

func (e *panicError) Error() string { return "panic: unexpected error" }
