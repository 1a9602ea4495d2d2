package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devpath/devpath-backend/internal/docstore"
	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/jobs/ledger"
	"github.com/devpath/devpath-backend/internal/jobs/registry"
	"github.com/devpath/devpath-backend/internal/jobs/runtime"
	"github.com/devpath/devpath-backend/internal/platform/logger"
)

type funcHandler struct {
	jobType string
	run     func(jc *runtime.Context) error
}

func (h *funcHandler) Type() string                  { return h.jobType }
func (h *funcHandler) Run(jc *runtime.Context) error { return h.run(jc) }

func newDispatchFixture(t *testing.T, handlers ...runtime.Handler) (*ledger.Ledger, *Dispatcher) {
	t.Helper()
	l := ledger.New(docstore.NewMemoryStore(), logger.Nop())
	r := registry.New(l, logger.Nop())
	hr := runtime.NewHandlerRegistry()
	for _, h := range handlers {
		if err := hr.Register(h); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return l, NewDispatcher(hr, l, r, nil, logger.Nop())
}

func waitForStatus(t *testing.T, l *ledger.Ledger, id string, want domain.JobStatus) *domain.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := l.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(time.Millisecond)
	}
	job, _ := l.Get(context.Background(), id)
	t.Fatalf("job %s never reached %q, got %+v", id, want, job)
	return nil
}

func TestDispatchRunsHandler(t *testing.T) {
	h := &funcHandler{jobType: "noop", run: func(jc *runtime.Context) error {
		if err := jc.MarkRunning(); err != nil {
			return nil
		}
		jc.Succeed(map[string]any{"ok": true})
		return nil
	}}
	l, d := newDispatchFixture(t, h)

	job, err := l.Create(context.Background(), &domain.Job{ID: "j1", Type: "noop"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d.Dispatch(job)

	got := waitForStatus(t, l, "j1", domain.JobCompleted)
	if got.Result["ok"] != true {
		t.Fatalf("result = %#v", got.Result)
	}
}

func TestDispatchMissingHandlerFailsJob(t *testing.T) {
	l, d := newDispatchFixture(t)
	job, err := l.Create(context.Background(), &domain.Job{ID: "j1", Type: "unknown"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d.Dispatch(job)
	waitForStatus(t, l, "j1", domain.JobFailed)
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	h := &funcHandler{jobType: "boom", run: func(jc *runtime.Context) error {
		_ = jc.MarkRunning()
		panic("executor bug")
	}}
	l, d := newDispatchFixture(t, h)
	job, err := l.Create(context.Background(), &domain.Job{ID: "j1", Type: "boom"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d.Dispatch(job)
	waitForStatus(t, l, "j1", domain.JobFailed)
}

func TestDispatchTurnsReturnedErrorIntoFailure(t *testing.T) {
	h := &funcHandler{jobType: "erring", run: func(jc *runtime.Context) error {
		_ = jc.MarkRunning()
		return errors.New("forgot to call Fail")
	}}
	l, d := newDispatchFixture(t, h)
	job, err := l.Create(context.Background(), &domain.Job{ID: "j1", Type: "erring"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d.Dispatch(job)
	waitForStatus(t, l, "j1", domain.JobFailed)
}
