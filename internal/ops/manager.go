package ops

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/platform/logger"
)

const (
	defaultPollInterval = time.Second
	defaultPollCeiling  = 120 * time.Second
)

// ErrTimedOut is the synthetic failure reported when polling gives up. The
// server-side job may well still be running; the operation just stops
// waiting for it.
var ErrTimedOut = errors.New("operation timed out")

// LocalBody is the work of a local operation. The context is cancelled when
// the operation is aborted.
type LocalBody func(ctx context.Context) (map[string]any, error)

// CompletionHandler runs when a background operation's job reaches a
// terminal status. Handlers are registered per job type and outlive
// whatever UI started the operation, so results persist even after the
// originating view is gone.
type CompletionHandler func(ctx context.Context, job *domain.Job)

// Manager tracks in-flight operations for one client process. It is built
// once and shared; all methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	api      JobAPI
	log      *logger.Logger
	ops      map[string]*Operation
	aborts   map[string]context.CancelFunc
	handlers map[string][]CompletionHandler
	subs     map[int]func([]Operation)
	nextSub  int

	pollInterval time.Duration
	pollCeiling  time.Duration
}

func NewManager(api JobAPI, baseLog *logger.Logger) *Manager {
	return &Manager{
		api:          api,
		log:          baseLog.With("component", "OperationsManager"),
		ops:          map[string]*Operation{},
		aborts:       map[string]context.CancelFunc{},
		handlers:     map[string][]CompletionHandler{},
		subs:         map[int]func([]Operation){},
		pollInterval: defaultPollInterval,
		pollCeiling:  defaultPollCeiling,
	}
}

// RegisterCompletion adds a handler invoked whenever a background operation
// of the given job type completes successfully.
func (m *Manager) RegisterCompletion(jobType string, h CompletionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[jobType] = append(m.handlers[jobType], h)
}

// StartLocal runs body as a tracked operation with an abort capability. An
// empty id defaults to type:targetId; a colliding id aborts the previous
// operation first.
func (m *Manager) StartLocal(ctx context.Context, id string, meta Meta, body LocalBody) string {
	if id == "" {
		id = DefaultID(meta.Type, meta.TargetID)
	}
	meta.StartedAt = time.Now()

	m.Abort(id)

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.ops[id] = &Operation{ID: id, Status: StatusInProgress, Meta: meta}
	m.aborts[id] = cancel
	m.mu.Unlock()
	m.notify()

	go func() {
		result, err := body(runCtx)
		if runCtx.Err() != nil {
			// Aborted mid-body; Abort already recorded the status.
			return
		}
		if err != nil {
			m.finish(id, StatusFailed, nil, err)
			return
		}
		m.finish(id, StatusComplete, result, nil)
	}()
	return id
}

// StartBackground tracks a server-side job by polling its status until it
// reaches a terminal state or the wall-clock ceiling elapses. Completion
// handlers for the job's type fire on success.
func (m *Manager) StartBackground(ctx context.Context, id string, meta Meta) string {
	if id == "" {
		id = DefaultID(meta.Type, meta.TargetID)
	}
	meta.StartedAt = time.Now()

	m.Abort(id)

	pollCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.ops[id] = &Operation{ID: id, Status: StatusPending, Meta: meta}
	m.aborts[id] = cancel
	m.mu.Unlock()
	m.notify()

	go m.poll(pollCtx, id, meta)
	return id
}

func (m *Manager) poll(ctx context.Context, id string, meta Meta) {
	deadline := time.Now().Add(m.pollCeiling)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, err := m.api.GetJob(ctx, meta.JobID)
		if err != nil {
			m.log.Warn("job poll failed", "operation_id", id, "job_id", meta.JobID, "error", err)
		}
		if job != nil {
			switch job.Status {
			case domain.JobRunning:
				m.setStatus(id, StatusInProgress)
			case domain.JobCompleted:
				m.finish(id, StatusComplete, job.Result, nil)
				// Handlers outlive the operation (and whatever UI started
				// it), so they never run under the poll context.
				m.runHandlers(context.Background(), job)
				return
			case domain.JobFailed:
				m.finish(id, StatusFailed, nil, errors.New(job.Error))
				return
			case domain.JobCancelled:
				m.finish(id, StatusAborted, nil, nil)
				return
			}
		} else if err == nil {
			// Deleted out from under us; treat like cancellation.
			m.finish(id, StatusAborted, nil, nil)
			return
		}

		if time.Now().After(deadline) {
			m.finish(id, StatusFailed, nil, ErrTimedOut)
			return
		}
	}
}

func (m *Manager) runHandlers(ctx context.Context, job *domain.Job) {
	m.mu.Lock()
	hs := append([]CompletionHandler(nil), m.handlers[job.Type]...)
	m.mu.Unlock()
	for _, h := range hs {
		h(ctx, job)
	}
}

// Abort cancels an active operation. For a background operation this also
// best-effort cancels the server-side job; stopping the poll alone would
// leave the job running with nobody tracking it. Terminal operations are
// left alone.
func (m *Manager) Abort(id string) bool {
	m.mu.Lock()
	op, ok := m.ops[id]
	if !ok || op.Status.Terminal() {
		m.mu.Unlock()
		return false
	}
	op.Status = StatusAborted
	jobID := op.Meta.JobID
	cancel := m.aborts[id]
	delete(m.aborts, id)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if jobID != "" {
		go func() {
			if _, err := m.api.CancelJob(context.Background(), jobID); err != nil {
				m.log.Warn("server-side job cancel failed", "operation_id", id, "job_id", jobID, "error", err)
			}
		}()
	}
	m.notify()
	return true
}

// Get returns a snapshot of one operation, or nil.
func (m *Manager) Get(id string) *Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op, ok := m.ops[id]; ok {
		cp := op.clone()
		return &cp
	}
	return nil
}

// Snapshot returns copies of all tracked operations.
func (m *Manager) Snapshot() []Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() []Operation {
	out := make([]Operation, 0, len(m.ops))
	for _, op := range m.ops {
		out = append(out, op.clone())
	}
	return out
}

// Watch subscribes to snapshot updates, delivering the current snapshot
// immediately. Returns an unsubscribe function.
func (m *Manager) Watch(cb func([]Operation)) func() {
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = cb
	snap := m.snapshotLocked()
	m.mu.Unlock()

	cb(snap)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Manager) setStatus(id string, status Status) {
	m.mu.Lock()
	op, ok := m.ops[id]
	if !ok || op.Status.Terminal() || op.Status == status {
		m.mu.Unlock()
		return
	}
	op.Status = status
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) finish(id string, status Status, result map[string]any, err error) {
	m.mu.Lock()
	op, ok := m.ops[id]
	if !ok || op.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	op.Status = status
	op.Result = result
	if err != nil {
		op.Err = err.Error()
	}
	cancel := m.aborts[id]
	delete(m.aborts, id)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.notify()
}

func (m *Manager) notify() {
	m.mu.Lock()
	snap := m.snapshotLocked()
	cbs := make([]func([]Operation), 0, len(m.subs))
	for _, cb := range m.subs {
		cbs = append(cbs, cb)
	}
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(snap)
	}
}
