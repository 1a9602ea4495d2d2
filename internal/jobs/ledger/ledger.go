package ledger

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/devpath/devpath-backend/internal/docstore"
	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/platform/logger"
)

// DocumentName is the persisted ledger document key.
const DocumentName = "job-ledger"

const (
	// Terminal jobs older than this are pruned on create.
	terminalRetention = time.Hour
	// Hard cap on ledger size; oldest terminal jobs are evicted first.
	maxJobs = 100
)

// ErrTerminal is returned by Update when a patch would change the status of
// a job that has already reached a terminal state.
var ErrTerminal = errors.New("job already terminal")

type ledgerDoc struct {
	Jobs map[string]*domain.Job `json:"jobs"`
}

var ledgerSchema = map[string]any{
	"type":     "object",
	"required": []any{"jobs"},
	"properties": map[string]any{
		"jobs": map[string]any{"type": "object"},
	},
}

// Patch is a partial update merged into a job record. Nil fields are left
// untouched.
type Patch struct {
	Status      *domain.JobStatus
	Stage       *string
	Progress    *int
	Result      map[string]any
	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
	HeartbeatAt *time.Time
}

// Ledger owns the persisted job map. Reads are served from a process-local
// cache populated lazily from the document store; InvalidateCache forces the
// next read back to the store. Readers that need cross-process freshness
// (status polling, GET by id) must invalidate before reading.
type Ledger struct {
	mu     sync.Mutex
	store  docstore.Store
	log    *logger.Logger
	cache  map[string]*domain.Job
	loaded bool
	now    func() time.Time
}

func New(store docstore.Store, baseLog *logger.Logger) *Ledger {
	return &Ledger{
		store: store,
		log:   baseLog.With("component", "JobLedger"),
		now:   time.Now,
	}
}

// load populates the cache from the store. Read failures fall back to an
// empty ledger; they never surface to callers.
func (l *Ledger) load(ctx context.Context) {
	if l.loaded {
		return
	}
	var doc ledgerDoc
	err := l.store.Read(ctx, DocumentName, docstore.ReadOptions{
		Schema:  ledgerSchema,
		Default: func() any { return ledgerDoc{Jobs: map[string]*domain.Job{}} },
	}, &doc)
	if err != nil {
		l.log.Warn("ledger read failed; starting empty", "error", err)
		doc.Jobs = map[string]*domain.Job{}
	}
	if doc.Jobs == nil {
		doc.Jobs = map[string]*domain.Job{}
	}
	l.cache = doc.Jobs
	l.loaded = true
}

// flush writes the full cached map back to the store. The cache has already
// been updated by the time this runs, so a write failure leaves memory ahead
// of disk until the next successful write.
func (l *Ledger) flush(ctx context.Context) error {
	return l.store.Write(ctx, DocumentName, ledgerDoc{Jobs: l.cache})
}

// Create persists a new pending job, pruning old terminal jobs first.
func (l *Ledger) Create(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return nil, errors.New("missing job id")
	}
	if strings.TrimSpace(job.Type) == "" {
		return nil, errors.New("missing job type")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.load(ctx)
	if _, exists := l.cache[job.ID]; exists {
		return nil, errors.New("job id already exists: " + job.ID)
	}
	l.prune()

	rec := job.Clone()
	rec.Status = domain.JobPending
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}
	l.cache[rec.ID] = rec
	if err := l.flush(ctx); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Get returns the job or nil when absent. Serves from cache; callers that
// need cross-process freshness invalidate first.
func (l *Ledger) Get(ctx context.Context, id string) (*domain.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.load(ctx)
	return l.cache[id].Clone(), nil
}

// Update merges patch into the job and persists the ledger. Returns nil when
// the job is absent. A status change against a terminal job is refused with
// ErrTerminal; other terminal-job field tweaks are refused the same way so
// terminal records stay immutable.
func (l *Ledger) Update(ctx context.Context, id string, patch Patch) (*domain.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.load(ctx)
	rec, ok := l.cache[id]
	if !ok {
		return nil, nil
	}
	if rec.Status.Terminal() {
		return rec.Clone(), ErrTerminal
	}
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.Stage != nil {
		rec.Stage = *patch.Stage
	}
	if patch.Progress != nil {
		rec.Progress = *patch.Progress
	}
	if patch.Result != nil {
		rec.Result = patch.Result
	}
	if patch.Error != nil {
		rec.Error = *patch.Error
	}
	if patch.StartedAt != nil {
		rec.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		rec.CompletedAt = patch.CompletedAt
	}
	if patch.HeartbeatAt != nil {
		rec.HeartbeatAt = patch.HeartbeatAt
	}
	if err := l.flush(ctx); err != nil {
		return rec.Clone(), err
	}
	return rec.Clone(), nil
}

func (l *Ledger) MarkRunning(ctx context.Context, id string) (*domain.Job, error) {
	now := l.now()
	status := domain.JobRunning
	return l.Update(ctx, id, Patch{Status: &status, StartedAt: &now, HeartbeatAt: &now})
}

func (l *Ledger) MarkCompleted(ctx context.Context, id string, result map[string]any) (*domain.Job, error) {
	now := l.now()
	status := domain.JobCompleted
	progress := 100
	return l.Update(ctx, id, Patch{Status: &status, Result: result, Progress: &progress, CompletedAt: &now})
}

func (l *Ledger) MarkFailed(ctx context.Context, id string, errMsg string) (*domain.Job, error) {
	now := l.now()
	status := domain.JobFailed
	return l.Update(ctx, id, Patch{Status: &status, Error: &errMsg, CompletedAt: &now})
}

func (l *Ledger) MarkCancelled(ctx context.Context, id string, reason string) (*domain.Job, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "Cancelled by user"
	}
	now := l.now()
	status := domain.JobCancelled
	return l.Update(ctx, id, Patch{Status: &status, Error: &reason, CompletedAt: &now})
}

func (l *Ledger) Heartbeat(ctx context.Context, id string) error {
	now := l.now()
	_, err := l.Update(ctx, id, Patch{HeartbeatAt: &now})
	if errors.Is(err, ErrTerminal) {
		return nil
	}
	return err
}

func (l *Ledger) GetAll(ctx context.Context) ([]*domain.Job, error) {
	return l.list(ctx, func(*domain.Job) bool { return true })
}

func (l *Ledger) GetByType(ctx context.Context, jobType string) ([]*domain.Job, error) {
	return l.list(ctx, func(j *domain.Job) bool { return j.Type == jobType })
}

// GetActive returns pending and running jobs.
func (l *Ledger) GetActive(ctx context.Context) ([]*domain.Job, error) {
	return l.list(ctx, func(j *domain.Job) bool { return j.Active() })
}

// GetLatestByTarget returns the most recently created job for a
// (type, targetId) pair, or nil.
func (l *Ledger) GetLatestByTarget(ctx context.Context, jobType, targetID string) (*domain.Job, error) {
	jobs, err := l.list(ctx, func(j *domain.Job) bool {
		return j.Type == jobType && j.TargetID == targetID
	})
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return jobs[len(jobs)-1], nil
}

func (l *Ledger) list(ctx context.Context, keep func(*domain.Job) bool) ([]*domain.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.load(ctx)
	out := make([]*domain.Job, 0, len(l.cache))
	for _, j := range l.cache {
		if keep(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

// Delete removes the job outright. Returns whether it existed.
func (l *Ledger) Delete(ctx context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.load(ctx)
	if _, ok := l.cache[id]; !ok {
		return false, nil
	}
	delete(l.cache, id)
	return true, l.flush(ctx)
}

// InvalidateCache forces the next read to reload from the store.
func (l *Ledger) InvalidateCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = false
	l.cache = nil
}

// prune drops terminal jobs past retention, then evicts the oldest terminal
// jobs while over the size cap. Pending/running jobs are never pruned,
// regardless of age. Caller holds the lock.
func (l *Ledger) prune() {
	cutoff := l.now().Add(-terminalRetention)
	for id, j := range l.cache {
		if j.Status.Terminal() && terminalAt(j).Before(cutoff) {
			delete(l.cache, id)
		}
	}
	if len(l.cache) < maxJobs {
		return
	}
	var terminal []*domain.Job
	for _, j := range l.cache {
		if j.Status.Terminal() {
			terminal = append(terminal, j)
		}
	}
	sort.Slice(terminal, func(i, k int) bool {
		return terminal[i].CreatedAt.Before(terminal[k].CreatedAt)
	})
	for _, j := range terminal {
		if len(l.cache) < maxJobs {
			break
		}
		delete(l.cache, j.ID)
	}
}

func terminalAt(j *domain.Job) time.Time {
	if j.CompletedAt != nil {
		return *j.CompletedAt
	}
	return j.CreatedAt
}
