package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/devpath/devpath-backend/internal/docstore"
	"github.com/devpath/devpath-backend/internal/platform/logger"
)

type Status string

const (
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Record is the ephemeral buffer of in-progress chat text for one job. It is
// keyed by job id but stored independently of the job record so stream
// recovery never deserializes the full job payload.
type Record struct {
	JobID     string    `json:"jobId"`
	ThreadID  string    `json:"threadId"`
	Content   string    `json:"content"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TTL after a record reaches a terminal status. Non-terminal records are
// never age-pruned: the writer is presumed alive.
const terminalTTL = 5 * time.Minute

func docName(jobID string) string { return "active-stream:" + jobID }

var recordSchema = map[string]any{
	"type":     "object",
	"required": []any{"jobId", "status"},
	"properties": map[string]any{
		"jobId":    map[string]any{"type": "string"},
		"threadId": map[string]any{"type": "string"},
		"content":  map[string]any{"type": "string"},
		"status":   map[string]any{"enum": []any{"streaming", "completed", "failed"}},
	},
}

// Store keeps active-stream records in memory, mirrors them to disk through
// the document store, and notifies watchers. Expiry is belt-and-suspenders:
// a timer per terminal record plus lazy expiry on read, so records still die
// after a process restart loses the timers.
type Store struct {
	mu      sync.Mutex
	docs    docstore.Store
	log     *logger.Logger
	recs    map[string]*Record
	subs    map[string]map[int]func(*Record)
	timers  map[string]*time.Timer
	nextSub int
	now     func() time.Time
}

func NewStore(docs docstore.Store, baseLog *logger.Logger) *Store {
	return &Store{
		docs:   docs,
		log:    baseLog.With("component", "ActiveStreamStore"),
		recs:   map[string]*Record{},
		subs:   map[string]map[int]func(*Record){},
		timers: map[string]*time.Timer{},
		now:    time.Now,
	}
}

// Set upserts the record, persists it, and notifies watchers. Terminal
// records get an eviction timer.
func (s *Store) Set(ctx context.Context, rec Record) error {
	if rec.JobID == "" {
		return errors.New("missing jobId")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}

	s.mu.Lock()
	cp := rec
	s.recs[rec.JobID] = &cp
	if rec.Status.Terminal() {
		s.scheduleEvictionLocked(rec.JobID, terminalTTL)
	}
	watchers := s.watchersLocked(rec.JobID)
	s.mu.Unlock()

	if err := s.docs.Write(ctx, docName(rec.JobID), rec); err != nil {
		return err
	}
	for _, cb := range watchers {
		cb(&cp)
	}
	return nil
}

// Get serves from memory when possible, falling back to disk so a restarted
// process can recover partial output. Expired records are deleted on read.
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	s.mu.Lock()
	if rec, ok := s.recs[jobID]; ok {
		if s.expiredLocked(rec) {
			delete(s.recs, jobID)
			s.stopTimerLocked(jobID)
			s.mu.Unlock()
			_ = s.docs.Delete(ctx, docName(jobID))
			return nil, nil
		}
		cp := *rec
		s.mu.Unlock()
		return &cp, nil
	}
	s.mu.Unlock()

	var rec Record
	err := s.docs.Read(ctx, docName(jobID), docstore.ReadOptions{Schema: recordSchema}, &rec)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.expiredLocked(&rec) {
		s.mu.Unlock()
		_ = s.docs.Delete(ctx, docName(jobID))
		return nil, nil
	}
	cp := rec
	s.recs[jobID] = &cp
	if rec.Status.Terminal() {
		remaining := terminalTTL - s.now().Sub(rec.UpdatedAt)
		s.scheduleEvictionLocked(jobID, remaining)
	}
	out := rec
	s.mu.Unlock()
	return &out, nil
}

// Watch registers a callback for updates to one job's stream and
// immediately delivers the current value (or nil). Returns an unsubscribe
// function.
func (s *Store) Watch(ctx context.Context, jobID string, cb func(*Record)) func() {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	if s.subs[jobID] == nil {
		s.subs[jobID] = map[int]func(*Record){}
	}
	s.subs[jobID][id] = cb
	s.mu.Unlock()

	current, _ := s.Get(ctx, jobID)
	cb(current)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if m, ok := s.subs[jobID]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(s.subs, jobID)
			}
		}
	}
}

func (s *Store) watchersLocked(jobID string) []func(*Record) {
	m := s.subs[jobID]
	out := make([]func(*Record), 0, len(m))
	for _, cb := range m {
		out = append(out, cb)
	}
	return out
}

func (s *Store) expiredLocked(rec *Record) bool {
	return rec.Status.Terminal() && s.now().Sub(rec.UpdatedAt) >= terminalTTL
}

func (s *Store) scheduleEvictionLocked(jobID string, after time.Duration) {
	s.stopTimerLocked(jobID)
	if after <= 0 {
		after = time.Millisecond
	}
	s.timers[jobID] = time.AfterFunc(after, func() { s.evict(jobID) })
}

func (s *Store) stopTimerLocked(jobID string) {
	if t, ok := s.timers[jobID]; ok {
		t.Stop()
		delete(s.timers, jobID)
	}
}

func (s *Store) evict(jobID string) {
	s.mu.Lock()
	rec, ok := s.recs[jobID]
	if ok && !s.expiredLocked(rec) {
		// Record was refreshed after the timer was armed.
		s.mu.Unlock()
		return
	}
	delete(s.recs, jobID)
	s.stopTimerLocked(jobID)
	s.mu.Unlock()

	if err := s.docs.Delete(context.Background(), docName(jobID)); err != nil {
		s.log.Warn("active stream eviction failed", "job_id", jobID, "error", err)
	}
}
