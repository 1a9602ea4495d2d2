package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devpath/devpath-backend/internal/docstore"
	"github.com/devpath/devpath-backend/internal/platform/logger"
)

func docName(threadID string) string { return "thread:" + threadID }

var threadSchema = map[string]any{
	"type":     "object",
	"required": []any{"id", "messages"},
	"properties": map[string]any{
		"id": map[string]any{"type": "string"},
		"messages": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id", "role", "content"},
			},
		},
	},
}

// ThreadStore persists chat transcripts as one document per thread. Writes
// serialize through a process-local mutex; cross-process writers rely on the
// reconciler's heuristics rather than locking.
type ThreadStore struct {
	mu   sync.Mutex
	docs docstore.Store
	log  *logger.Logger
	now  func() time.Time
}

func NewThreadStore(docs docstore.Store, baseLog *logger.Logger) *ThreadStore {
	return &ThreadStore{
		docs: docs,
		log:  baseLog.With("component", "ThreadStore"),
		now:  time.Now,
	}
}

func (s *ThreadStore) Create(ctx context.Context, title string) (*Thread, error) {
	now := s.now()
	th := Thread{
		ID:        uuid.New().String(),
		Title:     title,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.docs.Write(ctx, docName(th.ID), th); err != nil {
		return nil, err
	}
	return &th, nil
}

// Get returns the thread or nil when absent.
func (s *ThreadStore) Get(ctx context.Context, threadID string) (*Thread, error) {
	var th Thread
	err := s.docs.Read(ctx, docName(threadID), docstore.ReadOptions{Schema: threadSchema}, &th)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &th, nil
}

// AppendUserMessage adds the outgoing user message that a chat job will
// answer.
func (s *ThreadStore) AppendUserMessage(ctx context.Context, threadID, content string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, err := s.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if th == nil {
		return nil, errors.New("thread not found: " + threadID)
	}
	msg := Message{
		ID:        uuid.New().String(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: s.now(),
	}
	th.Messages = append(th.Messages, msg)
	th.UpdatedAt = msg.CreatedAt
	if err := s.docs.Write(ctx, docName(threadID), th); err != nil {
		return nil, err
	}
	return &msg, nil
}

// InsertPlaceholder appends the in-progress assistant message a chat job
// streams into. Intermediate flushes only ever update this placeholder, so
// it must exist before the first one arrives. A thread that already carries
// the placeholder, or an already-finalized reply for the job, makes this a
// no-op.
func (s *ThreadStore) InsertPlaceholder(ctx context.Context, threadID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, err := s.Get(ctx, threadID)
	if err != nil {
		return err
	}
	if th == nil {
		return errors.New("thread not found: " + threadID)
	}
	for _, msg := range th.Messages {
		if msg.ID == PlaceholderID(jobID) || msg.ID == FinalMessageID(jobID) {
			return nil
		}
	}
	now := s.now()
	th.Messages = append(th.Messages, Message{
		ID:        PlaceholderID(jobID),
		Role:      RoleAssistant,
		Content:   CursorMarker,
		CreatedAt: now,
	})
	th.UpdatedAt = now
	return s.docs.Write(ctx, docName(threadID), th)
}

// RemovePlaceholder drops the job's placeholder, used when generation fails
// and there is nothing to finalize. Missing thread or placeholder is a
// no-op.
func (s *ThreadStore) RemovePlaceholder(ctx context.Context, threadID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, err := s.Get(ctx, threadID)
	if err != nil {
		return err
	}
	if th == nil {
		return nil
	}
	kept := th.Messages[:0]
	removed := false
	for _, msg := range th.Messages {
		if msg.ID == PlaceholderID(jobID) {
			removed = true
			continue
		}
		kept = append(kept, msg)
	}
	if !removed {
		return nil
	}
	th.Messages = kept
	th.UpdatedAt = s.now()
	return s.docs.Write(ctx, docName(threadID), th)
}

// ApplyFlush runs one reconciliation round against the stored thread and
// persists the result when the flush produced a write. A missing thread is a
// skipped no-op, not an error.
func (s *ThreadStore) ApplyFlush(ctx context.Context, threadID string, f Flush) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, err := s.Get(ctx, threadID)
	if err != nil {
		return false, err
	}
	if th == nil {
		s.log.Warn("flush against missing thread; skipping", "thread_id", threadID, "job_id", f.JobID)
		return false, nil
	}
	next, wrote := Reconcile(*th, f, s.now())
	if !wrote {
		return false, nil
	}
	if err := s.docs.Write(ctx, docName(threadID), next); err != nil {
		return false, err
	}
	return true, nil
}
