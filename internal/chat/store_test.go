package chat

import (
	"context"
	"testing"

	"github.com/devpath/devpath-backend/internal/docstore"
	"github.com/devpath/devpath-backend/internal/platform/logger"
)

func newTestThreadStore(t *testing.T) *ThreadStore {
	t.Helper()
	return NewThreadStore(docstore.NewMemoryStore(), logger.Nop())
}

func TestThreadCreateAndGet(t *testing.T) {
	s := newTestThreadStore(t)
	ctx := context.Background()

	th, err := s.Create(ctx, "first thread")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if th.ID == "" || th.Title != "first thread" {
		t.Fatalf("unexpected thread: %+v", th)
	}

	got, err := s.Get(ctx, th.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ID != th.ID {
		t.Fatalf("roundtrip failed: %+v", got)
	}

	if missing, err := s.Get(ctx, "nope"); err != nil || missing != nil {
		t.Fatalf("missing thread = %v, %v; want nil, nil", missing, err)
	}
}

func TestAppendUserMessage(t *testing.T) {
	s := newTestThreadStore(t)
	ctx := context.Background()
	th, err := s.Create(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	msg, err := s.AppendUserMessage(ctx, th.ID, "what should I learn next?")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if msg.Role != RoleUser || msg.ID == "" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	got, _ := s.Get(ctx, th.ID)
	if len(got.Messages) != 1 || got.Messages[0].Content != "what should I learn next?" {
		t.Fatalf("message not persisted: %#v", got.Messages)
	}

	if _, err := s.AppendUserMessage(ctx, "ghost", "x"); err == nil {
		t.Fatalf("append to missing thread should fail")
	}
}

func TestInsertPlaceholderEnablesIntermediateFlushes(t *testing.T) {
	s := newTestThreadStore(t)
	ctx := context.Background()
	th, err := s.Create(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AppendUserMessage(ctx, th.ID, "hello there"); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.InsertPlaceholder(ctx, th.ID, "j1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Second insert is a no-op.
	if err := s.InsertPlaceholder(ctx, th.ID, "j1"); err != nil {
		t.Fatalf("reinsert: %v", err)
	}
	got, _ := s.Get(ctx, th.ID)
	if len(got.Messages) != 2 || got.Messages[1].ID != PlaceholderID("j1") {
		t.Fatalf("placeholder not inserted once: %#v", got.Messages)
	}

	wrote, err := s.ApplyFlush(ctx, th.ID, Flush{
		JobID:       "j1",
		UserContent: "hello there",
		Content:     "streamed so far",
		IsFinal:     false,
	})
	if err != nil || !wrote {
		t.Fatalf("intermediate flush = %v, %v; want write", wrote, err)
	}
	got, _ = s.Get(ctx, th.ID)
	if got.Messages[1].Content != "streamed so far"+CursorMarker {
		t.Fatalf("placeholder content = %q", got.Messages[1].Content)
	}

	if err := s.InsertPlaceholder(ctx, "ghost", "j1"); err == nil {
		t.Fatalf("insert into missing thread should fail")
	}
}

func TestRemovePlaceholder(t *testing.T) {
	s := newTestThreadStore(t)
	ctx := context.Background()
	th, err := s.Create(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AppendUserMessage(ctx, th.ID, "hi"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.InsertPlaceholder(ctx, th.ID, "j1"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.RemovePlaceholder(ctx, th.ID, "j1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, _ := s.Get(ctx, th.ID)
	if len(got.Messages) != 1 {
		t.Fatalf("placeholder not removed: %#v", got.Messages)
	}

	// Absent placeholder and absent thread are both no-ops.
	if err := s.RemovePlaceholder(ctx, th.ID, "j1"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if err := s.RemovePlaceholder(ctx, "ghost", "j1"); err != nil {
		t.Fatalf("remove on missing thread: %v", err)
	}
}

func TestInsertPlaceholderSkippedAfterFinalization(t *testing.T) {
	s := newTestThreadStore(t)
	ctx := context.Background()
	th, err := s.Create(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AppendUserMessage(ctx, th.ID, "hello there"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.ApplyFlush(ctx, th.ID, Flush{
		JobID:       "j1",
		UserContent: "hello there",
		Content:     "a finalized full reply",
		IsFinal:     true,
	}); err != nil {
		t.Fatalf("final flush: %v", err)
	}

	// A late insert for the same job must not resurrect a placeholder next
	// to the finalized reply.
	if err := s.InsertPlaceholder(ctx, th.ID, "j1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, _ := s.Get(ctx, th.ID)
	if len(got.Messages) != 2 {
		t.Fatalf("message count = %d, want 2: %#v", len(got.Messages), got.Messages)
	}
}

func TestApplyFlushAgainstMissingThreadIsNoOp(t *testing.T) {
	s := newTestThreadStore(t)
	wrote, err := s.ApplyFlush(context.Background(), "ghost", Flush{
		JobID:       "j1",
		UserContent: "hi",
		Content:     "reply",
		IsFinal:     true,
	})
	if err != nil {
		t.Fatalf("missing thread must not error: %v", err)
	}
	if wrote {
		t.Fatalf("missing thread must not be written")
	}
}

func TestApplyFlushPersistsFinalReply(t *testing.T) {
	s := newTestThreadStore(t)
	ctx := context.Background()
	th, err := s.Create(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AppendUserMessage(ctx, th.ID, "hello there"); err != nil {
		t.Fatalf("append: %v", err)
	}

	wrote, err := s.ApplyFlush(ctx, th.ID, Flush{
		JobID:       "j1",
		UserContent: "hello there",
		Content:     "a finalized full reply",
		IsFinal:     true,
	})
	if err != nil || !wrote {
		t.Fatalf("flush = %v, %v", wrote, err)
	}

	got, _ := s.Get(ctx, th.ID)
	if len(got.Messages) != 2 {
		t.Fatalf("message count = %d", len(got.Messages))
	}
	if got.Messages[1].ID != FinalMessageID("j1") {
		t.Fatalf("unexpected reply id: %q", got.Messages[1].ID)
	}
}
