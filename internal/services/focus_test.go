package services

import (
	"context"
	"testing"

	"github.com/devpath/devpath-backend/internal/docstore"
	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/lifecycle"
	"github.com/devpath/devpath-backend/internal/platform/logger"
)

func newFocusFixture(t *testing.T) (*FocusService, docstore.Store) {
	t.Helper()
	docs := docstore.NewMemoryStore()
	return NewFocusService(docs, logger.Nop()), docs
}

func seedTopic(t *testing.T, s *FocusService, topic domain.LearningTopic) {
	t.Helper()
	ctx := context.Background()
	h, err := s.History(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	h.Topics[topic.ID] = lifecycle.New(topic, lifecycle.TopicNotExplored)
	if err := s.docs.Write(ctx, focusDocumentName, h); err != nil {
		t.Fatalf("seed write: %v", err)
	}
}

func TestApplyTopicRegenerationRetiresOldTopic(t *testing.T) {
	s, _ := newFocusFixture(t)
	ctx := context.Background()
	seedTopic(t, s, domain.LearningTopic{ID: "t1", Title: "Old Topic"})

	err := s.ApplyTopicRegeneration(ctx, "t1", map[string]any{
		"learningTopic": map[string]any{"id": "t2", "title": "New Topic"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	h, err := s.History(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	old, ok := h.Topics["t1"]
	if !ok {
		t.Fatalf("old topic removed instead of retired")
	}
	if old.Current() != lifecycle.TopicSkipped {
		t.Fatalf("old topic state = %q, want skipped", old.Current())
	}
	last := old.StateHistory[len(old.StateHistory)-1]
	if last.Source != "dashboard" {
		t.Fatalf("transition source = %q, want dashboard", last.Source)
	}
	if len(old.StateHistory) != 2 {
		t.Fatalf("history length = %d, want 2", len(old.StateHistory))
	}

	nw, ok := h.Topics["t2"]
	if !ok {
		t.Fatalf("new topic missing")
	}
	if nw.Current() != lifecycle.TopicNotExplored {
		t.Fatalf("new topic state = %q, want not-explored", nw.Current())
	}
	if nw.Data.Title != "New Topic" {
		t.Fatalf("new topic data = %+v", nw.Data)
	}
}

func TestApplyTopicRegenerationIllegalTransitionIsSkipped(t *testing.T) {
	s, _ := newFocusFixture(t)
	ctx := context.Background()

	// Already skipped: retiring it again is an out-of-order completion and
	// must neither error nor extend its history.
	h, _ := s.History(ctx)
	item := lifecycle.New(domain.LearningTopic{ID: "t1"}, lifecycle.TopicNotExplored)
	item, err := lifecycle.Transition(item, lifecycle.TopicTable, lifecycle.TopicSkipped, "dashboard", "")
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	h.Topics["t1"] = item
	if err := s.docs.Write(ctx, focusDocumentName, h); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = s.ApplyTopicRegeneration(ctx, "t1", map[string]any{
		"learningTopic": map[string]any{"id": "t2", "title": "New"},
	})
	if err != nil {
		t.Fatalf("late completion must not error: %v", err)
	}

	h, _ = s.History(ctx)
	if got := len(h.Topics["t1"].StateHistory); got != 2 {
		t.Fatalf("terminal topic history grew to %d", got)
	}
	if _, ok := h.Topics["t2"]; !ok {
		t.Fatalf("new topic still recorded even when old was terminal")
	}
}

func TestApplyTopicRegenerationUnknownOldTopic(t *testing.T) {
	s, _ := newFocusFixture(t)
	ctx := context.Background()

	err := s.ApplyTopicRegeneration(ctx, "never-existed", map[string]any{
		"learningTopic": map[string]any{"id": "t2", "title": "New"},
	})
	if err != nil {
		t.Fatalf("unknown old topic must not error: %v", err)
	}
	h, _ := s.History(ctx)
	if _, ok := h.Topics["t2"]; !ok {
		t.Fatalf("new topic missing")
	}
}

func TestApplyTopicRegenerationRejectsBadResult(t *testing.T) {
	s, _ := newFocusFixture(t)
	ctx := context.Background()

	if err := s.ApplyTopicRegeneration(ctx, "t1", nil); err == nil {
		t.Fatalf("nil result should error")
	}
	if err := s.ApplyTopicRegeneration(ctx, "t1", map[string]any{"learningTopic": map[string]any{"title": "no id"}}); err == nil {
		t.Fatalf("missing id should error")
	}
}

func TestApplyChallengeRegeneration(t *testing.T) {
	s, _ := newFocusFixture(t)
	ctx := context.Background()

	h, _ := s.History(ctx)
	h.Challenges["c1"] = lifecycle.New(domain.Challenge{ID: "c1", Title: "Old"}, lifecycle.ChallengeNotStarted)
	if err := s.docs.Write(ctx, focusDocumentName, h); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := s.ApplyChallengeRegeneration(ctx, "c1", map[string]any{
		"challenge": map[string]any{"id": "c2", "title": "New"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	h, _ = s.History(ctx)
	if h.Challenges["c1"].Current() != lifecycle.ChallengeSkipped {
		t.Fatalf("old challenge state = %q", h.Challenges["c1"].Current())
	}
	if h.Challenges["c2"].Current() != lifecycle.ChallengeNotStarted {
		t.Fatalf("new challenge state = %q", h.Challenges["c2"].Current())
	}
}

func TestApplyGoalRegeneration(t *testing.T) {
	s, _ := newFocusFixture(t)
	ctx := context.Background()

	h, _ := s.History(ctx)
	h.Goals["g1"] = lifecycle.New(domain.Goal{ID: "g1", Title: "Old"}, lifecycle.GoalNotStarted)
	if err := s.docs.Write(ctx, focusDocumentName, h); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := s.ApplyGoalRegeneration(ctx, "g1", map[string]any{
		"goal": map[string]any{"id": "g2", "title": "New", "horizon": "month"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	h, _ = s.History(ctx)
	if h.Goals["g1"].Current() != lifecycle.GoalSkipped {
		t.Fatalf("old goal state = %q", h.Goals["g1"].Current())
	}
	if h.Goals["g2"].Data.Horizon != "month" {
		t.Fatalf("new goal data = %+v", h.Goals["g2"].Data)
	}
}
