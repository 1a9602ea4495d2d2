package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/devpath/devpath-backend/internal/docstore"
	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/lifecycle"
	"github.com/devpath/devpath-backend/internal/platform/logger"
)

const focusDocumentName = "focus-history"

// FocusHistory is the persisted set of lifecycle-tracked domain items,
// keyed by item id.
type FocusHistory struct {
	Topics     map[string]lifecycle.Stateful[domain.LearningTopic] `json:"topics"`
	Challenges map[string]lifecycle.Stateful[domain.Challenge]     `json:"challenges"`
	Goals      map[string]lifecycle.Stateful[domain.Goal]          `json:"goals"`
}

func emptyFocusHistory() *FocusHistory {
	return &FocusHistory{
		Topics:     map[string]lifecycle.Stateful[domain.LearningTopic]{},
		Challenges: map[string]lifecycle.Stateful[domain.Challenge]{},
		Goals:      map[string]lifecycle.Stateful[domain.Goal]{},
	}
}

var focusSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"topics":     map[string]any{"type": "object"},
		"challenges": map[string]any{"type": "object"},
		"goals":      map[string]any{"type": "object"},
	},
}

// FocusService applies completed regeneration results to the focus history:
// the replaced item's state machine is advanced to skipped and the freshly
// generated item is inserted at its initial state. It is the persistence
// layer for lifecycle transitions, so invalid transitions from late or
// out-of-order completions are logged and skipped, never propagated.
type FocusService struct {
	mu   sync.Mutex
	docs docstore.Store
	log  *logger.Logger
}

func NewFocusService(docs docstore.Store, baseLog *logger.Logger) *FocusService {
	return &FocusService{
		docs: docs,
		log:  baseLog.With("service", "FocusService"),
	}
}

// History returns the current focus history, falling back to an empty one.
func (s *FocusService) History(ctx context.Context) (*FocusHistory, error) {
	var h FocusHistory
	err := s.docs.Read(ctx, focusDocumentName, docstore.ReadOptions{
		Schema:  focusSchema,
		Default: func() any { return emptyFocusHistory() },
	}, &h)
	if errors.Is(err, docstore.ErrNotFound) {
		return emptyFocusHistory(), nil
	}
	if err != nil {
		return nil, err
	}
	if h.Topics == nil {
		h.Topics = map[string]lifecycle.Stateful[domain.LearningTopic]{}
	}
	if h.Challenges == nil {
		h.Challenges = map[string]lifecycle.Stateful[domain.Challenge]{}
	}
	if h.Goals == nil {
		h.Goals = map[string]lifecycle.Stateful[domain.Goal]{}
	}
	return &h, nil
}

// ApplyTopicRegeneration retires the old topic and records the new one from
// a completed topic-regeneration result.
func (s *FocusService) ApplyTopicRegeneration(ctx context.Context, oldTopicID string, result map[string]any) error {
	var topic domain.LearningTopic
	if err := decodeResult(result, "learningTopic", &topic); err != nil {
		return err
	}
	if topic.ID == "" {
		return errors.New("regenerated topic has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.History(ctx)
	if err != nil {
		return err
	}

	if old, ok := h.Topics[oldTopicID]; ok {
		next, terr := lifecycle.Transition(old, lifecycle.TopicTable, lifecycle.TopicSkipped, "dashboard", "replaced by regeneration")
		if terr != nil {
			var ite *lifecycle.InvalidTransitionError
			if errors.As(terr, &ite) {
				s.log.Warn("skipping illegal topic transition", "topic_id", oldTopicID, "from", ite.From, "to", ite.To)
			} else {
				return terr
			}
		} else {
			h.Topics[oldTopicID] = next
		}
	}
	h.Topics[topic.ID] = lifecycle.New(topic, lifecycle.TopicNotExplored)

	return s.docs.Write(ctx, focusDocumentName, h)
}

// ApplyChallengeRegeneration retires the old challenge and records the new
// one from a completed challenge-regeneration result.
func (s *FocusService) ApplyChallengeRegeneration(ctx context.Context, oldChallengeID string, result map[string]any) error {
	var ch domain.Challenge
	if err := decodeResult(result, "challenge", &ch); err != nil {
		return err
	}
	if ch.ID == "" {
		return errors.New("regenerated challenge has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.History(ctx)
	if err != nil {
		return err
	}

	if old, ok := h.Challenges[oldChallengeID]; ok {
		next, terr := lifecycle.Transition(old, lifecycle.ChallengeTable, lifecycle.ChallengeSkipped, "dashboard", "replaced by regeneration")
		if terr != nil {
			var ite *lifecycle.InvalidTransitionError
			if errors.As(terr, &ite) {
				s.log.Warn("skipping illegal challenge transition", "challenge_id", oldChallengeID, "from", ite.From, "to", ite.To)
			} else {
				return terr
			}
		} else {
			h.Challenges[oldChallengeID] = next
		}
	}
	h.Challenges[ch.ID] = lifecycle.New(ch, lifecycle.ChallengeNotStarted)

	return s.docs.Write(ctx, focusDocumentName, h)
}

// ApplyGoalRegeneration retires the old goal and records the new one from a
// completed goal-regeneration result.
func (s *FocusService) ApplyGoalRegeneration(ctx context.Context, oldGoalID string, result map[string]any) error {
	var g domain.Goal
	if err := decodeResult(result, "goal", &g); err != nil {
		return err
	}
	if g.ID == "" {
		return errors.New("regenerated goal has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.History(ctx)
	if err != nil {
		return err
	}

	if old, ok := h.Goals[oldGoalID]; ok {
		next, terr := lifecycle.Transition(old, lifecycle.GoalTable, lifecycle.GoalSkipped, "dashboard", "replaced by regeneration")
		if terr != nil {
			var ite *lifecycle.InvalidTransitionError
			if errors.As(terr, &ite) {
				s.log.Warn("skipping illegal goal transition", "goal_id", oldGoalID, "from", ite.From, "to", ite.To)
			} else {
				return terr
			}
		} else {
			h.Goals[oldGoalID] = next
		}
	}
	h.Goals[g.ID] = lifecycle.New(g, lifecycle.GoalNotStarted)

	return s.docs.Write(ctx, focusDocumentName, h)
}

func decodeResult(result map[string]any, key string, out any) error {
	if result == nil {
		return fmt.Errorf("result missing %q", key)
	}
	raw, ok := result[key]
	if !ok || raw == nil {
		return fmt.Errorf("result missing %q", key)
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, out)
}
