package chat

import (
	"strings"
	"time"
)

// Two independent writers may flush partial or final content for the same
// outgoing request: the push-stream handler driven by the live connection,
// and the background executor that keeps running after the connection drops.
// Both read-modify-write the thread document without a lock, so ordering is
// resolved here by content heuristics instead:
//
//  1. the flush only applies relative to the user message it answers;
//  2. a finalized reply by the other writer wins, later finals are no-ops;
//  3. intermediate flushes only ever update an existing placeholder -- only
//     a final flush may insert a brand-new message.
//
// The net invariant: exactly one terminal assistant message per request,
// authored by whichever writer finalizes first.

// minFinalizedLen guards against mistaking a stub for a finalized reply.
const minFinalizedLen = 10

// Flush is one write attempt against a thread.
type Flush struct {
	JobID string
	// UserContent identifies the user message this reply answers, by exact
	// content match on the most recent occurrence.
	UserContent string
	Content     string
	IsFinal     bool
}

// Finalized reports whether msg is a completed assistant reply rather than
// an in-progress placeholder.
func Finalized(msg Message) bool {
	if msg.Role != RoleAssistant {
		return false
	}
	if strings.HasPrefix(msg.ID, PlaceholderPrefix) {
		return false
	}
	if strings.HasSuffix(msg.Content, CursorMarker) {
		return false
	}
	return len(msg.Content) > minFinalizedLen
}

// Reconcile applies one flush to a thread and returns the next thread state
// plus whether anything was written. It is pure: the input thread is never
// mutated.
func Reconcile(th Thread, f Flush, now time.Time) (Thread, bool) {
	userIdx := lastUserMessageIndex(th.Messages, f.UserContent)
	if userIdx < 0 {
		// No matching user message; never fabricate one.
		return th, false
	}

	for _, msg := range th.Messages[userIdx+1:] {
		if Finalized(msg) {
			// The other writer finalized first. Never overwrite, never
			// append a second reply.
			return th, false
		}
	}

	placeholderIdx := -1
	for i := userIdx + 1; i < len(th.Messages); i++ {
		if th.Messages[i].ID == PlaceholderID(f.JobID) {
			placeholderIdx = i
			break
		}
	}

	if placeholderIdx >= 0 {
		next := cloneThread(th)
		if f.IsFinal {
			next.Messages[placeholderIdx].ID = FinalMessageID(f.JobID)
			next.Messages[placeholderIdx].Content = f.Content
		} else {
			next.Messages[placeholderIdx].Content = f.Content + CursorMarker
		}
		next.UpdatedAt = now
		return next, true
	}

	if !f.IsFinal {
		// A late-starting writer must not race the push-stream's initial
		// insert; intermediate flushes only update an existing placeholder.
		return th, false
	}

	next := cloneThread(th)
	inserted := Message{
		ID:        FinalMessageID(f.JobID),
		Role:      RoleAssistant,
		Content:   f.Content,
		CreatedAt: now,
	}
	next.Messages = append(next.Messages[:userIdx+1], append([]Message{inserted}, next.Messages[userIdx+1:]...)...)
	next.UpdatedAt = now
	return next, true
}

func lastUserMessageIndex(messages []Message, content string) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser && messages[i].Content == content {
			return i
		}
	}
	return -1
}

func cloneThread(th Thread) Thread {
	cp := th
	cp.Messages = make([]Message, len(th.Messages))
	copy(cp.Messages, th.Messages)
	return cp
}
