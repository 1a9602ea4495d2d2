package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devpath/devpath-backend/internal/chat"
	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/jobs/ledger"
	"github.com/devpath/devpath-backend/internal/jobs/runtime"
	"github.com/devpath/devpath-backend/internal/services"
	"github.com/devpath/devpath-backend/internal/stream"
)

// flushInterval throttles intermediate persistence during streaming. Every
// delta still goes out over the push stream; only the thread document and
// the active-stream record are written at this cadence.
const flushInterval = 400 * time.Millisecond

// chatReplyExecutor streams an assistant reply into a thread. Unlike the
// regeneration executors it never registers with the cancellation registry:
// the reply keeps generating after the client disconnects, and the
// active-stream record is what lets a reconnecting client catch up.
type chatReplyExecutor struct {
	sessions   services.SessionProvider
	threads    *chat.ThreadStore
	streams    *stream.Store
	notify     services.ChatNotifier
	flushEvery time.Duration
}

func NewChatReply(sessions services.SessionProvider, threads *chat.ThreadStore, streams *stream.Store, notify services.ChatNotifier) runtime.Handler {
	return &chatReplyExecutor{
		sessions:   sessions,
		threads:    threads,
		streams:    streams,
		notify:     notify,
		flushEvery: flushInterval,
	}
}

func (e *chatReplyExecutor) Type() string { return domain.JobTypeChatReply }

func (e *chatReplyExecutor) Run(jc *runtime.Context) error {
	if err := jc.MarkRunning(); err != nil {
		if !errors.Is(err, ledger.ErrTerminal) {
			jc.Fail("start", err)
		}
		return nil
	}

	threadID := jc.InputString("threadId")
	userContent := jc.InputString("message")
	if threadID == "" || userContent == "" {
		jc.Fail("input", errors.New("chat reply requires threadId and message"))
		return nil
	}

	th, err := e.threads.Get(jc.Ctx, threadID)
	if err != nil {
		jc.Fail("thread", fmt.Errorf("load thread: %w", err))
		return nil
	}
	if th == nil {
		jc.Fail("thread", errors.New("thread not found: "+threadID))
		return nil
	}

	session, err := e.sessions.Open(jc.Ctx)
	if err != nil {
		jc.Fail("session", fmt.Errorf("open session: %w", err))
		return nil
	}
	defer session.Destroy(context.Background())

	if err := e.setStream(jc, threadID, "", stream.StatusStreaming); err != nil {
		jc.Log.Warn("initial active-stream write failed", "error", err)
	}
	// The placeholder is what intermediate flushes stream into; without it
	// they would reconcile to no-ops and only the final write would land.
	if err := e.threads.InsertPlaceholder(jc.Ctx, threadID, jc.Job.ID); err != nil {
		jc.Log.Warn("placeholder insert failed", "error", err)
	}
	jc.Progress("generate", 20, "Generating reply")

	var content strings.Builder
	lastFlush := time.Now()
	onDelta := func(delta string) {
		content.WriteString(delta)
		e.notify.StreamDelta(jc.Job.ID, threadID, content.String())
		if time.Since(lastFlush) < e.flushEvery {
			return
		}
		lastFlush = time.Now()
		partial := content.String()
		if err := e.setStream(jc, threadID, partial, stream.StatusStreaming); err != nil {
			jc.Log.Warn("active-stream flush failed", "error", err)
		}
		e.flush(jc, threadID, userContent, partial, false)
	}

	full, streamErr := session.Stream(jc.Ctx, e.prompt(th, userContent), onDelta)
	if streamErr != nil {
		if err := e.threads.RemovePlaceholder(jc.Ctx, threadID, jc.Job.ID); err != nil {
			jc.Log.Warn("placeholder removal failed", "error", err)
		}
		if err := e.setStream(jc, threadID, full, stream.StatusFailed); err != nil {
			jc.Log.Warn("failed-stream write failed", "error", err)
		}
		jc.Fail("generate", streamErr)
		return nil
	}

	e.flush(jc, threadID, userContent, full, true)
	if err := e.setStream(jc, threadID, full, stream.StatusCompleted); err != nil {
		jc.Log.Warn("completed-stream write failed", "error", err)
	}
	e.notify.StreamDone(jc.Job.ID, threadID, full)

	jc.Succeed(map[string]any{
		"threadId":  threadID,
		"messageId": chat.FinalMessageID(jc.Job.ID),
		"content":   full,
	})
	return nil
}

// prompt renders the thread transcript plus the new user message. The model
// sees roles inline; placeholder messages are skipped so partial output from
// a concurrent writer never leaks into the context.
func (e *chatReplyExecutor) prompt(th *chat.Thread, userContent string) string {
	var b strings.Builder
	b.WriteString("You are a concise, practical mentor for a software developer.\n")
	b.WriteString("Conversation so far:\n")
	for _, msg := range th.Messages {
		if strings.HasPrefix(msg.ID, chat.PlaceholderPrefix) {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	fmt.Fprintf(&b, "user: %s\n", userContent)
	b.WriteString("Reply to the last user message.")
	return b.String()
}

func (e *chatReplyExecutor) flush(jc *runtime.Context, threadID, userContent, content string, final bool) {
	_, err := e.threads.ApplyFlush(jc.Ctx, threadID, chat.Flush{
		JobID:       jc.Job.ID,
		UserContent: userContent,
		Content:     content,
		IsFinal:     final,
	})
	if err != nil {
		jc.Log.Warn("thread flush failed", "thread_id", threadID, "final", final, "error", err)
	}
}

func (e *chatReplyExecutor) setStream(jc *runtime.Context, threadID, content string, status stream.Status) error {
	return e.streams.Set(jc.Ctx, stream.Record{
		JobID:    jc.Job.ID,
		ThreadID: threadID,
		Content:  content,
		Status:   status,
	})
}
