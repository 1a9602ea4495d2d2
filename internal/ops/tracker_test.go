package ops

import (
	"context"
	"testing"

	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/sse"
)

func jobCreatedMessage(job any) sse.Message {
	return sse.Message{
		Channel: sse.JobsChannel,
		Event:   sse.EventJobCreated,
		Data:    map[string]any{"job": job},
	}
}

func TestTrackerStartsTrackingForConfiguredTypes(t *testing.T) {
	api := newFakeJobAPI()
	api.put(&domain.Job{ID: "job-1", Type: "topic-regeneration", TargetID: "t1", Status: domain.JobCompleted})
	m := newTestManager(api)
	tr := NewTracker(m, "topic-regeneration")

	tr.OnEvent(context.Background(), jobCreatedMessage(&domain.Job{ID: "job-1", Type: "topic-regeneration", TargetID: "t1"}))

	waitFor(t, "tracked operation", func() bool {
		op := m.Get("topic-regeneration:t1")
		return op != nil && op.Status == StatusComplete
	})
}

func TestTrackerIgnoresOtherTypesAndChannels(t *testing.T) {
	m := newTestManager(newFakeJobAPI())
	tr := NewTracker(m, "topic-regeneration")

	tr.OnEvent(context.Background(), jobCreatedMessage(&domain.Job{ID: "job-1", Type: "chat-reply", TargetID: "t1"}))
	tr.OnEvent(context.Background(), sse.Message{
		Channel: sse.StreamChannel("job-1"),
		Event:   sse.EventJobCreated,
		Data:    map[string]any{"job": &domain.Job{ID: "job-1", Type: "topic-regeneration"}},
	})
	tr.OnEvent(context.Background(), sse.Message{Channel: sse.JobsChannel, Event: sse.EventJobDone})

	if ops := m.Snapshot(); len(ops) != 0 {
		t.Fatalf("expected no operations, got %d", len(ops))
	}
}

func TestTrackerDecodesBusRoundTrippedJob(t *testing.T) {
	api := newFakeJobAPI()
	api.put(&domain.Job{ID: "job-1", Type: "goal-regeneration", TargetID: "g1", Status: domain.JobCompleted})
	m := newTestManager(api)
	tr := NewTracker(m, "goal-regeneration")

	// After a redis round trip the payload arrives as plain JSON maps.
	tr.OnEvent(context.Background(), jobCreatedMessage(map[string]any{
		"id":       "job-1",
		"type":     "goal-regeneration",
		"targetId": "g1",
	}))

	waitFor(t, "tracked operation", func() bool {
		op := m.Get("goal-regeneration:g1")
		return op != nil && op.Status == StatusComplete
	})
}

func TestDecodeJobEventRejectsMalformedPayloads(t *testing.T) {
	if decodeJobEvent(nil) != nil {
		t.Fatalf("nil payload should not decode")
	}
	if decodeJobEvent("not a map") != nil {
		t.Fatalf("non-map payload should not decode")
	}
	if decodeJobEvent(map[string]any{"other": "x"}) != nil {
		t.Fatalf("payload without job should not decode")
	}
	if decodeJobEvent(map[string]any{"job": map[string]any{"type": "x"}}) != nil {
		t.Fatalf("job without id should not decode")
	}
}
