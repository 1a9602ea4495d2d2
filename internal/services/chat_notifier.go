package services

import (
	"context"

	"github.com/devpath/devpath-backend/internal/sse"
)

// ChatNotifier publishes streamed chat output deltas for one job so
// connected clients can render partial replies live. Recovery after a
// dropped connection goes through the active-stream store, not the bus.
type ChatNotifier interface {
	StreamDelta(jobID, threadID, content string)
	StreamDone(jobID, threadID, content string)
}

type chatNotifier struct {
	bus Bus
}

func NewChatNotifier(bus Bus) ChatNotifier {
	return &chatNotifier{bus: bus}
}

func (n *chatNotifier) StreamDelta(jobID, threadID, content string) {
	_ = n.bus.Publish(context.Background(), sse.Message{
		Channel: sse.StreamChannel(jobID),
		Event:   sse.EventStreamDelta,
		Data: map[string]any{
			"job_id":    jobID,
			"thread_id": threadID,
			"content":   content,
		},
	})
}

func (n *chatNotifier) StreamDone(jobID, threadID, content string) {
	_ = n.bus.Publish(context.Background(), sse.Message{
		Channel: sse.StreamChannel(jobID),
		Event:   sse.EventStreamDone,
		Data: map[string]any{
			"job_id":    jobID,
			"thread_id": threadID,
			"content":   content,
		},
	})
}
