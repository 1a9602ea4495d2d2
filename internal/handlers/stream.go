package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/jobs/ledger"
	"github.com/devpath/devpath-backend/internal/sse"
)

type StreamHandler struct {
	hub    *sse.Hub
	ledger *ledger.Ledger
}

func NewStreamHandler(hub *sse.Hub, l *ledger.Ledger) *StreamHandler {
	return &StreamHandler{hub: hub, ledger: l}
}

// GET /api/stream?channels=jobs,stream:<jobId>
// Long-lived SSE connection. The client names its channels up front; an
// initial snapshot of active jobs goes out before any incremental event so
// a reconnecting client starts from known state.
func (h *StreamHandler) Events(c *gin.Context) {
	client := h.hub.NewClient()

	channels := strings.Split(c.Query("channels"), ",")
	if len(channels) == 1 && strings.TrimSpace(channels[0]) == "" {
		channels = []string{sse.JobsChannel}
	}
	for _, ch := range channels {
		h.hub.Subscribe(client, strings.TrimSpace(ch))
	}
	defer h.hub.CloseClient(client)

	if client.Channels[sse.JobsChannel] {
		h.ledger.InvalidateCache()
		active, err := h.ledger.GetActive(c.Request.Context())
		if err != nil {
			active = []*domain.Job{}
		}
		client.Outbound <- sse.Message{
			Channel: sse.JobsChannel,
			Event:   sse.EventSnapshot,
			Data:    map[string]any{"jobs": active},
		}
	}

	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
