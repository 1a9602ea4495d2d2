package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/devpath/devpath-backend/internal/chat"
	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/jobs/dispatch"
	"github.com/devpath/devpath-backend/internal/jobs/ledger"
	"github.com/devpath/devpath-backend/internal/services"
	"github.com/devpath/devpath-backend/internal/stream"
)

type ThreadsHandler struct {
	threads    *chat.ThreadStore
	streams    *stream.Store
	ledger     *ledger.Ledger
	dispatcher *dispatch.Dispatcher
	notify     services.JobNotifier
}

func NewThreadsHandler(threads *chat.ThreadStore, streams *stream.Store, l *ledger.Ledger, d *dispatch.Dispatcher, notify services.JobNotifier) *ThreadsHandler {
	return &ThreadsHandler{
		threads:    threads,
		streams:    streams,
		ledger:     l,
		dispatcher: d,
		notify:     notify,
	}
}

// POST /api/threads
func (h *ThreadsHandler) CreateThread(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	th, err := h.threads.Create(c.Request.Context(), req.Title)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "thread_create_failed", err)
		return
	}
	RespondOK(c, th)
}

// GET /api/threads/:id
func (h *ThreadsHandler) GetThread(c *gin.Context) {
	th, err := h.threads.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "thread_read_failed", err)
		return
	}
	if th == nil {
		RespondError(c, http.StatusNotFound, "thread_not_found", errors.New("thread not found"))
		return
	}
	RespondOK(c, th)
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// POST /api/threads/:id/messages
// Appends the user message and kicks off a chat-reply job. The reply
// arrives over the per-job stream channel; the returned job id is what the
// client subscribes with.
func (h *ThreadsHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	threadID := c.Param("id")
	ctx := c.Request.Context()

	msg, err := h.threads.AppendUserMessage(ctx, threadID, req.Content)
	if err != nil {
		RespondError(c, http.StatusNotFound, "thread_not_found", err)
		return
	}

	job, err := h.ledger.Create(ctx, &domain.Job{
		ID:       uuid.New().String(),
		Type:     domain.JobTypeChatReply,
		TargetID: threadID,
		Input: map[string]any{
			"threadId": threadID,
			"message":  req.Content,
		},
	})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "job_create_failed", err)
		return
	}
	h.notify.JobCreated(job)

	c.JSON(http.StatusAccepted, gin.H{
		"message":   msg,
		"jobId":     job.ID,
		"status":    job.Status,
		"createdAt": job.CreatedAt,
	})

	h.dispatcher.Dispatch(job)
}

// GET /api/streams/:jobId
// Recovery read for a reconnecting client: the latest known partial (or
// final) content for a chat job, or 404 once the record has expired.
func (h *ThreadsHandler) GetActiveStream(c *gin.Context) {
	rec, err := h.streams.Get(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "stream_read_failed", err)
		return
	}
	if rec == nil {
		RespondError(c, http.StatusNotFound, "stream_not_found", errors.New("no active stream for job"))
		return
	}
	RespondOK(c, rec)
}
