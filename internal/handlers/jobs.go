package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/jobs/dispatch"
	"github.com/devpath/devpath-backend/internal/jobs/ledger"
	"github.com/devpath/devpath-backend/internal/jobs/registry"
	"github.com/devpath/devpath-backend/internal/jobs/runtime"
	"github.com/devpath/devpath-backend/internal/services"
)

type JobsHandler struct {
	ledger     *ledger.Ledger
	registry   *registry.Registry
	handlers   *runtime.HandlerRegistry
	dispatcher *dispatch.Dispatcher
	notify     services.JobNotifier
}

func NewJobsHandler(l *ledger.Ledger, r *registry.Registry, h *runtime.HandlerRegistry, d *dispatch.Dispatcher, notify services.JobNotifier) *JobsHandler {
	return &JobsHandler{
		ledger:     l,
		registry:   r,
		handlers:   h,
		dispatcher: d,
		notify:     notify,
	}
}

type createJobRequest struct {
	ID       string         `json:"id"`
	Type     string         `json:"type" binding:"required"`
	TargetID string         `json:"targetId"`
	Input    map[string]any `json:"input"`
}

// POST /api/jobs
// Fire-and-forget: the response goes out with status pending and execution
// starts on a detached goroutine.
func (h *JobsHandler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if _, ok := h.handlers.Get(req.Type); !ok {
		RespondError(c, http.StatusBadRequest, "unknown_job_type", errors.New("no executor for job type: "+req.Type))
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	job, err := h.ledger.Create(c.Request.Context(), &domain.Job{
		ID:       req.ID,
		Type:     req.Type,
		TargetID: req.TargetID,
		Input:    req.Input,
	})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "job_create_failed", err)
		return
	}
	h.notify.JobCreated(job)

	c.JSON(http.StatusAccepted, gin.H{
		"id":        job.ID,
		"type":      job.Type,
		"status":    job.Status,
		"createdAt": job.CreatedAt,
	})

	h.dispatcher.Dispatch(job)
}

// GET /api/jobs?type=&status=
func (h *JobsHandler) ListJobs(c *gin.Context) {
	jobType := c.Query("type")
	status := c.Query("status")

	all, err := h.ledger.GetAll(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "job_list_failed", err)
		return
	}
	jobs := make([]*domain.Job, 0, len(all))
	for _, j := range all {
		if jobType != "" && j.Type != jobType {
			continue
		}
		if status != "" && string(j.Status) != status {
			continue
		}
		jobs = append(jobs, j)
	}
	RespondOK(c, gin.H{"jobs": jobs})
}

// GET /api/jobs/latest?type=&targetId=
func (h *JobsHandler) GetLatestJob(c *gin.Context) {
	jobType := c.Query("type")
	if jobType == "" {
		RespondError(c, http.StatusBadRequest, "missing_type", errors.New("type query parameter is required"))
		return
	}
	job, err := h.ledger.GetLatestByTarget(c.Request.Context(), jobType, c.Query("targetId"))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "job_read_failed", err)
		return
	}
	if job == nil {
		RespondError(c, http.StatusNotFound, "job_not_found", errors.New("no matching job"))
		return
	}
	RespondOK(c, job)
}

// GET /api/jobs/:id
// Status polling needs freshness, so the cache is invalidated before the
// read.
func (h *JobsHandler) GetJobByID(c *gin.Context) {
	h.ledger.InvalidateCache()
	job, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "job_read_failed", err)
		return
	}
	if job == nil {
		RespondError(c, http.StatusNotFound, "job_not_found", errors.New("job not found"))
		return
	}
	RespondOK(c, job)
}

// DELETE /api/jobs/:id
// Attempts cancellation first; a job that was actively cancelled stays in
// the ledger so its cancelled status remains observable. Storage removal
// only applies to jobs that were already finished. 404 only when neither
// had any effect.
func (h *JobsHandler) DeleteJob(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	cancelled := h.registry.Cancel(ctx, id)
	if cancelled {
		if job, err := h.ledger.Get(ctx, id); err == nil && job != nil {
			h.notify.JobCancelled(job)
		}
	}
	deleted := false
	if !cancelled {
		var err error
		deleted, err = h.ledger.Delete(ctx, id)
		if err != nil {
			RespondError(c, http.StatusInternalServerError, "job_delete_failed", err)
			return
		}
	}
	if !cancelled && !deleted {
		RespondError(c, http.StatusNotFound, "job_not_found", errors.New("job not found"))
		return
	}
	RespondOK(c, gin.H{
		"success":            true,
		"cancelled":          cancelled,
		"deletedFromStorage": deleted,
	})
}
