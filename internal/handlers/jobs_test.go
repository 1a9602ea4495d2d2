package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devpath/devpath-backend/internal/docstore"
	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/jobs/dispatch"
	"github.com/devpath/devpath-backend/internal/jobs/ledger"
	"github.com/devpath/devpath-backend/internal/jobs/registry"
	"github.com/devpath/devpath-backend/internal/jobs/runtime"
	"github.com/devpath/devpath-backend/internal/platform/logger"
)

type stubHandler struct {
	jobType string
	run     func(jc *runtime.Context) error
}

func (h *stubHandler) Type() string                  { return h.jobType }
func (h *stubHandler) Run(jc *runtime.Context) error { return h.run(jc) }

type jobsFixture struct {
	ledger   *ledger.Ledger
	registry *registry.Registry
	router   *gin.Engine
}

func newJobsFixture(t *testing.T, execHandlers ...runtime.Handler) *jobsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	l := ledger.New(docstore.NewMemoryStore(), logger.Nop())
	r := registry.New(l, logger.Nop())
	hr := runtime.NewHandlerRegistry()
	for _, h := range execHandlers {
		if err := hr.Register(h); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	d := dispatch.NewDispatcher(hr, l, r, nil, logger.Nop())
	jh := NewJobsHandler(l, r, hr, d, noopNotifier{})

	router := gin.New()
	router.POST("/api/jobs", jh.CreateJob)
	router.GET("/api/jobs", jh.ListJobs)
	router.GET("/api/jobs/latest", jh.GetLatestJob)
	router.GET("/api/jobs/:id", jh.GetJobByID)
	router.DELETE("/api/jobs/:id", jh.DeleteJob)

	return &jobsFixture{ledger: l, registry: r, router: router}
}

type noopNotifier struct{}

func (noopNotifier) JobCreated(*domain.Job)                       {}
func (noopNotifier) JobProgress(*domain.Job, string, int, string) {}
func (noopNotifier) JobDone(*domain.Job)                          {}
func (noopNotifier) JobFailed(*domain.Job, string, string)        {}
func (noopNotifier) JobCancelled(*domain.Job)                     {}

func (f *jobsFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestCreateJobRespondsAcceptedAndRuns(t *testing.T) {
	f := newJobsFixture(t, &stubHandler{jobType: "topic-regeneration", run: func(jc *runtime.Context) error {
		if err := jc.MarkRunning(); err != nil {
			return nil
		}
		jc.Succeed(map[string]any{"learningTopic": map[string]any{"id": "new-topic"}})
		return nil
	}})

	w := f.do(t, http.MethodPost, "/api/jobs", map[string]any{
		"type":     "topic-regeneration",
		"targetId": "t1",
		"input":    map[string]any{"existingTopicTitles": []string{"A"}},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	id, _ := resp["id"].(string)
	if id == "" || resp["status"] != "pending" {
		t.Fatalf("response = %#v", resp)
	}

	// Poll the read endpoint until the detached executor finishes.
	deadline := time.Now().Add(2 * time.Second)
	for {
		gw := f.do(t, http.MethodGet, "/api/jobs/"+id, nil)
		if gw.Code != http.StatusOK {
			t.Fatalf("get status = %d", gw.Code)
		}
		job := decodeBody(t, gw)
		if job["status"] == "completed" {
			result, _ := job["result"].(map[string]any)
			topic, _ := result["learningTopic"].(map[string]any)
			if topic["id"] != "new-topic" {
				t.Fatalf("result = %#v", result)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never completed: %#v", job)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCreateJobUnknownType(t *testing.T) {
	f := newJobsFixture(t)
	w := f.do(t, http.MethodPost, "/api/jobs", map[string]any{"type": "nope"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestGetJobNotFound(t *testing.T) {
	f := newJobsFixture(t)
	w := f.do(t, http.MethodGet, "/api/jobs/ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestListJobsFilters(t *testing.T) {
	f := newJobsFixture(t)
	ctx := context.Background()
	mustCreate := func(id, jobType string) {
		if _, err := f.ledger.Create(ctx, &domain.Job{ID: id, Type: jobType}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	mustCreate("j1", "topic-regeneration")
	mustCreate("j2", "chat-reply")
	if _, err := f.ledger.MarkCompleted(ctx, "j2", nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	w := f.do(t, http.MethodGet, "/api/jobs?type=chat-reply", nil)
	resp := decodeBody(t, w)
	jobs, _ := resp["jobs"].([]any)
	if len(jobs) != 1 {
		t.Fatalf("type filter returned %d jobs", len(jobs))
	}

	w = f.do(t, http.MethodGet, "/api/jobs?status=pending", nil)
	resp = decodeBody(t, w)
	jobs, _ = resp["jobs"].([]any)
	if len(jobs) != 1 {
		t.Fatalf("status filter returned %d jobs", len(jobs))
	}
}

func TestDeleteRunningJobCancels(t *testing.T) {
	f := newJobsFixture(t)
	ctx := context.Background()
	if _, err := f.ledger.Create(ctx, &domain.Job{ID: "j1", Type: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.ledger.MarkRunning(ctx, "j1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	w := f.do(t, http.MethodDelete, "/api/jobs/j1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["cancelled"] != true {
		t.Fatalf("response = %#v", resp)
	}

	gw := f.do(t, http.MethodGet, "/api/jobs/j1", nil)
	job := decodeBody(t, gw)
	if job["status"] != "cancelled" || job["error"] != "Cancelled by user" {
		t.Fatalf("job after delete = %#v", job)
	}
}

func TestDeleteFinishedJobRemovesIt(t *testing.T) {
	f := newJobsFixture(t)
	ctx := context.Background()
	if _, err := f.ledger.Create(ctx, &domain.Job{ID: "j1", Type: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.ledger.MarkCompleted(ctx, "j1", nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	w := f.do(t, http.MethodDelete, "/api/jobs/j1", nil)
	resp := decodeBody(t, w)
	if resp["cancelled"] != false || resp["deletedFromStorage"] != true {
		t.Fatalf("response = %#v", resp)
	}

	if gw := f.do(t, http.MethodGet, "/api/jobs/j1", nil); gw.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d", gw.Code)
	}
}

func TestDeleteUnknownJob(t *testing.T) {
	f := newJobsFixture(t)
	if w := f.do(t, http.MethodDelete, "/api/jobs/ghost", nil); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestGetLatestJob(t *testing.T) {
	f := newJobsFixture(t)
	ctx := context.Background()
	if _, err := f.ledger.Create(ctx, &domain.Job{ID: "j1", Type: "x", TargetID: "t1"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	w := f.do(t, http.MethodGet, "/api/jobs/latest?type=x&targetId=t1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if job := decodeBody(t, w); job["id"] != "j1" {
		t.Fatalf("job = %#v", job)
	}

	if w := f.do(t, http.MethodGet, "/api/jobs/latest?type=x&targetId=none", nil); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/jobs/latest", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing type status = %d", w.Code)
	}
}
