package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/devpath/devpath-backend/internal/docstore"
	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/jobs/ledger"
	"github.com/devpath/devpath-backend/internal/platform/logger"
)

type fakeCanceller struct {
	calls int
	err   error
}

func (c *fakeCanceller) Destroy(context.Context) error {
	c.calls++
	return c.err
}

func newFixture(t *testing.T) (*ledger.Ledger, *Registry) {
	t.Helper()
	l := ledger.New(docstore.NewMemoryStore(), logger.Nop())
	return l, New(l, logger.Nop())
}

func TestCancelFlipsStatusAndDestroysSession(t *testing.T) {
	l, r := newFixture(t)
	ctx := context.Background()
	if _, err := l.Create(ctx, &domain.Job{ID: "j1", Type: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := l.MarkRunning(ctx, "j1"); err != nil {
		t.Fatalf("run: %v", err)
	}
	c := &fakeCanceller{}
	r.Register("j1", c)

	if !r.Cancel(ctx, "j1") {
		t.Fatalf("cancel should succeed")
	}
	if c.calls != 1 {
		t.Fatalf("destroy calls = %d, want 1", c.calls)
	}
	job, _ := l.Get(ctx, "j1")
	if job.Status != domain.JobCancelled {
		t.Fatalf("status = %q, want cancelled", job.Status)
	}
	if job.Error != "Cancelled by user" {
		t.Fatalf("error = %q", job.Error)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	l, r := newFixture(t)
	ctx := context.Background()
	if _, err := l.Create(ctx, &domain.Job{ID: "j1", Type: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !r.Cancel(ctx, "j1") {
		t.Fatalf("first cancel should succeed")
	}
	if r.Cancel(ctx, "j1") {
		t.Fatalf("second cancel should return false")
	}
	job, _ := l.Get(ctx, "j1")
	if job.Status != domain.JobCancelled {
		t.Fatalf("status = %q", job.Status)
	}
}

func TestCancelWithoutRegistryEntryStillFlipsStatus(t *testing.T) {
	l, r := newFixture(t)
	ctx := context.Background()
	if _, err := l.Create(ctx, &domain.Job{ID: "j1", Type: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !r.Cancel(ctx, "j1") {
		t.Fatalf("registry-less cancel should still succeed")
	}
	job, _ := l.Get(ctx, "j1")
	if job.Status != domain.JobCancelled {
		t.Fatalf("status = %q", job.Status)
	}
}

func TestCancelAbsentJob(t *testing.T) {
	_, r := newFixture(t)
	if r.Cancel(context.Background(), "ghost") {
		t.Fatalf("cancel of absent job should return false")
	}
}

func TestCancelSwallowsDestroyFailure(t *testing.T) {
	l, r := newFixture(t)
	ctx := context.Background()
	if _, err := l.Create(ctx, &domain.Job{ID: "j1", Type: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	r.Register("j1", &fakeCanceller{err: errors.New("already gone")})
	if !r.Cancel(ctx, "j1") {
		t.Fatalf("destroy failure must not fail the cancel")
	}
}

func TestIsJobStillValid(t *testing.T) {
	l, r := newFixture(t)
	ctx := context.Background()
	if _, err := l.Create(ctx, &domain.Job{ID: "j1", Type: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if !r.IsJobStillValid(ctx, "j1") {
		t.Fatalf("pending job should be valid")
	}
	r.Cancel(ctx, "j1")
	if r.IsJobStillValid(ctx, "j1") {
		t.Fatalf("cancelled job should be invalid")
	}
	if r.IsJobStillValid(ctx, "ghost") {
		t.Fatalf("absent job should be invalid")
	}
}
