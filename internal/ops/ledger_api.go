package ops

import (
	"context"

	"github.com/google/uuid"

	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/jobs/dispatch"
	"github.com/devpath/devpath-backend/internal/jobs/ledger"
	"github.com/devpath/devpath-backend/internal/jobs/registry"
)

// ledgerJobAPI serves the manager directly from the in-process job services,
// for deployments where the manager runs inside the serving process instead
// of a remote client.
type ledgerJobAPI struct {
	ledger     *ledger.Ledger
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
}

func NewLedgerJobAPI(l *ledger.Ledger, r *registry.Registry, d *dispatch.Dispatcher) JobAPI {
	return &ledgerJobAPI{ledger: l, registry: r, dispatcher: d}
}

func (a *ledgerJobAPI) CreateJob(ctx context.Context, jobType, targetID string, input map[string]any) (*domain.Job, error) {
	job, err := a.ledger.Create(ctx, &domain.Job{
		ID:       uuid.New().String(),
		Type:     jobType,
		TargetID: targetID,
		Input:    input,
	})
	if err != nil {
		return nil, err
	}
	a.dispatcher.Dispatch(job)
	return job, nil
}

// GetJob invalidates the ledger cache first: polling is the one reader that
// must observe writes from other processes.
func (a *ledgerJobAPI) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	a.ledger.InvalidateCache()
	return a.ledger.Get(ctx, id)
}

func (a *ledgerJobAPI) CancelJob(ctx context.Context, id string) (bool, error) {
	return a.registry.Cancel(ctx, id), nil
}
