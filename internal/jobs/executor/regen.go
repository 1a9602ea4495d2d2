package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/devpath/devpath-backend/internal/jobs/ledger"
	"github.com/devpath/devpath-backend/internal/jobs/runtime"
	"github.com/devpath/devpath-backend/internal/services"
)

// regenExecutor is the shared shape of all regeneration job types: gather
// profile context, run one generation call, parse the structured result.
// Liveness is re-checked before and after every external call; a failed
// check means the cancellation path already wrote the terminal status, so
// the executor returns without writing anything.
type regenExecutor struct {
	jobType  string
	sessions services.SessionProvider
	profile  services.ProfileProvider
	prompt   func(facts *services.ProfileFacts, jc *runtime.Context) string
	parse    func(raw string) (map[string]any, error)
}

func (e *regenExecutor) Type() string { return e.jobType }

func (e *regenExecutor) Run(jc *runtime.Context) error {
	if err := jc.MarkRunning(); err != nil {
		if !errors.Is(err, ledger.ErrTerminal) {
			// Store trouble, not cancellation; surface it instead of
			// leaving the job pending forever.
			jc.Fail("start", err)
		}
		return nil
	}
	if !jc.StillValid() {
		return nil
	}

	jc.Progress("context", 10, "Gathering profile context")
	facts, err := e.profile.Facts(jc.Ctx)
	if err != nil {
		jc.Fail("context", fmt.Errorf("profile context: %w", err))
		return nil
	}
	if !jc.StillValid() {
		return nil
	}

	session, err := e.sessions.Open(jc.Ctx)
	if err != nil {
		jc.Fail("session", fmt.Errorf("open session: %w", err))
		return nil
	}
	jc.Registry.Register(jc.Job.ID, sessionCanceller{session})

	jc.Progress("generate", 40, "Generating")
	raw, sendErr := session.Send(jc.Ctx, e.prompt(facts, jc))

	jc.Registry.Unregister(jc.Job.ID)
	_ = session.Destroy(context.Background())

	if sendErr != nil {
		if !jc.StillValid() {
			// The call died because cancel destroyed the session.
			return nil
		}
		jc.Fail("generate", sendErr)
		return nil
	}
	if !jc.StillValid() {
		return nil
	}

	jc.Progress("parse", 90, "Parsing result")
	result, err := e.parse(raw)
	if err != nil {
		jc.Fail("parse", err)
		return nil
	}
	jc.Succeed(result)
	return nil
}

// sessionCanceller adapts a live session's destroy capability to the
// cancellation registry.
type sessionCanceller struct {
	session services.Session
}

func (c sessionCanceller) Destroy(ctx context.Context) error {
	return c.session.Destroy(ctx)
}
