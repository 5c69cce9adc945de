package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/adweave/skytrigger/internal/adapter/observability"
	"github.com/adweave/skytrigger/internal/domain"
)

// actionMaxRetries bounds backoff retries of a single platform call.
const actionMaxRetries = 2

// platformCallCounts tallies platform API attempts across the parallel
// action goroutines.
type platformCallCounts struct {
	platformM atomic.Int32
	platformG atomic.Int32
}

// dispatchActions runs one action per target in parallel. Results keep the
// target-list order regardless of completion order, and one target's failure
// never cancels its siblings.
func (e *Engine) dispatchActions(ctx context.Context, rule domain.Rule, counts *platformCallCounts) []domain.ActionResult {
	actions := make([]domain.ActionResult, len(rule.Campaigns))
	var wg sync.WaitGroup
	for i, target := range rule.Campaigns {
		wg.Add(1)
		go func(i int, target domain.CampaignTarget) {
			defer wg.Done()
			actions[i] = e.runAction(ctx, rule, target, counts)
		}(i, target)
	}
	wg.Wait()

	for _, a := range actions {
		outcome := "success"
		if !a.Success {
			outcome = "failure"
		}
		observability.ActionsDispatchedTotal.WithLabelValues(a.Platform, outcome).Inc()
	}
	return actions
}

// runAction executes one target: credential lookup, validation read for
// Platform-M, then the status update, with platform calls gated by the rate
// limiter. Failures are captured on the result, never thrown.
func (e *Engine) runAction(ctx context.Context, rule domain.Rule, target domain.CampaignTarget, counts *platformCallCounts) domain.ActionResult {
	result := domain.ActionResult{
		Platform:   target.Platform,
		CampaignID: target.CampaignID,
		AdSetID:    target.AdSetID,
		TargetType: target.TargetType,
		Action:     target.Action,
		Status:     domain.TargetStatus(target.Platform, target.Action),
	}

	account, err := e.accounts.Get(ctx, rule.UserID, target.Platform)
	if err != nil {
		// Missing credentials are a user-state problem; retrying the call
		// cannot fix them.
		result.Error = target.Platform + " account not found"
		if !errors.Is(err, domain.ErrCredentialsMissing) {
			result.Error = err.Error()
		}
		return result
	}

	switch target.Platform {
	case domain.PlatformM:
		err = e.runPlatformMAction(ctx, account, target, result.Status, counts)
	case domain.PlatformG:
		err = e.runPlatformGAction(ctx, account, target, result.Status, counts)
	default:
		err = errors.New("unknown platform " + target.Platform)
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	return result
}

func (e *Engine) runPlatformMAction(ctx context.Context, account domain.PlatformAccount, target domain.CampaignTarget, status string, counts *platformCallCounts) error {
	// Validation read first: a vanished ad set fails the action before any
	// status mutation is attempted.
	err := e.limiter.ExecuteWithBackoff(ctx, domain.ServicePlatformMAds, domain.EndpointAdSetUpdate, actionMaxRetries,
		func(ctx context.Context) error {
			counts.platformM.Add(1)
			_, gerr := e.platformM.GetAdSet(ctx, account, target.AdSetID)
			return gerr
		})
	if err != nil {
		return err
	}
	return e.limiter.ExecuteWithBackoff(ctx, domain.ServicePlatformMAds, domain.EndpointAdSetUpdate, actionMaxRetries,
		func(ctx context.Context) error {
			counts.platformM.Add(1)
			return e.platformM.UpdateAdSetStatus(ctx, account, target.AdSetID, status)
		})
}

func (e *Engine) runPlatformGAction(ctx context.Context, account domain.PlatformAccount, target domain.CampaignTarget, status string, counts *platformCallCounts) error {
	return e.limiter.ExecuteWithBackoff(ctx, domain.ServicePlatformGAds, domain.EndpointCampaignUpdate, actionMaxRetries,
		func(ctx context.Context) error {
			counts.platformG.Add(1)
			return e.platformG.UpdateCampaignStatus(ctx, account, target.CampaignID, status)
		})
}
