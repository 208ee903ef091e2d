// Package actuator implements the Actuator agent: it executes the
// Decider's recommended action under cooldown, circuit-breaker, and
// dry-run guards, writes an audit row for every request, and always
// publishes a remediation_complete outcome.
package actuator

import (
	"context"
	"log/slog"
	"time"

	"github.com/hemostat/hemostat/pkg/bus"
	"github.com/hemostat/hemostat/pkg/clock"
	"github.com/hemostat/hemostat/pkg/config"
	"github.com/hemostat/hemostat/pkg/docker"
	"github.com/hemostat/hemostat/pkg/models"
)

const (
	// breakerWindow is how long an open breaker blocks remediation
	// before it is allowed to close on its own.
	breakerWindow = time.Hour

	historyTTL = 2 * time.Hour
	breakerTTL = 2 * time.Hour

	auditMax = 100
	auditTTL = 7 * 24 * time.Hour

	dryRunPause = 500 * time.Millisecond
)

// Agent is the Actuator.
type Agent struct {
	bus     *bus.Client
	cfg     config.Actuator
	runtime docker.Runtime
	clk     clock.Clock
	logger  *slog.Logger
}

func New(b *bus.Client, cfg config.Actuator, rt docker.Runtime, clk clock.Clock) *Agent {
	return &Agent{
		bus:     b,
		cfg:     cfg,
		runtime: rt,
		clk:     clk,
		logger:  slog.Default().With("component", "actuator"),
	}
}

// Run subscribes to remediation requests until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Actuator started", "dry_run", a.cfg.DryRun,
		"cooldown", a.cfg.Cooldown, "max_retries_per_hour", a.cfg.MaxRetriesPerHour)
	return a.bus.Listen(ctx, map[string]bus.Handler{
		bus.ChannelRemediationNeeded: a.HandleRequest,
	})
}

// HandleRequest runs one remediation request through the guard sequence
// and the action, then records the outcome. Every path, including
// rejections, produces exactly one audit row and one completion event.
func (a *Agent) HandleRequest(ctx context.Context, env *models.Envelope) {
	var req models.RemediationRequest
	if err := env.Decode(&req); err != nil {
		a.logger.Error("Dropping malformed remediation request", "error", err)
		return
	}
	logger := a.logger.With("container", req.Container, "action", req.Action)
	logger.Info("Remediation requested", "confidence", req.Confidence, "reason", req.Reason)

	result := a.execute(ctx, &req)

	a.updateState(ctx, &req, &result)
	a.audit(ctx, &req, &result)
	a.publishComplete(ctx, &req, &result)

	logger.Info("Remediation finished", "status", result.Status,
		"dry_run", a.cfg.DryRun, "error", result.Error)
}

// execute applies the guards in order, then dispatches the action.
func (a *Agent) execute(ctx context.Context, req *models.RemediationRequest) models.ActionResult {
	if rejected, ok := a.checkCooldown(ctx, req); ok {
		return rejected
	}
	if rejected, ok := a.checkBreaker(ctx, req); ok {
		return rejected
	}

	if a.cfg.DryRun {
		_ = a.clk.Sleep(ctx, dryRunPause)
		return models.ActionResult{
			Status:    models.StatusSuccess,
			Action:    req.Action,
			Container: req.Container,
			Details:   "dry run, no action taken",
		}
	}

	switch req.Action {
	case models.ActionRestart:
		return a.restart(ctx, req)
	case models.ActionScaleUp:
		return a.scaleUp(ctx, req)
	case models.ActionCleanup:
		return a.cleanup(ctx, req)
	case models.ActionExec:
		return a.exec(ctx, req)
	default:
		return models.ActionResult{
			Status:    models.StatusFailed,
			Action:    req.Action,
			Container: req.Container,
			Error:     "unsupported action",
		}
	}
}

// checkCooldown rejects when the container was remediated more recently
// than the cooldown interval. Rejection leaves the history untouched so
// the original action's timestamp keeps gating.
func (a *Agent) checkCooldown(ctx context.Context, req *models.RemediationRequest) (models.ActionResult, bool) {
	var h models.RemediationHistory
	found, err := a.bus.GetState(ctx, "remediation_history:"+req.Container, &h)
	if err != nil {
		a.logger.Warn("Reading remediation history failed", "container", req.Container, "error", err)
		return models.ActionResult{}, false
	}
	if !found || h.LastActionTimestamp.IsZero() {
		return models.ActionResult{}, false
	}

	elapsed := a.clk.Now().Sub(h.LastActionTimestamp)
	if elapsed >= a.cfg.Cooldown {
		return models.ActionResult{}, false
	}

	remaining := int((a.cfg.Cooldown - elapsed).Seconds())
	a.logger.Info("Remediation rejected by cooldown",
		"container", req.Container, "remaining_seconds", remaining)
	return models.ActionResult{
		Status:           models.StatusRejected,
		Action:           req.Action,
		Container:        req.Container,
		Reason:           models.ReasonCooldownActive,
		RemainingSeconds: remaining,
	}, true
}

// checkBreaker rejects while the breaker is open inside its one-hour
// window; an expired window closes the breaker and lets the action run.
func (a *Agent) checkBreaker(ctx context.Context, req *models.RemediationRequest) (models.ActionResult, bool) {
	var b models.BreakerState
	found, err := a.bus.GetState(ctx, "circuit_breaker:"+req.Container, &b)
	if err != nil {
		a.logger.Warn("Reading circuit breaker failed", "container", req.Container, "error", err)
		return models.ActionResult{}, false
	}
	if !found || !b.IsOpen {
		return models.ActionResult{}, false
	}

	if a.clk.Now().Sub(b.OpenedTimestamp) < breakerWindow {
		a.logger.Info("Remediation rejected by circuit breaker",
			"container", req.Container, "failure_count", b.FailureCount)
		return models.ActionResult{
			Status:     models.StatusRejected,
			Action:     req.Action,
			Container:  req.Container,
			Reason:     models.ReasonCircuitBreakerOpen,
			RetryCount: b.FailureCount,
		}, true
	}

	a.logger.Info("Circuit breaker window elapsed, closing", "container", req.Container)
	a.storeBreaker(ctx, req.Container, models.BreakerState{})
	return models.ActionResult{}, false
}

// updateState applies the post-action bookkeeping. Guard rejections and
// not_applicable outcomes leave cooldown and breaker untouched; dry runs
// leave everything untouched.
func (a *Agent) updateState(ctx context.Context, req *models.RemediationRequest, res *models.ActionResult) {
	if a.cfg.DryRun {
		return
	}
	if res.Status == models.StatusNotApplicable {
		return
	}
	if res.Status == models.StatusRejected &&
		(res.Reason == models.ReasonCooldownActive || res.Reason == models.ReasonCircuitBreakerOpen) {
		return
	}

	a.updateHistory(ctx, req, res)
	a.updateBreaker(ctx, req.Container, res.Status)
}

func (a *Agent) updateHistory(ctx context.Context, req *models.RemediationRequest, res *models.ActionResult) {
	now := a.clk.Now().UTC()

	var h models.RemediationHistory
	if _, err := a.bus.GetState(ctx, "remediation_history:"+req.Container, &h); err != nil {
		a.logger.Warn("Reading remediation history failed", "container", req.Container, "error", err)
		h = models.RemediationHistory{}
	}

	hour := now.Truncate(time.Hour)
	if h.LastRetryHour.Equal(hour) {
		h.RetryCount++
	} else {
		h.RetryCount = 1
		h.LastRetryHour = hour
	}
	h.LastActionTimestamp = now
	h.LastAction = req.Action
	h.LastResultStatus = res.Status

	if err := a.bus.SetState(ctx, "remediation_history:"+req.Container, h, historyTTL); err != nil {
		a.logger.Error("Storing remediation history failed", "container", req.Container, "error", err)
	}
}

// updateBreaker closes the breaker on success and counts failures,
// opening once the per-hour limit is reached. Policy rejections are not
// failures and do not count.
func (a *Agent) updateBreaker(ctx context.Context, container string, status models.ResultStatus) {
	switch status {
	case models.StatusSuccess:
		a.storeBreaker(ctx, container, models.BreakerState{})
	case models.StatusFailed:
		var b models.BreakerState
		if _, err := a.bus.GetState(ctx, "circuit_breaker:"+container, &b); err != nil {
			a.logger.Warn("Reading circuit breaker failed", "container", container, "error", err)
			b = models.BreakerState{}
		}
		b.FailureCount++
		if b.FailureCount >= a.cfg.MaxRetriesPerHour {
			b.IsOpen = true
			b.OpenedTimestamp = a.clk.Now().UTC()
			a.logger.Warn("Circuit breaker opened", "container", container,
				"failure_count", b.FailureCount)
		}
		a.storeBreaker(ctx, container, b)
	}
}

// storeBreaker keeps the legacy retry_count field in lockstep with
// failure_count; they are the same counter on the wire.
func (a *Agent) storeBreaker(ctx context.Context, container string, b models.BreakerState) {
	b.RetryCount = b.FailureCount
	if err := a.bus.SetState(ctx, "circuit_breaker:"+container, b, breakerTTL); err != nil {
		a.logger.Error("Storing circuit breaker failed", "container", container, "error", err)
	}
}

func (a *Agent) audit(ctx context.Context, req *models.RemediationRequest, res *models.ActionResult) {
	entry := models.AuditEntry{
		Timestamp:    a.clk.Now().UTC(),
		Container:    req.Container,
		Action:       req.Action,
		ResultStatus: res.Status,
		Error:        res.Error,
		Confidence:   req.Confidence,
		Reason:       req.Reason,
		Metrics:      &req.Metrics,
		DryRun:       a.cfg.DryRun,
	}
	if err := a.bus.PushEntry(ctx, bus.AuditKey(req.Container), entry, auditMax, auditTTL); err != nil {
		a.logger.Error("Writing audit entry failed", "container", req.Container, "error", err)
	}
}

func (a *Agent) publishComplete(ctx context.Context, req *models.RemediationRequest, res *models.ActionResult) {
	complete := models.RemediationComplete{
		Container:      req.Container,
		Action:         req.Action,
		Result:         *res,
		DryRun:         a.cfg.DryRun,
		Reason:         req.Reason,
		Confidence:     req.Confidence,
		AnalysisMethod: req.AnalysisMethod,
	}
	if err := a.bus.Publish(ctx, bus.ChannelRemediationComplete, bus.EventRemediationComplete, complete); err != nil {
		a.logger.Error("Publishing completion failed", "container", req.Container, "error", err)
	}
}
