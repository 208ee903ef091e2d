// Package decider implements the Decider agent: it consumes health
// alerts and publishes exactly one of remediation_needed or false_alarm
// per alert, using AI analysis when a backend is configured and the
// deterministic rule ladder otherwise.
package decider

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hemostat/hemostat/pkg/bus"
	"github.com/hemostat/hemostat/pkg/config"
	"github.com/hemostat/hemostat/pkg/llm"
	"github.com/hemostat/hemostat/pkg/models"
)

// Agent is the Decider.
type Agent struct {
	bus     *bus.Client
	cfg     config.Decider
	backend llm.Backend
	logger  *slog.Logger
}

func New(b *bus.Client, cfg config.Decider, backend llm.Backend) *Agent {
	return &Agent{
		bus:     b,
		cfg:     cfg,
		backend: backend,
		logger:  slog.Default().With("component", "decider"),
	}
}

// Run subscribes to health alerts until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Decider started", "backend", a.backend.Name(),
		"confidence_threshold", a.cfg.ConfidenceThreshold)
	return a.bus.Listen(ctx, map[string]bus.Handler{
		bus.ChannelHealthAlert: a.HandleAlert,
	})
}

// HandleAlert runs the per-alert pipeline: load history, analyze,
// append to history, route. Failures short of analysis are logged and
// the alert is dropped; analysis itself always produces a verdict.
func (a *Agent) HandleAlert(ctx context.Context, env *models.Envelope) {
	var alert models.HealthAlert
	if err := env.Decode(&alert); err != nil {
		a.logger.Error("Dropping malformed health alert", "error", err)
		return
	}
	logger := a.logger.With("container", alert.ContainerName)

	history := a.loadHistory(ctx, alert.ContainerName)
	analysis := a.analyze(ctx, &alert, history)
	a.appendHistory(ctx, &alert, history)

	logger.Info("Alert analyzed", "action", analysis.Action,
		"confidence", analysis.Confidence, "is_false_alarm", analysis.IsFalseAlarm,
		"method", analysis.AnalysisMethod)

	if err := a.route(ctx, &alert, &analysis); err != nil {
		logger.Error("Publishing verdict failed", "error", err)
	}
}

// analyze produces a verdict. AI_FALLBACK_ENABLED=false forces the rule
// ladder; the model is never consulted.
func (a *Agent) analyze(ctx context.Context, alert *models.HealthAlert, history []models.HealthAlert) models.Analysis {
	if !a.cfg.AIFallbackEnabled {
		return RuleBasedAnalyze(alert, history)
	}
	analysis, err := a.aiAnalyze(ctx, alert, history)
	if err == nil {
		return analysis
	}
	if !errors.Is(err, llm.ErrNoBackend) {
		a.logger.Warn("AI analysis failed, using rule ladder",
			"container", alert.ContainerName, "error", err)
	}
	return RuleBasedAnalyze(alert, history)
}

func (a *Agent) loadHistory(ctx context.Context, container string) []models.HealthAlert {
	var h models.AlertHistory
	found, err := a.bus.GetState(ctx, "alert_history:"+container, &h)
	if err != nil {
		a.logger.Warn("Loading alert history failed", "container", container, "error", err)
		return nil
	}
	if !found {
		return nil
	}
	return h.Alerts
}

// appendHistory stores the incoming alert after analysis so the verdict
// reflects only prior alerts, trimmed to the newest HistorySize entries.
func (a *Agent) appendHistory(ctx context.Context, alert *models.HealthAlert, history []models.HealthAlert) {
	alerts := append(history, *alert)
	if len(alerts) > a.cfg.HistorySize {
		alerts = alerts[len(alerts)-a.cfg.HistorySize:]
	}
	h := models.AlertHistory{Container: alert.ContainerName, Alerts: alerts}
	if err := a.bus.SetState(ctx, "alert_history:"+alert.ContainerName, h, a.cfg.HistoryTTL); err != nil {
		a.logger.Warn("Storing alert history failed", "container", alert.ContainerName, "error", err)
	}
}

// route publishes the verdict. An actionable analysis must clear the
// confidence threshold and name a concrete action; everything else is a
// false alarm. The action guard catches model output that claims
// remediation while recommending none.
func (a *Agent) route(ctx context.Context, alert *models.HealthAlert, analysis *models.Analysis) error {
	actionable := !analysis.IsFalseAlarm &&
		analysis.Confidence >= a.cfg.ConfidenceThreshold &&
		analysis.Action != models.ActionNone

	if actionable {
		req := models.RemediationRequest{
			Container:      alert.ContainerName,
			Action:         analysis.Action,
			Reason:         analysis.Reason,
			Confidence:     analysis.Confidence,
			Metrics:        alert.Metrics,
			AnalysisMethod: analysis.AnalysisMethod,
		}
		return a.bus.Publish(ctx, bus.ChannelRemediationNeeded, bus.EventRemediationNeeded, req)
	}

	fa := models.FalseAlarm{
		Container:      alert.ContainerName,
		Reason:         analysis.Reason,
		Confidence:     analysis.Confidence,
		AnalysisMethod: analysis.AnalysisMethod,
	}
	return a.bus.Publish(ctx, bus.ChannelFalseAlarm, bus.EventFalseAlarm, fa)
}
