// Package notifier implements the Notifier agent: it records every
// terminal pipeline event in the bounded event lists for the dashboard
// and forwards deduplicated, color-coded messages to a Slack webhook.
package notifier

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"

	"github.com/hemostat/hemostat/pkg/bus"
	"github.com/hemostat/hemostat/pkg/clock"
	"github.com/hemostat/hemostat/pkg/config"
	"github.com/hemostat/hemostat/pkg/models"
)

// Agent is the Notifier.
type Agent struct {
	bus    *bus.Client
	cfg    config.Notifier
	clk    clock.Clock
	logger *slog.Logger
}

func New(b *bus.Client, cfg config.Notifier, clk clock.Clock) *Agent {
	return &Agent{
		bus:    b,
		cfg:    cfg,
		clk:    clk,
		logger: slog.Default().With("component", "notifier"),
	}
}

// Run subscribes to the terminal event channels until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Notifier started",
		"slack_enabled", a.cfg.Enabled && a.cfg.WebhookURL != "",
		"max_events", a.cfg.MaxEvents)
	return a.bus.Listen(ctx, map[string]bus.Handler{
		bus.ChannelRemediationComplete: a.HandleEvent,
		bus.ChannelFalseAlarm:          a.HandleEvent,
		bus.ChannelAlerts:              a.HandleEvent,
	})
}

// HandleEvent stores the event in the per-type and unified timelines,
// then notifies Slack unless an identical event already went out this
// minute.
func (a *Agent) HandleEvent(ctx context.Context, env *models.Envelope) {
	a.storeEvent(ctx, env)

	if !a.cfg.Enabled || a.cfg.WebhookURL == "" {
		return
	}
	if !a.shouldNotify(ctx, env) {
		a.logger.Debug("Suppressing duplicate notification", "event_type", env.EventType)
		return
	}
	if err := a.sendSlack(ctx, env); err != nil {
		a.logger.Error("Slack notification failed", "event_type", env.EventType, "error", err)
	}
}

// storeEvent appends to events:{type} and events:all; both lists hold
// the same entries for a given type, newest first.
func (a *Agent) storeEvent(ctx context.Context, env *models.Envelope) {
	rec := models.EventRecord{
		Timestamp: env.Timestamp,
		Agent:     env.Agent,
		EventType: env.EventType,
		Data:      env.Data,
	}
	for _, key := range []string{bus.EventsKey(env.EventType), bus.EventsKey(bus.EventsAllSuffix)} {
		if err := a.bus.PushEntry(ctx, key, rec, a.cfg.MaxEvents, a.cfg.EventTTL); err != nil {
			a.logger.Error("Storing event failed", "key", key, "error", err)
		}
	}
}

// shouldNotify claims a minute-granularity dedupe slot for the event
// payload. Only the first claimant in the window sends.
func (a *Agent) shouldNotify(ctx context.Context, env *models.Envelope) bool {
	sum := md5.Sum([]byte(env.EventType + "|" + env.Agent + "|" +
		a.clk.Now().UTC().Format("2006-01-02T15:04") + "|" + string(env.Data)))
	hash := hex.EncodeToString(sum[:])

	created, err := a.bus.MarkOnce(ctx, hash, a.cfg.DedupeTTL)
	if err != nil {
		a.logger.Warn("Dedupe check failed, sending anyway", "error", err)
		return true
	}
	return created
}
