// Package observer implements the Observer agent: periodic container
// inspection, metric derivation, anomaly detection, read-model snapshot
// refresh, and health-alert publishing.
package observer

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

// snapshotTTL bounds how long a container stays on the dashboard after
// its last successful poll.
const snapshotTTL = 5 * time.Minute

// Snapshot is one container's observed state in a single poll cycle.
type Snapshot struct {
	Container    docker.Container
	Metrics      models.Metrics
	HealthStatus models.HealthStatus
	ExitCode     int
	RestartCount int
}

// DialFunc creates a runtime client. The Observer redials each cycle
// while degraded so a late-starting daemon is picked up without a
// process restart.
type DialFunc func(ctx context.Context) (docker.Runtime, error)

// Agent is the Observer. Run drives the poll loop until ctx cancels.
type Agent struct {
	bus     *bus.Client
	cfg     config.Observer
	clk     clock.Clock
	dial    DialFunc
	runtime docker.Runtime
	logger  *slog.Logger
}

func New(b *bus.Client, cfg config.Observer, clk clock.Clock, dial DialFunc) *Agent {
	return &Agent{
		bus:    b,
		cfg:    cfg,
		clk:    clk,
		dial:   dial,
		logger: slog.Default().With("component", "observer"),
	}
}

// Run polls at the configured cadence until ctx is cancelled. A missing
// runtime never crashes the loop; the agent stays degraded and retries
// the connection next cycle.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Observer started", "poll_interval", a.cfg.PollInterval,
		"threshold_cpu", a.cfg.ThresholdCPU, "threshold_memory", a.cfg.ThresholdMemory)

	for {
		a.poll(ctx)
		if err := a.clk.Sleep(ctx, a.cfg.PollInterval); err != nil {
			a.logger.Info("Observer stopping")
			return err
		}
	}
}

func (a *Agent) poll(ctx context.Context) {
	if a.runtime == nil {
		rt, err := a.dial(ctx)
		if err != nil {
			a.logger.Warn("Container runtime unavailable, running degraded", "error", err)
			return
		}
		a.runtime = rt
	}

	containers, err := a.runtime.ListContainers(ctx, docker.ListFilter{
		All:      true,
		Statuses: []string{"running", "exited"},
	})
	if err != nil {
		a.logger.Error("Listing containers failed", "error", err)
		return
	}

	for _, c := range containers {
		snap, err := a.observe(ctx, c)
		if err != nil {
			a.logger.Warn("Skipping container", "container", c.Name, "error", err)
			continue
		}

		if err := a.storeSnapshot(ctx, snap); err != nil {
			a.logger.Warn("Storing snapshot failed", "container", c.Name, "error", err)
		}

		anomalies := DetectAnomalies(snap, Thresholds{
			CPUPercent:    a.cfg.ThresholdCPU,
			MemoryPercent: a.cfg.ThresholdMemory,
		})
		if len(anomalies) == 0 {
			continue
		}

		alert := models.HealthAlert{
			ContainerID:   snap.Container.ID,
			ContainerName: snap.Container.Name,
			Image:         snap.Container.Image,
			Status:        snap.Container.Status,
			Metrics:       snap.Metrics,
			Anomalies:     anomalies,
			HealthStatus:  snap.HealthStatus,
			ExitCode:      snap.ExitCode,
			RestartCount:  snap.RestartCount,
		}
		a.logger.Info("Health anomalies detected", "container", c.Name,
			"anomalies", len(anomalies), "status", snap.Container.Status)
		if err := a.bus.Publish(ctx, bus.ChannelHealthAlert, bus.EventContainerUnhealthy, alert); err != nil {
			a.logger.Error("Publishing health alert failed", "container", c.Name, "error", err)
		}
	}
}

// observe inspects one container and, when it is running, takes a
// one-shot stats sample. Exited containers report zero metrics.
func (a *Agent) observe(ctx context.Context, c docker.Container) (*Snapshot, error) {
	detail, err := a.runtime.Inspect(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Container:    detail.Container,
		HealthStatus: detail.HealthStatus,
		ExitCode:     detail.ExitCode,
		RestartCount: detail.RestartCount,
	}
	if detail.Status == "running" {
		m, err := a.runtime.Stats(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		snap.Metrics = *m
	}
	return snap, nil
}

func (a *Agent) storeSnapshot(ctx context.Context, s *Snapshot) error {
	rec := models.ContainerSnapshot{
		ContainerID:   s.Container.ID,
		ContainerName: s.Container.Name,
		Status:        s.Container.Status,
		CPUPercent:    s.Metrics.CPUPercent,
		MemoryPercent: s.Metrics.MemoryPercent,
		MemoryUsage:   s.Metrics.MemoryUsage,
		MemoryLimit:   s.Metrics.MemoryLimit,
		HealthStatus:  s.HealthStatus,
		Timestamp:     a.clk.Now().UTC(),
	}
	return a.bus.SetState(ctx, "container:"+s.Container.ID, rec, snapshotTTL)
}
