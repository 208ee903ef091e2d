// Package scanner implements the vulnerability scanner agent: it drives
// OWASP ZAP active scans against configured targets, triages the
// findings by risk, and publishes a summary into the shared alert path
// when critical findings exist.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hemostat/hemostat/pkg/bus"
	"github.com/hemostat/hemostat/pkg/clock"
	"github.com/hemostat/hemostat/pkg/config"
	"github.com/hemostat/hemostat/pkg/models"
)

const (
	progressPollEvery = 10 * time.Second
	readinessPoll     = 10 * time.Second
	reportTTL         = 24 * time.Hour

	// riskCritical is the ZAP risk level treated as critical.
	riskCritical = "High"
)

// Agent is the vulnerability scanner.
type Agent struct {
	bus    *bus.Client
	cfg    config.Scanner
	zap    *ZapClient
	clk    clock.Clock
	logger *slog.Logger
}

func New(b *bus.Client, cfg config.Scanner, zap *ZapClient, clk clock.Clock) *Agent {
	return &Agent{
		bus:    b,
		cfg:    cfg,
		zap:    zap,
		clk:    clk,
		logger: slog.Default().With("component", "scanner"),
	}
}

// Run waits for ZAP to come up, then scans all targets at the configured
// interval until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	if len(a.cfg.Targets) == 0 {
		a.logger.Info("No scan targets configured, scanner idle")
		<-ctx.Done()
		return ctx.Err()
	}

	if err := a.waitReady(ctx); err != nil {
		return err
	}

	a.logger.Info("Scanner started", "targets", a.cfg.Targets,
		"interval", a.cfg.ScanInterval)
	for {
		for _, target := range a.cfg.Targets {
			if err := a.scanTarget(ctx, target); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.Error("Scan failed", "target", target, "error", err)
			}
		}
		if err := a.clk.Sleep(ctx, a.cfg.ScanInterval); err != nil {
			a.logger.Info("Scanner stopping")
			return err
		}
	}
}

func (a *Agent) waitReady(ctx context.Context) error {
	for {
		version, err := a.zap.Version(ctx)
		if err == nil {
			a.logger.Info("ZAP ready", "version", version)
			return nil
		}
		a.logger.Warn("ZAP not ready, waiting", "error", err)
		if err := a.clk.Sleep(ctx, readinessPoll); err != nil {
			return err
		}
	}
}

// scanTarget runs one full scan cycle: start, poll to completion within
// the configured deadline, triage, store, and publish if critical
// findings exist.
func (a *Agent) scanTarget(ctx context.Context, target string) error {
	started := a.clk.Now()
	a.logger.Info("Starting active scan", "target", target)

	scanID, err := a.zap.StartScan(ctx, target)
	if err != nil {
		return err
	}

	deadline := started.Add(a.cfg.MaxScanTime)
	for {
		pct, err := a.zap.ScanProgress(ctx, scanID)
		if err != nil {
			return err
		}
		if pct >= 100 {
			break
		}
		if !a.clk.Now().Before(deadline) {
			a.logger.Warn("Scan exceeded max duration, collecting partial results",
				"target", target, "progress", pct)
			break
		}
		a.logger.Debug("Scan in progress", "target", target, "progress", pct)
		if err := a.clk.Sleep(ctx, progressPollEvery); err != nil {
			return err
		}
	}

	alerts, err := a.zap.Alerts(ctx, target)
	if err != nil {
		return err
	}

	report := triage(alerts, target)
	report.Timestamp = a.clk.Now().UTC()
	report.DurationSeconds = a.clk.Now().Sub(started).Seconds()

	key := fmt.Sprintf("vuln_scan:%d", report.Timestamp.Unix())
	if err := a.bus.SetState(ctx, key, report, reportTTL); err != nil {
		a.logger.Error("Storing scan report failed", "target", target, "error", err)
	}

	a.logger.Info("Scan complete", "target", target,
		"total", report.TotalFindings, "critical", len(report.CriticalVulns))

	if len(report.CriticalVulns) == 0 {
		return nil
	}
	alert := models.VulnerabilityAlert{
		TargetURL:     target,
		CriticalCount: len(report.CriticalVulns),
		TotalCount:    report.TotalFindings,
		CriticalVulns: report.CriticalVulns,
		Message: fmt.Sprintf("%d critical vulnerabilities found in %s",
			len(report.CriticalVulns), target),
	}
	return a.bus.Publish(ctx, bus.ChannelAlerts, bus.EventCriticalVulnsFound, alert)
}

// triage buckets findings by risk and promotes High-risk ones to the
// critical list.
func triage(alerts []ZapAlert, target string) *models.ScanReport {
	report := &models.ScanReport{
		TargetURL:     target,
		TotalFindings: len(alerts),
		RiskSummary:   map[string]int{},
		ScanTool:      "owasp-zap",
	}
	for _, z := range alerts {
		report.RiskSummary[z.Risk]++
		if z.Risk == riskCritical {
			report.CriticalVulns = append(report.CriticalVulns, models.Vulnerability{
				Name:        z.Alert,
				URL:         z.URL,
				Param:       z.Param,
				Description: z.Description,
				Solution:    z.Solution,
				Reference:   z.Reference,
			})
		}
	}
	return report
}
