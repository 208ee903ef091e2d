package decider

import (
	"fmt"

	"github.com/hemostat/hemostat/pkg/models"
)

// Trend classifies how a metric moved across recent history.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
	TrendUnknown    Trend = "unknown"
)

// trendWindow and trendSlope bound the trend computation: at most the
// last 5 samples, mean pairwise delta beyond ±5 counts as movement.
const (
	trendWindow = 5
	trendSlope  = 5.0
)

// MetricTrend computes the trend over up to the last trendWindow values,
// oldest first. Fewer than two samples is unknown.
func MetricTrend(values []float64) Trend {
	if len(values) > trendWindow {
		values = values[len(values)-trendWindow:]
	}
	if len(values) < 2 {
		return TrendUnknown
	}
	var sum float64
	for i := 1; i < len(values); i++ {
		sum += values[i] - values[i-1]
	}
	mean := sum / float64(len(values)-1)
	switch {
	case mean > trendSlope:
		return TrendIncreasing
	case mean < -trendSlope:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// cpuHistory extracts the CPU series from history, oldest first.
func cpuHistory(history []models.HealthAlert) []float64 {
	out := make([]float64, 0, len(history))
	for _, h := range history {
		out = append(out, h.Metrics.CPUPercent)
	}
	return out
}

func memoryHistory(history []models.HealthAlert) []float64 {
	out := make([]float64, 0, len(history))
	for _, h := range history {
		out = append(out, h.Metrics.MemoryPercent)
	}
	return out
}

// RuleBasedAnalyze is the deterministic rule ladder, evaluated top to
// bottom with first match winning. The excessive-restart circuit sits
// above the critical-anomaly rule on purpose: a crash-looping container
// should not be restarted yet again just because its metrics look bad.
func RuleBasedAnalyze(alert *models.HealthAlert, history []models.HealthAlert) models.Analysis {
	verdict := func(action models.Action, reason string, confidence float64, falseAlarm bool) models.Analysis {
		return models.Analysis{
			Action:         action,
			Reason:         reason,
			Confidence:     confidence,
			IsFalseAlarm:   falseAlarm,
			AnalysisMethod: models.MethodRuleBased,
		}
	}

	if alert.ExitCode != 0 {
		return verdict(models.ActionRestart,
			fmt.Sprintf("container exited with code %d", alert.ExitCode), 0.90, false)
	}

	if alert.RestartCount > 5 {
		return verdict(models.ActionNone,
			fmt.Sprintf("container restarted %d times already, restarting again is unlikely to help", alert.RestartCount),
			0.60, true)
	}

	for _, a := range alert.Anomalies {
		if a.Severity == models.SeverityCritical {
			return verdict(models.ActionRestart,
				fmt.Sprintf("critical %s anomaly", a.Type), 0.85, false)
		}
	}

	if alert.HealthStatus == models.HealthUnhealthy {
		return verdict(models.ActionRestart, "health check reports unhealthy", 0.70, false)
	}

	if alert.Metrics.CPUPercent > 90 {
		if t := MetricTrend(cpuHistory(history)); t == TrendIncreasing || t == TrendStable {
			return verdict(models.ActionRestart,
				fmt.Sprintf("sustained high CPU at %.1f%% (%s trend)", alert.Metrics.CPUPercent, t),
				0.75, false)
		}
	}

	if MetricTrend(memoryHistory(history)) == TrendIncreasing && alert.Metrics.MemoryPercent > 70 {
		return verdict(models.ActionRestart,
			fmt.Sprintf("memory climbing, now at %.1f%%, likely leak", alert.Metrics.MemoryPercent),
			0.80, false)
	}

	if len(alert.Anomalies) == 1 && alert.Anomalies[0].Severity == models.SeverityMedium && len(history) == 0 {
		return verdict(models.ActionNone, "single medium anomaly with no prior history, likely transient spike", 0.65, true)
	}

	return verdict(models.ActionNone, "no actionable pattern detected", 0.50, true)
}
