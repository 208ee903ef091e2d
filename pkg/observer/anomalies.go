package observer

import "github.com/hemostat/hemostat/pkg/models"

// Thresholds are the anomaly trip points for resource metrics.
type Thresholds struct {
	CPUPercent    float64
	MemoryPercent float64
}

// criticalPercent marks the absolute point above which a resource breach
// is critical regardless of the configured threshold.
const criticalPercent = 95

// restartLimit is exclusive: restart_count must exceed it to fire.
const restartLimit = 5

// DetectAnomalies evaluates the anomaly ladder for one container
// snapshot. Every rule that fires contributes an anomaly; resource rules
// grade severity by how far past the threshold the value is.
func DetectAnomalies(c *Snapshot, t Thresholds) []models.Anomaly {
	var out []models.Anomaly

	if a, ok := resourceAnomaly(models.AnomalyHighCPU, c.Metrics.CPUPercent, t.CPUPercent); ok {
		out = append(out, a)
	}
	if a, ok := resourceAnomaly(models.AnomalyHighMemory, c.Metrics.MemoryPercent, t.MemoryPercent); ok {
		out = append(out, a)
	}

	if c.HealthStatus != models.HealthHealthy && c.HealthStatus != models.HealthUnknown {
		out = append(out, models.Anomaly{
			Type:     models.AnomalyUnhealthyStatus,
			Severity: models.SeverityHigh,
			Status:   string(c.HealthStatus),
		})
	}

	if c.ExitCode != 0 && c.Container.Status == "exited" {
		out = append(out, models.Anomaly{
			Type:     models.AnomalyNonZeroExit,
			Severity: models.SeverityHigh,
			ExitCode: c.ExitCode,
		})
	}

	if c.RestartCount > restartLimit {
		out = append(out, models.Anomaly{
			Type:         models.AnomalyExcessiveRestarts,
			Severity:     models.SeverityMedium,
			RestartCount: c.RestartCount,
		})
	}

	return out
}

func resourceAnomaly(anomalyType string, actual, threshold float64) (models.Anomaly, bool) {
	a := models.Anomaly{Type: anomalyType, Threshold: threshold, Actual: actual}
	switch {
	case actual > threshold && actual > criticalPercent:
		a.Severity = models.SeverityCritical
	case actual > threshold:
		a.Severity = models.SeverityHigh
	case actual > 0.8*threshold:
		a.Severity = models.SeverityMedium
	default:
		return models.Anomaly{}, false
	}
	return a, true
}
