package decider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hemostat/hemostat/pkg/llm"
	"github.com/hemostat/hemostat/pkg/models"
	"github.com/hemostat/hemostat/pkg/retry"
)

const systemPrompt = `You are a container reliability analyst. You receive a health alert ` +
	`for one container and decide whether it needs remediation. Respond with a single JSON ` +
	`object and nothing else:
{"root_cause": "<short diagnosis>", "action": "<restart|scale_up|cleanup|exec|none>", ` +
	`"reason": "<one sentence>", "confidence": <0.0-1.0>, "is_false_alarm": <true|false>}`

const (
	aiAttempts  = 3
	aiRetryBase = 500 * time.Millisecond
)

// aiVerdict mirrors the JSON schema the model is asked for. Pointer
// fields distinguish absent keys from zero values; all five are required.
type aiVerdict struct {
	RootCause    *string  `json:"root_cause"`
	Action       *string  `json:"action"`
	Reason       *string  `json:"reason"`
	Confidence   *float64 `json:"confidence"`
	IsFalseAlarm *bool    `json:"is_false_alarm"`
}

func buildUserPrompt(alert *models.HealthAlert, history []models.HealthAlert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Container: %s (id %s, image %s, status %s, health %s)\n",
		alert.ContainerName, alert.ContainerID, alert.Image, alert.Status, alert.HealthStatus)
	fmt.Fprintf(&b, "Metrics: cpu %.1f%%, memory %.1f%% (%d/%d bytes), exit_code %d, restart_count %d\n",
		alert.Metrics.CPUPercent, alert.Metrics.MemoryPercent,
		alert.Metrics.MemoryUsage, alert.Metrics.MemoryLimit,
		alert.ExitCode, alert.RestartCount)

	b.WriteString("Anomalies:\n")
	for _, a := range alert.Anomalies {
		fmt.Fprintf(&b, "- %s (%s)", a.Type, a.Severity)
		if a.Threshold != 0 || a.Actual != 0 {
			fmt.Fprintf(&b, " actual %.1f vs threshold %.1f", a.Actual, a.Threshold)
		}
		b.WriteByte('\n')
	}

	if len(history) == 0 {
		b.WriteString("History: no prior alerts for this container.\n")
	} else {
		fmt.Fprintf(&b, "History: %d prior alerts. Recent cpu%%: %s. Recent memory%%: %s. CPU trend %s, memory trend %s.\n",
			len(history),
			formatSeries(cpuHistory(history)), formatSeries(memoryHistory(history)),
			MetricTrend(cpuHistory(history)), MetricTrend(memoryHistory(history)))
	}

	b.WriteString("Decide whether this is a real problem or a transient spike.")
	return b.String()
}

func formatSeries(values []float64) string {
	if len(values) > trendWindow {
		values = values[len(values)-trendWindow:]
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%.1f", v)
	}
	return strings.Join(parts, ", ")
}

// aiAnalyze asks the configured backend for a verdict, retrying
// transport failures and unparsable output with exponential backoff.
// llm.ErrNoBackend aborts immediately so the rule ladder takes over
// without burning retries.
func (a *Agent) aiAnalyze(ctx context.Context, alert *models.HealthAlert, history []models.HealthAlert) (models.Analysis, error) {
	user := buildUserPrompt(alert, history)

	var analysis models.Analysis
	classify := func(err error) retry.Class {
		if errors.Is(err, llm.ErrNoBackend) {
			return retry.Permanent
		}
		return retry.Transient
	}
	err := retry.Do(ctx, aiAttempts, aiRetryBase, classify, func(ctx context.Context) error {
		raw, err := a.backend.Invoke(ctx, systemPrompt, user)
		if err != nil {
			return err
		}
		parsed, err := parseVerdict(raw)
		if err != nil {
			a.logger.Warn("Unparsable AI output, retrying", "error", err)
			return err
		}
		analysis = *parsed
		return nil
	})
	if err != nil {
		return models.Analysis{}, err
	}
	return analysis, nil
}

func parseVerdict(raw string) (*models.Analysis, error) {
	obj, err := llm.ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var v aiVerdict
	if err := json.Unmarshal([]byte(obj), &v); err != nil {
		return nil, fmt.Errorf("decoding model verdict: %w", err)
	}
	if v.RootCause == nil || v.Action == nil || v.Reason == nil || v.Confidence == nil || v.IsFalseAlarm == nil {
		return nil, fmt.Errorf("model verdict missing required fields")
	}
	action, err := models.ParseAction(*v.Action)
	if err != nil {
		return nil, err
	}
	return &models.Analysis{
		RootCause:      *v.RootCause,
		Action:         action,
		Reason:         *v.Reason,
		Confidence:     *v.Confidence,
		IsFalseAlarm:   *v.IsFalseAlarm,
		AnalysisMethod: models.MethodAI,
	}, nil
}
