package notifier

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/hemostat/hemostat/pkg/bus"
	"github.com/hemostat/hemostat/pkg/models"
	"github.com/hemostat/hemostat/pkg/retry"
)

const (
	colorGood    = "good"
	colorWarning = "warning"
	colorDanger  = "danger"
	colorInfo    = "#439FE0"
)

// sendSlack posts one webhook message for the event, retrying transient
// delivery failures with backoff.
func (a *Agent) sendSlack(ctx context.Context, env *models.Envelope) error {
	attachment, err := a.buildAttachment(env)
	if err != nil {
		return err
	}

	msg := &slack.WebhookMessage{Attachments: []slack.Attachment{*attachment}}
	err = retry.Do(ctx, a.cfg.RetryMax, a.cfg.RetryDelay, nil, func(ctx context.Context) error {
		return slack.PostWebhookContext(ctx, a.cfg.WebhookURL, msg)
	})
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	a.logger.Info("Slack notification sent", "event_type", env.EventType)
	return nil
}

func (a *Agent) buildAttachment(env *models.Envelope) (*slack.Attachment, error) {
	ts := env.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC")

	switch env.EventType {
	case bus.EventRemediationComplete:
		var c models.RemediationComplete
		if err := env.Decode(&c); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", env.EventType, err)
		}
		color := colorGood
		title := fmt.Sprintf("Remediation succeeded: %s on %s", c.Action, c.Container)
		switch c.Result.Status {
		case models.StatusFailed:
			color = colorDanger
			title = fmt.Sprintf("Remediation FAILED: %s on %s", c.Action, c.Container)
		case models.StatusRejected:
			color = colorWarning
			title = fmt.Sprintf("Remediation rejected (%s): %s on %s", c.Result.Reason, c.Action, c.Container)
		case models.StatusNotApplicable:
			color = colorWarning
			title = fmt.Sprintf("Remediation not applicable: %s on %s", c.Action, c.Container)
		}
		text := c.Reason
		if c.Result.Error != "" {
			text = fmt.Sprintf("%s\nError: %s", text, c.Result.Error)
		}
		if c.DryRun {
			title = "[DRY RUN] " + title
		}
		return &slack.Attachment{
			Color: color,
			Title: title,
			Text:  text,
			Fields: []slack.AttachmentField{
				{Title: "Confidence", Value: fmt.Sprintf("%.2f", c.Confidence), Short: true},
				{Title: "Method", Value: string(c.AnalysisMethod), Short: true},
			},
			Footer: "hemostat " + env.Agent,
		}, nil

	case bus.EventFalseAlarm:
		var fa models.FalseAlarm
		if err := env.Decode(&fa); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", env.EventType, err)
		}
		return &slack.Attachment{
			Color:  colorInfo,
			Title:  fmt.Sprintf("False alarm: %s", fa.Container),
			Text:   fmt.Sprintf("%s (confidence %.2f, %s)", fa.Reason, fa.Confidence, fa.AnalysisMethod),
			Footer: "hemostat " + env.Agent,
		}, nil

	case bus.EventCriticalVulnsFound:
		var va models.VulnerabilityAlert
		if err := env.Decode(&va); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", env.EventType, err)
		}
		return &slack.Attachment{
			Color: colorDanger,
			Title: fmt.Sprintf("Critical vulnerabilities in %s", va.TargetURL),
			Text: fmt.Sprintf("%d critical findings out of %d total (scan at %s)",
				va.CriticalCount, va.TotalCount, ts),
			Footer: "hemostat " + env.Agent,
		}, nil
	}

	return &slack.Attachment{
		Color:  colorInfo,
		Title:  "HemoStat event: " + env.EventType,
		Text:   string(env.Data),
		Footer: "hemostat " + env.Agent,
	}, nil
}
