package notifier

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemostat/hemostat/pkg/bus"
	"github.com/hemostat/hemostat/pkg/clock"
	"github.com/hemostat/hemostat/pkg/config"
	"github.com/hemostat/hemostat/pkg/models"
)

func setup(t *testing.T, mut func(*config.Notifier)) (*Agent, *bus.Client, *clock.Fake) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := bus.Connect(context.Background(), models.AgentNotifier, bus.Config{
		Addr: mr.Addr(), RetryMax: 1, RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Notifier{
		Enabled:   true,
		EventTTL:  time.Hour,
		MaxEvents: 100,
		DedupeTTL: time.Minute,
	}
	if mut != nil {
		mut(&cfg)
	}
	clk := clock.NewFake(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	return New(client, cfg, clk), client, clk
}

func falseAlarmEnvelope(t *testing.T, container string) *models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(models.AgentDecider, bus.EventFalseAlarm, models.FalseAlarm{
		Container: container, Reason: "transient spike", Confidence: 0.65,
		AnalysisMethod: models.MethodRuleBased,
	})
	require.NoError(t, err)
	return env
}

func TestEventStoredInBothTimelines(t *testing.T) {
	agent, client, _ := setup(t, nil)
	ctx := context.Background()

	agent.HandleEvent(ctx, falseAlarmEnvelope(t, "web"))

	for _, key := range []string{bus.EventsKey(bus.EventFalseAlarm), bus.EventsKey(bus.EventsAllSuffix)} {
		raw, err := client.ListEntries(ctx, key, 0)
		require.NoError(t, err)
		require.Len(t, raw, 1, "key %s", key)

		var rec models.EventRecord
		require.NoError(t, json.Unmarshal([]byte(raw[0]), &rec))
		assert.Equal(t, bus.EventFalseAlarm, rec.EventType)
		assert.Equal(t, models.AgentDecider, rec.Agent)

		var fa models.FalseAlarm
		require.NoError(t, json.Unmarshal(rec.Data, &fa))
		assert.Equal(t, "web", fa.Container)
	}
}

func TestEventListsBounded(t *testing.T) {
	agent, client, _ := setup(t, func(c *config.Notifier) { c.MaxEvents = 3 })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		agent.HandleEvent(ctx, falseAlarmEnvelope(t, "web"))
	}

	raw, err := client.ListEntries(ctx, bus.EventsKey(bus.EventsAllSuffix), 0)
	require.NoError(t, err)
	assert.Len(t, raw, 3)
}

func TestDedupeSuppressesWithinMinute(t *testing.T) {
	agent, client, _ := setup(t, nil)
	ctx := context.Background()

	env := falseAlarmEnvelope(t, "web")
	assert.True(t, agent.shouldNotify(ctx, env))
	assert.False(t, agent.shouldNotify(ctx, env), "identical event in same minute must be suppressed")

	// A different payload is not suppressed.
	assert.True(t, agent.shouldNotify(ctx, falseAlarmEnvelope(t, "db")))

	_ = client
}

func TestDedupeResetsNextMinute(t *testing.T) {
	agent, _, clk := setup(t, nil)
	ctx := context.Background()

	env := falseAlarmEnvelope(t, "web")
	assert.True(t, agent.shouldNotify(ctx, env))

	// The next minute bucket produces a fresh hash.
	clk.Advance(time.Minute)
	assert.True(t, agent.shouldNotify(ctx, env))
}

func TestDisabledWebhookStillStoresEvents(t *testing.T) {
	agent, client, _ := setup(t, func(c *config.Notifier) {
		c.Enabled = false
		c.WebhookURL = ""
	})
	ctx := context.Background()

	agent.HandleEvent(ctx, falseAlarmEnvelope(t, "web"))

	raw, err := client.ListEntries(ctx, bus.EventsKey(bus.EventsAllSuffix), 0)
	require.NoError(t, err)
	assert.Len(t, raw, 1)
}

func TestBuildAttachmentColors(t *testing.T) {
	agent, _, _ := setup(t, nil)

	completion := func(status models.ResultStatus, reason string) *models.Envelope {
		env, err := models.NewEnvelope(models.AgentActuator, bus.EventRemediationComplete,
			models.RemediationComplete{
				Container: "web",
				Action:    models.ActionRestart,
				Result:    models.ActionResult{Status: status, Reason: reason},
			})
		require.NoError(t, err)
		return env
	}

	tests := []struct {
		status models.ResultStatus
		reason string
		color  string
	}{
		{models.StatusSuccess, "", colorGood},
		{models.StatusFailed, "", colorDanger},
		{models.StatusRejected, models.ReasonCooldownActive, colorWarning},
		{models.StatusNotApplicable, "", colorWarning},
	}
	for _, tt := range tests {
		att, err := agent.buildAttachment(completion(tt.status, tt.reason))
		require.NoError(t, err)
		assert.Equal(t, tt.color, att.Color, "status %s", tt.status)
	}

	att, err := agent.buildAttachment(falseAlarmEnvelope(t, "web"))
	require.NoError(t, err)
	assert.Equal(t, colorInfo, att.Color)
	assert.Contains(t, att.Title, "False alarm")
}
