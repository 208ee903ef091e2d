package decider

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemostat/hemostat/pkg/bus"
	"github.com/hemostat/hemostat/pkg/config"
	"github.com/hemostat/hemostat/pkg/llm"
	"github.com/hemostat/hemostat/pkg/models"
)

// fakeBackend replays a fixed response and counts invocations.
type fakeBackend struct {
	response string
	err      error
	calls    atomic.Int32
}

func (f *fakeBackend) Invoke(ctx context.Context, system, user string) (string, error) {
	f.calls.Add(1)
	return f.response, f.err
}

func (f *fakeBackend) Name() string { return "fake" }

func testDecider(t *testing.T, backend llm.Backend) (*Agent, *bus.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := bus.Connect(context.Background(), models.AgentDecider, bus.Config{
		Addr: mr.Addr(), RetryMax: 1, RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Decider{
		ConfidenceThreshold: 0.7,
		HistorySize:         10,
		HistoryTTL:          time.Hour,
		AIFallbackEnabled:   true,
	}
	return New(client, cfg, backend), client, mr
}

// capture subscribes to the verdict channels and returns the next
// published envelope per channel.
func capture(t *testing.T, addr string) (func() (string, *models.Envelope), func()) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	sub := rdb.Subscribe(context.Background(), bus.ChannelRemediationNeeded, bus.ChannelFalseAlarm)
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	msgs := sub.Channel()
	next := func() (string, *models.Envelope) {
		select {
		case msg := <-msgs:
			var env models.Envelope
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
			return msg.Channel, &env
		case <-time.After(3 * time.Second):
			t.Fatal("no verdict published")
			return "", nil
		}
	}
	stop := func() {
		_ = sub.Close()
		_ = rdb.Close()
	}
	return next, stop
}

func envelope(t *testing.T, alert *models.HealthAlert) *models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(models.AgentObserver, bus.EventContainerUnhealthy, alert)
	require.NoError(t, err)
	return env
}

func seedHistory(t *testing.T, client *bus.Client, container string, alerts []models.HealthAlert) {
	t.Helper()
	h := models.AlertHistory{Container: container, Alerts: alerts}
	require.NoError(t, client.SetState(context.Background(), "alert_history:"+container, h, time.Hour))
}

func TestTransientSpikeRoutesFalseAlarm(t *testing.T) {
	agent, _, mr := testDecider(t, llm.FromEnv(""))
	next, stop := capture(t, mr.Addr())
	defer stop()

	alert := alertWith(func(a *models.HealthAlert) {
		a.Metrics.CPUPercent = 72
		a.Anomalies = []models.Anomaly{{
			Type: models.AnomalyHighCPU, Severity: models.SeverityMedium,
			Threshold: 85, Actual: 72,
		}}
	})
	agent.HandleAlert(context.Background(), envelope(t, alert))

	channel, env := next()
	assert.Equal(t, bus.ChannelFalseAlarm, channel)
	assert.Equal(t, bus.EventFalseAlarm, env.EventType)

	var fa models.FalseAlarm
	require.NoError(t, env.Decode(&fa))
	assert.Equal(t, "web", fa.Container)
	assert.Equal(t, 0.65, fa.Confidence)
	assert.Equal(t, models.MethodRuleBased, fa.AnalysisMethod)
}

func TestCriticalWithRisingHistoryRoutesRemediation(t *testing.T) {
	agent, client, mr := testDecider(t, llm.FromEnv(""))
	next, stop := capture(t, mr.Addr())
	defer stop()

	seedHistory(t, client, "web", historyWithCPU(80, 88, 93))
	alert := alertWith(func(a *models.HealthAlert) {
		a.Metrics.CPUPercent = 97
		a.Anomalies = []models.Anomaly{{
			Type: models.AnomalyHighCPU, Severity: models.SeverityCritical,
			Threshold: 85, Actual: 97,
		}}
	})
	agent.HandleAlert(context.Background(), envelope(t, alert))

	channel, env := next()
	assert.Equal(t, bus.ChannelRemediationNeeded, channel)

	var req models.RemediationRequest
	require.NoError(t, env.Decode(&req))
	assert.Equal(t, "web", req.Container)
	assert.Equal(t, models.ActionRestart, req.Action)
	assert.GreaterOrEqual(t, req.Confidence, 0.85)
	assert.Equal(t, 97.0, req.Metrics.CPUPercent)
}

func TestMalformedAIOutputFallsBackToRules(t *testing.T) {
	backend := &fakeBackend{response: "here is the answer: ```json {bogus} ``` trailing"}
	agent, _, mr := testDecider(t, backend)
	next, stop := capture(t, mr.Addr())
	defer stop()

	alert := alertWith(func(a *models.HealthAlert) {
		a.Metrics.CPUPercent = 72
		a.Anomalies = []models.Anomaly{{
			Type: models.AnomalyHighCPU, Severity: models.SeverityMedium,
		}}
	})
	agent.HandleAlert(context.Background(), envelope(t, alert))

	assert.Equal(t, int32(aiAttempts), backend.calls.Load())

	_, env := next()
	var fa models.FalseAlarm
	require.NoError(t, env.Decode(&fa))
	assert.Equal(t, models.MethodRuleBased, fa.AnalysisMethod)
}

func TestValidAIVerdictRoutesRemediation(t *testing.T) {
	backend := &fakeBackend{response: "```json\n" +
		`{"root_cause":"memory leak","action":"restart","reason":"heap keeps growing","confidence":0.92,"is_false_alarm":false}` +
		"\n```"}
	agent, _, mr := testDecider(t, backend)
	next, stop := capture(t, mr.Addr())
	defer stop()

	agent.HandleAlert(context.Background(), envelope(t, alertWith(nil)))

	assert.Equal(t, int32(1), backend.calls.Load())
	channel, env := next()
	assert.Equal(t, bus.ChannelRemediationNeeded, channel)

	var req models.RemediationRequest
	require.NoError(t, env.Decode(&req))
	assert.Equal(t, models.ActionRestart, req.Action)
	assert.Equal(t, models.MethodAI, req.AnalysisMethod)
	assert.Equal(t, 0.92, req.Confidence)
}

func TestAIActionNoneGuardedToFalseAlarm(t *testing.T) {
	// The model claims it is not a false alarm but recommends no action;
	// routing must not emit remediation_needed with action none.
	backend := &fakeBackend{response: `{"root_cause":"x","action":"none","reason":"y","confidence":0.95,"is_false_alarm":false}`}
	agent, _, mr := testDecider(t, backend)
	next, stop := capture(t, mr.Addr())
	defer stop()

	agent.HandleAlert(context.Background(), envelope(t, alertWith(nil)))

	channel, _ := next()
	assert.Equal(t, bus.ChannelFalseAlarm, channel)
}

func TestLowConfidenceAIRoutesFalseAlarm(t *testing.T) {
	backend := &fakeBackend{response: `{"root_cause":"x","action":"restart","reason":"y","confidence":0.4,"is_false_alarm":false}`}
	agent, _, mr := testDecider(t, backend)
	next, stop := capture(t, mr.Addr())
	defer stop()

	agent.HandleAlert(context.Background(), envelope(t, alertWith(nil)))

	channel, _ := next()
	assert.Equal(t, bus.ChannelFalseAlarm, channel)
}

func TestAIDisabledNeverInvokesBackend(t *testing.T) {
	// AI_FALLBACK_ENABLED=false forces rule-based analysis even when a
	// working backend is configured.
	backend := &fakeBackend{response: `{"root_cause":"x","action":"restart","reason":"y","confidence":0.92,"is_false_alarm":false}`}
	agent, _, mr := testDecider(t, backend)
	agent.cfg.AIFallbackEnabled = false
	next, stop := capture(t, mr.Addr())
	defer stop()

	alert := alertWith(func(a *models.HealthAlert) {
		a.Metrics.CPUPercent = 72
		a.Anomalies = []models.Anomaly{{
			Type: models.AnomalyHighCPU, Severity: models.SeverityMedium,
		}}
	})
	agent.HandleAlert(context.Background(), envelope(t, alert))

	assert.Equal(t, int32(0), backend.calls.Load())

	_, env := next()
	var fa models.FalseAlarm
	require.NoError(t, env.Decode(&fa))
	assert.Equal(t, models.MethodRuleBased, fa.AnalysisMethod)
}

func TestHistoryAppendedAndTrimmed(t *testing.T) {
	agent, client, _ := testDecider(t, llm.FromEnv(""))
	ctx := context.Background()

	seedHistory(t, client, "web", historyWithCPU(1, 2, 3, 4, 5, 6, 7, 8, 9, 10))
	alert := alertWith(func(a *models.HealthAlert) { a.Metrics.CPUPercent = 42 })
	agent.HandleAlert(ctx, envelope(t, alert))

	var h models.AlertHistory
	found, err := client.GetState(ctx, "alert_history:web", &h)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, h.Alerts, 10)
	// Oldest entry dropped, newest appended at the tail.
	assert.Equal(t, 2.0, h.Alerts[0].Metrics.CPUPercent)
	assert.Equal(t, 42.0, h.Alerts[9].Metrics.CPUPercent)
}
