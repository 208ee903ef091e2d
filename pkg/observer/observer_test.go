package observer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemostat/hemostat/pkg/bus"
	"github.com/hemostat/hemostat/pkg/clock"
	"github.com/hemostat/hemostat/pkg/config"
	"github.com/hemostat/hemostat/pkg/docker"
	"github.com/hemostat/hemostat/pkg/models"
)

// fakeRuntime serves canned containers to the poll loop.
type fakeRuntime struct {
	containers []docker.Container
	details    map[string]*docker.ContainerDetail
	stats      map[string]*models.Metrics
	listErr    error
	inspectErr map[string]error
}

func (f *fakeRuntime) ListContainers(ctx context.Context, filter docker.ListFilter) ([]docker.Container, error) {
	return f.containers, f.listErr
}

func (f *fakeRuntime) Inspect(ctx context.Context, ref string) (*docker.ContainerDetail, error) {
	if err := f.inspectErr[ref]; err != nil {
		return nil, err
	}
	if d, ok := f.details[ref]; ok {
		return d, nil
	}
	return nil, docker.ErrNotFound
}

func (f *fakeRuntime) Stats(ctx context.Context, id string) (*models.Metrics, error) {
	if m, ok := f.stats[id]; ok {
		return m, nil
	}
	return &models.Metrics{}, nil
}

func (f *fakeRuntime) Restart(context.Context, string, time.Duration) error { return nil }
func (f *fakeRuntime) Remove(context.Context, string, bool) error          { return nil }
func (f *fakeRuntime) Exec(context.Context, string, string) (int, string, error) {
	return 0, "", nil
}
func (f *fakeRuntime) ScaleUpService(context.Context, string) (*models.ScaleDetails, bool, error) {
	return nil, false, nil
}
func (f *fakeRuntime) PruneVolumes(context.Context, []string) (int, uint64, error) {
	return 0, 0, nil
}

func setup(t *testing.T, rt docker.Runtime, dialErr error) (*Agent, *bus.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := bus.Connect(context.Background(), models.AgentObserver, bus.Config{
		Addr: mr.Addr(), RetryMax: 1, RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Observer{
		PollInterval:    30 * time.Second,
		ThresholdCPU:    85,
		ThresholdMemory: 80,
	}
	dial := func(ctx context.Context) (docker.Runtime, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return rt, nil
	}
	clk := clock.NewFake(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	return New(client, cfg, clk, dial), client, mr
}

func subscribeAlerts(t *testing.T, addr string) <-chan *redis.Message {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	sub := rdb.Subscribe(context.Background(), bus.ChannelHealthAlert)
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close(); _ = rdb.Close() })
	return sub.Channel()
}

func TestPollStoresSnapshotForHealthyContainer(t *testing.T) {
	rt := &fakeRuntime{
		containers: []docker.Container{{ID: "abc123", Name: "web", Status: "running"}},
		details: map[string]*docker.ContainerDetail{
			"abc123": {
				Container:    docker.Container{ID: "abc123", Name: "web", Status: "running"},
				HealthStatus: models.HealthHealthy,
			},
		},
		stats: map[string]*models.Metrics{
			"abc123": {CPUPercent: 12.5, MemoryPercent: 30, MemoryUsage: 100, MemoryLimit: 1000},
		},
	}
	agent, client, mr := setup(t, rt, nil)
	alerts := subscribeAlerts(t, mr.Addr())

	agent.poll(context.Background())

	var snap models.ContainerSnapshot
	found, err := client.GetState(context.Background(), "container:abc123", &snap)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "web", snap.ContainerName)
	assert.Equal(t, 12.5, snap.CPUPercent)
	assert.Equal(t, models.HealthHealthy, snap.HealthStatus)

	// Healthy container publishes nothing.
	select {
	case <-alerts:
		t.Fatal("unexpected health alert for healthy container")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPollPublishesAlertForAnomalousContainer(t *testing.T) {
	rt := &fakeRuntime{
		containers: []docker.Container{{ID: "abc123", Name: "web", Status: "running"}},
		details: map[string]*docker.ContainerDetail{
			"abc123": {
				Container:    docker.Container{ID: "abc123", Name: "web", Image: "nginx", Status: "running"},
				HealthStatus: models.HealthUnknown,
			},
		},
		stats: map[string]*models.Metrics{
			"abc123": {CPUPercent: 97},
		},
	}
	agent, _, mr := setup(t, rt, nil)
	alerts := subscribeAlerts(t, mr.Addr())

	agent.poll(context.Background())

	select {
	case msg := <-alerts:
		var env models.Envelope
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
		assert.Equal(t, bus.EventContainerUnhealthy, env.EventType)
		assert.Equal(t, models.AgentObserver, env.Agent)

		var alert models.HealthAlert
		require.NoError(t, env.Decode(&alert))
		assert.Equal(t, "web", alert.ContainerName)
		require.Len(t, alert.Anomalies, 1)
		assert.Equal(t, models.AnomalyHighCPU, alert.Anomalies[0].Type)
		assert.Equal(t, models.SeverityCritical, alert.Anomalies[0].Severity)
	case <-time.After(3 * time.Second):
		t.Fatal("no health alert published")
	}
}

func TestPollSkipsFailingContainerAndContinues(t *testing.T) {
	rt := &fakeRuntime{
		containers: []docker.Container{
			{ID: "bad111", Name: "broken", Status: "running"},
			{ID: "abc123", Name: "web", Status: "running"},
		},
		details: map[string]*docker.ContainerDetail{
			"abc123": {
				Container:    docker.Container{ID: "abc123", Name: "web", Status: "running"},
				HealthStatus: models.HealthHealthy,
			},
		},
		inspectErr: map[string]error{"bad111": errors.New("inspect blew up")},
	}
	agent, client, _ := setup(t, rt, nil)

	agent.poll(context.Background())

	// The healthy sibling was still processed.
	var snap models.ContainerSnapshot
	found, err := client.GetState(context.Background(), "container:abc123", &snap)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestPollDegradedWithoutRuntime(t *testing.T) {
	agent, client, _ := setup(t, nil, errors.New("daemon down"))

	// Must not panic and must not write anything.
	agent.poll(context.Background())

	keys, err := client.ScanStateKeys(context.Background(), "container:*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestExitedContainerSkipsStats(t *testing.T) {
	rt := &fakeRuntime{
		containers: []docker.Container{{ID: "abc123", Name: "job", Status: "exited"}},
		details: map[string]*docker.ContainerDetail{
			"abc123": {
				Container:    docker.Container{ID: "abc123", Name: "job", Status: "exited"},
				HealthStatus: models.HealthUnknown,
				ExitCode:     1,
			},
		},
	}
	agent, _, mr := setup(t, rt, nil)
	alerts := subscribeAlerts(t, mr.Addr())

	agent.poll(context.Background())

	select {
	case msg := <-alerts:
		var env models.Envelope
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
		var alert models.HealthAlert
		require.NoError(t, env.Decode(&alert))
		require.Len(t, alert.Anomalies, 1)
		assert.Equal(t, models.AnomalyNonZeroExit, alert.Anomalies[0].Type)
		assert.Zero(t, alert.Metrics.CPUPercent)
	case <-time.After(3 * time.Second):
		t.Fatal("no health alert published for exited container")
	}
}
