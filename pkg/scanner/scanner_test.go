package scanner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemostat/hemostat/pkg/bus"
	"github.com/hemostat/hemostat/pkg/clock"
	"github.com/hemostat/hemostat/pkg/config"
	"github.com/hemostat/hemostat/pkg/models"
)

// fakeZap is an httptest stand-in for the ZAP JSON API.
func fakeZap(t *testing.T, alerts []ZapAlert) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/JSON/core/view/version/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"version": "2.15.0"})
	})
	mux.HandleFunc("/JSON/ascan/action/scan/", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("url"))
		_ = json.NewEncoder(w).Encode(map[string]string{"scan": "7"})
	})
	mux.HandleFunc("/JSON/ascan/view/status/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("scanId"))
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "100"})
	})
	mux.HandleFunc("/JSON/core/view/alerts/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string][]ZapAlert{"alerts": alerts})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func zapClientFor(t *testing.T, srv *httptest.Server) *ZapClient {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return NewZapClient(u.Hostname(), u.Port())
}

func TestZapClient(t *testing.T) {
	srv := fakeZap(t, []ZapAlert{{Alert: "XSS", Risk: "High"}})
	z := zapClientFor(t, srv)
	ctx := context.Background()

	version, err := z.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2.15.0", version)

	scanID, err := z.StartScan(ctx, "http://target:8080")
	require.NoError(t, err)
	assert.Equal(t, "7", scanID)

	pct, err := z.ScanProgress(ctx, scanID)
	require.NoError(t, err)
	assert.Equal(t, 100, pct)

	alerts, err := z.Alerts(ctx, "http://target:8080")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "XSS", alerts[0].Alert)
}

func TestTriage(t *testing.T) {
	alerts := []ZapAlert{
		{Alert: "SQL Injection", Risk: "High", URL: "http://t/login", Solution: "parameterize"},
		{Alert: "XSS", Risk: "High", URL: "http://t/search"},
		{Alert: "Cookie flags", Risk: "Low"},
		{Alert: "Server banner", Risk: "Informational"},
		{Alert: "CSP missing", Risk: "Medium"},
	}

	report := triage(alerts, "http://t")
	assert.Equal(t, 5, report.TotalFindings)
	assert.Equal(t, map[string]int{"High": 2, "Low": 1, "Informational": 1, "Medium": 1}, report.RiskSummary)
	require.Len(t, report.CriticalVulns, 2)
	assert.Equal(t, "SQL Injection", report.CriticalVulns[0].Name)
	assert.Equal(t, "parameterize", report.CriticalVulns[0].Solution)
	assert.Equal(t, "owasp-zap", report.ScanTool)
}

func TestScanTargetPublishesCriticalFindings(t *testing.T) {
	srv := fakeZap(t, []ZapAlert{
		{Alert: "SQL Injection", Risk: "High"},
		{Alert: "Cookie flags", Risk: "Low"},
	})

	mr := miniredis.RunT(t)
	client, err := bus.Connect(context.Background(), models.AgentScanner, bus.Config{
		Addr: mr.Addr(), RetryMax: 1, RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sub := rdb.Subscribe(context.Background(), bus.ChannelAlerts)
	_, err = sub.Receive(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close(); _ = rdb.Close() })

	clk := clock.NewFake(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	agent := New(client, config.Scanner{MaxScanTime: time.Hour}, zapClientFor(t, srv), clk)

	require.NoError(t, agent.scanTarget(context.Background(), "http://target:8080"))

	select {
	case msg := <-sub.Channel():
		var env models.Envelope
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
		assert.Equal(t, bus.EventCriticalVulnsFound, env.EventType)

		var alert models.VulnerabilityAlert
		require.NoError(t, env.Decode(&alert))
		assert.Equal(t, "http://target:8080", alert.TargetURL)
		assert.Equal(t, 1, alert.CriticalCount)
		assert.Equal(t, 2, alert.TotalCount)
	case <-time.After(3 * time.Second):
		t.Fatal("no vulnerability alert published")
	}

	// The full report is stored for the dashboard.
	keys, err := client.ScanStateKeys(context.Background(), "vuln_scan:*")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "vuln_scan:"))

	var report models.ScanReport
	found, err := client.GetState(context.Background(), keys[0], &report)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, report.TotalFindings)
}

func TestScanTargetWithoutCriticalsStaysQuiet(t *testing.T) {
	srv := fakeZap(t, []ZapAlert{{Alert: "Cookie flags", Risk: "Low"}})

	mr := miniredis.RunT(t)
	client, err := bus.Connect(context.Background(), models.AgentScanner, bus.Config{
		Addr: mr.Addr(), RetryMax: 1, RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	clk := clock.NewFake(time.Now())
	agent := New(client, config.Scanner{MaxScanTime: time.Hour}, zapClientFor(t, srv), clk)
	require.NoError(t, agent.scanTarget(context.Background(), "http://target:8080"))

	// Report stored, nothing published.
	keys, err := client.ScanStateKeys(context.Background(), "vuln_scan:*")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}
