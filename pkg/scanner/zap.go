package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ZapClient talks to the OWASP ZAP JSON API.
type ZapClient struct {
	baseURL string
	httpc   *http.Client
}

// ZapAlert is one finding as ZAP reports it.
type ZapAlert struct {
	Alert       string `json:"alert"`
	Risk        string `json:"risk"` // Informational, Low, Medium, High
	URL         string `json:"url"`
	Param       string `json:"param"`
	Description string `json:"description"`
	Solution    string `json:"solution"`
	Reference   string `json:"reference"`
}

func NewZapClient(host, port string) *ZapClient {
	return &ZapClient{
		baseURL: fmt.Sprintf("http://%s:%s", host, port),
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (z *ZapClient) get(ctx context.Context, path string, params url.Values, dest any) error {
	u := z.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := z.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("calling zap %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("zap %s returned %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decoding zap %s response: %w", path, err)
	}
	return nil
}

// Version probes the ZAP daemon. Used as the readiness check.
func (z *ZapClient) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := z.get(ctx, "/JSON/core/view/version/", nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// StartScan kicks off an active scan against target and returns the
// scan id used for progress polling.
func (z *ZapClient) StartScan(ctx context.Context, target string) (string, error) {
	var out struct {
		Scan string `json:"scan"`
	}
	params := url.Values{"url": {target}, "recurse": {"true"}}
	if err := z.get(ctx, "/JSON/ascan/action/scan/", params, &out); err != nil {
		return "", err
	}
	if out.Scan == "" {
		return "", fmt.Errorf("zap did not return a scan id for %s", target)
	}
	return out.Scan, nil
}

// ScanProgress returns the active scan completion percentage [0, 100].
func (z *ZapClient) ScanProgress(ctx context.Context, scanID string) (int, error) {
	var out struct {
		Status string `json:"status"`
	}
	params := url.Values{"scanId": {scanID}}
	if err := z.get(ctx, "/JSON/ascan/view/status/", params, &out); err != nil {
		return 0, err
	}
	pct, err := strconv.Atoi(out.Status)
	if err != nil {
		return 0, fmt.Errorf("unparsable scan status %q: %w", out.Status, err)
	}
	return pct, nil
}

// Alerts fetches all findings recorded against the target base URL.
func (z *ZapClient) Alerts(ctx context.Context, target string) ([]ZapAlert, error) {
	var out struct {
		Alerts []ZapAlert `json:"alerts"`
	}
	params := url.Values{"baseurl": {target}}
	if err := z.get(ctx, "/JSON/core/view/alerts/", params, &out); err != nil {
		return nil, err
	}
	return out.Alerts, nil
}
