package models

import (
	"encoding/json"
	"time"
)

// Vulnerability is a single high-risk finding from a security scan.
type Vulnerability struct {
	Name        string `json:"name"`
	URL         string `json:"url,omitempty"`
	Param       string `json:"param,omitempty"`
	Description string `json:"description,omitempty"`
	Solution    string `json:"solution,omitempty"`
	Reference   string `json:"reference,omitempty"`
}

// VulnerabilityAlert is the scanner's summary published on the alerts
// channel when critical findings exist.
type VulnerabilityAlert struct {
	TargetURL     string          `json:"target_url"`
	CriticalCount int             `json:"critical_count"`
	TotalCount    int             `json:"total_count"`
	CriticalVulns []Vulnerability `json:"critical_vulns"`
	Message       string          `json:"message,omitempty"`
}

// ScanReport is the full per-target scan record stored under
// state:vuln_scan:{unix}.
type ScanReport struct {
	Timestamp       time.Time       `json:"timestamp"`
	TargetURL       string          `json:"target_url"`
	TotalFindings   int             `json:"total_vulnerabilities"`
	RiskSummary     map[string]int  `json:"risk_summary"`
	CriticalVulns   []Vulnerability `json:"critical_vulnerabilities"`
	ScanTool        string          `json:"scan_tool"`
	DurationSeconds float64         `json:"duration_seconds"`
}

// EventRecord is one entry of the notifier's bounded event lists under
// events:{type} and events:all, newest first.
type EventRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Agent     string          `json:"agent"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}
