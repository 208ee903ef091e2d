package models

import "time"

// HealthStatus is the container health classification reported by the runtime.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthStarting  HealthStatus = "starting"
	HealthUnknown   HealthStatus = "unknown"
)

// Severity grades an anomaly.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Anomaly type discriminants.
const (
	AnomalyHighCPU           = "high_cpu"
	AnomalyHighMemory        = "high_memory"
	AnomalyUnhealthyStatus   = "unhealthy_status"
	AnomalyNonZeroExit       = "non_zero_exit"
	AnomalyExcessiveRestarts = "excessive_restarts"
)

// Metrics is a single per-container resource snapshot.
type Metrics struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
	MemoryUsage    uint64  `json:"memory_usage"`
	MemoryLimit    uint64  `json:"memory_limit"`
	NetworkRxBytes uint64  `json:"network_rx_bytes"`
	NetworkTxBytes uint64  `json:"network_tx_bytes"`
	BlkioReadBytes uint64  `json:"blkio_read_bytes"`
	BlkioWriteBytes uint64 `json:"blkio_write_bytes"`
}

// Anomaly is a single threshold or state breach detected by the Observer.
// Detail fields are populated per type: Threshold/Actual for resource
// breaches, Status for unhealthy_status, ExitCode for non_zero_exit,
// RestartCount for excessive_restarts.
type Anomaly struct {
	Type         string   `json:"type"`
	Severity     Severity `json:"severity"`
	Threshold    float64  `json:"threshold,omitempty"`
	Actual       float64  `json:"actual,omitempty"`
	Status       string   `json:"status,omitempty"`
	ExitCode     int      `json:"exit_code,omitempty"`
	RestartCount int      `json:"restart_count,omitempty"`
}

// HealthAlert is the Observer → Decider payload, published on the
// health_alert channel whenever a container has at least one anomaly.
type HealthAlert struct {
	ContainerID   string       `json:"container_id"`
	ContainerName string       `json:"container_name"`
	Image         string       `json:"image"`
	Status        string       `json:"status"`
	Metrics       Metrics      `json:"metrics"`
	Anomalies     []Anomaly    `json:"anomalies"`
	HealthStatus  HealthStatus `json:"health_status"`
	ExitCode      int          `json:"exit_code"`
	RestartCount  int          `json:"restart_count"`
}

// ContainerSnapshot is the per-container read-model record kept under
// state:container:{id} for the dashboard health grid. Written for every
// container on every poll, healthy or not.
type ContainerSnapshot struct {
	ContainerID   string       `json:"container_id"`
	ContainerName string       `json:"container_name"`
	Status        string       `json:"status"`
	CPUPercent    float64      `json:"cpu_percent"`
	MemoryPercent float64      `json:"memory_percent"`
	MemoryUsage   uint64       `json:"memory_usage"`
	MemoryLimit   uint64       `json:"memory_limit"`
	HealthStatus  HealthStatus `json:"health_status"`
	Timestamp     time.Time    `json:"timestamp"`
}

// AlertHistory is the bounded ring of recent alerts for one container,
// kept under state:alert_history:{name} for trend detection.
type AlertHistory struct {
	Container string        `json:"container"`
	Alerts    []HealthAlert `json:"alerts"`
}
