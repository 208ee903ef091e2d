package models

import "time"

// ResultStatus classifies an action outcome.
type ResultStatus string

const (
	StatusSuccess       ResultStatus = "success"
	StatusFailed        ResultStatus = "failed"
	StatusRejected      ResultStatus = "rejected"
	StatusNotApplicable ResultStatus = "not_applicable"
)

// Guard rejection reasons carried in ActionResult.Reason.
const (
	ReasonCooldownActive     = "cooldown_active"
	ReasonCircuitBreakerOpen = "circuit_breaker_open"
)

// CleanupStats summarizes a scoped cleanup run.
type CleanupStats struct {
	ContainersRemoved   int      `json:"containers_removed"`
	VolumesRemoved      int      `json:"volumes_removed"`
	SpaceReclaimedBytes uint64   `json:"space_reclaimed_bytes"`
	Notes               []string `json:"notes,omitempty"`
}

// ScaleDetails records a replica-count change.
type ScaleDetails struct {
	Service          string `json:"service"`
	PreviousReplicas uint64 `json:"previous_replicas"`
	NewReplicas      uint64 `json:"new_replicas"`
}

// ActionResult is the outcome of one remediation attempt, including
// rejections. Downstream consumers discriminate on Status; the optional
// fields are populated per action and per rejection reason.
type ActionResult struct {
	Status    ResultStatus `json:"status"`
	Action    Action       `json:"action,omitempty"`
	Container string       `json:"container,omitempty"`
	Details   string       `json:"details,omitempty"`
	Error     string       `json:"error,omitempty"`

	// Rejection fields.
	Reason           string `json:"reason,omitempty"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
	RetryCount       int    `json:"retry_count,omitempty"`

	// Per-action detail records.
	Cleanup *CleanupStats `json:"cleanup,omitempty"`
	Scale   *ScaleDetails `json:"scale,omitempty"`

	// Exec fields.
	Command  string `json:"command,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	Output   string `json:"output,omitempty"`
}

// RemediationComplete is the Actuator's fan-out payload. Rejections share
// the channel with successes; Result.Status tells them apart.
type RemediationComplete struct {
	Container      string         `json:"container"`
	Action         Action         `json:"action"`
	Result         ActionResult   `json:"result"`
	DryRun         bool           `json:"dry_run"`
	Reason         string         `json:"reason,omitempty"`
	Confidence     float64        `json:"confidence,omitempty"`
	AnalysisMethod AnalysisMethod `json:"analysis_method,omitempty"`
}

// RemediationHistory is the per-container cooldown record under
// state:remediation_history:{name}.
type RemediationHistory struct {
	LastActionTimestamp time.Time    `json:"last_action_timestamp"`
	LastAction          Action       `json:"last_action"`
	LastResultStatus    ResultStatus `json:"last_result_status"`
	RetryCount          int          `json:"retry_count"`
	LastRetryHour       time.Time    `json:"last_retry_hour"`
}

// BreakerState is the per-container circuit breaker record under
// state:circuit_breaker:{name}. FailureCount and RetryCount are the same
// counter serialized under both historical names; all logic reads
// FailureCount.
type BreakerState struct {
	IsOpen          bool      `json:"is_open"`
	FailureCount    int       `json:"failure_count"`
	RetryCount      int       `json:"retry_count"`
	OpenedTimestamp time.Time `json:"opened_timestamp"`
}

// AuditEntry is one row of the per-container audit trail under
// audit:{name}, newest first.
type AuditEntry struct {
	Timestamp    time.Time    `json:"timestamp"`
	Container    string       `json:"container"`
	Action       Action       `json:"action"`
	ResultStatus ResultStatus `json:"result_status"`
	Error        string       `json:"error,omitempty"`
	Confidence   float64      `json:"confidence"`
	Reason       string       `json:"reason,omitempty"`
	Metrics      *Metrics     `json:"metrics,omitempty"`
	DryRun       bool         `json:"dry_run"`
}
