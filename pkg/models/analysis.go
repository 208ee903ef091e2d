package models

import "fmt"

// Action is the remediation an analysis recommends. The closed set of
// values lets routing switch exhaustively instead of dispatching on free
// strings.
type Action string

const (
	ActionRestart Action = "restart"
	ActionScaleUp Action = "scale_up"
	ActionCleanup Action = "cleanup"
	ActionExec    Action = "exec"
	ActionNone    Action = "none"
)

// ParseAction validates a wire string against the known action set.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionRestart, ActionScaleUp, ActionCleanup, ActionExec, ActionNone:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// AnalysisMethod records which analysis path produced a verdict.
type AnalysisMethod string

const (
	MethodAI        AnalysisMethod = "ai"
	MethodRuleBased AnalysisMethod = "rule_based"
)

// Analysis is the Decider's verdict on one health alert.
type Analysis struct {
	RootCause      string         `json:"root_cause,omitempty"`
	Action         Action         `json:"action"`
	Reason         string         `json:"reason"`
	Confidence     float64        `json:"confidence"`
	IsFalseAlarm   bool           `json:"is_false_alarm"`
	AnalysisMethod AnalysisMethod `json:"analysis_method"`
}

// RemediationRequest is the Decider → Actuator payload on the
// remediation_needed channel.
type RemediationRequest struct {
	Container      string         `json:"container"`
	Action         Action         `json:"action"`
	Reason         string         `json:"reason"`
	Confidence     float64        `json:"confidence"`
	Metrics        Metrics        `json:"metrics"`
	AnalysisMethod AnalysisMethod `json:"analysis_method"`
	// Command is set only for Action == exec.
	Command string `json:"command,omitempty"`
}

// FalseAlarm is the Decider's no-action verdict, published for the
// notifier and read model.
type FalseAlarm struct {
	Container      string         `json:"container"`
	Reason         string         `json:"reason"`
	Confidence     float64        `json:"confidence"`
	AnalysisMethod AnalysisMethod `json:"analysis_method"`
}
