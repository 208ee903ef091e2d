// Package bus is the HemoStat message bus: Redis pub/sub channels for
// inter-agent hand-offs plus a namespaced key/value store with TTLs and
// bounded lists for shared state. The bus is the only medium agents share;
// they never call each other directly.
package bus

// Pub/sub channels. Producers and consumers are fixed per channel:
// Observer → health_alert → Decider; Decider → remediation_needed →
// Actuator; Decider → false_alarm and Actuator → remediation_complete →
// Notifier/read model; Scanner → alerts → Notifier/read model.
const (
	ChannelHealthAlert         = "hemostat:health_alert"
	ChannelRemediationNeeded   = "hemostat:remediation_needed"
	ChannelFalseAlarm          = "hemostat:false_alarm"
	ChannelRemediationComplete = "hemostat:remediation_complete"
	ChannelAlerts              = "hemostat:alerts"
)

// Event type discriminants used in envelopes.
const (
	EventContainerUnhealthy    = "container_unhealthy"
	EventRemediationNeeded     = "remediation_needed"
	EventFalseAlarm            = "false_alarm"
	EventRemediationComplete   = "remediation_complete"
	EventCriticalVulnsFound    = "critical_vulnerabilities_found"
)

// Key namespaces. State keys are built with StateKey; list keys with
// EventsKey / AuditKey.
const (
	statePrefix     = "hemostat:state:"
	eventsPrefix    = "hemostat:events:"
	auditPrefix     = "hemostat:audit:"
	dedupePrefix    = "hemostat:alert_sent:"
	EventsAllSuffix = "all"
)

// StateKey returns the full bus key for a shared-state entry,
// e.g. StateKey("container:abc123") → "hemostat:state:container:abc123".
func StateKey(key string) string { return statePrefix + key }

// EventsKey returns the bounded-list key for an event type.
func EventsKey(eventType string) string { return eventsPrefix + eventType }

// AuditKey returns the audit-trail list key for a container.
func AuditKey(container string) string { return auditPrefix + container }

// DedupeKey returns the notification-dedupe key for an event hash.
func DedupeKey(hash string) string { return dedupePrefix + hash }
