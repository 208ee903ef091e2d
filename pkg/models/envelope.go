// Package models defines the wire payloads and keyed state records that
// travel over the HemoStat message bus. Every bus message is an Envelope;
// every KV value is one of the typed records below, serialized as JSON.
package models

import (
	"encoding/json"
	"time"
)

// Agent identities, used in the Envelope "agent" field.
const (
	AgentObserver = "observer"
	AgentDecider  = "decider"
	AgentActuator = "actuator"
	AgentNotifier = "notifier"
	AgentScanner  = "scanner"
)

// Envelope wraps every message published to the bus.
type Envelope struct {
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Agent     string          `json:"agent"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope builds an envelope around data, stamping the publish time.
func NewEnvelope(agent, eventType string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Agent:     agent,
		Data:      raw,
	}, nil
}

// Decode unmarshals the envelope payload into dest.
func (e *Envelope) Decode(dest any) error {
	return json.Unmarshal(e.Data, dest)
}
