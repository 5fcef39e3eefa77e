package saga

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/sagakit/pkg/statemachine"
)

// Instance is the persisted state of one saga.
type Instance struct {
	CorrelationID  string             `json:"correlation_id"`
	State          statemachine.State `json:"state"`
	Version        int64              `json:"version"`
	PendingTimeout *uuid.UUID         `json:"pending_timeout,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Clone returns a deep copy, so stores never share the token pointer with callers.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := *i
	if i.PendingTimeout != nil {
		token := *i.PendingTimeout
		c.PendingTimeout = &token
	}
	return &c
}

// HasPendingTimeout reports whether token is the instance's outstanding timeout.
func (i *Instance) HasPendingTimeout(token uuid.UUID) bool {
	return i.PendingTimeout != nil && *i.PendingTimeout == token
}

// Envelope is an inbound event.
type Envelope struct {
	Type          statemachine.Event `json:"type"`
	CorrelationID string             `json:"correlation_id"`
	Payload       json.RawMessage    `json:"payload,omitempty"`
	MessageID     uuid.UUID          `json:"message_id"`
	// TimeoutToken is set only on timeout events produced by the scheduler.
	TimeoutToken *uuid.UUID `json:"timeout_token,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

// NewEnvelope builds an envelope with a fresh message id, marshalling payload
// when it is not nil.
func NewEnvelope(event statemachine.Event, correlationID string, payload any) (Envelope, error) {
	env := Envelope{
		Type:          event,
		CorrelationID: correlationID,
		MessageID:     uuid.New(),
		OccurredAt:    time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = raw
	}
	return env, nil
}

// Result describes how the orchestrator handled an envelope.
type Result struct {
	Accepted bool
	From     statemachine.State
	To       statemachine.State
	// Instance is the committed instance, or the unchanged one when the
	// event was rejected. Nil when the event was rejected before any instance existed.
	Instance *Instance
	// Reason holds the rejection cause when Accepted is false.
	Reason error
}

// Transitioned is published to observers after every committed transition.
type Transitioned struct {
	CorrelationID string             `json:"correlation_id"`
	Event         statemachine.Event `json:"event"`
	From          statemachine.State `json:"from"`
	To            statemachine.State `json:"to"`
	Version       int64              `json:"version"`
	Terminal      bool               `json:"terminal"`
	At            time.Time          `json:"at"`
}
