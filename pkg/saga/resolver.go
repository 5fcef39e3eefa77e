package saga

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/sagakit/pkg/statemachine"
)

// Correlation is the resolved target of an envelope.
type Correlation struct {
	ID string
	// Initiating is true when the event may create the instance if it does not exist.
	Initiating bool
}

// CorrelationValidator checks the format of a correlation id and returns its
// canonical form. Every spelling of one id must map to the same canonical form.
type CorrelationValidator func(id string) (string, error)

// UUIDCorrelation accepts only ids that parse as UUIDs, in any form uuid.Parse
// understands, and returns the lower-case hyphenated form.
func UUIDCorrelation(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a uuid", ErrInvalidCorrelationID, id)
	}
	return u.String(), nil
}

// AnyCorrelation accepts every non-empty id as is.
func AnyCorrelation(id string) (string, error) {
	return id, nil
}

// Resolver maps an envelope to the saga instance it belongs to. The business
// key is carried on the envelope, so resolution is deterministic: redelivering
// an envelope resolves to the same id.
type Resolver struct {
	machine  *statemachine.Machine
	validate CorrelationValidator
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCorrelationValidator replaces the default UUID check.
func WithCorrelationValidator(v CorrelationValidator) ResolverOption {
	return func(r *Resolver) {
		if v != nil {
			r.validate = v
		}
	}
}

// NewResolver creates a resolver for the events of machine.
func NewResolver(machine *statemachine.Machine, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		machine:  machine,
		validate: UUIDCorrelation,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve validates the envelope's correlation id and reports whether its event
// may initiate a new instance.
func (r *Resolver) Resolve(_ context.Context, env Envelope) (Correlation, error) {
	if env.Type == "" {
		return Correlation{}, ErrMissingEventType
	}

	id, err := r.Canonical(env.CorrelationID)
	if err != nil {
		return Correlation{}, err
	}

	return Correlation{
		ID:         id,
		Initiating: r.machine.IsInitiating(env.Type),
	}, nil
}

// Canonical validates id and returns the form instances are stored under.
func (r *Resolver) Canonical(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrMissingCorrelationID
	}
	return r.validate(id)
}

// NewCorrelationID returns a fresh id accepted by the default validator.
func (r *Resolver) NewCorrelationID() string {
	return uuid.NewString()
}
