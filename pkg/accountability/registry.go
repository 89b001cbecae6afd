// Package accountability stores immutable behavioral events and the
// constraints they impose. The registry is append-only: constraints lapse at
// their expiry but are never physically removed, so the full adjudication
// history stays available for audit.
package accountability

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventKind categorizes a behavioral event.
type EventKind string

const (
	EventViolation   EventKind = "VIOLATION"
	EventDispute     EventKind = "DISPUTE"
	EventRemediation EventKind = "REMEDIATION"
)

// ConstraintKind categorizes an imposed restriction.
type ConstraintKind string

const (
	// ConstraintQuarantine blocks every action while active.
	ConstraintQuarantine ConstraintKind = "QUARANTINE"
	// ConstraintMaxTransactionValue blocks actions whose value exceeds Value.
	ConstraintMaxTransactionValue ConstraintKind = "MAX_TRANSACTION_VALUE"
	// ConstraintActionBlock blocks a specific action by name.
	ConstraintActionBlock ConstraintKind = "ACTION_BLOCK"
)

// Constraint is a restriction imposed by an adjudicated event. A nil ExpiresAt
// means the constraint is permanent.
type Constraint struct {
	Kind      ConstraintKind `json:"kind"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Value     int64          `json:"value,omitempty"`
	Action    string         `json:"action,omitempty"`
	Reason    string         `json:"reason"`
}

// Active reports whether the constraint is in force at now.
func (c Constraint) Active(now time.Time) bool {
	return c.ExpiresAt == nil || now.Before(*c.ExpiresAt)
}

// Event is an immutable behavioral record.
type Event struct {
	ID             string       `json:"id"`
	EntityID       string       `json:"entity_id"`
	Kind           EventKind    `json:"kind"`
	Evidence       []string     `json:"evidence,omitempty"`
	TrustDelta     float64      `json:"trust_delta"`
	ResultingState string       `json:"resulting_state,omitempty"`
	Constraints    []Constraint `json:"constraints,omitempty"`
	Adjudicator    string       `json:"adjudicator"`
	RecordedAt     time.Time    `json:"recorded_at"`
}

// Registry is the append-only event store. Constraints from multiple events
// accumulate; only a later adjudication (a new event) narrows them.
type Registry struct {
	mu     sync.RWMutex
	events map[string][]Event
	clock  func() time.Time
	log    zerolog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		events: make(map[string][]Event),
		clock:  time.Now,
		log:    zerolog.Nop(),
	}
}

// WithClock overrides the clock for testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// WithLogger sets the operational logger.
func (r *Registry) WithLogger(log zerolog.Logger) *Registry {
	r.log = log
	return r
}

// Record appends an event and returns its assigned ID.
func (r *Registry) Record(e Event) (string, error) {
	if e.EntityID == "" {
		return "", fmt.Errorf("accountability: event requires an entity ID")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = r.clock()
	}

	r.mu.Lock()
	r.events[e.EntityID] = append(r.events[e.EntityID], e)
	r.mu.Unlock()

	r.log.Info().
		Str("entity", e.EntityID).
		Str("kind", string(e.Kind)).
		Int("constraints", len(e.Constraints)).
		Msg("accountability event recorded")
	return e.ID, nil
}

// EventsFor returns events for an entity, optionally filtered by kind
// (empty kind matches all). Events are returned in recording order.
func (r *Registry) EventsFor(entityID string, kind EventKind) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Event
	for _, e := range r.events[entityID] {
		if kind == "" || e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// ActiveConstraints returns every constraint in force for an entity at now.
func (r *Registry) ActiveConstraints(entityID string, now time.Time) []Constraint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Constraint
	for _, e := range r.events[entityID] {
		for _, c := range e.Constraints {
			if c.Active(now) {
				out = append(out, c)
			}
		}
	}
	return out
}

// Check reports whether an entity may perform action with the given value at
// now. The reason accompanies a false result.
func (r *Registry) Check(entityID, action string, value int64, now time.Time) (bool, string) {
	for _, c := range r.ActiveConstraints(entityID, now) {
		switch c.Kind {
		case ConstraintQuarantine:
			return false, fmt.Sprintf("quarantine in effect: %s", c.Reason)
		case ConstraintMaxTransactionValue:
			if value > c.Value {
				return false, fmt.Sprintf("transaction value %d exceeds ceiling %d: %s", value, c.Value, c.Reason)
			}
		case ConstraintActionBlock:
			if c.Action == action {
				return false, fmt.Sprintf("action %q blocked: %s", action, c.Reason)
			}
		}
	}
	return true, ""
}
