// Package delegation holds revocable, time-boxed grants of permission from a
// principal identity to an agent identity, capped by an ATP budget and a
// rolling-window action rate.
package delegation

import (
	"fmt"
	"sync"
	"time"
)

// DefaultWindow is the rolling rate-limit window when none is configured.
const DefaultWindow = time.Hour

// Delegation is a revocable grant. Spent only ever increases (except for the
// release of a reservation whose ledger leg failed); revocation is terminal.
type Delegation struct {
	mu sync.Mutex

	ID          string
	PrincipalID string
	AgentID     string
	Role        string

	permissions map[string]struct{}

	Budget int64
	spent  int64

	ActionsPerWindow int
	Window           time.Duration

	ValidFrom  time.Time
	ValidUntil time.Time

	revoked bool
	actions []time.Time
}

// Params carries everything needed to create a delegation.
type Params struct {
	ID               string
	PrincipalID      string
	AgentID          string
	Role             string
	Permissions      []string
	Budget           int64
	ActionsPerWindow int
	Window           time.Duration
	ValidFrom        time.Time
	ValidUntil       time.Time
}

// New builds a delegation from params.
func New(p Params) (*Delegation, error) {
	if p.ID == "" || p.PrincipalID == "" || p.AgentID == "" {
		return nil, fmt.Errorf("delegation: ID, principal, and agent are required")
	}
	if p.Budget < 0 {
		return nil, fmt.Errorf("delegation: budget must be non-negative")
	}
	if !p.ValidUntil.After(p.ValidFrom) {
		return nil, fmt.Errorf("delegation: validity window is empty")
	}
	window := p.Window
	if window <= 0 {
		window = DefaultWindow
	}
	perms := make(map[string]struct{}, len(p.Permissions))
	for _, perm := range p.Permissions {
		perms[perm] = struct{}{}
	}
	return &Delegation{
		ID:               p.ID,
		PrincipalID:      p.PrincipalID,
		AgentID:          p.AgentID,
		Role:             p.Role,
		permissions:      perms,
		Budget:           p.Budget,
		ActionsPerWindow: p.ActionsPerWindow,
		Window:           window,
		ValidFrom:        p.ValidFrom,
		ValidUntil:       p.ValidUntil,
	}, nil
}

// IsValid reports whether the delegation is usable at now:
// inside [ValidFrom, ValidUntil) and not revoked.
func (d *Delegation) IsValid(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.revoked && !now.Before(d.ValidFrom) && now.Before(d.ValidUntil)
}

// Revoke terminates the delegation immediately. Irreversible.
func (d *Delegation) Revoke() {
	d.mu.Lock()
	d.revoked = true
	d.mu.Unlock()
}

// Revoked reports terminal revocation.
func (d *Delegation) Revoked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.revoked
}

// HasPermission is strict set membership, not pattern matching.
func (d *Delegation) HasPermission(action string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.permissions[action]
	return ok
}

// Spent returns the consumed budget.
func (d *Delegation) Spent() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spent
}

// Remaining returns the unconsumed budget.
func (d *Delegation) Remaining() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Budget - d.spent
}

// HasBudget reports whether spent + amount would stay within the budget.
func (d *Delegation) HasBudget(amount int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spent+amount <= d.Budget
}

// Consume increases spent by amount. It is a failing no-op when the budget
// would be exceeded or the amount is negative.
func (d *Delegation) Consume(amount int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if amount < 0 || d.spent+amount > d.Budget {
		return false
	}
	d.spent += amount
	return true
}

// RateCapacity reports whether another action fits in the rolling window at
// now, without recording one.
func (d *Delegation) RateCapacity(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked(now)
	return d.ActionsPerWindow <= 0 || len(d.actions) < d.ActionsPerWindow
}

// ReserveResult reports the outcome of an atomic rate-and-budget reservation.
type ReserveResult int

const (
	ReserveOK ReserveResult = iota
	ReserveRateLimited
	ReserveBudgetExceeded
	ReserveInvalid
)

// Reserve atomically checks the rolling window and the budget, then records
// the action timestamp and consumes amount. The single critical section keeps
// two concurrent requests from both passing the check before either commits.
func (d *Delegation) Reserve(now time.Time, amount int64) ReserveResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	if amount < 0 || d.revoked || now.Before(d.ValidFrom) || !now.Before(d.ValidUntil) {
		return ReserveInvalid
	}
	d.pruneLocked(now)
	if d.ActionsPerWindow > 0 && len(d.actions) >= d.ActionsPerWindow {
		return ReserveRateLimited
	}
	if d.spent+amount > d.Budget {
		return ReserveBudgetExceeded
	}
	d.actions = append(d.actions, now)
	d.spent += amount
	return ReserveOK
}

// Release undoes the most recent reservation after its ledger leg failed:
// refunds amount and drops the latest window timestamp.
func (d *Delegation) Release(amount int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if amount > 0 && d.spent >= amount {
		d.spent -= amount
	}
	if n := len(d.actions); n > 0 {
		d.actions = d.actions[:n-1]
	}
}

// pruneLocked drops window entries older than the rolling window.
// Callers hold d.mu.
func (d *Delegation) pruneLocked(now time.Time) {
	cutoff := now.Add(-d.Window)
	i := 0
	for i < len(d.actions) && !d.actions[i].After(cutoff) {
		i++
	}
	if i > 0 {
		d.actions = append(d.actions[:0], d.actions[i:]...)
	}
}

// Record is the serializable snapshot used by the persistence layer.
type Record struct {
	ID               string        `json:"id"`
	PrincipalID      string        `json:"principal_id"`
	AgentID          string        `json:"agent_id"`
	Role             string        `json:"role"`
	Permissions      []string      `json:"permissions"`
	Budget           int64         `json:"budget"`
	Spent            int64         `json:"spent"`
	ActionsPerWindow int           `json:"actions_per_window"`
	Window           time.Duration `json:"window"`
	ValidFrom        time.Time     `json:"valid_from"`
	ValidUntil       time.Time     `json:"valid_until"`
	Revoked          bool          `json:"revoked"`
}

// Snapshot captures the delegation state for persistence.
func (d *Delegation) Snapshot() Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	perms := make([]string, 0, len(d.permissions))
	for p := range d.permissions {
		perms = append(perms, p)
	}
	return Record{
		ID:               d.ID,
		PrincipalID:      d.PrincipalID,
		AgentID:          d.AgentID,
		Role:             d.Role,
		Permissions:      perms,
		Budget:           d.Budget,
		Spent:            d.spent,
		ActionsPerWindow: d.ActionsPerWindow,
		Window:           d.Window,
		ValidFrom:        d.ValidFrom,
		ValidUntil:       d.ValidUntil,
		Revoked:          d.revoked,
	}
}

// FromRecord rebuilds a delegation from a persisted snapshot. The rolling
// window restarts empty; rate history is not persisted.
func FromRecord(r Record) (*Delegation, error) {
	d, err := New(Params{
		ID:               r.ID,
		PrincipalID:      r.PrincipalID,
		AgentID:          r.AgentID,
		Role:             r.Role,
		Permissions:      r.Permissions,
		Budget:           r.Budget,
		ActionsPerWindow: r.ActionsPerWindow,
		Window:           r.Window,
		ValidFrom:        r.ValidFrom,
		ValidUntil:       r.ValidUntil,
	})
	if err != nil {
		return nil, err
	}
	d.spent = r.Spent
	d.revoked = r.Revoked
	return d, nil
}
