package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Ledger is one authority's view of ATP accounts and transfers. Accounts are
// created lazily on first reference. Conservation holds across local
// transfers: the sum of account totals never changes.
type Ledger struct {
	platform string
	clock    func() time.Time
	log      zerolog.Logger

	mu       sync.RWMutex
	accounts map[string]*Account
	pending  map[string]*Transfer
	inbound  map[string]struct{}
	history  []*Transfer
}

// New creates a ledger for a platform (administrative boundary).
func New(platform string) *Ledger {
	return &Ledger{
		platform: platform,
		clock:    time.Now,
		log:      zerolog.Nop(),
		accounts: make(map[string]*Account),
		pending:  make(map[string]*Transfer),
		inbound:  make(map[string]struct{}),
	}
}

// WithClock overrides the clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// WithLogger sets the operational logger.
func (l *Ledger) WithLogger(log zerolog.Logger) *Ledger {
	l.log = log
	return l
}

// Platform returns the administrative boundary this ledger manages.
func (l *Ledger) Platform() string {
	return l.platform
}

// Account returns the account for owner, creating it empty if needed.
func (l *Ledger) Account(ownerID string) *Account {
	l.mu.RLock()
	a, ok := l.accounts[ownerID]
	l.mu.RUnlock()
	if ok {
		return a
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok = l.accounts[ownerID]; ok {
		return a
	}
	a = NewAccount(ownerID, 0)
	l.accounts[ownerID] = a
	return a
}

// Fund credits an account directly. Used for issuance and test setup.
func (l *Ledger) Fund(ownerID string, amount int64) bool {
	return l.Account(ownerID).Credit(amount)
}

// LocalTransfer moves amount between two accounts inside this boundary with
// no intermediate state: an atomic withdraw on the source, then a credit on
// the destination.
func (l *Ledger) LocalTransfer(fromID, toID string, amount int64) bool {
	if amount <= 0 || fromID == toID {
		return false
	}
	from := l.Account(fromID)
	to := l.Account(toID)
	if !from.Debit(amount) {
		return false
	}
	to.Credit(amount)
	return true
}

// Initiate starts a cross-boundary transfer: locks amount on the source
// account and records a pending transfer in phase LOCK. Returns the transfer
// ID, or "" and false when the amount is invalid or the lock fails.
func (l *Ledger) Initiate(sourceID, destPlatform, destID string, amount int64) (string, bool) {
	if amount <= 0 {
		return "", false
	}
	if !l.Account(sourceID).Lock(amount) {
		return "", false
	}

	t := &Transfer{
		ID:             uuid.New().String(),
		SourcePlatform: l.platform,
		SourceID:       sourceID,
		DestPlatform:   destPlatform,
		DestID:         destID,
		Amount:         amount,
		Phase:          PhaseLock,
		InitiatedAt:    l.clock(),
	}

	l.mu.Lock()
	l.pending[t.ID] = t
	l.mu.Unlock()

	l.log.Info().Str("transfer", t.ID).Str("dest", destPlatform).Int64("amount", amount).Msg("transfer initiated")
	return t.ID, true
}

// Commit runs on the destination authority after it has observed external
// confirmation: credits the destination account and records a COMMIT entry
// for its own bookkeeping. The destination never held the lock, so there is
// nothing to release on its side. A redelivered commit for an already-seen
// transfer id fails with no mutation, so the destination credits at most
// once per transfer.
func (l *Ledger) Commit(transferID, sourcePlatform, sourceID, destID string, amount int64) bool {
	if transferID == "" || amount <= 0 {
		return false
	}

	l.mu.Lock()
	if _, seen := l.inbound[transferID]; seen {
		l.mu.Unlock()
		l.log.Warn().Str("transfer", transferID).Msg("duplicate inbound commit ignored")
		return false
	}
	l.inbound[transferID] = struct{}{}
	l.mu.Unlock()

	if !l.Account(destID).Credit(amount) {
		return false
	}

	now := l.clock()
	t := &Transfer{
		ID:             transferID,
		SourcePlatform: sourcePlatform,
		SourceID:       sourceID,
		DestPlatform:   l.platform,
		DestID:         destID,
		Amount:         amount,
		Phase:          PhaseCommit,
		InitiatedAt:    now,
		CommittedAt:    now,
	}

	l.mu.Lock()
	l.history = append(l.history, t)
	l.mu.Unlock()

	l.log.Info().Str("transfer", transferID).Str("dest", destID).Int64("amount", amount).Msg("inbound transfer committed")
	return true
}

// Finalize runs on the source authority after confirmation that the
// destination committed: deducts the locked amount and moves the transfer to
// COMPLETE. Fails with no mutation when the transfer is missing or not in
// phase LOCK; repeat calls are no-ops. This is the guarantee that prevents
// double settlement.
func (l *Ledger) Finalize(transferID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.pending[transferID]
	if !ok || t.Phase != PhaseLock {
		return false
	}
	if !l.accounts[t.SourceID].Deduct(t.Amount) {
		return false
	}
	t.Phase = PhaseComplete
	t.CompletedAt = l.clock()
	delete(l.pending, transferID)
	l.history = append(l.history, t)

	l.log.Info().Str("transfer", transferID).Int64("amount", t.Amount).Msg("transfer finalized")
	return true
}

// Rollback releases the lock of a pending transfer after a timeout or an
// unreachable destination. Same exactly-once discipline as Finalize: the
// transfer must exist and be in phase LOCK.
func (l *Ledger) Rollback(transferID, reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.pending[transferID]
	if !ok || t.Phase != PhaseLock {
		return false
	}
	if !l.accounts[t.SourceID].Unlock(t.Amount) {
		return false
	}
	t.Phase = PhaseRollback
	t.RolledBackAt = l.clock()
	t.RollbackReason = reason
	delete(l.pending, transferID)
	l.history = append(l.history, t)

	l.log.Warn().Str("transfer", transferID).Str("reason", reason).Msg("transfer rolled back")
	return true
}

// Pending returns a copy of the pending transfer, if any.
func (l *Ledger) Pending(transferID string) (Transfer, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.pending[transferID]
	if !ok {
		return Transfer{}, false
	}
	return *t, true
}

// History returns a copy of terminated transfers in termination order.
func (l *Ledger) History() []Transfer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Transfer, len(l.history))
	for i, t := range l.history {
		out[i] = *t
	}
	return out
}

// TotalBalance sums account totals. Local transfers keep it invariant.
func (l *Ledger) TotalBalance() int64 {
	l.mu.RLock()
	owners := make([]*Account, 0, len(l.accounts))
	for _, a := range l.accounts {
		owners = append(owners, a)
	}
	l.mu.RUnlock()

	var sum int64
	for _, a := range owners {
		sum += a.Total()
	}
	return sum
}

// Snapshot returns account snapshots for persistence.
func (l *Ledger) Snapshot() []Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Snapshot, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, a.Snapshot())
	}
	return out
}

// Restore loads account snapshots, replacing balances for listed owners.
func (l *Ledger) Restore(snaps []Snapshot) {
	for _, s := range snaps {
		l.Account(s.OwnerID).restore(s)
	}
}
