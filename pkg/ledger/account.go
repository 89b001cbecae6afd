// Package ledger holds per-identity ATP accounts and executes local and
// cross-boundary transfers. Account mutators return booleans, never errors:
// false means no state changed.
package ledger

import "sync"

// Account is a metered-resource account. available = total - locked, and both
// locked <= total and available >= 0 hold at all times. Each account is
// mutated only under its own lock; no operation takes a ledger-wide lock.
type Account struct {
	mu      sync.Mutex
	OwnerID string
	total   int64
	locked  int64
}

// NewAccount creates an account with an opening balance.
func NewAccount(ownerID string, openingBalance int64) *Account {
	if openingBalance < 0 {
		openingBalance = 0
	}
	return &Account{OwnerID: ownerID, total: openingBalance}
}

// Total returns the total balance, locked included.
func (a *Account) Total() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Locked returns the portion held by pending transfers.
func (a *Account) Locked() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.locked
}

// Available returns the spendable balance.
func (a *Account) Available() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total - a.locked
}

// Lock moves amount from available to locked. Fails when available < amount.
func (a *Account) Lock(amount int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if amount <= 0 || a.total-a.locked < amount {
		return false
	}
	a.locked += amount
	return true
}

// Unlock reverses a lock. Fails when locked < amount. Used on rollback.
func (a *Account) Unlock(amount int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if amount <= 0 || a.locked < amount {
		return false
	}
	a.locked -= amount
	return true
}

// Deduct permanently removes a locked amount from both locked and total.
// Used on commit of an outbound transfer.
func (a *Account) Deduct(amount int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if amount <= 0 || a.locked < amount {
		return false
	}
	a.locked -= amount
	a.total -= amount
	return true
}

// Credit adds to total. Used on receipt.
func (a *Account) Credit(amount int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if amount <= 0 {
		return false
	}
	a.total += amount
	return true
}

// Debit removes amount from total when available covers it. Used for
// authorized action costs inside one boundary.
func (a *Account) Debit(amount int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if amount <= 0 || a.total-a.locked < amount {
		return false
	}
	a.total -= amount
	return true
}

// Snapshot is the persisted form of an account.
type Snapshot struct {
	OwnerID string `json:"owner_id"`
	Total   int64  `json:"total"`
	Locked  int64  `json:"locked"`
}

// Snapshot captures the account state for persistence.
func (a *Account) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{OwnerID: a.OwnerID, Total: a.total, Locked: a.locked}
}

// restore overwrites balances from a snapshot. Only the ledger uses it while
// loading from a store.
func (a *Account) restore(s Snapshot) {
	a.mu.Lock()
	a.total = s.Total
	a.locked = s.Locked
	a.mu.Unlock()
}
