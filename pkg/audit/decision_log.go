// Package audit provides the append-only, hash-chained decision log. Each
// entry's hash covers an RFC 8785 canonical serialization of the decision
// plus the previous entry's hash, so two implementations hashing the same
// decisions produce identical chains and any mutation is externally
// detectable.
package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/trustplane/trustplane/pkg/canonicalize"
)

// genesisHash anchors the chain before the first entry.
const genesisHash = "genesis"

// Entry is one immutable decision record.
type Entry struct {
	Sequence     uint64    `json:"sequence"`
	Requester    string    `json:"requester"`
	Action       string    `json:"action"`
	Decision     string    `json:"decision"`
	DenialReason string    `json:"denial_reason,omitempty"`
	TrustScore   float64   `json:"trust_score"`
	Cost         int64     `json:"cost"`
	Timestamp    time.Time `json:"timestamp"`
	PrevHash     string    `json:"prev_hash"`
	Hash         string    `json:"hash"`
}

// hashInput is the canonical pre-image of an entry hash. Field order does not
// matter: JCS sorts keys before hashing.
type hashInput struct {
	Sequence     uint64 `json:"sequence"`
	Requester    string `json:"requester"`
	Action       string `json:"action"`
	Decision     string `json:"decision"`
	DenialReason string `json:"denial_reason"`
	TrustScore   string `json:"trust_score"`
	Cost         int64  `json:"cost"`
	Timestamp    string `json:"timestamp"`
	PrevHash     string `json:"prev_hash"`
}

// DecisionLog is the append-only chained log.
type DecisionLog struct {
	mu      sync.RWMutex
	entries []Entry
	head    string
	clock   func() time.Time
}

// NewDecisionLog creates an empty log.
func NewDecisionLog() *DecisionLog {
	return &DecisionLog{head: genesisHash, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (l *DecisionLog) WithClock(clock func() time.Time) *DecisionLog {
	l.clock = clock
	return l
}

// Append records a decision and returns the completed entry.
func (l *DecisionLog) Append(requester, action, decision, denialReason string, trustScore float64, cost int64) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		Sequence:     uint64(len(l.entries)) + 1,
		Requester:    requester,
		Action:       action,
		Decision:     decision,
		DenialReason: denialReason,
		TrustScore:   trustScore,
		Cost:         cost,
		Timestamp:    l.clock().UTC(),
		PrevHash:     l.head,
	}
	hash, err := entryHash(e)
	if err != nil {
		return Entry{}, err
	}
	e.Hash = hash

	l.entries = append(l.entries, e)
	l.head = hash
	return e, nil
}

// Head returns the current chain head hash.
func (l *DecisionLog) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head
}

// Len returns the number of entries.
func (l *DecisionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Get retrieves an entry by sequence number (1-based).
func (l *DecisionLog) Get(seq uint64) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq == 0 || seq > uint64(len(l.entries)) {
		return Entry{}, fmt.Errorf("audit: entry %d not found", seq)
	}
	return l.entries[seq-1], nil
}

// Tail returns the most recent n entries in order.
func (l *DecisionLog) Tail(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || len(l.entries) == 0 {
		return nil
	}
	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// Verify walks the whole chain, recomputing every hash. Returns false and a
// description at the first break.
func (l *DecisionLog) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prev := genesisHash
	for i, e := range l.entries {
		if e.PrevHash != prev {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prev, e.PrevHash)
		}
		computed, err := entryHash(e)
		if err != nil {
			return false, fmt.Sprintf("entry %d not hashable: %v", i+1, err)
		}
		if computed != e.Hash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prev = e.Hash
	}
	return true, "chain verified"
}

// entryHash computes the canonical content hash of an entry. Trust scores and
// timestamps are serialized as fixed-format strings so the canonical form is
// identical across implementations.
func entryHash(e Entry) (string, error) {
	hash, err := canonicalize.Hash(hashInput{
		Sequence:     e.Sequence,
		Requester:    e.Requester,
		Action:       e.Action,
		Decision:     e.Decision,
		DenialReason: e.DenialReason,
		TrustScore:   fmt.Sprintf("%.6f", e.TrustScore),
		Cost:         e.Cost,
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
		PrevHash:     e.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("audit: hash entry: %w", err)
	}
	return hash, nil
}
