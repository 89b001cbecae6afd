package ledger

import "time"

// TransferPhase is the forward-only state of a cross-boundary transfer.
type TransferPhase string

const (
	// PhaseLock: the source amount is locked, awaiting remote confirmation.
	PhaseLock TransferPhase = "LOCK"
	// PhaseCommit: recorded on the destination authority after it credits the
	// receiving account (it never held the lock).
	PhaseCommit TransferPhase = "COMMIT"
	// PhaseComplete: the source deducted the locked amount. Terminal.
	PhaseComplete TransferPhase = "COMPLETE"
	// PhaseRollback: the source released the lock. Terminal.
	PhaseRollback TransferPhase = "ROLLBACK"
)

// Transfer records one cross-boundary movement of ATP. Amount is fixed at
// creation; Phase only moves forward.
type Transfer struct {
	ID             string        `json:"id"`
	SourcePlatform string        `json:"source_platform"`
	SourceID       string        `json:"source_id"`
	DestPlatform   string        `json:"dest_platform"`
	DestID         string        `json:"dest_id"`
	Amount         int64         `json:"amount"`
	Phase          TransferPhase `json:"phase"`
	InitiatedAt    time.Time     `json:"initiated_at"`
	CommittedAt    time.Time     `json:"committed_at,omitzero"`
	CompletedAt    time.Time     `json:"completed_at,omitzero"`
	RolledBackAt   time.Time     `json:"rolled_back_at,omitzero"`
	RollbackReason string        `json:"rollback_reason,omitempty"`
}
