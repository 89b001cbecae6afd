// Package authz implements the authorization engine: a synchronous,
// per-request decision pipeline over identity, delegation scope, behavioral
// constraints, law, trust, rate, and ATP budget. Every request yields a
// well-formed Result; infrastructure trouble degrades individual checks
// (fail closed) instead of surfacing an error to the caller.
package authz

// Decision is the terminal outcome of one request.
type Decision string

const (
	DecisionGranted  Decision = "granted"
	DecisionDenied   Decision = "denied"
	DecisionDeferred Decision = "deferred"
)

// DenialReason is the machine-readable reason code on a denied Result.
// Reasons are mutually exclusive per request.
type DenialReason string

const (
	DenyInvalidIdentity     DenialReason = "invalid_identity"
	DenyRoleMismatch        DenialReason = "role_mismatch"
	DenyDelegationExpired   DenialReason = "delegation_expired"
	DenyBudgetExceeded      DenialReason = "atp_budget_exceeded"
	DenyRateLimited         DenialReason = "rate_limit_exceeded"
	DenyConstraintViolation DenialReason = "constraint_violation"
	DenyLawViolation        DenialReason = "law_violation"
	DenyTrustBelowThreshold DenialReason = "trust_below_threshold"
)

// Request asks permission to perform an action at a given ATP cost under a
// specific delegation. Context carries free-form facts for the law oracle.
type Request struct {
	RequesterID  string         `json:"requester_id"`
	DelegationID string         `json:"delegation_id"`
	Action       string         `json:"action"`
	Cost         int64          `json:"cost"`
	Context      map[string]any `json:"context,omitempty"`
}

// Result is the engine's answer. Decision == granted implies DenialReason is
// empty; Decision == deferred implies RequiresWitness and names the missing
// witness type.
type Result struct {
	Decision        Decision     `json:"decision"`
	DenialReason    DenialReason `json:"denial_reason,omitempty"`
	Message         string       `json:"message,omitempty"`
	RequiredTrust   float64      `json:"required_trust"`
	ActualTrust     float64      `json:"actual_trust"`
	ATPRemaining    int64        `json:"atp_remaining"`
	RequiresWitness bool         `json:"requires_witness,omitempty"`
	WitnessType     string       `json:"witness_type,omitempty"`
	LogHash         string       `json:"log_hash,omitempty"`
}

// Granted reports a granted decision.
func (r *Result) Granted() bool {
	return r.Decision == DecisionGranted
}
