// Package trust computes composite trust scores from capability (T3) and
// transaction-quality (V3) tensors, with temporal decay and a TTL cache.
package trust

import "time"

// T3 is the capability tensor: talent, training, temperament, and their
// composite.
type T3 struct {
	Talent      float64 `json:"talent"`
	Training    float64 `json:"training"`
	Temperament float64 `json:"temperament"`
	Composite   float64 `json:"composite"`
}

// V3 is the transaction-quality tensor: veracity, validity, valuation, and
// their composite. Not every identity has one.
type V3 struct {
	Veracity  float64 `json:"veracity"`
	Validity  float64 `json:"validity"`
	Valuation float64 `json:"valuation"`
	Composite float64 `json:"composite"`
}

// Tier buckets a composite score for display and policy shorthand.
type Tier string

const (
	TierExcellent Tier = "EXCELLENT" // > 0.85
	TierGood      Tier = "GOOD"      // > 0.70
	TierNeutral   Tier = "NEUTRAL"   // > 0.45
	TierPoor      Tier = "POOR"      // > 0.25
	TierUntrusted Tier = "UNTRUSTED" // <= 0.25
)

// TierFor buckets a composite score.
func TierFor(score float64) Tier {
	switch {
	case score > 0.85:
		return TierExcellent
	case score > 0.70:
		return TierGood
	case score > 0.45:
		return TierNeutral
	case score > 0.25:
		return TierPoor
	default:
		return TierUntrusted
	}
}

// Score is the oracle's output for one (entity, organization, role) triple.
// Composite is always within [0,1].
type Score struct {
	EntityID         string    `json:"entity_id"`
	Organization     string    `json:"organization"`
	Role             string    `json:"role,omitempty"`
	T3               T3        `json:"t3"`
	V3               *V3       `json:"v3,omitempty"`
	Composite        float64   `json:"composite"`
	ActionCount      int       `json:"action_count"`
	TransactionCount int       `json:"transaction_count"`
	Tier             Tier      `json:"tier"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Record is the persisted form the oracle scores from.
type Record struct {
	EntityID         string
	Organization     string
	Role             string
	T3               T3
	V3               *V3
	ActionCount      int
	TransactionCount int
	LastActivity     time.Time
}
