package trust

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned by a TensorStore when no record exists for the
// requested triple. The oracle maps it to a neutral default score so that
// first-contact identities are not blocked outright.
var ErrNotFound = fmt.Errorf("trust: no tensor record")

// TensorStore loads persisted tensors. Implementations live in pkg/store.
type TensorStore interface {
	Load(ctx context.Context, entityID, organization, role string) (*Record, error)
}

// Options tune scoring and decay. Zero values fall back to defaults.
type Options struct {
	// CacheTTL bounds the age of cached scores. Default 5 minutes.
	CacheTTL time.Duration
	// CapabilityWeight is the T3 share of the composite when a V3 tensor is
	// present. Default 0.6 (V3 takes the remainder).
	CapabilityWeight float64
	// TrainingDecayPerMonth is subtracted from T3.Training per elapsed month
	// without activity. Default 0.01.
	TrainingDecayPerMonth float64
	// TemperamentRecoveryPerMonth is added to T3.Temperament per elapsed month
	// while it sits below TemperamentCeiling. Default 0.02.
	TemperamentRecoveryPerMonth float64
	// TemperamentCeiling caps temperament recovery. Default 0.75.
	TemperamentCeiling float64
	// NeutralScore is returned for identities with no record. Default 0.5.
	NeutralScore float64
	// FailClosedScore is returned when the backing store errors. Default 0.1.
	FailClosedScore float64
}

func (o Options) withDefaults() Options {
	if o.CacheTTL <= 0 {
		o.CacheTTL = 5 * time.Minute
	}
	if o.CapabilityWeight <= 0 {
		o.CapabilityWeight = 0.6
	}
	if o.TrainingDecayPerMonth <= 0 {
		o.TrainingDecayPerMonth = 0.01
	}
	if o.TemperamentRecoveryPerMonth <= 0 {
		o.TemperamentRecoveryPerMonth = 0.02
	}
	if o.TemperamentCeiling <= 0 {
		o.TemperamentCeiling = 0.75
	}
	if o.NeutralScore <= 0 {
		o.NeutralScore = 0.5
	}
	if o.FailClosedScore <= 0 {
		o.FailClosedScore = 0.1
	}
	return o
}

type cacheEntry struct {
	score    *Score
	cachedAt time.Time
}

// Oracle computes composite trust scores with decay and caches them.
// The cache is read-mostly; a racing refresh is harmless (last writer wins).
type Oracle struct {
	store TensorStore
	opts  Options
	clock func() time.Time
	log   zerolog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewOracle creates an Oracle over the given tensor store.
func NewOracle(store TensorStore, opts Options) *Oracle {
	return &Oracle{
		store: store,
		opts:  opts.withDefaults(),
		clock: time.Now,
		log:   zerolog.Nop(),
		cache: make(map[string]cacheEntry),
	}
}

// WithClock overrides the clock for testing.
func (o *Oracle) WithClock(clock func() time.Time) *Oracle {
	o.clock = clock
	return o
}

// WithLogger sets the operational logger.
func (o *Oracle) WithLogger(log zerolog.Logger) *Oracle {
	o.log = log
	return o
}

func cacheKey(entityID, organization, role string) string {
	return entityID + "|" + organization + "|" + role
}

// Score returns the composite trust score for an identity within an
// organizational context. Store failures degrade to a fail-closed low score
// rather than surfacing an error; a missing record yields the neutral default.
func (o *Oracle) Score(ctx context.Context, entityID, organization, role string) *Score {
	now := o.clock()
	key := cacheKey(entityID, organization, role)

	o.mu.RLock()
	entry, ok := o.cache[key]
	o.mu.RUnlock()
	if ok && now.Sub(entry.cachedAt) < o.opts.CacheTTL {
		return entry.score
	}

	score := o.compute(ctx, entityID, organization, role, now)

	o.mu.Lock()
	o.cache[key] = cacheEntry{score: score, cachedAt: now}
	o.mu.Unlock()
	return score
}

// Invalidate drops the cached score for a triple. Called on write-through.
func (o *Oracle) Invalidate(entityID, organization, role string) {
	o.mu.Lock()
	delete(o.cache, cacheKey(entityID, organization, role))
	o.mu.Unlock()
}

func (o *Oracle) compute(ctx context.Context, entityID, organization, role string, now time.Time) *Score {
	rec, err := o.store.Load(ctx, entityID, organization, role)
	switch {
	case errors.Is(err, ErrNotFound):
		return o.defaultScore(entityID, organization, role, o.opts.NeutralScore, now)
	case err != nil:
		o.log.Warn().Err(err).Str("entity", entityID).Msg("tensor store unavailable, failing closed")
		return o.defaultScore(entityID, organization, role, o.opts.FailClosedScore, now)
	}

	t3 := o.decay(rec.T3, rec.LastActivity, now)

	composite := t3.Composite
	if rec.V3 != nil {
		w := o.opts.CapabilityWeight
		composite = w*t3.Composite + (1-w)*rec.V3.Composite
	}
	composite = clamp01(composite)

	return &Score{
		EntityID:         entityID,
		Organization:     organization,
		Role:             role,
		T3:               t3,
		V3:               rec.V3,
		Composite:        composite,
		ActionCount:      rec.ActionCount,
		TransactionCount: rec.TransactionCount,
		Tier:             TierFor(composite),
		UpdatedAt:        now,
	}
}

// decay applies monthly decay: training erodes without activity, temperament
// recovers toward its ceiling. The composite is recomputed afterward.
func (o *Oracle) decay(t3 T3, lastActivity time.Time, now time.Time) T3 {
	months := monthsBetween(lastActivity, now)
	if months <= 0 {
		t3.Composite = clamp01((t3.Talent + t3.Training + t3.Temperament) / 3)
		return t3
	}

	t3.Training = clamp01(t3.Training - float64(months)*o.opts.TrainingDecayPerMonth)
	if t3.Temperament < o.opts.TemperamentCeiling {
		t3.Temperament += float64(months) * o.opts.TemperamentRecoveryPerMonth
		if t3.Temperament > o.opts.TemperamentCeiling {
			t3.Temperament = o.opts.TemperamentCeiling
		}
	}
	t3.Composite = clamp01((t3.Talent + t3.Training + t3.Temperament) / 3)
	return t3
}

func (o *Oracle) defaultScore(entityID, organization, role string, composite float64, now time.Time) *Score {
	return &Score{
		EntityID:     entityID,
		Organization: organization,
		Role:         role,
		T3:           T3{Talent: composite, Training: composite, Temperament: composite, Composite: composite},
		Composite:    composite,
		Tier:         TierFor(composite),
		UpdatedAt:    now,
	}
}

func monthsBetween(from, to time.Time) int {
	if from.IsZero() || !to.After(from) {
		return 0
	}
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
