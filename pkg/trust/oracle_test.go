package trust

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	rec   *Record
	err   error
	loads int
}

func (s *stubStore) Load(_ context.Context, _, _, _ string) (*Record, error) {
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	if s.rec == nil {
		return nil, ErrNotFound
	}
	cp := *s.rec
	return &cp, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestScoreCompositeWeighting(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &stubStore{rec: &Record{
		T3:           T3{Talent: 0.9, Training: 0.9, Temperament: 0.9, Composite: 0.9},
		V3:           &V3{Veracity: 0.5, Validity: 0.5, Valuation: 0.5, Composite: 0.5},
		LastActivity: now,
	}}
	o := NewOracle(store, Options{}).WithClock(fixedClock(now))

	s := o.Score(context.Background(), "lct:a", "org:x", "worker")
	// 0.6 * 0.9 + 0.4 * 0.5
	assert.InDelta(t, 0.74, s.Composite, 1e-9)
	assert.Equal(t, TierGood, s.Tier)
}

func TestScoreCapabilityOnlyWhenNoV3(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &stubStore{rec: &Record{
		T3:           T3{Talent: 0.6, Training: 0.6, Temperament: 0.6, Composite: 0.6},
		LastActivity: now,
	}}
	o := NewOracle(store, Options{}).WithClock(fixedClock(now))

	s := o.Score(context.Background(), "lct:a", "org:x", "")
	assert.InDelta(t, 0.6, s.Composite, 1e-9)
	assert.Nil(t, s.V3)
}

func TestTrainingDecaysPerIdleMonth(t *testing.T) {
	last := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	now := last.AddDate(0, 3, 0)
	store := &stubStore{rec: &Record{
		T3:           T3{Talent: 0.8, Training: 0.8, Temperament: 0.75, Composite: 0.8},
		LastActivity: last,
	}}
	o := NewOracle(store, Options{}).WithClock(fixedClock(now))

	s := o.Score(context.Background(), "lct:a", "org:x", "")
	assert.InDelta(t, 0.77, s.T3.Training, 1e-9) // 0.8 - 3*0.01
}

func TestTemperamentRecoversTowardCeiling(t *testing.T) {
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := last.AddDate(0, 2, 0)
	store := &stubStore{rec: &Record{
		T3:           T3{Talent: 0.5, Training: 0.5, Temperament: 0.73, Composite: 0.5},
		LastActivity: last,
	}}
	o := NewOracle(store, Options{}).WithClock(fixedClock(now))

	s := o.Score(context.Background(), "lct:a", "org:x", "")
	// recovery is capped at the ceiling, not 0.73 + 2*0.02
	assert.InDelta(t, 0.75, s.T3.Temperament, 1e-9)
}

func TestNeutralDefaultForUnknownIdentity(t *testing.T) {
	store := &stubStore{}
	o := NewOracle(store, Options{}).WithClock(fixedClock(time.Now()))

	s := o.Score(context.Background(), "lct:new", "org:x", "")
	assert.InDelta(t, 0.5, s.Composite, 1e-9)
	assert.Equal(t, TierNeutral, s.Tier)
}

func TestFailClosedOnStoreError(t *testing.T) {
	store := &stubStore{err: fmt.Errorf("connection refused")}
	o := NewOracle(store, Options{}).WithClock(fixedClock(time.Now()))

	s := o.Score(context.Background(), "lct:a", "org:x", "")
	assert.InDelta(t, 0.1, s.Composite, 1e-9)
	assert.Equal(t, TierUntrusted, s.Tier)
}

func TestCacheHitWithinTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	current := now
	store := &stubStore{rec: &Record{T3: T3{Talent: 0.7, Training: 0.7, Temperament: 0.7}, LastActivity: now}}
	o := NewOracle(store, Options{CacheTTL: 5 * time.Minute}).WithClock(func() time.Time { return current })

	o.Score(context.Background(), "lct:a", "org:x", "")
	o.Score(context.Background(), "lct:a", "org:x", "")
	require.Equal(t, 1, store.loads)

	current = now.Add(6 * time.Minute)
	o.Score(context.Background(), "lct:a", "org:x", "")
	assert.Equal(t, 2, store.loads)
}

func TestInvalidateForcesReload(t *testing.T) {
	now := time.Now()
	store := &stubStore{rec: &Record{T3: T3{Talent: 0.7, Training: 0.7, Temperament: 0.7}, LastActivity: now}}
	o := NewOracle(store, Options{}).WithClock(fixedClock(now))

	o.Score(context.Background(), "lct:a", "org:x", "")
	o.Invalidate("lct:a", "org:x", "")
	o.Score(context.Background(), "lct:a", "org:x", "")
	assert.Equal(t, 2, store.loads)
}
