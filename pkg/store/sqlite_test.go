package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustplane/trustplane/pkg/accountability"
	"github.com/trustplane/trustplane/pkg/delegation"
	"github.com/trustplane/trustplane/pkg/identity"
	"github.com/trustplane/trustplane/pkg/ledger"
	"github.com/trustplane/trustplane/pkg/trust"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTrustRecordRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &trust.Record{
		EntityID:     "lct:a",
		Organization: "org:x",
		Role:         "worker",
		T3:           trust.T3{Talent: 0.8, Training: 0.7, Temperament: 0.6, Composite: 0.7},
		V3:           &trust.V3{Veracity: 0.9, Validity: 0.8, Valuation: 0.7, Composite: 0.8},
		ActionCount:  12,
		LastActivity: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.PutTrustRecord(ctx, rec))

	got, err := s.Load(ctx, "lct:a", "org:x", "worker")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, got.T3.Training, 1e-9)
	require.NotNil(t, got.V3)
	assert.InDelta(t, 0.8, got.V3.Composite, 1e-9)
	assert.Equal(t, 12, got.ActionCount)
	assert.True(t, got.LastActivity.Equal(rec.LastActivity))
}

func TestLoadMissingTrustRecord(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load(context.Background(), "lct:ghost", "org:x", "")
	assert.ErrorIs(t, err, trust.ErrNotFound)
}

func TestTrustRecordUpsertOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &trust.Record{EntityID: "lct:a", Organization: "org:x", T3: trust.T3{Talent: 0.5}}
	require.NoError(t, s.PutTrustRecord(ctx, rec))
	rec.T3.Talent = 0.9
	require.NoError(t, s.PutTrustRecord(ctx, rec))

	got, err := s.Load(ctx, "lct:a", "org:x", "")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got.T3.Talent, 1e-9)
}

func TestCredentialRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cred := &identity.Credential{
		ID:           "lct:alice",
		Kind:         identity.EntityHuman,
		Organization: "org:x",
		BirthHash:    "sha256:abc",
		PublicKey:    make([]byte, 32),
		IssuedAt:     time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveCredential(ctx, cred))

	got, err := s.Credential(ctx, "lct:alice")
	require.NoError(t, err)
	assert.Equal(t, identity.EntityHuman, got.Kind)
	assert.Equal(t, "org:x", got.Organization)
	assert.Equal(t, cred.PublicKey, got.PublicKey)
	assert.True(t, got.IssuedAt.Equal(cred.IssuedAt))
}

func TestCredentialIsImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCredential(ctx, &identity.Credential{
		ID: "lct:alice", Kind: identity.EntityHuman, Organization: "org:x",
	}))
	// A second save under the same id must not rewrite the record.
	require.NoError(t, s.SaveCredential(ctx, &identity.Credential{
		ID: "lct:alice", Kind: identity.EntityAI, Organization: "org:y",
	}))

	got, err := s.Credential(ctx, "lct:alice")
	require.NoError(t, err)
	assert.Equal(t, identity.EntityHuman, got.Kind)
	assert.Equal(t, "org:x", got.Organization)
}

func TestCredentialMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Credential(context.Background(), "lct:ghost")
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestAccountPersistence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAccount(ctx, ledger.Snapshot{OwnerID: "lct:a", Total: 100, Locked: 25}))
	require.NoError(t, s.SaveAccount(ctx, ledger.Snapshot{OwnerID: "lct:b", Total: 50}))

	snaps, err := s.Accounts(ctx)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)

	// Restoring into a ledger reproduces balances.
	l := ledger.New("platform-a")
	l.Restore(snaps)
	assert.EqualValues(t, 75, l.Account("lct:a").Available())
	assert.EqualValues(t, 50, l.Account("lct:b").Total())
}

func TestDelegationPersistence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	d, err := delegation.New(delegation.Params{
		ID: "del-1", PrincipalID: "lct:p", AgentID: "lct:a",
		Permissions: []string{"read"}, Budget: 500,
		ValidFrom: now, ValidUntil: now.Add(time.Hour),
	})
	require.NoError(t, err)
	require.True(t, d.Consume(120))
	require.NoError(t, s.SaveDelegation(ctx, d.Snapshot()))

	recs, err := s.Delegations(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	restored, err := delegation.FromRecord(recs[0])
	require.NoError(t, err)
	assert.EqualValues(t, 120, restored.Spent())
	assert.True(t, restored.HasPermission("read"))
}

func TestEventPersistence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := accountability.Event{
		ID:          "evt-1",
		EntityID:    "lct:a",
		Kind:        accountability.EventViolation,
		Adjudicator: "lct:judge",
		RecordedAt:  time.Now().UTC(),
		Constraints: []accountability.Constraint{{Kind: accountability.ConstraintQuarantine, Reason: "test"}},
	}
	require.NoError(t, s.AppendEvent(ctx, e))

	events, err := s.EventsFor(ctx, "lct:a")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, accountability.ConstraintQuarantine, events[0].Constraints[0].Kind)
}

func TestTransferPersistence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tr := ledger.Transfer{
		ID: "tr-1", SourcePlatform: "a", SourceID: "lct:s",
		DestPlatform: "b", DestID: "lct:d",
		Amount: 40, Phase: ledger.PhaseLock, InitiatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveTransfer(ctx, tr))

	tr.Phase = ledger.PhaseComplete
	require.NoError(t, s.SaveTransfer(ctx, tr))

	got, err := s.Transfer(ctx, "tr-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.PhaseComplete, got.Phase)

	_, err = s.Transfer(ctx, "tr-404")
	assert.Error(t, err)
}
