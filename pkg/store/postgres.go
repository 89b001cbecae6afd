package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/trustplane/trustplane/pkg/delegation"
	"github.com/trustplane/trustplane/pkg/identity"
	"github.com/trustplane/trustplane/pkg/ledger"
	"github.com/trustplane/trustplane/pkg/trust"
)

// PostgresStore persists the same records as SQLiteStore on PostgreSQL.
// Schema migration is managed externally; the store assumes the tables exist.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Load implements trust.TensorStore.
func (s *PostgresStore) Load(ctx context.Context, entityID, organization, role string) (*trust.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT talent, training, temperament, t3_composite,
		       has_v3, veracity, validity, valuation, v3_composite,
		       action_count, transaction_count, last_activity
		FROM trust_records
		WHERE entity_id = $1 AND organization = $2 AND role = $3`,
		entityID, organization, role)

	var (
		rec    trust.Record
		hasV3  bool
		v3     trust.V3
		lastAt time.Time
	)
	err := row.Scan(
		&rec.T3.Talent, &rec.T3.Training, &rec.T3.Temperament, &rec.T3.Composite,
		&hasV3, &v3.Veracity, &v3.Validity, &v3.Valuation, &v3.Composite,
		&rec.ActionCount, &rec.TransactionCount, &lastAt,
	)
	if err == sql.ErrNoRows {
		return nil, trust.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load trust record: %w", err)
	}
	rec.EntityID = entityID
	rec.Organization = organization
	rec.Role = role
	rec.LastActivity = lastAt
	if hasV3 {
		rec.V3 = &v3
	}
	return &rec, nil
}

// SaveCredential persists an identity credential. Credentials are immutable;
// re-saving an existing id is a no-op.
func (s *PostgresStore) SaveCredential(ctx context.Context, c *identity.Credential) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("store: marshal credential: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO identities (id, record) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, raw)
	if err != nil {
		return fmt.Errorf("store: save credential: %w", err)
	}
	return nil
}

// Credential loads one identity credential.
func (s *PostgresStore) Credential(ctx context.Context, id string) (*identity.Credential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT record FROM identities WHERE id = $1`, id)
	var raw []byte
	err := row.Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load credential: %w", err)
	}
	var c identity.Credential
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("store: decode credential: %w", err)
	}
	return &c, nil
}

// SaveAccount upserts an account snapshot.
func (s *PostgresStore) SaveAccount(ctx context.Context, snap ledger.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (owner_id, total, locked) VALUES ($1, $2, $3)
		ON CONFLICT (owner_id) DO UPDATE SET total = EXCLUDED.total, locked = EXCLUDED.locked`,
		snap.OwnerID, snap.Total, snap.Locked)
	if err != nil {
		return fmt.Errorf("store: save account: %w", err)
	}
	return nil
}

// Account loads one account snapshot.
func (s *PostgresStore) Account(ctx context.Context, ownerID string) (*ledger.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT owner_id, total, locked FROM accounts WHERE owner_id = $1`, ownerID)
	var snap ledger.Snapshot
	err := row.Scan(&snap.OwnerID, &snap.Total, &snap.Locked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load account: %w", err)
	}
	return &snap, nil
}

// SaveDelegation upserts a delegation record.
func (s *PostgresStore) SaveDelegation(ctx context.Context, rec delegation.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal delegation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO delegations (id, record) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record`,
		rec.ID, raw)
	if err != nil {
		return fmt.Errorf("store: save delegation: %w", err)
	}
	return nil
}

// Delegation loads one delegation record.
func (s *PostgresStore) Delegation(ctx context.Context, id string) (*delegation.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT record FROM delegations WHERE id = $1`, id)
	var raw []byte
	err := row.Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load delegation: %w", err)
	}
	var rec delegation.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("store: decode delegation: %w", err)
	}
	return &rec, nil
}
