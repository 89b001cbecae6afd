// Package store persists identity, trust, delegation, account, transfer, and
// accountability records. Every record is addressed by its natural key. The
// SQLite backend serves single-node deployments; Postgres covers shared ones.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/trustplane/trustplane/pkg/accountability"
	"github.com/trustplane/trustplane/pkg/delegation"
	"github.com/trustplane/trustplane/pkg/identity"
	"github.com/trustplane/trustplane/pkg/ledger"
	"github.com/trustplane/trustplane/pkg/trust"
)

// SQLiteStore is the SQLite-backed record store.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and migrates it.
// Use ":memory:" for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an existing handle and migrates it.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS trust_records (
		entity_id TEXT NOT NULL,
		organization TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		talent REAL, training REAL, temperament REAL, t3_composite REAL,
		has_v3 INTEGER NOT NULL DEFAULT 0,
		veracity REAL, validity REAL, valuation REAL, v3_composite REAL,
		action_count INTEGER NOT NULL DEFAULT 0,
		transaction_count INTEGER NOT NULL DEFAULT 0,
		last_activity TEXT,
		PRIMARY KEY (entity_id, organization, role)
	);
	CREATE TABLE IF NOT EXISTS identities (
		id TEXT PRIMARY KEY,
		record JSON NOT NULL
	);
	CREATE TABLE IF NOT EXISTS accounts (
		owner_id TEXT PRIMARY KEY,
		total INTEGER NOT NULL,
		locked INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS delegations (
		id TEXT PRIMARY KEY,
		record JSON NOT NULL
	);
	CREATE TABLE IF NOT EXISTS accountability_events (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		record JSON NOT NULL,
		recorded_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_entity ON accountability_events(entity_id);
	CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		record JSON NOT NULL,
		phase TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements trust.TensorStore.
func (s *SQLiteStore) Load(ctx context.Context, entityID, organization, role string) (*trust.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT talent, training, temperament, t3_composite,
		       has_v3, veracity, validity, valuation, v3_composite,
		       action_count, transaction_count, last_activity
		FROM trust_records
		WHERE entity_id = ? AND organization = ? AND role = ?`,
		entityID, organization, role)

	var (
		rec    trust.Record
		hasV3  int
		v3     trust.V3
		lastAt sql.NullString
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
	if hasV3 == 1 {
		rec.V3 = &v3
	}
	if lastAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastAt.String); err == nil {
			rec.LastActivity = t
		}
	}
	return &rec, nil
}

// PutTrustRecord upserts a tensor record.
func (s *SQLiteStore) PutTrustRecord(ctx context.Context, rec *trust.Record) error {
	hasV3 := 0
	var v3 trust.V3
	if rec.V3 != nil {
		hasV3 = 1
		v3 = *rec.V3
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trust_records (
			entity_id, organization, role,
			talent, training, temperament, t3_composite,
			has_v3, veracity, validity, valuation, v3_composite,
			action_count, transaction_count, last_activity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_id, organization, role) DO UPDATE SET
			talent = excluded.talent,
			training = excluded.training,
			temperament = excluded.temperament,
			t3_composite = excluded.t3_composite,
			has_v3 = excluded.has_v3,
			veracity = excluded.veracity,
			validity = excluded.validity,
			valuation = excluded.valuation,
			v3_composite = excluded.v3_composite,
			action_count = excluded.action_count,
			transaction_count = excluded.transaction_count,
			last_activity = excluded.last_activity`,
		rec.EntityID, rec.Organization, rec.Role,
		rec.T3.Talent, rec.T3.Training, rec.T3.Temperament, rec.T3.Composite,
		hasV3, v3.Veracity, v3.Validity, v3.Valuation, v3.Composite,
		rec.ActionCount, rec.TransactionCount, rec.LastActivity.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: put trust record: %w", err)
	}
	return nil
}

// SaveCredential persists an identity credential. Credentials are immutable;
// re-saving an existing id is a no-op.
func (s *SQLiteStore) SaveCredential(ctx context.Context, c *identity.Credential) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("store: marshal credential: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO identities (id, record) VALUES (?, ?)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, string(raw))
	if err != nil {
		return fmt.Errorf("store: save credential: %w", err)
	}
	return nil
}

// Credential loads one identity credential.
func (s *SQLiteStore) Credential(ctx context.Context, id string) (*identity.Credential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT record FROM identities WHERE id = ?`, id)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, identity.ErrNotFound
		}
		return nil, fmt.Errorf("store: load credential: %w", err)
	}
	var c identity.Credential
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("store: decode credential: %w", err)
	}
	return &c, nil
}

// SaveAccount upserts an account snapshot.
func (s *SQLiteStore) SaveAccount(ctx context.Context, snap ledger.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (owner_id, total, locked) VALUES (?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET total = excluded.total, locked = excluded.locked`,
		snap.OwnerID, snap.Total, snap.Locked)
	if err != nil {
		return fmt.Errorf("store: save account: %w", err)
	}
	return nil
}

// Accounts lists all persisted account snapshots.
func (s *SQLiteStore) Accounts(ctx context.Context) ([]ledger.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT owner_id, total, locked FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("store: list accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ledger.Snapshot
	for rows.Next() {
		var snap ledger.Snapshot
		if err := rows.Scan(&snap.OwnerID, &snap.Total, &snap.Locked); err != nil {
			return nil, fmt.Errorf("store: scan account: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// SaveDelegation upserts a delegation record.
func (s *SQLiteStore) SaveDelegation(ctx context.Context, rec delegation.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal delegation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO delegations (id, record) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET record = excluded.record`,
		rec.ID, string(raw))
	if err != nil {
		return fmt.Errorf("store: save delegation: %w", err)
	}
	return nil
}

// Delegations lists all persisted delegation records.
func (s *SQLiteStore) Delegations(ctx context.Context) ([]delegation.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM delegations`)
	if err != nil {
		return nil, fmt.Errorf("store: list delegations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []delegation.Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("store: scan delegation: %w", err)
		}
		var rec delegation.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("store: decode delegation: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendEvent persists an accountability event. Events are never updated.
func (s *SQLiteStore) AppendEvent(ctx context.Context, e accountability.Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("store: marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accountability_events (id, entity_id, kind, record, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.EntityID, string(e.Kind), string(raw), e.RecordedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	return nil
}

// EventsFor lists persisted events for an entity in recording order.
func (s *SQLiteStore) EventsFor(ctx context.Context, entityID string) ([]accountability.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM accountability_events
		WHERE entity_id = ? ORDER BY recorded_at ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []accountability.Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		var e accountability.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("store: decode event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveTransfer upserts a transfer record (phase moves forward only).
func (s *SQLiteStore) SaveTransfer(ctx context.Context, t ledger.Transfer) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("store: marshal transfer: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transfers (id, record, phase) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET record = excluded.record, phase = excluded.phase`,
		t.ID, string(raw), string(t.Phase))
	if err != nil {
		return fmt.Errorf("store: save transfer: %w", err)
	}
	return nil
}

// Transfer loads a transfer by id.
func (s *SQLiteStore) Transfer(ctx context.Context, id string) (*ledger.Transfer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT record FROM transfers WHERE id = ?`, id)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("store: transfer %s not found", id)
		}
		return nil, fmt.Errorf("store: load transfer: %w", err)
	}
	var t ledger.Transfer
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("store: decode transfer: %w", err)
	}
	return &t, nil
}
