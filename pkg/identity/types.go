// Package identity holds linked context token (LCT) credentials: the
// cryptographically identified participants of the system. A credential is
// written once at issuance and read-only afterward.
package identity

import (
	"crypto/ed25519"
	"time"
)

// EntityKind classifies the holder of a credential.
type EntityKind string

const (
	EntityHuman EntityKind = "human"
	EntityAI    EntityKind = "ai"
	EntityRole  EntityKind = "role"
	EntityOrg   EntityKind = "org"
)

// Credential is an immutable identity record.
type Credential struct {
	ID           string            `json:"id"`
	Kind         EntityKind        `json:"kind"`
	Organization string            `json:"organization"`
	BirthHash    string            `json:"birth_hash"`
	PublicKey    ed25519.PublicKey `json:"public_key"`
	IssuedAt     time.Time         `json:"issued_at"`
}
