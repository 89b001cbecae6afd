// Package witness verifies signed, nonce-bound attestations used as
// supporting evidence for deferred authorization decisions. Attestations are
// compact EdDSA-signed JWTs; the jti claim is the nonce and each nonce is
// accepted at most once.
package witness

import (
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Attestation is a signed claim from a third-party witness.
type Attestation struct {
	// Token is the compact JWS form.
	Token string `json:"token"`
}

// Claims carried by an attestation.
type Claims struct {
	// Subject is the requester the witness vouches for.
	// Issuer is the witness identity; ID (jti) is the single-use nonce.
	WitnessType string `json:"witness_type,omitempty"`
	Action      string `json:"action,omitempty"`
	jwt.RegisteredClaims
}

// Verifier is the external contract: (valid, error message).
type Verifier interface {
	Verify(att *Attestation) (bool, string)
}

// KeyResolver resolves a witness identity to its registered public key.
// identity.Registry satisfies it.
type KeyResolver interface {
	PublicKey(id string) (ed25519.PublicKey, error)
}

// JWTVerifier validates attestation signatures against registered keys and
// enforces nonce single-use.
type JWTVerifier struct {
	keys  KeyResolver
	clock func() time.Time
	log   zerolog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewJWTVerifier creates a verifier over the given key resolver.
func NewJWTVerifier(keys KeyResolver) *JWTVerifier {
	return &JWTVerifier{
		keys:  keys,
		clock: time.Now,
		log:   zerolog.Nop(),
		seen:  make(map[string]struct{}),
	}
}

// WithClock overrides the clock for testing.
func (v *JWTVerifier) WithClock(clock func() time.Time) *JWTVerifier {
	v.clock = clock
	return v
}

// WithLogger sets the operational logger.
func (v *JWTVerifier) WithLogger(log zerolog.Logger) *JWTVerifier {
	v.log = log
	return v
}

// Verify checks signature, expiry, and nonce freshness. The nonce is marked
// used only after every other check passes, so a rejected attestation can be
// corrected and resubmitted.
func (v *JWTVerifier) Verify(att *Attestation) (bool, string) {
	if att == nil || att.Token == "" {
		return false, "missing attestation"
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithTimeFunc(v.clock),
	)
	_, err := parser.ParseWithClaims(att.Token, claims, func(token *jwt.Token) (any, error) {
		issuer, err := token.Claims.GetIssuer()
		if err != nil || issuer == "" {
			return nil, fmt.Errorf("witness: attestation has no issuer")
		}
		key, err := v.keys.PublicKey(issuer)
		if err != nil {
			return nil, fmt.Errorf("witness: unknown signer %s: %w", issuer, err)
		}
		return key, nil
	})
	if err != nil {
		v.log.Debug().Err(err).Msg("attestation rejected")
		return false, fmt.Sprintf("invalid attestation: %v", err)
	}

	nonce := claims.ID
	if nonce == "" {
		return false, "attestation has no nonce"
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, used := v.seen[nonce]; used {
		return false, fmt.Sprintf("nonce %s already used", nonce)
	}
	v.seen[nonce] = struct{}{}
	return true, ""
}

// Issue signs an attestation with the witness's private key. Provided for
// witnesses and tests; verification only needs the registry.
func Issue(priv ed25519.PrivateKey, claims Claims) (*Attestation, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(priv)
	if err != nil {
		return nil, fmt.Errorf("witness: sign attestation: %w", err)
	}
	return &Attestation{Token: signed}, nil
}
