package identity

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound indicates no credential is registered under the given ID.
	ErrNotFound = fmt.Errorf("identity: credential not found")
	// ErrDuplicate indicates an attempt to re-register an existing ID.
	// Credentials are immutable; there is no update path.
	ErrDuplicate = fmt.Errorf("identity: credential already registered")
)

// Registry is an in-memory credential registry.
type Registry struct {
	mu    sync.RWMutex
	creds map[string]*Credential
	log   zerolog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		creds: make(map[string]*Credential),
		log:   zerolog.Nop(),
	}
}

// WithLogger sets the operational logger.
func (r *Registry) WithLogger(log zerolog.Logger) *Registry {
	r.log = log
	return r
}

// Register stores a credential. IDs are globally unique and immutable;
// re-registering an existing ID fails.
func (r *Registry) Register(c *Credential) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("identity: credential requires an ID")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.creds[c.ID]; exists {
		return ErrDuplicate
	}
	cp := *c
	r.creds[c.ID] = &cp
	r.log.Debug().Str("id", c.ID).Str("org", c.Organization).Msg("credential registered")
	return nil
}

// Resolve returns the credential for id, or ErrNotFound.
func (r *Registry) Resolve(id string) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.creds[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// PublicKey returns the registered signing key for id.
func (r *Registry) PublicKey(id string) (ed25519.PublicKey, error) {
	c, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}
	if len(c.PublicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity: credential %s has no usable key", id)
	}
	return c.PublicKey, nil
}

// VerifySignature checks sig over msg against the key registered for id.
func (r *Registry) VerifySignature(id string, msg, sig []byte) (bool, error) {
	key, err := r.PublicKey(id)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(key, msg, sig), nil
}
