package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCredential(t *testing.T, id string) (*Credential, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &Credential{
		ID:           id,
		Kind:         EntityAI,
		Organization: "org:acme",
		BirthHash:    "sha256:deadbeef",
		PublicKey:    pub,
		IssuedAt:     time.Now().UTC(),
	}, priv
}

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	cred, _ := newTestCredential(t, "lct:agent-1")
	require.NoError(t, r.Register(cred))

	got, err := r.Resolve("lct:agent-1")
	require.NoError(t, err)
	assert.Equal(t, "org:acme", got.Organization)
	assert.Equal(t, EntityAI, got.Kind)
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := NewRegistry()
	cred, _ := newTestCredential(t, "lct:agent-1")
	require.NoError(t, r.Register(cred))
	assert.ErrorIs(t, r.Register(cred), ErrDuplicate)
}

func TestResolveUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("lct:ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifySignature(t *testing.T) {
	r := NewRegistry()
	cred, priv := newTestCredential(t, "lct:signer")
	require.NoError(t, r.Register(cred))

	msg := []byte("attest this")
	sig := ed25519.Sign(priv, msg)

	ok, err := r.VerifySignature("lct:signer", msg, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.VerifySignature("lct:signer", []byte("tampered"), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}
