// core/orders/orders_test.go

package orders

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"testing"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPair(t *testing.T, seed string) (*mldsa44.PublicKey, *mldsa44.PrivateKey) {
	t.Helper()
	hash := sha256.Sum256([]byte(seed))
	pub, priv, err := mldsa44.GenerateKey(bytes.NewReader(hash[:]))
	require.NoError(t, err)
	return pub, priv
}

func newTestVerifier(now *int64) *Verifier {
	return NewVerifier(func() int64 { return *now })
}

func TestSignAndVerify(t *testing.T) {
	now := int64(1000)
	v := newTestVerifier(&now)

	pub, priv := testKeyPair(t, "signer-key-1")
	require.NoError(t, v.RegisterSigner("relayer-1", pub))

	payload := json.RawMessage(`{"action":"mint","vault":"vault-1","amount":100}`)
	o, err := Sign("relayer-1", 1, 2000, payload, priv)
	require.NoError(t, err)

	assert.NoError(t, v.Verify(o))
}

func TestVerifyUnknownSigner(t *testing.T) {
	now := int64(1000)
	v := newTestVerifier(&now)

	_, priv := testKeyPair(t, "signer-key-1")
	o, err := Sign("ghost", 1, 2000, json.RawMessage(`{}`), priv)
	require.NoError(t, err)

	assert.Error(t, v.Verify(o))
}

func TestVerifyExpired(t *testing.T) {
	now := int64(1000)
	v := newTestVerifier(&now)

	pub, priv := testKeyPair(t, "signer-key-1")
	require.NoError(t, v.RegisterSigner("relayer-1", pub))

	o, err := Sign("relayer-1", 1, 1000, json.RawMessage(`{}`), priv)
	require.NoError(t, err)

	// ExpiresAt equal to now is already stale
	assert.Error(t, v.Verify(o))
}

func TestVerifyRejectsReplay(t *testing.T) {
	now := int64(1000)
	v := newTestVerifier(&now)

	pub, priv := testKeyPair(t, "signer-key-1")
	require.NoError(t, v.RegisterSigner("relayer-1", pub))

	o, err := Sign("relayer-1", 5, 2000, json.RawMessage(`{}`), priv)
	require.NoError(t, err)
	require.NoError(t, v.Verify(o))

	// Same envelope again: sequence no longer above the watermark
	assert.Error(t, v.Verify(o))

	// Lower sequences are rejected too
	low, err := Sign("relayer-1", 4, 2000, json.RawMessage(`{}`), priv)
	require.NoError(t, err)
	assert.Error(t, v.Verify(low))

	// The next sequence passes
	next, err := Sign("relayer-1", 6, 2000, json.RawMessage(`{}`), priv)
	require.NoError(t, err)
	assert.NoError(t, v.Verify(next))
}

func TestVerifyTamperedPayload(t *testing.T) {
	now := int64(1000)
	v := newTestVerifier(&now)

	pub, priv := testKeyPair(t, "signer-key-1")
	require.NoError(t, v.RegisterSigner("relayer-1", pub))

	o, err := Sign("relayer-1", 1, 2000, json.RawMessage(`{"amount":100}`), priv)
	require.NoError(t, err)

	o.Payload = json.RawMessage(`{"amount":100000}`)
	assert.Error(t, v.Verify(o))

	// A failed verification must not burn the sequence
	fresh, err := Sign("relayer-1", 1, 2000, json.RawMessage(`{"amount":100}`), priv)
	require.NoError(t, err)
	assert.NoError(t, v.Verify(fresh))
}

func TestVerifyWrongKey(t *testing.T) {
	now := int64(1000)
	v := newTestVerifier(&now)

	pub, _ := testKeyPair(t, "signer-key-1")
	_, otherPriv := testKeyPair(t, "signer-key-2")
	require.NoError(t, v.RegisterSigner("relayer-1", pub))

	o, err := Sign("relayer-1", 1, 2000, json.RawMessage(`{}`), otherPriv)
	require.NoError(t, err)

	assert.Error(t, v.Verify(o))
}

func TestRegisterSignerValidation(t *testing.T) {
	v := NewVerifier(nil)
	pub, _ := testKeyPair(t, "signer-key-1")

	assert.Error(t, v.RegisterSigner("", pub))
	assert.Error(t, v.RegisterSigner("relayer-1", nil))
}
