// core/orders/orders.go

// Externally-authenticated relayer commands: a signed envelope with a
// monotonic per-signer sequence number and an expiry timestamp
// Verification happens at the boundary, before the command reaches the
// settlement engine; replayed or stale envelopes are rejected here

package orders

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
)

// Order is a signed command envelope
type Order struct {
	Signer    string          `json:"signer"`
	Sequence  uint64          `json:"sequence"`
	ExpiresAt int64           `json:"expires_at"`
	Payload   json.RawMessage `json:"payload"`
	Signature []byte          `json:"signature"`
}

// SigningBytes returns the canonical byte string covered by the signature
func (o *Order) SigningBytes() []byte {
	return []byte(fmt.Sprintf("%s|%d|%d|%s", o.Signer, o.Sequence, o.ExpiresAt, o.Payload))
}

// Verifier checks order envelopes against registered signer keys
type Verifier struct {
	keys      map[string]*mldsa44.PublicKey
	sequences map[string]uint64 // signer -> last accepted sequence
	clock     func() int64
	mu        sync.Mutex
}

// NewVerifier creates a verifier. A nil clock defaults to wall time.
func NewVerifier(clock func() int64) *Verifier {
	if clock == nil {
		clock = func() int64 { return time.Now().Unix() }
	}
	return &Verifier{
		keys:      make(map[string]*mldsa44.PublicKey),
		sequences: make(map[string]uint64),
		clock:     clock,
	}
}

// RegisterSigner associates a public key with a signer id
func (v *Verifier) RegisterSigner(signer string, key *mldsa44.PublicKey) error {
	if signer == "" || key == nil {
		return fmt.Errorf("signer and key are required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.keys[signer] = key
	return nil
}

// Verify checks signature, expiry and sequence, and advances the signer's
// sequence on success. A failed verification leaves the sequence untouched.
func (v *Verifier) Verify(o *Order) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	key, exists := v.keys[o.Signer]
	if !exists {
		return fmt.Errorf("unknown signer %s", o.Signer)
	}

	if o.ExpiresAt <= v.clock() {
		return fmt.Errorf("order from %s expired at %d", o.Signer, o.ExpiresAt)
	}

	if o.Sequence <= v.sequences[o.Signer] {
		return fmt.Errorf("order sequence %d from %s not above last accepted %d",
			o.Sequence, o.Signer, v.sequences[o.Signer])
	}

	if !mldsa44.Verify(key, o.SigningBytes(), nil, o.Signature) {
		return fmt.Errorf("invalid signature on order from %s", o.Signer)
	}

	v.sequences[o.Signer] = o.Sequence
	return nil
}

// Sign produces a signed envelope; used by relayer tooling and tests
func Sign(signer string, sequence uint64, expiresAt int64, payload json.RawMessage, key *mldsa44.PrivateKey) (*Order, error) {
	o := &Order{
		Signer:    signer,
		Sequence:  sequence,
		ExpiresAt: expiresAt,
		Payload:   payload,
	}

	sig := make([]byte, mldsa44.SignatureSize)
	if err := mldsa44.SignTo(key, o.SigningBytes(), nil, false, sig); err != nil {
		return nil, fmt.Errorf("sign order: %v", err)
	}

	o.Signature = sig
	return o, nil
}
