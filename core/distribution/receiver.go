// core/distribution/receiver.go

// Per-batch distribution boundary. Each batch gets its own receiver bucket so
// a bug in one batch's distribution cannot leak into another's. Release is
// only honored once the owning batch has settled.

package distribution

import (
	"fmt"
	"sync"

	"github.com/veris-labs/go-kam/core/batch"
	"github.com/veris-labs/go-kam/core/kamerr"
)

// Receiver is the distribution boundary consumed by claim paths
type Receiver interface {
	HoldsAssets(vault string, batchID uint64, asset string) int64
	Release(vault string, batchID uint64, asset, recipient string, amount int64) error
}

// BatchStates is the view of batch lifecycle the receiver needs
type BatchStates interface {
	StateOf(vault string, id uint64) (batch.State, error)
}

// SettledTransfer moves released assets on the underlying ledger
type SettledTransfer func(asset, recipient string, amount int64) error

// PerBatchReceiver is an in-memory implementation of the distribution
// boundary, funded at settlement time and drained by claims.
type PerBatchReceiver struct {
	batches  BatchStates
	transfer SettledTransfer

	holdings map[string]int64 // vault|batchID|asset -> amount
	mu       sync.Mutex
}

// NewPerBatchReceiver creates a receiver over the given batch tracker
func NewPerBatchReceiver(batches BatchStates, transfer SettledTransfer) *PerBatchReceiver {
	return &PerBatchReceiver{
		batches:  batches,
		transfer: transfer,
		holdings: make(map[string]int64),
	}
}

// Fund assigns settled assets to a batch's bucket. Called by settlement
// execution, not by claimants.
func (r *PerBatchReceiver) Fund(vault string, batchID uint64, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("fund %d: %w", amount, kamerr.ErrZeroAmount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.holdings[key(vault, batchID, asset)] += amount
	return nil
}

// HoldsAssets returns the amount a batch's bucket still holds
func (r *PerBatchReceiver) HoldsAssets(vault string, batchID uint64, asset string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.holdings[key(vault, batchID, asset)]
}

// Release pays out from a settled batch's bucket
func (r *PerBatchReceiver) Release(vault string, batchID uint64, asset, recipient string, amount int64) error {
	if recipient == "" {
		return fmt.Errorf("release recipient: %w", kamerr.ErrZeroAddress)
	}
	if amount <= 0 {
		return fmt.Errorf("release %d: %w", amount, kamerr.ErrZeroAmount)
	}

	state, err := r.batches.StateOf(vault, batchID)
	if err != nil {
		return err
	}
	if state != batch.Settled {
		return fmt.Errorf("vault %s batch %d is %s, release requires settled batch", vault, batchID, state)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(vault, batchID, asset)
	if r.holdings[k] < amount {
		return fmt.Errorf("release %d of %s from vault %s batch %d (held %d): %w",
			amount, asset, vault, batchID, r.holdings[k], kamerr.ErrInsufficientBalance)
	}

	if r.transfer != nil {
		if err := r.transfer(asset, recipient, amount); err != nil {
			return fmt.Errorf("release transfer failed: %w", err)
		}
	}

	r.holdings[k] -= amount
	return nil
}

func key(vault string, batchID uint64, asset string) string {
	return fmt.Sprintf("%s|%d|%s", vault, batchID, asset)
}
