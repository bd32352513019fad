// core/batch/lifecycle.go

// Per-vault batch lifecycle state machine: Open -> Closed -> Settled
// Batch ids are monotonically increasing per vault and never reused
// Every vault has exactly one non-settled "current" batch at a time
// Closing a batch optionally rolls the vault over to a fresh open batch so
// new requests keep queuing without a gap

package batch

import (
	"fmt"
	"sync"
	"time"

	"github.com/veris-labs/go-kam/core/kamerr"
)

// State is the lifecycle state of a batch
type State int

const (
	Open State = iota
	Closed
	Settled
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Settled:
		return "settled"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Batch is a time-windowed grouping of requests settled together
type Batch struct {
	ID        uint64 `json:"id"`
	Vault     string `json:"vault"`
	State     State  `json:"state"`
	OpenedAt  int64  `json:"opened_at"`
	ClosedAt  int64  `json:"closed_at,omitempty"`
	SettledAt int64  `json:"settled_at,omitempty"`

	// Receiver is the per-batch handle settled assets are distributed
	// through. Assigned at close time; one receiver per batch so a bug in
	// one batch's distribution cannot leak into another's.
	Receiver string `json:"receiver,omitempty"`
}

// Tracker manages batch lifecycles for all vaults
type Tracker struct {
	batches map[string]map[uint64]*Batch // vault -> id -> batch
	current map[string]uint64            // vault -> current batch id
	nextID  map[string]uint64            // vault -> next id to allocate
	clock   func() int64
	mu      sync.RWMutex
}

// NewTracker creates a batch tracker. A nil clock defaults to wall time.
func NewTracker(clock func() int64) *Tracker {
	if clock == nil {
		clock = func() int64 { return time.Now().Unix() }
	}
	return &Tracker{
		batches: make(map[string]map[uint64]*Batch),
		current: make(map[string]uint64),
		nextID:  make(map[string]uint64),
		clock:   clock,
	}
}

// InitVault opens the genesis batch for a vault
func (t *Tracker) InitVault(vault string) (uint64, error) {
	if vault == "" {
		return 0, fmt.Errorf("vault: %w", kamerr.ErrZeroAddress)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.batches[vault]; exists {
		return 0, fmt.Errorf("vault %s already initialized", vault)
	}

	t.batches[vault] = make(map[uint64]*Batch)
	return t.openNext(vault), nil
}

// openNext allocates the next batch id in Open state. Caller holds the lock.
func (t *Tracker) openNext(vault string) uint64 {
	id := t.nextID[vault] + 1
	t.nextID[vault] = id

	t.batches[vault][id] = &Batch{
		ID:       id,
		Vault:    vault,
		State:    Open,
		OpenedAt: t.clock(),
	}
	t.current[vault] = id

	return id
}

// CurrentBatchID returns the id of the vault's non-settled current batch
func (t *Tracker) CurrentBatchID(vault string) (uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, exists := t.current[vault]
	if !exists {
		return 0, fmt.Errorf("vault %s: %w", vault, kamerr.ErrVaultNotFound)
	}

	return id, nil
}

// Get returns a copy of the batch
func (t *Tracker) Get(vault string, id uint64) (*Batch, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.getLocked(vault, id)
}

func (t *Tracker) getLocked(vault string, id uint64) (*Batch, error) {
	vaultBatches, exists := t.batches[vault]
	if !exists {
		return nil, fmt.Errorf("vault %s: %w", vault, kamerr.ErrVaultNotFound)
	}

	b, exists := vaultBatches[id]
	if !exists {
		return nil, fmt.Errorf("vault %s batch %d not found", vault, id)
	}

	copy := *b
	return &copy, nil
}

// StateOf returns the lifecycle state of a batch
func (t *Tracker) StateOf(vault string, id uint64) (State, error) {
	b, err := t.Get(vault, id)
	if err != nil {
		return 0, err
	}
	return b.State, nil
}

// CloseBatch transitions an open batch to Closed and assigns its receiver
// handle. If createNext, the next batch is opened atomically so enqueues
// continue without a gap. Fails if the batch is not Open.
func (t *Tracker) CloseBatch(vault string, id uint64, createNext bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	vaultBatches, exists := t.batches[vault]
	if !exists {
		return fmt.Errorf("vault %s: %w", vault, kamerr.ErrVaultNotFound)
	}

	b, exists := vaultBatches[id]
	if !exists {
		return fmt.Errorf("vault %s batch %d not found", vault, id)
	}

	switch b.State {
	case Closed:
		return fmt.Errorf("vault %s batch %d: %w", vault, id, kamerr.ErrBatchClosed)
	case Settled:
		return fmt.Errorf("vault %s batch %d: %w", vault, id, kamerr.ErrBatchAlreadySettled)
	}

	b.State = Closed
	b.ClosedAt = t.clock()
	b.Receiver = fmt.Sprintf("receiver:%s:%d", vault, id)

	if createNext {
		t.openNext(vault)
	}

	return nil
}

// MarkSettled transitions a closed batch to Settled. Invoked only by
// settlement execution; re-invocation on a settled batch fails.
func (t *Tracker) MarkSettled(vault string, id uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	vaultBatches, exists := t.batches[vault]
	if !exists {
		return fmt.Errorf("vault %s: %w", vault, kamerr.ErrVaultNotFound)
	}

	b, exists := vaultBatches[id]
	if !exists {
		return fmt.Errorf("vault %s batch %d not found", vault, id)
	}

	switch b.State {
	case Open:
		return fmt.Errorf("vault %s batch %d must be closed before settling", vault, id)
	case Settled:
		return fmt.Errorf("vault %s batch %d: %w", vault, id, kamerr.ErrBatchAlreadySettled)
	}

	b.State = Settled
	b.SettledAt = t.clock()

	return nil
}

// Vaults returns the ids of all initialized vaults
func (t *Tracker) Vaults() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	vaults := make([]string, 0, len(t.batches))
	for vault := range t.batches {
		vaults = append(vaults, vault)
	}
	return vaults
}
