// core/virtual/ledger.go

// Router-level accounting of what each vault conceptually holds per asset,
// decoupled from physical custody
// Push records assets that physically arrived and are assigned to a vault's
// pending batch; RequestPull stages assets the vault intends to release at
// settlement without moving anything yet
// Transfer relabels conceptual balance between vaults; physical custody is
// tracked separately by strategy adapters

package virtual

import (
	"fmt"
	"sync"

	"github.com/veris-labs/go-kam/core/kamerr"
)

// Flow is the accumulated in/out within one batch window
type Flow struct {
	Deposited int64 `json:"deposited"`
	Requested int64 `json:"requested"`
}

// AssetReporter reports adapter-held totals for a (vault, asset) pair.
// Implemented by the strategy registry.
type AssetReporter interface {
	ObservedTotalAssets(vault, asset string) (int64, error)
}

// Ledger tracks per (vault, asset, batch) virtual flows plus the running
// conceptual balance per (vault, asset).
type Ledger struct {
	flows      map[string]map[uint64]*Flow // vault|asset -> batchID -> flow
	conceptual map[string]int64            // vault|asset -> running conceptual balance
	reporter   AssetReporter
	mu         sync.RWMutex
}

// NewLedger creates a virtual balance ledger. The reporter may be nil until
// adapters are registered; Balance fails without one.
func NewLedger(reporter AssetReporter) *Ledger {
	return &Ledger{
		flows:      make(map[string]map[uint64]*Flow),
		conceptual: make(map[string]int64),
		reporter:   reporter,
	}
}

// SetReporter wires the strategy registry after construction
func (l *Ledger) SetReporter(reporter AssetReporter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reporter = reporter
}

// Push increments the deposited flow for (vault, asset, batch)
func (l *Ledger) Push(vault, asset string, amount int64, batchID uint64) error {
	if err := validate(vault, asset, amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.flow(vault, asset, batchID).Deposited += amount
	l.conceptual[key(vault, asset)] += amount

	return nil
}

// RequestPull stages an outgoing amount for settlement. No assets move until
// the batch settles.
func (l *Ledger) RequestPull(vault, asset string, amount int64, batchID uint64) error {
	if err := validate(vault, asset, amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.flow(vault, asset, batchID).Requested += amount

	return nil
}

// CancelPull unwinds a staged pull after its request was cancelled. Only
// meaningful while the owning batch is still open; the request queue gates
// that window.
func (l *Ledger) CancelPull(vault, asset string, amount int64, batchID uint64) error {
	if err := validate(vault, asset, amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f := l.flow(vault, asset, batchID)
	if f.Requested < amount {
		return fmt.Errorf("cancel pull %d of %s for vault %s batch %d (staged %d): %w",
			amount, asset, vault, batchID, f.Requested, kamerr.ErrInsufficientVirtualBalance)
	}

	f.Requested -= amount
	return nil
}

// Transfer relabels conceptual balance from one vault to another. Purely an
// accounting move; fails when the source lacks conceptual balance.
func (l *Ledger) Transfer(sourceVault, targetVault, asset string, amount int64) error {
	if err := validate(sourceVault, asset, amount); err != nil {
		return err
	}
	if targetVault == "" {
		return fmt.Errorf("target vault: %w", kamerr.ErrZeroAddress)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	srcKey := key(sourceVault, asset)
	if l.conceptual[srcKey] < amount {
		return fmt.Errorf("transfer %d of %s from %s (conceptual %d): %w",
			amount, asset, sourceVault, l.conceptual[srcKey], kamerr.ErrInsufficientVirtualBalance)
	}

	l.conceptual[srcKey] -= amount
	l.conceptual[key(targetVault, asset)] += amount

	return nil
}

// ApplySettlement folds a batch's flows into the running conceptual balance:
// requested amounts become confirmed outflows. Called by settlement execution.
func (l *Ledger) ApplySettlement(vault, asset string, batchID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f := l.flow(vault, asset, batchID)
	k := key(vault, asset)

	if l.conceptual[k] < f.Requested {
		return fmt.Errorf("settle vault %s asset %s batch %d: requested %d exceeds conceptual %d: %w",
			vault, asset, batchID, f.Requested, l.conceptual[k], kamerr.ErrInsufficientVirtualBalance)
	}

	l.conceptual[k] -= f.Requested

	return nil
}

// NetFlow returns the accumulated flow for (vault, asset, batch)
func (l *Ledger) NetFlow(vault, asset string, batchID uint64) Flow {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if flows, ok := l.flows[key(vault, asset)]; ok {
		if f, ok := flows[batchID]; ok {
			return *f
		}
	}
	return Flow{}
}

// Conceptual returns the running conceptual balance for (vault, asset)
func (l *Ledger) Conceptual(vault, asset string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.conceptual[key(vault, asset)]
}

// Balance reconciles virtual accounting against adapter-reported reality:
// the sum of holdings every registered adapter reports for (vault, asset).
func (l *Ledger) Balance(vault, asset string) (int64, error) {
	l.mu.RLock()
	reporter := l.reporter
	l.mu.RUnlock()

	if reporter == nil {
		return 0, fmt.Errorf("vault %s asset %s: no asset reporter wired", vault, asset)
	}

	return reporter.ObservedTotalAssets(vault, asset)
}

// flow returns the mutable flow entry, creating it if needed. Caller holds
// the write lock.
func (l *Ledger) flow(vault, asset string, batchID uint64) *Flow {
	k := key(vault, asset)
	if l.flows[k] == nil {
		l.flows[k] = make(map[uint64]*Flow)
	}
	f, ok := l.flows[k][batchID]
	if !ok {
		f = &Flow{}
		l.flows[k][batchID] = f
	}
	return f
}

func key(vault, asset string) string {
	return vault + "|" + asset
}

func validate(vault, asset string, amount int64) error {
	if vault == "" || asset == "" {
		return fmt.Errorf("vault/asset: %w", kamerr.ErrZeroAddress)
	}
	if amount <= 0 {
		return fmt.Errorf("amount %d: %w", amount, kamerr.ErrZeroAmount)
	}
	return nil
}
