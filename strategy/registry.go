// strategy/registry.go

// Per-vault adapter registry. Observed totals sum every enabled adapter;
// touching a disabled adapter is a hard failure, never silently skipped on
// the deposit/withdraw paths.

package strategy

import (
	"fmt"
	"sync"

	"github.com/veris-labs/go-kam/core/kamerr"
)

// Registry tracks which adapters serve which vault
type Registry struct {
	adapters map[string][]Adapter // vault -> adapters
	mu       sync.RWMutex
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string][]Adapter),
	}
}

// Register adds an adapter for a vault
func (r *Registry) Register(vault string, adapter Adapter) error {
	if vault == "" {
		return fmt.Errorf("vault: %w", kamerr.ErrZeroAddress)
	}
	if adapter == nil {
		return fmt.Errorf("adapter must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.adapters[vault] {
		if existing.Name() == adapter.Name() {
			return fmt.Errorf("adapter %s already registered for vault %s", adapter.Name(), vault)
		}
	}

	r.adapters[vault] = append(r.adapters[vault], adapter)
	return nil
}

// ObservedTotalAssets sums adapter-reported holdings for (vault, asset)
// across all enabled adapters
func (r *Registry) ObservedTotalAssets(vault, asset string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total int64
	for _, adapter := range r.adapters[vault] {
		if !adapter.Enabled() {
			continue
		}

		assets, err := adapter.TotalAssets(vault, asset)
		if err != nil {
			return 0, fmt.Errorf("adapter %s totalAssets: %v", adapter.Name(), err)
		}
		total += assets
	}

	return total, nil
}

// Deposit routes a deposit to a named adapter
func (r *Registry) Deposit(vault, name, asset string, amount int64) error {
	adapter, err := r.find(vault, name)
	if err != nil {
		return err
	}
	return adapter.Deposit(vault, asset, amount)
}

// Withdraw routes a withdrawal to a named adapter
func (r *Registry) Withdraw(vault, name, asset string, amount int64) error {
	adapter, err := r.find(vault, name)
	if err != nil {
		return err
	}
	return adapter.Withdraw(vault, asset, amount)
}

func (r *Registry) find(vault, name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, adapter := range r.adapters[vault] {
		if adapter.Name() != name {
			continue
		}
		if !adapter.Enabled() {
			return nil, fmt.Errorf("adapter %s for vault %s: %w", name, vault, kamerr.ErrAdapterNotEnabled)
		}
		return adapter, nil
	}

	return nil, fmt.Errorf("adapter %s not registered for vault %s", name, vault)
}
