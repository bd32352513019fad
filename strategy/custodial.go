// strategy/custodial.go

// Custodial-wallet style adapter: assets sit with an off-protocol custodian
// and the adapter mirrors reported balances. Yield shows up as drift between
// deposited principal and the custodian-reported figure, which operators feed
// back via SetReported.

package strategy

import (
	"fmt"
	"sync"

	"github.com/veris-labs/go-kam/core/kamerr"
)

// CustodialAdapter tracks principal handed to a custodian plus the
// custodian-reported totals
type CustodialAdapter struct {
	name    string
	enabled bool

	reported map[string]int64 // vault|asset -> custodian-reported total
	mu       sync.RWMutex
}

// NewCustodialAdapter creates an enabled custodial adapter
func NewCustodialAdapter(name string) *CustodialAdapter {
	return &CustodialAdapter{
		name:     name,
		enabled:  true,
		reported: make(map[string]int64),
	}
}

func (c *CustodialAdapter) Name() string { return c.name }

func (c *CustodialAdapter) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetEnabled toggles adapter participation
func (c *CustodialAdapter) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// TotalAssets returns the custodian-reported total for (vault, asset)
func (c *CustodialAdapter) TotalAssets(vault, asset string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.enabled {
		return 0, fmt.Errorf("adapter %s: %w", c.name, kamerr.ErrAdapterNotEnabled)
	}

	return c.reported[vault+"|"+asset], nil
}

// Deposit hands principal to the custodian
func (c *CustodialAdapter) Deposit(vault, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit %d: %w", amount, kamerr.ErrZeroAmount)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return fmt.Errorf("adapter %s: %w", c.name, kamerr.ErrAdapterNotEnabled)
	}

	c.reported[vault+"|"+asset] += amount
	return nil
}

// Withdraw pulls assets back from the custodian
func (c *CustodialAdapter) Withdraw(vault, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("withdraw %d: %w", amount, kamerr.ErrZeroAmount)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return fmt.Errorf("adapter %s: %w", c.name, kamerr.ErrAdapterNotEnabled)
	}

	k := vault + "|" + asset
	if c.reported[k] < amount {
		return fmt.Errorf("withdraw %d of %s (custodian holds %d): %w",
			amount, asset, c.reported[k], kamerr.ErrInsufficientBalance)
	}

	c.reported[k] -= amount
	return nil
}

// SetReported overrides the custodian-reported total for (vault, asset).
// Operators use this to reflect observed strategy performance.
func (c *CustodialAdapter) SetReported(vault, asset string, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reported[vault+"|"+asset] = total
}
