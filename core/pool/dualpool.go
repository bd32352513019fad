// core/pool/dualpool.go

// Per-vault split between the institutional pool (fixed 1:1, no yield
// exposure) and the user pool (yield-bearing, share-priced)
// Institutions can never be under-collateralized by this component: only an
// explicit institutional withdrawal decreases institutional assets, and
// negative yield is always absorbed by the user pool
// Share price is read from the last settled snapshot, never live totals, so
// same-block balance inflation cannot move it

package pool

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/veris-labs/go-kam/core/kamerr"
)

// PriceScale is the fixed-point base for share prices (1.0 == 1e18)
const PriceScale = 1_000_000_000_000_000_000

// DualPool is the per-vault accounting split
type DualPool struct {
	InstitutionalAssets int64 `json:"institutional_assets"`
	UserAssets          int64 `json:"user_assets"`

	// snapshotPrice is the share price fixed at the last settlement.
	snapshotPrice *big.Int
}

// Accounting manages dual pools for all vaults
type Accounting struct {
	pools map[string]*DualPool
	mu    sync.RWMutex
}

// NewAccounting creates an empty dual-pool accounting store
func NewAccounting() *Accounting {
	return &Accounting{
		pools: make(map[string]*DualPool),
	}
}

// RegisterVault initializes a vault's dual pool at the genesis share price
func (a *Accounting) RegisterVault(vault string) error {
	if vault == "" {
		return fmt.Errorf("vault: %w", kamerr.ErrZeroAddress)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.pools[vault]; exists {
		return fmt.Errorf("vault %s already registered", vault)
	}

	a.pools[vault] = &DualPool{
		snapshotPrice: big.NewInt(PriceScale),
	}

	return nil
}

// InstitutionalDeposit credits the 1:1 institutional pool. No share issuance,
// no yield exposure.
func (a *Accounting) InstitutionalDeposit(vault string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("institutional deposit %d: %w", amount, kamerr.ErrZeroAmount)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	p, err := a.pool(vault)
	if err != nil {
		return err
	}

	p.InstitutionalAssets += amount
	return nil
}

// InstitutionalWithdraw debits the institutional pool
func (a *Accounting) InstitutionalWithdraw(vault string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("institutional withdraw %d: %w", amount, kamerr.ErrZeroAmount)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	p, err := a.pool(vault)
	if err != nil {
		return err
	}

	if p.InstitutionalAssets < amount {
		return fmt.Errorf("withdraw %d from vault %s (institutional %d): %w",
			amount, vault, p.InstitutionalAssets, kamerr.ErrInsufficientInstitutionalAssets)
	}

	p.InstitutionalAssets -= amount
	return nil
}

// UserStakeSettle converts a settled stake into shares at the settlement
// price. The staked kTokens are 1:1 claims until this moment, so the amount
// moves from the institutional bucket into the user bucket; the pool sum is
// unchanged. Floor division only; dust stays in the pool, never minted as
// value.
func (a *Accounting) UserStakeSettle(vault string, kTokenAmount int64, priceAtSettlement *big.Int) (int64, error) {
	if kTokenAmount <= 0 {
		return 0, fmt.Errorf("stake settle %d: %w", kTokenAmount, kamerr.ErrZeroAmount)
	}
	if priceAtSettlement == nil || priceAtSettlement.Sign() <= 0 {
		return 0, fmt.Errorf("stake settle: share price must be positive")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	p, err := a.pool(vault)
	if err != nil {
		return 0, err
	}

	if p.InstitutionalAssets < kTokenAmount {
		return 0, fmt.Errorf("stake %d into vault %s (institutional %d): %w",
			kTokenAmount, vault, p.InstitutionalAssets, kamerr.ErrInsufficientInstitutionalAssets)
	}

	shares := mulDiv(kTokenAmount, PriceScale, priceAtSettlement)
	p.InstitutionalAssets -= kTokenAmount
	p.UserAssets += kTokenAmount

	return shares, nil
}

// UserUnstakeSettle converts settled shares back into kTokens at the
// settlement price. The returned kTokens become plain 1:1 claims again, so
// the amount moves back into the institutional bucket.
func (a *Accounting) UserUnstakeSettle(vault string, shares int64, priceAtSettlement *big.Int) (int64, error) {
	if shares <= 0 {
		return 0, fmt.Errorf("unstake settle %d: %w", shares, kamerr.ErrZeroAmount)
	}
	if priceAtSettlement == nil || priceAtSettlement.Sign() <= 0 {
		return 0, fmt.Errorf("unstake settle: share price must be positive")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	p, err := a.pool(vault)
	if err != nil {
		return 0, err
	}

	kTokens := new(big.Int).Mul(big.NewInt(shares), priceAtSettlement)
	kTokens.Div(kTokens, big.NewInt(PriceScale))
	out := kTokens.Int64()

	if p.UserAssets < out {
		return 0, fmt.Errorf("unstake %d shares from vault %s (user pool %d, owed %d): %w",
			shares, vault, p.UserAssets, out, kamerr.ErrInsufficientBalance)
	}

	p.UserAssets -= out
	p.InstitutionalAssets += out
	return out, nil
}

// ApplyYield adjusts the user pool by a settled yield delta. Loss is never
// taken from the institutional pool.
func (a *Accounting) ApplyYield(vault string, amount int64, profit bool) error {
	if amount < 0 {
		return fmt.Errorf("yield %d: %w", amount, kamerr.ErrZeroAmount)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	p, err := a.pool(vault)
	if err != nil {
		return err
	}

	if profit {
		p.UserAssets += amount
		return nil
	}

	if p.UserAssets < amount {
		return fmt.Errorf("loss %d exceeds vault %s user pool %d: %w",
			amount, vault, p.UserAssets, kamerr.ErrInsufficientBalance)
	}
	p.UserAssets -= amount

	return nil
}

// SharePrice returns the price fixed at the last settlement, 1e18 scaled
func (a *Accounting) SharePrice(vault string) (*big.Int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	p, err := a.pool(vault)
	if err != nil {
		return nil, err
	}

	return new(big.Int).Set(p.snapshotPrice), nil
}

// SnapshotPrice recomputes and fixes the share price from the current user
// pool and the given share supply. Called only inside settlement execution.
func (a *Accounting) SnapshotPrice(vault string, shareSupply int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, err := a.pool(vault)
	if err != nil {
		return err
	}

	if shareSupply <= 0 {
		p.snapshotPrice = big.NewInt(PriceScale)
		return nil
	}

	price := new(big.Int).Mul(big.NewInt(p.UserAssets), big.NewInt(PriceScale))
	price.Div(price, big.NewInt(shareSupply))
	p.snapshotPrice = price

	return nil
}

// Totals returns the vault's pool balances
func (a *Accounting) Totals(vault string) (institutional, user int64, err error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	p, err := a.pool(vault)
	if err != nil {
		return 0, 0, err
	}

	return p.InstitutionalAssets, p.UserAssets, nil
}

// CheckInvariant asserts institutional + user == observed vault totals.
// Any drift indicates a bug and must hard-fail.
func (a *Accounting) CheckInvariant(vault string, observedTotalAssets int64) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	p, err := a.pool(vault)
	if err != nil {
		return err
	}

	if p.InstitutionalAssets+p.UserAssets != observedTotalAssets {
		return fmt.Errorf("vault %s pool invariant violated: institutional %d + user %d != observed %d",
			vault, p.InstitutionalAssets, p.UserAssets, observedTotalAssets)
	}

	return nil
}

// pool returns the mutable pool entry. Caller holds a lock.
func (a *Accounting) pool(vault string) (*DualPool, error) {
	p, exists := a.pools[vault]
	if !exists {
		return nil, fmt.Errorf("vault %s: %w", vault, kamerr.ErrVaultNotFound)
	}
	return p, nil
}

// mulDiv computes amount * scale / price with big.Int intermediates,
// flooring the result.
func mulDiv(amount, scale int64, price *big.Int) int64 {
	out := new(big.Int).Mul(big.NewInt(amount), big.NewInt(scale))
	out.Div(out, price)
	return out.Int64()
}
