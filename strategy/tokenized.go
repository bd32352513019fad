// strategy/tokenized.go

// Tokenized-vault style adapter (ERC-4626 shaped): deposits buy strategy
// shares at the strategy's current rate, withdrawals sell them back. Yield
// accrues by raising the rate, which inflates what TotalAssets reports for
// the same share count.

package strategy

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/veris-labs/go-kam/core/kamerr"
)

const rateScale = 1_000_000_000_000_000_000

// TokenizedVaultAdapter models a share-priced external vault
type TokenizedVaultAdapter struct {
	name    string
	enabled bool

	shares map[string]int64 // vault|asset -> strategy shares held
	rate   *big.Int         // assets per share, 1e18 scaled
	mu     sync.RWMutex
}

// NewTokenizedVaultAdapter creates an enabled adapter at a 1:1 rate
func NewTokenizedVaultAdapter(name string) *TokenizedVaultAdapter {
	return &TokenizedVaultAdapter{
		name:    name,
		enabled: true,
		shares:  make(map[string]int64),
		rate:    big.NewInt(rateScale),
	}
}

func (t *TokenizedVaultAdapter) Name() string { return t.name }

func (t *TokenizedVaultAdapter) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// SetEnabled toggles adapter participation
func (t *TokenizedVaultAdapter) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// SetRate updates the strategy's assets-per-share rate (1e18 scaled)
func (t *TokenizedVaultAdapter) SetRate(rate *big.Int) error {
	if rate == nil || rate.Sign() <= 0 {
		return fmt.Errorf("rate must be positive")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.rate = new(big.Int).Set(rate)
	return nil
}

// TotalAssets values held strategy shares at the current rate, flooring
func (t *TokenizedVaultAdapter) TotalAssets(vault, asset string) (int64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.enabled {
		return 0, fmt.Errorf("adapter %s: %w", t.name, kamerr.ErrAdapterNotEnabled)
	}

	held := t.shares[vault+"|"+asset]
	out := new(big.Int).Mul(big.NewInt(held), t.rate)
	out.Div(out, big.NewInt(rateScale))

	return out.Int64(), nil
}

// Deposit buys strategy shares at the current rate
func (t *TokenizedVaultAdapter) Deposit(vault, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit %d: %w", amount, kamerr.ErrZeroAmount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return fmt.Errorf("adapter %s: %w", t.name, kamerr.ErrAdapterNotEnabled)
	}

	bought := new(big.Int).Mul(big.NewInt(amount), big.NewInt(rateScale))
	bought.Div(bought, t.rate)

	t.shares[vault+"|"+asset] += bought.Int64()
	return nil
}

// Withdraw sells strategy shares to free amount of asset
func (t *TokenizedVaultAdapter) Withdraw(vault, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("withdraw %d: %w", amount, kamerr.ErrZeroAmount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return fmt.Errorf("adapter %s: %w", t.name, kamerr.ErrAdapterNotEnabled)
	}

	k := vault + "|" + asset
	held := new(big.Int).Mul(big.NewInt(t.shares[k]), t.rate)
	held.Div(held, big.NewInt(rateScale))

	if held.Int64() < amount {
		return fmt.Errorf("withdraw %d of %s (strategy holds %d): %w",
			amount, asset, held.Int64(), kamerr.ErrInsufficientBalance)
	}

	sold := new(big.Int).Mul(big.NewInt(amount), big.NewInt(rateScale))
	sold.Div(sold, t.rate)

	t.shares[k] -= sold.Int64()
	return nil
}
