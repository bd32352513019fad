// core/ledger/ledger.go

// Opaque fungible-balance store per (asset, holder)
// Tracks total supply per asset; mint/burn/transfer are the only mutations
// Serializes all mutations per ledger instance so supply arithmetic never races
// Escrow accounts give vaults a place to park kTokens between request and settlement

package ledger

import (
	"fmt"
	"sync"

	"github.com/veris-labs/go-kam/core/kamerr"
)

// Asset describes a registered collateral type and its 1:1 synthetic token.
type Asset struct {
	ID           string `json:"id"`
	KTokenSymbol string `json:"ktoken_symbol"`
	Decimals     uint8  `json:"decimals"`
}

// Ledger is an in-memory fungible-balance store keyed by (asset, holder).
type Ledger struct {
	assets   map[string]*Asset
	balances map[string]map[string]int64 // asset -> holder -> balance
	supply   map[string]int64            // asset -> total supply
	mu       sync.RWMutex
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{
		assets:   make(map[string]*Asset),
		balances: make(map[string]map[string]int64),
		supply:   make(map[string]int64),
	}
}

// RegisterAsset registers a collateral asset and its synthetic token symbol.
// Registration is immutable; re-registering an existing asset fails.
func (l *Ledger) RegisterAsset(assetID, kTokenSymbol string, decimals uint8) error {
	if assetID == "" || kTokenSymbol == "" {
		return fmt.Errorf("asset registration: %w", kamerr.ErrZeroAddress)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.assets[assetID]; exists {
		return fmt.Errorf("asset %s already registered", assetID)
	}

	l.assets[assetID] = &Asset{
		ID:           assetID,
		KTokenSymbol: kTokenSymbol,
		Decimals:     decimals,
	}
	l.balances[assetID] = make(map[string]int64)

	return nil
}

// Asset returns the registered asset descriptor
func (l *Ledger) Asset(assetID string) (*Asset, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	asset, exists := l.assets[assetID]
	if !exists {
		return nil, fmt.Errorf("asset %s: %w", assetID, kamerr.ErrAssetNotRegistered)
	}

	copy := *asset
	return &copy, nil
}

// Mint creates amount units of asset for holder to
func (l *Ledger) Mint(assetID, to string, amount int64) error {
	if err := validateMove(to, amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	holders, exists := l.balances[assetID]
	if !exists {
		return fmt.Errorf("mint %s: %w", assetID, kamerr.ErrAssetNotRegistered)
	}

	holders[to] += amount
	l.supply[assetID] += amount

	return nil
}

// Burn destroys amount units of asset held by from
func (l *Ledger) Burn(assetID, from string, amount int64) error {
	if err := validateMove(from, amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	holders, exists := l.balances[assetID]
	if !exists {
		return fmt.Errorf("burn %s: %w", assetID, kamerr.ErrAssetNotRegistered)
	}

	if holders[from] < amount {
		return fmt.Errorf("burn %d of %s from %s (balance %d): %w",
			amount, assetID, from, holders[from], kamerr.ErrInsufficientBalance)
	}

	holders[from] -= amount
	l.supply[assetID] -= amount

	return nil
}

// Transfer moves amount units of asset between holders
func (l *Ledger) Transfer(assetID, from, to string, amount int64) error {
	if err := validateMove(from, amount); err != nil {
		return err
	}
	if to == "" {
		return fmt.Errorf("transfer recipient: %w", kamerr.ErrZeroAddress)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	holders, exists := l.balances[assetID]
	if !exists {
		return fmt.Errorf("transfer %s: %w", assetID, kamerr.ErrAssetNotRegistered)
	}

	if holders[from] < amount {
		return fmt.Errorf("transfer %d of %s from %s (balance %d): %w",
			amount, assetID, from, holders[from], kamerr.ErrInsufficientBalance)
	}

	holders[from] -= amount
	holders[to] += amount

	return nil
}

// BalanceOf returns holder's balance of asset. Unregistered assets and
// unknown holders both report zero.
func (l *Ledger) BalanceOf(assetID, holder string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.balances[assetID][holder]
}

// TotalSupply returns the total minted supply of asset
func (l *Ledger) TotalSupply(assetID string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.supply[assetID]
}

// EscrowAccount returns the internal holder id used to escrow tokens for a
// vault between request creation and settlement.
func EscrowAccount(vault string) string {
	return "escrow:" + vault
}

// UserPoolAccount returns the internal holder id for a vault's yield-bearing
// user pool. Settlement yield is minted to and burned from this account only.
func UserPoolAccount(vault string) string {
	return "userpool:" + vault
}

func validateMove(holder string, amount int64) error {
	if holder == "" {
		return fmt.Errorf("holder: %w", kamerr.ErrZeroAddress)
	}
	if amount <= 0 {
		return fmt.Errorf("amount %d: %w", amount, kamerr.ErrZeroAmount)
	}
	return nil
}
