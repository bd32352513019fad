// core/pool/dualpool_test.go

package pool

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veris-labs/go-kam/core/kamerr"
)

func newTestAccounting(t *testing.T) *Accounting {
	a := NewAccounting()
	require.NoError(t, a.RegisterVault("vault-1"))
	return a
}

func priceOf(t *testing.T, a *Accounting, vault string) *big.Int {
	p, err := a.SharePrice(vault)
	require.NoError(t, err)
	return p
}

func TestRegisterVault(t *testing.T) {
	a := newTestAccounting(t)

	assert.Equal(t, big.NewInt(PriceScale), priceOf(t, a, "vault-1"), "Genesis share price is 1.0")

	assert.Error(t, a.RegisterVault("vault-1"), "Double registration should fail")
	assert.ErrorIs(t, a.RegisterVault(""), kamerr.ErrZeroAddress)

	_, _, err := a.Totals("unknown")
	assert.ErrorIs(t, err, kamerr.ErrVaultNotFound)
}

func TestInstitutionalDepositWithdraw(t *testing.T) {
	a := newTestAccounting(t)

	require.NoError(t, a.InstitutionalDeposit("vault-1", 1000))
	institutional, user, err := a.Totals("vault-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), institutional)
	assert.Equal(t, int64(0), user)

	require.NoError(t, a.InstitutionalWithdraw("vault-1", 400))
	institutional, _, err = a.Totals("vault-1")
	require.NoError(t, err)
	assert.Equal(t, int64(600), institutional)

	err = a.InstitutionalWithdraw("vault-1", 601)
	assert.ErrorIs(t, err, kamerr.ErrInsufficientInstitutionalAssets)

	assert.ErrorIs(t, a.InstitutionalDeposit("vault-1", 0), kamerr.ErrZeroAmount)
}

func TestUserStakeSettleMovesBetweenPools(t *testing.T) {
	a := newTestAccounting(t)
	require.NoError(t, a.InstitutionalDeposit("vault-1", 1000))

	shares, err := a.UserStakeSettle("vault-1", 100, big.NewInt(PriceScale))
	require.NoError(t, err)
	assert.Equal(t, int64(100), shares, "At price 1.0 shares equal the staked amount")

	institutional, user, err := a.Totals("vault-1")
	require.NoError(t, err)
	assert.Equal(t, int64(900), institutional)
	assert.Equal(t, int64(100), user)
	assert.Equal(t, int64(1000), institutional+user, "Stake settlement preserves the pool sum")
}

func TestUserStakeSettleFloorsShares(t *testing.T) {
	a := newTestAccounting(t)
	require.NoError(t, a.InstitutionalDeposit("vault-1", 1000))

	// Price 1.2: 100 kTokens buy floor(100/1.2) = 83 shares
	price := big.NewInt(1_200_000_000_000_000_000)
	shares, err := a.UserStakeSettle("vault-1", 100, price)
	require.NoError(t, err)
	assert.Equal(t, int64(83), shares)
}

func TestUserStakeSettleExceedsInstitutional(t *testing.T) {
	a := newTestAccounting(t)
	require.NoError(t, a.InstitutionalDeposit("vault-1", 50))

	_, err := a.UserStakeSettle("vault-1", 100, big.NewInt(PriceScale))
	assert.ErrorIs(t, err, kamerr.ErrInsufficientInstitutionalAssets)
}

func TestUserUnstakeSettle(t *testing.T) {
	a := newTestAccounting(t)
	require.NoError(t, a.InstitutionalDeposit("vault-1", 1000))
	_, err := a.UserStakeSettle("vault-1", 100, big.NewInt(PriceScale))
	require.NoError(t, err)

	// Yield lifts the user pool to 120, price moves to 1.2
	require.NoError(t, a.ApplyYield("vault-1", 20, true))
	price := big.NewInt(1_200_000_000_000_000_000)

	out, err := a.UserUnstakeSettle("vault-1", 100, price)
	require.NoError(t, err)
	assert.Equal(t, int64(120), out, "100 shares at price 1.2 return 120 kTokens")

	institutional, user, err := a.Totals("vault-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), user)
	assert.Equal(t, int64(1020), institutional, "Returned kTokens rejoin the institutional bucket")
}

func TestUserUnstakeSettleInsufficientUserPool(t *testing.T) {
	a := newTestAccounting(t)
	require.NoError(t, a.InstitutionalDeposit("vault-1", 1000))
	_, err := a.UserStakeSettle("vault-1", 100, big.NewInt(PriceScale))
	require.NoError(t, err)

	// 200 shares at price 1.0 would owe 200 against a 100 user pool
	_, err = a.UserUnstakeSettle("vault-1", 200, big.NewInt(PriceScale))
	assert.ErrorIs(t, err, kamerr.ErrInsufficientBalance)
}

func TestApplyYieldProfitAndLoss(t *testing.T) {
	a := newTestAccounting(t)
	require.NoError(t, a.InstitutionalDeposit("vault-1", 1000))
	_, err := a.UserStakeSettle("vault-1", 100, big.NewInt(PriceScale))
	require.NoError(t, err)

	require.NoError(t, a.ApplyYield("vault-1", 35, true))
	institutional, user, err := a.Totals("vault-1")
	require.NoError(t, err)
	assert.Equal(t, int64(135), user)
	assert.Equal(t, int64(900), institutional, "Profit never touches the institutional pool")

	require.NoError(t, a.ApplyYield("vault-1", 35, false))
	institutional, user, err = a.Totals("vault-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), user)
	assert.Equal(t, int64(900), institutional, "Loss never touches the institutional pool")

	// Loss beyond the user pool hard-fails rather than dipping into
	// institutional assets
	err = a.ApplyYield("vault-1", 101, false)
	assert.ErrorIs(t, err, kamerr.ErrInsufficientBalance)
}

func TestSnapshotPrice(t *testing.T) {
	a := newTestAccounting(t)
	require.NoError(t, a.InstitutionalDeposit("vault-1", 1000))
	_, err := a.UserStakeSettle("vault-1", 100, big.NewInt(PriceScale))
	require.NoError(t, err)
	require.NoError(t, a.ApplyYield("vault-1", 20, true))

	// Price does not move until a snapshot is taken
	assert.Equal(t, big.NewInt(PriceScale), priceOf(t, a, "vault-1"))

	require.NoError(t, a.SnapshotPrice("vault-1", 100))
	assert.Equal(t, big.NewInt(1_200_000_000_000_000_000), priceOf(t, a, "vault-1"))

	// Zero share supply resets to the genesis price
	require.NoError(t, a.SnapshotPrice("vault-1", 0))
	assert.Equal(t, big.NewInt(PriceScale), priceOf(t, a, "vault-1"))
}

func TestSharePriceReturnsCopy(t *testing.T) {
	a := newTestAccounting(t)

	p := priceOf(t, a, "vault-1")
	p.SetInt64(7)

	assert.Equal(t, big.NewInt(PriceScale), priceOf(t, a, "vault-1"), "Mutating a returned price must not affect the snapshot")
}

func TestCheckInvariant(t *testing.T) {
	a := newTestAccounting(t)
	require.NoError(t, a.InstitutionalDeposit("vault-1", 1000))
	_, err := a.UserStakeSettle("vault-1", 100, big.NewInt(PriceScale))
	require.NoError(t, err)

	assert.NoError(t, a.CheckInvariant("vault-1", 1000))
	assert.Error(t, a.CheckInvariant("vault-1", 999))
	assert.Error(t, a.CheckInvariant("vault-1", 1001))
}
