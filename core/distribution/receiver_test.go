// core/distribution/receiver_test.go

package distribution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veris-labs/go-kam/core/batch"
	"github.com/veris-labs/go-kam/core/kamerr"
)

func settledBatch(t *testing.T) *batch.Tracker {
	tr := batch.NewTracker(nil)
	_, err := tr.InitVault("vault-1")
	require.NoError(t, err)
	require.NoError(t, tr.CloseBatch("vault-1", 1, true))
	require.NoError(t, tr.MarkSettled("vault-1", 1))
	return tr
}

func TestFundAndRelease(t *testing.T) {
	tr := settledBatch(t)

	var transferred int64
	r := NewPerBatchReceiver(tr, func(asset, recipient string, amount int64) error {
		transferred += amount
		return nil
	})

	require.NoError(t, r.Fund("vault-1", 1, "kUSD", 500))
	assert.Equal(t, int64(500), r.HoldsAssets("vault-1", 1, "kUSD"))

	require.NoError(t, r.Release("vault-1", 1, "kUSD", "inst", 300))
	assert.Equal(t, int64(200), r.HoldsAssets("vault-1", 1, "kUSD"))
	assert.Equal(t, int64(300), transferred)

	// Over-release fails
	err := r.Release("vault-1", 1, "kUSD", "inst", 201)
	assert.ErrorIs(t, err, kamerr.ErrInsufficientBalance)
}

func TestReleaseRequiresSettledBatch(t *testing.T) {
	tr := batch.NewTracker(nil)
	_, err := tr.InitVault("vault-1")
	require.NoError(t, err)

	r := NewPerBatchReceiver(tr, nil)
	require.NoError(t, r.Fund("vault-1", 1, "kUSD", 100))

	assert.Error(t, r.Release("vault-1", 1, "kUSD", "inst", 100), "Open batch cannot release")

	require.NoError(t, tr.CloseBatch("vault-1", 1, true))
	assert.Error(t, r.Release("vault-1", 1, "kUSD", "inst", 100), "Closed batch cannot release")

	require.NoError(t, tr.MarkSettled("vault-1", 1))
	assert.NoError(t, r.Release("vault-1", 1, "kUSD", "inst", 100))
}

func TestBucketsIsolatedPerBatch(t *testing.T) {
	tr := settledBatch(t)
	r := NewPerBatchReceiver(tr, nil)

	require.NoError(t, r.Fund("vault-1", 1, "kUSD", 100))
	require.NoError(t, r.Fund("vault-1", 2, "kUSD", 50))

	// Draining one batch's bucket never touches another's
	require.NoError(t, r.Release("vault-1", 1, "kUSD", "inst", 100))
	assert.Equal(t, int64(50), r.HoldsAssets("vault-1", 2, "kUSD"))
}

func TestFundValidation(t *testing.T) {
	r := NewPerBatchReceiver(settledBatch(t), nil)

	assert.ErrorIs(t, r.Fund("vault-1", 1, "kUSD", 0), kamerr.ErrZeroAmount)
	assert.ErrorIs(t, r.Release("vault-1", 1, "kUSD", "", 10), kamerr.ErrZeroAddress)
	assert.ErrorIs(t, r.Release("vault-1", 1, "kUSD", "inst", 0), kamerr.ErrZeroAmount)
}
