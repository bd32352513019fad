// core/batch/lifecycle_test.go

package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veris-labs/go-kam/core/kamerr"
)

func fixedClock(now *int64) func() int64 {
	return func() int64 { return *now }
}

func TestInitVault(t *testing.T) {
	now := int64(1000)
	tr := NewTracker(fixedClock(&now))

	id, err := tr.InitVault("vault-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id, "Genesis batch id should be 1")

	current, err := tr.CurrentBatchID("vault-1")
	require.NoError(t, err)
	assert.Equal(t, id, current)

	b, err := tr.Get("vault-1", id)
	require.NoError(t, err)
	assert.Equal(t, Open, b.State)
	assert.Equal(t, int64(1000), b.OpenedAt)

	// Double init fails
	_, err = tr.InitVault("vault-1")
	assert.Error(t, err)

	_, err = tr.CurrentBatchID("unknown")
	assert.ErrorIs(t, err, kamerr.ErrVaultNotFound)
}

func TestCloseBatchRollsOver(t *testing.T) {
	now := int64(1000)
	tr := NewTracker(fixedClock(&now))

	id, err := tr.InitVault("vault-1")
	require.NoError(t, err)

	now = 2000
	require.NoError(t, tr.CloseBatch("vault-1", id, true))

	b, err := tr.Get("vault-1", id)
	require.NoError(t, err)
	assert.Equal(t, Closed, b.State)
	assert.Equal(t, int64(2000), b.ClosedAt)
	assert.Equal(t, "receiver:vault-1:1", b.Receiver, "Receiver handle is assigned at close")

	// Ids are monotonic; the next batch opened atomically
	current, err := tr.CurrentBatchID("vault-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), current)

	next, err := tr.Get("vault-1", current)
	require.NoError(t, err)
	assert.Equal(t, Open, next.State)
}

func TestCloseBatchWithoutNext(t *testing.T) {
	tr := NewTracker(nil)
	id, err := tr.InitVault("vault-1")
	require.NoError(t, err)

	require.NoError(t, tr.CloseBatch("vault-1", id, false))

	// Current still points at the closed batch; no new one was opened
	current, err := tr.CurrentBatchID("vault-1")
	require.NoError(t, err)
	assert.Equal(t, id, current)
}

func TestCloseBatchRejectsNonOpen(t *testing.T) {
	tr := NewTracker(nil)
	id, err := tr.InitVault("vault-1")
	require.NoError(t, err)

	require.NoError(t, tr.CloseBatch("vault-1", id, false))
	assert.ErrorIs(t, tr.CloseBatch("vault-1", id, false), kamerr.ErrBatchClosed)

	require.NoError(t, tr.MarkSettled("vault-1", id))
	assert.ErrorIs(t, tr.CloseBatch("vault-1", id, false), kamerr.ErrBatchAlreadySettled)
}

func TestMarkSettled(t *testing.T) {
	now := int64(1000)
	tr := NewTracker(fixedClock(&now))
	id, err := tr.InitVault("vault-1")
	require.NoError(t, err)

	// Settling an open batch is an ordering bug
	assert.Error(t, tr.MarkSettled("vault-1", id))

	require.NoError(t, tr.CloseBatch("vault-1", id, true))

	now = 3000
	require.NoError(t, tr.MarkSettled("vault-1", id))

	b, err := tr.Get("vault-1", id)
	require.NoError(t, err)
	assert.Equal(t, Settled, b.State)
	assert.Equal(t, int64(3000), b.SettledAt)

	// Settled is terminal
	assert.ErrorIs(t, tr.MarkSettled("vault-1", id), kamerr.ErrBatchAlreadySettled)
}

func TestMonotonicIDsNeverReused(t *testing.T) {
	tr := NewTracker(nil)
	_, err := tr.InitVault("vault-1")
	require.NoError(t, err)

	seen := make(map[uint64]bool)
	for i := 0; i < 5; i++ {
		id, err := tr.CurrentBatchID("vault-1")
		require.NoError(t, err)
		assert.False(t, seen[id], "Batch id %d reused", id)
		seen[id] = true
		require.NoError(t, tr.CloseBatch("vault-1", id, true))
	}

	// Separate vaults number independently
	id2, err := tr.InitVault("vault-2")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id2)
}

func TestVaults(t *testing.T) {
	tr := NewTracker(nil)
	_, err := tr.InitVault("vault-1")
	require.NoError(t, err)
	_, err = tr.InitVault("vault-2")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"vault-1", "vault-2"}, tr.Vaults())
}
