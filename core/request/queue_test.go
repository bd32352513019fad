// core/request/queue_test.go

package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veris-labs/go-kam/core/batch"
	"github.com/veris-labs/go-kam/core/kamerr"
)

func newTestQueue(t *testing.T) (*Queue, *batch.Tracker) {
	tr := batch.NewTracker(nil)
	_, err := tr.InitVault("vault-1")
	require.NoError(t, err)
	return NewQueue(tr, nil), tr
}

func TestEnqueue(t *testing.T) {
	q, _ := newTestQueue(t)

	req, err := q.Enqueue("vault-1", 1, Stake, "alice", 100, "alice")
	require.NoError(t, err)
	assert.Equal(t, Pending, req.Status)
	assert.Equal(t, Stake, req.Kind)
	assert.NotEmpty(t, req.ID)

	got, err := q.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)

	_, err = q.Get("missing")
	assert.ErrorIs(t, err, kamerr.ErrRequestNotFound)
}

func TestEnqueueValidation(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Enqueue("vault-1", 1, Stake, "alice", 0, "alice")
	assert.ErrorIs(t, err, kamerr.ErrZeroAmount)

	_, err = q.Enqueue("vault-1", 1, Stake, "", 100, "alice")
	assert.ErrorIs(t, err, kamerr.ErrZeroAddress)

	_, err = q.Enqueue("vault-1", 1, Stake, "alice", 100, "")
	assert.ErrorIs(t, err, kamerr.ErrZeroAddress)
}

func TestEnqueueRequiresOpenBatch(t *testing.T) {
	q, tr := newTestQueue(t)

	require.NoError(t, tr.CloseBatch("vault-1", 1, true))

	_, err := q.Enqueue("vault-1", 1, Stake, "alice", 100, "alice")
	assert.ErrorIs(t, err, kamerr.ErrBatchNotOpen)

	// The rolled-over batch accepts requests
	_, err = q.Enqueue("vault-1", 2, Stake, "alice", 100, "alice")
	assert.NoError(t, err)
}

func TestUniqueIDsForIdenticalRequests(t *testing.T) {
	q, _ := newTestQueue(t)

	// Same user, same amount, same instant: the counter disambiguates
	a, err := q.Enqueue("vault-1", 1, Stake, "alice", 100, "alice")
	require.NoError(t, err)
	b, err := q.Enqueue("vault-1", 1, Stake, "alice", 100, "alice")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestCancelOnlyWhileOpen(t *testing.T) {
	q, tr := newTestQueue(t)

	req, err := q.Enqueue("vault-1", 1, Unstake, "alice", 50, "alice")
	require.NoError(t, err)

	require.NoError(t, tr.CloseBatch("vault-1", 1, true))

	_, err = q.Cancel(req.ID)
	assert.ErrorIs(t, err, kamerr.ErrBatchClosed)

	require.NoError(t, tr.MarkSettled("vault-1", 1))
	_, err = q.Cancel(req.ID)
	assert.ErrorIs(t, err, kamerr.ErrBatchAlreadySettled)
}

func TestCancelPending(t *testing.T) {
	q, _ := newTestQueue(t)

	req, err := q.Enqueue("vault-1", 1, Redeem, "inst", 500, "inst")
	require.NoError(t, err)

	cancelled, err := q.Cancel(req.ID)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, cancelled.Status)
	assert.Equal(t, int64(500), cancelled.Amount, "Cancel returns the request for escrow unwind")

	// Terminal: cannot cancel or claim again
	_, err = q.Cancel(req.ID)
	assert.ErrorIs(t, err, kamerr.ErrRequestNotPending)
	_, err = q.Claim(req.ID)
	assert.ErrorIs(t, err, kamerr.ErrRequestNotPending)
}

func TestClaimOnlyAfterSettled(t *testing.T) {
	q, tr := newTestQueue(t)

	req, err := q.Enqueue("vault-1", 1, Stake, "alice", 100, "bob")
	require.NoError(t, err)

	_, err = q.Claim(req.ID)
	assert.Error(t, err, "Claim against an open batch should fail")

	require.NoError(t, tr.CloseBatch("vault-1", 1, true))
	_, err = q.Claim(req.ID)
	assert.Error(t, err, "Claim against a closed batch should fail")

	require.NoError(t, tr.MarkSettled("vault-1", 1))
	claimed, err := q.Claim(req.ID)
	require.NoError(t, err)
	assert.Equal(t, Claimed, claimed.Status)

	// Claim is one-shot
	_, err = q.Claim(req.ID)
	assert.ErrorIs(t, err, kamerr.ErrRequestNotPending)
}

func TestRecordExecuted(t *testing.T) {
	q, _ := newTestQueue(t)

	req, err := q.RecordExecuted("vault-1", 1, Mint, "inst", 1000, "inst")
	require.NoError(t, err)
	assert.Equal(t, Claimed, req.Status, "Executed records are born claimed")

	// Audit-only: neither cancellable nor claimable
	_, err = q.Cancel(req.ID)
	assert.ErrorIs(t, err, kamerr.ErrRequestNotPending)
	_, err = q.Claim(req.ID)
	assert.ErrorIs(t, err, kamerr.ErrRequestNotPending)
}

func TestBatchAndUserIndexes(t *testing.T) {
	q, tr := newTestQueue(t)

	a, err := q.Enqueue("vault-1", 1, Stake, "alice", 100, "alice")
	require.NoError(t, err)
	b, err := q.Enqueue("vault-1", 1, Unstake, "bob", 40, "bob")
	require.NoError(t, err)

	batchReqs := q.BatchRequests("vault-1", 1)
	require.Len(t, batchReqs, 2)
	assert.Equal(t, a.ID, batchReqs[0].ID, "Insertion order preserved")
	assert.Equal(t, b.ID, batchReqs[1].ID)

	aliceReqs := q.UserRequests("alice")
	require.Len(t, aliceReqs, 1)
	assert.Equal(t, a.ID, aliceReqs[0].ID)

	// Claimed requests leave the user's open set
	require.NoError(t, tr.CloseBatch("vault-1", 1, true))
	require.NoError(t, tr.MarkSettled("vault-1", 1))
	_, err = q.Claim(a.ID)
	require.NoError(t, err)
	assert.Empty(t, q.UserRequests("alice"))
}

func TestPendingAmount(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Enqueue("vault-1", 1, Redeem, "inst", 300, "inst")
	require.NoError(t, err)
	second, err := q.Enqueue("vault-1", 1, Redeem, "inst", 200, "inst")
	require.NoError(t, err)
	_, err = q.Enqueue("vault-1", 1, Stake, "alice", 50, "alice")
	require.NoError(t, err)

	assert.Equal(t, int64(500), q.PendingAmount("vault-1", 1, Redeem))
	assert.Equal(t, int64(50), q.PendingAmount("vault-1", 1, Stake))

	_, err = q.Cancel(second.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), q.PendingAmount("vault-1", 1, Redeem), "Cancelled requests drop out of the pending sum")
}
