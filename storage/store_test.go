// storage/store_test.go

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veris-labs/go-kam/core/settlement"
)

func newTestStore(t *testing.T) *Store {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetProposal(t *testing.T) {
	s := newTestStore(t)

	p := &settlement.Proposal{
		ID:                  "prop-1",
		Vault:               "vault-1",
		Asset:               "kUSD",
		BatchID:             3,
		ObservedTotalAssets: 1035,
		Netted:              1000,
		YieldAmount:         35,
		IsProfit:            true,
		ProposedAt:          1_000_000,
		CooldownEnds:        1_003_600,
	}
	require.NoError(t, s.SaveProposal(p))

	got, err := s.GetProposal("prop-1")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = s.GetProposal("missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSaveProposalUpserts(t *testing.T) {
	s := newTestStore(t)

	p := &settlement.Proposal{ID: "prop-1", Vault: "vault-1"}
	require.NoError(t, s.SaveProposal(p))

	p.Executed = true
	require.NoError(t, s.SaveProposal(p))

	got, err := s.GetProposal("prop-1")
	require.NoError(t, err)
	assert.True(t, got.Executed)

	all, err := s.ListProposals()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSettlementHistoryOrderedPerVault(t *testing.T) {
	s := newTestStore(t)

	// Saved out of order; zero-padded keys restore batch order
	for _, r := range []*settlement.Record{
		{ProposalID: "p3", Vault: "vault-1", BatchID: 3, ObservedTotalAssets: 1050},
		{ProposalID: "p1", Vault: "vault-1", BatchID: 1, ObservedTotalAssets: 1000},
		{ProposalID: "p2", Vault: "vault-1", BatchID: 2, ObservedTotalAssets: 1020},
		{ProposalID: "px", Vault: "vault-2", BatchID: 1, ObservedTotalAssets: 500},
	} {
		require.NoError(t, s.SaveRecord(r))
	}

	history, err := s.ListSettlementHistory("vault-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, uint64(1), history[0].BatchID)
	assert.Equal(t, uint64(2), history[1].BatchID)
	assert.Equal(t, uint64(3), history[2].BatchID)

	other, err := s.ListSettlementHistory("vault-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestSavePoolSnapshot(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SavePoolSnapshot(&PoolSnapshot{
		Vault:               "vault-1",
		InstitutionalAssets: 1000,
		UserAssets:          35,
		TakenAt:             1_000_000,
	}))
}

func TestBadgerBasicOps(t *testing.T) {
	kv, err := NewBadgerStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	has, err := kv.Has([]byte("k1"))
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, kv.Set([]byte("k1"), []byte("v1")))

	got, err := kv.Get([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	has, err = kv.Has([]byte("k1"))
	require.NoError(t, err)
	assert.True(t, has)

	_, err = kv.Get([]byte("k2"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestBadgerIteratePrefix(t *testing.T) {
	kv, err := NewBadgerStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	require.NoError(t, kv.Set([]byte("a:1"), []byte("x")))
	require.NoError(t, kv.Set([]byte("a:2"), []byte("y")))
	require.NoError(t, kv.Set([]byte("b:1"), []byte("z")))

	var keys []string
	err = kv.IteratePrefix([]byte("a:"), func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "a:2"}, keys)
}
