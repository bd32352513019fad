// storage/store.go

// Typed settlement store over BadgerDB: proposals, executed settlement
// records, and pool snapshots, CBOR-encoded
// The in-memory engine state stays authoritative; this store is the audit
// and restart record

package storage

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/veris-labs/go-kam/core/settlement"
)

const (
	proposalPrefix = "proposal:"
	recordPrefix   = "settle:"
	poolPrefix     = "pool:"
)

// PoolSnapshot is a persisted point-in-time view of a vault's dual pool
type PoolSnapshot struct {
	Vault               string `json:"vault"`
	InstitutionalAssets int64  `json:"institutional_assets"`
	UserAssets          int64  `json:"user_assets"`
	TakenAt             int64  `json:"taken_at"`
}

// Store persists settlement history
type Store struct {
	kv *BadgerStorage
}

// NewStore creates a settlement store over a BadgerDB at dataDir
func NewStore(dataDir string) (*Store, error) {
	kv, err := NewBadgerStorage(dataDir)
	if err != nil {
		return nil, err
	}
	return &Store{kv: kv}, nil
}

// Close shuts the backing database down
func (s *Store) Close() error {
	return s.kv.Close()
}

// SaveProposal upserts a proposal by id
func (s *Store) SaveProposal(p *settlement.Proposal) error {
	data, err := cbor.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode proposal %s: %v", p.ID, err)
	}

	return s.kv.Set([]byte(proposalPrefix+p.ID), data)
}

// GetProposal loads a proposal by id
func (s *Store) GetProposal(id string) (*settlement.Proposal, error) {
	data, err := s.kv.Get([]byte(proposalPrefix + id))
	if err != nil {
		return nil, err
	}

	var p settlement.Proposal
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode proposal %s: %v", id, err)
	}

	return &p, nil
}

// ListProposals returns all persisted proposals
func (s *Store) ListProposals() ([]*settlement.Proposal, error) {
	var out []*settlement.Proposal

	err := s.kv.IteratePrefix([]byte(proposalPrefix), func(key, value []byte) error {
		var p settlement.Proposal
		if err := cbor.Unmarshal(value, &p); err != nil {
			return fmt.Errorf("decode proposal %s: %v", key, err)
		}
		out = append(out, &p)
		return nil
	})

	return out, err
}

// SaveRecord appends an executed settlement to the history. Records are
// keyed by vault, batch and proposal so history is naturally ordered per
// vault and never overwritten.
func (s *Store) SaveRecord(r *settlement.Record) error {
	data, err := cbor.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode settlement record %s: %v", r.ProposalID, err)
	}

	key := fmt.Sprintf("%s%s:%020d:%s", recordPrefix, r.Vault, r.BatchID, r.ProposalID)
	return s.kv.Set([]byte(key), data)
}

// ListSettlementHistory returns the executed settlements for a vault in
// batch order
func (s *Store) ListSettlementHistory(vault string) ([]*settlement.Record, error) {
	var out []*settlement.Record

	prefix := []byte(recordPrefix + vault + ":")
	err := s.kv.IteratePrefix(prefix, func(key, value []byte) error {
		var r settlement.Record
		if err := cbor.Unmarshal(value, &r); err != nil {
			return fmt.Errorf("decode settlement record %s: %v", key, err)
		}
		out = append(out, &r)
		return nil
	})

	return out, err
}

// SavePoolSnapshot persists a vault's dual-pool state
func (s *Store) SavePoolSnapshot(snap *PoolSnapshot) error {
	data, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode pool snapshot for %s: %v", snap.Vault, err)
	}

	key := fmt.Sprintf("%s%s:%020d", poolPrefix, snap.Vault, snap.TakenAt)
	return s.kv.Set([]byte(key), data)
}
