// core/request/queue.go

// Append-only per-batch request collection with per-user indexing
// Requests are created against open batches only, cancellable while the batch
// stays open, and claimable once the batch settles
// Request ids are blake2b hashes over (vault, user, amount, timestamp, counter);
// the monotonic counter is the uniqueness disambiguator, not wall-clock time
// Effects of cancel/claim (escrow refunds, token transfers) belong to the
// owning component; this queue only gates eligibility and records transitions

package request

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/veris-labs/go-kam/core/batch"
	"github.com/veris-labs/go-kam/core/kamerr"
)

// Kind of request
type Kind int

const (
	Stake Kind = iota
	Unstake
	Mint
	Redeem
)

func (k Kind) String() string {
	switch k {
	case Stake:
		return "stake"
	case Unstake:
		return "unstake"
	case Mint:
		return "mint"
	case Redeem:
		return "redeem"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Status of a request
type Status int

const (
	Pending Status = iota
	Claimed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Claimed:
		return "claimed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Request is a pending stake/unstake/mint/redeem action queued into a batch
type Request struct {
	ID        string `json:"id"`
	Vault     string `json:"vault"`
	BatchID   uint64 `json:"batch_id"`
	Kind      Kind   `json:"kind"`
	User      string `json:"user"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Timestamp int64  `json:"timestamp"`
	Status    Status `json:"status"`
}

// BatchStates is the view of batch lifecycle the queue needs
type BatchStates interface {
	StateOf(vault string, id uint64) (batch.State, error)
}

// Queue holds all requests with per-batch and per-user indexes
type Queue struct {
	batches BatchStates

	requests map[string]*Request
	byBatch  map[string]map[uint64][]string        // vault -> batchID -> ids, insertion order
	byUser   map[string]map[string]struct{}        // user -> set of ids
	counter  uint64
	clock    func() int64
	mu       sync.RWMutex
}

// NewQueue creates a request queue over the given batch tracker.
// A nil clock defaults to wall time.
func NewQueue(batches BatchStates, clock func() int64) *Queue {
	if clock == nil {
		clock = func() int64 { return time.Now().Unix() }
	}
	return &Queue{
		batches:  batches,
		requests: make(map[string]*Request),
		byBatch:  make(map[string]map[uint64][]string),
		byUser:   make(map[string]map[string]struct{}),
		clock:    clock,
	}
}

// Enqueue records a new pending request against an open batch
func (q *Queue) Enqueue(vault string, batchID uint64, kind Kind, user string, amount int64, recipient string) (*Request, error) {
	if user == "" || recipient == "" || vault == "" {
		return nil, fmt.Errorf("enqueue: %w", kamerr.ErrZeroAddress)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("enqueue amount %d: %w", amount, kamerr.ErrZeroAmount)
	}

	state, err := q.batches.StateOf(vault, batchID)
	if err != nil {
		return nil, err
	}
	if state != batch.Open {
		return nil, fmt.Errorf("vault %s batch %d is %s: %w", vault, batchID, state, kamerr.ErrBatchNotOpen)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.counter++
	now := q.clock()

	req := &Request{
		ID:        deriveID(vault, user, amount, now, q.counter),
		Vault:     vault,
		BatchID:   batchID,
		Kind:      kind,
		User:      user,
		Amount:    amount,
		Recipient: recipient,
		Timestamp: now,
		Status:    Pending,
	}

	q.requests[req.ID] = req

	if q.byBatch[vault] == nil {
		q.byBatch[vault] = make(map[uint64][]string)
	}
	q.byBatch[vault][batchID] = append(q.byBatch[vault][batchID], req.ID)

	if q.byUser[user] == nil {
		q.byUser[user] = make(map[string]struct{})
	}
	q.byUser[user][req.ID] = struct{}{}

	copy := *req
	return &copy, nil
}

// RecordExecuted records a request that executed immediately (institutional
// mints never wait for a batch). The entry exists purely as an audit trail:
// it is born Claimed, so it can never be cancelled or claimed again.
func (q *Queue) RecordExecuted(vault string, batchID uint64, kind Kind, user string, amount int64, recipient string) (*Request, error) {
	if user == "" || recipient == "" || vault == "" {
		return nil, fmt.Errorf("record: %w", kamerr.ErrZeroAddress)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("record amount %d: %w", amount, kamerr.ErrZeroAmount)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.counter++
	now := q.clock()

	req := &Request{
		ID:        deriveID(vault, user, amount, now, q.counter),
		Vault:     vault,
		BatchID:   batchID,
		Kind:      kind,
		User:      user,
		Amount:    amount,
		Recipient: recipient,
		Timestamp: now,
		Status:    Claimed,
	}

	q.requests[req.ID] = req

	if q.byBatch[vault] == nil {
		q.byBatch[vault] = make(map[uint64][]string)
	}
	q.byBatch[vault][batchID] = append(q.byBatch[vault][batchID], req.ID)

	copy := *req
	return &copy, nil
}

// Cancel marks a pending request cancelled. Allowed only while the owning
// batch is still open. Returns the request so the caller can unwind escrow.
func (q *Queue) Cancel(id string) (*Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, exists := q.requests[id]
	if !exists {
		return nil, fmt.Errorf("request %s: %w", id, kamerr.ErrRequestNotFound)
	}

	if req.Status != Pending {
		return nil, fmt.Errorf("request %s is %s: %w", id, req.Status, kamerr.ErrRequestNotPending)
	}

	state, err := q.batches.StateOf(req.Vault, req.BatchID)
	if err != nil {
		return nil, err
	}
	switch state {
	case batch.Closed:
		return nil, fmt.Errorf("request %s: %w", id, kamerr.ErrBatchClosed)
	case batch.Settled:
		return nil, fmt.Errorf("request %s: %w", id, kamerr.ErrBatchAlreadySettled)
	}

	req.Status = Cancelled
	delete(q.byUser[req.User], id)

	copy := *req
	return &copy, nil
}

// Claim marks a pending request claimed. Allowed only once the owning batch
// has settled. Token-transfer effects are delegated to the caller.
func (q *Queue) Claim(id string) (*Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, exists := q.requests[id]
	if !exists {
		return nil, fmt.Errorf("request %s: %w", id, kamerr.ErrRequestNotFound)
	}

	if req.Status != Pending {
		return nil, fmt.Errorf("request %s is %s: %w", id, req.Status, kamerr.ErrRequestNotPending)
	}

	state, err := q.batches.StateOf(req.Vault, req.BatchID)
	if err != nil {
		return nil, err
	}
	if state != batch.Settled {
		return nil, fmt.Errorf("request %s batch is %s, claim requires settled batch", id, state)
	}

	req.Status = Claimed
	delete(q.byUser[req.User], id)

	copy := *req
	return &copy, nil
}

// Get returns a copy of a request
func (q *Queue) Get(id string) (*Request, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	req, exists := q.requests[id]
	if !exists {
		return nil, fmt.Errorf("request %s: %w", id, kamerr.ErrRequestNotFound)
	}

	copy := *req
	return &copy, nil
}

// BatchRequests returns copies of all requests in a batch, insertion order.
// Ordering across users carries no semantic meaning.
func (q *Queue) BatchRequests(vault string, batchID uint64) []*Request {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ids := q.byBatch[vault][batchID]
	out := make([]*Request, 0, len(ids))
	for _, id := range ids {
		copy := *q.requests[id]
		out = append(out, &copy)
	}
	return out
}

// UserRequests returns copies of a user's open (pending) requests
func (q *Queue) UserRequests(user string) []*Request {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]*Request, 0, len(q.byUser[user]))
	for id := range q.byUser[user] {
		copy := *q.requests[id]
		out = append(out, &copy)
	}
	return out
}

// PendingAmount sums pending request amounts of one kind in a batch
func (q *Queue) PendingAmount(vault string, batchID uint64, kind Kind) int64 {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var total int64
	for _, id := range q.byBatch[vault][batchID] {
		req := q.requests[id]
		if req.Kind == kind && req.Status == Pending {
			total += req.Amount
		}
	}
	return total
}

func deriveID(vault, user string, amount, timestamp int64, counter uint64) string {
	h, _ := blake2b.New256(nil)
	fmt.Fprintf(h, "%s|%s|%d|%d|%d", vault, user, amount, timestamp, counter)
	return hex.EncodeToString(h.Sum(nil))
}
