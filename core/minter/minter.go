// core/minter/minter.go

// Institutional path: deposits mint kTokens 1:1 immediately; redemptions are
// escrow-then-settle, finalized by the settlement engine and claimed from the
// batch's distribution receiver
// Only actors holding the Institution capability may mint or redeem

package minter

import (
	"fmt"

	"github.com/veris-labs/go-kam/core/batch"
	"github.com/veris-labs/go-kam/core/distribution"
	"github.com/veris-labs/go-kam/core/kamerr"
	"github.com/veris-labs/go-kam/core/ledger"
	"github.com/veris-labs/go-kam/core/pool"
	"github.com/veris-labs/go-kam/core/request"
	"github.com/veris-labs/go-kam/core/roles"
	"github.com/veris-labs/go-kam/core/settlement"
	"github.com/veris-labs/go-kam/core/virtual"
)

// Minter handles institutional deposits and redemptions for registered vaults
type Minter struct {
	ledger    *ledger.Ledger
	batches   *batch.Tracker
	requests  *request.Queue
	virtual   *virtual.Ledger
	pools     *pool.Accounting
	engine    *settlement.Engine
	receiver  distribution.Receiver
	authority roles.Authority
}

// Deps bundles the minter's collaborators
type Deps struct {
	Ledger    *ledger.Ledger
	Batches   *batch.Tracker
	Requests  *request.Queue
	Virtual   *virtual.Ledger
	Pools     *pool.Accounting
	Engine    *settlement.Engine
	Receiver  distribution.Receiver
	Authority roles.Authority
}

// New creates a minter
func New(deps Deps) *Minter {
	return &Minter{
		ledger:    deps.Ledger,
		batches:   deps.Batches,
		requests:  deps.Requests,
		virtual:   deps.Virtual,
		pools:     deps.Pools,
		engine:    deps.Engine,
		receiver:  deps.Receiver,
		authority: deps.Authority,
	}
}

// Mint deposits institutional collateral and mints kTokens 1:1 to the
// recipient. Executes immediately; the deposit is attributed to the vault's
// current batch window for settlement reconciliation.
func (m *Minter) Mint(institution, vault string, amount int64, recipient string) (*request.Request, error) {
	if !m.authority.HasCapability(institution, roles.Institution) {
		return nil, fmt.Errorf("mint by %s: %w", institution, kamerr.ErrUnauthorized)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("mint amount %d: %w", amount, kamerr.ErrZeroAmount)
	}
	if recipient == "" {
		return nil, fmt.Errorf("mint recipient: %w", kamerr.ErrZeroAddress)
	}

	info, err := m.engine.Vault(vault)
	if err != nil {
		return nil, err
	}

	batchID, err := m.batches.CurrentBatchID(vault)
	if err != nil {
		return nil, err
	}

	if err := m.ledger.Mint(info.Asset, recipient, amount); err != nil {
		return nil, err
	}
	if err := m.virtual.Push(vault, info.Asset, amount, batchID); err != nil {
		return nil, err
	}
	if err := m.pools.InstitutionalDeposit(vault, amount); err != nil {
		return nil, err
	}

	return m.requests.RecordExecuted(vault, batchID, request.Mint, institution, amount, recipient)
}

// RequestRedeem escrows kTokens and stages a withdrawal of the underlying
// collateral for the vault's current batch. Physical assets do not move
// until settlement.
func (m *Minter) RequestRedeem(institution, vault string, amount int64, recipient string) (*request.Request, error) {
	if !m.authority.HasCapability(institution, roles.Institution) {
		return nil, fmt.Errorf("redeem by %s: %w", institution, kamerr.ErrUnauthorized)
	}

	info, err := m.engine.Vault(vault)
	if err != nil {
		return nil, err
	}

	batchID, err := m.batches.CurrentBatchID(vault)
	if err != nil {
		return nil, err
	}

	// Escrow first so a queue failure cannot strand staged flows.
	if err := m.ledger.Transfer(info.Asset, institution, ledger.EscrowAccount(vault), amount); err != nil {
		return nil, err
	}

	req, err := m.requests.Enqueue(vault, batchID, request.Redeem, institution, amount, recipient)
	if err != nil {
		// Unwind the escrow; the transfer above cannot fail in reverse.
		m.ledger.Transfer(info.Asset, ledger.EscrowAccount(vault), institution, amount)
		return nil, err
	}

	if err := m.virtual.RequestPull(vault, info.Asset, amount, batchID); err != nil {
		return nil, err
	}

	return req, nil
}

// CancelRedeem unwinds a pending redemption while its batch is still open:
// escrowed kTokens return to the institution and the staged pull is removed.
func (m *Minter) CancelRedeem(actor, requestID string) error {
	req, err := m.requests.Get(requestID)
	if err != nil {
		return err
	}
	if req.User != actor && !m.authority.HasCapability(actor, roles.Admin) {
		return fmt.Errorf("cancel by %s: %w", actor, kamerr.ErrUnauthorized)
	}
	if req.Kind != request.Redeem {
		return fmt.Errorf("request %s is a %s request, not redeem", requestID, req.Kind)
	}

	info, err := m.engine.Vault(req.Vault)
	if err != nil {
		return err
	}

	cancelled, err := m.requests.Cancel(requestID)
	if err != nil {
		return err
	}

	if err := m.ledger.Transfer(info.Asset, ledger.EscrowAccount(req.Vault), cancelled.User, cancelled.Amount); err != nil {
		return fmt.Errorf("refund escrow: %v", err)
	}

	return m.virtual.CancelPull(req.Vault, info.Asset, cancelled.Amount, req.BatchID)
}

// Claim releases settled collateral to the redemption's recipient. The
// escrowed kTokens were already burned when the batch settled; this call
// only gates eligibility and drains the batch's receiver bucket.
func (m *Minter) Claim(actor, requestID string) error {
	req, err := m.requests.Get(requestID)
	if err != nil {
		return err
	}
	if req.User != actor && req.Recipient != actor {
		return fmt.Errorf("claim by %s: %w", actor, kamerr.ErrUnauthorized)
	}
	if req.Kind != request.Redeem {
		return fmt.Errorf("request %s is a %s request, not redeem", requestID, req.Kind)
	}

	info, err := m.engine.Vault(req.Vault)
	if err != nil {
		return err
	}

	if _, err := m.requests.Claim(requestID); err != nil {
		return err
	}

	if err := m.receiver.Release(req.Vault, req.BatchID, info.Asset, req.Recipient, req.Amount); err != nil {
		return fmt.Errorf("release settled assets: %v", err)
	}

	return nil
}
