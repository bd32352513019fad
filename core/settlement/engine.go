// core/settlement/engine.go

// The central settlement state machine: Proposed -> Executable -> Executed,
// with Cancelled as the guardian's escape hatch before execution
// A proposal stages a yield/loss delta against tolerance bounds and a
// cooldown; execution atomically mints/burns supply, updates the dual pools,
// folds the batch's virtual flows, and flips the batch to Settled
// Every precondition is validated before the first mutation so a rejected
// call leaves state byte-for-byte unchanged

package settlement

import (
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veris-labs/go-kam/config"
	"github.com/veris-labs/go-kam/core/batch"
	"github.com/veris-labs/go-kam/core/distribution"
	"github.com/veris-labs/go-kam/core/kamerr"
	"github.com/veris-labs/go-kam/core/ledger"
	"github.com/veris-labs/go-kam/core/pool"
	"github.com/veris-labs/go-kam/core/request"
	"github.com/veris-labs/go-kam/core/roles"
	"github.com/veris-labs/go-kam/core/virtual"
)

// VaultInfo is the engine's registration record for one vault
type VaultInfo struct {
	Vault      string `json:"vault"`
	Asset      string `json:"asset"`
	ShareAsset string `json:"share_asset"`
}

// Engine coordinates batch settlement across all vaults
type Engine struct {
	cfg config.SettlementConfig

	ledger    *ledger.Ledger
	batches   *batch.Tracker
	requests  *request.Queue
	virtual   *virtual.Ledger
	pools     *pool.Accounting
	authority roles.Authority
	receiver  *distribution.PerBatchReceiver
	recorder  Recorder

	vaults        map[string]*VaultInfo
	proposals     map[string]*Proposal
	activeByBatch map[string]string   // vault|batchID -> active proposal id
	lastObserved  map[string]int64    // vault -> observed totals at last settlement
	hasSettled    map[string]bool     // vault -> any settlement executed yet
	settledPrice  map[string]*big.Int // vault|batchID -> share price fixed at settlement

	clock func() int64
	mu    sync.Mutex
}

// Deps bundles the collaborators the engine operates on
type Deps struct {
	Ledger    *ledger.Ledger
	Batches   *batch.Tracker
	Requests  *request.Queue
	Virtual   *virtual.Ledger
	Pools     *pool.Accounting
	Authority roles.Authority
	Receiver  *distribution.PerBatchReceiver
	Recorder  Recorder
	Clock     func() int64
}

// NewEngine creates a settlement engine. A nil clock defaults to wall time;
// a nil recorder disables persistence.
func NewEngine(cfg config.SettlementConfig, deps Deps) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = func() int64 { return time.Now().Unix() }
	}

	return &Engine{
		cfg:           cfg,
		ledger:        deps.Ledger,
		batches:       deps.Batches,
		requests:      deps.Requests,
		virtual:       deps.Virtual,
		pools:         deps.Pools,
		authority:     deps.Authority,
		receiver:      deps.Receiver,
		recorder:      deps.Recorder,
		vaults:        make(map[string]*VaultInfo),
		proposals:     make(map[string]*Proposal),
		activeByBatch: make(map[string]string),
		lastObserved:  make(map[string]int64),
		hasSettled:    make(map[string]bool),
		settledPrice:  make(map[string]*big.Int),
		clock:         clock,
	}
}

// RegisterVault wires a vault into the engine: genesis batch, dual pool, and
// the vault's share token asset.
func (e *Engine) RegisterVault(vault, asset, shareAsset string) error {
	if vault == "" || asset == "" || shareAsset == "" {
		return fmt.Errorf("register vault: %w", kamerr.ErrZeroAddress)
	}

	if _, err := e.ledger.Asset(asset); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.vaults[vault]; exists {
		return fmt.Errorf("vault %s already registered", vault)
	}

	if _, err := e.batches.InitVault(vault); err != nil {
		return err
	}
	if err := e.pools.RegisterVault(vault); err != nil {
		return err
	}

	e.vaults[vault] = &VaultInfo{
		Vault:      vault,
		Asset:      asset,
		ShareAsset: shareAsset,
	}

	return nil
}

// Vault returns the registration record for a vault
func (e *Engine) Vault(vault string) (*VaultInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	info, exists := e.vaults[vault]
	if !exists {
		return nil, fmt.Errorf("vault %s: %w", vault, kamerr.ErrVaultNotFound)
	}

	copy := *info
	return &copy, nil
}

// CloseBatch closes a vault's open batch. Relayer capability required.
func (e *Engine) CloseBatch(actor, vault string, batchID uint64, createNext bool) error {
	if !e.authority.HasCapability(actor, roles.Relayer) {
		return fmt.Errorf("close batch by %s: %w", actor, kamerr.ErrUnauthorized)
	}

	return e.batches.CloseBatch(vault, batchID, createNext)
}

// ProposeSettleBatch stages a settlement for a closed batch. The caller
// supplies the observed totals, the batch's netted flow and the yield figure;
// the engine validates all three against its own accounting before accepting.
// No balances move here.
func (e *Engine) ProposeSettleBatch(actor, asset, vault string, batchID uint64, observedTotalAssets, netted, yieldAmount int64, isProfit bool) (string, error) {
	if !e.authority.HasCapability(actor, roles.Relayer) {
		return "", fmt.Errorf("propose by %s: %w", actor, kamerr.ErrUnauthorized)
	}
	if yieldAmount < 0 {
		return "", fmt.Errorf("yield amount %d: %w", yieldAmount, kamerr.ErrZeroAmount)
	}
	if observedTotalAssets < 0 {
		return "", fmt.Errorf("observed total assets %d: %w", observedTotalAssets, kamerr.ErrZeroAmount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	info, exists := e.vaults[vault]
	if !exists {
		return "", fmt.Errorf("vault %s: %w", vault, kamerr.ErrVaultNotFound)
	}
	if info.Asset != asset {
		return "", fmt.Errorf("vault %s settles asset %s, not %s", vault, info.Asset, asset)
	}

	state, err := e.batches.StateOf(vault, batchID)
	if err != nil {
		return "", err
	}
	switch state {
	case batch.Open:
		return "", fmt.Errorf("vault %s batch %d must be closed before settlement", vault, batchID)
	case batch.Settled:
		return "", fmt.Errorf("vault %s batch %d: %w", vault, batchID, kamerr.ErrBatchAlreadySettled)
	}

	bk := batchKey(vault, batchID)
	if activeID, ok := e.activeByBatch[bk]; ok {
		return "", fmt.Errorf("vault %s batch %d already has active proposal %s", vault, batchID, activeID)
	}

	flow := e.virtual.NetFlow(vault, asset, batchID)
	if netted != flow.Deposited-flow.Requested {
		return "", fmt.Errorf("netted %d does not match batch flow %d (deposited %d, requested %d)",
			netted, flow.Deposited-flow.Requested, flow.Deposited, flow.Requested)
	}

	// Institutional top-up rule: observed strategy assets must cover every
	// staged institutional withdrawal. Never clamped; a shortfall forces an
	// insurance top-up before this batch can settle.
	if observedTotalAssets < flow.Requested {
		return "", fmt.Errorf("observed %d below staged withdrawals %d for vault %s batch %d: %w",
			observedTotalAssets, flow.Requested, vault, batchID, kamerr.ErrInsufficientStrategyAssets)
	}

	// Tolerance bound: |yield| against the last settled base, in basis
	// points. At genesis the observed figure itself is the base.
	referenceBase := observedTotalAssets
	if e.hasSettled[vault] {
		referenceBase = e.lastObserved[vault]
	}
	if yieldAmount > 0 {
		// big.Int keeps the bound exact for amounts where the bps product
		// would overflow int64
		scaled := new(big.Int).Mul(big.NewInt(yieldAmount), big.NewInt(10000))
		bound := new(big.Int).Mul(big.NewInt(e.cfg.MaxYieldDeltaBps), big.NewInt(referenceBase))
		if referenceBase <= 0 || scaled.Cmp(bound) > 0 {
			return "", fmt.Errorf("yield %d against base %d exceeds %d bps: %w",
				yieldAmount, referenceBase, e.cfg.MaxYieldDeltaBps, kamerr.ErrYieldToleranceExceeded)
		}
	}

	// Cross-check the caller's yield figure against the observed delta once
	// a settled baseline exists. Observed totals are measured before the
	// batch's staged withdrawals leave the strategies, so only deposits
	// count toward the expected figure.
	if e.hasSettled[vault] {
		expected := e.lastObserved[vault] + flow.Deposited + signedYield(yieldAmount, isProfit)
		if observedTotalAssets != expected {
			return "", fmt.Errorf("observed %d inconsistent with last settled %d + deposited %d + yield %d (expected %d)",
				observedTotalAssets, e.lastObserved[vault], flow.Deposited, signedYield(yieldAmount, isProfit), expected)
		}
	}

	now := e.clock()
	p := &Proposal{
		ID:                  uuid.NewString(),
		Vault:               vault,
		Asset:               asset,
		BatchID:             batchID,
		ObservedTotalAssets: observedTotalAssets,
		Netted:              netted,
		YieldAmount:         yieldAmount,
		IsProfit:            isProfit,
		ProposedAt:          now,
		CooldownEnds:        now + int64(e.cfg.Cooldown/time.Second),
	}

	e.proposals[p.ID] = p
	e.activeByBatch[bk] = p.ID

	e.persistProposal(p)

	return p.ID, nil
}

// ExecuteSettleBatch applies a proposal once its cooldown has elapsed. All
// effects are atomic: yield mint/burn, dual-pool update, virtual-flow fold,
// batch settled, proposal executed. Premature execution is rejected
// synchronously, never queued.
func (e *Engine) ExecuteSettleBatch(actor, proposalID string) error {
	if !e.authority.HasCapability(actor, roles.Relayer) {
		return fmt.Errorf("execute by %s: %w", actor, kamerr.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, exists := e.proposals[proposalID]
	if !exists {
		return fmt.Errorf("proposal %s: %w", proposalID, kamerr.ErrProposalNotFound)
	}
	if p.Executed {
		return fmt.Errorf("proposal %s: %w", proposalID, kamerr.ErrProposalAlreadyExecuted)
	}
	if p.Cancelled {
		return fmt.Errorf("proposal %s: %w", proposalID, kamerr.ErrProposalCancelled)
	}

	now := e.clock()
	if now < p.CooldownEnds {
		return fmt.Errorf("proposal %s executable at %d, now %d: %w",
			proposalID, p.CooldownEnds, now, kamerr.ErrSettlementTooEarly)
	}

	info := e.vaults[p.Vault]
	userPool := ledger.UserPoolAccount(p.Vault)

	// Validate every effect before the first mutation. Once validation
	// passes, no apply step below can fail.
	flow := e.virtual.NetFlow(p.Vault, p.Asset, p.BatchID)

	if !p.IsProfit && p.YieldAmount > 0 {
		if e.ledger.BalanceOf(p.Asset, userPool) < p.YieldAmount {
			return fmt.Errorf("loss %d exceeds vault %s user pool holdings: %w",
				p.YieldAmount, p.Vault, kamerr.ErrInsufficientBalance)
		}
	}

	if e.virtual.Conceptual(p.Vault, p.Asset) < flow.Requested {
		return fmt.Errorf("vault %s conceptual balance below staged withdrawals %d: %w",
			p.Vault, flow.Requested, kamerr.ErrInsufficientVirtualBalance)
	}

	institutional, user, err := e.pools.Totals(p.Vault)
	if err != nil {
		return err
	}
	if !p.IsProfit && user < p.YieldAmount {
		return fmt.Errorf("loss %d exceeds vault %s user pool %d: %w",
			p.YieldAmount, p.Vault, user, kamerr.ErrInsufficientBalance)
	}
	// Re-anchor the observed figure against the settled baseline plus this
	// batch's own deposits. Live pool totals are never consulted here: they
	// already include deposits that arrived in later batches while the
	// proposal sat in cooldown, and those belong to later settlements.
	if e.hasSettled[p.Vault] {
		expected := e.lastObserved[p.Vault] + flow.Deposited + signedYield(p.YieldAmount, p.IsProfit)
		if p.ObservedTotalAssets != expected {
			return fmt.Errorf("observed %d inconsistent with last settled %d + deposited %d + yield %d (expected %d)",
				p.ObservedTotalAssets, e.lastObserved[p.Vault], flow.Deposited,
				signedYield(p.YieldAmount, p.IsProfit), expected)
		}
	}
	if flow.Requested > 0 {
		if institutional < flow.Requested {
			return fmt.Errorf("staged withdrawals %d exceed vault %s institutional pool %d: %w",
				flow.Requested, p.Vault, institutional, kamerr.ErrInsufficientInstitutionalAssets)
		}
		if e.ledger.BalanceOf(p.Asset, ledger.EscrowAccount(p.Vault)) < flow.Requested {
			return fmt.Errorf("staged withdrawals %d exceed vault %s escrow holdings: %w",
				flow.Requested, p.Vault, kamerr.ErrInsufficientBalance)
		}
	}

	// (a) true up kToken supply against the user pool only; the
	// institutional pool is never touched by yield.
	if p.YieldAmount > 0 {
		if p.IsProfit {
			if err := e.ledger.Mint(p.Asset, userPool, p.YieldAmount); err != nil {
				return fmt.Errorf("yield mint: %v", err)
			}
		} else {
			if err := e.ledger.Burn(p.Asset, userPool, p.YieldAmount); err != nil {
				return fmt.Errorf("yield burn: %v", err)
			}
		}
	}

	// (b) dual-pool update
	if p.YieldAmount > 0 {
		if err := e.pools.ApplyYield(p.Vault, p.YieldAmount, p.IsProfit); err != nil {
			return fmt.Errorf("apply yield: %v", err)
		}
	}

	// (c) fold the batch's virtual flows into confirmed settled amounts.
	// Staged institutional withdrawals finalize here: the escrowed kTokens
	// burn, the institutional pool shrinks, and the underlying assets fund
	// the batch's distribution receiver for claiming.
	if err := e.virtual.ApplySettlement(p.Vault, p.Asset, p.BatchID); err != nil {
		return fmt.Errorf("apply virtual settlement: %v", err)
	}
	if flow.Requested > 0 {
		if err := e.ledger.Burn(p.Asset, ledger.EscrowAccount(p.Vault), flow.Requested); err != nil {
			return fmt.Errorf("burn redeemed escrow: %v", err)
		}
		if err := e.pools.InstitutionalWithdraw(p.Vault, flow.Requested); err != nil {
			return fmt.Errorf("institutional withdraw: %v", err)
		}
		if e.receiver != nil {
			if err := e.receiver.Fund(p.Vault, p.BatchID, p.Asset, flow.Requested); err != nil {
				return fmt.Errorf("fund receiver: %v", err)
			}
		}
	}

	// (d) flip the batch to settled
	if err := e.batches.MarkSettled(p.Vault, p.BatchID); err != nil {
		return fmt.Errorf("mark settled: %v", err)
	}

	// (e) finalize the proposal and fix the share-price snapshot
	p.Executed = true
	delete(e.activeByBatch, batchKey(p.Vault, p.BatchID))

	// Observed totals were measured before the staged withdrawals left the
	// strategies; the settled baseline excludes them.
	e.lastObserved[p.Vault] = p.ObservedTotalAssets - flow.Requested
	e.hasSettled[p.Vault] = true

	shareSupply := e.ledger.TotalSupply(info.ShareAsset)
	if err := e.pools.SnapshotPrice(p.Vault, shareSupply); err != nil {
		return fmt.Errorf("snapshot price: %v", err)
	}

	price, err := e.pools.SharePrice(p.Vault)
	if err != nil {
		return fmt.Errorf("read share price: %v", err)
	}
	e.settledPrice[batchKey(p.Vault, p.BatchID)] = price

	e.persistProposal(p)
	e.persistRecord(&Record{
		ProposalID:          p.ID,
		Vault:               p.Vault,
		Asset:               p.Asset,
		BatchID:             p.BatchID,
		ObservedTotalAssets: p.ObservedTotalAssets,
		Netted:              p.Netted,
		YieldAmount:         p.YieldAmount,
		IsProfit:            p.IsProfit,
		ExecutedAt:          now,
		SharePrice:          price.String(),
	})

	return nil
}

// CancelProposal voids a proposal before execution. This is the
// human-in-the-loop safety valve for erroneous yield figures, so it is gated
// to guardians and emergency admins.
func (e *Engine) CancelProposal(actor, proposalID string) error {
	if !e.authority.HasCapability(actor, roles.Guardian) &&
		!e.authority.HasCapability(actor, roles.EmergencyAdmin) {
		return fmt.Errorf("cancel by %s: %w", actor, kamerr.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, exists := e.proposals[proposalID]
	if !exists {
		return fmt.Errorf("proposal %s: %w", proposalID, kamerr.ErrProposalNotFound)
	}
	if p.Executed {
		return fmt.Errorf("proposal %s: %w", proposalID, kamerr.ErrProposalAlreadyExecuted)
	}
	if p.Cancelled {
		return fmt.Errorf("proposal %s: %w", proposalID, kamerr.ErrProposalCancelled)
	}

	p.Cancelled = true
	delete(e.activeByBatch, batchKey(p.Vault, p.BatchID))

	e.persistProposal(p)

	return nil
}

// Proposal returns a copy of a proposal
func (e *Engine) Proposal(proposalID string) (*Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, exists := e.proposals[proposalID]
	if !exists {
		return nil, fmt.Errorf("proposal %s: %w", proposalID, kamerr.ErrProposalNotFound)
	}

	copy := *p
	return &copy, nil
}

// Executable returns copies of all proposals whose cooldown has elapsed
func (e *Engine) Executable() []*Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	out := make([]*Proposal, 0)
	for _, p := range e.proposals {
		if p.Executable(now) {
			copy := *p
			out = append(out, &copy)
		}
	}
	return out
}

// SettledPrice returns the share price fixed when a batch settled
func (e *Engine) SettledPrice(vault string, batchID uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price, exists := e.settledPrice[batchKey(vault, batchID)]
	if !exists {
		return nil, fmt.Errorf("vault %s batch %d has no settled price", vault, batchID)
	}

	return new(big.Int).Set(price), nil
}

// LastObserved returns the observed totals recorded at the vault's last
// settlement, and whether any settlement has executed yet
func (e *Engine) LastObserved(vault string) (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.lastObserved[vault], e.hasSettled[vault]
}

func (e *Engine) persistProposal(p *Proposal) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.SaveProposal(p); err != nil {
		log.Printf("settlement: persist proposal %s failed: %v", p.ID, err)
	}
}

func (e *Engine) persistRecord(r *Record) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.SaveRecord(r); err != nil {
		log.Printf("settlement: persist record for proposal %s failed: %v", r.ProposalID, err)
	}
}

func signedYield(amount int64, profit bool) int64 {
	if profit {
		return amount
	}
	return -amount
}

func batchKey(vault string, batchID uint64) string {
	return fmt.Sprintf("%s|%d", vault, batchID)
}
