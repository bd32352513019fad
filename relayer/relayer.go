// relayer/relayer.go

// Scheduled settlement driver
// Closes batches once their cutoff elapses, reads observed totals from the
// strategy adapters, derives the yield delta against the last settled
// baseline and submits proposals, then polls for proposals whose cooldown
// has elapsed and executes them
// All protocol checks stay in the settlement engine; the relayer only
// decides WHEN to act

package relayer

import (
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/veris-labs/go-kam/config"
	"github.com/veris-labs/go-kam/core/batch"
	"github.com/veris-labs/go-kam/core/settlement"
	"github.com/veris-labs/go-kam/core/virtual"
	"github.com/veris-labs/go-kam/strategy"
)

// Relayer drives the batch close / propose / execute cycle on a schedule
type Relayer struct {
	cfg      *config.Config
	actor    string
	engine   *settlement.Engine
	batches  *batch.Tracker
	virtual  *virtual.Ledger
	registry *strategy.Registry

	cron  *cron.Cron
	clock func() int64

	mu sync.Mutex
	// Closed batches awaiting a proposal, oldest first. Settlements are
	// sequential per vault: the yield baseline only advances on execute,
	// so a batch is proposed only once its predecessor has settled.
	pending map[string][]uint64
}

// Deps bundles the relayer's collaborators
type Deps struct {
	Actor    string
	Engine   *settlement.Engine
	Batches  *batch.Tracker
	Virtual  *virtual.Ledger
	Registry *strategy.Registry
	Clock    func() int64
}

// New creates a relayer. The actor must hold the relayer capability.
func New(cfg *config.Config, deps Deps) *Relayer {
	return &Relayer{
		cfg:      cfg,
		actor:    deps.Actor,
		engine:   deps.Engine,
		batches:  deps.Batches,
		virtual:  deps.Virtual,
		registry: deps.Registry,
		clock:    deps.Clock,
		pending:  make(map[string][]uint64),
	}
}

// Start registers the cron jobs and begins the settlement loop
func (r *Relayer) Start() error {
	r.cron = cron.New()

	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.cfg.Batch.CutoffDuration), r.closeTick); err != nil {
		return fmt.Errorf("failed to schedule batch close job: %v", err)
	}

	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.cfg.Settlement.Interval), r.proposeTick); err != nil {
		return fmt.Errorf("failed to schedule proposal job: %v", err)
	}

	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.cfg.Relayer.ExecutePollInterval), r.executeTick); err != nil {
		return fmt.Errorf("failed to schedule execute poll: %v", err)
	}

	r.cron.Start()
	log.Printf("Relayer started (cutoff %v, interval %v, poll %v)",
		r.cfg.Batch.CutoffDuration, r.cfg.Settlement.Interval, r.cfg.Relayer.ExecutePollInterval)
	return nil
}

// Stop stops the settlement loop
func (r *Relayer) Stop() {
	if r.cron != nil {
		ctx := r.cron.Stop()
		<-ctx.Done()
	}
	log.Printf("Relayer stopped")
}

// closeTick closes every batch whose cutoff has elapsed and opens its
// successor, so deposit and request flow never stalls on settlement
func (r *Relayer) closeTick() {
	now := r.clock()
	cutoff := int64(r.cfg.Batch.CutoffDuration.Seconds())

	for _, vault := range r.batches.Vaults() {
		id, err := r.batches.CurrentBatchID(vault)
		if err != nil {
			log.Printf("Relayer: current batch lookup failed for %s: %v", vault, err)
			continue
		}

		b, err := r.batches.Get(vault, id)
		if err != nil {
			log.Printf("Relayer: batch lookup failed for %s/%d: %v", vault, id, err)
			continue
		}

		if now-b.OpenedAt < cutoff {
			continue
		}

		if err := r.engine.CloseBatch(r.actor, vault, id, true); err != nil {
			log.Printf("Relayer: failed to close batch %s/%d: %v", vault, id, err)
			continue
		}

		r.mu.Lock()
		r.pending[vault] = append(r.pending[vault], id)
		r.mu.Unlock()

		log.Printf("Relayer: closed batch %s/%d", vault, id)
	}
}

// proposeTick submits a settlement proposal for the oldest closed batch of
// each vault, using the registry's observed totals
func (r *Relayer) proposeTick() {
	for _, vault := range r.batches.Vaults() {
		r.mu.Lock()
		queue := r.pending[vault]
		r.mu.Unlock()

		if len(queue) == 0 {
			continue
		}
		batchID := queue[0]

		if err := r.propose(vault, batchID); err != nil {
			log.Printf("Relayer: proposal failed for %s/%d: %v", vault, batchID, err)
		}
	}
}

func (r *Relayer) propose(vault string, batchID uint64) error {
	info, err := r.engine.Vault(vault)
	if err != nil {
		return err
	}

	observed, err := r.registry.ObservedTotalAssets(vault, info.Asset)
	if err != nil {
		return fmt.Errorf("failed to read adapter totals: %v", err)
	}

	// Deposits that arrived after this batch already sit with the custodians
	// but belong to later settlements; strip them so they are never misread
	// as yield.
	current, err := r.batches.CurrentBatchID(vault)
	if err != nil {
		return err
	}
	for id := batchID + 1; id <= current; id++ {
		observed -= r.virtual.NetFlow(vault, info.Asset, id).Deposited
	}

	flow := r.virtual.NetFlow(vault, info.Asset, batchID)
	netted := flow.Deposited - flow.Requested

	// Yield is whatever the adapters report beyond the settled baseline
	// plus this batch's deposits. Before the first settlement there is no
	// baseline and the delta is taken as zero.
	var yieldAmount int64
	isProfit := true
	if last, ok := r.engine.LastObserved(vault); ok {
		delta := observed - (last + flow.Deposited)
		if delta < 0 {
			isProfit = false
			yieldAmount = -delta
		} else {
			yieldAmount = delta
		}
	}

	id, err := r.engine.ProposeSettleBatch(r.actor, info.Asset, vault, batchID,
		observed, netted, yieldAmount, isProfit)
	if err != nil {
		return err
	}

	log.Printf("Relayer: proposed settlement %s for %s/%d (observed=%d netted=%d yield=%d profit=%v)",
		id, vault, batchID, observed, netted, yieldAmount, isProfit)
	return nil
}

// executeTick executes every proposal whose cooldown has elapsed
func (r *Relayer) executeTick() {
	for _, p := range r.engine.Executable() {
		if err := r.engine.ExecuteSettleBatch(r.actor, p.ID); err != nil {
			log.Printf("Relayer: failed to execute proposal %s: %v", p.ID, err)
			continue
		}

		r.mu.Lock()
		if queue := r.pending[p.Vault]; len(queue) > 0 && queue[0] == p.BatchID {
			r.pending[p.Vault] = queue[1:]
		}
		r.mu.Unlock()

		log.Printf("Relayer: executed settlement %s for %s/%d", p.ID, p.Vault, p.BatchID)
	}
}
