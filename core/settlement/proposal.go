// core/settlement/proposal.go

package settlement

// Proposal is a staged settlement awaiting its cooldown. Immutable once
// created except for the executed/cancelled flags.
type Proposal struct {
	ID      string `json:"id"`
	Vault   string `json:"vault"`
	Asset   string `json:"asset"`
	BatchID uint64 `json:"batch_id"`

	// ObservedTotalAssets is the adapter-reported ground truth at proposal
	// time.
	ObservedTotalAssets int64 `json:"observed_total_assets"`

	// Netted is deposited minus requested for the batch window.
	Netted int64 `json:"netted"`

	YieldAmount int64 `json:"yield_amount"`
	IsProfit    bool  `json:"is_profit"`

	ProposedAt   int64 `json:"proposed_at"`
	CooldownEnds int64 `json:"cooldown_ends"`

	Executed  bool `json:"executed"`
	Cancelled bool `json:"cancelled"`
}

// Executable reports whether the proposal's cooldown has elapsed at now and
// it is still pending
func (p *Proposal) Executable(now int64) bool {
	return !p.Executed && !p.Cancelled && now >= p.CooldownEnds
}

// Record is one append-only entry in the settlement history
type Record struct {
	ProposalID          string `json:"proposal_id"`
	Vault               string `json:"vault"`
	Asset               string `json:"asset"`
	BatchID             uint64 `json:"batch_id"`
	ObservedTotalAssets int64  `json:"observed_total_assets"`
	Netted              int64  `json:"netted"`
	YieldAmount         int64  `json:"yield_amount"`
	IsProfit            bool   `json:"is_profit"`
	ExecutedAt          int64  `json:"executed_at"`

	// SharePrice is the 1e18-scaled share price fixed by this settlement,
	// as a decimal string.
	SharePrice string `json:"share_price"`
}

// Recorder persists proposals and executed settlements for audit. The
// in-memory engine state stays authoritative; persistence failures are
// logged by callers, never rolled into settlement semantics.
type Recorder interface {
	SaveProposal(p *Proposal) error
	SaveRecord(r *Record) error
}
