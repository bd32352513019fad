// staking/vault/vault.go

// Retail path: users stake kTokens into a yield vault and receive
// appreciating stkToken shares; unstaking returns kTokens at the share price
// fixed by the batch's settlement
// Both directions are escrow-then-settle: tokens park in the vault's escrow
// account while the request waits, and convert at claim time using the
// settled price, never a live one

package vault

import (
	"fmt"
	"math/big"

	"github.com/veris-labs/go-kam/core/batch"
	"github.com/veris-labs/go-kam/core/kamerr"
	"github.com/veris-labs/go-kam/core/ledger"
	"github.com/veris-labs/go-kam/core/pool"
	"github.com/veris-labs/go-kam/core/request"
	"github.com/veris-labs/go-kam/core/roles"
	"github.com/veris-labs/go-kam/core/settlement"
)

// StakingVault exposes the retail stake/unstake flows for registered vaults
type StakingVault struct {
	ledger    *ledger.Ledger
	batches   *batch.Tracker
	requests  *request.Queue
	pools     *pool.Accounting
	engine    *settlement.Engine
	authority roles.Authority
}

// Deps bundles the staking vault's collaborators
type Deps struct {
	Ledger    *ledger.Ledger
	Batches   *batch.Tracker
	Requests  *request.Queue
	Pools     *pool.Accounting
	Engine    *settlement.Engine
	Authority roles.Authority
}

// New creates a staking vault service
func New(deps Deps) *StakingVault {
	return &StakingVault{
		ledger:    deps.Ledger,
		batches:   deps.Batches,
		requests:  deps.Requests,
		pools:     deps.Pools,
		engine:    deps.Engine,
		authority: deps.Authority,
	}
}

// RequestStake escrows the user's kTokens into the vault's current batch
func (s *StakingVault) RequestStake(user, vault string, amount int64, recipient string) (*request.Request, error) {
	info, err := s.engine.Vault(vault)
	if err != nil {
		return nil, err
	}

	batchID, err := s.batches.CurrentBatchID(vault)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.Transfer(info.Asset, user, ledger.EscrowAccount(vault), amount); err != nil {
		return nil, err
	}

	req, err := s.requests.Enqueue(vault, batchID, request.Stake, user, amount, recipient)
	if err != nil {
		s.ledger.Transfer(info.Asset, ledger.EscrowAccount(vault), user, amount)
		return nil, err
	}

	return req, nil
}

// RequestUnstake escrows the user's stkToken shares into the vault's current
// batch
func (s *StakingVault) RequestUnstake(user, vault string, shares int64, recipient string) (*request.Request, error) {
	info, err := s.engine.Vault(vault)
	if err != nil {
		return nil, err
	}

	batchID, err := s.batches.CurrentBatchID(vault)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.Transfer(info.ShareAsset, user, ledger.EscrowAccount(vault), shares); err != nil {
		return nil, err
	}

	req, err := s.requests.Enqueue(vault, batchID, request.Unstake, user, shares, recipient)
	if err != nil {
		s.ledger.Transfer(info.ShareAsset, ledger.EscrowAccount(vault), user, shares)
		return nil, err
	}

	return req, nil
}

// Cancel unwinds a pending stake or unstake while its batch is still open
// and returns the escrowed tokens
func (s *StakingVault) Cancel(actor, requestID string) error {
	req, err := s.requests.Get(requestID)
	if err != nil {
		return err
	}
	if req.User != actor && !s.authority.HasCapability(actor, roles.Admin) {
		return fmt.Errorf("cancel by %s: %w", actor, kamerr.ErrUnauthorized)
	}

	info, err := s.engine.Vault(req.Vault)
	if err != nil {
		return err
	}

	var escrowAsset string
	switch req.Kind {
	case request.Stake:
		escrowAsset = info.Asset
	case request.Unstake:
		escrowAsset = info.ShareAsset
	default:
		return fmt.Errorf("request %s is a %s request, not stake/unstake", requestID, req.Kind)
	}

	cancelled, err := s.requests.Cancel(requestID)
	if err != nil {
		return err
	}

	if err := s.ledger.Transfer(escrowAsset, ledger.EscrowAccount(req.Vault), cancelled.User, cancelled.Amount); err != nil {
		return fmt.Errorf("refund escrow: %v", err)
	}

	return nil
}

// Claim finalizes a settled stake or unstake at the batch's settlement price
func (s *StakingVault) Claim(actor, requestID string) error {
	req, err := s.requests.Get(requestID)
	if err != nil {
		return err
	}
	if req.User != actor && req.Recipient != actor {
		return fmt.Errorf("claim by %s: %w", actor, kamerr.ErrUnauthorized)
	}

	info, err := s.engine.Vault(req.Vault)
	if err != nil {
		return err
	}

	price, err := s.engine.SettledPrice(req.Vault, req.BatchID)
	if err != nil {
		return err
	}

	switch req.Kind {
	case request.Stake:
		if _, err := s.requests.Claim(requestID); err != nil {
			return err
		}

		shares, err := s.pools.UserStakeSettle(req.Vault, req.Amount, price)
		if err != nil {
			return fmt.Errorf("stake settle: %v", err)
		}

		// Staked kTokens back the user pool from here on.
		if err := s.ledger.Transfer(info.Asset, ledger.EscrowAccount(req.Vault), ledger.UserPoolAccount(req.Vault), req.Amount); err != nil {
			return fmt.Errorf("move stake to user pool: %v", err)
		}
		if err := s.ledger.Mint(info.ShareAsset, req.Recipient, shares); err != nil {
			return fmt.Errorf("mint shares: %v", err)
		}
		return nil

	case request.Unstake:
		kTokens := previewUnstake(req.Amount, price)
		if s.ledger.BalanceOf(info.Asset, ledger.UserPoolAccount(req.Vault)) < kTokens {
			return fmt.Errorf("vault %s user pool cannot cover unstake of %d: %w",
				req.Vault, kTokens, kamerr.ErrInsufficientBalance)
		}

		if _, err := s.requests.Claim(requestID); err != nil {
			return err
		}

		out, err := s.pools.UserUnstakeSettle(req.Vault, req.Amount, price)
		if err != nil {
			return fmt.Errorf("unstake settle: %v", err)
		}

		if err := s.ledger.Burn(info.ShareAsset, ledger.EscrowAccount(req.Vault), req.Amount); err != nil {
			return fmt.Errorf("burn escrowed shares: %v", err)
		}
		if err := s.ledger.Transfer(info.Asset, ledger.UserPoolAccount(req.Vault), req.Recipient, out); err != nil {
			return fmt.Errorf("return kTokens: %v", err)
		}
		return nil

	default:
		return fmt.Errorf("request %s is a %s request, not stake/unstake", requestID, req.Kind)
	}
}

// previewUnstake mirrors the pool's floor arithmetic without mutating it
func previewUnstake(shares int64, price *big.Int) int64 {
	out := new(big.Int).Mul(big.NewInt(shares), price)
	out.Div(out, big.NewInt(pool.PriceScale))
	return out.Int64()
}
