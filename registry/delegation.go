// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import (
	"math/big"

	"github.com/WaleedMaghraby/burn-relayer/brn"
	"github.com/WaleedMaghraby/burn-relayer/fixpt"
	"github.com/WaleedMaghraby/burn-relayer/weights"
)

// Delegate stakes amount behind a relayer, minting pool shares at the current
// share price. The relayer's delegation weight changes, so the caller must
// supply the current arrays and the distribution is re-committed.
func (r *Registry) Delegate(
	delegator brn.Address,
	relayer brn.Address,
	prevStakes weights.StakeArray,
	prevDelegations weights.DelegationArray,
	amount *big.Int,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInsufficientStake
	}
	if err := r.verifyArrays(prevStakes, prevDelegations); err != nil {
		return err
	}
	rec, err := r.store.getRecord(relayer)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrUnknownRelayer
	}

	if err := r.vault.Deposit(delegator, amount); err != nil {
		return err
	}

	pool, err := r.store.getPool(relayer)
	if err != nil {
		return err
	}
	// shares = amount / sharePrice, truncated toward zero
	minted := fixpt.FromBigUnits(amount).Div(pool.SharePrice())

	position, err := r.store.getDelegation(relayer, delegator)
	if err != nil {
		return err
	}
	if position == nil {
		position = &Delegation{Shares: new(big.Int)}
	}
	position.Shares = fixpt.FromRaw(position.Shares).Add(minted).Raw()
	pool.TotalAmount = new(big.Int).Add(pool.TotalAmount, amount)
	pool.TotalShares = fixpt.FromRaw(pool.TotalShares).Add(minted).Raw()

	if err := r.store.setDelegation(relayer, delegator, position); err != nil {
		return err
	}
	if err := r.store.setPool(relayer, pool); err != nil {
		return err
	}

	newDelegations := prevDelegations.Copy()
	newDelegations[rec.Index] = brn.ScaleStake(pool.TotalAmount)
	if err := r.commitUpdate(prevStakes.Copy(), newDelegations); err != nil {
		return err
	}

	logger.Info("delegated", "delegator", delegator, "relayer", relayer, "amount", amount)
	return nil
}

// Undelegate burns shares worth up to amount at the current share price and
// pays the proceeds out, delegation rewards included. An amount at or above
// the position's value exits it completely.
//
// The pool outlives its relayer: positions against an unregistered relayer
// remain redeemable, there is just no weight entry left to update.
func (r *Registry) Undelegate(
	delegator brn.Address,
	relayer brn.Address,
	prevStakes weights.StakeArray,
	prevDelegations weights.DelegationArray,
	amount *big.Int,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInsufficientStake
	}
	rec, err := r.store.getRecord(relayer)
	if err != nil {
		return err
	}
	if rec != nil {
		if err := r.verifyArrays(prevStakes, prevDelegations); err != nil {
			return err
		}
	}

	position, err := r.store.getDelegation(relayer, delegator)
	if err != nil {
		return err
	}
	if position == nil {
		if rec == nil {
			return ErrUnknownRelayer
		}
		return ErrNoSuchDelegation
	}

	pool, err := r.store.getPool(relayer)
	if err != nil {
		return err
	}
	price := pool.SharePrice()
	held := fixpt.FromRaw(position.Shares)

	burned := fixpt.FromBigUnits(amount).Div(price)
	if burned.Cmp(held) >= 0 {
		burned = held
	}
	payout := burned.Mul(price).BigUnits()

	remaining := held.Sub(burned)
	if remaining.IsZero() {
		if err := r.store.deleteDelegation(relayer, delegator); err != nil {
			return err
		}
	} else {
		position.Shares = remaining.Raw()
		if err := r.store.setDelegation(relayer, delegator, position); err != nil {
			return err
		}
	}

	pool.TotalShares = fixpt.FromRaw(pool.TotalShares).Sub(burned).Raw()
	pool.TotalAmount = new(big.Int).Sub(pool.TotalAmount, payout)
	if pool.TotalAmount.Sign() < 0 {
		pool.TotalAmount = new(big.Int)
	}
	if err := r.store.setPool(relayer, pool); err != nil {
		return err
	}

	if err := r.vault.Transfer(delegator, payout); err != nil {
		return err
	}

	if rec != nil {
		newDelegations := prevDelegations.Copy()
		newDelegations[rec.Index] = brn.ScaleStake(pool.TotalAmount)
		if err := r.commitUpdate(prevStakes.Copy(), newDelegations); err != nil {
			return err
		}
	}

	logger.Info("undelegated", "delegator", delegator, "relayer", relayer, "payout", payout)
	return nil
}

// GetDelegation returns the delegator's position value against a relayer at
// the current share price, zero if none.
func (r *Registry) GetDelegation(relayer, delegator brn.Address) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	position, err := r.store.getDelegation(relayer, delegator)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return new(big.Int), nil
	}
	pool, err := r.store.getPool(relayer)
	if err != nil {
		return nil, err
	}
	return fixpt.FromRaw(position.Shares).Mul(pool.SharePrice()).BigUnits(), nil
}

// AccrueDelegationReward adds amount to a relayer's delegation pool without
// minting shares, raising the share price for all current delegators.
// Called by the external fee collaborator.
func (r *Registry) AccrueDelegationReward(
	relayer brn.Address,
	prevStakes weights.StakeArray,
	prevDelegations weights.DelegationArray,
	amount *big.Int,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInsufficientStake
	}
	if err := r.verifyArrays(prevStakes, prevDelegations); err != nil {
		return err
	}
	rec, err := r.store.getRecord(relayer)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrUnknownRelayer
	}

	pool, err := r.store.getPool(relayer)
	if err != nil {
		return err
	}
	pool.TotalAmount = new(big.Int).Add(pool.TotalAmount, amount)
	if err := r.store.setPool(relayer, pool); err != nil {
		return err
	}

	newDelegations := prevDelegations.Copy()
	newDelegations[rec.Index] = brn.ScaleStake(pool.TotalAmount)
	return r.commitUpdate(prevStakes.Copy(), newDelegations)
}
