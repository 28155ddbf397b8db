// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import (
	"math/big"

	"github.com/WaleedMaghraby/burn-relayer/brn"
)

// AccrueProtocolReward credits unpaid protocol rewards to a relayer.
// Fee collection itself happens outside the accounting core.
func (r *Registry) AccrueProtocolReward(relayer brn.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	rec, err := r.store.getRecord(relayer)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrUnknownRelayer
	}
	if rec.UnpaidProtocolReward == nil {
		rec.UnpaidProtocolReward = new(big.Int)
	}
	rec.UnpaidProtocolReward = new(big.Int).Add(rec.UnpaidProtocolReward, amount)
	return r.store.setRecord(rec)
}

// ClaimProtocolReward pays out and zeroes the relayer's accrued rewards.
func (r *Registry) ClaimProtocolReward(relayer brn.Address) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.getRecord(relayer)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrUnknownRelayer
	}
	amount := rec.UnpaidProtocolReward
	if amount == nil || amount.Sign() == 0 {
		return nil, ErrNoUnclaimedReward
	}

	if err := r.vault.Transfer(relayer, amount); err != nil {
		return nil, err
	}
	rec.UnpaidProtocolReward = new(big.Int)
	if err := r.store.setRecord(rec); err != nil {
		return nil, err
	}

	logger.Info("protocol reward claimed", "relayer", relayer, "amount", amount)
	return amount, nil
}
