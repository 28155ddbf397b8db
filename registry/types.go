// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import (
	"math/big"

	"github.com/WaleedMaghraby/burn-relayer/brn"
	"github.com/WaleedMaghraby/burn-relayer/fixpt"
)

// Record one registered relayer.
//
// Index always addresses a slot in the dense weight arrays and is reused on
// removal via swap-and-pop; consumers holding an array snapshot must re-verify
// it against the recorded content hash before trusting indices.
type Record struct {
	Address  brn.Address
	Stake    *big.Int
	Index    uint64
	Accounts []brn.Address
	Endpoint string

	// UnpaidProtocolReward native units accrued and not yet claimed.
	UnpaidProtocolReward *big.Int
}

// ScaledStake returns the bounded array weight of the record's stake.
func (r *Record) ScaledStake() uint32 {
	return brn.ScaleStake(r.Stake)
}

// IsAuthorized reports whether the account may forward on the relayer's behalf.
// The relayer's own address is always authorized.
func (r *Record) IsAuthorized(account brn.Address) bool {
	if account == r.Address {
		return true
	}
	for _, a := range r.Accounts {
		if a == account {
			return true
		}
	}
	return false
}

// WithdrawalInfo pending unstake of an unregistered relayer.
// At most one pending withdrawal per relayer at a time.
type WithdrawalInfo struct {
	Amount         *big.Int
	MinBlockNumber uint64
}

// DelegationPool per-relayer pool of delegated amounts plus accrued
// delegation rewards, owned proportionally by minted shares.
type DelegationPool struct {
	TotalAmount *big.Int // delegated amounts + delegation rewards, native units
	TotalShares *big.Int // fixpt raw
}

// SharePrice returns pool value per share. One when the pool is empty.
func (p *DelegationPool) SharePrice() fixpt.Decimal {
	shares := fixpt.FromRaw(p.TotalShares)
	if shares.IsZero() {
		return fixpt.FromUint64(1)
	}
	return fixpt.FromBigUnits(p.TotalAmount).Div(shares)
}

// Delegation a single delegator's position against one relayer.
type Delegation struct {
	Shares *big.Int // fixpt raw
}

// BlockClock provides the current block number. "Waiting" in the protocol is
// a minimum-block precondition checked at call time, never a scheduled task.
type BlockClock interface {
	BlockNumber() uint64
}

// Vault abstracts token custody, which is outside the accounting core.
type Vault interface {
	// Deposit pulls amount from the given account into custody.
	Deposit(from brn.Address, amount *big.Int) error
	// Transfer releases amount from custody to the given account.
	Transfer(to brn.Address, amount *big.Int) error
}

// NoopVault a Vault that accepts everything. Used when custody is handled
// out of process.
type NoopVault struct{}

func (NoopVault) Deposit(brn.Address, *big.Int) error  { return nil }
func (NoopVault) Transfer(brn.Address, *big.Int) error { return nil }

// Config protocol parameters of a registry instance.
type Config struct {
	WindowLength              uint64
	RelayersPerWindow         uint32
	MinimumStake              *big.Int
	WithdrawalDelayBlocks     uint64
	PenaltyDelayBlocks        uint64
	AbsencePenaltyBps         uint64
	RelayerUpdateDelayWindows uint64
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		WindowLength:              brn.WindowLength,
		RelayersPerWindow:         brn.RelayersPerWindow,
		MinimumStake:              new(big.Int).Set(brn.MinimumStake),
		WithdrawalDelayBlocks:     brn.WithdrawalDelayBlocks,
		PenaltyDelayBlocks:        brn.PenaltyDelayBlocks,
		AbsencePenaltyBps:         brn.AbsencePenaltyBps,
		RelayerUpdateDelayWindows: brn.RelayerUpdateDelayWindows,
	}
}
