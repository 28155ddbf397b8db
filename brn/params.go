// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package brn

import "math/big"

// Constants of the relayer allocation protocol.
const (
	BlockInterval uint64 = 10 // time interval between two consecutive blocks, in seconds.

	// WindowLength number of consecutive blocks sharing one relayer-selection outcome.
	WindowLength uint64 = 10

	// RelayersPerWindow number of selection iterations per window. Iterations may
	// select the same relayer more than once.
	RelayersPerWindow uint32 = 3

	// CdfPrecision normalization ceiling of CDF entries.
	CdfPrecision uint64 = 65535

	// AbsencePenaltyBps penalty applied to an absent relayer's stake, in basis points.
	AbsencePenaltyBps uint64 = 250

	// WithdrawalDelayBlocks minimum number of blocks between unregistration and withdrawal.
	WithdrawalDelayBlocks uint64 = 8640

	// PenaltyDelayBlocks minimum age of a block before an absence at it can be reported.
	PenaltyDelayBlocks uint64 = 2 * WindowLength

	// RelayerUpdateDelayWindows number of windows a distribution update is deferred
	// before it takes effect for selection.
	RelayerUpdateDelayWindows uint64 = 1
)

var (
	// StakeScalingFactor divisor applied to native stake units to fit the
	// bounded integer width of the weight arrays.
	StakeScalingFactor = big.NewInt(1e18)

	// MinimumStake least native stake accepted at registration.
	MinimumStake = new(big.Int).Mul(big.NewInt(10000), big.NewInt(1e18))
)

// ReporterIteration returns the reserved selection iteration dedicated to
// absence reporting. It is one past the transaction-allocation iterations so
// reporter duty never collides with an allocation slot.
func ReporterIteration(relayersPerWindow uint32) uint32 {
	return relayersPerWindow
}

// WindowOfBlock maps a block number to its window index.
func WindowOfBlock(block, windowLength uint64) uint64 {
	return block / windowLength
}

// WindowStart returns the first block number of the given window.
func WindowStart(window, windowLength uint64) uint64 {
	return window * windowLength
}

// ScaleStake converts a native stake amount into its bounded array weight,
// truncating toward zero.
func ScaleStake(amount *big.Int) uint32 {
	if amount == nil || amount.Sign() <= 0 {
		return 0
	}
	scaled := new(big.Int).Div(amount, StakeScalingFactor)
	if !scaled.IsUint64() || scaled.Uint64() > 0xffffffff {
		return 0xffffffff
	}
	return uint32(scaled.Uint64())
}
