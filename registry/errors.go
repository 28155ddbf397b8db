// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import "errors"

// Stale-state errors. The caller supplied an array that no longer matches
// recorded state: recoverable by refetching current state and retrying.
var (
	ErrInvalidStakeArrayHash      = errors.New("invalid stake array hash")
	ErrInvalidDelegationArrayHash = errors.New("invalid delegation array hash")
	ErrInvalidCdfArrayHash        = errors.New("invalid cdf array hash")
)

// Selection errors. A selection predicate failed: terminal for the call,
// not retriable with the same arguments.
var (
	ErrInvalidRelayerWindow            = errors.New("invalid relayer window")
	ErrInvalidRelayerWindowForReporter = errors.New("invalid relayer window for reporter")
	ErrInvalidRelayerWindowForAbsentee = errors.New("invalid relayer window for absentee")
)

// Resource errors. Precondition violations, terminal.
var (
	ErrNoAccountsProvided = errors.New("no accounts provided")
	ErrInsufficientStake  = errors.New("insufficient stake")
	ErrInvalidWithdrawal  = errors.New("invalid withdrawal")
	ErrUnknownRelayer     = errors.New("unknown relayer")
	ErrUnknownAccount     = errors.New("unknown account")
	ErrAlreadyRegistered  = errors.New("relayer already registered")
	ErrNoSuchDelegation   = errors.New("no such delegation")
	ErrNoUnclaimedReward  = errors.New("no unclaimed reward")
)

// Consistency errors. Logical contradiction in the claim being made,
// terminal; signals a malicious or mistaken reporter.
var (
	ErrAbsenteeWasPresent         = errors.New("absentee was present")
	ErrInvalidAbsenteeBlockNumber = errors.New("invalid absentee block number")
	ErrAbsenceAlreadyPenalized    = errors.New("absence already penalized")
)
