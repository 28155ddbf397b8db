// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import (
	"math/big"

	"github.com/WaleedMaghraby/burn-relayer/brn"
	"github.com/WaleedMaghraby/burn-relayer/metrics"
	"github.com/WaleedMaghraby/burn-relayer/selection"
	"github.com/WaleedMaghraby/burn-relayer/weights"
)

var metricPenalties = metrics.LazyLoadCounter("registry_absence_penalties_total")

// ReporterProof is the reporter's claim of being selected for absence
// reporting in the current window.
type ReporterProof struct {
	Account  brn.Address
	Cdf      weights.CDF
	CdfIndex uint64
}

// AbsenceClaim identifies a historical selection the absentee failed to act on.
type AbsenceClaim struct {
	Relayer     brn.Address
	BlockNumber uint64
	Cdf         weights.CDF
	CdfIndex    uint64
	Iterations  []uint32
}

// unlockedRoster adapts the registry's unlocked internals to selection.Roster
// for use while the registry mutex is already held.
type unlockedRoster struct{ r *Registry }

func (u unlockedRoster) RelayerAt(slot uint64, window uint64) (brn.Address, error) {
	return u.r.relayerAt(slot, window)
}

func (u unlockedRoster) IsAuthorizedAccount(relayer brn.Address, account brn.Address) (bool, error) {
	rec, err := u.r.store.getRecord(relayer)
	if err != nil || rec == nil {
		return false, err
	}
	return rec.IsAuthorized(account), nil
}

// ProcessAbsenceProof slashes an absent relayer's stake and pays the penalty
// to the reporter. All preconditions must hold or the call fails with a
// precondition-specific error and no state change:
//
//   - the reporter is selected in the current window at the reserved
//     reporting iteration;
//   - the absentee's block is old enough and strictly before the current
//     window's start;
//   - the absentee was selected at its historical window, evaluated against
//     the logs active then, and is not marked present;
//   - the same absence has not been penalized before.
func (r *Registry) ProcessAbsenceProof(
	reporter ReporterProof,
	absentee AbsenceClaim,
	currentStakes weights.StakeArray,
	currentDelegations weights.DelegationArray,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	currentBlock := r.clock.BlockNumber()
	currentWindow := brn.WindowOfBlock(currentBlock, r.config.WindowLength)
	roster := unlockedRoster{r}

	// reporter must be selected now, claiming exactly the reserved iteration
	reporterIterations := []uint32{brn.ReporterIteration(r.config.RelayersPerWindow)}
	currentHash, err := r.cdfHashAt(currentWindow)
	if err != nil {
		return err
	}
	if reporter.Cdf.Hash() != currentHash {
		return ErrInvalidCdfArrayHash
	}
	if !selection.Verify(roster, reporter.Account, reporter.Cdf, reporter.CdfIndex, reporterIterations, currentWindow) {
		return ErrInvalidRelayerWindowForReporter
	}

	// the absentee's window must be settled
	if absentee.BlockNumber+r.config.PenaltyDelayBlocks > currentBlock {
		return ErrInvalidAbsenteeBlockNumber
	}
	if absentee.BlockNumber >= brn.WindowStart(currentWindow, r.config.WindowLength) {
		return ErrInvalidAbsenteeBlockNumber
	}
	absenteeWindow := brn.WindowOfBlock(absentee.BlockNumber, r.config.WindowLength)

	// the supplied historical CDF is only trusted via the history log
	absenteeHash, err := r.cdfHashAt(absenteeWindow)
	if err != nil {
		return err
	}
	if absentee.Cdf.Hash() != absenteeHash {
		return ErrInvalidCdfArrayHash
	}

	// the absentee must have been selected then. Account authorization is
	// deliberately not part of this check: the absentee may have unregistered
	// since, the occupancy log alone decides.
	if len(absentee.Iterations) == 0 {
		return ErrInvalidRelayerWindowForAbsentee
	}
	for _, it := range absentee.Iterations {
		target, ok := selection.Target(absentee.Cdf, absenteeWindow, it)
		if !ok || !absentee.Cdf.IntervalContains(int(absentee.CdfIndex), target) {
			return ErrInvalidRelayerWindowForAbsentee
		}
	}
	occupant, err := r.relayerAt(absentee.CdfIndex, absenteeWindow)
	if err != nil {
		return err
	}
	if occupant.IsZero() || occupant != absentee.Relayer {
		return ErrInvalidRelayerWindowForAbsentee
	}

	present, err := r.store.getAttendance(absenteeWindow, absentee.Relayer)
	if err != nil {
		return err
	}
	if present {
		return ErrAbsenteeWasPresent
	}

	penalized, err := r.store.isPenalized(absenteeWindow, absentee.Relayer)
	if err != nil {
		return err
	}
	if penalized {
		return ErrAbsenceAlreadyPenalized
	}

	if err := r.verifyArrays(currentStakes, currentDelegations); err != nil {
		return err
	}

	// penalty comes out of the live stake, or the pending withdrawal if the
	// absentee already unregistered
	var penalty *big.Int
	rec, err := r.store.getRecord(absentee.Relayer)
	if err != nil {
		return err
	}
	newStakes := currentStakes.Copy()
	switch {
	case rec != nil:
		penalty = penaltyAmount(rec.Stake, r.config.AbsencePenaltyBps)
		rec.Stake = new(big.Int).Sub(rec.Stake, penalty)
		if err := r.store.setRecord(rec); err != nil {
			return err
		}
		newStakes[rec.Index] = rec.ScaledStake()
	default:
		withdrawal, err := r.store.getWithdrawal(absentee.Relayer)
		if err != nil {
			return err
		}
		if withdrawal == nil || withdrawal.Amount == nil || withdrawal.Amount.Sign() == 0 {
			return ErrUnknownRelayer
		}
		penalty = penaltyAmount(withdrawal.Amount, r.config.AbsencePenaltyBps)
		withdrawal.Amount = new(big.Int).Sub(withdrawal.Amount, penalty)
		if err := r.store.setWithdrawal(absentee.Relayer, withdrawal); err != nil {
			return err
		}
	}

	if err := r.store.setPenalized(absenteeWindow, absentee.Relayer); err != nil {
		return err
	}
	if err := r.commitUpdate(newStakes, currentDelegations.Copy()); err != nil {
		return err
	}
	if err := r.vault.Transfer(reporter.Account, penalty); err != nil {
		return err
	}

	metricPenalties().Add(1)
	logger.Info("absence penalized",
		"absentee", absentee.Relayer,
		"window", absenteeWindow,
		"penalty", penalty,
		"reporter", reporter.Account,
	)
	return nil
}

// penaltyAmount is stake * bps / 10000, truncating toward zero.
func penaltyAmount(stake *big.Int, bps uint64) *big.Int {
	penalty := new(big.Int).Mul(stake, new(big.Int).SetUint64(bps))
	return penalty.Div(penalty, big.NewInt(10000))
}
