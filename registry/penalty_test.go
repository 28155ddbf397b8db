// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WaleedMaghraby/burn-relayer/brn"
	"github.com/WaleedMaghraby/burn-relayer/selection"
	"github.com/WaleedMaghraby/burn-relayer/weights"
)

// reporterProofAt recomputes the reserved-iteration selection for the current
// window and returns a valid reporter proof for it.
func reporterProofAt(t *testing.T, r *Registry, window uint64) ReporterProof {
	cdf, err := r.GetCdfArray()
	require.NoError(t, err)
	hash, err := r.CdfHashAt(window)
	require.NoError(t, err)
	require.Equal(t, cdf.Hash(), hash, "test setup: cdf must be active at the window")

	target, ok := selection.Target(cdf, window, brn.ReporterIteration(r.RelayersPerWindow()))
	require.True(t, ok)
	index := cdf.Find(target)
	require.True(t, index >= 0)

	relayer, err := r.RelayerAt(uint64(index), window)
	require.NoError(t, err)
	require.False(t, relayer.IsZero())

	return ReporterProof{Account: relayer, Cdf: cdf, CdfIndex: uint64(index)}
}

// absenceClaimAt builds the claim for whichever relayer iteration 0 selected
// at the given historical window.
func absenceClaimAt(t *testing.T, r *Registry, cdf weights.CDF, window, block uint64) AbsenceClaim {
	target, ok := selection.Target(cdf, window, 0)
	require.True(t, ok)
	index := cdf.Find(target)
	require.True(t, index >= 0)

	relayer, err := r.RelayerAt(uint64(index), window)
	require.NoError(t, err)
	require.False(t, relayer.IsZero())

	return AbsenceClaim{
		Relayer:     relayer,
		BlockNumber: block,
		Cdf:         cdf,
		CdfIndex:    uint64(index),
		Iterations:  []uint32{0},
	}
}

func TestProcessAbsenceProof(t *testing.T) {
	r, clock := newTestRegistry(t)
	r1, r2 := addr(1), addr(2)
	mustRegister(t, r, r1, units(10000))
	mustRegister(t, r, r2, units(10000))

	historicalCdf, err := r.GetCdfArray()
	require.NoError(t, err)

	clock.block = 40 // window 4; windows 1..3 are settled
	reporter := reporterProofAt(t, r, 4)
	claim := absenceClaimAt(t, r, historicalCdf, 1, 10)

	stakes, delegations := liveArrays(t, r)
	absRecBefore, err := r.GetRecord(claim.Relayer)
	require.NoError(t, err)

	require.NoError(t, r.ProcessAbsenceProof(reporter, claim, stakes, delegations))

	// 250 bps of a 10000-unit stake
	rec, err := r.GetRecord(claim.Relayer)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Sub(absRecBefore.Stake, units(250)), rec.Stake)

	newStakes, _ := liveArrays(t, r)
	assert.Equal(t, uint32(9750), newStakes[rec.Index])

	// the same absence cannot be reported twice
	err = r.ProcessAbsenceProof(reporter, claim, newStakes, delegations)
	assert.ErrorIs(t, err, ErrAbsenceAlreadyPenalized)
}

func TestProcessAbsenceProofPreconditions(t *testing.T) {
	r, clock := newTestRegistry(t)
	r1, r2 := addr(1), addr(2)
	mustRegister(t, r, r1, units(10000))
	mustRegister(t, r, r2, units(10000))

	historicalCdf, err := r.GetCdfArray()
	require.NoError(t, err)

	clock.block = 40
	reporter := reporterProofAt(t, r, 4)
	claim := absenceClaimAt(t, r, historicalCdf, 1, 10)
	stakes, delegations := liveArrays(t, r)

	// reporter claiming the wrong interval
	badReporter := reporter
	badReporter.CdfIndex = 1 - reporter.CdfIndex
	err = r.ProcessAbsenceProof(badReporter, claim, stakes, delegations)
	assert.ErrorIs(t, err, ErrInvalidRelayerWindowForReporter)

	// reporter presenting a cdf not active at the current window
	badReporter = reporter
	badReporter.Cdf = weights.CDF{1}
	err = r.ProcessAbsenceProof(badReporter, claim, stakes, delegations)
	assert.ErrorIs(t, err, ErrInvalidCdfArrayHash)

	// block too recent to be settled
	badClaim := claim
	badClaim.BlockNumber = 35
	err = r.ProcessAbsenceProof(reporter, badClaim, stakes, delegations)
	assert.ErrorIs(t, err, ErrInvalidAbsenteeBlockNumber)

	// claim for the wrong interval of the historical cdf
	badClaim = claim
	badClaim.CdfIndex = 1 - claim.CdfIndex
	err = r.ProcessAbsenceProof(reporter, badClaim, stakes, delegations)
	assert.ErrorIs(t, err, ErrInvalidRelayerWindowForAbsentee)

	// no iterations claimed at all
	badClaim = claim
	badClaim.Iterations = nil
	err = r.ProcessAbsenceProof(reporter, badClaim, stakes, delegations)
	assert.ErrorIs(t, err, ErrInvalidRelayerWindowForAbsentee)

	// stale current arrays
	err = r.ProcessAbsenceProof(reporter, claim, weights.StakeArray{1}, delegations)
	assert.ErrorIs(t, err, ErrInvalidStakeArrayHash)

	// the absentee showed up after all
	require.NoError(t, r.MarkAttendance(1, claim.Relayer))
	err = r.ProcessAbsenceProof(reporter, claim, stakes, delegations)
	assert.ErrorIs(t, err, ErrAbsenteeWasPresent)
}

func TestProcessAbsenceProofOnWithdrawal(t *testing.T) {
	r, clock := newTestRegistry(t)
	r1, r2 := addr(1), addr(2)
	mustRegister(t, r, r1, units(10000))
	mustRegister(t, r, r2, units(10000))

	historicalCdf, err := r.GetCdfArray()
	require.NoError(t, err)

	clock.block = 45
	claim := absenceClaimAt(t, r, historicalCdf, 1, 10)

	// the absentee unregisters before being reported
	stakes, delegations := liveArrays(t, r)
	require.NoError(t, r.Unregister(claim.Relayer, stakes, delegations))

	clock.block = 60 // window 6, past the unregistration's effective window
	reporter := reporterProofAt(t, r, 6)
	stakes, delegations = liveArrays(t, r)

	require.NoError(t, r.ProcessAbsenceProof(reporter, claim, stakes, delegations))

	// penalty came out of the pending withdrawal
	withdrawal, err := r.GetWithdrawal(claim.Relayer)
	require.NoError(t, err)
	require.NotNil(t, withdrawal)
	assert.Equal(t, units(9750), withdrawal.Amount)
}
