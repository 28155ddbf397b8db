// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package selection implements the stake-weighted relayer selection engine.
//
// Selection is a pure function of (window index, iteration, CDF). No external
// randomness source is involved: the window-derived hash is unpredictable only
// until the window's block context is known, an accepted tradeoff.
package selection

import (
	"encoding/binary"

	"github.com/WaleedMaghraby/burn-relayer/brn"
	"github.com/WaleedMaghraby/burn-relayer/weights"
)

// Seed derives the deterministic base seed of a window.
func Seed(window uint64) brn.Bytes32 {
	var b8 [8]byte
	binary.BigEndian.PutUint64(b8[:], window)
	return brn.Blake2b(b8[:])
}

// iterationRand derives the pseudo-random value of an iteration from the
// window's base seed. H(seed, j)[:8].
func iterationRand(base brn.Bytes32, iteration uint32) uint64 {
	var b4 [4]byte
	binary.BigEndian.PutUint32(b4[:], iteration)
	return binary.BigEndian.Uint64(brn.Blake2b(base.Bytes(), b4[:]).Bytes())
}

// Target maps the iteration's pseudo-random value into the CDF's normalized
// range, (rand mod totalWeight) + 1. False returned on an empty distribution.
func Target(cdf weights.CDF, window uint64, iteration uint32) (uint64, bool) {
	total := cdf.TotalWeight()
	if total == 0 {
		return 0, false
	}
	return iterationRand(Seed(window), iteration)%total + 1, true
}

// Pick returns the relayer index selected at the given window and iteration.
// False returned on an empty distribution.
func Pick(cdf weights.CDF, window uint64, iteration uint32) (int, bool) {
	target, ok := Target(cdf, window, iteration)
	if !ok {
		return 0, false
	}
	index := cdf.Find(target)
	if index < 0 {
		return 0, false
	}
	return index, true
}

// SelectRelayers picks one relayer index per iteration 0..count-1.
// Duplicate indices across iterations are possible and preserved;
// deduplication is the caller's job.
func SelectRelayers(cdf weights.CDF, window uint64, count uint32) ([]int, bool) {
	indices := make([]int, 0, count)
	for j := uint32(0); j < count; j++ {
		index, ok := Pick(cdf, window, j)
		if !ok {
			return nil, false
		}
		indices = append(indices, index)
	}
	return indices, true
}

// Dedupe drops repeated iterations keeping first occurrences in order.
func Dedupe(iterations []uint32) []uint32 {
	seen := make(map[uint32]bool, len(iterations))
	deduped := make([]uint32, 0, len(iterations))
	for _, it := range iterations {
		if !seen[it] {
			seen[it] = true
			deduped = append(deduped, it)
		}
	}
	return deduped
}

// Roster resolves dense CDF indices to relayers as of a given window, and
// answers account authorization for a relayer.
type Roster interface {
	// RelayerAt returns the relayer occupying the dense slot at the window.
	RelayerAt(slot uint64, window uint64) (brn.Address, error)
	// IsAuthorizedAccount reports whether account may forward on behalf of relayer.
	IsAuthorizedAccount(relayer brn.Address, account brn.Address) (bool, error)
}

// Verify checks that a claimed selection is internally consistent:
// for every claimed iteration the recomputed target falls in cdfIndex's
// interval, cdfIndex resolves to a relayer at the target window, and the
// claimed account is authorized for that relayer.
//
// It returns false on any mismatch, never an error; fails closed.
func Verify(
	roster Roster,
	claimedAccount brn.Address,
	cdf weights.CDF,
	cdfIndex uint64,
	iterations []uint32,
	window uint64,
) bool {
	if len(iterations) == 0 || cdfIndex >= uint64(len(cdf)) {
		return false
	}

	for _, it := range iterations {
		target, ok := Target(cdf, window, it)
		if !ok {
			return false
		}
		if !cdf.IntervalContains(int(cdfIndex), target) {
			return false
		}
	}

	relayer, err := roster.RelayerAt(cdfIndex, window)
	if err != nil || relayer.IsZero() {
		return false
	}
	authorized, err := roster.IsAuthorizedAccount(relayer, claimedAccount)
	if err != nil {
		return false
	}
	return authorized
}
