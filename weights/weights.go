// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package weights holds the dense per-relayer weight arrays and the cumulative
// distribution derived from them.
//
// Full arrays are only persisted for the current distribution; callers of
// mutating operations supply the arrays they believe are current, and the
// content hash is what authenticates them.
package weights

import (
	"errors"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/WaleedMaghraby/burn-relayer/brn"
)

// ErrEmptyOrZeroWeightDistribution returned when a CDF is requested over no
// relayers or a distribution whose total weight is zero.
var ErrEmptyOrZeroWeightDistribution = errors.New("empty or zero weight distribution")

// ErrLengthMismatch returned when stake and delegation arrays disagree in length.
var ErrLengthMismatch = errors.New("stake and delegation array length mismatch")

// StakeArray scaled per-relayer stake weights, one entry per dense relayer index.
type StakeArray []uint32

// DelegationArray scaled per-relayer delegation weights, parallel to StakeArray.
type DelegationArray []uint32

// CDF cumulative distribution over combined stake+delegation weights,
// normalized to [0, brn.CdfPrecision]. Non-decreasing by construction.
type CDF []uint16

// Hash computes the content hash of the array.
func (a StakeArray) Hash() brn.Bytes32 {
	return hashWeights([]uint32(a))
}

// Copy returns a detached copy of the array.
func (a StakeArray) Copy() StakeArray {
	return append(StakeArray(nil), a...)
}

// Hash computes the content hash of the array.
func (a DelegationArray) Hash() brn.Bytes32 {
	return hashWeights([]uint32(a))
}

// Copy returns a detached copy of the array.
func (a DelegationArray) Copy() DelegationArray {
	return append(DelegationArray(nil), a...)
}

// Hash computes the content hash of the CDF.
func (c CDF) Hash() brn.Bytes32 {
	data, err := rlp.EncodeToBytes([]uint16(c))
	if err != nil {
		// fixed-shape input, cannot fail
		panic(err)
	}
	return brn.Blake2b(data)
}

func hashWeights(w []uint32) brn.Bytes32 {
	data, err := rlp.EncodeToBytes(w)
	if err != nil {
		panic(err)
	}
	return brn.Blake2b(data)
}

// TotalWeight returns the normalized grand total, i.e. the last entry.
func (c CDF) TotalWeight() uint64 {
	if len(c) == 0 {
		return 0
	}
	return uint64(c[len(c)-1])
}

// Find returns the smallest index whose cumulative value is >= target.
// -1 returned if target exceeds the total weight.
func (c CDF) Find(target uint64) int {
	lo, hi := 0, len(c)
	for lo < hi {
		mid := (lo + hi) / 2
		if uint64(c[mid]) >= target {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == len(c) {
		return -1
	}
	return lo
}

// IntervalContains reports whether target falls in index's selection interval:
// cdf[index-1] < target <= cdf[index]. Zero-width intervals contain nothing.
func (c CDF) IntervalContains(index int, target uint64) bool {
	if index < 0 || index >= len(c) {
		return false
	}
	if target > uint64(c[index]) {
		return false
	}
	if index > 0 && target <= uint64(c[index-1]) {
		return false
	}
	return target > 0
}

// Generate builds the CDF over elementwise combined stake and delegation
// weights, scaling the running total into [0, brn.CdfPrecision] proportional
// to the grand total.
//
// A relayer with zero combined weight produces a zero-width interval: never
// selectable, but present to preserve index alignment.
func Generate(stakes StakeArray, delegations DelegationArray) (CDF, error) {
	if len(stakes) != len(delegations) {
		return nil, ErrLengthMismatch
	}
	if len(stakes) == 0 {
		return nil, ErrEmptyOrZeroWeightDistribution
	}

	var total uint64
	for i := range stakes {
		total += uint64(stakes[i]) + uint64(delegations[i])
	}
	if total == 0 {
		return nil, ErrEmptyOrZeroWeightDistribution
	}

	cdf := make(CDF, len(stakes))
	var running uint64
	for i := range stakes {
		running += uint64(stakes[i]) + uint64(delegations[i])
		cdf[i] = uint16(running * brn.CdfPrecision / total)
	}
	return cdf, nil
}
