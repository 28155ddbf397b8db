// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package weights

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WaleedMaghraby/burn-relayer/brn"
)

func TestGenerateEqualStakes(t *testing.T) {
	// ten relayers with equal stake produce ten equal-width, strictly
	// increasing intervals summing to the normalization ceiling
	stakes := make(StakeArray, 10)
	delegations := make(DelegationArray, 10)
	for i := range stakes {
		stakes[i] = 10000
	}

	cdf, err := Generate(stakes, delegations)
	require.NoError(t, err)
	require.Len(t, cdf, 10)

	assert.Equal(t, brn.CdfPrecision, cdf.TotalWeight())
	for i := 1; i < len(cdf); i++ {
		assert.Greater(t, cdf[i], cdf[i-1])
	}
	width := uint64(cdf[0])
	for i := 1; i < len(cdf); i++ {
		w := uint64(cdf[i]) - uint64(cdf[i-1])
		// widths differ by at most one due to truncation
		assert.InDelta(t, float64(width), float64(w), 1)
	}
}

func TestGenerateMonotonic(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		n := rnd.Intn(20) + 1
		stakes := make(StakeArray, n)
		delegations := make(DelegationArray, n)
		for i := range stakes {
			stakes[i] = uint32(rnd.Intn(1 << 20))
			delegations[i] = uint32(rnd.Intn(1 << 20))
		}

		cdf, err := Generate(stakes, delegations)
		if err != nil {
			assert.ErrorIs(t, err, ErrEmptyOrZeroWeightDistribution)
			continue
		}
		for i := 1; i < len(cdf); i++ {
			assert.LessOrEqual(t, cdf[i-1], cdf[i])
		}
		assert.Equal(t, brn.CdfPrecision, cdf.TotalWeight())
	}
}

func TestGenerateDegenerate(t *testing.T) {
	_, err := Generate(StakeArray{}, DelegationArray{})
	assert.ErrorIs(t, err, ErrEmptyOrZeroWeightDistribution)

	_, err = Generate(StakeArray{0, 0}, DelegationArray{0, 0})
	assert.ErrorIs(t, err, ErrEmptyOrZeroWeightDistribution)

	_, err = Generate(StakeArray{1}, DelegationArray{})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestZeroWeightRelayerNeverSelectable(t *testing.T) {
	cdf, err := Generate(StakeArray{100, 0, 100}, DelegationArray{0, 0, 0})
	require.NoError(t, err)

	// middle relayer has a zero-width interval
	assert.Equal(t, cdf[0], cdf[1])
	for target := uint64(1); target <= cdf.TotalWeight(); target += 77 {
		assert.NotEqual(t, 1, cdf.Find(target))
	}
	assert.False(t, cdf.IntervalContains(1, uint64(cdf[1])))
}

func TestFindAndIntervalContains(t *testing.T) {
	cdf := CDF{100, 100, 300, 65535}

	assert.Equal(t, 0, cdf.Find(1))
	assert.Equal(t, 0, cdf.Find(100))
	assert.Equal(t, 2, cdf.Find(101))
	assert.Equal(t, 2, cdf.Find(300))
	assert.Equal(t, 3, cdf.Find(301))
	assert.Equal(t, 3, cdf.Find(65535))
	assert.Equal(t, -1, cdf.Find(65536))

	// boundary tie-break: strict lower bound, inclusive upper bound
	assert.True(t, cdf.IntervalContains(0, 100))
	assert.False(t, cdf.IntervalContains(2, 100))
	assert.True(t, cdf.IntervalContains(2, 101))
	assert.False(t, cdf.IntervalContains(0, 101))
	assert.False(t, cdf.IntervalContains(1, 100)) // zero width
	assert.False(t, cdf.IntervalContains(0, 0))
	assert.False(t, cdf.IntervalContains(-1, 1))
	assert.False(t, cdf.IntervalContains(4, 1))
}

func TestHashDetectsMutation(t *testing.T) {
	stakes := StakeArray{1, 2, 3}
	h := stakes.Hash()

	mutated := stakes.Copy()
	mutated[1] = 4
	assert.NotEqual(t, h, mutated.Hash())
	assert.Equal(t, h, stakes.Hash())

	// stake and delegation arrays with identical content hash alike,
	// the recorded hashes are tracked separately
	assert.Equal(t, h, DelegationArray{1, 2, 3}.Hash())
}

func TestCDFHash(t *testing.T) {
	cdf := CDF{10, 20, 65535}
	h := cdf.Hash()
	perturbed := append(CDF(nil), cdf...)
	perturbed[1] = 21
	assert.NotEqual(t, h, perturbed.Hash())
}
