// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package allocation

import (
	"math/big"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WaleedMaghraby/burn-relayer/brn"
	"github.com/WaleedMaghraby/burn-relayer/lvldb"
	"github.com/WaleedMaghraby/burn-relayer/registry"
	"github.com/WaleedMaghraby/burn-relayer/selection"
	"github.com/WaleedMaghraby/burn-relayer/weights"
)

type manualClock struct{ block uint64 }

func (c *manualClock) BlockNumber() uint64 { return c.block }

// newTestState registers three equally staked relayers and advances the clock
// past their update's effective window.
func newTestState(t *testing.T) (*registry.Registry, []brn.Address, weights.CDF) {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &manualClock{}
	reg, err := registry.New(db, clock, registry.NoopVault{}, registry.DefaultConfig())
	require.NoError(t, err)

	stake := new(big.Int).Mul(big.NewInt(10000), big.NewInt(1e18))
	relayers := []brn.Address{
		brn.BytesToAddress([]byte{1}),
		brn.BytesToAddress([]byte{2}),
		brn.BytesToAddress([]byte{3}),
	}
	for _, relayer := range relayers {
		stakes, err := reg.GetStakeArray()
		require.NoError(t, err)
		delegations, err := reg.GetDelegationArray()
		require.NoError(t, err)
		_, err = reg.Register(relayer, stakes, delegations, stake, []brn.Address{relayer}, "")
		require.NoError(t, err)
	}

	clock.block = 10 // window 1, where the distribution is active

	cdf, err := reg.GetCdfArray()
	require.NoError(t, err)
	return reg, relayers, cdf
}

func makeRequests(n int) []*Request {
	requests := make([]*Request, n)
	for i := range requests {
		requests[i] = &Request{
			To:    brn.BytesToAddress([]byte{0xee, byte(i)}),
			Data:  []byte{0xde, 0xad, byte(i)},
			Gas:   100_000,
			Value: big.NewInt(int64(i)),
		}
	}
	return requests
}

func TestAssignedIteration(t *testing.T) {
	requests := makeRequests(20)
	for _, request := range requests {
		j := AssignedIteration(request, brn.RelayersPerWindow)
		assert.Less(t, j, brn.RelayersPerWindow)
		assert.Equal(t, j, AssignedIteration(request, brn.RelayersPerWindow))
	}

	// content determines assignment
	a := &Request{Data: []byte{1}}
	b := &Request{Data: []byte{1}}
	assert.Equal(t, AssignedIteration(a, 100), AssignedIteration(b, 100))
}

func TestAllocateRelayers(t *testing.T) {
	reg, _, cdf := newTestState(t)
	engine := New(reg, nil)

	_, _, err := engine.AllocateRelayers(weights.CDF{1, 2})
	assert.ErrorIs(t, err, ErrInvalidCdfArrayHash)

	relayers, indices, err := engine.AllocateRelayers(cdf)
	require.NoError(t, err)
	require.Len(t, relayers, int(reg.RelayersPerWindow()))
	require.Len(t, indices, int(reg.RelayersPerWindow()))

	for j, relayer := range relayers {
		assert.False(t, relayer.IsZero())
		index, ok := selection.Pick(cdf, reg.CurrentWindow(), uint32(j))
		require.True(t, ok)
		assert.Equal(t, uint64(index), indices[j])
	}
}

func TestAllocateTransactionsPartition(t *testing.T) {
	reg, relayers, cdf := newTestState(t)
	engine := New(reg, nil)

	requests := makeRequests(10)

	claimed := make(map[brn.Bytes32]int)
	total := 0
	for _, relayer := range relayers {
		alloted, iterations, ownIndex, err := engine.AllocateTransactions(relayer, requests, cdf)
		require.NoError(t, err)
		assert.Equal(t, len(alloted), len(iterations))

		expectedIndex, err := reg.CdfIndexAt(relayer, reg.CurrentWindow())
		require.NoError(t, err)
		assert.Equal(t, expectedIndex, ownIndex)

		for _, request := range alloted {
			claimed[request.Hash()]++
		}
		total += len(alloted)
	}

	// every request claimed exactly once, across all relayers
	assert.Equal(t, 10, total)
	for _, n := range claimed {
		assert.Equal(t, 1, n)
	}
}

func TestAllocateTransactionsAfterSameWindowRemoval(t *testing.T) {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &manualClock{}
	reg, err := registry.New(db, clock, registry.NoopVault{}, registry.DefaultConfig())
	require.NoError(t, err)

	stake := new(big.Int).Mul(big.NewInt(10000), big.NewInt(1e18))
	for _, b := range []byte{1, 2, 3} {
		relayer := brn.BytesToAddress([]byte{b})
		stakes, err := reg.GetStakeArray()
		require.NoError(t, err)
		delegations, err := reg.GetDelegationArray()
		require.NoError(t, err)
		_, err = reg.Register(relayer, stakes, delegations, stake, []brn.Address{relayer}, "")
		require.NoError(t, err)
	}
	cdf, err := reg.GetCdfArray()
	require.NoError(t, err)

	// a window where some iteration selects the last dense slot
	const last = uint64(2)
	var (
		window uint64
		iter   uint32
		found  bool
	)
	for w := uint64(1); w < 200 && !found; w++ {
		for j := uint32(0); j < reg.RelayersPerWindow(); j++ {
			index, ok := selection.Pick(cdf, w, j)
			require.True(t, ok)
			if uint64(index) == last {
				window, iter, found = w, j, true
				break
			}
		}
	}
	require.True(t, found)
	clock.block = window * reg.Config().WindowLength

	caller, err := reg.RelayerAt(last, window)
	require.NoError(t, err)
	victim, err := reg.RelayerAt(0, window)
	require.NoError(t, err)
	require.NotEqual(t, caller, victim)

	// an unrelated removal within the window swaps the caller's live record
	// into the freed slot; the window's distribution must stay authoritative
	stakes, err := reg.GetStakeArray()
	require.NoError(t, err)
	delegations, err := reg.GetDelegationArray()
	require.NoError(t, err)
	require.NoError(t, reg.Unregister(victim, stakes, delegations))

	engine := New(reg, nil)
	alloted, _, ownIndex, err := engine.AllocateTransactions(caller, makeRequests(10), cdf)
	require.NoError(t, err)
	assert.Equal(t, last, ownIndex)

	_, _, err = engine.Execute(caller, alloted, cdf, []uint32{iter}, ownIndex)
	require.NoError(t, err)

	present, err := reg.WasPresent(window, caller)
	require.NoError(t, err)
	assert.True(t, present)
}

func TestAllocateTransactionsUnknownCaller(t *testing.T) {
	reg, _, cdf := newTestState(t)
	engine := New(reg, nil)

	_, _, _, err := engine.AllocateTransactions(brn.BytesToAddress([]byte{9}), makeRequests(1), cdf)
	assert.Error(t, err)
}

func TestExecute(t *testing.T) {
	reg, _, cdf := newTestState(t)

	var executed int
	engine := New(reg, func(r *Request) ([]byte, error) {
		executed++
		if r.Value.Int64()%2 == 1 {
			return nil, errors.New("downstream failure")
		}
		return []byte{0x01}, nil
	})

	// act as the relayer selected by iteration 0
	window := reg.CurrentWindow()
	index, ok := selection.Pick(cdf, window, 0)
	require.True(t, ok)
	caller, err := reg.RelayerAt(uint64(index), window)
	require.NoError(t, err)

	alloted, iterations, ownIndex, err := engine.AllocateTransactions(caller, makeRequests(10), cdf)
	require.NoError(t, err)
	require.NotEmpty(t, alloted)

	successes, returnData, err := engine.Execute(caller, alloted, cdf, selection.Dedupe(iterations), ownIndex)
	require.NoError(t, err)
	require.Len(t, successes, len(alloted))
	require.Len(t, returnData, len(alloted))
	assert.Equal(t, len(alloted), executed)

	for i, request := range alloted {
		if request.Value.Int64()%2 == 1 {
			assert.False(t, successes[i])
			assert.Nil(t, returnData[i])
		} else {
			assert.True(t, successes[i])
			assert.Equal(t, []byte{0x01}, returnData[i])
		}
	}

	// one failing request does not cost attendance credit
	present, err := reg.WasPresent(window, caller)
	require.NoError(t, err)
	assert.True(t, present)
}

func TestExecutePanickingDownstream(t *testing.T) {
	reg, _, cdf := newTestState(t)
	engine := New(reg, func(*Request) ([]byte, error) { panic("downstream exploded") })

	window := reg.CurrentWindow()
	index, ok := selection.Pick(cdf, window, 0)
	require.True(t, ok)
	caller, err := reg.RelayerAt(uint64(index), window)
	require.NoError(t, err)

	alloted, iterations, ownIndex, err := engine.AllocateTransactions(caller, makeRequests(10), cdf)
	require.NoError(t, err)
	require.NotEmpty(t, alloted)

	successes, _, err := engine.Execute(caller, alloted, cdf, selection.Dedupe(iterations), ownIndex)
	require.NoError(t, err)
	for _, ok := range successes {
		assert.False(t, ok)
	}
}

func TestExecuteRejectsCorruptedCdf(t *testing.T) {
	reg, _, cdf := newTestState(t)
	engine := New(reg, nil)

	window := reg.CurrentWindow()
	index, ok := selection.Pick(cdf, window, 0)
	require.True(t, ok)
	caller, err := reg.RelayerAt(uint64(index), window)
	require.NoError(t, err)

	alloted, iterations, ownIndex, err := engine.AllocateTransactions(caller, makeRequests(10), cdf)
	require.NoError(t, err)

	corrupted := make(weights.CDF, len(cdf))
	copy(corrupted, cdf)
	corrupted[0]++

	_, _, err = engine.Execute(caller, alloted, corrupted, selection.Dedupe(iterations), ownIndex)
	assert.ErrorIs(t, err, ErrInvalidCdfArrayHash)

	// attendance stays unset on a rejected call
	present, err := reg.WasPresent(window, caller)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestExecuteRejectsUnselectedCaller(t *testing.T) {
	reg, relayers, cdf := newTestState(t)
	engine := New(reg, nil)

	window := reg.CurrentWindow()

	// find a relayer not selected by iteration 0 and have it claim iteration 0
	index, ok := selection.Pick(cdf, window, 0)
	require.True(t, ok)
	selected, err := reg.RelayerAt(uint64(index), window)
	require.NoError(t, err)

	for _, imposter := range relayers {
		if imposter == selected {
			continue
		}
		ownIndex, err := reg.CdfIndexAt(imposter, window)
		require.NoError(t, err)
		_, _, err = engine.Execute(imposter, nil, cdf, []uint32{0}, ownIndex)
		assert.ErrorIs(t, err, ErrInvalidRelayerWindow)

		present, err := reg.WasPresent(window, imposter)
		require.NoError(t, err)
		assert.False(t, present)
		break
	}
}
