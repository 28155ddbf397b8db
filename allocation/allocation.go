// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package allocation partitions a window's candidate transactions across the
// window's selected relayers. Which relayer may act on which transaction is
// fixed before anything executes, so relayers never need to coordinate.
package allocation

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/WaleedMaghraby/burn-relayer/brn"
	"github.com/WaleedMaghraby/burn-relayer/log"
	"github.com/WaleedMaghraby/burn-relayer/metrics"
	"github.com/WaleedMaghraby/burn-relayer/selection"
	"github.com/WaleedMaghraby/burn-relayer/weights"
)

var logger = log.WithContext("pkg", "allocation")

var (
	metricExecuted = metrics.LazyLoadCounterVec("allocation_executed_total", []string{"outcome"})
	metricAlloted  = metrics.LazyLoadCounter("allocation_alloted_total")
)

var (
	// ErrInvalidCdfArrayHash means the supplied CDF disagrees with the hash
	// recorded for the current window. Refetch and retry.
	ErrInvalidCdfArrayHash = errors.New("invalid cdf array hash")
	// ErrInvalidRelayerWindow means the caller is not selected for any of the
	// claimed iterations at the current window. Terminal for these arguments.
	ErrInvalidRelayerWindow = errors.New("invalid relayer window")
)

// Request is a candidate transaction awaiting relay.
type Request struct {
	To    brn.Address
	Data  []byte
	Gas   uint64
	Value *big.Int
}

// Hash returns the content hash of the request.
func (r *Request) Hash() brn.Bytes32 {
	encoded, err := rlp.EncodeToBytes(r)
	if err != nil {
		// all Request fields are RLP-encodable
		panic(errors.Wrap(err, "rlp encode request"))
	}
	return brn.Blake2b(encoded)
}

// AssignedIteration maps a request to the selection iteration responsible for
// it. Pure in the request content, so every relayer computes the same
// partition independently.
func AssignedIteration(r *Request, relayersPerWindow uint32) uint32 {
	h := r.Hash()
	return uint32(binary.BigEndian.Uint64(h.Bytes()[:8]) % uint64(relayersPerWindow))
}

// State is the accounting state the engine allocates against.
type State interface {
	selection.Roster

	CurrentWindow() uint64
	RelayersPerWindow() uint32
	CdfHashAt(window uint64) (brn.Bytes32, error)
	RelayerOfAccount(account brn.Address) (brn.Address, error)
	CdfIndexAt(relayer brn.Address, window uint64) (uint64, error)
	MarkAttendance(window uint64, relayer brn.Address) error
}

// Executor performs the bounded downstream call of a single alloted request.
type Executor func(*Request) ([]byte, error)

// Engine allocates transactions and gates their execution.
type Engine struct {
	state State
	exec  Executor
}

// New creates an engine over the given state. exec may be nil, in which case
// Execute accepts every request without a downstream call.
func New(state State, exec Executor) *Engine {
	if exec == nil {
		exec = func(*Request) ([]byte, error) { return nil, nil }
	}
	return &Engine{state: state, exec: exec}
}

// checkCdf validates a caller-supplied CDF against the hash recorded for the
// window.
func (e *Engine) checkCdf(cdf weights.CDF, window uint64) error {
	recorded, err := e.state.CdfHashAt(window)
	if err != nil {
		return err
	}
	if recorded.IsZero() || cdf.Hash() != recorded {
		return ErrInvalidCdfArrayHash
	}
	return nil
}

// AllocateRelayers returns the relayer selected by each iteration of the
// current window, and the dense CDF index each resolved through. Duplicates
// across iterations are preserved.
func (e *Engine) AllocateRelayers(cdf weights.CDF) ([]brn.Address, []uint64, error) {
	window := e.state.CurrentWindow()
	if err := e.checkCdf(cdf, window); err != nil {
		return nil, nil, err
	}

	indices, ok := selection.SelectRelayers(cdf, window, e.state.RelayersPerWindow())
	if !ok {
		return nil, nil, ErrInvalidRelayerWindow
	}

	relayers := make([]brn.Address, 0, len(indices))
	cdfIndices := make([]uint64, 0, len(indices))
	for _, index := range indices {
		relayer, err := e.state.RelayerAt(uint64(index), window)
		if err != nil {
			return nil, nil, err
		}
		relayers = append(relayers, relayer)
		cdfIndices = append(cdfIndices, uint64(index))
	}
	return relayers, cdfIndices, nil
}

// AllocateTransactions filters requests down to the subset assigned to the
// calling account's relayer in the current window. The match is by relayer
// identity, not iteration index: two iterations selecting the same relayer
// both contribute their requests, and no request is ever assigned to two
// relayers. Zero matches is a valid outcome.
//
// Returns the alloted subset, the iterations that produced a match (callers
// dedupe before Execute) and the caller's own dense CDF index at the window,
// which Execute verifies against the occupancy history.
func (e *Engine) AllocateTransactions(
	callingAccount brn.Address,
	requests []*Request,
	cdf weights.CDF,
) ([]*Request, []uint32, uint64, error) {
	window := e.state.CurrentWindow()
	if err := e.checkCdf(cdf, window); err != nil {
		return nil, nil, 0, err
	}

	own, err := e.state.RelayerOfAccount(callingAccount)
	if err != nil {
		return nil, nil, 0, err
	}
	ownIndex, err := e.state.CdfIndexAt(own, window)
	if err != nil {
		return nil, nil, 0, err
	}

	// relayer of every iteration, resolved once
	k := e.state.RelayersPerWindow()
	iterationRelayer := make([]brn.Address, k)
	for j := uint32(0); j < k; j++ {
		index, ok := selection.Pick(cdf, window, j)
		if !ok {
			return nil, nil, 0, ErrInvalidRelayerWindow
		}
		relayer, err := e.state.RelayerAt(uint64(index), window)
		if err != nil {
			return nil, nil, 0, err
		}
		iterationRelayer[j] = relayer
	}

	var (
		alloted    []*Request
		iterations []uint32
	)
	for _, request := range requests {
		j := AssignedIteration(request, k)
		if iterationRelayer[j] == own {
			alloted = append(alloted, request)
			iterations = append(iterations, j)
		}
	}

	metricAlloted().Add(int64(len(alloted)))
	return alloted, iterations, ownIndex, nil
}

// Execute re-verifies the caller's selection and runs each alloted request.
// Individual requests may fail without aborting the batch; the outcome of
// each is reported in order. Attendance is marked exactly once for the
// window, regardless of how many requests succeeded.
func (e *Engine) Execute(
	callingAccount brn.Address,
	alloted []*Request,
	cdf weights.CDF,
	dedupedIterations []uint32,
	claimedCdfIndex uint64,
) ([]bool, [][]byte, error) {
	window := e.state.CurrentWindow()
	if err := e.checkCdf(cdf, window); err != nil {
		return nil, nil, err
	}
	if !selection.Verify(e.state, callingAccount, cdf, claimedCdfIndex, dedupedIterations, window) {
		return nil, nil, ErrInvalidRelayerWindow
	}

	relayer, err := e.state.RelayerOfAccount(callingAccount)
	if err != nil {
		return nil, nil, err
	}

	successes := make([]bool, len(alloted))
	returnData := make([][]byte, len(alloted))
	for i, request := range alloted {
		data, err := e.runOne(request)
		if err != nil {
			logger.Debug("request failed", "to", request.To, "err", err)
			metricExecuted().AddWithLabel(1, map[string]string{"outcome": "failed"})
			continue
		}
		successes[i] = true
		returnData[i] = data
		metricExecuted().AddWithLabel(1, map[string]string{"outcome": "ok"})
	}

	if err := e.state.MarkAttendance(window, relayer); err != nil {
		return nil, nil, err
	}
	logger.Debug("batch executed", "window", window, "relayer", relayer, "requests", len(alloted))
	return successes, returnData, nil
}

// runOne executes a single request, converting a downstream panic into a
// per-request failure so one bad call cannot take down the batch.
func (e *Engine) runOne(request *Request) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("request panicked: %v", r)
		}
	}()
	return e.exec(request)
}
