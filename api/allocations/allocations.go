// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package allocations

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/WaleedMaghraby/burn-relayer/allocation"
	"github.com/WaleedMaghraby/burn-relayer/api/restutil"
	"github.com/WaleedMaghraby/burn-relayer/brn"
	"github.com/WaleedMaghraby/burn-relayer/cache"
	"github.com/WaleedMaghraby/burn-relayer/registry"
	"github.com/WaleedMaghraby/burn-relayer/txstub"
	"github.com/WaleedMaghraby/burn-relayer/weights"
)

type selectionKey struct {
	window  uint64
	cdfHash brn.Bytes32
}

type selectionResult struct {
	Relayers   []brn.Address `json:"relayers"`
	CdfIndices []uint64      `json:"cdfIndices"`
	Window     uint64        `json:"window"`
}

type Allocations struct {
	reg    *registry.Registry
	engine *allocation.Engine
	buffer *txstub.Buffer

	// window selections are immutable once the window is current: updates
	// land at a later window, so caching by (window, cdfHash) is safe
	selected *cache.LRU
	sf       singleflight.Group
}

func New(reg *registry.Registry, engine *allocation.Engine, buffer *txstub.Buffer) *Allocations {
	selected, _ := cache.NewLRU(64)
	return &Allocations{
		reg:      reg,
		engine:   engine,
		buffer:   buffer,
		selected: selected,
	}
}

func convertError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, allocation.ErrInvalidCdfArrayHash),
		errors.Is(err, registry.ErrInvalidStakeArrayHash),
		errors.Is(err, registry.ErrInvalidDelegationArrayHash),
		errors.Is(err, registry.ErrInvalidCdfArrayHash):
		return restutil.Conflict(err)
	case errors.Is(err, allocation.ErrInvalidRelayerWindow),
		errors.Is(err, registry.ErrInvalidRelayerWindowForReporter),
		errors.Is(err, registry.ErrInvalidRelayerWindowForAbsentee),
		errors.Is(err, registry.ErrAbsenteeWasPresent),
		errors.Is(err, registry.ErrInvalidAbsenteeBlockNumber),
		errors.Is(err, registry.ErrAbsenceAlreadyPenalized):
		return restutil.Forbidden(err)
	case errors.Is(err, registry.ErrUnknownRelayer),
		errors.Is(err, registry.ErrUnknownAccount):
		return restutil.NotFound(err)
	case errors.Is(err, weights.ErrEmptyOrZeroWeightDistribution):
		return restutil.Forbidden(err)
	default:
		return err
	}
}

// windowCdf returns the CDF active at the current window, collapsing
// concurrent lookups into one. Mid-window mutations commit at a later window
// and do not invalidate it.
func (a *Allocations) windowCdf() (weights.CDF, uint64, error) {
	window := a.reg.CurrentWindow()
	cdf, err, _ := a.sf.Do(strconv.FormatUint(window, 10), func() (any, error) {
		return a.reg.CdfAt(window)
	})
	if err != nil {
		return nil, 0, err
	}
	if c := cdf.(weights.CDF); len(c) > 0 {
		return c, window, nil
	}
	return nil, 0, restutil.Forbidden(weights.ErrEmptyOrZeroWeightDistribution)
}

func (a *Allocations) handleGetCdf(w http.ResponseWriter, _ *http.Request) error {
	cdf, window, err := a.windowCdf()
	if err != nil {
		return convertError(err)
	}
	return restutil.WriteJSON(w, restutil.M{
		"cdf":    cdf,
		"hash":   cdf.Hash(),
		"window": window,
	})
}

func (a *Allocations) handleAllocateRelayers(w http.ResponseWriter, _ *http.Request) error {
	cdf, window, err := a.windowCdf()
	if err != nil {
		return convertError(err)
	}

	result, err := a.selected.GetOrLoad(selectionKey{window, cdf.Hash()}, func(any) (any, error) {
		relayers, indices, err := a.engine.AllocateRelayers(cdf)
		if err != nil {
			return nil, err
		}
		return &selectionResult{Relayers: relayers, CdfIndices: indices, Window: window}, nil
	})
	if err != nil {
		return convertError(err)
	}
	return restutil.WriteJSON(w, result)
}

type requestJSON struct {
	To    brn.Address           `json:"to"`
	Data  hexutil.Bytes         `json:"data"`
	Gas   uint64                `json:"gas"`
	Value *math.HexOrDecimal256 `json:"value"`
}

func (r *requestJSON) toRequest() *allocation.Request {
	return &allocation.Request{
		To:    r.To,
		Data:  r.Data,
		Gas:   r.Gas,
		Value: (*big.Int)(r.Value),
	}
}

func fromRequest(r *allocation.Request) requestJSON {
	return requestJSON{
		To:    r.To,
		Data:  r.Data,
		Gas:   r.Gas,
		Value: (*math.HexOrDecimal256)(r.Value),
	}
}

func (a *Allocations) handleSubmitRequest(w http.ResponseWriter, req *http.Request) error {
	var body requestJSON
	if err := restutil.ParseJSON(req.Body, &body); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	request := body.toRequest()
	accepted := a.buffer.Add(request)
	return restutil.WriteJSON(w, restutil.M{
		"accepted": accepted,
		"hash":     request.Hash(),
	})
}

func (a *Allocations) handleAllocateTransactions(w http.ResponseWriter, req *http.Request) error {
	account, err := brn.ParseAddress(mux.Vars(req)["account"])
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "account"))
	}
	cdf, window, err := a.windowCdf()
	if err != nil {
		return convertError(err)
	}

	pending := a.buffer.Pending(0)
	alloted, iterations, ownIndex, err := a.engine.AllocateTransactions(*account, pending, cdf)
	if err != nil {
		return convertError(err)
	}

	allotedJSON := make([]requestJSON, 0, len(alloted))
	for _, request := range alloted {
		allotedJSON = append(allotedJSON, fromRequest(request))
	}
	return restutil.WriteJSON(w, restutil.M{
		"alloted":           allotedJSON,
		"matchedIterations": iterations,
		"cdfIndex":          ownIndex,
		"cdf":               cdf,
		"window":            window,
	})
}

type executeJSON struct {
	Account    brn.Address   `json:"account"`
	Requests   []requestJSON `json:"requests"`
	Cdf        weights.CDF   `json:"cdf"`
	Iterations []uint32      `json:"iterations"`
	CdfIndex   uint64        `json:"cdfIndex"`
}

func (a *Allocations) handleExecute(w http.ResponseWriter, req *http.Request) error {
	var body executeJSON
	if err := restutil.ParseJSON(req.Body, &body); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}

	requests := make([]*allocation.Request, 0, len(body.Requests))
	for i := range body.Requests {
		requests = append(requests, body.Requests[i].toRequest())
	}

	successes, returnData, err := a.engine.Execute(body.Account, requests, body.Cdf, body.Iterations, body.CdfIndex)
	if err != nil {
		return convertError(err)
	}

	executed := make([]brn.Bytes32, 0, len(requests))
	data := make([]hexutil.Bytes, 0, len(returnData))
	for i, request := range requests {
		if successes[i] {
			executed = append(executed, request.Hash())
		}
		data = append(data, returnData[i])
	}
	a.buffer.Remove(executed)

	return restutil.WriteJSON(w, restutil.M{
		"successes":  successes,
		"returnData": data,
	})
}

type absenceJSON struct {
	Reporter struct {
		Account  brn.Address `json:"account"`
		Cdf      weights.CDF `json:"cdf"`
		CdfIndex uint64      `json:"cdfIndex"`
	} `json:"reporter"`
	Absentee struct {
		Relayer     brn.Address `json:"relayer"`
		BlockNumber uint64      `json:"blockNumber"`
		Cdf         weights.CDF `json:"cdf"`
		CdfIndex    uint64      `json:"cdfIndex"`
		Iterations  []uint32    `json:"iterations"`
	} `json:"absentee"`
	Current struct {
		Stakes      weights.StakeArray      `json:"stakes"`
		Delegations weights.DelegationArray `json:"delegations"`
	} `json:"current"`
}

func (a *Allocations) handleAbsenceProof(w http.ResponseWriter, req *http.Request) error {
	var body absenceJSON
	if err := restutil.ParseJSON(req.Body, &body); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}

	err := a.reg.ProcessAbsenceProof(
		registry.ReporterProof{
			Account:  body.Reporter.Account,
			Cdf:      body.Reporter.Cdf,
			CdfIndex: body.Reporter.CdfIndex,
		},
		registry.AbsenceClaim{
			Relayer:     body.Absentee.Relayer,
			BlockNumber: body.Absentee.BlockNumber,
			Cdf:         body.Absentee.Cdf,
			CdfIndex:    body.Absentee.CdfIndex,
			Iterations:  body.Absentee.Iterations,
		},
		body.Current.Stakes,
		body.Current.Delegations,
	)
	if err != nil {
		return convertError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (a *Allocations) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/cdf").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(a.handleGetCdf))
	sub.Path("/relayers").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(a.handleAllocateRelayers))
	sub.Path("/requests").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(a.handleSubmitRequest))
	sub.Path("/transactions/{account}").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(a.handleAllocateTransactions))
	sub.Path("/execute").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(a.handleExecute))
	sub.Path("/absence").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(a.handleAbsenceProof))
}
