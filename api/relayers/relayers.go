// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package relayers

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/WaleedMaghraby/burn-relayer/api/restutil"
	"github.com/WaleedMaghraby/burn-relayer/brn"
	"github.com/WaleedMaghraby/burn-relayer/registry"
	"github.com/WaleedMaghraby/burn-relayer/weights"
)

type Relayers struct {
	reg *registry.Registry
}

func New(reg *registry.Registry) *Relayers {
	return &Relayers{reg}
}

// convertError maps registry sentinels onto http statuses. Stale-state
// conflicts are retriable after a refetch, so they get 409 rather than 400.
func convertError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrInvalidStakeArrayHash),
		errors.Is(err, registry.ErrInvalidDelegationArrayHash),
		errors.Is(err, registry.ErrInvalidCdfArrayHash),
		errors.Is(err, registry.ErrAlreadyRegistered):
		return restutil.Conflict(err)
	case errors.Is(err, registry.ErrNoAccountsProvided),
		errors.Is(err, registry.ErrInsufficientStake):
		return restutil.BadRequest(err)
	case errors.Is(err, registry.ErrUnknownRelayer),
		errors.Is(err, registry.ErrUnknownAccount),
		errors.Is(err, registry.ErrNoSuchDelegation):
		return restutil.NotFound(err)
	case errors.Is(err, registry.ErrInvalidWithdrawal),
		errors.Is(err, registry.ErrNoUnclaimedReward):
		return restutil.Forbidden(err)
	default:
		return err
	}
}

type arraysJSON struct {
	Stakes      weights.StakeArray      `json:"stakes"`
	Delegations weights.DelegationArray `json:"delegations"`
}

type registerJSON struct {
	Relayer  brn.Address           `json:"relayer"`
	Prev     arraysJSON            `json:"prev"`
	Stake    *math.HexOrDecimal256 `json:"stake"`
	Accounts []brn.Address         `json:"accounts"`
	Endpoint string                `json:"endpoint"`
}

type recordJSON struct {
	// checksummed for contract-parity display
	Address              string                `json:"address"`
	Stake                *math.HexOrDecimal256 `json:"stake"`
	Index                uint64                `json:"index"`
	Accounts             []brn.Address         `json:"accounts"`
	Endpoint             string                `json:"endpoint"`
	UnpaidProtocolReward *math.HexOrDecimal256 `json:"unpaidProtocolReward"`
}

func toHex(v *big.Int) *math.HexOrDecimal256 {
	if v == nil {
		v = new(big.Int)
	}
	return (*math.HexOrDecimal256)(v)
}

func fromHex(v *math.HexOrDecimal256) *big.Int {
	if v == nil {
		return nil
	}
	return (*big.Int)(v)
}

func parseAddressVar(req *http.Request, name string) (brn.Address, error) {
	addr, err := brn.ParseAddress(mux.Vars(req)[name])
	if err != nil {
		return brn.Address{}, restutil.BadRequest(errors.WithMessage(err, name))
	}
	return *addr, nil
}

func (r *Relayers) handleRegister(w http.ResponseWriter, req *http.Request) error {
	var body registerJSON
	if err := restutil.ParseJSON(req.Body, &body); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	relayer, err := r.reg.Register(
		body.Relayer,
		body.Prev.Stakes,
		body.Prev.Delegations,
		fromHex(body.Stake),
		body.Accounts,
		body.Endpoint,
	)
	if err != nil {
		return convertError(err)
	}
	return restutil.WriteJSON(w, restutil.M{"relayer": relayer})
}

func (r *Relayers) handleUnregister(w http.ResponseWriter, req *http.Request) error {
	relayer, err := parseAddressVar(req, "address")
	if err != nil {
		return err
	}
	var body arraysJSON
	if err := restutil.ParseJSON(req.Body, &body); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	if err := r.reg.Unregister(relayer, body.Stakes, body.Delegations); err != nil {
		return convertError(err)
	}
	withdrawal, err := r.reg.GetWithdrawal(relayer)
	if err != nil {
		return err
	}
	return restutil.WriteJSON(w, restutil.M{
		"amount":         toHex(withdrawal.Amount),
		"minBlockNumber": withdrawal.MinBlockNumber,
	})
}

func (r *Relayers) handleWithdraw(w http.ResponseWriter, req *http.Request) error {
	relayer, err := parseAddressVar(req, "address")
	if err != nil {
		return err
	}
	if err := r.reg.Withdraw(relayer); err != nil {
		return convertError(err)
	}
	return restutil.WriteJSON(w, restutil.M{"withdrawn": true})
}

func (r *Relayers) handleGetRelayer(w http.ResponseWriter, req *http.Request) error {
	relayer, err := parseAddressVar(req, "address")
	if err != nil {
		return err
	}
	rec, err := r.reg.GetRecord(relayer)
	if err != nil {
		return err
	}
	if rec == nil {
		return restutil.NotFound(errors.New("no such relayer"))
	}
	return restutil.WriteJSON(w, recordJSON{
		Address:              rec.Address.Checksummed(),
		Stake:                toHex(rec.Stake),
		Index:                rec.Index,
		Accounts:             rec.Accounts,
		Endpoint:             rec.Endpoint,
		UnpaidProtocolReward: toHex(rec.UnpaidProtocolReward),
	})
}

func (r *Relayers) handleListRelayers(w http.ResponseWriter, _ *http.Request) error {
	recs, err := r.reg.ListRecords()
	if err != nil {
		return err
	}
	out := make([]recordJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordJSON{
			Address:              rec.Address.Checksummed(),
			Stake:                toHex(rec.Stake),
			Index:                rec.Index,
			Accounts:             rec.Accounts,
			Endpoint:             rec.Endpoint,
			UnpaidProtocolReward: toHex(rec.UnpaidProtocolReward),
		})
	}
	return restutil.WriteJSON(w, out)
}

func (r *Relayers) handleSetAccounts(w http.ResponseWriter, req *http.Request) error {
	relayer, err := parseAddressVar(req, "address")
	if err != nil {
		return err
	}
	var body struct {
		Accounts []brn.Address `json:"accounts"`
		Status   []bool        `json:"status"`
	}
	if err := restutil.ParseJSON(req.Body, &body); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	if err := r.reg.SetAccountsStatus(relayer, body.Accounts, body.Status); err != nil {
		return convertError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (r *Relayers) handleGetArrays(w http.ResponseWriter, _ *http.Request) error {
	stakes, err := r.reg.GetStakeArray()
	if err != nil {
		return err
	}
	delegations, err := r.reg.GetDelegationArray()
	if err != nil {
		return err
	}
	return restutil.WriteJSON(w, arraysJSON{Stakes: stakes, Delegations: delegations})
}

func (r *Relayers) handleGetCdf(w http.ResponseWriter, _ *http.Request) error {
	cdf, err := r.reg.GetCdfArray()
	if err != nil {
		return convertError(err)
	}
	return restutil.WriteJSON(w, restutil.M{
		"cdf":  cdf,
		"hash": cdf.Hash(),
	})
}

func (r *Relayers) handleDelegate(w http.ResponseWriter, req *http.Request) error {
	relayer, err := parseAddressVar(req, "address")
	if err != nil {
		return err
	}
	var body struct {
		Delegator brn.Address           `json:"delegator"`
		Prev      arraysJSON            `json:"prev"`
		Amount    *math.HexOrDecimal256 `json:"amount"`
	}
	if err := restutil.ParseJSON(req.Body, &body); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	if err := r.reg.Delegate(body.Delegator, relayer, body.Prev.Stakes, body.Prev.Delegations, fromHex(body.Amount)); err != nil {
		return convertError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (r *Relayers) handleUndelegate(w http.ResponseWriter, req *http.Request) error {
	relayer, err := parseAddressVar(req, "address")
	if err != nil {
		return err
	}
	var body struct {
		Delegator brn.Address           `json:"delegator"`
		Prev      arraysJSON            `json:"prev"`
		Amount    *math.HexOrDecimal256 `json:"amount"`
	}
	if err := restutil.ParseJSON(req.Body, &body); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	if err := r.reg.Undelegate(body.Delegator, relayer, body.Prev.Stakes, body.Prev.Delegations, fromHex(body.Amount)); err != nil {
		return convertError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (r *Relayers) handleGetDelegation(w http.ResponseWriter, req *http.Request) error {
	relayer, err := parseAddressVar(req, "address")
	if err != nil {
		return err
	}
	delegator, err := parseAddressVar(req, "delegator")
	if err != nil {
		return err
	}
	value, err := r.reg.GetDelegation(relayer, delegator)
	if err != nil {
		return convertError(err)
	}
	return restutil.WriteJSON(w, restutil.M{"value": toHex(value)})
}

func (r *Relayers) handleClaimReward(w http.ResponseWriter, req *http.Request) error {
	relayer, err := parseAddressVar(req, "address")
	if err != nil {
		return err
	}
	claimed, err := r.reg.ClaimProtocolReward(relayer)
	if err != nil {
		return convertError(err)
	}
	return restutil.WriteJSON(w, restutil.M{"claimed": toHex(claimed)})
}

func (r *Relayers) handleGetAttendance(w http.ResponseWriter, req *http.Request) error {
	relayer, err := parseAddressVar(req, "address")
	if err != nil {
		return err
	}
	window, err := strconv.ParseUint(mux.Vars(req)["window"], 10, 64)
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "window"))
	}
	present, err := r.reg.WasPresent(window, relayer)
	if err != nil {
		return err
	}
	return restutil.WriteJSON(w, restutil.M{"present": present})
}

func (r *Relayers) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(r.handleRegister))
	sub.Path("").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(r.handleListRelayers))
	sub.Path("/arrays").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(r.handleGetArrays))
	sub.Path("/cdf").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(r.handleGetCdf))
	sub.Path("/{address}").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(r.handleGetRelayer))
	sub.Path("/{address}/unregister").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(r.handleUnregister))
	sub.Path("/{address}/withdraw").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(r.handleWithdraw))
	sub.Path("/{address}/accounts").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(r.handleSetAccounts))
	sub.Path("/{address}/delegations").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(r.handleDelegate))
	sub.Path("/{address}/delegations/withdrawals").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(r.handleUndelegate))
	sub.Path("/{address}/delegations/{delegator}").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(r.handleGetDelegation))
	sub.Path("/{address}/rewards/claim").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(r.handleClaimReward))
	sub.Path("/{address}/attendance/{window}").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(r.handleGetAttendance))
}
