// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package registry keeps the relayer records, the delegation layer and the
// versioned distribution history, and is the single place where the weight
// arrays, the CDF and the history logs are advanced together.
package registry

import (
	"math/big"
	"sort"
	"sync"

	"github.com/WaleedMaghraby/burn-relayer/brn"
	"github.com/WaleedMaghraby/burn-relayer/kv"
	"github.com/WaleedMaghraby/burn-relayer/log"
	"github.com/WaleedMaghraby/burn-relayer/metrics"
	"github.com/WaleedMaghraby/burn-relayer/weights"
)

var logger = log.WithContext("pkg", "registry")

var (
	metricRegistrations = metrics.LazyLoadCounter("registry_registrations_total")
	metricRemovals      = metrics.LazyLoadCounter("registry_removals_total")
	metricUpdates       = metrics.LazyLoadCounter("registry_distribution_updates_total")
	metricRelayerCount  = metrics.LazyLoadGauge("registry_relayer_count")
)

// Registry is the accounting state machine. The mutex serializes every entry
// point; state-mutating paths are non-reentrant by construction.
type Registry struct {
	mu     sync.Mutex
	store  *storage
	clock  BlockClock
	vault  Vault
	config Config
}

// New creates a registry over the given store. An empty store is initialized
// with the empty distribution so hash validation works from the first call.
func New(store kv.GetPutter, clock BlockClock, vault Vault, config Config) (*Registry, error) {
	r := &Registry{
		store:  newStorage(store),
		clock:  clock,
		vault:  vault,
		config: config,
	}

	has, err := r.store.state.Has(keyStakeHash)
	if err != nil {
		return nil, err
	}
	if !has {
		if err := r.store.setArrays(weights.StakeArray{}, weights.DelegationArray{}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// CurrentWindow returns the window index of the current block.
func (r *Registry) CurrentWindow() uint64 {
	return brn.WindowOfBlock(r.clock.BlockNumber(), r.config.WindowLength)
}

// RelayersPerWindow returns the configured number of selection iterations.
func (r *Registry) RelayersPerWindow() uint32 {
	return r.config.RelayersPerWindow
}

// Config returns the protocol parameters of this instance.
func (r *Registry) Config() Config {
	return r.config
}

// effectiveWindow is the window a distribution update takes effect at.
func (r *Registry) effectiveWindow() uint64 {
	return r.CurrentWindow() + r.config.RelayerUpdateDelayWindows
}

// verifyArrays validates caller-supplied prior arrays against the recorded
// hashes, compare-and-swap style. Callers seeing a stale-state error must
// refetch and retry.
func (r *Registry) verifyArrays(stakes weights.StakeArray, delegations weights.DelegationArray) error {
	stakeHash, err := r.store.getStakeHash()
	if err != nil {
		return err
	}
	if stakes.Hash() != stakeHash {
		return ErrInvalidStakeArrayHash
	}
	delegationHash, err := r.store.getDelegationHash()
	if err != nil {
		return err
	}
	if delegations.Hash() != delegationHash {
		return ErrInvalidDelegationArrayHash
	}
	return nil
}

// commitUpdate persists the new arrays, regenerates the CDF and appends its
// hash to the history log at the effective window. Consecutive updates within
// one window collapse into a single log entry.
func (r *Registry) commitUpdate(stakes weights.StakeArray, delegations weights.DelegationArray) error {
	if err := r.store.setArrays(stakes, delegations); err != nil {
		return err
	}

	var (
		cdf     weights.CDF
		cdfHash brn.Bytes32
	)
	if len(stakes) > 0 {
		var err error
		if cdf, err = weights.Generate(stakes, delegations); err != nil {
			return err
		}
		cdfHash = cdf.Hash()
	}

	if err := r.store.setCurrentCdfHash(cdfHash); err != nil {
		return err
	}

	cdfLog, err := r.store.getCdfLog()
	if err != nil {
		return err
	}
	window := r.effectiveWindow()
	if err := r.store.setCdfLog(cdfLog.append(window, cdfHash)); err != nil {
		return err
	}

	contents, err := r.store.getCdfContents()
	if err != nil {
		return err
	}
	if err := r.store.setCdfContents(contents.append(window, cdf)); err != nil {
		return err
	}

	metricUpdates().Add(1)
	metricRelayerCount().Set(int64(len(stakes)))
	logger.Debug("distribution updated", "window", window, "relayers", len(stakes), "cdfHash", cdfHash.AbbrevString())
	return nil
}

// setOccupant appends an occupancy change for a dense slot, effective at the
// update's effective window.
func (r *Registry) setOccupant(slot uint64, relayer brn.Address) error {
	indexLog, err := r.store.getIndexLog(slot)
	if err != nil {
		return err
	}
	return r.store.setIndexLog(slot, indexLog.append(r.effectiveWindow(), relayer))
}

// currentOccupant returns the latest recorded occupant of a slot, including
// updates not yet effective.
func (r *Registry) currentOccupant(slot uint64) (brn.Address, error) {
	indexLog, err := r.store.getIndexLog(slot)
	if err != nil {
		return brn.Address{}, err
	}
	if len(indexLog) == 0 {
		return brn.Address{}, nil
	}
	return indexLog[len(indexLog)-1].Relayer, nil
}

// Register adds a staked relayer at the next dense index.
func (r *Registry) Register(
	relayer brn.Address,
	prevStakes weights.StakeArray,
	prevDelegations weights.DelegationArray,
	stake *big.Int,
	accounts []brn.Address,
	endpoint string,
) (brn.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(accounts) == 0 {
		return brn.Address{}, ErrNoAccountsProvided
	}
	if stake == nil || stake.Cmp(r.config.MinimumStake) < 0 {
		return brn.Address{}, ErrInsufficientStake
	}
	if err := r.verifyArrays(prevStakes, prevDelegations); err != nil {
		return brn.Address{}, err
	}

	existing, err := r.store.getRecord(relayer)
	if err != nil {
		return brn.Address{}, err
	}
	if existing != nil {
		return brn.Address{}, ErrAlreadyRegistered
	}
	for _, account := range accounts {
		owner, err := r.store.relayerOfAccount(account)
		if err != nil {
			return brn.Address{}, err
		}
		if !owner.IsZero() {
			return brn.Address{}, ErrAlreadyRegistered
		}
	}

	if err := r.vault.Deposit(relayer, stake); err != nil {
		return brn.Address{}, err
	}

	rec := &Record{
		Address:              relayer,
		Stake:                new(big.Int).Set(stake),
		Index:                uint64(len(prevStakes)),
		Accounts:             append([]brn.Address(nil), accounts...),
		Endpoint:             endpoint,
		UnpaidProtocolReward: new(big.Int),
	}
	if err := r.store.setRecord(rec); err != nil {
		return brn.Address{}, err
	}
	if err := r.store.setAccount(relayer, relayer); err != nil {
		return brn.Address{}, err
	}
	for _, account := range accounts {
		if err := r.store.setAccount(account, relayer); err != nil {
			return brn.Address{}, err
		}
	}
	if err := r.setOccupant(rec.Index, relayer); err != nil {
		return brn.Address{}, err
	}

	newStakes := append(prevStakes.Copy(), rec.ScaledStake())
	newDelegations := append(prevDelegations.Copy(), 0)
	if err := r.commitUpdate(newStakes, newDelegations); err != nil {
		return brn.Address{}, err
	}

	metricRegistrations().Add(1)
	logger.Info("relayer registered", "relayer", relayer, "index", rec.Index, "stake", stake)
	return relayer, nil
}

// Unregister removes a relayer. The freed dense slot is refilled by moving
// the last relayer into it (swap-and-pop); the slot's occupancy history is
// extended, never rewritten. The stake becomes withdrawable after the delay.
func (r *Registry) Unregister(
	relayer brn.Address,
	prevStakes weights.StakeArray,
	prevDelegations weights.DelegationArray,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.verifyArrays(prevStakes, prevDelegations); err != nil {
		return err
	}
	rec, err := r.store.getRecord(relayer)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrUnknownRelayer
	}

	newStakes := prevStakes.Copy()
	newDelegations := prevDelegations.Copy()
	last := uint64(len(newStakes) - 1)

	if rec.Index != last {
		moved, err := r.currentOccupant(last)
		if err != nil {
			return err
		}
		movedRec, err := r.store.getRecord(moved)
		if err != nil {
			return err
		}
		if movedRec == nil {
			return ErrUnknownRelayer
		}
		movedRec.Index = rec.Index
		if err := r.store.setRecord(movedRec); err != nil {
			return err
		}
		newStakes[rec.Index] = newStakes[last]
		newDelegations[rec.Index] = newDelegations[last]
		if err := r.setOccupant(rec.Index, moved); err != nil {
			return err
		}
	}
	if err := r.setOccupant(last, brn.Address{}); err != nil {
		return err
	}
	newStakes = newStakes[:last]
	newDelegations = newDelegations[:last]

	if err := r.store.deleteRecord(relayer); err != nil {
		return err
	}
	if err := r.store.deleteAccount(relayer); err != nil {
		return err
	}
	for _, account := range rec.Accounts {
		if err := r.store.deleteAccount(account); err != nil {
			return err
		}
	}

	withdrawal := &WithdrawalInfo{
		Amount:         rec.Stake,
		MinBlockNumber: r.clock.BlockNumber() + r.config.WithdrawalDelayBlocks,
	}
	if err := r.store.setWithdrawal(relayer, withdrawal); err != nil {
		return err
	}

	if err := r.commitUpdate(newStakes, newDelegations); err != nil {
		return err
	}

	metricRemovals().Add(1)
	logger.Info("relayer unregistered", "relayer", relayer, "withdrawableAt", withdrawal.MinBlockNumber)
	return nil
}

// Withdraw releases an unregistered relayer's stake once the delay expired.
func (r *Registry) Withdraw(relayer brn.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	withdrawal, err := r.store.getWithdrawal(relayer)
	if err != nil {
		return err
	}
	if withdrawal == nil || withdrawal.Amount == nil || withdrawal.Amount.Sign() == 0 {
		return ErrInvalidWithdrawal
	}
	if r.clock.BlockNumber() < withdrawal.MinBlockNumber {
		return ErrInvalidWithdrawal
	}

	if err := r.vault.Transfer(relayer, withdrawal.Amount); err != nil {
		return err
	}
	if err := r.store.deleteWithdrawal(relayer); err != nil {
		return err
	}

	logger.Info("stake withdrawn", "relayer", relayer, "amount", withdrawal.Amount)
	return nil
}

// SetAccountsStatus authorizes or revokes forwarding accounts of a relayer.
// The weight distribution is untouched.
func (r *Registry) SetAccountsStatus(relayer brn.Address, accounts []brn.Address, status []bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(accounts) == 0 || len(accounts) != len(status) {
		return ErrNoAccountsProvided
	}
	rec, err := r.store.getRecord(relayer)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrUnknownRelayer
	}

	for i, account := range accounts {
		if status[i] {
			owner, err := r.store.relayerOfAccount(account)
			if err != nil {
				return err
			}
			if !owner.IsZero() && owner != relayer {
				return ErrAlreadyRegistered
			}
			if !rec.IsAuthorized(account) {
				rec.Accounts = append(rec.Accounts, account)
			}
			if err := r.store.setAccount(account, relayer); err != nil {
				return err
			}
		} else {
			kept := rec.Accounts[:0]
			for _, a := range rec.Accounts {
				if a != account {
					kept = append(kept, a)
				}
			}
			rec.Accounts = kept
			if err := r.store.deleteAccount(account); err != nil {
				return err
			}
		}
	}
	return r.store.setRecord(rec)
}

//
// read-only state
//

// GetRecord returns the record of a registered relayer, nil if unknown.
func (r *Registry) GetRecord(relayer brn.Address) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.getRecord(relayer)
}

// ListRecords returns every registered relayer record, ordered by dense
// index.
func (r *Registry) ListRecords() ([]*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var recs []*Record
	if err := r.store.iterateRecords(func(rec *Record) error {
		recs = append(recs, rec)
		return nil
	}); err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Index < recs[j].Index })
	return recs, nil
}

// GetWithdrawal returns the pending withdrawal of a relayer, nil if none.
func (r *Registry) GetWithdrawal(relayer brn.Address) (*WithdrawalInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.getWithdrawal(relayer)
}

// GetStakeArray returns the current scaled stake array.
func (r *Registry) GetStakeArray() (weights.StakeArray, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.getStakeArray()
}

// GetDelegationArray returns the current scaled delegation array.
func (r *Registry) GetDelegationArray() (weights.DelegationArray, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.getDelegationArray()
}

// GetCdfArray regenerates the CDF from the current arrays.
func (r *Registry) GetCdfArray() (weights.CDF, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stakes, err := r.store.getStakeArray()
	if err != nil {
		return nil, err
	}
	delegations, err := r.store.getDelegationArray()
	if err != nil {
		return nil, err
	}
	return weights.Generate(stakes, delegations)
}

// CdfAt returns the CDF content active at the given window. Mid-window
// mutations commit at the next window, so the result stays stable for hash
// validation until the window ends. nil returned when no distribution is
// retained for the window; past windows beyond the pending and the active
// distribution are hash-only, see CdfHashAt.
func (r *Registry) CdfAt(window uint64) (weights.CDF, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	contents, err := r.store.getCdfContents()
	if err != nil {
		return nil, err
	}
	return contents.lookup(window), nil
}

// CdfHashAt returns the CDF hash active at the given window. A zero hash
// means no distribution existed yet.
func (r *Registry) CdfHashAt(window uint64) (brn.Bytes32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cdfHashAt(window)
}

func (r *Registry) cdfHashAt(window uint64) (brn.Bytes32, error) {
	cdfLog, err := r.store.getCdfLog()
	if err != nil {
		return brn.Bytes32{}, err
	}
	return cdfLog.lookup(window), nil
}

// RelayerAt resolves a dense CDF index to the relayer occupying it at the
// given window. Implements selection.Roster.
func (r *Registry) RelayerAt(slot uint64, window uint64) (brn.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.relayerAt(slot, window)
}

func (r *Registry) relayerAt(slot uint64, window uint64) (brn.Address, error) {
	indexLog, err := r.store.getIndexLog(slot)
	if err != nil {
		return brn.Address{}, err
	}
	return indexLog.lookup(window), nil
}

// IsAuthorizedAccount implements selection.Roster.
func (r *Registry) IsAuthorizedAccount(relayer brn.Address, account brn.Address) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.store.getRecord(relayer)
	if err != nil || rec == nil {
		return false, err
	}
	return rec.IsAuthorized(account), nil
}

// RelayerOfAccount resolves a forwarding account to its relayer.
func (r *Registry) RelayerOfAccount(account brn.Address) (brn.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	relayer, err := r.store.relayerOfAccount(account)
	if err != nil {
		return brn.Address{}, err
	}
	if relayer.IsZero() {
		return brn.Address{}, ErrUnknownAccount
	}
	return relayer, nil
}

// CdfIndexAt returns the dense index the relayer occupies at the given
// window. The live record's index may already carry an update that only
// takes effect at a later window, so the occupancy logs are authoritative.
func (r *Registry) CdfIndexAt(relayer brn.Address, window uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cdfIndexAt(relayer, window)
}

func (r *Registry) cdfIndexAt(relayer brn.Address, window uint64) (uint64, error) {
	// fast path: the live index still holds at the window
	rec, err := r.store.getRecord(relayer)
	if err != nil {
		return 0, err
	}
	if rec != nil {
		occupant, err := r.relayerAt(rec.Index, window)
		if err != nil {
			return 0, err
		}
		if occupant == relayer {
			return rec.Index, nil
		}
	}

	// a pending move within the window; walk the occupancy logs. Slots are
	// dense, the first slot without history ends the walk.
	for slot := uint64(0); ; slot++ {
		indexLog, err := r.store.getIndexLog(slot)
		if err != nil {
			return 0, err
		}
		if len(indexLog) == 0 {
			return 0, ErrUnknownRelayer
		}
		if indexLog.lookup(window) == relayer {
			return slot, nil
		}
	}
}

// MarkAttendance records that the relayer executed at least one alloted
// transaction in the window. Idempotent; never cleared.
func (r *Registry) MarkAttendance(window uint64, relayer brn.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	present, err := r.store.getAttendance(window, relayer)
	if err != nil {
		return err
	}
	if present {
		return nil
	}
	return r.store.setAttendance(window, relayer)
}

// WasPresent reports whether the relayer attended the window.
func (r *Registry) WasPresent(window uint64, relayer brn.Address) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.getAttendance(window, relayer)
}
