// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/WaleedMaghraby/burn-relayer/brn"
	"github.com/WaleedMaghraby/burn-relayer/kv"
	"github.com/WaleedMaghraby/burn-relayer/weights"
)

// storage is the narrow accessor layer over the persistent store, one bucket
// per logical namespace. All mutations go through Registry so the CDF/log
// invariant is enforced in one place.
type storage struct {
	src         kv.GetPutter
	relayers    kv.GetPutter // relayer address -> Record
	accounts    kv.GetPutter // forwarding account -> relayer address
	state       kv.GetPutter // current arrays, hashes, relayer count
	indexLogs   kv.GetPutter // be8(slot) -> []IndexLogEntry
	cdfLog      kv.GetPutter // "log" -> []CdfLogEntry
	attendance  kv.GetPutter // be8(window) || relayer -> 0x01
	withdrawals kv.GetPutter // relayer address -> WithdrawalInfo
	pools       kv.GetPutter // relayer address -> DelegationPool
	delegations kv.GetPutter // relayer || delegator -> Delegation
	penalized   kv.GetPutter // be8(window) || relayer -> 0x01
}

var (
	keyStakeArray      = []byte("stake-array")
	keyDelegationArray = []byte("delegation-array")
	keyStakeHash       = []byte("stake-hash")
	keyDelegationHash  = []byte("delegation-hash")
	keyCdfHash         = []byte("cdf-hash")
	keyCdfLog          = []byte("log")
	keyCdfContents     = []byte("contents")
)

func newStorage(src kv.GetPutter) *storage {
	return &storage{
		src:         src,
		relayers:    kv.Bucket("r-").NewGetPutter(src),
		accounts:    kv.Bucket("a-").NewGetPutter(src),
		state:       kv.Bucket("st-").NewGetPutter(src),
		indexLogs:   kv.Bucket("il-").NewGetPutter(src),
		cdfLog:      kv.Bucket("cl-").NewGetPutter(src),
		attendance:  kv.Bucket("at-").NewGetPutter(src),
		withdrawals: kv.Bucket("w-").NewGetPutter(src),
		pools:       kv.Bucket("p-").NewGetPutter(src),
		delegations: kv.Bucket("d-").NewGetPutter(src),
		penalized:   kv.Bucket("pz-").NewGetPutter(src),
	}
}

// getRLP loads and decodes the value at key into val.
// found=false returned when the key is absent.
func getRLP(store kv.GetPutter, key []byte, val any) (bool, error) {
	data, err := store.Get(key)
	if err != nil {
		if store.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(data, val); err != nil {
		return false, errors.Wrap(err, "decode storage value")
	}
	return true, nil
}

func putRLP(store kv.Putter, key []byte, val any) error {
	data, err := rlp.EncodeToBytes(val)
	if err != nil {
		return errors.Wrap(err, "encode storage value")
	}
	return store.Put(key, data)
}

func be8(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func windowRelayerKey(window uint64, relayer brn.Address) []byte {
	return append(be8(window), relayer.Bytes()...)
}

//
// relayer records
//

func (s *storage) getRecord(relayer brn.Address) (*Record, error) {
	var rec Record
	found, err := getRLP(s.relayers, relayer.Bytes(), &rec)
	if err != nil {
		return nil, errors.Wrap(err, "get relayer record")
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (s *storage) setRecord(rec *Record) error {
	return errors.Wrap(putRLP(s.relayers, rec.Address.Bytes(), rec), "set relayer record")
}

// iterateRecords walks all relayer records in address order.
func (s *storage) iterateRecords(fn func(*Record) error) error {
	iter := s.relayers.NewIterator(kv.Range{})
	defer iter.Release()
	for iter.Next() {
		var rec Record
		if err := rlp.DecodeBytes(iter.Value(), &rec); err != nil {
			return errors.Wrap(err, "decode relayer record")
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return errors.Wrap(iter.Error(), "iterate relayer records")
}

func (s *storage) deleteRecord(relayer brn.Address) error {
	return errors.Wrap(s.relayers.Delete(relayer.Bytes()), "delete relayer record")
}

//
// forwarding accounts
//

func (s *storage) relayerOfAccount(account brn.Address) (brn.Address, error) {
	var relayer brn.Address
	found, err := getRLP(s.accounts, account.Bytes(), &relayer)
	if err != nil {
		return brn.Address{}, errors.Wrap(err, "get account owner")
	}
	if !found {
		return brn.Address{}, nil
	}
	return relayer, nil
}

func (s *storage) setAccount(account, relayer brn.Address) error {
	return errors.Wrap(putRLP(s.accounts, account.Bytes(), relayer), "set account owner")
}

func (s *storage) deleteAccount(account brn.Address) error {
	return errors.Wrap(s.accounts.Delete(account.Bytes()), "delete account owner")
}

//
// current distribution state
//

func (s *storage) getStakeArray() (weights.StakeArray, error) {
	var arr weights.StakeArray
	if _, err := getRLP(s.state, keyStakeArray, &arr); err != nil {
		return nil, errors.Wrap(err, "get stake array")
	}
	return arr, nil
}

func (s *storage) getDelegationArray() (weights.DelegationArray, error) {
	var arr weights.DelegationArray
	if _, err := getRLP(s.state, keyDelegationArray, &arr); err != nil {
		return nil, errors.Wrap(err, "get delegation array")
	}
	return arr, nil
}

// setArrays writes both arrays and their hashes in one batch, so a reader
// never observes an array disagreeing with its recorded hash.
func (s *storage) setArrays(stakes weights.StakeArray, delegations weights.DelegationArray) error {
	batch := s.state.NewBatch()
	if err := putRLP(batch, keyStakeArray, stakes); err != nil {
		return errors.Wrap(err, "set stake array")
	}
	if err := putRLP(batch, keyDelegationArray, delegations); err != nil {
		return errors.Wrap(err, "set delegation array")
	}
	// the raw array hashes are persisted separately so each is independently
	// externally verifiable
	if err := putRLP(batch, keyStakeHash, stakes.Hash()); err != nil {
		return errors.Wrap(err, "set stake hash")
	}
	if err := putRLP(batch, keyDelegationHash, delegations.Hash()); err != nil {
		return errors.Wrap(err, "set delegation hash")
	}
	return errors.Wrap(batch.Write(), "set arrays")
}

func (s *storage) getStakeHash() (brn.Bytes32, error) {
	var h brn.Bytes32
	_, err := getRLP(s.state, keyStakeHash, &h)
	return h, errors.Wrap(err, "get stake hash")
}

func (s *storage) getDelegationHash() (brn.Bytes32, error) {
	var h brn.Bytes32
	_, err := getRLP(s.state, keyDelegationHash, &h)
	return h, errors.Wrap(err, "get delegation hash")
}

func (s *storage) getCurrentCdfHash() (brn.Bytes32, error) {
	var h brn.Bytes32
	_, err := getRLP(s.state, keyCdfHash, &h)
	return h, errors.Wrap(err, "get cdf hash")
}

func (s *storage) setCurrentCdfHash(h brn.Bytes32) error {
	return errors.Wrap(putRLP(s.state, keyCdfHash, h), "set cdf hash")
}

//
// history logs
//

func (s *storage) getIndexLog(slot uint64) (indexLog, error) {
	var log indexLog
	if _, err := getRLP(s.indexLogs, be8(slot), &log); err != nil {
		return nil, errors.Wrap(err, "get index log")
	}
	return log, nil
}

func (s *storage) setIndexLog(slot uint64, log indexLog) error {
	return errors.Wrap(putRLP(s.indexLogs, be8(slot), log), "set index log")
}

func (s *storage) getCdfLog() (cdfLog, error) {
	var log cdfLog
	if _, err := getRLP(s.cdfLog, keyCdfLog, &log); err != nil {
		return nil, errors.Wrap(err, "get cdf log")
	}
	return log, nil
}

func (s *storage) setCdfLog(log cdfLog) error {
	return errors.Wrap(putRLP(s.cdfLog, keyCdfLog, log), "set cdf log")
}

func (s *storage) getCdfContents() (cdfContents, error) {
	var contents cdfContents
	if _, err := getRLP(s.cdfLog, keyCdfContents, &contents); err != nil {
		return nil, errors.Wrap(err, "get cdf contents")
	}
	return contents, nil
}

func (s *storage) setCdfContents(contents cdfContents) error {
	return errors.Wrap(putRLP(s.cdfLog, keyCdfContents, contents), "set cdf contents")
}

//
// attendance
//

func (s *storage) getAttendance(window uint64, relayer brn.Address) (bool, error) {
	has, err := s.attendance.Has(windowRelayerKey(window, relayer))
	return has, errors.Wrap(err, "get attendance")
}

func (s *storage) setAttendance(window uint64, relayer brn.Address) error {
	return errors.Wrap(s.attendance.Put(windowRelayerKey(window, relayer), []byte{1}), "set attendance")
}

//
// withdrawals
//

func (s *storage) getWithdrawal(relayer brn.Address) (*WithdrawalInfo, error) {
	var w WithdrawalInfo
	found, err := getRLP(s.withdrawals, relayer.Bytes(), &w)
	if err != nil {
		return nil, errors.Wrap(err, "get withdrawal")
	}
	if !found {
		return nil, nil
	}
	return &w, nil
}

func (s *storage) setWithdrawal(relayer brn.Address, w *WithdrawalInfo) error {
	return errors.Wrap(putRLP(s.withdrawals, relayer.Bytes(), w), "set withdrawal")
}

func (s *storage) deleteWithdrawal(relayer brn.Address) error {
	return errors.Wrap(s.withdrawals.Delete(relayer.Bytes()), "delete withdrawal")
}

//
// delegation pools and positions
//

func (s *storage) getPool(relayer brn.Address) (*DelegationPool, error) {
	var p DelegationPool
	found, err := getRLP(s.pools, relayer.Bytes(), &p)
	if err != nil {
		return nil, errors.Wrap(err, "get delegation pool")
	}
	if !found {
		return &DelegationPool{TotalAmount: new(big.Int), TotalShares: new(big.Int)}, nil
	}
	return &p, nil
}

func (s *storage) setPool(relayer brn.Address, p *DelegationPool) error {
	return errors.Wrap(putRLP(s.pools, relayer.Bytes(), p), "set delegation pool")
}

func delegationKey(relayer, delegator brn.Address) []byte {
	return append(relayer.Bytes(), delegator.Bytes()...)
}

func (s *storage) getDelegation(relayer, delegator brn.Address) (*Delegation, error) {
	var d Delegation
	found, err := getRLP(s.delegations, delegationKey(relayer, delegator), &d)
	if err != nil {
		return nil, errors.Wrap(err, "get delegation")
	}
	if !found {
		return nil, nil
	}
	return &d, nil
}

func (s *storage) setDelegation(relayer, delegator brn.Address, d *Delegation) error {
	return errors.Wrap(putRLP(s.delegations, delegationKey(relayer, delegator), d), "set delegation")
}

func (s *storage) deleteDelegation(relayer, delegator brn.Address) error {
	return errors.Wrap(s.delegations.Delete(delegationKey(relayer, delegator)), "delete delegation")
}

//
// penalized flags
//

func (s *storage) isPenalized(window uint64, relayer brn.Address) (bool, error) {
	has, err := s.penalized.Has(windowRelayerKey(window, relayer))
	return has, errors.Wrap(err, "get penalized flag")
}

func (s *storage) setPenalized(window uint64, relayer brn.Address) error {
	return errors.Wrap(s.penalized.Put(windowRelayerKey(window, relayer), []byte{1}), "set penalized flag")
}
