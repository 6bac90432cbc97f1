package referral

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/core/events"
	nativecommon "yieldvault/native/common"
)

var errNilState = errors.New("referral: state not configured")

type referrerRecord struct {
	Referrer common.Address
}

type counterRecord struct {
	Count uint64
}

type amountRecord struct {
	Value *big.Int
}

// Registry records who referred whom and the commission credited to each
// referrer. Only the operator (the farm) may write to it.
type Registry struct {
	address  common.Address
	operator common.Address
	state    nativecommon.Store
	emitter  events.Emitter
}

// New constructs a registry that accepts writes from operator.
func New(address, operator common.Address) *Registry {
	return &Registry{address: address, operator: operator, emitter: events.NoopEmitter{}}
}

// SetState wires the registry to the external persistence layer.
func (r *Registry) SetState(state nativecommon.Store) { r.state = state }

// SetEmitter configures the event emitter used by the registry.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	r.emitter = emitter
}

// Address returns the registry's module address.
func (r *Registry) Address() common.Address { return r.address }

func referrerKey(user common.Address) []byte { return nativecommon.Key("referral/referrer", user) }

func countKey(referrer common.Address) []byte { return nativecommon.Key("referral/count", referrer) }

func commissionKey(referrer common.Address) []byte {
	return nativecommon.Key("referral/commission", referrer)
}

var totalKey = nativecommon.Key("referral/total")

// SetReferrer records referrer for user the first time it is called with a
// usable referrer. Self-referrals, zero referrers and users that already
// have a referrer are ignored. The result reports whether anything changed.
func (r *Registry) SetReferrer(caller, user, referrer common.Address) (bool, error) {
	if err := r.onlyOperator(caller); err != nil {
		return false, err
	}
	if user == (common.Address{}) || referrer == (common.Address{}) || referrer == user {
		return false, nil
	}
	ok, err := r.state.KVGet(referrerKey(user), nil)
	if err != nil || ok {
		return false, err
	}
	if err := r.state.KVPut(referrerKey(user), referrerRecord{Referrer: referrer}); err != nil {
		return false, err
	}
	count, err := r.ReferralCount(referrer)
	if err != nil {
		return false, err
	}
	if err := r.state.KVPut(countKey(referrer), counterRecord{Count: count + 1}); err != nil {
		return false, err
	}
	r.emitter.Emit(events.ReferrerSet{User: user, Referrer: referrer})
	return true, nil
}

// PayCommission adds amount to referrer's and the global commission totals.
// The transfer itself is the caller's responsibility.
func (r *Registry) PayCommission(caller, referrer common.Address, amount *big.Int) error {
	if err := r.onlyOperator(caller); err != nil {
		return err
	}
	if referrer == (common.Address{}) {
		return fmt.Errorf("referral: pay commission: %w", nativecommon.ErrZeroAddress)
	}
	if !nativecommon.Positive(amount) {
		return nil
	}
	earned, err := r.Commission(referrer)
	if err != nil {
		return err
	}
	if err := r.state.KVPut(commissionKey(referrer), amountRecord{Value: earned.Add(earned, amount)}); err != nil {
		return err
	}
	total, err := r.TotalCommission()
	if err != nil {
		return err
	}
	return r.state.KVPut(totalKey, amountRecord{Value: total.Add(total, amount)})
}

// ReferrerOf returns the referrer recorded for user and whether one exists.
func (r *Registry) ReferrerOf(user common.Address) (common.Address, bool, error) {
	if r.state == nil {
		return common.Address{}, false, errNilState
	}
	var record referrerRecord
	ok, err := r.state.KVGet(referrerKey(user), &record)
	if err != nil || !ok {
		return common.Address{}, false, err
	}
	return record.Referrer, true, nil
}

// ReferralCount returns how many users referrer has referred.
func (r *Registry) ReferralCount(referrer common.Address) (uint64, error) {
	if r.state == nil {
		return 0, errNilState
	}
	var record counterRecord
	if _, err := r.state.KVGet(countKey(referrer), &record); err != nil {
		return 0, err
	}
	return record.Count, nil
}

// Commission returns the cumulative commission credited to referrer.
func (r *Registry) Commission(referrer common.Address) (*big.Int, error) {
	return r.loadAmount(commissionKey(referrer))
}

// TotalCommission returns the commission credited across all referrers.
func (r *Registry) TotalCommission() (*big.Int, error) {
	return r.loadAmount(totalKey)
}

func (r *Registry) loadAmount(key []byte) (*big.Int, error) {
	if r.state == nil {
		return nil, errNilState
	}
	var record amountRecord
	if _, err := r.state.KVGet(key, &record); err != nil {
		return nil, err
	}
	return nativecommon.Clone(record.Value), nil
}

func (r *Registry) onlyOperator(caller common.Address) error {
	if r.state == nil {
		return errNilState
	}
	if caller != r.operator {
		return fmt.Errorf("referral: %w", nativecommon.ErrUnauthorized)
	}
	return nil
}
