package priceguard

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "yieldvault/native/common"
)

var ErrInvalidPrice = errors.New("price guard: feed answer must be positive")

// RoundData is the latest answer reported by a price feed.
type RoundData struct {
	Answer    *big.Int
	Decimals  uint8
	UpdatedAt uint64
}

// Feed is an external price reference for one asset, quoted in a common unit.
type Feed interface {
	Address() common.Address
	LatestRoundData() (RoundData, error)
}

// ManualFeed is a feed whose answers are pushed by a designated updater. Its
// latest round lives in protocol state so updates roll back with the
// transaction that made them.
type ManualFeed struct {
	state    nativecommon.Store
	address  common.Address
	updater  common.Address
	decimals uint8
}

// NewManualFeed constructs a feed reporting answers with the given precision.
func NewManualFeed(address, updater common.Address, decimals uint8) *ManualFeed {
	return &ManualFeed{address: address, updater: updater, decimals: decimals}
}

func (f *ManualFeed) SetState(state nativecommon.Store) { f.state = state }

func (f *ManualFeed) Address() common.Address { return f.address }

func (f *ManualFeed) Updater() common.Address { return f.updater }

type roundRecord struct {
	Answer    *big.Int
	UpdatedAt uint64
}

func (f *ManualFeed) key() []byte { return nativecommon.Key("priceguard/round", f.address) }

// Update records a new answer observed at updatedAt.
func (f *ManualFeed) Update(caller common.Address, answer *big.Int, updatedAt uint64) error {
	if f.state == nil {
		return errNilState
	}
	if caller != f.updater {
		return fmt.Errorf("price feed %s: %w", f.address.Hex(), nativecommon.ErrUnauthorized)
	}
	if !nativecommon.Positive(answer) {
		return ErrInvalidPrice
	}
	return f.state.KVPut(f.key(), roundRecord{Answer: new(big.Int).Set(answer), UpdatedAt: updatedAt})
}

// LatestRoundData returns the most recent answer. A feed that never reported
// returns a zero round which fails freshness checks.
func (f *ManualFeed) LatestRoundData() (RoundData, error) {
	if f.state == nil {
		return RoundData{}, errNilState
	}
	var record roundRecord
	if _, err := f.state.KVGet(f.key(), &record); err != nil {
		return RoundData{}, err
	}
	return RoundData{Answer: nativecommon.Clone(record.Answer), Decimals: f.decimals, UpdatedAt: record.UpdatedAt}, nil
}
