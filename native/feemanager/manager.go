package feemanager

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/core/events"
	nativecommon "yieldvault/native/common"
)

var (
	errNilState = errors.New("fee manager: state not configured")

	ErrNothingToConvert = errors.New("fee manager: no balance to convert")
	ErrInvalidRoute     = errors.New("fee manager: invalid swap route")
)

type tokenLedger interface {
	BalanceOf(asset, owner common.Address) (*big.Int, error)
	Transfer(asset, from, to common.Address, amount *big.Int) error
}

type swapRouter interface {
	GetAmountsOut(amountIn *big.Int, path []common.Address) ([]*big.Int, error)
	SwapExactTokensForTokens(caller common.Address, amountIn, minAmountOut *big.Int, path []common.Address, recipient common.Address, deadline uint64) ([]*big.Int, error)
}

type priceChecker interface {
	CheckPrice(tokenIn, tokenOut common.Address, amountIn, amountOutProposed *big.Int) error
}

type treasuryRecord struct {
	Treasury common.Address
}

type routeRecord struct {
	Path []common.Address
}

// Manager collects performance fees from strategies and converts them into
// the treasury asset.
type Manager struct {
	address       common.Address
	owner         common.Address
	treasuryAsset common.Address
	defaultTo     common.Address
	ledger        tokenLedger
	router        swapRouter
	guard         priceChecker
	state         nativecommon.Store
	emitter       events.Emitter
	blockTime     uint64
}

// New constructs a fee manager. treasury is used until SetTreasury stores a
// replacement.
func New(address, owner, treasuryAsset, treasury common.Address, ledger tokenLedger, router swapRouter, guard priceChecker) *Manager {
	return &Manager{
		address:       address,
		owner:         owner,
		treasuryAsset: treasuryAsset,
		defaultTo:     treasury,
		ledger:        ledger,
		router:        router,
		guard:         guard,
		emitter:       events.NoopEmitter{},
	}
}

func (m *Manager) SetState(state nativecommon.Store) { m.state = state }

func (m *Manager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	m.emitter = emitter
}

// SetBlockTime records the timestamp used as the swap deadline.
func (m *Manager) SetBlockTime(ts uint64) { m.blockTime = ts }

// Address returns the account that receives performance fees.
func (m *Manager) Address() common.Address { return m.address }

// TreasuryAsset returns the asset fees are converted into.
func (m *Manager) TreasuryAsset() common.Address { return m.treasuryAsset }

var treasuryKey = nativecommon.Key("feemanager/treasury")

func routeKey(asset common.Address) []byte { return nativecommon.Key("feemanager/route", asset) }

// Treasury returns the account converted fees are forwarded to.
func (m *Manager) Treasury() (common.Address, error) {
	if m.state == nil {
		return common.Address{}, errNilState
	}
	var record treasuryRecord
	ok, err := m.state.KVGet(treasuryKey, &record)
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return m.defaultTo, nil
	}
	return record.Treasury, nil
}

// SetTreasury replaces the fee destination.
func (m *Manager) SetTreasury(caller, treasury common.Address) error {
	if err := m.onlyOwner(caller); err != nil {
		return err
	}
	if treasury == (common.Address{}) {
		return fmt.Errorf("fee manager: set treasury: %w", nativecommon.ErrZeroAddress)
	}
	current, err := m.Treasury()
	if err != nil {
		return err
	}
	if current == treasury {
		return nativecommon.ErrSameValue
	}
	if err := m.state.KVPut(treasuryKey, treasuryRecord{Treasury: treasury}); err != nil {
		return err
	}
	m.emitter.Emit(events.ParamUpdated{Module: m.address, Name: "treasury", Value: treasury.Hex()})
	return nil
}

// Route returns the swap path used to convert asset. Without a stored route
// the asset is swapped directly against the treasury asset.
func (m *Manager) Route(asset common.Address) ([]common.Address, error) {
	if m.state == nil {
		return nil, errNilState
	}
	var record routeRecord
	ok, err := m.state.KVGet(routeKey(asset), &record)
	if err != nil {
		return nil, err
	}
	if !ok || len(record.Path) == 0 {
		return []common.Address{asset, m.treasuryAsset}, nil
	}
	return record.Path, nil
}

// SetRoute stores a multi-hop conversion path for asset.
func (m *Manager) SetRoute(caller, asset common.Address, path []common.Address) error {
	if err := m.onlyOwner(caller); err != nil {
		return err
	}
	if len(path) < 2 || path[0] != asset || path[len(path)-1] != m.treasuryAsset {
		return ErrInvalidRoute
	}
	if err := m.state.KVPut(routeKey(asset), routeRecord{Path: append([]common.Address(nil), path...)}); err != nil {
		return err
	}
	m.emitter.Emit(events.ParamUpdated{Module: m.address, Name: "route:" + asset.Hex(), Value: fmt.Sprint(len(path))})
	return nil
}

// Convert swaps the manager's whole balance of asset into the treasury asset
// behind the price guard and forwards the proceeds to the treasury. The
// treasury asset itself is forwarded without a swap.
func (m *Manager) Convert(asset common.Address) (*big.Int, error) {
	if m.state == nil {
		return nil, errNilState
	}
	treasury, err := m.Treasury()
	if err != nil {
		return nil, err
	}
	held, err := m.ledger.BalanceOf(asset, m.address)
	if err != nil {
		return nil, err
	}
	if held.Sign() == 0 {
		return nil, ErrNothingToConvert
	}
	out := held
	if asset != m.treasuryAsset {
		path, err := m.Route(asset)
		if err != nil {
			return nil, err
		}
		quote, err := m.router.GetAmountsOut(held, path)
		if err != nil {
			return nil, err
		}
		minOut := quote[len(quote)-1]
		if err := m.guard.CheckPrice(asset, m.treasuryAsset, held, minOut); err != nil {
			return nil, err
		}
		amounts, err := m.router.SwapExactTokensForTokens(m.address, held, minOut, path, m.address, m.blockTime)
		if err != nil {
			return nil, err
		}
		out = amounts[len(amounts)-1]
	}
	if err := m.ledger.Transfer(m.treasuryAsset, m.address, treasury, out); err != nil {
		return nil, err
	}
	m.emitter.Emit(events.FeeConverted{Asset: asset, AmountIn: held, AmountOut: out, Treasury: treasury})
	return out, nil
}

func (m *Manager) onlyOwner(caller common.Address) error {
	if m.state == nil {
		return errNilState
	}
	if caller != m.owner {
		return fmt.Errorf("fee manager: %w", nativecommon.ErrUnauthorized)
	}
	return nil
}
