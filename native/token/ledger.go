package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "yieldvault/native/common"
)

const moduleName = "token"

var (
	errNilState = errors.New("token ledger: state not configured")

	ErrUnknownAsset          = errors.New("token ledger: unknown asset")
	ErrAssetExists           = errors.New("token ledger: asset already registered")
	ErrInvalidAmount         = errors.New("token ledger: amount must not be negative")
	ErrInsufficientBalance   = errors.New("token ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("token ledger: insufficient allowance")
	ErrTransfersPaused       = errors.New("token ledger: asset transfers paused")
	ErrOverflow              = errors.New("token ledger: amount overflows 256 bits")
)

// Asset describes a fungible token tracked by the ledger.
type Asset struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	// Minter is the only account allowed to mint or burn the asset. The zero
	// address leaves supply fixed after registration.
	Minter common.Address
	Paused bool
}

type assetRecord struct {
	Symbol   string
	Decimals uint8
	Minter   common.Address
	Paused   bool
}

type amountRecord struct {
	Value *big.Int
}

// Ledger keeps balances, allowances and supply for every registered asset.
type Ledger struct {
	state  nativecommon.Store
	pauses nativecommon.PauseView
}

// NewLedger constructs an empty ledger. SetState must be called before use.
func NewLedger() *Ledger { return &Ledger{} }

// SetState wires the ledger to the persistence layer.
func (l *Ledger) SetState(state nativecommon.Store) { l.state = state }

func (l *Ledger) SetPauses(p nativecommon.PauseView) { l.pauses = p }

func assetKey(asset common.Address) []byte { return nativecommon.Key("token/asset", asset) }

func balanceKey(asset, owner common.Address) []byte {
	return nativecommon.Key("token/balance", asset, owner)
}

func allowanceKey(asset, owner, spender common.Address) []byte {
	return nativecommon.Key("token/allowance", asset, owner, spender)
}

func supplyKey(asset common.Address) []byte { return nativecommon.Key("token/supply", asset) }

var assetIndexKey = []byte("token/assets")

// Register adds a new asset to the ledger.
func (l *Ledger) Register(asset Asset) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if asset.Address == (common.Address{}) {
		return fmt.Errorf("token ledger: register: %w", nativecommon.ErrZeroAddress)
	}
	ok, err := l.state.KVGet(assetKey(asset.Address), nil)
	if err != nil {
		return err
	}
	if ok {
		return ErrAssetExists
	}
	record := assetRecord{
		Symbol:   strings.ToUpper(strings.TrimSpace(asset.Symbol)),
		Decimals: asset.Decimals,
		Minter:   asset.Minter,
		Paused:   asset.Paused,
	}
	if err := l.state.KVPut(assetKey(asset.Address), record); err != nil {
		return err
	}
	var index []common.Address
	if _, err := l.state.KVGet(assetIndexKey, &index); err != nil {
		return err
	}
	index = append(index, asset.Address)
	return l.state.KVPut(assetIndexKey, index)
}

// Asset returns the metadata of a registered asset.
func (l *Ledger) Asset(addr common.Address) (*Asset, error) {
	record, err := l.loadAsset(addr)
	if err != nil {
		return nil, err
	}
	return &Asset{
		Address:  addr,
		Symbol:   record.Symbol,
		Decimals: record.Decimals,
		Minter:   record.Minter,
		Paused:   record.Paused,
	}, nil
}

// Assets lists every registered asset in registration order.
func (l *Ledger) Assets() ([]Asset, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	var index []common.Address
	if _, err := l.state.KVGet(assetIndexKey, &index); err != nil {
		return nil, err
	}
	out := make([]Asset, 0, len(index))
	for _, addr := range index {
		asset, err := l.Asset(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, *asset)
	}
	return out, nil
}

// Decimals returns the precision of the asset.
func (l *Ledger) Decimals(addr common.Address) (uint8, error) {
	record, err := l.loadAsset(addr)
	if err != nil {
		return 0, err
	}
	return record.Decimals, nil
}

// SetPaused toggles movement of the asset. Mints, burns and transfers are
// rejected while paused.
func (l *Ledger) SetPaused(addr common.Address, paused bool) error {
	record, err := l.loadAsset(addr)
	if err != nil {
		return err
	}
	if record.Paused == paused {
		return nativecommon.ErrSameValue
	}
	record.Paused = paused
	return l.state.KVPut(assetKey(addr), record)
}

// SetMinter reassigns mint authority.
func (l *Ledger) SetMinter(addr, minter common.Address) error {
	record, err := l.loadAsset(addr)
	if err != nil {
		return err
	}
	if record.Minter == minter {
		return nativecommon.ErrSameValue
	}
	record.Minter = minter
	return l.state.KVPut(assetKey(addr), record)
}

// BalanceOf returns the balance held by owner.
func (l *Ledger) BalanceOf(asset, owner common.Address) (*big.Int, error) {
	if _, err := l.loadAsset(asset); err != nil {
		return nil, err
	}
	bal, err := l.loadAmount(balanceKey(asset, owner))
	if err != nil {
		return nil, err
	}
	return bal.ToBig(), nil
}

// TotalSupply returns the outstanding supply of the asset.
func (l *Ledger) TotalSupply(asset common.Address) (*big.Int, error) {
	if _, err := l.loadAsset(asset); err != nil {
		return nil, err
	}
	supply, err := l.loadAmount(supplyKey(asset))
	if err != nil {
		return nil, err
	}
	return supply.ToBig(), nil
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(asset, owner, spender common.Address) (*big.Int, error) {
	if _, err := l.loadAsset(asset); err != nil {
		return nil, err
	}
	allowance, err := l.loadAmount(allowanceKey(asset, owner, spender))
	if err != nil {
		return nil, err
	}
	return allowance.ToBig(), nil
}

// Approve sets the allowance of spender over owner's balance.
func (l *Ledger) Approve(asset, owner, spender common.Address, amount *big.Int) error {
	if _, err := l.loadAsset(asset); err != nil {
		return err
	}
	if spender == (common.Address{}) {
		return fmt.Errorf("token ledger: approve: %w", nativecommon.ErrZeroAddress)
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	return l.storeAmount(allowanceKey(asset, owner, spender), value)
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(asset, from, to common.Address, amount *big.Int) error {
	record, err := l.loadAsset(asset)
	if err != nil {
		return err
	}
	if err := l.movable(record); err != nil {
		return err
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	return l.move(asset, from, to, value)
}

// TransferFrom moves amount out of from using spender's allowance.
func (l *Ledger) TransferFrom(asset, spender, from, to common.Address, amount *big.Int) error {
	record, err := l.loadAsset(asset)
	if err != nil {
		return err
	}
	if err := l.movable(record); err != nil {
		return err
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	if spender != from {
		key := allowanceKey(asset, from, spender)
		allowance, err := l.loadAmount(key)
		if err != nil {
			return err
		}
		if allowance.Lt(value) {
			return ErrInsufficientAllowance
		}
		if err := l.storeAmount(key, new(uint256.Int).Sub(allowance, value)); err != nil {
			return err
		}
	}
	return l.move(asset, from, to, value)
}

// Mint creates amount of the asset for to. Only the registered minter may
// mint.
func (l *Ledger) Mint(asset, minter, to common.Address, amount *big.Int) error {
	record, err := l.loadAsset(asset)
	if err != nil {
		return err
	}
	if err := l.movable(record); err != nil {
		return err
	}
	if record.Minter == (common.Address{}) || record.Minter != minter {
		return fmt.Errorf("token ledger: mint %s: %w", record.Symbol, nativecommon.ErrUnauthorized)
	}
	if to == (common.Address{}) {
		return fmt.Errorf("token ledger: mint: %w", nativecommon.ErrZeroAddress)
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	if value.IsZero() {
		return nil
	}
	supply, err := l.loadAmount(supplyKey(asset))
	if err != nil {
		return err
	}
	nextSupply, overflow := new(uint256.Int).AddOverflow(supply, value)
	if overflow {
		return ErrOverflow
	}
	if err := l.credit(asset, to, value); err != nil {
		return err
	}
	return l.storeAmount(supplyKey(asset), nextSupply)
}

// Burn destroys amount held by from. Only the registered minter may burn.
func (l *Ledger) Burn(asset, burner, from common.Address, amount *big.Int) error {
	record, err := l.loadAsset(asset)
	if err != nil {
		return err
	}
	if err := l.movable(record); err != nil {
		return err
	}
	if record.Minter == (common.Address{}) || record.Minter != burner {
		return fmt.Errorf("token ledger: burn %s: %w", record.Symbol, nativecommon.ErrUnauthorized)
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	if value.IsZero() {
		return nil
	}
	if err := l.debit(asset, from, value); err != nil {
		return err
	}
	supply, err := l.loadAmount(supplyKey(asset))
	if err != nil {
		return err
	}
	return l.storeAmount(supplyKey(asset), new(uint256.Int).Sub(supply, value))
}

func (l *Ledger) movable(record *assetRecord) error {
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if record.Paused {
		return fmt.Errorf("%w: %s", ErrTransfersPaused, record.Symbol)
	}
	return nil
}

func (l *Ledger) move(asset, from, to common.Address, value *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("token ledger: transfer: %w", nativecommon.ErrZeroAddress)
	}
	if value.IsZero() || from == to {
		bal, err := l.loadAmount(balanceKey(asset, from))
		if err != nil {
			return err
		}
		if bal.Lt(value) {
			return ErrInsufficientBalance
		}
		return nil
	}
	if err := l.debit(asset, from, value); err != nil {
		return err
	}
	return l.credit(asset, to, value)
}

func (l *Ledger) debit(asset, owner common.Address, value *uint256.Int) error {
	key := balanceKey(asset, owner)
	bal, err := l.loadAmount(key)
	if err != nil {
		return err
	}
	if bal.Lt(value) {
		return ErrInsufficientBalance
	}
	return l.storeAmount(key, new(uint256.Int).Sub(bal, value))
}

func (l *Ledger) credit(asset, owner common.Address, value *uint256.Int) error {
	key := balanceKey(asset, owner)
	bal, err := l.loadAmount(key)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, value)
	if overflow {
		return ErrOverflow
	}
	return l.storeAmount(key, next)
}

func (l *Ledger) loadAsset(addr common.Address) (*assetRecord, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	var record assetRecord
	ok, err := l.state.KVGet(assetKey(addr), &record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, addr.Hex())
	}
	return &record, nil
}

func (l *Ledger) loadAmount(key []byte) (*uint256.Int, error) {
	var record amountRecord
	ok, err := l.state.KVGet(key, &record)
	if err != nil {
		return nil, err
	}
	if !ok || record.Value == nil {
		return new(uint256.Int), nil
	}
	value, overflow := uint256.FromBig(record.Value)
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}

func (l *Ledger) storeAmount(key []byte, value *uint256.Int) error {
	return l.state.KVPut(key, amountRecord{Value: value.ToBig()})
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil {
		return new(uint256.Int), nil
	}
	if amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}
