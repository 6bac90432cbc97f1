package events

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/core/types"
)

const (
	TypeVaultDeposit       = "vault.deposit"
	TypeVaultWithdraw      = "vault.withdraw"
	TypeNewStrategy        = "vault.newStrategy"
	TypeNewDepositCap      = "vault.newDepositCap"
	TypeHarvested          = "strategy.harvested"
	TypePerformanceFee     = "strategy.performanceFee"
	TypeStrategyPanic      = "strategy.panic"
	TypeStrategyRebalanced = "strategy.rebalanced"
	TypeFeeConverted       = "feemanager.converted"
	// TypeParamUpdated is emitted by every operator setter.
	TypeParamUpdated = "params.updated"
)

// VaultDeposit records want entering a controller and the shares minted.
type VaultDeposit struct {
	Controller common.Address
	Account    common.Address
	Amount     *big.Int
	Shares     *big.Int
}

func (VaultDeposit) EventType() string { return TypeVaultDeposit }

func (e VaultDeposit) Event() *types.Event {
	return &types.Event{Type: TypeVaultDeposit, Attributes: map[string]string{
		"controller": addressString(e.Controller),
		"account":    addressString(e.Account),
		"amount":     amountString(e.Amount),
		"shares":     amountString(e.Shares),
	}}
}

// VaultWithdraw records a share redemption, the want paid out and the
// withdraw fee retained.
type VaultWithdraw struct {
	Controller common.Address
	Account    common.Address
	Shares     *big.Int
	Amount     *big.Int
	Fee        *big.Int
}

func (VaultWithdraw) EventType() string { return TypeVaultWithdraw }

func (e VaultWithdraw) Event() *types.Event {
	return &types.Event{Type: TypeVaultWithdraw, Attributes: map[string]string{
		"controller": addressString(e.Controller),
		"account":    addressString(e.Account),
		"shares":     amountString(e.Shares),
		"amount":     amountString(e.Amount),
		"fee":        amountString(e.Fee),
	}}
}

// NewStrategy records a strategy migration.
type NewStrategy struct {
	Controller common.Address
	Previous   common.Address
	Strategy   common.Address
}

func (NewStrategy) EventType() string { return TypeNewStrategy }

func (e NewStrategy) Event() *types.Event {
	attrs := map[string]string{
		"controller": addressString(e.Controller),
		"strategy":   addressString(e.Strategy),
	}
	if prev := addressString(e.Previous); prev != "" {
		attrs["previous"] = prev
	}
	return &types.Event{Type: TypeNewStrategy, Attributes: attrs}
}

// NewDepositCap records a deposit cap change. Zero means unlimited.
type NewDepositCap struct {
	Controller common.Address
	Previous   *big.Int
	Cap        *big.Int
}

func (NewDepositCap) EventType() string { return TypeNewDepositCap }

func (e NewDepositCap) Event() *types.Event {
	return &types.Event{Type: TypeNewDepositCap, Attributes: map[string]string{
		"controller": addressString(e.Controller),
		"previous":   amountString(e.Previous),
		"cap":        amountString(e.Cap),
	}}
}

// Harvested records rewards claimed, swapped into want and redeposited.
type Harvested struct {
	Strategy common.Address
	Reward   *big.Int
	WantOut  *big.Int
}

func (Harvested) EventType() string { return TypeHarvested }

func (e Harvested) Event() *types.Event {
	return &types.Event{Type: TypeHarvested, Attributes: map[string]string{
		"strategy": addressString(e.Strategy),
		"reward":   amountString(e.Reward),
		"wantOut":  amountString(e.WantOut),
	}}
}

// PerformanceFee records the share of realised yield sent to the fee manager.
type PerformanceFee struct {
	Strategy common.Address
	Want     common.Address
	Yield    *big.Int
	Amount   *big.Int
}

func (PerformanceFee) EventType() string { return TypePerformanceFee }

func (e PerformanceFee) Event() *types.Event {
	return &types.Event{Type: TypePerformanceFee, Attributes: map[string]string{
		"strategy": addressString(e.Strategy),
		"want":     addressString(e.Want),
		"yield":    amountString(e.Yield),
		"amount":   amountString(e.Amount),
	}}
}

// StrategyPanic records an emergency unwind.
type StrategyPanic struct {
	Strategy common.Address
	Released *big.Int
}

func (StrategyPanic) EventType() string { return TypeStrategyPanic }

func (e StrategyPanic) Event() *types.Event {
	return &types.Event{Type: TypeStrategyPanic, Attributes: map[string]string{
		"strategy": addressString(e.Strategy),
		"released": amountString(e.Released),
	}}
}

// StrategyRebalanced records new leverage parameters.
type StrategyRebalanced struct {
	Strategy    common.Address
	BorrowRate  uint64
	BorrowDepth uint64
}

func (StrategyRebalanced) EventType() string { return TypeStrategyRebalanced }

func (e StrategyRebalanced) Event() *types.Event {
	return &types.Event{Type: TypeStrategyRebalanced, Attributes: map[string]string{
		"strategy":    addressString(e.Strategy),
		"borrowRate":  uintString(e.BorrowRate),
		"borrowDepth": uintString(e.BorrowDepth),
	}}
}

// FeeConverted records fee tokens swapped into the treasury asset.
type FeeConverted struct {
	Asset     common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
	Treasury  common.Address
}

func (FeeConverted) EventType() string { return TypeFeeConverted }

func (e FeeConverted) Event() *types.Event {
	return &types.Event{Type: TypeFeeConverted, Attributes: map[string]string{
		"asset":     addressString(e.Asset),
		"amountIn":  amountString(e.AmountIn),
		"amountOut": amountString(e.AmountOut),
		"treasury":  addressString(e.Treasury),
	}}
}

// ParamUpdated records an operator setter taking effect.
type ParamUpdated struct {
	Module common.Address
	Name   string
	Value  string
}

func (ParamUpdated) EventType() string { return TypeParamUpdated }

func (e ParamUpdated) Event() *types.Event {
	return &types.Event{Type: TypeParamUpdated, Attributes: map[string]string{
		"module": addressString(e.Module),
		"name":   strings.TrimSpace(e.Name),
		"value":  strings.TrimSpace(e.Value),
	}}
}
