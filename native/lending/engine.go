package lending

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"

	nativecommon "yieldvault/native/common"
)

var (
	errNilState = errors.New("lending engine: state not configured")

	ErrMarketNotFound        = errors.New("lending engine: market not initialised")
	ErrMarketExists          = errors.New("lending engine: market already initialised")
	ErrInvalidAmount         = errors.New("lending engine: amount must be positive")
	ErrInvalidParams         = errors.New("lending engine: invalid market parameters")
	ErrInsufficientBalance   = errors.New("lending engine: insufficient supplied balance")
	ErrInsufficientLiquidity = errors.New("lending engine: insufficient liquidity")
	ErrLTVExceeded           = errors.New("lending engine: loan-to-value above maximum")
	ErrNoDebtToRepay         = errors.New("lending engine: no outstanding debt to repay")
	ErrUnsupportedRateMode   = errors.New("lending engine: unsupported borrow rate mode")
)

const moduleName = "lending"

type tokenLedger interface {
	Transfer(asset, from, to common.Address, amount *big.Int) error
	Mint(asset, minter, to common.Address, amount *big.Int) error
	BalanceOf(asset, owner common.Address) (*big.Int, error)
}

// Engine is the lending venue used by leveraged strategies. Each market lends
// and accepts as collateral the same asset.
type Engine struct {
	state          nativecommon.Store
	ledger         tokenLedger
	address        common.Address
	incentiveAsset common.Address
	interestModel  *InterestModel
	blockHeight    uint64
	pauses         nativecommon.PauseView
}

// NewEngine constructs a lending engine holding liquidity at address and
// paying supplier incentives in incentiveAsset. The engine must be the minter
// of the incentive asset for claims to succeed.
func NewEngine(address common.Address, ledger tokenLedger, incentiveAsset common.Address) *Engine {
	return &Engine{
		address:        address,
		ledger:         ledger,
		incentiveAsset: incentiveAsset,
		interestModel:  DefaultInterestModel.Clone(),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state nativecommon.Store) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetInterestModel configures the interest rate model used by the engine.
func (e *Engine) SetInterestModel(model *InterestModel) {
	if e == nil {
		return
	}
	if model != nil {
		e.interestModel = model.Clone()
	} else {
		e.interestModel = nil
	}
}

// SetBlockHeight records the block height used when computing accrual deltas.
func (e *Engine) SetBlockHeight(height uint64) {
	if e == nil {
		return
	}
	e.blockHeight = height
}

// Address returns the account holding the venue's liquidity.
func (e *Engine) Address() common.Address { return e.address }

// IncentiveAsset returns the token paid by ClaimRewards.
func (e *Engine) IncentiveAsset() common.Address { return e.incentiveAsset }

func marketKey(asset common.Address) []byte { return nativecommon.Key("lending/market", asset) }

func positionKey(asset, account common.Address) []byte {
	return nativecommon.Key("lending/position", asset, account)
}

// CreateMarket opens a market for asset.
func (e *Engine) CreateMarket(asset common.Address, params MarketParams) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if asset == (common.Address{}) {
		return fmt.Errorf("lending engine: create market: %w", nativecommon.ErrZeroAddress)
	}
	if err := validateParams(params); err != nil {
		return err
	}
	ok, err := e.state.KVGet(marketKey(asset), nil)
	if err != nil {
		return err
	}
	if ok {
		return ErrMarketExists
	}
	market := &Market{
		MaxLTV:               params.MaxLTV,
		LiquidationThreshold: params.LiquidationThreshold,
		ReserveFactor:        params.ReserveFactor,
		IncentivePerBlock:    nativecommon.Clone(params.IncentivePerBlock),
		LastUpdateBlock:      e.blockHeight,
	}
	market.normalise()
	return e.state.KVPut(marketKey(asset), market)
}

// UpdateMarketParams replaces the risk settings of an existing market after
// accruing at the previous settings.
func (e *Engine) UpdateMarketParams(asset common.Address, params MarketParams) error {
	if err := validateParams(params); err != nil {
		return err
	}
	market, err := e.loadMarket(asset)
	if err != nil {
		return err
	}
	e.accrue(market)
	market.MaxLTV = params.MaxLTV
	market.LiquidationThreshold = params.LiquidationThreshold
	market.ReserveFactor = params.ReserveFactor
	market.IncentivePerBlock = nativecommon.Clone(params.IncentivePerBlock)
	return e.state.KVPut(marketKey(asset), market)
}

func validateParams(params MarketParams) error {
	if params.MaxLTV == 0 || params.MaxLTV > params.LiquidationThreshold || params.LiquidationThreshold > nativecommon.BPSDenominator {
		return fmt.Errorf("%w: ltv %d threshold %d", ErrInvalidParams, params.MaxLTV, params.LiquidationThreshold)
	}
	if params.ReserveFactor > nativecommon.BPSDenominator {
		return fmt.Errorf("%w: reserve factor %d", ErrInvalidParams, params.ReserveFactor)
	}
	if params.IncentivePerBlock != nil && params.IncentivePerBlock.Sign() < 0 {
		return fmt.Errorf("%w: negative incentive rate", ErrInvalidParams)
	}
	return nil
}

// Supply moves amount of asset from supplier into the venue and credits it as
// collateral.
func (e *Engine) Supply(asset, supplier common.Address, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !nativecommon.Positive(amount) {
		return ErrInvalidAmount
	}
	market, pos, err := e.loadForUpdate(asset, supplier)
	if err != nil {
		return err
	}
	if err := e.ledger.Transfer(asset, supplier, e.address, amount); err != nil {
		return err
	}
	scaled := toScaled(amount, market.SupplyIndex, false)
	pos.ScaledSupply = new(big.Int).Add(pos.ScaledSupply, scaled)
	market.TotalScaledSupply = new(big.Int).Add(market.TotalScaledSupply, scaled)
	return e.persist(asset, supplier, market, pos)
}

// Withdraw releases amount of supplied collateral back to the supplier. The
// remaining position must stay within the maximum loan-to-value.
func (e *Engine) Withdraw(asset, supplier common.Address, amount *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if !nativecommon.Positive(amount) {
		return nil, ErrInvalidAmount
	}
	market, pos, err := e.loadForUpdate(asset, supplier)
	if err != nil {
		return nil, err
	}
	collateral := fromScaled(pos.ScaledSupply, market.SupplyIndex, false)
	if amount.Cmp(collateral) > 0 {
		return nil, ErrInsufficientBalance
	}
	debt := fromScaled(pos.ScaledDebt, market.BorrowIndex, true)
	remaining := new(big.Int).Sub(collateral, amount)
	if !withinLTV(remaining, debt, market.MaxLTV) {
		return nil, ErrLTVExceeded
	}
	if err := e.ensureCash(asset, amount); err != nil {
		return nil, err
	}
	burn := toScaled(amount, market.SupplyIndex, true)
	if amount.Cmp(collateral) == 0 || burn.Cmp(pos.ScaledSupply) > 0 {
		burn = new(big.Int).Set(pos.ScaledSupply)
	}
	pos.ScaledSupply = new(big.Int).Sub(pos.ScaledSupply, burn)
	market.TotalScaledSupply = subFloor(market.TotalScaledSupply, burn)
	if err := e.persist(asset, supplier, market, pos); err != nil {
		return nil, err
	}
	if err := e.ledger.Transfer(asset, e.address, supplier, amount); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

// Borrow lends amount of asset against the borrower's supplied collateral.
func (e *Engine) Borrow(asset, borrower common.Address, amount *big.Int, rateMode uint8) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if rateMode != RateModeVariable {
		return fmt.Errorf("%w: %d", ErrUnsupportedRateMode, rateMode)
	}
	if !nativecommon.Positive(amount) {
		return ErrInvalidAmount
	}
	market, pos, err := e.loadForUpdate(asset, borrower)
	if err != nil {
		return err
	}
	collateral := fromScaled(pos.ScaledSupply, market.SupplyIndex, false)
	debt := fromScaled(pos.ScaledDebt, market.BorrowIndex, true)
	nextDebt := new(big.Int).Add(debt, amount)
	if !withinLTV(collateral, nextDebt, market.MaxLTV) {
		return ErrLTVExceeded
	}
	if err := e.ensureCash(asset, amount); err != nil {
		return err
	}
	scaled := toScaled(amount, market.BorrowIndex, true)
	pos.ScaledDebt = new(big.Int).Add(pos.ScaledDebt, scaled)
	market.TotalScaledDebt = new(big.Int).Add(market.TotalScaledDebt, scaled)
	if err := e.persist(asset, borrower, market, pos); err != nil {
		return err
	}
	return e.ledger.Transfer(asset, e.address, borrower, amount)
}

// Repay reduces the payer's debt by up to amount and returns the amount
// actually repaid.
func (e *Engine) Repay(asset, payer common.Address, amount *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if !nativecommon.Positive(amount) {
		return nil, ErrInvalidAmount
	}
	market, pos, err := e.loadForUpdate(asset, payer)
	if err != nil {
		return nil, err
	}
	debt := fromScaled(pos.ScaledDebt, market.BorrowIndex, true)
	if debt.Sign() == 0 {
		return nil, ErrNoDebtToRepay
	}
	repaid := nativecommon.Min(amount, debt)
	burn := toScaled(repaid, market.BorrowIndex, false)
	if repaid.Cmp(debt) == 0 || burn.Cmp(pos.ScaledDebt) > 0 {
		burn = new(big.Int).Set(pos.ScaledDebt)
	}
	pos.ScaledDebt = new(big.Int).Sub(pos.ScaledDebt, burn)
	market.TotalScaledDebt = subFloor(market.TotalScaledDebt, burn)
	if err := e.ledger.Transfer(asset, payer, e.address, repaid); err != nil {
		return nil, err
	}
	if err := e.persist(asset, payer, market, pos); err != nil {
		return nil, err
	}
	return repaid, nil
}

// ClaimRewards mints the incentives accrued by account to recipient.
func (e *Engine) ClaimRewards(asset, account, recipient common.Address) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	market, pos, err := e.loadForUpdate(asset, account)
	if err != nil {
		return nil, err
	}
	claimed := new(big.Int).Set(pos.AccruedRewards)
	pos.AccruedRewards = big.NewInt(0)
	if err := e.persist(asset, account, market, pos); err != nil {
		return nil, err
	}
	if claimed.Sign() == 0 {
		return claimed, nil
	}
	if err := e.ledger.Mint(e.incentiveAsset, e.address, recipient, claimed); err != nil {
		return nil, err
	}
	return claimed, nil
}

// PendingRewards returns the incentives ClaimRewards would pay right now.
func (e *Engine) PendingRewards(asset, account common.Address) (*big.Int, error) {
	market, err := e.loadMarket(asset)
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(asset, account)
	if err != nil {
		return nil, err
	}
	e.accrue(market)
	settleRewards(market, pos)
	return pos.AccruedRewards, nil
}

// AccountData reports the account's collateral, debt and health factor with
// interest applied up to the current block.
func (e *Engine) AccountData(asset, account common.Address) (*AccountData, error) {
	market, err := e.loadMarket(asset)
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(asset, account)
	if err != nil {
		return nil, err
	}
	e.accrue(market)
	collateral := fromScaled(pos.ScaledSupply, market.SupplyIndex, false)
	debt := fromScaled(pos.ScaledDebt, market.BorrowIndex, true)
	available := nativecommon.ApplyBps(collateral, market.MaxLTV)
	available.Sub(available, debt)
	if available.Sign() < 0 {
		available.SetInt64(0)
	}
	return &AccountData{
		Collateral:           collateral,
		Debt:                 debt,
		AvailableBorrow:      available,
		MaxLTV:               market.MaxLTV,
		LiquidationThreshold: market.LiquidationThreshold,
		HealthFactor:         healthFactor(collateral, debt, market.LiquidationThreshold),
	}, nil
}

// Market returns a snapshot of the market with interest applied up to the
// current block.
func (e *Engine) Market(asset common.Address) (*MarketSnapshot, error) {
	market, err := e.loadMarket(asset)
	if err != nil {
		return nil, err
	}
	e.accrue(market)
	supplied := fromScaled(market.TotalScaledSupply, market.SupplyIndex, false)
	borrowed := fromScaled(market.TotalScaledDebt, market.BorrowIndex, true)
	cash, err := e.ledger.BalanceOf(asset, e.address)
	if err != nil {
		return nil, err
	}
	snapshot := &MarketSnapshot{
		Asset: asset,
		Params: MarketParams{
			MaxLTV:               market.MaxLTV,
			LiquidationThreshold: market.LiquidationThreshold,
			ReserveFactor:        market.ReserveFactor,
			IncentivePerBlock:    nativecommon.Clone(market.IncentivePerBlock),
		},
		TotalSupplied:  supplied,
		TotalBorrowed:  borrowed,
		Cash:           cash,
		SupplyIndex:    new(big.Int).Set(market.SupplyIndex),
		BorrowIndex:    new(big.Int).Set(market.BorrowIndex),
		LastAccrualBlk: market.LastUpdateBlock,
	}
	if e.interestModel != nil {
		snapshot.Utilisation = e.interestModel.Utilisation(borrowed, supplied)
		snapshot.BorrowAPR = e.interestModel.BorrowAPR(borrowed, supplied)
		snapshot.SupplyAPY = e.interestModel.SupplyAPY(borrowed, supplied, market.ReserveFactor)
	}
	return snapshot, nil
}

func (e *Engine) loadForUpdate(asset, account common.Address) (*Market, *Position, error) {
	market, err := e.loadMarket(asset)
	if err != nil {
		return nil, nil, err
	}
	pos, err := e.loadPosition(asset, account)
	if err != nil {
		return nil, nil, err
	}
	e.accrue(market)
	settleRewards(market, pos)
	return market, pos, nil
}

func (e *Engine) persist(asset, account common.Address, market *Market, pos *Position) error {
	if err := e.state.KVPut(positionKey(asset, account), pos); err != nil {
		return err
	}
	return e.state.KVPut(marketKey(asset), market)
}

func (e *Engine) loadMarket(asset common.Address) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	market := new(Market)
	ok, err := e.state.KVGet(marketKey(asset), market)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, asset.Hex())
	}
	market.normalise()
	return market, nil
}

func (e *Engine) loadPosition(asset, account common.Address) (*Position, error) {
	pos := new(Position)
	if _, err := e.state.KVGet(positionKey(asset, account), pos); err != nil {
		return nil, err
	}
	pos.normalise()
	return pos, nil
}

func (e *Engine) ensureCash(asset common.Address, amount *big.Int) error {
	cash, err := e.ledger.BalanceOf(asset, e.address)
	if err != nil {
		return err
	}
	if cash.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	return nil
}

// accrue advances interest indexes and the incentive index to the engine's
// block height. Calling it twice within a block is a no-op.
func (e *Engine) accrue(market *Market) {
	if e.blockHeight <= market.LastUpdateBlock {
		return
	}
	delta := e.blockHeight - market.LastUpdateBlock
	market.LastUpdateBlock = e.blockHeight

	if market.TotalScaledSupply.Sign() > 0 && market.IncentivePerBlock.Sign() > 0 {
		emitted := new(big.Int).Mul(market.IncentivePerBlock, new(big.Int).SetUint64(delta))
		emitted.Mul(emitted, wad)
		emitted.Quo(emitted, market.TotalScaledSupply)
		market.RewardIndex = new(big.Int).Add(market.RewardIndex, emitted)
	}

	if e.interestModel == nil || market.TotalScaledDebt.Sign() == 0 {
		return
	}
	supplied := fromScaled(market.TotalScaledSupply, market.SupplyIndex, false)
	borrowed := fromScaled(market.TotalScaledDebt, market.BorrowIndex, true)
	borrowAPR := e.interestModel.BorrowAPR(borrowed, supplied)
	supplyAPY := e.interestModel.SupplyAPY(borrowed, supplied, market.ReserveFactor)
	market.BorrowIndex = rayMul(market.BorrowIndex, rateFactor(borrowAPR, delta))
	market.SupplyIndex = rayMul(market.SupplyIndex, rateFactor(supplyAPY, delta))
}

func settleRewards(market *Market, pos *Position) {
	if pos.RewardIndex.Cmp(market.RewardIndex) >= 0 {
		return
	}
	diff := new(big.Int).Sub(market.RewardIndex, pos.RewardIndex)
	earned := new(big.Int).Mul(pos.ScaledSupply, diff)
	earned.Quo(earned, wad)
	pos.AccruedRewards = new(big.Int).Add(pos.AccruedRewards, earned)
	pos.RewardIndex = new(big.Int).Set(market.RewardIndex)
}

func withinLTV(collateral, debt *big.Int, maxLTV uint64) bool {
	if debt == nil || debt.Sign() == 0 {
		return true
	}
	num := new(big.Int).Mul(collateral, new(big.Int).SetUint64(maxLTV))
	den := new(big.Int).Mul(debt, basisPoints)
	return num.Cmp(den) >= 0
}

func healthFactor(collateral, debt *big.Int, threshold uint64) *big.Int {
	if debt == nil || debt.Sign() == 0 {
		return new(big.Int).Set(ethmath.MaxBig256)
	}
	num := new(big.Int).Mul(collateral, new(big.Int).SetUint64(threshold))
	num.Mul(num, wad)
	den := new(big.Int).Mul(debt, basisPoints)
	return num.Quo(num, den)
}

func subFloor(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	return out
}
