package strategy

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	nativecommon "yieldvault/native/common"
	"yieldvault/native/lending"
	"yieldvault/native/priceguard"
)

func TestDepositLoopsSupplyAndBorrow(t *testing.T) {
	h := newHarness(t, defaultConfig(), defaultMarket())
	h.deposit(units(100))

	pos, err := h.strategy.Position()
	require.NoError(t, err)
	// 100 + 50 + 25 + 12.5 supplied, 50 + 25 + 12.5 borrowed.
	require.Equal(t, tenths(1875).String(), pos.Collateral.String())
	require.Equal(t, tenths(875).String(), pos.Debt.String())

	// Total borrowed stays within initial * r / (1 - r).
	bound := nativecommon.MulDiv(units(100), big.NewInt(5_000), big.NewInt(5_000))
	require.True(t, pos.Debt.Cmp(bound) <= 0)

	balance, err := h.strategy.BalanceOf()
	require.NoError(t, err)
	require.Equal(t, units(100).String(), balance.String())
	params, err := h.strategy.Params()
	require.NoError(t, err)
	require.Equal(t, units(100).String(), params.LastBalance.String())
}

func TestDepositBelowMinLeverageSuppliesOnce(t *testing.T) {
	cfg := defaultConfig()
	cfg.MinLeverage = units(1_000)
	h := newHarness(t, cfg, defaultMarket())
	h.deposit(units(100))

	pos, err := h.strategy.Position()
	require.NoError(t, err)
	require.Equal(t, units(100).String(), pos.Collateral.String())
	require.Zero(t, pos.Debt.Sign())
}

func TestWithdrawPartialDeleverage(t *testing.T) {
	h := newHarness(t, defaultConfig(), defaultMarket())
	h.deposit(units(100))

	sent, err := h.strategy.Withdraw(controller, units(50))
	require.NoError(t, err)
	require.Equal(t, units(50).String(), sent.String())
	require.Equal(t, units(50).String(), h.balance(dai, controller).String())

	balance, err := h.strategy.BalanceOf()
	require.NoError(t, err)
	require.Equal(t, units(50).String(), balance.String())
	pos, err := h.strategy.Position()
	require.NoError(t, err)
	require.Positive(t, pos.Debt.Sign(), "partial path keeps leverage")
}

func TestWithdrawAboveRatioUnwindsFully(t *testing.T) {
	h := newHarness(t, defaultConfig(), defaultMarket())
	h.deposit(units(100))

	sent, err := h.strategy.Withdraw(controller, units(95))
	require.NoError(t, err)
	require.Equal(t, units(95).String(), sent.String())

	balance, err := h.strategy.BalanceOf()
	require.NoError(t, err)
	require.Equal(t, units(5).String(), balance.String())
}

func TestFullWithdrawAfterInterestAccrues(t *testing.T) {
	for _, blocks := range []uint64{1, 2, 7, 1_000} {
		h := newHarness(t, defaultConfig(), defaultMarket())
		h.venue.SetInterestModel(lending.DefaultInterestModel)
		h.deposit(units(100))
		h.venue.SetBlockHeight(blocks)

		sent, err := h.strategy.Withdraw(controller, units(1_000))
		require.NoError(t, err, "blocks=%d", blocks)
		require.Equal(t, sent.String(), h.balance(dai, controller).String())
		require.True(t, sent.Cmp(units(99)) > 0, "blocks=%d sent=%s", blocks, sent)

		pos, err := h.strategy.Position()
		require.NoError(t, err)
		require.Zero(t, pos.Debt.Sign(), "blocks=%d", blocks)
		require.Zero(t, h.balance(dai, strategyAddr).Sign(), "blocks=%d", blocks)
	}
}

func TestWithdrawBoundedLoopReportsInsufficientLiquidity(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxDeleverageIterations = 1
	h := newHarness(t, cfg, defaultMarket())
	h.deposit(units(100))

	_, err := h.strategy.Withdraw(controller, units(50))
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestWithdrawOnlyController(t *testing.T) {
	h := newHarness(t, defaultConfig(), defaultMarket())
	h.deposit(units(10))
	_, err := h.strategy.Withdraw(owner, units(1))
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)
	require.ErrorIs(t, h.strategy.Deposit(owner), nativecommon.ErrUnauthorized)
}

func TestHarvestSwapsChargesFeeAndRedeploys(t *testing.T) {
	market := defaultMarket()
	market.IncentivePerBlock = units(10)
	h := newHarness(t, defaultConfig(), market)
	h.deposit(units(100))

	h.venue.SetBlockHeight(10)
	require.NoError(t, h.strategy.Harvest(owner))

	fee := h.balance(dai, feeManager)
	require.Positive(t, fee.Sign())
	balance, err := h.strategy.BalanceOf()
	require.NoError(t, err)
	// 100 INC swapped at ~1:1 less pool fee and impact; 10% of it is the fee.
	wantOut := new(big.Int).Sub(balance, units(100))
	wantOut.Add(wantOut, fee)
	require.Equal(t, nativecommon.ApplyBps(wantOut, 1_000).String(), fee.String())
	require.True(t, wantOut.Cmp(units(97)) > 0 && wantOut.Cmp(units(100)) < 0)

	idle, err := h.strategy.Idle()
	require.NoError(t, err)
	require.Zero(t, idle.Sign(), "harvested want is redeployed")
	params, err := h.strategy.Params()
	require.NoError(t, err)
	require.Equal(t, balance.String(), params.LastBalance.String())

	// Nothing new accrued: a second harvest in the same block charges nothing.
	require.NoError(t, h.strategy.Harvest(owner))
	require.Equal(t, fee.String(), h.balance(dai, feeManager).String())
}

func TestHarvestRejectsStalePrice(t *testing.T) {
	market := defaultMarket()
	market.IncentivePerBlock = units(10)
	h := newHarness(t, defaultConfig(), market)
	h.deposit(units(100))
	h.venue.SetBlockHeight(10)
	h.setTime(1_000 + 601)

	err := h.strategy.Harvest(owner)
	require.ErrorIs(t, err, priceguard.ErrStalePrice)
}

func TestBeforeMovementSkipsFeeOnLoss(t *testing.T) {
	market := defaultMarket()
	market.ReserveFactor = 5_000
	h := newHarness(t, defaultConfig(), market)
	h.venue.SetInterestModel(lending.DefaultInterestModel)
	h.deposit(units(100))

	h.venue.SetBlockHeight(1_000_000)
	balance, err := h.strategy.BalanceOf()
	require.NoError(t, err)
	require.True(t, balance.Cmp(units(100)) < 0, "reserve factor makes the loop lose money")

	require.NoError(t, h.strategy.BeforeMovement(controller))
	require.Zero(t, h.balance(dai, feeManager).Sign())
	params, err := h.strategy.Params()
	require.NoError(t, err)
	require.Equal(t, balance.String(), params.LastBalance.String())
}

func TestIncreaseHealthFactor(t *testing.T) {
	h := newHarness(t, defaultConfig(), defaultMarket())
	require.ErrorIs(t, h.strategy.IncreaseHealthFactor(owner, 10_001), nativecommon.ErrInvalidRatio)
	require.NoError(t, h.strategy.IncreaseHealthFactor(owner, 10_000), "no debt is a no-op")

	h.deposit(units(100))
	before, err := h.strategy.Position()
	require.NoError(t, err)
	require.NoError(t, h.strategy.IncreaseHealthFactor(owner, 5_000))
	after, err := h.strategy.Position()
	require.NoError(t, err)
	require.True(t, after.HealthFactor.Cmp(before.HealthFactor) > 0)
	require.True(t, after.Debt.Cmp(before.Debt) < 0)

	balance, err := h.strategy.BalanceOf()
	require.NoError(t, err)
	require.Equal(t, units(100).String(), balance.String())
	require.ErrorIs(t, h.strategy.IncreaseHealthFactor(controller, 1), nativecommon.ErrUnauthorized)
}

func TestRebalance(t *testing.T) {
	h := newHarness(t, defaultConfig(), defaultMarket())
	h.deposit(units(100))

	require.ErrorIs(t, h.strategy.Rebalance(owner, 6_001, 3), ErrExceedsMaxBorrowRate)
	require.ErrorIs(t, h.strategy.Rebalance(owner, 5_000, 6), ErrExceedsMaxBorrowDepth)
	require.ErrorIs(t, h.strategy.Rebalance(owner, 5_000, 3), nativecommon.ErrSameValue)

	require.NoError(t, h.strategy.Rebalance(owner, 5_000, 1))
	pos, err := h.strategy.Position()
	require.NoError(t, err)
	require.Equal(t, units(150).String(), pos.Collateral.String())
	require.Equal(t, units(50).String(), pos.Debt.String())
	params, err := h.strategy.Params()
	require.NoError(t, err)
	require.EqualValues(t, 1, params.BorrowDepth)
}

func TestPanicUnwindsAndPauses(t *testing.T) {
	h := newHarness(t, defaultConfig(), defaultMarket())
	h.deposit(units(100))

	require.ErrorIs(t, h.strategy.Panic(controller), nativecommon.ErrUnauthorized)
	require.NoError(t, h.strategy.Panic(owner))
	require.Equal(t, units(100).String(), h.balance(dai, controller).String())
	deployed, err := h.strategy.Deployed()
	require.NoError(t, err)
	require.Zero(t, deployed.Sign())
	paused, err := h.strategy.Paused()
	require.NoError(t, err)
	require.True(t, paused)

	require.NoError(t, h.ledger.Transfer(dai, controller, strategyAddr, units(1)))
	require.ErrorIs(t, h.strategy.Deposit(controller), ErrStrategyPaused)
	require.NoError(t, h.strategy.Unpause(owner))
	require.ErrorIs(t, h.strategy.Unpause(owner), ErrNotPaused)
	require.NoError(t, h.strategy.Deposit(controller))
}

func TestRetireReturnsEverything(t *testing.T) {
	h := newHarness(t, defaultConfig(), defaultMarket())
	h.deposit(units(100))
	released, err := h.strategy.Retire(controller)
	require.NoError(t, err)
	require.Equal(t, units(100).String(), released.String())
	require.Equal(t, units(100).String(), h.balance(dai, controller).String())
}

func TestSettersRejectSameValueAndBounds(t *testing.T) {
	h := newHarness(t, defaultConfig(), defaultMarket())
	require.ErrorIs(t, h.strategy.SetPerformanceFee(owner, 1_000), nativecommon.ErrSameValue)
	require.ErrorIs(t, h.strategy.SetPerformanceFee(owner, MaxPerformanceFee+1), ErrFeeTooHigh)
	require.NoError(t, h.strategy.SetPerformanceFee(owner, 500))
	require.ErrorIs(t, h.strategy.SetRatioForFullWithdraw(owner, 10_001), nativecommon.ErrInvalidRatio)
	require.NoError(t, h.strategy.SetRatioForFullWithdraw(owner, 8_000))
	require.ErrorIs(t, h.strategy.SetMaxDeleverageIterations(owner, 0), ErrInvalidIterationBound)
	require.NoError(t, h.strategy.SetMinLeverage(owner, big.NewInt(5)))
	require.ErrorIs(t, h.strategy.SetMinLeverage(owner, big.NewInt(5)), nativecommon.ErrSameValue)

	params, err := h.strategy.Params()
	require.NoError(t, err)
	require.EqualValues(t, 500, params.PerformanceFee)
	require.EqualValues(t, 8_000, params.RatioForFullWithdraw)
}

func TestConfigValidation(t *testing.T) {
	cfg := defaultConfig()
	cfg.BorrowRate = 7_000
	require.ErrorIs(t, cfg.Validate(), ErrExceedsMaxBorrowRate)

	cfg = defaultConfig()
	cfg.RewardPath = []common.Address{inc}
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = defaultConfig()
	cfg.MaxDeleverageIterations = 0
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
