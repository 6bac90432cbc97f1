package core

import (
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"yieldvault/config"
	"yieldvault/core/events"
	nativecommon "yieldvault/native/common"
	"yieldvault/native/controller"
	"yieldvault/native/strategy"
	"yieldvault/storage"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type recordingSink struct {
	events []events.Event
}

func (r *recordingSink) Emit(e events.Event) { r.events = append(r.events, e) }

func (r *recordingSink) types() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func newProtocol(t *testing.T, db storage.Database) (*Protocol, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	p, err := New(config.Default(), db, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sink:   sink,
	})
	require.NoError(t, err)
	return p, sink
}

func fundAndApprove(t *testing.T, p *Protocol, user common.Address, amount *big.Int) {
	t.Helper()
	require.NoError(t, p.Fund(p.Operator(), "DAI", user, amount))
	require.NoError(t, p.Approve(user, "DAI", p.FarmAddress(), amount))
}

func TestGenesisSeedsConfiguredVault(t *testing.T) {
	p, sink := newProtocol(t, storage.NewMemDB())

	vaults, err := p.Vaults()
	require.NoError(t, err)
	require.Len(t, vaults, 1)
	require.Equal(t, "DAI", vaults[0].Symbol)
	require.NotEqual(t, common.Address{}, vaults[0].Strategy)
	require.Equal(t, uint64(1), vaults[0].Weighing)
	require.Zero(t, vaults[0].TotalShares.Sign())

	require.Contains(t, p.Symbols(), "YVDAI")
	require.Contains(t, sink.types(), events.TypeFarmPoolAdded)
	require.Contains(t, sink.types(), events.TypeNewStrategy)

	digest, err := p.Digest()
	require.NoError(t, err)
	require.NotEqual(t, [32]byte{}, digest)
}

func TestDepositHarvestWithdraw(t *testing.T) {
	p, _ := newProtocol(t, storage.NewMemDB())
	fundAndApprove(t, p, alice, units(100))

	shares, err := p.Deposit(alice, 0, units(100), common.Address{})
	require.NoError(t, err)
	require.Equal(t, units(100), shares)

	_, collateral, debt, err := p.StrategyInfo(0)
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Div(units(1875), big.NewInt(10)), collateral)
	require.Equal(t, new(big.Int).Div(units(875), big.NewInt(10)), debt)

	require.NoError(t, p.AdvanceBlocks(2))
	info, err := p.UserInfo(0, alice)
	require.NoError(t, err)
	require.Equal(t, units(2), info.PendingReward)

	paid, err := p.Harvest(alice, 0)
	require.NoError(t, err)
	require.Equal(t, units(2), paid)
	again, err := p.Harvest(alice, 0)
	require.NoError(t, err)
	require.Zero(t, again.Sign())

	reward, err := p.BalanceOf("VAULT", alice)
	require.NoError(t, err)
	require.Equal(t, units(2), reward)

	received, err := p.Withdraw(alice, 0, shares)
	require.NoError(t, err)
	// 10 bps withdraw fee plus two blocks of reserve-factor interest.
	require.True(t, received.Cmp(units(99)) > 0, "received %s", received)
	require.True(t, received.Cmp(units(100)) < 0, "received %s", received)
	balance, err := p.BalanceOf("DAI", alice)
	require.NoError(t, err)
	require.Equal(t, received, balance)
}

func TestEmergencyWithdrawAfterInterestAccrues(t *testing.T) {
	for _, blocks := range []uint64{1, 2, 7, 50} {
		p, _ := newProtocol(t, storage.NewMemDB())
		fundAndApprove(t, p, alice, units(100))
		_, err := p.Deposit(alice, 0, units(100), common.Address{})
		require.NoError(t, err)
		require.NoError(t, p.AdvanceBlocks(blocks))

		received, err := p.EmergencyWithdraw(alice, 0)
		require.NoError(t, err, "blocks=%d", blocks)
		require.True(t, received.Cmp(units(99)) > 0, "blocks=%d received %s", blocks, received)
		balance, err := p.BalanceOf("DAI", alice)
		require.NoError(t, err)
		require.Equal(t, received, balance)

		info, err := p.UserInfo(0, alice)
		require.NoError(t, err)
		require.Zero(t, info.Shares.Sign(), "blocks=%d", blocks)
		_, _, debt, err := p.StrategyInfo(0)
		require.NoError(t, err)
		require.Zero(t, debt.Sign(), "blocks=%d", blocks)
	}
}

func TestTransactionsAreTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	p, err := New(config.Default(), storage.NewMemDB(), Options{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
	})
	require.NoError(t, err)

	require.NoError(t, p.Fund(p.Operator(), "DAI", alice, units(10)))
	_, err = p.Deposit(alice, 0, units(10), common.Address{})
	require.Error(t, err, "no allowance")

	spans := recorder.Ended()
	require.GreaterOrEqual(t, len(spans), 3)
	require.Equal(t, "core.genesis", spans[0].Name())
	require.Equal(t, codes.Unset, spans[len(spans)-2].Status().Code)
	last := spans[len(spans)-1]
	require.Equal(t, codes.Error, last.Status().Code)
	require.NotEmpty(t, last.Events(), "error recorded on the span")
}

func TestRejectedTransactionLeavesNoTrace(t *testing.T) {
	p, sink := newProtocol(t, storage.NewMemDB())
	require.NoError(t, p.Fund(p.Operator(), "DAI", alice, units(10)))
	before, err := p.Digest()
	require.NoError(t, err)
	emitted := len(sink.events)

	// No allowance for the farm yet.
	_, err = p.Deposit(alice, 0, units(10), bob)
	require.Error(t, err)

	after, err := p.Digest()
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Len(t, sink.events, emitted)
	info, err := p.UserInfo(0, alice)
	require.NoError(t, err)
	require.Zero(t, info.Shares.Sign())
}

func TestEventsReleasedInOrderOnCommit(t *testing.T) {
	p, sink := newProtocol(t, storage.NewMemDB())
	fundAndApprove(t, p, alice, units(10))
	sink.events = nil

	_, err := p.Deposit(alice, 0, units(10), bob)
	require.NoError(t, err)
	require.Equal(t, []string{events.TypeReferrerSet, events.TypeVaultDeposit, events.TypeFarmDeposit}, sink.types())
}

func TestModulePause(t *testing.T) {
	p, _ := newProtocol(t, storage.NewMemDB())
	fundAndApprove(t, p, alice, units(10))

	require.ErrorIs(t, p.SetModulePaused(alice, "farm", true), nativecommon.ErrUnauthorized)
	require.ErrorIs(t, p.SetModulePaused(p.Operator(), "controller", true), ErrUnknownModule)
	require.NoError(t, p.SetModulePaused(p.Operator(), "farm", true))
	require.ErrorIs(t, p.SetModulePaused(p.Operator(), "farm", true), nativecommon.ErrSameValue)
	require.True(t, p.ModulePaused("farm"))

	_, err := p.Deposit(alice, 0, units(10), common.Address{})
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	require.NoError(t, p.SetModulePaused(p.Operator(), "farm", false))
	_, err = p.Deposit(alice, 0, units(10), common.Address{})
	require.NoError(t, err)
}

func TestStrategyHarvestFeesReachTreasury(t *testing.T) {
	p, sink := newProtocol(t, storage.NewMemDB())
	fundAndApprove(t, p, alice, units(100))
	_, err := p.Deposit(alice, 0, units(100), common.Address{})
	require.NoError(t, err)

	require.NoError(t, p.AdvanceBlocks(10))
	before, err := p.VaultInfo(0)
	require.NoError(t, err)
	require.NoError(t, p.HarvestStrategy(bob, 0))
	after, err := p.VaultInfo(0)
	require.NoError(t, err)
	require.True(t, after.PricePerShare.Cmp(before.PricePerShare) > 0)
	require.Contains(t, sink.types(), events.TypeHarvested)
	require.Contains(t, sink.types(), events.TypePerformanceFee)

	out, err := p.ConvertFees("DAI")
	require.NoError(t, err)
	require.Positive(t, out.Sign())
	treasury, err := config.ParseAddress(config.Default().Fees.Treasury)
	require.NoError(t, err)
	usdc, err := p.BalanceOf("USDC", treasury)
	require.NoError(t, err)
	require.Equal(t, out, usdc)
}

func TestStalePriceBlocksHarvest(t *testing.T) {
	p, _ := newProtocol(t, storage.NewMemDB())
	fundAndApprove(t, p, alice, units(100))
	_, err := p.Deposit(alice, 0, units(100), common.Address{})
	require.NoError(t, err)
	require.NoError(t, p.AdvanceBlocks(10))
	require.NoError(t, p.SetTime(p.Time()+3_601))

	err = p.HarvestStrategy(bob, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "stale price")
	require.ErrorIs(t, p.SetTime(p.Time()-1), ErrClockBackward)

	require.NoError(t, p.UpdatePrice(p.Operator(), "DAI", big.NewInt(100_000_000)))
	require.NoError(t, p.UpdatePrice(p.Operator(), "LEND", big.NewInt(50_000_000)))
	require.NoError(t, p.HarvestStrategy(bob, 0))
}

func TestStrategyMigrationAndSetters(t *testing.T) {
	p, _ := newProtocol(t, storage.NewMemDB())
	params := *config.Default().Vaults[0].Strategy
	params.BorrowDepth = 1

	_, err := p.RegisterStrategy(alice, 0, params)
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)
	next, err := p.RegisterStrategy(p.Operator(), 0, params)
	require.NoError(t, err)

	fundAndApprove(t, p, alice, units(100))
	_, err = p.Deposit(alice, 0, units(100), common.Address{})
	require.NoError(t, err)
	require.ErrorIs(t, p.SetStrategy(p.Operator(), 0, next), controller.ErrStrategyHasDeposits)

	require.NoError(t, p.ExecuteStrategy("panic", 0, func(s *strategy.Leveraged) error { return s.Panic(p.Operator()) }))
	require.NoError(t, p.SetStrategy(p.Operator(), 0, next))
	info, err := p.VaultInfo(0)
	require.NoError(t, err)
	require.Equal(t, next, info.Strategy)

	_, collateral, debt, err := p.StrategyInfo(0)
	require.NoError(t, err)
	require.Equal(t, units(150), collateral)
	require.Equal(t, units(50), debt)

	require.NoError(t, p.ExecuteVault("setWithdrawFee", 0, func(c *controller.Controller) error {
		return c.SetWithdrawFee(p.Operator(), 50)
	}))
	require.ErrorIs(t, p.ExecuteVault("setWithdrawFee", 0, func(c *controller.Controller) error {
		return c.SetWithdrawFee(p.Operator(), 50)
	}), nativecommon.ErrSameValue)
}

func TestResumeFromExistingState(t *testing.T) {
	db := storage.NewMemDB()
	p, _ := newProtocol(t, db)
	params := *config.Default().Vaults[0].Strategy
	next, err := p.RegisterStrategy(p.Operator(), 0, params)
	require.NoError(t, err)
	fundAndApprove(t, p, alice, units(50))
	_, err = p.Deposit(alice, 0, units(50), common.Address{})
	require.NoError(t, err)
	require.NoError(t, p.AdvanceBlocks(5))
	digest, err := p.Digest()
	require.NoError(t, err)

	resumed, _ := newProtocol(t, db)
	require.Equal(t, p.Height(), resumed.Height())
	require.Equal(t, p.Time(), resumed.Time())
	again, err := resumed.Digest()
	require.NoError(t, err)
	require.Equal(t, digest, again)

	require.Len(t, resumed.vaults[0].strategies, 2)
	require.Equal(t, next, resumed.vaults[0].strategies[1].Address())
	info, err := resumed.UserInfo(0, alice)
	require.NoError(t, err)
	require.Equal(t, units(5), info.PendingReward)
}
