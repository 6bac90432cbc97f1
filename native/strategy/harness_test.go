package strategy

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"yieldvault/core/state"
	"yieldvault/native/amm"
	"yieldvault/native/lending"
	"yieldvault/native/priceguard"
	"yieldvault/native/token"
	"yieldvault/storage"
)

var (
	dai          = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	inc          = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	faucet       = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	owner        = common.HexToAddress("0x00000000000000000000000000000000000000ab")
	controller   = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	feeManager   = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	strategyAddr = common.HexToAddress("0x0000000000000000000000000000000000000057")
	venueAddr    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	routerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	guardAddr    = common.HexToAddress("0x00000000000000000000000000000000000000f3")
	daiFeed      = common.HexToAddress("0x0000000000000000000000000000000000000fd1")
	incFeed      = common.HexToAddress("0x0000000000000000000000000000000000000fe1")
	liquidity    = common.HexToAddress("0x0000000000000000000000000000000000000111")
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// tenths returns n/10 whole units.
func tenths(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
}

type harness struct {
	t        *testing.T
	ledger   *token.Ledger
	venue    *lending.Engine
	router   *amm.Router
	guard    *priceguard.Guard
	daiFeed  *priceguard.ManualFeed
	incFeed  *priceguard.ManualFeed
	strategy *Leveraged
}

func defaultConfig() Config {
	return Config{
		Address:                 strategyAddr,
		Want:                    dai,
		Controller:              controller,
		FeeManager:              feeManager,
		Owner:                   owner,
		RewardPath:              []common.Address{inc, dai},
		BorrowRate:              5_000,
		BorrowRateMax:           6_000,
		BorrowDepth:             3,
		BorrowDepthMax:          5,
		MinLeverage:             big.NewInt(1_000),
		RatioForFullWithdraw:    9_000,
		PerformanceFee:          1_000,
		MaxDeleverageIterations: 32,
	}
}

func newHarness(t *testing.T, cfg Config, market lending.MarketParams) *harness {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	ledger := token.NewLedger()
	ledger.SetState(manager)
	require.NoError(t, ledger.Register(token.Asset{Address: dai, Symbol: "DAI", Decimals: 18, Minter: faucet}))
	require.NoError(t, ledger.Register(token.Asset{Address: inc, Symbol: "INC", Decimals: 18, Minter: venueAddr}))

	venue := lending.NewEngine(venueAddr, ledger, inc)
	venue.SetState(manager)
	venue.SetInterestModel(nil)
	require.NoError(t, venue.CreateMarket(dai, market))

	router := amm.NewRouter(routerAddr, ledger)
	router.SetState(manager)
	require.NoError(t, router.CreatePool(inc, dai, 30))
	require.NoError(t, ledger.Mint(dai, faucet, liquidity, units(1_000_000)))
	require.NoError(t, ledger.Mint(inc, venueAddr, liquidity, units(1_000_000)))
	_, err := router.AddLiquidity(liquidity, inc, dai, units(1_000_000), units(1_000_000))
	require.NoError(t, err)

	guard := priceguard.New(guardAddr, owner, ledger, priceguard.Params{MaxPriceOffset: 600, SlippageRatio: 300})
	guard.SetState(manager)
	h := &harness{
		t:       t,
		ledger:  ledger,
		venue:   venue,
		router:  router,
		guard:   guard,
		daiFeed: priceguard.NewManualFeed(daiFeed, owner, 8),
		incFeed: priceguard.NewManualFeed(incFeed, owner, 8),
	}
	for _, feed := range []*priceguard.ManualFeed{h.daiFeed, h.incFeed} {
		feed.SetState(manager)
		guard.RegisterFeed(feed)
	}
	require.NoError(t, guard.SetPriceFeed(owner, dai, daiFeed))
	require.NoError(t, guard.SetPriceFeed(owner, inc, incFeed))
	h.setTime(1_000)
	require.NoError(t, h.daiFeed.Update(owner, big.NewInt(100_000_000), 1_000))
	require.NoError(t, h.incFeed.Update(owner, big.NewInt(100_000_000), 1_000))

	strat, err := NewLeveraged(cfg, Dependencies{Ledger: ledger, Venue: venue, Router: router, Guard: guard})
	require.NoError(t, err)
	strat.SetState(manager)
	strat.SetBlockTime(1_000)
	h.strategy = strat
	return h
}

func defaultMarket() lending.MarketParams {
	return lending.MarketParams{MaxLTV: 7_500, LiquidationThreshold: 8_000}
}

func (h *harness) setTime(ts uint64) {
	h.router.SetBlockTime(ts)
	h.guard.SetBlockTime(ts)
	if h.strategy != nil {
		h.strategy.SetBlockTime(ts)
	}
}

// deposit funds the controller and pushes amount into the strategy the way
// the controller does.
func (h *harness) deposit(amount *big.Int) {
	h.t.Helper()
	require.NoError(h.t, h.ledger.Mint(dai, faucet, controller, amount))
	require.NoError(h.t, h.strategy.BeforeMovement(controller))
	require.NoError(h.t, h.ledger.Transfer(dai, controller, strategyAddr, amount))
	require.NoError(h.t, h.strategy.Deposit(controller))
}

func (h *harness) balance(asset, owner common.Address) *big.Int {
	h.t.Helper()
	bal, err := h.ledger.BalanceOf(asset, owner)
	require.NoError(h.t, err)
	return bal
}
