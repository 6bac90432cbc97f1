package feemanager

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"yieldvault/core/events"
	"yieldvault/core/state"
	"yieldvault/native/amm"
	nativecommon "yieldvault/native/common"
	"yieldvault/native/priceguard"
	"yieldvault/native/token"
	"yieldvault/storage"
)

var (
	dai      = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	usdc     = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	faucet   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000ab")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000fb")
	lp       = common.HexToAddress("0x0000000000000000000000000000000000000111")
)

type fixture struct {
	ledger  *token.Ledger
	router  *amm.Router
	guard   *priceguard.Guard
	manager *Manager
	buf     *events.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	ledger := token.NewLedger()
	ledger.SetState(st)
	require.NoError(t, ledger.Register(token.Asset{Address: dai, Symbol: "DAI", Decimals: 18, Minter: faucet}))
	require.NoError(t, ledger.Register(token.Asset{Address: usdc, Symbol: "USDC", Decimals: 6, Minter: faucet}))

	router := amm.NewRouter(nativecommon.ModuleAddress("amm"), ledger)
	router.SetState(st)
	require.NoError(t, router.CreatePool(dai, usdc, 30))
	require.NoError(t, ledger.Mint(dai, faucet, lp, big.NewInt(0).Mul(big.NewInt(1_000_000), big.NewInt(1e18))))
	require.NoError(t, ledger.Mint(usdc, faucet, lp, big.NewInt(1_000_000*1e6)))
	_, err := router.AddLiquidity(lp, dai, usdc, big.NewInt(0).Mul(big.NewInt(1_000_000), big.NewInt(1e18)), big.NewInt(1_000_000*1e6))
	require.NoError(t, err)

	guard := priceguard.New(nativecommon.ModuleAddress("priceguard"), owner, ledger, priceguard.Params{MaxPriceOffset: 300, SlippageRatio: 100})
	guard.SetState(st)
	guard.SetBlockTime(500)
	for _, asset := range []common.Address{dai, usdc} {
		feedAddr := common.BytesToAddress(append([]byte{0xfe}, asset.Bytes()[1:]...))
		feed := priceguard.NewManualFeed(feedAddr, owner, 8)
		feed.SetState(st)
		require.NoError(t, feed.Update(owner, big.NewInt(100_000_000), 500))
		guard.RegisterFeed(feed)
		require.NoError(t, guard.SetPriceFeed(owner, asset, feedAddr))
	}

	mgr := New(nativecommon.ModuleAddress("feemanager"), owner, usdc, treasury, ledger, router, guard)
	mgr.SetState(st)
	mgr.SetBlockTime(500)
	buf := &events.Buffer{}
	mgr.SetEmitter(buf)
	return &fixture{ledger: ledger, router: router, guard: guard, manager: mgr, buf: buf}
}

func TestConvertSwapsAndForwards(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Mint(dai, faucet, f.manager.Address(), big.NewInt(0).Mul(big.NewInt(100), big.NewInt(1e18))))

	out, err := f.manager.Convert(dai)
	require.NoError(t, err)
	// 100 DAI at 30 bps against a deep 1:1 pool.
	require.True(t, out.Cmp(big.NewInt(99_600_000)) > 0 && out.Cmp(big.NewInt(100_000_000)) < 0, out.String())

	got, err := f.ledger.BalanceOf(usdc, treasury)
	require.NoError(t, err)
	require.Equal(t, out.String(), got.String())
	left, err := f.ledger.BalanceOf(dai, f.manager.Address())
	require.NoError(t, err)
	require.Zero(t, left.Sign())
	require.Equal(t, 1, f.buf.Len())

	_, err = f.manager.Convert(dai)
	require.ErrorIs(t, err, ErrNothingToConvert)
}

func TestConvertTreasuryAssetForwardsDirectly(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Mint(usdc, faucet, f.manager.Address(), big.NewInt(5_000_000)))
	out, err := f.manager.Convert(usdc)
	require.NoError(t, err)
	require.Equal(t, "5000000", out.String())
}

func TestConvertRejectsStalePrice(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Mint(dai, faucet, f.manager.Address(), big.NewInt(1e18)))
	f.guard.SetBlockTime(801)
	f.manager.SetBlockTime(801)
	f.router.SetBlockTime(801)
	_, err := f.manager.Convert(dai)
	require.ErrorIs(t, err, priceguard.ErrStalePrice)
}

func TestSetTreasuryAndRoute(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.manager.SetTreasury(owner, treasury), nativecommon.ErrSameValue)
	require.ErrorIs(t, f.manager.SetTreasury(treasury, faucet), nativecommon.ErrUnauthorized)
	require.ErrorIs(t, f.manager.SetTreasury(owner, common.Address{}), nativecommon.ErrZeroAddress)
	require.NoError(t, f.manager.SetTreasury(owner, faucet))
	got, err := f.manager.Treasury()
	require.NoError(t, err)
	require.Equal(t, faucet, got)

	require.ErrorIs(t, f.manager.SetRoute(owner, dai, []common.Address{dai}), ErrInvalidRoute)
	require.ErrorIs(t, f.manager.SetRoute(owner, dai, []common.Address{dai, faucet}), ErrInvalidRoute)
	require.NoError(t, f.manager.SetRoute(owner, dai, []common.Address{dai, usdc}))
	path, err := f.manager.Route(dai)
	require.NoError(t, err)
	require.Equal(t, []common.Address{dai, usdc}, path)
}
