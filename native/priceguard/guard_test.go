package priceguard

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/core/state"
	nativecommon "yieldvault/native/common"
	"yieldvault/storage"
)

var (
	owner    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	updater  = common.HexToAddress("0x0000000000000000000000000000000000000002")
	weth     = common.HexToAddress("0x00000000000000000000000000000000000000e7")
	usdc     = common.HexToAddress("0x00000000000000000000000000000000000000c6")
	wethFeed = common.HexToAddress("0x00000000000000000000000000000000000f00e7")
	usdcFeed = common.HexToAddress("0x00000000000000000000000000000000000f00c6")
)

type decimals map[common.Address]uint8

func (d decimals) Decimals(asset common.Address) (uint8, error) { return d[asset], nil }

func newGuard(t *testing.T) (*Guard, *ManualFeed, *ManualFeed) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	guard := New(common.HexToAddress("0x99"), owner, decimals{weth: 18, usdc: 6}, Params{MaxPriceOffset: 3600, SlippageRatio: 100})
	guard.SetState(manager)
	ethFeed := NewManualFeed(wethFeed, updater, 8)
	usdFeed := NewManualFeed(usdcFeed, updater, 8)
	for _, feed := range []*ManualFeed{ethFeed, usdFeed} {
		feed.SetState(manager)
		guard.RegisterFeed(feed)
	}
	if err := guard.SetPriceFeed(owner, weth, wethFeed); err != nil {
		t.Fatalf("set weth feed: %v", err)
	}
	if err := guard.SetPriceFeed(owner, usdc, usdcFeed); err != nil {
		t.Fatalf("set usdc feed: %v", err)
	}
	if err := ethFeed.Update(updater, big.NewInt(2000_00000000), 1_000); err != nil {
		t.Fatalf("update weth: %v", err)
	}
	if err := usdFeed.Update(updater, big.NewInt(1_00000000), 1_000); err != nil {
		t.Fatalf("update usdc: %v", err)
	}
	guard.SetBlockTime(1_000)
	return guard, ethFeed, usdFeed
}

func TestExpectedOutAdjustsDecimals(t *testing.T) {
	guard, _, _ := newGuard(t)
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	out, err := guard.ExpectedOut(weth, usdc, oneEth)
	if err != nil {
		t.Fatalf("expected out: %v", err)
	}
	if out.Cmp(big.NewInt(2_000_000_000)) != 0 {
		t.Fatalf("expected 2000 USDC, got %s", out)
	}
}

func TestCheckPriceSlippage(t *testing.T) {
	guard, _, _ := newGuard(t)
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	if err := guard.CheckPrice(weth, usdc, oneEth, big.NewInt(1_980_000_000)); err != nil {
		t.Fatalf("1%% below oracle should pass: %v", err)
	}
	if err := guard.CheckPrice(weth, usdc, oneEth, big.NewInt(1_979_999_999)); !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected slippage error, got %v", err)
	}
}

func TestStaleFeedAlwaysFails(t *testing.T) {
	guard, _, usdFeed := newGuard(t)
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	guard.SetBlockTime(1_000 + 3600)
	if err := guard.CheckPrice(weth, usdc, oneEth, big.NewInt(2_000_000_000)); err != nil {
		t.Fatalf("answer exactly at the offset should pass: %v", err)
	}
	guard.SetBlockTime(1_000 + 3601)
	if err := guard.CheckPrice(weth, usdc, oneEth, big.NewInt(2_000_000_000)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected stale price, got %v", err)
	}
	// Refreshing only one side is not enough.
	if err := usdFeed.Update(updater, big.NewInt(1_00000000), 4_601); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := guard.CheckPrice(weth, usdc, oneEth, big.NewInt(2_000_000_000)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected stale input feed, got %v", err)
	}
}

func TestSettersRequireOwnerAndChange(t *testing.T) {
	guard, ethFeed, _ := newGuard(t)
	if err := guard.SetSlippageRatio(updater, 50); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := guard.SetSlippageRatio(owner, 100); !errors.Is(err, nativecommon.ErrSameValue) {
		t.Fatalf("expected same value, got %v", err)
	}
	if err := guard.SetSlippageRatio(owner, 10_001); !errors.Is(err, nativecommon.ErrInvalidRatio) {
		t.Fatalf("expected invalid ratio, got %v", err)
	}
	if err := guard.SetMaxPriceOffset(owner, 60); err != nil {
		t.Fatalf("set offset: %v", err)
	}
	params, _ := guard.Params()
	if params.MaxPriceOffset != 60 || params.SlippageRatio != 100 {
		t.Fatalf("unexpected params %+v", params)
	}
	if err := guard.SetPriceFeed(owner, weth, wethFeed); !errors.Is(err, nativecommon.ErrSameValue) {
		t.Fatalf("expected same feed rejection, got %v", err)
	}
	if err := guard.SetPriceFeed(owner, weth, common.HexToAddress("0xdead")); !errors.Is(err, ErrUnknownFeed) {
		t.Fatalf("expected unknown feed, got %v", err)
	}
	if err := ethFeed.Update(owner, big.NewInt(1), 1); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected feed updater check, got %v", err)
	}
}
