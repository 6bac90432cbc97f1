package lending

import (
	"math/big"
	"testing"
)

func TestRateFactorExactForRepresentableRates(t *testing.T) {
	cases := []struct {
		rate  *big.Rat
		delta uint64
		want  string
	}{
		{big.NewRat(1, 4), blocksPerYear, "1250000000000000000000000000"},
		{big.NewRat(1, 2), blocksPerYear / 2, "1250000000000000000000000000"},
		{big.NewRat(1, 1), blocksPerYear, "2000000000000000000000000000"},
		{new(big.Rat), blocksPerYear, "1000000000000000000000000000"},
	}
	for _, tc := range cases {
		got := rateFactor(tc.rate, tc.delta)
		if got.String() != tc.want {
			t.Fatalf("rate %s over %d blocks: got %s want %s", tc.rate.RatString(), tc.delta, got, tc.want)
		}
	}
}

func TestRatToRayRoundsHalfUp(t *testing.T) {
	// 1/3 ray ends in ...333, 2/3 ray in ...667.
	if got := ratToRay(big.NewRat(1, 3)).String(); got != "333333333333333333333333333" {
		t.Fatalf("one third: %s", got)
	}
	if got := ratToRay(big.NewRat(2, 3)).String(); got != "666666666666666666666666667" {
		t.Fatalf("two thirds: %s", got)
	}
	if got := ratToRay(big.NewRat(3, 1)).String(); got != "3000000000000000000000000000" {
		t.Fatalf("integer factor: %s", got)
	}
}

func TestDefaultCurveAroundKink(t *testing.T) {
	m := DefaultInterestModel
	cases := []struct {
		borrowed, supplied int64
		want               *big.Rat
	}{
		{0, 100, big.NewRat(2, 100)},
		{40, 100, big.NewRat(8, 100)},
		{80, 100, big.NewRat(14, 100)},
		{100, 100, big.NewRat(26, 100)},
	}
	for _, tc := range cases {
		got := m.BorrowAPR(big.NewInt(tc.borrowed), big.NewInt(tc.supplied))
		if got.Cmp(tc.want) != 0 {
			t.Fatalf("borrow apr at %d/%d: got %s want %s", tc.borrowed, tc.supplied, got.RatString(), tc.want.RatString())
		}
	}
	// 14% * 0.8 utilisation * 0.5 kept after reserves.
	supply := m.SupplyAPY(big.NewInt(80), big.NewInt(100), 5_000)
	if supply.Cmp(big.NewRat(56, 1000)) != 0 {
		t.Fatalf("supply apy: %s", supply.RatString())
	}
	if m.SupplyAPY(big.NewInt(0), big.NewInt(100), 0).Sign() != 0 {
		t.Fatalf("idle market pays suppliers")
	}
	var nilModel *InterestModel
	if nilModel.BorrowAPR(big.NewInt(1), big.NewInt(2)).Sign() != 0 || nilModel.Clone() != nil {
		t.Fatalf("nil model must be inert")
	}
}
