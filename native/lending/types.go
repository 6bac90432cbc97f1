package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Borrow rate modes accepted by Borrow.
const (
	RateModeStable   uint8 = 1
	RateModeVariable uint8 = 2
)

// MarketParams holds the operator controlled risk settings of a market.
type MarketParams struct {
	// MaxLTV bounds debt against collateral for borrows and withdrawals,
	// expressed in basis points.
	MaxLTV uint64
	// LiquidationThreshold weights collateral in the health factor,
	// expressed in basis points.
	LiquidationThreshold uint64
	// ReserveFactor is the share of borrow interest withheld from suppliers.
	ReserveFactor uint64
	// IncentivePerBlock is the amount of incentive token emitted to all
	// suppliers of the market each block.
	IncentivePerBlock *big.Int
}

// Market captures the global accounting state of a single-asset market.
// Supplied and borrowed totals are kept in index-scaled units.
type Market struct {
	MaxLTV               uint64
	LiquidationThreshold uint64
	ReserveFactor        uint64
	IncentivePerBlock    *big.Int
	// SupplyIndex and BorrowIndex are ray-scaled cumulative interest indexes.
	SupplyIndex       *big.Int
	BorrowIndex       *big.Int
	TotalScaledSupply *big.Int
	TotalScaledDebt   *big.Int
	// RewardIndex accumulates incentive tokens per scaled supply unit, scaled
	// by 1e18.
	RewardIndex     *big.Int
	LastUpdateBlock uint64
}

// Position maintains the supply and borrow balances of one account.
type Position struct {
	ScaledSupply   *big.Int
	ScaledDebt     *big.Int
	RewardIndex    *big.Int
	AccruedRewards *big.Int
}

// AccountData summarises an account's position in underlying units.
type AccountData struct {
	Collateral           *big.Int
	Debt                 *big.Int
	AvailableBorrow      *big.Int
	MaxLTV               uint64
	LiquidationThreshold uint64
	// HealthFactor is collateral*threshold/debt scaled by 1e18. Accounts
	// without debt report the maximum 256-bit value.
	HealthFactor *big.Int
}

// MarketSnapshot is a read-only view over a market with interest applied up to
// the engine's current block.
type MarketSnapshot struct {
	Asset          common.Address
	Params         MarketParams
	TotalSupplied  *big.Int
	TotalBorrowed  *big.Int
	Cash           *big.Int
	Utilisation    *big.Rat
	BorrowAPR      *big.Rat
	SupplyAPY      *big.Rat
	SupplyIndex    *big.Int
	BorrowIndex    *big.Int
	LastAccrualBlk uint64
}

func (m *Market) normalise() {
	if m.SupplyIndex == nil || m.SupplyIndex.Sign() == 0 {
		m.SupplyIndex = new(big.Int).Set(ray)
	}
	if m.BorrowIndex == nil || m.BorrowIndex.Sign() == 0 {
		m.BorrowIndex = new(big.Int).Set(ray)
	}
	if m.TotalScaledSupply == nil {
		m.TotalScaledSupply = big.NewInt(0)
	}
	if m.TotalScaledDebt == nil {
		m.TotalScaledDebt = big.NewInt(0)
	}
	if m.RewardIndex == nil {
		m.RewardIndex = big.NewInt(0)
	}
	if m.IncentivePerBlock == nil {
		m.IncentivePerBlock = big.NewInt(0)
	}
}

func (p *Position) normalise() {
	if p.ScaledSupply == nil {
		p.ScaledSupply = big.NewInt(0)
	}
	if p.ScaledDebt == nil {
		p.ScaledDebt = big.NewInt(0)
	}
	if p.RewardIndex == nil {
		p.RewardIndex = big.NewInt(0)
	}
	if p.AccruedRewards == nil {
		p.AccruedRewards = big.NewInt(0)
	}
}
