package strategy

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "yieldvault/native/common"
)

// MaxPerformanceFee caps the performance fee in basis points.
const MaxPerformanceFee = 2_000

// Config describes a leveraged lending strategy.
type Config struct {
	Address    common.Address
	Want       common.Address
	Controller common.Address
	FeeManager common.Address
	Owner      common.Address
	// RewardPath routes the venue incentive token to want. It must start with
	// the incentive token and end with want.
	RewardPath []common.Address

	BorrowRate     uint64
	BorrowRateMax  uint64
	BorrowDepth    uint64
	BorrowDepthMax uint64
	// MinLeverage is the smallest idle amount that is deployed with leverage.
	// Smaller amounts are supplied once.
	MinLeverage *big.Int
	// RatioForFullWithdraw is the share of the balance above which a withdraw
	// unwinds the whole position instead of deleveraging proportionally.
	RatioForFullWithdraw    uint64
	PerformanceFee          uint64
	MaxDeleverageIterations uint64
}

// Validate checks the static bounds of the configuration.
func (c Config) Validate() error {
	if c.Address == (common.Address{}) || c.Want == (common.Address{}) || c.Controller == (common.Address{}) || c.FeeManager == (common.Address{}) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, nativecommon.ErrZeroAddress)
	}
	if c.BorrowRateMax >= nativecommon.BPSDenominator {
		return fmt.Errorf("%w: borrow rate max %d must be below 100%%", ErrInvalidConfig, c.BorrowRateMax)
	}
	if c.BorrowRate > c.BorrowRateMax {
		return ErrExceedsMaxBorrowRate
	}
	if c.BorrowDepth > c.BorrowDepthMax {
		return ErrExceedsMaxBorrowDepth
	}
	if c.RatioForFullWithdraw > nativecommon.BPSDenominator {
		return nativecommon.ErrInvalidRatio
	}
	if c.PerformanceFee > MaxPerformanceFee {
		return ErrFeeTooHigh
	}
	if c.MaxDeleverageIterations == 0 {
		return fmt.Errorf("%w: deleverage iteration cap must be positive", ErrInvalidConfig)
	}
	if c.MinLeverage != nil && c.MinLeverage.Sign() < 0 {
		return fmt.Errorf("%w: negative min leverage", ErrInvalidConfig)
	}
	if len(c.RewardPath) == 1 || (len(c.RewardPath) > 1 && c.RewardPath[len(c.RewardPath)-1] != c.Want) {
		return fmt.Errorf("%w: reward path must end in want", ErrInvalidConfig)
	}
	return nil
}

// Params is the mutable state of a leveraged strategy.
type Params struct {
	BorrowRate              uint64
	BorrowRateMax           uint64
	BorrowDepth             uint64
	BorrowDepthMax          uint64
	MinLeverage             *big.Int
	RatioForFullWithdraw    uint64
	LastBalance             *big.Int
	PerformanceFee          uint64
	MaxDeleverageIterations uint64
	Paused                  bool
}

func (c Config) params() *Params {
	return &Params{
		BorrowRate:              c.BorrowRate,
		BorrowRateMax:           c.BorrowRateMax,
		BorrowDepth:             c.BorrowDepth,
		BorrowDepthMax:          c.BorrowDepthMax,
		MinLeverage:             nativecommon.Clone(c.MinLeverage),
		RatioForFullWithdraw:    c.RatioForFullWithdraw,
		LastBalance:             big.NewInt(0),
		PerformanceFee:          c.PerformanceFee,
		MaxDeleverageIterations: c.MaxDeleverageIterations,
	}
}

func (p *Params) normalise() {
	if p.MinLeverage == nil {
		p.MinLeverage = big.NewInt(0)
	}
	if p.LastBalance == nil {
		p.LastBalance = big.NewInt(0)
	}
}
