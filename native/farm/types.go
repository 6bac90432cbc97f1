package farm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// CommissionPrecision is the denominator of the referral commission rate.
	CommissionPrecision = 10_000
	// MaxReferralCommissionRate caps referral commission at 10%.
	MaxReferralCommissionRate = 1_000
)

// precision scales accRewardPerShare.
var precision = big.NewInt(1e18)

// Config holds the farm's construction-time settings.
type Config struct {
	Address     common.Address
	Owner       common.Address
	RewardToken common.Address

	EmissionPerBlock       *big.Int
	ReferralCommissionRate uint64
	// StartBlock is the earliest block that accrues emission.
	StartBlock uint64
}

// Pool is one emission pool. Pools are never deleted; weighing 0 disables
// emission.
type Pool struct {
	Want              common.Address
	Controller        common.Address
	Weighing          uint64
	AccRewardPerShare *big.Int
	LastRewardBlock   uint64
}

func (p *Pool) normalise() {
	if p.AccRewardPerShare == nil {
		p.AccRewardPerShare = big.NewInt(0)
	}
}

// Position is a user's stake in one pool.
type Position struct {
	Shares     *big.Int
	RewardDebt *big.Int
	Claimable  *big.Int
}

func (p *Position) normalise() {
	if p.Shares == nil {
		p.Shares = big.NewInt(0)
	}
	if p.RewardDebt == nil {
		p.RewardDebt = big.NewInt(0)
	}
	if p.Claimable == nil {
		p.Claimable = big.NewInt(0)
	}
}

// Settings is the farm's mutable global state.
type Settings struct {
	PoolCount              uint64
	TotalWeighing          uint64
	EmissionPerBlock       *big.Int
	ReferralCommissionRate uint64
}

func (s *Settings) normalise() {
	if s.EmissionPerBlock == nil {
		s.EmissionPerBlock = big.NewInt(0)
	}
}

type poolIndexRecord struct {
	ID uint64
}
