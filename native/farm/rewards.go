package farm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/core/events"
	nativecommon "yieldvault/native/common"
)

// poolReward is elapsed * emission * weighing / totalWeighing.
func poolReward(elapsed uint64, settings *Settings, weighing uint64) *big.Int {
	if settings.TotalWeighing == 0 || weighing == 0 {
		return big.NewInt(0)
	}
	reward := new(big.Int).Mul(new(big.Int).SetUint64(elapsed), settings.EmissionPerBlock)
	reward.Mul(reward, new(big.Int).SetUint64(weighing))
	return reward.Quo(reward, new(big.Int).SetUint64(settings.TotalWeighing))
}

// accumulated returns the pool's accRewardPerShare advanced to the current
// block together with the reward that advance requires minting.
func (f *Farm) accumulated(pool *Pool, settings *Settings) (*big.Int, *big.Int, error) {
	acc := nativecommon.Clone(pool.AccRewardPerShare)
	if f.blockHeight <= pool.LastRewardBlock {
		return acc, big.NewInt(0), nil
	}
	v, err := f.vault(pool)
	if err != nil {
		return nil, nil, err
	}
	total, err := v.TotalShares()
	if err != nil {
		return nil, nil, err
	}
	if total.Sign() == 0 {
		return acc, big.NewInt(0), nil
	}
	reward := poolReward(f.blockHeight-pool.LastRewardBlock, settings, pool.Weighing)
	acc.Add(acc, nativecommon.MulDiv(reward, precision, total))
	return acc, reward, nil
}

// updatePool mints the emission owed to pool pid since its last update and
// advances accRewardPerShare. Pools without shares only advance their block.
func (f *Farm) updatePool(pid uint64) (*Pool, error) {
	pool, err := f.Pool(pid)
	if err != nil {
		return nil, err
	}
	if f.blockHeight <= pool.LastRewardBlock {
		return pool, nil
	}
	settings, err := f.Settings()
	if err != nil {
		return nil, err
	}
	acc, reward, err := f.accumulated(pool, settings)
	if err != nil {
		return nil, err
	}
	if reward.Sign() > 0 {
		if err := f.ledger.Mint(f.cfg.RewardToken, f.cfg.Address, f.cfg.Address, reward); err != nil {
			return nil, err
		}
		f.emitter.Emit(events.RewardMinted{Pool: pid, Amount: reward})
	}
	pool.AccRewardPerShare = acc
	pool.LastRewardBlock = f.blockHeight
	if err := f.storePool(pid, pool); err != nil {
		return nil, err
	}
	return pool, nil
}

// MassUpdatePools settles every pool up to the current block.
func (f *Farm) MassUpdatePools() error {
	if f.state == nil {
		return errNilState
	}
	return f.massUpdatePools()
}

func (f *Farm) massUpdatePools() error {
	settings, err := f.Settings()
	if err != nil {
		return err
	}
	for pid := uint64(0); pid < settings.PoolCount; pid++ {
		if _, err := f.updatePool(pid); err != nil {
			return err
		}
	}
	return nil
}

// UpdatePool settles pool pid up to the current block.
func (f *Farm) UpdatePool(pid uint64) error {
	if err := nativecommon.Guard(f.pauses, moduleName); err != nil {
		return err
	}
	_, err := f.updatePool(pid)
	return err
}

func accrued(shares, acc *big.Int) *big.Int {
	return nativecommon.MulDiv(shares, acc, precision)
}

// owed is the unsettled reward of pos at acc, excluding claimable.
func owed(pos *Position, acc *big.Int) *big.Int {
	pending := accrued(pos.Shares, acc)
	pending.Sub(pending, pos.RewardDebt)
	if pending.Sign() < 0 {
		pending.SetInt64(0)
	}
	return pending
}

// PendingReward returns what Harvest would pay user right now, without
// minting anything.
func (f *Farm) PendingReward(pid uint64, user common.Address) (*big.Int, error) {
	pool, err := f.Pool(pid)
	if err != nil {
		return nil, err
	}
	settings, err := f.Settings()
	if err != nil {
		return nil, err
	}
	acc, _, err := f.accumulated(pool, settings)
	if err != nil {
		return nil, err
	}
	pos, err := f.Position(pid, user)
	if err != nil {
		return nil, err
	}
	pending := owed(pos, acc)
	return pending.Add(pending, pos.Claimable), nil
}
