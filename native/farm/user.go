package farm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/core/events"
	nativecommon "yieldvault/native/common"
)

// Deposit moves amount of the pool's want from user into its controller and
// credits the minted shares to user. A non-zero referrer is recorded the
// first time user deposits with one.
func (f *Farm) Deposit(user common.Address, pid uint64, amount *big.Int, referrer common.Address) (*big.Int, error) {
	if err := f.enter(); err != nil {
		return nil, err
	}
	defer f.guard.Exit()
	return f.deposit(user, pid, amount, referrer)
}

// DepositAll deposits user's whole want balance, limited by the controller's
// remaining deposit headroom.
func (f *Farm) DepositAll(user common.Address, pid uint64, referrer common.Address) (*big.Int, error) {
	if err := f.enter(); err != nil {
		return nil, err
	}
	defer f.guard.Exit()
	pool, err := f.Pool(pid)
	if err != nil {
		return nil, err
	}
	v, err := f.vault(pool)
	if err != nil {
		return nil, err
	}
	amount, err := f.ledger.BalanceOf(pool.Want, user)
	if err != nil {
		return nil, err
	}
	headroom, unlimited, err := v.AvailableDeposit()
	if err != nil {
		return nil, err
	}
	if !unlimited {
		amount = nativecommon.Min(amount, headroom)
	}
	return f.deposit(user, pid, amount, referrer)
}

func (f *Farm) deposit(user common.Address, pid uint64, amount *big.Int, referrer common.Address) (*big.Int, error) {
	if !nativecommon.Positive(amount) {
		return nil, ErrInsufficientDeposit
	}
	if referrer == user {
		return nil, ErrInvalidReferrer
	}
	pool, err := f.updatePool(pid)
	if err != nil {
		return nil, err
	}
	v, err := f.vault(pool)
	if err != nil {
		return nil, err
	}
	pos, err := f.Position(pid, user)
	if err != nil {
		return nil, err
	}
	if pos.Shares.Sign() > 0 {
		pos.Claimable.Add(pos.Claimable, owed(pos, pool.AccRewardPerShare))
	}
	if referrer != (common.Address{}) {
		if _, err := f.referrals.SetReferrer(f.cfg.Address, user, referrer); err != nil {
			return nil, err
		}
	}

	if err := f.ledger.TransferFrom(pool.Want, f.cfg.Address, user, f.cfg.Address, amount); err != nil {
		return nil, err
	}
	if err := f.ledger.Approve(pool.Want, f.cfg.Address, v.Address(), amount); err != nil {
		return nil, err
	}
	minted, err := v.Deposit(f.cfg.Address, user, amount)
	if err != nil {
		return nil, err
	}
	pos.Shares.Add(pos.Shares, minted)
	pos.RewardDebt = accrued(pos.Shares, pool.AccRewardPerShare)
	if err := f.storePosition(pid, user, pos); err != nil {
		return nil, err
	}
	f.emitter.Emit(events.Deposit{Pool: pid, User: user, Amount: nativecommon.Clone(amount), Shares: minted, Referrer: referrer})
	return minted, nil
}

// Harvest pays user's pending reward and returns the amount paid.
func (f *Farm) Harvest(user common.Address, pid uint64) (*big.Int, error) {
	if err := f.enter(); err != nil {
		return nil, err
	}
	defer f.guard.Exit()
	pool, err := f.updatePool(pid)
	if err != nil {
		return nil, err
	}
	pos, err := f.Position(pid, user)
	if err != nil {
		return nil, err
	}
	paid, err := f.settle(pid, user, pool, pos)
	if err != nil {
		return nil, err
	}
	if err := f.storePosition(pid, user, pos); err != nil {
		return nil, err
	}
	return paid, nil
}

// Withdraw pays user's pending reward, redeems shares from the controller
// and returns the want user received net of the withdraw fee.
func (f *Farm) Withdraw(user common.Address, pid uint64, shares *big.Int) (*big.Int, error) {
	if err := f.enter(); err != nil {
		return nil, err
	}
	defer f.guard.Exit()
	pos, err := f.Position(pid, user)
	if err != nil {
		return nil, err
	}
	if !nativecommon.Positive(shares) || shares.Cmp(pos.Shares) > 0 {
		return nil, fmt.Errorf("%w: have %s", ErrInsufficientShares, pos.Shares)
	}
	pool, err := f.updatePool(pid)
	if err != nil {
		return nil, err
	}
	v, err := f.vault(pool)
	if err != nil {
		return nil, err
	}
	if _, err := f.settle(pid, user, pool, pos); err != nil {
		return nil, err
	}
	pos.Shares.Sub(pos.Shares, shares)
	pos.RewardDebt = accrued(pos.Shares, pool.AccRewardPerShare)
	if err := f.storePosition(pid, user, pos); err != nil {
		return nil, err
	}
	out, err := v.Withdraw(f.cfg.Address, user, shares)
	if err != nil {
		return nil, err
	}
	f.emitter.Emit(events.Withdraw{Pool: pid, User: user, Shares: nativecommon.Clone(shares), Amount: out})
	return out, nil
}

// EmergencyWithdraw redeems every share user holds without touching the
// reward path. Pending and claimable rewards are forfeited.
func (f *Farm) EmergencyWithdraw(user common.Address, pid uint64) (*big.Int, error) {
	if f.state == nil {
		return nil, errNilState
	}
	if err := f.guard.Enter(); err != nil {
		return nil, err
	}
	defer f.guard.Exit()
	pool, err := f.Pool(pid)
	if err != nil {
		return nil, err
	}
	v, err := f.vault(pool)
	if err != nil {
		return nil, err
	}
	pos, err := f.Position(pid, user)
	if err != nil {
		return nil, err
	}
	if pos.Shares.Sign() == 0 {
		return nil, ErrInsufficientShares
	}
	shares := pos.Shares
	if err := f.storePosition(pid, user, &Position{}); err != nil {
		return nil, err
	}
	out, err := v.Withdraw(f.cfg.Address, user, shares)
	if err != nil {
		return nil, err
	}
	f.emitter.Emit(events.EmergencyWithdraw{Pool: pid, User: user, Shares: shares, Amount: out})
	return out, nil
}

// settle pays the reward owed to pos and resynchronises its reward debt.
func (f *Farm) settle(pid uint64, user common.Address, pool *Pool, pos *Position) (*big.Int, error) {
	amount := owed(pos, pool.AccRewardPerShare)
	amount.Add(amount, pos.Claimable)
	pos.Claimable = big.NewInt(0)
	pos.RewardDebt = accrued(pos.Shares, pool.AccRewardPerShare)
	if amount.Sign() == 0 {
		return amount, nil
	}
	if err := f.ledger.Transfer(f.cfg.RewardToken, f.cfg.Address, user, amount); err != nil {
		return nil, err
	}
	f.emitter.Emit(events.RewardPaid{Pool: pid, User: user, Amount: amount})
	if err := f.payCommission(user, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// payCommission mints the referral commission on top of the user's reward.
func (f *Farm) payCommission(user common.Address, reward *big.Int) error {
	referrer, ok, err := f.referrals.ReferrerOf(user)
	if err != nil || !ok {
		return err
	}
	settings, err := f.Settings()
	if err != nil {
		return err
	}
	commission := nativecommon.MulDiv(reward, new(big.Int).SetUint64(settings.ReferralCommissionRate), big.NewInt(CommissionPrecision))
	if commission.Sign() == 0 {
		return nil
	}
	if err := f.ledger.Mint(f.cfg.RewardToken, f.cfg.Address, referrer, commission); err != nil {
		return err
	}
	if err := f.referrals.PayCommission(f.cfg.Address, referrer, commission); err != nil {
		return err
	}
	f.emitter.Emit(events.ReferralCommission{Referrer: referrer, User: user, Amount: commission})
	return nil
}

func (f *Farm) enter() error {
	if f.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(f.pauses, moduleName); err != nil {
		return err
	}
	return f.guard.Enter()
}
