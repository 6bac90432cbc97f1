package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/core/types"
)

const (
	// TypeFarmDeposit is emitted after a user deposits want into a pool.
	TypeFarmDeposit = "farm.deposit"
	// TypeFarmWithdraw is emitted after a user redeems pool shares.
	TypeFarmWithdraw = "farm.withdraw"
	// TypeFarmEmergencyWithdraw is emitted when principal is withdrawn without
	// touching the reward path.
	TypeFarmEmergencyWithdraw = "farm.emergencyWithdraw"
	// TypeFarmRewardPaid records a reward-token payout.
	TypeFarmRewardPaid = "farm.rewardPaid"
	// TypeFarmRewardMinted records emission minted to the farm for a pool.
	TypeFarmRewardMinted = "farm.rewardMinted"
	// TypeFarmPoolAdded records pool registration.
	TypeFarmPoolAdded = "farm.poolAdded"
	// TypeReferralCommission records commission minted to a referrer.
	TypeReferralCommission = "referral.commission"
	// TypeReferrerSet records the first referrer attached to a user.
	TypeReferrerSet = "referral.referrerSet"
)

// Deposit captures a farm deposit and the vault shares it produced.
type Deposit struct {
	Pool     uint64
	User     common.Address
	Amount   *big.Int
	Shares   *big.Int
	Referrer common.Address
}

func (Deposit) EventType() string { return TypeFarmDeposit }

func (e Deposit) Event() *types.Event {
	attrs := map[string]string{
		"pool":   uintString(e.Pool),
		"user":   addressString(e.User),
		"amount": amountString(e.Amount),
		"shares": amountString(e.Shares),
	}
	if ref := addressString(e.Referrer); ref != "" {
		attrs["referrer"] = ref
	}
	return &types.Event{Type: TypeFarmDeposit, Attributes: attrs}
}

// Withdraw captures a redemption of pool shares.
type Withdraw struct {
	Pool   uint64
	User   common.Address
	Shares *big.Int
	Amount *big.Int
}

func (Withdraw) EventType() string { return TypeFarmWithdraw }

func (e Withdraw) Event() *types.Event {
	return &types.Event{Type: TypeFarmWithdraw, Attributes: map[string]string{
		"pool":   uintString(e.Pool),
		"user":   addressString(e.User),
		"shares": amountString(e.Shares),
		"amount": amountString(e.Amount),
	}}
}

// EmergencyWithdraw captures a principal-only exit that forfeits rewards.
type EmergencyWithdraw struct {
	Pool   uint64
	User   common.Address
	Shares *big.Int
	Amount *big.Int
}

func (EmergencyWithdraw) EventType() string { return TypeFarmEmergencyWithdraw }

func (e EmergencyWithdraw) Event() *types.Event {
	return &types.Event{Type: TypeFarmEmergencyWithdraw, Attributes: map[string]string{
		"pool":   uintString(e.Pool),
		"user":   addressString(e.User),
		"shares": amountString(e.Shares),
		"amount": amountString(e.Amount),
	}}
}

// RewardPaid records reward tokens transferred to a user.
type RewardPaid struct {
	Pool   uint64
	User   common.Address
	Amount *big.Int
}

func (RewardPaid) EventType() string { return TypeFarmRewardPaid }

func (e RewardPaid) Event() *types.Event {
	return &types.Event{Type: TypeFarmRewardPaid, Attributes: map[string]string{
		"pool":   uintString(e.Pool),
		"user":   addressString(e.User),
		"amount": amountString(e.Amount),
	}}
}

// RewardMinted records emission minted for a pool by updatePool.
type RewardMinted struct {
	Pool   uint64
	Amount *big.Int
}

func (RewardMinted) EventType() string { return TypeFarmRewardMinted }

func (e RewardMinted) Event() *types.Event {
	return &types.Event{Type: TypeFarmRewardMinted, Attributes: map[string]string{
		"pool":   uintString(e.Pool),
		"amount": amountString(e.Amount),
	}}
}

// PoolAdded records a new emission pool.
type PoolAdded struct {
	Pool       uint64
	Want       common.Address
	Controller common.Address
	Weighing   uint64
}

func (PoolAdded) EventType() string { return TypeFarmPoolAdded }

func (e PoolAdded) Event() *types.Event {
	return &types.Event{Type: TypeFarmPoolAdded, Attributes: map[string]string{
		"pool":       uintString(e.Pool),
		"want":       addressString(e.Want),
		"controller": addressString(e.Controller),
		"weighing":   uintString(e.Weighing),
	}}
}

// ReferralCommission records commission minted to a referrer on behalf of a
// referred user.
type ReferralCommission struct {
	Referrer common.Address
	User     common.Address
	Amount   *big.Int
}

func (ReferralCommission) EventType() string { return TypeReferralCommission }

func (e ReferralCommission) Event() *types.Event {
	return &types.Event{Type: TypeReferralCommission, Attributes: map[string]string{
		"referrer": addressString(e.Referrer),
		"user":     addressString(e.User),
		"amount":   amountString(e.Amount),
	}}
}

// ReferrerSet records a user's one-time referrer assignment.
type ReferrerSet struct {
	User     common.Address
	Referrer common.Address
}

func (ReferrerSet) EventType() string { return TypeReferrerSet }

func (e ReferrerSet) Event() *types.Event {
	return &types.Event{Type: TypeReferrerSet, Attributes: map[string]string{
		"user":     addressString(e.User),
		"referrer": addressString(e.Referrer),
	}}
}
