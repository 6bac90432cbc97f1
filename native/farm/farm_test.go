package farm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"yieldvault/core/events"
	"yieldvault/core/state"
	"yieldvault/native/controller"
	nativecommon "yieldvault/native/common"
	"yieldvault/native/referral"
	"yieldvault/native/token"
	"yieldvault/storage"
)

var (
	dai      = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	usdc     = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	reward   = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	faucet   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000ab")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000fb")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	carol    = common.HexToAddress("0x00000000000000000000000000000000000000c4")
	farmAddr = nativecommon.ModuleAddress("farm")
)

// emission is E, one reward token per block.
var emission = big.NewInt(1e18)

func times(n int64, v *big.Int) *big.Int { return new(big.Int).Mul(big.NewInt(n), v) }

type fixture struct {
	t        *testing.T
	ledger   *token.Ledger
	referral *referral.Registry
	farm     *Farm
	vaults   map[common.Address]*controller.Controller
	buf      *events.Buffer
	st       *state.Manager
}

func newFixture(t *testing.T, commission uint64) *fixture {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	ledger := token.NewLedger()
	ledger.SetState(st)
	require.NoError(t, ledger.Register(token.Asset{Address: dai, Symbol: "DAI", Decimals: 18, Minter: faucet}))
	require.NoError(t, ledger.Register(token.Asset{Address: usdc, Symbol: "USDC", Decimals: 6, Minter: faucet}))
	require.NoError(t, ledger.Register(token.Asset{Address: reward, Symbol: "VAULT", Decimals: 18, Minter: farmAddr}))

	reg := referral.New(nativecommon.ModuleAddress("referral"), farmAddr)
	reg.SetState(st)
	f, err := New(Config{
		Address:                farmAddr,
		Owner:                  owner,
		RewardToken:            reward,
		EmissionPerBlock:       emission,
		ReferralCommissionRate: commission,
	}, ledger, reg)
	require.NoError(t, err)
	f.SetState(st)
	buf := &events.Buffer{}
	f.SetEmitter(buf)
	return &fixture{t: t, ledger: ledger, referral: reg, farm: f, vaults: make(map[common.Address]*controller.Controller), buf: buf, st: st}
}

// addVault registers a strategy-less controller for want and a pool for it.
func (fx *fixture) addVault(want common.Address, weighing uint64, limit *big.Int) uint64 {
	fx.t.Helper()
	addr := nativecommon.ModuleAddress("controller/" + want.Hex())
	share := nativecommon.ModuleAddress("share/" + want.Hex())
	require.NoError(fx.t, fx.ledger.Register(token.Asset{Address: share, Symbol: "yv", Decimals: 18, Minter: addr}))
	ctrl, err := controller.New(controller.Config{
		Address:      addr,
		Want:         want,
		ShareToken:   share,
		Farm:         farmAddr,
		Owner:        owner,
		FeeRecipient: treasury,
		DepositCap:   limit,
	}, fx.ledger)
	require.NoError(fx.t, err)
	ctrl.SetState(fx.st)
	fx.vaults[addr] = ctrl
	fx.farm.RegisterVault(ctrl)
	pid, err := fx.farm.AddPool(owner, want, addr, weighing)
	require.NoError(fx.t, err)
	return pid
}

func (fx *fixture) fund(user, want common.Address, amount *big.Int) {
	fx.t.Helper()
	require.NoError(fx.t, fx.ledger.Mint(want, faucet, user, amount))
	require.NoError(fx.t, fx.ledger.Approve(want, user, farmAddr, amount))
}

func (fx *fixture) deposit(user common.Address, pid uint64, amount *big.Int, referrer common.Address) {
	fx.t.Helper()
	pool, err := fx.farm.Pool(pid)
	require.NoError(fx.t, err)
	fx.fund(user, pool.Want, amount)
	_, err = fx.farm.Deposit(user, pid, amount, referrer)
	require.NoError(fx.t, err)
}

func (fx *fixture) balance(asset, account common.Address) *big.Int {
	fx.t.Helper()
	bal, err := fx.ledger.BalanceOf(asset, account)
	require.NoError(fx.t, err)
	return bal
}

func TestPendingAccruesPerBlockAndPaysOnce(t *testing.T) {
	fx := newFixture(t, 0)
	fx.farm.SetBlockHeight(100)
	pid := fx.addVault(dai, 1, nil)
	fx.deposit(alice, pid, big.NewInt(10), common.Address{})

	fx.farm.SetBlockHeight(102)
	pending, err := fx.farm.PendingReward(pid, alice)
	require.NoError(t, err)
	require.Equal(t, times(2, emission).String(), pending.String())

	paid, err := fx.farm.Harvest(alice, pid)
	require.NoError(t, err)
	require.Equal(t, times(2, emission).String(), paid.String())
	require.Equal(t, times(2, emission).String(), fx.balance(reward, alice).String())

	again, err := fx.farm.Harvest(alice, pid)
	require.NoError(t, err)
	require.Zero(t, again.Sign())
	pending, err = fx.farm.PendingReward(pid, alice)
	require.NoError(t, err)
	require.Zero(t, pending.Sign())
}

func TestEmissionSplitsByWeighing(t *testing.T) {
	fx := newFixture(t, 0)
	daiPool := fx.addVault(dai, 1, nil)
	usdcPool := fx.addVault(usdc, 3, nil)
	fx.deposit(alice, daiPool, big.NewInt(1_000), common.Address{})
	fx.deposit(bob, usdcPool, big.NewInt(1_000), common.Address{})

	fx.farm.SetBlockHeight(4)
	a, err := fx.farm.PendingReward(daiPool, alice)
	require.NoError(t, err)
	b, err := fx.farm.PendingReward(usdcPool, bob)
	require.NoError(t, err)
	require.Equal(t, emission.String(), a.String())
	require.Equal(t, times(3, emission).String(), b.String())
}

func TestSharesSplitPoolReward(t *testing.T) {
	fx := newFixture(t, 0)
	pid := fx.addVault(dai, 1, nil)
	fx.deposit(alice, pid, big.NewInt(30), common.Address{})
	fx.deposit(bob, pid, big.NewInt(10), common.Address{})

	fx.farm.SetBlockHeight(4)
	a, _ := fx.farm.PendingReward(pid, alice)
	b, _ := fx.farm.PendingReward(pid, bob)
	require.Equal(t, times(3, emission).String(), a.String())
	require.Equal(t, emission.String(), b.String())
}

func TestEmptyPoolAdvancesWithoutMinting(t *testing.T) {
	fx := newFixture(t, 0)
	pid := fx.addVault(dai, 1, nil)
	fx.farm.SetBlockHeight(50)
	require.NoError(t, fx.farm.UpdatePool(pid))
	pool, err := fx.farm.Pool(pid)
	require.NoError(t, err)
	require.EqualValues(t, 50, pool.LastRewardBlock)
	supply, err := fx.ledger.TotalSupply(reward)
	require.NoError(t, err)
	require.Zero(t, supply.Sign())

	fx.deposit(alice, pid, big.NewInt(5), common.Address{})
	fx.farm.SetBlockHeight(51)
	pending, _ := fx.farm.PendingReward(pid, alice)
	require.Equal(t, emission.String(), pending.String())
}

func TestSecondDepositBanksPendingReward(t *testing.T) {
	fx := newFixture(t, 0)
	pid := fx.addVault(dai, 1, nil)
	fx.deposit(alice, pid, big.NewInt(10), common.Address{})
	fx.farm.SetBlockHeight(3)
	fx.deposit(alice, pid, big.NewInt(10), common.Address{})

	pos, err := fx.farm.Position(pid, alice)
	require.NoError(t, err)
	require.Equal(t, times(3, emission).String(), pos.Claimable.String())
	require.Equal(t, "20", pos.Shares.String())

	fx.farm.SetBlockHeight(4)
	paid, err := fx.farm.Harvest(alice, pid)
	require.NoError(t, err)
	require.Equal(t, times(4, emission).String(), paid.String())
}

func TestReferralCommissionIsMintedOnTop(t *testing.T) {
	fx := newFixture(t, 500)
	pid := fx.addVault(dai, 1, nil)
	fx.deposit(alice, pid, big.NewInt(10), bob)
	// A later referrer is ignored.
	fx.deposit(alice, pid, big.NewInt(10), carol)
	ref, ok, err := fx.referral.ReferrerOf(alice)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, bob, ref)

	fx.farm.SetBlockHeight(2)
	paid, err := fx.farm.Harvest(alice, pid)
	require.NoError(t, err)
	require.Equal(t, times(2, emission).String(), paid.String())
	commission := nativecommon.ApplyBps(paid, 500)
	require.Equal(t, commission.String(), fx.balance(reward, bob).String())
	require.Zero(t, fx.balance(reward, carol).Sign())

	earned, err := fx.referral.Commission(bob)
	require.NoError(t, err)
	require.Equal(t, commission.String(), earned.String())
	count, err := fx.referral.ReferralCount(bob)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestDepositValidation(t *testing.T) {
	fx := newFixture(t, 0)
	pid := fx.addVault(dai, 1, nil)
	_, err := fx.farm.Deposit(alice, pid, big.NewInt(0), common.Address{})
	require.ErrorIs(t, err, ErrInsufficientDeposit)
	fx.fund(alice, dai, big.NewInt(10))
	_, err = fx.farm.Deposit(alice, pid, big.NewInt(10), alice)
	require.ErrorIs(t, err, ErrInvalidReferrer)
	_, err = fx.farm.Deposit(alice, 7, big.NewInt(10), common.Address{})
	require.ErrorIs(t, err, ErrPoolNotFound)
}

func TestWithdrawPaysRewardAndPrincipal(t *testing.T) {
	fx := newFixture(t, 0)
	pid := fx.addVault(dai, 1, nil)
	fx.deposit(alice, pid, big.NewInt(100), common.Address{})
	fx.farm.SetBlockHeight(5)

	_, err := fx.farm.Withdraw(alice, pid, big.NewInt(101))
	require.ErrorIs(t, err, ErrInsufficientShares)
	_, err = fx.farm.Withdraw(alice, pid, big.NewInt(0))
	require.ErrorIs(t, err, ErrInsufficientShares)

	out, err := fx.farm.Withdraw(alice, pid, big.NewInt(40))
	require.NoError(t, err)
	require.Equal(t, "40", out.String())
	require.Equal(t, "40", fx.balance(dai, alice).String())
	require.Equal(t, times(5, emission).String(), fx.balance(reward, alice).String())

	pos, err := fx.farm.Position(pid, alice)
	require.NoError(t, err)
	require.Equal(t, "60", pos.Shares.String())
	pending, _ := fx.farm.PendingReward(pid, alice)
	require.Zero(t, pending.Sign())
}

func TestEmergencyWithdrawSurvivesBrokenRewardToken(t *testing.T) {
	fx := newFixture(t, 0)
	pid := fx.addVault(dai, 1, nil)
	fx.deposit(alice, pid, big.NewInt(100), common.Address{})
	fx.farm.SetBlockHeight(10)
	require.NoError(t, fx.ledger.SetPaused(reward, true))

	_, err := fx.farm.Harvest(alice, pid)
	require.ErrorIs(t, err, token.ErrTransfersPaused)

	out, err := fx.farm.EmergencyWithdraw(alice, pid)
	require.NoError(t, err)
	require.Equal(t, "100", out.String())
	require.Equal(t, "100", fx.balance(dai, alice).String())

	pos, err := fx.farm.Position(pid, alice)
	require.NoError(t, err)
	require.Zero(t, pos.Shares.Sign())
	require.Zero(t, pos.Claimable.Sign())
	_, err = fx.farm.EmergencyWithdraw(alice, pid)
	require.ErrorIs(t, err, ErrInsufficientShares)
}

func TestSetWeighingSettlesAtOldRate(t *testing.T) {
	fx := newFixture(t, 0)
	daiPool := fx.addVault(dai, 1, nil)
	usdcPool := fx.addVault(usdc, 1, nil)
	fx.deposit(alice, daiPool, big.NewInt(10), common.Address{})
	fx.deposit(bob, usdcPool, big.NewInt(10), common.Address{})

	fx.farm.SetBlockHeight(2)
	require.NoError(t, fx.farm.SetWeighing(owner, usdcPool, 0))
	require.ErrorIs(t, fx.farm.SetWeighing(owner, usdcPool, 0), nativecommon.ErrSameValue)
	fx.farm.SetBlockHeight(4)

	a, _ := fx.farm.PendingReward(daiPool, alice)
	b, _ := fx.farm.PendingReward(usdcPool, bob)
	// Two blocks split evenly, then two blocks all to dai.
	require.Equal(t, times(3, emission).String(), a.String())
	require.Equal(t, emission.String(), b.String())

	settings, err := fx.farm.Settings()
	require.NoError(t, err)
	require.EqualValues(t, 1, settings.TotalWeighing)
}

func TestAddPoolValidation(t *testing.T) {
	fx := newFixture(t, 0)
	fx.addVault(dai, 1, nil)
	ctrl := nativecommon.ModuleAddress("controller/" + dai.Hex())
	_, err := fx.farm.AddPool(owner, dai, ctrl, 1)
	require.ErrorIs(t, err, ErrPoolExists)
	_, err = fx.farm.AddPool(owner, usdc, ctrl, 1)
	require.ErrorIs(t, err, ErrWantMismatch)
	_, err = fx.farm.AddPool(owner, dai, common.HexToAddress("0x99"), 1)
	require.ErrorIs(t, err, ErrUnknownController)
	_, err = fx.farm.AddPool(alice, dai, ctrl, 1)
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)
	length, err := fx.farm.PoolLength()
	require.NoError(t, err)
	require.EqualValues(t, 1, length)
}

func TestDepositAllRespectsCap(t *testing.T) {
	fx := newFixture(t, 0)
	pid := fx.addVault(dai, 1, big.NewInt(70))
	fx.fund(alice, dai, big.NewInt(100))
	minted, err := fx.farm.DepositAll(alice, pid, common.Address{})
	require.NoError(t, err)
	require.Equal(t, "70", minted.String())
	require.Equal(t, "30", fx.balance(dai, alice).String())
}

func TestSettersRejectBadValues(t *testing.T) {
	fx := newFixture(t, 0)
	require.ErrorIs(t, fx.farm.SetReferralCommissionRate(owner, MaxReferralCommissionRate+1), ErrCommissionTooHigh)
	require.ErrorIs(t, fx.farm.SetReferralCommissionRate(owner, 0), nativecommon.ErrSameValue)
	require.NoError(t, fx.farm.SetReferralCommissionRate(owner, 200))
	require.ErrorIs(t, fx.farm.SetEmissionPerBlock(owner, emission), nativecommon.ErrSameValue)
	require.NoError(t, fx.farm.SetEmissionPerBlock(owner, big.NewInt(5)))
	settings, err := fx.farm.Settings()
	require.NoError(t, err)
	require.Equal(t, "5", settings.EmissionPerBlock.String())
	require.EqualValues(t, 200, settings.ReferralCommissionRate)
}
