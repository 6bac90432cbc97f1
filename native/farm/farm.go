package farm

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/core/events"
	nativecommon "yieldvault/native/common"
)

const moduleName = "farm"

var (
	errNilState = errors.New("farm: state not configured")

	ErrInsufficientDeposit = errors.New("farm: insufficient deposit")
	ErrInsufficientShares  = errors.New("farm: insufficient shares")
	ErrInvalidReferrer     = errors.New("farm: invalid referrer")
	ErrPoolNotFound        = errors.New("farm: pool not found")
	ErrPoolExists          = errors.New("farm: controller already has a pool")
	ErrUnknownController   = errors.New("farm: unknown controller")
	ErrWantMismatch        = errors.New("farm: controller want differs from pool want")
	ErrCommissionTooHigh   = errors.New("farm: referral commission exceeds maximum")
)

type tokenLedger interface {
	BalanceOf(asset, owner common.Address) (*big.Int, error)
	Transfer(asset, from, to common.Address, amount *big.Int) error
	TransferFrom(asset, spender, from, to common.Address, amount *big.Int) error
	Approve(asset, owner, spender common.Address, amount *big.Int) error
	Mint(asset, minter, to common.Address, amount *big.Int) error
}

// Vault is the controller surface the farm deposits through.
type Vault interface {
	Address() common.Address
	Want() common.Address
	TotalShares() (*big.Int, error)
	AvailableDeposit() (*big.Int, bool, error)
	Deposit(caller, user common.Address, amount *big.Int) (*big.Int, error)
	Withdraw(caller, recipient common.Address, shares *big.Int) (*big.Int, error)
}

// Referrals is the referral registry surface the farm writes to.
type Referrals interface {
	SetReferrer(caller, user, referrer common.Address) (bool, error)
	ReferrerOf(user common.Address) (common.Address, bool, error)
	PayCommission(caller, referrer common.Address, amount *big.Int) error
}

// Farm distributes the reward token to vault depositors in proportion to
// their shares, the pool weighing and elapsed blocks.
type Farm struct {
	cfg         Config
	ledger      tokenLedger
	referrals   Referrals
	vaults      map[common.Address]Vault
	state       nativecommon.Store
	pauses      nativecommon.PauseView
	emitter     events.Emitter
	blockHeight uint64
	guard       nativecommon.ReentrancyGuard
}

// New constructs a farm. The farm must be the minter of the reward token.
func New(cfg Config, ledger tokenLedger, referrals Referrals) (*Farm, error) {
	if cfg.Address == (common.Address{}) || cfg.RewardToken == (common.Address{}) {
		return nil, fmt.Errorf("farm: %w", nativecommon.ErrZeroAddress)
	}
	if cfg.ReferralCommissionRate > MaxReferralCommissionRate {
		return nil, ErrCommissionTooHigh
	}
	if ledger == nil || referrals == nil {
		return nil, errors.New("farm: ledger and referral registry required")
	}
	return &Farm{
		cfg:       cfg,
		ledger:    ledger,
		referrals: referrals,
		vaults:    make(map[common.Address]Vault),
		emitter:   events.NoopEmitter{},
	}, nil
}

func (f *Farm) SetState(state nativecommon.Store) { f.state = state }

func (f *Farm) SetPauses(p nativecommon.PauseView) { f.pauses = p }

func (f *Farm) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	f.emitter = emitter
}

// SetBlockHeight records the block height emission is computed against.
func (f *Farm) SetBlockHeight(height uint64) { f.blockHeight = height }

// RegisterVault makes a controller resolvable by address for AddPool.
func (f *Farm) RegisterVault(v Vault) {
	if v == nil {
		return
	}
	f.vaults[v.Address()] = v
}

// Address returns the account that holds minted rewards and vault shares.
func (f *Farm) Address() common.Address { return f.cfg.Address }

// RewardToken returns the emitted asset.
func (f *Farm) RewardToken() common.Address { return f.cfg.RewardToken }

var settingsKey = nativecommon.Key("farm/settings")

func poolKey(pid uint64) []byte { return nativecommon.Key("farm/pool", pid) }

func positionKey(pid uint64, user common.Address) []byte {
	return nativecommon.Key("farm/position", pid, user)
}

func controllerKey(controller common.Address) []byte {
	return nativecommon.Key("farm/controller", controller)
}

// Settings returns the farm's global parameters.
func (f *Farm) Settings() (*Settings, error) {
	if f.state == nil {
		return nil, errNilState
	}
	settings := new(Settings)
	ok, err := f.state.KVGet(settingsKey, settings)
	if err != nil {
		return nil, err
	}
	if !ok {
		settings = &Settings{
			EmissionPerBlock:       nativecommon.Clone(f.cfg.EmissionPerBlock),
			ReferralCommissionRate: f.cfg.ReferralCommissionRate,
		}
	}
	settings.normalise()
	return settings, nil
}

func (f *Farm) storeSettings(s *Settings) error {
	return f.state.KVPut(settingsKey, s)
}

// PoolLength returns the number of pools ever added.
func (f *Farm) PoolLength() (uint64, error) {
	settings, err := f.Settings()
	if err != nil {
		return 0, err
	}
	return settings.PoolCount, nil
}

// Pool returns pool pid.
func (f *Farm) Pool(pid uint64) (*Pool, error) {
	if f.state == nil {
		return nil, errNilState
	}
	pool := new(Pool)
	ok, err := f.state.KVGet(poolKey(pid), pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPoolNotFound, pid)
	}
	pool.normalise()
	return pool, nil
}

func (f *Farm) storePool(pid uint64, pool *Pool) error {
	return f.state.KVPut(poolKey(pid), pool)
}

// Position returns user's stake in pool pid. Unknown users have a zero
// position.
func (f *Farm) Position(pid uint64, user common.Address) (*Position, error) {
	if f.state == nil {
		return nil, errNilState
	}
	pos := new(Position)
	if _, err := f.state.KVGet(positionKey(pid, user), pos); err != nil {
		return nil, err
	}
	pos.normalise()
	return pos, nil
}

func (f *Farm) storePosition(pid uint64, user common.Address, pos *Position) error {
	return f.state.KVPut(positionKey(pid, user), pos)
}

// PoolID returns the pool registered for controller.
func (f *Farm) PoolID(controller common.Address) (uint64, bool, error) {
	if f.state == nil {
		return 0, false, errNilState
	}
	var record poolIndexRecord
	ok, err := f.state.KVGet(controllerKey(controller), &record)
	if err != nil || !ok {
		return 0, false, err
	}
	return record.ID, true, nil
}

func (f *Farm) vault(pool *Pool) (Vault, error) {
	v, ok := f.vaults[pool.Controller]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownController, pool.Controller.Hex())
	}
	return v, nil
}

// AddPool registers a controller for emission and returns its pool id.
func (f *Farm) AddPool(caller, want, controller common.Address, weighing uint64) (uint64, error) {
	if err := f.onlyOwner(caller); err != nil {
		return 0, err
	}
	v, ok := f.vaults[controller]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownController, controller.Hex())
	}
	if v.Want() != want {
		return 0, ErrWantMismatch
	}
	if _, exists, err := f.PoolID(controller); err != nil {
		return 0, err
	} else if exists {
		return 0, ErrPoolExists
	}
	if err := f.massUpdatePools(); err != nil {
		return 0, err
	}
	settings, err := f.Settings()
	if err != nil {
		return 0, err
	}
	pid := settings.PoolCount
	start := f.blockHeight
	if start < f.cfg.StartBlock {
		start = f.cfg.StartBlock
	}
	pool := &Pool{Want: want, Controller: controller, Weighing: weighing, AccRewardPerShare: big.NewInt(0), LastRewardBlock: start}
	if err := f.storePool(pid, pool); err != nil {
		return 0, err
	}
	if err := f.state.KVPut(controllerKey(controller), poolIndexRecord{ID: pid}); err != nil {
		return 0, err
	}
	settings.PoolCount++
	settings.TotalWeighing += weighing
	if err := f.storeSettings(settings); err != nil {
		return 0, err
	}
	f.emitter.Emit(events.PoolAdded{Pool: pid, Want: want, Controller: controller, Weighing: weighing})
	return pid, nil
}

// SetWeighing changes a pool's share of emission after settling every pool
// at the old weighings.
func (f *Farm) SetWeighing(caller common.Address, pid, weighing uint64) error {
	if err := f.onlyOwner(caller); err != nil {
		return err
	}
	pool, err := f.Pool(pid)
	if err != nil {
		return err
	}
	if pool.Weighing == weighing {
		return nativecommon.ErrSameValue
	}
	if err := f.massUpdatePools(); err != nil {
		return err
	}
	// Reload: massUpdatePools advanced the pool.
	if pool, err = f.Pool(pid); err != nil {
		return err
	}
	settings, err := f.Settings()
	if err != nil {
		return err
	}
	settings.TotalWeighing = settings.TotalWeighing - pool.Weighing + weighing
	pool.Weighing = weighing
	if err := f.storePool(pid, pool); err != nil {
		return err
	}
	if err := f.storeSettings(settings); err != nil {
		return err
	}
	f.emitter.Emit(events.ParamUpdated{Module: f.cfg.Address, Name: "weighing:" + strconv.FormatUint(pid, 10), Value: strconv.FormatUint(weighing, 10)})
	return nil
}

// SetEmissionPerBlock changes the global emission rate after settling every
// pool at the old rate.
func (f *Farm) SetEmissionPerBlock(caller common.Address, amount *big.Int) error {
	if err := f.onlyOwner(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("farm: emission must not be negative")
	}
	settings, err := f.Settings()
	if err != nil {
		return err
	}
	if settings.EmissionPerBlock.Cmp(amount) == 0 {
		return nativecommon.ErrSameValue
	}
	if err := f.massUpdatePools(); err != nil {
		return err
	}
	settings.EmissionPerBlock = new(big.Int).Set(amount)
	if err := f.storeSettings(settings); err != nil {
		return err
	}
	f.emitter.Emit(events.ParamUpdated{Module: f.cfg.Address, Name: "emissionPerBlock", Value: amount.String()})
	return nil
}

// SetReferralCommissionRate changes the commission minted to referrers on
// every payout.
func (f *Farm) SetReferralCommissionRate(caller common.Address, rate uint64) error {
	if err := f.onlyOwner(caller); err != nil {
		return err
	}
	if rate > MaxReferralCommissionRate {
		return ErrCommissionTooHigh
	}
	settings, err := f.Settings()
	if err != nil {
		return err
	}
	if settings.ReferralCommissionRate == rate {
		return nativecommon.ErrSameValue
	}
	settings.ReferralCommissionRate = rate
	if err := f.storeSettings(settings); err != nil {
		return err
	}
	f.emitter.Emit(events.ParamUpdated{Module: f.cfg.Address, Name: "referralCommissionRate", Value: strconv.FormatUint(rate, 10)})
	return nil
}

func (f *Farm) onlyOwner(caller common.Address) error {
	if f.state == nil {
		return errNilState
	}
	if caller != f.cfg.Owner {
		return fmt.Errorf("farm: %w", nativecommon.ErrUnauthorized)
	}
	return nil
}
