package strategy

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/core/events"
	nativecommon "yieldvault/native/common"
	"yieldvault/native/lending"
)

var (
	errNilState = errors.New("strategy: state not configured")

	ErrInvalidConfig         = errors.New("strategy: invalid configuration")
	ErrStrategyPaused        = errors.New("strategy: paused")
	ErrNotPaused             = errors.New("strategy: not paused")
	ErrExceedsMaxBorrowRate  = errors.New("strategy: borrow rate exceeds maximum")
	ErrExceedsMaxBorrowDepth = errors.New("strategy: borrow depth exceeds maximum")
	ErrInsufficientLiquidity = errors.New("strategy: could not free enough liquidity")
	ErrFeeTooHigh            = errors.New("strategy: performance fee exceeds maximum")
	ErrInvalidIterationBound = errors.New("strategy: iteration bound must be positive")
	ErrDeleverageIncomplete  = errors.New("strategy: debt remains after deleverage")
)

type tokenLedger interface {
	BalanceOf(asset, owner common.Address) (*big.Int, error)
	Transfer(asset, from, to common.Address, amount *big.Int) error
}

type lendingVenue interface {
	Supply(asset, supplier common.Address, amount *big.Int) error
	Withdraw(asset, supplier common.Address, amount *big.Int) (*big.Int, error)
	Borrow(asset, borrower common.Address, amount *big.Int, rateMode uint8) error
	Repay(asset, payer common.Address, amount *big.Int) (*big.Int, error)
	AccountData(asset, account common.Address) (*lending.AccountData, error)
	ClaimRewards(asset, account, recipient common.Address) (*big.Int, error)
	IncentiveAsset() common.Address
}

type swapRouter interface {
	GetAmountsOut(amountIn *big.Int, path []common.Address) ([]*big.Int, error)
	SwapExactTokensForTokens(caller common.Address, amountIn, minAmountOut *big.Int, path []common.Address, recipient common.Address, deadline uint64) ([]*big.Int, error)
}

type priceChecker interface {
	CheckPrice(tokenIn, tokenOut common.Address, amountIn, amountOutProposed *big.Int) error
}

// Dependencies are the external components a leveraged strategy talks to.
type Dependencies struct {
	Ledger tokenLedger
	Venue  lendingVenue
	Router swapRouter
	Guard  priceChecker
}

// Leveraged recursively supplies want to a lending venue and borrows against
// it to amplify supply-side yield and incentives.
type Leveraged struct {
	cfg       Config
	deps      Dependencies
	state     nativecommon.Store
	emitter   events.Emitter
	blockTime uint64
	guard     nativecommon.ReentrancyGuard
}

var _ Strategy = (*Leveraged)(nil)

// NewLeveraged validates cfg and constructs the strategy.
func NewLeveraged(cfg Config, deps Dependencies) (*Leveraged, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Ledger == nil || deps.Venue == nil || deps.Router == nil || deps.Guard == nil {
		return nil, fmt.Errorf("%w: missing dependency", ErrInvalidConfig)
	}
	cfg.RewardPath = append([]common.Address(nil), cfg.RewardPath...)
	return &Leveraged{cfg: cfg, deps: deps, emitter: events.NoopEmitter{}}, nil
}

func (s *Leveraged) SetState(state nativecommon.Store) { s.state = state }

func (s *Leveraged) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	s.emitter = emitter
}

// SetBlockTime records the timestamp used as the swap deadline.
func (s *Leveraged) SetBlockTime(ts uint64) { s.blockTime = ts }

func (s *Leveraged) Address() common.Address { return s.cfg.Address }
func (s *Leveraged) Want() common.Address { return s.cfg.Want }
func (s *Leveraged) Controller() common.Address { return s.cfg.Controller }

func (s *Leveraged) paramsKey() []byte { return nativecommon.Key("strategy/params", s.cfg.Address) }

// Params returns the current strategy state.
func (s *Leveraged) Params() (*Params, error) {
	if s.state == nil {
		return nil, errNilState
	}
	params := new(Params)
	ok, err := s.state.KVGet(s.paramsKey(), params)
	if err != nil {
		return nil, err
	}
	if !ok {
		params = s.cfg.params()
	}
	params.normalise()
	return params, nil
}

func (s *Leveraged) storeParams(p *Params) error {
	return s.state.KVPut(s.paramsKey(), p)
}

// Paused reports whether deposits are halted.
func (s *Leveraged) Paused() (bool, error) {
	params, err := s.Params()
	if err != nil {
		return false, err
	}
	return params.Paused, nil
}

// Idle returns the want held by the strategy itself.
func (s *Leveraged) Idle() (*big.Int, error) {
	return s.deps.Ledger.BalanceOf(s.cfg.Want, s.cfg.Address)
}

// Position returns the strategy's supplied collateral and debt.
func (s *Leveraged) Position() (*lending.AccountData, error) {
	return s.deps.Venue.AccountData(s.cfg.Want, s.cfg.Address)
}

// Deployed is supplied collateral less debt.
func (s *Leveraged) Deployed() (*big.Int, error) {
	pos, err := s.Position()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(pos.Collateral, pos.Debt), nil
}

// BalanceOf is idle want plus the net deployed position.
func (s *Leveraged) BalanceOf() (*big.Int, error) {
	idle, err := s.Idle()
	if err != nil {
		return nil, err
	}
	deployed, err := s.Deployed()
	if err != nil {
		return nil, err
	}
	return deployed.Add(deployed, idle), nil
}

// Deposit deploys idle want with the configured leverage.
func (s *Leveraged) Deposit(caller common.Address) error {
	if err := s.onlyController(caller); err != nil {
		return err
	}
	if err := s.guard.Enter(); err != nil {
		return err
	}
	defer s.guard.Exit()
	params, err := s.Params()
	if err != nil {
		return err
	}
	if params.Paused {
		return ErrStrategyPaused
	}
	if err := s.deploy(params); err != nil {
		return err
	}
	return s.syncLastBalance(params)
}

// Withdraw sends amount of want to the controller, unwinding leverage when
// idle funds do not cover it. Requests above the strategy balance are capped
// at the balance, and a full unwind sends whatever it freed.
func (s *Leveraged) Withdraw(caller common.Address, amount *big.Int) (*big.Int, error) {
	if err := s.onlyController(caller); err != nil {
		return nil, err
	}
	if !nativecommon.Positive(amount) {
		return nil, nativecommon.ErrZeroAmount
	}
	if err := s.guard.Enter(); err != nil {
		return nil, err
	}
	defer s.guard.Exit()
	params, err := s.Params()
	if err != nil {
		return nil, err
	}
	idle, err := s.Idle()
	if err != nil {
		return nil, err
	}
	if idle.Cmp(amount) < 0 {
		balance, err := s.BalanceOf()
		if err != nil {
			return nil, err
		}
		everything := amount.Cmp(balance) >= 0
		if everything {
			amount = balance
		}
		threshold := nativecommon.ApplyBps(balance, params.RatioForFullWithdraw)
		unwound := false
		if amount.Cmp(threshold) > 0 {
			if unwound, err = s.fullDeleverage(params); err != nil {
				return nil, err
			}
		} else if err := s.partialDeleverage(params, new(big.Int).Sub(amount, idle)); err != nil {
			return nil, err
		}
		idle, err = s.Idle()
		if err != nil {
			return nil, err
		}
		switch {
		case unwound && (everything || idle.Cmp(amount) < 0):
			// Nothing is left in the venue; rounding on accrued debt can
			// leave idle a few wei off the pre-unwind balance.
			amount = idle
		case idle.Cmp(amount) < 0:
			return nil, fmt.Errorf("%w: freed %s of %s", ErrInsufficientLiquidity, idle, amount)
		}
	}
	if amount.Sign() > 0 {
		if err := s.deps.Ledger.Transfer(s.cfg.Want, s.cfg.Address, s.cfg.Controller, amount); err != nil {
			return nil, err
		}
	}
	if !params.Paused {
		if err := s.deploy(params); err != nil {
			return nil, err
		}
	}
	if err := s.syncLastBalance(params); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

// BeforeMovement charges the performance fee on yield realised since the last
// deposit, withdraw or harvest.
func (s *Leveraged) BeforeMovement(caller common.Address) error {
	if err := s.onlyController(caller); err != nil {
		return err
	}
	if err := s.guard.Enter(); err != nil {
		return err
	}
	defer s.guard.Exit()
	params, err := s.Params()
	if err != nil {
		return err
	}
	return s.beforeMovement(params)
}

func (s *Leveraged) beforeMovement(params *Params) error {
	balance, err := s.BalanceOf()
	if err != nil {
		return err
	}
	if balance.Cmp(params.LastBalance) <= 0 {
		params.LastBalance = balance
		return s.storeParams(params)
	}
	yield := new(big.Int).Sub(balance, params.LastBalance)
	fee := nativecommon.ApplyBps(yield, params.PerformanceFee)
	if fee.Sign() > 0 {
		if err := s.ensureIdle(params, fee); err != nil {
			return err
		}
		if err := s.deps.Ledger.Transfer(s.cfg.Want, s.cfg.Address, s.cfg.FeeManager, fee); err != nil {
			return err
		}
		s.emitter.Emit(events.PerformanceFee{Strategy: s.cfg.Address, Want: s.cfg.Want, Yield: yield, Amount: fee})
	}
	params.LastBalance = new(big.Int).Sub(balance, fee)
	return s.storeParams(params)
}

// Harvest claims venue incentives, swaps them to want behind the price guard,
// charges the performance fee and redeploys.
func (s *Leveraged) Harvest(caller common.Address) error {
	if err := s.guard.Enter(); err != nil {
		return err
	}
	defer s.guard.Exit()
	params, err := s.Params()
	if err != nil {
		return err
	}
	if params.Paused {
		return ErrStrategyPaused
	}
	reward, err := s.deps.Venue.ClaimRewards(s.cfg.Want, s.cfg.Address, s.cfg.Address)
	if err != nil {
		return err
	}
	wantOut := big.NewInt(0)
	if len(s.cfg.RewardPath) > 1 {
		rewardToken := s.cfg.RewardPath[0]
		held, err := s.deps.Ledger.BalanceOf(rewardToken, s.cfg.Address)
		if err != nil {
			return err
		}
		if held.Sign() > 0 {
			wantOut, err = s.swap(held, s.cfg.RewardPath)
			if err != nil {
				return err
			}
		}
	}
	if err := s.beforeMovement(params); err != nil {
		return err
	}
	if err := s.deploy(params); err != nil {
		return err
	}
	if err := s.syncLastBalance(params); err != nil {
		return err
	}
	s.emitter.Emit(events.Harvested{Strategy: s.cfg.Address, Reward: reward, WantOut: wantOut})
	return nil
}

func (s *Leveraged) swap(amountIn *big.Int, path []common.Address) (*big.Int, error) {
	quote, err := s.deps.Router.GetAmountsOut(amountIn, path)
	if err != nil {
		return nil, err
	}
	minOut := quote[len(quote)-1]
	if err := s.deps.Guard.CheckPrice(path[0], path[len(path)-1], amountIn, minOut); err != nil {
		return nil, err
	}
	amounts, err := s.deps.Router.SwapExactTokensForTokens(s.cfg.Address, amountIn, minOut, path, s.cfg.Address, s.blockTime)
	if err != nil {
		return nil, err
	}
	return amounts[len(amounts)-1], nil
}

// Retire unwinds the whole position and returns all want to the controller.
func (s *Leveraged) Retire(caller common.Address) (*big.Int, error) {
	if err := s.onlyController(caller); err != nil {
		return nil, err
	}
	if err := s.guard.Enter(); err != nil {
		return nil, err
	}
	defer s.guard.Exit()
	params, err := s.Params()
	if err != nil {
		return nil, err
	}
	return s.unwindToController(params)
}

// Panic unwinds the position, pauses deposits and leaves the funds idle in
// the controller.
func (s *Leveraged) Panic(caller common.Address) error {
	if err := s.onlyOwner(caller); err != nil {
		return err
	}
	if err := s.guard.Enter(); err != nil {
		return err
	}
	defer s.guard.Exit()
	params, err := s.Params()
	if err != nil {
		return err
	}
	params.Paused = true
	released, err := s.unwindToController(params)
	if err != nil {
		return err
	}
	s.emitter.Emit(events.StrategyPanic{Strategy: s.cfg.Address, Released: released})
	return nil
}

// Unpause re-enables deposits. Funds return through the controller.
func (s *Leveraged) Unpause(caller common.Address) error {
	if err := s.onlyOwner(caller); err != nil {
		return err
	}
	params, err := s.Params()
	if err != nil {
		return err
	}
	if !params.Paused {
		return ErrNotPaused
	}
	params.Paused = false
	if err := s.storeParams(params); err != nil {
		return err
	}
	s.emitter.Emit(events.ParamUpdated{Module: s.cfg.Address, Name: "paused", Value: "false"})
	return nil
}

func (s *Leveraged) unwindToController(params *Params) (*big.Int, error) {
	complete, err := s.fullDeleverage(params)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, ErrDeleverageIncomplete
	}
	idle, err := s.Idle()
	if err != nil {
		return nil, err
	}
	if idle.Sign() > 0 {
		if err := s.deps.Ledger.Transfer(s.cfg.Want, s.cfg.Address, s.cfg.Controller, idle); err != nil {
			return nil, err
		}
	}
	params.LastBalance = big.NewInt(0)
	if err := s.storeParams(params); err != nil {
		return nil, err
	}
	return idle, nil
}

// IncreaseHealthFactor withdraws collateral proportional to ratio of what can
// be freed and uses it to repay debt.
func (s *Leveraged) IncreaseHealthFactor(caller common.Address, ratio uint64) error {
	if err := s.onlyOwner(caller); err != nil {
		return err
	}
	if ratio > nativecommon.BPSDenominator {
		return nativecommon.ErrInvalidRatio
	}
	if err := s.guard.Enter(); err != nil {
		return err
	}
	defer s.guard.Exit()
	pos, err := s.Position()
	if err != nil {
		return err
	}
	if pos.Debt.Sign() == 0 {
		return nil
	}
	freeable := nativecommon.Min(withdrawable(pos), pos.Debt)
	amount := nativecommon.ApplyBps(freeable, ratio)
	if amount.Sign() == 0 {
		return nil
	}
	if _, err := s.deps.Venue.Withdraw(s.cfg.Want, s.cfg.Address, amount); err != nil {
		return err
	}
	_, err = s.deps.Venue.Repay(s.cfg.Want, s.cfg.Address, amount)
	return err
}

// Rebalance unwinds the position and redeploys it at new leverage settings.
func (s *Leveraged) Rebalance(caller common.Address, borrowRate, borrowDepth uint64) error {
	if err := s.onlyOwner(caller); err != nil {
		return err
	}
	if err := s.guard.Enter(); err != nil {
		return err
	}
	defer s.guard.Exit()
	params, err := s.Params()
	if err != nil {
		return err
	}
	if borrowRate > params.BorrowRateMax {
		return ErrExceedsMaxBorrowRate
	}
	if borrowDepth > params.BorrowDepthMax {
		return ErrExceedsMaxBorrowDepth
	}
	if borrowRate == params.BorrowRate && borrowDepth == params.BorrowDepth {
		return nativecommon.ErrSameValue
	}
	complete, err := s.fullDeleverage(params)
	if err != nil {
		return err
	}
	if !complete {
		return ErrDeleverageIncomplete
	}
	params.BorrowRate = borrowRate
	params.BorrowDepth = borrowDepth
	if !params.Paused {
		if err := s.deploy(params); err != nil {
			return err
		}
	}
	if err := s.syncLastBalance(params); err != nil {
		return err
	}
	s.emitter.Emit(events.StrategyRebalanced{Strategy: s.cfg.Address, BorrowRate: borrowRate, BorrowDepth: borrowDepth})
	return nil
}

// SetPerformanceFee updates the fee charged on realised yield.
func (s *Leveraged) SetPerformanceFee(caller common.Address, fee uint64) error {
	if fee > MaxPerformanceFee {
		return ErrFeeTooHigh
	}
	return s.updateUint(caller, "performanceFee", fee, func(p *Params) *uint64 { return &p.PerformanceFee })
}

// SetRatioForFullWithdraw updates the full-unwind threshold.
func (s *Leveraged) SetRatioForFullWithdraw(caller common.Address, ratio uint64) error {
	if ratio > nativecommon.BPSDenominator {
		return nativecommon.ErrInvalidRatio
	}
	return s.updateUint(caller, "ratioForFullWithdraw", ratio, func(p *Params) *uint64 { return &p.RatioForFullWithdraw })
}

// SetMaxDeleverageIterations updates the bound on unwind loops.
func (s *Leveraged) SetMaxDeleverageIterations(caller common.Address, n uint64) error {
	if n == 0 {
		return ErrInvalidIterationBound
	}
	return s.updateUint(caller, "maxDeleverageIterations", n, func(p *Params) *uint64 { return &p.MaxDeleverageIterations })
}

// SetMinLeverage updates the smallest amount deployed with leverage.
func (s *Leveraged) SetMinLeverage(caller common.Address, amount *big.Int) error {
	if err := s.onlyOwner(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: negative min leverage", ErrInvalidConfig)
	}
	params, err := s.Params()
	if err != nil {
		return err
	}
	if params.MinLeverage.Cmp(amount) == 0 {
		return nativecommon.ErrSameValue
	}
	params.MinLeverage = new(big.Int).Set(amount)
	if err := s.storeParams(params); err != nil {
		return err
	}
	s.emitter.Emit(events.ParamUpdated{Module: s.cfg.Address, Name: "minLeverage", Value: amount.String()})
	return nil
}

func (s *Leveraged) updateUint(caller common.Address, name string, value uint64, field func(*Params) *uint64) error {
	if err := s.onlyOwner(caller); err != nil {
		return err
	}
	params, err := s.Params()
	if err != nil {
		return err
	}
	target := field(params)
	if *target == value {
		return nativecommon.ErrSameValue
	}
	*target = value
	if err := s.storeParams(params); err != nil {
		return err
	}
	s.emitter.Emit(events.ParamUpdated{Module: s.cfg.Address, Name: name, Value: strconv.FormatUint(value, 10)})
	return nil
}

// deploy supplies idle want, looping supply and borrow BorrowDepth times and
// supplying the final borrowed amount.
func (s *Leveraged) deploy(params *Params) error {
	amount, err := s.Idle()
	if err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	if amount.Cmp(params.MinLeverage) < 0 || params.BorrowDepth == 0 || params.BorrowRate == 0 {
		return s.deps.Venue.Supply(s.cfg.Want, s.cfg.Address, amount)
	}
	for i := uint64(0); i < params.BorrowDepth; i++ {
		if err := s.deps.Venue.Supply(s.cfg.Want, s.cfg.Address, amount); err != nil {
			return err
		}
		borrow := nativecommon.ApplyBps(amount, params.BorrowRate)
		if borrow.Sign() == 0 {
			return nil
		}
		if err := s.deps.Venue.Borrow(s.cfg.Want, s.cfg.Address, borrow, lending.RateModeVariable); err != nil {
			return err
		}
		amount = borrow
	}
	return s.deps.Venue.Supply(s.cfg.Want, s.cfg.Address, amount)
}

// withdrawable is the collateral that can leave the venue while keeping debt
// within the maximum loan-to-value.
func withdrawable(pos *lending.AccountData) *big.Int {
	if pos.Debt.Sign() == 0 {
		return new(big.Int).Set(pos.Collateral)
	}
	if pos.MaxLTV == 0 {
		return big.NewInt(0)
	}
	locked := nativecommon.MulDivUp(pos.Debt, big.NewInt(nativecommon.BPSDenominator), new(big.Int).SetUint64(pos.MaxLTV))
	free := new(big.Int).Sub(pos.Collateral, locked)
	if free.Sign() < 0 {
		free.SetInt64(0)
	}
	return free
}

// partialDeleverage withdraws collateral and repays debt in proportion until
// needed want has been freed or the iteration bound is reached.
func (s *Leveraged) partialDeleverage(params *Params, needed *big.Int) error {
	freed := big.NewInt(0)
	for i := uint64(0); i < params.MaxDeleverageIterations && freed.Cmp(needed) < 0; i++ {
		pos, err := s.Position()
		if err != nil {
			return err
		}
		remaining := new(big.Int).Sub(needed, freed)
		if pos.Debt.Sign() == 0 {
			amount := nativecommon.Min(remaining, pos.Collateral)
			if amount.Sign() == 0 {
				return nil
			}
			if _, err := s.deps.Venue.Withdraw(s.cfg.Want, s.cfg.Address, amount); err != nil {
				return err
			}
			freed.Add(freed, amount)
			continue
		}
		net := new(big.Int).Sub(pos.Collateral, pos.Debt)
		if net.Sign() <= 0 {
			return nil
		}
		free := withdrawable(pos)
		if free.Sign() == 0 {
			return nil
		}
		amount := nativecommon.Min(nativecommon.MulDivUp(remaining, pos.Collateral, net), free)
		if _, err := s.deps.Venue.Withdraw(s.cfg.Want, s.cfg.Address, amount); err != nil {
			return err
		}
		repay := nativecommon.Min(nativecommon.MulDiv(amount, pos.Debt, pos.Collateral), pos.Debt)
		if repay.Sign() > 0 {
			if _, err := s.deps.Venue.Repay(s.cfg.Want, s.cfg.Address, repay); err != nil {
				return err
			}
		}
		freed.Add(freed, new(big.Int).Sub(amount, repay))
	}
	return nil
}

// fullDeleverage repays from idle want and withdraws freed collateral until
// the debt is gone, then withdraws the remaining collateral. It reports
// whether the debt was cleared within the iteration bound.
func (s *Leveraged) fullDeleverage(params *Params) (bool, error) {
	for i := uint64(0); i < params.MaxDeleverageIterations; i++ {
		pos, err := s.Position()
		if err != nil {
			return false, err
		}
		if pos.Debt.Sign() == 0 {
			if pos.Collateral.Sign() > 0 {
				if _, err := s.deps.Venue.Withdraw(s.cfg.Want, s.cfg.Address, pos.Collateral); err != nil {
					return false, err
				}
			}
			return true, nil
		}
		idle, err := s.Idle()
		if err != nil {
			return false, err
		}
		if idle.Sign() > 0 {
			if _, err := s.deps.Venue.Repay(s.cfg.Want, s.cfg.Address, nativecommon.Min(idle, pos.Debt)); err != nil {
				return false, err
			}
			continue
		}
		free := withdrawable(pos)
		if free.Sign() == 0 {
			return false, nil
		}
		if _, err := s.deps.Venue.Withdraw(s.cfg.Want, s.cfg.Address, free); err != nil {
			return false, err
		}
	}
	pos, err := s.Position()
	if err != nil {
		return false, err
	}
	return pos.Debt.Sign() == 0 && pos.Collateral.Sign() == 0, nil
}

func (s *Leveraged) ensureIdle(params *Params, amount *big.Int) error {
	idle, err := s.Idle()
	if err != nil {
		return err
	}
	if idle.Cmp(amount) >= 0 {
		return nil
	}
	if err := s.partialDeleverage(params, new(big.Int).Sub(amount, idle)); err != nil {
		return err
	}
	idle, err = s.Idle()
	if err != nil {
		return err
	}
	if idle.Cmp(amount) < 0 {
		return fmt.Errorf("%w: freed %s of %s", ErrInsufficientLiquidity, idle, amount)
	}
	return nil
}

func (s *Leveraged) syncLastBalance(params *Params) error {
	balance, err := s.BalanceOf()
	if err != nil {
		return err
	}
	params.LastBalance = balance
	return s.storeParams(params)
}

func (s *Leveraged) onlyController(caller common.Address) error {
	if s.state == nil {
		return errNilState
	}
	if caller != s.cfg.Controller {
		return fmt.Errorf("strategy %s: %w", s.cfg.Address.Hex(), nativecommon.ErrUnauthorized)
	}
	return nil
}

func (s *Leveraged) onlyOwner(caller common.Address) error {
	if s.state == nil {
		return errNilState
	}
	if caller != s.cfg.Owner {
		return fmt.Errorf("strategy %s: %w", s.cfg.Address.Hex(), nativecommon.ErrUnauthorized)
	}
	return nil
}
