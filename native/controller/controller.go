package controller

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/core/events"
	nativecommon "yieldvault/native/common"
	"yieldvault/native/strategy"
)

// MaxWithdrawFee caps the withdraw fee in basis points.
const MaxWithdrawFee = 500

var (
	errNilState = errors.New("controller: state not configured")

	ErrStrategyPaused      = errors.New("controller: strategy paused")
	ErrBelowMinimum        = errors.New("controller: deposit below minimum")
	ErrDepositCapExceeded  = errors.New("controller: deposit cap exceeded")
	ErrInsufficientShares  = errors.New("controller: insufficient shares")
	ErrZeroShares          = errors.New("controller: deposit mints no shares")
	ErrInsolvent           = errors.New("controller: shares outstanding without value")
	ErrUnknownStrategy     = errors.New("controller: unknown strategy")
	ErrWantMismatch        = errors.New("controller: strategy want differs from vault want")
	ErrStrategyHasDeposits = errors.New("controller: strategy still holds deposits")
	ErrFeeTooHigh          = errors.New("controller: withdraw fee exceeds maximum")
)

var precision = big.NewInt(1e18)

type tokenLedger interface {
	BalanceOf(asset, owner common.Address) (*big.Int, error)
	TotalSupply(asset common.Address) (*big.Int, error)
	Transfer(asset, from, to common.Address, amount *big.Int) error
	TransferFrom(asset, spender, from, to common.Address, amount *big.Int) error
	Mint(asset, minter, to common.Address, amount *big.Int) error
	Burn(asset, burner, from common.Address, amount *big.Int) error
}

// Config describes one vault.
type Config struct {
	// Address holds idle want and is the minter of the share token.
	Address    common.Address
	Want       common.Address
	ShareToken common.Address
	// Farm is the only account allowed to deposit and withdraw.
	Farm  common.Address
	Owner common.Address
	// FeeRecipient receives withdraw fees.
	FeeRecipient common.Address

	DepositCap  *big.Int
	WithdrawFee uint64
	MinDeposit  *big.Int
}

// Params is the mutable state of a vault.
type Params struct {
	Strategy    common.Address
	DepositCap  *big.Int
	WithdrawFee uint64
	MinDeposit  *big.Int
}

func (p *Params) normalise() {
	if p.DepositCap == nil {
		p.DepositCap = big.NewInt(0)
	}
	if p.MinDeposit == nil {
		p.MinDeposit = big.NewInt(0)
	}
}

// Controller is the share-accounting vault for one want asset. It mediates
// every movement of want between the farm and the active strategy.
type Controller struct {
	cfg        Config
	ledger     tokenLedger
	strategies map[common.Address]strategy.Strategy
	state      nativecommon.Store
	emitter    events.Emitter
	guard      nativecommon.ReentrancyGuard
}

// New validates cfg and constructs the controller.
func New(cfg Config, ledger tokenLedger) (*Controller, error) {
	if cfg.Address == (common.Address{}) || cfg.Want == (common.Address{}) || cfg.ShareToken == (common.Address{}) || cfg.FeeRecipient == (common.Address{}) {
		return nil, fmt.Errorf("controller: %w", nativecommon.ErrZeroAddress)
	}
	if cfg.WithdrawFee > MaxWithdrawFee {
		return nil, ErrFeeTooHigh
	}
	if ledger == nil {
		return nil, errors.New("controller: ledger required")
	}
	return &Controller{
		cfg:        cfg,
		ledger:     ledger,
		strategies: make(map[common.Address]strategy.Strategy),
		emitter:    events.NoopEmitter{},
	}, nil
}

func (c *Controller) SetState(state nativecommon.Store) { c.state = state }

func (c *Controller) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	c.emitter = emitter
}

// SetFarm binds the farm once it has been constructed.
func (c *Controller) SetFarm(farm common.Address) { c.cfg.Farm = farm }

// RegisterStrategy makes a strategy resolvable by address. Registration does
// not activate it; see SetStrategy.
func (c *Controller) RegisterStrategy(s strategy.Strategy) {
	if s == nil {
		return
	}
	c.strategies[s.Address()] = s
}

func (c *Controller) Address() common.Address { return c.cfg.Address }
func (c *Controller) Want() common.Address { return c.cfg.Want }
func (c *Controller) ShareToken() common.Address { return c.cfg.ShareToken }

func (c *Controller) paramsKey() []byte { return nativecommon.Key("controller/params", c.cfg.Address) }

// Params returns the vault's current settings.
func (c *Controller) Params() (*Params, error) {
	if c.state == nil {
		return nil, errNilState
	}
	params := new(Params)
	ok, err := c.state.KVGet(c.paramsKey(), params)
	if err != nil {
		return nil, err
	}
	if !ok {
		params = &Params{
			DepositCap:  nativecommon.Clone(c.cfg.DepositCap),
			WithdrawFee: c.cfg.WithdrawFee,
			MinDeposit:  nativecommon.Clone(c.cfg.MinDeposit),
		}
	}
	params.normalise()
	return params, nil
}

func (c *Controller) storeParams(p *Params) error {
	return c.state.KVPut(c.paramsKey(), p)
}

// Strategy returns the active strategy, or nil when none is set.
func (c *Controller) Strategy() (strategy.Strategy, error) {
	params, err := c.Params()
	if err != nil {
		return nil, err
	}
	return c.resolve(params)
}

func (c *Controller) resolve(params *Params) (strategy.Strategy, error) {
	if params.Strategy == (common.Address{}) {
		return nil, nil
	}
	s, ok := c.strategies[params.Strategy]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, params.Strategy.Hex())
	}
	return s, nil
}

// Idle returns the want held by the controller itself.
func (c *Controller) Idle() (*big.Int, error) {
	return c.ledger.BalanceOf(c.cfg.Want, c.cfg.Address)
}

// Balance is idle want plus what the strategy reports.
func (c *Controller) Balance() (*big.Int, error) {
	params, err := c.Params()
	if err != nil {
		return nil, err
	}
	return c.balance(params)
}

func (c *Controller) balance(params *Params) (*big.Int, error) {
	idle, err := c.Idle()
	if err != nil {
		return nil, err
	}
	s, err := c.resolve(params)
	if err != nil || s == nil {
		return idle, err
	}
	held, err := s.BalanceOf()
	if err != nil {
		return nil, err
	}
	return idle.Add(idle, held), nil
}

// TotalShares returns the outstanding share supply.
func (c *Controller) TotalShares() (*big.Int, error) {
	return c.ledger.TotalSupply(c.cfg.ShareToken)
}

// SharesOf returns the shares held by account.
func (c *Controller) SharesOf(account common.Address) (*big.Int, error) {
	return c.ledger.BalanceOf(c.cfg.ShareToken, account)
}

// PricePerShare is the want backing one share scaled by 1e18.
func (c *Controller) PricePerShare() (*big.Int, error) {
	total, err := c.TotalShares()
	if err != nil {
		return nil, err
	}
	if total.Sign() == 0 {
		return new(big.Int).Set(precision), nil
	}
	value, err := c.Balance()
	if err != nil {
		return nil, err
	}
	return nativecommon.MulDiv(value, precision, total), nil
}

// AvailableDeposit returns the headroom under the deposit cap. The boolean
// is true when the vault is uncapped.
func (c *Controller) AvailableDeposit() (*big.Int, bool, error) {
	params, err := c.Params()
	if err != nil {
		return nil, false, err
	}
	if params.DepositCap.Sign() == 0 {
		return nil, true, nil
	}
	value, err := c.balance(params)
	if err != nil {
		return nil, false, err
	}
	headroom := new(big.Int).Sub(params.DepositCap, value)
	if headroom.Sign() < 0 {
		headroom.SetInt64(0)
	}
	return headroom, false, nil
}

// Deposit pulls amount of want from the farm, mints shares to it and pushes
// the funds into the strategy. user is recorded for the event only.
func (c *Controller) Deposit(caller, user common.Address, amount *big.Int) (*big.Int, error) {
	if err := c.onlyFarm(caller); err != nil {
		return nil, err
	}
	if !nativecommon.Positive(amount) {
		return nil, nativecommon.ErrZeroAmount
	}
	if err := c.guard.Enter(); err != nil {
		return nil, err
	}
	defer c.guard.Exit()
	params, err := c.Params()
	if err != nil {
		return nil, err
	}
	s, err := c.resolve(params)
	if err != nil {
		return nil, err
	}
	if s != nil {
		paused, err := s.Paused()
		if err != nil {
			return nil, err
		}
		if paused {
			return nil, ErrStrategyPaused
		}
	}
	if amount.Cmp(params.MinDeposit) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, amount, params.MinDeposit)
	}
	if s != nil {
		if err := s.BeforeMovement(c.cfg.Address); err != nil {
			return nil, err
		}
	}
	before, err := c.balance(params)
	if err != nil {
		return nil, err
	}
	if params.DepositCap.Sign() > 0 && new(big.Int).Add(before, amount).Cmp(params.DepositCap) > 0 {
		return nil, fmt.Errorf("%w: cap %s", ErrDepositCapExceeded, params.DepositCap)
	}
	total, err := c.TotalShares()
	if err != nil {
		return nil, err
	}
	var shares *big.Int
	switch {
	case total.Sign() == 0:
		shares = new(big.Int).Set(amount)
	case before.Sign() == 0:
		return nil, ErrInsolvent
	default:
		shares = nativecommon.MulDiv(amount, total, before)
	}
	if shares.Sign() == 0 {
		return nil, ErrZeroShares
	}

	if err := c.ledger.TransferFrom(c.cfg.Want, c.cfg.Address, caller, c.cfg.Address, amount); err != nil {
		return nil, err
	}
	if err := c.ledger.Mint(c.cfg.ShareToken, c.cfg.Address, caller, shares); err != nil {
		return nil, err
	}
	if err := c.earn(s); err != nil {
		return nil, err
	}
	c.emitter.Emit(events.VaultDeposit{Controller: c.cfg.Address, Account: user, Amount: nativecommon.Clone(amount), Shares: shares})
	return shares, nil
}

// Withdraw burns shares held by the farm and sends the proportional want,
// less the withdraw fee, to recipient. It returns the amount recipient
// received.
func (c *Controller) Withdraw(caller, recipient common.Address, shares *big.Int) (*big.Int, error) {
	if err := c.onlyFarm(caller); err != nil {
		return nil, err
	}
	if !nativecommon.Positive(shares) {
		return nil, ErrInsufficientShares
	}
	if recipient == (common.Address{}) {
		return nil, fmt.Errorf("controller: withdraw: %w", nativecommon.ErrZeroAddress)
	}
	if err := c.guard.Enter(); err != nil {
		return nil, err
	}
	defer c.guard.Exit()
	held, err := c.SharesOf(caller)
	if err != nil {
		return nil, err
	}
	if shares.Cmp(held) > 0 {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrInsufficientShares, held, shares)
	}
	params, err := c.Params()
	if err != nil {
		return nil, err
	}
	s, err := c.resolve(params)
	if err != nil {
		return nil, err
	}
	if s != nil {
		if err := s.BeforeMovement(c.cfg.Address); err != nil {
			return nil, err
		}
	}
	value, err := c.balance(params)
	if err != nil {
		return nil, err
	}
	total, err := c.TotalShares()
	if err != nil {
		return nil, err
	}
	owed := nativecommon.MulDiv(shares, value, total)
	if err := c.ledger.Burn(c.cfg.ShareToken, c.cfg.Address, caller, shares); err != nil {
		return nil, err
	}

	idle, err := c.Idle()
	if err != nil {
		return nil, err
	}
	if idle.Cmp(owed) < 0 && s != nil {
		if _, err := s.Withdraw(c.cfg.Address, new(big.Int).Sub(owed, idle)); err != nil {
			return nil, err
		}
		if idle, err = c.Idle(); err != nil {
			return nil, err
		}
	}
	paid := nativecommon.Min(owed, idle)
	fee := nativecommon.ApplyBps(paid, params.WithdrawFee)
	if fee.Sign() > 0 {
		if err := c.ledger.Transfer(c.cfg.Want, c.cfg.Address, c.cfg.FeeRecipient, fee); err != nil {
			return nil, err
		}
	}
	net := new(big.Int).Sub(paid, fee)
	if net.Sign() > 0 {
		if err := c.ledger.Transfer(c.cfg.Want, c.cfg.Address, recipient, net); err != nil {
			return nil, err
		}
	}
	c.emitter.Emit(events.VaultWithdraw{Controller: c.cfg.Address, Account: recipient, Shares: nativecommon.Clone(shares), Amount: net, Fee: fee})
	return net, nil
}

// Earn pushes idle want into the active strategy.
func (c *Controller) Earn() error {
	if c.state == nil {
		return errNilState
	}
	if err := c.guard.Enter(); err != nil {
		return err
	}
	defer c.guard.Exit()
	s, err := c.Strategy()
	if err != nil {
		return err
	}
	return c.earn(s)
}

func (c *Controller) earn(s strategy.Strategy) error {
	if s == nil {
		return nil
	}
	paused, err := s.Paused()
	if err != nil || paused {
		return err
	}
	idle, err := c.Idle()
	if err != nil {
		return err
	}
	if idle.Sign() == 0 {
		return nil
	}
	if err := c.ledger.Transfer(c.cfg.Want, c.cfg.Address, s.Address(), idle); err != nil {
		return err
	}
	return s.Deposit(c.cfg.Address)
}

// SetStrategy activates a registered strategy. The current strategy must have
// nothing deployed; whatever it still holds is retired back to the vault and
// deposited into the new one.
func (c *Controller) SetStrategy(caller, next common.Address) error {
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	if err := c.guard.Enter(); err != nil {
		return err
	}
	defer c.guard.Exit()
	params, err := c.Params()
	if err != nil {
		return err
	}
	if params.Strategy == next {
		return nativecommon.ErrSameValue
	}
	nextStrategy, ok := c.strategies[next]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, next.Hex())
	}
	if nextStrategy.Want() != c.cfg.Want {
		return ErrWantMismatch
	}
	current, err := c.resolve(params)
	if err != nil {
		return err
	}
	if current != nil {
		deployed, err := current.Deployed()
		if err != nil {
			return err
		}
		if deployed.Sign() != 0 {
			return fmt.Errorf("%w: %s deployed", ErrStrategyHasDeposits, deployed)
		}
		if _, err := current.Retire(c.cfg.Address); err != nil {
			return err
		}
	}
	previous := params.Strategy
	params.Strategy = next
	if err := c.storeParams(params); err != nil {
		return err
	}
	if err := c.earn(nextStrategy); err != nil {
		return err
	}
	c.emitter.Emit(events.NewStrategy{Controller: c.cfg.Address, Previous: previous, Strategy: next})
	return nil
}

// SetDepositCap updates the cap on total vault value. Zero removes the cap.
func (c *Controller) SetDepositCap(caller common.Address, limit *big.Int) error {
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	if limit == nil || limit.Sign() < 0 {
		return fmt.Errorf("controller: deposit cap must not be negative")
	}
	params, err := c.Params()
	if err != nil {
		return err
	}
	if params.DepositCap.Cmp(limit) == 0 {
		return nativecommon.ErrSameValue
	}
	previous := params.DepositCap
	params.DepositCap = new(big.Int).Set(limit)
	if err := c.storeParams(params); err != nil {
		return err
	}
	c.emitter.Emit(events.NewDepositCap{Controller: c.cfg.Address, Previous: previous, Cap: new(big.Int).Set(limit)})
	return nil
}

// SetWithdrawFee updates the fee retained on withdrawals.
func (c *Controller) SetWithdrawFee(caller common.Address, fee uint64) error {
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	if fee > MaxWithdrawFee {
		return ErrFeeTooHigh
	}
	params, err := c.Params()
	if err != nil {
		return err
	}
	if params.WithdrawFee == fee {
		return nativecommon.ErrSameValue
	}
	params.WithdrawFee = fee
	if err := c.storeParams(params); err != nil {
		return err
	}
	c.emitter.Emit(events.ParamUpdated{Module: c.cfg.Address, Name: "withdrawFee", Value: fmt.Sprint(fee)})
	return nil
}

// SetMinDeposit updates the smallest accepted deposit.
func (c *Controller) SetMinDeposit(caller common.Address, amount *big.Int) error {
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("controller: minimum deposit must not be negative")
	}
	params, err := c.Params()
	if err != nil {
		return err
	}
	if params.MinDeposit.Cmp(amount) == 0 {
		return nativecommon.ErrSameValue
	}
	params.MinDeposit = new(big.Int).Set(amount)
	if err := c.storeParams(params); err != nil {
		return err
	}
	c.emitter.Emit(events.ParamUpdated{Module: c.cfg.Address, Name: "minDeposit", Value: amount.String()})
	return nil
}

func (c *Controller) onlyFarm(caller common.Address) error {
	if c.state == nil {
		return errNilState
	}
	if caller != c.cfg.Farm || caller == (common.Address{}) {
		return fmt.Errorf("controller %s: %w", c.cfg.Address.Hex(), nativecommon.ErrUnauthorized)
	}
	return nil
}

func (c *Controller) onlyOwner(caller common.Address) error {
	if c.state == nil {
		return errNilState
	}
	if caller != c.cfg.Owner {
		return fmt.Errorf("controller %s: %w", c.cfg.Address.Hex(), nativecommon.ErrUnauthorized)
	}
	return nil
}
