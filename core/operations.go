package core

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/config"
	nativecommon "yieldvault/native/common"
	"yieldvault/native/controller"
	"yieldvault/native/farm"
	"yieldvault/native/strategy"
)

// Vault groups a controller with the strategies registered for it. Its ID is
// also its farm pool id.
type Vault struct {
	ID         uint64
	Symbol     string
	Want       common.Address
	Controller *controller.Controller

	weighing   uint64
	strategy   *config.Strategy
	strategies []*strategy.Leveraged
}

// VaultInfo is a read-only summary of a vault.
type VaultInfo struct {
	ID             uint64         `json:"id"`
	Symbol         string         `json:"symbol"`
	Want           common.Address `json:"want"`
	Controller     common.Address `json:"controller"`
	ShareToken     common.Address `json:"shareToken"`
	Strategy       common.Address `json:"strategy"`
	Weighing       uint64         `json:"weighing"`
	Balance        *big.Int       `json:"balance"`
	TotalShares    *big.Int       `json:"totalShares"`
	PricePerShare  *big.Int       `json:"pricePerShare"`
	StrategyPaused bool           `json:"strategyPaused"`
}

// UserInfo is a user's position in one farm pool.
type UserInfo struct {
	Shares        *big.Int `json:"shares"`
	Claimable     *big.Int `json:"claimable"`
	PendingReward *big.Int `json:"pendingReward"`
	// Value is the want the shares would redeem for before fees.
	Value *big.Int `json:"value"`
}

func (p *Protocol) vault(pid uint64) (*Vault, error) {
	if pid >= uint64(len(p.vaults)) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVault, pid)
	}
	return p.vaults[pid], nil
}

func (p *Protocol) leveraged(pid uint64) (*strategy.Leveraged, error) {
	v, err := p.vault(pid)
	if err != nil {
		return nil, err
	}
	active, err := v.Controller.Strategy()
	if err != nil {
		return nil, err
	}
	s, ok := active.(*strategy.Leveraged)
	if !ok || s == nil {
		return nil, fmt.Errorf("%w: vault %d has no active strategy", ErrUnknownVault, pid)
	}
	return s, nil
}

// Asset resolves a configured symbol to its ledger address.
func (p *Protocol) Asset(symbol string) (common.Address, error) {
	addr, ok := p.assets[normaliseSymbol(symbol)]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	return addr, nil
}

// Symbols lists every known asset symbol in order.
func (p *Protocol) Symbols() []string {
	out := make([]string, 0, len(p.assets))
	for symbol := range p.assets {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Deposit deposits amount of the pool's want for user through the farm.
func (p *Protocol) Deposit(user common.Address, pid uint64, amount *big.Int, referrer common.Address) (shares *big.Int, err error) {
	err = p.Execute("farm", "deposit", func() error {
		shares, err = p.farm.Deposit(user, pid, amount, referrer)
		return err
	})
	return shares, err
}

// DepositAll deposits user's whole want balance up to the vault's headroom.
func (p *Protocol) DepositAll(user common.Address, pid uint64, referrer common.Address) (shares *big.Int, err error) {
	err = p.Execute("farm", "depositAll", func() error {
		shares, err = p.farm.DepositAll(user, pid, referrer)
		return err
	})
	return shares, err
}

// Withdraw redeems shares for user and returns the want received.
func (p *Protocol) Withdraw(user common.Address, pid uint64, shares *big.Int) (amount *big.Int, err error) {
	err = p.Execute("farm", "withdraw", func() error {
		amount, err = p.farm.Withdraw(user, pid, shares)
		return err
	})
	return amount, err
}

// Harvest pays user's pending farm reward.
func (p *Protocol) Harvest(user common.Address, pid uint64) (reward *big.Int, err error) {
	err = p.Execute("farm", "harvest", func() error {
		reward, err = p.farm.Harvest(user, pid)
		return err
	})
	return reward, err
}

// EmergencyWithdraw redeems every share of user forfeiting rewards.
func (p *Protocol) EmergencyWithdraw(user common.Address, pid uint64) (amount *big.Int, err error) {
	err = p.Execute("farm", "emergencyWithdraw", func() error {
		amount, err = p.farm.EmergencyWithdraw(user, pid)
		return err
	})
	return amount, err
}

// MassUpdatePools brings every farm pool up to the current block.
func (p *Protocol) MassUpdatePools() error {
	return p.Execute("farm", "massUpdatePools", p.farm.MassUpdatePools)
}

// HarvestStrategy runs the active strategy's harvest for vault pid. Anyone
// may call it.
func (p *Protocol) HarvestStrategy(caller common.Address, pid uint64) error {
	return p.Execute("strategy", "harvest", func() error {
		s, err := p.leveraged(pid)
		if err != nil {
			return err
		}
		return s.Harvest(caller)
	})
}

// Earn pushes the vault's idle want into its strategy.
func (p *Protocol) Earn(pid uint64) error {
	return p.Execute("controller", "earn", func() error {
		v, err := p.vault(pid)
		if err != nil {
			return err
		}
		return v.Controller.Earn()
	})
}

// RegisterStrategy builds a new leveraged strategy for vault pid and makes
// it available to SetStrategy. Only the operator may register strategies.
func (p *Protocol) RegisterStrategy(caller common.Address, pid uint64, params config.Strategy) (common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vault(pid)
	if err != nil {
		return common.Address{}, err
	}
	var addr common.Address
	count := len(v.strategies)
	err = p.execute("core", "registerStrategy", func() error {
		if caller != p.operator {
			return nativecommon.ErrUnauthorized
		}
		s, err := p.addStrategy(v, params)
		if err != nil {
			return err
		}
		addr = s.Address()
		return nil
	})
	if err != nil {
		v.strategies = v.strategies[:count]
		return common.Address{}, err
	}
	return addr, nil
}

// SetStrategy migrates vault pid to a registered strategy.
func (p *Protocol) SetStrategy(caller common.Address, pid uint64, next common.Address) error {
	return p.Execute("controller", "setStrategy", func() error {
		v, err := p.vault(pid)
		if err != nil {
			return err
		}
		return v.Controller.SetStrategy(caller, next)
	})
}

// ExecuteVault runs fn against vault pid's controller as one transaction.
// It backs the controller's operator setters.
func (p *Protocol) ExecuteVault(op string, pid uint64, fn func(*controller.Controller) error) error {
	return p.Execute("controller", op, func() error {
		v, err := p.vault(pid)
		if err != nil {
			return err
		}
		return fn(v.Controller)
	})
}

// ExecuteStrategy runs fn against vault pid's active strategy as one
// transaction. It backs panic, unpause, rebalance and the strategy setters.
func (p *Protocol) ExecuteStrategy(op string, pid uint64, fn func(*strategy.Leveraged) error) error {
	return p.Execute("strategy", op, func() error {
		s, err := p.leveraged(pid)
		if err != nil {
			return err
		}
		return fn(s)
	})
}

// ExecuteFarm runs fn against the farm as one transaction. It backs the
// farm's operator setters.
func (p *Protocol) ExecuteFarm(op string, fn func(*farm.Farm) error) error {
	return p.Execute("farm", op, func() error { return fn(p.farm) })
}

// ConvertFees swaps the fee manager's balance of symbol into the treasury
// asset and forwards it to the treasury.
func (p *Protocol) ConvertFees(symbol string) (out *big.Int, err error) {
	asset, err := p.Asset(symbol)
	if err != nil {
		return nil, err
	}
	err = p.Execute("feemanager", "convert", func() error {
		out, err = p.fees.Convert(asset)
		return err
	})
	return out, err
}

// UpdatePrice publishes a new answer on the manual feed of symbol at the
// current block time.
func (p *Protocol) UpdatePrice(caller common.Address, symbol string, answer *big.Int) error {
	asset, err := p.Asset(symbol)
	if err != nil {
		return err
	}
	return p.Execute("priceguard", "updatePrice", func() error {
		feed, ok := p.feeds[asset]
		if !ok {
			return fmt.Errorf("%w: no feed for %s", ErrUnknownAsset, symbol)
		}
		return feed.Update(caller, answer, p.time)
	})
}

// SetGuardParams updates the price guard's staleness and slippage bounds.
// Unchanged values are skipped.
func (p *Protocol) SetGuardParams(caller common.Address, maxPriceOffset, slippage uint64) error {
	return p.Execute("priceguard", "setParams", func() error {
		current, err := p.guard.Params()
		if err != nil {
			return err
		}
		if current.MaxPriceOffset == maxPriceOffset && current.SlippageRatio == slippage {
			return nativecommon.ErrSameValue
		}
		if current.MaxPriceOffset != maxPriceOffset {
			if err := p.guard.SetMaxPriceOffset(caller, maxPriceOffset); err != nil {
				return err
			}
		}
		if current.SlippageRatio != slippage {
			return p.guard.SetSlippageRatio(caller, slippage)
		}
		return nil
	})
}

// Fund mints amount of an operator-minted asset to account. Assets minted by
// protocol components cannot be funded.
func (p *Protocol) Fund(caller common.Address, symbol string, to common.Address, amount *big.Int) error {
	asset, err := p.Asset(symbol)
	if err != nil {
		return err
	}
	return p.Execute("token", "fund", func() error {
		return p.ledger.Mint(asset, caller, to, amount)
	})
}

// Approve sets spender's allowance over owner's balance of symbol.
func (p *Protocol) Approve(owner common.Address, symbol string, spender common.Address, amount *big.Int) error {
	asset, err := p.Asset(symbol)
	if err != nil {
		return err
	}
	return p.Execute("token", "approve", func() error {
		return p.ledger.Approve(asset, owner, spender, amount)
	})
}

// SetModulePaused toggles the pause switch of module. Only the operator may
// call it.
func (p *Protocol) SetModulePaused(caller common.Address, module string, paused bool) error {
	return p.Execute("core", "setPaused", func() error {
		if caller != p.operator {
			return nativecommon.ErrUnauthorized
		}
		return p.pauses.set(module, paused)
	})
}

// ModulePaused reports whether module is paused.
func (p *Protocol) ModulePaused(module string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pauses.IsPaused(module)
}

// Vaults summarises every vault.
func (p *Protocol) Vaults() ([]VaultInfo, error) {
	out := make([]VaultInfo, 0, len(p.vaults))
	err := p.View(func() error {
		for _, v := range p.vaults {
			info, err := p.vaultInfo(v)
			if err != nil {
				return err
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}

// VaultInfo summarises vault pid.
func (p *Protocol) VaultInfo(pid uint64) (info VaultInfo, err error) {
	err = p.View(func() error {
		v, err := p.vault(pid)
		if err != nil {
			return err
		}
		info, err = p.vaultInfo(v)
		return err
	})
	return info, err
}

func (p *Protocol) vaultInfo(v *Vault) (VaultInfo, error) {
	ctrl := v.Controller
	info := VaultInfo{ID: v.ID, Symbol: v.Symbol, Want: v.Want, Controller: ctrl.Address(), ShareToken: ctrl.ShareToken()}
	pool, err := p.farm.Pool(v.ID)
	if err != nil {
		return info, err
	}
	info.Weighing = pool.Weighing
	if info.Balance, err = ctrl.Balance(); err != nil {
		return info, err
	}
	if info.TotalShares, err = ctrl.TotalShares(); err != nil {
		return info, err
	}
	if info.PricePerShare, err = ctrl.PricePerShare(); err != nil {
		return info, err
	}
	active, err := ctrl.Strategy()
	if err != nil {
		return info, err
	}
	if active != nil {
		info.Strategy = active.Address()
		if info.StrategyPaused, err = active.Paused(); err != nil {
			return info, err
		}
	}
	return info, nil
}

// UserInfo returns user's farm position in pool pid.
func (p *Protocol) UserInfo(pid uint64, user common.Address) (info UserInfo, err error) {
	err = p.View(func() error {
		v, err := p.vault(pid)
		if err != nil {
			return err
		}
		pos, err := p.farm.Position(pid, user)
		if err != nil {
			return err
		}
		pending, err := p.farm.PendingReward(pid, user)
		if err != nil {
			return err
		}
		info = UserInfo{Shares: pos.Shares, Claimable: pos.Claimable, PendingReward: pending, Value: big.NewInt(0)}
		if pos.Shares.Sign() == 0 {
			return nil
		}
		balance, err := v.Controller.Balance()
		if err != nil {
			return err
		}
		total, err := v.Controller.TotalShares()
		if err != nil {
			return err
		}
		if total.Sign() > 0 {
			info.Value = nativecommon.MulDiv(pos.Shares, balance, total)
		}
		return nil
	})
	return info, err
}

// BalanceOf returns owner's ledger balance of symbol.
func (p *Protocol) BalanceOf(symbol string, owner common.Address) (balance *big.Int, err error) {
	asset, err := p.Asset(symbol)
	if err != nil {
		return nil, err
	}
	err = p.View(func() error {
		balance, err = p.ledger.BalanceOf(asset, owner)
		return err
	})
	return balance, err
}

// StrategyInfo returns the parameters and lending position of vault pid's
// active strategy.
func (p *Protocol) StrategyInfo(pid uint64) (params *strategy.Params, collateral, debt *big.Int, err error) {
	err = p.View(func() error {
		s, err := p.leveraged(pid)
		if err != nil {
			return err
		}
		if params, err = s.Params(); err != nil {
			return err
		}
		pos, err := s.Position()
		if err != nil {
			return err
		}
		collateral, debt = pos.Collateral, pos.Debt
		return nil
	})
	return params, collateral, debt, err
}
