package config

import (
	"errors"
	"fmt"
	"strings"
)

const (
	bpsDenominator           = 10_000
	maxReferralCommissionBps = 1_000
	maxWithdrawFeeBps        = 500
	maxPerformanceFeeBps     = 2_000
)

// Validate checks the configuration for internal consistency before any
// component is constructed from it.
func (c *Config) Validate() error {
	if c.Chain.BlockIntervalSeconds == 0 {
		return errors.New("chain: BlockIntervalSeconds must be positive")
	}
	if _, err := c.OperatorAddress(); err != nil {
		return fmt.Errorf("chain: Operator: %w", err)
	}

	symbols := make(map[string]struct{})
	for _, asset := range c.Assets {
		key := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if key == "" {
			return errors.New("assets: symbol required")
		}
		if _, dup := symbols[key]; dup {
			return fmt.Errorf("assets: duplicate symbol %s", key)
		}
		symbols[key] = struct{}{}
	}
	for _, minted := range []struct{ section, symbol string }{
		{"farm: RewardSymbol", c.Farm.RewardSymbol},
		{"lending: IncentiveSymbol", c.Lending.IncentiveSymbol},
	} {
		key := strings.ToUpper(strings.TrimSpace(minted.symbol))
		if key == "" {
			return fmt.Errorf("%s required", minted.section)
		}
		if _, dup := symbols[key]; dup {
			return fmt.Errorf("%s %s must not be listed under assets", minted.section, key)
		}
		symbols[key] = struct{}{}
	}
	known := func(symbol string) bool {
		_, ok := symbols[strings.ToUpper(strings.TrimSpace(symbol))]
		return ok
	}

	if _, err := ParseAmount(c.Farm.EmissionPerBlock); err != nil {
		return fmt.Errorf("farm: EmissionPerBlock: %w", err)
	}
	if c.Farm.ReferralCommissionBps > maxReferralCommissionBps {
		return fmt.Errorf("farm: ReferralCommissionBps %d exceeds %d", c.Farm.ReferralCommissionBps, maxReferralCommissionBps)
	}
	if c.PriceGuard.SlippageBps > bpsDenominator {
		return fmt.Errorf("price_guard: SlippageBps %d exceeds 100%%", c.PriceGuard.SlippageBps)
	}
	if !known(c.Fees.TreasurySymbol) {
		return fmt.Errorf("fees: unknown TreasurySymbol %s", c.Fees.TreasurySymbol)
	}
	if _, err := ParseAddress(c.Fees.Treasury); err != nil {
		return fmt.Errorf("fees: Treasury: %w", err)
	}

	l := c.Lending
	if l.MaxLTVBps == 0 || l.MaxLTVBps > l.LiquidationThresholdBps || l.LiquidationThresholdBps > bpsDenominator {
		return fmt.Errorf("lending: need 0 < MaxLTVBps (%d) <= LiquidationThresholdBps (%d) <= 10000", l.MaxLTVBps, l.LiquidationThresholdBps)
	}
	if l.ReserveFactorBps > bpsDenominator || l.KinkBps > bpsDenominator {
		return errors.New("lending: ReserveFactorBps and KinkBps must not exceed 10000")
	}
	if _, err := ParseAmount(l.IncentivePerBlock); err != nil {
		return fmt.Errorf("lending: IncentivePerBlock: %w", err)
	}

	feeds := make(map[string]struct{})
	for _, feed := range c.Feeds {
		if !known(feed.Symbol) {
			return fmt.Errorf("feeds: unknown asset %s", feed.Symbol)
		}
		price, err := ParseAmount(feed.Price)
		if err != nil || price.Sign() == 0 {
			return fmt.Errorf("feeds: %s: price must be positive", feed.Symbol)
		}
		feeds[strings.ToUpper(feed.Symbol)] = struct{}{}
	}
	for _, pool := range c.AMMPools {
		if !known(pool.TokenA) || !known(pool.TokenB) || strings.EqualFold(pool.TokenA, pool.TokenB) {
			return fmt.Errorf("amm_pools: invalid pair %s/%s", pool.TokenA, pool.TokenB)
		}
		if pool.FeeBps > 1_000 {
			return fmt.Errorf("amm_pools: %s/%s fee %d exceeds 10%%", pool.TokenA, pool.TokenB, pool.FeeBps)
		}
		for _, reserve := range []string{pool.ReserveA, pool.ReserveB} {
			amount, err := ParseAmount(reserve)
			if err != nil || amount.Sign() == 0 {
				return fmt.Errorf("amm_pools: %s/%s reserves must be positive", pool.TokenA, pool.TokenB)
			}
		}
	}

	wants := make(map[string]struct{})
	for i, vault := range c.Vaults {
		key := strings.ToUpper(strings.TrimSpace(vault.Want))
		if _, ok := c.Asset(key); !ok {
			return fmt.Errorf("vaults[%d]: want %s must be listed under assets", i, vault.Want)
		}
		if _, dup := wants[key]; dup {
			return fmt.Errorf("vaults[%d]: duplicate vault for %s", i, key)
		}
		wants[key] = struct{}{}
		if vault.WithdrawFeeBps > maxWithdrawFeeBps {
			return fmt.Errorf("vaults[%d]: WithdrawFeeBps %d exceeds %d", i, vault.WithdrawFeeBps, maxWithdrawFeeBps)
		}
		for name, value := range map[string]string{"DepositCap": vault.DepositCap, "MinDeposit": vault.MinDeposit} {
			if _, err := ParseAmount(value); err != nil {
				return fmt.Errorf("vaults[%d]: %s: %w", i, name, err)
			}
		}
		if vault.Strategy == nil {
			continue
		}
		if err := c.validateStrategy(*vault.Strategy, key, feeds); err != nil {
			return fmt.Errorf("vaults[%d].Strategy: %w", i, err)
		}
	}

	switch c.Storage.Backend {
	case "memory", "leveldb":
	default:
		return fmt.Errorf("storage: unsupported backend %q", c.Storage.Backend)
	}
	if c.Server.RateLimitPerSecond < 0 || c.Server.RateLimitBurst < 0 {
		return errors.New("server: rate limits must not be negative")
	}
	return nil
}

func (c *Config) validateStrategy(s Strategy, want string, feeds map[string]struct{}) error {
	if s.BorrowRateMaxBps >= c.Lending.MaxLTVBps {
		return fmt.Errorf("BorrowRateMaxBps %d must stay below lending MaxLTVBps %d", s.BorrowRateMaxBps, c.Lending.MaxLTVBps)
	}
	if s.BorrowRateBps > s.BorrowRateMaxBps || s.BorrowDepth > s.BorrowDepthMax {
		return errors.New("borrow rate and depth must not exceed their maximums")
	}
	if s.RatioForFullWithdrawBps > bpsDenominator {
		return errors.New("RatioForFullWithdrawBps exceeds 100%")
	}
	if s.PerformanceFeeBps > maxPerformanceFeeBps {
		return fmt.Errorf("PerformanceFeeBps %d exceeds %d", s.PerformanceFeeBps, maxPerformanceFeeBps)
	}
	if s.MaxDeleverageIterations == 0 {
		return errors.New("MaxDeleverageIterations must be positive")
	}
	if _, err := ParseAmount(s.MinLeverage); err != nil {
		return fmt.Errorf("MinLeverage: %w", err)
	}
	incentive := strings.ToUpper(c.Lending.IncentiveSymbol)
	for _, symbol := range []string{want, incentive} {
		if _, ok := feeds[symbol]; !ok {
			return fmt.Errorf("harvest needs a price feed for %s", symbol)
		}
	}
	if !c.hasPool(incentive, want) {
		return fmt.Errorf("harvest needs an amm pool for %s/%s", incentive, want)
	}
	return nil
}

func (c *Config) hasPool(a, b string) bool {
	for _, pool := range c.AMMPools {
		if (strings.EqualFold(pool.TokenA, a) && strings.EqualFold(pool.TokenB, b)) ||
			(strings.EqualFold(pool.TokenA, b) && strings.EqualFold(pool.TokenB, a)) {
			return true
		}
	}
	return false
}
