package core

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/config"
	"yieldvault/native/amm"
	nativecommon "yieldvault/native/common"
	"yieldvault/native/controller"
	"yieldvault/native/farm"
	"yieldvault/native/feemanager"
	"yieldvault/native/lending"
	"yieldvault/native/priceguard"
	"yieldvault/native/referral"
	"yieldvault/native/strategy"
	"yieldvault/native/token"
)

var strategiesKey = nativecommon.Key("core/strategies")

// strategyRecord persists the construction parameters of every strategy so
// a resumed protocol can rebuild the same components.
type strategyRecord struct {
	Vault  uint64
	Params config.Strategy
}

// AssetAddress derives the ledger address of a configured asset symbol.
func AssetAddress(symbol string) common.Address {
	return nativecommon.ModuleAddress("asset/" + normaliseSymbol(symbol))
}

func shareSymbol(want string) string { return "YV" + normaliseSymbol(want) }

func normaliseSymbol(symbol string) string { return strings.ToUpper(strings.TrimSpace(symbol)) }

// wire constructs every component and binds it to state, pauses and the event
// buffer. It writes nothing.
func (p *Protocol) wire(cfg *config.Config) error {
	operator, err := cfg.OperatorAddress()
	if err != nil {
		return err
	}
	treasury, err := config.ParseAddress(cfg.Fees.Treasury)
	if err != nil {
		return err
	}
	emission, err := config.ParseAmount(cfg.Farm.EmissionPerBlock)
	if err != nil {
		return err
	}
	p.operator, p.treasury = operator, treasury

	for _, asset := range cfg.Assets {
		p.assets[normaliseSymbol(asset.Symbol)] = AssetAddress(asset.Symbol)
	}
	reward := AssetAddress(cfg.Farm.RewardSymbol)
	incentive := AssetAddress(cfg.Lending.IncentiveSymbol)
	p.assets[normaliseSymbol(cfg.Farm.RewardSymbol)] = reward
	p.assets[normaliseSymbol(cfg.Lending.IncentiveSymbol)] = incentive

	p.ledger = token.NewLedger()
	p.ledger.SetState(p.state)
	p.ledger.SetPauses(p.pauses)

	p.venue = lending.NewEngine(nativecommon.ModuleAddress("lending"), p.ledger, incentive)
	p.venue.SetState(p.state)
	p.venue.SetPauses(p.pauses)
	l := cfg.Lending
	p.venue.SetInterestModel(lending.NewInterestModelBps(l.BaseRateBps, l.Slope1Bps, l.Slope2Bps, l.KinkBps))

	p.router = amm.NewRouter(nativecommon.ModuleAddress("amm"), p.ledger)
	p.router.SetState(p.state)
	p.router.SetPauses(p.pauses)

	p.guard = priceguard.New(nativecommon.ModuleAddress("priceguard"), operator, p.ledger, priceguard.Params{
		MaxPriceOffset: cfg.PriceGuard.MaxPriceOffsetSeconds,
		SlippageRatio:  cfg.PriceGuard.SlippageBps,
	})
	p.guard.SetState(p.state)
	p.guard.SetEmitter(p.buffer)
	for _, feedCfg := range cfg.Feeds {
		asset := p.assets[normaliseSymbol(feedCfg.Symbol)]
		feed := priceguard.NewManualFeed(nativecommon.ModuleAddress("feed/"+normaliseSymbol(feedCfg.Symbol)), operator, feedCfg.Decimals)
		feed.SetState(p.state)
		p.guard.RegisterFeed(feed)
		p.feeds[asset] = feed
	}

	p.fees = feemanager.New(nativecommon.ModuleAddress("feemanager"), operator, p.assets[normaliseSymbol(cfg.Fees.TreasurySymbol)], treasury, p.ledger, p.router, p.guard)
	p.fees.SetState(p.state)
	p.fees.SetEmitter(p.buffer)

	farmAddr := nativecommon.ModuleAddress("farm")
	p.referrals = referral.New(nativecommon.ModuleAddress("referral"), farmAddr)
	p.referrals.SetState(p.state)
	p.referrals.SetEmitter(p.buffer)

	p.farm, err = farm.New(farm.Config{
		Address:                farmAddr,
		Owner:                  operator,
		RewardToken:            reward,
		EmissionPerBlock:       emission,
		ReferralCommissionRate: cfg.Farm.ReferralCommissionBps,
		StartBlock:             cfg.Farm.StartBlock,
	}, p.ledger, p.referrals)
	if err != nil {
		return err
	}
	p.farm.SetState(p.state)
	p.farm.SetPauses(p.pauses)
	p.farm.SetEmitter(p.buffer)

	for i, vaultCfg := range cfg.Vaults {
		v, err := p.wireVault(uint64(i), vaultCfg)
		if err != nil {
			return fmt.Errorf("core: vault %d: %w", i, err)
		}
		p.vaults = append(p.vaults, v)
	}
	return nil
}

func (p *Protocol) wireVault(id uint64, cfg config.Vault) (*Vault, error) {
	symbol := normaliseSymbol(cfg.Want)
	limit, err := config.ParseAmount(cfg.DepositCap)
	if err != nil {
		return nil, err
	}
	minimum, err := config.ParseAmount(cfg.MinDeposit)
	if err != nil {
		return nil, err
	}
	ctrl, err := controller.New(controller.Config{
		Address:      nativecommon.ModuleAddress("controller/" + symbol),
		Want:         p.assets[symbol],
		ShareToken:   AssetAddress(shareSymbol(symbol)),
		Farm:         p.farm.Address(),
		Owner:        p.operator,
		FeeRecipient: p.treasury,
		DepositCap:   limit,
		WithdrawFee:  cfg.WithdrawFeeBps,
		MinDeposit:   minimum,
	}, p.ledger)
	if err != nil {
		return nil, err
	}
	ctrl.SetState(p.state)
	ctrl.SetEmitter(p.buffer)
	p.farm.RegisterVault(ctrl)
	p.assets[shareSymbol(symbol)] = ctrl.ShareToken()
	return &Vault{ID: id, Symbol: symbol, Want: ctrl.Want(), Controller: ctrl, weighing: cfg.Weighing, strategy: cfg.Strategy}, nil
}

// newStrategy constructs the next leveraged strategy of v. Its address is
// derived from the vault symbol and its position in the vault's history.
func (p *Protocol) newStrategy(v *Vault, params config.Strategy) (*strategy.Leveraged, error) {
	minLeverage, err := config.ParseAmount(params.MinLeverage)
	if err != nil {
		return nil, err
	}
	s, err := strategy.NewLeveraged(strategy.Config{
		Address:                 nativecommon.ModuleAddress(fmt.Sprintf("strategy/%s/%d", v.Symbol, len(v.strategies))),
		Want:                    v.Want,
		Controller:              v.Controller.Address(),
		FeeManager:              p.fees.Address(),
		Owner:                   p.operator,
		RewardPath:              []common.Address{p.venue.IncentiveAsset(), v.Want},
		BorrowRate:              params.BorrowRateBps,
		BorrowRateMax:           params.BorrowRateMaxBps,
		BorrowDepth:             params.BorrowDepth,
		BorrowDepthMax:          params.BorrowDepthMax,
		MinLeverage:             minLeverage,
		RatioForFullWithdraw:    params.RatioForFullWithdrawBps,
		PerformanceFee:          params.PerformanceFeeBps,
		MaxDeleverageIterations: params.MaxDeleverageIterations,
	}, strategy.Dependencies{Ledger: p.ledger, Venue: p.venue, Router: p.router, Guard: p.guard})
	if err != nil {
		return nil, err
	}
	s.SetState(p.state)
	s.SetEmitter(p.buffer)
	s.SetBlockTime(p.time)
	v.Controller.RegisterStrategy(s)
	v.strategies = append(v.strategies, s)
	return s, nil
}

// addStrategy builds a strategy and records it so it survives restarts.
func (p *Protocol) addStrategy(v *Vault, params config.Strategy) (*strategy.Leveraged, error) {
	var records []strategyRecord
	if _, err := p.state.KVGet(strategiesKey, &records); err != nil {
		return nil, err
	}
	s, err := p.newStrategy(v, params)
	if err != nil {
		return nil, err
	}
	records = append(records, strategyRecord{Vault: v.ID, Params: params})
	if err := p.state.KVPut(strategiesKey, records); err != nil {
		v.strategies = v.strategies[:len(v.strategies)-1]
		return nil, err
	}
	return s, nil
}

func (p *Protocol) loadStrategies() error {
	var records []strategyRecord
	if _, err := p.state.KVGet(strategiesKey, &records); err != nil {
		return err
	}
	for _, record := range records {
		if record.Vault >= uint64(len(p.vaults)) {
			return fmt.Errorf("%w: %d", ErrUnknownVault, record.Vault)
		}
		if _, err := p.newStrategy(p.vaults[record.Vault], record.Params); err != nil {
			return err
		}
	}
	return nil
}

// genesis seeds assets, feeds, pools, markets, farm pools and strategies.
func (p *Protocol) genesis(cfg *config.Config) error {
	farmAddr := p.farm.Address()
	register := func(symbol string, decimals uint8, minter common.Address) error {
		return p.ledger.Register(token.Asset{Address: AssetAddress(symbol), Symbol: symbol, Decimals: decimals, Minter: minter})
	}
	for _, asset := range cfg.Assets {
		if err := register(asset.Symbol, asset.Decimals, p.operator); err != nil {
			return fmt.Errorf("register %s: %w", asset.Symbol, err)
		}
	}
	if err := register(cfg.Farm.RewardSymbol, 18, farmAddr); err != nil {
		return err
	}
	if err := register(cfg.Lending.IncentiveSymbol, 18, p.venue.Address()); err != nil {
		return err
	}
	for _, v := range p.vaults {
		decimals, err := p.ledger.Decimals(v.Want)
		if err != nil {
			return err
		}
		if err := register(shareSymbol(v.Symbol), decimals, v.Controller.Address()); err != nil {
			return err
		}
	}

	for _, feedCfg := range cfg.Feeds {
		asset := p.assets[normaliseSymbol(feedCfg.Symbol)]
		price, err := config.ParseAmount(feedCfg.Price)
		if err != nil {
			return err
		}
		feed := p.feeds[asset]
		if err := feed.Update(p.operator, price, p.time); err != nil {
			return err
		}
		if err := p.guard.SetPriceFeed(p.operator, asset, feed.Address()); err != nil {
			return err
		}
	}

	for _, pool := range cfg.AMMPools {
		a, b := p.assets[normaliseSymbol(pool.TokenA)], p.assets[normaliseSymbol(pool.TokenB)]
		reserveA, err := config.ParseAmount(pool.ReserveA)
		if err != nil {
			return err
		}
		reserveB, err := config.ParseAmount(pool.ReserveB)
		if err != nil {
			return err
		}
		if err := p.router.CreatePool(a, b, pool.FeeBps); err != nil {
			return fmt.Errorf("pool %s/%s: %w", pool.TokenA, pool.TokenB, err)
		}
		if err := p.mintGenesis(a, p.operator, reserveA); err != nil {
			return err
		}
		if err := p.mintGenesis(b, p.operator, reserveB); err != nil {
			return err
		}
		if _, err := p.router.AddLiquidity(p.operator, a, b, reserveA, reserveB); err != nil {
			return fmt.Errorf("seed %s/%s: %w", pool.TokenA, pool.TokenB, err)
		}
	}

	incentive, err := config.ParseAmount(cfg.Lending.IncentivePerBlock)
	if err != nil {
		return err
	}
	for _, v := range p.vaults {
		if err := p.venue.CreateMarket(v.Want, lending.MarketParams{
			MaxLTV:               cfg.Lending.MaxLTVBps,
			LiquidationThreshold: cfg.Lending.LiquidationThresholdBps,
			ReserveFactor:        cfg.Lending.ReserveFactorBps,
			IncentivePerBlock:    incentive,
		}); err != nil {
			return fmt.Errorf("market %s: %w", v.Symbol, err)
		}
		pid, err := p.farm.AddPool(p.operator, v.Want, v.Controller.Address(), v.weighing)
		if err != nil {
			return fmt.Errorf("farm pool %s: %w", v.Symbol, err)
		}
		if pid != v.ID {
			return fmt.Errorf("farm pool %s: id %d, want %d", v.Symbol, pid, v.ID)
		}
		if v.strategy == nil {
			continue
		}
		s, err := p.addStrategy(v, *v.strategy)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", v.Symbol, err)
		}
		if err := v.Controller.SetStrategy(p.operator, s.Address()); err != nil {
			return err
		}
	}
	return p.state.KVPut(clockKey, clockRecord{Height: p.height, Time: p.time})
}

// mintGenesis mints on behalf of the asset's minter. It is only used while
// seeding state.
func (p *Protocol) mintGenesis(asset, to common.Address, amount *big.Int) error {
	meta, err := p.ledger.Asset(asset)
	if err != nil {
		return err
	}
	return p.ledger.Mint(asset, meta.Minter, to, amount)
}
