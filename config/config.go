package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultOperator is the operator account written to freshly created
// configuration files.
const DefaultOperator = "0x000000000000000000000000000000000000a11c"

type Config struct {
	Chain      Chain      `toml:"chain"`
	Farm       Farm       `toml:"farm"`
	PriceGuard PriceGuard `toml:"price_guard"`
	Fees       Fees       `toml:"fees"`
	Lending    Lending    `toml:"lending"`
	Assets     []Asset    `toml:"assets"`
	Feeds      []Feed     `toml:"feeds"`
	AMMPools   []AMMPool  `toml:"amm_pools"`
	Vaults     []Vault    `toml:"vaults"`
	Server     Server     `toml:"server"`
	Storage    Storage    `toml:"storage"`
	Log        Log        `toml:"log"`
}

// Load loads the configuration from the given path, writing the default
// configuration there first when the file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	// Scalars fall back to the defaults; lists come from the file only.
	cfg := Default()
	cfg.Assets, cfg.Feeds, cfg.AMMPools, cfg.Vaults = nil, nil, nil, nil
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a single-vault configuration suitable for local runs.
func Default() *Config {
	return &Config{
		Chain: Chain{BlockIntervalSeconds: 2, StartHeight: 1, StartTime: 1_700_000_000, Operator: DefaultOperator},
		Farm: Farm{
			RewardSymbol:          "VAULT",
			EmissionPerBlock:      "1000000000000000000",
			ReferralCommissionBps: 100,
		},
		PriceGuard: PriceGuard{MaxPriceOffsetSeconds: 3_600, SlippageBps: 300},
		Fees:       Fees{TreasurySymbol: "USDC", Treasury: "0x000000000000000000000000000000000000fee5"},
		Lending: Lending{
			MaxLTVBps:               7_500,
			LiquidationThresholdBps: 8_000,
			ReserveFactorBps:        1_000,
			IncentiveSymbol:         "LEND",
			IncentivePerBlock:       "100000000000000000",
			BaseRateBps:             200,
			Slope1Bps:               1_500,
			Slope2Bps:               6_000,
			KinkBps:                 8_000,
		},
		Assets: []Asset{
			{Symbol: "DAI", Decimals: 18},
			{Symbol: "USDC", Decimals: 6},
		},
		Feeds: []Feed{
			{Symbol: "DAI", Decimals: 8, Price: "100000000"},
			{Symbol: "USDC", Decimals: 8, Price: "100000000"},
			{Symbol: "LEND", Decimals: 8, Price: "50000000"},
		},
		AMMPools: []AMMPool{
			{TokenA: "LEND", TokenB: "DAI", FeeBps: 30, ReserveA: "2000000000000000000000000", ReserveB: "1000000000000000000000000"},
			{TokenA: "DAI", TokenB: "USDC", FeeBps: 5, ReserveA: "1000000000000000000000000", ReserveB: "1000000000000"},
		},
		Vaults: []Vault{{
			Want:           "DAI",
			Weighing:       1,
			WithdrawFeeBps: 10,
			Strategy: &Strategy{
				BorrowRateBps:           5_000,
				BorrowRateMaxBps:        6_000,
				BorrowDepth:             3,
				BorrowDepthMax:          5,
				MinLeverage:             "1000000000000000000",
				RatioForFullWithdrawBps: 9_000,
				PerformanceFeeBps:       1_000,
				MaxDeleverageIterations: 32,
			},
		}},
		Server:  Server{ListenAddress: ":8090", JWTSecretEnv: "YIELDVAULT_JWT_SECRET", RateLimitPerSecond: 20, RateLimitBurst: 40},
		Storage: Storage{Backend: "leveldb", DataDir: "./yieldvault-data", IndexPath: "./yieldvault-data/events.db"},
		Log:     Log{Env: "local", Level: "info", MaxSizeMB: 100, MaxBackups: 3},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// ParseAmount parses a non-negative base-10 integer. Empty means zero.
func ParseAmount(value string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", value)
	}
	return amount, nil
}

// ParseAddress parses a 0x-prefixed hex account address.
func ParseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", value)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("address %q must not be zero", value)
	}
	return addr, nil
}

// OperatorAddress returns the parsed operator account.
func (c *Config) OperatorAddress() (common.Address, error) {
	return ParseAddress(c.Chain.Operator)
}

// Asset looks up an asset by symbol.
func (c *Config) Asset(symbol string) (Asset, bool) {
	for _, asset := range c.Assets {
		if strings.EqualFold(asset.Symbol, symbol) {
			return asset, true
		}
	}
	return Asset{}, false
}
