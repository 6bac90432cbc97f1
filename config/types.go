package config

// Chain controls the block clock and the operator account.
type Chain struct {
	// BlockIntervalSeconds is how far the clock advances per produced block.
	BlockIntervalSeconds uint64 `toml:"BlockIntervalSeconds"`
	StartHeight          uint64 `toml:"StartHeight"`
	StartTime            uint64 `toml:"StartTime"`
	// Operator owns every component and updates the manual price feeds.
	Operator string `toml:"Operator"`
}

// Farm configures reward emission.
type Farm struct {
	RewardSymbol          string `toml:"RewardSymbol"`
	EmissionPerBlock      string `toml:"EmissionPerBlock"`
	ReferralCommissionBps uint64 `toml:"ReferralCommissionBps"`
	StartBlock            uint64 `toml:"StartBlock"`
}

// PriceGuard configures oracle freshness and slippage tolerance.
type PriceGuard struct {
	MaxPriceOffsetSeconds uint64 `toml:"MaxPriceOffsetSeconds"`
	SlippageBps           uint64 `toml:"SlippageBps"`
}

// Fees configures where performance and withdraw fees end up.
type Fees struct {
	TreasurySymbol string `toml:"TreasurySymbol"`
	Treasury       string `toml:"Treasury"`
}

// Lending configures the lending venue shared by every leveraged strategy.
type Lending struct {
	MaxLTVBps               uint64 `toml:"MaxLTVBps"`
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	ReserveFactorBps        uint64 `toml:"ReserveFactorBps"`
	IncentiveSymbol         string `toml:"IncentiveSymbol"`
	IncentivePerBlock       string `toml:"IncentivePerBlock"`
	BaseRateBps             uint64 `toml:"BaseRateBps"`
	Slope1Bps               uint64 `toml:"Slope1Bps"`
	Slope2Bps               uint64 `toml:"Slope2Bps"`
	KinkBps                 uint64 `toml:"KinkBps"`
}

// Asset registers a token on the ledger. Addresses are derived from the
// symbol.
type Asset struct {
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
}

// Feed seeds a manual price feed for an asset.
type Feed struct {
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
	Price    string `toml:"Price"`
}

// AMMPool seeds a constant-product pool with operator liquidity.
type AMMPool struct {
	TokenA   string `toml:"TokenA"`
	TokenB   string `toml:"TokenB"`
	FeeBps   uint64 `toml:"FeeBps"`
	ReserveA string `toml:"ReserveA"`
	ReserveB string `toml:"ReserveB"`
}

// Strategy configures a leveraged lending strategy for a vault.
type Strategy struct {
	BorrowRateBps           uint64 `toml:"BorrowRateBps"`
	BorrowRateMaxBps        uint64 `toml:"BorrowRateMaxBps"`
	BorrowDepth             uint64 `toml:"BorrowDepth"`
	BorrowDepthMax          uint64 `toml:"BorrowDepthMax"`
	MinLeverage             string `toml:"MinLeverage"`
	RatioForFullWithdrawBps uint64 `toml:"RatioForFullWithdrawBps"`
	PerformanceFeeBps       uint64 `toml:"PerformanceFeeBps"`
	MaxDeleverageIterations uint64 `toml:"MaxDeleverageIterations"`
}

// Vault creates a controller, its farm pool and optionally a strategy.
type Vault struct {
	Want           string    `toml:"Want"`
	Weighing       uint64    `toml:"Weighing"`
	DepositCap     string    `toml:"DepositCap"`
	WithdrawFeeBps uint64    `toml:"WithdrawFeeBps"`
	MinDeposit     string    `toml:"MinDeposit"`
	Strategy       *Strategy `toml:"Strategy,omitempty"`
}

// Server configures the HTTP API.
type Server struct {
	ListenAddress string `toml:"ListenAddress"`
	// JWTSecretEnv names the environment variable holding the HMAC secret.
	JWTSecretEnv       string  `toml:"JWTSecretEnv"`
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`
}

// Storage selects the state backend and the event index location.
type Storage struct {
	// Backend is "memory" or "leveldb".
	Backend   string `toml:"Backend"`
	DataDir   string `toml:"DataDir"`
	IndexPath string `toml:"IndexPath"`
}

// Log configures structured logging.
type Log struct {
	Env        string `toml:"Env"`
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
}
