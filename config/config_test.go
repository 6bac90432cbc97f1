package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config to be written: %v", err)
	}
	if cfg.Farm.RewardSymbol != "VAULT" || len(cfg.Vaults) != 1 {
		t.Fatalf("unexpected default config: %+v", cfg)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.Assets) != len(cfg.Assets) || len(reloaded.AMMPools) != len(cfg.AMMPools) {
		t.Fatalf("round trip changed lists: %+v", reloaded)
	}
	if reloaded.Vaults[0].Strategy == nil || reloaded.Vaults[0].Strategy.BorrowRateMaxBps != 6_000 {
		t.Fatalf("strategy lost in round trip: %+v", reloaded.Vaults[0])
	}
}

func TestLoadListsReplaceDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `[chain]
Operator = "0x00000000000000000000000000000000000000aa"

[fees]
TreasurySymbol = "WETH"
Treasury = "0x00000000000000000000000000000000000000bb"

[[assets]]
Symbol = "WETH"
Decimals = 18

[[vaults]]
Want = "WETH"
Weighing = 2

[storage]
Backend = "memory"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Assets) != 1 || cfg.Assets[0].Symbol != "WETH" {
		t.Fatalf("expected file assets only, got %+v", cfg.Assets)
	}
	if len(cfg.Vaults) != 1 || cfg.Vaults[0].Strategy != nil {
		t.Fatalf("expected plain vault, got %+v", cfg.Vaults)
	}
	if cfg.Chain.BlockIntervalSeconds != 2 || cfg.Lending.MaxLTVBps != 7_500 {
		t.Fatalf("expected scalar defaults to survive: %+v", cfg)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[farm]\nEmission = \"1\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "farm.Emission") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"borrow rate reaches ltv", func(c *Config) { c.Vaults[0].Strategy.BorrowRateMaxBps = 7_500 }, "BorrowRateMaxBps"},
		{"rate above max", func(c *Config) { c.Vaults[0].Strategy.BorrowRateBps = 6_500 }, "maximums"},
		{"unknown want", func(c *Config) { c.Vaults[0].Want = "WBTC" }, "want WBTC"},
		{"withdraw fee", func(c *Config) { c.Vaults[0].WithdrawFeeBps = 501 }, "WithdrawFeeBps"},
		{"referral rate", func(c *Config) { c.Farm.ReferralCommissionBps = 1_001 }, "ReferralCommissionBps"},
		{"ltv above threshold", func(c *Config) { c.Lending.MaxLTVBps = 8_500 }, "lending"},
		{"duplicate asset", func(c *Config) { c.Assets = append(c.Assets, Asset{Symbol: "dai", Decimals: 18}) }, "duplicate symbol"},
		{"reward listed", func(c *Config) { c.Assets = append(c.Assets, Asset{Symbol: "VAULT", Decimals: 18}) }, "RewardSymbol"},
		{"unknown feed", func(c *Config) { c.Feeds[0].Symbol = "XYZ" }, "feeds"},
		{"missing harvest pool", func(c *Config) { c.AMMPools = c.AMMPools[1:] }, "amm pool"},
		{"bad emission", func(c *Config) { c.Farm.EmissionPerBlock = "-1" }, "EmissionPerBlock"},
		{"bad operator", func(c *Config) { c.Chain.Operator = "nobody" }, "Operator"},
		{"backend", func(c *Config) { c.Storage.Backend = "redis" }, "backend"},
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseHelpers(t *testing.T) {
	amount, err := ParseAmount("1_000_000")
	if err != nil || amount.Int64() != 1_000_000 {
		t.Fatalf("parse amount: %v %v", amount, err)
	}
	if zero, err := ParseAmount(" "); err != nil || zero.Sign() != 0 {
		t.Fatalf("blank amount should be zero: %v %v", zero, err)
	}
	if _, err := ParseAmount("1.5"); err == nil {
		t.Fatalf("expected fractional amount to fail")
	}
	if _, err := ParseAddress("0x0000000000000000000000000000000000000000"); err == nil {
		t.Fatalf("expected zero address to fail")
	}
	addr, err := ParseAddress(DefaultOperator)
	if err != nil || addr.Hex() == "" {
		t.Fatalf("parse operator: %v", err)
	}
}
