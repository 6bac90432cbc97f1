package main

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"yieldvault/config"
	"yieldvault/core"
)

// Scenario is a scripted sequence of protocol operations.
type Scenario struct {
	Name string `yaml:"name"`
	// Config optionally points at a TOML file; defaults apply otherwise.
	Config string `yaml:"config"`
	Steps  []Step `yaml:"steps"`
}

// Step is one operation. Accounts are hex addresses or names; names map to
// deterministic addresses, and "operator" and "farm" resolve to the protocol's
// own accounts.
type Step struct {
	Op       string `yaml:"op"`
	Account  string `yaml:"account"`
	To       string `yaml:"to"`
	Referrer string `yaml:"referrer"`
	Symbol   string `yaml:"symbol"`
	Vault    uint64 `yaml:"vault"`
	Amount   string `yaml:"amount"`
	Blocks   uint64 `yaml:"blocks"`
	Seconds  uint64 `yaml:"seconds"`
	Module   string `yaml:"module"`
	// ExpectError marks a step that must be rejected. A non-empty value
	// must also appear in the error text.
	ExpectError string `yaml:"expectError"`
}

// LoadScenario parses a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(raw)
}

// ParseScenario decodes a YAML scenario and rejects unknown keys.
func ParseScenario(raw []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if len(sc.Steps) == 0 {
		return nil, errors.New("scenario has no steps")
	}
	return &sc, nil
}

// Runner replays scenario steps against a protocol.
type Runner struct {
	protocol *core.Protocol
	out      io.Writer
}

// Run executes every step in order and stops at the first unexpected
// outcome.
func (r *Runner) Run(sc *Scenario) error {
	for i, step := range sc.Steps {
		result, err := r.apply(step)
		expect := strings.TrimSpace(step.ExpectError)
		switch {
		case err != nil && expect == "":
			return fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		case err == nil && expect != "":
			return fmt.Errorf("step %d (%s): expected error %q", i, step.Op, expect)
		case err != nil && expect != "*" && !strings.Contains(err.Error(), expect):
			return fmt.Errorf("step %d (%s): error %q does not mention %q", i, step.Op, err, expect)
		}
		if err != nil {
			result = "rejected: " + err.Error()
		}
		fmt.Fprintf(r.out, "%3d %-18s h=%d %s\n", i, step.Op, r.protocol.Height(), result)
	}
	return nil
}

func (r *Runner) apply(step Step) (string, error) {
	p := r.protocol
	switch strings.ToLower(step.Op) {
	case "fund":
		to, amount, err := r.accountAmount(step.To, step.Amount)
		if err != nil {
			return "", err
		}
		return amount.String(), p.Fund(p.Operator(), step.Symbol, to, amount)
	case "approve":
		owner, amount, err := r.accountAmount(step.Account, step.Amount)
		if err != nil {
			return "", err
		}
		spender := p.FarmAddress()
		if step.To != "" {
			spender = r.account(step.To)
		}
		return amount.String(), p.Approve(owner, step.Symbol, spender, amount)
	case "deposit":
		user, amount, err := r.accountAmount(step.Account, step.Amount)
		if err != nil {
			return "", err
		}
		shares, err := p.Deposit(user, step.Vault, amount, r.optionalAccount(step.Referrer))
		return "shares=" + amountString(shares), err
	case "depositall":
		shares, err := p.DepositAll(r.account(step.Account), step.Vault, r.optionalAccount(step.Referrer))
		return "shares=" + amountString(shares), err
	case "withdraw":
		user, shares, err := r.accountAmount(step.Account, step.Amount)
		if err != nil {
			return "", err
		}
		received, err := p.Withdraw(user, step.Vault, shares)
		return "received=" + amountString(received), err
	case "harvest":
		reward, err := p.Harvest(r.account(step.Account), step.Vault)
		return "reward=" + amountString(reward), err
	case "emergencywithdraw":
		received, err := p.EmergencyWithdraw(r.account(step.Account), step.Vault)
		return "received=" + amountString(received), err
	case "harveststrategy":
		return "", p.HarvestStrategy(r.account(step.Account), step.Vault)
	case "earn":
		return "", p.Earn(step.Vault)
	case "massupdate":
		return "", p.MassUpdatePools()
	case "convert":
		out, err := p.ConvertFees(step.Symbol)
		return "out=" + amountString(out), err
	case "price":
		answer, err := parseAmount(step.Amount)
		if err != nil {
			return "", err
		}
		return answer.String(), p.UpdatePrice(p.Operator(), step.Symbol, answer)
	case "pause", "unpause":
		return step.Module, p.SetModulePaused(p.Operator(), step.Module, strings.EqualFold(step.Op, "pause"))
	case "advance":
		return "", p.AdvanceBlocks(step.Blocks)
	case "wait":
		return "", p.SetTime(p.Time() + step.Seconds)
	case "balance":
		balance, err := p.BalanceOf(step.Symbol, r.account(step.Account))
		return step.Symbol + "=" + amountString(balance), err
	case "vault":
		info, err := p.VaultInfo(step.Vault)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("balance=%s shares=%s pps=%s", info.Balance, info.TotalShares, info.PricePerShare), nil
	default:
		return "", fmt.Errorf("unknown op %q", step.Op)
	}
}

func (r *Runner) accountAmount(account, amount string) (common.Address, *big.Int, error) {
	value, err := parseAmount(amount)
	if err != nil {
		return common.Address{}, nil, err
	}
	return r.account(account), value, nil
}

func (r *Runner) optionalAccount(name string) common.Address {
	if strings.TrimSpace(name) == "" {
		return common.Address{}
	}
	return r.account(name)
}

func (r *Runner) account(name string) common.Address {
	trimmed := strings.TrimSpace(name)
	switch strings.ToLower(trimmed) {
	case "operator":
		return r.protocol.Operator()
	case "farm":
		return r.protocol.FarmAddress()
	}
	if common.IsHexAddress(trimmed) {
		return common.HexToAddress(trimmed)
	}
	return NamedAccount(trimmed)
}

// NamedAccount derives a stable address from a human readable name.
func NamedAccount(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("account/" + strings.ToLower(name)))[12:])
}

// parseAmount accepts plain integers and the "<n>e<exp>" shorthand, so
// "100e18" is one hundred whole 18-decimal tokens.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	mantissa, exponent, scaled := strings.Cut(trimmed, "e")
	if !scaled {
		return config.ParseAmount(trimmed)
	}
	base, err := config.ParseAmount(mantissa)
	if err != nil {
		return nil, err
	}
	exp, err := strconv.ParseUint(exponent, 10, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent in %q", value)
	}
	return base.Mul(base, new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(exp), nil)), nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
