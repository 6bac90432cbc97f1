package amm

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "yieldvault/native/common"
)

const moduleName = "amm"

// MaxFeeBps bounds the swap fee of a pool.
const MaxFeeBps = 1_000

var (
	errNilState = errors.New("amm router: state not configured")

	ErrPoolNotFound          = errors.New("amm router: pool not found")
	ErrPoolExists            = errors.New("amm router: pool already exists")
	ErrInvalidPath           = errors.New("amm router: invalid swap path")
	ErrInvalidFee            = errors.New("amm router: fee exceeds maximum")
	ErrInvalidAmount         = errors.New("amm router: amount must be positive")
	ErrExpired               = errors.New("amm router: deadline expired")
	ErrInsufficientOutput    = errors.New("amm router: output below minimum")
	ErrInsufficientLiquidity = errors.New("amm router: insufficient liquidity")
)

type tokenLedger interface {
	Transfer(asset, from, to common.Address, amount *big.Int) error
}

// Pool is a constant-product pair. Token0 sorts before Token1.
type Pool struct {
	Token0         common.Address
	Token1         common.Address
	Reserve0       *big.Int
	Reserve1       *big.Int
	FeeBps         uint64
	TotalLiquidity *big.Int
}

type liquidityRecord struct {
	Amount *big.Int
}

// Router executes swaps across constant-product pools whose reserves are held
// at the router address.
type Router struct {
	state     nativecommon.Store
	ledger    tokenLedger
	address   common.Address
	blockTime uint64
	pauses    nativecommon.PauseView
}

// NewRouter constructs a router that custodies reserves at address.
func NewRouter(address common.Address, ledger tokenLedger) *Router {
	return &Router{address: address, ledger: ledger}
}

func (r *Router) SetState(state nativecommon.Store) { r.state = state }

func (r *Router) SetPauses(p nativecommon.PauseView) { r.pauses = p }

// SetBlockTime records the timestamp deadlines are checked against.
func (r *Router) SetBlockTime(ts uint64) { r.blockTime = ts }

// Address returns the account holding pool reserves.
func (r *Router) Address() common.Address { return r.address }

func sortTokens(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) <= 0 {
		return a, b
	}
	return b, a
}

func poolKey(a, b common.Address) []byte {
	t0, t1 := sortTokens(a, b)
	return nativecommon.Key("amm/pool", t0, t1)
}

func liquidityKey(a, b, provider common.Address) []byte {
	t0, t1 := sortTokens(a, b)
	return nativecommon.Key("amm/liquidity", t0, t1, provider)
}

// CreatePool registers an empty pair.
func (r *Router) CreatePool(tokenA, tokenB common.Address, feeBps uint64) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if tokenA == tokenB || tokenA == (common.Address{}) || tokenB == (common.Address{}) {
		return ErrInvalidPath
	}
	if feeBps > MaxFeeBps {
		return ErrInvalidFee
	}
	ok, err := r.state.KVGet(poolKey(tokenA, tokenB), nil)
	if err != nil {
		return err
	}
	if ok {
		return ErrPoolExists
	}
	t0, t1 := sortTokens(tokenA, tokenB)
	return r.state.KVPut(poolKey(tokenA, tokenB), &Pool{
		Token0:         t0,
		Token1:         t1,
		Reserve0:       big.NewInt(0),
		Reserve1:       big.NewInt(0),
		FeeBps:         feeBps,
		TotalLiquidity: big.NewInt(0),
	})
}

// Pool returns the pair for the two tokens.
func (r *Router) Pool(tokenA, tokenB common.Address) (*Pool, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	pool := new(Pool)
	ok, err := r.state.KVGet(poolKey(tokenA, tokenB), pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrPoolNotFound, tokenA.Hex(), tokenB.Hex())
	}
	return pool, nil
}

// AddLiquidity deposits both tokens into the pair and returns the liquidity
// credited to provider. Amounts are taken as given; callers are expected to
// supply them at the current ratio.
func (r *Router) AddLiquidity(provider, tokenA, tokenB common.Address, amountA, amountB *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return nil, err
	}
	if !nativecommon.Positive(amountA) || !nativecommon.Positive(amountB) {
		return nil, ErrInvalidAmount
	}
	pool, err := r.Pool(tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	amount0, amount1 := amountA, amountB
	if pool.Token0 != tokenA {
		amount0, amount1 = amountB, amountA
	}
	var minted *big.Int
	if pool.TotalLiquidity.Sign() == 0 {
		minted = new(big.Int).Sqrt(new(big.Int).Mul(amount0, amount1))
	} else {
		minted = nativecommon.Min(
			nativecommon.MulDiv(amount0, pool.TotalLiquidity, pool.Reserve0),
			nativecommon.MulDiv(amount1, pool.TotalLiquidity, pool.Reserve1),
		)
	}
	if minted.Sign() == 0 {
		return nil, ErrInsufficientLiquidity
	}
	if err := r.ledger.Transfer(pool.Token0, provider, r.address, amount0); err != nil {
		return nil, err
	}
	if err := r.ledger.Transfer(pool.Token1, provider, r.address, amount1); err != nil {
		return nil, err
	}
	pool.Reserve0 = new(big.Int).Add(pool.Reserve0, amount0)
	pool.Reserve1 = new(big.Int).Add(pool.Reserve1, amount1)
	pool.TotalLiquidity = new(big.Int).Add(pool.TotalLiquidity, minted)

	var held liquidityRecord
	if _, err := r.state.KVGet(liquidityKey(tokenA, tokenB, provider), &held); err != nil {
		return nil, err
	}
	held.Amount = new(big.Int).Add(nativecommon.Clone(held.Amount), minted)
	if err := r.state.KVPut(liquidityKey(tokenA, tokenB, provider), &held); err != nil {
		return nil, err
	}
	if err := r.state.KVPut(poolKey(tokenA, tokenB), pool); err != nil {
		return nil, err
	}
	return minted, nil
}

// GetAmountsOut quotes every hop of path for amountIn.
func (r *Router) GetAmountsOut(amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if !nativecommon.Positive(amountIn) {
		return nil, ErrInvalidAmount
	}
	if len(path) < 2 {
		return nil, ErrInvalidPath
	}
	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	for i := 0; i < len(path)-1; i++ {
		pool, err := r.Pool(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		reserveIn, reserveOut := pool.reserves(path[i])
		out, err := amountOut(amounts[i], reserveIn, reserveOut, pool.FeeBps)
		if err != nil {
			return nil, err
		}
		amounts[i+1] = out
	}
	return amounts, nil
}

// SwapExactTokensForTokens swaps amountIn of path[0] held by caller for at
// least minAmountOut of the last token in path, delivered to recipient.
func (r *Router) SwapExactTokensForTokens(caller common.Address, amountIn, minAmountOut *big.Int, path []common.Address, recipient common.Address, deadline uint64) ([]*big.Int, error) {
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return nil, err
	}
	if deadline < r.blockTime {
		return nil, ErrExpired
	}
	if recipient == (common.Address{}) {
		return nil, fmt.Errorf("amm router: swap: %w", nativecommon.ErrZeroAddress)
	}
	amounts, err := r.GetAmountsOut(amountIn, path)
	if err != nil {
		return nil, err
	}
	final := amounts[len(amounts)-1]
	if minAmountOut != nil && final.Cmp(minAmountOut) < 0 {
		return nil, fmt.Errorf("%w: got %s want %s", ErrInsufficientOutput, final, minAmountOut)
	}
	if err := r.ledger.Transfer(path[0], caller, r.address, amountIn); err != nil {
		return nil, err
	}
	for i := 0; i < len(path)-1; i++ {
		pool, err := r.Pool(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		if pool.Token0 == path[i] {
			pool.Reserve0 = new(big.Int).Add(pool.Reserve0, amounts[i])
			pool.Reserve1 = new(big.Int).Sub(pool.Reserve1, amounts[i+1])
		} else {
			pool.Reserve1 = new(big.Int).Add(pool.Reserve1, amounts[i])
			pool.Reserve0 = new(big.Int).Sub(pool.Reserve0, amounts[i+1])
		}
		if err := r.state.KVPut(poolKey(path[i], path[i+1]), pool); err != nil {
			return nil, err
		}
	}
	if err := r.ledger.Transfer(path[len(path)-1], r.address, recipient, final); err != nil {
		return nil, err
	}
	return amounts, nil
}

func (p *Pool) reserves(tokenIn common.Address) (*big.Int, *big.Int) {
	if p.Token0 == tokenIn {
		return p.Reserve0, p.Reserve1
	}
	return p.Reserve1, p.Reserve0
}

func amountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint64) (*big.Int, error) {
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, ErrInsufficientLiquidity
	}
	inWithFee := new(big.Int).Mul(amountIn, new(big.Int).SetUint64(nativecommon.BPSDenominator-feeBps))
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, big.NewInt(nativecommon.BPSDenominator))
	den.Add(den, inWithFee)
	out := num.Quo(num, den)
	if out.Sign() == 0 {
		return nil, ErrInsufficientLiquidity
	}
	return out, nil
}
