package priceguard

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/core/events"
	nativecommon "yieldvault/native/common"
)

var (
	errNilState = errors.New("price guard: state not configured")

	ErrStalePrice       = errors.New("price guard: stale price")
	ErrSlippageExceeded = errors.New("price guard: slippage exceeded")
	ErrFeedNotSet       = errors.New("price guard: no feed for asset")
	ErrUnknownFeed      = errors.New("price guard: feed not registered")
)

type decimalsView interface {
	Decimals(asset common.Address) (uint8, error)
}

// Params are the operator controlled guard settings.
type Params struct {
	// MaxPriceOffset is the maximum age of a feed answer in seconds.
	MaxPriceOffset uint64
	// SlippageRatio is the tolerated shortfall against the oracle expectation
	// in basis points.
	SlippageRatio uint64
}

type paramsRecord struct {
	MaxPriceOffset uint64
	SlippageRatio  uint64
}

type feedRecord struct {
	Feed common.Address
}

// Guard validates swap outputs against oracle prices before any strategy or
// fee conversion swap executes.
type Guard struct {
	state     nativecommon.Store
	address   common.Address
	owner     common.Address
	tokens    decimalsView
	feeds     map[common.Address]Feed
	defaults  Params
	blockTime uint64
	emitter   events.Emitter
}

// New constructs a guard owned by owner. Defaults apply until the owner
// changes them.
func New(address, owner common.Address, tokens decimalsView, defaults Params) *Guard {
	g := &Guard{
		address:  address,
		owner:    owner,
		tokens:   tokens,
		feeds:    make(map[common.Address]Feed),
		defaults: defaults,
		emitter:  events.NoopEmitter{},
	}
	return g
}

func (g *Guard) SetState(state nativecommon.Store) { g.state = state }

func (g *Guard) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	g.emitter = emitter
}

// SetBlockTime records the timestamp feed answers are aged against.
func (g *Guard) SetBlockTime(ts uint64) { g.blockTime = ts }

func (g *Guard) Address() common.Address { return g.address }

// RegisterFeed makes a feed resolvable by address. It does not assign it to
// any asset.
func (g *Guard) RegisterFeed(feed Feed) {
	if feed == nil {
		return
	}
	g.feeds[feed.Address()] = feed
}

var paramsKey = []byte("priceguard/params")

func feedKey(asset common.Address) []byte { return nativecommon.Key("priceguard/feed", asset) }

// Params returns the active settings.
func (g *Guard) Params() (Params, error) {
	if g.state == nil {
		return Params{}, errNilState
	}
	var record paramsRecord
	ok, err := g.state.KVGet(paramsKey, &record)
	if err != nil {
		return Params{}, err
	}
	if !ok {
		return g.defaults, nil
	}
	return Params{MaxPriceOffset: record.MaxPriceOffset, SlippageRatio: record.SlippageRatio}, nil
}

func (g *Guard) storeParams(p Params) error {
	return g.state.KVPut(paramsKey, paramsRecord{MaxPriceOffset: p.MaxPriceOffset, SlippageRatio: p.SlippageRatio})
}

// SetMaxPriceOffset updates the maximum tolerated feed age in seconds.
func (g *Guard) SetMaxPriceOffset(caller common.Address, seconds uint64) error {
	if err := g.onlyOwner(caller); err != nil {
		return err
	}
	params, err := g.Params()
	if err != nil {
		return err
	}
	if params.MaxPriceOffset == seconds {
		return nativecommon.ErrSameValue
	}
	params.MaxPriceOffset = seconds
	if err := g.storeParams(params); err != nil {
		return err
	}
	g.emitter.Emit(events.ParamUpdated{Module: g.address, Name: "maxPriceOffset", Value: strconv.FormatUint(seconds, 10)})
	return nil
}

// SetSlippageRatio updates the tolerated slippage in basis points.
func (g *Guard) SetSlippageRatio(caller common.Address, ratio uint64) error {
	if err := g.onlyOwner(caller); err != nil {
		return err
	}
	if ratio > nativecommon.BPSDenominator {
		return nativecommon.ErrInvalidRatio
	}
	params, err := g.Params()
	if err != nil {
		return err
	}
	if params.SlippageRatio == ratio {
		return nativecommon.ErrSameValue
	}
	params.SlippageRatio = ratio
	if err := g.storeParams(params); err != nil {
		return err
	}
	g.emitter.Emit(events.ParamUpdated{Module: g.address, Name: "slippageRatio", Value: strconv.FormatUint(ratio, 10)})
	return nil
}

// SetPriceFeed assigns a registered feed to an asset.
func (g *Guard) SetPriceFeed(caller, asset, feed common.Address) error {
	if err := g.onlyOwner(caller); err != nil {
		return err
	}
	if asset == (common.Address{}) || feed == (common.Address{}) {
		return fmt.Errorf("price guard: set feed: %w", nativecommon.ErrZeroAddress)
	}
	if _, ok := g.feeds[feed]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFeed, feed.Hex())
	}
	current, err := g.FeedOf(asset)
	if err != nil && !errors.Is(err, ErrFeedNotSet) {
		return err
	}
	if current == feed {
		return nativecommon.ErrSameValue
	}
	if err := g.state.KVPut(feedKey(asset), feedRecord{Feed: feed}); err != nil {
		return err
	}
	g.emitter.Emit(events.ParamUpdated{Module: g.address, Name: "priceFeed:" + asset.Hex(), Value: feed.Hex()})
	return nil
}

// FeedOf returns the feed assigned to asset.
func (g *Guard) FeedOf(asset common.Address) (common.Address, error) {
	if g.state == nil {
		return common.Address{}, errNilState
	}
	var record feedRecord
	ok, err := g.state.KVGet(feedKey(asset), &record)
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrFeedNotSet, asset.Hex())
	}
	return record.Feed, nil
}

// Price returns the asset's latest answer after enforcing freshness.
func (g *Guard) Price(asset common.Address) (RoundData, error) {
	params, err := g.Params()
	if err != nil {
		return RoundData{}, err
	}
	return g.freshPrice(asset, params.MaxPriceOffset)
}

func (g *Guard) freshPrice(asset common.Address, maxOffset uint64) (RoundData, error) {
	addr, err := g.FeedOf(asset)
	if err != nil {
		return RoundData{}, err
	}
	feed, ok := g.feeds[addr]
	if !ok {
		return RoundData{}, fmt.Errorf("%w: %s", ErrUnknownFeed, addr.Hex())
	}
	round, err := feed.LatestRoundData()
	if err != nil {
		return RoundData{}, err
	}
	if round.UpdatedAt == 0 || (g.blockTime > round.UpdatedAt && g.blockTime-round.UpdatedAt > maxOffset) {
		return RoundData{}, fmt.Errorf("%w: %s updated at %d, now %d", ErrStalePrice, asset.Hex(), round.UpdatedAt, g.blockTime)
	}
	if !nativecommon.Positive(round.Answer) {
		return RoundData{}, ErrInvalidPrice
	}
	return round, nil
}

// ExpectedOut converts amountIn of tokenIn into tokenOut at oracle prices,
// adjusting for token and feed decimals.
func (g *Guard) ExpectedOut(tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	params, err := g.Params()
	if err != nil {
		return nil, err
	}
	return g.expectedOut(tokenIn, tokenOut, amountIn, params)
}

func (g *Guard) expectedOut(tokenIn, tokenOut common.Address, amountIn *big.Int, params Params) (*big.Int, error) {
	priceIn, err := g.freshPrice(tokenIn, params.MaxPriceOffset)
	if err != nil {
		return nil, err
	}
	priceOut, err := g.freshPrice(tokenOut, params.MaxPriceOffset)
	if err != nil {
		return nil, err
	}
	decIn, err := g.tokens.Decimals(tokenIn)
	if err != nil {
		return nil, err
	}
	decOut, err := g.tokens.Decimals(tokenOut)
	if err != nil {
		return nil, err
	}
	num := new(big.Int).Mul(nativecommon.Clone(amountIn), priceIn.Answer)
	num.Mul(num, pow10(uint64(decOut)+uint64(priceOut.Decimals)))
	den := new(big.Int).Mul(priceOut.Answer, pow10(uint64(decIn)+uint64(priceIn.Decimals)))
	return num.Quo(num, den), nil
}

// CheckPrice fails with ErrStalePrice when either feed is too old and with
// ErrSlippageExceeded when the proposed output falls short of the oracle
// expectation by more than the slippage ratio.
func (g *Guard) CheckPrice(tokenIn, tokenOut common.Address, amountIn, amountOutProposed *big.Int) error {
	params, err := g.Params()
	if err != nil {
		return err
	}
	expected, err := g.expectedOut(tokenIn, tokenOut, amountIn, params)
	if err != nil {
		return err
	}
	floor := nativecommon.ApplyBps(expected, nativecommon.BPSDenominator-params.SlippageRatio)
	if nativecommon.Clone(amountOutProposed).Cmp(floor) < 0 {
		return fmt.Errorf("%w: proposed %s, minimum %s", ErrSlippageExceeded, nativecommon.Clone(amountOutProposed), floor)
	}
	return nil
}

func (g *Guard) onlyOwner(caller common.Address) error {
	if g.state == nil {
		return errNilState
	}
	if caller != g.owner {
		return fmt.Errorf("price guard: %w", nativecommon.ErrUnauthorized)
	}
	return nil
}

func pow10(n uint64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(n), nil)
}
