package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"yieldvault/config"
	"yieldvault/core/events"
	"yieldvault/core/state"
	"yieldvault/native/amm"
	nativecommon "yieldvault/native/common"
	"yieldvault/native/farm"
	"yieldvault/native/feemanager"
	"yieldvault/native/lending"
	"yieldvault/native/priceguard"
	"yieldvault/native/referral"
	"yieldvault/native/token"
	"yieldvault/observability"
	"yieldvault/storage"
)

var (
	ErrUnknownVault  = errors.New("core: unknown vault")
	ErrUnknownAsset  = errors.New("core: unknown asset")
	ErrUnknownModule = errors.New("core: module cannot be paused")
	ErrClockBackward = errors.New("core: block time must not move backwards")
)

var clockKey = nativecommon.Key("core/clock")

type clockRecord struct {
	Height uint64
	Time   uint64
}

// Options carries the optional collaborators of a Protocol.
type Options struct {
	Logger *slog.Logger
	// Sink receives every event once its transaction has committed.
	Sink events.Emitter
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Protocol owns the protocol state and every component wired over it. All
// operations run serially as atomic transactions: a failing operation leaves
// neither state writes nor events behind.
type Protocol struct {
	mu       sync.Mutex
	db       storage.Database
	state    *state.Manager
	buffer   *events.Buffer
	sink     events.Emitter
	logger   *slog.Logger
	tracer   trace.Tracer
	pauses   *pauseRegistry
	interval uint64
	height   uint64
	time     uint64

	operator common.Address
	treasury common.Address

	ledger    *token.Ledger
	venue     *lending.Engine
	router    *amm.Router
	guard     *priceguard.Guard
	fees      *feemanager.Manager
	referrals *referral.Registry
	farm      *farm.Farm

	assets map[string]common.Address
	feeds  map[common.Address]*priceguard.ManualFeed
	vaults []*Vault
}

// New wires every component from cfg over db. A database without protocol
// state is seeded from the configuration in a single genesis transaction;
// an existing one is resumed as is.
func New(cfg *config.Config, db storage.Database, opts Options) (*Protocol, error) {
	if cfg == nil || db == nil {
		return nil, errors.New("core: config and database required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Sink
	if sink == nil {
		sink = events.NoopEmitter{}
	}
	provider := opts.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	manager := state.NewManager(db)
	p := &Protocol{
		db:       db,
		state:    manager,
		buffer:   &events.Buffer{},
		sink:     sink,
		logger:   logger.With("component", "protocol"),
		tracer:   provider.Tracer("yieldvault/core"),
		pauses:   &pauseRegistry{state: manager},
		interval: cfg.Chain.BlockIntervalSeconds,
		height:   cfg.Chain.StartHeight,
		time:     cfg.Chain.StartTime,
		assets:   make(map[string]common.Address),
		feeds:    make(map[common.Address]*priceguard.ManualFeed),
	}
	if err := p.wire(cfg); err != nil {
		return nil, err
	}

	var clock clockRecord
	resumed, err := manager.KVGet(clockKey, &clock)
	if err != nil {
		return nil, err
	}
	if resumed {
		p.height, p.time = clock.Height, clock.Time
		if err := p.loadStrategies(); err != nil {
			return nil, err
		}
		p.applyClock()
		p.logger.Info("protocol resumed", "height", p.height, "vaults", len(p.vaults))
		return p, nil
	}
	p.applyClock()
	if err := p.Execute("core", "genesis", func() error { return p.genesis(cfg) }); err != nil {
		return nil, fmt.Errorf("core: genesis: %w", err)
	}
	return p, nil
}

// Execute runs fn as one atomic transaction.
func (p *Protocol) Execute(module, op string, fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.execute(module, op, fn)
}

func (p *Protocol) execute(module, op string, fn func() error) error {
	start := time.Now()
	_, span := p.tracer.Start(context.Background(), module+"."+op, trace.WithAttributes(
		attribute.String("module", module),
		attribute.Int64("block.height", int64(p.height)),
	))
	defer span.End()
	snapshot := p.state.Snapshot()
	mark := p.buffer.Mark()
	err := fn()
	if err == nil {
		err = p.state.Commit()
	}
	metrics := observability.ModuleMetrics()
	if err != nil {
		p.state.RevertToSnapshot(snapshot)
		p.buffer.Truncate(mark)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.Observe(module, op, observability.OutcomeRejected, time.Since(start))
		p.logger.Debug("transaction rejected", "module", module, "op", op, "height", p.height, "error", err)
		return err
	}
	drained := p.buffer.Drain()
	for _, evt := range drained {
		observability.Events().Record(evt)
		p.sink.Emit(evt)
	}
	span.SetAttributes(attribute.Int("events", len(drained)))
	metrics.Observe(module, op, observability.OutcomeCommitted, time.Since(start))
	p.logger.Info("transaction committed", "module", module, "op", op, "height", p.height, "events", len(drained))
	return nil
}

// View runs fn against committed state without committing anything it
// writes.
func (p *Protocol) View(fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.state.Discard()
	return fn()
}

// Height returns the current block height.
func (p *Protocol) Height() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.height
}

// Time returns the current block timestamp in seconds.
func (p *Protocol) Time() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.time
}

// AdvanceBlocks moves the clock n blocks forward, advancing time by the
// configured block interval per block.
func (p *Protocol) AdvanceBlocks(n uint64) error {
	if n == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.moveClock("advanceBlocks", p.height+n, p.time+n*p.interval)
}

// SetTime moves block time to ts without producing blocks.
func (p *Protocol) SetTime(ts uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ts < p.time {
		return fmt.Errorf("%w: %d < %d", ErrClockBackward, ts, p.time)
	}
	return p.moveClock("setTime", p.height, ts)
}

func (p *Protocol) moveClock(op string, height, ts uint64) error {
	prevHeight, prevTime := p.height, p.time
	p.height, p.time = height, ts
	p.applyClock()
	err := p.execute("core", op, func() error {
		return p.state.KVPut(clockKey, clockRecord{Height: height, Time: ts})
	})
	if err != nil {
		p.height, p.time = prevHeight, prevTime
		p.applyClock()
	}
	return err
}

func (p *Protocol) applyClock() {
	p.venue.SetBlockHeight(p.height)
	p.farm.SetBlockHeight(p.height)
	p.router.SetBlockTime(p.time)
	p.guard.SetBlockTime(p.time)
	p.fees.SetBlockTime(p.time)
	for _, v := range p.vaults {
		for _, s := range v.strategies {
			s.SetBlockTime(p.time)
		}
	}
	observability.ModuleMetrics().SetBlockHeight(p.height)
}

// Digest returns the BLAKE3 digest of committed state.
func (p *Protocol) Digest() ([32]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Digest()
}

// Operator returns the account that owns every component.
func (p *Protocol) Operator() common.Address { return p.operator }

// FarmAddress returns the account users approve before depositing.
func (p *Protocol) FarmAddress() common.Address { return p.farm.Address() }

// Close releases the backing database.
func (p *Protocol) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Discard()
	p.db.Close()
}
