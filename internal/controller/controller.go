package controller

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"StraddleHedger/internal/chain"
	"StraddleHedger/internal/event"
	"StraddleHedger/internal/fill"
	"StraddleHedger/internal/fpmath"
	"StraddleHedger/internal/ingestion"
	"StraddleHedger/internal/ledger"
	"StraddleHedger/internal/observability"
	"StraddleHedger/internal/symbol"
)

// State is the controller's lifecycle phase.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateActive
	StateResetting
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateResetting:
		return "resetting"
	default:
		return "uninitialized"
	}
}

// Fatal preconditions; Run surfaces them and the process exits non-zero.
var (
	ErrNoWritePositions      = errors.New("writer holds no write positions")
	ErrNoEpochWritePositions = errors.New("no write positions for the current epoch")
)

// Filler is the fill engine surface the controller drives.
type Filler interface {
	Fill(ctx context.Context, d ledger.Deficit) (fill.Result, error)
}

// MarketData is the read-only exchange surface used during Loading.
type MarketData interface {
	LastPrice(ctx context.Context, spotSymbol string) (int64, error)
	Instruments(ctx context.Context, baseCoin string) ([]string, error)
}

// Config carries the writer's identity and market constants.
type Config struct {
	WriterAddress string
	Asset         string // option base asset, e.g. "ETH"
	SpotSymbol    string // spot ticker for the underlying, e.g. "ETHUSDT"
}

// Controller owns the epoch lifecycle: load epoch state, replay
// history, then serialize live purchases and bootstrap signals through
// a single processing loop. All ledger mutation happens on that loop.
type Controller struct {
	cfg       Config
	vault     chain.Vault
	market    MarketData
	resolver  ledger.InstrumentResolver
	positions ledger.PositionSource
	filler    Filler
	events    <-chan ingestion.RawEvent
	metrics   *observability.Metrics
	health    *observability.HealthChecker
	log       zerolog.Logger

	state  atomic.Int32
	ledger *ledger.Ledger
	share  int64 // ShareConfig-scaled pool share percent
}

func New(
	cfg Config,
	vault chain.Vault,
	market MarketData,
	resolver ledger.InstrumentResolver,
	positions ledger.PositionSource,
	filler Filler,
	events <-chan ingestion.RawEvent,
	metrics *observability.Metrics,
	health *observability.HealthChecker,
	log zerolog.Logger,
) *Controller {
	return &Controller{
		cfg:       cfg,
		vault:     vault,
		market:    market,
		resolver:  resolver,
		positions: positions,
		filler:    filler,
		events:    events,
		metrics:   metrics,
		health:    health,
		log:       log,
	}
}

// State reports the current lifecycle phase.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.log.Info().Stringer("from", old).Stringer("to", s).Msg("state transition")
	}
}

// Run loads the current epoch and processes events until the context
// ends or a fatal precondition is hit. Live events and bootstraps are
// handled one at a time; a bootstrap arriving mid-fill waits for the
// fill to finish.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.load(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-c.events:
			if err := c.processRaw(ctx, raw); err != nil {
				return err
			}
		}
	}
}

// load runs the Loading phase: epoch reads, pool share computation, and
// the historical replay plus initial reconciliation pass.
func (c *Controller) load(ctx context.Context) error {
	c.setState(StateLoading)
	if c.health != nil {
		c.health.SetReady(false)
	}
	start := time.Now()

	epoch, err := c.vault.CurrentEpoch(ctx)
	if err != nil {
		return fmt.Errorf("read current epoch: %w", err)
	}
	data, err := c.vault.EpochData(ctx, epoch)
	if err != nil {
		return fmt.Errorf("read epoch %d: %w", epoch, err)
	}

	writerDeposits, err := c.writerDeposits(ctx, epoch)
	if err != nil {
		return err
	}
	share, err := fpmath.PoolShare(writerDeposits, data.USDDeposits)
	if err != nil {
		return fmt.Errorf("epoch %d: %w", epoch, err)
	}

	spotPrice, err := c.market.LastPrice(ctx, c.cfg.SpotSymbol)
	if err != nil {
		return fmt.Errorf("spot price %s: %w", c.cfg.SpotSymbol, err)
	}
	if listed, err := c.market.Instruments(ctx, c.cfg.Asset); err != nil {
		c.log.Warn().Err(err).Str("asset", c.cfg.Asset).Msg("instrument listing unavailable")
	} else {
		c.log.Info().Str("asset", c.cfg.Asset).Int("listed_options", len(listed)).Msg("exchange listing")
	}
	c.logEpochCapacity(epoch, data, spotPrice, share)

	c.ledger = ledger.New(epoch, data.Expiry, c.resolver, c.positions, c.log)
	c.share = share
	if c.metrics != nil {
		c.metrics.CurrentEpoch.Set(float64(epoch))
		c.metrics.PoolShare.Set(fpmath.ShareToFloat(share))
	}

	history, err := c.vault.PurchaseHistory(ctx, epoch)
	if err != nil {
		return fmt.Errorf("purchase history epoch %d: %w", epoch, err)
	}
	if err := c.ledger.IngestHistorical(ctx, history, share); err != nil {
		return fmt.Errorf("historical replay epoch %d: %w", epoch, err)
	}

	for _, d := range c.ledger.Deficits() {
		c.fillDeficit(ctx, d)
	}

	c.setState(StateActive)
	if c.health != nil {
		c.health.SetReady(true)
	}
	if c.metrics != nil {
		c.metrics.LoadDuration.Observe(time.Since(start).Seconds())
		c.metrics.BucketsOpen.Set(float64(c.ledger.BucketCount()))
	}
	c.log.Info().
		Uint64("epoch", epoch).
		Int("historical_purchases", len(history)).
		Int("buckets", c.ledger.BucketCount()).
		Msg("epoch loaded")
	return nil
}

// writerDeposits sums the writer's deposits across write positions
// belonging to the given epoch. Holding none at all, or none for this
// epoch, is an unrecoverable precondition.
func (c *Controller) writerDeposits(ctx context.Context, epoch uint64) (*big.Int, error) {
	ids, err := c.vault.WritePositionsOfOwner(ctx, c.cfg.WriterAddress)
	if err != nil {
		return nil, fmt.Errorf("write positions of %s: %w", c.cfg.WriterAddress, err)
	}
	if len(ids) == 0 {
		return nil, ErrNoWritePositions
	}

	total := new(big.Int)
	matched := 0
	for _, id := range ids {
		wp, err := c.vault.WritePosition(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("write position %d: %w", id, err)
		}
		if wp.Epoch != epoch {
			continue
		}
		total.Add(total, wp.USDDeposit)
		matched++
	}
	if matched == 0 {
		return nil, ErrNoEpochWritePositions
	}
	return total, nil
}

func (c *Controller) logEpochCapacity(epoch uint64, data chain.Epoch, spotPrice, share int64) {
	deposits := new(big.Int).Div(data.USDDeposits, big.NewInt(fpmath.UsdConfig.Scale))
	sellable := int64(0)
	if spotPrice > 0 {
		// deposits and spot are both dollar-denominated after scaling
		sellable = fpmath.MulDiv(data.USDDeposits, fpmath.StrikeConfig.Scale/fpmath.UsdConfig.Scale, big.NewInt(spotPrice))
	}
	c.log.Info().
		Uint64("epoch", epoch).
		Time("expiry", data.Expiry).
		Int64("usd_deposits", deposits.Int64()).
		Float64("spot", float64(spotPrice)/float64(fpmath.StrikeConfig.Scale)).
		Int64("sellable_straddles", sellable).
		Float64("pool_share_pct", fpmath.ShareToFloat(share)).
		Msg("epoch capacity")
}

func (c *Controller) processRaw(ctx context.Context, raw ingestion.RawEvent) error {
	ev, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		if c.metrics != nil {
			c.metrics.EventsRejected.WithLabelValues(raw.EventType, "parse").Inc()
		}
		c.log.Error().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable event")
		return nil
	}

	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.EventDuration.WithLabelValues(ev.EventType().String()).Observe(time.Since(start).Seconds())
		}
	}()

	switch typed := ev.(type) {
	case *event.Purchase:
		c.handlePurchase(ctx, typed)
		return nil
	case *event.Bootstrap:
		return c.handleBootstrap(ctx, typed)
	default:
		c.log.Error().Stringer("event_type", ev.EventType()).Msg("unhandled event type")
		return nil
	}
}

// handlePurchase ingests one live purchase and immediately tries to
// fill that bucket's deficit. Resolution and submission failures are
// logged and deferred, never fatal.
func (c *Controller) handlePurchase(ctx context.Context, p *event.Purchase) {
	inst, err := c.ledger.IngestLive(ctx, p, c.share)
	if err != nil {
		var noInst *symbol.ErrNoInstrument
		if errors.As(err, &noInst) {
			if c.metrics != nil {
				c.metrics.ResolutionFail.Inc()
				c.metrics.EventsRejected.WithLabelValues("Purchase", "resolution").Inc()
			}
			c.log.Warn().
				Uint64("straddle_id", p.StraddleID).
				Strs("tried", noInst.Tried).
				Msg("live purchase unresolvable, deferred")
			return
		}
		c.log.Error().Err(err).Uint64("straddle_id", p.StraddleID).Msg("live purchase not applied")
		return
	}
	if c.metrics != nil {
		c.metrics.EventsApplied.WithLabelValues("Purchase").Inc()
		c.metrics.BucketsOpen.Set(float64(c.ledger.BucketCount()))
	}

	if d, ok := c.ledger.Deficit(inst); ok {
		c.fillDeficit(ctx, d)
	}
}

// handleBootstrap tears down all per-epoch state and reloads. The old
// ledger instance is dropped wholesale; nothing survives the rollover.
func (c *Controller) handleBootstrap(ctx context.Context, b *event.Bootstrap) error {
	if c.ledger != nil && b.Epoch <= c.ledger.Epoch() {
		c.log.Debug().Uint64("epoch", b.Epoch).Msg("stale bootstrap ignored")
		return nil
	}

	c.setState(StateResetting)
	c.ledger = nil
	c.share = 0
	if c.metrics != nil {
		c.metrics.EventsApplied.WithLabelValues("Bootstrap").Inc()
		c.metrics.EpochResets.Inc()
	}
	c.log.Info().Uint64("epoch", b.Epoch).Msg("bootstrap received, reloading epoch state")

	return c.load(ctx)
}

// fillDeficit runs one fill pass for a bucket and folds the outcome
// back into the ledger so the deficit is not bought twice.
func (c *Controller) fillDeficit(ctx context.Context, d ledger.Deficit) {
	sym := d.Instrument.Symbol()
	res, err := c.filler.Fill(ctx, d)

	c.ledger.AddHeld(d.Instrument, res.Filled)
	if c.metrics != nil {
		c.metrics.FillsSubmitted.Add(float64(res.Orders))
		c.metrics.QtyFilled.Add(fpmath.QtyToFloat(res.Filled))
		c.metrics.QtyUnfilled.Add(fpmath.QtyToFloat(res.Unfilled))
		if res.CeilingHit {
			c.metrics.CeilingAborts.Inc()
		}
		c.metrics.DeficitGauge.WithLabelValues(sym).Set(fpmath.QtyToFloat(res.Unfilled))
	}

	if err != nil {
		var submitErr *fill.SubmitError
		if errors.As(err, &submitErr) && c.metrics != nil {
			c.metrics.SubmitFailures.Inc()
		}
		c.log.Error().Err(err).
			Str("symbol", sym).
			Float64("unfilled", fpmath.QtyToFloat(res.Unfilled)).
			Msg("fill pass failed, deficit deferred")
		return
	}
	c.log.Info().
		Str("symbol", sym).
		Float64("requested", fpmath.QtyToFloat(res.Requested)).
		Float64("filled", fpmath.QtyToFloat(res.Filled)).
		Float64("unfilled", fpmath.QtyToFloat(res.Unfilled)).
		Bool("ceiling_hit", res.CeilingHit).
		Msg("fill pass complete")
}
