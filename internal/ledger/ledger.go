package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"StraddleHedger/internal/event"
	"StraddleHedger/internal/fpmath"
	"StraddleHedger/internal/symbol"
)

// InstrumentResolver maps a purchase's pricing inputs to a listed put.
// Satisfied by *symbol.Resolver.
type InstrumentResolver interface {
	Resolve(ctx context.Context, expiry time.Time, refPrice, premium int64) (symbol.Instrument, error)
}

// PositionSource answers the currently held exchange size for a symbol,
// QtyConfig-scaled. Queried exactly once per bucket, at creation.
type PositionSource interface {
	PositionSize(ctx context.Context, sym string) (int64, error)
}

// Bucket is the per-instrument hedge accounting unit. Required and Held
// are QtyConfig-scaled put quantities; PremiumCollected is the writer's
// UsdConfig-scaled premium slice backing them.
type Bucket struct {
	Instrument       symbol.Instrument
	Required         int64
	Held             int64
	PremiumCollected int64
}

// Deficit pairs a bucket's unfilled quantity with the break-even price
// above which buying destroys the premium margin.
type Deficit struct {
	Instrument symbol.Instrument
	ToFill     int64 // QtyConfig scale
	Ceiling    int64 // PriceConfig scale
}

// Ledger tracks, per instrument, how many puts the writer owes versus
// holds for one epoch. It is owned by a single goroutine; epoch rollover
// replaces the instance rather than clearing fields.
type Ledger struct {
	epoch     uint64
	expiry    time.Time
	resolver  InstrumentResolver
	positions PositionSource
	log       zerolog.Logger

	buckets map[symbol.Instrument]*Bucket
	applied map[string]struct{}
}

func New(epoch uint64, expiry time.Time, resolver InstrumentResolver, positions PositionSource, log zerolog.Logger) *Ledger {
	return &Ledger{
		epoch:     epoch,
		expiry:    expiry,
		resolver:  resolver,
		positions: positions,
		log:       log.With().Uint64("epoch", epoch).Logger(),
		buckets:   make(map[symbol.Instrument]*Bucket),
		applied:   make(map[string]struct{}),
	}
}

func (l *Ledger) Epoch() uint64 {
	return l.epoch
}

// Apply accumulates one purchase into its bucket. Purchases from other
// epochs and replays of an already-applied purchase are no-ops; each
// event contributes to exactly one bucket, exactly once. The returned
// instrument identifies the bucket the purchase landed in.
func (l *Ledger) Apply(ctx context.Context, p *event.Purchase, share int64) (symbol.Instrument, error) {
	if p.Epoch != l.epoch {
		l.log.Debug().
			Uint64("event_epoch", p.Epoch).
			Uint64("straddle_id", p.StraddleID).
			Msg("skipping purchase from another epoch")
		return symbol.Instrument{}, nil
	}
	if _, dup := l.applied[p.IdempotencyKey()]; dup {
		l.log.Debug().
			Str("idempotency_key", p.IdempotencyKey()).
			Msg("duplicate purchase ignored")
		return symbol.Instrument{}, nil
	}

	premium := fpmath.PremiumPerUnit(p.Cost, p.UnderlyingPurchased)
	inst, err := l.resolver.Resolve(ctx, l.expiry, p.Strike, premium)
	if err != nil {
		// Not marked applied: a later reconciliation pass may succeed.
		return symbol.Instrument{}, err
	}

	bucket, ok := l.buckets[inst]
	if !ok {
		held, err := l.positions.PositionSize(ctx, inst.Symbol())
		if err != nil {
			return symbol.Instrument{}, err
		}
		bucket = &Bucket{Instrument: inst, Held: held}
		l.buckets[inst] = bucket
		l.log.Info().
			Str("symbol", inst.Symbol()).
			Float64("held", fpmath.QtyToFloat(held)).
			Msg("opened hedge bucket")
	}

	bucket.Required += fpmath.HedgeQuantity(p.UnderlyingPurchased, share)
	bucket.PremiumCollected += fpmath.PremiumShare(p.Cost, share)
	l.applied[p.IdempotencyKey()] = struct{}{}

	l.log.Info().
		Uint64("straddle_id", p.StraddleID).
		Str("symbol", inst.Symbol()).
		Float64("required", fpmath.QtyToFloat(bucket.Required)).
		Float64("premium_collected", float64(bucket.PremiumCollected)/float64(fpmath.UsdConfig.Scale)).
		Msg("purchase applied")
	return inst, nil
}

// IngestHistorical replays the epoch's past purchases in order.
// Resolution failures defer that purchase's exposure to the next pass
// and do not stop the replay; any other error does.
func (l *Ledger) IngestHistorical(ctx context.Context, purchases []*event.Purchase, share int64) error {
	for _, p := range purchases {
		if _, err := l.Apply(ctx, p, share); err != nil {
			var noInst *symbol.ErrNoInstrument
			if errors.As(err, &noInst) {
				l.log.Warn().
					Uint64("straddle_id", p.StraddleID).
					Strs("tried", noInst.Tried).
					Msg("purchase unresolvable, deferred")
				continue
			}
			return err
		}
	}
	return nil
}

// IngestLive applies one freshly observed purchase.
func (l *Ledger) IngestLive(ctx context.Context, p *event.Purchase, share int64) (symbol.Instrument, error) {
	return l.Apply(ctx, p, share)
}

// AddHeld records quantity bought during this run so the same deficit
// is not purchased twice. The exchange is not re-queried.
func (l *Ledger) AddHeld(inst symbol.Instrument, qty int64) {
	if bucket, ok := l.buckets[inst]; ok {
		bucket.Held += qty
	}
}

// Deficit reports the bucket's current shortfall, if any.
func (l *Ledger) Deficit(inst symbol.Instrument) (Deficit, bool) {
	bucket, ok := l.buckets[inst]
	if !ok || bucket.Required <= bucket.Held {
		return Deficit{}, false
	}
	return l.deficitOf(bucket), true
}

// Deficits returns every under-hedged bucket, ordered by symbol for
// deterministic fill passes.
func (l *Ledger) Deficits() []Deficit {
	deficits := make([]Deficit, 0, len(l.buckets))
	for _, bucket := range l.buckets {
		if bucket.Required > bucket.Held {
			deficits = append(deficits, l.deficitOf(bucket))
		}
	}
	sort.Slice(deficits, func(i, j int) bool {
		return deficits[i].Instrument.Symbol() < deficits[j].Instrument.Symbol()
	})
	return deficits
}

func (l *Ledger) deficitOf(bucket *Bucket) Deficit {
	return Deficit{
		Instrument: bucket.Instrument,
		ToFill:     bucket.Required - bucket.Held,
		Ceiling:    fpmath.CeilingPrice(bucket.PremiumCollected, bucket.Required),
	}
}

// BucketCount reports how many buckets exist, hedged or not.
func (l *Ledger) BucketCount() int {
	return len(l.buckets)
}
