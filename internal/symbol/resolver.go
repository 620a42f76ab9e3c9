package symbol

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"StraddleHedger/internal/fpmath"
)

// strikeStep is the exchange's strike ladder increment in dollars.
const strikeStep = 25

// BookProber answers whether a symbol has any resting asks. Satisfied by
// the exchange client; kept narrow so the resolver is testable without
// the full client surface.
type BookProber interface {
	AskDepth(ctx context.Context, sym string) (int, error)
}

// ErrNoInstrument reports that no listed put could be resolved for a
// purchase after the single fallback step. Reportable per bucket, not
// fatal to the run.
type ErrNoInstrument struct {
	Tried []string
}

func (e *ErrNoInstrument) Error() string {
	return fmt.Sprintf("no resolvable hedge instrument (tried %v)", e.Tried)
}

// Resolver maps (expiry, reference price, premium) to a listed put.
type Resolver struct {
	asset  string
	prober BookProber
	log    zerolog.Logger
}

func NewResolver(asset string, prober BookProber, log zerolog.Logger) *Resolver {
	return &Resolver{asset: asset, prober: prober, log: log}
}

// TargetStrike computes the ladder strike in whole dollars:
// floor((refPrice - premium) / 25) * 25. Subtracting the premium first
// biases toward a strike the writer can hedge profitably net of premium
// collected. Both inputs are StrikeConfig-scaled.
func TargetStrike(refPrice, premium int64) int64 {
	diff := refPrice - premium
	step := strikeStep * fpmath.StrikeConfig.Scale
	// floor division; diff below zero still rounds toward -inf
	q := diff / step
	if diff%step != 0 && diff < 0 {
		q--
	}
	return q * strikeStep
}

// Resolve returns the put instrument for a purchase, probing the
// exchange book once at the target strike and once at the next ladder
// step up. refPrice and premium are StrikeConfig-scaled. A second empty
// book yields *ErrNoInstrument.
func (r *Resolver) Resolve(ctx context.Context, expiry time.Time, refPrice, premium int64) (Instrument, error) {
	strike := TargetStrike(refPrice, premium)

	inst := Instrument{Asset: r.asset, Expiry: expiry, Strike: strike, Type: Put}
	depth, err := r.prober.AskDepth(ctx, inst.Symbol())
	if err != nil {
		return Instrument{}, fmt.Errorf("probe %s: %w", inst.Symbol(), err)
	}
	if depth > 0 {
		return inst, nil
	}

	// Symbol unlisted or strike off-ladder: retry exactly once, one step
	// up. No further search in either direction.
	fallback := Instrument{Asset: r.asset, Expiry: expiry, Strike: strike + strikeStep, Type: Put}
	r.log.Warn().
		Str("symbol", inst.Symbol()).
		Str("fallback", fallback.Symbol()).
		Msg("empty book at target strike, trying next ladder step")

	depth, err = r.prober.AskDepth(ctx, fallback.Symbol())
	if err != nil {
		return Instrument{}, fmt.Errorf("probe %s: %w", fallback.Symbol(), err)
	}
	if depth > 0 {
		return fallback, nil
	}

	return Instrument{}, &ErrNoInstrument{Tried: []string{inst.Symbol(), fallback.Symbol()}}
}
