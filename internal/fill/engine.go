package fill

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"StraddleHedger/internal/exchange"
	"StraddleHedger/internal/fpmath"
	"StraddleHedger/internal/ledger"
)

// Exchange is the slice of the exchange client the engine needs.
type Exchange interface {
	OrderBook(ctx context.Context, sym string) (exchange.Book, error)
	PlaceMarketBuy(ctx context.Context, req exchange.OrderRequest) error
}

// Result is the outcome of one fill pass over a deficit.
type Result struct {
	Requested  int64 // QtyConfig scale
	Filled     int64 // sum of submitted order quantities
	Unfilled   int64 // remaining when the walk stopped
	Orders     int
	CeilingHit bool
}

// SubmitError reports a rejected market order mid-walk. Fills executed
// before the rejection stand; Unfilled is the quantity still owed.
type SubmitError struct {
	Symbol   string
	Unfilled int64
	Err      error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("fill %s: %.6f unfilled: %v", e.Symbol, fpmath.QtyToFloat(e.Unfilled), e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// Engine walks a symbol's ask book under a price ceiling, buying
// liquidity level by level until the deficit is covered, the book runs
// out, or the next level prices above the ceiling.
type Engine struct {
	ex        Exchange
	auditPath string
	log       zerolog.Logger
}

func NewEngine(ex Exchange, auditPath string, log zerolog.Logger) *Engine {
	return &Engine{ex: ex, auditPath: auditPath, log: log}
}

// Fill consumes asks toward the deficit's target. The book arrives
// ascending by price and is not re-sorted. A level priced above the
// ceiling stops the walk; the remainder is reported, never chased.
func (e *Engine) Fill(ctx context.Context, d ledger.Deficit) (Result, error) {
	sym := d.Instrument.Symbol()
	book, err := e.ex.OrderBook(ctx, sym)
	if err != nil {
		return Result{Requested: d.ToFill, Unfilled: d.ToFill}, fmt.Errorf("fetch book %s: %w", sym, err)
	}
	e.snapshotBook(book)

	res := Result{Requested: d.ToFill, Unfilled: d.ToFill}
	remaining := d.ToFill
	for _, level := range book.Asks {
		if remaining <= 0 {
			break
		}
		if level.Price > d.Ceiling {
			res.CeilingHit = true
			e.log.Warn().
				Str("symbol", sym).
				Float64("ask", fpmath.PriceToFloat(level.Price)).
				Float64("ceiling", fpmath.PriceToFloat(d.Ceiling)).
				Float64("unfilled", fpmath.QtyToFloat(remaining)).
				Msg("ask above break-even ceiling, leaving deficit unfilled")
			break
		}

		consumed := remaining
		if level.Size < consumed {
			consumed = level.Size
		}
		rounded := exchange.RoundQty(consumed)
		if rounded.IsZero() {
			// sub-0.1 dust, below the exchange's size precision
			remaining -= consumed
			res.Unfilled = remaining
			continue
		}

		qty := rounded.Shift(int32(fpmath.QtyConfig.DecimalPrecision)).IntPart()
		req := exchange.OrderRequest{
			Symbol:      sym,
			Quantity:    qty,
			OrderLinkID: uuid.NewString(),
		}
		if err := e.ex.PlaceMarketBuy(ctx, req); err != nil {
			return res, &SubmitError{Symbol: sym, Unfilled: remaining, Err: err}
		}

		res.Filled += qty
		res.Orders++
		remaining -= consumed
		res.Unfilled = remaining
		e.log.Info().
			Str("symbol", sym).
			Float64("qty", fpmath.QtyToFloat(qty)).
			Float64("level_price", fpmath.PriceToFloat(level.Price)).
			Float64("remaining", fpmath.QtyToFloat(remaining)).
			Msg("level consumed")
	}
	return res, nil
}

// bookSnapshot is the audit record of the last book fetched, one file
// overwritten per fetch.
type bookSnapshot struct {
	Symbol    string    `json:"symbol"`
	FetchedAt time.Time `json:"fetchedAt"`
	Asks      []askRow  `json:"asks"`
}

type askRow struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

func (e *Engine) snapshotBook(book exchange.Book) {
	if e.auditPath == "" {
		return
	}
	snap := bookSnapshot{Symbol: book.Symbol, FetchedAt: time.Now().UTC(), Asks: make([]askRow, 0, len(book.Asks))}
	for _, l := range book.Asks {
		snap.Asks = append(snap.Asks, askRow{Price: fpmath.PriceToFloat(l.Price), Size: fpmath.QtyToFloat(l.Size)})
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		e.log.Error().Err(err).Msg("encode book snapshot")
		return
	}
	if err := os.WriteFile(e.auditPath, payload, 0o644); err != nil {
		e.log.Error().Err(err).Str("path", e.auditPath).Msg("write book snapshot")
	}
}
