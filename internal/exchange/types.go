package exchange

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"StraddleHedger/internal/fpmath"
)

// Level is one ask-side order book entry. Price is PriceConfig-scaled,
// Size QtyConfig-scaled.
type Level struct {
	Price int64
	Size  int64
}

// Book is the ask side of a symbol's order book. The exchange returns
// asks ascending by price; consumers rely on that ordering and do not
// re-sort.
type Book struct {
	Symbol string
	Asks   []Level
}

// Position is one open exchange position, QtyConfig-scaled size.
type Position struct {
	Symbol string
	Size   int64
}

// OrderRequest is a market IOC buy. Quantity is QtyConfig-scaled and is
// rounded down to one decimal place at submission.
type OrderRequest struct {
	Symbol      string
	Quantity    int64
	OrderLinkID string
}

// APIError is a non-success exchange response with the machine-readable
// code and message passed through.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange: retCode=%d retMsg=%q", e.Code, e.Msg)
}

// PositionSizer adapts the category-wide position listing to
// per-symbol size lookups. A symbol with no open position reads as 0.
type PositionSizer struct {
	Client   Client
	BaseCoin string
}

func (p PositionSizer) PositionSize(ctx context.Context, sym string) (int64, error) {
	positions, err := p.Client.Positions(ctx, p.BaseCoin)
	if err != nil {
		return 0, err
	}
	for _, pos := range positions {
		if pos.Symbol == sym {
			return pos.Size, nil
		}
	}
	return 0, nil
}

// RoundQty truncates a QtyConfig-scaled quantity to one decimal place,
// the exchange's order size precision. Up to 0.05 units of dust per
// fill can be left behind; callers accept that.
func RoundQty(qty int64) decimal.Decimal {
	return decimal.New(qty, -int32(fpmath.QtyConfig.DecimalPrecision)).RoundDown(1)
}

// parsePrice converts an exchange decimal string to PriceConfig scale.
func parsePrice(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	return d.Shift(int32(fpmath.PriceConfig.DecimalPrecision)).IntPart(), nil
}

// parseQty converts an exchange decimal string to QtyConfig scale.
func parseQty(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}
	return d.Shift(int32(fpmath.QtyConfig.DecimalPrecision)).IntPart(), nil
}

// parseSpot converts an exchange decimal spot price to StrikeConfig
// scale, the representation shared with on-chain reference prices.
func parseSpot(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse spot %q: %w", s, err)
	}
	return d.Shift(int32(fpmath.StrikeConfig.DecimalPrecision)).IntPart(), nil
}
