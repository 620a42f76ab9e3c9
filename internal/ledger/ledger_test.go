package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"StraddleHedger/internal/event"
	"StraddleHedger/internal/ledger"
	"StraddleHedger/internal/symbol"
	"StraddleHedger/internal/testutil"
)

// stubResolver resolves without probing any order book.
type stubResolver struct {
	unlisted map[int64]bool // strikes with no listed put
}

func (s *stubResolver) Resolve(_ context.Context, expiry time.Time, refPrice, premium int64) (symbol.Instrument, error) {
	strike := symbol.TargetStrike(refPrice, premium)
	if s.unlisted[strike] {
		return symbol.Instrument{}, &symbol.ErrNoInstrument{Tried: []string{"stub"}}
	}
	return symbol.Instrument{Asset: "ETH", Expiry: expiry, Strike: strike, Type: symbol.Put}, nil
}

// fakePositions counts lookups so tests can assert the held sample
// happens exactly once per bucket.
type fakePositions struct {
	sizes map[string]int64
	calls map[string]int
}

func newFakePositions(sizes map[string]int64) *fakePositions {
	return &fakePositions{sizes: sizes, calls: make(map[string]int)}
}

func (f *fakePositions) PositionSize(_ context.Context, sym string) (int64, error) {
	f.calls[sym]++
	return f.sizes[sym], nil
}

var expiry = time.Date(2022, time.November, 23, 8, 0, 0, 0, time.UTC)

func purchase(id, epoch uint64, costUSD, strikeUSD, underlyingUnits int64) *event.Purchase {
	return testutil.NewPurchase(id, epoch, costUSD, strikeUSD, underlyingUnits)
}

func newLedger(t *testing.T, positions *fakePositions, unlisted map[int64]bool) *ledger.Ledger {
	t.Helper()
	return ledger.New(3, expiry, &stubResolver{unlisted: unlisted}, positions, zerolog.Nop())
}

func TestApply_RequiredIsSumOfPerEventQuantities(t *testing.T) {
	l := newLedger(t, newFakePositions(nil), nil)
	share := int64(20_000_000) // 20%

	// premium per unit = 120/(2*1) = 60, strike floor((1200-60)/25)*25 = 1125
	for id := uint64(1); id <= 2; id++ {
		if _, err := l.Apply(context.Background(), purchase(id, 3, 120, 1200, 1), share); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	deficits := l.Deficits()
	if len(deficits) != 1 {
		t.Fatalf("got %d deficits, want 1", len(deficits))
	}
	// each purchase adds 1*2*20% = 0.4 puts
	if deficits[0].ToFill != 800_000 {
		t.Errorf("toFill: got %d, want 800000", deficits[0].ToFill)
	}
	if sym := deficits[0].Instrument.Symbol(); sym != "ETH-23NOV22-1125-P" {
		t.Errorf("symbol: got %s, want ETH-23NOV22-1125-P", sym)
	}
}

func TestApply_HeldSampledOncePerBucket(t *testing.T) {
	positions := newFakePositions(map[string]int64{"ETH-23NOV22-1125-P": 100_000})
	l := newLedger(t, positions, nil)

	if _, err := l.Apply(context.Background(), purchase(1, 3, 120, 1200, 1), 20_000_000); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// exchange state moves; the bucket must not resample
	positions.sizes["ETH-23NOV22-1125-P"] = 900_000
	if _, err := l.Apply(context.Background(), purchase(2, 3, 120, 1200, 1), 20_000_000); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if positions.calls["ETH-23NOV22-1125-P"] != 1 {
		t.Errorf("position queried %d times, want 1", positions.calls["ETH-23NOV22-1125-P"])
	}
	deficits := l.Deficits()
	if len(deficits) != 1 || deficits[0].ToFill != 700_000 {
		t.Errorf("deficits: got %+v, want one with toFill 700000", deficits)
	}
}

func TestApply_DuplicateAndForeignEpochIgnored(t *testing.T) {
	l := newLedger(t, newFakePositions(nil), nil)
	p := purchase(1, 3, 120, 1200, 1)

	for i := 0; i < 2; i++ {
		if _, err := l.Apply(context.Background(), p, 20_000_000); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}
	if _, err := l.Apply(context.Background(), purchase(9, 2, 120, 1200, 1), 20_000_000); err != nil {
		t.Fatalf("Apply foreign epoch: %v", err)
	}

	deficits := l.Deficits()
	if len(deficits) != 1 {
		t.Fatalf("got %d deficits, want 1", len(deficits))
	}
	if deficits[0].ToFill != 400_000 {
		t.Errorf("toFill: got %d, want 400000 (single application)", deficits[0].ToFill)
	}
}

func TestDeficits_FullyHedgedBucketOmitted(t *testing.T) {
	positions := newFakePositions(map[string]int64{"ETH-23NOV22-1125-P": 5_000_000})
	l := newLedger(t, positions, nil)

	if _, err := l.Apply(context.Background(), purchase(1, 3, 120, 1200, 1), 20_000_000); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if deficits := l.Deficits(); len(deficits) != 0 {
		t.Errorf("got %+v, want no deficits when held exceeds required", deficits)
	}
}

func TestDeficits_CeilingIsPremiumOverRequired(t *testing.T) {
	l := newLedger(t, newFakePositions(nil), nil)

	// share 50%: required = 1*2*50% = 1.0, premium slice = $60
	if _, err := l.Apply(context.Background(), purchase(1, 3, 120, 1200, 1), 50_000_000); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	deficits := l.Deficits()
	if len(deficits) != 1 {
		t.Fatalf("got %d deficits, want 1", len(deficits))
	}
	if deficits[0].Ceiling != 6000 { // $60.00
		t.Errorf("ceiling: got %d, want 6000", deficits[0].Ceiling)
	}
}

func TestAddHeld_ShrinksDeficit(t *testing.T) {
	l := newLedger(t, newFakePositions(nil), nil)
	inst, err := l.Apply(context.Background(), purchase(1, 3, 120, 1200, 1), 50_000_000)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	l.AddHeld(inst, 600_000)
	d, ok := l.Deficit(inst)
	if !ok {
		t.Fatal("expected a remaining deficit")
	}
	if d.ToFill != 400_000 {
		t.Errorf("toFill: got %d, want 400000", d.ToFill)
	}

	l.AddHeld(inst, 400_000)
	if _, ok := l.Deficit(inst); ok {
		t.Error("deficit should be gone once held reaches required")
	}
}

func TestIngestHistorical_UnresolvablePurchaseDeferred(t *testing.T) {
	l := newLedger(t, newFakePositions(nil), map[int64]bool{1125: true})

	events := []*event.Purchase{
		purchase(1, 3, 120, 1200, 1),  // strike 1125, unlisted
		purchase(2, 3, 120, 1500, 1),  // strike floor((1500-60)/25)*25 = 1425
	}
	if err := l.IngestHistorical(context.Background(), events, 20_000_000); err != nil {
		t.Fatalf("IngestHistorical: %v", err)
	}

	deficits := l.Deficits()
	if len(deficits) != 1 {
		t.Fatalf("got %d deficits, want 1 (unresolvable purchase skipped)", len(deficits))
	}
	if sym := deficits[0].Instrument.Symbol(); sym != "ETH-23NOV22-1425-P" {
		t.Errorf("symbol: got %s, want ETH-23NOV22-1425-P", sym)
	}
}
