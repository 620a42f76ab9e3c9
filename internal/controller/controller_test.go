package controller_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"StraddleHedger/internal/chain"
	"StraddleHedger/internal/controller"
	"StraddleHedger/internal/event"
	"StraddleHedger/internal/fill"
	"StraddleHedger/internal/fpmath"
	"StraddleHedger/internal/ingestion"
	"StraddleHedger/internal/ledger"
	"StraddleHedger/internal/symbol"
	"StraddleHedger/internal/testutil"
)

var expiry = time.Date(2022, time.November, 23, 8, 0, 0, 0, time.UTC)

type fakeVault struct {
	mu             sync.Mutex
	currentEpoch   uint64
	epochs         map[uint64]chain.Epoch
	ownerPositions []uint64
	writePositions map[uint64]chain.WritePosition
	history        map[uint64][]*event.Purchase
	historyCalls   []uint64
}

func (v *fakeVault) CurrentEpoch(context.Context) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentEpoch, nil
}

func (v *fakeVault) EpochData(_ context.Context, id uint64) (chain.Epoch, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	data, ok := v.epochs[id]
	if !ok {
		return chain.Epoch{}, fmt.Errorf("unknown epoch %d", id)
	}
	return data, nil
}

func (v *fakeVault) WritePositionsOfOwner(context.Context, string) ([]uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ownerPositions, nil
}

func (v *fakeVault) WritePosition(_ context.Context, id uint64) (chain.WritePosition, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	wp, ok := v.writePositions[id]
	if !ok {
		return chain.WritePosition{}, fmt.Errorf("unknown write position %d", id)
	}
	return wp, nil
}

func (v *fakeVault) PurchaseHistory(_ context.Context, epoch uint64) ([]*event.Purchase, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.historyCalls = append(v.historyCalls, epoch)
	return v.history[epoch], nil
}

func (v *fakeVault) historyQueries() []uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]uint64(nil), v.historyCalls...)
}

type fakeMarket struct{ price int64 }

func (f *fakeMarket) LastPrice(context.Context, string) (int64, error) {
	return f.price, nil
}

func (f *fakeMarket) Instruments(context.Context, string) ([]string, error) {
	return []string{"ETH-23NOV22-1125-P", "ETH-23NOV22-1150-P"}, nil
}

type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, expiry time.Time, refPrice, premium int64) (symbol.Instrument, error) {
	return symbol.Instrument{
		Asset:  "ETH",
		Expiry: expiry,
		Strike: symbol.TargetStrike(refPrice, premium),
		Type:   symbol.Put,
	}, nil
}

type zeroPositions struct{}

func (zeroPositions) PositionSize(context.Context, string) (int64, error) {
	return 0, nil
}

// fakeFiller fully fills every deficit it is handed.
type fakeFiller struct {
	mu    sync.Mutex
	calls []ledger.Deficit
}

func (f *fakeFiller) Fill(_ context.Context, d ledger.Deficit) (fill.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, d)
	return fill.Result{Requested: d.ToFill, Filled: d.ToFill, Orders: 1}, nil
}

func (f *fakeFiller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func bigScaled(units int64, decimals int) *big.Int {
	return testutil.BigScaled(units, decimals)
}

func healthyVault() *fakeVault {
	return &fakeVault{
		currentEpoch: 3,
		epochs: map[uint64]chain.Epoch{
			3: {
				ID:                  3,
				Expiry:              expiry,
				USDDeposits:         bigScaled(10, 6), // $10
				UnderlyingPurchased: bigScaled(1, 18),
			},
		},
		ownerPositions: []uint64{11, 12},
		writePositions: map[uint64]chain.WritePosition{
			11: {Epoch: 3, USDDeposit: bigScaled(2, 6)}, // 20% share
			12: {Epoch: 2, USDDeposit: bigScaled(5, 6)}, // stale epoch, ignored
		},
		history: map[uint64][]*event.Purchase{
			3: {testutil.NewPurchase(1, 3, 120, 1200, 1)},
		},
	}
}

func newController(vault *fakeVault, filler *fakeFiller, events chan ingestion.RawEvent) *controller.Controller {
	return controller.New(
		controller.Config{WriterAddress: "0xwriter", Asset: "ETH", SpotSymbol: "ETHUSDT"},
		vault,
		&fakeMarket{price: 1200 * fpmath.StrikeConfig.Scale},
		stubResolver{},
		zeroPositions{},
		filler,
		events,
		nil,
		nil,
		zerolog.Nop(),
	)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRun_ReplaysHistoryThenFills(t *testing.T) {
	vault := healthyVault()
	filler := &fakeFiller{}
	events := make(chan ingestion.RawEvent)
	c := newController(vault, filler, events)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	waitFor(t, "initial fill pass", func() bool { return filler.callCount() == 1 })
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: %v", err)
	}

	d := filler.calls[0]
	// premium 120/(2*1)=60, strike floor((1200-60)/25)*25 = 1125
	if sym := d.Instrument.Symbol(); sym != "ETH-23NOV22-1125-P" {
		t.Errorf("filled symbol: got %s", sym)
	}
	// 1 unit * 2 * 20% share
	if d.ToFill != 400_000 {
		t.Errorf("toFill: got %d, want 400000", d.ToFill)
	}
	// ceiling = ($120 * 20%) / 0.4 = $60
	if d.Ceiling != 6000 {
		t.Errorf("ceiling: got %d, want 6000", d.Ceiling)
	}
}

func TestRun_FatalPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*fakeVault)
		wantErr error
	}{
		{
			"no write positions at all",
			func(v *fakeVault) { v.ownerPositions = nil },
			controller.ErrNoWritePositions,
		},
		{
			"none for current epoch",
			func(v *fakeVault) {
				v.writePositions = map[uint64]chain.WritePosition{
					11: {Epoch: 1, USDDeposit: bigScaled(2, 6)},
					12: {Epoch: 2, USDDeposit: bigScaled(5, 6)},
				}
			},
			controller.ErrNoEpochWritePositions,
		},
		{
			"zero epoch deposits",
			func(v *fakeVault) {
				data := v.epochs[3]
				data.USDDeposits = big.NewInt(0)
				v.epochs[3] = data
			},
			fpmath.ErrZeroDeposits,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vault := healthyVault()
			tt.mutate(vault)
			c := newController(vault, &fakeFiller{}, make(chan ingestion.RawEvent))

			err := c.Run(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run: got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRun_LivePurchaseFillsImmediately(t *testing.T) {
	vault := healthyVault()
	vault.history = nil // start with an empty epoch
	filler := &fakeFiller{}
	events := make(chan ingestion.RawEvent)
	c := newController(vault, filler, events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	waitFor(t, "active state", func() bool { return c.State() == controller.StateActive })

	events <- ingestion.RawEvent{
		Subject:   "vault.purchases.3",
		EventType: "Purchase",
		Data: []byte(`{
			"straddle_id": 5,
			"user": "0xbuyer",
			"cost": "12000000000000000000000000000",
			"ap_strike": "120000000000",
			"underlying_purchased": "1000000000000000000",
			"epoch": 3,
			"block_number": 16001300,
			"timestamp_s": 1669190400
		}`),
		Timestamp: time.Now(),
	}

	waitFor(t, "live fill", func() bool { return filler.callCount() == 1 })
	if sym := filler.calls[0].Instrument.Symbol(); sym != "ETH-23NOV22-1125-P" {
		t.Errorf("filled symbol: got %s", sym)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_BootstrapDiscardsStateAndReloads(t *testing.T) {
	vault := healthyVault()
	filler := &fakeFiller{}
	events := make(chan ingestion.RawEvent)
	c := newController(vault, filler, events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	waitFor(t, "active state", func() bool { return filler.callCount() == 1 })

	// roll the vault into epoch 4 before delivering the signal
	vault.mu.Lock()
	vault.currentEpoch = 4
	vault.epochs[4] = chain.Epoch{
		ID:          4,
		Expiry:      expiry.AddDate(0, 0, 7),
		USDDeposits: bigScaled(10, 6),
	}
	vault.writePositions[13] = chain.WritePosition{Epoch: 4, USDDeposit: bigScaled(2, 6)}
	vault.ownerPositions = append(vault.ownerPositions, 13)
	vault.mu.Unlock()

	events <- ingestion.RawEvent{
		Subject:   "vault.bootstrap.4",
		EventType: "Bootstrap",
		Data:      []byte(`{"epoch": 4, "block_number": 16002000, "timestamp_s": 1669276800}`),
		Timestamp: time.Now(),
	}

	waitFor(t, "reload", func() bool {
		queries := vault.historyQueries()
		return len(queries) == 2 && queries[1] == 4 && c.State() == controller.StateActive
	})

	// epoch 4 has no purchases: the old epoch's bucket must not resurface
	if n := filler.callCount(); n != 1 {
		t.Errorf("fill calls after reset: got %d, want 1", n)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_StaleBootstrapIgnored(t *testing.T) {
	vault := healthyVault()
	filler := &fakeFiller{}
	events := make(chan ingestion.RawEvent)
	c := newController(vault, filler, events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	waitFor(t, "active state", func() bool { return c.State() == controller.StateActive })

	events <- ingestion.RawEvent{
		Subject:   "vault.bootstrap.3",
		EventType: "Bootstrap",
		Data:      []byte(`{"epoch": 3, "block_number": 16001999, "timestamp_s": 1669276700}`),
		Timestamp: time.Now(),
	}
	// a following purchase proves the loop is still alive on epoch 3
	events <- ingestion.RawEvent{
		Subject:   "vault.purchases.3",
		EventType: "Purchase",
		Data: []byte(`{
			"straddle_id": 6,
			"user": "0xbuyer",
			"cost": "12000000000000000000000000000",
			"ap_strike": "120000000000",
			"underlying_purchased": "1000000000000000000",
			"epoch": 3,
			"block_number": 16001400,
			"timestamp_s": 1669190500
		}`),
		Timestamp: time.Now(),
	}

	waitFor(t, "post-bootstrap fill", func() bool { return filler.callCount() == 2 })
	if queries := vault.historyQueries(); len(queries) != 1 {
		t.Errorf("history queried %d times, want 1 (no reload)", len(queries))
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: %v", err)
	}
}
