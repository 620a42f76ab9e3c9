package testutil

import (
	"math/big"
	"os"
	"testing"
	"time"

	"StraddleHedger/internal/event"
)

// TestNATSURL returns the NATS URL for integration tests.
func TestNATSURL() string {
	if url := os.Getenv("TEST_NATS_URL"); url != "" {
		return url
	}
	return "nats://localhost:4223"
}

// RequireIntegration skips the test if not running integration tests.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") == "" {
		t.Skip("skipping integration test (set INTEGRATION_TEST=1 to run)")
	}
}

// BigScaled returns units * 10^decimals, for building contract-scaled
// integers in tests.
func BigScaled(units int64, decimals int) *big.Int {
	v := big.NewInt(units)
	return v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}

// NewPurchase builds a purchase event from whole-unit inputs: cost in
// USD (1e26 on the wire), strike in USD (1e8), underlying in units
// (1e18).
func NewPurchase(id, epoch uint64, costUSD, strikeUSD, underlyingUnits int64) *event.Purchase {
	return &event.Purchase{
		StraddleID:          id,
		User:                "0xbuyer",
		Cost:                BigScaled(costUSD, 26),
		Strike:              strikeUSD * 1e8,
		UnderlyingPurchased: BigScaled(underlyingUnits, 18),
		Epoch:               epoch,
		BlockNumber:         int64(1000 + id),
		Timestamp:           time.Unix(1669190400, 0).UTC(),
	}
}
