package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"StraddleHedger/internal/event"
)

// ParseRawEvent converts a relayed vault message into a typed
// event.Event. Validation happens here, before anything reaches the
// controller loop.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	switch raw.EventType {
	case "Purchase":
		return parsePurchase(raw.Data)
	case "Bootstrap":
		return parseBootstrap(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", raw.EventType)
	}
}

// --- JSON wire formats ---
// Shapes mirror the chain watcher's relay payloads. uint256 fields are
// decimal strings; cost keeps the contract's 1e26 scale, strike 1e8,
// underlying 1e18.

type purchaseJSON struct {
	StraddleID          uint64 `json:"straddle_id"`
	User                string `json:"user"`
	Cost                string `json:"cost"`
	APStrike            string `json:"ap_strike"`
	UnderlyingPurchased string `json:"underlying_purchased"`
	Epoch               uint64 `json:"epoch"`
	BlockNumber         int64  `json:"block_number"`
	TimestampS          int64  `json:"timestamp_s"`
}

func parsePurchase(data []byte) (*event.Purchase, error) {
	var j purchaseJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Purchase: %w", err)
	}

	cost, ok := new(big.Int).SetString(j.Cost, 10)
	if !ok {
		return nil, fmt.Errorf("parse cost %q", j.Cost)
	}
	strike, ok := new(big.Int).SetString(j.APStrike, 10)
	if !ok {
		return nil, fmt.Errorf("parse ap_strike %q", j.APStrike)
	}
	if !strike.IsInt64() {
		return nil, fmt.Errorf("ap_strike %q overflows int64", j.APStrike)
	}
	underlying, ok := new(big.Int).SetString(j.UnderlyingPurchased, 10)
	if !ok {
		return nil, fmt.Errorf("parse underlying_purchased %q", j.UnderlyingPurchased)
	}
	if underlying.Sign() <= 0 {
		return nil, fmt.Errorf("non-positive underlying_purchased %q", j.UnderlyingPurchased)
	}

	return &event.Purchase{
		StraddleID:          j.StraddleID,
		User:                j.User,
		Cost:                cost,
		Strike:              strike.Int64(),
		UnderlyingPurchased: underlying,
		Epoch:               j.Epoch,
		BlockNumber:         j.BlockNumber,
		Timestamp:           time.Unix(j.TimestampS, 0).UTC(),
	}, nil
}

type bootstrapJSON struct {
	Epoch       uint64 `json:"epoch"`
	BlockNumber int64  `json:"block_number"`
	TimestampS  int64  `json:"timestamp_s"`
}

func parseBootstrap(data []byte) (*event.Bootstrap, error) {
	var j bootstrapJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Bootstrap: %w", err)
	}
	return &event.Bootstrap{
		Epoch:       j.Epoch,
		BlockNumber: j.BlockNumber,
		Timestamp:   time.Unix(j.TimestampS, 0).UTC(),
	}, nil
}
