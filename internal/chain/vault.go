package chain

import (
	"context"
	"math/big"
	"time"

	"StraddleHedger/internal/event"
)

// Epoch is one vault accounting period, read-only to the hedger.
// USDDeposits is 1e6-scaled, UnderlyingPurchased 1e18-scaled.
type Epoch struct {
	ID                  uint64
	Expiry              time.Time
	USDDeposits         *big.Int
	UnderlyingPurchased *big.Int
}

// WritePosition is one liquidity contribution backing the vault's sold
// straddles. USDDeposit is 1e6-scaled. Aggregated, never mutated.
type WritePosition struct {
	Epoch      uint64
	USDDeposit *big.Int
}

// Vault is the chain collaborator interface. The contract binding
// itself lives in an external watcher; this system only consumes reads
// (here) and relayed Purchase/Bootstrap events (internal/ingestion).
type Vault interface {
	CurrentEpoch(ctx context.Context) (uint64, error)
	EpochData(ctx context.Context, id uint64) (Epoch, error)
	WritePositionsOfOwner(ctx context.Context, owner string) ([]uint64, error)
	WritePosition(ctx context.Context, id uint64) (WritePosition, error)

	// PurchaseHistory returns the epoch's Purchase events with the
	// straddle position's strike and underlying already joined in.
	PurchaseHistory(ctx context.Context, epoch uint64) ([]*event.Purchase, error)
}
