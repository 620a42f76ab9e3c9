package event

import (
	"fmt"
	"math/big"
	"time"
)

// Type discriminator for chain event payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypePurchase
	TypeBootstrap
)

func (t Type) String() string {
	switch t {
	case TypePurchase:
		return "Purchase"
	case TypeBootstrap:
		return "Bootstrap"
	default:
		return "Unknown"
	}
}

// Event is the interface all chain event payloads implement.
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() Type

	// SourceSequence returns the chain ordering key (block number)
	SourceSequence() int64
}

// Purchase represents a buyer taking a straddle from the vault.
// All monetary fields keep the contract's integer scaling: Cost is
// 1e26-scaled USD, Strike 1e8-scaled USD, UnderlyingPurchased
// 1e18-scaled units. Immutable once observed; the chain is the source
// of truth.
type Purchase struct {
	StraddleID          uint64
	User                string // buyer address, 0x-hex
	Cost                *big.Int
	Strike              int64 // apStrike, 1e8-scaled
	UnderlyingPurchased *big.Int
	Epoch               uint64
	BlockNumber         int64
	Timestamp           time.Time
}

func (p *Purchase) IdempotencyKey() string {
	return fmt.Sprintf("purchase:%d:%d", p.Epoch, p.StraddleID)
}

func (p *Purchase) EventType() Type {
	return TypePurchase
}

func (p *Purchase) SourceSequence() int64 {
	return p.BlockNumber
}

// Bootstrap signals the vault rolling into a new epoch. Carries no
// payload beyond the new epoch id; receipt tears down all per-epoch
// hedge state.
type Bootstrap struct {
	Epoch       uint64
	BlockNumber int64
	Timestamp   time.Time
}

func (b *Bootstrap) IdempotencyKey() string {
	return fmt.Sprintf("bootstrap:%d", b.Epoch)
}

func (b *Bootstrap) EventType() Type {
	return TypeBootstrap
}

func (b *Bootstrap) SourceSequence() int64 {
	return b.BlockNumber
}
