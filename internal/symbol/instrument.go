package symbol

import (
	"fmt"
	"strings"
	"time"
)

// OptionType distinguishes puts from calls.
type OptionType string

const (
	Put  OptionType = "P"
	Call OptionType = "C"
)

// Instrument identifies one exchange-listed option. Buckets and order
// routing key on this typed identifier rather than a raw symbol string;
// formatting and parsing live here and nowhere else.
type Instrument struct {
	Asset  string    // base asset, e.g. "ETH"
	Expiry time.Time // expiry date, UTC
	Strike int64     // whole dollars
	Type   OptionType
}

// Symbol renders the exchange symbol, e.g. "ETH-23NOV22-1150-P".
// Day-of-month carries no leading zero and the month abbreviation is
// uppercase, matching the exchange's listing format.
func (i Instrument) Symbol() string {
	date := strings.ToUpper(i.Expiry.UTC().Format("2Jan06"))
	return fmt.Sprintf("%s-%s-%d-%s", i.Asset, date, i.Strike, i.Type)
}

func (i Instrument) String() string {
	return i.Symbol()
}
