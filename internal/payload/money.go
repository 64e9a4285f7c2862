package payload

import (
	"github.com/shopspring/decimal"
)

// Amount is a major-unit display value derived from an integer count of minor units.
// It marshals as a JSON number with two decimals, e.g. 1000 cents -> 10.00.
type Amount struct {
	d decimal.Decimal
}

func FromCents(cents int64) Amount {
	return Amount{d: decimal.New(cents, -2)}
}

func (a Amount) String() string {
	return a.d.StringFixed(2)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.d.StringFixed(2)), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	return a.d.UnmarshalJSON(data)
}

// Cents converts back to minor units.
func (a Amount) Cents() int64 {
	return a.d.Shift(2).IntPart()
}
