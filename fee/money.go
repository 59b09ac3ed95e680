/*
money.go - Fixed-point money value type

PURPOSE:
  Every amount the engine touches (course fee, installment, payment line,
  ledger entry) is a Money. It wraps decimal.Decimal so that splitting a
  fee into installments never produces a floating-point gap.

ROUNDING RULES:
  - Inputs are rounded half-up to cents (NewMoney, MoneyFromDecimal).
  - Splitting floors to cents (DivFloor); the caller pushes the remainder
    onto the last installment so the parts always sum to the whole.
  - String() is always two decimal places: "333.33".

ENCODING:
  JSON: a quoted string ("1000.00") so clients never parse it as float.
  SQL:  stored as TEXT via String(), read back with NewMoney.

SEE ALSO:
  - schedule.go: DivFloor + remainder correction
  - allocation.go: Min/Sub walk over outstanding amounts
*/
package fee

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a non-floating monetary amount with cent precision.
type Money struct {
	Value decimal.Decimal
}

const centPlaces = 2

// NewMoney parses a decimal string such as "5500" or "333.335".
func NewMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money %q: %w", s, err)
	}
	return MoneyFromDecimal(d), nil
}

// MustMoney is NewMoney for constants and tests. Unparseable input yields zero.
func MustMoney(s string) Money {
	m, err := NewMoney(s)
	if err != nil {
		return Zero()
	}
	return m
}

func MoneyFromInt(v int64) Money               { return Money{Value: decimal.NewFromInt(v)} }
func MoneyFromDecimal(d decimal.Decimal) Money { return Money{Value: d.Round(centPlaces)} }
func Zero() Money                              { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(n int) Money   { return Money{Value: m.Value.Mul(decimal.NewFromInt(int64(n)))} }
func (m Money) Neg() Money        { return Money{Value: m.Value.Neg()} }

// DivFloor divides into n parts and floors the result to cents.
// n must be >= 1.
func (m Money) DivFloor(n int) Money {
	return Money{Value: m.Value.Div(decimal.NewFromInt(int64(n))).RoundFloor(centPlaces)}
}

func (m Money) IsZero() bool                    { return m.Value.IsZero() }
func (m Money) IsPositive() bool                { return m.Value.IsPositive() }
func (m Money) IsNegative() bool                { return m.Value.IsNegative() }
func (m Money) Equal(o Money) bool              { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool        { return m.Value.GreaterThan(o.Value) }
func (m Money) GreaterThanOrEqual(o Money) bool { return m.Value.GreaterThanOrEqual(o.Value) }
func (m Money) LessThan(o Money) bool           { return m.Value.LessThan(o.Value) }

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

func (m Money) Max(o Money) Money {
	if m.GreaterThan(o) {
		return m
	}
	return o
}

// FloorZero clamps negative amounts to zero.
func (m Money) FloorZero() Money { return m.Max(Zero()) }

func (m Money) String() string { return m.Value.StringFixed(centPlaces) }

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both "12.50" and 12.5.
func (m *Money) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid money: %s", string(data))
		}
		s = n.String()
	}
	if s == "" {
		*m = Zero()
		return nil
	}
	parsed, err := NewMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// SumMoney adds amounts together.
func SumMoney(amounts ...Money) Money {
	total := Zero()
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
