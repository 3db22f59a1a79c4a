// pkg/valueobjects/money.go
package valueobjects

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/NomadCrew/nomad-crew-ledger/errors"
	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places carried by Money.
const Scale = 2

const (
	ErrInvalidAmount  = "INVALID_AMOUNT"
	ErrAmountOverflow = "AMOUNT_OVERFLOW"
)

// MaxMinorUnits bounds the magnitude of any parsed amount (100 billion major
// units). Balances are sums of many amounts and must stay far from the int64
// limit.
const MaxMinorUnits int64 = 10_000_000_000_000

var (
	minorPerMajor = decimal.New(1, Scale)
	maxMinor      = decimal.NewFromInt(MaxMinorUnits)
	minMinor      = decimal.NewFromInt(-MaxMinorUnits)
)

// Money is a signed monetary quantity held in minor units (cents), so ledger
// arithmetic is exact integer arithmetic.
type Money int64

// Zero is the zero amount.
const Zero Money = 0

// NewMoney converts a decimal amount into Money. Amounts with more than two
// decimal places are rejected rather than rounded.
func NewMoney(amount decimal.Decimal) (Money, error) {
	minor := amount.Mul(minorPerMajor)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, errors.ValidationFailed(
			ErrInvalidAmount,
			"amount cannot have more than 2 decimal places",
		)
	}
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return 0, errors.ValidationFailed(
			ErrAmountOverflow,
			fmt.Sprintf("amount %s is out of range", amount.String()),
		)
	}
	return Money(minor.IntPart()), nil
}

// InRange reports whether m is within MaxMinorUnits of zero.
func (m Money) InRange() bool {
	return m.Minor() <= MaxMinorUnits && m.Minor() >= -MaxMinorUnits
}

// ParseMoney parses a decimal string such as "33.34".
func ParseMoney(amount string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, errors.ValidationFailed("invalid amount format", err.Error())
	}
	return NewMoney(d)
}

// NewMoneyFromMinor wraps an amount already expressed in minor units.
func NewMoneyFromMinor(minor int64) Money {
	return Money(minor)
}

// Minor returns the amount in minor units.
func (m Money) Minor() int64 {
	return int64(m)
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -Scale)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(Scale)
}

func (m Money) IsZero() bool     { return m == 0 }
func (m Money) IsPositive() bool { return m > 0 }
func (m Money) IsNegative() bool { return m < 0 }

func (m Money) Abs() Money {
	if m < 0 {
		return -m
	}
	return m
}

// Min returns the smaller of two amounts.
func Min(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}

// SplitEvenly divides m into n parts of floor(m/n) minor units and reports
// the remainder that one designated part must absorb so the parts sum to m.
// m must be non-negative.
func (m Money) SplitEvenly(n int) (share Money, remainder Money, err error) {
	if n <= 0 {
		return 0, 0, errors.ValidationFailed(
			"invalid split",
			"number of parts must be positive",
		)
	}
	if m < 0 {
		return 0, 0, errors.ValidationFailed(
			ErrInvalidAmount,
			"cannot split a negative amount",
		)
	}
	share = m / Money(n)
	remainder = m - share*Money(n)
	return share, remainder, nil
}

// MarshalJSON renders Money as a fixed two-decimal string, e.g. "33.34".
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a JSON number or a decimal string.
func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return errors.ValidationFailed("invalid amount format", err.Error())
	}
	parsed, err := NewMoney(d)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
