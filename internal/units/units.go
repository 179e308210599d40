// Package units converts token amounts between human decimal strings and
// fixed-point base units. Every Amount carries its precision so values of
// different tokens cannot be compared or combined by accident.
package units

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Token precisions used by the protocol contracts.
const (
	CollateralPrecision uint8 = 18
	VaultPrecision      uint8 = 18
	StablePrecision     uint8 = 6
	SharePrecision      uint8 = 18
	PricePrecision      uint8 = 8
)

var (
	// ErrPrecisionMismatch is returned when two amounts of different
	// precision are compared or combined without an explicit Rescale.
	ErrPrecisionMismatch = errors.New("units: precision mismatch")
	// ErrUnknownAmount is returned when arithmetic touches an unknown amount.
	ErrUnknownAmount = errors.New("units: unknown amount")
)

// Amount is a fixed-point token amount in base units.
type Amount struct {
	value     *big.Int
	precision uint8
	known     bool
}

// New wraps base units at the given precision. A nil value yields Unknown.
func New(base *big.Int, precision uint8) Amount {
	if base == nil {
		return Unknown(precision)
	}
	return Amount{value: new(big.Int).Set(base), precision: precision, known: true}
}

// Zero returns the zero-amount sentinel at the given precision.
func Zero(precision uint8) Amount {
	return Amount{value: new(big.Int), precision: precision, known: true}
}

// Unknown returns an amount whose value could not be determined.
func Unknown(precision uint8) Amount {
	return Amount{precision: precision}
}

// Known reports whether the amount carries a value.
func (a Amount) Known() bool { return a.known }

// Precision returns the number of decimal places of the base unit.
func (a Amount) Precision() uint8 { return a.precision }

// BigInt returns a copy of the base-unit value, or nil when unknown.
func (a Amount) BigInt() *big.Int {
	if !a.known {
		return nil
	}
	return new(big.Int).Set(a.value)
}

// IsZero reports whether the amount is known and equal to zero.
func (a Amount) IsZero() bool {
	return a.known && a.value.Sign() == 0
}

// Sign returns -1, 0 or +1. Unknown amounts report 0.
func (a Amount) Sign() int {
	if !a.known {
		return 0
	}
	return a.value.Sign()
}

// Cmp compares two amounts of the same precision.
func (a Amount) Cmp(b Amount) (int, error) {
	if err := a.compatible(b); err != nil {
		return 0, err
	}
	return a.value.Cmp(b.value), nil
}

// Add returns a+b.
func (a Amount) Add(b Amount) (Amount, error) {
	if err := a.compatible(b); err != nil {
		return Amount{}, err
	}
	return Amount{value: new(big.Int).Add(a.value, b.value), precision: a.precision, known: true}, nil
}

// Sub returns a-b.
func (a Amount) Sub(b Amount) (Amount, error) {
	if err := a.compatible(b); err != nil {
		return Amount{}, err
	}
	return Amount{value: new(big.Int).Sub(a.value, b.value), precision: a.precision, known: true}, nil
}

// Rescale converts the amount to another precision. Reducing precision
// truncates toward zero.
func (a Amount) Rescale(precision uint8) Amount {
	if !a.known {
		return Unknown(precision)
	}
	if precision == a.precision {
		return a
	}
	v := new(big.Int).Set(a.value)
	if precision > a.precision {
		v.Mul(v, pow10(precision-a.precision))
	} else {
		v.Quo(v, pow10(a.precision-precision))
	}
	return Amount{value: v, precision: precision, known: true}
}

// Decimal returns the human value. Unknown amounts return zero.
func (a Amount) Decimal() decimal.Decimal {
	if !a.known {
		return decimal.Zero
	}
	return ToHumanUnits(a.value, a.precision)
}

// String renders the human value, or "unknown".
func (a Amount) String() string {
	if !a.known {
		return "unknown"
	}
	return a.Decimal().String()
}

type amountJSON struct {
	Base      string `json:"base"`
	Human     string `json:"human"`
	Precision uint8  `json:"precision"`
}

// MarshalJSON encodes known amounts as base/human pairs and unknown ones as null.
func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.known {
		return []byte("null"), nil
	}
	return json.Marshal(amountJSON{
		Base:      a.value.String(),
		Human:     a.String(),
		Precision: a.precision,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (a *Amount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = Amount{}
		return nil
	}
	var raw amountJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("units: decode amount: %w", err)
	}
	v, ok := new(big.Int).SetString(raw.Base, 10)
	if !ok {
		return fmt.Errorf("units: invalid base value %q", raw.Base)
	}
	*a = New(v, raw.Precision)
	return nil
}

func (a Amount) compatible(b Amount) error {
	if !a.known || !b.known {
		return ErrUnknownAmount
	}
	if a.precision != b.precision {
		return fmt.Errorf("%w: %d vs %d", ErrPrecisionMismatch, a.precision, b.precision)
	}
	return nil
}

// ToBaseUnits parses a human decimal string into base units at precision.
// Thousands separators are ignored. Empty, negative, non-numeric,
// multi-separator or separator-only input yields Zero(precision). Digits
// beyond precision are rounded half-up.
func ToBaseUnits(human string, precision uint8) Amount {
	s := strings.ReplaceAll(strings.TrimSpace(human), ",", "")
	if !isPlainDecimal(s) {
		return Zero(precision)
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	s = strings.TrimSuffix(s, ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero(precision)
	}
	base := d.Shift(int32(precision)).Round(0).BigInt()
	return Amount{value: base, precision: precision, known: true}
}

// ToHumanUnits renders base units at precision as an exact decimal.
func ToHumanUnits(base *big.Int, precision uint8) decimal.Decimal {
	if base == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(base, -int32(precision))
}

// FromDecimal converts a human decimal into base units, rounding half-up.
func FromDecimal(d decimal.Decimal, precision uint8) Amount {
	if d.Sign() < 0 {
		return Zero(precision)
	}
	return Amount{value: d.Shift(int32(precision)).Round(0).BigInt(), precision: precision, known: true}
}

// isPlainDecimal accepts digits with at most one '.' and at least one digit.
func isPlainDecimal(s string) bool {
	if s == "" {
		return false
	}
	digits, dots := 0, 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
			dots++
			if dots > 1 {
				return false
			}
		default:
			return false
		}
	}
	return digits > 0
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
