package units

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBaseUnitsRoundTrip(t *testing.T) {
	cases := []struct {
		in        string
		precision uint8
		want      string
	}{
		{"1", 18, "1"},
		{"2.5", 18, "2.5"},
		{"0.000000000000000001", 18, "0.000000000000000001"},
		{"65000.12345678", 8, "65000.12345678"},
		{"10", 6, "10"},
		{"1234.567891", 6, "1234.567891"},
		{"1.2345675", 6, "1.234568"},
		{"1,000.5", 6, "1000.5"},
		{".5", 6, "0.5"},
		{"7.", 6, "7"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			a := ToBaseUnits(tc.in, tc.precision)
			require.True(t, a.Known())
			got := ToHumanUnits(a.BigInt(), tc.precision)
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestToBaseUnitsBaseValue(t *testing.T) {
	a := ToBaseUnits("10", StablePrecision)
	assert.Equal(t, "10000000", a.BigInt().String())

	b := ToBaseUnits("2.5", VaultPrecision)
	assert.Equal(t, "2500000000000000000", b.BigInt().String())
}

func TestToBaseUnitsMalformed(t *testing.T) {
	for _, in := range []string{"", "   ", ".", "1.2.3", "abc", "12a", "-5", "1e5", "..", "NaN"} {
		t.Run(in, func(t *testing.T) {
			var a Amount
			require.NotPanics(t, func() { a = ToBaseUnits(in, 18) })
			assert.True(t, a.IsZero(), "input %q", in)
			assert.Equal(t, uint8(18), a.Precision())
		})
	}
}

func TestCmpRejectsMixedPrecision(t *testing.T) {
	btc := ToBaseUnits("1", VaultPrecision)
	usd := ToBaseUnits("1", StablePrecision)

	_, err := btc.Cmp(usd)
	require.ErrorIs(t, err, ErrPrecisionMismatch)

	c, err := btc.Cmp(usd.Rescale(VaultPrecision))
	require.NoError(t, err)
	assert.Equal(t, 0, c)
}

func TestUnknownArithmetic(t *testing.T) {
	_, err := Unknown(6).Add(Zero(6))
	require.ErrorIs(t, err, ErrUnknownAmount)
	assert.Equal(t, "unknown", Unknown(6).String())
	assert.Nil(t, Unknown(6).BigInt())
}

func TestAddSub(t *testing.T) {
	p := ToBaseUnits("30000", StablePrecision)
	i := ToBaseUnits("12.5", StablePrecision)
	sum, err := p.Add(i)
	require.NoError(t, err)
	assert.Equal(t, "30012.5", sum.String())

	diff, err := sum.Sub(i)
	require.NoError(t, err)
	assert.Equal(t, "30000", diff.String())
}

func TestRescaleTruncates(t *testing.T) {
	a := New(big.NewInt(123456789), 8)
	assert.Equal(t, "1.234567", a.Rescale(6).String())
	assert.Equal(t, "1.23456789", a.Rescale(18).String())
}

func TestAmountJSON(t *testing.T) {
	a := ToBaseUnits("1.5", StablePrecision)
	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"base":"1500000","human":"1.5","precision":6}`, string(data))

	var back Amount
	require.NoError(t, json.Unmarshal(data, &back))
	c, err := back.Cmp(a)
	require.NoError(t, err)
	assert.Equal(t, 0, c)

	data, err = json.Marshal(Unknown(6))
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}
