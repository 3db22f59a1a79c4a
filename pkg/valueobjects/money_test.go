package valueobjects

import (
	"encoding/json"
	"testing"

	apperrors "github.com/NomadCrew/nomad-crew-ledger/errors"
	"github.com/NomadCrew/nomad-crew-ledger/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.IsTest = true
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Money
		wantErr bool
	}{
		{"whole", "90", 9000, false},
		{"two decimals", "33.34", 3334, false},
		{"one decimal", "0.5", 50, false},
		{"trailing zeros", "12.500", 1250, false},
		{"negative", "-30.00", -3000, false},
		{"too precise", "1.005", 0, true},
		{"garbage", "abc", 0, true},
		{"largest accepted", "100000000000.00", 10_000_000_000_000, false},
		{"largest negative", "-100000000000.00", -10_000_000_000_000, false},
		{"one cent over cap", "100000000000.01", 0, true},
		{"wraps int64", "50000000000000000.00", 0, true},
		{"overflow", "92233720368547758.08", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMoney(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				var appErr *apperrors.AppError
				require.ErrorAs(t, err, &appErr)
				assert.Equal(t, apperrors.ValidationError, appErr.Type)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "33.34", Money(3334).String())
	assert.Equal(t, "-30.00", Money(-3000).String())
	assert.Equal(t, "0.00", Zero.String())
	assert.Equal(t, "0.07", Money(7).String())
	want, err := decimal.NewFromString("33.34")
	require.NoError(t, err)
	assert.True(t, Money(3334).Decimal().Equal(want))
}

func TestMoney_SplitEvenly(t *testing.T) {
	share, remainder, err := Money(10000).SplitEvenly(3)
	require.NoError(t, err)
	assert.Equal(t, Money(3333), share)
	assert.Equal(t, Money(1), remainder)
	assert.Equal(t, Money(10000), share*3+remainder)

	share, remainder, err = Money(9000).SplitEvenly(3)
	require.NoError(t, err)
	assert.Equal(t, Money(3000), share)
	assert.Equal(t, Zero, remainder)

	_, _, err = Money(100).SplitEvenly(0)
	assert.Error(t, err)

	_, _, err = Money(-100).SplitEvenly(2)
	assert.Error(t, err)
}

func TestMoney_JSON(t *testing.T) {
	data, err := json.Marshal(Money(3334))
	require.NoError(t, err)
	assert.JSONEq(t, `"33.34"`, string(data))

	var fromNumber Money
	require.NoError(t, json.Unmarshal([]byte(`90.5`), &fromNumber))
	assert.Equal(t, Money(9050), fromNumber)

	var fromString Money
	require.NoError(t, json.Unmarshal([]byte(`"100.00"`), &fromString))
	assert.Equal(t, Money(10000), fromString)

	var bad Money
	assert.Error(t, json.Unmarshal([]byte(`"1.001"`), &bad))
}

func TestMoneyHelpers(t *testing.T) {
	assert.Equal(t, Money(30), Money(-30).Abs())
	assert.Equal(t, Money(30), Money(30).Abs())
	assert.Equal(t, Money(10), Min(10, 20))
	assert.True(t, Money(1).IsPositive())
	assert.True(t, Money(-1).IsNegative())
	assert.True(t, Zero.IsZero())
	assert.Equal(t, int64(42), NewMoneyFromMinor(42).Minor())
}
