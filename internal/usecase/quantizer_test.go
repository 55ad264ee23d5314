package usecase

import (
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/grid_ladder/internal/domain"
)

func TestPrecision(t *testing.T) {
	tests := []struct {
		inc  string
		want int32
	}{
		{"0.01000000", 8},
		{"0.01", 2},
		{"1", 0},
		{"1.0", 1},
		{"0.00001", 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Precision(tt.inc), tt.inc)
	}
}

func TestQuantizer_Directions(t *testing.T) {
	q, err := NewQuantizer(domain.ExchangeFilters{TickSize: "0.01000000", StepSize: "0.00100000"})
	require.NoError(t, err)

	assertDec(t, "100.12", q.BuyPrice(dec("100.129")))
	assertDec(t, "100.13", q.SellPrice(dec("100.121")))
	assertDec(t, "100.13", q.NearestPrice(dec("100.125")))
	assertDec(t, "1.234", q.Quantity(dec("1.2349")))
	assertDec(t, "100.12", q.Price(domain.SideBuy, dec("100.129")))
	assertDec(t, "100.13", q.Price(domain.SideSell, dec("100.121")))

	// Values already on the grid are left alone by every direction.
	assertDec(t, "100.12", q.SellPrice(dec("100.12")))
	assertDec(t, "100.12", q.BuyPrice(dec("100.12")))
}

func TestQuantizer_Idempotent(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for _, f := range []domain.ExchangeFilters{
		{TickSize: "0.01", StepSize: "0.001"},
		{TickSize: "0.00010000", StepSize: "1.00000000"},
		{TickSize: "0.5", StepSize: "0.05"},
	} {
		q, err := NewQuantizer(f)
		require.NoError(t, err)
		for i := 0; i < 500; i++ {
			x := decimal.NewFromFloat(r.Float64() * 50000).Round(6)
			for _, fn := range []func(decimal.Decimal) decimal.Decimal{q.BuyPrice, q.SellPrice, q.NearestPrice, q.Quantity} {
				once := fn(x)
				assert.True(t, once.Equal(fn(once)), "q(q(%s)) != q(%s)", x, x)
			}
			assert.True(t, q.BuyPrice(x).Mod(q.Tick()).IsZero())
			assert.True(t, q.SellPrice(x).Mod(q.Tick()).IsZero())
			assert.True(t, q.Quantity(x).Mod(q.Step()).IsZero())
			assert.True(t, q.BuyPrice(x).LessThanOrEqual(x))
			assert.True(t, q.SellPrice(x).GreaterThanOrEqual(x))
		}
	}
}

func TestNewQuantizer_RejectsMissingFilters(t *testing.T) {
	_, err := NewQuantizer(domain.ExchangeFilters{Symbol: "BTCUSDT", TickSize: "0.01"})
	assert.ErrorIs(t, err, domain.ErrFiltersMissing)

	_, err = NewQuantizer(domain.ExchangeFilters{TickSize: "0", StepSize: "0.01"})
	assert.ErrorIs(t, err, domain.ErrFiltersMissing)

	_, err = NewQuantizer(domain.ExchangeFilters{TickSize: "abc", StepSize: "0.01"})
	assert.ErrorIs(t, err, domain.ErrFiltersMissing)
}
