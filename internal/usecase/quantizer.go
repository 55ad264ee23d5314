package usecase

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_ladder/internal/domain"
)

// Quantizer snaps prices and quantities to the symbol's exchange increments.
//
// Buy prices are floored toward cheaper, sell prices are ceiled toward richer and
// quantities are floored so an order never exceeds the configured size.
type Quantizer struct {
	tick      decimal.Decimal
	step      decimal.Decimal
	tickScale int32
	stepScale int32
}

func NewQuantizer(filters domain.ExchangeFilters) (*Quantizer, error) {
	if !filters.Valid() {
		return nil, fmt.Errorf("%s: %w", filters.Symbol, domain.ErrFiltersMissing)
	}
	tick, err := decimal.NewFromString(filters.TickSize)
	if err != nil || !tick.IsPositive() {
		return nil, fmt.Errorf("invalid tick size %q: %w", filters.TickSize, domain.ErrFiltersMissing)
	}
	step, err := decimal.NewFromString(filters.StepSize)
	if err != nil || !step.IsPositive() {
		return nil, fmt.Errorf("invalid step size %q: %w", filters.StepSize, domain.ErrFiltersMissing)
	}
	return &Quantizer{
		tick:      tick,
		step:      step,
		tickScale: Precision(filters.TickSize),
		stepScale: Precision(filters.StepSize),
	}, nil
}

// Precision is the number of digits after the decimal point in an increment string.
// "0.01000000" has precision 8, "1" has precision 0.
func Precision(increment string) int32 {
	if i := strings.IndexByte(increment, '.'); i >= 0 {
		return int32(len(increment) - i - 1)
	}
	return 0
}

// Floor rounds v down to a multiple of inc, keeping the increment's precision.
func Floor(v, inc decimal.Decimal, scale int32) decimal.Decimal {
	return v.Div(inc).Floor().Mul(inc).Truncate(scale)
}

// Ceil rounds v up to a multiple of inc.
func Ceil(v, inc decimal.Decimal, scale int32) decimal.Decimal {
	return v.Div(inc).Ceil().Mul(inc).Truncate(scale)
}

// Round rounds v to the nearest multiple of inc, halves away from zero.
func Round(v, inc decimal.Decimal, scale int32) decimal.Decimal {
	return v.Div(inc).Round(0).Mul(inc).Truncate(scale)
}

func (q *Quantizer) Tick() decimal.Decimal { return q.tick }
func (q *Quantizer) Step() decimal.Decimal { return q.step }

// BuyPrice floors a buy price to the tick grid.
func (q *Quantizer) BuyPrice(v decimal.Decimal) decimal.Decimal {
	return Floor(v, q.tick, q.tickScale)
}

// SellPrice ceils a sell price to the tick grid.
func (q *Quantizer) SellPrice(v decimal.Decimal) decimal.Decimal {
	return Ceil(v, q.tick, q.tickScale)
}

// Price quantizes in the direction that favors side.
func (q *Quantizer) Price(side domain.Side, v decimal.Decimal) decimal.Decimal {
	if side == domain.SideBuy {
		return q.BuyPrice(v)
	}
	return q.SellPrice(v)
}

// NearestPrice rounds a price to the closest tick.
func (q *Quantizer) NearestPrice(v decimal.Decimal) decimal.Decimal {
	return Round(v, q.tick, q.tickScale)
}

// Quantity floors a quantity to the lot step.
func (q *Quantizer) Quantity(v decimal.Decimal) decimal.Decimal {
	return Floor(v, q.step, q.stepScale)
}
