package usecase

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_ladder/internal/domain"
)

var one = decimal.NewFromInt(1)

// SafeThreshold is the price a resting order must stay beyond so it cannot cross
// the book between price sampling and submission.
func SafeThreshold(side domain.Side, current, margin decimal.Decimal) decimal.Decimal {
	if side == domain.SideBuy {
		return current.Mul(one.Sub(margin))
	}
	return current.Mul(one.Add(margin))
}

// PassesGate reports whether an already quantized price may rest on the book.
// Buys must sit strictly below both the threshold and the current price, sells strictly above.
func PassesGate(side domain.Side, price, current, margin decimal.Decimal) bool {
	threshold := SafeThreshold(side, current, margin)
	if side == domain.SideBuy {
		return price.LessThan(threshold) && price.LessThan(current)
	}
	return price.GreaterThan(threshold) && price.GreaterThan(current)
}

// ClampToGate moves a target price one tick past the safe threshold when it is
// too close to the market, then quantizes it in the side's favorable direction.
func ClampToGate(q *Quantizer, side domain.Side, target, current, margin decimal.Decimal) decimal.Decimal {
	threshold := SafeThreshold(side, current, margin)
	if side == domain.SideBuy {
		p := decimal.Min(target, threshold.Sub(q.Tick()))
		p = q.BuyPrice(p)
		for !PassesGate(side, p, current, margin) && p.IsPositive() {
			p = p.Sub(q.Tick())
		}
		return p
	}
	p := decimal.Max(target, threshold.Add(q.Tick()))
	p = q.SellPrice(p)
	for !PassesGate(side, p, current, margin) {
		p = p.Add(q.Tick())
	}
	return p
}

// OCOPrices are the three legs of a protective sell OCO.
type OCOPrices struct {
	Sell      decimal.Decimal
	Stop      decimal.Decimal
	StopLimit decimal.Decimal
}

// ValidateOCO enforces stopLimit < stop < sell with at least two ticks between each leg.
func ValidateOCO(p OCOPrices, tick decimal.Decimal) error {
	gap := tick.Mul(decimal.NewFromInt(2))
	if !p.StopLimit.IsPositive() {
		return fmt.Errorf("stop limit %s not positive: %w", p.StopLimit, domain.ErrInvalidOCO)
	}
	if p.Stop.Sub(p.StopLimit).LessThan(gap) {
		return fmt.Errorf("stop %s must exceed stop limit %s by %s: %w", p.Stop, p.StopLimit, gap, domain.ErrInvalidOCO)
	}
	if p.Sell.Sub(p.Stop).LessThan(gap) {
		return fmt.Errorf("sell %s must exceed stop %s by %s: %w", p.Sell, p.Stop, gap, domain.ErrInvalidOCO)
	}
	return nil
}

// StopPrices derives the protective stop and its limit for an entry fill.
func StopPrices(q *Quantizer, entry, stopLossMargin decimal.Decimal) (stop, limit decimal.Decimal) {
	stop = q.BuyPrice(entry.Mul(one.Sub(stopLossMargin)))
	limit = stop.Sub(q.Tick().Mul(decimal.NewFromInt(2)))
	return stop, limit
}
