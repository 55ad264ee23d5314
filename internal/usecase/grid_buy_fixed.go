package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_ladder/internal/domain"
)

const (
	VariantGridBuyFixed  = "gridBuyMarginFixed"
	VariantGridSellFixed = "gridSellMarginFixed"
)

// FixedGridConfig configures the fixed-level variants.
type FixedGridConfig struct {
	LoopConfig    `yaml:",inline"`
	OrdersLevels  []domain.OrderLevel `yaml:"ordersLevels" json:"ordersLevels"`
	GridCount     int                 `yaml:"gridCount" json:"gridCount,omitempty"`
	TotalQuantity float64             `yaml:"totalQuantity" json:"totalQuantity,omitempty"`
}

func (c FixedGridConfig) validate() error {
	for i, l := range c.OrdersLevels {
		if !l.Price.IsPositive() || !l.Quantity.IsPositive() {
			return fmt.Errorf("ordersLevels[%d] needs a positive price and quantity: %w", i, domain.ErrInvalidArgument)
		}
	}
	if c.GridCount < 0 {
		return fmt.Errorf("gridCount %d must not be negative: %w", c.GridCount, domain.ErrInvalidArgument)
	}
	return nil
}

// GridBuyFixed rests a buy at every configured level and answers each fill with
// a sell one profit margin above the level.
type GridBuyFixed struct {
	*fixedGrid
}

func NewGridBuyFixed(deps Deps, id, symbol string, cfg FixedGridConfig) (*GridBuyFixed, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	settings, err := cfg.resolve(variantDefaults{stopLossMargin: 0.01, protection: ProtectionStopLimit})
	if err != nil {
		return nil, err
	}
	e := newEngine(deps, id, symbol, VariantGridBuyFixed, settings)
	s := &GridBuyFixed{fixedGrid: newFixedGrid(e, cfg.OrdersLevels, cfg.GridCount)}
	e.hooks = s
	return s, nil
}

func (s *GridBuyFixed) entrySide() domain.Side { return domain.SideBuy }

func (s *GridBuyFixed) exitTarget(index int, fill decimal.Decimal) decimal.Decimal {
	lp, ok := s.levelPrice(index)
	if !ok {
		lp = fill
	}
	return lp.Mul(one.Add(s.settings.profitMargin))
}

func (s *GridBuyFixed) longBasis(index int, exit *domain.OpenOrder) decimal.Decimal {
	return s.basis(index, exit)
}

func (s *GridBuyFixed) placementPass(ctx context.Context, price decimal.Decimal) error {
	s.placeLevels(ctx, domain.SideBuy, price)
	return nil
}
