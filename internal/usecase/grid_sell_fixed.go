package usecase

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_ladder/internal/domain"
)

// GridSellFixed rests a sell at every configured level and buys back one profit
// margin below the level once it fills.
type GridSellFixed struct {
	*fixedGrid
}

func NewGridSellFixed(deps Deps, id, symbol string, cfg FixedGridConfig) (*GridSellFixed, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	// Short exits are buys, so there is no protective sell to place.
	settings, err := cfg.resolve(variantDefaults{stopLossMargin: 0, protection: ProtectionNone})
	if err != nil {
		return nil, err
	}
	e := newEngine(deps, id, symbol, VariantGridSellFixed, settings)
	s := &GridSellFixed{fixedGrid: newFixedGrid(e, cfg.OrdersLevels, cfg.GridCount)}
	e.hooks = s
	return s, nil
}

func (s *GridSellFixed) entrySide() domain.Side { return domain.SideSell }

func (s *GridSellFixed) exitTarget(index int, fill decimal.Decimal) decimal.Decimal {
	lp, ok := s.levelPrice(index)
	if !ok {
		lp = fill
	}
	return lp.Mul(one.Sub(s.settings.profitMargin))
}

func (s *GridSellFixed) longBasis(_ int, exit *domain.OpenOrder) decimal.Decimal {
	return exit.EntryPrice
}

func (s *GridSellFixed) placementPass(ctx context.Context, price decimal.Decimal) error {
	s.placeLevels(ctx, domain.SideSell, price)
	return nil
}
