package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_ladder/internal/domain"
	"go.uber.org/zap"
)

const (
	VariantGridFull       = "gridFull"
	VariantGridBuyMargin  = "gridBuyMargin"
	VariantGridSellMargin = "gridSellMargin"
)

// GridFullConfig configures a computed grid between LowerPrice and UpperPrice.
type GridFullConfig struct {
	LoopConfig    `yaml:",inline"`
	Trading       *bool   `yaml:"trading" json:"trading,omitempty"`
	GridCount     int     `yaml:"gridCount" json:"gridCount"`
	LowerPrice    float64 `yaml:"lowerPrice" json:"lowerPrice"`
	UpperPrice    float64 `yaml:"upperPrice" json:"upperPrice"`
	TotalQuantity float64 `yaml:"totalQuantity" json:"totalQuantity"`
}

func (c GridFullConfig) validate() error {
	if c.GridCount <= 0 {
		return fmt.Errorf("gridCount %d must be positive: %w", c.GridCount, domain.ErrInvalidArgument)
	}
	if c.LowerPrice <= 0 || c.LowerPrice >= c.UpperPrice {
		return fmt.Errorf("need 0 < lowerPrice (%v) < upperPrice (%v): %w", c.LowerPrice, c.UpperPrice, domain.ErrInvalidArgument)
	}
	if c.TotalQuantity <= 0 {
		return fmt.Errorf("totalQuantity %v must be positive: %w", c.TotalQuantity, domain.ErrInvalidArgument)
	}
	return nil
}

// GridFull spreads gridCount+1 levels evenly across a price band. In buy mode
// level 0 is the lower bound and entries are buys; in sell mode level 0 is the
// upper bound and entries are sells.
type GridFull struct {
	*engine
	trading   bool
	gridCount int
	lower     decimal.Decimal
	upper     decimal.Decimal
	step      decimal.Decimal
	total     decimal.Decimal
}

func NewGridFull(deps Deps, id, symbol, variant string, cfg GridFullConfig) (*GridFull, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	trading := true
	if cfg.Trading != nil {
		trading = *cfg.Trading
	}
	protection := ProtectionStopLimit
	if !trading {
		protection = ProtectionNone
	}
	settings, err := cfg.resolve(variantDefaults{stopLossMargin: 0.02, safetyMargin: 0.0004, protection: protection})
	if err != nil {
		return nil, err
	}
	if variant == "" {
		variant = VariantGridFull
	}
	e := newEngine(deps, id, symbol, variant, settings)
	lower := decimal.NewFromFloat(cfg.LowerPrice)
	upper := decimal.NewFromFloat(cfg.UpperPrice)
	count := decimal.NewFromInt(int64(cfg.GridCount))
	s := &GridFull{
		engine:    e,
		trading:   trading,
		gridCount: cfg.GridCount,
		lower:     lower,
		upper:     upper,
		step:      upper.Sub(lower).Div(count),
		total:     decimal.NewFromFloat(cfg.TotalQuantity),
	}
	e.hooks = s
	return s, nil
}

func (s *GridFull) entrySide() domain.Side {
	if s.trading {
		return domain.SideBuy
	}
	return domain.SideSell
}

// rawLevel is the unquantized price of level i.
func (s *GridFull) rawLevel(i int) decimal.Decimal {
	offset := s.step.Mul(decimal.NewFromInt(int64(i)))
	if s.trading {
		return s.lower.Add(offset)
	}
	return s.upper.Sub(offset)
}

func (s *GridFull) baseQuantity() decimal.Decimal {
	return s.total.Div(decimal.NewFromInt(int64(s.gridCount)))
}

// levelList is the display view of the band; prices are rounded to the nearest
// tick once filters are known.
func (s *GridFull) levelList() []domain.OrderLevel {
	levels := make([]domain.OrderLevel, 0, s.gridCount+1)
	for i := 0; i <= s.gridCount; i++ {
		price := s.rawLevel(i)
		if s.q != nil {
			price = s.q.NearestPrice(price)
		}
		levels = append(levels, domain.OrderLevel{Index: i, Price: price, Quantity: s.baseQuantity()})
	}
	return levels
}

func (s *GridFull) levelPrice(index int) (decimal.Decimal, bool) {
	if index < 0 || index > s.gridCount {
		return decimal.Zero, false
	}
	return s.rawLevel(index), true
}

func (s *GridFull) sweepRange() (lo, hi decimal.Decimal, ok bool) {
	return s.lower, s.upper, true
}

func (s *GridFull) sweepAllSides() bool { return true }

func (s *GridFull) exitTarget(_ int, fill decimal.Decimal) decimal.Decimal {
	if s.trading {
		return fill.Mul(one.Add(s.settings.profitMargin))
	}
	return fill.Mul(one.Sub(s.settings.profitMargin))
}

func (s *GridFull) longBasis(index int, exit *domain.OpenOrder) decimal.Decimal {
	lp, ok := s.levelPrice(index)
	if !ok {
		return exit.EntryPrice
	}
	div := one.Add(s.settings.profitMargin.Mul(decimal.NewFromInt(int64(s.gridCount))))
	return lp.Div(div)
}

// weightedQuantity sizes a level by its distance to price: levels near the
// market get up to the full base quantity, the farthest get half of it.
func (s *GridFull) weightedQuantity(raw, price decimal.Decimal) decimal.Decimal {
	span := s.step.Mul(decimal.NewFromInt(int64(s.gridCount)))
	df := one.Sub(raw.Sub(price).Abs().Div(span))
	df = decimal.Max(decimal.Zero, decimal.Min(one, df))
	half := decimal.NewFromFloat(0.5)
	return s.baseQuantity().Mul(half.Add(df.Div(decimal.NewFromInt(2))))
}

func (s *GridFull) placementPass(ctx context.Context, price decimal.Decimal) error {
	side := s.entrySide()

	for _, i := range s.ledger.Skipped() {
		if s.ledger.HasAny(i) || s.ledger.IsStopped(i) {
			s.ledger.Unskip(i)
			continue
		}
		p, ok := s.gatedPrice(i, price)
		if !ok {
			s.logger.Debug("Skipped level still omitted", zap.Int("level", i))
			continue
		}
		qty := s.q.Quantity(s.baseQuantity())
		if !qty.IsPositive() {
			s.logger.Debug("Skipped level quantity rounds to zero", zap.Int("level", i))
			continue
		}
		s.logger.Info("Trying skipped level", zap.Int("level", i), zap.String("price", p.String()))
		s.placeEntry(ctx, i, side, p, qty, "skipped")
	}

	placed := decimal.Zero
	for i := 0; i <= s.gridCount; i++ {
		if s.ledger.HasAny(i) || s.ledger.IsStopped(i) {
			continue
		}
		p, ok := s.gatedPrice(i, price)
		if !ok {
			if !s.ledger.IsSkipped(i) {
				s.logger.Info("Skipping level due to safety or price threshold",
					zap.Int("level", i),
					zap.String("level_price", s.q.Price(side, s.rawLevel(i)).String()),
				)
			}
			s.ledger.Skip(i)
			continue
		}
		s.ledger.Unskip(i)

		qty := s.q.Quantity(decimal.Min(s.weightedQuantity(s.rawLevel(i), price), s.total.Sub(placed)))
		if !qty.IsPositive() {
			s.logger.Warn("Level quantity rounds to zero, skipping",
				zap.Int("level", i),
				zap.String("remaining", s.total.Sub(placed).String()),
			)
			s.ledger.Skip(i)
			continue
		}
		placed = placed.Add(qty)
		s.placeEntry(ctx, i, side, p, qty, "entry")
	}
	return nil
}

// gatedPrice checks level i against the safety gate and returns its clamped place price.
func (s *GridFull) gatedPrice(i int, price decimal.Decimal) (decimal.Decimal, bool) {
	side := s.entrySide()
	levelPrice := s.q.Price(side, s.rawLevel(i))
	if !PassesGate(side, levelPrice, price, s.settings.safetyMargin) {
		return decimal.Zero, false
	}
	p := ClampToGate(s.q, side, levelPrice, price, s.settings.safetyMargin)
	return p, p.IsPositive()
}
