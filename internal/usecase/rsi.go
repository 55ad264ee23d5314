package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_ladder/internal/domain"
	"go.uber.org/zap"
)

const VariantRSI = "rsi"

// RSIConfig configures the single-level RSI mean-reversion variant.
type RSIConfig struct {
	LoopConfig  `yaml:",inline"`
	Period      int     `yaml:"period" json:"period,omitempty"`
	Interval    string  `yaml:"interval" json:"interval,omitempty"`
	Oversold    float64 `yaml:"oversold" json:"oversold,omitempty"`
	Overbought  float64 `yaml:"overbought" json:"overbought,omitempty"`
	Quantity    float64 `yaml:"quantity" json:"quantity"`
	EntryOffset float64 `yaml:"entryOffset" json:"entryOffset,omitempty"`
}

func (c *RSIConfig) applyDefaults() {
	if c.Period == 0 {
		c.Period = 14
	}
	if c.Interval == "" {
		c.Interval = "1m"
	}
	if c.Oversold == 0 {
		c.Oversold = 30
	}
	if c.Overbought == 0 {
		c.Overbought = 70
	}
	if c.EntryOffset == 0 {
		c.EntryOffset = 0.001
	}
}

func (c RSIConfig) validate() error {
	if c.Period < 2 {
		return fmt.Errorf("period %d must be at least 2: %w", c.Period, domain.ErrInvalidArgument)
	}
	if c.Oversold <= 0 || c.Oversold >= c.Overbought || c.Overbought >= 100 {
		return fmt.Errorf("need 0 < oversold (%v) < overbought (%v) < 100: %w", c.Oversold, c.Overbought, domain.ErrInvalidArgument)
	}
	if c.Quantity <= 0 {
		return fmt.Errorf("quantity %v must be positive: %w", c.Quantity, domain.ErrInvalidArgument)
	}
	if c.EntryOffset < 0 || c.EntryOffset >= 1 {
		return fmt.Errorf("entryOffset %v out of range [0,1): %w", c.EntryOffset, domain.ErrInvalidArgument)
	}
	return nil
}

// rsiIndicator is a Wilder-smoothed RSI over percentage returns.
type rsiIndicator struct {
	period  int
	last    float64
	seen    int
	avgGain float64
	avgLoss float64
	// warm-up sums until period returns have been observed
	sumGain float64
	sumLoss float64
}

func newRSIIndicator(period int) *rsiIndicator {
	return &rsiIndicator{period: period}
}

// Add feeds the next close.
func (r *rsiIndicator) Add(price float64) {
	if price <= 0 {
		return
	}
	if r.last == 0 {
		r.last = price
		return
	}
	change := (price - r.last) / r.last * 100
	r.last = price
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	r.seen++
	n := float64(r.period)
	switch {
	case r.seen < r.period:
		r.sumGain += gain
		r.sumLoss += loss
	case r.seen == r.period:
		r.avgGain = (r.sumGain + gain) / n
		r.avgLoss = (r.sumLoss + loss) / n
	default:
		r.avgGain = (r.avgGain*(n-1) + gain) / n
		r.avgLoss = (r.avgLoss*(n-1) + loss) / n
	}
}

// Ready reports whether enough closes were seen to produce a value.
func (r *rsiIndicator) Ready() bool {
	return r.seen >= r.period
}

// Value returns the RSI in [0, 100].
func (r *rsiIndicator) Value() float64 {
	if !r.Ready() {
		return 50
	}
	if r.avgLoss == 0 {
		if r.avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs)
}

// RSI buys a dip when the index is oversold and sells one profit margin above
// the fill. It trades a single level, index 0.
type RSI struct {
	*engine
	cfg       RSIConfig
	indicator *rsiIndicator
	candles   domain.CandleSource
	seeded    bool
	entry     decimal.Decimal
	quantity  decimal.Decimal
}

func NewRSI(deps Deps, id, symbol string, cfg RSIConfig) (*RSI, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	settings, err := cfg.resolve(variantDefaults{stopLossMargin: 0.01, safetyMargin: 0.0005, protection: ProtectionStopLimit})
	if err != nil {
		return nil, err
	}
	e := newEngine(deps, id, symbol, VariantRSI, settings)
	s := &RSI{
		engine:    e,
		cfg:       cfg,
		indicator: newRSIIndicator(cfg.Period),
		quantity:  decimal.NewFromFloat(cfg.Quantity),
	}
	if cs, ok := deps.Gateway.(domain.CandleSource); ok {
		s.candles = cs
	}
	e.hooks = s
	return s, nil
}

const rsiLevel = 0

func (s *RSI) entrySide() domain.Side { return domain.SideBuy }

func (s *RSI) levelList() []domain.OrderLevel {
	return []domain.OrderLevel{{Index: rsiLevel, Price: s.entry, Quantity: s.quantity}}
}

func (s *RSI) levelPrice(index int) (decimal.Decimal, bool) {
	if index != rsiLevel || !s.entry.IsPositive() {
		return decimal.Zero, false
	}
	return s.entry, true
}

func (s *RSI) exitTarget(_ int, fill decimal.Decimal) decimal.Decimal {
	return fill.Mul(one.Add(s.settings.profitMargin))
}

func (s *RSI) longBasis(_ int, exit *domain.OpenOrder) decimal.Decimal {
	return exit.EntryPrice
}

// sweepRange is empty: a single floating level has no band to clear.
func (s *RSI) sweepRange() (lo, hi decimal.Decimal, ok bool) {
	return lo, hi, false
}

func (s *RSI) sweepAllSides() bool { return false }

func (s *RSI) observe(ctx context.Context, price decimal.Decimal) {
	if !s.seeded {
		s.seeded = true
		s.seed(ctx)
	}
	s.indicator.Add(price.InexactFloat64())
}

func (s *RSI) seed(ctx context.Context) {
	if s.candles == nil {
		s.logger.Info("Gateway has no candles, RSI warms up from live prices", zap.Int("period", s.cfg.Period))
		return
	}
	closes, err := s.candles.GetCloses(ctx, s.symbol, s.cfg.Interval, s.cfg.Period*3)
	if err != nil {
		s.logger.Warn("Failed to seed RSI from candles", zap.Error(err))
		return
	}
	for _, c := range closes {
		s.indicator.Add(c.InexactFloat64())
	}
	s.logger.Info("RSI seeded from candles", zap.Int("closes", len(closes)), zap.Float64("rsi", s.indicator.Value()))
}

func (s *RSI) placementPass(ctx context.Context, price decimal.Decimal) error {
	if !s.indicator.Ready() {
		s.logger.Debug("RSI warming up")
		return nil
	}
	value := s.indicator.Value()

	if value >= s.cfg.Overbought {
		if _, ok := s.ledger.Get(rsiLevel, domain.SideBuy); ok {
			s.logger.Info("RSI overbought, cancelling resting buy", zap.Float64("rsi", value))
			if err := s.cancelLevelOrders(ctx, rsiLevel, domain.SideBuy); err != nil {
				s.logger.Error("Error cancelling RSI entry", zap.Error(err))
			}
		}
		return nil
	}
	if value > s.cfg.Oversold || s.ledger.HasAny(rsiLevel) || s.ledger.IsStopped(rsiLevel) {
		return nil
	}

	offset := decimal.NewFromFloat(s.cfg.EntryOffset)
	p := s.q.BuyPrice(price.Mul(one.Sub(offset)))
	qty := s.q.Quantity(s.quantity)
	if !qty.IsPositive() {
		return nil
	}
	if !PassesGate(domain.SideBuy, p, price, s.settings.safetyMargin) {
		s.ledger.Skip(rsiLevel)
		s.logger.Info("RSI entry too close to market, skipping", zap.String("price", p.String()))
		return nil
	}
	s.logger.Info("RSI oversold, placing entry", zap.Float64("rsi", value), zap.String("price", p.String()))
	s.entry = p
	s.placeEntry(ctx, rsiLevel, domain.SideBuy, p, qty, "entry")
	return nil
}
