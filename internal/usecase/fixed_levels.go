package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_ladder/internal/domain"
	"go.uber.org/zap"
)

// LevelEditor is implemented by variants whose levels are an explicit, mutable list.
type LevelEditor interface {
	AddLevel(ctx context.Context, price, quantity decimal.Decimal) (int, error)
	RemoveLevel(ctx context.Context, index int) error
	UpdateLevelPrice(ctx context.Context, index int, price decimal.Decimal) error
	UpdateLevelQuantity(ctx context.Context, index int, quantity decimal.Decimal) error
	StopLevel(ctx context.Context, index int) error
	ReactivateLevel(ctx context.Context, index int) error
	ClearLevels(ctx context.Context) error
}

// fixedGrid holds the configured levels of the fixed variants. Level indices are
// assigned once and never renumbered, so ledger entries keep pointing at the
// level they were placed for.
type fixedGrid struct {
	*engine
	levels    []domain.OrderLevel
	gridCount int
	// countFollowsLevels keeps gridCount equal to len(levels) across edits.
	countFollowsLevels bool
}

func newFixedGrid(e *engine, levels []domain.OrderLevel, gridCount int) *fixedGrid {
	g := &fixedGrid{engine: e, gridCount: gridCount}
	for i, l := range levels {
		l.Index = i
		g.levels = append(g.levels, l)
	}
	if gridCount <= 0 {
		g.gridCount = len(levels)
		g.countFollowsLevels = true
	}
	return g
}

func (g *fixedGrid) position(index int) int {
	for i, l := range g.levels {
		if l.Index == index {
			return i
		}
	}
	return -1
}

func (g *fixedGrid) level(index int) (domain.OrderLevel, bool) {
	if pos := g.position(index); pos >= 0 {
		return g.levels[pos], true
	}
	return domain.OrderLevel{}, false
}

func (g *fixedGrid) levelList() []domain.OrderLevel {
	out := make([]domain.OrderLevel, len(g.levels))
	copy(out, g.levels)
	return out
}

func (g *fixedGrid) levelPrice(index int) (decimal.Decimal, bool) {
	l, ok := g.level(index)
	return l.Price, ok
}

func (g *fixedGrid) sweepRange() (lo, hi decimal.Decimal, ok bool) {
	if len(g.levels) == 0 {
		return lo, hi, false
	}
	lo, hi = g.levels[0].Price, g.levels[0].Price
	for _, l := range g.levels[1:] {
		lo = decimal.Min(lo, l.Price)
		hi = decimal.Max(hi, l.Price)
	}
	return lo, hi, true
}

func (g *fixedGrid) sweepAllSides() bool { return false }

// basis is the approximate cost of a long entry at a level.
func (g *fixedGrid) basis(index int, exit *domain.OpenOrder) decimal.Decimal {
	lp, ok := g.levelPrice(index)
	if !ok {
		return exit.EntryPrice
	}
	div := one.Add(g.settings.profitMargin.Mul(decimal.NewFromInt(int64(g.gridCount))))
	return lp.Div(div)
}

// placeLevels opens an order on side for every idle level, skipped levels first.
// Levels whose price fails the safety gate are marked skipped.
func (g *fixedGrid) placeLevels(ctx context.Context, side domain.Side, price decimal.Decimal) {
	order := g.ledger.Skipped()
	seen := make(map[int]bool, len(order))
	for _, idx := range order {
		seen[idx] = true
	}
	for _, l := range g.levels {
		if !seen[l.Index] {
			order = append(order, l.Index)
		}
	}

	for _, idx := range order {
		l, ok := g.level(idx)
		if !ok {
			g.ledger.Unskip(idx)
			continue
		}
		if g.ledger.HasAny(idx) || g.ledger.IsStopped(idx) {
			continue
		}
		p := g.q.Price(side, l.Price)
		qty := g.q.Quantity(l.Quantity)
		if !qty.IsPositive() || !p.IsPositive() {
			g.logger.Warn("Level rounds to zero, skipping", zap.Int("level", idx), zap.String("quantity", l.Quantity.String()))
			g.ledger.Skip(idx)
			continue
		}
		if !PassesGate(side, p, price, g.settings.safetyMargin) {
			if !g.ledger.IsSkipped(idx) {
				g.logger.Info("Skipping level due to safety threshold",
					zap.Int("level", idx),
					zap.String("level_price", p.String()),
					zap.String("price", price.String()),
				)
			}
			g.ledger.Skip(idx)
			continue
		}
		g.placeEntry(ctx, idx, side, p, qty, "entry")
	}
}

func (g *fixedGrid) syncGridCount() {
	if g.countFollowsLevels {
		g.gridCount = len(g.levels)
	}
}

func invalidLevel(index int) error {
	return fmt.Errorf("level %d: %w", index, domain.ErrInvalidLevel)
}

func (g *fixedGrid) AddLevel(ctx context.Context, price, quantity decimal.Decimal) (int, error) {
	if !price.IsPositive() || !quantity.IsPositive() {
		return 0, fmt.Errorf("price %s and quantity %s must be positive: %w", price, quantity, domain.ErrInvalidArgument)
	}
	v, err := g.submit(ctx, "add_level", func(context.Context) (any, error) {
		next := 0
		for _, l := range g.levels {
			next = max(next, l.Index+1)
		}
		g.levels = append(g.levels, domain.OrderLevel{Index: next, Price: price, Quantity: quantity})
		g.syncGridCount()
		g.logger.Info("Level added",
			zap.Int("level", next),
			zap.String("price", price.String()),
			zap.String("quantity", quantity.String()),
			zap.Int("levels", len(g.levels)),
		)
		return next, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// RemoveLevel cancels the level's resting orders and then drops it. If a cancel
// fails the level is kept.
func (g *fixedGrid) RemoveLevel(ctx context.Context, index int) error {
	_, err := g.submit(ctx, "remove_level", func(ctx context.Context) (any, error) {
		return nil, g.removeLevel(ctx, index)
	})
	return err
}

func (g *fixedGrid) removeLevel(ctx context.Context, index int) error {
	pos := g.position(index)
	if pos < 0 {
		return invalidLevel(index)
	}
	if plan, ok := g.ledger.PendingExit(index); ok {
		g.logger.Warn("Refusing to remove level with an unplaced exit",
			zap.Int("level", index),
			zap.String("side", string(plan.Side)),
			zap.String("quantity", plan.Qty.String()),
		)
		return fmt.Errorf("level %d still owes a %s exit of %s: %w", index, plan.Side, plan.Qty, domain.ErrInvalidArgument)
	}
	if err := g.cancelLevelOrders(ctx, index, domain.SideBuy, domain.SideSell); err != nil {
		return fmt.Errorf("remove level %d: %w", index, err)
	}
	removed := g.levels[pos]
	g.levels = append(g.levels[:pos], g.levels[pos+1:]...)
	g.ledger.Forget(index)
	g.syncGridCount()
	g.logger.Info("Level removed",
		zap.Int("level", index),
		zap.String("price", removed.Price.String()),
		zap.Int("levels", len(g.levels)),
	)
	return nil
}

// UpdateLevelPrice moves a level. A resting entry order at the old price is
// cancelled so the next placement pass uses the new one.
func (g *fixedGrid) UpdateLevelPrice(ctx context.Context, index int, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("price %s must be positive: %w", price, domain.ErrInvalidArgument)
	}
	_, err := g.submit(ctx, "update_level_price", func(ctx context.Context) (any, error) {
		pos := g.position(index)
		if pos < 0 {
			return nil, invalidLevel(index)
		}
		if err := g.cancelLevelOrders(ctx, index, g.hooks.entrySide()); err != nil {
			return nil, err
		}
		g.logger.Info("Level price updated",
			zap.Int("level", index),
			zap.String("from", g.levels[pos].Price.String()),
			zap.String("to", price.String()),
		)
		g.levels[pos].Price = price
		g.ledger.Unskip(index)
		return nil, nil
	})
	return err
}

func (g *fixedGrid) UpdateLevelQuantity(ctx context.Context, index int, quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return fmt.Errorf("quantity %s must be positive: %w", quantity, domain.ErrInvalidArgument)
	}
	_, err := g.submit(ctx, "update_level_quantity", func(context.Context) (any, error) {
		pos := g.position(index)
		if pos < 0 {
			return nil, invalidLevel(index)
		}
		g.levels[pos].Quantity = quantity
		g.logger.Info("Level quantity updated", zap.Int("level", index), zap.String("quantity", quantity.String()))
		return nil, nil
	})
	return err
}

// StopLevel excludes a level from automatic placement and cancels its resting
// entry order. An open exit is left to complete.
func (g *fixedGrid) StopLevel(ctx context.Context, index int) error {
	_, err := g.submit(ctx, "stop_level", func(ctx context.Context) (any, error) {
		if g.position(index) < 0 {
			return nil, invalidLevel(index)
		}
		g.ledger.Stop(index)
		g.logger.Info("Level marked as stopped", zap.Int("level", index))
		return nil, g.cancelLevelOrders(ctx, index, g.hooks.entrySide())
	})
	return err
}

func (g *fixedGrid) ReactivateLevel(ctx context.Context, index int) error {
	_, err := g.submit(ctx, "reactivate_level", func(context.Context) (any, error) {
		if g.position(index) < 0 {
			return nil, invalidLevel(index)
		}
		if g.ledger.Reactivate(index) {
			g.logger.Info("Level reactivated manually", zap.Int("level", index))
		} else {
			g.logger.Warn("Level was not stopped", zap.Int("level", index))
		}
		return nil, nil
	})
	return err
}

// ClearLevels removes every level. Levels whose orders could not be cancelled remain.
func (g *fixedGrid) ClearLevels(ctx context.Context) error {
	_, err := g.submit(ctx, "clear_levels", func(ctx context.Context) (any, error) {
		var failed int
		var lastErr error
		for _, l := range g.levelList() {
			if err := g.removeLevel(ctx, l.Index); err != nil {
				failed++
				lastErr = err
			}
		}
		if lastErr != nil {
			return nil, fmt.Errorf("%d levels kept: %w", failed, lastErr)
		}
		g.logger.Info("All levels and orders removed")
		return nil, nil
	})
	return err
}
