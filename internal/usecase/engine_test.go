package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/grid_ladder/internal/domain"
	"go.uber.org/zap"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ms(v int64) *int64 { return &v }

func f64(v float64) *float64 { return &v }

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func level(price, qty string) domain.OrderLevel {
	return domain.OrderLevel{Price: dec(price), Quantity: dec(qty)}
}

// fastLoop disables every delay so a single runCycle call is cheap.
func fastLoop(profitMargin float64) LoopConfig {
	return LoopConfig{
		ProfitMargin:     profitMargin,
		MinSleepMs:       ms(5),
		PlacementDelayMs: ms(0),
		BackoffBaseMs:    ms(0),
	}
}

// prime loads the quantizer the way Run does before its first cycle.
func prime(t *testing.T, e *engine, gw *MockGateway) {
	t.Helper()
	q, err := NewQuantizer(gw.Filters)
	require.NoError(t, err)
	e.q = q
}

func newBuyGrid(t *testing.T, gw domain.Gateway, clock *fakeClock, cfg FixedGridConfig, journal domain.FillJournal) *GridBuyFixed {
	t.Helper()
	s, err := NewGridBuyFixed(Deps{Gateway: gw, Journal: journal, Logger: zap.NewNop(), Clock: clock.Now}, "grid-1", "BTCUSDT", cfg)
	require.NoError(t, err)
	return s
}

func TestGridBuyFixed_FillPlacesCounterSellAndDefersPnL(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway("105")
	clock := newFakeClock()
	journal := &memJournal{}
	cfg := FixedGridConfig{
		LoopConfig:   fastLoop(0.01),
		OrdersLevels: []domain.OrderLevel{level("100", "1"), level("95", "1")},
	}
	cfg.StopLossMargin = f64(0)
	s := newBuyGrid(t, gw, clock, cfg, journal)
	prime(t, s.engine, gw)

	require.NoError(t, s.runCycle(ctx))
	require.Len(t, gw.Placed, 2, "both levels sit below the market")
	assertDec(t, "100", gw.Placed[0].Price)
	assertDec(t, "95", gw.Placed[1].Price)
	assert.Equal(t, domain.SideBuy, gw.Placed[0].Side)

	// Market drops through level 0, which fills at its limit.
	gw.SetPrice("90")
	gw.Fill("1", "100")
	require.NoError(t, s.runCycle(ctx))

	require.Len(t, gw.Placed, 3)
	sell := gw.Placed[2]
	assert.Equal(t, domain.SideSell, sell.Side)
	assertDec(t, "101", sell.Price)
	assertDec(t, "1", sell.Quantity)

	snap := s.Snapshot()
	assert.True(t, snap.ProfitLoss.IsZero(), "P&L moves only on exit fills")
	l0, ok := snap.Level(0)
	require.True(t, ok)
	assert.Equal(t, domain.LevelSellPending, l0.State)
	l1, _ := snap.Level(1)
	assert.Equal(t, domain.LevelBuyPending, l1.State)

	gw.Fill("3", "101")
	require.NoError(t, s.runCycle(ctx))

	basis := dec("100").Div(one.Add(dec("0.01").Mul(decimal.NewFromInt(2))))
	want := dec("101").Sub(basis)
	assert.True(t, want.Equal(s.Snapshot().ProfitLoss), "got %s", s.Snapshot().ProfitLoss)

	require.Len(t, journal.fills, 2)
	require.Len(t, journal.pnl, 1)
	assert.Equal(t, 0, journal.pnl[0].Level)

	// Level 0 is idle again, but 100 is above the market so it is skipped.
	require.NoError(t, s.runCycle(ctx))
	l0, _ = s.Snapshot().Level(0)
	assert.Equal(t, domain.LevelSkipped, l0.State)
	assert.Len(t, gw.Placed, 3)
}

func TestEngine_StaleOrdersAreCancelledAndReinsertedSameCycle(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway("105")
	clock := newFakeClock()
	cfg := FixedGridConfig{
		LoopConfig:   fastLoop(0.01),
		OrdersLevels: []domain.OrderLevel{level("100", "1"), level("95", "1")},
	}
	cfg.MaxOrderAgeMs = 1000
	s := newBuyGrid(t, gw, clock, cfg, nil)
	prime(t, s.engine, gw)

	require.NoError(t, s.runCycle(ctx))
	require.Len(t, gw.Placed, 2)

	clock.Advance(500 * time.Millisecond)
	require.NoError(t, s.runCycle(ctx))
	assert.Empty(t, gw.Cancelled, "orders younger than maxOrderAge stay")

	clock.Advance(1000 * time.Millisecond)
	require.NoError(t, s.runCycle(ctx))

	assert.Equal(t, []string{"1", "2"}, gw.Cancelled)
	require.Len(t, gw.Placed, 4)
	assertDec(t, "100", gw.Placed[2].Price)
	assertDec(t, "95", gw.Placed[3].Price)

	o, ok := s.ledger.Get(0, domain.SideBuy)
	require.True(t, ok)
	assert.Equal(t, "3", o.OrderID)
	assert.Equal(t, clock.Now(), o.PlacedAt)
}

func TestEngine_StalePartialBuyExitsExecutedPartAndReinsertsRest(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway("105")
	clock := newFakeClock()
	cfg := FixedGridConfig{
		LoopConfig:   fastLoop(0.01),
		OrdersLevels: []domain.OrderLevel{level("100", "1")},
	}
	cfg.MaxOrderAgeMs = 1000
	cfg.StopLossMargin = f64(0)
	s := newBuyGrid(t, gw, clock, cfg, nil)
	prime(t, s.engine, gw)

	require.NoError(t, s.runCycle(ctx))
	gw.PartialFill("1", "0.4", "100")
	clock.Advance(2 * time.Second)
	require.NoError(t, s.runCycle(ctx))

	assert.Equal(t, []string{"1"}, gw.Cancelled)
	require.Len(t, gw.Placed, 3)
	assert.Equal(t, domain.SideSell, gw.Placed[1].Side)
	assertDec(t, "0.4", gw.Placed[1].Quantity)
	assert.Equal(t, domain.SideBuy, gw.Placed[2].Side)
	assertDec(t, "0.6", gw.Placed[2].Quantity)

	l0, _ := s.Snapshot().Level(0)
	assert.True(t, l0.HasOpenBuyOrder)
	assert.True(t, l0.HasOpenSellOrder)
}

func TestEngine_ExternallyCancelledOrderIsReinserted(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway("105")
	s := newBuyGrid(t, gw, newFakeClock(), FixedGridConfig{
		LoopConfig:   fastLoop(0.01),
		OrdersLevels: []domain.OrderLevel{level("100", "1")},
	}, nil)
	prime(t, s.engine, gw)

	require.NoError(t, s.runCycle(ctx))
	gw.Orders["1"].Status = domain.OrderStatusExpired
	require.NoError(t, s.runCycle(ctx))

	require.Len(t, gw.Placed, 2)
	o, ok := s.ledger.Get(0, domain.SideBuy)
	require.True(t, ok)
	assert.Equal(t, "2", o.OrderID)
}

func TestEngine_StopLossFillStopsLevel(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway("105")
	s := newBuyGrid(t, gw, newFakeClock(), FixedGridConfig{
		LoopConfig:   fastLoop(0.01),
		OrdersLevels: []domain.OrderLevel{level("100", "1")},
	}, nil)
	prime(t, s.engine, gw)

	require.NoError(t, s.runCycle(ctx))
	gw.SetPrice("95")
	gw.Fill("1", "100")
	require.NoError(t, s.runCycle(ctx))

	require.Len(t, gw.Stops, 1)
	assertDec(t, "99", gw.Stops[0].StopPrice)
	assertDec(t, "98.98", gw.Stops[0].Price)
	sell, ok := s.ledger.Get(0, domain.SideSell)
	require.True(t, ok)
	assert.Equal(t, "3", sell.StopOrderID)

	gw.SetPrice("98.9")
	gw.Fill("3", "99")
	require.NoError(t, s.runCycle(ctx))

	assert.Contains(t, gw.Cancelled, "2", "target sell is cancelled once the stop fills")
	l0, _ := s.Snapshot().Level(0)
	assert.True(t, l0.IsStopped)
	assert.Equal(t, domain.LevelStopped, l0.State)
	assert.True(t, s.Snapshot().ProfitLoss.IsNegative())

	// Stopped levels never get automatic orders, even when the gate would pass.
	gw.SetPrice("110")
	require.NoError(t, s.runCycle(ctx))
	require.NoError(t, s.runCycle(ctx))
	assert.Len(t, gw.Placed, 2)
}

func TestEngine_StoppedLevelReactivatesAboveSafetyMargin(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway("105")
	cfg := FixedGridConfig{
		LoopConfig:   fastLoop(0.01),
		OrdersLevels: []domain.OrderLevel{level("100", "1")},
	}
	cfg.BuySafetyMargin = f64(0.01)
	s := newBuyGrid(t, gw, newFakeClock(), cfg, nil)
	prime(t, s.engine, gw)

	s.ledger.Stop(0)
	gw.SetPrice("100.5")
	require.NoError(t, s.runCycle(ctx))
	assert.True(t, s.ledger.IsStopped(0), "below level*(1+margin)")
	assert.Empty(t, gw.Placed)

	gw.SetPrice("105")
	require.NoError(t, s.runCycle(ctx))
	assert.False(t, s.ledger.IsStopped(0))
	require.Len(t, gw.Placed, 1)
	assertDec(t, "100", gw.Placed[0].Price)
}

func TestEngine_InvalidOCOSkipsLevelAndKeepsExitPending(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway("105")
	cfg := FixedGridConfig{
		LoopConfig:   fastLoop(0),
		OrdersLevels: []domain.OrderLevel{level("100", "1")},
	}
	cfg.Protection = string(ProtectionOCO)
	cfg.StopLossMargin = f64(0.0001)
	s := newBuyGrid(t, gw, newFakeClock(), cfg, nil)
	prime(t, s.engine, gw)

	require.NoError(t, s.runCycle(ctx))
	gw.SetPrice("95")
	gw.Fill("1", "100")
	require.NoError(t, s.runCycle(ctx))

	assert.Empty(t, gw.OCOs, "sell 100 and stop 99.99 are only one tick apart")
	assert.True(t, s.ledger.IsSkipped(0))
	_, pending := s.ledger.PendingExit(0)
	assert.True(t, pending)

	require.NoError(t, s.runCycle(ctx))
	assert.Empty(t, gw.OCOs)
	_, pending = s.ledger.PendingExit(0)
	assert.True(t, pending, "exit is retried, never dropped")
	assert.Len(t, gw.Placed, 1, "no new entry while the exit is pending")
}

func TestEngine_OCOExitCarriesBothLegs(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway("105")
	cfg := FixedGridConfig{
		LoopConfig:   fastLoop(0.01),
		OrdersLevels: []domain.OrderLevel{level("100", "1")},
	}
	cfg.Protection = string(ProtectionOCO)
	s := newBuyGrid(t, gw, newFakeClock(), cfg, nil)
	prime(t, s.engine, gw)

	require.NoError(t, s.runCycle(ctx))
	gw.SetPrice("95")
	gw.Fill("1", "100")
	require.NoError(t, s.runCycle(ctx))

	require.Len(t, gw.OCOs, 1)
	oco := gw.OCOs[0]
	assertDec(t, "101", oco.Price)
	assertDec(t, "99", oco.StopPrice)
	assertDec(t, "98.98", oco.StopLimitPrice)

	sell, ok := s.ledger.Get(0, domain.SideSell)
	require.True(t, ok)
	assert.Equal(t, "list-2", sell.ListID)
	assert.Equal(t, "3", sell.StopOrderID)

	gw.Fill("2", "101")
	require.NoError(t, s.runCycle(ctx))
	assert.NotContains(t, gw.Cancelled, "3", "the exchange cancels the other OCO leg")
	assert.True(t, s.Snapshot().ProfitLoss.IsPositive())
}

func TestEngine_FailedExitPlacementIsRetried(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway("105")
	cfg := FixedGridConfig{
		LoopConfig:   fastLoop(0.01),
		OrdersLevels: []domain.OrderLevel{level("100", "1")},
	}
	cfg.StopLossMargin = f64(0)
	s := newBuyGrid(t, gw, newFakeClock(), cfg, nil)
	prime(t, s.engine, gw)

	require.NoError(t, s.runCycle(ctx))
	gw.SetPrice("95")
	gw.Fill("1", "100")
	gw.SetPlaceErr(errors.New("insufficient balance"))
	require.NoError(t, s.runCycle(ctx))
	_, pending := s.ledger.PendingExit(0)
	require.True(t, pending)

	gw.SetPlaceErr(nil)
	require.NoError(t, s.runCycle(ctx))
	_, pending = s.ledger.PendingExit(0)
	assert.False(t, pending)
	sell, ok := s.ledger.Get(0, domain.SideSell)
	require.True(t, ok)
	assertDec(t, "101", sell.Price)
	assertDec(t, "100", sell.EntryPrice)
}

func TestEngine_PriceErrorEscapesCycle(t *testing.T) {
	gw := NewMockGateway("105")
	gw.PriceErr = errors.New("timeout")
	s := newBuyGrid(t, gw, newFakeClock(), FixedGridConfig{LoopConfig: fastLoop(0.01)}, nil)
	prime(t, s.engine, gw)

	err := s.runCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Empty(t, gw.Placed)
}

func TestGridSellFixed_ShortRoundTrip(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway("95")
	s, err := NewGridSellFixed(Deps{Gateway: gw, Logger: zap.NewNop(), Clock: newFakeClock().Now}, "short-1", "BTCUSDT", FixedGridConfig{
		LoopConfig:   fastLoop(0.01),
		OrdersLevels: []domain.OrderLevel{level("100", "1"), level("90", "1")},
	})
	require.NoError(t, err)
	prime(t, s.engine, gw)

	require.NoError(t, s.runCycle(ctx))
	require.Len(t, gw.Placed, 1, "90 is below the market and cannot be sold")
	assert.Equal(t, domain.SideSell, gw.Placed[0].Side)
	assertDec(t, "100", gw.Placed[0].Price)
	assert.True(t, s.ledger.IsSkipped(1))

	gw.SetPrice("101")
	gw.Fill("1", "100")
	require.NoError(t, s.runCycle(ctx))
	require.Len(t, gw.Placed, 2)
	buy := gw.Placed[1]
	assert.Equal(t, domain.SideBuy, buy.Side)
	assertDec(t, "99", buy.Price)

	gw.Fill("2", "99")
	require.NoError(t, s.runCycle(ctx))
	assertDec(t, "1", s.Snapshot().ProfitLoss)
	assert.Empty(t, gw.Stops, "short exits carry no protective sell")
}

func TestEngine_StartupCancelsStrayOrdersInRange(t *testing.T) {
	gw := NewMockGateway("105")
	gw.Open = []domain.OrderInfo{
		{OrderID: "a", Side: domain.SideBuy, Price: dec("97"), Status: domain.OrderStatusNew},
		{OrderID: "b", Side: domain.SideBuy, Price: dec("80"), Status: domain.OrderStatusNew},
		{OrderID: "c", Side: domain.SideSell, Price: dec("98"), Status: domain.OrderStatusNew},
		{OrderID: "d", Side: domain.SideBuy, Price: dec("99"), Status: domain.OrderStatusFilled},
	}
	s := newBuyGrid(t, gw, newFakeClock(), FixedGridConfig{
		LoopConfig:   fastLoop(0.01),
		OrdersLevels: []domain.OrderLevel{level("100", "1"), level("95", "1")},
	}, nil)
	prime(t, s.engine, gw)

	s.cancelExistingOrdersInRange(context.Background())
	assert.Equal(t, []string{"a"}, gw.Cancelled)
}

func TestEngine_RunServesCommandsAndStopsWithoutCancelling(t *testing.T) {
	gw := NewMockGateway("105")
	s := newBuyGrid(t, gw, newFakeClock(), FixedGridConfig{
		LoopConfig:   fastLoop(0.01),
		OrdersLevels: []domain.OrderLevel{level("100", "1"), level("95", "1")},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool { return gw.PlacedCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.SetProfitMargin(ctx, 0.02))
	assertDec(t, "0.02", s.Snapshot().ProfitMargin)

	err := s.SetProfitMargin(ctx, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	s.Stop()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after Stop")
	}
	assert.Empty(t, gw.CancelledIDs(), "resting orders survive a stop")
	assert.False(t, s.Snapshot().Running)
	assert.ErrorIs(t, s.SetProfitMargin(ctx, 0.03), domain.ErrNotRunning)
}

func TestEngine_CancelOnStopCancelsRestingOrders(t *testing.T) {
	gw := NewMockGateway("105")
	cfg := FixedGridConfig{
		LoopConfig:   fastLoop(0.01),
		OrdersLevels: []domain.OrderLevel{level("100", "1")},
	}
	cfg.CancelOnStop = true
	s := newBuyGrid(t, gw, newFakeClock(), cfg, nil)

	go func() { _ = s.Run(context.Background()) }()
	require.Eventually(t, func() bool { return gw.PlacedCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	<-s.Done()
	assert.Equal(t, []string{"1"}, gw.CancelledIDs())
}

func TestEngine_RunFailsWithoutFilters(t *testing.T) {
	gw := NewMockGateway("105")
	gw.Filters = domain.ExchangeFilters{Symbol: "BTCUSDT"}
	s := newBuyGrid(t, gw, newFakeClock(), FixedGridConfig{LoopConfig: fastLoop(0.01)}, nil)

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrFiltersMissing)
	<-s.Done()
}

func TestEngine_RemoveLevelRefusedWhileExitPending(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway("105")
	cfg := FixedGridConfig{
		LoopConfig:   fastLoop(0.01),
		OrdersLevels: []domain.OrderLevel{level("100", "1"), level("90", "1")},
	}
	cfg.StopLossMargin = f64(0)
	s := newBuyGrid(t, gw, newFakeClock(), cfg, nil)
	prime(t, s.engine, gw)

	require.NoError(t, s.runCycle(ctx))
	gw.SetPrice("95")
	gw.Fill("1", "100")
	gw.SetPlaceErr(errors.New("insufficient balance"))
	require.NoError(t, s.runCycle(ctx))
	_, pending := s.ledger.PendingExit(0)
	require.True(t, pending)

	err := s.removeLevel(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, pending = s.ledger.PendingExit(0)
	assert.True(t, pending, "the owed exit is kept")
	_, ok := s.Snapshot().Level(0)
	assert.True(t, ok)

	require.NoError(t, s.removeLevel(ctx, 1), "levels without a pending exit still go")
}
