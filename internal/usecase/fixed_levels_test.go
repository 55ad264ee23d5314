package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/grid_ladder/internal/domain"
)

// runGrid starts the loop in the background and waits for both entries to rest.
// A zero safety margin also turns off automatic reactivation.
func runGrid(t *testing.T, gw *MockGateway) *GridBuyFixed {
	t.Helper()
	loop := fastLoop(0.01)
	loop.BuySafetyMargin = f64(0)
	s := newBuyGrid(t, gw, newFakeClock(), FixedGridConfig{
		LoopConfig:   loop,
		OrdersLevels: []domain.OrderLevel{level("100", "1"), level("95", "1")},
	}, nil)

	go func() { _ = s.Run(context.Background()) }()
	t.Cleanup(func() {
		s.Stop()
		<-s.Done()
	})

	require.Eventually(t, func() bool { return gw.PlacedCount() == 2 }, time.Second, 5*time.Millisecond)
	return s
}

func hasLevel(s *GridBuyFixed, index int) bool {
	_, ok := s.Snapshot().Level(index)
	return ok
}

func TestFixedGrid_RemoveLevelCancelsFirstAndKeepsIndices(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway("105")
	s := runGrid(t, gw)

	require.NoError(t, s.RemoveLevel(ctx, 0))
	assert.Equal(t, []string{"1"}, gw.CancelledIDs())

	require.Eventually(t, func() bool { return !hasLevel(s, 0) }, time.Second, 5*time.Millisecond)
	l1, ok := s.Snapshot().Level(1)
	require.True(t, ok, "remaining levels keep their index")
	assertDec(t, "95", l1.Price)
	assert.True(t, l1.HasOpenBuyOrder)

	idx, err := s.AddLevel(ctx, dec("90"), dec("2"))
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	require.Eventually(t, func() bool { return gw.PlacedCount() == 3 }, time.Second, 5*time.Millisecond)
	added := gw.PlacedOrders()[2]
	assertDec(t, "90", added.Price)
	assertDec(t, "2", added.Quantity)
}

func TestFixedGrid_RemoveLevelKeepsLevelWhenCancelFails(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway("105")
	s := runGrid(t, gw)

	gw.SetCancelErr(errors.New("exchange unavailable"))
	err := s.RemoveLevel(ctx, 1)
	require.Error(t, err)
	assert.True(t, hasLevel(s, 1))

	gw.SetCancelErr(nil)
	require.NoError(t, s.RemoveLevel(ctx, 1))
	assert.Equal(t, []string{"2"}, gw.CancelledIDs())
}

func TestFixedGrid_EditsRejectUnknownLevels(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway("105")
	s := runGrid(t, gw)

	assert.ErrorIs(t, s.RemoveLevel(ctx, 9), domain.ErrInvalidLevel)
	assert.ErrorIs(t, s.UpdateLevelPrice(ctx, 9, dec("1")), domain.ErrInvalidLevel)
	assert.ErrorIs(t, s.StopLevel(ctx, 9), domain.ErrInvalidLevel)
	assert.ErrorIs(t, s.UpdateLevelQuantity(ctx, 0, dec("-1")), domain.ErrInvalidArgument)
	_, err := s.AddLevel(ctx, dec("0"), dec("1"))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestFixedGrid_UpdatePriceReplacesEntry(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway("105")
	s := runGrid(t, gw)

	require.NoError(t, s.UpdateLevelPrice(ctx, 1, dec("93")))
	assert.Equal(t, []string{"2"}, gw.CancelledIDs())

	require.Eventually(t, func() bool { return gw.PlacedCount() == 3 }, time.Second, 5*time.Millisecond)
	assertDec(t, "93", gw.PlacedOrders()[2].Price)
}

func TestFixedGrid_StopAndReactivateLevel(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway("105")
	s := runGrid(t, gw)

	require.NoError(t, s.StopLevel(ctx, 0))
	assert.Equal(t, []string{"1"}, gw.CancelledIDs())
	require.Eventually(t, func() bool {
		l, ok := s.Snapshot().Level(0)
		return ok && l.State == domain.LevelStopped
	}, time.Second, 5*time.Millisecond)

	// A stopped level is not replaced while the loop keeps cycling.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, gw.PlacedCount())

	require.NoError(t, s.ReactivateLevel(ctx, 0))
	require.Eventually(t, func() bool { return gw.PlacedCount() == 3 }, time.Second, 5*time.Millisecond)
	assertDec(t, "100", gw.PlacedOrders()[2].Price)
}

func TestFixedGrid_ClearLevels(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway("105")
	s := runGrid(t, gw)

	require.NoError(t, s.ClearLevels(ctx))
	assert.ElementsMatch(t, []string{"1", "2"}, gw.CancelledIDs())
	require.Eventually(t, func() bool { return len(s.Snapshot().Levels) == 0 }, time.Second, 5*time.Millisecond)

	idx, err := s.AddLevel(ctx, dec("97"), dec("1"))
	require.NoError(t, err)
	assert.Equal(t, 0, idx, "an empty grid numbers from zero again")
}

func TestFixedGrid_UpdateQuantityAppliesToNextPlacement(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway("105")
	s := runGrid(t, gw)

	require.NoError(t, s.UpdateLevelQuantity(ctx, 1, dec("3")))
	l1, ok := s.Snapshot().Level(1)
	require.True(t, ok)
	assertDec(t, "3", l1.Quantity)
	assert.Empty(t, gw.CancelledIDs(), "the resting order is left alone")

	require.NoError(t, s.UpdateLevelPrice(ctx, 1, dec("94")))
	require.Eventually(t, func() bool { return gw.PlacedCount() == 3 }, time.Second, 5*time.Millisecond)
	assertDec(t, "3", gw.PlacedOrders()[2].Quantity)
}
