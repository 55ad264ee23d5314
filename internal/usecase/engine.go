package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/grid_ladder/internal/domain"
	"go.uber.org/zap"
)

// Deps are the collaborators shared by every strategy instance.
type Deps struct {
	Gateway domain.Gateway
	Journal domain.FillJournal // optional
	Logger  *zap.Logger
	Clock   func() time.Time // optional, defaults to time.Now
}

// strategyHooks is what a variant contributes to the shared control loop.
type strategyHooks interface {
	// entrySide is the side of the order that opens a position at a level.
	entrySide() domain.Side
	levelList() []domain.OrderLevel
	levelPrice(index int) (decimal.Decimal, bool)
	// exitTarget is the unclamped counter-order price after an entry fill.
	exitTarget(index int, fill decimal.Decimal) decimal.Decimal
	// longBasis is the cost basis used when a long exit fills.
	longBasis(index int, exit *domain.OpenOrder) decimal.Decimal
	placementPass(ctx context.Context, price decimal.Decimal) error
	// sweepRange is the price band whose stray open orders are cancelled at start.
	sweepRange() (lo, hi decimal.Decimal, ok bool)
	sweepAllSides() bool
}

// priceObserver is implemented by variants that keep a price history.
type priceObserver interface {
	observe(ctx context.Context, price decimal.Decimal)
}

type command struct {
	name  string
	apply func(ctx context.Context) (any, error)
	reply chan commandResult
}

type commandResult struct {
	value any
	err   error
}

// reinsertion is an order that left the book without filling and must be placed again.
type reinsertion struct {
	index int
	order domain.OpenOrder
	qty   decimal.Decimal
}

// engine is the control loop shared by all variants. Everything below the
// atomics is owned by the goroutine executing Run.
type engine struct {
	id      string
	symbol  string
	variant string

	gateway domain.Gateway
	journal domain.FillJournal
	logger  *zap.Logger
	now     func() time.Time
	hooks   strategyHooks

	commands chan command
	stopC    chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool
	running  atomic.Bool
	snapshot atomic.Pointer[domain.Snapshot]

	settings   loopSettings
	q          *Quantizer
	ledger     *Ledger
	profitLoss decimal.Decimal
	lastPrice  decimal.Decimal
	cycles     int64
	lastErr    string
}

func newEngine(deps Deps, id, symbol, variant string, settings loopSettings) *engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	e := &engine{
		id:       id,
		symbol:   symbol,
		variant:  variant,
		gateway:  deps.Gateway,
		journal:  deps.Journal,
		logger:   logger.With(zap.String("strategy", id), zap.String("symbol", symbol), zap.String("variant", variant)),
		now:      now,
		commands: make(chan command, 16),
		stopC:    make(chan struct{}),
		done:     make(chan struct{}),
		settings: settings,
		ledger:   NewLedger(),
	}
	e.running.Store(true)
	return e
}

func (e *engine) ID() string      { return e.id }
func (e *engine) Symbol() string  { return e.symbol }
func (e *engine) Variant() string { return e.variant }

// Done is closed once Run has returned. It never closes for an instance that was not run.
func (e *engine) Done() <-chan struct{} { return e.done }

// Snapshot returns the most recently published view of the instance.
func (e *engine) Snapshot() domain.Snapshot {
	if s := e.snapshot.Load(); s != nil {
		return *s
	}
	return domain.Snapshot{ID: e.id, Symbol: e.symbol, Variant: e.variant, Running: e.running.Load()}
}

// Stop flips the running flag and wakes the loop. The current cycle finishes,
// and resting orders stay on the exchange unless cancelOnStop is configured.
func (e *engine) Stop() {
	e.stopOnce.Do(func() {
		e.running.Store(false)
		close(e.stopC)
		if s := e.snapshot.Load(); s != nil {
			next := *s
			next.Running = false
			e.snapshot.Store(&next)
		}
	})
}

func (e *engine) stopping() bool {
	select {
	case <-e.stopC:
		return true
	default:
		return false
	}
}

// Run drives the control loop until Stop is called or ctx is cancelled.
func (e *engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("strategy %s already started", e.id)
	}
	defer close(e.done)
	defer func() {
		e.running.Store(false)
		e.publish()
	}()

	if e.stopping() {
		return nil
	}

	filters, err := e.gateway.GetSymbolFilters(ctx, e.symbol)
	if err != nil {
		return fmt.Errorf("fetch filters for %s: %w", e.symbol, err)
	}
	if filters.Symbol == "" {
		filters.Symbol = e.symbol
	}
	q, err := NewQuantizer(filters)
	if err != nil {
		return err
	}
	e.q = q
	e.logger.Info("Strategy started",
		zap.String("tick_size", filters.TickSize),
		zap.String("step_size", filters.StepSize),
	)

	e.cancelExistingOrdersInRange(ctx)
	e.publish()

	for !e.stopping() && ctx.Err() == nil {
		if err := e.runCycle(ctx); err != nil {
			e.lastErr = err.Error()
			CycleErrorsTotal.WithLabelValues(e.id).Inc()
			e.logger.Error("Error in control loop, backing off", zap.Error(err))
			e.publish()
			e.backoff(ctx)
			continue
		}
		e.wait(ctx, sleepBetween(e.settings.minSleep, e.settings.maxSleep))
	}

	if e.settings.cancelOnStop {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		e.cancelAll(cleanupCtx)
		cancel()
	}
	e.logger.Info("Strategy stopped", zap.String("profit_loss", e.profitLoss.String()))
	return nil
}

func (e *engine) runCycle(ctx context.Context) error {
	e.drainCommands(ctx)

	price, err := e.gateway.GetCurrentPrice(ctx, e.symbol)
	if err != nil {
		return fmt.Errorf("get current price: %w", err)
	}
	if !price.IsPositive() {
		return fmt.Errorf("non-positive price %s for %s", price, e.symbol)
	}
	e.lastPrice = price
	e.logger.Debug("Current price", zap.String("price", price.String()))

	if obs, ok := e.hooks.(priceObserver); ok {
		obs.observe(ctx, price)
	}
	e.reactivate(price)
	e.retryPendingExits(ctx, price)
	if err := e.hooks.placementPass(ctx, price); err != nil {
		return err
	}
	e.reconcile(ctx, price)

	e.cycles++
	e.lastErr = ""
	CyclesTotal.WithLabelValues(e.id).Inc()
	e.publish()
	return nil
}

// wait sleeps for d while serving commands. It reports false when the loop should exit.
func (e *engine) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return true
		case <-e.stopC:
			return false
		case <-ctx.Done():
			return false
		case cmd := <-e.commands:
			e.execute(ctx, cmd)
		}
	}
}

func (e *engine) backoff(ctx context.Context) {
	for _, d := range backoffDelays(e.settings.backoffBase, e.settings.backoffAttempts) {
		e.logger.Info("Retrying after backoff", zap.Duration("wait", d))
		if !e.wait(ctx, d) {
			return
		}
	}
}

// pause spaces consecutive placements without serving commands.
func (e *engine) pause(ctx context.Context) {
	if e.settings.placementDelay <= 0 {
		return
	}
	timer := time.NewTimer(e.settings.placementDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// submit hands fn to the loop goroutine and waits for its result.
func (e *engine) submit(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	if !e.running.Load() {
		return nil, fmt.Errorf("%s: %w", e.id, domain.ErrNotRunning)
	}
	cmd := command{name: name, apply: fn, reply: make(chan commandResult, 1)}
	select {
	case e.commands <- cmd:
	case <-e.done:
		return nil, fmt.Errorf("%s: %w", e.id, domain.ErrNotRunning)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res.value, res.err
	case <-e.done:
		select {
		case res := <-cmd.reply:
			return res.value, res.err
		default:
			return nil, fmt.Errorf("%s: %w", e.id, domain.ErrNotRunning)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *engine) drainCommands(ctx context.Context) {
	for {
		select {
		case cmd := <-e.commands:
			e.execute(ctx, cmd)
		default:
			return
		}
	}
}

func (e *engine) execute(ctx context.Context, cmd command) {
	value, err := cmd.apply(ctx)
	if err != nil {
		e.logger.Warn("Command failed", zap.String("command", cmd.name), zap.Error(err))
	} else {
		e.logger.Info("Command applied", zap.String("command", cmd.name))
	}
	// published before replying so callers read their own edit
	e.publish()
	cmd.reply <- commandResult{value: value, err: err}
}

// SetProfitMargin changes the margin used for counter-orders placed from now on.
func (e *engine) SetProfitMargin(ctx context.Context, margin float64) error {
	if margin < 0 {
		return fmt.Errorf("profit margin %v must not be negative: %w", margin, domain.ErrInvalidArgument)
	}
	_, err := e.submit(ctx, "set_profit_margin", func(context.Context) (any, error) {
		prev := e.settings.profitMargin
		e.settings.profitMargin = decimal.NewFromFloat(margin)
		e.logger.Info("Profit margin updated",
			zap.String("from", prev.String()),
			zap.String("to", e.settings.profitMargin.String()),
		)
		return nil, nil
	})
	return err
}

func (e *engine) publish() {
	levels := e.hooks.levelList()
	rows := make([]domain.LevelStatus, 0, len(levels))
	for _, l := range levels {
		rows = append(rows, e.ledger.Status(l))
	}
	snap := &domain.Snapshot{
		ID:           e.id,
		Symbol:       e.symbol,
		Variant:      e.variant,
		Running:      e.running.Load(),
		ProfitLoss:   e.profitLoss,
		ProfitMargin: e.settings.profitMargin,
		LastPrice:    e.lastPrice,
		Cycles:       e.cycles,
		LastError:    e.lastErr,
		UpdatedAt:    e.now(),
		Levels:       rows,
	}
	e.snapshot.Store(snap)

	SkippedLevels.WithLabelValues(e.id).Set(float64(len(e.ledger.Skipped())))
	StoppedLevels.WithLabelValues(e.id).Set(float64(len(e.ledger.Stopped())))
	ProfitLoss.WithLabelValues(e.id).Set(e.profitLoss.InexactFloat64())
}

// cancelExistingOrdersInRange clears stray open orders left inside the grid's price band.
func (e *engine) cancelExistingOrdersInRange(ctx context.Context) {
	lo, hi, ok := e.hooks.sweepRange()
	if !ok {
		e.logger.Warn("No levels defined, skipping cancellation of existing orders")
		return
	}
	orders, err := e.gateway.ListOpenOrders(ctx, e.symbol)
	if err != nil {
		e.logger.Error("Error fetching open orders", zap.Error(err))
		return
	}
	side := e.hooks.entrySide()
	cancelled := 0
	for _, o := range orders {
		if o.Status.Terminal() {
			continue
		}
		if !e.hooks.sweepAllSides() && o.Side != side {
			continue
		}
		if o.Price.LessThan(lo) || o.Price.GreaterThan(hi) {
			continue
		}
		if err := e.gateway.CancelOrder(ctx, e.symbol, o.OrderID); err != nil {
			e.logger.Error("Error cancelling existing order", zap.String("order_id", o.OrderID), zap.Error(err))
			continue
		}
		cancelled++
		e.logger.Warn("Cancelled existing order in range",
			zap.String("order_id", o.OrderID),
			zap.String("side", string(o.Side)),
			zap.String("price", o.Price.String()),
			zap.String("lower", lo.String()),
			zap.String("upper", hi.String()),
		)
	}
	if cancelled == 0 {
		e.logger.Info("No active orders in range", zap.String("lower", lo.String()), zap.String("upper", hi.String()))
	}
}

func (e *engine) cancelAll(ctx context.Context) {
	for _, o := range e.ledger.All() {
		if err := e.gateway.CancelOrder(ctx, e.symbol, o.OrderID); err != nil {
			e.logger.Error("Error cancelling order on stop", zap.String("order_id", o.OrderID), zap.Error(err))
		}
		if o.StopOrderID != "" && o.ListID == "" {
			if err := e.gateway.CancelOrder(ctx, e.symbol, o.StopOrderID); err != nil {
				e.logger.Error("Error cancelling stop order on stop", zap.String("order_id", o.StopOrderID), zap.Error(err))
			}
		}
	}
}

func (e *engine) reactivate(price decimal.Decimal) {
	m := e.settings.safetyMargin
	if m.IsZero() {
		return
	}
	for _, idx := range e.ledger.Stopped() {
		lp, ok := e.hooks.levelPrice(idx)
		if !ok {
			continue
		}
		var recovered bool
		if e.hooks.entrySide() == domain.SideBuy {
			recovered = price.GreaterThanOrEqual(lp.Mul(one.Add(m)))
		} else {
			recovered = price.LessThanOrEqual(lp.Mul(one.Sub(m)))
		}
		if recovered && e.ledger.Reactivate(idx) {
			e.logger.Info("Reactivating stopped level",
				zap.Int("level", idx),
				zap.String("price", price.String()),
				zap.String("level_price", lp.String()),
			)
		}
	}
}

// placeEntry submits an opening limit order for a level and records it.
func (e *engine) placeEntry(ctx context.Context, index int, side domain.Side, price, qty decimal.Decimal, kind string) bool {
	if e.ledger.Has(index, side) {
		return false
	}
	e.logger.Info("Placing limit order",
		zap.String("side", string(side)),
		zap.Int("level", index),
		zap.String("price", price.String()),
		zap.String("quantity", qty.String()),
		zap.String("kind", kind),
	)
	ack, err := e.gateway.PlaceLimitOrder(ctx, domain.LimitOrderRequest{
		Symbol:        e.symbol,
		Side:          side,
		Quantity:      qty,
		Price:         price,
		TimeInForce:   domain.GTC,
		ClientOrderID: uuid.NewString(),
	})
	defer e.pause(ctx)
	if err != nil {
		e.logger.Error("Error creating limit order", zap.String("side", string(side)), zap.Int("level", index), zap.Error(err))
		return false
	}
	e.ledger.Put(index, e.openOrder(ack, side, price, qty))
	e.ledger.Unskip(index)
	OrdersPlacedTotal.WithLabelValues(e.id, string(side), kind).Inc()
	e.logger.Info("Limit order created", zap.String("order_id", ack.OrderID), zap.Int("level", index))
	return true
}

func (e *engine) openOrder(ack *domain.OrderAck, side domain.Side, price, qty decimal.Decimal) *domain.OpenOrder {
	o := &domain.OpenOrder{
		OrderID:  ack.OrderID,
		Side:     side,
		Price:    price,
		OrigQty:  qty,
		PlacedAt: e.now(),
	}
	if ack.Price.IsPositive() {
		o.Price = ack.Price
	}
	if ack.OrigQty.IsPositive() {
		o.OrigQty = ack.OrigQty
	}
	return o
}

// placeExit places the counter-order for a filled entry, with protection for long exits.
// On failure the plan is parked and retried on later cycles.
func (e *engine) placeExit(ctx context.Context, index int, plan exitPlan, current decimal.Decimal) error {
	qty := e.q.Quantity(plan.Qty)
	if !qty.IsPositive() {
		e.ledger.ClearPendingExit(index)
		return fmt.Errorf("exit quantity %s rounds to zero: %w", plan.Qty, domain.ErrInvalidArgument)
	}
	price := ClampToGate(e.q, plan.Side, plan.Target, current, e.settings.safetyMargin)
	if !price.IsPositive() {
		e.ledger.SetPendingExit(index, &plan)
		return fmt.Errorf("exit price for level %d not positive: %w", index, domain.ErrInvalidArgument)
	}
	if !price.Equal(e.q.Price(plan.Side, plan.Target)) {
		e.logger.Info("Exit price clamped past safety threshold",
			zap.Int("level", index),
			zap.String("target", plan.Target.String()),
			zap.String("price", price.String()),
		)
	}

	if plan.Side == domain.SideSell && e.settings.protection == ProtectionOCO {
		return e.placeOCOExit(ctx, index, plan, price, qty)
	}

	e.logger.Info("Placing exit limit order",
		zap.String("side", string(plan.Side)),
		zap.Int("level", index),
		zap.String("price", price.String()),
		zap.String("quantity", qty.String()),
	)
	ack, err := e.gateway.PlaceLimitOrder(ctx, domain.LimitOrderRequest{
		Symbol:        e.symbol,
		Side:          plan.Side,
		Quantity:      qty,
		Price:         price,
		TimeInForce:   domain.GTC,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		e.ledger.SetPendingExit(index, &plan)
		e.logger.Error("Error creating exit order", zap.Int("level", index), zap.Error(err))
		return err
	}
	order := e.openOrder(ack, plan.Side, price, qty)
	order.EntryPrice = plan.Entry
	e.ledger.Put(index, order)
	e.ledger.ClearPendingExit(index)
	e.ledger.Unskip(index)
	OrdersPlacedTotal.WithLabelValues(e.id, string(plan.Side), "exit").Inc()
	e.logger.Info("Exit order created", zap.String("order_id", ack.OrderID), zap.Int("level", index))

	if plan.Side == domain.SideSell && e.settings.protection == ProtectionStopLimit {
		e.placeProtectiveStop(ctx, index, order, plan.Entry)
	}
	return nil
}

func (e *engine) placeProtectiveStop(ctx context.Context, index int, exit *domain.OpenOrder, entry decimal.Decimal) {
	stop, limit := StopPrices(e.q, entry, e.settings.stopLossMargin)
	if !limit.IsPositive() {
		e.logger.Error("Stop loss price not positive, level left unprotected", zap.Int("level", index))
		return
	}
	ack, err := e.gateway.PlaceStopLimitOrder(ctx, domain.StopLimitOrderRequest{
		Symbol:        e.symbol,
		Side:          domain.SideSell,
		Quantity:      exit.OrigQty,
		StopPrice:     stop,
		Price:         limit,
		TimeInForce:   domain.GTC,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		e.logger.Error("Error creating stop loss order", zap.Int("level", index), zap.Error(err))
		return
	}
	exit.StopOrderID = ack.OrderID
	OrdersPlacedTotal.WithLabelValues(e.id, string(domain.SideSell), "stop").Inc()
	e.logger.Info("Stop loss order created",
		zap.Int("level", index),
		zap.String("order_id", ack.OrderID),
		zap.String("stop_price", stop.String()),
	)
}

func (e *engine) placeOCOExit(ctx context.Context, index int, plan exitPlan, price, qty decimal.Decimal) error {
	stop, limit := StopPrices(e.q, plan.Entry, e.settings.stopLossMargin)
	prices := OCOPrices{Sell: price, Stop: stop, StopLimit: limit}
	if err := ValidateOCO(prices, e.q.Tick()); err != nil {
		e.ledger.SetPendingExit(index, &plan)
		e.ledger.Skip(index)
		e.logger.Error("Invalid OCO prices, skipping level this cycle", zap.Int("level", index), zap.Error(err))
		return err
	}
	ack, err := e.gateway.PlaceOCOOrder(ctx, domain.OCOOrderRequest{
		Symbol:               e.symbol,
		Side:                 domain.SideSell,
		Quantity:             qty,
		Price:                price,
		StopPrice:            stop,
		StopLimitPrice:       limit,
		StopLimitTimeInForce: domain.GTC,
		ListClientOrderID:    uuid.NewString(),
	})
	if err != nil {
		e.ledger.SetPendingExit(index, &plan)
		e.logger.Error("Error creating OCO order", zap.Int("level", index), zap.Error(err))
		return err
	}
	order := e.openOrder(&ack.LimitOrder, domain.SideSell, price, qty)
	order.ListID = ack.OrderListID
	order.StopOrderID = ack.StopOrder.OrderID
	order.EntryPrice = plan.Entry
	e.ledger.Put(index, order)
	e.ledger.ClearPendingExit(index)
	e.ledger.Unskip(index)
	OrdersPlacedTotal.WithLabelValues(e.id, string(domain.SideSell), "oco").Inc()
	e.logger.Info("OCO order created",
		zap.Int("level", index),
		zap.String("order_list_id", ack.OrderListID),
		zap.String("price", price.String()),
		zap.String("stop_price", stop.String()),
		zap.String("stop_limit_price", limit.String()),
	)
	return nil
}

func (e *engine) retryPendingExits(ctx context.Context, price decimal.Decimal) {
	for _, idx := range e.ledger.PendingExits() {
		plan, ok := e.ledger.PendingExit(idx)
		if !ok || e.ledger.Has(idx, plan.Side) {
			continue
		}
		if err := e.placeExit(ctx, idx, *plan, price); err == nil {
			e.logger.Info("Pending exit placed", zap.Int("level", idx))
		}
		e.pause(ctx)
	}
}

// reconcile polls every open order once and acts on fills, external cancels and staleness.
func (e *engine) reconcile(ctx context.Context, price decimal.Decimal) {
	type entry struct {
		index int
		side  domain.Side
	}
	var pending []entry
	for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
		for _, idx := range e.ledger.Orders(side) {
			pending = append(pending, entry{idx, side})
		}
	}

	var toReinsert []reinsertion
	for _, p := range pending {
		order, ok := e.ledger.Get(p.index, p.side)
		if !ok {
			continue
		}
		if r := e.reconcileOrder(ctx, p.index, order, price); r != nil {
			toReinsert = append(toReinsert, *r)
		}
	}
	for _, r := range toReinsert {
		e.reinsert(ctx, r, price)
	}
}

func (e *engine) reconcileOrder(ctx context.Context, index int, order *domain.OpenOrder, price decimal.Decimal) *reinsertion {
	info, err := e.gateway.GetOrderStatus(ctx, e.symbol, order.OrderID)
	if err != nil {
		e.logger.Error("Error checking order status", zap.String("order_id", order.OrderID), zap.Int("level", index), zap.Error(err))
		return nil
	}

	if info.Status == domain.OrderStatusFilled {
		e.ledger.Delete(index, order.Side)
		fill := info.FillPrice(order.Price)
		qty := order.OrigQty
		if info.ExecutedQty.IsPositive() {
			qty = info.ExecutedQty
		}
		e.logger.Info("Order filled",
			zap.String("side", string(order.Side)),
			zap.Int("level", index),
			zap.String("order_id", order.OrderID),
			zap.String("fill_price", fill.String()),
		)
		e.recordFill(ctx, index, order.OrderID, order.Side, fill, qty, "fill")
		if order.Side == e.hooks.entrySide() {
			e.onEntryFilled(ctx, index, fill, qty, price)
		} else {
			e.onExitFilled(ctx, index, order, fill, qty)
		}
		return nil
	}

	if order.StopOrderID != "" {
		stopInfo, err := e.gateway.GetOrderStatus(ctx, e.symbol, order.StopOrderID)
		if err != nil {
			e.logger.Error("Error checking stop order status", zap.String("order_id", order.StopOrderID), zap.Error(err))
		} else if stopInfo.Status == domain.OrderStatusFilled {
			e.onStopFilled(ctx, index, order, stopInfo)
			return nil
		}
	}

	if info.Status.Terminal() {
		e.ledger.Delete(index, order.Side)
		e.cancelStopLeg(ctx, order)
		e.logger.Warn("Order left the book without filling",
			zap.String("order_id", order.OrderID),
			zap.Int("level", index),
			zap.String("status", string(info.Status)),
		)
		return e.remaining(ctx, index, order, info)
	}

	if order.Age(e.now()) <= e.settings.maxOrderAge {
		return nil
	}
	e.logger.Warn("Order stuck, cancelling",
		zap.String("order_id", order.OrderID),
		zap.Int("level", index),
		zap.Duration("age", order.Age(e.now())),
	)
	if err := e.gateway.CancelOrder(ctx, e.symbol, order.OrderID); err != nil {
		e.logger.Error("Error cancelling stuck order", zap.String("order_id", order.OrderID), zap.Error(err))
		return nil
	}
	e.cancelStopLeg(ctx, order)
	e.ledger.Delete(index, order.Side)
	StaleCancelsTotal.WithLabelValues(e.id).Inc()
	return e.remaining(ctx, index, order, info)
}

// remaining builds the reinsertion for the unfilled part of an order. Any
// executed part of an exit is realized first.
func (e *engine) remaining(ctx context.Context, index int, order *domain.OpenOrder, info *domain.OrderInfo) *reinsertion {
	qty := order.OrigQty
	if info.ExecutedQty.IsPositive() {
		qty = qty.Sub(info.ExecutedQty)
		fill := info.FillPrice(order.Price)
		e.recordFill(ctx, index, order.OrderID, order.Side, fill, info.ExecutedQty, "partial")
		if order.Side == e.hooks.entrySide() {
			e.onEntryFilled(ctx, index, fill, info.ExecutedQty, e.lastPrice)
		} else {
			e.realize(ctx, index, order, fill, info.ExecutedQty)
		}
	}
	if !qty.IsPositive() {
		return nil
	}
	return &reinsertion{index: index, order: *order, qty: qty}
}

func (e *engine) cancelStopLeg(ctx context.Context, order *domain.OpenOrder) {
	if order.StopOrderID == "" || order.ListID != "" {
		return
	}
	if err := e.gateway.CancelOrder(ctx, e.symbol, order.StopOrderID); err != nil {
		e.logger.Error("Error cancelling stop order", zap.String("order_id", order.StopOrderID), zap.Error(err))
	}
}

func (e *engine) reinsert(ctx context.Context, r reinsertion, price decimal.Decimal) {
	side := r.order.Side
	if side != e.hooks.entrySide() {
		plan := exitPlan{Side: side, Target: r.order.Price, Entry: r.order.EntryPrice, Qty: r.qty}
		e.logger.Info("Reinserting exit order", zap.Int("level", r.index), zap.String("side", string(side)))
		_ = e.placeExit(ctx, r.index, plan, price)
		e.pause(ctx)
		return
	}
	if e.ledger.IsStopped(r.index) {
		e.logger.Info("Skipping reinsertion of stopped level", zap.Int("level", r.index))
		return
	}
	target, ok := e.hooks.levelPrice(r.index)
	if !ok {
		return
	}
	qty := e.q.Quantity(r.qty)
	p := ClampToGate(e.q, side, target, price, e.settings.safetyMargin)
	if !qty.IsPositive() || !p.IsPositive() {
		e.ledger.Skip(r.index)
		return
	}
	e.placeEntry(ctx, r.index, side, p, qty, "reinsert")
}

func (e *engine) onEntryFilled(ctx context.Context, index int, fill, qty, current decimal.Decimal) {
	plan := exitPlan{
		Side:   e.hooks.entrySide().Opposite(),
		Target: e.hooks.exitTarget(index, fill),
		Entry:  fill,
		Qty:    qty,
	}
	if err := e.placeExit(ctx, index, plan, current); err != nil {
		e.logger.Warn("Exit parked for retry", zap.Int("level", index), zap.Error(err))
	}
	e.pause(ctx)
}

func (e *engine) onExitFilled(ctx context.Context, index int, order *domain.OpenOrder, fill, qty decimal.Decimal) {
	e.cancelStopLeg(ctx, order)
	e.realize(ctx, index, order, fill, qty)

	if order.Side != domain.SideSell || e.settings.stopLossMargin.IsZero() {
		return
	}
	lp, ok := e.hooks.levelPrice(index)
	if !ok {
		return
	}
	if fill.LessThanOrEqual(lp.Mul(one.Sub(e.settings.stopLossMargin))) {
		e.ledger.Stop(index)
		e.logger.Warn("Level hit stop loss, will not replace", zap.Int("level", index), zap.String("fill_price", fill.String()))
	}
}

func (e *engine) onStopFilled(ctx context.Context, index int, order *domain.OpenOrder, stopInfo *domain.OrderInfo) {
	e.ledger.Delete(index, order.Side)
	if order.ListID == "" {
		if err := e.gateway.CancelOrder(ctx, e.symbol, order.OrderID); err != nil {
			e.logger.Error("Error cancelling target after stop loss", zap.String("order_id", order.OrderID), zap.Error(err))
		}
	}
	fill := stopInfo.FillPrice(order.Price)
	qty := order.OrigQty
	if stopInfo.ExecutedQty.IsPositive() {
		qty = stopInfo.ExecutedQty
	}
	e.recordFill(ctx, index, stopInfo.OrderID, domain.SideSell, fill, qty, "stop_loss")
	e.realize(ctx, index, order, fill, qty)
	e.ledger.Stop(index)
	e.logger.Warn("Stop loss executed, level stopped",
		zap.Int("level", index),
		zap.String("order_id", stopInfo.OrderID),
		zap.String("fill_price", fill.String()),
	)
}

// realize books P&L for a completed exit: (exit - basis) * qty for longs,
// (entry - exit) * qty for shorts.
func (e *engine) realize(ctx context.Context, index int, exit *domain.OpenOrder, fill, qty decimal.Decimal) {
	var amount decimal.Decimal
	if exit.Side == domain.SideSell {
		amount = fill.Sub(e.hooks.longBasis(index, exit)).Mul(qty)
	} else {
		amount = exit.EntryPrice.Sub(fill).Mul(qty)
	}
	e.profitLoss = e.profitLoss.Add(amount)
	e.logger.Info("Profit/loss updated",
		zap.Int("level", index),
		zap.String("amount", amount.String()),
		zap.String("total", e.profitLoss.String()),
	)
	if e.journal == nil {
		return
	}
	err := e.journal.RecordPnL(ctx, &domain.PnLRecord{
		StrategyID: e.id,
		Symbol:     e.symbol,
		Level:      index,
		Amount:     amount,
		Total:      e.profitLoss,
		CreatedAt:  e.now(),
	})
	if err != nil {
		e.logger.Warn("Failed to journal P&L", zap.Error(err))
	}
}

func (e *engine) recordFill(ctx context.Context, index int, orderID string, side domain.Side, price, qty decimal.Decimal, reason string) {
	OrderFillsTotal.WithLabelValues(e.id, string(side)).Inc()
	if e.journal == nil {
		return
	}
	err := e.journal.RecordFill(ctx, &domain.FillRecord{
		StrategyID: e.id,
		Symbol:     e.symbol,
		Level:      index,
		OrderID:    orderID,
		Side:       side,
		Price:      price,
		Quantity:   qty,
		Reason:     reason,
		FilledAt:   e.now(),
	})
	if err != nil {
		e.logger.Warn("Failed to journal fill", zap.Error(err))
	}
}

// cancelLevelOrders cancels every resting order of a level. The ledger entry
// of an order is only dropped once its cancel succeeded.
func (e *engine) cancelLevelOrders(ctx context.Context, index int, sides ...domain.Side) error {
	var errs []error
	for _, side := range sides {
		o, ok := e.ledger.Get(index, side)
		if !ok {
			continue
		}
		if err := e.gateway.CancelOrder(ctx, e.symbol, o.OrderID); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s order %s: %w", side, o.OrderID, err))
			continue
		}
		e.cancelStopLeg(ctx, o)
		e.ledger.Delete(index, side)
		e.logger.Info("Cancelled level order", zap.Int("level", index), zap.String("order_id", o.OrderID))
	}
	return errors.Join(errs...)
}
