package usecase

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_ladder/internal/domain"
)

type MockGateway struct {
	mu sync.Mutex

	Price    decimal.Decimal
	PriceErr error
	Filters  domain.ExchangeFilters
	Closes   []decimal.Decimal

	Orders    map[string]*domain.OrderInfo
	Placed    []domain.LimitOrderRequest
	Stops     []domain.StopLimitOrderRequest
	OCOs      []domain.OCOOrderRequest
	Cancelled []string
	Open      []domain.OrderInfo

	CancelErr error
	PlaceErr  error

	nextID int
}

func NewMockGateway(price string) *MockGateway {
	return &MockGateway{
		Price:   decimal.RequireFromString(price),
		Filters: domain.ExchangeFilters{Symbol: "BTCUSDT", TickSize: "0.01", StepSize: "0.001"},
		Orders:  make(map[string]*domain.OrderInfo),
	}
}

func (m *MockGateway) SetPrice(price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Price = decimal.RequireFromString(price)
}

func (m *MockGateway) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Price, m.PriceErr
}

func (m *MockGateway) GetSymbolFilters(ctx context.Context, symbol string) (domain.ExchangeFilters, error) {
	return m.Filters, nil
}

func (m *MockGateway) newOrder(side domain.Side, typ string, price, qty decimal.Decimal) *domain.OrderInfo {
	m.nextID++
	o := &domain.OrderInfo{
		OrderID: strconv.Itoa(m.nextID),
		Symbol:  "BTCUSDT",
		Side:    side,
		Type:    typ,
		Price:   price,
		OrigQty: qty,
		Status:  domain.OrderStatusNew,
	}
	m.Orders[o.OrderID] = o
	return o
}

func (m *MockGateway) PlaceLimitOrder(ctx context.Context, req domain.LimitOrderRequest) (*domain.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlaceErr != nil {
		return nil, m.PlaceErr
	}
	m.Placed = append(m.Placed, req)
	o := m.newOrder(req.Side, "LIMIT", req.Price, req.Quantity)
	return &domain.OrderAck{OrderID: o.OrderID, Price: req.Price, OrigQty: req.Quantity}, nil
}

func (m *MockGateway) PlaceOCOOrder(ctx context.Context, req domain.OCOOrderRequest) (*domain.OCOAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OCOs = append(m.OCOs, req)
	limit := m.newOrder(req.Side, "LIMIT_MAKER", req.Price, req.Quantity)
	stop := m.newOrder(req.Side, "STOP_LOSS_LIMIT", req.StopLimitPrice, req.Quantity)
	return &domain.OCOAck{
		OrderListID: "list-" + limit.OrderID,
		LimitOrder:  domain.OrderAck{OrderID: limit.OrderID, Price: req.Price, OrigQty: req.Quantity},
		StopOrder:   domain.OrderAck{OrderID: stop.OrderID, Price: req.StopLimitPrice, OrigQty: req.Quantity},
	}, nil
}

func (m *MockGateway) PlaceStopLimitOrder(ctx context.Context, req domain.StopLimitOrderRequest) (*domain.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stops = append(m.Stops, req)
	o := m.newOrder(req.Side, "STOP_LOSS_LIMIT", req.Price, req.Quantity)
	return &domain.OrderAck{OrderID: o.OrderID, Price: req.Price, OrigQty: req.Quantity}, nil
}

func (m *MockGateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (*domain.OrderInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.Orders[orderID]
	if !ok {
		return nil, errors.New("order not found")
	}
	cp := *o
	return &cp, nil
}

func (m *MockGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CancelErr != nil {
		return m.CancelErr
	}
	m.Cancelled = append(m.Cancelled, orderID)
	if o, ok := m.Orders[orderID]; ok {
		o.Status = domain.OrderStatusCanceled
	}
	return nil
}

func (m *MockGateway) ListOpenOrders(ctx context.Context, symbol string) ([]domain.OrderInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Open, nil
}

// Fill marks an order as fully executed at price.
func (m *MockGateway) Fill(orderID, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.Orders[orderID]
	o.Status = domain.OrderStatusFilled
	o.AvgPrice = decimal.RequireFromString(price)
	o.ExecutedQty = o.OrigQty
}

// PartialFill records qty as executed while the order stays open.
func (m *MockGateway) PartialFill(orderID, qty, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.Orders[orderID]
	o.Status = domain.OrderStatusPartiallyFilled
	o.AvgPrice = decimal.RequireFromString(price)
	o.ExecutedQty = decimal.RequireFromString(qty)
}

func (m *MockGateway) SetCancelErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelErr = err
}

func (m *MockGateway) SetPlaceErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PlaceErr = err
}

func (m *MockGateway) PlacedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Placed)
}

func (m *MockGateway) CancelledIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Cancelled...)
}

// MockCandleGateway adds candle history to MockGateway.
type MockCandleGateway struct {
	*MockGateway
}

func (m *MockCandleGateway) GetCloses(ctx context.Context, symbol, interval string, limit int) ([]decimal.Decimal, error) {
	return m.Closes, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memJournal struct {
	mu    sync.Mutex
	fills []domain.FillRecord
	pnl   []domain.PnLRecord
}

func (j *memJournal) RecordFill(ctx context.Context, f *domain.FillRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fills = append(j.fills, *f)
	return nil
}

func (j *memJournal) RecordPnL(ctx context.Context, p *domain.PnLRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pnl = append(j.pnl, *p)
	return nil
}

func (j *memJournal) ListFills(ctx context.Context, strategyID string, limit int) ([]*domain.FillRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*domain.FillRecord, 0, len(j.fills))
	for i := range j.fills {
		f := j.fills[i]
		out = append(out, &f)
	}
	return out, nil
}

func (j *memJournal) RealizedPnL(ctx context.Context, strategyID string) (decimal.Decimal, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	total := decimal.Zero
	for _, p := range j.pnl {
		if p.StrategyID == strategyID {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

func (m *MockGateway) PlacedOrders() []domain.LimitOrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.LimitOrderRequest(nil), m.Placed...)
}
