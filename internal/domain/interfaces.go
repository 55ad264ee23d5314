package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway defines the exchange operations the strategy engine relies on.
type Gateway interface {
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetSymbolFilters(ctx context.Context, symbol string) (ExchangeFilters, error)

	PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*OrderAck, error)
	PlaceOCOOrder(ctx context.Context, req OCOOrderRequest) (*OCOAck, error)
	PlaceStopLimitOrder(ctx context.Context, req StopLimitOrderRequest) (*OrderAck, error)

	GetOrderStatus(ctx context.Context, symbol, orderID string) (*OrderInfo, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	ListOpenOrders(ctx context.Context, symbol string) ([]OrderInfo, error)
}

// CandleSource is implemented by gateways that can serve historical closes.
type CandleSource interface {
	GetCloses(ctx context.Context, symbol, interval string, limit int) ([]decimal.Decimal, error)
}

// FillJournal records fills and realized P&L for auditing.
type FillJournal interface {
	RecordFill(ctx context.Context, fill *FillRecord) error
	RecordPnL(ctx context.Context, event *PnLRecord) error
	ListFills(ctx context.Context, strategyID string, limit int) ([]*FillRecord, error)
	RealizedPnL(ctx context.Context, strategyID string) (decimal.Decimal, error)
}
