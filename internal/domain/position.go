package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the counter side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether the exchange will never fill the order again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// OpenOrder is a resting order owned by one level of one strategy instance.
type OpenOrder struct {
	OrderID  string          `json:"order_id"`
	ListID   string          `json:"list_id,omitempty"`
	Side     Side            `json:"side"`
	Price    decimal.Decimal `json:"price"`
	OrigQty  decimal.Decimal `json:"orig_qty"`
	PlacedAt time.Time       `json:"placed_at"`

	// StopOrderID is the protective stop leg paired with an exit sell.
	StopOrderID string `json:"stop_order_id,omitempty"`
	// EntryPrice is the fill price of the order this one closes.
	EntryPrice decimal.Decimal `json:"entry_price"`
}

// Age returns how long the order has been resting at now.
func (o *OpenOrder) Age(now time.Time) time.Duration {
	return now.Sub(o.PlacedAt)
}

type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
)

type LimitOrderRequest struct {
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	TimeInForce   TimeInForce
	ClientOrderID string
}

type OCOOrderRequest struct {
	Symbol               string
	Side                 Side
	Quantity             decimal.Decimal
	Price                decimal.Decimal
	StopPrice            decimal.Decimal
	StopLimitPrice       decimal.Decimal
	StopLimitTimeInForce TimeInForce
	ListClientOrderID    string
}

type StopLimitOrderRequest struct {
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	StopPrice     decimal.Decimal
	Price         decimal.Decimal
	TimeInForce   TimeInForce
	ClientOrderID string
}

type OrderAck struct {
	OrderID string
	Price   decimal.Decimal
	OrigQty decimal.Decimal
}

// OCOAck carries both legs of a placed OCO list.
type OCOAck struct {
	OrderListID string
	LimitOrder  OrderAck
	StopOrder   OrderAck
}

// OrderInfo is an order as reported by the exchange.
type OrderInfo struct {
	OrderID     string          `json:"order_id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Type        string          `json:"type"`
	Price       decimal.Decimal `json:"price"`
	OrigQty     decimal.Decimal `json:"orig_qty"`
	ExecutedQty decimal.Decimal `json:"executed_qty"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	Status      OrderStatus     `json:"status"`
}

// FillPrice returns the average execution price, falling back to the limit price.
func (o *OrderInfo) FillPrice(fallback decimal.Decimal) decimal.Decimal {
	if o.AvgPrice.IsPositive() {
		return o.AvgPrice
	}
	if o.Price.IsPositive() {
		return o.Price
	}
	return fallback
}

// FillRecord is one observed fill in the journal.
type FillRecord struct {
	ID         int64           `json:"id"`
	StrategyID string          `json:"strategy_id"`
	Symbol     string          `json:"symbol"`
	Level      int             `json:"level"`
	OrderID    string          `json:"order_id"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Reason     string          `json:"reason"`
	FilledAt   time.Time       `json:"filled_at"`
}

// PnLRecord is one realized profit/loss event in the journal.
type PnLRecord struct {
	StrategyID string          `json:"strategy_id"`
	Symbol     string          `json:"symbol"`
	Level      int             `json:"level"`
	Amount     decimal.Decimal `json:"amount"`
	Total      decimal.Decimal `json:"total"`
	CreatedAt  time.Time       `json:"created_at"`
}
