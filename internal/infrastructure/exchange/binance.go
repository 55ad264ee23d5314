package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vitos/grid_ladder/internal/domain"
	"go.uber.org/zap"
)

const (
	BinanceBaseURL = "https://api.binance.com"
	BinanceWSURL   = "wss://stream.binance.com:9443/ws"
)

// BinanceConfig configures the spot (or cross-margin) REST adapter.
type BinanceConfig struct {
	APIKey      string
	APISecret   string
	BaseURL     string
	Margin      bool
	RecvWindow  time.Duration
	Timeout     time.Duration
	PriceMaxAge time.Duration
}

// APIError is the {code,msg} body Binance returns on rejected requests.
type APIError struct {
	Status int    `json:"-"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance error %d (http %d): %s", e.Code, e.Status, e.Msg)
}

type BinanceAdapter struct {
	apiKey      string
	apiSecret   string
	recvWindow  time.Duration
	margin      bool
	priceMaxAge time.Duration
	client      *resty.Client
	logger      *zap.Logger
	now         func() time.Time

	stream *PriceStream

	mu      sync.Mutex
	filters map[string]domain.ExchangeFilters
}

func NewBinanceAdapter(cfg BinanceConfig, logger *zap.Logger) *BinanceAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = BinanceBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PriceMaxAge <= 0 {
		cfg.PriceMaxAge = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// Only rate limiting is retried; a 5xx on an order endpoint has an unknown outcome.
			return resp != nil && resp.StatusCode() == http.StatusTooManyRequests
		}).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp.StatusCode() == http.StatusTooManyRequests {
				if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil && secs > 0 {
					return time.Duration(secs) * time.Second, nil
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		})

	return &BinanceAdapter{
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		recvWindow:  cfg.RecvWindow,
		margin:      cfg.Margin,
		priceMaxAge: cfg.PriceMaxAge,
		client:      client,
		logger:      logger,
		now:         time.Now,
		filters:     make(map[string]domain.ExchangeFilters),
	}
}

// UsePriceStream makes GetCurrentPrice prefer fresh prices from the stream.
func (b *BinanceAdapter) UsePriceStream(s *PriceStream) {
	b.stream = s
}

// --- REST plumbing ---

func (b *BinanceAdapter) sign(query string) string {
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

// call sends params in the query string, signing them when signed is set, and
// decodes a successful JSON body into out.
func (b *BinanceAdapter) call(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
		if b.recvWindow > 0 {
			params.Set("recvWindow", strconv.FormatInt(b.recvWindow.Milliseconds(), 10))
		}
	}
	query := params.Encode()
	if signed {
		query += "&signature=" + b.sign(query)
	}

	// The query goes into the URL verbatim so the signature stays the last parameter.
	req := b.client.R().
		SetContext(ctx).
		SetError(&APIError{})
	if signed {
		req.SetHeader("X-MBX-APIKEY", b.apiKey)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path+"?"+query)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	if resp.IsError() {
		apiErr, ok := resp.Error().(*APIError)
		if !ok || apiErr.Msg == "" {
			apiErr = &APIError{Msg: strings.TrimSpace(resp.String())}
		}
		apiErr.Status = resp.StatusCode()
		return errors.Wrapf(apiErr, "%s %s", method, path)
	}
	return nil
}

func (b *BinanceAdapter) orderPath() string {
	if b.margin {
		return "/sapi/v1/margin/order"
	}
	return "/api/v3/order"
}

func (b *BinanceAdapter) ocoPath() string {
	if b.margin {
		return "/sapi/v1/margin/order/oco"
	}
	return "/api/v3/order/oco"
}

func (b *BinanceAdapter) openOrdersPath() string {
	if b.margin {
		return "/sapi/v1/margin/openOrders"
	}
	return "/api/v3/openOrders"
}

// --- Market data ---

func (b *BinanceAdapter) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if b.stream != nil {
		b.stream.Watch(symbol)
		if p, ok := b.stream.Price(symbol, b.priceMaxAge); ok {
			return p, nil
		}
	}

	var ticker struct {
		Symbol string          `json:"symbol"`
		Price  decimal.Decimal `json:"price"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := b.call(ctx, http.MethodGet, "/api/v3/ticker/price", params, false, &ticker); err != nil {
		return decimal.Zero, errors.Wrap(err, "ticker price")
	}
	return ticker.Price, nil
}

// GetSymbolFilters reads PRICE_FILTER.tickSize and LOT_SIZE.stepSize. Results are cached per symbol.
func (b *BinanceAdapter) GetSymbolFilters(ctx context.Context, symbol string) (domain.ExchangeFilters, error) {
	b.mu.Lock()
	cached, ok := b.filters[symbol]
	b.mu.Unlock()
	if ok {
		return cached, nil
	}

	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				StepSize   string `json:"stepSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := b.call(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false, &info); err != nil {
		return domain.ExchangeFilters{}, errors.Wrap(err, "exchange info")
	}

	f := domain.ExchangeFilters{Symbol: symbol}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, flt := range s.Filters {
			switch flt.FilterType {
			case "PRICE_FILTER":
				f.TickSize = flt.TickSize
			case "LOT_SIZE":
				f.StepSize = flt.StepSize
			}
		}
	}
	if !f.Valid() {
		return f, errors.Wrapf(domain.ErrFiltersMissing, "symbol %s", symbol)
	}

	b.mu.Lock()
	b.filters[symbol] = f
	b.mu.Unlock()
	return f, nil
}

// GetCloses returns the close prices of the last limit klines, oldest first.
func (b *BinanceAdapter) GetCloses(ctx context.Context, symbol, interval string, limit int) ([]decimal.Decimal, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	var rows [][]any
	params := url.Values{
		"symbol":   {symbol},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	if err := b.call(ctx, http.MethodGet, "/api/v3/klines", params, false, &rows); err != nil {
		return nil, errors.Wrap(err, "klines")
	}

	closes := make([]decimal.Decimal, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		s, ok := row[4].(string)
		if !ok {
			continue
		}
		c, err := decimal.NewFromString(s)
		if err != nil {
			return nil, errors.Wrapf(err, "kline close %q", s)
		}
		closes = append(closes, c)
	}
	return closes, nil
}

// --- Orders ---

type binanceOrder struct {
	OrderID             int64           `json:"orderId"`
	Symbol              string          `json:"symbol"`
	Side                string          `json:"side"`
	Type                string          `json:"type"`
	Price               decimal.Decimal `json:"price"`
	OrigQty             decimal.Decimal `json:"origQty"`
	ExecutedQty         decimal.Decimal `json:"executedQty"`
	CummulativeQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
	Status              string          `json:"status"`
}

func (o binanceOrder) id() string {
	return strconv.FormatInt(o.OrderID, 10)
}

func (o binanceOrder) ack() domain.OrderAck {
	return domain.OrderAck{OrderID: o.id(), Price: o.Price, OrigQty: o.OrigQty}
}

func (o binanceOrder) info() domain.OrderInfo {
	info := domain.OrderInfo{
		OrderID:     o.id(),
		Symbol:      o.Symbol,
		Side:        domain.Side(o.Side),
		Type:        o.Type,
		Price:       o.Price,
		OrigQty:     o.OrigQty,
		ExecutedQty: o.ExecutedQty,
		Status:      domain.OrderStatus(o.Status),
	}
	if o.ExecutedQty.IsPositive() && o.CummulativeQuoteQty.IsPositive() {
		info.AvgPrice = o.CummulativeQuoteQty.Div(o.ExecutedQty)
	}
	return info
}

func tif(t domain.TimeInForce) string {
	if t == "" {
		return string(domain.GTC)
	}
	return string(t)
}

func (b *BinanceAdapter) PlaceLimitOrder(ctx context.Context, req domain.LimitOrderRequest) (*domain.OrderAck, error) {
	params := url.Values{
		"symbol":      {req.Symbol},
		"side":        {string(req.Side)},
		"type":        {"LIMIT"},
		"timeInForce": {tif(req.TimeInForce)},
		"quantity":    {req.Quantity.String()},
		"price":       {req.Price.String()},
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	var order binanceOrder
	if err := b.call(ctx, http.MethodPost, b.orderPath(), params, true, &order); err != nil {
		return nil, errors.Wrapf(err, "place %s limit %s@%s", req.Side, req.Quantity, req.Price)
	}
	ack := order.ack()
	b.logger.Debug("Limit order accepted", zap.String("symbol", req.Symbol), zap.String("order_id", ack.OrderID))
	return &ack, nil
}

func (b *BinanceAdapter) PlaceStopLimitOrder(ctx context.Context, req domain.StopLimitOrderRequest) (*domain.OrderAck, error) {
	params := url.Values{
		"symbol":      {req.Symbol},
		"side":        {string(req.Side)},
		"type":        {"STOP_LOSS_LIMIT"},
		"timeInForce": {tif(req.TimeInForce)},
		"quantity":    {req.Quantity.String()},
		"price":       {req.Price.String()},
		"stopPrice":   {req.StopPrice.String()},
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	var order binanceOrder
	if err := b.call(ctx, http.MethodPost, b.orderPath(), params, true, &order); err != nil {
		return nil, errors.Wrapf(err, "place stop %s@%s", req.Quantity, req.StopPrice)
	}
	ack := order.ack()
	return &ack, nil
}

// PlaceOCOOrder submits a limit maker leg and a stop-loss-limit leg as one list.
func (b *BinanceAdapter) PlaceOCOOrder(ctx context.Context, req domain.OCOOrderRequest) (*domain.OCOAck, error) {
	params := url.Values{
		"symbol":               {req.Symbol},
		"side":                 {string(req.Side)},
		"quantity":             {req.Quantity.String()},
		"price":                {req.Price.String()},
		"stopPrice":            {req.StopPrice.String()},
		"stopLimitPrice":       {req.StopLimitPrice.String()},
		"stopLimitTimeInForce": {tif(req.StopLimitTimeInForce)},
	}
	if req.ListClientOrderID != "" {
		params.Set("listClientOrderId", req.ListClientOrderID)
	}

	var list struct {
		OrderListID  int64          `json:"orderListId"`
		OrderReports []binanceOrder `json:"orderReports"`
	}
	if err := b.call(ctx, http.MethodPost, b.ocoPath(), params, true, &list); err != nil {
		return nil, errors.Wrapf(err, "place oco %s@%s stop %s", req.Quantity, req.Price, req.StopPrice)
	}

	ack := &domain.OCOAck{OrderListID: strconv.FormatInt(list.OrderListID, 10)}
	for _, r := range list.OrderReports {
		if strings.HasPrefix(r.Type, "STOP_LOSS") {
			ack.StopOrder = r.ack()
		} else {
			ack.LimitOrder = r.ack()
		}
	}
	if ack.LimitOrder.OrderID == "" || ack.StopOrder.OrderID == "" {
		return nil, errors.Errorf("oco list %s: expected two legs, got %d reports", ack.OrderListID, len(list.OrderReports))
	}
	return ack, nil
}

func (b *BinanceAdapter) GetOrderStatus(ctx context.Context, symbol, orderID string) (*domain.OrderInfo, error) {
	params := url.Values{"symbol": {symbol}, "orderId": {orderID}}
	var order binanceOrder
	if err := b.call(ctx, http.MethodGet, b.orderPath(), params, true, &order); err != nil {
		return nil, errors.Wrapf(err, "order %s status", orderID)
	}
	info := order.info()
	return &info, nil
}

func (b *BinanceAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{"symbol": {symbol}, "orderId": {orderID}}
	if err := b.call(ctx, http.MethodDelete, b.orderPath(), params, true, nil); err != nil {
		return errors.Wrapf(err, "cancel order %s", orderID)
	}
	return nil
}

func (b *BinanceAdapter) ListOpenOrders(ctx context.Context, symbol string) ([]domain.OrderInfo, error) {
	params := url.Values{"symbol": {symbol}}
	var orders []binanceOrder
	if err := b.call(ctx, http.MethodGet, b.openOrdersPath(), params, true, &orders); err != nil {
		return nil, errors.Wrap(err, "open orders")
	}
	out := make([]domain.OrderInfo, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.info())
	}
	return out, nil
}
