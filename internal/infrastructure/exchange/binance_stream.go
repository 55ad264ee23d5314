package exchange

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type cachedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// PriceStream keeps the last traded price of every watched symbol from the
// Binance <symbol>@miniTicker stream. It reconnects until its context ends.
type PriceStream struct {
	url    string
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	conn    *websocket.Conn
	symbols map[string]struct{}
	prices  map[string]cachedPrice
	nextID  int
}

func NewPriceStream(wsURL string, logger *zap.Logger) *PriceStream {
	if wsURL == "" {
		wsURL = BinanceWSURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceStream{
		url:     wsURL,
		logger:  logger,
		now:     time.Now,
		symbols: make(map[string]struct{}),
		prices:  make(map[string]cachedPrice),
	}
}

// Price returns the cached price for symbol if it is younger than maxAge.
func (s *PriceStream) Price(symbol string, maxAge time.Duration) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.prices[strings.ToUpper(symbol)]
	if !ok || s.now().Sub(c.at) > maxAge {
		return decimal.Zero, false
	}
	return c.price, true
}

// Watch adds symbol to the subscription, subscribing right away when connected.
func (s *PriceStream) Watch(symbol string) {
	symbol = strings.ToUpper(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.symbols[symbol]; ok {
		return
	}
	s.symbols[symbol] = struct{}{}
	if s.conn != nil {
		if err := s.subscribe([]string{symbol}); err != nil {
			s.logger.Warn("Price stream subscribe failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// subscribe must be called with mu held.
func (s *PriceStream) subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	params := make([]string, len(symbols))
	for i, sym := range symbols {
		params[i] = strings.ToLower(sym) + "@miniTicker"
	}
	s.nextID++
	return s.conn.WriteJSON(map[string]any{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     s.nextID,
	})
}

// Run connects and reads until ctx is done, reconnecting with a capped backoff.
func (s *PriceStream) Run(ctx context.Context) error {
	delay := time.Second
	for {
		err := s.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("Price stream disconnected", zap.Error(err), zap.Duration("retry_in", delay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, 30*time.Second)
	}
}

func (s *PriceStream) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	symbols := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		symbols = append(symbols, sym)
	}
	err = s.subscribe(symbols)
	s.mu.Unlock()
	if err != nil {
		conn.Close()
		return err
	}
	s.logger.Info("Price stream connected", zap.String("url", s.url), zap.Int("symbols", len(symbols)))

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handle(message)
	}
}

func (s *PriceStream) handle(message []byte) {
	var event struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		Close  string `json:"c"`
	}
	if err := json.Unmarshal(message, &event); err != nil {
		s.logger.Debug("Price stream unmarshal error", zap.Error(err))
		return
	}
	if event.Event != "24hrMiniTicker" || event.Symbol == "" {
		return
	}
	price, err := decimal.NewFromString(event.Close)
	if err != nil || !price.IsPositive() {
		return
	}

	s.mu.Lock()
	s.prices[event.Symbol] = cachedPrice{price: price, at: s.now()}
	s.mu.Unlock()
}
