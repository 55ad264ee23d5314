package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/grid_ladder/internal/infrastructure/exchange"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Exchange struct {
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		RESTEndpoint string `yaml:"rest_endpoint"`
		Margin       bool   `yaml:"margin"`
	} `yaml:"exchange"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv loads .env when present and lets GRID_API_KEY / GRID_API_SECRET override the file.
func applyEnv(cfg *Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if v := os.Getenv("GRID_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("GRID_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}
	return nil
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	symbol := flag.String("symbol", "BTCUSDT", "symbol to check")
	flag.Parse()

	// 1. Load Config
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := applyEnv(cfg); err != nil {
		fmt.Printf("Failed to load environment: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Testing Binance Interaction...\n")
	fmt.Printf("Endpoint: %s (margin=%v)\n", cfg.Exchange.RESTEndpoint, cfg.Exchange.Margin)

	adapter := exchange.NewBinanceAdapter(exchange.BinanceConfig{
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		BaseURL:   cfg.Exchange.RESTEndpoint,
		Margin:    cfg.Exchange.Margin,
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 2. Check Public Endpoints (Filters, Price)
	filters, err := adapter.GetSymbolFilters(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get filters: %v\n", err)
	} else {
		fmt.Printf("✅ Filters (%s): tick=%s step=%s\n", *symbol, filters.TickSize, filters.StepSize)
	}

	price, err := adapter.GetCurrentPrice(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get price: %v\n", err)
	} else {
		fmt.Printf("✅ Current Price (%s): %s\n", *symbol, price)
	}

	// 3. Check Private Endpoint (Open Orders)
	if cfg.Exchange.APIKey == "" {
		fmt.Printf("⚠️  No API key configured, skipping signed checks\n")
		return
	}
	orders, err := adapter.ListOpenOrders(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to list open orders: %v\n", err)
		return
	}
	fmt.Printf("✅ Open orders (%s): %d\n", *symbol, len(orders))
	for _, o := range orders {
		fmt.Printf("   %s %s %s @ %s (%s)\n", o.OrderID, o.Side, o.OrigQty, o.Price, o.Status)
	}
}
