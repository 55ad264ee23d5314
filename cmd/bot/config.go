package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/grid_ladder/internal/infrastructure/exchange"
	"github.com/vitos/grid_ladder/internal/usecase"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Exchange struct {
		APIKey        string `yaml:"api_key"`
		APISecret     string `yaml:"api_secret"`
		RESTEndpoint  string `yaml:"rest_endpoint"`
		WSEndpoint    string `yaml:"ws_endpoint"`
		Margin        bool   `yaml:"margin"`
		RecvWindowMs  int    `yaml:"recv_window_ms"`
		PriceMaxAgeMs int    `yaml:"price_max_age_ms"`
	} `yaml:"exchange"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`
	Strategies []usecase.StartRequest `yaml:"strategies"`
}

// loadConfig reads path, then lets .env and GRID_* variables override secrets
// and a few operational knobs.
func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	setStr(&cfg.Exchange.APIKey, "GRID_API_KEY")
	setStr(&cfg.Exchange.APISecret, "GRID_API_SECRET")
	setStr(&cfg.Logging.Level, "GRID_LOG_LEVEL")
	if v := os.Getenv("GRID_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GRID_SERVER_PORT=%q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	return nil
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Exchange.RESTEndpoint == "" {
		cfg.Exchange.RESTEndpoint = exchange.BinanceBaseURL
	}
	if cfg.Exchange.WSEndpoint == "" {
		cfg.Exchange.WSEndpoint = exchange.BinanceWSURL
	}
}

func (c *Config) binance() exchange.BinanceConfig {
	return exchange.BinanceConfig{
		APIKey:      c.Exchange.APIKey,
		APISecret:   c.Exchange.APISecret,
		BaseURL:     c.Exchange.RESTEndpoint,
		Margin:      c.Exchange.Margin,
		RecvWindow:  time.Duration(c.Exchange.RecvWindowMs) * time.Millisecond,
		PriceMaxAge: time.Duration(c.Exchange.PriceMaxAgeMs) * time.Millisecond,
	}
}
