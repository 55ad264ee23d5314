package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/vitos/grid_ladder/internal/domain"
	"gopkg.in/yaml.v3"
)

// Strategy is a running control loop of any variant.
type Strategy interface {
	ID() string
	Symbol() string
	Variant() string
	Run(ctx context.Context) error
	Stop()
	Done() <-chan struct{}
	Snapshot() domain.Snapshot
	SetProfitMargin(ctx context.Context, margin float64) error
}

// StartRequest names a strategy instance and carries its variant config blob.
type StartRequest struct {
	ID      string         `json:"id" yaml:"id"`
	Symbol  string         `json:"symbol" yaml:"symbol"`
	Variant string         `json:"type" yaml:"type"`
	Config  map[string]any `json:"config" yaml:"config"`
}

// NewStrategy builds the variant named by req.Variant. An empty ID gets a random one.
func NewStrategy(deps Deps, req StartRequest) (Strategy, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("symbol is required: %w", domain.ErrInvalidArgument)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	switch req.Variant {
	case VariantGridBuyFixed, "gridBuy":
		var cfg FixedGridConfig
		if err := decodeConfig(req.Config, &cfg); err != nil {
			return nil, err
		}
		return asStrategy(NewGridBuyFixed(deps, req.ID, req.Symbol, cfg))

	case VariantGridSellFixed:
		var cfg FixedGridConfig
		if err := decodeConfig(req.Config, &cfg); err != nil {
			return nil, err
		}
		return asStrategy(NewGridSellFixed(deps, req.ID, req.Symbol, cfg))

	case VariantGridFull, VariantGridBuyMargin, VariantGridSellMargin:
		var cfg GridFullConfig
		if err := decodeConfig(req.Config, &cfg); err != nil {
			return nil, err
		}
		switch req.Variant {
		case VariantGridBuyMargin:
			trading := true
			cfg.Trading = &trading
		case VariantGridSellMargin:
			trading := false
			cfg.Trading = &trading
		}
		return asStrategy(NewGridFull(deps, req.ID, req.Symbol, req.Variant, cfg))

	case VariantRSI:
		var cfg RSIConfig
		if err := decodeConfig(req.Config, &cfg); err != nil {
			return nil, err
		}
		return asStrategy(NewRSI(deps, req.ID, req.Symbol, cfg))
	}
	return nil, fmt.Errorf("%q: %w", req.Variant, domain.ErrUnknownVariant)
}

func asStrategy[T Strategy](s T, err error) (Strategy, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// decodeConfig maps a loosely typed blob onto a config struct. Blobs from JSON
// and from the YAML config file go through the same yaml tags.
func decodeConfig(raw map[string]any, out any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode config: %v: %w", err, domain.ErrInvalidArgument)
	}
	return nil
}
