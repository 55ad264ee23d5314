package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is a point-in-time view of a strategy instance.
type Snapshot struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Variant      string          `json:"variant"`
	Running      bool            `json:"running"`
	ProfitLoss   decimal.Decimal `json:"profit_loss"`
	ProfitMargin decimal.Decimal `json:"profit_margin"`
	LastPrice    decimal.Decimal `json:"last_price"`
	Cycles       int64           `json:"cycles"`
	LastError    string          `json:"last_error,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Levels       []LevelStatus   `json:"levels"`
}

// Level returns the status row for index, if present.
func (s Snapshot) Level(index int) (LevelStatus, bool) {
	for _, l := range s.Levels {
		if l.Index == index {
			return l, true
		}
	}
	return LevelStatus{}, false
}
