package domain

import "github.com/shopspring/decimal"

// OrderLevel is one rung of the ladder. Index is stable for the level's lifetime.
type OrderLevel struct {
	Index    int             `json:"index" yaml:"index"`
	Price    decimal.Decimal `json:"price" yaml:"price"`
	Quantity decimal.Decimal `json:"quantity" yaml:"quantity"`
}

type LevelState string

const (
	LevelEmpty       LevelState = "empty"
	LevelBuyPending  LevelState = "buy_pending"
	LevelSellPending LevelState = "sell_pending"
	LevelSkipped     LevelState = "skipped"
	LevelStopped     LevelState = "stopped"
)

// LevelStatus is the externally visible state of one level.
type LevelStatus struct {
	Index            int             `json:"index"`
	Price            decimal.Decimal `json:"price"`
	Quantity         decimal.Decimal `json:"quantity"`
	HasOpenBuyOrder  bool            `json:"has_open_buy_order"`
	HasOpenSellOrder bool            `json:"has_open_sell_order"`
	IsSkipped        bool            `json:"is_skipped"`
	IsStopped        bool            `json:"is_stopped"`
	State            LevelState      `json:"state"`
}
