package domain

// ExchangeFilters are the symbol increments every price and quantity must respect.
// Both are kept as the exchange's own decimal strings so their precision survives.
type ExchangeFilters struct {
	Symbol   string `json:"symbol"`
	TickSize string `json:"tick_size"`
	StepSize string `json:"step_size"`
}

// Valid reports whether both increments are present.
func (f ExchangeFilters) Valid() bool {
	return f.TickSize != "" && f.StepSize != ""
}
