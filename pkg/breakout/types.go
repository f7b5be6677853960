package breakout

// Status is the engine's session state as served by GET /api/status.
type Status struct {
	State      string   `json:"state"`
	Date       string   `json:"date"`
	TradeCount int      `json:"trade_count"`
	MaxTrades  int      `json:"max_trades"`
	Traded     []string `json:"traded"`
	Picks      []Pick   `json:"picks"`
}

// Pick is one ranked breakout candidate with its entry band.
type Pick struct {
	Symbol             string  `json:"symbol"`
	YesterdayChangePct float64 `json:"yesterday_change_pct"`
	MovedPct           float64 `json:"moved_pct"`
	Weightage          float64 `json:"weightage"`
	LastClose          float64 `json:"last_close"`
	LowerBound         float64 `json:"lower_bound"`
	UpperBound         float64 `json:"upper_bound"`
	Step               float64 `json:"step"`
}

// Position is an open brokerage position.
type Position struct {
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"`
	Qty             float64 `json:"qty"`
	AvgEntryPrice   float64 `json:"avg_entry_price"`
	CurrentPrice    float64 `json:"current_price"`
	UnrealizedPL    float64 `json:"unrealized_pl"`
	UnrealizedPLPct float64 `json:"unrealized_pl_pct"`
}

// Account is the brokerage account snapshot.
type Account struct {
	BuyingPower float64 `json:"buying_power"`
	TotalValue  float64 `json:"total_value"`
	Cash        float64 `json:"cash"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
