// Package domain holds the core value types shared across the breakout
// trader: symbols, bars, positions, orders and account snapshots.
package domain

import (
	"strings"
	"time"
)

// Symbol is an uppercase ticker identifier.
type Symbol string

// NormalizeSymbol trims whitespace and uppercases s.
func NormalizeSymbol(s string) Symbol {
	return Symbol(strings.ToUpper(strings.TrimSpace(s)))
}

// String returns the ticker text.
func (s Symbol) String() string { return string(s) }

// Timeframe is the aggregation window of a bar.
type Timeframe string

// Supported bar timeframes.
const (
	Timeframe1Min  Timeframe = "1min"
	Timeframe5Min  Timeframe = "5min"
	Timeframe15Min Timeframe = "15min"
	TimeframeDay   Timeframe = "day"
)

// Duration returns the span one bar covers, or zero for an unknown
// timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1Min:
		return time.Minute
	case Timeframe5Min:
		return 5 * time.Minute
	case Timeframe15Min:
		return 15 * time.Minute
	case TimeframeDay:
		return 24 * time.Hour
	}
	return 0
}

// Lookback returns how far before end a request must start to cover limit
// bars of tf, allowing for nights, weekends and holidays.
func (tf Timeframe) Lookback(limit int) time.Duration {
	if limit <= 0 {
		limit = 1
	}
	const sessionLength = 390 * time.Minute
	var sessions int
	if tf == TimeframeDay {
		sessions = limit
	} else {
		span := time.Duration(limit) * tf.Duration()
		sessions = int((span + sessionLength - 1) / sessionLength)
	}
	return time.Duration(sessions*2+7) * 24 * time.Hour
}

// Bar is one OHLCV record for a symbol. Bars are immutable once recorded.
type Bar struct {
	Symbol    Symbol
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// OrderSide is the direction of an order.
type OrderSide string

// Order sides.
const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// PositionSide is the direction of an open position.
type PositionSide string

// Position sides.
const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position mirrors a brokerage-owned open position.
type Position struct {
	Symbol          Symbol
	Side            PositionSide
	Qty             float64
	AvgEntryPrice   float64
	CurrentPrice    float64
	UnrealizedPL    float64
	UnrealizedPLPct float64 // fraction, 0.05 = 5%
}

// OrderIntent is the payload submitted as a single bracket order. It is not
// retained after submission.
type OrderIntent struct {
	Symbol     Symbol
	Side       OrderSide
	Qty        int64
	StopLoss   float64
	TakeProfit float64
}

// Order is the brokerage's acknowledgement of a submitted order.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        Symbol
	Side          OrderSide
	Qty           int64
	Status        string
	SubmittedAt   time.Time
}

// OrderResult reports the outcome of a bracket order request. Placed is false
// when the order was not sent (for example because the market was closed).
type OrderResult struct {
	Placed bool
	Order  *Order
	Reason string
}

// Portfolio is a snapshot of the account's buying power and value.
type Portfolio struct {
	BuyingPower float64
	TotalValue  float64
	Cash        float64
}

// Clock is the brokerage's view of the market session.
type Clock struct {
	Timestamp time.Time
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}

// Asset is the tradability metadata for a symbol.
type Asset struct {
	Symbol   Symbol
	Tradable bool
}
