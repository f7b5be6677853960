package engine

import (
	"errors"
	"fmt"
	"math"

	"breakout/internal/domain"
)

// ErrInsufficientBuyingPower is returned by Size when the account cannot pay
// for even the sized order.
var ErrInsufficientBuyingPower = errors.New("insufficient buying power")

// RiskManager sizes entries at a fixed notional stake per order.
type RiskManager struct {
	stakePerOrder  float64
	maxPositionPct float64
}

// NewRiskManager creates a RiskManager with the specified sizing rules.
//
//   - stakePerOrder: dollars committed to each entry (e.g. 1000).
//   - maxPositionPct: optional cap on one entry as a fraction of total
//     account value (e.g. 0.10 for 10%); zero disables it.
func NewRiskManager(stakePerOrder, maxPositionPct float64) *RiskManager {
	return &RiskManager{
		stakePerOrder:  stakePerOrder,
		maxPositionPct: maxPositionPct,
	}
}

// Size returns the whole-share quantity for an entry at price. A zero
// quantity with a nil error means the stake cannot buy one share.
func (rm *RiskManager) Size(price float64, p domain.Portfolio) (int64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("invalid price %v", price)
	}
	notional := rm.stakePerOrder
	if rm.maxPositionPct > 0 && p.TotalValue > 0 {
		notional = math.Min(notional, rm.maxPositionPct*p.TotalValue)
	}
	qty := int64(math.Floor(notional / price))
	if qty <= 0 {
		return 0, nil
	}
	if cost := float64(qty) * price; cost > p.BuyingPower {
		return 0, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientBuyingPower, cost, p.BuyingPower)
	}
	return qty, nil
}
