package util

import (
	"context"
	"fmt"
	"time"
)

// Eastern is the exchange time zone for US equities.
const Eastern = "America/New_York"

// TradingCalendar judges trading days for US equities without consulting
// the brokerage. It knows weekends but not exchange holidays.
type TradingCalendar struct {
	loc *time.Location
}

// NewTradingCalendar loads the exchange time zone.
func NewTradingCalendar() (*TradingCalendar, error) {
	loc, err := time.LoadLocation(Eastern)
	if err != nil {
		return nil, fmt.Errorf("loading ET timezone: %w", err)
	}
	return &TradingCalendar{loc: loc}, nil
}

// Location returns the exchange time zone.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// IsTradingDay reports whether t falls on a weekday in exchange time.
func (tc *TradingCalendar) IsTradingDay(_ context.Context, t time.Time) (bool, error) {
	switch t.In(tc.loc).Weekday() {
	case time.Saturday, time.Sunday:
		return false, nil
	}
	return true, nil
}

// TradingDate formats t as the exchange-local date key (YYYY-MM-DD).
func (tc *TradingCalendar) TradingDate(t time.Time) string {
	return t.In(tc.loc).Format("2006-01-02")
}
