package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"breakout/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaConfig holds credentials and endpoints for AlpacaBroker.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string // trading API; empty selects the SDK default
	DataURL   string // market-data API; empty selects the SDK default
	Feed      string // "iex" or "sip"
}

// AlpacaBroker implements Broker with the Alpaca trading and market-data
// APIs.
type AlpacaBroker struct {
	trading *alpaca.Client
	data    *marketdata.Client
	feed    marketdata.Feed
	loc     *time.Location
}

// NewAlpacaBroker creates an AlpacaBroker from cfg.
func NewAlpacaBroker(cfg AlpacaConfig) (*AlpacaBroker, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading ET timezone: %w", err)
	}

	dataOpts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		dataOpts.BaseURL = cfg.DataURL
	}
	feed := cfg.Feed
	if feed == "" {
		feed = "iex"
	}

	return &AlpacaBroker{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		data: marketdata.NewClient(dataOpts),
		feed: marketdata.Feed(feed),
		loc:  loc,
	}, nil
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// GetAccount returns buying power, equity and cash.
func (b *AlpacaBroker) GetAccount(ctx context.Context) (domain.Portfolio, error) {
	if err := ctx.Err(); err != nil {
		return domain.Portfolio{}, err
	}
	acct, err := b.trading.GetAccount()
	if err != nil {
		return domain.Portfolio{}, classifyAlpacaError("GetAccount", err)
	}
	return domain.Portfolio{
		BuyingPower: acct.BuyingPower.InexactFloat64(),
		TotalValue:  acct.Equity.InexactFloat64(),
		Cash:        acct.Cash.InexactFloat64(),
	}, nil
}

// GetClock returns the market clock.
func (b *AlpacaBroker) GetClock(ctx context.Context) (domain.Clock, error) {
	if err := ctx.Err(); err != nil {
		return domain.Clock{}, err
	}
	clock, err := b.trading.GetClock()
	if err != nil {
		return domain.Clock{}, classifyAlpacaError("GetClock", err)
	}
	return domain.Clock{
		Timestamp: clock.Timestamp,
		IsOpen:    clock.IsOpen,
		NextOpen:  clock.NextOpen,
		NextClose: clock.NextClose,
	}, nil
}

// IsTradingDay asks the Alpaca calendar whether t's ET date has a session.
func (b *AlpacaBroker) IsTradingDay(ctx context.Context, t time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	et := t.In(b.loc)
	day := time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, b.loc)
	calendar, err := b.trading.GetCalendar(alpaca.GetCalendarRequest{
		Start: day,
		End:   day,
	})
	if err != nil {
		return false, classifyAlpacaError("GetCalendar", err)
	}
	want := day.Format("2006-01-02")
	for _, d := range calendar {
		if d.Date == want {
			return true, nil
		}
	}
	return false, nil
}

// GetAsset returns the asset's tradability. A 404 maps to ErrNotTradable.
func (b *AlpacaBroker) GetAsset(ctx context.Context, symbol domain.Symbol) (domain.Asset, error) {
	if err := ctx.Err(); err != nil {
		return domain.Asset{}, err
	}
	asset, err := b.trading.GetAsset(symbol.String())
	if err != nil {
		if isNotFound(err) {
			return domain.Asset{Symbol: symbol}, fmt.Errorf("GetAsset %s: %w: %w", symbol, ErrNotTradable, err)
		}
		return domain.Asset{}, classifyAlpacaError("GetAsset "+symbol.String(), err)
	}
	return domain.Asset{Symbol: symbol, Tradable: asset.Tradable}, nil
}

// GetPositions returns every open position.
func (b *AlpacaBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	positions, err := b.trading.GetPositions()
	if err != nil {
		return nil, classifyAlpacaError("GetPositions", err)
	}
	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		side := domain.PositionSideLong
		if strings.EqualFold(string(p.Side), "short") {
			side = domain.PositionSideShort
		}
		out = append(out, domain.Position{
			Symbol:          domain.NormalizeSymbol(p.Symbol),
			Side:            side,
			Qty:             p.Qty.Abs().InexactFloat64(),
			AvgEntryPrice:   p.AvgEntryPrice.InexactFloat64(),
			CurrentPrice:    decimalPtrFloat(p.CurrentPrice),
			UnrealizedPL:    decimalPtrFloat(p.UnrealizedPL),
			UnrealizedPLPct: decimalPtrFloat(p.UnrealizedPLPC),
		})
	}
	return out, nil
}

// GetBars fetches bars from the market-data API.
func (b *AlpacaBroker) GetBars(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frame, ok := alpacaTimeFrame(tf)
	if !ok {
		return nil, fmt.Errorf("GetBars %s: unsupported timeframe %q", symbol, tf)
	}
	bars, err := b.data.GetBars(symbol.String(), marketdata.GetBarsRequest{
		TimeFrame: frame,
		Start:     start,
		End:       end,
		Feed:      b.feed,
	})
	if err != nil {
		return nil, classifyAlpacaError("GetBars "+symbol.String(), err)
	}
	out := make([]domain.Bar, 0, len(bars))
	for _, ab := range bars {
		out = append(out, domain.Bar{
			Symbol:    symbol,
			Timestamp: ab.Timestamp,
			Open:      ab.Open,
			High:      ab.High,
			Low:       ab.Low,
			Close:     ab.Close,
			Volume:    int64(ab.Volume),
		})
	}
	return out, nil
}

func alpacaTimeFrame(tf domain.Timeframe) (marketdata.TimeFrame, bool) {
	switch tf {
	case domain.Timeframe1Min:
		return marketdata.OneMin, true
	case domain.Timeframe5Min:
		return marketdata.NewTimeFrame(5, marketdata.Min), true
	case domain.Timeframe15Min:
		return marketdata.NewTimeFrame(15, marketdata.Min), true
	case domain.TimeframeDay:
		return marketdata.OneDay, true
	}
	return marketdata.TimeFrame{}, false
}

// GetLatestPrice returns the last trade price.
func (b *AlpacaBroker) GetLatestPrice(ctx context.Context, symbol domain.Symbol) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	trade, err := b.data.GetLatestTrade(symbol.String(), marketdata.GetLatestTradeRequest{
		Feed: b.feed,
	})
	if err != nil {
		return 0, classifyAlpacaError("GetLatestTrade "+symbol.String(), err)
	}
	if trade == nil {
		return 0, fmt.Errorf("GetLatestTrade %s: %w: empty response", symbol, ErrUnavailable)
	}
	return trade.Price, nil
}

// SubmitBracketOrder places a day market order with take-profit and
// stop-loss legs.
func (b *AlpacaBroker) SubmitBracketOrder(ctx context.Context, intent domain.OrderIntent, clientOrderID string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	side := alpaca.Buy
	if intent.Side == domain.OrderSideSell {
		side = alpaca.Sell
	}
	qty := decimal.NewFromInt(intent.Qty)
	takeProfit := decimal.NewFromFloat(intent.TakeProfit).Round(2)
	stopLoss := decimal.NewFromFloat(intent.StopLoss).Round(2)

	order, err := b.trading.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        intent.Symbol.String(),
		Qty:           &qty,
		Side:          side,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		OrderClass:    alpaca.Bracket,
		TakeProfit:    &alpaca.TakeProfit{LimitPrice: &takeProfit},
		StopLoss:      &alpaca.StopLoss{StopPrice: &stopLoss},
		ClientOrderID: clientOrderID,
	})
	if err != nil {
		return nil, classifyAlpacaError("PlaceOrder "+intent.Symbol.String(), err)
	}

	out := &domain.Order{
		ID:            order.ID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        domain.NormalizeSymbol(order.Symbol),
		Side:          intent.Side,
		Qty:           intent.Qty,
		Status:        string(order.Status),
		SubmittedAt:   order.SubmittedAt,
	}
	return out, nil
}

// CancelAllOrders cancels every open order.
func (b *AlpacaBroker) CancelAllOrders(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.trading.CancelAllOrders(); err != nil {
		return classifyAlpacaError("CancelAllOrders", err)
	}
	return nil
}

// CloseAllPositions liquidates every position, cancelling open orders first.
func (b *AlpacaBroker) CloseAllPositions(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.trading.CloseAllPositions(alpaca.CloseAllPositionsRequest{
		CancelOrders: true,
	})
	if err != nil {
		return classifyAlpacaError("CloseAllPositions", err)
	}
	return nil
}

func decimalPtrFloat(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.InexactFloat64()
}
