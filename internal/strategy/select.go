package strategy

import (
	"log/slog"
	"math"
	"sort"

	"breakout/internal/domain"
)

// Pick is one ranked breakout candidate for the day.
type Pick struct {
	Symbol             domain.Symbol `json:"symbol"`
	YesterdayChangePct float64       `json:"yesterday_change_pct"`
	MovedPct           float64       `json:"moved_pct"`
	Weightage          float64       `json:"weightage"`
	LastClose          float64       `json:"last_close"`
	LowerBound         float64       `json:"lower_bound"`
	UpperBound         float64       `json:"upper_bound"`
	Step               float64       `json:"step"`
}

// Score computes the breakout metrics for one symbol's bars, oldest first.
// The bool is false when there are too few bars or the latest close lies
// outside the price band.
func Score(symbol domain.Symbol, bars []domain.Bar, p Params) (Pick, bool) {
	n := len(bars)
	if n < p.BarsetRecords || n < p.MovedDays || n < 2 {
		return Pick{}, false
	}
	last := bars[n-1]
	if last.Close < p.MinPrice || last.Close > p.MaxPrice {
		return Pick{}, false
	}

	start := bars[n-p.MovedDays]
	yesterday := bars[n-2]
	if start.Open == 0 || yesterday.Open == 0 {
		return Pick{}, false
	}

	moved := round3((last.Close - start.Open) / start.Open * 100)
	yChange := round3((yesterday.Close - yesterday.Open) / yesterday.Open * 100)
	step := (yesterday.High - yesterday.Low) * p.StepFraction

	return Pick{
		Symbol:             symbol,
		YesterdayChangePct: yChange,
		MovedPct:           moved,
		Weightage:          moved + 2*yChange,
		LastClose:          last.Close,
		LowerBound:         round2(last.Close - step),
		UpperBound:         round2(last.Close + step),
		Step:               step,
	}, true
}

// Select scores every symbol in universe, ranks by weightage (highest
// first, ties kept in universe order), keeps picks whose yesterday change
// exceeds the threshold and caps the list at MaxNumStocks. It has no side
// effects: identical inputs always produce identical output.
func Select(universe []domain.Symbol, bars map[domain.Symbol][]domain.Bar, p Params) []Pick {
	scored := make([]Pick, 0, len(universe))
	for _, sym := range universe {
		pick, ok := Score(sym, bars[sym], p)
		if !ok {
			continue
		}
		scored = append(scored, pick)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Weightage > scored[j].Weightage
	})

	picks := make([]Pick, 0, min(len(scored), p.MaxNumStocks))
	for _, pick := range scored {
		if len(picks) >= p.MaxNumStocks {
			break
		}
		if pick.YesterdayChangePct <= p.ChangeThreshold {
			continue
		}
		if p.MinWeightage != 0 && pick.Weightage <= p.MinWeightage {
			continue
		}
		picks = append(picks, pick)
	}
	return picks
}

// LogDrops logs, at info level, why each symbol in universe was not
// selected. It is the observable side of Select and is kept apart so Select
// stays pure.
func LogDrops(log *slog.Logger, universe []domain.Symbol, bars map[domain.Symbol][]domain.Bar, picks []Pick, p Params) {
	chosen := make(map[domain.Symbol]bool, len(picks))
	for _, pk := range picks {
		chosen[pk.Symbol] = true
	}
	for _, sym := range universe {
		if chosen[sym] {
			continue
		}
		b := bars[sym]
		switch reason := dropReason(sym, b, p); reason {
		case "insufficient history":
			log.Info("dropped: "+reason, "symbol", sym, "bars", len(b))
		case "price out of band":
			log.Info("dropped: "+reason, "symbol", sym, "close", b[len(b)-1].Close)
		case "zero open price":
			log.Warn("dropped: "+reason, "symbol", sym)
		default:
			log.Debug("dropped: "+reason, "symbol", sym)
		}
	}
}

// dropReason names the first rule that kept sym out of the picks.
func dropReason(sym domain.Symbol, bars []domain.Bar, p Params) string {
	n := len(bars)
	if n < p.BarsetRecords || n < p.MovedDays || n < 2 {
		return "insufficient history"
	}
	if c := bars[n-1].Close; c < p.MinPrice || c > p.MaxPrice {
		return "price out of band"
	}
	pick, ok := Score(sym, bars, p)
	switch {
	case !ok:
		return "zero open price"
	case pick.YesterdayChangePct <= p.ChangeThreshold:
		return "below change threshold"
	case p.MinWeightage != 0 && pick.Weightage <= p.MinWeightage:
		return "below weightage floor"
	default:
		return "ranked out"
	}
}

// Entry is the bracket to submit for a pick at the current price.
type Entry struct {
	Side       domain.OrderSide
	StopLoss   float64
	TakeProfit float64
}

// EntryFor returns the bracket when price has broken out of pick's band:
// above the upper bound goes long, below the lower bound goes short when
// shorts are allowed. Prices are rounded to cents.
func (p Params) EntryFor(pick Pick, price float64) (Entry, bool) {
	if pick.Step <= 0 {
		return Entry{}, false
	}
	switch {
	case price > pick.UpperBound:
		return Entry{
			Side:       domain.OrderSideBuy,
			StopLoss:   round2(price - p.StopMultiplier*pick.Step),
			TakeProfit: round2(price + p.TargetMultiplier*pick.Step),
		}, true
	case p.AllowShort && price < pick.LowerBound:
		return Entry{
			Side:       domain.OrderSideSell,
			StopLoss:   round2(price + p.StopMultiplier*pick.Step),
			TakeProfit: round2(price - p.TargetMultiplier*pick.Step),
		}, true
	}
	return Entry{}, false
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
func round3(x float64) float64 { return math.Round(x*1000) / 1000 }
