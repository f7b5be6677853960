// Package report renders holdings, picks and backtest summaries for the
// terminal.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"breakout/internal/domain"
	"breakout/internal/strategy"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	gainStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	lossStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

// Holdings renders one line per position: index, symbol, current price,
// unrealized P&L and P&L percent, green when positive and red otherwise.
func Holdings(positions []domain.Position) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Holdings"))
	b.WriteString("\n")
	if len(positions) == 0 {
		b.WriteString(mutedStyle.Render("no open positions"))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-4s %-8s %-6s %10s %12s %9s", "#", "SYMBOL", "SIDE", "PRICE", "P&L", "P&L %")))
	b.WriteString("\n")
	var total float64
	for i, p := range positions {
		line := fmt.Sprintf("%-4d %-8s %-6s %10.2f %12.2f %8.2f%%",
			i+1, p.Symbol, p.Side, p.CurrentPrice, p.UnrealizedPL, p.UnrealizedPLPct*100)
		b.WriteString(plStyle(p.UnrealizedPL).Render(line))
		b.WriteString("\n")
		total += p.UnrealizedPL
	}
	b.WriteString(plStyle(total).Render(fmt.Sprintf("total unrealized P&L: %.2f", total)))
	b.WriteString("\n")
	return b.String()
}

// Picks renders the day's ranked candidates with their bands.
func Picks(date string, picks []strategy.Pick) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Picks for %s", date)))
	b.WriteString("\n")
	if len(picks) == 0 {
		b.WriteString(mutedStyle.Render("no candidates"))
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-4s %-8s %10s %10s %10s %10s %10s", "#", "SYMBOL", "WEIGHT", "MOVED %", "Y CHG %", "LOWER", "UPPER")))
	b.WriteString("\n")
	for i, p := range picks {
		fmt.Fprintf(&b, "%-4d %-8s %10.3f %10.3f %10.3f %10.2f %10.2f\n",
			i+1, p.Symbol, p.Weightage, p.MovedPct, p.YesterdayChangePct, p.LowerBound, p.UpperBound)
	}
	return b.String()
}

// Backtest renders the summary metrics of a backtest run.
func Backtest(res *strategy.BacktestResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Backtest"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "trades:        %d\n", res.TotalTrades)
	fmt.Fprintf(&b, "win rate:      %.1f%%\n", res.WinRate*100)
	b.WriteString(plStyle(res.TotalPnL).Render(fmt.Sprintf("total P&L:     %.2f", res.TotalPnL)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "return:        %.2f%%\n", res.TotalReturn*100)
	fmt.Fprintf(&b, "profit factor: %.2f\n", res.ProfitFactor)
	fmt.Fprintf(&b, "max drawdown:  %.2f\n", res.MaxDrawdown)
	return b.String()
}

func plStyle(v float64) lipgloss.Style {
	if v > 0 {
		return gainStyle
	}
	return lossStyle
}
