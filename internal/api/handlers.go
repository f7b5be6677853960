package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"breakout/internal/domain"
	"breakout/internal/engine"
	"breakout/internal/strategy"
	"breakout/pkg/breakout"
)

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/picks", s.handlePicks)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/account", s.handleAccount)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(breakout.ErrorResponse{Error: msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, toStatus(s.status.Snapshot()))
}

func (s *Server) handlePicks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, toPicks(s.status.Snapshot().Picks))
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.account.Positions(r.Context())
	if err != nil {
		s.log.Warn("positions unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	out := make([]breakout.Position, len(positions))
	for i, p := range positions {
		out[i] = toPosition(p)
	}
	writeJSON(w, out)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	p, err := s.account.Portfolio(r.Context())
	if err != nil {
		s.log.Warn("account unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, breakout.Account{BuyingPower: p.BuyingPower, TotalValue: p.TotalValue, Cash: p.Cash})
}

func toStatus(snap engine.Snapshot) breakout.Status {
	traded := make([]string, len(snap.Traded))
	for i, sym := range snap.Traded {
		traded[i] = sym.String()
	}
	return breakout.Status{
		State:      snap.State,
		Date:       snap.Date,
		TradeCount: snap.TradeCount,
		MaxTrades:  snap.MaxTrades,
		Traded:     traded,
		Picks:      toPicks(snap.Picks),
	}
}

func toPicks(picks []strategy.Pick) []breakout.Pick {
	out := make([]breakout.Pick, len(picks))
	for i, p := range picks {
		out[i] = breakout.Pick{
			Symbol:             p.Symbol.String(),
			YesterdayChangePct: p.YesterdayChangePct,
			MovedPct:           p.MovedPct,
			Weightage:          p.Weightage,
			LastClose:          p.LastClose,
			LowerBound:         p.LowerBound,
			UpperBound:         p.UpperBound,
			Step:               p.Step,
		}
	}
	return out
}

func toPosition(p domain.Position) breakout.Position {
	return breakout.Position{
		Symbol:          p.Symbol.String(),
		Side:            string(p.Side),
		Qty:             p.Qty,
		AvgEntryPrice:   p.AvgEntryPrice,
		CurrentPrice:    p.CurrentPrice,
		UnrealizedPL:    p.UnrealizedPL,
		UnrealizedPLPct: p.UnrealizedPLPct,
	}
}
