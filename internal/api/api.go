// Package api exposes read-only HTTP views of a market.
package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/distribution-market/internal/model"
	"github.com/atmx/distribution-market/internal/pricing"
)

// MarketReader is the read side of a market.
type MarketReader interface {
	Snapshot() model.Snapshot
	Position(id model.PositionID) (model.Position, bool)
	Positions() []model.Position
	LPBalance(address string) decimal.Decimal
}

// Service serves market state over HTTP.
type Service struct {
	market MarketReader
}

// NewService creates a Service reading from m.
func NewService(m MarketReader) *Service {
	return &Service{market: m}
}

// Routes mounts the handlers on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/market", s.GetMarket)
	r.Get("/market/payout", s.GetPayout)
	r.Get("/positions", s.ListPositions)
	r.Get("/positions/{positionID}", s.GetPosition)
	r.Get("/lp/{address}", s.GetLPBalance)
}

// GetMarket handles GET /api/v1/market
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.market.Snapshot())
}

// PayoutQuote is the current curve's payout at a price.
type PayoutQuote struct {
	X      float64              `json:"x"`
	Curve  pricing.Distribution `json:"curve"`
	K      float64              `json:"k"`
	Payout decimal.Decimal      `json:"payout"`
}

// GetPayout handles GET /api/v1/market/payout?x=...
func (s *Service) GetPayout(w http.ResponseWriter, r *http.Request) {
	x, err := strconv.ParseFloat(r.URL.Query().Get("x"), 64)
	if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
		writeError(w, "x must be a finite number", http.StatusBadRequest)
		return
	}
	snap := s.market.Snapshot()
	if snap.Phase == model.PhaseUninitialized {
		writeError(w, "market not initialized", http.StatusConflict)
		return
	}
	writeJSON(w, PayoutQuote{
		X:      x,
		Curve:  snap.Current,
		K:      snap.K,
		Payout: pricing.PayoutAt(x, snap.Current, snap.K),
	})
}

// ListPositions handles GET /api/v1/positions, optionally filtered by
// ?owner= and ?open=true.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	openOnly := r.URL.Query().Get("open") == "true"

	out := []model.Position{}
	for _, p := range s.market.Positions() {
		if owner != "" && p.Owner != owner {
			continue
		}
		if openOnly && p.Settled {
			continue
		}
		out = append(out, p)
	}
	writeJSON(w, out)
}

// GetPosition handles GET /api/v1/positions/{positionID}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParsePositionID(chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, "invalid position id", http.StatusBadRequest)
		return
	}
	p, ok := s.market.Position(id)
	if !ok {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}
	writeJSON(w, p)
}

// LPBalance is an address's LP token holding.
type LPBalance struct {
	Address  string          `json:"address"`
	LPTokens decimal.Decimal `json:"lp_tokens"`
}

// GetLPBalance handles GET /api/v1/lp/{address}
func (s *Service) GetLPBalance(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "address")
	writeJSON(w, LPBalance{Address: addr, LPTokens: s.market.LPBalance(addr)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
