package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prashant21b/kreditbee/internal/analytics"
	"github.com/prashant21b/kreditbee/internal/store"
)

const (
	defaultRankLimit = 5
	maxRankLimit     = 100
)

func (s *Server) handleListFunds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	funds, err := s.deps.Funds.List(r.Context(), q.Get("category"), q.Get("amc"))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to list funds")
		return
	}
	if funds == nil {
		funds = []store.Fund{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"funds": funds,
		"count": len(funds),
	})
}

type fundResponse struct {
	*store.Fund
	LatestNAV *store.NavPoint `json:"latest_nav,omitempty"`
}

func (s *Server) handleGetFund(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	fund, err := s.deps.Funds.Get(r.Context(), code)
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "fund not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read fund")
		return
	}

	latest, err := s.deps.NAVs.Latest(r.Context(), code)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusInternalServerError, "failed to read latest nav")
		return
	}

	s.respondJSON(w, http.StatusOK, fundResponse{Fund: fund, LatestNAV: latest})
}

type distributionPct struct {
	MinPct    float64 `json:"min_pct"`
	MaxPct    float64 `json:"max_pct"`
	MedianPct float64 `json:"median_pct"`
	P25Pct    float64 `json:"p25_pct,omitempty"`
	P75Pct    float64 `json:"p75_pct,omitempty"`
}

type analyticsResponse struct {
	SchemeCode     string          `json:"scheme_code"`
	Window         string          `json:"window"`
	RollingReturns distributionPct `json:"rolling_returns"`
	CAGR           distributionPct `json:"cagr"`
	MaxDrawdownPct float64         `json:"max_drawdown_pct"`
	DataStartDate  string          `json:"data_start_date"`
	DataEndDate    string          `json:"data_end_date"`
	ComputedAt     time.Time       `json:"computed_at"`
}

// pct converts a fraction to a percentage rounded to one decimal.
func pct(v float64) float64 {
	return math.Round(v*1000) / 10
}

func (s *Server) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	window := analytics.WindowType(r.URL.Query().Get("window"))
	if !window.Valid() {
		s.respondError(w, http.StatusBadRequest, "window must be one of 1Y, 3Y, 5Y, 10Y")
		return
	}

	row, err := s.deps.Analytics.Get(r.Context(), code, string(window))
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "no analytics for this fund and window")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read analytics")
		return
	}

	s.respondJSON(w, http.StatusOK, analyticsResponse{
		SchemeCode: row.SchemeCode,
		Window:     row.WindowType,
		RollingReturns: distributionPct{
			MinPct:    pct(row.RollingReturnMin),
			MaxPct:    pct(row.RollingReturnMax),
			MedianPct: pct(row.RollingReturnMedian),
			P25Pct:    pct(row.RollingReturnP25),
			P75Pct:    pct(row.RollingReturnP75),
		},
		CAGR: distributionPct{
			MinPct:    pct(row.CagrMin),
			MaxPct:    pct(row.CagrMax),
			MedianPct: pct(row.CagrMedian),
		},
		MaxDrawdownPct: pct(row.MaxDrawdown),
		DataStartDate:  row.DataStartDate.Format("2006-01-02"),
		DataEndDate:    row.DataEndDate.Format("2006-01-02"),
		ComputedAt:     row.ComputedAt,
	})
}

type rankEntryResponse struct {
	Rank            int     `json:"rank"`
	SchemeCode      string  `json:"scheme_code"`
	SchemeName      string  `json:"scheme_name"`
	AMC             string  `json:"amc"`
	Category        string  `json:"category"`
	MedianReturnPct float64 `json:"median_return_pct"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct"`
}

func (s *Server) handleRankFunds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	category := q.Get("category")
	if category == "" {
		s.respondError(w, http.StatusBadRequest, "category is required")
		return
	}

	window := analytics.WindowType(q.Get("window"))
	if !window.Valid() {
		s.respondError(w, http.StatusBadRequest, "window must be one of 1Y, 3Y, 5Y, 10Y")
		return
	}

	sortBy := q.Get("sort_by")
	if sortBy == "" {
		sortBy = "median_return"
	}
	if sortBy != "median_return" && sortBy != "max_drawdown" {
		s.respondError(w, http.StatusBadRequest, "sort_by must be median_return or max_drawdown")
		return
	}

	limit := defaultRankLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRankLimit {
			s.respondError(w, http.StatusBadRequest, "limit must be an integer between 1 and 100")
			return
		}
		limit = n
	}

	entries, err := s.deps.Analytics.Rank(r.Context(), category, string(window), sortBy, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to rank funds")
		return
	}

	ranked := make([]rankEntryResponse, len(entries))
	for i, e := range entries {
		ranked[i] = rankEntryResponse{
			Rank:            i + 1,
			SchemeCode:      e.SchemeCode,
			SchemeName:      e.SchemeName,
			AMC:             e.AMC,
			Category:        e.Category,
			MedianReturnPct: pct(e.MedianReturn),
			MaxDrawdownPct:  pct(e.MaxDrawdown),
		}
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"window":  string(window),
		"sort_by": sortBy,
		"funds":   ranked,
	})
}
