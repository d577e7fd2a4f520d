package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"eve-arbitrage/internal/config"
	"eve-arbitrage/internal/engine"
	"eve-arbitrage/internal/graph"
)

// Scanner runs arbitrage scans.
type Scanner interface {
	ScanRegion(ctx context.Context, p engine.RegionScanParams) (engine.ScanResult, error)
	ScanPair(ctx context.Context, p engine.PairScanParams) (engine.ScanResult, error)
	RefreshDeal(ctx context.Context, p engine.RefreshParams) (*engine.Deal, error)
}

// Adjacency lists neighboring regions.
type Adjacency interface {
	Adjacent(ctx context.Context, regionID int32) ([]int32, error)
	Hops() int
}

// Universe serves the universe graph once loaded.
type Universe interface {
	Universe(ctx context.Context) (*graph.Universe, error)
	Ready() bool
}

// HealthChecker probes the upstream API.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// Deps are the collaborators a Server routes to. Metrics and
// PersistedEntries may be nil.
type Deps struct {
	Scanner          Scanner
	Adjacency        Adjacency
	Universe         Universe
	ESI              HealthChecker
	CacheSize        func() int
	PersistedEntries func(ctx context.Context) (int, error)
	Metrics          http.Handler
}

// Server is the HTTP API in front of the scanner.
type Server struct {
	cfg  *config.Config
	deps Deps
}

// NewServer creates a Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	return &Server{cfg: cfg, deps: deps}
}

// Handler returns the HTTP handler with all API routes and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/arbitrage/region", s.handleRegionScan)
	mux.HandleFunc("GET /api/arbitrage/pair", s.handlePairScan)
	mux.HandleFunc("GET /api/arbitrage/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/arbitrage/adjacent", s.handleAdjacent)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeEngineError maps scanner errors onto status codes. Anything that is
// not the caller's fault came from upstream.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *engine.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, engine.ErrUniverseUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case r.Context().Err() != nil:
		log.Printf("[API] %s %s abandoned by client: %v", r.Method, r.URL.Path, err)
	default:
		log.Printf("[API] %s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) ready(w http.ResponseWriter) bool {
	if !s.deps.Universe.Ready() {
		writeError(w, http.StatusServiceUnavailable, "universe not loaded yet")
		return false
	}
	return true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	result := map[string]interface{}{
		"universe_loaded": s.deps.Universe.Ready(),
		"esi_ok":          s.deps.ESI != nil && s.deps.ESI.HealthCheck(ctx),
	}
	if s.deps.CacheSize != nil {
		result["cache_entries"] = s.deps.CacheSize()
	}
	if s.deps.PersistedEntries != nil {
		if n, err := s.deps.PersistedEntries(ctx); err != nil {
			log.Printf("[API] count persisted cache entries: %v", err)
		} else {
			result["l2_entries"] = n
		}
	}
	if s.deps.Adjacency != nil {
		result["adjacency_hops"] = s.deps.Adjacency.Hops()
	}
	writeJSON(w, result)
}

func (s *Server) handleRegionScan(w http.ResponseWriter, r *http.Request) {
	req, err := parseRegionRequest(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.ready(w) {
		return
	}
	res, err := s.deps.Scanner.ScanRegion(r.Context(), engine.RegionScanParams{
		RegionID:          req.RegionID,
		GroupID:           req.GroupID,
		AdditionalRegions: req.AdditionalRegions,
		IncludeAdjacent:   req.IncludeAdjacent,
		Thresholds:        req.thresholds(s.cfg.MinProfitISK),
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handlePairScan(w http.ResponseWriter, r *http.Request) {
	req, err := parsePairRequest(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.ready(w) {
		return
	}
	res, err := s.deps.Scanner.ScanPair(r.Context(), engine.PairScanParams{
		FromSystemID: req.FromSystemID,
		ToSystemID:   req.ToSystemID,
		GroupID:      req.GroupID,
		Thresholds:   req.thresholds(s.cfg.MinProfitISK),
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	req, err := parseRefreshRequest(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.ready(w) {
		return
	}
	deal, err := s.deps.Scanner.RefreshDeal(r.Context(), engine.RefreshParams{
		TypeID:       req.TypeID,
		BuyRegionID:  req.BuyRegionID,
		SellRegionID: req.SellRegionID,
		Thresholds:   req.thresholds(s.cfg.MinProfitISK),
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, map[string]*engine.Deal{"deal": deal})
}

type regionName struct {
	RegionID int32  `json:"region_id"`
	Name     string `json:"name"`
}

func (s *Server) handleAdjacent(w http.ResponseWriter, r *http.Request) {
	req, err := parseAdjacentRequest(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.ready(w) {
		return
	}
	ids, err := s.deps.Adjacency.Adjacent(r.Context(), req.RegionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	u, err := s.deps.Universe.Universe(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	regions := make([]regionName, 0, len(ids))
	for _, id := range ids {
		regions = append(regions, regionName{RegionID: id, Name: u.RegionNames[id]})
	}
	writeJSON(w, map[string]interface{}{
		"region_id": req.RegionID,
		"hops":      s.deps.Adjacency.Hops(),
		"regions":   regions,
	})
}
