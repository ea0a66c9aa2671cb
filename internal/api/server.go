package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"pinchmarket/internal/cache"
	"pinchmarket/internal/ledger"
	"pinchmarket/internal/model"
)

const agentKeyHeader = "X-Agent-Key"

type Server struct {
	svc    *ledger.Service
	cache  *cache.Client
	secret []byte

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
	betRate  rate.Limit
	betBurst int
}

func NewServer(svc *ledger.Service, cc *cache.Client, adminSecret string, betRate float64, betBurst int) *Server {
	return &Server{
		svc:      svc,
		cache:    cc,
		secret:   []byte(adminSecret),
		limiters: make(map[string]*rate.Limiter),
		betRate:  rate.Limit(betRate),
		betBurst: betBurst,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	// Health
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json200(w, map[string]string{"status": "ok"})
	})

	// Public
	r.Post("/api/agents", s.register)
	r.Get("/api/markets", s.listMarkets)
	r.Get("/api/markets/{id}", s.getMarket)
	r.Get("/api/markets/{id}/odds", s.getOdds)
	r.Get("/api/leaderboard", s.leaderboard)

	// Agent-authenticated (credential resolved by the ledger per request)
	r.With(s.betLimiter).Post("/api/bets", s.placeBet)
	r.Get("/api/portfolio", s.portfolio)

	// Admin
	r.Group(func(r chi.Router) {
		r.Use(s.adminOnly)
		r.Post("/api/admin/markets", s.createMarket)
		r.Post("/api/admin/markets/{id}/resolve", s.resolveMarket)
		r.Get("/api/admin/markets", s.adminListMarkets)
		r.Get("/api/admin/metrics", s.metrics)
		r.Get("/api/admin/events", s.listEvents)
	})

	return r
}

// ── Middleware ───────────────────────────────────────

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := r.Header.Get("X-Admin-Secret")
		if secret == "" {
			secret = r.URL.Query().Get("secret")
		}
		if subtle.ConstantTimeCompare([]byte(secret), s.secret) != 1 {
			jsonErr(w, 401, model.KindValidation, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// betLimiter rate-limits bet placement per credential so a runaway agent
// cannot monopolize the ledger.
func (s *Server) betLimiter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(agentKeyHeader)
		if key == "" {
			jsonErr(w, 401, model.KindValidation, "missing "+agentKeyHeader+" header")
			return
		}
		if !s.limiterFor(key).Allow() {
			jsonErr(w, 429, model.KindValidation, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiterFor(key string) *rate.Limiter {
	s.limMu.Lock()
	defer s.limMu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(s.betRate, s.betBurst)
		s.limiters[key] = l
	}
	return l
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,X-Agent-Key,X-Admin-Secret")
		if r.Method == http.MethodOptions {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ── Agents ───────────────────────────────────────────

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, model.KindValidation, "invalid json")
		return
	}
	result, err := s.svc.Register(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	json201(w, result)
}

// ── Bets ─────────────────────────────────────────────

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	credential := r.Header.Get(agentKeyHeader)

	var req model.PlaceBetReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, model.KindValidation, "invalid json")
		return
	}
	result, err := s.svc.PlaceBet(r.Context(), credential, req)
	if err != nil {
		writeErr(w, err)
		return
	}
	json201(w, result)
}

// ── Markets ──────────────────────────────────────────

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	f := model.MarketFilter{
		Category: model.Category(r.URL.Query().Get("category")),
		Status:   r.URL.Query().Get("status"),
		Limit:    queryInt(r, "limit", 50, 200),
	}
	markets, err := s.svc.ListMarkets(r.Context(), f)
	if err != nil {
		writeErr(w, err)
		return
	}
	json200(w, map[string]any{"markets": markets, "count": len(markets)})
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.svc.GetMarket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	json200(w, market)
}

func (s *Server) getOdds(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.MarketOdds(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	json200(w, o)
}

// ── Portfolio / Leaderboard ──────────────────────────

func (s *Server) portfolio(w http.ResponseWriter, r *http.Request) {
	credential := r.Header.Get(agentKeyHeader)
	if credential == "" {
		credential = r.URL.Query().Get("agentKey")
	}
	p, err := s.svc.Portfolio(r.Context(), credential)
	if err != nil {
		writeErr(w, err)
		return
	}
	json200(w, p)
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 200)

	if rows, ok := s.cache.GetLeaderboard(r.Context()); ok {
		if limit < len(rows) {
			rows = rows[:limit]
		}
		json200(w, map[string]any{"agents": rows, "cached": true})
		return
	}

	rows, err := s.svc.Leaderboard(r.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.cache.SetLeaderboard(r.Context(), rows); err != nil {
		log.Printf("[api] leaderboard cache set failed: %v", err)
	}
	json200(w, map[string]any{"agents": rows, "cached": false})
}

// ── Admin ────────────────────────────────────────────

func (s *Server) createMarket(w http.ResponseWriter, r *http.Request) {
	var req model.CreateMarketReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, model.KindValidation, "invalid json")
		return
	}
	market, err := s.svc.CreateMarket(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	json201(w, market)
}

func (s *Server) resolveMarket(w http.ResponseWriter, r *http.Request) {
	var req model.ResolveMarketReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, model.KindValidation, "invalid json")
		return
	}
	market, err := s.svc.ResolveMarket(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.cache.InvalidateLeaderboard(r.Context()); err != nil {
		log.Printf("[api] leaderboard invalidate failed: %v", err)
	}
	json200(w, map[string]any{"market_id": market.ID, "resolution": market.Resolution})
}

func (s *Server) adminListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.svc.ListMarkets(r.Context(), model.MarketFilter{})
	if err != nil {
		writeErr(w, err)
		return
	}
	json200(w, map[string]any{"markets": markets})
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.svc.Metrics(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	json200(w, m)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.Events(r.Context(), queryInt(r, "limit", 100, 500))
	if err != nil {
		writeErr(w, err)
		return
	}
	json200(w, map[string]any{"events": events})
}

// ── Helpers ──────────────────────────────────────────

func queryInt(r *http.Request, key string, def, max int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && n > 0 && n <= max {
		return n
	}
	return def
}

func json200(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func json201(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(data)
}

func jsonErr(w http.ResponseWriter, code int, kind model.Kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": string(kind), "message": msg})
}

// writeErr maps the error taxonomy onto HTTP. The body's "error" kind is the
// contract agents branch on; the status code is advisory.
func writeErr(w http.ResponseWriter, err error) {
	kind := model.KindOf(err)
	status := map[model.Kind]int{
		model.KindValidation:          400,
		model.KindNotFound:            404,
		model.KindConflict:            409,
		model.KindInsufficientBalance: 402,
		model.KindMarketClosed:        409,
		model.KindStoreFailure:        500,
	}[kind]
	if status == 0 {
		status = 500
	}
	msg := err.Error()
	var e *model.Error
	if errors.As(err, &e) {
		msg = e.Msg
	}
	if status == 500 {
		log.Printf("[api] internal error: %v", err)
	}
	jsonErr(w, status, kind, msg)
}
