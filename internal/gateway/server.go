package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"kis-trader/internal/domain"
)

// Server is the gateway's internal HTTP surface: one route per broker
// operation, never exposed publicly (cors is scoped to loopback/private
// origins since the internal service mesh is the only caller).
type Server struct {
	client    *Client
	log       zerolog.Logger
	startedAt time.Time
}

// NewServer builds a chi.Router wired to client.
func NewServer(client *Client, log zerolog.Logger) http.Handler {
	s := &Server{client: client, log: log, startedAt: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*", "http://10.*", "http://172.16.*", "http://192.168.*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/market", func(r chi.Router) {
		r.Post("/snapshot", s.handleSnapshot)
		r.Post("/daily-prices", s.handleDailyPrices)
		r.Get("/is-trading-day", s.handleIsTradingDay)
		r.Get("/is-market-open", s.handleIsMarketOpen)
	})
	r.Route("/api/trading", func(r chi.Router) {
		r.Post("/buy", s.handleBuy)
		r.Post("/sell", s.handleSell)
		r.Post("/cancel", s.handleCancel)
		r.Post("/order-status", s.handleOrderStatus)
	})
	r.Route("/api/account", func(r chi.Router) {
		r.Post("/balance", s.handleBalance)
		r.Post("/cash", s.handleCash)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := s.systemStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime_sec":  time.Since(s.startedAt).Seconds(),
		"cpu_percent": cpuPct,
		"mem_percent": memPct,
		"circuit":     s.client.breaker.State(),
	})
}

// systemStats reports host CPU/RAM usage for the health endpoint; a short
// sampling window keeps the call from blocking the poller.
func (s *Server) systemStats() (cpuPct, memPct float64) {
	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("⚠️ cpu stats unavailable")
	} else if len(percents) > 0 {
		cpuPct = percents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("⚠️ memory stats unavailable")
		return cpuPct, 0
	}
	return cpuPct, vm.UsedPercent
}

type snapshotRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	const op = "snapshot"
	start := time.Now()
	var req snapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		observe(op, "bad_request", time.Since(start).Seconds())
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, err := s.client.Snapshot(r.Context(), req.Code)
	if err != nil {
		s.writeGatewayError(w, op, start, err)
		return
	}
	observe(op, "success", time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, map[string]float64{"price": price})
}

type dailyPricesRequest struct {
	Code string `json:"code"`
	Days int    `json:"days"`
}

func (s *Server) handleDailyPrices(w http.ResponseWriter, r *http.Request) {
	const op = "daily_prices"
	start := time.Now()
	var req dailyPricesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		observe(op, "bad_request", time.Since(start).Seconds())
		writeError(w, http.StatusBadRequest, err)
		return
	}
	highs, lows, closes, err := s.client.DailyPrices(r.Context(), req.Code, req.Days)
	if err != nil {
		s.writeGatewayError(w, op, start, err)
		return
	}
	observe(op, "success", time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, map[string]any{"highs": highs, "lows": lows, "closes": closes})
}

func (s *Server) handleIsTradingDay(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"is_trading_day": isWeekday(time.Now())})
}

func (s *Server) handleIsMarketOpen(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"is_market_open": isWeekday(time.Now())})
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.handleOrder(w, r, "buy", s.client.Buy)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	s.handleOrder(w, r, "sell", s.client.Sell)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request, op string, place func(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)) {
	start := time.Now()
	var req domain.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		observe(op, "bad_request", time.Since(start).Seconds())
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := place(r.Context(), req)
	if err != nil {
		s.writeGatewayError(w, op, start, err)
		return
	}
	observe(op, "success", time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, result)
}

type cancelRequest struct {
	OrderNo string `json:"order_no"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	const op = "cancel"
	start := time.Now()
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		observe(op, "bad_request", time.Since(start).Seconds())
		writeError(w, http.StatusBadRequest, err)
		return
	}
	success, err := s.client.CancelOrder(r.Context(), req.OrderNo)
	if err != nil {
		s.writeGatewayError(w, op, start, err)
		return
	}
	observe(op, "success", time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, map[string]bool{"success": success})
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	const op = "order_status"
	start := time.Now()
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		observe(op, "bad_request", time.Since(start).Seconds())
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status, err := s.client.OrderStatus(r.Context(), req.OrderNo)
	if err != nil {
		s.writeGatewayError(w, op, start, err)
		return
	}
	observe(op, "success", time.Since(start).Seconds())
	if status == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	const op = "balance"
	start := time.Now()
	cash, err := s.client.Balance(r.Context())
	if err != nil {
		s.writeGatewayError(w, op, start, err)
		return
	}
	positions, err := s.client.ListPositions(r.Context())
	if err != nil {
		s.writeGatewayError(w, op, start, err)
		return
	}
	observe(op, "success", time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, map[string]any{"cash": cash, "positions": positions})
}

func (s *Server) handleCash(w http.ResponseWriter, r *http.Request) {
	const op = "cash"
	start := time.Now()
	cash, err := s.client.Balance(r.Context())
	if err != nil {
		s.writeGatewayError(w, op, start, err)
		return
	}
	observe(op, "success", time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, map[string]float64{"cash": cash})
}

func (s *Server) writeGatewayError(w http.ResponseWriter, op string, start time.Time, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, ErrCircuitOpen) {
		status = http.StatusServiceUnavailable
	}
	observe(op, "error", time.Since(start).Seconds())
	s.log.Error().Err(err).Str("op", op).Msg("❌ gateway op failed")
	writeError(w, status, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
