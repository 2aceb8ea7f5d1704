// Package api provides the HTTP API server for signalsim.
//
// It exposes backtest submission, cached run results and their metrics
// reports, the effective configuration, and WebSocket streaming of run
// progress.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/seenimoa/signalsim/internal/backtest"
	"github.com/seenimoa/signalsim/internal/config"
	"github.com/seenimoa/signalsim/internal/infra"
	"github.com/seenimoa/signalsim/internal/logging"
	"github.com/seenimoa/signalsim/internal/metrics"
	"github.com/seenimoa/signalsim/internal/report"
	"github.com/seenimoa/signalsim/internal/series"
	"github.com/seenimoa/signalsim/internal/signal"
)

// Version is reported by the health endpoint; the CLI overrides it.
var Version = "dev"

const (
	// Run submissions: a burst of runBurst, then one every runRefill.
	runBurst  = 10
	runRefill = 6 * time.Second

	// Progress events per run, at most.
	progressEvents = 100
)

// SeriesLoader pre-fetches the bars a run needs. *series.Loader implements it.
type SeriesLoader interface {
	LoadAll(ctx context.Context, symbols []string) (*series.Store, error)
}

// runRecord is a finished run kept for later queries.
type runRecord struct {
	Result    *backtest.Result
	Report    metrics.Report
	CreatedAt time.Time
}

// Server is the HTTP API server.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	log     *slog.Logger
	loader  SeriesLoader
	runs    *infra.Cache[*runRecord]
	limiter *infra.RateLimiter
	wsHub   *WSHub
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}

	ttl := time.Duration(cfg.API.CacheTTL) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}

	srv := &Server{
		cfg: cfg,
		log: logger.With("component", "api"),
		loader: &series.Loader{
			Dir:         cfg.Data.Dir,
			Format:      series.Format(cfg.Data.Format),
			Concurrency: cfg.Data.FetchConcurrency,
			Logger:      logger,
		},
		runs:    infra.NewCache[*runRecord](ttl),
		limiter: infra.NewRateLimiter(runBurst, runRefill),
		wsHub:   NewWSHub(),
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// SetLoader replaces the series loader. Must be called before serving.
func (s *Server) SetLoader(l SeriesLoader) {
	s.loader = l
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *WSHub {
	return s.wsHub
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	bg, stop := context.WithCancel(ctx)
	defer stop()
	go s.wsHub.Run(bg)
	go s.runs.RunCleanup(bg, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// WebSocket stays outside the timeout middleware.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(120 * time.Second))

			r.Post("/backtest", s.handleBacktest)

			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{id}", s.handleGetRun)
			r.Get("/runs/{id}/metrics", s.handleRunMetrics)
			r.Get("/runs/{id}/signals", s.handleRunSignals)

			r.Get("/config", s.handleGetConfig)
		})
	})

	return r
}

// requestLogger logs each request through the server's slog logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// BacktestRequest is the body for POST /api/v1/backtest. Empty fields fall
// back to the server configuration.
type BacktestRequest struct {
	Symbols  []string `json:"symbols,omitempty"`
	From     string   `json:"from"`               // YYYY-MM-DD or RFC 3339
	To       string   `json:"to"`                 // inclusive; a bare date covers the whole day
	Interval string   `json:"interval,omitempty"` // e.g. "1h"
	Source   string   `json:"source,omitempty"`   // see signal.New; "replay" needs proposals

	Params    *signal.Params        `json:"params,omitempty"`
	Proposals []signal.ReplayRecord `json:"proposals,omitempty"` // inline replay source

	Seed             *int64   `json:"seed,omitempty"`
	FeeRate          *float64 `json:"fee_rate,omitempty"`
	MaxOpenPositions *int     `json:"max_open_positions,omitempty"`
}

// RunSummary is returned when a run completes.
type RunSummary struct {
	RunID   string           `json:"run_id"`
	Meta    backtest.RunMeta `json:"meta"`
	Metrics metrics.Report   `json:"metrics"`
}

// RunInfo is one entry of GET /api/v1/runs.
type RunInfo struct {
	RunID     string    `json:"run_id"`
	Source    string    `json:"source"`
	Interval  string    `json:"interval"`
	StartTS   int64     `json:"start_ts"`
	EndTS     int64     `json:"end_ts"`
	Traded    int       `json:"traded"`
	NetPnL    float64   `json:"net_pnl"`
	WinRate   float64   `json:"win_rate"`
	Cancelled bool      `json:"cancelled,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":     "ok",
			"version":    Version,
			"cached":     len(s.runs.Keys()),
			"ws_clients": s.wsHub.ClientCount(),
			"time":       time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", fmt.Sprint(int(runRefill.Seconds())))
		writeError(w, http.StatusTooManyRequests, "too many backtest runs; retry later")
		return
	}

	plan, err := s.plan(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	store, err := s.loader.LoadAll(r.Context(), plan.run.Symbols)
	if err != nil {
		s.log.Error("series load failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load series: "+err.Error())
		return
	}
	if len(store.Symbols()) == 0 {
		writeError(w, http.StatusNotFound, "no series data for the requested symbols")
		return
	}
	plan.run.Feed = store

	engine, err := backtest.NewEngine(plan.cfg,
		backtest.WithLogger(s.log),
		backtest.WithObserver(s.progress(plan.run.RunID)),
	)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := engine.Run(r.Context(), plan.run)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := metrics.Compute(res.Signals, res.Equity, s.cfg.Metrics.Options(plan.cfg.InitialCapital))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "metrics failed: "+err.Error())
		return
	}

	s.runs.Set(res.Meta.RunID, &runRecord{Result: res, Report: rep, CreatedAt: time.Now().UTC()})

	summary := RunSummary{RunID: res.Meta.RunID, Meta: res.Meta, Metrics: rep}
	s.wsHub.Broadcast(WSMessage{Type: MsgRunFinished, RunID: res.Meta.RunID, Data: summary})

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: summary})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	infos := make([]RunInfo, 0)
	for _, id := range s.runs.Keys() {
		rec, ok := s.runs.Get(id)
		if !ok {
			continue
		}
		m := rec.Result.Meta
		infos = append(infos, RunInfo{
			RunID:     id,
			Source:    m.Source,
			Interval:  m.Interval,
			StartTS:   m.StartTS,
			EndTS:     m.EndTS,
			Traded:    rec.Report.Signals.Traded,
			NetPnL:    rec.Report.Portfolio.NetPnL,
			WinRate:   rec.Report.Signals.WinRate,
			Cancelled: m.Cancelled,
			CreatedAt: rec.CreatedAt,
		})
	}
	// newest first
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: infos})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: rec.Result})
}

func (s *Server) handleRunMetrics(w http.ResponseWriter, r *http.Request) {
	format := report.FormatJSON
	if q := r.URL.Query().Get("format"); q != "" {
		f, err := report.ParseFormat(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		format = f
	}

	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	doc := report.NewDocument(rec.Result, rec.Report)

	if format == report.FormatJSON {
		writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: doc})
		return
	}
	w.Header().Set("Content-Type", contentType(format))
	w.WriteHeader(http.StatusOK)
	if err := report.Render(w, doc, format); err != nil {
		s.log.Error("render report failed", "run_id", rec.Result.Meta.RunID, "err", err)
	}
}

func (s *Server) handleRunSignals(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", contentType(report.FormatCSV))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Result.Meta.RunID+"-signals.csv"))
	w.WriteHeader(http.StatusOK)
	if err := report.WriteSignalsCSV(w, rec.Result.Signals); err != nil {
		s.log.Error("write signals failed", "run_id", rec.Result.Meta.RunID, "err", err)
	}
}

// lookup resolves {id} or writes a 404.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*runRecord, bool) {
	id := chi.URLParam(r, "id")
	rec, ok := s.runs.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found: "+id)
		return nil, false
	}
	return rec, true
}

// ============================================================
// Run planning
// ============================================================

type runPlan struct {
	cfg backtest.Config
	run backtest.RunRequest
}

// plan merges a request with the server configuration. The feed is
// attached once the series are loaded.
func (s *Server) plan(req BacktestRequest) (runPlan, error) {
	requested := req.Symbols
	if len(requested) == 0 {
		requested = s.cfg.Data.Symbols
	}
	if len(requested) == 0 {
		return runPlan{}, errors.New("symbols are required")
	}
	symbols := make([]string, len(requested))
	for i, sym := range requested {
		symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
	}

	if req.From == "" || req.To == "" {
		return runPlan{}, errors.New("from and to are required")
	}
	from, err := parseTime(req.From, false)
	if err != nil {
		return runPlan{}, fmt.Errorf("invalid from: %w", err)
	}
	to, err := parseTime(req.To, true)
	if err != nil {
		return runPlan{}, fmt.Errorf("invalid to: %w", err)
	}
	if to.Before(from) {
		return runPlan{}, errors.New("to is before from")
	}

	interval := req.Interval
	if interval == "" {
		interval = s.cfg.Backtest.Interval
	}
	if _, err := series.ParseInterval(interval); err != nil {
		return runPlan{}, err
	}

	src, err := s.source(req)
	if err != nil {
		return runPlan{}, err
	}

	cfg := s.cfg.Backtest.Engine()
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	if req.FeeRate != nil {
		cfg.FeeRate = *req.FeeRate
	}
	if req.MaxOpenPositions != nil {
		cfg.MaxOpenPositions = *req.MaxOpenPositions
	}

	return runPlan{
		cfg: cfg,
		run: backtest.RunRequest{
			Symbols:  symbols,
			StartTS:  from.UnixMilli(),
			EndTS:    to.UnixMilli(),
			Interval: interval,
			Source:   src,
			RunID:    uuid.NewString(),
		},
	}, nil
}

func (s *Server) source(req BacktestRequest) (signal.Source, error) {
	if len(req.Proposals) > 0 {
		return signal.NewReplay(req.Proposals), nil
	}
	sc := s.cfg.Signal
	if req.Source != "" {
		sc.Source = req.Source
	}
	if req.Params != nil {
		sc.Params = *req.Params
	}
	return sc.NewSource()
}

// progress streams a bounded number of step events for one run.
func (s *Server) progress(runID string) func(backtest.StepEvent) {
	return func(ev backtest.StepEvent) {
		every := max(1, ev.Total/progressEvents)
		if ev.Step%every != 0 && ev.Step != ev.Total {
			return
		}
		s.wsHub.Broadcast(WSMessage{Type: MsgRunProgress, RunID: runID, Data: ev})
	}
}

// parseTime accepts RFC 3339 or YYYY-MM-DD. With endOfDay a bare date
// resolves to the last millisecond of that day.
func parseTime(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q: use YYYY-MM-DD or RFC 3339", v)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t, nil
}

// ============================================================
// Helpers
// ============================================================

func contentType(f report.Format) string {
	switch f {
	case report.FormatCSV:
		return "text/csv; charset=utf-8"
	case report.FormatHTML:
		return "text/html; charset=utf-8"
	case report.FormatJSON:
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to write JSON response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}
