// Package api provides the HTTP API for observing and steering the economy.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/talgya/macrosim/internal/engine"
	"github.com/talgya/macrosim/internal/metrics"
	"github.com/talgya/macrosim/internal/persistence"
	"github.com/talgya/macrosim/internal/scenario"
)

const maxStepsPerRequest = 1000

// Server serves the economy over HTTP.
type Server struct {
	Eng         *engine.Engine
	DB          *persistence.DB // optional run archive
	Scenarios   *scenario.Library
	Hub         *Hub
	Port        int
	AdminKey    string // Bearer token for POST endpoints. Empty = POST disabled.
	CORSOrigins []string

	mu    sync.Mutex
	runID string
}

// NewServer wires a hub to eng and prepares the archive run when db is set.
func NewServer(eng *engine.Engine, db *persistence.DB, lib *scenario.Library) *Server {
	if lib == nil {
		lib = scenario.NewLibrary()
	}
	s := &Server{Eng: eng, DB: db, Scenarios: lib}
	s.Hub = NewHub(s.currentState, nil)
	return s
}

// RunID returns the archive run receiving stepped snapshots.
func (s *Server) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// StartRun opens a new archive run for the economy as it is now configured.
// It is a no-op without a database.
func (s *Server) StartRun(name, scenarioKey string) error {
	var err error
	s.Eng.Do(func(e *engine.Economy) { err = s.rotateRun(e, name, scenarioKey) })
	return err
}

// rotateRun switches the archive to a fresh run for e. Callers hold the
// engine lock, so no step lands between the switch and the economy it
// describes. On failure archiving stops rather than writing into the
// previous run.
func (s *Server) rotateRun(e *engine.Economy, name, scenarioKey string) error {
	if s.DB == nil {
		return nil
	}
	cfg := e.Config()
	cfgJSON, _ := json.Marshal(cfg)

	run, err := s.DB.CreateRun(persistence.Run{
		Name:       name,
		Seed:       cfg.Simulation.Seed,
		Scenario:   scenarioKey,
		ConfigJSON: string(cfgJSON),
	})
	if err != nil {
		s.setRunID("")
		return fmt.Errorf("start run: %w", err)
	}
	if err := s.DB.SaveMeta("current_run", run.ID); err != nil {
		slog.Warn("save current run failed", "error", err)
	}

	s.setRunID(run.ID)
	slog.Info("archive run started", "run", run.ID, "seed", cfg.Simulation.Seed, "scenario", scenarioKey)
	return nil
}

func (s *Server) setRunID(id string) {
	s.mu.Lock()
	s.runID = id
	s.mu.Unlock()
}

// Publish sends a stepped snapshot to stream clients. It is meant for
// Engine.OnStep.
func (s *Server) Publish(snap metrics.Snapshot) {
	s.Hub.Publish(snap)
}

// Archive appends a stepped snapshot to the current run. It is meant for
// Engine.Commit, which runs under the engine lock and so orders it against
// resets.
func (s *Server) Archive(snap metrics.Snapshot) {
	runID := s.RunID()
	if s.DB == nil || runID == "" {
		return
	}
	if err := s.DB.SaveSnapshots(runID, []metrics.Snapshot{snap}); err != nil {
		slog.Error("archive snapshot failed", "run", runID, "step", snap.Step, "error", err)
	}
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	// Narratives may call the model; keep them cheap for anonymous callers.
	narrativeLimiter := NewRateLimiter(30, time.Hour)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/state", s.handleState)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/fiscal", s.handleFiscal)
	mux.HandleFunc("/api/v1/monetary", s.handleMonetary)
	mux.HandleFunc("/api/v1/scenarios", s.handleScenarios)
	mux.HandleFunc("/api/v1/narrative", RateLimitMiddleware(narrativeLimiter, s.handleNarrative))
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRunHistory)
	mux.HandleFunc("/api/v1/stream", s.Hub.HandleWS)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/step", s.adminOnly(postOnly(s.handleStep)))
	mux.HandleFunc("/api/v1/policy", s.adminOnly(postOnly(s.handlePolicy)))
	mux.HandleFunc("/api/v1/crisis", s.adminOnly(postOnly(s.handleCrisis)))
	mux.HandleFunc("/api/v1/reset", s.adminOnly(postOnly(s.handleReset)))
	mux.HandleFunc("/api/v1/scenario", s.adminOnly(postOnly(s.handleScenario)))
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))

	return corsMiddleware(s.CORSOrigins, mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// The websocket hub runs for the same lifetime.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go s.Hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "archive", s.DB != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("HTTP server shutting down")
	return srv.Shutdown(shutCtx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Localhost dev servers are always allowed.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	for _, origin := range origins {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowedOrigins[origin] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no MACROSIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}

			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next(w, r)
	}
}

func postOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

func (s *Server) currentState() metrics.Snapshot {
	var snap metrics.Snapshot
	s.Eng.Do(func(e *engine.Economy) { snap = e.CurrentState() })
	return snap
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.currentState())
}

// handleHistory returns the last `limit` snapshots, or a single series when
// `metric` is given.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 10000 {
			limit = v
		}
	}
	metric := r.URL.Query().Get("metric")

	var (
		snaps  []metrics.Snapshot
		series []float64
		known  bool
	)
	s.Eng.Do(func(e *engine.Economy) {
		if metric != "" {
			_, known = e.CurrentState().Values()[metric]
			series = e.History().Series(metric)
			return
		}
		snaps = e.History().Tail(limit)
	})

	if metric != "" {
		if !known || metric == "step" {
			http.Error(w, fmt.Sprintf("unknown metric %q", metric), http.StatusNotFound)
			return
		}
		if len(series) > limit {
			series = series[len(series)-limit:]
		}
		writeJSON(w, map[string]any{"metric": metric, "values": series})
		return
	}
	if snaps == nil {
		snaps = []metrics.Snapshot{}
	}
	writeJSON(w, snaps)
}

func (s *Server) handleFiscal(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.fiscal())
}

func (s *Server) handleMonetary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.monetary())
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Scenarios.List())
}

// handleNarrative returns the latest narrative, writing one on demand when
// the current step has none.
func (s *Server) handleNarrative(w http.ResponseWriter, r *http.Request) {
	var (
		step int
		text string
	)
	s.Eng.Do(func(e *engine.Economy) {
		cur := e.CurrentState()
		step, text = cur.Step, cur.Narrative
		if text == "" {
			text = e.Narrate()
		}
	})
	writeJSON(w, map[string]any{"step": step, "narrative": text})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}
	runs, err := s.DB.ListRuns(limit)
	if err != nil {
		slog.Error("list runs failed", "error", err)
		http.Error(w, "list runs failed", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []persistence.Run{}
	}
	writeJSON(w, runs)
}

// handleRunHistory serves GET /api/v1/runs/:id.
func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/runs/"), "/")
	if id == "" {
		s.handleRuns(w, r)
		return
	}
	snaps, err := s.DB.LoadHistory(id)
	if errors.Is(err, persistence.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("load run failed", "run", id, "error", err)
		http.Error(w, "load run failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, snaps)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Steps int `json:"steps"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	if req.Steps == 0 {
		req.Steps = 1
	}
	if req.Steps < 0 || req.Steps > maxStepsPerRequest {
		http.Error(w, fmt.Sprintf("steps must be 1-%d", maxStepsPerRequest), http.StatusBadRequest)
		return
	}

	var last metrics.Snapshot
	for i := 0; i < req.Steps; i++ {
		last = s.Eng.StepOnce()
	}
	writeJSON(w, last)
}

type policyRequest struct {
	TaxRate       *float64 `json:"tax_rate,omitempty"`
	PayrollRate   *float64 `json:"payroll_rate,omitempty"`
	CorporateRate *float64 `json:"corporate_rate,omitempty"`
	InterestRate  *float64 `json:"interest_rate,omitempty"`
	Welfare       *float64 `json:"welfare,omitempty"`
	GovtSpending  *float64 `json:"govt_spending,omitempty"`
	AutoPolicy    *bool    `json:"auto_policy,omitempty"`
}

func (p policyRequest) validate() error {
	unit := func(name string, v *float64) error {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
		return nil
	}
	nonNeg := func(name string, v *float64) error {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative", name)
		}
		return nil
	}
	return errors.Join(
		unit("tax_rate", p.TaxRate),
		unit("payroll_rate", p.PayrollRate),
		unit("corporate_rate", p.CorporateRate),
		unit("interest_rate", p.InterestRate),
		nonNeg("welfare", p.Welfare),
		nonNeg("govt_spending", p.GovtSpending),
	)
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var out map[string]any
	s.Eng.Do(func(e *engine.Economy) {
		if req.TaxRate != nil {
			e.SetTaxRate(*req.TaxRate)
		}
		if req.PayrollRate != nil {
			e.SetPayrollRate(*req.PayrollRate)
		}
		if req.CorporateRate != nil {
			e.SetCorporateRate(*req.CorporateRate)
		}
		if req.InterestRate != nil {
			e.SetInterestRate(*req.InterestRate)
		}
		if req.Welfare != nil {
			e.SetWelfarePayment(*req.Welfare)
		}
		if req.GovtSpending != nil {
			e.SetGovtSpending(*req.GovtSpending)
		}
		if req.AutoPolicy != nil {
			e.EnableAutoMonetaryPolicy(*req.AutoPolicy)
		}
		out = map[string]any{"fiscal": e.Fiscal(), "monetary": e.Monetary()}
	})
	writeJSON(w, out)
}

func (s *Server) handleCrisis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	kind, err := engine.ParseCrisis(req.Type)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var out map[string]any
	s.Eng.Do(func(e *engine.Economy) {
		err = e.TriggerCrisis(kind)
		out = map[string]any{"crisis": string(kind), "step": e.StepCount(), "monetary": e.Monetary()}
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, out)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var snap metrics.Snapshot
	var err error
	s.Eng.Do(func(e *engine.Economy) {
		e.Reset()
		snap = e.CurrentState()
		err = s.rotateRun(e, "reset", "")
	})
	if err != nil {
		slog.Error("archive run after reset failed", "error", err)
	}
	writeJSON(w, map[string]any{"message": "economy reset", "state": snap, "run": s.RunID()})
}

func (s *Server) handleScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	preset, err := s.Scenarios.Get(req.Name)
	var nf *scenario.NotFoundError
	if errors.As(err, &nf) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"error": err.Error(), "suggestions": nf.Suggestions})
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.Eng.Do(func(e *engine.Economy) { err = scenario.Apply(e, preset) })
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"scenario": preset, "fiscal": s.fiscal(), "monetary": s.monetary()})
}

func (s *Server) fiscal() any {
	var out any
	s.Eng.Do(func(e *engine.Economy) { out = e.Fiscal() })
	return out
}

func (s *Server) monetary() any {
	var out any
	s.Eng.Do(func(e *engine.Economy) { out = e.Monetary() })
	return out
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
