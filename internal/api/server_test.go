package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/macrosim/internal/config"
	"github.com/talgya/macrosim/internal/engine"
	"github.com/talgya/macrosim/internal/metrics"
	"github.com/talgya/macrosim/internal/persistence"
)

const testKey = "secret"

type fixture struct {
	srv *Server
	ts  *httptest.Server
	db  *persistence.DB
}

func newFixture(t *testing.T, withDB bool) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Simulation.Households = 40
	cfg.Simulation.Firms = 4
	econ, err := engine.New(cfg)
	require.NoError(t, err)

	var db *persistence.DB
	if withDB {
		db, err = persistence.Open(filepath.Join(t.TempDir(), "api.db"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
	}

	eng := engine.NewEngine(econ)
	srv := NewServer(eng, db, nil)
	srv.AdminKey = testKey
	srv.CORSOrigins = []string{"https://dash.example.com"}
	eng.OnStep = srv.Publish
	eng.Commit = srv.Archive
	require.NoError(t, srv.StartRun("test", ""))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Hub.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{srv: srv, ts: ts, db: db}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestStateBeforeFirstStep(t *testing.T) {
	f := newFixture(t, false)
	resp := f.do(t, http.MethodGet, "/api/v1/state", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, 0, decode[metrics.Snapshot](t, resp).Step)
}

func TestAdminAuth(t *testing.T) {
	f := newFixture(t, false)

	tests := []struct {
		name   string
		method string
		token  string
		want   int
	}{
		{"missing token", http.MethodPost, "", http.StatusUnauthorized},
		{"wrong token", http.MethodPost, "nope", http.StatusUnauthorized},
		{"valid token", http.MethodPost, testKey, http.StatusOK},
		{"get on post-only", http.MethodGet, "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, tt.method, "/api/v1/step", tt.token, nil)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	f.srv.AdminKey = ""
	resp := f.do(t, http.MethodPost, "/api/v1/step", testKey, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStep(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPost, "/api/v1/step", testKey, map[string]int{"steps": 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, decode[metrics.Snapshot](t, resp).Step)

	resp = f.do(t, http.MethodPost, "/api/v1/step", testKey, map[string]int{"steps": maxStepsPerRequest + 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPolicy(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPost, "/api/v1/policy", testKey, map[string]any{
		"tax_rate": 0.3, "interest_rate": 0.07, "welfare": 800, "auto_policy": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[struct {
		Fiscal struct {
			VATRate        float64 `json:"vat_rate"`
			WelfarePayment float64 `json:"welfare_payment"`
		} `json:"fiscal"`
		Monetary struct {
			InterestRate float64 `json:"interest_rate"`
			AutoPolicy   bool    `json:"auto_policy"`
		} `json:"monetary"`
	}](t, resp)
	assert.InDelta(t, 0.3, out.Fiscal.VATRate, 1e-12)
	assert.InDelta(t, 800, out.Fiscal.WelfarePayment, 1e-12)
	assert.InDelta(t, 0.07, out.Monetary.InterestRate, 1e-12)
	assert.True(t, out.Monetary.AutoPolicy)

	resp = f.do(t, http.MethodPost, "/api/v1/policy", testKey, map[string]any{"tax_rate": 1.5})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCrisis(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPost, "/api/v1/crisis", testKey, map[string]string{"type": "Recession"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "recession", decode[map[string]any](t, resp)["crisis"])

	resp = f.do(t, http.MethodPost, "/api/v1/crisis", testKey, map[string]string{"type": "meteor"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScenario(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPost, "/api/v1/scenario", testKey, map[string]string{"name": "taylor_rule"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/scenario", testKey, map[string]string{"name": "taylr"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	out := decode[struct {
		Suggestions []string `json:"suggestions"`
	}](t, resp)
	assert.Contains(t, out.Suggestions, "taylor_rule")

	resp = f.do(t, http.MethodGet, "/api/v1/scenarios", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]map[string]any](t, resp), 8)
}

func TestHistory(t *testing.T) {
	f := newFixture(t, false)
	f.do(t, http.MethodPost, "/api/v1/step", testKey, map[string]int{"steps": 5})

	resp := f.do(t, http.MethodGet, "/api/v1/history?limit=2", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snaps := decode[[]metrics.Snapshot](t, resp)
	require.Len(t, snaps, 2)
	assert.Equal(t, 4, snaps[0].Step)
	assert.Equal(t, 5, snaps[1].Step)

	resp = f.do(t, http.MethodGet, "/api/v1/history?metric=gdp", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	series := decode[struct {
		Values []float64 `json:"values"`
	}](t, resp)
	assert.Len(t, series.Values, 5)

	resp = f.do(t, http.MethodGet, "/api/v1/history?metric=nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFiscalAndMonetary(t *testing.T) {
	f := newFixture(t, false)
	for _, path := range []string{"/api/v1/fiscal", "/api/v1/monetary"} {
		resp := f.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.NotEmpty(t, decode[map[string]any](t, resp), path)
	}
}

func TestNarrativeIsRateLimited(t *testing.T) {
	f := newFixture(t, false)
	f.do(t, http.MethodPost, "/api/v1/step", testKey, nil)

	resp := f.do(t, http.MethodGet, "/api/v1/narrative", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[struct {
		Step      int    `json:"step"`
		Narrative string `json:"narrative"`
	}](t, resp)
	assert.Equal(t, 1, out.Step)
	assert.NotEmpty(t, out.Narrative)

	for i := 1; i < 30; i++ {
		f.do(t, http.MethodGet, "/api/v1/narrative", "", nil)
	}
	resp = f.do(t, http.MethodGet, "/api/v1/narrative", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestSpeed(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPost, "/api/v1/speed", testKey, map[string]float64{"speed": 4})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 4.0, decode[map[string]float64](t, resp)["speed"])

	resp = f.do(t, http.MethodGet, "/api/v1/speed", "", nil)
	assert.Equal(t, 4.0, decode[map[string]float64](t, resp)["speed"])

	resp = f.do(t, http.MethodPost, "/api/v1/speed", testKey, map[string]float64{"speed": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestArchive(t *testing.T) {
	f := newFixture(t, true)
	first := f.srv.RunID()
	require.NotEmpty(t, first)

	f.do(t, http.MethodPost, "/api/v1/step", testKey, map[string]int{"steps": 2})
	snaps, err := f.db.LoadHistory(first)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)

	resp := f.do(t, http.MethodPost, "/api/v1/reset", testKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := f.srv.RunID()
	assert.NotEqual(t, first, second)

	f.do(t, http.MethodPost, "/api/v1/step", testKey, nil)

	resp = f.do(t, http.MethodGet, "/api/v1/runs", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := decode[[]persistence.Run](t, resp)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, 1, runs[0].Steps)

	resp = f.do(t, http.MethodGet, "/api/v1/runs/"+first, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]metrics.Snapshot](t, resp), 2)

	resp = f.do(t, http.MethodGet, "/api/v1/runs/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResetWhileRunningKeepsOldRun(t *testing.T) {
	f := newFixture(t, true)
	eng := f.srv.Eng
	eng.SetInterval(time.Millisecond)
	eng.Do(func(e *engine.Economy) { e.SetTaxRate(0.4) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	stepsIn := func(run string) []metrics.Snapshot {
		snaps, err := f.db.LoadHistory(run)
		require.NoError(t, err)
		return snaps
	}

	first := f.srv.RunID()
	require.Eventually(t, func() bool { return len(stepsIn(first)) >= 3 }, 5*time.Second, 5*time.Millisecond)

	resp := f.do(t, http.MethodPost, "/api/v1/reset", testKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := f.srv.RunID()
	require.NotEqual(t, first, second)

	frozen := stepsIn(first)
	require.Eventually(t, func() bool { return len(stepsIn(second)) >= 3 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, frozen, stepsIn(first))

	// Both runs count from one with no gaps or foreign steps.
	expected := func(tax float64) metrics.Snapshot {
		cfg := config.Defaults()
		cfg.Simulation.Households = 40
		cfg.Simulation.Firms = 4
		econ, err := engine.New(cfg)
		require.NoError(t, err)
		if tax > 0 {
			econ.SetTaxRate(tax)
		}
		return econ.Step()
	}
	tests := []struct {
		name  string
		snaps []metrics.Snapshot
		want  metrics.Snapshot
	}{
		{"old run", frozen, expected(0.4)},
		{"new run", stepsIn(second), expected(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, s := range tt.snaps {
				assert.Equal(t, i+1, s.Step)
			}
			assert.Equal(t, tt.want.GDP, tt.snaps[0].GDP)
			assert.Equal(t, tt.want.TaxRevenue, tt.snaps[0].TaxRevenue)
		})
	}
}

func TestRunsWithoutDatabase(t *testing.T) {
	f := newFixture(t, false)
	resp := f.do(t, http.MethodGet, "/api/v1/runs", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStream(t *testing.T) {
	f := newFixture(t, false)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() envelope {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var env envelope
		require.NoError(t, conn.ReadJSON(&env))
		return env
	}

	env := read()
	assert.Equal(t, "state", env.Type)
	assert.Equal(t, 0, env.Payload.Step)

	require.Eventually(t, func() bool { return f.srv.Hub.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	f.do(t, http.MethodPost, "/api/v1/step", testKey, map[string]int{"steps": 2})
	first := read()
	assert.Equal(t, "step", first.Type)
	assert.Equal(t, 1, first.Payload.Step)
	second := read()
	assert.Equal(t, "step", second.Type)
	assert.Equal(t, 2, second.Payload.Step)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, false)

	req, err := http.NewRequest(http.MethodOptions, f.ts.URL+"/api/v1/state", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dash.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://dash.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example.com")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 61, rl.RetryAfter("a"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("a"))
	assert.Zero(t, rl.RetryAfter("unknown"))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"remote with port", "10.0.0.1:5555", "", "10.0.0.1"},
		{"ipv6 remote", "[::1]:5555", "", "::1"},
		{"forwarded chain", "10.0.0.1:5555", "203.0.113.9, 10.0.0.2", "203.0.113.9"},
		{"bare remote", "10.0.0.1", "", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, clientIP(r))
		})
	}
}
