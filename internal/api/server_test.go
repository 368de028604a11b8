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

	"strategy-engine/internal/balance"
	"strategy-engine/internal/engine"
	"strategy-engine/internal/events"
	"strategy-engine/internal/metrics"
	"strategy-engine/internal/monitor"
	"strategy-engine/internal/order"
	"strategy-engine/internal/position"
	"strategy-engine/internal/risk"
	"strategy-engine/internal/scorer"
	"strategy-engine/pkg/config"
	"strategy-engine/pkg/exchange/paper"
	"strategy-engine/pkg/logger"
)

type serverFixture struct {
	server *Server
	ctrl   *engine.Controller
	rec    *metrics.Recorder
	cancel context.CancelFunc
}

// newTestServer assembles a paper-venue engine whose loop only services
// commands; the long cycle interval keeps trading out of the way.
func newTestServer(t *testing.T) *serverFixture {
	t.Helper()
	log := logger.Nop()
	bus := events.NewBus()
	gw := paper.New(paper.Config{InitialBalance: 10000}, log)
	gw.SetMarkPrice("ETHUSDT", 2000)

	strat, err := config.LoadStrategy(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	strat.Symbol = "ETHUSDT"
	strat.CycleInterval = config.Duration(time.Hour)

	sc, err := scorer.New(strat.Scorer, strat.Filters, nil, log)
	if err != nil {
		t.Fatalf("scorer: %v", err)
	}
	machine := position.NewMachine(strat.Symbol, nil, bus, log)
	rec := metrics.New()

	ctrl := engine.New(engine.Deps{
		Config:     *strat,
		Gateway:    gw,
		Candles:    paper.NewSynthSource(2000, 1),
		Scorer:     sc,
		Risk:       risk.NewManager(strat.Risk, nil, bus, log),
		Machine:    machine,
		Reconciler: position.NewReconciler(machine, gw, bus, log, 2, time.Millisecond),
		Executor:   order.NewExecutor(gw, nil, bus, strat.Retry, log),
		Balance:    balance.NewManager(gw, time.Hour, log),
		Metrics:    rec,
		Bus:        bus,
		Log:        log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = ctrl.Run(ctx) }()
	t.Cleanup(cancel)

	deadline := time.Now().Add(2 * time.Second)
	for !ctrl.Status().Running {
		if time.Now().After(deadline) {
			t.Fatal("engine never started")
		}
		time.Sleep(time.Millisecond)
	}

	mon := monitor.New(strat.Health, nil, nil, bus, log)
	srv := NewServer(Config{
		JWTSecret:   "test-secret",
		OperatorKey: "operator-key",
		TokenTTL:    time.Minute,
	}, ctrl, mon, rec, nil, log)

	return &serverFixture{server: srv, ctrl: ctrl, rec: rec, cancel: cancel}
}

func (f *serverFixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.server.Router().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	fx := newTestServer(t)
	w := fx.do(http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	fx := newTestServer(t)
	w := fx.do(http.MethodGet, "/api/v1/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got engine.Status
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if got.Symbol != "ETHUSDT" || !got.Running {
		t.Fatalf("status = %+v", got)
	}
}

func TestTokenIssuance(t *testing.T) {
	fx := newTestServer(t)

	w := fx.do(http.MethodPost, "/api/v1/auth/token", "", map[string]string{"key": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key status = %d", w.Code)
	}

	w = fx.do(http.MethodPost, "/api/v1/auth/token", "", map[string]string{"key": "operator-key"})
	if w.Code != http.StatusOK {
		t.Fatalf("token status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("bad token response: %s", w.Body.String())
	}
}

func TestMutatingRoutesRequireAuth(t *testing.T) {
	fx := newTestServer(t)

	if w := fx.do(http.MethodPost, "/api/v1/engine/pause", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated pause status = %d", w.Code)
	}
	if w := fx.do(http.MethodPost, "/api/v1/engine/pause", "garbage", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token pause status = %d", w.Code)
	}
}

func TestPauseResumeFlow(t *testing.T) {
	fx := newTestServer(t)

	w := fx.do(http.MethodPost, "/api/v1/auth/token", "", map[string]string{"key": "operator-key"})
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token: %v", err)
	}

	if w := fx.do(http.MethodPost, "/api/v1/engine/pause", resp.Token, nil); w.Code != http.StatusAccepted {
		t.Fatalf("pause status = %d", w.Code)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !fx.ctrl.Status().Paused {
		if time.Now().After(deadline) {
			t.Fatal("pause never applied")
		}
		time.Sleep(time.Millisecond)
	}

	if w := fx.do(http.MethodPost, "/api/v1/engine/resume", resp.Token, nil); w.Code != http.StatusAccepted {
		t.Fatalf("resume status = %d", w.Code)
	}
	deadline = time.Now().Add(2 * time.Second)
	for fx.ctrl.Status().Paused {
		if time.Now().After(deadline) {
			t.Fatal("resume never applied")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	fx := newTestServer(t)
	fx.rec.CycleCompleted("ok", time.Millisecond)

	w := fx.do(http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "engine_cycles_total") {
		t.Fatalf("metrics body missing cycle counter:\n%s", w.Body.String())
	}
}

func TestSignalsWithoutPersistence(t *testing.T) {
	fx := newTestServer(t)
	if w := fx.do(http.MethodGet, "/api/v1/signals", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("signals without db status = %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	fx := newTestServer(t)

	limited := false
	for i := 0; i < 80; i++ {
		if w := fx.do(http.MethodGet, "/healthz", "", nil); w.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("burst of requests was never rate limited")
	}
}
