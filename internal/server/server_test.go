package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/cache/memory"
	"github.com/alanyoungcy/yieldrebalancer/internal/cooldown"
	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
	"github.com/alanyoungcy/yieldrebalancer/internal/server"
	"github.com/alanyoungcy/yieldrebalancer/internal/server/handler"
	"github.com/alanyoungcy/yieldrebalancer/internal/service"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeCycles struct {
	triggered int
	active    string
	lockHeld  bool
}

func (f *fakeCycles) Trigger() bool {
	f.triggered++
	return f.triggered == 1
}

func (f *fakeCycles) Last() (domain.CycleSummary, bool) { return domain.CycleSummary{}, false }
func (f *fakeCycles) ActiveName() string                { return f.active }
func (f *fakeCycles) Strategies() []string              { return []string{"fused", "two_phase"} }

func (f *fakeCycles) SetStrategy(name string) error {
	if name != "fused" && name != "two_phase" {
		return fmt.Errorf("strategy %q: %w", name, domain.ErrNotFound)
	}
	f.active = name
	return nil
}

func (f *fakeCycles) RunLocked(ctx context.Context, name string, fn func(context.Context) (domain.CycleSummary, error)) (domain.CycleSummary, error) {
	if f.lockHeld {
		return domain.CycleSummary{}, fmt.Errorf("cycle lock: %w", domain.ErrLockHeld)
	}
	sum, err := fn(ctx)
	sum.ID, sum.Strategy = "cycle-1", name
	return sum, err
}

type fakePhases struct{ lastN int }

func (f *fakePhases) Evaluate(context.Context) (domain.CycleSummary, error) {
	return domain.CycleSummary{AccountsChecked: 2, OpportunitiesFound: 1}, nil
}

func (f *fakePhases) ExecuteTop(_ context.Context, n int) (domain.CycleSummary, error) {
	f.lastN = n
	return domain.CycleSummary{Executed: n}, nil
}

type vaults []domain.Vault

func (v vaults) Eligible(context.Context) ([]domain.Vault, error) { return v, nil }

type env struct {
	handler http.Handler
	cycles  *fakeCycles
	phases  *fakePhases
	queue   *memory.Queue
}

func newEnv(t *testing.T, apiKey string) *env {
	t.Helper()
	queue := memory.NewQueue()
	hist := memory.NewHistoryLog(100)
	reg := memory.NewRegistry()
	policy := cooldown.New(memory.NewCooldownStore(), time.Hour, 3)

	reports := service.NewReportService(queue, hist, vaults{{Address: "0xv", NetAPY: 0.05}}, nil)
	accounts := service.NewAccountService(reg, policy, nil, nil, discard)
	cycles := &fakeCycles{active: "two_phase"}
	phases := &fakePhases{}

	h := server.Handlers{
		Health:   handler.NewHealthHandler(map[string]handler.Pinger{"redis": handler.PingFunc(func(context.Context) error { return nil })}, discard),
		Status:   handler.NewStatusHandler("server", time.Now(), cycles, reports),
		Accounts: handler.NewAccountHandler(accounts, discard),
		Reports:  handler.NewReportHandler(reports),
		Cycles:   handler.NewCycleHandler(cycles, phases, reports, 5, discard),
	}
	srv := server.NewServer(server.Config{APIKey: apiKey}, h, nil, memory.NewRateLimiter(), discard)
	return &env{handler: srv.Handler(), cycles: cycles, phases: phases, queue: queue}
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestAccountsEndpoints(t *testing.T) {
	e := newEnv(t, "")

	rec := e.do(t, http.MethodPost, "/api/accounts", `{"address":"0xF39Fd6e51aad88F6F4ce6aB8827279cffFb92266","key_id":"w1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d %s", rec.Code, rec.Body)
	}

	rec = e.do(t, http.MethodPost, "/api/accounts", `{"address":"nope","key_id":"w1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad address = %d", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/api/accounts", "")
	if got := decode(t, rec)["count"]; got != float64(1) {
		t.Errorf("count = %v", got)
	}

	rec = e.do(t, http.MethodDelete, "/api/accounts/0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete = %d", rec.Code)
	}
}

func TestQueueEndpoint(t *testing.T) {
	e := newEnv(t, "")
	_ = e.queue.Push(context.Background(), domain.Opportunity{
		ID: "a", Account: "0x1", FromVault: "0x2", ToVault: "0x3", APYDiff: 0.02, Priority: 5, CreatedAt: time.Now(),
	})

	rec := e.do(t, http.MethodGet, "/api/queue?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("queue = %d", rec.Code)
	}
	body := decode(t, rec)
	opps := body["opportunities"].([]any)
	if len(opps) != 1 || opps[0].(map[string]any)["apy_diff_percent"] != float64(2) {
		t.Errorf("queue body = %v", body)
	}
}

func TestHistoryAndVaultsEndpoints(t *testing.T) {
	e := newEnv(t, "")
	rec := e.do(t, http.MethodGet, "/api/history", "")
	if _, ok := decode(t, rec)["stats"]; !ok {
		t.Error("history missing stats")
	}
	rec = e.do(t, http.MethodGet, "/api/vaults", "")
	if decode(t, rec)["count"] != float64(1) {
		t.Error("vaults count")
	}
}

func TestCycleEndpoints(t *testing.T) {
	e := newEnv(t, "")

	rec := e.do(t, http.MethodPost, "/api/cycle/trigger", "")
	if rec.Code != http.StatusAccepted || e.cycles.triggered != 1 {
		t.Fatalf("trigger = %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/cycle/execute?n=3", "")
	if rec.Code != http.StatusOK || e.phases.lastN != 3 {
		t.Fatalf("execute = %d n=%d", rec.Code, e.phases.lastN)
	}
	e.do(t, http.MethodPost, "/api/cycle/execute", "")
	if e.phases.lastN != 5 {
		t.Errorf("default n = %d, want 5", e.phases.lastN)
	}

	e.cycles.lockHeld = true
	rec = e.do(t, http.MethodPost, "/api/cycle/evaluate", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("evaluate under lock = %d, want 409", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/api/cycles", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("cycles without store = %d, want 404", rec.Code)
	}
}

func TestStrategyEndpoints(t *testing.T) {
	e := newEnv(t, "")
	rec := e.do(t, http.MethodPost, "/api/strategy", `{"name":"fused"}`)
	if rec.Code != http.StatusOK || e.cycles.active != "fused" {
		t.Fatalf("switch = %d active=%s", rec.Code, e.cycles.active)
	}
	rec = e.do(t, http.MethodPost, "/api/strategy", `{"name":"yolo"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown strategy = %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/api/status", "")
	if decode(t, rec)["strategy"] != "fused" {
		t.Error("status strategy not updated")
	}
}

func TestAuth(t *testing.T) {
	e := newEnv(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no key = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health without key = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("bearer = %d", rec.Code)
	}
}

func TestHealthDegraded(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.Pinger{
		"postgres": handler.PingFunc(func(context.Context) error { return fmt.Errorf("connection refused") }),
	}, discard)
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestArchiveEndpoint(t *testing.T) {
	blob := archiveBlob{"archive/2026-09.jsonl": `{"id":"a"}` + "\n"}
	h := handler.NewArchiveHandler(blob, func(m string) string { return "archive/" + m + ".jsonl" }, discard)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/archive/{month}", h.Get)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archive/2026-09", nil))
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"a"`)) {
		t.Errorf("archive = %d %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archive/2026-08", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing month = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archive/latest", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad month = %d", rec.Code)
	}
}

type archiveBlob map[string]string

func (b archiveBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	s, ok := b[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(s)), nil
}

func (b archiveBlob) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (b archiveBlob) Exists(_ context.Context, p string) (bool, error) {
	_, ok := b[p]
	return ok, nil
}
