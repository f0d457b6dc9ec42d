package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/WriteProRO/writeproro-backendv2/pkg/audit"
	cachepkg "github.com/WriteProRO/writeproro-backendv2/pkg/cache/sqlite"
	"github.com/WriteProRO/writeproro-backendv2/pkg/compliance"
	"github.com/WriteProRO/writeproro-backendv2/pkg/config"
	"github.com/WriteProRO/writeproro-backendv2/pkg/models"
	"github.com/WriteProRO/writeproro-backendv2/pkg/provider"
	"github.com/WriteProRO/writeproro-backendv2/pkg/ratelimit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	srv   *Server
	store *audit.Store
	sink  *audit.Sink
	cache *cachepkg.Cache
	cfg   *config.Config
}

func setupGateway(t *testing.T, upstream *httptest.Server, mutate func(*config.Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Environment = "test"
	cfg.DBPath = filepath.Join(dir, "cache.db")
	cfg.Audit.DBPath = filepath.Join(dir, "audit.db")
	cfg.Audit.RetentionDays = 0
	cfg.Provider.URL = upstream.URL
	cfg.Provider.APIKey = "sk-test"
	cfg.Provider.Timeout = 5 * time.Second
	cfg.ExportSecret = "export-secret"
	if mutate != nil {
		mutate(cfg)
	}

	logger := discardLogger()

	store, err := audit.NewStore(cfg.Audit, logger)
	if err != nil {
		t.Fatal(err)
	}
	sink := audit.NewSink(store, cfg.Audit, logger)

	c, err := cachepkg.New(cfg.DBPath, logger)
	if err != nil {
		t.Fatal(err)
	}

	srv := New(cfg, provider.New(cfg.Provider, logger), c, store, sink,
		ratelimit.New(cfg.Rate), compliance.New(store), logger)

	t.Cleanup(func() {
		sink.Close()
		store.Close()
		c.Close()
	})
	return &testEnv{srv: srv, store: store, sink: sink, cache: c, cfg: cfg}
}

// fakeProvider serves OpenAI-style completions and counts invocations.
func fakeProvider(calls *atomic.Int64, status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{}`)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Inspect coil packs and check fuel trim."}}]}`)
	}))
}

func postGenerate(t *testing.T, srv *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.7:40000"
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

const validBody = `{"vehicleIdentifier":"1HGBH41JXMN109186","subsystem":"Engine","notes":"misfire under load","submitter":"j.reyes","organization":"Hilltop Motors"}`

// waitForUsage polls until the usage log holds at least n rows.
func waitForUsage(t *testing.T, store *audit.Store, n int) []models.UsageEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		events, err := store.QueryUsage(context.Background(), models.UsageQueryOpts{})
		if err != nil {
			t.Fatal(err)
		}
		if len(events) >= n {
			return events
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("usage log never reached %d rows", n)
	return nil
}

func TestGenerateServesSecondRequestFromCache(t *testing.T) {
	var calls atomic.Int64
	upstream := fakeProvider(&calls, http.StatusOK)
	defer upstream.Close()

	env := setupGateway(t, upstream, nil)

	w1 := postGenerate(t, env.srv, "/api/generate-documentation", validBody)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w1.Code, w1.Body.String())
	}
	var first generateResponse
	if err := json.Unmarshal(w1.Body.Bytes(), &first); err != nil {
		t.Fatal(err)
	}
	if first.Metadata.CacheServed {
		t.Error("first response should not be cache-served")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 provider call, got %d", calls.Load())
	}

	w2 := postGenerate(t, env.srv, "/api/generate-documentation", validBody)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w2.Code, w2.Body.String())
	}
	var second generateResponse
	if err := json.Unmarshal(w2.Body.Bytes(), &second); err != nil {
		t.Fatal(err)
	}
	if !second.Metadata.CacheServed {
		t.Error("second response should be cache-served")
	}
	if second.Content != first.Content {
		t.Errorf("cached content mismatch: %q vs %q", second.Content, first.Content)
	}
	if calls.Load() != 1 {
		t.Errorf("provider called again despite cache hit: %d calls", calls.Load())
	}
	if first.Compliance.AuditID == second.Compliance.AuditID {
		t.Error("audit IDs must be unique per response")
	}

	events := waitForUsage(t, env.store, 2)
	var cacheServed int
	for _, ev := range events {
		if ev.VINSuffix != "9186" {
			t.Errorf("usage event carries wrong identifier suffix %q", ev.VINSuffix)
		}
		if ev.CacheServed {
			cacheServed++
		}
	}
	if cacheServed != 1 {
		t.Errorf("expected exactly one cache-served usage event, got %d", cacheServed)
	}
}

func TestGenerateRejectsShortIdentifier(t *testing.T) {
	var calls atomic.Int64
	upstream := fakeProvider(&calls, http.StatusOK)
	defer upstream.Close()

	env := setupGateway(t, upstream, nil)

	body := `{"vehicleIdentifier":"SHORT123","subsystem":"Engine","notes":"misfire"}`
	w := postGenerate(t, env.srv, "/api/generate-documentation", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "vehicleIdentifier") {
		t.Errorf("error message should name the offending field: %s", w.Body.String())
	}
	if calls.Load() != 0 {
		t.Error("validation failure must not reach the provider")
	}

	env.sink.Close()
	events, err := env.store.QueryUsage(context.Background(), models.UsageQueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("expected zero usage events after rejection, got %d", len(events))
	}
}

func TestGenerateRejectsMissingFields(t *testing.T) {
	var calls atomic.Int64
	upstream := fakeProvider(&calls, http.StatusOK)
	defer upstream.Close()

	env := setupGateway(t, upstream, nil)

	w := postGenerate(t, env.srv, "/api/generate-documentation", `{"vehicleIdentifier":"1HGBH41JXMN109186"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if calls.Load() != 0 {
		t.Error("validation failure must not reach the provider")
	}
}

func TestElevatedCeilingIndependentOfGeneralHeadroom(t *testing.T) {
	var calls atomic.Int64
	upstream := fakeProvider(&calls, http.StatusOK)
	defer upstream.Close()

	env := setupGateway(t, upstream, func(cfg *config.Config) {
		cfg.Rate.GeneralLimit = 100
		cfg.Rate.ElevatedLimit = 2
	})

	elevatedPath := env.cfg.Rate.ElevatedPrefix + "generate-documentation"
	for i := 0; i < 2; i++ {
		w := postGenerate(t, env.srv, elevatedPath, validBody)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
	}

	w := postGenerate(t, env.srv, elevatedPath, validBody)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 past elevated ceiling, got %d", w.Code)
	}
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body.ComplianceNote, "compliance") {
		t.Errorf("elevated rejection should carry a compliance note, got %q", body.ComplianceNote)
	}

	// General routes still have headroom.
	w = postGenerate(t, env.srv, "/api/generate-documentation", validBody)
	if w.Code != http.StatusOK {
		t.Errorf("general route should still pass, got %d", w.Code)
	}
}

func TestElevatedPathWritesAccessEvent(t *testing.T) {
	var calls atomic.Int64
	upstream := fakeProvider(&calls, http.StatusOK)
	defer upstream.Close()

	env := setupGateway(t, upstream, nil)

	body := `{"vehicleIdentifier":"1HGBH41JXMN109186","subsystem":"Brakes","notes":"pulsation on braking","authorization":{"caller":"auditor-17","authorized":true}}`
	w := postGenerate(t, env.srv, env.cfg.Rate.ElevatedPrefix+"generate-documentation", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	events, err := env.store.QueryAccess(context.Background(), models.AccessQueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 access event, got %d", len(events))
	}
	if events[0].Caller != "auditor-17" || !events[0].Authorized {
		t.Errorf("access event misattributed: %+v", events[0])
	}
}

func TestUnreachableAuditStoreDoesNotChangeResponse(t *testing.T) {
	var calls atomic.Int64
	upstream := fakeProvider(&calls, http.StatusOK)
	defer upstream.Close()

	env := setupGateway(t, upstream, nil)

	// Simulate the persistence backend going away.
	if err := env.store.Close(); err != nil {
		t.Fatal(err)
	}

	w := postGenerate(t, env.srv, env.cfg.Rate.ElevatedPrefix+"generate-documentation", validBody)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 despite audit failure, got %d: %s", w.Code, w.Body.String())
	}
	var resp generateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Content == "" {
		t.Errorf("response body degraded by audit failure: %+v", resp)
	}
}

func TestQuotaExhaustedMapsTo402(t *testing.T) {
	var calls atomic.Int64
	upstream := fakeProvider(&calls, http.StatusTooManyRequests)
	defer upstream.Close()

	env := setupGateway(t, upstream, nil)

	w := postGenerate(t, env.srv, "/api/generate-documentation", validBody)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", w.Code, w.Body.String())
	}
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "quota_exhausted" {
		t.Errorf("unexpected error category %q", body.Error)
	}
	if body.ComplianceNote == "" {
		t.Error("quota rejection should carry a compliance note")
	}

	env.sink.Close()
	events, err := env.store.QueryUsage(context.Background(), models.UsageQueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("failed generation must not record usage, got %d events", len(events))
	}
}

func TestUpstreamAuthMapsTo401(t *testing.T) {
	var calls atomic.Int64
	upstream := fakeProvider(&calls, http.StatusForbidden)
	defer upstream.Close()

	env := setupGateway(t, upstream, nil)

	w := postGenerate(t, env.srv, "/api/generate-documentation", validBody)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpstreamFailureDetailWithheldInProduction(t *testing.T) {
	var calls atomic.Int64
	upstream := fakeProvider(&calls, http.StatusInternalServerError)
	defer upstream.Close()

	env := setupGateway(t, upstream, func(cfg *config.Config) {
		cfg.Environment = "production"
	})

	w := postGenerate(t, env.srv, "/api/generate-documentation", validBody)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Detail != "" {
		t.Errorf("production failure body must not carry detail, got %q", body.Detail)
	}
}

func TestHealthReportsDependencies(t *testing.T) {
	var calls atomic.Int64
	upstream := fakeProvider(&calls, http.StatusOK)
	defer upstream.Close()

	env := setupGateway(t, upstream, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var health healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" {
		t.Errorf("expected ok status, got %q", health.Status)
	}
	for _, dep := range []string{"cache", "audit", "provider"} {
		if health.Dependencies[dep] == "" {
			t.Errorf("missing dependency status for %q", dep)
		}
	}
}

func TestComplianceStatusEndpoint(t *testing.T) {
	var calls atomic.Int64
	upstream := fakeProvider(&calls, http.StatusOK)
	defer upstream.Close()

	env := setupGateway(t, upstream, nil)

	w := postGenerate(t, env.srv, env.cfg.Rate.ElevatedPrefix+"generate-documentation", validBody)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	waitForUsage(t, env.store, 1)

	req := httptest.NewRequest(http.MethodGet, "/api/compliance/status", nil)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var snapshot models.ComplianceSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatal(err)
	}
	if snapshot.TotalAccesses != 1 {
		t.Errorf("expected 1 access attempt, got %d", snapshot.TotalAccesses)
	}
	if len(snapshot.Subsystems) == 0 {
		t.Error("expected subsystem breakdown")
	}
}

func TestExportRequiresBearerToken(t *testing.T) {
	var calls atomic.Int64
	upstream := fakeProvider(&calls, http.StatusOK)
	defer upstream.Close()

	env := setupGateway(t, upstream, nil)

	url := "/api/compliance/export?startDate=2026-08-01&endDate=2026-08-26"

	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	// Wrong secret.
	bad, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "auditor",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatal(err)
	}
	req = httptest.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("Authorization", "Bearer "+bad)
	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong secret, got %d", rec.Code)
	}

	good, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "auditor",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(env.cfg.ExportSecret))
	if err != nil {
		t.Fatal(err)
	}
	req = httptest.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("Authorization", "Bearer "+good)
	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d: %s", rec.Code, rec.Body.String())
	}
	var export models.ComplianceExport
	if err := json.Unmarshal(rec.Body.Bytes(), &export); err != nil {
		t.Fatal(err)
	}
	if export.StartDate != "2026-08-01" || export.EndDate != "2026-08-26" {
		t.Errorf("unexpected export range %q..%q", export.StartDate, export.EndDate)
	}
}

func TestExportRejectsBadRange(t *testing.T) {
	var calls atomic.Int64
	upstream := fakeProvider(&calls, http.StatusOK)
	defer upstream.Close()

	env := setupGateway(t, upstream, nil)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(env.cfg.ExportSecret))
	if err != nil {
		t.Fatal(err)
	}

	for _, url := range []string{
		"/api/compliance/export",
		"/api/compliance/export?startDate=2026-08-26&endDate=2026-08-01",
		"/api/compliance/export?startDate=nonsense&endDate=2026-08-26",
	} {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		env.srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", url, rec.Code)
		}
	}
}

func TestGenerateMethodNotAllowed(t *testing.T) {
	var calls atomic.Int64
	upstream := fakeProvider(&calls, http.StatusOK)
	defer upstream.Close()

	env := setupGateway(t, upstream, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/generate-documentation", nil)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
