package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"roastline/internal/ai"
	"roastline/internal/backend/memory"
	"roastline/internal/domain"
	"roastline/internal/metrics"
	"roastline/internal/schedule"
)

const testSecret = "test-secret"

var testNow = time.Date(2025, 1, 8, 9, 30, 0, 0, time.UTC)

type testServer struct {
	URL     string
	client  *http.Client
	close   func()
	backend *memory.Backend
	token   string
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func (s *testServer) auth() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.token}
}

type stubLedger struct{}

func (stubLedger) CurrentInventory(_ context.Context, now time.Time) (domain.Inventory, error) {
	return domain.Inventory{
		Roasted: []domain.RoastedCoffee{{Name: "Yirga Light", Quantity: 850, RoastDate: "2025-01-03", AgeDays: 5}},
		Green:   []domain.GreenCoffee{},
	}, nil
}

type stubCompleter struct {
	reply string
	err   error
}

func (s stubCompleter) Complete(context.Context, ai.Prompt) (string, error) { return s.reply, s.err }

type serverOption func(*Config)

func newTestServer(t *testing.T, opts ...serverOption) (*testServer, func()) {
	t.Helper()
	backend := memory.New()
	store := schedule.New(backend)
	store.Now = func() time.Time { return testNow }
	n := 0
	store.IDs = schedule.IDFunc(func() (string, error) {
		n++
		return fmt.Sprintf("roast-%03d", n), nil
	})
	cfg := Config{
		Schedule:  metrics.Instrumented{Next: store, C: metrics.NewCollectors()},
		Inventory: stubLedger{},
		AI:        ai.Service{Completer: stubCompleter{reply: "```json\n{\"dose_grams\": 15}\n```"}},
		BasePath:  "/v0",
		Auth:      AuthConfig{JWTSecret: testSecret, EnableDevLogin: true},
		Now:       func() time.Time { return testNow },
	}
	cfg.Metrics = cfg.Schedule.(metrics.Instrumented).C
	for _, opt := range opts {
		opt(&cfg)
	}
	handler, err := New(cfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	token, err := SignToken(testSecret, "roaster@example.com", []string{"roaster"}, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	testSrv := &testServer{
		URL:     "http://" + ln.Addr().String(),
		client:  &http.Client{},
		backend: backend,
		token:   token,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func roastPayload(name, date string) map[string]any {
	return map[string]any{
		"coffee_name":        name,
		"green_coffee_name":  "Ethiopia Yirgacheffe",
		"scheduled_date":     date,
		"green_weight":       2500,
		"target_roast_level": "light",
		"equipment_id":       "probat-1",
	}
}

func createRoast(t *testing.T, srv *testServer, name, date string) domain.ScheduledRoast {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/schedule", roastPayload(name, date), srv.auth())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created domain.ScheduledRoast
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal roast: %v", err)
	}
	return created
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestScheduleLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createRoast(t, srv, "Morning Light", "2025-01-10")
	if created.ID != "roast-001" || created.Priority != domain.PriorityMedium || created.Completed {
		t.Fatalf("unexpected created roast: %+v", created)
	}

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/schedule/"+created.ID, map[string]any{
		"notes":    "watch first crack",
		"priority": "high",
	}, srv.auth())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(data))
	}
	var updated domain.ScheduledRoast
	_ = json.Unmarshal(data, &updated)
	if updated.Notes != "watch first crack" || updated.Priority != domain.PriorityHigh || updated.CreatedAt != created.CreatedAt {
		t.Fatalf("unexpected update: %+v", updated)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/schedule/"+created.ID+"/complete", map[string]any{
		"outcome": map[string]any{"roasted_weight": 2150},
	}, srv.auth())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	var done domain.ScheduledRoast
	_ = json.Unmarshal(data, &done)
	if !done.Completed || done.CompletedDate == nil {
		t.Fatalf("expected completed roast, got %+v", done)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/schedule/"+created.ID, nil, srv.auth())
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/schedule/"+created.ID, nil, srv.auth())
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("expected not_found after delete, got %d %s", res.StatusCode, string(data))
	}
}

func TestUpcomingAndOverdue(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createRoast(t, srv, "Late", "2025-01-05")
	createRoast(t, srv, "Today", "2025-01-08")
	createRoast(t, srv, "Soon", "2025-01-12")
	createRoast(t, srv, "Far", "2025-01-20")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/schedule/overdue", nil, srv.auth())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("overdue status %d: %s", res.StatusCode, string(data))
	}
	var overdue []domain.ScheduledRoast
	_ = json.Unmarshal(data, &overdue)
	if len(overdue) != 1 || overdue[0].CoffeeName != "Late" {
		t.Fatalf("unexpected overdue: %+v", overdue)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/schedule/upcoming?now=2025-01-08", nil, srv.auth())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("upcoming status %d: %s", res.StatusCode, string(data))
	}
	var upcoming []domain.ScheduledRoast
	_ = json.Unmarshal(data, &upcoming)
	if len(upcoming) != 2 || upcoming[0].CoffeeName != "Today" || upcoming[1].CoffeeName != "Soon" {
		t.Fatalf("unexpected upcoming: %+v", upcoming)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/schedule/upcoming?now=yesterday", nil, srv.auth())
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad now, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/schedule", nil, srv.auth())
	var all []domain.ScheduledRoast
	_ = json.Unmarshal(data, &all)
	if res.StatusCode != http.StatusOK || len(all) != 4 || all[0].CoffeeName != "Late" || all[3].CoffeeName != "Far" {
		t.Fatalf("unexpected list %d: %s", res.StatusCode, string(data))
	}
}

func TestValidationErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	bad := roastPayload("Bad", "2025-01-10")
	bad["green_weight"] = 0
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/schedule", bad, srv.auth())
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "bad_request" {
		t.Fatalf("expected bad_request, got %d %s", res.StatusCode, string(data))
	}

	missing := roastPayload("Missing", "2025-01-10")
	delete(missing, "equipment_id")
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/schedule", missing, srv.auth())
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing field, got %d %s", res.StatusCode, string(data))
	}
	if srv.backend.Saves != 0 {
		t.Fatalf("rejected requests must not write, got %d saves", srv.backend.Saves)
	}
}

func TestStrictCompletionConflict(t *testing.T) {
	backend := memory.New()
	store := schedule.New(backend)
	store.StrictCompletion = true
	srv, cleanup := newTestServer(t, func(c *Config) { c.Schedule = store })
	defer cleanup()

	created := createRoast(t, srv, "Once", "2025-01-10")
	url := srv.URL + "/v0/schedule/" + created.ID + "/complete"
	if res, data := doJSON(t, srv.Client(), http.MethodPost, url, nil, srv.auth()); res.StatusCode != http.StatusOK {
		t.Fatalf("first complete %d: %s", res.StatusCode, string(data))
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, url, nil, srv.auth())
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "conflict" {
		t.Fatalf("expected conflict, got %d %s", res.StatusCode, string(data))
	}
}

func TestPersistenceFailure(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	srv.backend.SaveErr = fmt.Errorf("disk full")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/schedule", roastPayload("Doomed", "2025-01-10"), srv.auth())
	if res.StatusCode != http.StatusInternalServerError || errorCode(t, data) != "persistence_failed" {
		t.Fatalf("expected persistence_failed, got %d %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/schedule", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("expected unauthorized, got %d %s", res.StatusCode, string(data))
	}
	forged, _ := SignToken("other-secret", "mallory", nil, time.Hour)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/schedule", nil, map[string]string{"Authorization": "Bearer " + forged})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, srv.auth())
	var me WhoAmIResponse
	_ = json.Unmarshal(data, &me)
	if res.StatusCode != http.StatusOK || me.Subject != "roaster@example.com" || me.Source != "jwt" {
		t.Fatalf("unexpected me %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be public, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"subject": "dev"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	_ = json.Unmarshal(data, &login)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/schedule", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev token rejected: %d %s", res.StatusCode, string(data))
	}
}

func TestInventoryAndAI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/inventory", nil, srv.auth())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("inventory status %d: %s", res.StatusCode, string(data))
	}
	var inv domain.Inventory
	_ = json.Unmarshal(data, &inv)
	if len(inv.Roasted) != 1 || inv.Roasted[0].AgeDays != 5 {
		t.Fatalf("unexpected inventory: %+v", inv)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/ai/brew-recommendation", map[string]any{
		"coffee_name": "Yirga Light",
		"brew_method": "V60",
		"age_days":    5,
	}, srv.auth())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("brew status %d: %s", res.StatusCode, string(data))
	}
	var rec AIResponse
	_ = json.Unmarshal(data, &rec)
	if rec.ParseError || rec.Recommendation["dose_grams"] != float64(15) {
		t.Fatalf("unexpected recommendation: %+v", rec)
	}
}

func TestAINotConfigured(t *testing.T) {
	srv, cleanup := newTestServer(t, func(c *Config) { c.AI = ai.Service{} })
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/ai/roast-recommendation", map[string]any{
		"green_coffee_name": "Brazil Cerrado",
	}, srv.auth())
	if res.StatusCode != http.StatusServiceUnavailable || errorCode(t, data) != "not_configured" {
		t.Fatalf("expected not_configured, got %d %s", res.StatusCode, string(data))
	}
}

func TestAIUpstreamFailureMessage(t *testing.T) {
	srv, cleanup := newTestServer(t, func(c *Config) {
		c.AI = ai.Service{Completer: stubCompleter{err: errors.New("rate limited")}}
	})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/ai/brew-recommendation", map[string]any{
		"coffee_name": "Yirga Light",
		"brew_method": "V60",
	}, srv.auth())
	if res.StatusCode != http.StatusInternalServerError || errorCode(t, data) != "upstream_failed" {
		t.Fatalf("expected upstream_failed, got %d %s", res.StatusCode, string(data))
	}
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	_ = json.Unmarshal(data, &env)
	if env.Error.Message != "ai upstream failed: rate limited" {
		t.Fatalf("unexpected message %q", env.Error.Message)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createRoast(t, srv, "Counted", "2025-01-10")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if !strings.Contains(string(data), `roastline_schedule_operations_total{op="create",result="ok"} 1`) {
		t.Fatalf("create not counted:\n%s", string(data))
	}
}
