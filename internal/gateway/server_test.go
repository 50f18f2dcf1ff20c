package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/stockd/internal/agents"
	"github.com/haasonsaas/stockd/internal/auth"
	"github.com/haasonsaas/stockd/internal/config"
	"github.com/haasonsaas/stockd/internal/hub"
	"github.com/haasonsaas/stockd/internal/infra"
	"github.com/haasonsaas/stockd/internal/scheduler"
	"github.com/haasonsaas/stockd/internal/storage"
	"github.com/haasonsaas/stockd/internal/workflow"
	"github.com/haasonsaas/stockd/pkg/models"
)

// echoAgent records its input context so tests can assert the agent ran.
type echoAgent struct{ name string }

func (a *echoAgent) Name() string { return a.name }

func (a *echoAgent) Run(ctx context.Context, state agents.State) (any, error) {
	return map[string]any{"ran": true}, nil
}

type testEnv struct {
	server *Server
	stores storage.StoreSet
	sched  *scheduler.Scheduler
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Auth: config.AuthConfig{
			JWTSecret:          "gateway-test-secret-key-0123456789",
			JWTAlgorithm:       "HS256",
			AccessTokenMinutes: 15,
			RefreshTokenDays:   7,
		},
		RateLimit:   config.RateLimitConfig{Enabled: false},
		Environment: config.EnvDevelopment,
	}
	if mutate != nil {
		mutate(cfg)
	}

	stores := storage.NewMemoryStores()
	issuer, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTAlgorithm, cfg.Auth.AccessTTL(), cfg.Auth.RefreshTTL())
	if err != nil {
		t.Fatal(err)
	}
	authSvc := auth.NewService(stores.Users, auth.NewSessionStore(client), issuer, nil)

	registry := agents.NewRegistry()
	if err := registry.Register(&echoAgent{name: "research"}); err != nil {
		t.Fatal(err)
	}
	engine := workflow.NewEngine(registry, stores.Workflows, stores.Executions, nil, workflow.Options{})
	sched := scheduler.New(stores.Workflows, engine, nil)

	server := NewServer(Deps{
		Config:    cfg,
		Auth:      authSvc,
		Engine:    engine,
		Scheduler: sched,
		Hub:       hub.New(authSvc, nil),
		Stores:    stores,
		Breakers:  infra.NewCircuitBreakerRegistry(infra.CircuitBreakerConfig{}),
	})
	return &testEnv{server: server, stores: stores, sched: sched}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func (e *testEnv) register(t *testing.T, email string) authResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/register", "", credentialsRequest{Email: email, Password: "P@ssword1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decodeBody[authResponse](t, rec)
}

func TestAuthRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.register(t, "alice@example.com")
	if resp.User == nil || resp.User.Email != "alice@example.com" {
		t.Fatalf("unexpected user in response: %+v", resp.User)
	}
	if resp.TokenType != "bearer" {
		t.Errorf("token_type = %q, want bearer", resp.TokenType)
	}

	me := env.do(t, http.MethodGet, "/auth/me", resp.AccessToken, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("me status = %d", me.Code)
	}
	snapshot := decodeBody[models.UserSnapshot](t, me)
	if snapshot.Email != "alice@example.com" {
		t.Errorf("me email = %q", snapshot.Email)
	}

	logout := env.do(t, http.MethodPost, "/auth/logout", "", refreshRequest{RefreshToken: resp.RefreshToken})
	if logout.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d", logout.Code)
	}

	// The refresh token is cryptographically valid but its session is gone.
	refresh := env.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: resp.RefreshToken})
	if refresh.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout status = %d", refresh.Code)
	}
	body := decodeBody[errorBody](t, refresh)
	if body.Error == nil || body.Error.Code != CodeSessionExpired {
		t.Errorf("expected SESSION_EXPIRED, got %+v", body.Error)
	}
	if body.CorrelationID == "" {
		t.Error("error body missing correlation_id")
	}
	if refresh.Header().Get("X-Correlation-ID") == "" {
		t.Error("missing X-Correlation-ID header")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "bob@example.com")

	rec := env.do(t, http.MethodPost, "/auth/register", "", credentialsRequest{Email: "bob@example.com", Password: "P@ssword1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	body := decodeBody[errorBody](t, rec)
	if body.Error.Code != CodeDuplicateEmail {
		t.Errorf("code = %q, want DUPLICATE_EMAIL", body.Error.Code)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "carol@example.com")

	rec := env.do(t, http.MethodPost, "/auth/login", "", credentialsRequest{Email: "carol@example.com", Password: "nope-nope"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	body := decodeBody[errorBody](t, rec)
	if body.Error.Code != CodeInvalidCredentials {
		t.Errorf("code = %q, want INVALID_CREDENTIALS", body.Error.Code)
	}
	if body.Error.Retryable {
		t.Error("credential failures are not retryable")
	}
}

func TestProtectedEndpointsRequireAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/workflows", "/alerts", "/notifications"} {
		rec := env.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want 401", path, rec.Code)
		}
	}

	rec := env.do(t, http.MethodGet, "/workflows", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token status = %d, want 401", rec.Code)
	}
	body := decodeBody[errorBody](t, rec)
	if body.Error.Code != CodeTokenInvalid {
		t.Errorf("code = %q, want TOKEN_INVALID", body.Error.Code)
	}
}

func TestWorkflowLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.register(t, "dave@example.com")

	created := env.do(t, http.MethodPost, "/workflows", user.AccessToken, createWorkflowRequest{
		Name: "Research",
		Mode: models.ModeSequential,
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeAgent, Agent: "research", IsEntry: true, IsFinish: true},
		},
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", created.Code, created.Body.String())
	}
	def := decodeBody[models.WorkflowDefinition](t, created)
	if def.ID == "" || !def.IsActive {
		t.Fatalf("unexpected definition: %+v", def)
	}

	list := env.do(t, http.MethodGet, "/workflows", user.AccessToken, nil)
	if list.Code != http.StatusOK {
		t.Fatalf("list status = %d", list.Code)
	}

	executed := env.do(t, http.MethodPost, "/workflows/"+def.ID+"/execute", user.AccessToken, executeWorkflowRequest{Wait: true})
	if executed.Code != http.StatusOK {
		t.Fatalf("execute status = %d, body %s", executed.Code, executed.Body.String())
	}
	exec := decodeBody[models.WorkflowExecution](t, executed)
	if exec.Status != models.ExecutionCompleted || exec.Progress != 100 {
		t.Fatalf("execution = %+v", exec)
	}
	if _, ok := exec.Results["research"]; !ok {
		t.Errorf("results missing research key: %v", exec.Results)
	}

	status := env.do(t, http.MethodGet, "/executions/"+exec.ID, user.AccessToken, nil)
	if status.Code != http.StatusOK {
		t.Fatalf("get execution status = %d", status.Code)
	}

	// A different user cannot see it.
	other := env.register(t, "eve@example.com")
	foreign := env.do(t, http.MethodGet, "/executions/"+exec.ID, other.AccessToken, nil)
	if foreign.Code != http.StatusNotFound {
		t.Errorf("foreign execution status = %d, want 404", foreign.Code)
	}
}

func TestWorkflowValidationErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.register(t, "frank@example.com")

	rec := env.do(t, http.MethodPost, "/workflows", user.AccessToken, createWorkflowRequest{
		Name:  "broken",
		Nodes: []models.Node{{ID: "a", Type: models.NodeAgent, Agent: "no_such_agent", IsEntry: true, IsFinish: true}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[errorBody](t, rec)
	if body.Error.Code != CodeInvalidInput {
		t.Errorf("code = %q, want INVALID_INPUT", body.Error.Code)
	}

	rec = env.do(t, http.MethodPost, "/workflows", user.AccessToken, createWorkflowRequest{Template: "no_such_template"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown template status = %d, want 400", rec.Code)
	}
}

func TestScheduleWorkflow(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.register(t, "grace@example.com")
	env.sched.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = env.sched.Stop(ctx)
	})

	created := env.do(t, http.MethodPost, "/workflows", user.AccessToken, createWorkflowRequest{
		Name: "nightly",
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeAgent, Agent: "research", IsEntry: true, IsFinish: true},
		},
	})
	def := decodeBody[models.WorkflowDefinition](t, created)

	scheduled := env.do(t, http.MethodPost, "/workflows/"+def.ID+"/schedule", user.AccessToken, scheduleRequest{Cron: "*/5 * * * *"})
	if scheduled.Code != http.StatusOK {
		t.Fatalf("schedule status = %d, body %s", scheduled.Code, scheduled.Body.String())
	}

	jobs := env.sched.ListJobs()
	jobID := fmt.Sprintf("workflow_%s", def.ID)
	info, ok := jobs[jobID]
	if !ok {
		t.Fatalf("job %s not listed: %v", jobID, jobs)
	}
	if until := time.Until(info.NextRun); until <= 0 || until > 5*time.Minute {
		t.Errorf("next run %v not within 5 minutes", info.NextRun)
	}

	bad := env.do(t, http.MethodPost, "/workflows/"+def.ID+"/schedule", user.AccessToken, scheduleRequest{Cron: "not a cron"})
	if bad.Code != http.StatusBadRequest {
		t.Errorf("bad cron status = %d, want 400", bad.Code)
	}

	unscheduled := env.do(t, http.MethodDelete, "/workflows/"+def.ID+"/schedule", user.AccessToken, nil)
	if unscheduled.Code != http.StatusNoContent {
		t.Fatalf("unschedule status = %d", unscheduled.Code)
	}
	if _, ok := env.sched.ListJobs()[jobID]; ok {
		t.Error("job still listed after unschedule")
	}
	stored, err := env.stores.Workflows.Get(context.Background(), def.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.IsActive {
		t.Error("definition still active after unschedule")
	}
}

func TestAlertCRUD(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.register(t, "heidi@example.com")

	created := env.do(t, http.MethodPost, "/alerts", user.AccessToken, createAlertRequest{
		Ticker:      "aapl",
		Condition:   models.AlertAbove,
		TargetPrice: 150,
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("create alert status = %d, body %s", created.Code, created.Body.String())
	}
	alert := decodeBody[models.Alert](t, created)
	if alert.Ticker != "AAPL" {
		t.Errorf("ticker = %q, want AAPL", alert.Ticker)
	}
	if len(alert.Channels) != 1 || alert.Channels[0] != models.ChannelInApp {
		t.Errorf("channels = %v, want default in-app", alert.Channels)
	}

	for _, tc := range []createAlertRequest{
		{Ticker: "", Condition: models.AlertAbove, TargetPrice: 1},
		{Ticker: "AAPL", Condition: "sideways", TargetPrice: 1},
		{Ticker: "AAPL", Condition: models.AlertBelow, TargetPrice: 0},
		{Ticker: "AAPL", Condition: models.AlertBelow, TargetPrice: 1, Channels: []models.AlertChannel{"fax"}},
	} {
		rec := env.do(t, http.MethodPost, "/alerts", user.AccessToken, tc)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("invalid alert %+v status = %d, want 400", tc, rec.Code)
		}
	}

	list := env.do(t, http.MethodGet, "/alerts", user.AccessToken, nil)
	listed := decodeBody[map[string][]models.Alert](t, list)
	if len(listed["alerts"]) != 1 {
		t.Fatalf("alerts = %v", listed)
	}

	// Another user cannot delete it.
	other := env.register(t, "ivan@example.com")
	foreign := env.do(t, http.MethodDelete, "/alerts/"+alert.ID, other.AccessToken, nil)
	if foreign.Code != http.StatusNotFound {
		t.Errorf("foreign delete status = %d, want 404", foreign.Code)
	}

	deleted := env.do(t, http.MethodDelete, "/alerts/"+alert.ID, user.AccessToken, nil)
	if deleted.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", deleted.Code)
	}
}

func TestRateLimiting(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, BurstSize: 2}
	})

	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		last = env.do(t, http.MethodGet, "/healthz", "", nil)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	body := decodeBody[errorBody](t, last)
	if body.Error.Code != CodeRateLimited || !body.Error.Retryable {
		t.Errorf("error = %+v, want retryable RATE_LIMITED", body.Error)
	}
}

func TestRateLimitKeyedByAuthenticatedUser(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, BurstSize: 2}
	})
	alice := env.register(t, "alice@example.com")
	bob := env.register(t, "bob@example.com")

	// Alice exhausts her bucket on the endpoint.
	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		last = env.do(t, http.MethodGet, "/alerts", alice.AccessToken, nil)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}

	// Bob shares the remote host but not the bucket.
	rec := env.do(t, http.MethodGet, "/alerts", bob.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status for second user = %d, want 200", rec.Code)
	}
}

func TestProductionSecureHeaders(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Environment = config.EnvProduction
	})

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("missing HSTS header in production")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header in production")
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.CORSOrigins = []string{"https://app.example.com"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allow-origin = %q", got)
	}

	// Unlisted origins get no CORS headers.
	req = httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin should not be allowed")
	}
}

func TestHealthzReportsBreakers(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.breakers.Get("stock-data")

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	health := decodeBody[healthResponse](t, rec)
	if health.Status != "ok" {
		t.Errorf("status = %q", health.Status)
	}
	if len(health.Breakers) != 1 || health.Breakers[0].Name != "stock-data" {
		t.Errorf("breakers = %+v", health.Breakers)
	}
}
