package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/account"
	accountrepo "github.com/ovaphlow/pitchfork/service-tracker-go/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/audit"
	auditentity "github.com/ovaphlow/pitchfork/service-tracker-go/internal/audit/entity"
	auditrepo "github.com/ovaphlow/pitchfork/service-tracker-go/internal/audit/repo"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/catalog"
	catalogentity "github.com/ovaphlow/pitchfork/service-tracker-go/internal/catalog/entity"
	catalogrepo "github.com/ovaphlow/pitchfork/service-tracker-go/internal/catalog/repo"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/gate"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/progress"
	progressentity "github.com/ovaphlow/pitchfork/service-tracker-go/internal/progress/entity"
	progressrepo "github.com/ovaphlow/pitchfork/service-tracker-go/internal/progress/repo"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-tracker-go/pkg/utilities"
)

const prefix = "/tracker-api"

type testServer struct {
	t       *testing.T
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop().Sugar()
	metrics := utilities.NewMetrics(prometheus.NewRegistry())
	tokens, err := token.NewService(token.Config{Secret: "router-test", ExpiresIn: "1h"})
	require.NoError(t, err)

	auditSvc := audit.NewService(auditrepo.NewMemoryRepo(), logger, metrics)
	accountSvc := account.NewService(accountrepo.NewMemoryRepo(), account.BcryptHasher{Cost: bcrypt.MinCost}, tokens, auditSvc, logger)
	catalogSvc := catalog.NewService(catalogrepo.NewMemoryRepo(), auditSvc, logger)
	progressSvc := progress.NewService(progressrepo.NewMemoryRepo(), catalogSvc, progress.Config{BatchMax: 3}, logger, metrics)

	require.NoError(t, accountSvc.Bootstrap(context.Background(), account.BootstrapConfig{
		Email: "root@example.com", Password: "root-password", Name: "Root",
	}))

	cfg := Config{Prefix: prefix, LookupTimeout: time.Second, BatchMax: 3}
	h := RegisterRoutes(cfg, Services{
		Accounts: accountSvc,
		Catalog:  catalogSvc,
		Progress: progressSvc,
		Audit:    auditSvc,
		Gate:     gate.New(tokens, accountSvc, cfg.LookupTimeout, logger, metrics),
		Metrics:  metrics,
	}, logger)
	return &testServer{t: t, handler: h}
}

func (s *testServer) do(method, path, bearer string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, prefix+path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) login(email, password string) account.AuthResult {
	rec := s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[account.AuthResult](s.t, rec)
}

func (s *testServer) register(email string) account.AuthResult {
	rec := s.do(http.MethodPost, "/auth/register", "", map[string]string{"name": "User", "email": email, "password": "user-password"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[account.AuthResult](s.t, rec)
}

func (s *testServer) createProblem(bearer, title string) catalogentity.Problem {
	rec := s.do(http.MethodPost, "/problems", bearer, map[string]string{"title": title, "difficulty": "medium"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[catalogentity.Problem](s.t, rec)
}

func TestHealthAndHeaders(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tracker_http_requests_total")
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	user := s.register("user@example.com")

	rec := s.do(http.MethodGet, "/auth/me", user.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[map[string]any](t, rec)
	assert.Equal(t, "user@example.com", me["email"])
	assert.NotContains(t, me, "password_hash")

	rec = s.do(http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "user@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/auth/register", "", map[string]string{"name": "Again", "email": "USER@example.com", "password": "user-password"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPut, "/auth/password", user.Token, map[string]string{"current_password": "wrong-one", "new_password": "next-password"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodPut, "/auth/password", user.Token, map[string]string{"current_password": "user-password", "new_password": "next-password"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	s.login("user@example.com", "next-password")
}

func TestProgressScenario(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("root@example.com", "root-password")
	user := s.register("learner@example.com")
	p1 := s.createProblem(admin.Token, "Two Sum")
	p2 := s.createProblem(admin.Token, "Three Sum")

	// standard accounts cannot edit content
	rec := s.do(http.MethodPost, "/problems", user.Token, map[string]string{"title": "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// idempotent completion
	rec = s.do(http.MethodPost, "/progress/"+p1.ID+"/complete", user.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[progressentity.Record](t, rec)
	rec = s.do(http.MethodPost, "/progress/"+p1.ID+"/complete", user.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[progressentity.Record](t, rec)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, progressentity.StatusCompleted, second.Status)

	// reset with nothing recorded
	rec = s.do(http.MethodPost, "/progress/"+p2.ID+"/reset", user.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reset := decode[progress.ResetResponse](t, rec)
	assert.False(t, reset.Reset)
	assert.Nil(t, reset.Record)

	// batch with an unknown problem is rejected whole
	rec = s.do(http.MethodPost, "/progress/batch", user.Token, map[string]any{"items": []map[string]string{
		{"problem_id": p2.ID, "status": "completed"},
		{"problem_id": "ghost", "status": "completed"},
	}})
	require.Equal(t, http.StatusPreconditionFailed, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, utilities.CodePreconditionFailed, body["error"])
	assert.Equal(t, []any{"ghost"}, body["details"].(map[string]any)["problem_ids"])

	rec = s.do(http.MethodGet, "/progress", user.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]progressentity.Record](t, rec), 1)

	// batch over the limit
	rec = s.do(http.MethodPost, "/progress/batch", user.Token, map[string]any{"items": []map[string]string{
		{"problem_id": p1.ID, "status": "completed"}, {"problem_id": p1.ID, "status": "completed"},
		{"problem_id": p1.ID, "status": "completed"}, {"problem_id": p1.ID, "status": "completed"},
	}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, "/progress/"+p2.ID, user.Token, map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/progress/summary", user.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, progressentity.Summary{Completed: 2, NotStarted: 0, TotalActive: 2}, decode[progressentity.Summary](t, rec))

	// retired problems refuse new progress
	rec = s.do(http.MethodDelete, "/problems/"+p2.ID, admin.Token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodPost, "/progress/"+p2.ID+"/complete", user.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// public listing, anonymous and personalised
	rec = s.do(http.MethodGet, "/problems", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	anon := decode[[]map[string]any](t, rec)
	require.Len(t, anon, 1)
	assert.NotContains(t, anon[0], "status")

	rec = s.do(http.MethodGet, "/problems", user.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[[]map[string]any](t, rec)
	require.Len(t, mine, 1)
	assert.Equal(t, "completed", mine[0]["status"])
}

func TestDemotionTakesEffectOnNextRequest(t *testing.T) {
	s := newTestServer(t)
	root := s.login("root@example.com", "root-password")
	other := s.register("second@example.com")

	rec := s.do(http.MethodPost, "/accounts/"+other.Account.ID+"/promote", root.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// the token issued at registration still says "standard" but the stored role wins
	s.createProblem(other.Token, "Allowed now")

	rec = s.do(http.MethodPost, "/accounts/"+other.Account.ID+"/demote", root.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/problems", other.Token, map[string]string{"title": "Not anymore"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// self-demotion is refused
	rec = s.do(http.MethodPost, "/accounts/"+root.Account.ID+"/demote", root.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// deactivation ends every session immediately
	rec = s.do(http.MethodPost, "/accounts/"+other.Account.ID+"/deactivate", root.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, "/auth/me", other.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// the audit trail holds promote, demote and deactivate for that account
	rec = s.do(http.MethodGet, "/audit/entities/account/"+other.Account.ID, root.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]auditentity.Entry](t, rec)
	require.Len(t, history, 3)
	assert.Equal(t, auditentity.ActionAccountPromote, history[0].Action)
	assert.Equal(t, root.Account.ID, history[0].ActorID)
	assert.Equal(t, auditentity.ActionAccountDeactivate, history[2].Action)

	rec = s.do(http.MethodGet, "/audit/actors/"+root.Account.ID+"?limit=2", root.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]auditentity.Entry](t, rec), 2)

	rec = s.do(http.MethodGet, "/audit/recent", other.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuditRange(t *testing.T) {
	s := newTestServer(t)
	root := s.login("root@example.com", "root-password")
	s.createProblem(root.Token, "Logged")

	from := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	to := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rec := s.do(http.MethodGet, "/audit/range?from="+from+"&to="+to, root.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]auditentity.Entry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, auditentity.ActionContentCreate, entries[0].Action)

	rec = s.do(http.MethodGet, "/audit/range?from="+to+"&to="+from, root.Token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodGet, "/audit/range?from=yesterday", root.Token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("API_PREFIX", "api/v1/")
	t.Setenv("AUTH_LOOKUP_TIMEOUT", "750ms")
	t.Setenv("PROGRESS_BATCH_MAX", "oops")
	cfg := ConfigFromEnv()
	assert.Equal(t, "0.0.0.0:8431", cfg.Addr)
	assert.Equal(t, "/api/v1", cfg.Prefix)
	assert.Equal(t, 750*time.Millisecond, cfg.LookupTimeout)
	assert.Equal(t, progress.DefaultBatchMax, cfg.BatchMax)
}
