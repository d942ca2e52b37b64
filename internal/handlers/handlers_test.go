package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflowai/caseflow/internal/auth"
	"github.com/caseflowai/caseflow/internal/cases"
	"github.com/caseflowai/caseflow/internal/extract"
	"github.com/caseflowai/caseflow/internal/handlers"
	"github.com/caseflowai/caseflow/internal/mail"
	"github.com/caseflowai/caseflow/internal/orchestrator"
	"github.com/caseflowai/caseflow/internal/server"
	"github.com/caseflowai/caseflow/internal/templates"
	"github.com/caseflowai/caseflow/internal/workflow"
)

type stubSender struct {
	sent []mail.OutboundMessage
}

func (s *stubSender) Send(_ context.Context, msg mail.OutboundMessage) (mail.Receipt, error) {
	s.sent = append(s.sent, msg)
	id := fmt.Sprintf("out-%d@caseflow.example", len(s.sent))
	threadID := msg.ThreadID
	if threadID == "" {
		threadID = id
	}
	return mail.Receipt{MessageID: id, ThreadID: threadID}, nil
}

type stubExtractor struct {
	fields map[string]cases.FieldValue
}

func (s *stubExtractor) ExtractFields(context.Context, []workflow.FieldSpec, string) (map[string]cases.FieldValue, error) {
	return s.fields, nil
}

func (s *stubExtractor) ClassifyIntent(context.Context, string) (extract.Intent, error) {
	return extract.IntentAnswer, nil
}

func (s *stubExtractor) IsInitiation(context.Context, string) (bool, error) {
	return false, nil
}

type env struct {
	srv    *server.Server
	store  cases.Store
	sender *stubSender
}

func newEnv(t *testing.T, jwtSecret string) *env {
	return newEnvWithLogger(t, jwtSecret, slog.Default())
}

func newEnvWithLogger(t *testing.T, jwtSecret string, log *slog.Logger) *env {
	t.Helper()
	registry := workflow.NewRegistry()
	store := cases.NewMemoryStore(registry.NewCase)
	sender := &stubSender{}

	executor := orchestrator.NewExecutor(store, registry, templates.NewRenderer(registry), sender, log)
	orch := orchestrator.New(log, orchestrator.Deps{
		Store:       store,
		Registry:    registry,
		Engine:      workflow.NewEngine(registry),
		Executor:    executor,
		Extractor:   &stubExtractor{fields: map[string]cases.FieldValue{}},
		Tracker:     orchestrator.NewTracker(nil, log),
		SelfAddress: "agent@caseflow.example",
	})

	srv := server.New(log, ":0", jwtSecret,
		handlers.NewHealthHandler(log, orch, time.Minute, 5),
		handlers.NewCasesHandler(log, store, orch, nil, nil),
		handlers.NewWebhookHandler(log, mail.NewRegistry(), orch),
	)
	return &env{srv: srv, store: store, sender: sender}
}

func (e *env) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	e := newEnv(t, "")

	rec := e.do(t, http.MethodGet, "/ping", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "healthy", got["status"])
	assert.Equal(t, "caseflow", got["service"])
	assert.Contains(t, got, "counters")
}

func TestInitiateEndpoint(t *testing.T) {
	e := newEnv(t, "")

	rec := e.do(t, http.MethodPost, "/api/v1/initiate", `{"employee_email":"jane@acme.com"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "jane@acme.com", got["employee_email"])
	assert.Equal(t, string(workflow.ActionSendInitialRequest), got["action"])
	assert.Len(t, e.sender.sent, 1)

	_, ok, err := e.store.Get(context.Background(), "jane@acme.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInitiateRejectsBadAddress(t *testing.T) {
	e := newEnv(t, "")

	rec := e.do(t, http.MethodPost, "/api/v1/initiate", `{"employee_email":"not-an-email"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/initiate", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessEmailDirectInjection(t *testing.T) {
	e := newEnv(t, "")

	_, err := e.store.Create(context.Background(), "jane@acme.com")
	require.NoError(t, err)

	body := `{"from":"jane@acme.com","subject":"Re: details","body":"nothing useful"}`
	rec := e.do(t, http.MethodPost, "/api/v1/process/email", body, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	result, ok := got["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(orchestrator.StatusProcessed), result["status"])
}

func TestProcessEmailWithoutMailboxFails(t *testing.T) {
	e := newEnv(t, "")

	rec := e.do(t, http.MethodPost, "/api/v1/process/email", `{}`, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "no poller wired, mailbox sweep unavailable")

	rec = e.do(t, http.MethodPost, "/api/v1/process/email", `{"message_id":"msg-1@acme.com"}`, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "no message reader wired, lookup unavailable")
}

func TestStateEndpoints(t *testing.T) {
	e := newEnv(t, "")

	_, err := e.store.Create(context.Background(), "jane@acme.com")
	require.NoError(t, err)

	rec := e.do(t, http.MethodGet, "/api/v1/state", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, float64(1), list["total_cases"])

	rec = e.do(t, http.MethodGet, "/api/v1/state/jane@acme.com", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/state/nobody@acme.com", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookWithoutAdapter(t *testing.T) {
	e := newEnv(t, "")

	rec := e.do(t, http.MethodPost, "/webhooks/mailgun", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJWTGuardsAPI(t *testing.T) {
	secret := "test-secret"
	e := newEnv(t, secret)

	// Probes stay open.
	rec := e.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// API routes need a token.
	rec = e.do(t, http.MethodGet, "/api/v1/state", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, _, err := auth.GenerateToken("ops", secret, time.Hour)
	require.NoError(t, err)
	rec = e.do(t, http.MethodGet, "/api/v1/state", "", token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInitiateLogsAuthenticatedCaller(t *testing.T) {
	secret := "test-secret"
	var buf bytes.Buffer
	e := newEnvWithLogger(t, secret, slog.New(slog.NewJSONHandler(&buf, nil)))

	token, _, err := auth.GenerateToken("ops", secret, time.Hour)
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/api/v1/initiate", `{"employee_email":"jane@acme.com"}`, token)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, buf.String(), `"requested_by":"ops"`)
	assert.Contains(t, buf.String(), `"employee_email":"jane@acme.com"`)
}
