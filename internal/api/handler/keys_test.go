package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/lidorpahima/llmshield/internal/api/middleware"
	"github.com/lidorpahima/llmshield/internal/gateway"
	"github.com/lidorpahima/llmshield/internal/keys"
	"github.com/lidorpahima/llmshield/internal/store"
	"github.com/lidorpahima/llmshield/pkg/models"
)

const testOwner = "user_2x1KeysHandlerOwner"

func testMapping(id uuid.UUID) *models.CredentialMapping {
	return &models.CredentialMapping{
		ID:         id,
		GatewayKey: "sk-shield-aaaabbbbccccddddeeeeffffgggghhhh",
		OwnerID:    testOwner,
		Provider:   "openai",
		Model:      "gpt-4o",
		Secret:     "sk-real-upstream-secret",
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// --- mock Lifecycle ---

type mockLifecycle struct {
	createFn func(p keys.CreateParams) (*keys.CreateResult, error)
	updateFn func(p keys.UpdateParams) (*keys.UpdateResult, error)
	deleteFn func(ownerID string, id uuid.UUID) (keys.SyncOutcome, error)
	getFn    func(ownerID string, id uuid.UUID) (*models.CredentialMapping, error)
	listFn   func(ownerID string) ([]*models.CredentialMapping, error)
}

func (m *mockLifecycle) Create(_ context.Context, p keys.CreateParams) (*keys.CreateResult, error) {
	return m.createFn(p)
}

func (m *mockLifecycle) Update(_ context.Context, p keys.UpdateParams) (*keys.UpdateResult, error) {
	return m.updateFn(p)
}

func (m *mockLifecycle) Delete(_ context.Context, ownerID string, id uuid.UUID) (keys.SyncOutcome, error) {
	return m.deleteFn(ownerID, id)
}

func (m *mockLifecycle) Get(_ context.Context, ownerID string, id uuid.UUID) (*models.CredentialMapping, error) {
	return m.getFn(ownerID, id)
}

func (m *mockLifecycle) List(_ context.Context, ownerID string) ([]*models.CredentialMapping, error) {
	return m.listFn(ownerID)
}

// --- helpers ---

func withOwner(r *http.Request) *http.Request {
	return r.WithContext(mw.SetOwnerID(r.Context(), testOwner))
}

func withKeyID(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("keyID", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func jsonReq(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	b, _ := json.Marshal(body)
	r := httptest.NewRequest(method, target, bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	return withOwner(r)
}

func parseData(t *testing.T, rec *httptest.ResponseRecorder, want int) map[string]any {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Data
}

func parseErr(t *testing.T, rec *httptest.ResponseRecorder) (int, string) {
	t.Helper()
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, env.Error.Code
}

// --- create ---

func TestCreateKeyHandler_Success(t *testing.T) {
	id := uuid.New()
	var captured keys.CreateParams
	mock := &mockLifecycle{createFn: func(p keys.CreateParams) (*keys.CreateResult, error) {
		captured = p
		return &keys.CreateResult{
			Mapping:             testMapping(id),
			ProviderDisplayName: "OpenAI",
			Outcome:             keys.OutcomeCommitted,
		}, nil
	}}

	h := NewCreateKeyHandler(mock)
	rec := httptest.NewRecorder()

	body := map[string]any{
		"provider": "openai",
		"model":    "gpt-4o",
		"secret":   "sk-real-upstream-secret",
	}
	h.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/keys", body))

	data := parseData(t, rec, http.StatusCreated)
	if data["gateway_key"] != "sk-shield-aaaabbbbccccddddeeeeffffgggghhhh" {
		t.Errorf("full gateway key missing from create response: %v", data["gateway_key"])
	}
	if data["provider_name"] != "OpenAI" {
		t.Errorf("unexpected provider_name: %v", data["provider_name"])
	}
	if captured.OwnerID != testOwner {
		t.Errorf("expected owner %q, got %q", testOwner, captured.OwnerID)
	}
	if captured.Secret != "sk-real-upstream-secret" {
		t.Errorf("secret not passed through")
	}
}

func TestCreateKeyHandler_InvalidJSON(t *testing.T) {
	mock := &mockLifecycle{createFn: func(keys.CreateParams) (*keys.CreateResult, error) {
		t.Fatal("service should not be called")
		return nil, nil
	}}

	h := NewCreateKeyHandler(mock)
	rec := httptest.NewRecorder()

	r := httptest.NewRequest(http.MethodPost, "/api/v1/keys", bytes.NewReader([]byte("{nope")))
	h.ServeHTTP(rec, withOwner(r))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", status)
	}
	if code != "INVALID_REQUEST" {
		t.Errorf("expected INVALID_REQUEST, got %s", code)
	}
}

func TestCreateKeyHandler_ValidationError(t *testing.T) {
	mock := &mockLifecycle{createFn: func(keys.CreateParams) (*keys.CreateResult, error) {
		return nil, keys.ErrInvalidInput
	}}

	h := NewCreateKeyHandler(mock)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/keys", map[string]any{"provider": "openai"}))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", status)
	}
	if code != "INVALID_REQUEST" {
		t.Errorf("expected INVALID_REQUEST, got %s", code)
	}
}

func TestCreateKeyHandler_GatewayUnreachable(t *testing.T) {
	mock := &mockLifecycle{createFn: func(keys.CreateParams) (*keys.CreateResult, error) {
		return nil, gateway.ErrUnreachable
	}}

	h := NewCreateKeyHandler(mock)
	rec := httptest.NewRecorder()

	body := map[string]any{"provider": "openai", "model": "gpt-4o", "secret": "s"}
	h.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/keys", body))

	status, code := parseErr(t, rec)
	if status != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", status)
	}
	if code != "GATEWAY_UNREACHABLE" {
		t.Errorf("expected GATEWAY_UNREACHABLE, got %s", code)
	}
}

func TestCreateKeyHandler_GatewayRejected(t *testing.T) {
	mock := &mockLifecycle{createFn: func(keys.CreateParams) (*keys.CreateResult, error) {
		return nil, gateway.ErrRejected
	}}

	h := NewCreateKeyHandler(mock)
	rec := httptest.NewRecorder()

	body := map[string]any{"provider": "openai", "model": "gpt-4o", "secret": "s"}
	h.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/keys", body))

	status, code := parseErr(t, rec)
	if status != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", status)
	}
	if code != "GATEWAY_REJECTED" {
		t.Errorf("expected GATEWAY_REJECTED, got %s", code)
	}
}

func TestCreateKeyHandler_NoOwner(t *testing.T) {
	h := NewCreateKeyHandler(&mockLifecycle{})
	rec := httptest.NewRecorder()

	r := httptest.NewRequest(http.MethodPost, "/api/v1/keys", bytes.NewReader([]byte("{}")))
	h.ServeHTTP(rec, r)

	status, code := parseErr(t, rec)
	if status != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", status)
	}
	if code != "UNAUTHORIZED" {
		t.Errorf("expected UNAUTHORIZED, got %s", code)
	}
}

// --- list / get ---

func TestListKeysHandler_MasksKeys(t *testing.T) {
	m := testMapping(uuid.New())
	mock := &mockLifecycle{listFn: func(ownerID string) ([]*models.CredentialMapping, error) {
		if ownerID != testOwner {
			t.Errorf("expected owner %q, got %q", testOwner, ownerID)
		}
		return []*models.CredentialMapping{m}, nil
	}}

	h := NewListKeysHandler(mock)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withOwner(httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data) != 1 {
		t.Fatalf("expected 1 key, got %d", len(env.Data))
	}
	masked, _ := env.Data[0]["gateway_key_masked"].(string)
	if masked != "••••••••hhhh" {
		t.Errorf("unexpected mask: %q", masked)
	}
	if _, present := env.Data[0]["gateway_key"]; present {
		t.Error("full gateway key leaked into list response")
	}
	if _, present := env.Data[0]["secret"]; present {
		t.Error("upstream secret leaked into list response")
	}
}

func TestGetKeyHandler_Success(t *testing.T) {
	id := uuid.New()
	mock := &mockLifecycle{getFn: func(ownerID string, got uuid.UUID) (*models.CredentialMapping, error) {
		if got != id {
			t.Errorf("expected id %s, got %s", id, got)
		}
		return testMapping(id), nil
	}}

	h := NewGetKeyHandler(mock)
	rec := httptest.NewRecorder()

	r := withOwner(httptest.NewRequest(http.MethodGet, "/api/v1/keys/"+id.String(), nil))
	h.ServeHTTP(rec, withKeyID(r, id.String()))

	data := parseData(t, rec, http.StatusOK)
	if data["id"] != id.String() {
		t.Errorf("unexpected id: %v", data["id"])
	}
	if data["provider"] != "openai" {
		t.Errorf("unexpected provider: %v", data["provider"])
	}
}

func TestGetKeyHandler_BadID(t *testing.T) {
	h := NewGetKeyHandler(&mockLifecycle{})
	rec := httptest.NewRecorder()

	r := withOwner(httptest.NewRequest(http.MethodGet, "/api/v1/keys/not-a-uuid", nil))
	h.ServeHTTP(rec, withKeyID(r, "not-a-uuid"))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", status)
	}
	if code != "INVALID_REQUEST" {
		t.Errorf("expected INVALID_REQUEST, got %s", code)
	}
}

func TestGetKeyHandler_NotFound(t *testing.T) {
	id := uuid.New()
	mock := &mockLifecycle{getFn: func(string, uuid.UUID) (*models.CredentialMapping, error) {
		return nil, store.ErrNotFound
	}}

	h := NewGetKeyHandler(mock)
	rec := httptest.NewRecorder()

	r := withOwner(httptest.NewRequest(http.MethodGet, "/api/v1/keys/"+id.String(), nil))
	h.ServeHTTP(rec, withKeyID(r, id.String()))

	status, code := parseErr(t, rec)
	if status != http.StatusNotFound {
		t.Errorf("expected 404, got %d", status)
	}
	if code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %s", code)
	}
}

// --- update ---

func TestUpdateKeyHandler_Success(t *testing.T) {
	id := uuid.New()
	newModel := "gpt-4o-mini"
	var captured keys.UpdateParams
	mock := &mockLifecycle{updateFn: func(p keys.UpdateParams) (*keys.UpdateResult, error) {
		captured = p
		m := testMapping(id)
		m.Model = newModel
		return &keys.UpdateResult{Mapping: m, ProviderDisplayName: "OpenAI", Outcome: keys.OutcomeCommitted}, nil
	}}

	h := NewUpdateKeyHandler(mock)
	rec := httptest.NewRecorder()

	r := jsonReq(t, http.MethodPatch, "/api/v1/keys/"+id.String(), map[string]any{"model": newModel})
	h.ServeHTTP(rec, withKeyID(r, id.String()))

	data := parseData(t, rec, http.StatusOK)
	if data["model"] != newModel {
		t.Errorf("unexpected model: %v", data["model"])
	}
	if captured.Model == nil || *captured.Model != newModel {
		t.Errorf("model not passed through: %v", captured.Model)
	}
	if captured.Provider != nil {
		t.Errorf("absent provider should stay nil, got %v", *captured.Provider)
	}
}

func TestUpdateKeyHandler_DriftedStillOK(t *testing.T) {
	id := uuid.New()
	mock := &mockLifecycle{updateFn: func(keys.UpdateParams) (*keys.UpdateResult, error) {
		m := testMapping(id)
		m.Drifted = true
		return &keys.UpdateResult{Mapping: m, Outcome: keys.OutcomeCommittedWithDrift}, nil
	}}

	h := NewUpdateKeyHandler(mock)
	rec := httptest.NewRecorder()

	r := jsonReq(t, http.MethodPatch, "/api/v1/keys/"+id.String(), map[string]any{"model": "m"})
	h.ServeHTTP(rec, withKeyID(r, id.String()))

	data := parseData(t, rec, http.StatusOK)
	if data["drifted"] != true {
		t.Errorf("expected drifted=true in response, got %v", data["drifted"])
	}
}

func TestUpdateKeyHandler_RejectedSurfacesLocalState(t *testing.T) {
	id := uuid.New()
	mock := &mockLifecycle{updateFn: func(keys.UpdateParams) (*keys.UpdateResult, error) {
		m := testMapping(id)
		m.Drifted = true
		return &keys.UpdateResult{Mapping: m, Outcome: keys.OutcomeCommittedWithDrift}, gateway.ErrRejected
	}}

	h := NewUpdateKeyHandler(mock)
	rec := httptest.NewRecorder()

	r := jsonReq(t, http.MethodPatch, "/api/v1/keys/"+id.String(), map[string]any{"model": "m"})
	h.ServeHTTP(rec, withKeyID(r, id.String()))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error.Code != "GATEWAY_REJECTED" {
		t.Errorf("expected GATEWAY_REJECTED, got %s", env.Error.Code)
	}
	if env.Error.Details["local_state"] != "updated" {
		t.Errorf("expected local_state=updated detail, got %v", env.Error.Details)
	}
}

func TestUpdateKeyHandler_NotFound(t *testing.T) {
	id := uuid.New()
	mock := &mockLifecycle{updateFn: func(keys.UpdateParams) (*keys.UpdateResult, error) {
		return nil, store.ErrNotFound
	}}

	h := NewUpdateKeyHandler(mock)
	rec := httptest.NewRecorder()

	r := jsonReq(t, http.MethodPatch, "/api/v1/keys/"+id.String(), map[string]any{"model": "m"})
	h.ServeHTTP(rec, withKeyID(r, id.String()))

	status, code := parseErr(t, rec)
	if status != http.StatusNotFound {
		t.Errorf("expected 404, got %d", status)
	}
	if code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %s", code)
	}
}

// --- delete ---

func TestDeleteKeyHandler_Success(t *testing.T) {
	id := uuid.New()
	mock := &mockLifecycle{deleteFn: func(ownerID string, got uuid.UUID) (keys.SyncOutcome, error) {
		if ownerID != testOwner || got != id {
			t.Errorf("unexpected delete args: %s %s", ownerID, got)
		}
		return keys.OutcomeCommitted, nil
	}}

	h := NewDeleteKeyHandler(mock)
	rec := httptest.NewRecorder()

	r := withOwner(httptest.NewRequest(http.MethodDelete, "/api/v1/keys/"+id.String(), nil))
	h.ServeHTTP(rec, withKeyID(r, id.String()))

	data := parseData(t, rec, http.StatusOK)
	if data["ok"] != true {
		t.Errorf("expected ok=true, got %v", data["ok"])
	}
	if data["drifted"] != false {
		t.Errorf("expected drifted=false, got %v", data["drifted"])
	}
}

func TestDeleteKeyHandler_UnreachableReportsDrift(t *testing.T) {
	id := uuid.New()
	mock := &mockLifecycle{deleteFn: func(string, uuid.UUID) (keys.SyncOutcome, error) {
		return keys.OutcomeCommittedWithDrift, nil
	}}

	h := NewDeleteKeyHandler(mock)
	rec := httptest.NewRecorder()

	r := withOwner(httptest.NewRequest(http.MethodDelete, "/api/v1/keys/"+id.String(), nil))
	h.ServeHTTP(rec, withKeyID(r, id.String()))

	data := parseData(t, rec, http.StatusOK)
	if data["drifted"] != true {
		t.Errorf("expected drifted=true, got %v", data["drifted"])
	}
}

func TestDeleteKeyHandler_RejectedAborts(t *testing.T) {
	id := uuid.New()
	mock := &mockLifecycle{deleteFn: func(string, uuid.UUID) (keys.SyncOutcome, error) {
		return keys.OutcomeRolledBack, gateway.ErrRejected
	}}

	h := NewDeleteKeyHandler(mock)
	rec := httptest.NewRecorder()

	r := withOwner(httptest.NewRequest(http.MethodDelete, "/api/v1/keys/"+id.String(), nil))
	h.ServeHTTP(rec, withKeyID(r, id.String()))

	status, code := parseErr(t, rec)
	if status != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", status)
	}
	if code != "GATEWAY_REJECTED" {
		t.Errorf("expected GATEWAY_REJECTED, got %s", code)
	}
}
