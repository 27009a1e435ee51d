package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantops/lab-lifecycle/internal/config"
	"github.com/tenantops/lab-lifecycle/internal/dispatcher"
	"github.com/tenantops/lab-lifecycle/internal/models"
	"github.com/tenantops/lab-lifecycle/internal/store"
)

func testServer(t *testing.T, cfg config.Config) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	labs := store.NewMemoryLabConfigStore()
	labs.Put(context.Background(), models.LabConfig{
		LabID:       "app-lab",
		SSMBasePath: "/tenantOps/app-lab",
		UserNS:      true,
	})
	d := dispatcher.New(st, nil, 300*time.Second)
	return New(cfg, d, st, labs), st
}

func postSession(t *testing.T, h http.Handler, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(raw))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestDispatchCreatesThenExtends(t *testing.T) {
	srv, _ := testServer(t, config.Config{})
	h := srv.Router()

	body := models.SessionRequest{DepID: "d-1", LabID: "app-lab", Email: "a@example.com", Petname: "calm-otter"}

	rr := postSession(t, h, body, "")
	require.Equal(t, http.StatusCreated, rr.Code)

	var rec models.DeploymentRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, "d-1", rec.DepID)
	assert.Equal(t, models.DeploymentPending, rec.DeploymentStatus)

	// Same dep_id again is a keep-alive, not a new session.
	rr = postSession(t, h, body, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestDispatchRejectsIncompleteRequest(t *testing.T) {
	srv, _ := testServer(t, config.Config{})
	h := srv.Router()

	rr := postSession(t, h, models.SessionRequest{Email: "a@example.com"}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "dep_id")
}

func TestDispatchRejectsMalformedJSON(t *testing.T) {
	srv, _ := testServer(t, config.Config{})
	h := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetSession(t *testing.T) {
	srv, st := testServer(t, config.Config{})
	h := srv.Router()

	require.NoError(t, st.Create(context.Background(), models.DeploymentRecord{
		DepID: "d-1", LabID: "app-lab", Email: "a@example.com", Petname: "calm-otter",
		TTL: time.Now().Add(time.Hour).Unix(), DeploymentStatus: models.DeploymentCompleted,
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/d-1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var rec models.DeploymentRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, models.DeploymentCompleted, rec.DeploymentStatus)

	req = httptest.NewRequest(http.MethodGet, "/v1/sessions/missing", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRemoveSessionReturnsOldRecord(t *testing.T) {
	srv, st := testServer(t, config.Config{})
	h := srv.Router()

	require.NoError(t, st.Create(context.Background(), models.DeploymentRecord{
		DepID: "d-1", LabID: "app-lab", Email: "a@example.com", Petname: "calm-otter",
		TTL: time.Now().Add(time.Hour).Unix(),
	}))

	req := httptest.NewRequest(http.MethodDelete, "/v1/sessions/d-1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var rec models.DeploymentRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, "d-1", rec.DepID)

	req = httptest.NewRequest(http.MethodDelete, "/v1/sessions/d-1", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetLab(t *testing.T) {
	srv, _ := testServer(t, config.Config{})
	h := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/v1/labs/app-lab", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var cfg models.LabConfig
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cfg))
	assert.Equal(t, "/tenantOps/app-lab", cfg.SSMBasePath)

	req = httptest.NewRequest(http.MethodGet, "/v1/labs/missing", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBearerAuth(t *testing.T) {
	secret := "test-secret"
	srv, _ := testServer(t, config.Config{AuthSecret: secret})
	h := srv.Router()

	body := models.SessionRequest{DepID: "d-1", LabID: "app-lab", Email: "a@example.com", Petname: "calm-otter"}

	rr := postSession(t, h, body, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = postSession(t, h, body, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "session-broker",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	rr = postSession(t, h, body, signed)
	assert.Equal(t, http.StatusCreated, rr.Code)

	// Read paths stay open.
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/d-1", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, config.Config{})
	h := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"ok":true`)
}
