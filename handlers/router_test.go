package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"fadedreams/roadassist/auth"
	"fadedreams/roadassist/domain"
	"fadedreams/roadassist/payments"
	"fadedreams/roadassist/service"
)

const gatewaySecret = "handler-test-secret"

type testAPI struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestAPI(t *testing.T, cfg RouterConfig) *testAPI {
	t.Helper()
	repo := domain.NewMemoryRepository()
	tokens, err := auth.NewTokenManager("handler-jwt-secret", time.Hour)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewService(repo, payments.NewSandbox(gatewaySecret), tokens, service.Config{BcryptCost: bcrypt.MinCost}, logger)
	require.NoError(t, svc.EnsureAdmin(t.Context(), "Admin", "admin@example.com", "adminpass"))

	srv := httptest.NewServer(NewRouter(svc, repo, cfg, logger))
	t.Cleanup(srv.Close)
	return &testAPI{t: t, srv: srv}
}

// do sends body as JSON and decodes the response into a generic map.
func (a *testAPI) do(method, path, token string, body any) (int, map[string]any) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (a *testAPI) register(name, role string) (token, userID string) {
	a.t.Helper()
	status, body := a.do(http.MethodPost, "/api/auth/register", "", map[string]any{
		"name":     name,
		"email":    name + "@example.com",
		"phone":    "98450" + name,
		"password": "password1",
		"role":     role,
	})
	require.Equal(a.t, http.StatusCreated, status, body)
	user := body["user"].(map[string]any)
	return body["token"].(string), user["id"].(string)
}

func TestRouter_EndToEndServiceFlow(t *testing.T) {
	api := newTestAPI(t, RouterConfig{})

	mechToken, _ := api.register("ravi", "mechanic")
	status, body := api.do(http.MethodPatch, "/api/mechanic/location", mechToken, map[string]any{"latitude": 10, "longitude": 20})
	require.Equal(t, http.StatusOK, status, body)
	mechanicID := body["mechanic"].(map[string]any)["id"].(string)

	for range 2 {
		status, body = api.do(http.MethodPatch, "/api/mechanic/availability", mechToken, nil)
		require.Equal(t, http.StatusOK, status, body)
	}
	assert.Equal(t, true, body["mechanic"].(map[string]any)["isAvailable"])

	userToken, _ := api.register("asha", "user")
	status, body = api.do(http.MethodPost, "/api/service/create", userToken, map[string]any{
		"vehicleType":        "car",
		"problemDescription": "battery dead",
		"location":           map[string]any{"latitude": 10.1, "longitude": 20.1, "address": "Ring Road"},
	})
	require.Equal(t, http.StatusCreated, status, body)
	nearby := body["nearbyMechanics"].([]any)
	require.Len(t, nearby, 1)
	assert.Equal(t, mechanicID, nearby[0].(map[string]any)["id"])
	request := body["serviceRequest"].(map[string]any)
	requestID := request["id"].(string)
	assert.Equal(t, "pending", request["status"])

	status, body = api.do(http.MethodPatch, "/api/service/"+requestID+"/assign", userToken, map[string]any{"mechanicId": mechanicID})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "assigned", body["request"].(map[string]any)["status"])

	status, body = api.do(http.MethodPatch, "/api/service/"+requestID+"/status", mechToken, map[string]any{"status": "in-progress"})
	require.Equal(t, http.StatusOK, status, body)

	status, body = api.do(http.MethodGet, "/api/mechanic/my-jobs", mechToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["jobs"].([]any), 1)

	status, body = api.do(http.MethodPost, "/api/payment/create-order", userToken, map[string]any{"serviceRequestId": requestID, "amount": 750})
	require.Equal(t, http.StatusOK, status, body)
	order := body["order"].(map[string]any)
	orderID := order["id"].(string)
	paymentID := body["paymentId"].(string)
	assert.Equal(t, float64(75000), order["amount"])

	verify := map[string]any{
		"paymentId":         paymentID,
		"razorpayPaymentId": "pay_e2e",
		"razorpayOrderId":   orderID,
		"razorpaySignature": "forged",
	}
	status, body = api.do(http.MethodPost, "/api/payment/verify", userToken, verify)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["error"])

	verify["razorpaySignature"] = payments.Sign(gatewaySecret, orderID, "pay_e2e")
	status, body = api.do(http.MethodPost, "/api/payment/verify", userToken, verify)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "completed", body["payment"].(map[string]any)["status"])

	status, body = api.do(http.MethodGet, "/api/service/my-requests", userToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	requests := body["requests"].([]any)
	require.Len(t, requests, 1)
	settled := requests[0].(map[string]any)
	assert.Equal(t, "completed", settled["status"])
	assert.Equal(t, float64(750), settled["actualCost"])
	assert.NotNil(t, settled["completedAt"])
	assert.Equal(t, "ravi", settled["mechanic"].(map[string]any)["user"].(map[string]any)["name"])
}

func TestRouter_AuthAndRoles(t *testing.T) {
	api := newTestAPI(t, RouterConfig{})
	userToken, _ := api.register("asha", "user")

	status, body := api.do(http.MethodGet, "/api/service/my-requests", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "auth_error", body["error"])

	status, _ = api.do(http.MethodGet, "/api/service/my-requests", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = api.do(http.MethodPatch, "/api/mechanic/availability", userToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["error"])

	status, _ = api.do(http.MethodGet, "/api/admin/stats", userToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = api.do(http.MethodPost, "/api/auth/register", "", map[string]any{
		"name": "Other", "email": "asha@example.com", "phone": "1", "password": "password1",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "user already exists", body["message"])

	status, body = api.do(http.MethodPost, "/api/auth/login", "", map[string]any{"email": "asha@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid credentials", body["message"])
}

func TestRouter_AdminEndpoints(t *testing.T) {
	api := newTestAPI(t, RouterConfig{})
	userToken, userID := api.register("asha", "user")
	status, body := api.do(http.MethodPost, "/api/service/create", userToken, map[string]any{
		"vehicleType":        "car",
		"problemDescription": "flat tyre",
		"location":           map[string]any{"latitude": 1, "longitude": 2},
	})
	require.Equal(t, http.StatusCreated, status, body)
	requestID := body["serviceRequest"].(map[string]any)["id"].(string)

	status, body = api.do(http.MethodPost, "/api/auth/login", "", map[string]any{"email": "admin@example.com", "password": "adminpass"})
	require.Equal(t, http.StatusOK, status, body)
	adminToken := body["token"].(string)

	status, body = api.do(http.MethodGet, "/api/admin/stats", adminToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["totalUsers"])
	assert.Equal(t, float64(1), stats["pendingRequests"])
	assert.Equal(t, float64(0), stats["totalRevenue"])

	status, body = api.do(http.MethodGet, "/api/admin/users?page=1&limit=1", adminToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["users"].([]any), 1)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(1), body["limit"])
	_, leaked := body["users"].([]any)[0].(map[string]any)["password"]
	assert.False(t, leaked)

	status, body = api.do(http.MethodPatch, "/api/admin/requests/"+requestID, adminToken, map[string]any{"status": "completed", "estimatedCost": 900})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "completed", body["request"].(map[string]any)["status"])
	assert.Equal(t, float64(900), body["request"].(map[string]any)["estimatedCost"])

	status, _ = api.do(http.MethodDelete, "/api/admin/users/"+userID, adminToken, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = api.do(http.MethodGet, "/api/admin/requests", adminToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	row := body["requests"].([]any)[0].(map[string]any)
	assert.Equal(t, domain.UnknownUser, row["user"].(map[string]any)["name"])

	status, body = api.do(http.MethodDelete, "/api/admin/users/"+userID, adminToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])
}

func TestRouter_HealthMetricsAndRateLimit(t *testing.T) {
	api := newTestAPI(t, RouterConfig{RateLimitRPS: 0.001, RateLimitBurst: 2})

	status, body := api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	resp, err := api.srv.Client().Get(api.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, body = api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limit_exceeded", body["error"])
}

func TestRouter_CreateRequestNeedsCoordinates(t *testing.T) {
	api := newTestAPI(t, RouterConfig{})
	userToken, _ := api.register("asha", "user")

	for name, location := range map[string]any{
		"empty":         map[string]any{},
		"latitude only": map[string]any{"latitude": 10},
	} {
		t.Run(name, func(t *testing.T) {
			status, body := api.do(http.MethodPost, "/api/service/create", userToken, map[string]any{
				"vehicleType":        "car",
				"problemDescription": "flat tyre",
				"location":           location,
			})
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "validation_error", body["error"])
		})
	}

	status, body := api.do(http.MethodGet, "/api/service/my-requests", userToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Empty(t, body["requests"])
}
