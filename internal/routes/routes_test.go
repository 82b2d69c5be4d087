package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/boscod/parkmate/internal/services"
	"github.com/boscod/parkmate/internal/store"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminEmail    = "admin@parkmate.test"
	adminPassword = "s3cret-pass"
	testDevice    = "device-a"
)

type recordingSender struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingSender) Deliver(ctx context.Context, phone, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, phone+"|"+message)
	return nil
}

func (r *recordingSender) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type testServer struct {
	app    *fiber.App
	sender *recordingSender
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()

	st := store.NewMemoryStore()
	jwtService := services.NewJWTService("test-jwt-secret", time.Hour)
	authService := services.NewAuthService(st, jwtService)
	require.NoError(t, authService.EnsureAdmin(context.Background(), adminEmail, adminPassword))

	codes := services.NewCodeService(st, services.CodeConfig{ReuseWindowDays: 30})
	subs := services.NewSubscriptionService(st, codes, false)
	trials := services.NewTrialService(st, 5)
	villas := services.NewVillaService(st, services.NewCryptoService("test-app-secret"))
	vehicles := services.NewVehicleService(st, villas)
	notifications := services.NewNotificationService(st)
	sender := &recordingSender{}
	dispatch := services.NewDispatchService(st, villas, subs, notifications, sender, services.DispatchConfig{MaxAttempts: 1})
	schedules := services.NewScheduleService(st, villas, dispatch, notifications, nil)

	if opts.Ping == nil {
		opts.Ping = st.Ping
	}
	if opts.PublicRateLimit == 0 {
		opts.PublicRateLimit = 1000
	}

	app := fiber.New(fiber.Config{Immutable: true})
	SetupRoutes(app, Services{
		JWT:           jwtService,
		Auth:          authService,
		Codes:         codes,
		Subscriptions: subs,
		Trials:        trials,
		Villas:        villas,
		Vehicles:      vehicles,
		Dispatch:      dispatch,
		Schedules:     schedules,
		Notifications: notifications,
	}, opts)

	return &testServer{app: app, sender: sender}
}

type call struct {
	method string
	path   string
	body   any
	device string
	token  string
}

func (s *testServer) do(t *testing.T, c call) (int, map[string]any) {
	t.Helper()

	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.device != "" {
		req.Header.Set("X-Device-Id", c.device)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()
	status, body := s.do(t, call{
		method: http.MethodPost,
		path:   "/api/admin/login",
		body:   map[string]string{"email": adminEmail, "password": adminPassword},
	})
	require.Equal(t, http.StatusOK, status)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func (s *testServer) generate(t *testing.T, token string, villaCount int) string {
	t.Helper()
	status, body := s.do(t, call{
		method: http.MethodPost,
		path:   "/api/functions/generate-activation-code",
		body:   map[string]int{"duration": 30, "count": 1, "villaCount": villaCount},
		token:  token,
	})
	require.Equal(t, http.StatusOK, status)
	codes := body["codes"].([]any)
	require.Len(t, codes, 1)
	return codes[0].(string)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, Options{})

	status, body := s.do(t, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	down := newTestServer(t, Options{Ping: func(ctx context.Context) error { return errors.New("connection refused") }})
	status, body = down.do(t, call{method: http.MethodGet, path: "/api/health"})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "degraded", body["status"])
}

func TestMetricsRequiresBasicAuth(t *testing.T) {
	s := newTestServer(t, Options{MetricsUser: "prom", MetricsPassword: "scrape"})

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("prom", "scrape")
	resp, err = s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	disabled := newTestServer(t, Options{})
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("", "")
	resp, err = disabled.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGenerateRequiresAdmin(t *testing.T) {
	s := newTestServer(t, Options{})

	status, body := s.do(t, call{
		method: http.MethodPost,
		path:   "/api/functions/generate-activation-code",
		body:   map[string]int{"duration": 30, "count": 1},
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, false, body["success"])

	status, _ = s.do(t, call{
		method: http.MethodPost,
		path:   "/api/functions/generate-activation-code",
		body:   map[string]int{"duration": 30, "count": 1},
		token:  "not-a-jwt",
	})
	assert.Equal(t, http.StatusUnauthorized, status)

	token := s.login(t)
	status, body = s.do(t, call{
		method: http.MethodPost,
		path:   "/api/functions/generate-activation-code",
		body:   map[string]int{"duration": 30, "count": 3},
		token:  token,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["codes"], 3)
	assert.EqualValues(t, 1, body["villaCount"])

	status, body = s.do(t, call{
		method: http.MethodPost,
		path:   "/api/functions/generate-activation-code",
		body:   map[string]int{"duration": 7, "count": 1},
		token:  token,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "Duration")
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := newTestServer(t, Options{})

	status, body := s.do(t, call{
		method: http.MethodPost,
		path:   "/api/admin/login",
		body:   map[string]string{"email": adminEmail, "password": "wrong"},
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid email or password", body["error"])
}

func TestActivationFlow(t *testing.T) {
	s := newTestServer(t, Options{})
	code := s.generate(t, s.login(t), 2)

	status, body := s.do(t, call{
		method: http.MethodPost,
		path:   "/api/functions/validate-activation-code",
		body:   map[string]string{"code": code},
	})
	require.Equal(t, http.StatusOK, status)
	codeInfo := body["code"].(map[string]any)
	assert.EqualValues(t, 0, codeInfo["villasUsed"])
	assert.EqualValues(t, 2, codeInfo["villaCount"])

	for _, villa := range []string{"v1", "v2"} {
		status, body = s.do(t, call{
			method: http.MethodPost,
			path:   "/api/functions/activate-villa-subscription",
			body:   map[string]string{"code": code, "deviceId": testDevice, "villaId": villa},
		})
		require.Equal(t, http.StatusOK, status, body)
		assert.Equal(t, true, body["success"])
		assert.NotEmpty(t, body["expiresAt"])
	}

	status, body = s.do(t, call{
		method: http.MethodPost,
		path:   "/api/functions/activate-villa-subscription",
		body:   map[string]string{"code": code, "deviceId": testDevice, "villaId": "v3"},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Activation code has reached its villa limit", body["error"])

	status, body = s.do(t, call{
		method: http.MethodPost,
		path:   "/api/functions/get-subscription-status",
		body:   map[string]string{"deviceId": testDevice},
	})
	require.Equal(t, http.StatusOK, status)
	sub := body["subscription"].(map[string]any)
	assert.Equal(t, true, sub["isActive"])

	status, body = s.do(t, call{method: http.MethodGet, path: "/api/villa-subscriptions", device: testDevice})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["subscriptions"], 2)
}

func TestStatusOfUnknownDevice(t *testing.T) {
	s := newTestServer(t, Options{})

	status, body := s.do(t, call{
		method: http.MethodPost,
		path:   "/api/functions/get-subscription-status",
		body:   map[string]string{"deviceId": "never-seen"},
	})
	require.Equal(t, http.StatusOK, status)
	sub := body["subscription"].(map[string]any)
	assert.Equal(t, false, sub["isActive"])
}

func TestStatusWithMalformedBody(t *testing.T) {
	s := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/functions/get-subscription-status", bytes.NewBufferString(`{"deviceId":`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Subscription map[string]any `json:"subscription"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body.Subscription["isActive"])
}

func TestValidateUnknownCode(t *testing.T) {
	s := newTestServer(t, Options{})

	status, body := s.do(t, call{
		method: http.MethodPost,
		path:   "/api/functions/validate-activation-code",
		body:   map[string]string{"code": "PK123456ZZ"},
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, false, body["success"])
}

func TestTrialOncePerDevice(t *testing.T) {
	s := newTestServer(t, Options{})
	req := map[string]string{"deviceId": testDevice, "ipFingerprint": "10.0.0.7"}

	status, body := s.do(t, call{method: http.MethodPost, path: "/api/functions/check-trial-eligibility", body: req})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["eligible"])

	status, body = s.do(t, call{method: http.MethodPost, path: "/api/functions/start-free-trial", body: req})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	status, _ = s.do(t, call{method: http.MethodPost, path: "/api/functions/start-free-trial", body: req})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = s.do(t, call{
		method: http.MethodPost,
		path:   "/api/functions/check-trial-eligibility",
		body:   map[string]string{"deviceId": "device-b", "ipFingerprint": "10.0.0.7"},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["eligible"])
	assert.Equal(t, "ip_already_used_trial", body["reason"])
}

func TestPublicRateLimit(t *testing.T) {
	s := newTestServer(t, Options{PublicRateLimit: 2})
	req := call{
		method: http.MethodPost,
		path:   "/api/functions/get-subscription-status",
		body:   map[string]string{"deviceId": testDevice},
	}

	for i := 0; i < 2; i++ {
		status, _ := s.do(t, req)
		require.Equal(t, http.StatusOK, status)
	}
	status, body := s.do(t, req)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, false, body["success"])
}

func TestDeviceRoutesRequireHeader(t *testing.T) {
	s := newTestServer(t, Options{})

	status, body := s.do(t, call{method: http.MethodGet, path: "/api/villas"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
}

func TestVillaAndSMSFlow(t *testing.T) {
	s := newTestServer(t, Options{})

	status, body := s.do(t, call{
		method: http.MethodPost,
		path:   "/api/villas",
		device: testDevice,
		body:   map[string]string{"villaId": "v1", "name": "Palm 12", "smsNumber": "+971 50 123 4567"},
	})
	require.Equal(t, http.StatusCreated, status, body)
	villa := body["villa"].(map[string]any)
	assert.Equal(t, "+971501234567", villa["smsNumber"])

	status, _ = s.do(t, call{
		method: http.MethodPost,
		path:   "/api/villas",
		device: testDevice,
		body:   map[string]string{"villaId": "v1", "name": "Again", "smsNumber": "+971501234567"},
	})
	assert.Equal(t, http.StatusConflict, status)

	// another device cannot see it
	status, _ = s.do(t, call{method: http.MethodGet, path: "/api/villas/v1", device: "device-b"})
	assert.Equal(t, http.StatusNotFound, status)

	status, body = s.do(t, call{
		method: http.MethodPost,
		path:   "/api/villas/v1/vehicles",
		device: testDevice,
		body:   map[string]string{"plateNumber": "D 12345", "smsMessage": "P 12345"},
	})
	require.Equal(t, http.StatusCreated, status, body)
	vehicle := body["vehicle"].(map[string]any)
	assert.EqualValues(t, 1, vehicle["serialNumber"])

	status, body = s.do(t, call{method: http.MethodPost, path: "/api/villas/v1/sms/send", device: testDevice})
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, 0, s.sender.Count())

	status, _ = s.do(t, call{
		method: http.MethodPost,
		path:   "/api/functions/start-free-trial",
		body:   map[string]string{"deviceId": testDevice},
	})
	require.Equal(t, http.StatusOK, status)

	status, body = s.do(t, call{method: http.MethodPost, path: "/api/villas/v1/sms/send", device: testDevice})
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1, body["sent"])
	assert.EqualValues(t, 0, body["failed"])
	assert.Equal(t, 1, s.sender.Count())

	status, body = s.do(t, call{method: http.MethodGet, path: "/api/sms/history?days=7", device: testDevice})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["history"], 7)

	status, _ = s.do(t, call{method: http.MethodGet, path: "/api/sms/history?days=-1", device: testDevice})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = s.do(t, call{method: http.MethodGet, path: "/api/villas", device: testDevice})
	require.Equal(t, http.StatusOK, status)
	villas := body["villas"].([]any)
	require.Len(t, villas, 1)
	assert.EqualValues(t, 1, villas[0].(map[string]any)["vehicleCount"])

	status, _ = s.do(t, call{method: http.MethodDelete, path: "/api/villas/v1", device: testDevice})
	assert.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, call{method: http.MethodGet, path: "/api/villas/v1/vehicles", device: testDevice})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStoredIDsSurviveLaterRequests(t *testing.T) {
	s := newTestServer(t, Options{})

	status, body := s.do(t, call{
		method: http.MethodPost,
		path:   "/api/villas",
		device: testDevice,
		body:   map[string]string{"villaId": "v1", "name": "Palm 12", "smsNumber": "+971501234567"},
	})
	require.Equal(t, http.StatusCreated, status, body)
	status, body = s.do(t, call{
		method: http.MethodPost,
		path:   "/api/villas/v1/vehicles",
		device: testDevice,
		body:   map[string]string{"plateNumber": "D 12345", "smsMessage": "P 12345"},
	})
	require.Equal(t, http.StatusCreated, status, body)

	// same-length ids on later requests must not rewrite what was stored
	for i := 0; i < 3; i++ {
		s.do(t, call{method: http.MethodGet, path: "/api/villas/v9/vehicles", device: "device-z"})
		s.do(t, call{method: http.MethodGet, path: "/api/sms/history?days=7", device: "device-z"})
	}

	status, body = s.do(t, call{method: http.MethodGet, path: "/api/villas", device: testDevice})
	require.Equal(t, http.StatusOK, status)
	villas := body["villas"].([]any)
	require.Len(t, villas, 1)
	assert.Equal(t, "v1", villas[0].(map[string]any)["villaId"])
	assert.EqualValues(t, 1, villas[0].(map[string]any)["vehicleCount"])

	status, body = s.do(t, call{method: http.MethodGet, path: "/api/villas", device: "device-z"})
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["villas"])
}

func TestAutomationRoutes(t *testing.T) {
	s := newTestServer(t, Options{})

	status, _ := s.do(t, call{
		method: http.MethodPost,
		path:   "/api/villas",
		device: testDevice,
		body:   map[string]string{"villaId": "v1", "name": "Palm 12", "smsNumber": "+971501234567"},
	})
	require.Equal(t, http.StatusCreated, status)

	status, _ = s.do(t, call{method: http.MethodGet, path: "/api/villas/v1/automation", device: testDevice})
	assert.Equal(t, http.StatusNotFound, status)

	status, body := s.do(t, call{
		method: http.MethodPut,
		path:   "/api/villas/v1/automation",
		device: testDevice,
		body: map[string]any{
			"isEnabled":  true,
			"time":       "07:30",
			"daysOfWeek": []bool{false, true, true, true, true, true, false},
			"timezone":   "Asia/Dubai",
		},
	})
	require.Equal(t, http.StatusOK, status, body)
	schedule := body["schedule"].(map[string]any)
	assert.Equal(t, "07:30", schedule["time"])
	assert.NotEmpty(t, schedule["nextRunAt"])

	status, _ = s.do(t, call{
		method: http.MethodPut,
		path:   "/api/villas/v1/automation",
		device: testDevice,
		body:   map[string]any{"isEnabled": true, "time": "25:00", "daysOfWeek": []bool{true, true, true, true, true, true, true}},
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, call{method: http.MethodDelete, path: "/api/villas/v1/automation", device: testDevice})
	assert.Equal(t, http.StatusOK, status)
}

func TestAdminCodeCatalogue(t *testing.T) {
	s := newTestServer(t, Options{})
	token := s.login(t)
	s.generate(t, token, 1)
	s.generate(t, token, 1)

	status, body := s.do(t, call{method: http.MethodGet, path: "/api/admin/codes?used=false", token: token})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["codes"], 2)
	assert.EqualValues(t, 2, body["pagination"].(map[string]any)["total"])

	status, _ = s.do(t, call{method: http.MethodGet, path: "/api/admin/codes?used=maybe", token: token})
	assert.Equal(t, http.StatusBadRequest, status)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/codes/export", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "activation-codes-")
}
