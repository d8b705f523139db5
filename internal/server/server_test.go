package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/workpact/workpact/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                     "8080",
		Env:                      "development",
		LogLevel:                 "error",
		LogFormat:                "text",
		IndividualFeePercent:     10,
		FirmFeePercent:           15,
		ReleaseWindowDays:        7,
		CommissionRules:          map[string]int{"lead": 70},
		DefaultCommissionPercent: 50,
		SchedulerInterval:        time.Minute,
		SchedulerBatch:           100,
		RefundTimeout:            time.Second,
		AdminSecret:              "test-admin-secret",
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", w.Code)
	}

	w = doJSON(t, s, "GET", "/health/live", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("/health/live status = %d, want 200", w.Code)
	}

	// Readiness flips on only once Run has started.
	w = doJSON(t, s, "GET", "/health/ready", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("/health/ready status = %d, want 503 before Run", w.Code)
	}
}

func captureBody(engagementID string) map[string]interface{} {
	return map[string]interface{}{
		"engagementId":         engagementID,
		"clientId":             "cli_1",
		"professionalId":       "pro_1",
		"grossAmount":          10000,
		"gatewayTransactionId": "pi_" + engagementID,
	}
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	// Capture
	w := doJSON(t, s, "POST", "/v1/escrows", captureBody("eng_1"), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("capture status = %d, body %s", w.Code, w.Body.String())
	}
	var created struct {
		Escrow struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"escrow"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Escrow.Status != "ESCROW_HELD" {
		t.Errorf("status = %s, want ESCROW_HELD", created.Escrow.Status)
	}

	// Complete with an already-elapsed window so release is legal now
	completedAt := time.Now().Add(-8 * 24 * time.Hour).Format(time.RFC3339)
	w = doJSON(t, s, "POST", "/v1/engagements/eng_1/complete",
		map[string]string{"completedAt": completedAt}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete status = %d, body %s", w.Code, w.Body.String())
	}

	// Admin force release
	w = doJSON(t, s, "POST", fmt.Sprintf("/v1/escrows/%s/release", created.Escrow.ID),
		map[string]string{"approvedBy": "admin_1"},
		map[string]string{"X-Admin-Secret": "test-admin-secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("release status = %d, body %s", w.Code, w.Body.String())
	}

	// Distribution is queryable
	w = doJSON(t, s, "GET", fmt.Sprintf("/v1/escrows/%s/distribution", created.Escrow.ID), nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("distribution status = %d", w.Code)
	}
	var dist struct {
		Distribution struct {
			PlatformAmount     int64 `json:"platformAmount"`
			ProfessionalAmount int64 `json:"professionalAmount"`
		} `json:"distribution"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &dist); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dist.Distribution.PlatformAmount != 1000 || dist.Distribution.ProfessionalAmount != 9000 {
		t.Errorf("distribution = %+v, want 1000/9000", dist.Distribution)
	}

	// Payee balance reflects the credit
	w = doJSON(t, s, "GET", "/v1/payees/pro_1/balance?kind=professional", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("balance status = %d", w.Code)
	}
	var bal struct {
		AmountMinor int64 `json:"amountMinor"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &bal); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bal.AmountMinor != 9000 {
		t.Errorf("balance = %d, want 9000", bal.AmountMinor)
	}
}

func TestAdminRoutesRequireSecret(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/escrows/esc_missing/release",
		map[string]string{"approvedBy": "admin_1"}, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("no secret: status = %d, want 403", w.Code)
	}

	w = doJSON(t, s, "POST", "/v1/escrows/esc_missing/release",
		map[string]string{"approvedBy": "admin_1"},
		map[string]string{"X-Admin-Secret": "wrong"})
	if w.Code != http.StatusForbidden {
		t.Errorf("wrong secret: status = %d, want 403", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	// Unknown record
	w := doJSON(t, s, "GET", "/v1/escrows/esc_missing", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing record: status = %d, want 404", w.Code)
	}

	// Invalid amount
	body := captureBody("eng_1")
	body["grossAmount"] = -5
	w = doJSON(t, s, "POST", "/v1/escrows", body, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative amount: status = %d, want 400", w.Code)
	}

	// Duplicate engagement is a conflict
	w = doJSON(t, s, "POST", "/v1/escrows", captureBody("eng_2"), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("capture status = %d", w.Code)
	}
	w = doJSON(t, s, "POST", "/v1/escrows", captureBody("eng_2"), nil)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate capture: status = %d, want 409", w.Code)
	}

	// Malformed ID param rejected before the handler runs
	w = doJSON(t, s, "GET", "/v1/escrows/NOT-AN-ID", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed id: status = %d, want 400", w.Code)
	}
}

func TestMalformedIDOnEngagementRoutes(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/engagements/$bad/complete", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
