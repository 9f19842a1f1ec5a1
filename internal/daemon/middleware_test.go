package daemon

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ozonassist/internal/testsupport"
)

func TestAdminRefusesCrossOriginRequests(t *testing.T) {
	h := newHarness(t)
	body := `{"paths":["/tmp/x.png"]}`

	req := httptest.NewRequest(http.MethodPost, "/api/admin/images/import", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	h.daemon.server.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"success":false`) {
		t.Fatalf("expected failure envelope, got %s", w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow-origin header on admin, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	code, env, _ := h.serve(t, req)
	if code != http.StatusForbidden || env.Success {
		t.Fatalf("expected cross-site fetch refused, got %d %+v", code, env)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/admin/complaints/reset", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = httptest.NewRecorder()
	h.daemon.server.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected admin preflight refused, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow-origin header on admin preflight, got %q", got)
	}
}

func TestAdminAllowsSameOriginAndCLI(t *testing.T) {
	h := newHarness(t)

	code, env, _ := h.do(t, http.MethodGet, "/api/admin/stats", nil)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("expected request without origin allowed, got %d %+v", code, env)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.Header.Set("Origin", "http://"+req.Host)
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	code, env, _ = h.serve(t, req)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("expected same-origin request allowed, got %d %+v", code, env)
	}
}

func TestAdminTokenRequired(t *testing.T) {
	h := newHarness(t, testsupport.WithAPIToken("secret"))

	code, env, _ := h.do(t, http.MethodGet, "/api/admin/stats", nil)
	if code != http.StatusUnauthorized || env.Success {
		t.Fatalf("expected 401 without token, got %d %+v", code, env)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	if code, _, _ := h.serve(t, req); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	code, env, _ = h.serve(t, req)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("expected token accepted, got %d %+v", code, env)
	}

	code, env, _ = h.do(t, http.MethodGet, "/api/status", nil)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("expected agent routes open without token, got %d %+v", code, env)
	}
}

func TestAgentCORSFollowsAllowedOrigins(t *testing.T) {
	h := newHarness(t, testsupport.WithAllowedOrigins("chrome-extension://abc"))

	req := httptest.NewRequest(http.MethodOptions, "/api/complaint/SKU-A/status", nil)
	req.Header.Set("Origin", "chrome-extension://abc")
	w := httptest.NewRecorder()
	h.daemon.server.router.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "chrome-extension://abc" {
		t.Fatalf("expected listed origin echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/complaint/SKU-A/status", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	h.daemon.server.router.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected unlisted origin left without allow-origin, got %q", got)
	}
}
