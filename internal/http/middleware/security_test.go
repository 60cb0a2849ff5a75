package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func serveSecurity(opts SecurityOptions, pre gin.HandlerFunc, req *http.Request) http.Header {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if pre != nil {
		r.Use(pre)
	}
	r.Use(SecurityHeaders(opts))
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header()
}

func TestSecurityHeaders_Baseline_And_ExposeHeader(t *testing.T) {
	withRID := func(expose string) gin.HandlerFunc {
		return func(c *gin.Context) {
			c.Header(requestIDHeader, "rid-123")
			if expose != "" {
				c.Header("Access-Control-Expose-Headers", expose)
			}
			c.Next()
		}
	}

	t.Run("baseline only", func(t *testing.T) {
		h := serveSecurity(SecurityOptions{}, withRID(""), httptest.NewRequest(http.MethodGet, "/ok", nil))
		if h.Get("X-Content-Type-Options") != "nosniff" ||
			h.Get("X-Frame-Options") != "DENY" ||
			h.Get("Referrer-Policy") != "no-referrer" {
			t.Fatalf("baseline headers missing: %#v", h)
		}
		if h.Get("Permissions-Policy") != "" || h.Get("Cache-Control") != "" || h.Get("Strict-Transport-Security") != "" {
			t.Fatalf("unexpected optional headers: %#v", h)
		}
		if h.Get("Access-Control-Expose-Headers") != requestIDHeader {
			t.Fatalf("expose header = %q", h.Get("Access-Control-Expose-Headers"))
		}
	})

	t.Run("appends to existing expose list", func(t *testing.T) {
		h := serveSecurity(SecurityOptions{}, withRID("Foo"), httptest.NewRequest(http.MethodGet, "/ok", nil))
		if got := h.Get("Access-Control-Expose-Headers"); got != "Foo, X-Request-ID" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("no duplicate", func(t *testing.T) {
		h := serveSecurity(SecurityOptions{}, withRID("X-Request-ID, Foo"), httptest.NewRequest(http.MethodGet, "/ok", nil))
		if got := h.Get("Access-Control-Expose-Headers"); got != "X-Request-ID, Foo" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("no request id, no expose", func(t *testing.T) {
		h := serveSecurity(SecurityOptions{}, nil, httptest.NewRequest(http.MethodGet, "/ok", nil))
		if h.Get("Access-Control-Expose-Headers") != "" {
			t.Fatalf("unexpected expose header")
		}
	})
}

func TestSecurityHeaders_WithPolicy_NoStore_HSTS_TLS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.TLS = &tls.ConnectionState{}
	h := serveSecurity(SecurityOptions{
		EnableHSTS:   true,
		HSTSMaxAge:   24 * time.Hour,
		NoStore:      true,
		EnablePolicy: true,
	}, nil, req)

	if h.Get("Permissions-Policy") == "" || h.Get("X-Permitted-Cross-Domain-Policies") != "none" {
		t.Fatalf("missing policy headers: %#v", h)
	}
	if h.Get("Cache-Control") != "no-store" || h.Get("Pragma") != "no-cache" || h.Get("Expires") != "0" {
		t.Fatalf("missing cache headers: %#v", h)
	}
	if got := h.Get("Strict-Transport-Security"); got != "max-age=86400; includeSubDomains; preload" {
		t.Fatalf("HSTS = %q", got)
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	t.Run("forwarded https uses default max-age", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		h := serveSecurity(SecurityOptions{EnableHSTS: true}, nil, req)
		if got := h.Get("Strict-Transport-Security"); !strings.HasPrefix(got, "max-age=15552000;") {
			t.Fatalf("HSTS = %q", got)
		}
	})

	t.Run("never over plain http", func(t *testing.T) {
		h := serveSecurity(SecurityOptions{EnableHSTS: true}, nil, httptest.NewRequest(http.MethodGet, "/ok", nil))
		if h.Get("Strict-Transport-Security") != "" {
			t.Fatalf("HSTS sent over http")
		}
	})
}

func Test_isHTTPS(t *testing.T) {
	if isHTTPS(httptest.NewRequest(http.MethodGet, "/", nil)) {
		t.Fatalf("plain HTTP should not be https")
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	if !isHTTPS(req) {
		t.Fatalf("TLS request should be https")
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "HTTPS")
	if !isHTTPS(req) {
		t.Fatalf("X-Forwarded-Proto=https should be https")
	}
}
