package mw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/search", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		allowed string
		origin  string
		want    string
	}{
		{"dev allows any", "dev", "", "http://evil.test", "http://evil.test"},
		{"listed origin", "prod", "http://a.test, http://b.test", "http://b.test", "http://b.test"},
		{"unlisted origin", "prod", "http://a.test", "http://evil.test", ""},
		{"wildcard", "prod", "*", "http://evil.test", "http://evil.test"},
		{"same host", "prod", "http://a.test", "http://example.com", "http://example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newEngine(CORS(tt.env, tt.allowed))
			req := httptest.NewRequest(http.MethodGet, "http://example.com/search", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	r := newEngine(CORS("dev", ""))
	req := httptest.NewRequest(http.MethodOptions, "/search", nil)
	req.Header.Set("Origin", "http://a.test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	l := NewLimiter(rate.Every(time.Hour), 2, time.Minute)
	r := newEngine(l.Middleware("global"))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/search", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", w.Code)
	}
}

func TestLimiter_Sweep(t *testing.T) {
	l := NewLimiter(rate.Every(time.Second), 1, time.Minute)
	start := time.Now()
	l.allow("a", start)
	l.allow("b", start.Add(50*time.Second))

	l.sweep(start.Add(90 * time.Second))
	if got := l.size(); got != 1 {
		t.Errorf("buckets after sweep = %d, want 1", got)
	}
}

func TestLimiter_StopsWithContext(t *testing.T) {
	l := NewLimiter(rate.Every(time.Second), 1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)
	cancel()

	select {
	case <-l.done:
	case <-time.After(time.Second):
		t.Fatal("sweeper still running after context cancel")
	}
}
