package logger

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNewWithWriter_LevelOverride(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "production", "warn")
	l.Info("hidden")
	l.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestNewWithWriter_DevDefaultsToDebug(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "dev", "").Debug("dbg")
	if !strings.Contains(buf.String(), "dbg") {
		t.Fatalf("expected debug output")
	}
}

func TestFrom_FallsBackToDefault(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
}

func TestMiddleware_PropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(NewWithWriter(&buf, "local", "")))
	r.GET("/x", func(c *gin.Context) {
		From(c.Request.Context()).Info("inside")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-Id"); got != "rid-1" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	if !strings.Contains(buf.String(), `"request_id":"rid-1"`) {
		t.Fatalf("expected request id in logs: %s", buf.String())
	}
}

func TestMiddleware_QuietPathsAndStatusLevels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(NewWithWriter(&buf, "local", ""), "/healthz"))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/user", func(c *gin.Context) {
		Attach(c, FromGin(c).With("user_id", "u1"))
		c.Status(http.StatusOK)
	})

	for _, p := range []string{"/healthz", "/missing", "/user"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	out := buf.String()
	if strings.Contains(out, `"path":"/healthz"`) {
		t.Fatalf("expected quiet path to be skipped: %s", out)
	}
	if !strings.Contains(out, `"level":"WARN","msg":"request"`) {
		t.Fatalf("expected 404 logged at warn: %s", out)
	}
	if !strings.Contains(out, `"user_id":"u1"`) {
		t.Fatalf("expected attached fields on the summary line: %s", out)
	}
}
