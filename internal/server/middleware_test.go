package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantStatus int
		wantOrigin string
	}{
		{"wildcard", []string{"*"}, "https://app.example", http.MethodGet, http.StatusTeapot, "https://app.example"},
		{"listed origin", []string{"https://app.example"}, "https://app.example", http.MethodGet, http.StatusTeapot, "https://app.example"},
		{"unlisted origin", []string{"https://app.example"}, "https://evil.example", http.MethodGet, http.StatusTeapot, ""},
		{"preflight", []string{"*"}, "https://app.example", http.MethodOptions, http.StatusNoContent, "https://app.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/generations", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()

			CORSMiddleware(tt.allowed)(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantOrigin != "" {
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), UserIDHeader)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	RecoveryMiddleware(newTestLogger())(panicking).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestTracingMiddleware_PassesStatusThrough(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /generations/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	rec := httptest.NewRecorder()
	ChainMiddleware(TracingMiddleware(), LoggingMiddleware(newTestLogger()))(mux).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/generations/gen_1", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestChainMiddleware_Order(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	final := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") })
	ChainMiddleware(mark("first"), mark("second"))(final).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"first", "second", "handler"}, order)
}
