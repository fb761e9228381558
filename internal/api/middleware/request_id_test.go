package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/careviah/caregiver/internal/api/middleware"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantSame  bool
		wantShape bool
	}{
		{name: "generated when absent", header: "", wantShape: true},
		{name: "caller id propagated", header: "req_from_caller", wantSame: true},
		{name: "blank id replaced", header: "   ", wantShape: true},
		{name: "oversized id replaced", header: strings.Repeat("x", 65), wantShape: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = middleware.GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
			if tt.header != "" {
				req.Header.Set("X-Request-Id", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, seen, w.Header().Get("X-Request-Id"))
			if tt.wantSame {
				assert.Equal(t, tt.header, seen)
			}
			if tt.wantShape {
				assert.True(t, strings.HasPrefix(seen, "req_"), seen)
				assert.Len(t, seen, 26)
			}
		})
	}
}

func TestGetRequestID_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	assert.Empty(t, middleware.GetRequestID(req.Context()))
}
