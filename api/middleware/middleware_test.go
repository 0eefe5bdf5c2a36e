/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/jerry-enebeli/labsync/config"
	"github.com/jerry-enebeli/labsync/internal/metrics"
)

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	r.GET("/", ok)
	r.GET("/health", ok)
	r.GET("/stats", ok)
	return r
}

func TestRequireKey(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		given        string
		key          string
		expectedCode int
		reason       string
	}{
		{name: "valid key", path: "/stats", given: "lab-secret", key: "lab-secret", expectedCode: http.StatusOK},
		{name: "wrong key", path: "/stats", given: "guess", key: "lab-secret", expectedCode: http.StatusUnauthorized, reason: "bad_key"},
		{name: "missing key", path: "/stats", key: "lab-secret", expectedCode: http.StatusUnauthorized, reason: "missing_key"},
		{name: "key not configured", path: "/stats", given: "anything", expectedCode: http.StatusInternalServerError, reason: "no_key_configured"},
		{name: "root is public", path: "/", key: "lab-secret", expectedCode: http.StatusOK},
		{name: "health is public", path: "/health", expectedCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var before float64
			if tt.reason != "" {
				before = testutil.ToFloat64(metrics.APIRejections.WithLabelValues(tt.reason))
			}
			router := newRouter(RequireKey(tt.key))

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.given != "" {
				req.Header.Set(KeyHeader, tt.given)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			assert.Equal(t, tt.expectedCode, resp.Code)
			if tt.reason != "" {
				assert.Equal(t, before+1, testutil.ToFloat64(metrics.APIRejections.WithLabelValues(tt.reason)))
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	rps := 0.5
	burst := 2
	router := newRouter(RateLimit(config.RateLimitConfig{RequestsPerSecond: &rps, Burst: &burst}))
	before := testutil.ToFloat64(metrics.APIRejections.WithLabelValues("rate_limited"))

	var limited *httptest.ResponseRecorder
	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
		if resp.Code == http.StatusTooManyRequests && limited == nil {
			limited = resp
		}
	}

	assert.Equal(t, http.StatusOK, codes[0])
	if assert.NotNil(t, limited) {
		assert.Equal(t, "2", limited.Header().Get("Retry-After"))
		assert.Contains(t, limited.Body.String(), "slow down")
	}
	assert.Greater(t, testutil.ToFloat64(metrics.APIRejections.WithLabelValues("rate_limited")), before)
}

func TestRateLimit_Disabled(t *testing.T) {
	router := newRouter(RateLimit(config.RateLimitConfig{}))
	for i := 0; i < 20; i++ {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/stats", nil))
		assert.Equal(t, http.StatusOK, resp.Code)
	}
}
