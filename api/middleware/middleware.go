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

// Package middleware guards the status API.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-gonic/gin"

	"github.com/jerry-enebeli/labsync/config"
	"github.com/jerry-enebeli/labsync/internal/metrics"
)

const KeyHeader = "X-Labsync-Key"

// Public lists the routes served without a key.
var Public = []string{"/", "/health"}

func reject(c *gin.Context, code int, reason, message string) {
	metrics.APIRejections.WithLabelValues(reason).Inc()
	c.AbortWithStatusJSON(code, gin.H{"error": message})
}

// RateLimit throttles callers per address. With neither a rate nor a burst configured
// every request passes.
func RateLimit(limits config.RateLimitConfig) gin.HandlerFunc {
	if limits.RequestsPerSecond == nil || limits.Burst == nil {
		return func(c *gin.Context) { c.Next() }
	}

	ttl := time.Hour
	if limits.CleanupIntervalSec != nil {
		ttl = time.Duration(*limits.CleanupIntervalSec) * time.Second
	}
	lmt := tollbooth.NewLimiter(*limits.RequestsPerSecond, &limiter.ExpirableOptions{DefaultExpirationTTL: ttl})
	lmt.SetBurst(*limits.Burst)

	retryAfter := "1"
	if rps := *limits.RequestsPerSecond; rps > 0 && rps < 1 {
		retryAfter = strconv.Itoa(int(1/rps + 0.5))
	}

	return func(c *gin.Context) {
		if httpError := tollbooth.LimitByRequest(lmt, c.Writer, c.Request); httpError != nil {
			c.Header("Retry-After", retryAfter)
			reject(c, httpError.StatusCode, "rate_limited", "too many status requests; slow down")
			return
		}
		c.Next()
	}
}

// RequireKey admits requests carrying key in the X-Labsync-Key header. Public routes
// pass without one. An empty key locks every other route.
func RequireKey(key string) gin.HandlerFunc {
	public := make(map[string]struct{}, len(Public))
	for _, p := range Public {
		public[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := public[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		switch given := c.GetHeader(KeyHeader); {
		case key == "":
			reject(c, http.StatusInternalServerError, "no_key_configured", "server.secret_key is not set")
		case given == "":
			reject(c, http.StatusUnauthorized, "missing_key", KeyHeader+" header required")
		case subtle.ConstantTimeCompare([]byte(key), []byte(given)) != 1:
			reject(c, http.StatusUnauthorized, "bad_key", "invalid key")
		default:
			c.Next()
		}
	}
}
