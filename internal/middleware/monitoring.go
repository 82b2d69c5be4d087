package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/boscod/parkmate/internal/metrics"
	"github.com/gofiber/fiber/v3"
)

// MonitorMiddleware tracks request counts and latency per route.
func MonitorMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		// route template, not the raw path, keeps ids out of the labels
		path := c.Route().Path
		method := c.Method()

		metrics.HTTPRequestsTotal.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(path, method).Observe(time.Since(start).Seconds())

		switch status {
		case fiber.StatusUnauthorized:
			metrics.AuthRejections.WithLabelValues("401_unauthorized").Inc()
		case fiber.StatusForbidden:
			metrics.AuthRejections.WithLabelValues("403_forbidden").Inc()
		}

		return err
	}
}

// BasicAuth protects /metrics. An empty user disables the endpoint.
func BasicAuth(user, password string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()

		if user == "" || !ok ||
			subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), []byte(password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
