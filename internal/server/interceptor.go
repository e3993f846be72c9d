package server

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

func RequestTimeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		reqTime := time.Since(start)
		logrus.Debugf("request time: %v: %v", r.URL.Path, reqTime)
	})
}

// HealthHandler reports 200 while ping succeeds and 503 otherwise.
func HealthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := ping(ctx); err != nil {
			logrus.Warnf("health check failed: %v", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}

		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
