package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// accessLog writes one logrus line per request.
func accessLog(logger *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				entry := logger.WithFields(logrus.Fields{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      ww.Status(),
					"bytes":       ww.BytesWritten(),
					"duration":    time.Since(start).String(),
					"request_id":  middleware.GetReqID(r.Context()),
					"remote_addr": r.RemoteAddr,
				})
				if id := ww.Header().Get("X-Exchange-ID"); id != "" {
					entry = entry.WithField("exchange_id", id)
				}
				switch {
				case ww.Status() >= 500:
					entry.Warn("Request completed")
				default:
					entry.Info("Request completed")
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
