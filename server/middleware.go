package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// limitBody caps every request body at maxBytes. Zero disables the cap.
func limitBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.
				WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", ww.Status()).
				WithField("bytes", ww.BytesWritten()).
				WithField("duration", time.Since(start).String()).
				WithField("request_id", middleware.GetReqID(r.Context())).
				Info("request")
		}()
		next.ServeHTTP(ww, r)
	})
}
