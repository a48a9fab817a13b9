package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// logging records every request with its status, latency and route, and
// feeds the prometheus instruments.
func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriterWrapper{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if template, err := current.GetPathTemplate(); err == nil {
				route = template
			}
		}

		elapsed := time.Since(start)
		s.metrics.Observe(r.Method, route, wrapped.statusCode, elapsed)

		logrus.WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    wrapped.statusCode,
			"duration":  elapsed,
			"remote_ip": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

// basicAuth guards the API with the configured credential. The password is
// verified against its bcrypt hash.
func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, password, ok := r.BasicAuth()
		if !ok || !s.credentialsValid(user, password) {
			logrus.WithField("remote_ip", r.RemoteAddr).Warn("Rejected unauthenticated request")
			w.Header().Set("WWW-Authenticate", `Basic realm="ACM"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) credentialsValid(user, password string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(s.config.Auth.User)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.config.Auth.PasswordHash), []byte(password)) == nil
}

// responseWriterWrapper captures the status code for logging and metrics
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
