package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/fieldset/quotad/internal/repository"
)

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// authMiddleware checks API key authentication against the stored key
// hashes.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKeys == nil {
			// No key store configured, allow all
			next.ServeHTTP(w, r)
			return
		}

		// Check Authorization header
		auth := r.Header.Get("Authorization")
		if auth == "" {
			// Also check X-API-Key header
			auth = r.Header.Get("X-API-Key")
		}

		// Parse Bearer token
		if strings.HasPrefix(auth, "Bearer ") {
			auth = strings.TrimPrefix(auth, "Bearer ")
		}

		if auth == "" {
			s.unauthorized(w, r, "missing API key")
			return
		}

		key, err := s.apiKeys.GetByHash(repository.HashKey(auth))
		if err != nil {
			s.logger.Error("failed to look up API key", "error", err)
			s.sendError(w, http.StatusInternalServerError, "Authentication failed")
			return
		}
		if key == nil || !key.Active {
			s.unauthorized(w, r, "invalid API key")
			return
		}

		if err := s.apiKeys.UpdateLastUsed(key.ID); err != nil {
			s.logger.Warn("failed to update API key usage", "key_id", key.ID, "error", err)
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) unauthorized(w http.ResponseWriter, r *http.Request, reason string) {
	s.logger.Warn("unauthorized API request",
		"remote_addr", r.RemoteAddr,
		"path", r.URL.Path,
		"reason", reason,
	)
	s.sendError(w, http.StatusUnauthorized, "Unauthorized")
}
