package server

import (
	"context"
	"net/http"
	"time"
)

// Handler builds the full handler chain of the service.
func (s *Server) Handler() http.Handler {
	mux := s.setupRoutes()
	var h http.Handler = mux
	h = s.requestTimeoutMiddleware(h)
	h = s.requestSizeLimitMiddleware(h)
	h = s.authMiddleware(h)
	h = s.rateLimitMiddleware(h)
	h = s.requestLogMiddleware(h)
	return s.om.HTTPMiddleware()(h)
}

// setupRoutes registers the service routes and the built-in endpoints.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.countEndpoint("GET /", s.rootHandler))
	mux.HandleFunc("GET /health", s.countEndpoint("GET /health", s.healthHandler))
	mux.HandleFunc("GET /stats", s.countEndpoint("GET /stats", s.statsHandler))
	if s.inbox != nil {
		mux.HandleFunc("POST /message/inbox", s.countEndpoint("POST /message/inbox", s.inboxHandler))
	}
	for _, route := range s.Service.Routes() {
		mux.HandleFunc(route.Pattern, s.countEndpoint(route.Pattern, route.Handler))
	}
	return mux
}

// countEndpoint counts each request that reached the endpoint.
func (s *Server) countEndpoint(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Counters != nil {
			s.Counters.Inc(endpoint)
		}
		next(w, r)
	}
}

// apiKeyFromRequest reads the key from the X-API-Key header or the api_key
// query parameter.
func apiKeyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

// authMiddleware provides API key authentication
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.APIKeys) == 0 && s.InsecureNoAuth {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := apiKeyFromRequest(r)
		if apiKey == "" || !s.APIKeys[apiKey] {
			s.Logger.Warn("Authentication failed",
				"endpoint", r.URL.Path,
				"client_ip", getClientIP(r),
				"api_key_prefix", maskAPIKey(apiKey))
			WriteJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Authentication required"})
			return
		}

		s.Logger.Debug("API authentication successful",
			"endpoint", r.URL.Path,
			"api_key_prefix", maskAPIKey(apiKey))

		next.ServeHTTP(w, r)
	})
}

// requestSizeLimitMiddleware limits the size of incoming requests
func (s *Server) requestSizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestSize > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestSize)
		}
		next.ServeHTTP(w, r)
	})
}

// requestTimeoutMiddleware puts a deadline on the request context. Handlers
// that run past it answer 504 through WriteError.
func (s *Server) requestTimeoutMiddleware(next http.Handler) http.Handler {
	if s.RequestTimeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogMiddleware logs every request once with its duration in
// milliseconds and records it in the request metrics.
func (s *Server) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		elapsed := time.Since(start)
		s.Logger.Info("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", float64(elapsed.Microseconds())/1000)
		s.om.GetMetrics().RecordRequest(r.Context(), s.Service.Name(), r.URL.Path, rw.statusCode, elapsed)
	})
}

// responseWrapper wraps http.ResponseWriter to capture status code
type responseWrapper struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWrapper) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWrapper) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWrapper) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// maskAPIKey masks an API key for logging (shows only first 8 characters)
func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "****"
	}
	return apiKey[:8] + "****"
}
