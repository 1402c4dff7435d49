package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log"
	"maps"
	"mime"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"jobpilot/internal/errors"
)

// healthHandler reports status, uptime and the service's feature flags.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := map[string]any{
		"status":    "healthy",
		"service":   s.Service.Name(),
		"version":   s.Version,
		"timestamp": time.Now().Unix(),
	}
	if s.Counters != nil {
		response["uptime_seconds"] = int64(s.Counters.Uptime().Seconds())
		response["requests_total"] = s.Counters.Total()
	}
	if bs, ok := s.Service.(BreakerSource); ok {
		breakers := bs.Breakers()
		open := []string{}
		for name, b := range breakers {
			if !b.IsHealthy() {
				open = append(open, name)
			}
		}
		sort.Strings(open)
		response["circuit_breakers"] = map[string]any{"total": len(breakers), "open": open}
	}
	maps.Copy(response, s.Service.Health(ctx))

	status := http.StatusOK
	if response["status"] != "healthy" {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, response)
}

// rootHandler describes the service and its capabilities.
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"service": s.Service.Name(),
		"status":  "operational",
		"version": s.Version,
	}
	maps.Copy(response, s.Service.Info())
	WriteJSON(w, http.StatusOK, response)
}

// statsHandler provides server statistics including rate limiting info
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"service": s.Service.Name(),
		"version": s.Version,
		"server": map[string]any{
			"max_request_size_bytes": s.MaxRequestSize,
			"request_timeout_ms":     s.RequestTimeout.Milliseconds(),
		},
	}
	if s.Counters != nil {
		response["requests"] = s.Counters.Snapshot()
	}

	if s.RateLimiter != nil {
		response["rate_limiting"] = s.RateLimiter.GetStats()
	} else {
		response["rate_limiting"] = map[string]any{
			"enabled": false,
		}
	}

	if bs, ok := s.Service.(BreakerSource); ok {
		stats := map[string]any{}
		for name, b := range bs.Breakers() {
			stats[name] = b.Stats()
		}
		response["circuit_breakers"] = stats
	}
	WriteJSON(w, http.StatusOK, response)
}

// ParseJSONRequest decodes the JSON body of r into v. A missing
// Content-Type is accepted; any other type than JSON is rejected.
func ParseJSONRequest(r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			return errors.NewValidationError(errors.ErrCodeInvalidRequest, "content-type must be application/json", err)
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if stderrors.As(err, &maxBytesErr) {
			return errors.NewValidationError(errors.ErrCodeInvalidRequest, "request body too large", err).
				WithContext("limit_bytes", maxBytesErr.Limit)
		}
		return errors.NewValidationError(errors.ErrCodeInvalidRequest, "failed to read request body", err)
	}
	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Printf("Failed to close request body: %v", err)
		}
	}()

	if len(body) == 0 {
		return errors.NewValidationError(errors.ErrCodeInvalidRequest, "request body is empty", nil)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.NewValidationError(errors.ErrCodeInvalidRequest, "failed to parse JSON", err)
	}
	return nil
}

// WriteJSON writes v as the JSON body with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// WriteError answers with the status and body derived from err. Deadline
// expiry that is not already classified answers 504.
func WriteError(w http.ResponseWriter, err error) {
	if appErr, ok := errors.As(err); ok {
		resp := ErrorResponse{Error: appErr.Message, Code: appErr.Code}
		if appErr.Cause != nil {
			resp.Detail = appErr.Cause.Error()
		}
		WriteJSON(w, errors.HTTPStatus(err), resp)
		return
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		WriteJSON(w, http.StatusGatewayTimeout, ErrorResponse{Error: "Request timed out", Code: errors.ErrCodeDeadlineExceeded})
		return
	}
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal server error", Detail: err.Error(), Code: errors.ErrCodeInternal})
}

// Fail records err on the request span and answers with WriteError.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
		errType := "internal"
		if appErr, ok := errors.As(err); ok {
			errType = string(appErr.Type)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.type", errType))
	}
	WriteError(w, err)
}
