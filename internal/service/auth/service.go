// Package auth implements the auth service: user registration and
// platform verification sessions backed by signed session tokens.
package auth

import (
	"context"
	"net/http"
	"sort"
	"time"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"
	"jobpilot/internal/observability"
	"jobpilot/internal/server"
	"jobpilot/internal/store"
)

// Name is the service name used for ports, counters and logs.
const Name = "auth"

// Session states.
const (
	StatusInitiated          = "initiated"
	StatusAuthenticated      = "authenticated"
	StatusVerificationFailed = "verification_failed"
	StatusExpired            = "expired"
)

// Verification methods.
const (
	MethodOAuth2   = "oauth2"
	MethodPassword = "password"
)

var supportedPlatforms = []string{"linkedin", "indeed", "glassdoor", "monster", "direct"}

// User is a users.json record.
type User struct {
	ID           string    `json:"user_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"password_hash,omitempty"`
	Status       string    `json:"status"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Session is a sessions.json record. The token itself is never stored.
type Session struct {
	ID                  string     `json:"session_id"`
	UserID              string     `json:"user_id,omitempty"`
	Platform            string     `json:"platform"`
	Status              string     `json:"status"`
	VerificationMethods []string   `json:"verification_methods"`
	Attempts            int        `json:"attempts"`
	FailureReason       string     `json:"failure_reason,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	ExpiresAt           time.Time  `json:"expires_at"`
	VerifiedAt          *time.Time `json:"verified_at,omitempty"`
}

// Service serves the auth endpoints.
type Service struct {
	users    *store.Collection[User]
	sessions *store.Collection[Session]
	tokens   *TokenIssuer
	counters *store.Counters
	om       *observability.ObservabilityManager
	logger   *errors.Logger
	now      func() time.Time
}

// New opens the auth collections of st. A corrupt file fails construction.
func New(cfg *config.Config, st *store.Store, counters *store.Counters, om *observability.ObservabilityManager, logger *errors.Logger) (*Service, error) {
	if logger == nil {
		logger = errors.NewNop()
	}
	s := &Service{
		users:    store.NewCollection[User](st, store.UsersFile),
		sessions: store.NewCollection[Session](st, store.SessionsFile),
		tokens:   NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
		counters: counters,
		om:       om,
		logger:   logger.With("component", "auth"),
		now:      time.Now,
	}
	for _, v := range []interface{ Verify() error }{s.users, s.sessions} {
		if err := v.Verify(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) Name() string { return Name }

func (s *Service) Routes() []server.Route {
	return []server.Route{
		{Pattern: "POST /auth/initiate", Handler: s.handleInitiate, Summary: "Open a verification session"},
		{Pattern: "POST /auth/verify/{session_id}", Handler: s.handleVerify, Summary: "Verify a session token"},
		{Pattern: "GET /auth/status/{session_id}", Handler: s.handleStatus, Summary: "Session status"},
		{Pattern: "DELETE /auth/session/{session_id}", Handler: s.handleTerminate, Summary: "Terminate a session"},
		{Pattern: "POST /register", Handler: s.handleRegister, Summary: "Register a user"},
		{Pattern: "GET /auth/metrics", Handler: s.handleMetrics, Summary: "Session and user counts"},
	}
}

func (s *Service) Info() map[string]any {
	return map[string]any{
		"features":             []string{"jwt_sessions", "password_hashing", "platform_verification"},
		"platforms_supported":  supportedPlatforms,
		"verification_methods": []string{MethodOAuth2, MethodPassword},
	}
}

func (s *Service) Health(ctx context.Context) map[string]any {
	resp := map[string]any{
		"features": map[string]bool{"jwt_sessions": true, "password_hashing": true},
	}
	sessions, err := s.sessions.List()
	if err != nil {
		s.logger.LogError(err, "Session store unreadable")
		resp["status"] = "degraded"
		return resp
	}
	resp["active_sessions"] = s.countActive(sessions)
	return resp
}

// effectiveStatus reports expired for sessions past their token expiry.
func (s *Service) effectiveStatus(sess Session) string {
	if sess.Status != StatusAuthenticated && sess.Status != StatusInitiated {
		return sess.Status
	}
	if !sess.ExpiresAt.IsZero() && s.now().After(sess.ExpiresAt) {
		return StatusExpired
	}
	return sess.Status
}

func (s *Service) countActive(sessions []Session) int {
	n := 0
	for _, sess := range sessions {
		switch s.effectiveStatus(sess) {
		case StatusInitiated, StatusAuthenticated:
			n++
		}
	}
	return n
}

func methodsFor(platform string) []string {
	if platform == "linkedin" {
		return []string{MethodOAuth2}
	}
	return []string{MethodPassword}
}

func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List()
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	users, err := s.users.List()
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	byStatus := map[string]int{}
	byPlatform := map[string]int{}
	for _, sess := range sessions {
		byStatus[s.effectiveStatus(sess)]++
		byPlatform[sess.Platform]++
	}
	platforms := append([]string(nil), supportedPlatforms...)
	sort.Strings(platforms)
	resp := map[string]any{
		"active_sessions":      s.countActive(sessions),
		"total_sessions_ever":  len(sessions),
		"sessions_by_status":   byStatus,
		"sessions_by_platform": byPlatform,
		"registered_users":     len(users),
		"platforms_supported":  platforms,
		"verification_methods": []string{MethodOAuth2, MethodPassword},
	}
	if s.counters != nil {
		resp["requests"] = s.counters.Snapshot()
	}
	server.WriteJSON(w, http.StatusOK, resp)
}
