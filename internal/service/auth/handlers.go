package auth

import (
	"context"
	"net/http"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	"jobpilot/internal/errors"
	"jobpilot/internal/server"
)

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password,omitempty"`
}

type initiateRequest struct {
	Platform string `json:"platform"`
	UserID   string `json:"user_id,omitempty"`
	Email    string `json:"email,omitempty"`
}

type verifyRequest struct {
	Token    string `json:"token"`
	Password string `json:"password,omitempty"`
	Code     string `json:"code,omitempty"`
}

func (s *Service) event(ctx context.Context, name string) {
	s.om.GetMetrics().RecordPipelineMetric(ctx, "service_event", 1, s.om,
		attribute.String("service", Name), attribute.String("event", name))
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeMissingField, "email is required", nil))
		return
	}
	if _, err := mail.ParseAddress(email); err != nil {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeInvalidRequest, "email is not a valid address", err))
		return
	}

	user := User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		Status:       "registered",
		RegisteredAt: s.now().UTC(),
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			server.Fail(w, r, errors.NewValidationError(errors.ErrCodeInvalidRequest, "password cannot be hashed", err))
			return
		}
		user.PasswordHash = string(hash)
	}

	err := s.users.Update(func(users map[string]User) error {
		for _, u := range users {
			if u.Email == email {
				return errors.NewConflictError(errors.ErrCodeAlreadyExists, "email already registered", nil).
					WithContext("user_id", u.ID)
			}
		}
		users[user.ID] = user
		return nil
	})
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	s.event(r.Context(), "user_registered")
	s.logger.Info("User registered", "user_id", user.ID, "password_set", user.PasswordHash != "")

	nextStep := "initiate_platform_verification"
	if user.PasswordHash == "" {
		nextStep = "set_password_or_use_oauth2"
	}
	server.WriteJSON(w, http.StatusCreated, map[string]any{
		"user_id":   user.ID,
		"email":     user.Email,
		"status":    user.Status,
		"next_step": nextStep,
	})
}

func (s *Service) findUser(id, email string) (User, bool, error) {
	if id != "" {
		return s.users.Get(id)
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return User{}, false, nil
	}
	users, err := s.users.List()
	if err != nil {
		return User{}, false, err
	}
	for _, u := range users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return User{}, false, nil
}

func (s *Service) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	platform := strings.ToLower(strings.TrimSpace(req.Platform))
	if platform == "" {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeMissingField, "platform is required", nil))
		return
	}
	user, found, err := s.findUser(req.UserID, req.Email)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	if req.UserID != "" && !found {
		server.Fail(w, r, errors.NewNotFoundError(errors.ErrCodeNotFound, "user not found", nil).WithContext("user_id", req.UserID))
		return
	}

	sess := Session{
		ID:                  uuid.NewString(),
		UserID:              user.ID,
		Platform:            platform,
		Status:              StatusInitiated,
		VerificationMethods: methodsFor(platform),
		CreatedAt:           s.now().UTC(),
	}
	token, expires, err := s.tokens.Issue(sess.ID, sess.UserID, platform)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	sess.ExpiresAt = expires.UTC()
	if err := s.sessions.Put(sess.ID, sess); err != nil {
		server.Fail(w, r, err)
		return
	}
	s.event(r.Context(), "session_initiated")
	s.logger.Info("Session initiated", "session_id", sess.ID, "platform", platform, "user_linked", found)

	instructions := "Submit the session token with the account password"
	if sess.VerificationMethods[0] == MethodOAuth2 {
		instructions = "Complete the OAuth2 consent flow and submit the session token with the authorization code"
	}
	server.WriteJSON(w, http.StatusCreated, map[string]any{
		"session_id":           sess.ID,
		"status":               sess.Status,
		"platform":             platform,
		"verification_methods": sess.VerificationMethods,
		"session_token":        token,
		"expires_at":           sess.ExpiresAt,
		"instructions":         instructions,
	})
}

// checkMethod returns the reason verification failed, or "" on success.
func (s *Service) checkMethod(sess Session, req verifyRequest) (string, error) {
	switch sess.VerificationMethods[0] {
	case MethodOAuth2:
		if strings.TrimSpace(req.Code) == "" {
			return "authorization code missing", nil
		}
		return "", nil
	default:
		if sess.UserID == "" {
			return "session is not linked to a registered user", nil
		}
		user, ok, err := s.users.Get(sess.UserID)
		if err != nil {
			return "", err
		}
		if !ok || user.PasswordHash == "" {
			return "no password set for user", nil
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			return "invalid credentials", nil
		}
		return "", nil
	}
}

func (s *Service) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	var req verifyRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeMissingField, "token is required", nil))
		return
	}
	sess, ok, err := s.sessions.Get(id)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	if !ok {
		server.Fail(w, r, errors.NewNotFoundError(errors.ErrCodeNotFound, "Session not found", nil).WithContext("session_id", id))
		return
	}
	claims, err := s.tokens.Parse(req.Token)
	if err == nil && claims.ID != id {
		err = errors.NewAuthError(errors.ErrCodeInvalidToken, "token does not belong to this session", nil)
	}
	if err != nil {
		s.logger.Warn("Session token rejected", "session_id", id, "error", err.Error())
		s.event(r.Context(), "token_rejected")
		server.Fail(w, r, err)
		return
	}

	reason, err := s.checkMethod(sess, req)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	err = s.sessions.Update(func(all map[string]Session) error {
		cur, ok := all[id]
		if !ok {
			return errors.NewNotFoundError(errors.ErrCodeNotFound, "Session not found", nil)
		}
		if cur.Status == StatusAuthenticated {
			sess = cur
			return nil
		}
		cur.Attempts++
		if reason != "" {
			cur.Status = StatusVerificationFailed
			cur.FailureReason = reason
		} else {
			now := s.now().UTC()
			cur.Status = StatusAuthenticated
			cur.FailureReason = ""
			cur.VerifiedAt = &now
		}
		all[id] = cur
		sess = cur
		return nil
	})
	if err != nil {
		server.Fail(w, r, err)
		return
	}

	if sess.Status != StatusAuthenticated {
		s.event(r.Context(), "verification_failed")
		s.logger.Info("Verification failed", "session_id", id, "reason", reason, "attempts", sess.Attempts)
		server.WriteJSON(w, http.StatusOK, map[string]any{
			"session_id": id,
			"status":     sess.Status,
			"verified":   false,
			"reason":     reason,
		})
		return
	}
	s.event(r.Context(), "session_authenticated")
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"session_id":  id,
		"status":      sess.Status,
		"verified":    true,
		"user_id":     sess.UserID,
		"platform":    sess.Platform,
		"verified_at": sess.VerifiedAt,
	})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	sess, ok, err := s.sessions.Get(id)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	if !ok {
		server.Fail(w, r, errors.NewNotFoundError(errors.ErrCodeNotFound, "Session not found", nil).WithContext("session_id", id))
		return
	}
	sess.Status = s.effectiveStatus(sess)
	server.WriteJSON(w, http.StatusOK, sess)
}

func (s *Service) handleTerminate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	deleted, err := s.sessions.Delete(id)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	if !deleted {
		server.Fail(w, r, errors.NewNotFoundError(errors.ErrCodeNotFound, "Session not found", nil).WithContext("session_id", id))
		return
	}
	s.event(r.Context(), "session_terminated")
	s.logger.Info("Session terminated", "session_id", id)
	server.WriteJSON(w, http.StatusOK, map[string]any{"terminated": true, "session_id": id})
}
