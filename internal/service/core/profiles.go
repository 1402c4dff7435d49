package core

import (
	"net/http"
	"strings"

	"jobpilot/internal/errors"
	"jobpilot/internal/models"
	"jobpilot/internal/server"
)

func (s *Service) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	var p models.CandidateProfile
	if err := server.ParseJSONRequest(r, &p); err != nil {
		server.Fail(w, r, err)
		return
	}
	p.ID = id
	p.Normalize()
	p.UpdatedAt = s.now().UTC()

	created := false
	err := s.profiles.Update(func(all map[string]models.CandidateProfile) error {
		prev, ok := all[id]
		created = !ok
		p.Version = prev.Version + 1
		all[id] = p
		return nil
	})
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	s.logger.Info("Profile stored", "profile_id", id, "version", p.Version, "skills", len(p.Skills))
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	server.WriteJSON(w, status, p)
}

func (s *Service) loadProfile(id string) (models.CandidateProfile, error) {
	p, ok, err := s.profiles.Get(id)
	if err != nil {
		return models.CandidateProfile{}, err
	}
	if !ok {
		return models.CandidateProfile{}, errors.NewNotFoundError(errors.ErrCodeNotFound, "Profile not found", nil).WithContext("profile_id", id)
	}
	return p, nil
}

func (s *Service) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.loadProfile(r.PathValue("id"))
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, p)
}

func (s *Service) handlePutCV(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	var cv models.CV
	if err := server.ParseJSONRequest(r, &cv); err != nil {
		server.Fail(w, r, err)
		return
	}
	if cv.IsEmpty() {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeMissingField, "CV content required", nil))
		return
	}
	cv.ID = id

	created := false
	err := s.cvs.Update(func(all map[string]models.CV) error {
		_, ok := all[id]
		created = !ok
		all[id] = cv
		return nil
	})
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	s.logger.Info("CV stored", "cv_id", id, "skills", len(cv.Skills), "experience", len(cv.Experience),
		"summary", errors.TruncateForLog(cv.Summary, errors.LogExcerptRunes))
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	server.WriteJSON(w, status, cv)
}

func (s *Service) loadCV(id string) (models.CV, error) {
	cv, ok, err := s.cvs.Get(id)
	if err != nil {
		return models.CV{}, err
	}
	if !ok {
		return models.CV{}, errors.NewNotFoundError(errors.ErrCodeNotFound, "CV not found", nil).WithContext("cv_id", id)
	}
	return cv, nil
}

func (s *Service) handleGetCV(w http.ResponseWriter, r *http.Request) {
	cv, err := s.loadCV(r.PathValue("id"))
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, cv)
}
