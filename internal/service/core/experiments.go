package core

import (
	"net/http"
	"strings"
	"time"

	"jobpilot/internal/errors"
	"jobpilot/internal/experiment"
	"jobpilot/internal/models"
	"jobpilot/internal/render"
	"jobpilot/internal/scheduler"
	"jobpilot/internal/server"
)

const defaultVariantCount = 3

type createExperimentRequest struct {
	CandidateID    string                  `json:"candidate_id"`
	CVID           string                  `json:"cv_id"`
	CV             *models.CV              `json:"cv"`
	JobFingerprint string                  `json:"job_fingerprint"`
	Requirements   *models.JobRequirements `json:"requirements"`
	Title          string                  `json:"title"`
	Description    string                  `json:"description"`
	VariantCount   int                     `json:"variant_count"`
}

func (s *Service) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}

	var parent models.CV
	switch {
	case req.CVID != "":
		cv, err := s.loadCV(req.CVID)
		if err != nil {
			server.Fail(w, r, err)
			return
		}
		parent = cv
	case req.CV != nil && !req.CV.IsEmpty():
		parent = *req.CV
	default:
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeMissingField, "cv_id or cv is required", nil))
		return
	}

	var reqs models.JobRequirements
	switch {
	case req.Requirements != nil:
		reqs = *req.Requirements
	case strings.TrimSpace(req.Description) != "":
		reqs = s.parser.ParseJob(req.Title, req.Description)
	default:
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeMissingField, "requirements or description is required", nil))
		return
	}
	fp := req.JobFingerprint
	if fp == "" && req.Description != "" {
		fp = models.Fingerprint(req.Title, "", "", req.Description)
	}
	n := req.VariantCount
	if n == 0 {
		n = defaultVariantCount
	}

	exp, variants, err := s.experiments.Create(r.Context(), experiment.CreateRequest{
		CandidateID:    req.CandidateID,
		Parent:         parent,
		JobFingerprint: fp,
		Requirements:   reqs,
		VariantCount:   n,
	})
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	s.event(r.Context(), "experiment_created", 1)
	server.WriteJSON(w, http.StatusCreated, map[string]any{"experiment": exp, "variants": variants})
}

func (s *Service) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	exp, variants, err := s.experiments.Get(id)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	apps, err := s.experiments.Applications(id)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"experiment": exp, "variants": variants, "applications": apps})
}

type assignRequest struct {
	Platform           string     `json:"platform"`
	Company            string     `json:"company"`
	VariantID          string     `json:"variant_id"`
	SubmittedAt        *time.Time `json:"submitted_at"`
	SuccessProbability float64    `json:"success_probability"`
}

func (s *Service) handleAssign(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req assignRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	req.Platform = strings.ToLower(strings.TrimSpace(req.Platform))
	if req.Platform == "" {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeMissingField, "platform is required", nil))
		return
	}
	_, variants, err := s.experiments.Get(id)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	alignment := make(map[string]float64, len(variants))
	for _, v := range variants {
		alignment[v.ID] = v.AlignmentScore
	}

	ar := experiment.AssignRequest{
		ExperimentID: id,
		Platform:     req.Platform,
		Company:      strings.TrimSpace(req.Company),
		VariantID:    req.VariantID,
		// The follow-up class uses the caller's estimate, else the variant's alignment.
		FollowUpFor: func(platform string, submitted time.Time, variantID string) *time.Time {
			p := req.SuccessProbability
			if p <= 0 {
				p = alignment[variantID]
			}
			fu := scheduler.PlanFollowUp(scheduler.Intent{VariantID: variantID, Platform: platform, SuccessProbability: p}, submitted)
			return &fu.Date
		},
	}
	if req.SubmittedAt != nil {
		ar.SubmittedAt = *req.SubmittedAt
	}
	app, err := s.experiments.Assign(r.Context(), ar)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	s.event(r.Context(), "application_assigned", 1)
	server.WriteJSON(w, http.StatusCreated, app)
}

func (s *Service) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var update models.OutcomeUpdate
	if err := server.ParseJSONRequest(r, &update); err != nil {
		server.Fail(w, r, err)
		return
	}
	app, exp, err := s.experiments.RecordOutcome(r.Context(), r.PathValue("id"), update)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"application": app, "experiment": exp})
}

func (s *Service) handleReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	exp, variants, err := s.experiments.Get(id)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	apps, err := s.experiments.Applications(id)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	data, err := s.registry.Format(render.ExperimentReport{Experiment: exp, Variants: variants, Applications: apps}, render.FormatXLSX)
	if err != nil {
		server.Fail(w, r, errors.NewInternalError(errors.ErrCodeRenderFailed, "experiment report failed", err))
		return
	}
	w.Header().Set("Content-Type", render.ContentType(render.FormatXLSX))
	w.Header().Set("Content-Disposition", `attachment; filename="experiment-`+id+`.xlsx"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("Report not fully written", "experiment_id", id, "error", err.Error())
	}
}

type scheduleRequest struct {
	Intents     []scheduler.Intent    `json:"intents"`
	Constraints scheduler.Constraints `json:"constraints"`
	Start       *time.Time            `json:"start"`
}

func (s *Service) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	start := s.now()
	if req.Start != nil {
		start = *req.Start
	}
	res, err := s.scheduler.Plan(r.Context(), req.Intents, req.Constraints, start)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, res)
}
