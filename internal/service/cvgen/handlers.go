package cvgen

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"jobpilot/internal/cvadapt"
	"jobpilot/internal/errors"
	"jobpilot/internal/models"
	"jobpilot/internal/parser"
	"jobpilot/internal/render"
	"jobpilot/internal/server"
)

type initiateRequest struct {
	UserID            string                  `json:"user_id"`
	Platform          string                  `json:"platform"`
	UserProfile       models.CandidateProfile `json:"user_profile"`
	TargetRole        string                  `json:"target_role"`
	TargetDescription string                  `json:"target_description"`
	Language          string                  `json:"language"`
	OptimizationLevel string                  `json:"optimization_level"`
	OutputFormats     []string                `json:"output_formats"`
}

func (s *Service) validFormats(in []string) ([]string, error) {
	if len(in) == 0 {
		return []string{render.FormatPDF}, nil
	}
	out := make([]string, 0, len(in))
	for _, f := range in {
		f = render.Normalize(f)
		if !s.registry.Supports(models.CV{}, f) {
			return nil, errors.NewValidationError(errors.ErrCodeInvalidRequest, "unsupported output format "+f, nil).
				WithContext("formats_supported", s.cvFormats())
		}
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Service) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	formats, err := s.validFormats(req.OutputFormats)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	level := strings.ToLower(strings.TrimSpace(req.OptimizationLevel))
	if level == "" {
		level = LevelAdvanced
	}
	if level != LevelBasic && level != LevelAdvanced {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeInvalidRequest, "optimization_level must be basic or advanced", nil))
		return
	}
	lang := strings.ToLower(strings.TrimSpace(req.Language))
	if !slices.Contains(supportedLanguages, lang) {
		lang = "en"
	}
	req.UserProfile.Normalize()

	now := s.now().UTC()
	sess := Session{
		ID:                "cv_" + uuid.NewString(),
		UserID:            req.UserID,
		Platform:          req.Platform,
		Status:            StatusInitiated,
		UserProfile:       req.UserProfile,
		TargetRole:        strings.TrimSpace(req.TargetRole),
		TargetDescription: strings.TrimSpace(req.TargetDescription),
		Language:          lang,
		OptimizationLevel: level,
		OutputFormats:     formats,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.sessions.Put(sess.ID, sess); err != nil {
		server.Fail(w, r, err)
		return
	}
	s.logger.Info("CV session initiated", "session_id", sess.ID, "formats", formats, "level", level,
		"target_role", errors.TruncateForLog(sess.TargetRole, errors.LogExcerptRunes),
		"target_description", errors.TruncateForLog(sess.TargetDescription, errors.LogExcerptRunes))
	server.WriteJSON(w, http.StatusCreated, map[string]any{
		"session_id":          sess.ID,
		"status":              sess.Status,
		"supported_languages": supportedLanguages,
		"language":            lang,
		"optimization_mode":   level,
		"output_formats":      formats,
	})
}

// roleCoverage is the fraction of target-role terms present in the CV text.
func roleCoverage(cv models.CV, role string) float64 {
	terms := models.NormalizeTerms(strings.Fields(role))
	if len(terms) == 0 {
		return 0
	}
	text := cvadapt.Text(cv)
	hit := 0
	for _, t := range terms {
		if parser.ContainsTerm(text, t) {
			hit++
		}
	}
	return float64(int64(float64(hit)/float64(len(terms))*10000+0.5)) / 10000
}

type generateRequest struct {
	models.CV
	OutputFormats []string `json:"output_formats"`
}

func (s *Service) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	var req generateRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	sess, ok, err := s.sessions.Get(id)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	if !ok {
		server.Fail(w, r, errors.NewNotFoundError(errors.ErrCodeNotFound, "CV session not found", nil).WithContext("session_id", id))
		return
	}
	if req.CV.IsEmpty() {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeMissingField, "CV content required", nil))
		return
	}
	formats := sess.OutputFormats
	if len(req.OutputFormats) > 0 {
		if formats, err = s.validFormats(req.OutputFormats); err != nil {
			server.Fail(w, r, err)
			return
		}
	}
	cv := req.CV
	if cv.ID == "" {
		cv.ID = sess.ID
	}

	content := cv
	var variant *models.CVVariant
	score := roleCoverage(cv, sess.TargetRole)
	if sess.TargetDescription != "" {
		reqs := s.parser.ParseJob(sess.TargetRole, sess.TargetDescription)
		fp := models.Fingerprint(sess.TargetRole, "", "", sess.TargetDescription)
		v, err := s.adapter.Adapt(r.Context(), cv, fp, reqs, knobsFor(sess.OptimizationLevel))
		if err != nil {
			s.fail(id, err)
			server.Fail(w, r, err)
			return
		}
		variant = &v
		content = v.Content
		score = v.AlignmentScore
	}

	files := make([]GeneratedFile, 0, len(formats))
	for i, f := range formats {
		data, err := s.registry.Format(content, f)
		if err != nil {
			err = errors.NewInternalError(errors.ErrCodeRenderFailed, "rendering "+f+" failed", err)
			s.fail(id, err)
			server.Fail(w, r, err)
			return
		}
		name := fmt.Sprintf("%s_%d_%d.%s", sess.ID, len(sess.Generations)+i+1, s.now().Unix(), f)
		if err := s.writeDownload(name, data); err != nil {
			s.fail(id, err)
			server.Fail(w, r, err)
			return
		}
		gf := GeneratedFile{
			Format:            f,
			Filename:          name,
			DownloadURL:       "/download/" + name,
			Bytes:             len(data),
			OptimizationScore: score,
			GeneratedAt:       s.now().UTC(),
		}
		if variant != nil {
			gf.VariantID = variant.ID
		}
		files = append(files, gf)
	}

	err = s.sessions.Update(func(all map[string]Session) error {
		cur, ok := all[id]
		if !ok {
			return errors.NewNotFoundError(errors.ErrCodeNotFound, "CV session not found", nil)
		}
		cur.Generations = append(cur.Generations, files...)
		cur.Status = StatusCompleted
		cur.Error = ""
		cur.UpdatedAt = s.now().UTC()
		all[id] = cur
		return nil
	})
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	s.om.GetMetrics().RecordPipelineMetric(r.Context(), "service_event", int64(len(files)), s.om,
		attribute.String("service", Name), attribute.String("event", "cv_generated"))
	s.logger.Info("CV generated", "session_id", id, "files", len(files), "optimization_score", score, "adapted", variant != nil)

	resp := map[string]any{
		"session_id":         id,
		"status":             StatusCompleted,
		"cv_generated":       true,
		"format":             files[0].Format,
		"download_url":       files[0].DownloadURL,
		"optimization_score": score,
		"keywords_optimized": true,
		"adaptation_applied": variant != nil,
		"files":              files,
	}
	if variant != nil {
		resp["variant_id"] = variant.ID
		resp["modifications"] = len(variant.Modifications)
		resp["skills_alignment"] = variant.SkillsAlignment
	}
	server.WriteJSON(w, http.StatusOK, resp)
}

// fail marks the session generation_failed. Errors here are logged only.
func (s *Service) fail(id string, cause error) {
	err := s.sessions.Update(func(all map[string]Session) error {
		cur, ok := all[id]
		if !ok {
			return nil
		}
		cur.Status = StatusGenerationFailed
		cur.Error = cause.Error()
		cur.UpdatedAt = s.now().UTC()
		all[id] = cur
		return nil
	})
	if err != nil {
		s.logger.LogError(err, "Session state not updated", "session_id", id)
	}
	s.logger.LogError(cause, "CV generation failed", "session_id", id)
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	sess, ok, err := s.sessions.Get(id)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	if !ok {
		server.Fail(w, r, errors.NewNotFoundError(errors.ErrCodeNotFound, "CV session not found", nil).WithContext("session_id", id))
		return
	}
	server.WriteJSON(w, http.StatusOK, sess)
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	sess, ok, err := s.sessions.Get(id)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	if !ok {
		server.Fail(w, r, errors.NewNotFoundError(errors.ErrCodeNotFound, "CV session not found", nil).WithContext("session_id", id))
		return
	}
	if _, err := s.sessions.Delete(id); err != nil {
		server.Fail(w, r, err)
		return
	}
	removed := s.removeFiles(sess)
	s.logger.Info("CV session removed", "session_id", id, "files_removed", removed)
	server.WriteJSON(w, http.StatusOK, map[string]any{"terminated": true, "session_id": id, "files_removed": removed})
}

func (s *Service) handleTemplates(w http.ResponseWriter, r *http.Request) {
	formats := s.cvFormats()
	templates := make([]map[string]string, 0, len(formats))
	for _, f := range formats {
		templates = append(templates, map[string]string{"format": f, "content_type": render.ContentType(f)})
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"templates":           templates,
		"formats_supported":   formats,
		"languages_supported": supportedLanguages,
		"optimization_levels": []string{LevelBasic, LevelAdvanced},
	})
}

type adaptRequest struct {
	CV             models.CV               `json:"cv"`
	Description    string                  `json:"description"`
	Title          string                  `json:"title"`
	Requirements   *models.JobRequirements `json:"requirements"`
	JobFingerprint string                  `json:"job_fingerprint"`
	Knobs          *models.AdaptKnobs      `json:"knobs"`
}

func (s *Service) handleAdapt(w http.ResponseWriter, r *http.Request) {
	var req adaptRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	var reqs models.JobRequirements
	switch {
	case req.Requirements != nil:
		reqs = *req.Requirements
	case strings.TrimSpace(req.Description) != "":
		reqs = s.parser.ParseJob(req.Title, req.Description)
	default:
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeMissingField, "description or requirements required", nil))
		return
	}
	fp := req.JobFingerprint
	if fp == "" {
		fp = models.Fingerprint(req.Title, "", "", req.Description)
	}
	knobs := cvadapt.DefaultKnobs()
	if req.Knobs != nil {
		knobs = *req.Knobs
	}
	v, err := s.adapter.Adapt(r.Context(), req.CV, fp, reqs, knobs)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, v)
}

func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request) {
	all, err := s.sessions.List()
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	var generated, uploads, active int
	var scoreSum float64
	byFormat := map[string]int{}
	for _, sess := range all {
		if sess.Status == StatusInitiated {
			active++
		}
		if sess.Upload != nil {
			uploads++
		}
		for _, g := range sess.Generations {
			generated++
			scoreSum += g.OptimizationScore
			byFormat[g.Format]++
		}
	}
	avg := 0.0
	if generated > 0 {
		avg = float64(int64(scoreSum/float64(generated)*1000+0.5)) / 1000
	}
	resp := map[string]any{
		"total_sessions":             len(all),
		"active_sessions":            active,
		"templates_stored":           uploads,
		"total_cvs_generated":        generated,
		"formats_generated":          byFormat,
		"average_optimization_score": avg,
		"languages_supported":        len(supportedLanguages),
	}
	if s.counters != nil {
		resp["requests"] = s.counters.Snapshot()
	}
	server.WriteJSON(w, http.StatusOK, resp)
}
