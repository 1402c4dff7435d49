package core

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"jobpilot/internal/errors"
	"jobpilot/internal/ingestion"
	"jobpilot/internal/models"
	"jobpilot/internal/ranker"
	"jobpilot/internal/server"
)

type parseRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Service) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeMissingField, "description is required", nil))
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"requirements":    s.parser.ParseJob(req.Title, req.Description),
		"lexicon_version": s.parser.LexiconVersion(),
	})
}

func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request) {
	var q ingestion.Query
	if err := server.ParseJSONRequest(r, &q); err != nil {
		server.Fail(w, r, err)
		return
	}
	res, err := s.ingestion.Ingest(r.Context(), q)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":           res.Jobs,
		"count":          len(res.Jobs),
		"synthetic_used": res.SyntheticUsed,
		"adapter_errors": res.AdapterErrors,
	})
}

// SearchResult is the outcome of ingest, parse and rank for one profile.
type SearchResult struct {
	Jobs             []ranker.Ranked          `json:"jobs"`
	Candidates       int                      `json:"total_candidates"`
	SyntheticUsed    bool                     `json:"synthetic_used"`
	SemanticDegraded bool                     `json:"semantic_degraded"`
	EmbedderVersion  string                   `json:"embedder_version"`
	AdapterErrors    []ingestion.AdapterError `json:"adapter_errors"`
}

// searchKeywords falls back to the first target role, then to the leading skills.
func searchKeywords(p models.CandidateProfile) string {
	for _, role := range p.TargetRoles {
		if role = strings.TrimSpace(role); role != "" {
			return role
		}
	}
	skills := models.NormalizeTerms(p.Skills)
	if len(skills) > 3 {
		skills = skills[:3]
	}
	return strings.Join(skills, " ")
}

// Search ingests for the profile, parses each posting and ranks the result.
// limit <= 0 keeps every ranked job.
func (s *Service) Search(ctx context.Context, profile models.CandidateProfile, q ingestion.Query, limit int) (SearchResult, error) {
	if len(models.NormalizeTerms(profile.Skills)) == 0 {
		return SearchResult{}, errors.NewValidationError(errors.ErrCodeMissingField, "profile skills must not be empty for ranking", nil)
	}
	if strings.TrimSpace(q.Keywords) == "" {
		q.Keywords = searchKeywords(profile)
	}
	if strings.TrimSpace(q.Location) == "" {
		q.Location = profile.Location
	}
	res, err := s.ingestion.Ingest(ctx, q)
	if err != nil {
		return SearchResult{}, err
	}

	jobs := make([]models.Job, len(res.Jobs))
	for i, j := range res.Jobs {
		req := s.parser.ParseJob(j.Title, j.Description)
		j.Requirements = &req
		jobs[i] = j
	}
	s.storeRequirements(jobs)

	ranked, err := s.ranker.Rank(ctx, profile, jobs)
	if err != nil {
		return SearchResult{}, err
	}
	out := SearchResult{
		Candidates:      len(ranked),
		SyntheticUsed:   res.SyntheticUsed,
		EmbedderVersion: s.ranker.EmbedderVersion(),
		AdapterErrors:   res.AdapterErrors,
	}
	for _, rk := range ranked {
		if rk.Ranking.SemanticDegraded {
			out.SemanticDegraded = true
		}
	}
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out.Jobs = ranked
	return out, nil
}

// storeRequirements attaches parsed requirements to stored jobs that lack them.
func (s *Service) storeRequirements(jobs []models.Job) {
	err := s.jobs.Update(func(all map[string]models.Job) error {
		for _, j := range jobs {
			if rec, ok := all[j.Fingerprint]; ok && rec.Requirements == nil {
				rec.Requirements = j.Requirements
				all[j.Fingerprint] = rec
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Parsed requirements not stored", "error", err.Error())
	}
}

type rankedSearchRequest struct {
	ProfileID string                   `json:"profile_id"`
	Profile   *models.CandidateProfile `json:"profile"`
	Query     ingestion.Query          `json:"query"`
	Limit     int                      `json:"limit"`
}

func (s *Service) handleRankedSearch(w http.ResponseWriter, r *http.Request) {
	var req rankedSearchRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	var profile models.CandidateProfile
	switch {
	case req.Profile != nil:
		profile = *req.Profile
	case req.ProfileID != "":
		p, err := s.loadProfile(req.ProfileID)
		if err != nil {
			server.Fail(w, r, err)
			return
		}
		profile = p
	default:
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeMissingField, "profile or profile_id is required", nil))
		return
	}
	res, err := s.Search(r.Context(), profile, req.Query, req.Limit)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	s.event(r.Context(), "ranked_search", 1)
	server.WriteJSON(w, http.StatusOK, res)
}

type legacyProfile struct {
	Skills             []string `json:"skills"`
	YearsExperience    int      `json:"years_experience"`
	ExperienceYears    int      `json:"experience_years"`
	Location           string   `json:"location"`
	ProfessionalDomain string   `json:"professional_domain"`
	TargetRoles        []string `json:"target_roles"`
}

type legacySearchRequest struct {
	Profile  json.RawMessage `json:"biological_profile"`
	Guidance bool            `json:"consciousness_guidance_request"`
	Limit    int             `json:"limit"`
}

// handleLegacySearch serves the ranked search under its former name and field names.
func (s *Service) handleLegacySearch(w http.ResponseWriter, r *http.Request) {
	var req legacySearchRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	var lp legacyProfile
	if len(req.Profile) > 0 {
		if err := json.Unmarshal(req.Profile, &lp); err != nil {
			server.Fail(w, r, errors.NewValidationError(errors.ErrCodeInvalidRequest, "biological_profile must be an object", err))
			return
		}
	}
	profile := models.CandidateProfile{
		Skills:          lp.Skills,
		YearsExperience: max(lp.YearsExperience, lp.ExperienceYears),
		Location:        lp.Location,
		TargetRoles:     lp.TargetRoles,
	}
	res, err := s.Search(r.Context(), profile, ingestion.Query{Keywords: lp.ProfessionalDomain}, req.Limit)
	if err != nil {
		server.Fail(w, r, err)
		return
	}

	aligned := make([]map[string]any, 0, len(res.Jobs))
	for _, rk := range res.Jobs {
		aligned = append(aligned, map[string]any{
			"job_id":                        rk.Job.Fingerprint,
			"title":                         rk.Job.Title,
			"company":                       rk.Job.Company,
			"location":                      rk.Job.Location,
			"source":                        rk.Job.Source,
			"consciousness_alignment_score": rk.Ranking.Score,
			"components":                    rk.Ranking.Components,
		})
	}
	s.event(r.Context(), "ranked_search", 1)
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"biological_search_profile":          req.Profile,
		"consciousness_guided_search_active": req.Guidance,
		"consciousness_aligned_jobs":         aligned,
		"synthetic_used":                     res.SyntheticUsed,
		"semantic_degraded":                  res.SemanticDegraded,
		"embedder_version":                   res.EmbedderVersion,
	})
}
