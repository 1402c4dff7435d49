package core

import (
	"context"
	"math"
	"net/http"
	"slices"
	"sort"
	"strings"

	"jobpilot/internal/errors"
	"jobpilot/internal/models"
	"jobpilot/internal/parser"
	"jobpilot/internal/server"
)

const maxSampleTitles = 5

// Knowledge is what the platform knows about a term: its lexicon entry and
// how the indexed job market uses it.
type Knowledge struct {
	Query             string          `json:"query"`
	ContextType       string          `json:"context_type"`
	Lexicon           parser.TermInfo `json:"lexicon"`
	Known             bool            `json:"known"`
	JobsIndexed       int             `json:"jobs_indexed"`
	JobsMentioning    int             `json:"jobs_mentioning"`
	RequiredIn        int             `json:"required_in"`
	Demand            float64         `json:"demand"`
	SampleTitles      []string        `json:"sample_titles,omitempty"`
	ProfilesWithSkill int             `json:"profiles_with_skill"`
	Relevance         float64         `json:"relevance"`
}

func (s *Service) knowledge(query, contextType string) (Knowledge, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Knowledge{}, errors.NewValidationError(errors.ErrCodeMissingField, "query is required", nil)
	}
	if contextType == "" {
		contextType = "general"
	}
	info := s.parser.Lookup(query)
	k := Knowledge{Query: query, ContextType: contextType, Lexicon: info, Known: info.Known()}

	jobs, err := s.jobs.List()
	if err != nil {
		return Knowledge{}, err
	}
	term := info.Term
	if info.Skill != "" {
		term = info.Skill
	}
	k.JobsIndexed = len(jobs)
	for _, j := range jobs {
		required := j.Requirements != nil && slices.Contains(j.Requirements.RequiredSkills, term)
		mentioned := required ||
			(j.Requirements != nil && slices.Contains(j.Requirements.NiceToHaveSkills, term)) ||
			parser.ContainsTerm(j.Title+" "+j.Description, term)
		if !mentioned && term != info.Term {
			mentioned = parser.ContainsTerm(j.Title+" "+j.Description, info.Term)
		}
		if required {
			k.RequiredIn++
		}
		if mentioned {
			k.JobsMentioning++
			if len(k.SampleTitles) < maxSampleTitles {
				k.SampleTitles = append(k.SampleTitles, j.Title)
			}
		}
	}
	if k.JobsIndexed > 0 {
		k.Demand = round3(float64(k.JobsMentioning) / float64(k.JobsIndexed))
	}

	profiles, err := s.profiles.List()
	if err != nil {
		return Knowledge{}, err
	}
	for _, p := range profiles {
		if slices.Contains(p.Skills, term) {
			k.ProfilesWithSkill++
		}
	}

	// Lexicon membership and market demand weigh equally; common words are
	// discounted by their background weight.
	rel := 0.5 * k.Demand
	if k.Known {
		rel += 0.5
	}
	k.Relevance = round3(rel * (1 - 0.5*info.BackgroundWeight))
	return k, nil
}

func (s *Service) handleKnowledge(w http.ResponseWriter, r *http.Request) {
	k, err := s.knowledge(r.PathValue("query"), r.URL.Query().Get("context_type"))
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, k)
}

func (s *Service) handleLegacyKnowledge(w http.ResponseWriter, r *http.Request) {
	k, err := s.knowledge(r.PathValue("query"), r.URL.Query().Get("context_type"))
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"query":        k.Query,
		"context_type": k.ContextType,
		"biological_context": map[string]any{
			"consciousness_data":  k.Lexicon,
			"biological_insights": map[string]any{"jobs_indexed": k.JobsIndexed, "jobs_mentioning": k.JobsMentioning, "required_in": k.RequiredIn, "demand": k.Demand, "sample_titles": k.SampleTitles},
			"knowledge_relevance": k.Relevance,
		},
		"knowledge_port_active": true,
	})
}

// Template is a CV improvement recipe expressed as adaptation knobs.
type Template struct {
	ImprovementType      string            `json:"improvement_type"`
	TemplateVersion      string            `json:"template_version"`
	ImprovementTarget    float64           `json:"improvement_target"`
	ComplexityLevel      string            `json:"complexity_level"`
	SuccessProbability   float64           `json:"success_probability"`
	ObservedApplications int               `json:"observed_applications"`
	ImplementationSteps  []string          `json:"implementation_steps"`
	Knobs                models.AdaptKnobs `json:"knobs"`
}

var templates = map[string]Template{
	"skills_alignment": {
		ComplexityLevel:     "low",
		ImplementationSteps: []string{"reorder skills by job relevance", "add missing required skills the candidate holds"},
		Knobs:               models.AdaptKnobs{ReorderSkills: true, InjectSkills: true},
	},
	"summary_focus": {
		ComplexityLevel:     "low",
		ImplementationSteps: []string{"rewrite summary around the target role", "name the strongest overlapping skills"},
		Knobs:               models.AdaptKnobs{RewriteSummary: true, SummarySkills: 3},
	},
	"experience_emphasis": {
		ComplexityLevel:     "medium",
		ImplementationSteps: []string{"move matching experience entries first", "reorder skills by job relevance"},
		Knobs:               models.AdaptKnobs{EmphasizeExperience: true, ReorderSkills: true},
	},
	"full_adaptation": {
		ComplexityLevel:     "high",
		ImplementationSteps: []string{"rewrite summary around the target role", "reorder skills by job relevance", "add missing required skills the candidate holds", "move matching experience entries first"},
		Knobs:               models.AdaptKnobs{RewriteSummary: true, ReorderSkills: true, InjectSkills: true, EmphasizeExperience: true, SummarySkills: 3},
	},
}

const (
	templateVersion   = "1"
	improvementTarget = 0.15
	// prior success probability before any matching variant has been sent
	templatePrior     = 0.5
)

// TemplateTypes lists the improvement types, sorted.
func TemplateTypes() []string {
	types := make([]string, 0, len(templates))
	for t := range templates {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// template fills the success probability from the responses observed for
// variants built with the same knobs.
func (s *Service) template(kind string) (Template, error) {
	t, ok := templates[kind]
	if !ok {
		return Template{}, errors.NewNotFoundError(errors.ErrCodeNotFound, "unknown template type", nil).
			WithContext("available", TemplateTypes())
	}
	t.ImprovementType = kind
	t.TemplateVersion = templateVersion
	t.ImprovementTarget = improvementTarget
	t.SuccessProbability = templatePrior

	variants, err := s.variants.List()
	if err != nil {
		return Template{}, err
	}
	matching := make(map[string]bool)
	for _, v := range variants {
		if v.Knobs == t.Knobs {
			matching[v.ID] = true
		}
	}
	if len(matching) == 0 {
		return t, nil
	}
	exps, err := s.expRecords.List()
	if err != nil {
		return Template{}, err
	}
	var sent, responses int
	for _, e := range exps {
		for _, st := range e.Stats {
			if matching[st.VariantID] {
				sent += st.ApplicationsSent
				responses += st.Responses
			}
		}
	}
	if sent > 0 {
		t.ObservedApplications = sent
		t.SuccessProbability = round3(float64(responses) / float64(sent))
	}
	return t, nil
}

func (s *Service) handleTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.template(r.PathValue("type"))
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, t)
}

func (s *Service) handleLegacyTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.template(r.PathValue("type"))
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"improvement_type":      t.ImprovementType,
		"evolutionary_template": t,
		"evolution_port_active": true,
	})
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

// peerNames lists the services with a forwarding URL.
func (s *Service) peerNames() []string {
	var names []string
	for _, n := range []string{"auth", "core", "cv", "email", "translation"} {
		if ep, ok := s.peers.Endpoint(n); ok && ep.URL != "" {
			names = append(names, n)
		}
	}
	return names
}

func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request) {
	out, err := s.metrics(r.Context())
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, out)
}

func (s *Service) metrics(_ context.Context) (map[string]any, error) {
	profiles, err := s.profiles.Load()
	if err != nil {
		return nil, err
	}
	cvs, err := s.cvs.Load()
	if err != nil {
		return nil, err
	}
	jobs, err := s.jobs.Load()
	if err != nil {
		return nil, err
	}
	exps, err := s.experiments.List()
	if err != nil {
		return nil, err
	}
	apps, err := s.appRecords.List()
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.List()
	if err != nil {
		return nil, err
	}

	byStatus := map[string]int{}
	for _, e := range exps {
		byStatus[string(e.Status)]++
	}
	due := 0
	for _, a := range apps {
		if a.FollowUpDue {
			due++
		}
	}
	byRoute := map[string]int{}
	for _, m := range msgs {
		byRoute[m.Route]++
	}
	out := map[string]any{
		"profiles":              len(profiles),
		"cvs":                   len(cvs),
		"jobs_indexed":          len(jobs),
		"experiments_by_status": byStatus,
		"applications":          len(apps),
		"follow_ups_due":        due,
		"messages_by_route":     byRoute,
		"embedder_version":      s.ranker.EmbedderVersion(),
		"lexicon_version":       s.parser.LexiconVersion(),
	}
	if s.counters != nil {
		out["requests"] = s.counters.Snapshot()
	}
	return out, nil
}
