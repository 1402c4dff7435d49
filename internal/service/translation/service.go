// Package translation implements the translation service: sentiment
// analysis, translation with cultural adaptation and language profiles.
package translation

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"jobpilot/internal/errors"
	"jobpilot/internal/observability"
	"jobpilot/internal/resilience"
	"jobpilot/internal/server"
	"jobpilot/internal/store"
	"jobpilot/internal/translate"
)

const Name = "translation"

// Analysis kinds.
const (
	KindSentiment   = "sentiment"
	KindTranslation = "translation"
)

// Analysis is an analyses.json record. Result holds either a
// translate.Sentiment or a translate.Translation depending on Kind.
type Analysis struct {
	ID        string    `json:"analysis_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Language  string    `json:"language"`
	Target    string    `json:"target_language,omitempty"`
	TextChars int       `json:"text_chars"`
	Result    any       `json:"result"`
	CreatedAt time.Time `json:"created_at"`
}

type modelInfoer interface {
	ModelInfo(ctx context.Context) translate.ModelInfo
}

// Service serves the translation endpoints.
type Service struct {
	translator *translate.Service
	analyses   *store.Collection[Analysis]
	om         *observability.ObservabilityManager
	logger     *errors.Logger
	now        func() time.Time
}

// New wraps translator. Analyses are recorded in st.
func New(translator *translate.Service, st *store.Store, om *observability.ObservabilityManager, logger *errors.Logger) (*Service, error) {
	if logger == nil {
		logger = errors.NewNop()
	}
	s := &Service{
		translator: translator,
		analyses:   store.NewCollection[Analysis](st, store.AnalysesFile),
		om:         om,
		logger:     logger.With("component", "translation"),
		now:        time.Now,
	}
	if err := s.analyses.Verify(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) Name() string { return Name }

func (s *Service) Routes() []server.Route {
	return []server.Route{
		{Pattern: "POST /analyze/sentiment", Handler: s.handleSentiment, Summary: "Lexicon sentiment with cultural adjustment"},
		{Pattern: "POST /translate/content", Handler: s.handleTranslate, Summary: "Translate text between supported languages"},
		{Pattern: "GET /languages/supported", Handler: s.handleLanguages, Summary: "Languages of the active backend"},
		{Pattern: "GET /cultural/adaptation/{code}", Handler: s.handleCultural, Summary: "Cultural profile of a language"},
		{Pattern: "GET /analysis/status/{id}", Handler: s.handleAnalysis, Summary: "Stored analysis result"},
	}
}

func (s *Service) codes() []string {
	langs := s.translator.Languages()
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		out = append(out, l.Code)
	}
	return out
}

func (s *Service) Info() map[string]any {
	n, _ := s.analysisCount()
	return map[string]any{
		"features":            []string{"sentiment_analysis", "translation", "cultural_adaptation"},
		"supported_languages": s.codes(),
		"backend":             s.translator.Backend().Name(),
		"active_analysis":     n,
	}
}

func (s *Service) analysisCount() (int, error) {
	all, err := s.analyses.List()
	return len(all), err
}

// Breakers implements server.BreakerSource.
func (s *Service) Breakers() map[string]resilience.Status { return s.translator.Breakers() }

func (s *Service) Health(ctx context.Context) map[string]any {
	resp := map[string]any{
		"language_processing": "active",
		"cultural_adaptation": "active",
		"languages_supported": len(s.translator.Languages()),
		"translation_backend": s.translator.Backend().Name(),
	}
	if mi, ok := s.translator.Backend().(modelInfoer); ok {
		info := mi.ModelInfo(ctx)
		resp["model"] = info
		if !info.Available {
			resp["language_processing"] = "degraded"
		}
	}
	if err := s.analyses.Verify(); err != nil {
		resp["status"] = "degraded"
	}
	return resp
}

func (s *Service) record(ctx context.Context, a Analysis) {
	if err := s.analyses.Put(a.ID, a); err != nil {
		s.logger.LogError(err, "Analysis not recorded", "analysis_id", a.ID)
	}
	s.om.GetMetrics().RecordPipelineMetric(ctx, "service_event", 1, s.om,
		attribute.String("service", Name), attribute.String("event", a.Kind))
}

type sentimentRequest struct {
	Text            string `json:"text"`
	Language        string `json:"language"`
	CulturalContext string `json:"cultural_context,omitempty"`
}

func (s *Service) handleSentiment(w http.ResponseWriter, r *http.Request) {
	var req sentimentRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeMissingField, "Text content required", nil))
		return
	}
	lang := strings.ToLower(strings.TrimSpace(req.Language))
	if lang == "" {
		lang = "en"
	}
	profile, ok := translate.LookupLanguage(lang)
	if !ok || !profile.SentimentAvailable {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeUnsupportedLanguage,
			"Sentiment analysis not available for language", nil).WithContext("language", lang))
		return
	}

	sent := translate.AnalyzeSentiment(req.Text, lang)
	a := Analysis{
		ID:        uuid.NewString(),
		Kind:      KindSentiment,
		Status:    "completed",
		Language:  lang,
		TextChars: len([]rune(req.Text)),
		Result:    sent,
		CreatedAt: s.now().UTC(),
	}
	s.record(r.Context(), a)
	s.logger.Debug("Sentiment analysed", "analysis_id", a.ID, "language", lang, "label", sent.Label,
		"text", errors.TruncateForLog(req.Text, errors.LogExcerptRunes))

	culturalContext := sent.CulturalContext
	if req.CulturalContext != "" {
		culturalContext = req.CulturalContext
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"analysis_id":      a.ID,
		"sentiment_result": sent,
		"language":         lang,
		"cultural_context": culturalContext,
	})
}

type translateRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

func (s *Service) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := server.ParseJSONRequest(r, &req); err != nil {
		server.Fail(w, r, err)
		return
	}
	source := req.SourceLanguage
	if strings.TrimSpace(source) == "" {
		source = "en"
	}
	res, err := s.translator.Translate(r.Context(), req.Text, source, req.TargetLanguage)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	a := Analysis{
		ID:        uuid.NewString(),
		Kind:      KindTranslation,
		Status:    "completed",
		Language:  res.SourceLanguage,
		Target:    res.TargetLanguage,
		TextChars: len([]rune(req.Text)),
		Result:    res,
		CreatedAt: s.now().UTC(),
	}
	s.record(r.Context(), a)
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"translation_id":     a.ID,
		"translation_result": res,
		"source_language":    res.SourceLanguage,
		"target_language":    res.TargetLanguage,
	})
}

func (s *Service) handleLanguages(w http.ResponseWriter, r *http.Request) {
	langs := s.translator.Languages()
	profiles := make(map[string]any, len(langs))
	for _, l := range langs {
		profiles[l.Code] = map[string]any{
			"cultural_factor":  l.CulturalFactor,
			"cultural_domains": l.CulturalDomains,
		}
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"supported_languages":          langs,
		"cultural_adaptation_profiles": profiles,
		"backend":                      s.translator.Backend().Name(),
	})
}

func (s *Service) handleCultural(w http.ResponseWriter, r *http.Request) {
	code := strings.ToLower(r.PathValue("code"))
	l, ok := translate.LookupLanguage(code)
	if !ok {
		server.Fail(w, r, errors.NewNotFoundError(errors.ErrCodeNotFound, "Language not found", nil).WithContext("language", code))
		return
	}
	domains := append([]string(nil), l.CulturalDomains...)
	sort.Strings(domains)
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"language_code":        l.Code,
		"language_name":        l.Name,
		"cultural_factor":      l.CulturalFactor,
		"cultural_domains":     domains,
		"sentiment_available":  l.SentimentAvailable,
		"supported_by_backend": s.translator.Supports(l.Code),
	})
}

func (s *Service) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, ok, err := s.analyses.Get(id)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	if !ok {
		server.Fail(w, r, errors.NewNotFoundError(errors.ErrCodeNotFound, "Analysis not found", nil).WithContext("analysis_id", id))
		return
	}
	server.WriteJSON(w, http.StatusOK, a)
}
