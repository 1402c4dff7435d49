// Package translate translates application material between languages and
// scores its sentiment.
//
// Two backends exist: a Gemini model for the full language set and a
// built-in glossary for the European languages. The advertised language set
// is always the one of the active backend. Results are cached on disk keyed
// by backend, language pair and a hash of the text.
package translate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"slices"
	"strings"
	"time"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"
	"jobpilot/internal/observability"
	"jobpilot/internal/resilience"
	"jobpilot/internal/store"
)

// Backend performs the actual translation.
type Backend interface {
	Name() string
	Languages() []string
	// Translate returns the translated text and a confidence in [0,1].
	Translate(ctx context.Context, text, source, target string) (string, float64, error)
}

// Language describes one language the platform knows about.
type Language struct {
	Code               string   `json:"code"`
	Name               string   `json:"name"`
	SentimentAvailable bool     `json:"sentiment_available"`
	CulturalDomains    []string `json:"cultural_domains"`
	CulturalFactor     float64  `json:"cultural_factor"`
}

var languages = map[string]Language{
	"en": {Name: "English", SentimentAvailable: true, CulturalDomains: []string{"individual", "professional", "digital"}},
	"es": {Name: "Spanish", SentimentAvailable: true, CulturalDomains: []string{"familial", "emotional", "traditional"}},
	"fr": {Name: "French", SentimentAvailable: true, CulturalDomains: []string{"intellectual", "artistic", "social"}},
	"de": {Name: "German", SentimentAvailable: true, CulturalDomains: []string{"technical", "organizational", "analytical"}},
	"it": {Name: "Italian", SentimentAvailable: true, CulturalDomains: []string{"emotional", "creative", "hospitality"}},
	"pt": {Name: "Portuguese", SentimentAvailable: true, CulturalDomains: []string{"relational", "adaptable", "expressive"}},
	"ja": {Name: "Japanese", CulturalDomains: []string{"harmonious", "indirect", "respectful"}},
	"zh": {Name: "Chinese", CulturalDomains: []string{"relational", "hierarchical", "collective"}},
	"hi": {Name: "Hindi", CulturalDomains: []string{"spiritual", "familial", "resilient"}},
}

// LookupLanguage returns the profile of code.
func LookupLanguage(code string) (Language, bool) {
	l, ok := languages[strings.ToLower(code)]
	if !ok {
		return Language{}, false
	}
	l.Code = strings.ToLower(code)
	l.CulturalFactor = CulturalFactor(l.Code)
	return l, true
}

func languageName(code string) string {
	if l, ok := languages[code]; ok {
		return l.Name
	}
	return code
}

// Translation is the result of one translation request.
type Translation struct {
	TranslatedText            string  `json:"translated_text"`
	SourceLanguage            string  `json:"source_language"`
	TargetLanguage            string  `json:"target_language"`
	ConfidenceScore           float64 `json:"confidence_score"`
	CulturalAdaptationApplied bool    `json:"cultural_adaptation_applied"`
}

// CachedTranslation is a translations.json record.
type CachedTranslation struct {
	Translation
	Backend   string    `json:"backend"`
	CreatedAt time.Time `json:"created_at"`
}

type backendResult struct {
	text       string
	confidence float64
}

const defaultRetries = 2

// Service guards a backend with retries, a breaker and the disk cache.
type Service struct {
	backend Backend
	breaker *resilience.Breaker[backendResult]
	policy  resilience.Policy
	timeout time.Duration
	cache   *store.Collection[CachedTranslation]
	om      *observability.ObservabilityManager
	logger  *errors.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCache stores translations in translations.json of st.
func WithCache(st *store.Store) Option {
	return func(s *Service) {
		if st != nil {
			s.cache = store.NewCollection[CachedTranslation](st, store.TranslationsFile)
		}
	}
}

// WithObservability records backend calls.
func WithObservability(om *observability.ObservabilityManager) Option {
	return func(s *Service) { s.om = om }
}

// NewService wraps backend.
func NewService(backend Backend, timeout time.Duration, cb config.CircuitBreakerConfig, logger *errors.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = errors.NewNop()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	s := &Service{
		backend: backend,
		breaker: resilience.NewBreaker[backendResult]("translator-"+backend.Name(), cb, logger),
		policy:  resilience.Policy{MaxRetries: defaultRetries},
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig selects the backend named by cfg.Translation.Provider. The
// gemini provider without an API key falls back to the glossary.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *errors.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = errors.NewNop()
	}
	var backend Backend = NewGlossaryBackend()
	if cfg.Translation.Provider == "gemini" {
		if cfg.Providers.GeminiAPIKey == "" {
			logger.Warn("GEMINI_API_KEY not set, translating with the glossary backend")
		} else {
			g, err := NewGeminiBackend(ctx, cfg.Providers.GeminiAPIKey, cfg.Translation.Model, logger)
			if err != nil {
				return nil, err
			}
			backend = g
		}
	}
	return NewService(backend, cfg.Translation.Timeout, cfg.CircuitBreaker, logger, opts...), nil
}

// Backend returns the active backend.
func (s *Service) Backend() Backend { return s.backend }

// Breakers returns the circuit breaker of the backend.
func (s *Service) Breakers() map[string]resilience.Status {
	return map[string]resilience.Status{"translator-" + s.backend.Name(): s.breaker}
}

// Supports reports whether the active backend handles code.
func (s *Service) Supports(code string) bool {
	return slices.Contains(s.backend.Languages(), strings.ToLower(code))
}

// Languages lists the profiles of the languages the active backend handles.
func (s *Service) Languages() []Language {
	out := make([]Language, 0, len(s.backend.Languages()))
	for _, code := range s.backend.Languages() {
		if l, ok := LookupLanguage(code); ok {
			out = append(out, l)
		}
	}
	return out
}

// CacheKey identifies a translation in the cache.
func CacheKey(backend, source, target, text string) string {
	sum := sha256.Sum256([]byte(backend + "|" + source + "|" + target + "|" + text))
	return hex.EncodeToString(sum[:])
}

// Translate translates text from source to target. Both languages must be
// handled by the active backend.
func (s *Service) Translate(ctx context.Context, text, source, target string) (Translation, error) {
	source, target = strings.ToLower(strings.TrimSpace(source)), strings.ToLower(strings.TrimSpace(target))
	if strings.TrimSpace(text) == "" {
		return Translation{}, errors.NewValidationError(errors.ErrCodeMissingField, "Text content required", nil)
	}
	for _, lang := range []string{source, target} {
		if !s.Supports(lang) {
			return Translation{}, errors.NewValidationError(errors.ErrCodeUnsupportedLanguage,
				"Unsupported language pair", nil).
				WithContext("language", lang).
				WithContext("backend", s.backend.Name())
		}
	}

	base := Translation{
		SourceLanguage:            source,
		TargetLanguage:            target,
		CulturalAdaptationApplied: source != target && CulturalFactor(target) != 1.0,
	}
	if source == target {
		base.TranslatedText = text
		base.ConfidenceScore = 1
		return base, nil
	}

	key := CacheKey(s.backend.Name(), source, target, text)
	if s.cache != nil {
		if hit, ok, err := s.cache.Get(key); err != nil {
			s.logger.Warn("Translation cache unreadable", "error", err.Error())
		} else if ok {
			s.logger.Debug("Translation cache hit", "backend", s.backend.Name(), "source", source, "target", target,
				"text", errors.TruncateForLog(text, errors.LogExcerptRunes))
			return hit.Translation, nil
		}
	}

	var res backendResult
	err := s.om.GetMetrics().TrackExternalCall(ctx, "translator", s.backend.Name(), func(ctx context.Context) error {
		var err error
		res, err = s.breaker.Execute(func() (backendResult, error) {
			return resilience.Retry(ctx, "translate."+s.backend.Name(), s.policy, s.logger, func(ctx context.Context) (backendResult, error) {
				callCtx, cancel := context.WithTimeout(ctx, s.timeout)
				defer cancel()
				text, conf, err := s.backend.Translate(callCtx, text, source, target)
				return backendResult{text: text, confidence: conf}, err
			})
		})
		return err
	}, s.om)
	if err != nil {
		s.logger.LogError(err, "Translation failed", "backend", s.backend.Name(), "source", source, "target", target)
		if errors.HasCode(err, errors.ErrCodeTranslationFailed) {
			return Translation{}, err
		}
		if stderrors.Is(err, context.DeadlineExceeded) {
			return Translation{}, errors.NewTimeoutError(errors.ErrCodeDeadlineExceeded, "Translation timed out", err)
		}
		return Translation{}, errors.NewUpstreamError(errors.ErrCodeTranslationFailed, "Translation failed", err)
	}

	base.TranslatedText = res.text
	base.ConfidenceScore = res.confidence

	if s.cache != nil {
		rec := CachedTranslation{Translation: base, Backend: s.backend.Name(), CreatedAt: s.now().UTC()}
		if err := s.cache.Put(key, rec); err != nil {
			s.logger.Warn("Translation cache write failed", "error", err.Error())
		}
	}
	return base, nil
}
