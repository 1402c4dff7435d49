package translate

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"
	"jobpilot/internal/store"
)

type countingBackend struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (c *countingBackend) Name() string        { return "stub" }
func (c *countingBackend) Languages() []string { return []string{"en", "de"} }

func (c *countingBackend) Translate(ctx context.Context, text, source, target string) (string, float64, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return "", 0, ctx.Err()
		}
	}
	if c.err != nil {
		return "", 0, c.err
	}
	return "[" + target + "] " + text, 0.9, nil
}

func TestGlossaryTranslate(t *testing.T) {
	g := NewGlossaryBackend()
	tests := []struct {
		name, text, src, tgt, want string
	}{
		{"en to es", "Thank you for the interview.", "en", "es", "Gracias para el entrevista."},
		{"phrase wins over words", "Best regards, Anna", "en", "de", "Mit freundlichen grüßen, Anna"},
		{"unknown words kept", "Kubernetes experience", "en", "fr", "Kubernetes expérience"},
		{"back to en", "gracias", "es", "en", "thank you"},
		{"pivot through en", "Danke", "de", "it", "Grazie"},
		{"same language", "Hello", "en", "en", "Hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, conf, err := g.Translate(context.Background(), tt.text, tt.src, tt.tgt)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if conf < 0.5 || conf > 1 {
				t.Errorf("confidence %v out of range", conf)
			}
		})
	}
}

func TestGlossaryConfidenceTracksCoverage(t *testing.T) {
	g := NewGlossaryBackend()
	_, full, _ := g.Translate(context.Background(), "team and project", "en", "de")
	_, partial, _ := g.Translate(context.Background(), "team builds Kubernetes clusters", "en", "de")
	if full <= partial {
		t.Errorf("full coverage %v should beat partial %v", full, partial)
	}
}

func TestServiceRejectsUnsupportedLanguage(t *testing.T) {
	s := NewService(NewGlossaryBackend(), time.Second, config.CircuitBreakerConfig{}, nil)
	_, err := s.Translate(context.Background(), "hello", "en", "ja")
	if !errors.HasCode(err, errors.ErrCodeUnsupportedLanguage) {
		t.Fatalf("err = %v, want UNSUPPORTED_LANGUAGE", err)
	}
	if errors.HTTPStatus(err) != http.StatusBadRequest {
		t.Errorf("status = %d", errors.HTTPStatus(err))
	}
	if _, err := s.Translate(context.Background(), "  ", "en", "es"); !errors.HasCode(err, errors.ErrCodeMissingField) {
		t.Errorf("blank text err = %v", err)
	}
}

func TestServiceAdvertisesBackendLanguages(t *testing.T) {
	s := NewService(NewGlossaryBackend(), time.Second, config.CircuitBreakerConfig{}, nil)
	var codes []string
	for _, l := range s.Languages() {
		codes = append(codes, l.Code)
	}
	if strings.Join(codes, ",") != "en,es,fr,de,it,pt" {
		t.Errorf("languages = %v", codes)
	}
	if s.Supports("hi") {
		t.Error("glossary should not advertise hindi")
	}
}

func TestServiceCachesTranslations(t *testing.T) {
	st, err := store.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	b := &countingBackend{}
	s := NewService(b, time.Second, config.CircuitBreakerConfig{}, nil, WithCache(st))

	first, err := s.Translate(context.Background(), "Hello team", "en", "de")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Translate(context.Background(), "Hello team", "EN", "de")
	if err != nil {
		t.Fatal(err)
	}
	if b.calls.Load() != 1 {
		t.Errorf("backend called %d times, want 1", b.calls.Load())
	}
	if first != second {
		t.Errorf("cached result differs: %+v vs %+v", first, second)
	}
	if !first.CulturalAdaptationApplied || first.ConfidenceScore != 0.9 {
		t.Errorf("unexpected result %+v", first)
	}

	rec, ok, err := store.NewCollection[CachedTranslation](st, store.TranslationsFile).Get(CacheKey("stub", "en", "de", "Hello team"))
	if err != nil || !ok {
		t.Fatalf("cache record missing: ok=%v err=%v", ok, err)
	}
	if rec.Backend != "stub" {
		t.Errorf("backend = %s", rec.Backend)
	}
}

func TestServiceWrapsBackendFailure(t *testing.T) {
	b := &countingBackend{err: stderrors.New("boom")}
	s := NewService(b, time.Second, config.CircuitBreakerConfig{}, nil)
	s.policy.MaxRetries = 0
	_, err := s.Translate(context.Background(), "Hello", "en", "de")
	if !errors.HasCode(err, errors.ErrCodeTranslationFailed) {
		t.Fatalf("err = %v", err)
	}
	if errors.HTTPStatus(err) != http.StatusBadGateway {
		t.Errorf("status = %d", errors.HTTPStatus(err))
	}
}

func TestServiceTimeout(t *testing.T) {
	b := &countingBackend{delay: time.Second}
	s := NewService(b, 20*time.Millisecond, config.CircuitBreakerConfig{}, nil)
	s.policy.MaxRetries = 0
	_, err := s.Translate(context.Background(), "Hello", "en", "de")
	if !errors.HasCode(err, errors.ErrCodeDeadlineExceeded) {
		t.Fatalf("err = %v, want deadline", err)
	}
}

func TestAnalyzeSentiment(t *testing.T) {
	tests := []struct {
		name, text, lang, label, context string
	}{
		{"positive", "Thank you, I am very excited about this great opportunity!", "en", "positive", "neutral_context"},
		{"negative", "Unfortunately your application was rejected.", "en", "negative", "neutral_context"},
		{"negation flips", "This is not good.", "en", "negative", "neutral_context"},
		{"neutral", "The meeting is on Tuesday.", "en", "neutral", "neutral_context"},
		{"familial", "Gracias, mi familia está feliz", "es", "positive", "familial_warmth"},
		{"achievement", "Our goal is your success", "en", "positive", "individual_achievement"},
		{"context needs language", "Our goal is your success", "es", "positive", "neutral_context"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := AnalyzeSentiment(tt.text, tt.lang)
			if s.Label != tt.label {
				t.Errorf("label = %s (compound %v), want %s", s.Label, s.Compound, tt.label)
			}
			if s.CulturalContext != tt.context {
				t.Errorf("context = %s, want %s", s.CulturalContext, tt.context)
			}
			if s.Compound < -1 || s.Compound > 1 {
				t.Errorf("compound %v out of range", s.Compound)
			}
		})
	}
}

func TestSentimentIsDeterministic(t *testing.T) {
	text := "Great team, but the salary is poor."
	a, b := AnalyzeSentiment(text, "en"), AnalyzeSentiment(text, "en")
	if a != b {
		t.Errorf("%+v != %+v", a, b)
	}
}

func TestCulturalAdaptation(t *testing.T) {
	tests := []struct {
		lang   string
		factor float64
	}{
		{"es", 1.1}, {"it", 1.15}, {"fr", 0.95}, {"de", 0.9}, {"ja", 0.8}, {"zh", 0.85}, {"en", 1.0}, {"pt", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			if got := CulturalFactor(tt.lang); got != tt.factor {
				t.Errorf("factor = %v, want %v", got, tt.factor)
			}
			s := AnalyzeSentiment("excellent", tt.lang)
			want := round3(min(1, s.Compound*tt.factor))
			if s.CulturallyAdapted != want {
				t.Errorf("adapted = %v, want %v", s.CulturallyAdapted, want)
			}
		})
	}
	if l, ok := LookupLanguage("JA"); !ok || l.CulturalFactor != 0.8 || l.SentimentAvailable {
		t.Errorf("ja profile = %+v", l)
	}
}
