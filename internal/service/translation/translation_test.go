package translation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"
	"jobpilot/internal/server"
	"jobpilot/internal/store"
	"jobpilot/internal/translate"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	st, err := store.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	tr := translate.NewService(translate.NewGlossaryBackend(), time.Second, config.CircuitBreakerConfig{}, nil, translate.WithCache(st))
	svc, err := New(tr, st, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return server.NewServer(&config.Config{}, server.ServerConfig{InsecureNoAuth: true}, svc, store.NewCounters(st, Name), nil, nil).Handler()
}

func call(t *testing.T, h http.Handler, method, target, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	out := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON %q", rec.Body.String())
	}
	return rec.Code, out
}

func TestTranslateContent(t *testing.T) {
	h := newTestHandler(t)
	code, body := call(t, h, "POST", "/translate/content", `{"text":"Thank you for the interview.","source_language":"en","target_language":"es"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", code, body)
	}
	res := body["translation_result"].(map[string]any)
	if res["translated_text"] != "Gracias para el entrevista." || res["cultural_adaptation_applied"] != true {
		t.Errorf("result = %v", res)
	}
	if body["source_language"] != "en" || body["target_language"] != "es" {
		t.Errorf("languages = %v / %v", body["source_language"], body["target_language"])
	}

	id := body["translation_id"].(string)
	code, analysis := call(t, h, "GET", "/analysis/status/"+id, "")
	if code != http.StatusOK || analysis["kind"] != KindTranslation || analysis["status"] != "completed" {
		t.Errorf("analysis = %d %v", code, analysis)
	}
}

func TestTranslateErrors(t *testing.T) {
	h := newTestHandler(t)
	tests := []struct {
		name string
		body string
		want int
		code string
	}{
		{"unsupported pair", `{"text":"hello","source_language":"en","target_language":"ja"}`, http.StatusBadRequest, errors.ErrCodeUnsupportedLanguage},
		{"blank text", `{"text":"  ","source_language":"en","target_language":"de"}`, http.StatusBadRequest, errors.ErrCodeMissingField},
		{"bad json", `{"text":`, http.StatusBadRequest, errors.ErrCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := call(t, h, "POST", "/translate/content", tt.body)
			if code != tt.want || body["code"] != tt.code {
				t.Errorf("got %d %v", code, body)
			}
		})
	}
	if code, body := call(t, h, "POST", "/translate/content", `{"text":"hello","source_language":"en","target_language":"ja"}`); body["error"] != "Unsupported language pair" {
		t.Errorf("message = %d %v", code, body["error"])
	}
}

func TestAnalyzeSentiment(t *testing.T) {
	h := newTestHandler(t)
	code, body := call(t, h, "POST", "/analyze/sentiment", `{"text":"Gracias, mi familia está feliz","language":"es"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d %v", code, body)
	}
	res := body["sentiment_result"].(map[string]any)
	if res["label"] != "positive" || body["cultural_context"] != "familial_warmth" || body["language"] != "es" {
		t.Errorf("body = %v", body)
	}
	if _, got := call(t, h, "GET", "/analysis/status/"+body["analysis_id"].(string), ""); got["kind"] != KindSentiment {
		t.Errorf("stored analysis = %v", got)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"blank text", `{"text":"","language":"en"}`, http.StatusBadRequest},
		{"no lexicon for japanese", `{"text":"arigatou","language":"ja"}`, http.StatusBadRequest},
		{"unknown language", `{"text":"hello","language":"xx"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, body := call(t, h, "POST", "/analyze/sentiment", tt.body); code != tt.want {
				t.Errorf("got %d %v", code, body)
			}
		})
	}
}

func TestLanguagesFollowBackend(t *testing.T) {
	h := newTestHandler(t)
	_, body := call(t, h, "GET", "/languages/supported", "")
	langs := body["supported_languages"].([]any)
	if len(langs) != 6 || body["backend"] != "glossary" {
		t.Errorf("languages = %d, backend = %v", len(langs), body["backend"])
	}
	profiles := body["cultural_adaptation_profiles"].(map[string]any)
	if _, ok := profiles["ja"]; ok {
		t.Error("glossary backend advertises japanese")
	}
}

func TestCulturalAdaptation(t *testing.T) {
	h := newTestHandler(t)
	tests := []struct {
		code      string
		factor    float64
		supported bool
	}{
		{"it", 1.15, true},
		{"de", 0.9, true},
		{"ja", 0.8, false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, body := call(t, h, "GET", "/cultural/adaptation/"+tt.code, "")
			if status != http.StatusOK || body["cultural_factor"] != tt.factor || body["supported_by_backend"] != tt.supported {
				t.Errorf("got %d %v", status, body)
			}
		})
	}
	if status, _ := call(t, h, "GET", "/cultural/adaptation/xx", ""); status != http.StatusNotFound {
		t.Errorf("unknown language = %d", status)
	}
	if status, body := call(t, h, "GET", "/analysis/status/missing", ""); status != http.StatusNotFound || body["error"] != "Analysis not found" {
		t.Errorf("missing analysis = %d %v", status, body)
	}
}

func TestHealthAndRoot(t *testing.T) {
	h := newTestHandler(t)
	code, health := call(t, h, "GET", "/health", "")
	if code != http.StatusOK || health["status"] != "healthy" || health["languages_supported"] != float64(6) {
		t.Errorf("health = %d %v", code, health)
	}
	_, root := call(t, h, "GET", "/", "")
	if root["status"] != "operational" || root["backend"] != "glossary" {
		t.Errorf("root = %v", root)
	}
}
