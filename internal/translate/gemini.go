package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"

	"jobpilot/internal/errors"
)

const defaultGeminiModel = "gemini-2.0-flash"

// geminiLanguages are the languages offered with the Gemini backend.
var geminiLanguages = []string{"en", "es", "fr", "de", "it", "pt", "ja", "zh", "hi"}

const systemPrompt = `You are a professional translator for job application material: CVs, cover letters and recruiter messages.

- Translate faithfully. Never add, drop or embellish facts, dates, names or figures
- Keep the professional register of the source and adapt idioms to the target culture
- Keep company names, product names and technical terms that are usually left untranslated
- Preserve line breaks and list structure`

const userPromptTemplate = `Translate the text below from %s to %s.

Return the translation in "translated_text" and your confidence between 0 and 1 in "confidence".

TEXT:
%s`

// TokenUsage is the token accounting of one model call.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

type geminiOutput struct {
	TranslatedText string  `json:"translated_text"`
	Confidence     float64 `json:"confidence"`
}

// GeminiBackend translates with a Gemini model constrained to a JSON schema.
type GeminiBackend struct {
	client      *genai.Client
	model       string
	temperature float32
	logger      *errors.Logger
}

// NewGeminiBackend creates a client for apiKey.
func NewGeminiBackend(ctx context.Context, apiKey, model string, logger *errors.Logger) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, errors.NewConfigError(errors.ErrCodeMissingAPIKey, "Gemini API key is required for the gemini translation provider", nil)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	if logger == nil {
		logger = errors.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.NewUpstreamError(errors.ErrCodeTranslationFailed, "Failed to create Gemini client", err)
	}
	return &GeminiBackend{client: client, model: model, temperature: 0.2, logger: logger}, nil
}

func (g *GeminiBackend) Name() string { return "gemini" }

func (g *GeminiBackend) Languages() []string { return geminiLanguages }

// Translate implements Backend.
func (g *GeminiBackend) Translate(ctx context.Context, text, source, target string) (string, float64, error) {
	ctx, span := otel.Tracer("jobpilot/translate").Start(ctx, "gemini.translate")
	defer span.End()
	span.SetAttributes(
		attribute.String("ai.provider", "gemini"),
		attribute.String("ai.model", g.model),
		attribute.String("translate.source", source),
		attribute.String("translate.target", target),
		attribute.Int("input.length", len(text)),
	)

	prompt := fmt.Sprintf(userPromptTemplate, languageName(source), languageName(target), text)
	temp := g.temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:       &temp,
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"translated_text": {Type: genai.TypeString},
				"confidence":      {Type: genai.TypeNumber},
			},
			Required: []string{"translated_text", "confidence"},
		},
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("success", false))
		return "", 0, err
	}

	var out geminiOutput
	if err := json.Unmarshal([]byte(result.Text()), &out); err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("success", false))
		return "", 0, errors.NewUpstreamError(errors.ErrCodeTranslationFailed, "Failed to parse translation response", err)
	}
	if strings.TrimSpace(out.TranslatedText) == "" {
		return "", 0, errors.NewUpstreamError(errors.ErrCodeTranslationFailed, "Model returned an empty translation", nil)
	}

	if usage := extractTokenUsage(result); usage != nil {
		span.SetAttributes(
			attribute.Int64("ai.tokens.input", usage.InputTokens),
			attribute.Int64("ai.tokens.output", usage.OutputTokens),
			attribute.Int64("ai.tokens.total", usage.TotalTokens),
		)
		g.logger.Debug("Translation tokens", "model", g.model, "total", usage.TotalTokens)
	}
	span.SetAttributes(attribute.Bool("success", true))
	return out.TranslatedText, clamp01(out.Confidence), nil
}

// ModelInfo reports whether the configured model is reachable.
type ModelInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Available   bool   `json:"available"`
	Error       string `json:"error,omitempty"`
}

// ModelInfo asks the API for the configured model.
func (g *GeminiBackend) ModelInfo(ctx context.Context) ModelInfo {
	info := ModelInfo{Name: g.model}
	model, err := g.client.Models.Get(ctx, g.model, &genai.GetModelConfig{})
	if err != nil {
		info.Error = err.Error()
		g.logger.Warn("Model availability check failed", "model", g.model, "error", err.Error())
		return info
	}
	info.Available = true
	info.DisplayName = model.DisplayName
	return info
}

func extractTokenUsage(result *genai.GenerateContentResponse) *TokenUsage {
	if result == nil || result.UsageMetadata == nil {
		return nil
	}
	u := result.UsageMetadata
	return &TokenUsage{
		InputTokens:  int64(u.PromptTokenCount),
		OutputTokens: int64(u.CandidatesTokenCount),
		TotalTokens:  int64(u.TotalTokenCount),
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
