// Package cvgen implements the CV generation service: generation sessions,
// adaptation against a target job, rendering and downloads.
package cvgen

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"jobpilot/internal/cvadapt"
	"jobpilot/internal/errors"
	"jobpilot/internal/models"
	"jobpilot/internal/observability"
	"jobpilot/internal/parser"
	"jobpilot/internal/render"
	"jobpilot/internal/server"
	"jobpilot/internal/store"
)

const Name = "cv"

// Session states.
const (
	StatusInitiated        = "initiated"
	StatusCompleted        = "completed"
	StatusGenerationFailed = "generation_failed"
)

// Optimization levels select the adaptation knobs.
const (
	LevelBasic    = "basic"
	LevelAdvanced = "advanced"
)

var supportedLanguages = []string{"en", "es", "fr", "de", "it", "pt"}

// GeneratedFile is one rendered artifact under the downloads directory.
type GeneratedFile struct {
	Format            string    `json:"format"`
	Filename          string    `json:"filename"`
	DownloadURL       string    `json:"download_url"`
	Bytes             int       `json:"bytes"`
	OptimizationScore float64   `json:"optimization_score"`
	VariantID         string    `json:"variant_id,omitempty"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// UploadAnalysis describes an uploaded CV file.
type UploadAnalysis struct {
	FileFormat       string   `json:"file_format"`
	TextExtracted    bool     `json:"text_extracted"`
	WordCount        int      `json:"word_count"`
	SectionsDetected []string `json:"sections_detected"`
	SkillsDetected   []string `json:"skills_detected"`
}

// Upload is a stored CV file of a session.
type Upload struct {
	Filename   string         `json:"filename"`
	StoredAs   string         `json:"stored_as"`
	Bytes      int            `json:"bytes"`
	SHA256     string         `json:"sha256"`
	Analysis   UploadAnalysis `json:"analysis"`
	UploadedAt time.Time      `json:"uploaded_at"`
}

// Session is a cv_sessions.json record.
type Session struct {
	ID                string                  `json:"session_id"`
	UserID            string                  `json:"user_id,omitempty"`
	Platform          string                  `json:"platform,omitempty"`
	Status            string                  `json:"status"`
	UserProfile       models.CandidateProfile `json:"user_profile"`
	TargetRole        string                  `json:"target_role"`
	TargetDescription string                  `json:"target_description,omitempty"`
	Language          string                  `json:"language"`
	OptimizationLevel string                  `json:"optimization_level"`
	OutputFormats     []string                `json:"output_formats"`
	Upload            *Upload                 `json:"upload,omitempty"`
	Generations       []GeneratedFile         `json:"generations,omitempty"`
	Error             string                  `json:"error,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

// Service serves the CV generation endpoints.
type Service struct {
	sessions     *store.Collection[Session]
	adapter      *cvadapt.Adapter
	parser       *parser.Parser
	registry     *render.Registry
	downloadsDir string
	uploadsDir   string
	counters     *store.Counters
	om           *observability.ObservabilityManager
	logger       *errors.Logger
	now          func() time.Time
}

// New opens cv_sessions.json and the file directories under st. A nil
// registry uses the default formatters.
func New(st *store.Store, p *parser.Parser, registry *render.Registry, counters *store.Counters, om *observability.ObservabilityManager, logger *errors.Logger) (*Service, error) {
	if logger == nil {
		logger = errors.NewNop()
	}
	if registry == nil {
		registry = render.NewRegistry()
	}
	s := &Service{
		sessions:     store.NewCollection[Session](st, store.CVSessionsFile),
		adapter:      cvadapt.New(logger, cvadapt.WithObservability(om)),
		parser:       p,
		registry:     registry,
		downloadsDir: filepath.Join(st.Dir(), "downloads"),
		uploadsDir:   filepath.Join(st.Dir(), "uploads"),
		counters:     counters,
		om:           om,
		logger:       logger.With("component", "cvgen"),
		now:          time.Now,
	}
	if err := s.sessions.Verify(); err != nil {
		return nil, err
	}
	for _, dir := range []string{s.downloadsDir, s.uploadsDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, errors.NewPersistenceError(errors.ErrCodePersistenceWriteFailed, "cannot create "+dir, err)
		}
	}
	return s, nil
}

func (s *Service) Name() string { return Name }

func (s *Service) Routes() []server.Route {
	return []server.Route{
		{Pattern: "POST /cv/initiate", Handler: s.handleInitiate, Summary: "Open a generation session"},
		{Pattern: "POST /cv/generate/{session_id}", Handler: s.handleGenerate, Summary: "Adapt and render a CV"},
		{Pattern: "GET /cv/status/{session_id}", Handler: s.handleStatus, Summary: "Session record"},
		{Pattern: "DELETE /cv/session/{session_id}", Handler: s.handleDelete, Summary: "Remove a session and its files"},
		{Pattern: "POST /cv/upload/{session_id}", Handler: s.handleUpload, Summary: "Attach an existing CV file"},
		{Pattern: "GET /cv/templates", Handler: s.handleTemplates, Summary: "Output formats and options"},
		{Pattern: "POST /cv/adapt", Handler: s.handleAdapt, Summary: "Adapt a CV to a job"},
		{Pattern: "GET /cv/metrics", Handler: s.handleMetrics, Summary: "Generation totals"},
		{Pattern: "GET /download/{filename}", Handler: s.handleDownload, Summary: "Serve a rendered file"},
	}
}

func (s *Service) Info() map[string]any {
	return map[string]any{
		"features":            []string{"cv_adaptation", "multi_format_rendering", "upload_analysis"},
		"formats_supported":   s.cvFormats(),
		"supported_languages": supportedLanguages,
	}
}

func (s *Service) Health(ctx context.Context) map[string]any {
	resp := map[string]any{
		"features": map[string]bool{"rendering": true, "adaptation": true},
		"lexicon":  s.parser.LexiconVersion(),
	}
	if err := s.sessions.Verify(); err != nil {
		resp["status"] = "degraded"
	}
	if _, err := os.Stat(s.downloadsDir); err != nil {
		resp["status"] = "degraded"
	}
	return resp
}

// cvFormats lists the formats that render a CV.
func (s *Service) cvFormats() []string {
	var out []string
	for _, f := range s.registry.SupportedFormats() {
		if s.registry.Supports(models.CV{}, f) {
			out = append(out, f)
		}
	}
	return out
}

func knobsFor(level string) models.AdaptKnobs {
	if level == LevelBasic {
		return models.AdaptKnobs{ReorderSkills: true, SummarySkills: cvadapt.DefaultSummarySkills}
	}
	return cvadapt.DefaultKnobs()
}
