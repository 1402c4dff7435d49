// Package ingestion pulls raw postings from job source adapters and turns
// them into deduplicated Jobs.
package ingestion

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"
	"jobpilot/internal/models"
	"jobpilot/internal/observability"
	"jobpilot/internal/resilience"
	"jobpilot/internal/store"
)

const maxParallelAdapters = 8

// Query selects the postings to ingest.
type Query struct {
	Keywords       string `json:"keywords"`
	Location       string `json:"location"`
	ExperienceBand string `json:"experience_band,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// Adapter is a job source.
type Adapter interface {
	Name() string
	Search(ctx context.Context, q Query) ([]models.RawJob, error)
}

// AdapterError records one failed source.
type AdapterError struct {
	Adapter string `json:"adapter"`
	Error   string `json:"error"`
}

// Result is the outcome of one ingestion run.
type Result struct {
	Jobs          []models.Job   `json:"jobs"`
	SyntheticUsed bool           `json:"synthetic_used"`
	AdapterErrors []AdapterError `json:"adapter_errors"`
}

type source struct {
	adapter Adapter
	breaker *resilience.Breaker[[]models.RawJob]
}

// Manager fans a query out to its adapters.
type Manager struct {
	sources   []source
	synthetic *source
	cfg       config.IngestionConfig
	jobs      *store.Collection[models.Job]
	om        *observability.ObservabilityManager
	logger    *errors.Logger
	mu        sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithObservability records adapter calls on om.
func WithObservability(om *observability.ObservabilityManager) Option {
	return func(m *Manager) { m.om = om }
}

// WithStore merges ingested jobs into the jobs collection of s.
func WithStore(s *store.Store) Option {
	return func(m *Manager) { m.jobs = store.NewCollection[models.Job](s, store.JobsFile) }
}

// New returns a manager over the real adapters. synthetic may be nil, in
// which case the synthetic fallback is disabled.
func New(adapters []Adapter, synthetic Adapter, cfg config.IngestionConfig, cb config.CircuitBreakerConfig, logger *errors.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = errors.NewNop()
	}
	m := &Manager{cfg: cfg, logger: logger}
	for _, a := range adapters {
		m.sources = append(m.sources, source{
			adapter: a,
			breaker: resilience.NewBreaker[[]models.RawJob]("adapter-"+a.Name(), cb, logger),
		})
	}
	if synthetic != nil && cfg.SyntheticEnabled {
		m.synthetic = &source{adapter: synthetic}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Breakers returns the circuit breaker of every real adapter.
func (m *Manager) Breakers() map[string]resilience.Status {
	out := make(map[string]resilience.Status, len(m.sources))
	for _, src := range m.sources {
		out["adapter-"+src.adapter.Name()] = src.breaker
	}
	return out
}

// NewFromConfig builds the adapters whose credentials are configured.
func NewFromConfig(cfg *config.Config, logger *errors.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = errors.NewNop()
	}
	ic := cfg.Ingestion
	var adapters []Adapter

	if cfg.Providers.AdzunaAppID != "" && cfg.Providers.AdzunaAppKey != "" {
		adapters = append(adapters, NewAdzunaAdapter(cfg.Providers.AdzunaAppID, cfg.Providers.AdzunaAppKey, ic.AdzunaCountry, ic.AdzunaEndpoint, ic.ResultsPerPage))
	} else {
		logger.Warn("ADZUNA_APP_ID/ADZUNA_APP_KEY not set, Adzuna source disabled")
	}

	if cfg.Providers.FirecrawlAPIKey != "" {
		boards := ic.ScrapeURLs
		if len(boards) == 0 {
			boards = DefaultBoards
		}
		for _, b := range boards {
			adapters = append(adapters, NewFirecrawlAdapter(cfg.Providers.FirecrawlAPIKey, ic.FirecrawlEndpoint, b))
		}
	} else {
		logger.Warn("FIRECRAWL_API_KEY not set, scrape sources disabled")
	}

	threshold := ic.SyntheticThreshold
	if threshold <= 0 {
		threshold = 5
	}
	return New(adapters, NewSyntheticAdapter(threshold), ic, cfg.CircuitBreaker, logger, opts...)
}

// Sources lists the adapter names in call order.
func (m *Manager) Sources() []string {
	names := make([]string, 0, len(m.sources)+1)
	for _, s := range m.sources {
		names = append(names, s.adapter.Name())
	}
	if m.synthetic != nil {
		names = append(names, m.synthetic.adapter.Name())
	}
	return names
}

type callResult struct {
	jobs []models.RawJob
	err  error
}

// call runs one adapter under its timeout. An adapter that ignores ctx is
// abandoned when the timeout fires.
func (m *Manager) call(ctx context.Context, s source, q Query) ([]models.RawJob, error) {
	timeout := m.cfg.AdapterTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out []models.RawJob
	err := m.om.GetMetrics().TrackExternalCall(ctx, "adapter", s.adapter.Name(), func(ctx context.Context) error {
		done := make(chan callResult, 1)
		go func() {
			jobs, err := s.breaker.Execute(func() ([]models.RawJob, error) {
				return s.adapter.Search(ctx, q)
			})
			done <- callResult{jobs, err}
		}()
		select {
		case r := <-done:
			out = r.jobs
			return r.err
		case <-ctx.Done():
			return errors.NewTimeoutError(errors.ErrCodeDeadlineExceeded, "adapter "+s.adapter.Name()+" timed out", ctx.Err())
		}
	}, m.om)

	m.om.GetMetrics().RecordPipelineMetric(ctx, "adapter_call", 1, m.om,
		attribute.String("adapter", s.adapter.Name()),
		attribute.Bool("success", err == nil))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Ingest queries every adapter in parallel and returns the deduplicated
// jobs, most recently fetched first. Failed adapters are reported in
// AdapterErrors. When fewer jobs than the synthetic threshold remain, the
// synthetic adapter fills up to it.
func (m *Manager) Ingest(ctx context.Context, q Query) (*Result, error) {
	q.Keywords = models.CollapseSpace(q.Keywords)
	q.Location = models.CollapseSpace(q.Location)
	if q.Keywords == "" {
		return nil, errors.NewValidationError(errors.ErrCodeMissingField, "keywords are required", nil)
	}
	if q.Limit < 0 {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidRequest, "limit must not be negative", nil)
	}

	ctx, span := otel.Tracer("jobpilot/ingestion").Start(ctx, "ingestion.ingest")
	defer span.End()

	deadline := m.cfg.TotalDeadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	batches := make([][]models.RawJob, len(m.sources))
	failures := make([]error, len(m.sources))

	limit := m.cfg.MaxParallel
	if limit <= 0 || limit > maxParallelAdapters {
		limit = maxParallelAdapters
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, s := range m.sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				failures[i] = err
				return nil
			}
			jobs, err := m.call(gctx, s, q)
			if err != nil {
				failures[i] = err
				m.logger.Warn("Job source failed", "adapter", s.adapter.Name(), "error", err.Error())
				return nil
			}
			batches[i] = jobs
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{AdapterErrors: []AdapterError{}}
	var raws []models.RawJob
	failed := 0
	for i, s := range m.sources {
		if failures[i] != nil {
			failed++
			res.AdapterErrors = append(res.AdapterErrors, AdapterError{Adapter: s.adapter.Name(), Error: failures[i].Error()})
			continue
		}
		raws = append(raws, batches[i]...)
	}
	allFailed := failed == len(m.sources)

	merged := Dedupe(raws)

	threshold := m.cfg.SyntheticThreshold
	if threshold <= 0 {
		threshold = 5
	}
	if len(merged) < threshold {
		if m.synthetic == nil {
			if allFailed {
				span.SetAttributes(attribute.Bool("error", true))
				return nil, errors.ErrIngestionUnavailable
			}
		} else {
			synth, err := m.call(ctx, *m.synthetic, q)
			if err != nil {
				res.AdapterErrors = append(res.AdapterErrors, AdapterError{Adapter: m.synthetic.adapter.Name(), Error: err.Error()})
				if allFailed {
					return nil, errors.ErrIngestionUnavailable
				}
			}
			merged, res.SyntheticUsed = fill(merged, synth, threshold)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].FetchedAt.Equal(merged[j].FetchedAt) {
			return merged[i].FetchedAt.After(merged[j].FetchedAt)
		}
		return merged[i].Fingerprint() < merged[j].Fingerprint()
	})
	if q.Limit > 0 && len(merged) > q.Limit {
		merged = merged[:q.Limit]
	}

	res.Jobs = make([]models.Job, 0, len(merged))
	for _, r := range merged {
		res.Jobs = append(res.Jobs, models.JobFromRaw(r))
	}

	span.SetAttributes(
		attribute.Int("jobs", len(res.Jobs)),
		attribute.Int("adapter_errors", len(res.AdapterErrors)),
		attribute.Bool("synthetic_used", res.SyntheticUsed))
	m.logger.Info("Ingestion completed",
		"keywords", q.Keywords,
		"location", q.Location,
		"jobs", len(res.Jobs),
		"failed_sources", failed,
		"synthetic_used", res.SyntheticUsed)

	if m.jobs != nil {
		if err := m.persist(res.Jobs); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// fill appends synthetic postings with new fingerprints until threshold is reached.
func fill(jobs, synthetic []models.RawJob, threshold int) ([]models.RawJob, bool) {
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		seen[j.Fingerprint()] = true
	}
	used := false
	for _, s := range synthetic {
		if len(jobs) >= threshold {
			break
		}
		fp := s.Fingerprint()
		if seen[fp] {
			continue
		}
		seen[fp] = true
		jobs = append(jobs, s)
		used = true
	}
	return jobs, used
}

// persist merges jobs into the jobs collection. Stored fields are only
// filled, never overwritten.
func (m *Manager) persist(jobs []models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs.Update(func(records map[string]models.Job) error {
		for _, j := range jobs {
			if old, ok := records[j.Fingerprint]; ok {
				records[j.Fingerprint] = MergeJob(old, j)
				continue
			}
			records[j.Fingerprint] = j
		}
		return nil
	})
}

// Dedupe groups raw jobs by fingerprint and merges each group. The result
// does not depend on the order of raws.
func Dedupe(raws []models.RawJob) []models.RawJob {
	groups := make(map[string][]models.RawJob)
	var order []string
	for _, r := range raws {
		fp := r.Fingerprint()
		if _, ok := groups[fp]; !ok {
			order = append(order, fp)
		}
		groups[fp] = append(groups[fp], r)
	}
	sort.Strings(order)
	out := make([]models.RawJob, 0, len(order))
	for _, fp := range order {
		out = append(out, Merge(groups[fp]...))
	}
	return out
}

// Merge combines postings with the same fingerprint. The richest posting
// wins and its empty fields are filled from the others, richest first.
func Merge(jobs ...models.RawJob) models.RawJob {
	if len(jobs) == 0 {
		return models.RawJob{}
	}
	sorted := append([]models.RawJob(nil), jobs...)
	sort.SliceStable(sorted, func(i, j int) bool { return richer(sorted[i], sorted[j]) })

	out := sorted[0]
	for _, r := range sorted[1:] {
		fillString(&out.Title, r.Title)
		fillString(&out.Company, r.Company)
		fillString(&out.Location, r.Location)
		fillString(&out.Description, r.Description)
		fillString(&out.URL, r.URL)
		if out.SalaryMin == 0 && out.SalaryMax == 0 {
			out.SalaryMin, out.SalaryMax = r.SalaryMin, r.SalaryMax
		}
	}
	return out
}

// MergeJob fills the empty fields of old from newer.
func MergeJob(old, newer models.Job) models.Job {
	out := old
	fillString(&out.Title, newer.Title)
	fillString(&out.Company, newer.Company)
	fillString(&out.Location, newer.Location)
	fillString(&out.Description, newer.Description)
	fillString(&out.SourceURL, newer.SourceURL)
	if out.SalaryMin == 0 && out.SalaryMax == 0 {
		out.SalaryMin, out.SalaryMax = newer.SalaryMin, newer.SalaryMax
	}
	if out.Requirements == nil {
		out.Requirements = newer.Requirements
	}
	if newer.FetchedAt.After(out.FetchedAt) {
		out.FetchedAt = newer.FetchedAt
	}
	return out
}

func fillString(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" && strings.TrimSpace(v) != "" {
		*dst = v
	}
}

// richer is a strict total order: more fields first, then the newer fetch,
// then the longer description, then field values.
func richer(a, b models.RawJob) bool {
	if na, nb := a.NonEmptyFields(), b.NonEmptyFields(); na != nb {
		return na > nb
	}
	if !a.FetchedAt.Equal(b.FetchedAt) {
		return a.FetchedAt.After(b.FetchedAt)
	}
	if len(a.Description) != len(b.Description) {
		return len(a.Description) > len(b.Description)
	}
	ka := fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%s\x00%s", a.Source, a.URL, a.Title, a.Company, a.Location, a.Description)
	kb := fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%s\x00%s", b.Source, b.URL, b.Title, b.Company, b.Location, b.Description)
	return ka < kb
}
