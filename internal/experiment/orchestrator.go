// Package experiment runs A/B experiments over CV variants and picks a winner
// from recorded application outcomes.
package experiment

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"jobpilot/internal/config"
	"jobpilot/internal/cvadapt"
	"jobpilot/internal/errors"
	"jobpilot/internal/models"
	"jobpilot/internal/observability"
	"jobpilot/internal/store"
)

// knobPresets are tried in order for variants after the baseline.
var knobPresets = []models.AdaptKnobs{
	{RewriteSummary: true, ReorderSkills: true, InjectSkills: true, EmphasizeExperience: true, SummarySkills: 5},
	{ReorderSkills: true, InjectSkills: true},
	{RewriteSummary: true, SummarySkills: 5},
	{EmphasizeExperience: true},
	{ReorderSkills: true, InjectSkills: true, EmphasizeExperience: true},
	{RewriteSummary: true, ReorderSkills: true, SummarySkills: 3},
	{RewriteSummary: true, EmphasizeExperience: true, SummarySkills: 3},
	{ReorderSkills: true},
	{InjectSkills: true},
	{RewriteSummary: true, SummarySkills: 1},
}

// CreateRequest describes a new experiment.
type CreateRequest struct {
	CandidateID    string
	Parent         models.CV
	JobFingerprint string
	Requirements   models.JobRequirements
	VariantCount   int
}

// AssignRequest asks for a variant for an outgoing application. VariantID pins
// the variant instead of sampling one.
type AssignRequest struct {
	ExperimentID string
	Platform     string
	Company      string
	VariantID    string
	SubmittedAt  time.Time

	// FollowUpFor computes the follow-up date of the new application, if set.
	FollowUpFor func(platform string, submitted time.Time, variantID string) *time.Time
}

// Orchestrator owns experiments, variants and applications.
type Orchestrator struct {
	experiments  *store.Collection[models.Experiment]
	variants     *store.Collection[models.CVVariant]
	applications *store.Collection[models.Application]

	adapter *cvadapt.Adapter
	cfg     config.ExperimentConfig
	om      *observability.ObservabilityManager
	logger  *errors.Logger
	now     func() time.Time

	// mu serializes assignments and outcome updates so that counters follow
	// receipt order.
	mu sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObservability records outcome counters on om.
func WithObservability(om *observability.ObservabilityManager) Option {
	return func(o *Orchestrator) { o.om = om }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// New returns an Orchestrator persisting into s.
func New(s *store.Store, adapter *cvadapt.Adapter, cfg config.ExperimentConfig, logger *errors.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = errors.NewNop()
	}
	o := &Orchestrator{
		experiments:  store.NewCollection[models.Experiment](s, store.ExperimentsFile),
		variants:     store.NewCollection[models.CVVariant](s, store.VariantsFile),
		applications: store.NewCollection[models.Application](s, store.ApplicationsFile),
		adapter:      adapter,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Verify checks that every state file owned by the orchestrator parses.
func (o *Orchestrator) Verify() error {
	for _, verify := range []func() error{o.experiments.Verify, o.variants.Verify, o.applications.Verify} {
		if err := verify(); err != nil {
			return err
		}
	}
	return nil
}

// Create generates the variants and persists a new active experiment. The
// first variant is the unchanged parent.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (models.Experiment, []models.CVVariant, error) {
	if req.VariantCount < 2 {
		return models.Experiment{}, nil, errors.NewValidationError(errors.ErrCodeInvalidRequest,
			"variant_count must be at least 2", nil)
	}
	if req.JobFingerprint == "" {
		return models.Experiment{}, nil, errors.NewValidationError(errors.ErrCodeMissingField, "job_fingerprint is required", nil)
	}

	ctx, span := otel.Tracer("jobpilot/experiment").Start(ctx, "experiment.create")
	defer span.End()

	now := o.now().UTC()
	exp := models.Experiment{
		ID:                 uuid.NewString(),
		CandidateID:        req.CandidateID,
		ParentCVID:         req.Parent.ID,
		JobFingerprint:     req.JobFingerprint,
		ApplicationsTarget: o.cfg.TargetPerVariant,
		Status:             models.ExperimentActive,
		CreatedAt:          now,
	}

	baseline, err := o.adapter.Adapt(ctx, req.Parent, req.JobFingerprint, req.Requirements, models.AdaptKnobs{})
	if err != nil {
		return models.Experiment{}, nil, err
	}
	variants := []models.CVVariant{baseline}
	seen := [][]byte{mustCanonical(baseline.Content)}

	for _, knobs := range knobPresets {
		if len(variants) == req.VariantCount {
			break
		}
		v, err := o.adapter.Adapt(ctx, req.Parent, req.JobFingerprint, req.Requirements, knobs)
		if err != nil {
			return models.Experiment{}, nil, err
		}
		c := mustCanonical(v.Content)
		duplicate := false
		for _, prev := range seen {
			if bytes.Equal(prev, c) {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		seen = append(seen, c)
		variants = append(variants, v)
	}

	if len(variants) < 2 {
		return models.Experiment{}, nil, errors.NewConflictError(errors.ErrCodeExperimentTooNarrow,
			"no adaptation differs from the parent CV for this job", errors.ErrExperimentTooNarrow).
			WithContext("cv_id", req.Parent.ID).WithContext("job_fingerprint", req.JobFingerprint)
	}
	if len(variants) < req.VariantCount {
		o.logger.Warn("Fewer distinguishable variants than requested",
			"requested", req.VariantCount, "generated", len(variants), "cv_id", req.Parent.ID)
	}

	for i := range variants {
		variants[i].ID = fmt.Sprintf("%s-v%d", exp.ID, i)
		exp.VariantIDs = append(exp.VariantIDs, variants[i].ID)
		exp.Stats = append(exp.Stats, models.VariantStats{VariantID: variants[i].ID})
	}

	if err := o.variants.Update(func(records map[string]models.CVVariant) error {
		for _, v := range variants {
			records[v.ID] = v
		}
		return nil
	}); err != nil {
		return models.Experiment{}, nil, err
	}
	if err := o.experiments.Put(exp.ID, exp); err != nil {
		return models.Experiment{}, nil, err
	}

	span.SetAttributes(attribute.String("experiment_id", exp.ID), attribute.Int("variants", len(variants)))
	o.logger.Info("Experiment created", "experiment_id", exp.ID, "variants", len(variants), "job", req.JobFingerprint)
	return exp, variants, nil
}

func mustCanonical(cv models.CV) []byte {
	b, err := cvadapt.Canonical(cv)
	if err != nil {
		panic(err)
	}
	return b
}

// Get returns an experiment and its variants. An active experiment past
// MaxDuration is completed first.
func (o *Orchestrator) Get(id string) (models.Experiment, []models.CVVariant, error) {
	exp, ok, err := o.experiments.Get(id)
	if err != nil {
		return models.Experiment{}, nil, err
	}
	if !ok {
		return models.Experiment{}, nil, errors.NewNotFoundError(errors.ErrCodeNotFound, "experiment not found", nil).
			WithContext("experiment_id", id)
	}
	if o.expired(exp, o.now()) {
		done, err := o.expire()
		if err != nil {
			return models.Experiment{}, nil, err
		}
		if e, ok := done[id]; ok {
			exp = e
		}
	}
	all, err := o.variants.Load()
	if err != nil {
		return models.Experiment{}, nil, err
	}
	variants := make([]models.CVVariant, 0, len(exp.VariantIDs))
	for _, vid := range exp.VariantIDs {
		if v, ok := all[vid]; ok {
			variants = append(variants, v)
		}
	}
	return exp, variants, nil
}

// List returns every experiment, completing those past MaxDuration first.
func (o *Orchestrator) List() ([]models.Experiment, error) {
	all, err := o.experiments.List()
	if err != nil {
		return nil, err
	}
	now := o.now()
	for _, e := range all {
		if o.expired(e, now) {
			if _, err := o.expire(); err != nil {
				return nil, err
			}
			return o.experiments.List()
		}
	}
	return all, nil
}

func (o *Orchestrator) expired(e models.Experiment, now time.Time) bool {
	return e.Status == models.ExperimentActive && o.cfg.MaxDuration > 0 && now.Sub(e.CreatedAt) >= o.cfg.MaxDuration
}

// expire completes every active experiment past MaxDuration and returns them
// by id.
func (o *Orchestrator) expire() (map[string]models.Experiment, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now().UTC()
	done := map[string]models.Experiment{}
	err := o.experiments.Update(func(records map[string]models.Experiment) error {
		for id, e := range records {
			if !o.expired(e, now) {
				continue
			}
			e.Stats = append([]models.VariantStats(nil), e.Stats...)
			complete(&e, completionMaxDuration, now)
			records[id] = e
			done[id] = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for id, e := range done {
		o.logger.Info("Experiment completed", "experiment_id", id, "winner", e.Winner,
			"confidence", e.Confidence, "reason", e.CompletionReason)
	}
	return done, nil
}

// Applications lists the applications of an experiment ordered by id.
func (o *Orchestrator) Applications(experimentID string) ([]models.Application, error) {
	all, err := o.applications.List()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, a := range all {
		if a.ExperimentID == experimentID {
			out = append(out, a)
		}
	}
	return out, nil
}

// Assign picks a variant for an outgoing application and records the send.
func (o *Orchestrator) Assign(ctx context.Context, req AssignRequest) (models.Application, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now().UTC()
	submitted := req.SubmittedAt
	if submitted.IsZero() {
		submitted = now
	}

	var app models.Application
	err := o.experiments.Update(func(records map[string]models.Experiment) error {
		exp, ok := records[req.ExperimentID]
		if !ok {
			return errors.NewNotFoundError(errors.ErrCodeNotFound, "experiment not found", nil).
				WithContext("experiment_id", req.ExperimentID)
		}
		if exp.Status != models.ExperimentActive {
			return errors.NewConflictError(errors.ErrCodeExperimentClosed,
				fmt.Sprintf("experiment is %s", exp.Status), nil).WithContext("experiment_id", exp.ID)
		}
		exp.Stats = append([]models.VariantStats(nil), exp.Stats...)

		variantID := req.VariantID
		if variantID == "" {
			variantID = pick(exp.Stats, sampler(o.cfg.Seed, exp.ID, totalSent(exp.Stats)))
		}
		stats := exp.StatsFor(variantID)
		if stats == nil {
			return errors.NewValidationError(errors.ErrCodeInvalidRequest, "variant does not belong to experiment", nil).
				WithContext("variant_id", variantID)
		}
		stats.ApplicationsSent++
		stats.PerformanceScore = PerformanceScore(*stats)

		if reason := completionReason(&exp, o.cfg, now); reason != "" {
			complete(&exp, reason, now)
		}
		records[exp.ID] = exp

		app = models.Application{
			ID:             uuid.NewString(),
			ExperimentID:   exp.ID,
			VariantID:      variantID,
			JobFingerprint: exp.JobFingerprint,
			Platform:       req.Platform,
			Company:        req.Company,
			SubmittedAt:    submitted.UTC(),
		}
		if req.FollowUpFor != nil {
			app.FollowUpAt = req.FollowUpFor(req.Platform, app.SubmittedAt, variantID)
		}
		return nil
	})
	if err != nil {
		return models.Application{}, err
	}
	if err := o.applications.Put(app.ID, app); err != nil {
		return models.Application{}, err
	}
	o.logger.Debug("Variant assigned", "experiment_id", app.ExperimentID, "variant_id", app.VariantID, "platform", app.Platform)
	return app, nil
}

// RecordOutcome applies an outcome event to an application and updates the
// experiment counters. Invalid transitions leave both untouched.
func (o *Orchestrator) RecordOutcome(ctx context.Context, applicationID string, update models.OutcomeUpdate) (models.Application, models.Experiment, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	at := update.At
	if at.IsZero() {
		at = o.now()
	}

	// The application is read and written under the collection lock so a
	// concurrent follow-up sweep is never overwritten.
	var app, next models.Application
	var changed outcomeChange
	err := o.applications.Update(func(records map[string]models.Application) error {
		cur, ok := records[applicationID]
		if !ok {
			return errors.NewNotFoundError(errors.ErrCodeNotFound, "application not found", nil).
				WithContext("application_id", applicationID)
		}
		n, c, err := applyOutcome(cur, update, at.UTC())
		if err != nil {
			return err
		}
		app, next, changed = cur, n, c
		if !c.any() {
			return errUnchanged
		}
		records[applicationID] = n
		return nil
	})
	if err == errUnchanged {
		exp, _, err := o.experiments.Get(app.ExperimentID)
		return app, exp, err
	}
	if err != nil {
		return models.Application{}, models.Experiment{}, err
	}

	now := o.now().UTC()
	var exp models.Experiment
	err = o.experiments.Update(func(records map[string]models.Experiment) error {
		e, ok := records[app.ExperimentID]
		if !ok {
			return errors.NewNotFoundError(errors.ErrCodeNotFound, "experiment not found", nil).
				WithContext("experiment_id", app.ExperimentID)
		}
		e.Stats = append([]models.VariantStats(nil), e.Stats...)
		stats := e.StatsFor(app.VariantID)
		if stats == nil {
			return errors.NewPersistenceError(errors.ErrCodePersistenceCorrupt, "application references an unknown variant", nil).
				WithContext("variant_id", app.VariantID)
		}
		if changed.response {
			stats.Responses++
		}
		if changed.interview {
			stats.Interviews++
		}
		if changed.offer {
			stats.Offers++
		}
		stats.PerformanceScore = PerformanceScore(*stats)
		switch e.Status {
		case models.ExperimentActive:
			if reason := completionReason(&e, o.cfg, now); reason != "" {
				complete(&e, reason, now)
			}
		case models.ExperimentCompleted:
			// Late outcomes still count; the verdict follows the stats.
			previous := e.Winner
			e.Winner = winner(e.Stats)
			e.Confidence = Confidence(e.Stats)
			if e.Winner != previous {
				o.logger.Info("Experiment winner changed by a late outcome", "experiment_id", e.ID,
					"previous", previous, "winner", e.Winner, "confidence", e.Confidence)
			}
		}
		records[e.ID] = e
		exp = e
		return nil
	})
	if err != nil {
		return models.Application{}, models.Experiment{}, err
	}

	o.om.GetMetrics().RecordPipelineMetric(ctx, "outcome_recorded", 1, o.om, attribute.String("variant_id", app.VariantID))
	if exp.Status == models.ExperimentCompleted && exp.EndedAt != nil && exp.EndedAt.Equal(now) {
		o.logger.Info("Experiment completed", "experiment_id", exp.ID, "winner", exp.Winner,
			"confidence", exp.Confidence, "reason", exp.CompletionReason)
	}
	return next, exp, nil
}

// errUnchanged aborts an applications update that changed nothing.
var errUnchanged = stderrors.New("outcome changes nothing")

type outcomeChange struct {
	response, interview, offer bool
}

func (c outcomeChange) any() bool { return c.response || c.interview || c.offer }

// applyOutcome validates and applies update. Fields only move false to true,
// at a time no earlier than submission.
func applyOutcome(app models.Application, update models.OutcomeUpdate, at time.Time) (models.Application, outcomeChange, error) {
	var changed outcomeChange
	fields := []struct {
		name    string
		want    *bool
		current *bool
		when    **time.Time
		mark    *bool
	}{
		{"response_received", update.ResponseReceived, &app.ResponseReceived, &app.ResponseAt, &changed.response},
		{"interview_scheduled", update.InterviewScheduled, &app.InterviewScheduled, &app.InterviewAt, &changed.interview},
		{"offer_received", update.OfferReceived, &app.OfferReceived, &app.OfferAt, &changed.offer},
	}
	for _, f := range fields {
		if f.want == nil {
			continue
		}
		if *f.current && !*f.want {
			return models.Application{}, outcomeChange{}, errors.NewConflictError(errors.ErrCodeInvalidOutcomeUpdate,
				f.name+" cannot return to false", errors.ErrInvalidOutcomeUpdate).WithContext("application_id", app.ID)
		}
		if !*f.current && *f.want && at.Before(app.SubmittedAt) {
			return models.Application{}, outcomeChange{}, errors.NewConflictError(errors.ErrCodeInvalidOutcomeUpdate,
				f.name+" timestamp precedes submission", errors.ErrInvalidOutcomeUpdate).WithContext("application_id", app.ID)
		}
	}
	for _, f := range fields {
		if f.want != nil && *f.want && !*f.current {
			*f.current = true
			t := at
			*f.when = &t
			*f.mark = true
		}
	}
	return app, changed, nil
}
