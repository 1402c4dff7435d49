// Package ranker scores jobs against a candidate profile.
package ranker

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"jobpilot/internal/errors"
	"jobpilot/internal/models"
	"jobpilot/internal/observability"
	"jobpilot/internal/resilience"
)

// Component weights. They sum to 1.
const (
	WeightSkills     = 0.40
	WeightExperience = 0.25
	WeightLocation   = 0.20
	WeightSemantic   = 0.15
)

// Location scores.
const (
	locationExact  = 1.0
	locationRegion = 0.8
	locationRemote = 0.6
	locationOther  = 0.3
)

const experienceFloor = 0.2

// Ranked pairs a job with its ranking.
type Ranked struct {
	Job     models.Job        `json:"job"`
	Ranking models.JobRanking `json:"ranking"`
}

// Ranker computes and caches JobRankings.
type Ranker struct {
	embedder Embedder
	cache    Cache
	om       *observability.ObservabilityManager
	logger   *errors.Logger
	now      func() time.Time
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithCache enables ranking caching.
func WithCache(c Cache) Option { return func(r *Ranker) { r.cache = c } }

// WithObservability records ranking counters on om.
func WithObservability(om *observability.ObservabilityManager) Option {
	return func(r *Ranker) { r.om = om }
}

// WithClock overrides the computed-at clock.
func WithClock(now func() time.Time) Option { return func(r *Ranker) { r.now = now } }

// New returns a ranker over embedder.
func New(embedder Embedder, logger *errors.Logger, opts ...Option) *Ranker {
	if logger == nil {
		logger = errors.NewNop()
	}
	r := &Ranker{embedder: embedder, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Breakers returns the circuit breaker of the embedder, if it has one.
func (r *Ranker) Breakers() map[string]resilience.Status {
	if b, ok := r.embedder.(interface {
		Breakers() map[string]resilience.Status
	}); ok {
		return b.Breakers()
	}
	return nil
}

// EmbedderVersion returns the version tag recorded on rankings.
func (r *Ranker) EmbedderVersion() string { return r.embedder.Version() }

// Rank scores every job for profile and returns them best first.
func (r *Ranker) Rank(ctx context.Context, profile models.CandidateProfile, jobs []models.Job) ([]Ranked, error) {
	profile.Normalize()
	if len(profile.Skills) == 0 {
		return nil, errors.NewValidationError(errors.ErrCodeMissingField, "profile skills must not be empty for ranking", nil)
	}

	ctx, span := otel.Tracer("jobpilot/ranker").Start(ctx, "ranker.rank")
	defer span.End()
	span.SetAttributes(attribute.Int("jobs", len(jobs)), attribute.String("embedder", r.embedder.Version()))

	version := r.embedder.Version()
	profileVec, profileErr := r.embedder.Embed(ctx, profileText(profile))
	if profileErr != nil {
		r.logger.Warn("Profile embedding failed, semantic component degraded", "profile_id", profile.ID, "error", profileErr)
	}

	out := make([]Ranked, 0, len(jobs))
	degraded := 0
	for _, job := range jobs {
		key := ""
		if r.cache != nil {
			key = CacheKey(profile, job, version)
			if cached, ok, err := r.cache.Get(ctx, key); err != nil {
				r.logger.Warn("Ranking cache read failed", "cache", r.cache.Name(), "error", err)
			} else if ok {
				out = append(out, Ranked{Job: job, Ranking: cached})
				continue
			}
		}

		var semantic float64
		semanticErr := profileErr
		if semanticErr == nil {
			semantic, semanticErr = r.semantic(ctx, profileVec, job)
		}
		ranking := Score(profile, job, semantic, semanticErr != nil)
		ranking.EmbedderVersion = version
		ranking.ComputedAt = r.now().UTC()
		if ranking.SemanticDegraded {
			degraded++
		} else if key != "" {
			if err := r.cache.Put(ctx, key, ranking); err != nil {
				r.logger.Warn("Ranking cache write failed", "cache", r.cache.Name(), "error", err)
			}
		}
		out = append(out, Ranked{Job: job, Ranking: ranking})
	}

	Sort(out)

	metrics := r.om.GetMetrics()
	metrics.RecordPipelineMetric(ctx, "ranking", int64(len(out)), r.om, attribute.String("embedder", version))
	metrics.RecordPipelineMetric(ctx, "semantic_degraded", int64(degraded), r.om, attribute.String("embedder", version))
	span.SetAttributes(attribute.Int("semantic_degraded", degraded))
	return out, nil
}

func (r *Ranker) semantic(ctx context.Context, profileVec []float64, job models.Job) (float64, error) {
	jobVec, err := r.embedder.Embed(ctx, jobText(job))
	if err != nil {
		r.logger.Warn("Job embedding failed, semantic component degraded", "fingerprint", job.Fingerprint, "error", err)
		return 0, err
	}
	cos, err := Cosine(profileVec, jobVec)
	if err != nil {
		return 0, err
	}
	return clamp01(cos), nil
}

func profileText(p models.CandidateProfile) string {
	return strings.TrimSpace(p.Summary + " " + strings.Join(p.Skills, " "))
}

func jobText(j models.Job) string {
	return strings.TrimSpace(j.Description + " " + j.Title)
}

// Score computes the ranking of one job. When degraded is set the semantic
// component is zero and its weight is spread over the other three in proportion.
func Score(profile models.CandidateProfile, job models.Job, semantic float64, degraded bool) models.JobRanking {
	req := job.Requirements
	if req == nil {
		req = &models.JobRequirements{Seniority: models.SeniorityMid}
	}
	c := models.RankComponents{
		Skills:     SkillsScore(profile.Skills, req.RequiredSkills, req.NiceToHaveSkills),
		Experience: ExperienceScore(profile.YearsExperience, req.Seniority),
		Location:   LocationScore(profile, job.Location, req.Remote),
		Semantic:   clamp01(semantic),
	}

	var total float64
	if degraded {
		c.Semantic = 0
		rest := WeightSkills + WeightExperience + WeightLocation
		total = (WeightSkills*c.Skills + WeightExperience*c.Experience + WeightLocation*c.Location) / rest
	} else {
		total = WeightSkills*c.Skills + WeightExperience*c.Experience + WeightLocation*c.Location + WeightSemantic*c.Semantic
	}

	return models.JobRanking{
		ProfileID:        profile.ID,
		JobFingerprint:   job.Fingerprint,
		Score:            round6(clamp01(total)),
		Components:       models.RankComponents{Skills: round6(c.Skills), Experience: round6(c.Experience), Location: round6(c.Location), Semantic: round6(c.Semantic)},
		SemanticDegraded: degraded,
	}
}

// SkillsScore is the required-skill overlap plus half the nice-to-have overlap, capped at 1.
func SkillsScore(profileSkills, required, nice []string) float64 {
	have := make(map[string]bool, len(profileSkills))
	for _, s := range profileSkills {
		have[models.NormalizeText(s)] = true
	}
	overlap := func(terms []string) float64 {
		set := models.NormalizeTerms(terms)
		n := 0
		for _, t := range set {
			if have[t] {
				n++
			}
		}
		return float64(n) / math.Max(1, float64(len(set)))
	}
	return math.Min(1, overlap(required)+0.5*overlap(nice))
}

type band struct{ lo, hi float64 }

var seniorityBands = map[models.Seniority]band{
	models.SeniorityEntry:     {0, 1},
	models.SeniorityJunior:    {1, 3},
	models.SeniorityMid:       {3, 6},
	models.SenioritySenior:    {5, 10},
	models.SeniorityLead:      {8, 15},
	models.SeniorityExecutive: {12, math.Inf(1)},
}

// ExperienceScore is 1 inside the seniority's years band and drops linearly
// outside it: 0.2 per missing year, 0.1 per surplus year, floored at 0.2.
func ExperienceScore(years int, seniority models.Seniority) float64 {
	b, ok := seniorityBands[seniority]
	if !ok {
		b = seniorityBands[models.SeniorityMid]
	}
	y := float64(years)
	switch {
	case y < b.lo:
		return math.Max(experienceFloor, 1-0.2*(b.lo-y))
	case y > b.hi:
		return math.Max(experienceFloor, 1-0.1*(y-b.hi))
	default:
		return 1
	}
}

// LocationScore compares the profile's city set with the job location.
func LocationScore(profile models.CandidateProfile, jobLocation string, remote bool) float64 {
	jobPlaces := models.SplitLocation(jobLocation)
	cities := map[string]bool{}
	for _, place := range jobPlaces {
		if remoteTags[place] {
			remote = true
			continue
		}
		cities[place] = true
	}

	profileCities := profile.Cities
	if len(profileCities) == 0 {
		profileCities = models.SplitLocation(profile.Location)
	}
	profileRegions := map[string]bool{}
	if profile.Country != "" {
		if region, ok := regionOf[profile.Country]; ok {
			profileRegions[region] = true
		}
	}
	for _, city := range profileCities {
		if cities[city] {
			return locationExact
		}
		if region, ok := regionOf[city]; ok {
			profileRegions[region] = true
		}
	}

	for city := range cities {
		if profileRegions[regionOf[city]] && regionOf[city] != "" {
			return locationRegion
		}
	}
	if remote {
		return locationRemote
	}
	return locationOther
}

// Sort orders rankings by score, then skills, then semantic, then fingerprint.
func Sort(rs []Ranked) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i].Ranking, rs[j].Ranking
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Components.Skills != b.Components.Skills {
			return a.Components.Skills > b.Components.Skills
		}
		if a.Components.Semantic != b.Components.Semantic {
			return a.Components.Semantic > b.Components.Semantic
		}
		return a.JobFingerprint < b.JobFingerprint
	})
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
