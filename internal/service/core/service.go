// Package core implements the core-intelligence service. It stores candidate
// profiles and CVs, searches and ranks jobs, runs experiments over CV
// variants, plans application schedules and routes messages between the
// services of the mesh.
package core

import (
	"context"
	"maps"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"jobpilot/internal/config"
	"jobpilot/internal/cvadapt"
	"jobpilot/internal/errors"
	"jobpilot/internal/experiment"
	"jobpilot/internal/ingestion"
	"jobpilot/internal/models"
	"jobpilot/internal/observability"
	"jobpilot/internal/parser"
	"jobpilot/internal/ranker"
	"jobpilot/internal/render"
	"jobpilot/internal/resilience"
	"jobpilot/internal/scheduler"
	"jobpilot/internal/server"
	"jobpilot/internal/store"
)

const Name = "core"

const defaultOutboundTimeout = 5 * time.Second

// Deps are the components the service is assembled from. Sweeper, Watcher
// and Redis are optional.
type Deps struct {
	Store       *store.Store
	Parser      *parser.Parser
	Ingestion   *ingestion.Manager
	Ranker      *ranker.Ranker
	Experiments *experiment.Orchestrator
	Scheduler   *scheduler.Scheduler
	Sweeper     *scheduler.Sweeper
	Watcher     *parser.LexiconWatcher
	Redis       *redis.Client

	// Peers are the services messages can be forwarded to. PeerKey is sent
	// as X-API-Key.
	Peers   config.ServicesConfig
	PeerKey string

	Counters *store.Counters
	OM       *observability.ObservabilityManager
	Logger   *errors.Logger
}

type Service struct {
	profiles    *store.Collection[models.CandidateProfile]
	cvs         *store.Collection[models.CV]
	jobs        *store.Collection[models.Job]
	messages    *store.Collection[server.MeshMessage]
	variants    *store.Collection[models.CVVariant]
	expRecords  *store.Collection[models.Experiment]
	appRecords  *store.Collection[models.Application]
	parser      *parser.Parser
	ingestion   *ingestion.Manager
	ranker      *ranker.Ranker
	experiments *experiment.Orchestrator
	scheduler   *scheduler.Scheduler
	registry    *render.Registry
	sweeper     *scheduler.Sweeper
	watcher     *parser.LexiconWatcher
	redis       *redis.Client

	peers   config.ServicesConfig
	peerKey string
	client  *http.Client

	counters *store.Counters
	om       *observability.ObservabilityManager
	logger   *errors.Logger
	now      func() time.Time
}

// New assembles the service and checks that its state files parse.
func New(d Deps) (*Service, error) {
	if d.Store == nil || d.Parser == nil || d.Ingestion == nil || d.Ranker == nil || d.Experiments == nil || d.Scheduler == nil {
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig, "core service is missing a component", nil)
	}
	logger := d.Logger
	if logger == nil {
		logger = errors.NewNop()
	}
	timeout := d.Peers.OutboundTimeout
	if timeout <= 0 {
		timeout = defaultOutboundTimeout
	}
	s := &Service{
		profiles:    store.NewCollection[models.CandidateProfile](d.Store, store.ProfilesFile),
		cvs:         store.NewCollection[models.CV](d.Store, store.CVsFile),
		jobs:        store.NewCollection[models.Job](d.Store, store.JobsFile),
		messages:    store.NewCollection[server.MeshMessage](d.Store, store.MessagesFile),
		variants:    store.NewCollection[models.CVVariant](d.Store, store.VariantsFile),
		expRecords:  store.NewCollection[models.Experiment](d.Store, store.ExperimentsFile),
		appRecords:  store.NewCollection[models.Application](d.Store, store.ApplicationsFile),
		parser:      d.Parser,
		ingestion:   d.Ingestion,
		ranker:      d.Ranker,
		experiments: d.Experiments,
		scheduler:   d.Scheduler,
		registry:    render.NewRegistry(),
		sweeper:     d.Sweeper,
		watcher:     d.Watcher,
		redis:       d.Redis,
		peers:       d.Peers,
		peerKey:     d.PeerKey,
		client:      &http.Client{Timeout: timeout},
		counters:    d.Counters,
		om:          d.OM,
		logger:      logger.With("component", "core"),
		now:         time.Now,
	}
	if err := s.verify(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewFromConfig builds every component from cfg over st.
func NewFromConfig(ctx context.Context, cfg *config.Config, st *store.Store, counters *store.Counters, om *observability.ObservabilityManager, logger *errors.Logger) (*Service, error) {
	if logger == nil {
		logger = errors.NewNop()
	}
	d := Deps{Store: st, Peers: cfg.Services, Counters: counters, OM: om, Logger: logger}
	if len(cfg.Server.APIKeys) > 0 {
		d.PeerKey = cfg.Server.APIKeys[0]
	}

	lexicon := parser.DefaultLexicon()
	if file := cfg.Parser.LexiconFile; file != "" {
		lex, err := parser.LoadLexicon(file)
		if err != nil {
			return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig, "cannot load parser lexicon", err)
		}
		lexicon = lex
	}
	d.Parser = parser.New(lexicon, parser.OptionsFromConfig(cfg.Parser), logger)
	if cfg.Parser.LexiconFile != "" && cfg.Parser.WatchLexicon {
		w, err := parser.NewLexiconWatcher(cfg.Parser.LexiconFile, cfg.Parser.DebounceDelay, d.Parser, logger)
		if err != nil {
			return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig, "cannot watch parser lexicon", err)
		}
		d.Watcher = w
	}

	d.Ingestion = ingestion.NewFromConfig(cfg, logger, ingestion.WithObservability(om), ingestion.WithStore(st))

	embedder, err := ranker.NewEmbedder(cfg, om, logger)
	if err != nil {
		return nil, err
	}
	var cache ranker.Cache = ranker.NewFileCache(st, cfg.Ranker.CacheTTL)
	if cfg.Ranker.CacheBackend == "redis" {
		if cfg.Storage.RedisURL == "" {
			logger.Warn("Redis ranking cache selected without storage.redisURL, using the file cache")
		} else if client, err := ranker.NewRedisClient(ctx, cfg.Storage.RedisURL); err != nil {
			logger.Warn("Redis unreachable, using the file cache", "error", err.Error())
		} else {
			cache = ranker.NewRedisCache(client, cfg.Ranker.CacheTTL)
			d.Redis = client
		}
	}
	d.Ranker = ranker.New(embedder, logger, ranker.WithCache(cache), ranker.WithObservability(om))

	adapter := cvadapt.New(logger, cvadapt.WithObservability(om))
	d.Experiments = experiment.New(st, adapter, cfg.Experiment, logger, experiment.WithObservability(om))
	d.Scheduler = scheduler.New(scheduler.DefaultConstraints(cfg.Scheduler), om, logger)
	if spec := cfg.Scheduler.FollowUpSweep; spec != "" {
		d.Sweeper = scheduler.NewSweeper(st, spec, logger)
	}
	return New(d)
}

func (s *Service) verify() error {
	for _, verify := range []func() error{s.profiles.Verify, s.cvs.Verify, s.jobs.Verify, s.messages.Verify, s.experiments.Verify} {
		if err := verify(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Name() string { return Name }

func (s *Service) Routes() []server.Route {
	return []server.Route{
		{Pattern: "PUT /profiles/{id}", Handler: s.handlePutProfile, Summary: "Store a candidate profile"},
		{Pattern: "GET /profiles/{id}", Handler: s.handleGetProfile, Summary: "Load a candidate profile"},
		{Pattern: "PUT /cvs/{id}", Handler: s.handlePutCV, Summary: "Store an authored CV"},
		{Pattern: "GET /cvs/{id}", Handler: s.handleGetCV, Summary: "Load an authored CV"},
		{Pattern: "POST /jobs/parse", Handler: s.handleParse, Summary: "Extract requirements from a description"},
		{Pattern: "POST /jobs/ingest", Handler: s.handleIngest, Summary: "Fetch and deduplicate postings"},
		{Pattern: "POST /jobs/ranked-search", Handler: s.handleRankedSearch, Summary: "Ingest, parse and rank jobs for a profile"},
		{Pattern: "POST /jobs/consciousness-guided-search", Handler: s.handleLegacySearch, Summary: "Ranked search, legacy wire shape"},
		{Pattern: "POST /experiments", Handler: s.handleCreateExperiment, Summary: "Start an experiment over CV variants"},
		{Pattern: "GET /experiments/{id}", Handler: s.handleGetExperiment, Summary: "Experiment, variants and applications"},
		{Pattern: "POST /experiments/{id}/assign", Handler: s.handleAssign, Summary: "Pick a variant for an application"},
		{Pattern: "GET /experiments/{id}/report.xlsx", Handler: s.handleReport, Summary: "Experiment workbook"},
		{Pattern: "POST /applications/{id}/outcome", Handler: s.handleOutcome, Summary: "Record an application outcome"},
		{Pattern: "POST /schedule", Handler: s.handleSchedule, Summary: "Plan application send slots"},
		{Pattern: "GET /knowledge/{query}", Handler: s.handleKnowledge, Summary: "Lexicon and job-market record of a term"},
		{Pattern: "GET /biological-knowledge/{query}", Handler: s.handleLegacyKnowledge, Summary: "Knowledge, legacy wire shape"},
		{Pattern: "GET /template/{type}", Handler: s.handleTemplate, Summary: "CV improvement template"},
		{Pattern: "GET /evolutionary-template/{type}", Handler: s.handleLegacyTemplate, Summary: "Template, legacy wire shape"},
		{Pattern: "POST /message", Handler: s.handleMessage, Summary: "Route a message to a service"},
		{Pattern: "POST /biological-message", Handler: s.handleLegacyMessage, Summary: "Message routing, legacy wire shape"},
		{Pattern: "GET /metrics", Handler: s.handleMetrics, Summary: "Domain totals"},
	}
}

func (s *Service) Info() map[string]any {
	return map[string]any{
		"features":          []string{"profiles", "ingestion", "ranking", "experiments", "scheduling", "message_routing"},
		"job_sources":       s.ingestion.Sources(),
		"embedder_version":  s.ranker.EmbedderVersion(),
		"lexicon_version":   s.parser.LexiconVersion(),
		"template_types":    TemplateTypes(),
		"peers_configured":  s.peerNames(),
		"follow_up_sweep":   s.sweeper != nil,
		"lexicon_reloading": s.watcher != nil,
	}
}

// Breakers implements server.BreakerSource with the embedder and adapter
// breakers.
func (s *Service) Breakers() map[string]resilience.Status {
	out := map[string]resilience.Status{}
	maps.Copy(out, s.ranker.Breakers())
	if s.ingestion != nil {
		maps.Copy(out, s.ingestion.Breakers())
	}
	return out
}

func (s *Service) Health(ctx context.Context) map[string]any {
	resp := map[string]any{
		"features": map[string]bool{
			"ranking":         true,
			"experiments":     true,
			"follow_up_sweep": s.sweeper != nil,
			"redis_cache":     s.redis != nil,
		},
		"embedder_version": s.ranker.EmbedderVersion(),
		"lexicon_version":  s.parser.LexiconVersion(),
	}
	if err := s.verify(); err != nil {
		resp["status"] = "degraded"
		resp["error"] = err.Error()
		return resp
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			resp["status"] = "degraded"
			resp["error"] = "redis: " + err.Error()
		}
	}
	return resp
}

// Start runs the follow-up sweep and the lexicon watcher.
func (s *Service) Start(ctx context.Context) error {
	if s.sweeper != nil {
		if err := s.sweeper.Start(ctx); err != nil {
			return err
		}
	}
	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			if s.sweeper != nil {
				s.sweeper.Stop()
			}
			return errors.NewConfigError(errors.ErrCodeInvalidConfig, "cannot watch parser lexicon", err)
		}
	}
	return nil
}

func (s *Service) Stop() {
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Warn("Lexicon watcher did not stop cleanly", "error", err.Error())
		}
	}
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("Redis client did not close cleanly", "error", err.Error())
		}
	}
}

func (s *Service) event(ctx context.Context, name string, n int64) {
	s.om.GetMetrics().RecordPipelineMetric(ctx, "service_event", n, s.om,
		attribute.String("service", Name), attribute.String("event", name))
}
