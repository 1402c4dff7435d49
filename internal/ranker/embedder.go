package ranker

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"time"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"
	"jobpilot/internal/observability"
	"jobpilot/internal/resilience"
)

// Embedder maps text to a fixed-dimension vector. Version names the model so
// cached rankings are invalidated when it changes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Version() string
}

// HashEmbedder is the deterministic offline embedder. Tokens and token bigrams
// are hashed into signed buckets and the vector is L2 normalized.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a hash embedder with dims buckets.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

// Version implements Embedder.
func (h *HashEmbedder) Version() string { return fmt.Sprintf("hash-v1-d%d", h.dims) }

var embedTokenPattern = regexp.MustCompile(`[a-z0-9+#]+`)

// Embed implements Embedder. It never fails.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, h.dims)
	tokens := embedTokenPattern.FindAllString(strings.ToLower(text), -1)
	for i, tok := range tokens {
		h.add(vec, tok, 1.0)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	normalize(vec)
	return vec, nil
}

func (h *HashEmbedder) add(vec []float64, feature string, weight float64) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func normalize(vec []float64) {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
}

// Cosine returns the cosine similarity of a and b, 0 when either is all zero.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimensions differ: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// resilientEmbedder guards a remote embedder with a timeout, retries, a
// circuit breaker and a span per call.
type resilientEmbedder struct {
	inner   Embedder
	name    string
	breaker *resilience.Breaker[[]float64]
	policy  resilience.Policy
	timeout time.Duration
	om      *observability.ObservabilityManager
	logger  *errors.Logger
}

func (e *resilientEmbedder) Version() string { return e.inner.Version() }

func (e *resilientEmbedder) Breakers() map[string]resilience.Status {
	return map[string]resilience.Status{"embedder-" + e.name: e.breaker}
}

func (e *resilientEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	var out []float64
	err := e.om.GetMetrics().TrackExternalCall(ctx, "embedder", e.name, func(ctx context.Context) error {
		vec, err := e.breaker.Execute(func() ([]float64, error) {
			return resilience.Retry(ctx, "embed."+e.name, e.policy, e.logger, func(ctx context.Context) ([]float64, error) {
				callCtx, cancel := context.WithTimeout(ctx, e.timeout)
				defer cancel()
				return e.inner.Embed(callCtx, text)
			})
		})
		out = vec
		return err
	}, e.om)
	if err != nil {
		return nil, errors.NewUpstreamError(errors.ErrCodeEmbedderFailed, "embedder "+e.name+" failed", err)
	}
	return out, nil
}

// NewEmbedder selects the embedder named by cfg.EmbedderProvider. A real
// provider without its API key falls back to the hash embedder.
func NewEmbedder(cfg *config.Config, om *observability.ObservabilityManager, logger *errors.Logger) (Embedder, error) {
	if logger == nil {
		logger = errors.NewNop()
	}
	rc := cfg.Ranker
	var inner Embedder
	var err error

	switch rc.EmbedderProvider {
	case "", "fallback", "hash":
		return NewHashEmbedder(rc.Dimensions), nil
	case "gemini":
		if cfg.Providers.GeminiAPIKey == "" {
			logger.Warn("GEMINI_API_KEY not set, using hash embedder")
			return NewHashEmbedder(rc.Dimensions), nil
		}
		inner, err = NewGeminiEmbedder(context.Background(), cfg.Providers.GeminiAPIKey, rc.EmbeddingModel, rc.Dimensions)
	case "openai":
		if cfg.Providers.OpenAIAPIKey == "" {
			logger.Warn("OPENAI_API_KEY not set, using hash embedder")
			return NewHashEmbedder(rc.Dimensions), nil
		}
		inner = NewOpenAIEmbedder(cfg.Providers.OpenAIAPIKey, rc.EmbeddingModel, rc.Dimensions, rc.Timeout)
	default:
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig, "unknown embedder provider "+rc.EmbedderProvider, nil)
	}
	if err != nil {
		return nil, err
	}

	name := rc.EmbedderProvider
	return &resilientEmbedder{
		inner:   inner,
		name:    name,
		breaker: resilience.NewBreaker[[]float64]("embedder-"+name, cfg.CircuitBreaker, logger),
		policy:  resilience.Policy{MaxRetries: rc.MaxRetries},
		timeout: rc.Timeout,
		om:      om,
		logger:  logger,
	}, nil
}
