package ranker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jobpilot/internal/models"
	"jobpilot/internal/store"
)

// Cache stores computed rankings. Keys embed the embedder version, so
// switching providers never serves stale scores.
type Cache interface {
	Get(ctx context.Context, key string) (models.JobRanking, bool, error)
	Put(ctx context.Context, key string, ranking models.JobRanking) error
	Name() string
}

// CacheKey builds the key of a ranking from everything Score reads: the
// normalized profile, the job location and parsed requirements, and the
// embedder version. A profile edit or a lexicon reload that changes the
// requirements therefore misses the cache.
func CacheKey(profile models.CandidateProfile, job models.Job, embedderVersion string) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", profile.ID, digest(profileInputs(profile)),
		job.Fingerprint, digest(jobInputs(job)), embedderVersion)
}

func profileInputs(p models.CandidateProfile) any {
	return struct {
		Skills   []string `json:"s"`
		Years    int      `json:"y"`
		Location string   `json:"l"`
		Cities   []string `json:"c"`
		Country  string   `json:"n"`
		Summary  string   `json:"t"`
	}{p.Skills, p.YearsExperience, p.Location, p.Cities, p.Country, p.Summary}
}

func jobInputs(j models.Job) any {
	return struct {
		Location     string                  `json:"l"`
		Text         string                  `json:"t"`
		Requirements *models.JobRequirements `json:"r"`
	}{j.Location, jobText(j), j.Requirements}
}

// digest is the first 16 hex digits of the sha256 of v's JSON encoding.
func digest(v any) string {
	data, _ := json.Marshal(v)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// FileCache keeps rankings in rankings.json.
type FileCache struct {
	coll *store.Collection[models.JobRanking]
	ttl  time.Duration
	now  func() time.Time
}

// NewFileCache returns a cache over the store's rankings file.
func NewFileCache(s *store.Store, ttl time.Duration) *FileCache {
	return &FileCache{coll: store.NewCollection[models.JobRanking](s, store.RankingsFile), ttl: ttl, now: time.Now}
}

// Name implements Cache.
func (c *FileCache) Name() string { return "file" }

// Verify checks that the rankings file parses.
func (c *FileCache) Verify() error { return c.coll.Verify() }

// Get implements Cache.
func (c *FileCache) Get(_ context.Context, key string) (models.JobRanking, bool, error) {
	r, ok, err := c.coll.Get(key)
	if err != nil || !ok {
		return models.JobRanking{}, false, err
	}
	if c.ttl > 0 && c.now().Sub(r.ComputedAt) > c.ttl {
		return models.JobRanking{}, false, nil
	}
	return r, true, nil
}

// Put implements Cache.
func (c *FileCache) Put(_ context.Context, key string, ranking models.JobRanking) error {
	return c.coll.Put(key, ranking)
}

// RedisCache keeps rankings in Redis with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// NewRedisCache wraps client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, prefix: "jobpilot:ranking:"}
}

// Name implements Cache.
func (c *RedisCache) Name() string { return "redis" }

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (models.JobRanking, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return models.JobRanking{}, false, nil
	}
	if err != nil {
		return models.JobRanking{}, false, err
	}
	var r models.JobRanking
	if err := json.Unmarshal(data, &r); err != nil {
		return models.JobRanking{}, false, fmt.Errorf("decode cached ranking: %w", err)
	}
	return r, true, nil
}

// Put implements Cache.
func (c *RedisCache) Put(ctx context.Context, key string, ranking models.JobRanking) error {
	data, err := json.Marshal(ranking)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, c.ttl).Err()
}
