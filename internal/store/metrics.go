package store

import (
	"context"
	"maps"
	"sync"
	"time"

	"jobpilot/internal/errors"
)

// ServiceMetrics is one service's entry in metrics.json.
type ServiceMetrics struct {
	Service       string           `json:"service"`
	RequestsTotal int64            `json:"requests_total"`
	Endpoints     map[string]int64 `json:"endpoints"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Counters counts requests per endpoint in memory and flushes the deltas to
// metrics.json in the background. Several services may share one file.
type Counters struct {
	service string
	coll    *Collection[ServiceMetrics]
	logger  *errors.Logger
	started time.Time

	mu      sync.Mutex
	pending map[string]int64
	totals  map[string]int64
	flushCh chan struct{}
}

// NewCounters returns the counters of service backed by s.
func NewCounters(s *Store, service string) *Counters {
	return &Counters{
		service: service,
		coll:    NewCollection[ServiceMetrics](s, MetricsFile),
		logger:  s.logger,
		started: time.Now(),
		pending: make(map[string]int64),
		totals:  make(map[string]int64),
		flushCh: make(chan struct{}, 1),
	}
}

// Verify checks that metrics.json is readable.
func (c *Counters) Verify() error { return c.coll.Verify() }

// Inc counts one request to endpoint and wakes the flusher without blocking.
func (c *Counters) Inc(endpoint string) {
	c.mu.Lock()
	c.pending[endpoint]++
	c.totals[endpoint]++
	c.mu.Unlock()

	select {
	case c.flushCh <- struct{}{}:
	default:
	}
}

// Snapshot returns the per-endpoint counts since process start.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.totals)
}

// Total returns the number of requests since process start.
func (c *Counters) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, v := range c.totals {
		n += v
	}
	return n
}

// Uptime returns the time since the counters were created.
func (c *Counters) Uptime() time.Duration { return time.Since(c.started) }

// Flush adds pending deltas to the persisted record. On failure the deltas are kept.
func (c *Counters) Flush() error {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return nil
	}
	deltas := c.pending
	c.pending = make(map[string]int64)
	c.mu.Unlock()

	err := c.coll.Update(func(records map[string]ServiceMetrics) error {
		rec := records[c.service]
		rec.Service = c.service
		if rec.Endpoints == nil {
			rec.Endpoints = make(map[string]int64)
		}
		for endpoint, n := range deltas {
			rec.Endpoints[endpoint] += n
			rec.RequestsTotal += n
		}
		rec.UpdatedAt = time.Now().UTC()
		records[c.service] = rec
		return nil
	})
	if err != nil {
		c.mu.Lock()
		for endpoint, n := range deltas {
			c.pending[endpoint] += n
		}
		c.mu.Unlock()
	}
	return err
}

// Persisted returns the service's record as stored on disk.
func (c *Counters) Persisted() (ServiceMetrics, error) {
	rec, _, err := c.coll.Get(c.service)
	return rec, err
}

// Run flushes whenever requests arrive, at most once per interval, until ctx ends.
// A final flush runs on shutdown.
func (c *Counters) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-ctx.Done():
			if err := c.Flush(); err != nil {
				c.logger.LogError(err, "Final metrics flush failed", "service", c.service)
			}
			return
		case <-c.flushCh:
			dirty = true
		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			if err := c.Flush(); err != nil {
				c.logger.LogError(err, "Metrics flush failed", "service", c.service)
			}
		}
	}
}
