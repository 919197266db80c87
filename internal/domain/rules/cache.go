package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/metrics"
)

// Loader fetches the active set of a domain from the store.
type Loader func(ctx context.Context, domain Domain) ([]*RuleVersion, error)

// ActiveCache keeps the active rule set per domain in memory. Entries are
// dropped on activation and reloaded on the next read or the next
// scheduled refresh, whichever comes first.
type ActiveCache struct {
	load    Loader
	logger  zerolog.Logger
	metrics *metrics.Collector

	mu      sync.RWMutex
	entries map[Domain][]*RuleVersion
	// gen is bumped on Invalidate; a load started under an older
	// generation is returned to its caller but not stored.
	gen map[Domain]uint64

	cron *cron.Cron
}

func NewActiveCache(load Loader, logger zerolog.Logger, m *metrics.Collector) *ActiveCache {
	return &ActiveCache{
		load:    load,
		logger:  logger.With().Str("component", "ruleset_cache").Logger(),
		metrics: m,
		entries: make(map[Domain][]*RuleVersion),
		gen:     make(map[Domain]uint64),
	}
}

// Get returns the cached set, loading it on a miss. Load errors are not
// cached.
func (c *ActiveCache) Get(ctx context.Context, d Domain) ([]*RuleVersion, error) {
	c.mu.RLock()
	vs, ok := c.entries[d]
	gen := c.gen[d]
	c.mu.RUnlock()
	if ok {
		return vs, nil
	}
	vs, err := c.load(ctx, d)
	if err != nil {
		return nil, err
	}
	c.store(d, gen, vs)
	return vs, nil
}

func (c *ActiveCache) store(d Domain, gen uint64, vs []*RuleVersion) {
	c.mu.Lock()
	if c.gen[d] == gen {
		c.entries[d] = vs
	}
	c.mu.Unlock()
}

func (c *ActiveCache) Invalidate(d Domain) {
	c.mu.Lock()
	delete(c.entries, d)
	c.gen[d]++
	c.mu.Unlock()
}

// Refresh reloads every domain. On error the previous entry is dropped so
// the next read goes to the store.
func (c *ActiveCache) Refresh(ctx context.Context) error {
	var firstErr error
	for _, d := range []Domain{DomainIntakeSafety, DomainContentValidation} {
		c.mu.RLock()
		gen := c.gen[d]
		c.mu.RUnlock()
		vs, err := c.load(ctx, d)
		if err != nil {
			c.mu.Lock()
			delete(c.entries, d)
			c.mu.Unlock()
		} else {
			c.store(d, gen, vs)
		}
		if err != nil {
			c.metrics.RecordCacheRefresh("error")
			c.logger.Warn().Err(err).Str("domain", string(d)).Msg("ruleset refresh failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("refresh %s: %w", d, err)
			}
			continue
		}
		c.metrics.RecordCacheRefresh("ok")
		c.logger.Debug().Str("domain", string(d)).Int("rules", len(vs)).Msg("ruleset refreshed")
	}
	return firstErr
}

// Start schedules Refresh on a standard five-field cron expression.
func (c *ActiveCache) Start(schedule string, timeout time.Duration) error {
	cr := cron.New()
	_, err := cr.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = c.Refresh(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule ruleset refresh: %w", err)
	}
	c.cron = cr
	cr.Start()
	c.logger.Info().Str("schedule", schedule).Msg("ruleset refresh scheduled")
	return nil
}

// Stop halts the scheduler and waits for a running refresh.
func (c *ActiveCache) Stop() {
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
}
