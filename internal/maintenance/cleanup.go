package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/soulline/lifeline/pkg/logger"

	"github.com/soulline/lifeline/internal/cache"
	"github.com/soulline/lifeline/internal/recording"
)

const defaultSchedule = "@every 1h"

// ChannelRegistry is the signaling relay surface the sweep needs.
type ChannelRegistry interface {
	Sessions() []string
	DropSession(sessionID string)
}

// SessionProber reports whether a session is still live; a non-nil error
// means its channels can be dropped.
type SessionProber interface {
	Participants(sessionID string) (clientID string, counterpartID string, err error)
}

// Cleaner runs background maintenance: enforcing recording retention and
// purging expired cache entries. Audit entries are never touched; the trail
// is append-only for the life of the deployment.
type Cleaner struct {
	authority  *recording.Authority
	cacheStore *cache.DatabaseStore
	cron       *cron.Cron
	channels   ChannelRegistry
	prober     SessionProber
	schedule   string
	now        func() time.Time
	log        *zap.Logger

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithSchedule overrides the cron specification for all jobs.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// WithChannelSweep drops signaling channels left behind by sessions that are
// no longer live. Terminal transitions normally sweep their own channels;
// this catches sessions that ended while their channels were mid-reconnect.
func WithChannelSweep(channels ChannelRegistry, prober SessionProber) Option {
	return func(cleaner *Cleaner) {
		if channels != nil && prober != nil {
			cleaner.channels = channels
			cleaner.prober = prober
		}
	}
}

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// NewCleaner constructs a Cleaner. A nil dependency skips the matching job.
func NewCleaner(authority *recording.Authority, cacheStore *cache.DatabaseStore, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		authority:  authority,
		cacheStore: cacheStore,
		schedule:   defaultSchedule,
		now:        time.Now,
		log:        logger.WithModule("maintenance"),
	}
	for _, opt := range opts {
		opt(cleaner)
	}
	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

// Start registers the jobs and launches the scheduler.
func (c *Cleaner) Start() error {
	if c.authority == nil && c.cacheStore == nil && c.channels == nil {
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("maintenance run failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	c.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured maintenance routines sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.authority != nil {
		expired, err := c.authority.Expired(ctx, c.now())
		if err != nil {
			errs = multierr.Append(errs, err)
		} else {
			for i := range expired {
				if err := c.authority.Purge(ctx, &expired[i]); err != nil {
					errs = multierr.Append(errs, err)
					continue
				}
				c.log.Info("recording purged",
					zap.String("recording_id", expired[i].ID),
					zap.String("session_id", expired[i].SessionID),
				)
			}
		}
	}

	if c.cacheStore != nil {
		if purged, err := c.cacheStore.PurgeExpired(ctx, c.now()); err != nil {
			errs = multierr.Append(errs, err)
		} else if purged > 0 {
			c.log.Info("cache entries purged", zap.Int64("count", purged))
		}
	}

	if c.channels != nil {
		for _, sessionID := range c.channels.Sessions() {
			if _, _, err := c.prober.Participants(sessionID); err != nil {
				c.channels.DropSession(sessionID)
				c.log.Info("stale channels dropped", zap.String("session_id", sessionID))
			}
		}
	}

	c.mu.Lock()
	c.lastRun = c.now()
	c.lastErr = errs
	c.mu.Unlock()

	return errs
}

// LastRun reports when the most recent maintenance run finished and its
// outcome. The zero time means no run has completed yet.
func (c *Cleaner) LastRun() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun, c.lastErr
}
