// Copyright 2026 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/vecload/core"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// CategoryEmbedding is the category used for embedding generation calls.
const CategoryEmbedding = "embedding"

// Limiter schedules operations against per-category quotas. Implementations
// must be safe for concurrent use; the quota state is shared by every
// caller in the process.
type Limiter interface {
	// Execute runs op under the named category's quota. It blocks while
	// queued for capacity, retries throttling responses transparently,
	// and returns core.ErrQueueExpired if the call waited longer than the
	// category's expiration.
	Execute(ctx context.Context, category string, op func(context.Context) error) error

	// Close stops background reporting.
	Close() error
}

type categoryLimiter struct {
	cfg       CategoryConfig
	sem       *semaphore.Weighted
	spacing   *rate.Limiter
	reservoir *rate.Limiter
}

// Client is the production Limiter backed by weighted semaphores and
// token buckets.
type Client struct {
	categories map[string]*categoryLimiter
	stats      *Stats
	reporter   *Reporter
	logger     *slog.Logger

	// IsThrottle classifies an operation error as a throttling response.
	// Defaults to defaultIsThrottle.
	IsThrottle func(error) bool
}

// NewClient builds a Client from the configuration. The counter reporter
// starts immediately when ReportInterval is set.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfiguration, err)
	}

	categories := make(map[string]*categoryLimiter, len(cfg.Categories))
	for name, cc := range cfg.Categories {
		cl := &categoryLimiter{
			cfg: cc,
			sem: semaphore.NewWeighted(int64(cc.MaxConcurrent)),
		}
		if cc.MinSpacing > 0 {
			cl.spacing = rate.NewLimiter(rate.Every(cc.MinSpacing), 1)
		}
		if cc.Reservoir > 0 {
			perSecond := float64(cc.Reservoir) / cc.RefillInterval.Seconds()
			cl.reservoir = rate.NewLimiter(rate.Limit(perSecond), cc.Reservoir)
		}
		categories[name] = cl
	}

	stats := NewStats()
	c := &Client{
		categories: categories,
		stats:      stats,
		logger:     slog.Default().With("component", "ratelimit"),
		IsThrottle: defaultIsThrottle,
	}
	if cfg.ReportInterval > 0 {
		c.reporter = NewReporter(stats, cfg.ReportInterval, c.logger)
		c.reporter.Start()
	}
	return c, nil
}

// Execute implements Limiter.
func (c *Client) Execute(ctx context.Context, category string, op func(context.Context) error) error {
	cl, ok := c.categories[category]
	if !ok {
		return fmt.Errorf("%w: unknown rate limit category %q", core.ErrConfiguration, category)
	}

	c.stats.Enqueued()
	if err := c.acquire(ctx, cl); err != nil {
		c.stats.Dequeued()
		return err
	}
	c.stats.Dequeued()
	defer cl.sem.Release(1)

	start := time.Now()
	err := c.runWithThrottleRetry(ctx, cl, op)
	c.stats.Completed(time.Since(start))
	return err
}

// acquire waits for a concurrency slot, the dispatch spacing, and a
// reservoir token, all bounded by the queue expiration.
func (c *Client) acquire(ctx context.Context, cl *categoryLimiter) error {
	waitCtx := ctx
	if cl.cfg.QueueExpiration > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cl.cfg.QueueExpiration)
		defer cancel()
	}

	if err := cl.sem.Acquire(waitCtx, 1); err != nil {
		return c.classifyWait(ctx, waitCtx, err)
	}
	if cl.spacing != nil {
		if err := cl.spacing.Wait(waitCtx); err != nil {
			cl.sem.Release(1)
			return c.classifyWait(ctx, waitCtx, err)
		}
	}
	if cl.reservoir != nil {
		if err := cl.reservoir.Wait(waitCtx); err != nil {
			cl.sem.Release(1)
			return c.classifyWait(ctx, waitCtx, err)
		}
	}
	return nil
}

// classifyWait distinguishes queue expiration from caller cancellation.
func (c *Client) classifyWait(ctx, waitCtx context.Context, err error) error {
	if waitCtx.Err() != nil && ctx.Err() == nil {
		c.logger.Warn("queued call expired", "wait", waitCtx.Err())
		return fmt.Errorf("%w: %v", core.ErrQueueExpired, err)
	}
	return err
}

// runWithThrottleRetry executes op, retrying throttling responses with a
// strictly increasing delay until the retry budget is spent.
func (c *Client) runWithThrottleRetry(ctx context.Context, cl *categoryLimiter, op func(context.Context) error) error {
	delay := cl.cfg.ThrottleBaseDelay
	if delay <= 0 {
		delay = time.Second
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil || !c.IsThrottle(err) {
			return err
		}

		c.stats.Throttled()
		if attempt >= cl.cfg.MaxThrottleRetries {
			break
		}

		c.logger.Warn("remote service throttled, backing off",
			"attempt", attempt+1,
			"delay", delay,
			"err", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}

	return fmt.Errorf("%w: retry budget exhausted: %v", core.ErrThrottled, err)
}

// Close stops the counter reporter.
func (c *Client) Close() error {
	if c.reporter != nil {
		c.reporter.Stop()
	}
	return nil
}

// defaultIsThrottle recognizes throttling both from the local taxonomy and
// from common remote service phrasings.
func defaultIsThrottle(err error) bool {
	if errors.Is(err, core.ErrThrottled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}
