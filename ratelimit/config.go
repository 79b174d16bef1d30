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
	"errors"
	"time"
)

// CategoryConfig describes the quota for one operation category.
type CategoryConfig struct {
	// MaxConcurrent is the ceiling on in-flight calls.
	MaxConcurrent int

	// MinSpacing is the minimum interval between consecutive dispatches.
	// Zero disables spacing enforcement.
	MinSpacing time.Duration

	// Reservoir is the number of permits available per refill interval.
	// Zero disables the reservoir.
	Reservoir int

	// RefillInterval is how often the reservoir is topped back up.
	RefillInterval time.Duration

	// QueueExpiration bounds how long a call may wait for capacity before
	// being dropped. Zero means wait indefinitely.
	QueueExpiration time.Duration

	// MaxThrottleRetries bounds transparent retries after throttling
	// responses before the error surfaces to the caller.
	MaxThrottleRetries int

	// ThrottleBaseDelay seeds the retry delay. Each consecutive throttle
	// for the same call doubles it.
	ThrottleBaseDelay time.Duration
}

// Config maps category names to their quotas.
type Config struct {
	Categories map[string]CategoryConfig

	// ReportInterval is the cadence of counter reporting. Zero disables
	// the reporter.
	ReportInterval time.Duration
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithCategory sets the quota for a category.
func WithCategory(name string, cc CategoryConfig) ConfigOption {
	return func(c *Config) {
		c.Categories[name] = cc
	}
}

// WithReportInterval sets the counter reporting cadence.
func WithReportInterval(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.ReportInterval = d
	}
}

// DefaultCategoryConfig returns a quota suitable for a local embedding
// service.
func DefaultCategoryConfig() CategoryConfig {
	return CategoryConfig{
		MaxConcurrent:      4,
		MinSpacing:         50 * time.Millisecond,
		Reservoir:          120,
		RefillInterval:     time.Minute,
		QueueExpiration:    30 * time.Second,
		MaxThrottleRetries: 3,
		ThrottleBaseDelay:  time.Second,
	}
}

// DefaultConfig returns a Config with a single default "embedding"
// category and minute-cadence reporting.
func DefaultConfig() *Config {
	return &Config{
		Categories: map[string]CategoryConfig{
			CategoryEmbedding: DefaultCategoryConfig(),
		},
		ReportInterval: time.Minute,
	}
}

// NewConfig creates a Config with defaults and applies the provided
// options.
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Validate checks that every category quota is coherent.
func (c *Config) Validate() error {
	if len(c.Categories) == 0 {
		return errors.New("ratelimit config: at least one category is required")
	}
	for name, cc := range c.Categories {
		if cc.MaxConcurrent <= 0 {
			return errors.New("ratelimit config: MaxConcurrent must be positive for " + name)
		}
		if cc.Reservoir > 0 && cc.RefillInterval <= 0 {
			return errors.New("ratelimit config: RefillInterval must be positive when Reservoir is set for " + name)
		}
		if cc.MaxThrottleRetries < 0 {
			return errors.New("ratelimit config: MaxThrottleRetries must not be negative for " + name)
		}
	}
	return nil
}
