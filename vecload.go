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

// Package vecload migrates relational catalogs into vector-indexed
// destination stores, enriching every record with a machine-generated
// embedding along the way.
package vecload

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/poiesic/vecload/ai"
	"github.com/poiesic/vecload/ai/openai"
	"github.com/poiesic/vecload/dest"
	"github.com/poiesic/vecload/migrate"
	"github.com/poiesic/vecload/ratelimit"
	"github.com/poiesic/vecload/sqlite"
	"github.com/poiesic/vecload/storage"
	"github.com/poiesic/vecload/storage/badger"
)

// Engine wires the job store, source reader, destination loader, embedder
// and rate limiter into a migration controller.
type Engine struct {
	backend    *badger.Backend
	jobs       storage.JobRepository
	sourceDB   *sql.DB
	destDB     *sql.DB
	embedder   ai.Embedder
	limiter    ratelimit.Limiter
	controller *migrate.Controller
	logger     *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	aiConfig   *ai.Config
	rateConfig *ratelimit.Config
	embedder   ai.Embedder
	dictionary map[string]string
	poolSize   int
}

// WithAIConfig sets the embedding service configuration.
func WithAIConfig(cfg *ai.Config) EngineOption {
	return func(o *engineOptions) {
		o.aiConfig = cfg
	}
}

// WithRateLimitConfig sets the remote client quota configuration.
func WithRateLimitConfig(cfg *ratelimit.Config) EngineOption {
	return func(o *engineOptions) {
		o.rateConfig = cfg
	}
}

// WithEmbedder injects an embedder directly, bypassing the AI config.
// Used by tests and by callers with a custom provider.
func WithEmbedder(e ai.Embedder) EngineOption {
	return func(o *engineOptions) {
		o.embedder = e
	}
}

// WithDictionary sets the abbreviation dictionary for text expansion.
func WithDictionary(dictionary map[string]string) EngineOption {
	return func(o *engineOptions) {
		o.dictionary = dictionary
	}
}

// WithPoolSize sets the embedding worker pool size.
func WithPoolSize(size int) EngineOption {
	return func(o *engineOptions) {
		o.poolSize = size
	}
}

// NewEngine opens the job store, the source and destination databases,
// and builds the migration controller. An empty jobStorePath selects an
// in-memory job store.
//
// Jobs left in running state by a crashed process are flipped to paused
// here so the resume planner can take over.
func NewEngine(ctx context.Context, jobStorePath, sourceDSN, destDSN string, opts ...EngineOption) (*Engine, error) {
	options := &engineOptions{
		aiConfig:   ai.DefaultConfig(),
		rateConfig: ratelimit.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(options)
	}

	backend, err := badger.OpenBackend(jobStorePath, jobStorePath == "")
	if err != nil {
		return nil, err
	}
	jobs := badger.NewJobRepository(backend)

	sourceDB, err := sqlite.Open(sourceDSN)
	if err != nil {
		backend.Close()
		return nil, err
	}
	destDB, err := sqlite.Open(destDSN)
	if err != nil {
		sourceDB.Close()
		backend.Close()
		return nil, err
	}

	embedder := options.embedder
	if embedder == nil {
		embedder, err = openai.NewEmbedder(options.aiConfig)
		if err != nil {
			destDB.Close()
			sourceDB.Close()
			backend.Close()
			return nil, err
		}
	}

	limiter, err := ratelimit.NewClient(options.rateConfig)
	if err != nil {
		destDB.Close()
		sourceDB.Close()
		backend.Close()
		return nil, err
	}

	ctrlOpts := []migrate.Option{migrate.WithDictionary(options.dictionary)}
	if options.poolSize > 0 {
		ctrlOpts = append(ctrlOpts, migrate.WithPoolSize(options.poolSize))
	}
	controller, err := migrate.NewController(jobs, sourceDB, destDB, embedder, limiter, ctrlOpts...)
	if err != nil {
		limiter.Close()
		destDB.Close()
		sourceDB.Close()
		backend.Close()
		return nil, err
	}

	logger := slog.Default()
	recovered, err := jobs.RecoverStale(ctx)
	if err != nil {
		controller.Release()
		limiter.Close()
		destDB.Close()
		sourceDB.Close()
		backend.Close()
		return nil, err
	}
	if recovered > 0 {
		logger.Info("recovered stale jobs from previous process", "count", recovered)
	}

	return &Engine{
		backend:    backend,
		jobs:       jobs,
		sourceDB:   sourceDB,
		destDB:     destDB,
		embedder:   embedder,
		limiter:    limiter,
		controller: controller,
		logger:     logger,
	}, nil
}

// Close parks running jobs as paused and releases every resource.
func (e *Engine) Close() error {
	e.controller.Release()

	if err := e.limiter.Close(); err != nil {
		e.logger.Error("error closing rate limiter", "err", err)
	}
	if err := e.destDB.Close(); err != nil {
		e.logger.Error("error closing destination database", "err", err)
	}
	if err := e.sourceDB.Close(); err != nil {
		e.logger.Error("error closing source database", "err", err)
	}
	if err := e.jobs.Close(); err != nil {
		e.logger.Error("error closing job repository", "err", err)
	}
	if err := e.backend.Close(); err != nil {
		e.logger.Error("error closing job store backend", "err", err)
		return err
	}
	return nil
}

// Controller returns the migration controller.
func (e *Engine) Controller() *migrate.Controller {
	return e.controller
}

// Jobs returns the job repository.
func (e *Engine) Jobs() storage.JobRepository {
	return e.jobs
}

// NewPlanner builds a resume planner over one destination table. exclude
// is an optional predicate removing rows the migration also skips.
func (e *Engine) NewPlanner(table, keyField, exclude string) (*migrate.Planner, error) {
	inspector, err := dest.NewInspector(e.destDB, table, keyField, exclude)
	if err != nil {
		return nil, err
	}
	return migrate.NewPlanner(e.controller, inspector), nil
}

// Verify runs a sampled integrity check against a destination table.
func (e *Engine) Verify(ctx context.Context, table, keyField string, sampleSize, dimensions int) (*dest.VerifyReport, error) {
	inspector, err := dest.NewInspector(e.destDB, table, keyField, "")
	if err != nil {
		return nil, err
	}
	return inspector.Verify(ctx, sampleSize, dimensions)
}
