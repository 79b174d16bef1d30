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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/vecload"
	"github.com/poiesic/vecload/ai"
	"github.com/poiesic/vecload/core"
	"github.com/poiesic/vecload/ratelimit"
)

func main() {
	app := &cli.App{
		Name:  "vecload",
		Usage: "Migrate relational catalogs into a vector-indexed store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:     "jobs",
				Usage:    "Path to the BadgerDB job store directory",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "source",
				Usage:    "Source database DSN",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "dest",
				Usage:    "Destination database DSN",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "embedding-host",
				Usage: "Embedding service host URL",
				Value: "http://localhost:11434/v1",
			},
			&cli.StringFlag{
				Name:  "embedding-model",
				Usage: "Embedding model name",
				Value: "embeddinggemma",
			},
			&cli.StringFlag{
				Name:  "embedding-token",
				Usage: "Embedding service API token",
				Value: "none",
			},
			&cli.IntFlag{
				Name:  "dimensions",
				Usage: "Expected embedding dimensionality (0 disables the check)",
			},
			&cli.StringFlag{
				Name:  "dictionary",
				Usage: "Path to a JSON abbreviation dictionary for text expansion",
			},
			&cli.IntFlag{
				Name:  "max-concurrent",
				Usage: "Maximum concurrent embedding calls",
				Value: 4,
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "create",
				Usage:  "Create a migration job",
				Action: createCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source-table", Usage: "Source table name", Required: true},
					&cli.StringFlag{Name: "dest-table", Usage: "Destination table name", Required: true},
					&cli.StringFlag{
						Name:     "columns",
						Usage:    "Column mapping, comma separated src=dst pairs (plain names map to themselves)",
						Required: true,
					},
					&cli.StringFlag{Name: "key-column", Usage: "Stable business key column", Required: true},
					&cli.StringFlag{Name: "text-column", Usage: "Free-text column sent to the embedder", Required: true},
					&cli.StringFlag{Name: "no-expand-column", Usage: "Boolean column disabling expansion per record"},
					&cli.StringFlag{Name: "filter", Usage: "SQL predicate restricting extracted rows"},
					&cli.IntFlag{Name: "batch-size", Usage: "Records per batch", Value: 100},
					&cli.IntFlag{Name: "embed-batch-size", Usage: "Records per embedding call", Value: 20},
					&cli.DurationFlag{Name: "batch-delay", Usage: "Pause between batches", Value: 500 * time.Millisecond},
					&cli.IntFlag{Name: "max-errors", Usage: "Consecutive failed batches tolerated", Value: 3},
					&cli.BoolFlag{Name: "clean-text", Usage: "Enable dictionary-driven text expansion"},
					&cli.BoolFlag{Name: "clean-before", Usage: "Truncate the destination before the first batch"},
					&cli.BoolFlag{Name: "create-indexes", Usage: "Build destination indexes on completion"},
					&cli.Float64Flag{
						Name:  "threshold",
						Usage: "Minimum batch success rate to commit (0 selects the default)",
					},
				},
			},
			{
				Name:      "start",
				Usage:     "Start a pending job and run it to completion",
				ArgsUsage: "<job-id>",
				Action:    startCommand,
			},
			{
				Name:      "pause",
				Usage:     "Pause a running job at the next batch boundary",
				ArgsUsage: "<job-id>",
				Action:    pauseCommand,
			},
			{
				Name:      "resume",
				Usage:     "Resume a paused job and run it to completion",
				ArgsUsage: "<job-id>",
				Action:    resumeCommand,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a job",
				ArgsUsage: "<job-id>",
				Action:    cancelCommand,
			},
			{
				Name:      "delete",
				Usage:     "Delete a terminal job's record",
				ArgsUsage: "<job-id>",
				Action:    deleteCommand,
			},
			{
				Name:      "status",
				Usage:     "Show a job's status and progress",
				ArgsUsage: "<job-id>",
				Action:    statusCommand,
			},
			{
				Name:   "list",
				Usage:  "List all jobs, newest first",
				Action: listCommand,
			},
			{
				Name:   "resume-from-checkpoint",
				Usage:  "Derive a checkpoint from the destination and continue the migration",
				Action: checkpointCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source-table", Usage: "Source table name", Required: true},
					&cli.StringFlag{Name: "dest-table", Usage: "Destination table name", Required: true},
					&cli.StringFlag{Name: "columns", Usage: "Column mapping, comma separated src=dst pairs", Required: true},
					&cli.StringFlag{Name: "key-column", Usage: "Stable business key column", Required: true},
					&cli.StringFlag{Name: "text-column", Usage: "Free-text column sent to the embedder", Required: true},
					&cli.StringFlag{Name: "filter", Usage: "SQL predicate restricting extracted rows"},
					&cli.StringFlag{Name: "exclude", Usage: "Predicate for destination rows migrations skip"},
					&cli.IntFlag{Name: "batch-size", Usage: "Records per batch", Value: 100},
					&cli.IntFlag{Name: "embed-batch-size", Usage: "Records per embedding call", Value: 20},
					&cli.IntFlag{Name: "max-errors", Usage: "Consecutive failed batches tolerated", Value: 3},
					&cli.BoolFlag{Name: "clean-text", Usage: "Enable dictionary-driven text expansion"},
				},
			},
			{
				Name:   "verify",
				Usage:  "Run a sampled integrity check against a destination table",
				Action: verifyCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dest-table", Usage: "Destination table name", Required: true},
					&cli.StringFlag{Name: "key-column", Usage: "Destination business key column", Required: true},
					&cli.IntFlag{Name: "sample", Usage: "Number of rows to sample", Value: 100},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openEngine(c *cli.Context) (*vecload.Engine, error) {
	opts := []vecload.EngineOption{
		vecload.WithAIConfig(ai.NewConfig(
			ai.WithHost(c.String("embedding-host")),
			ai.WithModel(c.String("embedding-model")),
			ai.WithToken(c.String("embedding-token")),
			ai.WithDimensions(c.Int("dimensions")),
		)),
	}

	category := ratelimit.DefaultCategoryConfig()
	category.MaxConcurrent = c.Int("max-concurrent")
	opts = append(opts, vecload.WithRateLimitConfig(ratelimit.NewConfig(
		ratelimit.WithCategory(ratelimit.CategoryEmbedding, category),
	)))

	if path := c.String("dictionary"); path != "" {
		dictionary, err := loadDictionary(path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, vecload.WithDictionary(dictionary))
	}

	return vecload.NewEngine(c.Context, c.String("jobs"), c.String("source"), c.String("dest"), opts...)
}

func loadDictionary(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary: %w", err)
	}
	var dictionary map[string]string
	if err := json.Unmarshal(data, &dictionary); err != nil {
		return nil, fmt.Errorf("failed to parse dictionary: %w", err)
	}
	return dictionary, nil
}

// parseColumns reads "src=dst" pairs; a bare name maps to itself.
func parseColumns(raw string) (map[string]string, error) {
	columns := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		src, dst, found := strings.Cut(part, "=")
		if !found {
			dst = src
		}
		if src == "" || dst == "" {
			return nil, fmt.Errorf("invalid column mapping %q", part)
		}
		columns[src] = dst
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("column mapping is empty")
	}
	return columns, nil
}

func parseJobID(c *cli.Context) (core.JobID, error) {
	arg := c.Args().First()
	if arg == "" {
		return 0, fmt.Errorf("job id is required")
	}
	id, err := strconv.ParseUint(arg, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid job id %q: %w", arg, err)
	}
	return core.JobID(id), nil
}

func buildJob(c *cli.Context) (*core.MigrationJob, error) {
	columns, err := parseColumns(c.String("columns"))
	if err != nil {
		return nil, err
	}

	return &core.MigrationJob{
		Source: core.SourceSpec{
			Table:          c.String("source-table"),
			Columns:        columns,
			KeyColumn:      c.String("key-column"),
			TextColumn:     c.String("text-column"),
			NoExpandColumn: c.String("no-expand-column"),
			Filter:         c.String("filter"),
		},
		Destination: core.DestinationSpec{
			Table:         c.String("dest-table"),
			CleanBefore:   c.Bool("clean-before"),
			CreateIndexes: c.Bool("create-indexes"),
		},
		Processing: core.ProcessingSpec{
			BatchSize:            c.Int("batch-size"),
			EmbedBatchSize:       c.Int("embed-batch-size"),
			BatchDelay:           c.Duration("batch-delay"),
			MaxConsecutiveErrors: c.Int("max-errors"),
			CleanText:            c.Bool("clean-text"),
			SuccessThreshold:     c.Float64("threshold"),
		},
	}, nil
}

func createCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	job, err := buildJob(c)
	if err != nil {
		return err
	}
	if err := engine.Controller().Create(c.Context, job); err != nil {
		return err
	}

	fmt.Printf("created job %s (%d records)\n", job.Id, job.Progress.Total)
	return nil
}

func startCommand(c *cli.Context) error {
	return runJob(c, func(ctx context.Context, engine *vecload.Engine, id core.JobID) error {
		return engine.Controller().Start(ctx, id)
	})
}

func resumeCommand(c *cli.Context) error {
	return runJob(c, func(ctx context.Context, engine *vecload.Engine, id core.JobID) error {
		return engine.Controller().Resume(ctx, id)
	})
}

// runJob launches a job and hosts its run loop until it stops.
func runJob(c *cli.Context, launch func(context.Context, *vecload.Engine, core.JobID) error) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	id, err := parseJobID(c)
	if err != nil {
		return err
	}
	if err := launch(c.Context, engine, id); err != nil {
		return err
	}
	if err := engine.Controller().Wait(c.Context, id); err != nil {
		return err
	}

	job, err := engine.Controller().Get(c.Context, id)
	if err != nil {
		return err
	}
	printJob(job)
	return nil
}

func pauseCommand(c *cli.Context) error {
	return controlCommand(c, "paused", func(ctx context.Context, engine *vecload.Engine, id core.JobID) error {
		return engine.Controller().Pause(ctx, id)
	})
}

func cancelCommand(c *cli.Context) error {
	return controlCommand(c, "cancelled", func(ctx context.Context, engine *vecload.Engine, id core.JobID) error {
		return engine.Controller().Cancel(ctx, id)
	})
}

func deleteCommand(c *cli.Context) error {
	return controlCommand(c, "deleted", func(ctx context.Context, engine *vecload.Engine, id core.JobID) error {
		return engine.Controller().Delete(ctx, id)
	})
}

func controlCommand(c *cli.Context, verb string, fn func(context.Context, *vecload.Engine, core.JobID) error) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	id, err := parseJobID(c)
	if err != nil {
		return err
	}
	if err := fn(c.Context, engine, id); err != nil {
		return err
	}

	fmt.Printf("job %s %s\n", id, verb)
	return nil
}

func statusCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	id, err := parseJobID(c)
	if err != nil {
		return err
	}
	job, err := engine.Controller().Get(c.Context, id)
	if err != nil {
		return err
	}

	printJob(job)
	if len(job.ErrorLog) > 0 {
		fmt.Printf("errors (%d):\n", len(job.ErrorLog))
		for _, msg := range job.ErrorLog {
			fmt.Printf("  %s\n", msg)
		}
	}
	return nil
}

func listCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	jobs, err := engine.Controller().List(c.Context)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("no jobs")
		return nil
	}

	for _, job := range jobs {
		fmt.Printf("%s  %-9s  %s -> %s  %d/%d (%.1f%%)\n",
			job.Id, job.Status, job.Source.Table, job.Destination.Table,
			job.Progress.Processed, job.Progress.Total, job.Progress.Percentage)
	}
	return nil
}

func checkpointCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	template, err := buildJob(c)
	if err != nil {
		return err
	}

	planner, err := engine.NewPlanner(template.Destination.Table, template.Source.Columns[template.Source.KeyColumn], c.String("exclude"))
	if err != nil {
		return err
	}

	result, err := planner.Resume(c.Context, template)
	if err != nil {
		return err
	}
	if result == nil {
		fmt.Println("no pending work, nothing to resume")
		return nil
	}

	fmt.Printf("resuming job %s from key %q (%d pending)\n",
		result.JobID, result.ResumedFrom, result.TotalPending)
	if err := engine.Controller().Wait(c.Context, result.JobID); err != nil {
		return err
	}

	job, err := engine.Controller().Get(c.Context, result.JobID)
	if err != nil {
		return err
	}
	printJob(job)
	return nil
}

func verifyCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	report, err := engine.Verify(c.Context,
		c.String("dest-table"), c.String("key-column"),
		c.Int("sample"), c.Int("dimensions"))
	if err != nil {
		return err
	}

	fmt.Printf("sampled:          %d\n", report.Sampled)
	fmt.Printf("missing vectors:  %d\n", report.MissingVectors)
	fmt.Printf("wrong dimensions: %d\n", report.WrongDimensions)
	fmt.Printf("duplicate keys:   %d\n", report.DuplicateKeys)
	if report.Clean() {
		fmt.Println("integrity check passed")
	} else {
		return fmt.Errorf("integrity check found problems")
	}
	return nil
}

func printJob(job *core.MigrationJob) {
	fmt.Printf("job:       %s\n", job.Id)
	fmt.Printf("status:    %s\n", job.Status)
	fmt.Printf("tables:    %s -> %s\n", job.Source.Table, job.Destination.Table)
	fmt.Printf("progress:  %d/%d (%.1f%%)\n", job.Progress.Processed, job.Progress.Total, job.Progress.Percentage)
	if job.Progress.RecordsPerSecond > 0 {
		fmt.Printf("rate:      %.1f records/s, ~%.1f minutes remaining\n",
			job.Progress.RecordsPerSecond, job.Progress.RemainingMinutes)
	}
	if job.Progress.LastKey != "" {
		fmt.Printf("last key:  %s\n", job.Progress.LastKey)
	}
	fmt.Printf("created:   %s\n", job.CreatedAt.Format(time.RFC3339))
	if !job.StartedAt.IsZero() {
		fmt.Printf("started:   %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if !job.CompletedAt.IsZero() {
		fmt.Printf("completed: %s\n", job.CompletedAt.Format(time.RFC3339))
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
