package core

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// JobID is a unique identifier for migration jobs.
// It is derived from the job's destination table and creation time.
type JobID uint64

// NewJobID generates a deterministic ID from the destination table name
// and the job's creation timestamp using BLAKE2b hashing.
func NewJobID(destinationTable string, createdAt time.Time) JobID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(destinationTable))
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(createdAt.UnixMicro()))
	h.Write(ts[:])
	sum := h.Sum(nil)
	return JobID(binary.LittleEndian.Uint64(sum))
}

// String renders the ID as fixed-width hex for operator display.
func (id JobID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// JobStatus identifies the lifecycle state of a migration job.
type JobStatus int

const (
	// StatusPending means the job has been created but not started.
	StatusPending JobStatus = iota + 1
	// StatusRunning means the job's run loop is actively processing batches.
	StatusRunning
	// StatusPaused means the run loop stopped at a batch boundary on request.
	StatusPaused
	// StatusCancelled means the job was cancelled by an operator. Terminal.
	StatusCancelled
	// StatusCompleted means the source was exhausted successfully. Terminal.
	StatusCompleted
	// StatusFailed means the consecutive-error budget was exceeded. Terminal.
	StatusFailed
)

// String returns the lowercase name used in logs and the CLI.
func (s JobStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusCancelled:
		return "cancelled"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsTerminal reports whether the status permits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusFailed
}

// SourceSpec describes what to extract from the source database.
type SourceSpec struct {
	// Table is the source table name.
	Table string
	// Columns maps source column names to destination field names.
	Columns map[string]string
	// KeyColumn is the stable business key used for ordering, checkpoints
	// and destination upserts. It must appear in Columns.
	KeyColumn string
	// TextColumn is the free-text column sent to the embedder. It must
	// appear in Columns.
	TextColumn string
	// NoExpandColumn optionally names a boolean column that disables
	// text expansion for individual records.
	NoExpandColumn string
	// Filter is an optional SQL predicate restricting extracted rows.
	Filter string
	// ResumeAfterKey, when non-empty, restricts extraction to rows whose
	// key is strictly greater than this checkpoint.
	ResumeAfterKey string
}

// DestinationSpec describes the vector-indexed destination table.
type DestinationSpec struct {
	Table string
	// CleanBefore truncates the destination table before the first batch.
	// Incompatible with a resume checkpoint; see ValidateJobConfig.
	CleanBefore bool
	// CreateIndexes builds key and vector indexes after a successful run.
	CreateIndexes bool
}

// ProcessingSpec holds the tuning knobs for a job's run loop.
type ProcessingSpec struct {
	// BatchSize is the number of source rows extracted per batch.
	BatchSize int
	// EmbedBatchSize is the number of records per embedding call.
	EmbedBatchSize int
	// BatchDelay is the deliberate pause between batches.
	BatchDelay time.Duration
	// MaxConsecutiveErrors is the number of consecutive failed batches
	// tolerated before the job transitions to failed.
	MaxConsecutiveErrors int
	// CleanText enables dictionary-driven text expansion before embedding.
	CleanText bool
	// SuccessThreshold is the minimum fraction of a batch that must load
	// for the batch transaction to commit. Zero means DefaultSuccessThreshold.
	SuccessThreshold float64
}

// DefaultSuccessThreshold is the commit threshold used when a job's
// ProcessingSpec leaves SuccessThreshold zero.
const DefaultSuccessThreshold = 0.7

// Progress holds the live counters for a running job.
// Invariant: Processed <= Total.
type Progress struct {
	Total            int64
	Processed        int64
	Errors           int64
	Percentage       float64
	CurrentBatch     int64
	RecordsPerSecond float64
	RemainingMinutes float64
	// LastKey is the highest key confirmed loaded into the destination.
	LastKey string
}

// MigrationJob is the durable record of one catalog migration.
type MigrationJob struct {
	Id          JobID
	Status      JobStatus
	Source      SourceSpec
	Destination DestinationSpec
	Processing  ProcessingSpec
	Progress    Progress
	// ErrorLog is append-only; the engine never truncates it.
	ErrorLog    []string
	CreatedAt   time.Time
	StartedAt   time.Time // zero until the job first runs
	CompletedAt time.Time // zero until a terminal status is reached
	UpdatedAt   time.Time
}

// Threshold returns the effective success-rate commit threshold.
func (j *MigrationJob) Threshold() float64 {
	if j.Processing.SuccessThreshold <= 0 {
		return DefaultSuccessThreshold
	}
	return j.Processing.SuccessThreshold
}

// Record is a transient, in-memory view of one row moving through the
// pipeline. It is never persisted.
type Record struct {
	// Key is the stable business key (value of SourceSpec.KeyColumn).
	Key string
	// Fields is the destination-shaped row, keyed by destination field
	// name. The designated text field keeps its original value.
	Fields map[string]any
	// Text is the original free-text value.
	Text string
	// EmbedText is the expansion-rewritten text sent to the embedder.
	// It is never stored.
	EmbedText string
	// Vector is the embedding, or nil if generation failed for this record.
	Vector []float32
	// NoExpand disables text expansion for this record.
	NoExpand bool
}

// JobStats summarizes a finished run.
type JobStats struct {
	TotalProcessed int64
	TotalErrors    int64
	Duration       time.Duration
}
