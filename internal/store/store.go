package store

import (
	"context"

	"github.com/sells-group/taxbill-cli/internal/model"
	"github.com/sells-group/taxbill-cli/internal/resilience"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Label  string          `json:"label,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// ResultFilter specifies criteria for listing extraction results.
type ResultFilter struct {
	Status    model.ResultStatus `json:"status,omitempty"`
	SourceKey string             `json:"source_key,omitempty"`
	Limit     int                `json:"limit,omitempty"`
	Offset    int                `json:"offset,omitempty"`
}

// Store defines the persistence interface for the extraction engine.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, label string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, report *model.RunReport) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Results and checkpoints. SaveResults upserts on (run_id,
	// work_item_id) so checkpoint flushes are idempotent.
	SaveResults(ctx context.Context, runID string, results []model.ExtractionResult) error
	ListResults(ctx context.Context, runID string, filter ResultFilter) ([]model.ExtractionResult, error)
	CompletedItemIDs(ctx context.Context, runID string, statuses ...model.ResultStatus) (map[string]model.ResultStatus, error)

	// Dead letter queue
	SaveDLQEntry(ctx context.Context, entry *resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	DeleteDLQEntry(ctx context.Context, id string) error
	IncrementDLQRetry(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
