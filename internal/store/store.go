package store

import (
	"context"

	"github.com/zecchin-leonardo/archeo-extract/internal/model"
)

// RunFilter specifies criteria for listing ingest runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the ingest pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, manifest string) (*model.IngestRun, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.IngestRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestRun, error)

	// Chunk dataset. Rows are keyed by (intervention, filename, chunk_index);
	// upserting replaces rows sharing a key, so re-ingesting a document after
	// more of its pages became convertible does not duplicate rows.
	UpsertChunks(ctx context.Context, chunks []model.Chunk) (int, error)
	ListChunks(ctx context.Context, intervention model.InterventionID) ([]model.Chunk, error)

	// Unreadable sources: documents whose every page range failed conversion.
	RecordUnreadable(ctx context.Context, runID string, doc model.SourceDocument) error
	ListUnreadable(ctx context.Context) ([]model.SourceDocument, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
