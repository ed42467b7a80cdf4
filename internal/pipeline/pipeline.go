// Package pipeline orchestrates the batch ingest of intervention documents:
// conversion through the layout service, chunk extraction, and dataset
// assembly, with per-document failure absorption.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zecchin-leonardo/archeo-extract/internal/chunk"
	"github.com/zecchin-leonardo/archeo-extract/internal/convert"
	"github.com/zecchin-leonardo/archeo-extract/internal/dataset"
	"github.com/zecchin-leonardo/archeo-extract/internal/model"
	"github.com/zecchin-leonardo/archeo-extract/internal/store"
)

// DocumentFailure records a document the pipeline could not ingest at all,
// together with the cause. Documents that converted partially are not
// failures; their chunks simply cover fewer pages.
type DocumentFailure struct {
	Document model.SourceDocument
	Err      error
}

// Result is the outcome of one batch ingest.
type Result struct {
	RunID      string
	Dataset    *dataset.Dataset
	Unreadable []model.SourceDocument
	Failures   []DocumentFailure
	Summary    model.RunSummary
}

// Pipeline runs the ingest for a manifest of interventions. Documents are
// processed one at a time in manifest order; the converter's cache makes
// re-invocation after an interruption cheap.
type Pipeline struct {
	converter *convert.Converter
	extractor *chunk.Extractor
	store     store.Store
}

// New creates a Pipeline. store may be nil, in which case chunk rows and
// run bookkeeping are not persisted.
func New(converter *convert.Converter, extractor *chunk.Extractor, st store.Store) *Pipeline {
	return &Pipeline{
		converter: converter,
		extractor: extractor,
		store:     st,
	}
}

// Run ingests every document of the manifest. A document that fails to
// convert is absorbed into the result rather than aborting the batch;
// only bookkeeping violations (duplicate chunk keys, persistence failures)
// terminate the run.
func (p *Pipeline) Run(ctx context.Context, manifest *model.Manifest, manifestPath string) (*Result, error) {
	log := zap.L().With(zap.String("manifest", manifestPath))

	docs := manifest.Documents()
	log.Info("pipeline: starting ingest",
		zap.Int("interventions", len(manifest.Interventions)),
		zap.Int("documents", len(docs)),
	)

	result := &Result{Dataset: dataset.NewDataset()}

	runID, err := p.createRun(ctx, manifestPath)
	if err != nil {
		return nil, err
	}
	result.RunID = runID

	failedPages := 0
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			p.failRun(ctx, runID, log)
			return result, eris.Wrap(err, "pipeline: interrupted")
		}

		docLog := log.With(
			zap.Int("intervention", int(doc.Intervention)),
			zap.String("file", doc.Filename()),
		)

		start := time.Now()
		converted, err := p.converter.ConvertDocument(ctx, doc)
		if err != nil {
			docLog.Warn("pipeline: document failed", zap.Error(err))
			result.Failures = append(result.Failures, DocumentFailure{Document: doc, Err: err})
			continue
		}

		if converted.Unreadable() {
			docLog.Warn("pipeline: document unreadable",
				zap.Int("total_pages", converted.TotalPages))
			result.Unreadable = append(result.Unreadable, doc)
			if p.store != nil {
				if err := p.store.RecordUnreadable(ctx, runID, doc); err != nil {
					p.failRun(ctx, runID, log)
					return result, eris.Wrap(err, "pipeline: record unreadable")
				}
			}
			continue
		}

		chunks := p.extractor.Extract(doc.Intervention, doc.Filename(), converted.Docs())
		if err := result.Dataset.Append(chunks); err != nil {
			p.failRun(ctx, runID, log)
			return result, eris.Wrap(err, "pipeline: append chunks")
		}
		if p.store != nil {
			if _, err := p.store.UpsertChunks(ctx, chunks); err != nil {
				p.failRun(ctx, runID, log)
				return result, eris.Wrap(err, "pipeline: persist chunks")
			}
		}

		failedPages += len(converted.FailedPages)
		docLog.Info("pipeline: document ingested",
			zap.Int("total_pages", converted.TotalPages),
			zap.Int("failed_pages", len(converted.FailedPages)),
			zap.Int("chunks", len(chunks)),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}

	result.Summary = model.RunSummary{
		Interventions: len(manifest.Interventions),
		Documents:     len(docs),
		Chunks:        result.Dataset.Len(),
		FailedPages:   failedPages,
	}
	for _, doc := range result.Unreadable {
		result.Summary.Unreadable = append(result.Summary.Unreadable, doc.Key())
	}

	if p.store != nil {
		if err := p.store.CompleteRun(ctx, runID, &result.Summary); err != nil {
			return result, eris.Wrap(err, "pipeline: complete run")
		}
	}

	log.Info("pipeline: ingest complete",
		zap.String("run_id", runID),
		zap.Int("chunks", result.Dataset.Len()),
		zap.Int("failed_pages", failedPages),
		zap.Int("unreadable", len(result.Unreadable)),
		zap.Int("document_failures", len(result.Failures)),
	)

	return result, nil
}

func (p *Pipeline) createRun(ctx context.Context, manifestPath string) (string, error) {
	if p.store == nil {
		return "", nil
	}
	run, err := p.store.CreateRun(ctx, manifestPath)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: create run")
	}
	return run.ID, nil
}

func (p *Pipeline) failRun(ctx context.Context, runID string, log *zap.Logger) {
	if p.store == nil || runID == "" {
		return
	}
	if err := p.store.UpdateRunStatus(ctx, runID, model.RunStatusFailed); err != nil {
		log.Warn("pipeline: failed to update run status", zap.Error(err))
	}
}
