// Package convert resolves source documents into converted page-range
// results, combining the remote conversion client with the interim cache and
// the per-page retry escalation policy.
//
// Per (document, page range) the resolution states are: whole-range call →
// usable content, or escalation into single-page calls where each page
// independently succeeds or is recorded as permanently failed. Every resolved
// range and page is persisted, failures as the empty sentinel, so a rerun
// never repeats completed work and never retries an abandoned page.
package convert

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zecchin-leonardo/archeo-extract/internal/cache"
	"github.com/zecchin-leonardo/archeo-extract/internal/model"
	"github.com/zecchin-leonardo/archeo-extract/internal/pages"
	"github.com/zecchin-leonardo/archeo-extract/pkg/docai"
)

// PageCounter returns the page count of a PDF. Opening the file is expensive,
// so the count is obtained once per document.
type PageCounter func(path string) (int, error)

// Options configures page-range batching.
type Options struct {
	// BatchSize is the number of pages submitted per conversion call.
	BatchSize int
	// BorderPages, when > 0, restricts conversion to the leading and
	// trailing pages of each document (incipit and end).
	BorderPages int
}

// Converter is the cache-aware conversion front of the ingestion pipeline.
type Converter struct {
	client      docai.Client
	part        *cache.Part
	countPages  PageCounter
	batchSize   int
	borderPages int
}

// New creates a Converter. part must be the interim pdf_scans cache part.
// The batch size is clamped to the client's per-call page bound.
func New(client docai.Client, part *cache.Part, countPages PageCounter, opts Options) (*Converter, error) {
	if opts.BatchSize < 1 {
		return nil, eris.Errorf("convert: batch size must be >= 1, got %d", opts.BatchSize)
	}
	if opts.BorderPages < 0 {
		return nil, eris.Errorf("convert: border pages must be >= 0, got %d", opts.BorderPages)
	}
	batch := opts.BatchSize
	if maxCall := client.MaxPagesPerCall(); batch > maxCall {
		batch = maxCall
	}
	return &Converter{
		client:      client,
		part:        part,
		countPages:  countPages,
		batchSize:   batch,
		borderPages: opts.BorderPages,
	}, nil
}

// RangeResult is the resolved outcome of one page range.
type RangeResult struct {
	Range pages.Range
	// Doc holds the usable content of the range; nil when every page failed.
	Doc *docai.Document
	// FailedPages lists pages abandoned after per-page escalation, ascending.
	FailedPages []int
	// FromCache is true when no remote call was needed for this range.
	FromCache bool
}

// Failed reports whether the range produced no usable content at all.
func (r RangeResult) Failed() bool {
	return r.Doc == nil || len(r.Doc.Items) == 0
}

// DocumentResult aggregates the resolved ranges of one source document.
type DocumentResult struct {
	Document    model.SourceDocument
	TotalPages  int
	Ranges      []RangeResult
	FailedPages []int
}

// Unreadable reports whether every range failed: the document contributes
// nothing and must be surfaced in the unreadable source set, not silently
// dropped.
func (d *DocumentResult) Unreadable() bool {
	for _, r := range d.Ranges {
		if !r.Failed() {
			return false
		}
	}
	return true
}

// Docs returns the usable converted documents in ascending page order,
// failed ranges omitted.
func (d *DocumentResult) Docs() []*docai.Document {
	var out []*docai.Document
	for _, r := range d.Ranges {
		if !r.Failed() {
			out = append(out, r.Doc)
		}
	}
	return out
}

// ConvertDocument resolves every page range of doc in ascending page order.
// Page- and range-local failures are absorbed into the result; an error is
// returned only when the document cannot even be opened or the cache itself
// misbehaves.
func (c *Converter) ConvertDocument(ctx context.Context, doc model.SourceDocument) (*DocumentResult, error) {
	log := zap.L().With(
		zap.String("intervention", doc.Intervention.String()),
		zap.String("file", doc.Filename()),
	)

	total, err := c.countPages(doc.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "convert: count pages of %s", doc.Path)
	}

	ranges, err := pages.Divide(total, c.batchSize, c.borderPages)
	if err != nil {
		return nil, err
	}

	result := &DocumentResult{Document: doc, TotalPages: total}
	for _, r := range ranges {
		rr, err := c.resolveRange(ctx, doc, r)
		if err != nil {
			return nil, err
		}
		result.Ranges = append(result.Ranges, rr)
		result.FailedPages = append(result.FailedPages, rr.FailedPages...)
	}

	if result.Unreadable() {
		log.Warn("convert: document is unreadable", zap.Int("total_pages", total))
	} else if len(result.FailedPages) > 0 {
		log.Warn("convert: document converted with failed pages",
			zap.Ints("failed_pages", result.FailedPages))
	}

	return result, nil
}

// resolveRange resolves one page range through the cache.
//
// Cache protocol: a stored value under the range key is the converted
// content; the empty sentinel under a multi-page range key means "the
// whole-range call was attempted and failed — resolution lives at the
// single-page keys". The sentinel under a single-page key means that page is
// permanently failed.
func (c *Converter) resolveRange(ctx context.Context, doc model.SourceDocument, r pages.Range) (RangeResult, error) {
	key := rangeKey(doc, r)

	data, state, err := c.part.Lookup(key)
	if err != nil {
		return RangeResult{}, err
	}

	switch state {
	case cache.Hit:
		d, err := decodeDocument(data)
		if err != nil {
			return RangeResult{}, eris.Wrapf(err, "convert: corrupt cache entry %s", key)
		}
		return RangeResult{Range: r, Doc: d, FromCache: true}, nil

	case cache.HitEmpty:
		if r.Len() == 1 {
			return RangeResult{Range: r, FailedPages: r.Pages(), FromCache: true}, nil
		}
		// Whole-range attempt already failed in a previous run; resolution
		// continues at single-page granularity below.
		return c.escalate(ctx, doc, r)

	default: // cache.Miss
	}

	res, err := c.client.Convert(ctx, docai.ConvertRequest{
		Path:      doc.Path,
		FirstPage: r.Start,
		LastPage:  r.End,
	})
	if err == nil && res.Status.Usable() {
		data, err := encodeDocument(res.Document)
		if err != nil {
			return RangeResult{}, err
		}
		if err := c.part.Put(key, data); err != nil {
			return RangeResult{}, err
		}
		return RangeResult{Range: r, Doc: res.Document}, nil
	}

	if err != nil {
		zap.L().Warn("convert: whole-range call failed, escalating per page",
			zap.String("file", doc.Filename()),
			zap.String("range", r.String()),
			zap.Error(err),
		)
	} else {
		zap.L().Warn("convert: whole-range call rejected, escalating per page",
			zap.String("file", doc.Filename()),
			zap.String("range", r.String()),
			zap.String("status", string(res.Status)),
		)
	}

	// Record the failed whole-range attempt before escalating, so an
	// interrupted escalation resumes at the page keys instead of repeating
	// the expensive whole-range call.
	if r.Len() > 1 {
		if err := c.part.PutEmpty(key); err != nil {
			return RangeResult{}, err
		}
		return c.escalate(ctx, doc, r)
	}

	// Single-page range: the failed attempt is final for this page.
	if err := c.part.PutEmpty(key); err != nil {
		return RangeResult{}, err
	}
	return RangeResult{Range: r, FailedPages: r.Pages()}, nil
}

// escalate retries each page of r individually. A page failure is recorded
// as the cached empty sentinel and never aborts the sibling pages.
func (c *Converter) escalate(ctx context.Context, doc model.SourceDocument, r pages.Range) (RangeResult, error) {
	merged := &docai.Document{}
	out := RangeResult{Range: r, FromCache: true}

	for _, single := range r.Singles() {
		key := rangeKey(doc, single)

		data, state, err := c.part.Lookup(key)
		if err != nil {
			return RangeResult{}, err
		}

		switch state {
		case cache.Hit:
			d, err := decodeDocument(data)
			if err != nil {
				return RangeResult{}, eris.Wrapf(err, "convert: corrupt cache entry %s", key)
			}
			merged.Items = append(merged.Items, d.Items...)
			continue
		case cache.HitEmpty:
			out.FailedPages = append(out.FailedPages, single.Start)
			continue
		}

		out.FromCache = false
		res, err := c.client.Convert(ctx, docai.ConvertRequest{
			Path:      doc.Path,
			FirstPage: single.Start,
			LastPage:  single.End,
		})
		if err != nil || !res.Status.Usable() {
			if err != nil {
				zap.L().Warn("convert: page abandoned",
					zap.String("file", doc.Filename()),
					zap.Int("page", single.Start),
					zap.Error(err),
				)
			}
			if putErr := c.part.PutEmpty(key); putErr != nil {
				return RangeResult{}, putErr
			}
			out.FailedPages = append(out.FailedPages, single.Start)
			continue
		}

		data, err = encodeDocument(res.Document)
		if err != nil {
			return RangeResult{}, err
		}
		if err := c.part.Put(key, data); err != nil {
			return RangeResult{}, err
		}
		merged.Items = append(merged.Items, res.Document.Items...)
	}

	if len(merged.Items) > 0 {
		out.Doc = merged
	}
	return out, nil
}

// rangeKey builds the cache key for one (document, page range) pair from
// plain identifiers only: intervention id, filename stem, page interval.
func rangeKey(doc model.SourceDocument, r pages.Range) string {
	return doc.Intervention.String() + "/" + cache.Key(doc.Stem(), r.String()) + ".json"
}

func encodeDocument(d *docai.Document) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, eris.Wrap(err, "convert: encode document")
	}
	return data, nil
}

func decodeDocument(data []byte) (*docai.Document, error) {
	var d docai.Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
