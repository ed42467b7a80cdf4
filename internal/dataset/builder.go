// Package dataset aggregates per-file chunk sequences into the unified
// per-intervention chunk dataset consumed by the field extractors, and
// renders filtered chunk subsets into a single prompt attachment.
package dataset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/zecchin-leonardo/archeo-extract/internal/model"
)

// Dataset is the relational collection of chunks, keyed by
// (intervention, filename, chunk index). Append-only while building;
// consumers hold it by read-only reference.
type Dataset struct {
	rows []model.Chunk
	keys map[string]bool
}

// NewDataset creates an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{keys: make(map[string]bool)}
}

// Append adds the chunk sequence of one file. Chunks are validated and the
// natural key must be unique across the dataset.
func (d *Dataset) Append(chunks []model.Chunk) error {
	for _, c := range chunks {
		if err := c.Validate(); err != nil {
			return err
		}
		key := fmt.Sprintf("%s|%s|%d", c.Intervention, c.Filename, c.Index)
		if d.keys[key] {
			return eris.Errorf("dataset: duplicate chunk key %s", key)
		}
		d.keys[key] = true
		d.rows = append(d.rows, c)
	}
	return nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.rows)
}

// Rows returns all rows in insertion order. The returned slice is shared;
// callers must not mutate it.
func (d *Dataset) Rows() []model.Chunk {
	return d.rows
}

// ForIntervention returns the rows belonging to one intervention, in
// insertion order.
func (d *Dataset) ForIntervention(id model.InterventionID) []model.Chunk {
	var out []model.Chunk
	for _, c := range d.rows {
		if c.Intervention == id {
			out = append(out, c)
		}
	}
	return out
}

// Filter returns the rows matching pred, in insertion order.
func (d *Dataset) Filter(pred func(model.Chunk) bool) []model.Chunk {
	var out []model.Chunk
	for _, c := range d.rows {
		if pred(c) {
			out = append(out, c)
		}
	}
	return out
}

// MergeContext renders a filtered chunk subset into one attachment string
// for prompting. Chunks are ordered by filename then chunk index — per-file
// order is what is stable; page numbers may interleave across files. Each
// chunk renders as a delimiter header (filename, pages, labels), the
// content, then a horizontal rule, so the downstream model can cite its
// sources.
func MergeContext(chunks []model.Chunk) string {
	ordered := make([]model.Chunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Filename != ordered[j].Filename {
			return ordered[i].Filename < ordered[j].Filename
		}
		return ordered[i].Index < ordered[j].Index
	})

	var sb strings.Builder
	for _, c := range ordered {
		labels := make([]string, len(c.Labels))
		for i, l := range c.Labels {
			labels[i] = string(l)
		}
		pages := make([]string, len(c.Pages))
		for i, p := range c.Pages {
			pages[i] = fmt.Sprintf("%d", p)
		}

		fmt.Fprintf(&sb, "=== %s | chunk %d | pagine %s | %s ===\n",
			c.Filename, c.Index, strings.Join(pages, ","), strings.Join(labels, ","))
		sb.WriteString(c.Content)
		sb.WriteString("\n---\n")
	}
	return sb.String()
}

// ThesaurusUnion returns the set union of matched thesaurus identifiers over
// the filtered subset, sorted. matches maps the natural chunk key position
// in chunks to its matched identifiers.
func ThesaurusUnion(matches [][]string) []string {
	set := make(map[string]bool)
	for _, ids := range matches {
		for _, id := range ids {
			if id != "" {
				set[id] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
