package model

import (
	"sort"

	"github.com/rotisserie/eris"
)

// ChunkLabel classifies the layout structure a chunk was extracted from.
type ChunkLabel string

const (
	LabelText          ChunkLabel = "text"
	LabelTitle         ChunkLabel = "title"
	LabelSectionHeader ChunkLabel = "section_header"
	LabelTable         ChunkLabel = "table"
	LabelListItem      ChunkLabel = "list_item"
	LabelCaption       ChunkLabel = "caption"
	LabelStamp         ChunkLabel = "stamp"
	LabelPicture       ChunkLabel = "picture"
	LabelFormula       ChunkLabel = "formula"
	LabelPageHeader    ChunkLabel = "page_header"
	LabelPageFooter    ChunkLabel = "page_footer"
)

// Chunk is a labeled span of text extracted from one source document.
// Ordering within a file follows Index and is stable: downstream "render in
// document order" operations depend on it.
type Chunk struct {
	Intervention InterventionID `json:"id"`
	Filename     string         `json:"filename"`
	// Index is the zero-based position of the chunk within its file.
	Index int `json:"chunk_index"`
	// Pages holds the true original page numbers the chunk spans, ascending.
	Pages []int `json:"chunk_page_position"`
	// Labels is the union of layout labels over the merged items, sorted.
	Labels []ChunkLabel `json:"chunk_type"`
	// Content is the raw chunk text.
	Content string `json:"chunk_content"`
	// EmbeddingContent is the contextualized rendering (file and position
	// framing around the text) used for embedding or ranking.
	EmbeddingContent string `json:"chunk_embedding_content"`
}

// Validate checks the chunk invariants.
func (c Chunk) Validate() error {
	if c.Content == "" {
		return eris.Errorf("model: chunk %s/%d of intervention %s has empty content",
			c.Filename, c.Index, c.Intervention)
	}
	if c.Index < 0 {
		return eris.Errorf("model: chunk %s of intervention %s has negative index %d",
			c.Filename, c.Intervention, c.Index)
	}
	return nil
}

// SortPages sorts and deduplicates the page set in place.
func (c *Chunk) SortPages() {
	sort.Ints(c.Pages)
	c.Pages = dedupInts(c.Pages)
}

// SortLabels sorts and deduplicates the label set in place.
func (c *Chunk) SortLabels() {
	sort.Slice(c.Labels, func(i, j int) bool { return c.Labels[i] < c.Labels[j] })
	out := c.Labels[:0]
	for i, l := range c.Labels {
		if i == 0 || l != c.Labels[i-1] {
			out = append(out, l)
		}
	}
	c.Labels = out
}

func dedupInts(xs []int) []int {
	out := xs[:0]
	for i, x := range xs {
		if i == 0 || x != xs[i-1] {
			out = append(out, x)
		}
	}
	return out
}
