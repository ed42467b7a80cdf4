// Package chunk turns converted documents into ordered, layout-aware text
// chunks bounded by a token budget.
package chunk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zecchin-leonardo/archeo-extract/internal/model"
	"github.com/zecchin-leonardo/archeo-extract/pkg/docai"
)

// Extractor splits converted content into chunks. Adjacent layout items
// belonging to the same unit are merged first ("peer merging"), then units
// are packed greedily under the tokenizer's budget.
type Extractor struct {
	tok Tokenizer
}

// NewExtractor creates an Extractor using tok for size decisions.
func NewExtractor(tok Tokenizer) *Extractor {
	return &Extractor{tok: tok}
}

// unit is a peer-merged run of layout items from one layout label.
type unit struct {
	label model.ChunkLabel
	pages []int
	text  string
}

// Extract produces the ordered chunk sequence for a single file. docs holds
// one converted document per successfully resolved page range, in ascending
// page order; items already carry true original page numbers. An empty or
// nil stream yields an empty sequence, never an error: an unreadable
// document must not halt the batch.
func (e *Extractor) Extract(intervention model.InterventionID, filename string, docs []*docai.Document) []model.Chunk {
	var items []docai.LayoutItem
	for _, d := range docs {
		if d == nil {
			continue
		}
		items = append(items, d.Items...)
	}
	if len(items) == 0 {
		return nil
	}

	units := mergePeers(items)

	var chunks []model.Chunk
	var cur []unit
	curTokens := 0
	budget := e.tok.MaxTokens()

	flush := func() {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, e.build(intervention, filename, len(chunks), cur))
		cur = nil
		curTokens = 0
	}

	for _, u := range units {
		n := e.tok.CountTokens(u.text)

		if n > budget {
			// A single oversized unit is split on its own; it never shares a
			// chunk with neighbors.
			flush()
			for _, piece := range e.splitOversized(u, budget) {
				chunks = append(chunks, e.build(intervention, filename, len(chunks), []unit{piece}))
			}
			continue
		}

		if curTokens+n > budget {
			flush()
		}
		cur = append(cur, u)
		curTokens += n
	}
	flush()

	return chunks
}

// mergePeers merges consecutive items sharing label and page into single
// units, joining their text fragments.
func mergePeers(items []docai.LayoutItem) []unit {
	var units []unit
	for _, it := range items {
		if strings.TrimSpace(it.Text) == "" {
			continue
		}
		label := toLabel(it.Label)
		if n := len(units); n > 0 && units[n-1].label == label && lastPage(units[n-1].pages) == it.Page {
			units[n-1].text += "\n" + it.Text
			continue
		}
		units = append(units, unit{
			label: label,
			pages: []int{it.Page},
			text:  it.Text,
		})
	}
	return units
}

// splitOversized breaks a unit exceeding the budget into pieces, first on
// blank lines, then on word boundaries.
func (e *Extractor) splitOversized(u unit, budget int) []unit {
	var pieces []unit
	emit := func(text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		pieces = append(pieces, unit{label: u.label, pages: u.pages, text: text})
	}

	var buf strings.Builder
	bufTokens := 0
	for _, para := range strings.Split(u.text, "\n\n") {
		n := e.tok.CountTokens(para)

		if n > budget {
			if buf.Len() > 0 {
				emit(buf.String())
				buf.Reset()
				bufTokens = 0
			}
			for _, piece := range splitWords(para, budget, e.tok) {
				emit(piece)
			}
			continue
		}

		if bufTokens+n > budget && buf.Len() > 0 {
			emit(buf.String())
			buf.Reset()
			bufTokens = 0
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
		bufTokens += n
	}
	if buf.Len() > 0 {
		emit(buf.String())
	}
	return pieces
}

func splitWords(text string, budget int, tok Tokenizer) []string {
	var out []string
	var buf strings.Builder
	bufTokens := 0
	for _, word := range strings.Fields(text) {
		n := tok.CountTokens(word)
		if bufTokens+n > budget && buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
			bufTokens = 0
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(word)
		bufTokens += n
	}
	if buf.Len() > 0 {
		out = append(out, buf.String())
	}
	return out
}

// build assembles one chunk from its contributing units: the page set and
// label set are unions over the units, the embedding content wraps the text
// in file and position framing.
func (e *Extractor) build(intervention model.InterventionID, filename string, index int, units []unit) model.Chunk {
	var texts []string
	c := model.Chunk{
		Intervention: intervention,
		Filename:     filename,
		Index:        index,
	}
	for _, u := range units {
		texts = append(texts, u.text)
		c.Pages = append(c.Pages, u.pages...)
		c.Labels = append(c.Labels, u.label)
	}
	c.Content = strings.Join(texts, "\n\n")
	c.SortPages()
	c.SortLabels()
	c.EmbeddingContent = embeddingContent(c)
	return c
}

// embeddingContent renders the contextualized form of a chunk: where it
// comes from, then what it says.
func embeddingContent(c model.Chunk) string {
	labels := make([]string, len(c.Labels))
	for i, l := range c.Labels {
		labels[i] = string(l)
	}
	return fmt.Sprintf("[file %s | chunk %d | pages %s | %s]\n%s",
		c.Filename, c.Index, joinInts(c.Pages), strings.Join(labels, ","), c.Content)
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

// toLabel maps collaborator label strings onto the chunk label set.
func toLabel(s string) model.ChunkLabel {
	switch model.ChunkLabel(s) {
	case model.LabelText, model.LabelTitle, model.LabelSectionHeader,
		model.LabelTable, model.LabelListItem, model.LabelCaption,
		model.LabelStamp, model.LabelPicture, model.LabelFormula,
		model.LabelPageHeader, model.LabelPageFooter:
		return model.ChunkLabel(s)
	default:
		return model.LabelText
	}
}

func lastPage(pages []int) int {
	if len(pages) == 0 {
		return 0
	}
	return pages[len(pages)-1]
}
