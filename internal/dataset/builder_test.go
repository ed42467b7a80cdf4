package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zecchin-leonardo/archeo-extract/internal/model"
)

func chunk(id model.InterventionID, file string, idx int, content string) model.Chunk {
	return model.Chunk{
		Intervention: id,
		Filename:     file,
		Index:        idx,
		Pages:        []int{idx + 1},
		Labels:       []model.ChunkLabel{model.LabelText},
		Content:      content,
	}
}

func TestDataset_AppendAndQuery(t *testing.T) {
	d := NewDataset()
	require.NoError(t, d.Append([]model.Chunk{
		chunk(7, "relazione.pdf", 0, "scavo stratigrafico"),
		chunk(7, "relazione.pdf", 1, "ritrovamenti ceramici"),
	}))
	require.NoError(t, d.Append([]model.Chunk{
		chunk(9, "tavole.pdf", 0, "planimetria generale"),
	}))

	assert.Equal(t, 3, d.Len())
	assert.Len(t, d.ForIntervention(7), 2)
	assert.Len(t, d.ForIntervention(9), 1)
	assert.Empty(t, d.ForIntervention(12))

	tables := d.Filter(func(c model.Chunk) bool { return c.Index == 0 })
	assert.Len(t, tables, 2)
}

func TestDataset_DuplicateKeyRejected(t *testing.T) {
	d := NewDataset()
	require.NoError(t, d.Append([]model.Chunk{chunk(7, "relazione.pdf", 0, "a")}))

	err := d.Append([]model.Chunk{chunk(7, "relazione.pdf", 0, "b")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate chunk key")

	// Same index under another filename is a distinct key.
	assert.NoError(t, d.Append([]model.Chunk{chunk(7, "tavole.pdf", 0, "c")}))
}

func TestDataset_InvalidChunkRejected(t *testing.T) {
	d := NewDataset()
	err := d.Append([]model.Chunk{chunk(7, "relazione.pdf", 0, "")})
	assert.Error(t, err)
}

func TestMergeContext_OrderAndFraming(t *testing.T) {
	chunks := []model.Chunk{
		chunk(7, "relazione.pdf", 1, "secondo blocco"),
		chunk(7, "relazione.pdf", 0, "primo blocco"),
		chunk(7, "allegato.pdf", 0, "allegato"),
	}

	merged := MergeContext(chunks)

	// Files alphabetical, chunk index ascending within a file.
	iAllegato := strings.Index(merged, "allegato.pdf | chunk 0")
	iPrimo := strings.Index(merged, "relazione.pdf | chunk 0")
	iSecondo := strings.Index(merged, "relazione.pdf | chunk 1")
	require.True(t, iAllegato >= 0 && iPrimo >= 0 && iSecondo >= 0)
	assert.Less(t, iAllegato, iPrimo)
	assert.Less(t, iPrimo, iSecondo)

	assert.Contains(t, merged, "=== relazione.pdf | chunk 0 | pagine 1 | text ===\nprimo blocco\n---\n")

	// Deterministic for the same input.
	assert.Equal(t, merged, MergeContext(chunks))
}

func TestMergeContext_Empty(t *testing.T) {
	assert.Equal(t, "", MergeContext(nil))
}

func TestThesaurusUnion(t *testing.T) {
	got := ThesaurusUnion([][]string{
		{"padova", "este"},
		{"este", ""},
		nil,
		{"abano terme"},
	})
	assert.Equal(t, []string{"abano terme", "este", "padova"}, got)

	assert.Empty(t, ThesaurusUnion(nil))
}
