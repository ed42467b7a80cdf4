package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
interventions:
  - id: 12
    files:
      - /data/scans/relazione_12.pdf
      - /data/scans/allegato_12.pdf
  - id: 47
    files:
      - /data/scans/relazione_47.pdf
`)

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Interventions, 2)

	docs := m.Documents()
	require.Len(t, docs, 3)
	assert.Equal(t, InterventionID(12), docs[0].Intervention)
	assert.Equal(t, "/data/scans/relazione_12.pdf", docs[0].Path)
	assert.Equal(t, InterventionID(47), docs[2].Intervention)
}

func TestLoadManifest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", `interventions: []`},
		{"zero id", "interventions:\n  - id: 0\n    files: [a.pdf]"},
		{"duplicate id", "interventions:\n  - id: 3\n    files: [a.pdf]\n  - id: 3\n    files: [b.pdf]"},
		{"no files", "interventions:\n  - id: 3\n    files: []"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadManifest(writeManifest(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestSourceDocument_Stem(t *testing.T) {
	d := SourceDocument{Intervention: 9, Path: "/data/scans/relazione_9.pdf"}
	assert.Equal(t, "relazione_9", d.Stem())
	assert.Equal(t, "relazione_9.pdf", d.Filename())
}

func TestChunk_Validate(t *testing.T) {
	c := Chunk{Intervention: 1, Filename: "a.pdf", Index: 0, Content: "testo"}
	assert.NoError(t, c.Validate())

	c.Content = ""
	assert.Error(t, c.Validate())

	c.Content = "testo"
	c.Index = -1
	assert.Error(t, c.Validate())
}

func TestChunk_SortHelpers(t *testing.T) {
	c := Chunk{
		Pages:  []int{5, 3, 5, 4},
		Labels: []ChunkLabel{LabelTable, LabelText, LabelTable},
	}
	c.SortPages()
	c.SortLabels()

	assert.Equal(t, []int{3, 4, 5}, c.Pages)
	assert.Equal(t, []ChunkLabel{LabelTable, LabelText}, c.Labels)
}
