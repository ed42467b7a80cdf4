// Package model holds the domain types shared across the ingestion pipeline:
// interventions, source documents, and extracted chunks.
package model

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// InterventionID identifies one archaeological fieldwork event. Assigned at
// import time; the join key between source files, chunks and final records.
type InterventionID int

func (id InterventionID) String() string {
	return strconv.Itoa(int(id))
}

// SourceDocument is a single PDF report owned by exactly one intervention.
type SourceDocument struct {
	Intervention InterventionID `yaml:"-" json:"intervention"`
	Path         string         `yaml:"path" json:"path"`
}

// Stem returns the filename without directory or extension, used as the
// per-file cache key component.
func (d SourceDocument) Stem() string {
	base := filepath.Base(d.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Filename returns the base name of the document path.
func (d SourceDocument) Filename() string {
	return filepath.Base(d.Path)
}

// Key returns "<intervention>/<filename>", the human-readable identity of a
// document within a batch.
func (d SourceDocument) Key() string {
	return d.Intervention.String() + "/" + d.Filename()
}

// ManifestEntry maps one intervention to its scanned report files.
type ManifestEntry struct {
	ID    InterventionID `yaml:"id"`
	Files []string       `yaml:"files"`
}

// Manifest lists the interventions of one ingest batch.
type Manifest struct {
	Interventions []ManifestEntry `yaml:"interventions"`
}

// LoadManifest reads and validates a yaml manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read manifest %s", path)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "model: parse manifest %s", path)
	}

	if len(m.Interventions) == 0 {
		return nil, eris.Errorf("model: manifest %s lists no interventions", path)
	}
	seen := make(map[InterventionID]bool, len(m.Interventions))
	for _, e := range m.Interventions {
		if e.ID <= 0 {
			return nil, eris.Errorf("model: manifest %s: invalid intervention id %d", path, e.ID)
		}
		if seen[e.ID] {
			return nil, eris.Errorf("model: manifest %s: duplicate intervention id %d", path, e.ID)
		}
		seen[e.ID] = true
		if len(e.Files) == 0 {
			return nil, eris.Errorf("model: manifest %s: intervention %d has no files", path, e.ID)
		}
	}
	return &m, nil
}

// Documents flattens the manifest into (intervention, file) pairs, preserving
// manifest order.
func (m *Manifest) Documents() []SourceDocument {
	var docs []SourceDocument
	for _, e := range m.Interventions {
		for _, f := range e.Files {
			docs = append(docs, SourceDocument{Intervention: e.ID, Path: f})
		}
	}
	return docs
}
