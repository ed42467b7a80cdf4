// Package cache is an on-disk, content-addressed memoization layer. Cached
// artifacts live under three physically isolated namespace roots so that
// clearing one namespace never touches another. A zero-byte file is the
// reserved sentinel for "computed, legitimately produced nothing" — distinct
// from a missing entry, which means "never computed".
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Namespace identifies one of the isolated cache roots.
type Namespace string

const (
	// External holds raw downloads from outside systems (e.g. PDF scans).
	External Namespace = "external"
	// Interim holds intermediate artifacts (e.g. converted page ranges).
	Interim Namespace = "interim"
	// Processed holds final derived outputs (e.g. chunk datasets).
	Processed Namespace = "processed"
)

// EntryState classifies the result of a cache lookup.
type EntryState int

const (
	// Miss means the key was never computed.
	Miss EntryState = iota
	// Hit means a non-empty value is stored.
	Hit
	// HitEmpty means the empty sentinel is stored: the computation ran and
	// produced nothing, and must not be re-attempted.
	HitEmpty
)

// Registry holds the three namespace roots. Construct one at process start
// and pass it to every component needing cache access.
type Registry struct {
	base string
}

// NewRegistry creates (if needed) the namespace directories under base.
func NewRegistry(base string) (*Registry, error) {
	if base == "" {
		return nil, eris.New("cache: empty base directory")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, eris.Wrapf(err, "cache: resolve base %s", base)
	}
	for _, ns := range []Namespace{External, Interim, Processed} {
		if err := os.MkdirAll(filepath.Join(abs, string(ns)), 0o755); err != nil {
			return nil, eris.Wrapf(err, "cache: create namespace %s", ns)
		}
	}
	return &Registry{base: abs}, nil
}

// Part returns the store for one logical subpart of a namespace, e.g.
// Part(cache.Interim, "pdf_scans").
func (r *Registry) Part(ns Namespace, name string) *Part {
	return &Part{dir: filepath.Join(r.base, string(ns), name)}
}

// ClearNamespace removes every artifact under the given namespace. The other
// namespaces are untouched.
func (r *Registry) ClearNamespace(ns Namespace) error {
	root := filepath.Join(r.base, string(ns))
	entries, err := os.ReadDir(root)
	if err != nil {
		return eris.Wrapf(err, "cache: read namespace %s", ns)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return eris.Wrapf(err, "cache: clear namespace %s", ns)
		}
	}
	zap.L().Info("cache: namespace cleared", zap.String("namespace", string(ns)))
	return nil
}

// NamespaceSize returns the number of artifacts and total bytes stored under
// a namespace.
func (r *Registry) NamespaceSize(ns Namespace) (files int, bytes int64, err error) {
	root := filepath.Join(r.base, string(ns))
	err = filepath.Walk(root, func(_ string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.IsDir() {
			files++
			bytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, 0, eris.Wrapf(err, "cache: walk namespace %s", ns)
	}
	return files, bytes, nil
}

// Part is the store for one logical subpart of a namespace. Keys may contain
// path separators to shape subdirectories (e.g. "<intervention>/<file>.1-5.md").
type Part struct {
	dir string
}

// Path returns the on-disk location for key.
func (p *Part) Path(key string) string {
	return filepath.Join(p.dir, filepath.FromSlash(key))
}

// Lookup reads the entry for key.
func (p *Part) Lookup(key string) ([]byte, EntryState, error) {
	data, err := os.ReadFile(p.Path(key))
	if os.IsNotExist(err) {
		return nil, Miss, nil
	}
	if err != nil {
		return nil, Miss, eris.Wrapf(err, "cache: read %s", key)
	}
	if len(data) == 0 {
		return nil, HitEmpty, nil
	}
	return data, Hit, nil
}

// Put stores data under key atomically (write to temp, then rename). Empty
// data is rejected; use PutEmpty for the failure sentinel.
func (p *Part) Put(key string, data []byte) error {
	if len(data) == 0 {
		return eris.Errorf("cache: refusing empty write for %s, use PutEmpty", key)
	}
	return p.write(key, data)
}

// PutEmpty stores the zero-byte sentinel under key, marking the computation
// as attempted and permanently unproductive.
func (p *Part) PutEmpty(key string) error {
	return p.write(key, nil)
}

// Delete removes the entry for key. Missing entries are not an error.
func (p *Part) Delete(key string) error {
	err := os.Remove(p.Path(key))
	if err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "cache: delete %s", key)
	}
	return nil
}

func (p *Part) write(key string, data []byte) error {
	path := p.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "cache: create dir for %s", key)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return eris.Wrapf(err, "cache: create temp for %s", key)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrapf(err, "cache: write temp for %s", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "cache: close temp for %s", key)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "cache: rename into %s", key)
	}
	return nil
}

// Cached memoizes compute under key. On a hit (including the empty sentinel)
// compute is not invoked. compute returning ok=false records the sentinel, so
// later calls remember the failure without recomputing.
func (p *Part) Cached(key string, compute func() ([]byte, bool, error)) ([]byte, bool, error) {
	data, state, err := p.Lookup(key)
	if err != nil {
		return nil, false, err
	}
	switch state {
	case Hit:
		return data, true, nil
	case HitEmpty:
		return nil, false, nil
	}

	data, ok, err := compute()
	if err != nil {
		return nil, false, err
	}
	if !ok || len(data) == 0 {
		if err := p.PutEmpty(key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	if err := p.Put(key, data); err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Key joins logical identifier components into a stable cache key. Components
// must be plain serializable values; path separators are flattened so one
// component cannot escape into another directory level.
func Key(parts ...string) string {
	clean := make([]string, len(parts))
	for i, p := range parts {
		p = strings.ReplaceAll(p, "/", "_")
		p = strings.ReplaceAll(p, "\\", "_")
		clean[i] = p
	}
	return strings.Join(clean, ".")
}

// PathKey derives a stable key from a file path: the file stem plus a short
// content-independent hash of the resolved absolute path. Two processes
// looking at the same file observe the same key.
func PathKey(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", eris.Wrapf(err, "cache: resolve %s", path)
	}
	sum := sha256.Sum256([]byte(abs))
	stem := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	return stem + "-" + hex.EncodeToString(sum[:8]), nil
}

// Stem returns the filename without directory or extension, the per-file
// component used in conversion cache keys.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
