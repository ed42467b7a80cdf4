package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zecchin-leonardo/archeo-extract/internal/cache"
	"github.com/zecchin-leonardo/archeo-extract/internal/model"
)

func newTestPart(t *testing.T) *cache.Part {
	t.Helper()
	reg, err := cache.NewRegistry(t.TempDir())
	require.NoError(t, err)
	return reg.Part(cache.External, "pdf_scans")
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, "archive.example.it:21", hostPort("archive.example.it"))
	assert.Equal(t, "archive.example.it:2121", hostPort("archive.example.it:2121"))
}

func TestFetch_CachedScanSkipsDownload(t *testing.T) {
	part := newTestPart(t)
	require.NoError(t, part.Put("12/relazione.pdf", []byte("%PDF-1.4 fake")))

	// The host is unreachable; a cache hit must never dial.
	f := New(part, Options{Host: "127.0.0.1:1", Timeout: 200 * time.Millisecond})

	doc := model.SourceDocument{Intervention: 12, Path: "/archivio/12/relazione.pdf"}
	path, fromCache, err := f.Fetch(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, part.Path("12/relazione.pdf"), path)
}

func TestFetch_MissDialsAndFails(t *testing.T) {
	part := newTestPart(t)
	f := New(part, Options{Host: "127.0.0.1:1", Timeout: 200 * time.Millisecond})

	doc := model.SourceDocument{Intervention: 12, Path: "/archivio/12/relazione.pdf"}
	_, _, err := f.Fetch(context.Background(), doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp dial")
}

func TestFetchAll_AllCached(t *testing.T) {
	part := newTestPart(t)
	require.NoError(t, part.Put("12/relazione.pdf", []byte("a")))
	require.NoError(t, part.Put("15/tavole.pdf", []byte("b")))

	f := New(part, Options{Host: "127.0.0.1:1", Timeout: 200 * time.Millisecond})

	docs := []model.SourceDocument{
		{Intervention: 12, Path: "/archivio/12/relazione.pdf"},
		{Intervention: 15, Path: "/archivio/15/tavole.pdf"},
	}
	paths, err := f.FetchAll(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, part.Path("12/relazione.pdf"), paths[0])
	assert.Equal(t, part.Path("15/tavole.pdf"), paths[1])
}

func TestFetchAll_FailureCarriesDocumentKey(t *testing.T) {
	part := newTestPart(t)
	f := New(part, Options{Host: "127.0.0.1:1", Timeout: 200 * time.Millisecond})

	docs := []model.SourceDocument{{Intervention: 12, Path: "/archivio/12/relazione.pdf"}}
	_, err := f.FetchAll(context.Background(), docs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "12/relazione.pdf")
}

func TestNew_Defaults(t *testing.T) {
	f := New(newTestPart(t), Options{Host: "archive.example.it"})
	assert.Equal(t, 30*time.Second, f.opts.Timeout)
	assert.Equal(t, 4, f.opts.Concurrency)
	assert.Equal(t, "anonymous", f.opts.User)
}
