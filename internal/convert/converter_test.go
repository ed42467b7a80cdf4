package convert

import (
	"context"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zecchin-leonardo/archeo-extract/internal/cache"
	"github.com/zecchin-leonardo/archeo-extract/internal/model"
	"github.com/zecchin-leonardo/archeo-extract/pkg/docai"
)

// fakeClient scripts conversion outcomes per page range.
type fakeClient struct {
	maxPages int
	calls    []docai.ConvertRequest
	// respond maps "first-last" to an outcome.
	respond map[string]fakeOutcome
}

type fakeOutcome struct {
	status docai.Status
	items  []docai.LayoutItem
	err    error
}

func (f *fakeClient) MaxPagesPerCall() int {
	if f.maxPages > 0 {
		return f.maxPages
	}
	return docai.DefaultMaxPagesPerCall
}

func (f *fakeClient) Convert(_ context.Context, req docai.ConvertRequest) (*docai.ConvertResult, error) {
	f.calls = append(f.calls, req)
	key := rangeLabel(req.FirstPage, req.LastPage)
	out, ok := f.respond[key]
	if !ok {
		return &docai.ConvertResult{Status: docai.StatusOtherFailure}, nil
	}
	if out.err != nil {
		return nil, out.err
	}
	res := &docai.ConvertResult{Status: out.status}
	if out.status.Usable() {
		res.Document = &docai.Document{Items: out.items}
	}
	return res, nil
}

func rangeLabel(first, last int) string {
	return fmt.Sprintf("%d-%d", first, last)
}

func pageItem(page int, text string) docai.LayoutItem {
	return docai.LayoutItem{Page: page, Label: "text", Text: text}
}

func testDoc() model.SourceDocument {
	return model.SourceDocument{Intervention: 7, Path: "/scans/relazione_7.pdf"}
}

func newConverter(t *testing.T, client docai.Client, totalPages int, opts Options) *Converter {
	t.Helper()
	reg, err := cache.NewRegistry(t.TempDir())
	require.NoError(t, err)
	counter := func(string) (int, error) { return totalPages, nil }
	c, err := New(client, reg.Part(cache.Interim, "pdf_scans"), counter, opts)
	require.NoError(t, err)
	return c
}

func TestConvertDocument_WholeRangeSuccess(t *testing.T) {
	client := &fakeClient{respond: map[string]fakeOutcome{
		"1-2": {status: docai.StatusSuccess, items: []docai.LayoutItem{pageItem(1, "a"), pageItem(2, "b")}},
		"3-4": {status: docai.StatusPartialSuccess, items: []docai.LayoutItem{pageItem(3, "c")}},
	}}
	conv := newConverter(t, client, 4, Options{BatchSize: 2})

	res, err := conv.ConvertDocument(context.Background(), testDoc())
	require.NoError(t, err)

	require.Len(t, res.Ranges, 2)
	assert.False(t, res.Ranges[0].Failed())
	assert.False(t, res.Ranges[1].Failed())
	assert.Empty(t, res.FailedPages)
	assert.False(t, res.Unreadable())
	assert.Len(t, res.Docs(), 2)
	assert.Len(t, client.calls, 2)
}

func TestConvertDocument_SecondRunHitsCache(t *testing.T) {
	client := &fakeClient{respond: map[string]fakeOutcome{
		"1-3": {status: docai.StatusSuccess, items: []docai.LayoutItem{pageItem(1, "a")}},
	}}
	reg, err := cache.NewRegistry(t.TempDir())
	require.NoError(t, err)
	part := reg.Part(cache.Interim, "pdf_scans")
	counter := func(string) (int, error) { return 3, nil }
	conv, err := New(client, part, counter, Options{BatchSize: 3})
	require.NoError(t, err)

	_, err = conv.ConvertDocument(context.Background(), testDoc())
	require.NoError(t, err)
	require.Len(t, client.calls, 1)

	res, err := conv.ConvertDocument(context.Background(), testDoc())
	require.NoError(t, err)
	assert.Len(t, client.calls, 1, "cached range must not trigger a remote call")
	assert.True(t, res.Ranges[0].FromCache)
	assert.False(t, res.Ranges[0].Failed())
}

func TestConvertDocument_EscalationRecoversSiblingPages(t *testing.T) {
	// Whole range 1-3 fails, pages 1 and 3 recover individually, page 2 is
	// permanently failed.
	client := &fakeClient{respond: map[string]fakeOutcome{
		"1-3": {err: eris.New("request too large")},
		"1-1": {status: docai.StatusSuccess, items: []docai.LayoutItem{pageItem(1, "uno")}},
		"3-3": {status: docai.StatusSuccess, items: []docai.LayoutItem{pageItem(3, "tre")}},
	}}
	conv := newConverter(t, client, 3, Options{BatchSize: 3})

	res, err := conv.ConvertDocument(context.Background(), testDoc())
	require.NoError(t, err)

	require.Len(t, res.Ranges, 1)
	rr := res.Ranges[0]
	assert.False(t, rr.Failed())
	assert.Equal(t, []int{2}, rr.FailedPages)
	require.NotNil(t, rr.Doc)
	require.Len(t, rr.Doc.Items, 2)
	assert.Equal(t, 1, rr.Doc.Items[0].Page)
	assert.Equal(t, 3, rr.Doc.Items[1].Page)
	assert.False(t, res.Unreadable())

	// 1 whole-range call + 3 single-page calls.
	assert.Len(t, client.calls, 4)
}

func TestConvertDocument_FailedPageNeverRetried(t *testing.T) {
	client := &fakeClient{respond: map[string]fakeOutcome{
		"1-2": {err: eris.New("boom")},
		"1-1": {status: docai.StatusSuccess, items: []docai.LayoutItem{pageItem(1, "uno")}},
		// page 2 keeps failing
	}}
	conv := newConverter(t, client, 2, Options{BatchSize: 2})

	_, err := conv.ConvertDocument(context.Background(), testDoc())
	require.NoError(t, err)
	firstRun := len(client.calls)

	res, err := conv.ConvertDocument(context.Background(), testDoc())
	require.NoError(t, err)
	assert.Equal(t, firstRun, len(client.calls), "second run must be fully served from cache")

	rr := res.Ranges[0]
	assert.True(t, rr.FromCache)
	assert.Equal(t, []int{2}, rr.FailedPages)
	assert.False(t, rr.Failed())
}

func TestConvertDocument_UnreadableSource(t *testing.T) {
	client := &fakeClient{respond: map[string]fakeOutcome{}} // everything fails
	conv := newConverter(t, client, 2, Options{BatchSize: 2})

	res, err := conv.ConvertDocument(context.Background(), testDoc())
	require.NoError(t, err)

	assert.True(t, res.Unreadable())
	assert.Empty(t, res.Docs())
	assert.Equal(t, []int{1, 2}, res.FailedPages)
}

func TestConvertDocument_LossyConcatenationOrder(t *testing.T) {
	// Ranges resolve [success, failed, success]; output must contain only
	// the successes, in ascending page order, with true page numbers.
	client := &fakeClient{respond: map[string]fakeOutcome{
		"1-2": {status: docai.StatusSuccess, items: []docai.LayoutItem{pageItem(1, "a"), pageItem(2, "b")}},
		// 3-4 missing: whole range fails, pages 3 and 4 fail too
		"5-6": {status: docai.StatusSuccess, items: []docai.LayoutItem{pageItem(5, "c"), pageItem(6, "d")}},
	}}
	conv := newConverter(t, client, 6, Options{BatchSize: 2})

	res, err := conv.ConvertDocument(context.Background(), testDoc())
	require.NoError(t, err)

	docs := res.Docs()
	require.Len(t, docs, 2)
	assert.Equal(t, 1, docs[0].Items[0].Page)
	assert.Equal(t, 5, docs[1].Items[0].Page)
	assert.Equal(t, []int{3, 4}, res.FailedPages)
	assert.False(t, res.Unreadable())
}

func TestConvertDocument_BorderMode(t *testing.T) {
	client := &fakeClient{respond: map[string]fakeOutcome{
		"1-2": {status: docai.StatusSuccess, items: []docai.LayoutItem{pageItem(1, "incipit")}},
		"8-9": {status: docai.StatusSuccess, items: []docai.LayoutItem{pageItem(8, "fine")}},
	}}
	conv := newConverter(t, client, 9, Options{BatchSize: 2, BorderPages: 2})

	res, err := conv.ConvertDocument(context.Background(), testDoc())
	require.NoError(t, err)

	require.Len(t, res.Ranges, 2)
	assert.Equal(t, "1-2", res.Ranges[0].Range.String())
	assert.Equal(t, "8-9", res.Ranges[1].Range.String())
}

func TestConvertDocument_PageCountError(t *testing.T) {
	conv := newConverter(t, &fakeClient{}, 0, Options{BatchSize: 2})
	conv.countPages = func(string) (int, error) { return 0, eris.New("cannot open") }

	_, err := conv.ConvertDocument(context.Background(), testDoc())
	assert.Error(t, err)
}

func TestNew_ClampsToClientBound(t *testing.T) {
	client := &fakeClient{maxPages: 5, respond: map[string]fakeOutcome{}}
	reg, err := cache.NewRegistry(t.TempDir())
	require.NoError(t, err)
	conv, err := New(client, reg.Part(cache.Interim, "pdf_scans"), func(string) (int, error) { return 1, nil }, Options{BatchSize: 50})
	require.NoError(t, err)
	assert.Equal(t, 5, conv.batchSize)

	_, err = New(client, nil, nil, Options{BatchSize: 0})
	assert.Error(t, err)
}
