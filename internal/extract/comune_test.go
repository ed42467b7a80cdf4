package extract

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zecchin-leonardo/archeo-extract/internal/dataset"
	"github.com/zecchin-leonardo/archeo-extract/internal/model"
	"github.com/zecchin-leonardo/archeo-extract/pkg/anthropic"
)

// mockClient captures the request and returns a canned response.
type mockClient struct {
	lastReq anthropic.MessageRequest
	text    string
	err     error
}

func (m *mockClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: m.text}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20},
	}, nil
}

func testDataset(t *testing.T, content string) *dataset.Dataset {
	t.Helper()
	ds := dataset.NewDataset()
	require.NoError(t, ds.Append([]model.Chunk{{
		Intervention: 12,
		Filename:     "relazione.pdf",
		Index:        0,
		Pages:        []int{1},
		Labels:       []model.ChunkLabel{model.LabelText},
		Content:      content,
	}}))
	return ds
}

func TestExtract_Comune(t *testing.T) {
	mock := &mockClient{text: `{"comune": "Padova", "confidence": 0.92, "reasoning": "citato nell'intestazione"}`}
	e := NewComuneExtractor(mock, nil, "claude-haiku-4-5-20251001")

	ds := testDataset(t, "scavo in via Roma, Padova")
	answer, err := e.Extract(context.Background(), 12, ds)
	require.NoError(t, err)

	assert.Equal(t, "Padova", answer.Comune)
	assert.InDelta(t, 0.92, answer.Confidence, 0.001)
	assert.False(t, answer.InRegistry)
	assert.Equal(t, int64(100), answer.Usage.InputTokens)

	// The merged chunk context travels in a cached system block.
	require.Len(t, mock.lastReq.System, 2)
	assert.Contains(t, mock.lastReq.System[1].Text, "scavo in via Roma")
	require.NotNil(t, mock.lastReq.System[1].CacheControl)
}

func TestExtract_ToleratesCodeFences(t *testing.T) {
	mock := &mockClient{text: "Ecco la risposta:\n```json\n{\"comune\": \"Este\", \"confidence\": 0.8, \"reasoning\": \"x\"}\n```"}
	e := NewComuneExtractor(mock, nil, "claude-haiku-4-5-20251001")

	answer, err := e.Extract(context.Background(), 12, testDataset(t, "testo"))
	require.NoError(t, err)
	assert.Equal(t, "Este", answer.Comune)
}

func TestExtract_NoChunks(t *testing.T) {
	e := NewComuneExtractor(&mockClient{}, nil, "m")

	_, err := e.Extract(context.Background(), 99, dataset.NewDataset())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no chunks for intervention 99")
}

func TestExtract_ClientError(t *testing.T) {
	e := NewComuneExtractor(&mockClient{err: eris.New("overloaded")}, nil, "m")

	_, err := e.Extract(context.Background(), 12, testDataset(t, "testo"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "comune of intervention 12")
}

func TestParseAnswer_Invalid(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no json", "nessun oggetto qui"},
		{"empty comune", `{"comune": "", "confidence": 0.5}`},
		{"confidence out of range", `{"comune": "Padova", "confidence": 1.5}`},
		{"malformed", `{"comune": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseAnswer(tt.text)
			assert.Error(t, err)
		})
	}
}

func TestPrompt_Candidates(t *testing.T) {
	assert.Contains(t, prompt([]string{"Este", "Padova"}), "- Este\n- Padova")
	assert.Contains(t, prompt(nil), "(nessuno)")
}
