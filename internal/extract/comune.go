// Package extract runs field extractions over the assembled chunk dataset.
// The comune extractor is the first consumer: it asks the model which
// municipality an intervention took place in, constrained by the thesaurus.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zecchin-leonardo/archeo-extract/internal/dataset"
	"github.com/zecchin-leonardo/archeo-extract/internal/model"
	"github.com/zecchin-leonardo/archeo-extract/internal/thesaurus"
	"github.com/zecchin-leonardo/archeo-extract/pkg/anthropic"
)

const comunePrompt = `Sei un archeologo che scheda relazioni di scavo italiane.

In quale comune si è svolto l'intervento documentato nei testi forniti?

Comuni citati nei testi (candidati dal thesaurus):
%s

Rispondi con un oggetto JSON valido:
{"comune": "<nome del comune>", "confidence": <0.0-1.0>, "reasoning": "<breve spiegazione>"}`

const comuneSystemText = "Estrai dati strutturati da relazioni di scavo archeologico. Rispondi solo con JSON valido."

// Answer is the extracted comune with the model's confidence.
type Answer struct {
	Comune     string               `json:"comune"`
	Confidence float64              `json:"confidence"`
	Reasoning  string               `json:"reasoning"`
	InRegistry bool                 `json:"in_registry"`
	Candidates []string             `json:"candidates"`
	Usage      anthropic.TokenUsage `json:"-"`
}

// ComuneExtractor extracts the comune of an intervention from its chunks.
type ComuneExtractor struct {
	client anthropic.Client
	th     *thesaurus.Thesaurus
	model  string
}

// NewComuneExtractor creates a ComuneExtractor. th may be nil, in which case
// no candidates are offered and answers are not canonicalized.
func NewComuneExtractor(client anthropic.Client, th *thesaurus.Thesaurus, modelID string) *ComuneExtractor {
	return &ComuneExtractor{client: client, th: th, model: modelID}
}

// Extract asks the model for the comune of one intervention. The merged
// chunk context goes into a cached system block, so follow-up extractions
// over the same intervention reuse the warm prompt cache.
func (e *ComuneExtractor) Extract(ctx context.Context, intervention model.InterventionID, ds *dataset.Dataset) (*Answer, error) {
	rows := ds.ForIntervention(intervention)
	if len(rows) == 0 {
		return nil, eris.Errorf("extract: no chunks for intervention %d", intervention)
	}

	candidates := e.candidates(rows)
	merged := dataset.MergeContext(rows)

	temp := 0.0
	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: 512,
		System: append(
			[]anthropic.SystemBlock{{Text: comuneSystemText}},
			anthropic.BuildCachedSystemBlocks(merged)...,
		),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: prompt(candidates),
		}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "extract: comune of intervention %d", intervention)
	}

	answer, err := parseAnswer(resp.Text())
	if err != nil {
		return nil, eris.Wrapf(err, "extract: intervention %d", intervention)
	}
	answer.Candidates = candidates
	answer.Usage = resp.Usage

	if e.th != nil {
		if c, ok := e.th.Lookup(answer.Comune); ok {
			answer.Comune = c.Name
			answer.InRegistry = true
		} else {
			zap.L().Warn("extract: comune not in registry",
				zap.Int("intervention", int(intervention)),
				zap.String("comune", answer.Comune),
			)
		}
	}

	resp.Usage.LogCost(e.model, "extract_comune")
	return answer, nil
}

// candidates collects the thesaurus mentions over the intervention's chunks.
func (e *ComuneExtractor) candidates(rows []model.Chunk) []string {
	if e.th == nil {
		return nil
	}
	matches := make([][]string, len(rows))
	for i, c := range rows {
		matches[i] = e.th.Match(c.Content)
	}
	return dataset.ThesaurusUnion(matches)
}

func prompt(candidates []string) string {
	list := "(nessuno)"
	if len(candidates) > 0 {
		list = "- " + strings.Join(candidates, "\n- ")
	}
	return fmt.Sprintf(comunePrompt, list)
}

// parseAnswer extracts the JSON object from the model output, tolerating
// surrounding prose and code fences.
func parseAnswer(text string) (*Answer, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.Errorf("extract: no JSON object in response %q", text)
	}

	var a Answer
	if err := json.Unmarshal([]byte(text[start:end+1]), &a); err != nil {
		return nil, eris.Wrap(err, "extract: parse answer")
	}
	if a.Comune == "" {
		return nil, eris.New("extract: empty comune in answer")
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return nil, eris.Errorf("extract: confidence %v out of range", a.Confidence)
	}
	return &a, nil
}
