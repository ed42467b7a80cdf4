package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zecchin-leonardo/archeo-extract/internal/dataset"
	"github.com/zecchin-leonardo/archeo-extract/internal/extract"
	"github.com/zecchin-leonardo/archeo-extract/internal/model"
	"github.com/zecchin-leonardo/archeo-extract/internal/refdata"
	"github.com/zecchin-leonardo/archeo-extract/internal/thesaurus"
	anthropicpkg "github.com/zecchin-leonardo/archeo-extract/pkg/anthropic"
)

var (
	extractIntervention int
	extractPrime        bool
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run field extraction over the stored chunk dataset",
}

var extractComuneCmd = &cobra.Command{
	Use:   "comune",
	Short: "Extract the comune of one intervention from its chunks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("extract"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		id := model.InterventionID(extractIntervention)
		rows, err := st.ListChunks(ctx, id)
		if err != nil {
			return eris.Wrap(err, "list chunks")
		}

		ds := dataset.NewDataset()
		if err := ds.Append(rows); err != nil {
			return eris.Wrap(err, "assemble dataset")
		}

		// The thesaurus is optional: without it answers are not
		// canonicalized and no candidates are offered.
		var th *thesaurus.Thesaurus
		if cfg.Thesaurus.ShapefilePath != "" {
			th, err = thesaurus.LoadShapefile(cfg.Thesaurus.ShapefilePath)
			if err != nil {
				return eris.Wrap(err, "load thesaurus")
			}
		}

		client := anthropicpkg.NewClient(cfg.Anthropic.Key)

		if extractPrime {
			merged := dataset.MergeContext(ds.ForIntervention(id))
			_, err := anthropicpkg.PrimerRequest(ctx, client, anthropicpkg.MessageRequest{
				Model:     cfg.Anthropic.Model,
				MaxTokens: 1,
				System:    anthropicpkg.BuildCachedSystemBlocks(merged),
				Messages: []anthropicpkg.Message{{
					Role:    "user",
					Content: "ok",
				}},
			})
			if err != nil {
				zap.L().Warn("prompt cache primer failed", zap.Error(err))
			}
		}

		extractor := extract.NewComuneExtractor(client, th, cfg.Anthropic.Model)
		answer, err := extractor.Extract(ctx, id, ds)
		if err != nil {
			return err
		}

		// Cross-check against the reference spreadsheet when available.
		if cfg.Refdata.Path != "" {
			ref, err := refdata.Load(cfg.Refdata.Path)
			if err != nil {
				return eris.Wrap(err, "load reference data")
			}
			if rec, ok := ref[id]; ok && rec.Comune != "" && rec.Comune != answer.Comune {
				zap.L().Warn("extracted comune disagrees with reference data",
					zap.Int("intervention", extractIntervention),
					zap.String("extracted", answer.Comune),
					zap.String("reference", rec.Comune),
				)
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(answer)
	},
}

func init() {
	extractComuneCmd.Flags().IntVar(&extractIntervention, "intervention", 0, "intervention id (required)")
	extractComuneCmd.Flags().BoolVar(&extractPrime, "prime", false, "warm the prompt cache with the merged chunk context first")
	_ = extractComuneCmd.MarkFlagRequired("intervention")
	extractCmd.AddCommand(extractComuneCmd)
	rootCmd.AddCommand(extractCmd)
}
