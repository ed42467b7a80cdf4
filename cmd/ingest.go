package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zecchin-leonardo/archeo-extract/internal/cache"
	"github.com/zecchin-leonardo/archeo-extract/internal/chunk"
	"github.com/zecchin-leonardo/archeo-extract/internal/fetch"
	"github.com/zecchin-leonardo/archeo-extract/internal/model"
	"github.com/zecchin-leonardo/archeo-extract/internal/pipeline"
)

var (
	ingestManifest    string
	ingestBorderPages int
	ingestFetch       bool
	ingestNoStore     bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a manifest of intervention documents into the chunk dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		manifest, err := model.LoadManifest(ingestManifest)
		if err != nil {
			return err
		}

		reg, err := initCache()
		if err != nil {
			return err
		}

		// Resolve remote paths through the FTP fetcher first, so the
		// converter reads the cached local copies.
		if ingestFetch {
			if err := cfg.Validate("fetch"); err != nil {
				return err
			}
			fetcher := fetch.New(reg.Part(cache.External, "scans"), fetchOptions())
			paths, err := fetcher.FetchAll(ctx, manifest.Documents())
			if err != nil {
				return eris.Wrap(err, "fetch manifest documents")
			}
			k := 0
			for i := range manifest.Interventions {
				for j := range manifest.Interventions[i].Files {
					manifest.Interventions[i].Files[j] = paths[k]
					k++
				}
			}
		}

		converter, err := initConverter(reg, ingestBorderPages)
		if err != nil {
			return err
		}
		extractor := chunk.NewExtractor(chunk.NewHeuristicTokenizer(cfg.Chunk.MaxTokens))

		var p *pipeline.Pipeline
		if ingestNoStore {
			p = pipeline.New(converter, extractor, nil)
		} else {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(ctx); err != nil {
				return eris.Wrap(err, "migrate store")
			}
			p = pipeline.New(converter, extractor, st)
		}

		result, err := p.Run(ctx, manifest, ingestManifest)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("ingest complete",
			zap.String("run_id", result.RunID),
			zap.Int("chunks", result.Summary.Chunks),
			zap.Int("documents", result.Summary.Documents),
			zap.Int("failed_pages", result.Summary.FailedPages),
			zap.Int("unreadable", len(result.Unreadable)),
		)

		// Print summary JSON to stdout
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result.Summary)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestManifest, "manifest", "", "yaml manifest of interventions (required)")
	ingestCmd.Flags().IntVar(&ingestBorderPages, "border-pages", -1, "convert only the leading and trailing N pages of each document (default from config)")
	ingestCmd.Flags().BoolVar(&ingestFetch, "fetch", false, "download manifest documents over FTP before converting")
	ingestCmd.Flags().BoolVar(&ingestNoStore, "no-store", false, "skip database persistence")
	_ = ingestCmd.MarkFlagRequired("manifest")
	rootCmd.AddCommand(ingestCmd)
}
