package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zecchin-leonardo/archeo-extract/internal/cache"
	"github.com/zecchin-leonardo/archeo-extract/internal/fetch"
	"github.com/zecchin-leonardo/archeo-extract/internal/model"
)

var fetchManifest string

func fetchOptions() fetch.Options {
	return fetch.Options{
		Host:        cfg.FTP.Host,
		User:        cfg.FTP.User,
		Password:    cfg.FTP.Password,
		Timeout:     time.Duration(cfg.FTP.TimeoutSecs) * time.Second,
		Concurrency: cfg.FTP.Concurrency,
	}
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download manifest documents from the scan archive into the external cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		manifest, err := model.LoadManifest(fetchManifest)
		if err != nil {
			return err
		}

		reg, err := initCache()
		if err != nil {
			return err
		}

		fetcher := fetch.New(reg.Part(cache.External, "scans"), fetchOptions())

		docs := manifest.Documents()
		start := time.Now()
		paths, err := fetcher.FetchAll(ctx, docs)
		if err != nil {
			return eris.Wrap(err, "fetch documents")
		}

		zap.L().Info("fetch complete",
			zap.Int("documents", len(paths)),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)

		for i, p := range paths {
			fmt.Printf("%s\t%s\n", docs[i].Key(), p)
		}
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchManifest, "manifest", "", "yaml manifest of interventions (required)")
	_ = fetchCmd.MarkFlagRequired("manifest")
	rootCmd.AddCommand(fetchCmd)
}
