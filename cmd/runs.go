package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zecchin-leonardo/archeo-extract/internal/model"
	"github.com/zecchin-leonardo/archeo-extract/internal/store"
)

var (
	runsStatus string
	runsLimit  int
	runsJSON   bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent ingest runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(runsStatus),
			Limit:  runsLimit,
		})
		if err != nil {
			return err
		}

		if runsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}

		for _, r := range runs {
			line := fmt.Sprintf("%s  %-8s  %s  %s", r.ID, r.Status, r.CreatedAt.Format("2006-01-02 15:04"), r.Manifest)
			if r.Summary != nil {
				line += fmt.Sprintf("  (%d chunks, %d unreadable)", r.Summary.Chunks, len(r.Summary.Unreadable))
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by run status (running, complete, failed)")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "max runs to list")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "print runs as JSON")
	rootCmd.AddCommand(runsCmd)
}
