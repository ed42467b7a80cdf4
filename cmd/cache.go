package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/zecchin-leonardo/archeo-extract/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the on-disk artifact cache",
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-namespace artifact counts and sizes",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := initCache()
		if err != nil {
			return err
		}

		for _, ns := range []cache.Namespace{cache.External, cache.Interim, cache.Processed} {
			files, bytes, err := reg.NamespaceSize(ns)
			if err != nil {
				return err
			}
			fmt.Printf("%-10s %6d files  %10.1f MB\n", ns, files, float64(bytes)/(1024*1024))
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear <namespace>",
	Short: "Remove every artifact under one namespace (external, interim, processed)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, err := parseNamespace(args[0])
		if err != nil {
			return err
		}

		reg, err := initCache()
		if err != nil {
			return err
		}
		return reg.ClearNamespace(ns)
	},
}

func parseNamespace(s string) (cache.Namespace, error) {
	switch cache.Namespace(s) {
	case cache.External, cache.Interim, cache.Processed:
		return cache.Namespace(s), nil
	default:
		return "", eris.Errorf("unknown cache namespace %q (want external, interim, or processed)", s)
	}
}

func init() {
	cacheCmd.AddCommand(cacheStatusCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
