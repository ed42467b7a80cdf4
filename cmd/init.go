package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/zecchin-leonardo/archeo-extract/internal/cache"
	"github.com/zecchin-leonardo/archeo-extract/internal/convert"
	"github.com/zecchin-leonardo/archeo-extract/internal/pdf"
	"github.com/zecchin-leonardo/archeo-extract/internal/store"
	"github.com/zecchin-leonardo/archeo-extract/pkg/docai"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "archeo.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		poolCfg := &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, poolCfg)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initCache() (*cache.Registry, error) {
	return cache.NewRegistry(cfg.Cache.BaseDir)
}

// initConverter wires the conversion service client to the interim scan
// cache. borderPages overrides the configured value when >= 0.
func initConverter(reg *cache.Registry, borderPages int) (*convert.Converter, error) {
	client, err := docai.NewHTTPClient(cfg.DocAI.Key, docai.Options{
		Model:             cfg.DocAI.Model,
		Endpoint:          cfg.DocAI.Endpoint,
		MaxPagesPerCall:   cfg.DocAI.MaxPagesPerCall,
		RequestsPerMinute: cfg.DocAI.RequestsPerMinute,
		Timeout:           time.Duration(cfg.DocAI.TimeoutSecs) * time.Second,
	})
	if err != nil {
		return nil, eris.Wrap(err, "init conversion client")
	}

	if borderPages < 0 {
		borderPages = cfg.Convert.BorderPages
	}

	return convert.New(client, reg.Part(cache.Interim, "pdf_scans"), pdf.PageCount, convert.Options{
		BatchSize:   cfg.Convert.BatchSize,
		BorderPages: borderPages,
	})
}
