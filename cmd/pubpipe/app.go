package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonathan/publication-pipeline/internal/export"
	"github.com/jonathan/publication-pipeline/internal/sources"
	"github.com/jonathan/publication-pipeline/internal/store"
	"github.com/jonathan/publication-pipeline/internal/types"
)

// openStore connects to the configured record store.
func openStore(ctx context.Context) (store.Store, error) {
	s, err := store.Open(ctx, cfg.StoreURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", store.Redact(cfg.StoreURL), err)
	}
	slog.Debug("store opened", "url", store.Redact(cfg.StoreURL))
	return s, nil
}

// loadRegistry returns the configured source definitions, or the built-in ones.
func loadRegistry() (*sources.Registry, error) {
	if cfg.SourcesFile != "" {
		return sources.Load(cfg.SourcesFile)
	}
	return sources.Default()
}

// newUploader returns the S3 uploader when a bucket is configured, else nil.
func newUploader() (export.Uploader, error) {
	if cfg.Export.S3Bucket == "" {
		return nil, nil
	}
	u, err := export.NewS3Uploader(cfg.Export.S3Bucket, cfg.Export.S3Prefix, cfg.Export.S3Region)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// parseSources resolves source names; empty means every source.
func parseSources(names []string) ([]types.Source, error) {
	out := make([]types.Source, 0, len(names))
	for _, n := range names {
		src, err := types.ParseSource(n)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}
