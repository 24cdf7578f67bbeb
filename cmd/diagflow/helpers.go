package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/animus-labs/diagflow/internal/fixture"
	"github.com/animus-labs/diagflow/internal/ledger"
	"github.com/animus-labs/diagflow/internal/platform/objectstore"
	"github.com/animus-labs/diagflow/internal/platform/postgres"
)

func loadCatalog(path string) (*fixture.Catalog, error) {
	if path == "" {
		c, err := fixture.Default()
		if err != nil {
			return nil, fmt.Errorf("load embedded fixtures: %w", err)
		}
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	c, err := fixture.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// openLedger returns a nil store when DIAGFLOW_DATABASE_URL is unset.
func openLedger(ctx context.Context) (*ledger.Store, *sql.DB, error) {
	cfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid database config: %w", err)
	}
	if !cfg.Enabled() {
		return nil, nil, nil
	}
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database unavailable: %w", err)
	}
	store := ledger.NewStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

// openArchive returns a nil store when DIAGFLOW_MINIO_ENDPOINT is unset. With
// ensure the bucket is created when missing; otherwise it must already exist.
func openArchive(ctx context.Context, ensure bool) (*objectstore.MinioStore, objectstore.Config, error) {
	cfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return nil, cfg, fmt.Errorf("invalid object store config: %w", err)
	}
	if !cfg.Enabled() {
		return nil, cfg, nil
	}
	client, err := objectstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, cfg, fmt.Errorf("object store client init failed: %w", err)
	}
	check := objectstore.CheckBucket
	if ensure {
		check = objectstore.EnsureBucket
	}
	if err := check(ctx, client, cfg); err != nil {
		return nil, cfg, fmt.Errorf("object store unavailable: %w", err)
	}
	store, err := objectstore.NewMinioStoreWithClient(client)
	if err != nil {
		return nil, cfg, err
	}
	return store, cfg, nil
}
