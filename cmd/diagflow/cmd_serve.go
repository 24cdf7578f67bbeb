package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/animus-labs/diagflow/internal/fixture"
	"github.com/animus-labs/diagflow/internal/platform/env"
	"github.com/animus-labs/diagflow/internal/platform/httpserver"
	"github.com/animus-labs/diagflow/internal/platform/logging"
	"github.com/animus-labs/diagflow/internal/workflow/schema"
)

var serveFlags struct {
	addr     string
	fixtures string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the diagnostic fixture node over HTTP",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.addr, "addr", "", "Listen address (default DIAGFLOW_HTTP_ADDR or :9292)")
	f.StringVar(&serveFlags.fixtures, "fixtures", "", "YAML fixture document (default: embedded diagnostic process)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	ctx := cmd.Context()

	cfg, err := httpserver.ConfigFromEnv(serviceName)
	if err != nil {
		return fmt.Errorf("invalid http config: %w", err)
	}
	if serveFlags.addr != "" {
		cfg.Addr = serveFlags.addr
	}
	baseURL, err := env.BaseURL("DIAGFLOW_PUBLIC_BASE_URL", "http://localhost:9292")
	if err != nil {
		return fmt.Errorf("invalid public base url: %w", err)
	}
	catalog, err := loadCatalog(serveFlags.fixtures)
	if err != nil {
		return err
	}
	validator, err := schema.Load(ctx)
	if err != nil {
		return fmt.Errorf("load schemas: %w", err)
	}

	logger.Info("fixture node configured", "addr", cfg.Addr, "public_base_url", baseURL, "entries", len(catalog.Entries(baseURL)))
	return httpserver.Run(ctx, logger, cfg, newServeHandler(logger, catalog, validator, baseURL))
}

func newServeHandler(logger *slog.Logger, catalog *fixture.Catalog, validator *schema.Validator, baseURL string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(serviceName,
		httpserver.ReadinessCheck{Name: "catalog", Check: func(context.Context) error {
			if len(catalog.Entries(baseURL)) == 0 {
				return fmt.Errorf("no entry steps")
			}
			return nil
		}},
	))
	fixture.NewAPI(logging.Component(logger, "fixture"), catalog, validator, baseURL).Register(mux)
	return httpserver.Wrap(logger, mux)
}
