package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/animus-labs/diagflow/internal/fixture"
	"github.com/animus-labs/diagflow/internal/format"
	"github.com/animus-labs/diagflow/internal/ledger"
	"github.com/animus-labs/diagflow/internal/platform/env"
	"github.com/animus-labs/diagflow/internal/platform/logging"
	"github.com/animus-labs/diagflow/internal/report"
	"github.com/animus-labs/diagflow/internal/workflow"
	"github.com/animus-labs/diagflow/internal/workflow/executor"
	"github.com/animus-labs/diagflow/internal/workflow/scheduler"
	"github.com/animus-labs/diagflow/internal/workflow/schema"
)

type runOptions struct {
	startURL    string
	rootName    string
	key         string
	inProcess   bool
	fixtures    string
	maxParallel int
	archive     bool
	output      string
}

var runFlags runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Traverse a workflow from its start step and print every activity result",
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.startURL, "start-url", "", "Start step URL (default: first fixture entry under DIAGFLOW_PUBLIC_BASE_URL)")
	f.StringVar(&runFlags.rootName, "root-name", "", "Activity name of the start step (default: the matching fixture entry's result name, else last path segment of --start-url)")
	f.StringVar(&runFlags.key, "key", "", "Customer key sent as {\"key\": ...} to every step (required)")
	f.BoolVar(&runFlags.inProcess, "in-process", false, "Resolve activities against the fixture catalog instead of HTTP")
	f.StringVar(&runFlags.fixtures, "fixtures", "", "YAML fixture document for --in-process")
	f.IntVar(&runFlags.maxParallel, "max-parallel", 0, "Bound on concurrent step calls, 0 = unbounded (default DIAGFLOW_MAX_PARALLEL)")
	f.BoolVar(&runFlags.archive, "archive", false, "Upload the result document to the configured object store")
	f.StringVarP(&runFlags.output, "output", "o", "table", "Output format: table, markdown or json")

	_ = runCmd.MarkFlagRequired("key")
}

func runRun(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	ctx := cmd.Context()
	opts := runFlags

	if !cmd.Flags().Changed("max-parallel") {
		if opts.maxParallel, err = env.Int("DIAGFLOW_MAX_PARALLEL", 0); err != nil {
			return err
		}
	}
	if opts.output != "json" {
		if _, err := format.ParseMode(opts.output); err != nil {
			return err
		}
	}

	baseURL, err := env.BaseURL("DIAGFLOW_PUBLIC_BASE_URL", "http://localhost:9292")
	if err != nil {
		return fmt.Errorf("invalid public base url: %w", err)
	}
	catalog, err := loadCatalog(opts.fixtures)
	if err != nil {
		return err
	}
	root, err := rootRef(catalog, baseURL, opts)
	if err != nil {
		return err
	}
	exec, err := newExecutor(ctx, catalog, baseURL, opts.inProcess)
	if err != nil {
		return err
	}

	observers := []scheduler.Observer{scheduler.LogObserver(logging.Component(logger, "scheduler"))}
	store, db, err := openLedger(ctx)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() { _ = db.Close() }()
		observers = append(observers, ledger.NewObserver(store, logger))
	}

	archive, archiveCfg, err := openArchive(ctx, opts.archive)
	if err != nil {
		return err
	}
	if opts.archive && archive == nil {
		return errors.New("--archive requires DIAGFLOW_MINIO_ENDPOINT")
	}

	res, runErr := traverse(ctx, logger, exec, scheduler.Observers(observers...), root, opts)
	if err := writeResult(cmd.OutOrStdout(), res, opts.output); err != nil {
		return err
	}
	if opts.archive && res.RunID != "" {
		key, err := report.Archive(context.WithoutCancel(ctx), archive, archiveCfg.Bucket, res)
		if err != nil {
			return fmt.Errorf("archive result: %w", err)
		}
		logger.Info("result archived", "run_id", res.RunID, "bucket", archiveCfg.Bucket, "key", key)
	}
	if runErr != nil {
		return runErr
	}
	if res.Status == workflow.StatusFailed {
		return fmt.Errorf("workflow %s failed: %w", res.RunID, res.Failures[res.Root])
	}
	return nil
}

func rootRef(catalog *fixture.Catalog, baseURL string, opts runOptions) (workflow.ActivityRef, error) {
	target := strings.TrimSpace(opts.startURL)
	name := strings.TrimSpace(opts.rootName)
	entries := catalog.Entries(baseURL)
	if target == "" {
		if len(entries) == 0 {
			return workflow.ActivityRef{}, errors.New("no fixture entry step; pass --start-url")
		}
		target = entries[0].Target
	}
	if name == "" {
		for _, e := range entries {
			if strings.TrimRight(e.Target, "/") == strings.TrimRight(target, "/") {
				name = e.Name
				break
			}
		}
	}
	if name == "" {
		u, err := url.Parse(target)
		if err != nil {
			return workflow.ActivityRef{}, fmt.Errorf("invalid --start-url: %w", err)
		}
		name = path.Base(strings.TrimRight(u.Path, "/"))
		if name == "" || name == "." || name == "/" {
			return workflow.ActivityRef{}, errors.New("--root-name is required for this --start-url")
		}
	}
	return workflow.ActivityRef{Name: name, Target: target}, nil
}

func newExecutor(ctx context.Context, catalog *fixture.Catalog, baseURL string, inProcess bool) (executor.Executor, error) {
	if inProcess {
		reg, err := catalog.Registry(baseURL)
		if err != nil {
			return nil, err
		}
		return reg, nil
	}
	cfg, err := executor.HTTPConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid step executor config: %w", err)
	}
	validator, err := schema.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	return executor.NewHTTP(cfg, validator, nil)
}

func traverse(ctx context.Context, logger *slog.Logger, exec executor.Executor, obs scheduler.Observer, root workflow.ActivityRef, opts runOptions) (scheduler.Result, error) {
	s := scheduler.New(exec,
		scheduler.WithLogger(logger),
		scheduler.WithObserver(obs),
		scheduler.WithMaxParallel(opts.maxParallel),
	)
	return s.Run(ctx, root, map[string]any{"key": opts.key})
}

func writeResult(w io.Writer, res scheduler.Result, output string) error {
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report.FromResult(res))
	}
	mode, err := format.ParseMode(output)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, format.Result(res, mode))
	return err
}
