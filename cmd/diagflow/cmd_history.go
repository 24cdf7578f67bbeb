package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/animus-labs/diagflow/internal/format"
	"github.com/animus-labs/diagflow/internal/report"
)

var historyFlags struct {
	runID       string
	fromArchive bool
	output      string
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the recorded transitions or the archived result of a workflow run",
	RunE:  runHistory,
}

func init() {
	f := historyCmd.Flags()
	f.StringVar(&historyFlags.runID, "run-id", "", "Workflow run id (required)")
	f.BoolVar(&historyFlags.fromArchive, "from-archive", false, "Read the archived result document instead of the ledger")
	f.StringVarP(&historyFlags.output, "output", "o", "table", "Output format: table or markdown")

	_ = historyCmd.MarkFlagRequired("run-id")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if historyFlags.fromArchive {
		store, cfg, err := openArchive(ctx, false)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("--from-archive requires DIAGFLOW_MINIO_ENDPOINT")
		}
		doc, err := report.Load(ctx, store, cfg.Bucket, historyFlags.runID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}

	mode, err := format.ParseMode(historyFlags.output)
	if err != nil {
		return err
	}
	store, db, err := openLedger(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		return errors.New("history requires DIAGFLOW_DATABASE_URL")
	}
	defer func() { _ = db.Close() }()

	records, err := store.ListByRun(ctx, historyFlags.runID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintf(out, "No recorded transitions for run %s\n", historyFlags.runID)
		return nil
	}
	fmt.Fprintln(out, format.Ledger(records, mode))
	return nil
}
