package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/paperdrive/paperdrive-go/internal/config"
	"github.com/paperdrive/paperdrive-go/internal/engine"
	"github.com/paperdrive/paperdrive-go/internal/journal"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent mutation outcomes",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}

	cmd.Flags().Int("limit", 20, "maximum number of entries to show")

	return cmd
}

// openJournal opens the mutation journal at its default data path, creating
// the data directory on first use.
func openJournal(logger *slog.Logger) (*journal.Journal, error) {
	dbPath := config.JournalPath()

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, err
	}

	return journal.Open(dbPath, logger)
}

// recordOutcome persists a terminal mutation update to the journal. Journal
// failures are logged, never surfaced: the journal is advisory and must not
// change a command's exit status.
func recordOutcome(update engine.Update, logger *slog.Logger) {
	if !update.Terminal() || update.MutationID == "" {
		return
	}

	j, err := openJournal(logger)
	if err != nil {
		logger.Warn("journal unavailable", "error", err)
		return
	}
	defer j.Close()

	if err := j.Record(context.Background(), journal.EntryFromUpdate(update)); err != nil {
		logger.Warn("journal write failed", "mutation_id", update.MutationID, "error", err)
	}
}

// historyJSONEntry is the JSON output schema for one history entry.
type historyJSONEntry struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Path        string `json:"path"`
	State       string `json:"state"`
	Error       string `json:"error,omitempty"`
	AppliedKeys int    `json:"applied_keys"`
	FailedKeys  int    `json:"failed_keys,omitempty"`
	Stale       bool   `json:"stale,omitempty"`
	RecordedAt  string `json:"recorded_at"`
}

func runHistory(cmd *cobra.Command, _ []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	logger := buildLogger()

	j, err := openJournal(logger)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.List(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if flagJSON {
		out := make([]historyJSONEntry, 0, len(entries))

		for _, e := range entries {
			out = append(out, historyJSONEntry{
				ID:          e.ID,
				Kind:        e.Kind,
				Path:        e.Path,
				State:       e.State,
				Error:       e.Error,
				AppliedKeys: e.AppliedKeys,
				FailedKeys:  e.FailedKeys,
				Stale:       e.Stale,
				RecordedAt:  e.RecordedAt.UTC().Format("2006-01-02T15:04:05Z"),
			})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	if len(entries) == 0 {
		statusf("No recorded mutations.\n")
		return nil
	}

	rows := make([][]string, 0, len(entries))

	for _, e := range entries {
		outcome := "ok"

		switch {
		case e.Error != "":
			outcome = "failed"
		case e.Stale:
			outcome = "stale"
		}

		rows = append(rows, []string{
			formatTime(e.RecordedAt),
			e.Kind,
			e.Path,
			outcome,
		})
	}

	printTable(os.Stdout, []string{"WHEN", "KIND", "PATH", "OUTCOME"}, rows)

	return nil
}
