package journal

import (
	"context"
	"log/slog"

	"github.com/paperdrive/paperdrive-go/internal/engine"
)

// Recorder drains a session's update stream into the journal. Only terminal
// updates are persisted; intermediate transitions are transient UI state.
type Recorder struct {
	journal *Journal
	logger  *slog.Logger
}

// NewRecorder creates a Recorder writing to j.
func NewRecorder(j *Journal, logger *slog.Logger) *Recorder {
	return &Recorder{journal: j, logger: logger}
}

// Run consumes updates until the stream closes or ctx is cancelled.
// Recording failures are logged, never propagated: the journal is advisory.
func (r *Recorder) Run(ctx context.Context, updates <-chan engine.Update) {
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}

			r.record(ctx, update)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Recorder) record(ctx context.Context, update engine.Update) {
	if !update.Terminal() || update.MutationID == "" {
		return
	}

	if err := r.journal.Record(ctx, EntryFromUpdate(update)); err != nil {
		r.logger.Warn("journal write failed", "mutation_id", update.MutationID, "error", err)
	}
}

// EntryFromUpdate converts a terminal engine update into a journal entry.
func EntryFromUpdate(update engine.Update) Entry {
	errText := ""
	if update.Err != nil {
		errText = update.Err.Error()
	}

	return Entry{
		ID:          update.MutationID,
		Kind:        string(update.Kind),
		Path:        update.Path,
		State:       string(update.State),
		Error:       errText,
		AppliedKeys: len(update.AppliedKeys),
		FailedKeys:  len(update.FailedKeys),
		Stale:       update.Stale,
		RecordedAt:  update.Time,
	}
}
