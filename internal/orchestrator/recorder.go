package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/processd/internal/store"
)

// RunsTable is the table StoreRecorder writes to.
const RunsTable = "pattern_runs"

// StoreRecorder keeps an audit row per finished run in a store. The rows
// describe runs after the fact; nothing reads them back to resume a run.
type StoreRecorder struct {
	store store.Writer
}

// NewStoreRecorder creates a recorder over w.
func NewStoreRecorder(w store.Writer) *StoreRecorder {
	return &StoreRecorder{store: w}
}

// RecordRun writes one row keyed by the run id.
func (r *StoreRecorder) RecordRun(ctx context.Context, s *Summary) error {
	steps := make([]any, 0, len(s.Steps))
	for _, rec := range s.Steps {
		step := map[string]any{
			"order":  rec.Order,
			"name":   rec.Name,
			"tool":   rec.Tool,
			"status": string(rec.Status),
		}
		if rec.Error != "" {
			step["error"] = rec.Error
		}
		steps = append(steps, step)
	}

	gaps := make([]any, 0, len(s.RollbackFailures))
	for _, f := range s.RollbackFailures {
		gaps = append(gaps, map[string]any{
			"step_order":          f.StepOrder,
			"tool":                f.ToolName,
			"rollback_tool":       f.RollbackTool,
			"reason":              f.Reason,
			"manual_intervention": f.ManualIntervention,
		})
	}

	row := store.Row{
		store.IDColumn:      s.RunID,
		"pattern_id":        s.PatternID,
		"process_id":        s.ProcessID,
		"status":            string(s.Status),
		"outcome":           string(s.Outcome()),
		"degraded":          s.Degraded,
		"failed_step":       s.FailedStep,
		"failed_checks":     len(s.FailedVerifications()),
		"rollback_failures": gaps,
		"steps":             steps,
		"error":             s.Error,
		"started_at":        s.StartedAt.UTC().Format(time.RFC3339Nano),
		"completed_at":      s.CompletedAt.UTC().Format(time.RFC3339Nano),
		"duration_ms":       s.DurationMs,
	}
	if _, err := r.store.Insert(ctx, RunsTable, row); err != nil {
		return fmt.Errorf("record run %s: %w", s.RunID, err)
	}
	return nil
}

// Runs returns the recorded runs of a pattern, or of every pattern when
// patternID is empty.
func (r *StoreRecorder) Runs(ctx context.Context, patternID string) ([]store.Row, error) {
	pred := store.Predicate{}
	if patternID != "" {
		pred.Where = map[string]any{"pattern_id": patternID}
	}
	rows, err := r.store.Query(ctx, RunsTable, pred)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	return rows, nil
}
