package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/e2eshark/internal/config"
	"github.com/roach88/e2eshark/internal/harness"
	"github.com/roach88/e2eshark/internal/ledger"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Run is a stored run with its results.
type Run struct {
	ID       string       `json:"id"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished,omitempty"` // zero while in progress
	Config   string       `json:"config,omitempty"`
	Passed   int          `json:"passed"`
	Failed   int          `json:"failed"`
	Results  []TestResult `json:"results"`
}

// TestResult is one stored test outcome.
type TestResult struct {
	Test    string         `json:"test"`
	Pass    bool           `json:"pass"`
	Kind    string         `json:"kind,omitempty"`
	Phase   string         `json:"phase,omitempty"`
	Message string         `json:"message,omitempty"`
	Dir     string         `json:"dir"`
	Started time.Time      `json:"started"`
	Phases  []PhaseOutcome `json:"phases"`
}

// PhaseOutcome is one stored ledger entry.
type PhaseOutcome struct {
	Phase   ledger.Phase  `json:"phase"`
	Status  ledger.Status `json:"status"`
	Elapsed time.Duration `json:"elapsed"`
}

// BeginRun records the start of run id with a snapshot of cfg.
// Beginning an existing run is a no-op.
func (s *Store) BeginRun(ctx context.Context, id string, started time.Time, cfg config.Config) error {
	snapshot, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("begin run: marshal config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, config)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, formatTime(started), string(snapshot))
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// RecordResult stores res and its ledger under run runID. The run must have
// been begun. Recording a test already stored for the run is a no-op.
func (s *Store) RecordResult(ctx context.Context, runID string, res *harness.Result) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var kind, phase, message string
	if res.Failure != nil {
		kind = string(res.Failure.Kind)
		phase = string(res.Failure.Phase)
		message = res.Failure.Error()
	}

	out, err := tx.ExecContext(ctx, `
		INSERT INTO test_results (run_id, test, passed, kind, phase, message, dir, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, test) DO NOTHING
	`, runID, res.Test.String(), res.Pass, kind, phase, message, res.Dir, formatTime(res.Started))
	if err != nil {
		return fmt.Errorf("record result %s: %w", res.Test, err)
	}
	if n, err := out.RowsAffected(); err == nil && n == 0 {
		return tx.Commit()
	}

	if res.Ledger != nil {
		for i, e := range res.Ledger.Entries() {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO phase_outcomes (run_id, test, ordinal, phase, status, elapsed_seconds)
				VALUES (?, ?, ?, ?, ?, ?)
			`, runID, res.Test.String(), i, string(e.Phase), string(e.Status), e.Elapsed.Seconds())
			if err != nil {
				return fmt.Errorf("record result %s: phase %s: %w", res.Test, e.Phase, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("record result %s: %w", res.Test, err)
	}
	return nil
}

// FinishRun stamps run id as finished and tallies its stored results.
func (s *Store) FinishRun(ctx context.Context, id string, finished time.Time) error {
	out, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			finished_at = ?,
			passed = (SELECT COUNT(*) FROM test_results WHERE run_id = runs.id AND passed = 1),
			failed = (SELECT COUNT(*) FROM test_results WHERE run_id = runs.id AND passed = 0)
		WHERE id = ?
	`, formatTime(finished), id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, err := out.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	return nil
}

// LatestRun returns the id of the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("latest run: %w", err)
	}
	return id, nil
}

// ReadRun loads run id with its results ordered by test id and each
// result's phases in pipeline order.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	var (
		run      Run
		started  string
		finished sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, config, passed, failed
		FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &started, &finished, &run.Config, &run.Passed, &run.Failed)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("read run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	if run.Started, err = parseTime(started); err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	if finished.Valid {
		if run.Finished, err = parseTime(finished.String); err != nil {
			return Run{}, fmt.Errorf("read run %s: %w", id, err)
		}
	}

	if run.Results, err = s.readResults(ctx, id); err != nil {
		return Run{}, err
	}
	if err := s.readPhases(ctx, id, run.Results); err != nil {
		return Run{}, err
	}
	return run, nil
}

func (s *Store) readResults(ctx context.Context, runID string) ([]TestResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT test, passed, kind, phase, message, dir, started_at
		FROM test_results
		WHERE run_id = ?
		ORDER BY test ASC COLLATE BINARY
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read results %s: %w", runID, err)
	}
	defer rows.Close()

	var results []TestResult
	for rows.Next() {
		var (
			r       TestResult
			started string
		)
		if err := rows.Scan(&r.Test, &r.Pass, &r.Kind, &r.Phase, &r.Message, &r.Dir, &started); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if r.Started, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("scan result %s: %w", r.Test, err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read results %s: %w", runID, err)
	}
	return results, nil
}

func (s *Store) readPhases(ctx context.Context, runID string, results []TestResult) error {
	index := make(map[string]int, len(results))
	for i, r := range results {
		index[r.Test] = i
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT test, phase, status, elapsed_seconds
		FROM phase_outcomes
		WHERE run_id = ?
		ORDER BY test ASC COLLATE BINARY, ordinal ASC
	`, runID)
	if err != nil {
		return fmt.Errorf("read phases %s: %w", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			test, phase, status string
			seconds             float64
		)
		if err := rows.Scan(&test, &phase, &status, &seconds); err != nil {
			return fmt.Errorf("scan phase: %w", err)
		}
		i, ok := index[test]
		if !ok {
			continue
		}
		results[i].Phases = append(results[i].Phases, PhaseOutcome{
			Phase:   ledger.Phase(phase),
			Status:  ledger.Status(status),
			Elapsed: time.Duration(seconds * float64(time.Second)),
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read phases %s: %w", runID, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
