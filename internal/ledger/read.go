package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Filter narrows ListRuns.
type Filter struct {
	Scenario   string
	FailedOnly bool
	// Limit keeps the most recent runs; zero means all.
	Limit int
}

// ListRuns returns runs ordered by start time then id, oldest first.
func (l *Ledger) ListRuns(ctx context.Context, f Filter) ([]Run, error) {
	query := `
		SELECT id, scenario, target, passed, errors, started_at, duration_ms
		FROM runs
		WHERE (? = '' OR scenario = ?) AND (? = 0 OR passed = 0)
		ORDER BY started_at DESC, id COLLATE BINARY DESC
	`
	args := []any{f.Scenario, f.Scenario, boolToInt(f.FailedOnly)}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	// Newest were selected for LIMIT; present oldest first.
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	return runs, nil
}

// ReadRun returns one run with its exchanges and upstream calls in sequence
// order.
func (l *Ledger) ReadRun(ctx context.Context, id string) (Run, []Exchange, []UpstreamCall, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, scenario, target, passed, errors, started_at, duration_ms
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, nil, nil, err
	}

	exchanges, err := l.readExchanges(ctx, id)
	if err != nil {
		return Run{}, nil, nil, err
	}
	calls, err := l.readUpstreamCalls(ctx, id)
	if err != nil {
		return Run{}, nil, nil, err
	}
	return run, exchanges, calls, nil
}

func (l *Ledger) readExchanges(ctx context.Context, runID string) ([]Exchange, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, action, token, key_mode, status, result, message
		FROM exchanges WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	out := []Exchange{}
	for rows.Next() {
		var ex Exchange
		if err := rows.Scan(&ex.Seq, &ex.Action, &ex.Token, &ex.KeyMode, &ex.Status, &ex.Result, &ex.Message); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchanges: %w", err)
	}
	return out, nil
}

func (l *Ledger) readUpstreamCalls(ctx context.Context, runID string) ([]UpstreamCall, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, path, body
		FROM upstream_calls WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query upstream calls: %w", err)
	}
	defer rows.Close()

	out := []UpstreamCall{}
	for rows.Next() {
		var c UpstreamCall
		if err := rows.Scan(&c.Seq, &c.Path, &c.Body); err != nil {
			return nil, fmt.Errorf("scan upstream call: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upstream calls: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run        Run
		passed     int
		errsJSON   string
		startedAt  string
		durationMS int64
	)
	if err := row.Scan(&run.ID, &run.Scenario, &run.Target, &passed, &errsJSON, &startedAt, &durationMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Passed = passed == 1
	if err := json.Unmarshal([]byte(errsJSON), &run.Errors); err != nil {
		return Run{}, fmt.Errorf("decode run errors: %w", err)
	}
	t, err := time.Parse(timeLayout, startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("decode run start: %w", err)
	}
	run.StartedAt = t
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}
