// Package ledger records conformance runs in SQLite so results can be
// compared across gateway builds.
//
// # Database Configuration
//
//   - WAL mode: history reads while a suite is writing
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//
// Every query orders by (started_at, id) or (run_id, seq) so listings are
// identical across reads.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/sessiongate/internal/canonical"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// timeLayout is fixed width so started_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Run is one scenario execution.
type Run struct {
	ID        string        `json:"id"`
	Scenario  string        `json:"scenario"`
	Target    string        `json:"target"`
	Passed    bool          `json:"passed"`
	Errors    []string      `json:"errors,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Exchange is one gateway request and its response. Token holds the scenario
// alias, not the generated value.
type Exchange struct {
	Seq     int    `json:"seq"`
	Action  string `json:"action"`
	Token   string `json:"token"`
	KeyMode string `json:"key_mode"`
	Status  int    `json:"status"`
	Result  string `json:"result,omitempty"`
	Message string `json:"message,omitempty"`
}

// UpstreamCall is one request the mock dependency received.
type UpstreamCall struct {
	Seq  int    `json:"seq"`
	Path string `json:"path"`
	Body string `json:"body"`
}

// Ledger is a SQLite run store.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger at path and applies the schema.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect ledger: %w", err)
	}

	// One writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

func applyPragmas(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("ledger schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Record writes a run with its exchanges and upstream calls in one
// transaction. An empty run ID is assigned a random UUID. It returns the
// stored ID.
func (l *Ledger) Record(ctx context.Context, run Run, exchanges []Exchange, calls []UpstreamCall) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}
	errsJSON, err := canonical.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, scenario, target, passed, errors, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Scenario,
		run.Target,
		boolToInt(run.Passed),
		string(errsJSON),
		run.StartedAt.UTC().Format(timeLayout),
		run.Duration.Milliseconds(),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for _, ex := range exchanges {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO exchanges (run_id, seq, action, token, key_mode, status, result, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, ex.Seq, ex.Action, ex.Token, ex.KeyMode, ex.Status, ex.Result, ex.Message)
		if err != nil {
			return "", fmt.Errorf("insert exchange %d: %w", ex.Seq, err)
		}
	}
	for _, c := range calls {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO upstream_calls (run_id, seq, path, body)
			VALUES (?, ?, ?, ?)
		`, run.ID, c.Seq, c.Path, c.Body)
		if err != nil {
			return "", fmt.Errorf("insert upstream call %d: %w", c.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run: %w", err)
	}
	return run.ID, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
