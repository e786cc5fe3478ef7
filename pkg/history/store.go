package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chainlesschain/skilltools/internal/observability"
	"github.com/chainlesschain/skilltools/pkg/toolexecutor"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DefaultLimit caps Recent when the query sets no limit.
const DefaultLimit = 50

// Record is one stored invocation outcome.
type Record struct {
	InvocationID string          `json:"invocation_id"`
	ToolID       string          `json:"tool_id"`
	Actor        string          `json:"actor,omitempty"`
	Success      bool            `json:"success"`
	Kind         string          `json:"kind,omitempty"`
	Error        string          `json:"error,omitempty"`
	DurationMs   int64           `json:"duration_ms"`
	CreatedAt    time.Time       `json:"created_at"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// Query filters Recent. Zero fields match everything.
type Query struct {
	ToolID       string
	Actor        string
	Kind         string
	FailuresOnly bool
	Since        time.Time
	Limit        int
}

// ToolStats aggregates history per tool.
type ToolStats struct {
	ToolID        string  `json:"tool_id"`
	Invocations   int64   `json:"invocations"`
	Failures      int64   `json:"failures"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// Store persists invocation outcomes in SQLite. It satisfies
// toolexecutor.Recorder.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

var _ toolexecutor.Recorder = (*Store)(nil)

// Config holds history store configuration.
type Config struct {
	Path   string
	Logger zerolog.Logger
}

// Open opens (creating if needed) the history database at cfg.Path.
// ":memory:" keeps history in process.
func Open(cfg Config) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.Path == "" {
		return nil, errors.New("history path is required")
	}

	dsn := cfg.Path
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		dsn = cfg.Path + "?_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Path == ":memory:" {
		// Each connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS invocations (
			invocation_id TEXT PRIMARY KEY,
			tool_id       TEXT NOT NULL,
			actor         TEXT NOT NULL DEFAULT '',
			success       INTEGER NOT NULL,
			kind          TEXT NOT NULL DEFAULT '',
			error         TEXT NOT NULL DEFAULT '',
			duration_ms   INTEGER NOT NULL,
			created_at    INTEGER NOT NULL,
			result        TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_invocations_tool ON invocations(tool_id);
		CREATE INDEX IF NOT EXISTS idx_invocations_created ON invocations(created_at);
	`)
	return err
}

// RecordInvocation stores one executor result.
func (s *Store) RecordInvocation(ctx context.Context, res toolexecutor.ExecutionResult, actor string) error {
	start := time.Now()
	defer func() { observability.RecordHistoryWrite(time.Since(start)) }()

	result, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO invocations
			(invocation_id, tool_id, actor, success, kind, error, duration_ms, created_at, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.InvocationID, res.ToolID, actor, res.Success, string(res.Kind), res.Error,
		res.DurationMs, s.now().UnixMilli(), string(result),
	)
	if err != nil {
		return fmt.Errorf("failed to insert invocation: %w", err)
	}
	return nil
}

// Recent returns the newest records matching q, newest first.
func (s *Store) Recent(ctx context.Context, q Query) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if q.ToolID != "" {
		where = append(where, "tool_id = ?")
		args = append(args, q.ToolID)
	}
	if q.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, q.Actor)
	}
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, q.Kind)
	}
	if q.FailuresOnly {
		where = append(where, "success = 0")
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.Since.UnixMilli())
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	stmt := `SELECT invocation_id, tool_id, actor, success, kind, error, duration_ms, created_at, result
		FROM invocations`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r         Record
			createdAt int64
			result    sql.NullString
		)
		if err := rows.Scan(&r.InvocationID, &r.ToolID, &r.Actor, &r.Success, &r.Kind, &r.Error,
			&r.DurationMs, &createdAt, &result); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdAt)
		if result.Valid && result.String != "" {
			r.Result = json.RawMessage(result.String)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Stats aggregates invocation counts per tool, ordered by tool id.
func (s *Store) Stats(ctx context.Context) ([]ToolStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_id, COUNT(*), SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), AVG(duration_ms)
		FROM invocations GROUP BY tool_id ORDER BY tool_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	var stats []ToolStats
	for rows.Next() {
		var st ToolStats
		if err := rows.Scan(&st.ToolID, &st.Invocations, &st.Failures, &st.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Prune deletes records created before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invocations WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	observability.RecordHistoryPruned(n)
	s.logger.Debug().Int64("deleted", n).Time("cutoff", cutoff).Msg("History pruned")
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
