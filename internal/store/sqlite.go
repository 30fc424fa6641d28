package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/engramd/internal/engram"
)

// openDB is swappable in tests to inject open failures.
var openDB = sql.Open

// schema creates every table on first open. Timestamps are stored as
// UTC unix nanoseconds so window comparisons stay integer comparisons.
const schema = `
	CREATE TABLE IF NOT EXISTS experiences (
		id           TEXT PRIMARY KEY,
		scope        TEXT NOT NULL,
		timestamp    INTEGER NOT NULL,
		kind         TEXT NOT NULL,
		payload      TEXT NOT NULL,
		outcome      TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'unconsolidated',
		access_count INTEGER NOT NULL DEFAULT 0,
		usefulness   REAL,
		tags         TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_experiences_scope_status ON experiences(scope, status, timestamp);

	CREATE TABLE IF NOT EXISTS runs (
		id           TEXT PRIMARY KEY,
		scope        TEXT NOT NULL,
		window_start INTEGER NOT NULL,
		window_end   INTEGER NOT NULL,
		strategy     TEXT NOT NULL,
		status       TEXT NOT NULL,
		reason       TEXT NOT NULL DEFAULT '',
		degraded     INTEGER NOT NULL DEFAULT 0,
		counts       TEXT NOT NULL DEFAULT '{}',
		quality      TEXT NOT NULL DEFAULT '{}',
		started_at   INTEGER NOT NULL,
		finished_at  INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_runs_scope_started ON runs(scope, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_scope_status ON runs(scope, status);

	CREATE TABLE IF NOT EXISTS patterns (
		id                    TEXT PRIMARY KEY,
		run_id                TEXT NOT NULL,
		pattern_type          TEXT NOT NULL,
		content               TEXT NOT NULL,
		occurrence_count      INTEGER NOT NULL,
		confidence            REAL NOT NULL,
		success_rate          REAL NOT NULL,
		source_experience_ids TEXT NOT NULL DEFAULT '[]',
		anti_pattern          INTEGER NOT NULL DEFAULT 0,
		anti_pattern_severity TEXT NOT NULL DEFAULT '',
		high_variance         INTEGER NOT NULL DEFAULT 0,
		created_at            INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_patterns_run ON patterns(run_id);

	CREATE TABLE IF NOT EXISTS procedures (
		id                 TEXT PRIMARY KEY,
		run_id             TEXT NOT NULL,
		name               TEXT NOT NULL,
		steps              TEXT NOT NULL DEFAULT '[]',
		success_rate       REAL NOT NULL,
		source_pattern_ids TEXT NOT NULL DEFAULT '[]',
		status             TEXT NOT NULL DEFAULT 'candidate',
		created_at         INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_procedures_run ON procedures(run_id);

	CREATE TABLE IF NOT EXISTS feedback (
		id         TEXT PRIMARY KEY,
		run_id     TEXT NOT NULL,
		target     TEXT NOT NULL,
		action     TEXT NOT NULL,
		reason     TEXT NOT NULL,
		confidence REAL NOT NULL,
		applied    INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_feedback_pending ON feedback(applied, target, created_at);
`

// SQLiteStore is the durable engram.Store backed by a single SQLite
// database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ engram.Store = (*SQLiteStore)(nil)

// NewSQLite opens (creating if needed) the database at path and
// applies the schema.
func NewSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("store")

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	logger.Info("opened sqlite store", zap.String("path", path))
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AddExperience stores the experience, replacing any existing record
// with the same ID.
func (s *SQLiteStore) AddExperience(ctx context.Context, exp *engram.Experience) (err error) {
	defer recordOp("add_experience", time.Now(), &err)

	if exp == nil {
		return engram.ErrEmptyPayload
	}
	if err := exp.Validate(); err != nil {
		return fmt.Errorf("invalid experience: %w", err)
	}

	tags, err := json.Marshal(tagsOrEmpty(exp.Tags))
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO experiences (id, scope, timestamp, kind, payload, outcome, status, access_count, usefulness, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			access_count = excluded.access_count,
			usefulness = excluded.usefulness,
			tags = excluded.tags
	`, exp.ID, exp.Scope, exp.Timestamp.UTC().UnixNano(), string(exp.Kind), exp.Payload,
		string(exp.Outcome), string(exp.Status), exp.AccessCount, exp.Usefulness, string(tags))
	if err != nil {
		return fmt.Errorf("failed to insert experience: %w", err)
	}
	return nil
}

const experienceColumns = "id, scope, timestamp, kind, payload, outcome, status, access_count, usefulness, tags"

// GetExperience fetches one experience by ID.
func (s *SQLiteStore) GetExperience(ctx context.Context, id string) (exp *engram.Experience, err error) {
	defer recordOp("get_experience", time.Now(), &err)

	row := s.db.QueryRowContext(ctx,
		"SELECT "+experienceColumns+" FROM experiences WHERE id = ?", id)
	exp, err = scanExperience(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engram.ErrExperienceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read experience: %w", err)
	}
	return exp, nil
}

// GetUnconsolidatedExperiences returns the scope's unconsolidated
// experiences inside the half-open window [Start, End), oldest first.
func (s *SQLiteStore) GetUnconsolidatedExperiences(ctx context.Context, scope string, window engram.Window) (out []*engram.Experience, err error) {
	defer recordOp("get_unconsolidated", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+experienceColumns+`
		FROM experiences
		WHERE scope = ? AND status = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, id ASC
	`, scope, string(engram.StatusUnconsolidated),
		window.Start.UTC().UnixNano(), window.End.UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query experiences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		exp, err := scanExperience(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experience: %w", err)
		}
		out = append(out, exp)
	}
	return out, rows.Err()
}

// MaxAccessCount returns the highest access count for the layer+scope.
// The working layer lives in memory, not here, so it reports zero.
func (s *SQLiteStore) MaxAccessCount(ctx context.Context, layer engram.Layer, scope string) (max int, err error) {
	defer recordOp("max_access_count", time.Now(), &err)

	status, ok := layerStatus(layer)
	if !ok {
		return 0, nil
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(access_count), 0)
		FROM experiences
		WHERE scope = ? AND status = ?
	`, scope, string(status)).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read max access count: %w", err)
	}
	return max, nil
}

// PersistRun writes the run and its output rows and flips experience
// statuses inside one transaction.
func (s *SQLiteStore) PersistRun(ctx context.Context, run *engram.ConsolidationRun, patterns []*engram.ExtractedPattern, procedures []*engram.ExtractedProcedure, feedback []*engram.FeedbackUpdate, consolidated, archived []string) (err error) {
	defer recordOp("persist_run", time.Now(), &err)

	if run == nil {
		return fmt.Errorf("cannot persist nil run")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertRun(ctx, tx, run); err != nil {
		return err
	}

	for _, p := range patterns {
		sources, err := json.Marshal(tagsOrEmpty(p.SourceExperienceIDs))
		if err != nil {
			return fmt.Errorf("failed to encode pattern sources: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO patterns (id, run_id, pattern_type, content, occurrence_count, confidence, success_rate, source_experience_ids, anti_pattern, anti_pattern_severity, high_variance, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.ID, p.RunID, string(p.Type), p.Content, p.OccurrenceCount, p.Confidence,
			p.SuccessRate, string(sources), boolToInt(p.AntiPattern),
			string(p.AntiPatternSeverity), boolToInt(p.HighVariance), p.CreatedAt.UTC().UnixNano())
		if err != nil {
			return fmt.Errorf("failed to insert pattern %s: %w", p.ID, err)
		}
	}

	for _, p := range procedures {
		steps, err := json.Marshal(tagsOrEmpty(p.Steps))
		if err != nil {
			return fmt.Errorf("failed to encode procedure steps: %w", err)
		}
		sources, err := json.Marshal(tagsOrEmpty(p.SourcePatternIDs))
		if err != nil {
			return fmt.Errorf("failed to encode procedure sources: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO procedures (id, run_id, name, steps, success_rate, source_pattern_ids, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, p.ID, p.RunID, p.Name, string(steps), p.SuccessRate, string(sources),
			string(p.Status), p.CreatedAt.UTC().UnixNano())
		if err != nil {
			return fmt.Errorf("failed to insert procedure %s: %w", p.ID, err)
		}
	}

	for _, f := range feedback {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO feedback (id, run_id, target, action, reason, confidence, applied, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, f.ID, f.RunID, string(f.Target), f.Action, f.Reason, f.Confidence,
			boolToInt(f.Applied), f.CreatedAt.UTC().UnixNano())
		if err != nil {
			return fmt.Errorf("failed to insert feedback %s: %w", f.ID, err)
		}
	}

	if err := flipStatus(ctx, tx, consolidated, engram.StatusConsolidated); err != nil {
		return err
	}
	if err := flipStatus(ctx, tx, archived, engram.StatusArchived); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// MarkConsolidated flips the listed experiences to consolidated inside
// one transaction.
func (s *SQLiteStore) MarkConsolidated(ctx context.Context, ids []string) (err error) {
	defer recordOp("mark_consolidated", time.Now(), &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := flipStatus(ctx, tx, ids, engram.StatusConsolidated); err != nil {
		return err
	}
	return tx.Commit()
}

// IsRunActive reports whether the scope has a non-terminal run.
func (s *SQLiteStore) IsRunActive(ctx context.Context, scope string) (active bool, err error) {
	defer recordOp("is_run_active", time.Now(), &err)

	var n int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM runs
		WHERE scope = ? AND status NOT IN (?, ?, ?)
	`, scope, string(engram.RunCompleted), string(engram.RunFailed), string(engram.RunCancelled)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count active runs: %w", err)
	}
	return n > 0, nil
}

// RecordRun upserts a run record in its current state.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *engram.ConsolidationRun) (err error) {
	defer recordOp("record_run", time.Now(), &err)

	if run == nil {
		return fmt.Errorf("cannot record nil run")
	}
	return upsertRun(ctx, s.db, run)
}

const runColumns = "id, scope, window_start, window_end, strategy, status, reason, degraded, counts, quality, started_at, finished_at"

// GetRun fetches one run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (run *engram.ConsolidationRun, err error) {
	defer recordOp("get_run", time.Now(), &err)

	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err = scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engram.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run: %w", err)
	}
	return run, nil
}

// ListRuns returns the scope's runs, newest first, up to limit. Empty
// scope lists across all scopes; limit <= 0 lists everything.
func (s *SQLiteStore) ListRuns(ctx context.Context, scope string, limit int) (out []*engram.ConsolidationRun, err error) {
	defer recordOp("list_runs", time.Now(), &err)

	query := "SELECT " + runColumns + " FROM runs"
	args := []any{}
	if scope != "" {
		query += " WHERE scope = ?"
		args = append(args, scope)
	}
	query += " ORDER BY started_at DESC, id ASC LIMIT ?"
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// GetPendingFeedback returns unapplied feedback, oldest first,
// optionally filtered by target.
func (s *SQLiteStore) GetPendingFeedback(ctx context.Context, target engram.FeedbackTarget) (out []*engram.FeedbackUpdate, err error) {
	defer recordOp("get_pending_feedback", time.Now(), &err)

	query := `
		SELECT id, run_id, target, action, reason, confidence, applied, created_at
		FROM feedback
		WHERE applied = 0
	`
	args := []any{}
	if target != "" {
		query += " AND target = ?"
		args = append(args, string(target))
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			f       engram.FeedbackUpdate
			applied int
			created int64
		)
		if err := rows.Scan(&f.ID, &f.RunID, &f.Target, &f.Action, &f.Reason, &f.Confidence, &applied, &created); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		f.Applied = applied != 0
		f.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, &f)
	}
	return out, rows.Err()
}

// MarkApplied flags one feedback update as consumed.
func (s *SQLiteStore) MarkApplied(ctx context.Context, id string) (err error) {
	defer recordOp("mark_applied", time.Now(), &err)

	res, err := s.db.ExecContext(ctx, "UPDATE feedback SET applied = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark feedback applied: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return engram.ErrFeedbackNotFound
	}
	return nil
}

// execer covers *sql.DB and *sql.Tx for shared write helpers.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRun(ctx context.Context, db execer, run *engram.ConsolidationRun) error {
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return fmt.Errorf("failed to encode run counts: %w", err)
	}
	quality, err := json.Marshal(run.Quality)
	if err != nil {
		return fmt.Errorf("failed to encode run quality: %w", err)
	}

	var finished sql.NullInt64
	if run.FinishedAt != nil {
		finished = sql.NullInt64{Int64: run.FinishedAt.UTC().UnixNano(), Valid: true}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, scope, window_start, window_end, strategy, status, reason, degraded, counts, quality, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			degraded = excluded.degraded,
			counts = excluded.counts,
			quality = excluded.quality,
			finished_at = excluded.finished_at
	`, run.ID, run.Scope, run.Window.Start.UTC().UnixNano(), run.Window.End.UTC().UnixNano(),
		string(run.Strategy), string(run.Status), run.Reason, boolToInt(run.Degraded),
		string(counts), string(quality), run.StartedAt.UTC().UnixNano(), finished)
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}
	return nil
}

// flipStatus updates each listed experience to status, failing the
// whole call when any ID is unknown so the enclosing transaction rolls
// back untouched.
func flipStatus(ctx context.Context, tx execer, ids []string, status engram.ConsolidationStatus) error {
	for _, id := range ids {
		res, err := tx.ExecContext(ctx,
			"UPDATE experiences SET status = ? WHERE id = ?", string(status), id)
		if err != nil {
			return fmt.Errorf("failed to update experience %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%s %s: %w", status, id, engram.ErrExperienceNotFound)
		}
	}
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperience(row rowScanner) (*engram.Experience, error) {
	var (
		exp        engram.Experience
		ts         int64
		usefulness sql.NullFloat64
		tags       string
	)
	if err := row.Scan(&exp.ID, &exp.Scope, &ts, &exp.Kind, &exp.Payload, &exp.Outcome,
		&exp.Status, &exp.AccessCount, &usefulness, &tags); err != nil {
		return nil, err
	}
	exp.Timestamp = time.Unix(0, ts).UTC()
	if usefulness.Valid {
		u := usefulness.Float64
		exp.Usefulness = &u
	}
	if err := json.Unmarshal([]byte(tags), &exp.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	if len(exp.Tags) == 0 {
		exp.Tags = nil
	}
	return &exp, nil
}

func scanRun(row rowScanner) (*engram.ConsolidationRun, error) {
	var (
		run         engram.ConsolidationRun
		windowStart int64
		windowEnd   int64
		degraded    int
		counts      string
		quality     string
		started     int64
		finished    sql.NullInt64
	)
	if err := row.Scan(&run.ID, &run.Scope, &windowStart, &windowEnd, &run.Strategy,
		&run.Status, &run.Reason, &degraded, &counts, &quality, &started, &finished); err != nil {
		return nil, err
	}
	run.Window = engram.Window{
		Start: time.Unix(0, windowStart).UTC(),
		End:   time.Unix(0, windowEnd).UTC(),
	}
	run.Degraded = degraded != 0
	if err := json.Unmarshal([]byte(counts), &run.Counts); err != nil {
		return nil, fmt.Errorf("failed to decode run counts: %w", err)
	}
	if err := json.Unmarshal([]byte(quality), &run.Quality); err != nil {
		return nil, fmt.Errorf("failed to decode run quality: %w", err)
	}
	run.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		run.FinishedAt = &t
	}
	return &run, nil
}

// tagsOrEmpty keeps JSON columns as '[]' instead of 'null'.
func tagsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
