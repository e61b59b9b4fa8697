package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/soundscape-lab/soundscape/internal/report"
	_ "modernc.org/sqlite"
)

const DBFileName = "soundscape.db"

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore is the row ledger and run registry kept next to the CSV sinks.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		// embed.FS paths are always slash-separated
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) EmittedSummary(ctx context.Context, fileID string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emitted_summaries WHERE file_id = ?`, fileID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) EmittedDetails(ctx context.Context, fileID, model string) (map[int]bool, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT window_index FROM emitted_details WHERE file_id = ? AND model = ?`,
		fileID,
		model,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make(map[int]bool)
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		ret[idx] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// RecordEmitted marks rows as appended in a single transaction. Keys that are
// already present are left untouched.
func (s *SQLiteStore) RecordEmitted(ctx context.Context, runID string, summaries []report.SummaryRow, details []report.DetailRow) (err error) {
	if len(summaries) == 0 && len(details) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	for _, row := range summaries {
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO emitted_summaries (file_id, run_id, biotic_mean, anthrop_mean, emitted_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(file_id) DO NOTHING`,
			row.FileID,
			runID,
			row.BioticMean,
			row.AnthropMean,
			now,
		); err != nil {
			return fmt.Errorf("record summary %s: %w", row.FileID, err)
		}
	}
	for _, row := range details {
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO emitted_details (file_id, model, window_index, run_id, start_s, end_s, confidence, emitted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(file_id, model, window_index) DO NOTHING`,
			row.FileID,
			row.Model,
			row.WindowIndex,
			runID,
			row.Start,
			row.End,
			row.Confidence,
			now,
		); err != nil {
			return fmt.Errorf("record detail %s/%s/%d: %w", row.FileID, row.Model, row.WindowIndex, err)
		}
	}
	return tx.Commit()
}

// ResetSummaries forgets every emitted summary row.
func (s *SQLiteStore) ResetSummaries(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM emitted_summaries`); err != nil {
		return fmt.Errorf("reset summary ledger: %w", err)
	}
	return nil
}

// ResetDetails forgets every emitted detail row.
func (s *SQLiteStore) ResetDetails(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM emitted_details`); err != nil {
		return fmt.Errorf("reset detail ledger: %w", err)
	}
	return nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, run Run) error {
	startedAt := run.StartedAt.UTC()
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	status := run.Status
	if status == "" {
		status = RunStatusRunning
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (id, input_dir, status, started_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			input_dir=excluded.input_dir,
			status=excluded.status,
			started_at=excluded.started_at`,
		run.ID,
		run.InputDir,
		string(status),
		startedAt,
	)
	return err
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run Run) error {
	finishedAt := run.FinishedAt.UTC()
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET
			status = ?, files = ?, classified = ?, skipped = ?, failed = ?,
			summary_rows = ?, detail_rows = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		string(run.Status),
		run.Files,
		run.Classified,
		run.Skipped,
		run.Failed,
		run.SummaryRows,
		run.DetailRows,
		run.Error,
		finishedAt,
		run.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

func (s *SQLiteStore) LoadRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, input_dir, status, files, classified, skipped, failed, summary_rows, detail_rows, error, started_at, finished_at
		 FROM runs
		 ORDER BY started_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]Run, 0)
	for rows.Next() {
		var item Run
		var status string
		var finishedAt sql.NullTime
		if err := rows.Scan(
			&item.ID,
			&item.InputDir,
			&status,
			&item.Files,
			&item.Classified,
			&item.Skipped,
			&item.Failed,
			&item.SummaryRows,
			&item.DetailRows,
			&item.Error,
			&item.StartedAt,
			&finishedAt,
		); err != nil {
			return nil, err
		}
		item.Status = RunStatus(status)
		if finishedAt.Valid {
			item.FinishedAt = finishedAt.Time
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// MarkInterruptedRuns flags runs left in the running state by a crashed
// process and returns how many were found.
func (s *SQLiteStore) MarkInterruptedRuns(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE status = ?`,
		string(RunStatusInterrupted),
		time.Now().UTC(),
		string(RunStatusRunning),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
