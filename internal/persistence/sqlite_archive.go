package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/print-queue/internal/errs"
	"github.com/MimeLyc/print-queue/internal/jobs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteArchive is a queryable history of terminal jobs. It mirrors the
// queue's archive and is never the source of truth for the queue itself.
type SQLiteArchive struct {
	db *sql.DB
}

func NewSQLiteArchive(path string) (*SQLiteArchive, error) {
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

	store := &SQLiteArchive{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteArchive) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteArchive) init(ctx context.Context) error {
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
		// embed.FS paths always use forward slashes
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

// UpsertJobs writes archived jobs in one transaction. firstSeq is the archive
// position of records[0]; later records get consecutive positions.
func (s *SQLiteArchive) UpsertJobs(ctx context.Context, firstSeq int, records []*jobs.Job) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(err, errs.ErrPersistence, "begin archive transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	for i, job := range records {
		if job == nil {
			continue
		}
		var completionJSON sql.NullString
		if job.CompletionData != nil {
			payload, mErr := json.Marshal(job.CompletionData)
			if mErr != nil {
				return errs.Wrap(mErr, errs.ErrPersistence, "encode completion data").WithContext("job_id", job.ID)
			}
			completionJSON = sql.NullString{String: string(payload), Valid: true}
		}
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO archived_jobs (
				id, file_path, file_name, priority, status, added_at, started_at, completed_at, error, completion_json, archive_seq, archived_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status=excluded.status,
				completed_at=excluded.completed_at,
				error=excluded.error,
				completion_json=excluded.completion_json,
				archive_seq=excluded.archive_seq`,
			job.ID,
			job.FilePath,
			job.FileName,
			job.Priority,
			job.Status.String(),
			timestampString(job.AddedAt),
			timestampString(job.StartedAt),
			timestampString(job.CompletedAt),
			nullString(job.Error),
			completionJSON,
			firstSeq+i,
			now,
		); err != nil {
			return errs.Wrap(err, errs.ErrPersistence, "upsert archived job").WithContext("job_id", job.ID)
		}
	}
	if err = tx.Commit(); err != nil {
		return errs.Wrap(err, errs.ErrPersistence, "commit archive transaction")
	}
	return nil
}

// MaxSeq returns the highest archive position stored, or -1 when empty.
func (s *SQLiteArchive) MaxSeq(ctx context.Context) (int, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(archive_seq) FROM archived_jobs`).Scan(&seq); err != nil {
		return -1, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return int(seq.Int64), nil
}

// RecentJobs returns up to limit records, newest archive position first.
func (s *SQLiteArchive) RecentJobs(ctx context.Context, limit int) ([]ArchivedRecord, error) {
	if limit <= 0 {
		return []ArchivedRecord{}, nil
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, file_path, file_name, priority, status, added_at, started_at, completed_at, error, completion_json, archive_seq, archived_at
		 FROM archived_jobs
		 ORDER BY archive_seq DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]ArchivedRecord, 0)
	for rows.Next() {
		var (
			job                             jobs.Job
			status                          string
			addedAt, startedAt, completedAt sql.NullString
			errMsg, completionJSON          sql.NullString
			rec                             ArchivedRecord
		)
		if err := rows.Scan(
			&job.ID,
			&job.FilePath,
			&job.FileName,
			&job.Priority,
			&status,
			&addedAt,
			&startedAt,
			&completedAt,
			&errMsg,
			&completionJSON,
			&rec.ArchiveSeq,
			&rec.ArchivedAt,
		); err != nil {
			return nil, err
		}
		if job.Status, err = jobs.ParseStatus(status); err != nil {
			return nil, err
		}
		if job.AddedAt, err = parseTimestamp(addedAt); err != nil {
			return nil, err
		}
		if job.StartedAt, err = parseTimestamp(startedAt); err != nil {
			return nil, err
		}
		if job.CompletedAt, err = parseTimestamp(completedAt); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			v := errMsg.String
			job.Error = &v
		}
		if completionJSON.Valid {
			var data jobs.CompletionData
			if err := json.Unmarshal([]byte(completionJSON.String), &data); err != nil {
				return nil, err
			}
			job.CompletionData = &data
		}
		rec.Job = &job
		ret = append(ret, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteArchive) CountByStatus(ctx context.Context) (StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM archived_jobs GROUP BY status`)
	if err != nil {
		return StatusCount{}, err
	}
	defer rows.Close()

	var ret StatusCount
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return StatusCount{}, err
		}
		switch status {
		case jobs.StatusCompleted.String():
			ret.Completed = count
		case jobs.StatusFailed.String():
			ret.Failed = count
		}
	}
	return ret, rows.Err()
}

func timestampString(ts *jobs.Timestamp) sql.NullString {
	if ts == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: ts.String(), Valid: true}
}

func parseTimestamp(v sql.NullString) (*jobs.Timestamp, error) {
	if !v.Valid {
		return nil, nil
	}
	ts, err := jobs.ParseTimestamp(v.String)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
