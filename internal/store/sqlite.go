package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/taxbill-cli/internal/model"
	"github.com/sells-group/taxbill-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	label      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'running',
	report     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS results (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	work_item_id TEXT NOT NULL,
	source_key   TEXT NOT NULL,
	status       TEXT NOT NULL,
	payload      TEXT NOT NULL,
	extracted_at DATETIME NOT NULL,
	PRIMARY KEY (run_id, work_item_id)
);

CREATE TABLE IF NOT EXISTS dlq (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	source_key     TEXT NOT NULL,
	item           TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_kind     TEXT NOT NULL,
	attempts       INTEGER NOT NULL DEFAULT 0,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_results_run_status ON results(run_id, status);
CREATE INDEX IF NOT EXISTS idx_results_source ON results(source_key);
CREATE INDEX IF NOT EXISTS idx_dlq_error_kind ON dlq(error_kind);
CREATE INDEX IF NOT EXISTS idx_dlq_source ON dlq(source_key);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, label string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, label, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, label, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Label:     label,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, report *model.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET report = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(reportJSON), string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, label, status, report, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, label, status, report, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Label != "" {
		query += ` AND label = ?`
		args = append(args, filter.Label)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveResults(ctx context.Context, runID string, results []model.ExtractionResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save results")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results (run_id, work_item_id, source_key, status, payload, extracted_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, work_item_id) DO UPDATE SET
		   status = excluded.status, payload = excluded.payload, extracted_at = excluded.extracted_at`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare save results")
	}
	defer stmt.Close()

	for _, r := range results {
		payload, err := json.Marshal(r)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal result %s", r.WorkItemID)
		}
		if _, err := stmt.ExecContext(ctx,
			runID, r.WorkItemID, r.SourceKey, string(r.Status), string(payload), r.ExtractedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: save result %s", r.WorkItemID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save results")
}

func (s *SQLiteStore) ListResults(ctx context.Context, runID string, filter ResultFilter) ([]model.ExtractionResult, error) {
	query := `SELECT payload FROM results WHERE run_id = ?`
	args := []any{runID}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.SourceKey != "" {
		query += ` AND source_key = ?`
		args = append(args, filter.SourceKey)
	}
	query += ` ORDER BY extracted_at ASC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list results")
	}
	defer rows.Close()

	var results []model.ExtractionResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		var r model.ExtractionResult
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: list results iterate")
}

func (s *SQLiteStore) CompletedItemIDs(ctx context.Context, runID string, statuses ...model.ResultStatus) (map[string]model.ResultStatus, error) {
	query := `SELECT work_item_id, status FROM results WHERE run_id = ?`
	args := []any{runID}

	if len(statuses) > 0 {
		query += ` AND status IN (?` + repeatPlaceholder(len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: completed item ids")
	}
	defer rows.Close()

	ids := make(map[string]model.ResultStatus)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan completed id")
		}
		ids[id] = model.ResultStatus(status)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: completed ids iterate")
}

func (s *SQLiteStore) SaveDLQEntry(ctx context.Context, entry *resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	itemJSON, err := json.Marshal(entry.Item)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dlq item")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dlq (id, run_id, source_key, item, error, error_kind, attempts, retry_count, max_retries, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RunID, entry.Item.SourceKey, string(itemJSON), entry.Error, entry.ErrorKind,
		entry.Attempts, entry.RetryCount, entry.MaxRetries, entry.CreatedAt, entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert dlq entry")
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, run_id, item, error, error_kind, attempts, retry_count, max_retries, created_at, last_failed_at
	          FROM dlq WHERE 1=1`
	var args []any

	if filter.ErrorKind != "" {
		query += ` AND error_kind = ?`
		args = append(args, filter.ErrorKind)
	}
	if filter.SourceKey != "" {
		query += ` AND source_key = ?`
		args = append(args, filter.SourceKey)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var itemJSON string
		if err := rows.Scan(&e.ID, &e.RunID, &itemJSON, &e.Error, &e.ErrorKind,
			&e.Attempts, &e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		if err := json.Unmarshal([]byte(itemJSON), &e.Item); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dlq item")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) DeleteDLQEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dlq WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete dlq entry %s", id)
	}
	return checkRowsAffected(res, "dlq entry", id)
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dlq SET retry_count = retry_count + 1, last_failed_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq entry", id)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var reportJSON sql.NullString

	err := row.Scan(&r.ID, &r.Label, &r.Status, &reportJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if reportJSON.Valid {
		r.Report = &model.RunReport{}
		if err := json.Unmarshal([]byte(reportJSON.String), r.Report); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal report")
		}
	}
	return &r, nil
}
