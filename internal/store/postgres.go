package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/taxbill-cli/internal/db"
	"github.com/sells-group/taxbill-cli/internal/model"
	"github.com/sells-group/taxbill-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, label, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"complete_run":      `UPDATE runs SET report = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, label, status, report, created_at, updated_at FROM runs WHERE id = $1`,
	"completed_ids":     `SELECT work_item_id, status FROM results WHERE run_id = $1`,
	"insert_dlq": `INSERT INTO dlq (id, run_id, source_key, item, error, error_kind, attempts, retry_count, max_retries, created_at, last_failed_at)
	               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests use this with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	label      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'running',
	report     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS results (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	work_item_id TEXT NOT NULL,
	source_key   TEXT NOT NULL,
	status       TEXT NOT NULL,
	payload      JSONB NOT NULL,
	extracted_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, work_item_id)
);

CREATE TABLE IF NOT EXISTS dlq (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id         TEXT NOT NULL,
	source_key     TEXT NOT NULL,
	item           JSONB NOT NULL,
	error          TEXT NOT NULL,
	error_kind     TEXT NOT NULL,
	attempts       INTEGER NOT NULL DEFAULT 0,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_results_run_status ON results(run_id, status);
CREATE INDEX IF NOT EXISTS idx_results_source ON results(source_key);
CREATE INDEX IF NOT EXISTS idx_dlq_error_kind ON dlq(error_kind);
CREATE INDEX IF NOT EXISTS idx_dlq_source ON dlq(source_key);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, label string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, label, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, label, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Label:     label,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, report *model.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET report = $1, status = $2, updated_at = $3 WHERE id = $4`,
		reportJSON, string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var reportNull *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, label, status, report, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Label, &r.Status, &reportNull, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if reportNull != nil {
		r.Report = &model.RunReport{}
		if err := json.Unmarshal(*reportNull, r.Report); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal report")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, label, status, report, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Label != "" {
		query += fmt.Sprintf(` AND label = $%d`, argIdx)
		args = append(args, filter.Label)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var reportNull *[]byte

		if err := rows.Scan(&r.ID, &r.Label, &r.Status, &reportNull, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if reportNull != nil {
			r.Report = &model.RunReport{}
			if err := json.Unmarshal(*reportNull, r.Report); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal report")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveResults flushes a checkpoint batch through a bulk upsert keyed on
// (run_id, work_item_id).
func (s *PostgresStore) SaveResults(ctx context.Context, runID string, results []model.ExtractionResult) error {
	if len(results) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(results))
	for _, r := range results {
		payload, err := json.Marshal(r)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal result %s", r.WorkItemID)
		}
		rows = append(rows, []any{
			runID, r.WorkItemID, r.SourceKey, string(r.Status), payload, r.ExtractedAt.UTC(),
		})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "results",
		Columns:      []string{"run_id", "work_item_id", "source_key", "status", "payload", "extracted_at"},
		ConflictKeys: []string{"run_id", "work_item_id"},
	}, rows)
	return eris.Wrap(err, "postgres: save results")
}

func (s *PostgresStore) ListResults(ctx context.Context, runID string, filter ResultFilter) ([]model.ExtractionResult, error) {
	query := `SELECT payload FROM results WHERE run_id = $1`
	args := []any{runID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.SourceKey != "" {
		query += fmt.Sprintf(` AND source_key = $%d`, argIdx)
		args = append(args, filter.SourceKey)
		argIdx++
	}
	query += ` ORDER BY extracted_at ASC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
		if filter.Offset > 0 {
			query += fmt.Sprintf(` OFFSET $%d`, argIdx)
			args = append(args, filter.Offset)
			argIdx++
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list results")
	}
	defer rows.Close()

	var results []model.ExtractionResult
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		var r model.ExtractionResult
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: list results iterate")
}

func (s *PostgresStore) CompletedItemIDs(ctx context.Context, runID string, statuses ...model.ResultStatus) (map[string]model.ResultStatus, error) {
	query := `SELECT work_item_id, status FROM results WHERE run_id = $1`
	args := []any{runID}

	if len(statuses) > 0 {
		query += ` AND status = ANY($2)`
		strs := make([]string, len(statuses))
		for i, st := range statuses {
			strs[i] = string(st)
		}
		args = append(args, strs)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: completed item ids")
	}
	defer rows.Close()

	ids := make(map[string]model.ResultStatus)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, eris.Wrap(err, "postgres: scan completed id")
		}
		ids[id] = model.ResultStatus(status)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: completed ids iterate")
}

// Dead letter queue methods

func (s *PostgresStore) SaveDLQEntry(ctx context.Context, entry *resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	itemJSON, err := json.Marshal(entry.Item)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dlq item")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO dlq (id, run_id, source_key, item, error, error_kind, attempts, retry_count, max_retries, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.RunID, entry.Item.SourceKey, itemJSON, entry.Error, entry.ErrorKind,
		entry.Attempts, entry.RetryCount, entry.MaxRetries, entry.CreatedAt, entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert dlq entry")
}

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, run_id, item, error, error_kind, attempts, retry_count, max_retries, created_at, last_failed_at
	          FROM dlq WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ErrorKind != "" {
		query += fmt.Sprintf(` AND error_kind = $%d`, argIdx)
		args = append(args, filter.ErrorKind)
		argIdx++
	}
	if filter.SourceKey != "" {
		query += fmt.Sprintf(` AND source_key = $%d`, argIdx)
		args = append(args, filter.SourceKey)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var itemJSON []byte
		if err := rows.Scan(&e.ID, &e.RunID, &itemJSON, &e.Error, &e.ErrorKind,
			&e.Attempts, &e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		if err := json.Unmarshal(itemJSON, &e.Item); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dlq item")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

func (s *PostgresStore) DeleteDLQEntry(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dlq WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete dlq entry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dlq entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dlq SET retry_count = retry_count + 1, last_failed_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dlq entry not found: %s", id)
	}
	return nil
}
