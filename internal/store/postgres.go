package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/zecchin-leonardo/archeo-extract/internal/db"
	"github.com/zecchin-leonardo/archeo-extract/internal/model"
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
	"insert_run":        `INSERT INTO ingest_runs (id, manifest, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run_status": `UPDATE ingest_runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"complete_run":      `UPDATE ingest_runs SET summary = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, manifest, status, summary, created_at, updated_at FROM ingest_runs WHERE id = $1`,
	"list_chunks":       `SELECT id, filename, chunk_index, chunk_page_position, chunk_type, chunk_content, chunk_embedding_content FROM chunks WHERE id = $1 ORDER BY filename, chunk_index`,
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

// Pool returns the underlying database pool for use by subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS ingest_runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	manifest   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	summary    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chunks (
	id                      INTEGER NOT NULL,
	filename                TEXT NOT NULL,
	chunk_index             INTEGER NOT NULL,
	chunk_page_position     JSONB NOT NULL,
	chunk_type              JSONB NOT NULL,
	chunk_content           TEXT NOT NULL,
	chunk_embedding_content TEXT NOT NULL,
	PRIMARY KEY (id, filename, chunk_index)
);

CREATE TABLE IF NOT EXISTS unreadable_sources (
	intervention INTEGER NOT NULL,
	filename     TEXT NOT NULL,
	path         TEXT NOT NULL,
	run_id       TEXT NOT NULL REFERENCES ingest_runs(id),
	recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (intervention, filename)
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_status ON ingest_runs(status);
CREATE INDEX IF NOT EXISTS idx_chunks_id ON chunks(id);
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

func (s *PostgresStore) CreateRun(ctx context.Context, manifest string) (*model.IngestRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, manifest, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, manifest, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.IngestRun{
		ID:        id,
		Manifest:  manifest,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, updated_at = $2 WHERE id = $3`,
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

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET summary = $1, status = $2, updated_at = $3 WHERE id = $4`,
		summaryJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.IngestRun, error) {
	var r model.IngestRun
	var summaryNull *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, manifest, status, summary, created_at, updated_at FROM ingest_runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Manifest, &r.Status, &summaryNull, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if summaryNull != nil {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(*summaryNull, r.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestRun, error) {
	query := `SELECT id, manifest, status, summary, created_at, updated_at FROM ingest_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
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

	var runs []model.IngestRun
	for rows.Next() {
		var r model.IngestRun
		var summaryNull *[]byte

		if err := rows.Scan(&r.ID, &r.Manifest, &r.Status, &summaryNull, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if summaryNull != nil {
			r.Summary = &model.RunSummary{}
			if err := json.Unmarshal(*summaryNull, r.Summary); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal summary")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// chunkColumns mirrors the dataset schema field names.
var chunkColumns = []string{
	"id", "filename", "chunk_index",
	"chunk_page_position", "chunk_type",
	"chunk_content", "chunk_embedding_content",
}

func (s *PostgresStore) UpsertChunks(ctx context.Context, chunks []model.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(chunks))
	for _, c := range chunks {
		pagesJSON, labelsJSON, err := marshalChunkArrays(c)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{
			int(c.Intervention), c.Filename, c.Index,
			pagesJSON, labelsJSON, c.Content, c.EmbeddingContent,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "chunks",
		Columns:      chunkColumns,
		ConflictKeys: []string{"id", "filename", "chunk_index"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert chunks")
	}
	return int(n), nil
}

func (s *PostgresStore) ListChunks(ctx context.Context, intervention model.InterventionID) ([]model.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, filename, chunk_index, chunk_page_position, chunk_type, chunk_content, chunk_embedding_content
		 FROM chunks WHERE id = $1 ORDER BY filename, chunk_index`,
		int(intervention),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list chunks")
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var id int
		var pagesJSON, labelsJSON []byte
		if err := rows.Scan(&id, &c.Filename, &c.Index, &pagesJSON, &labelsJSON, &c.Content, &c.EmbeddingContent); err != nil {
			return nil, eris.Wrap(err, "postgres: scan chunk")
		}
		c.Intervention = model.InterventionID(id)
		if err := unmarshalChunkArrays(&c, pagesJSON, labelsJSON); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, eris.Wrap(rows.Err(), "postgres: list chunks iterate")
}

func (s *PostgresStore) RecordUnreadable(ctx context.Context, runID string, doc model.SourceDocument) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO unreadable_sources (intervention, filename, path, run_id, recorded_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (intervention, filename) DO UPDATE SET run_id = $4, recorded_at = $5`,
		int(doc.Intervention), doc.Filename(), doc.Path, runID, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: record unreadable")
}

func (s *PostgresStore) ListUnreadable(ctx context.Context) ([]model.SourceDocument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT intervention, path FROM unreadable_sources ORDER BY intervention, filename`,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: list unreadable")
	}
	defer rows.Close()

	var docs []model.SourceDocument
	for rows.Next() {
		var d model.SourceDocument
		var id int
		if err := rows.Scan(&id, &d.Path); err != nil {
			return nil, eris.Wrap(err, "postgres: scan unreadable")
		}
		d.Intervention = model.InterventionID(id)
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list unreadable iterate")
}
