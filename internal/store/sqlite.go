package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/zecchin-leonardo/archeo-extract/internal/model"
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
CREATE TABLE IF NOT EXISTS ingest_runs (
	id         TEXT PRIMARY KEY,
	manifest   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	summary    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS chunks (
	id                      INTEGER NOT NULL,
	filename                TEXT NOT NULL,
	chunk_index             INTEGER NOT NULL,
	chunk_page_position     TEXT NOT NULL,
	chunk_type              TEXT NOT NULL,
	chunk_content           TEXT NOT NULL,
	chunk_embedding_content TEXT NOT NULL,
	PRIMARY KEY (id, filename, chunk_index)
);

CREATE TABLE IF NOT EXISTS unreadable_sources (
	intervention INTEGER NOT NULL,
	filename     TEXT NOT NULL,
	path         TEXT NOT NULL,
	run_id       TEXT NOT NULL REFERENCES ingest_runs(id),
	recorded_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (intervention, filename)
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_status ON ingest_runs(status);
CREATE INDEX IF NOT EXISTS idx_chunks_id ON chunks(id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, manifest string) (*model.IngestRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, manifest, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, manifest, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.IngestRun{
		ID:        id,
		Manifest:  manifest,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET summary = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(summaryJSON), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.IngestRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, manifest, status, summary, created_at, updated_at FROM ingest_runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestRun, error) {
	query := `SELECT id, manifest, status, summary, created_at, updated_at FROM ingest_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
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

	var runs []model.IngestRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) UpsertChunks(ctx context.Context, chunks []model.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, filename, chunk_index, chunk_page_position, chunk_type, chunk_content, chunk_embedding_content)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id, filename, chunk_index) DO UPDATE SET
		   chunk_page_position = excluded.chunk_page_position,
		   chunk_type = excluded.chunk_type,
		   chunk_content = excluded.chunk_content,
		   chunk_embedding_content = excluded.chunk_embedding_content`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert chunk")
	}
	defer stmt.Close()

	for _, c := range chunks {
		pagesJSON, labelsJSON, err := marshalChunkArrays(c)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx,
			int(c.Intervention), c.Filename, c.Index,
			string(pagesJSON), string(labelsJSON), c.Content, c.EmbeddingContent,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert chunk %s/%d", c.Filename, c.Index)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit chunks")
	}
	return len(chunks), nil
}

func (s *SQLiteStore) ListChunks(ctx context.Context, intervention model.InterventionID) ([]model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, chunk_index, chunk_page_position, chunk_type, chunk_content, chunk_embedding_content
		 FROM chunks WHERE id = ? ORDER BY filename, chunk_index`,
		int(intervention),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list chunks")
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var id int
		var pagesJSON, labelsJSON string
		if err := rows.Scan(&id, &c.Filename, &c.Index, &pagesJSON, &labelsJSON, &c.Content, &c.EmbeddingContent); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan chunk")
		}
		c.Intervention = model.InterventionID(id)
		if err := unmarshalChunkArrays(&c, []byte(pagesJSON), []byte(labelsJSON)); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, eris.Wrap(rows.Err(), "sqlite: list chunks iterate")
}

func (s *SQLiteStore) RecordUnreadable(ctx context.Context, runID string, doc model.SourceDocument) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO unreadable_sources (intervention, filename, path, run_id, recorded_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (intervention, filename) DO UPDATE SET run_id = excluded.run_id, recorded_at = excluded.recorded_at`,
		int(doc.Intervention), doc.Filename(), doc.Path, runID, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: record unreadable")
}

func (s *SQLiteStore) ListUnreadable(ctx context.Context) ([]model.SourceDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT intervention, path FROM unreadable_sources ORDER BY intervention, filename`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unreadable")
	}
	defer rows.Close()

	var docs []model.SourceDocument
	for rows.Next() {
		var d model.SourceDocument
		var id int
		if err := rows.Scan(&id, &d.Path); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unreadable")
		}
		d.Intervention = model.InterventionID(id)
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list unreadable iterate")
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

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.IngestRun, error) {
	var r model.IngestRun
	var summaryJSON sql.NullString

	err := row.Scan(&r.ID, &r.Manifest, &r.Status, &summaryJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if summaryJSON.Valid {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	return &r, nil
}

func marshalChunkArrays(c model.Chunk) (pagesJSON, labelsJSON []byte, err error) {
	pagesJSON, err = json.Marshal(c.Pages)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal chunk pages")
	}
	labelsJSON, err = json.Marshal(c.Labels)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal chunk labels")
	}
	return pagesJSON, labelsJSON, nil
}

func unmarshalChunkArrays(c *model.Chunk, pagesJSON, labelsJSON []byte) error {
	if err := json.Unmarshal(pagesJSON, &c.Pages); err != nil {
		return eris.Wrap(err, "store: unmarshal chunk pages")
	}
	if err := json.Unmarshal(labelsJSON, &c.Labels); err != nil {
		return eris.Wrap(err, "store: unmarshal chunk labels")
	}
	return nil
}
