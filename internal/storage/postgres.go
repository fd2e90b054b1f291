package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/user/pagejson-service/internal/domain"
)

// ErrNotFound is returned when no history exists for a path.
var ErrNotFound = errors.New("not found")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS extracted_pages (
		id               BIGSERIAL PRIMARY KEY,
		path             TEXT NOT NULL UNIQUE,
		title            TEXT NOT NULL DEFAULT '',
		first_heading    TEXT NOT NULL DEFAULT '',
		meta_description TEXT,
		content_length   INTEGER NOT NULL DEFAULT 0,
		status_code      INTEGER NOT NULL DEFAULT 0,
		last_error_type  TEXT NOT NULL DEFAULT '',
		last_error       TEXT NOT NULL DEFAULT '',
		failure_count    INTEGER NOT NULL DEFAULT 0,
		extracted_at     TIMESTAMPTZ,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS page_headings (
		page_id  BIGINT NOT NULL REFERENCES extracted_pages(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		level    SMALLINT NOT NULL,
		text     TEXT NOT NULL,
		PRIMARY KEY (page_id, position)
	)`,
}

// PageHistory is the last known extraction state of a content path.
type PageHistory struct {
	Path            string           `json:"path"`
	Title           string           `json:"title"`
	FirstHeading    string           `json:"firstHeading"`
	MetaDescription *string          `json:"metaDescription,omitempty"`
	ContentLength   int              `json:"contentLength"`
	StatusCode      int              `json:"statusCode"`
	LastErrorType   string           `json:"lastErrorType,omitempty"`
	LastError       string           `json:"lastError,omitempty"`
	FailureCount    int              `json:"failureCount"`
	Headings        []domain.Heading `json:"headings"`
	ExtractedAt     *time.Time       `json:"extractedAt,omitempty"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// PostgresStore keeps a history of extractions in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

// Migrate creates the history tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

// SaveExtraction upserts the page row and replaces its headings within a
// single transaction. A successful extraction clears the failure state.
func (s *PostgresStore) SaveExtraction(ctx context.Context, page *domain.PageData) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var pageID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO extracted_pages (path, title, first_heading, meta_description, content_length, status_code,
		                              last_error_type, last_error, failure_count, extracted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, '', '', 0, $7)
		 ON CONFLICT (path) DO UPDATE SET
		   title = EXCLUDED.title, first_heading = EXCLUDED.first_heading,
		   meta_description = EXCLUDED.meta_description, content_length = EXCLUDED.content_length,
		   status_code = EXCLUDED.status_code, last_error_type = '', last_error = '', failure_count = 0,
		   extracted_at = EXCLUDED.extracted_at, updated_at = NOW()
		 RETURNING id`,
		page.Path, page.Title, page.FirstHeading, page.MetaDescription, page.ContentLength, page.StatusCode,
		time.UnixMilli(page.ExtractedAt).UTC(),
	).Scan(&pageID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM page_headings WHERE page_id = $1`, pageID); err != nil {
		return err
	}

	if len(page.Headings) > 0 {
		batch := &pgx.Batch{}
		for i, h := range page.Headings {
			batch.Queue(`INSERT INTO page_headings (page_id, position, level, text) VALUES ($1, $2, $3, $4)`,
				pageID, i, h.Level, h.Text)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// RecordFailure stores the last error for path and bumps its failure count.
func (s *PostgresStore) RecordFailure(ctx context.Context, path string, failure *domain.Error) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO extracted_pages (path, status_code, last_error_type, last_error, failure_count)
		 VALUES ($1, $2, $3, $4, 1)
		 ON CONFLICT (path) DO UPDATE SET
		   status_code = EXCLUDED.status_code, last_error_type = EXCLUDED.last_error_type,
		   last_error = EXCLUDED.last_error, failure_count = extracted_pages.failure_count + 1,
		   updated_at = NOW()`,
		path, failure.Status, string(failure.Kind), failure.Message,
	)
	return err
}

// GetHistory retrieves the stored state of a path, including its headings.
func (s *PostgresStore) GetHistory(ctx context.Context, path string) (*PageHistory, error) {
	var (
		id int64
		h  PageHistory
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, path, title, first_heading, meta_description, content_length, status_code,
		        last_error_type, last_error, failure_count, extracted_at, updated_at
		 FROM extracted_pages WHERE path = $1`,
		path,
	).Scan(&id, &h.Path, &h.Title, &h.FirstHeading, &h.MetaDescription, &h.ContentLength, &h.StatusCode,
		&h.LastErrorType, &h.LastError, &h.FailureCount, &h.ExtractedAt, &h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT level, text FROM page_headings WHERE page_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	h.Headings = []domain.Heading{}
	for rows.Next() {
		var hd domain.Heading
		if err := rows.Scan(&hd.Level, &hd.Text); err != nil {
			return nil, err
		}
		h.Headings = append(h.Headings, hd)
	}
	return &h, rows.Err()
}
