package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/corpus/internal/models"
	"github.com/xhad/corpus/internal/types"
)

type StoreConfig struct {
	ConnString string
	VectorDim  int
}

// Store is the Postgres document store: pages with embedded chunk rows,
// pgvector embedding columns, and version-guarded chat histories.
type Store struct {
	config StoreConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(ctx context.Context, config StoreConfig) (*Store, error) {
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{config: config, pool: pool}
	if err := s.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS pages (
				id TEXT PRIMARY KEY,
				url TEXT NOT NULL,
				title TEXT,
				raw_markup TEXT,
				plain_text TEXT,
				embedding vector(%d),
				parent_id TEXT,
				child_ids JSONB NOT NULL DEFAULT '[]',
				space_key TEXT,
				tags JSONB NOT NULL DEFAULT '[]',
				added_by TEXT,
				version INTEGER NOT NULL DEFAULT 1,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, s.config.VectorDim),
		`CREATE UNIQUE INDEX IF NOT EXISTS pages_url_idx ON pages (url)`,
		`CREATE INDEX IF NOT EXISTS pages_tags_idx ON pages USING gin (tags)`,
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS chunks (
				id TEXT PRIMARY KEY,
				page_id TEXT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
				page_title TEXT,
				header TEXT,
				level INTEGER NOT NULL,
				content TEXT,
				full_context TEXT,
				embedding vector(%d),
				parent_chunk_id TEXT,
				children JSONB NOT NULL DEFAULT '[]',
				header_path JSONB NOT NULL DEFAULT '[]',
				depth INTEGER NOT NULL,
				seq INTEGER NOT NULL
			)`, s.config.VectorDim),
		`CREATE INDEX IF NOT EXISTS chunks_page_idx ON chunks (page_id)`,
		`CREATE TABLE IF NOT EXISTS chat_histories (
				user_id TEXT PRIMARY KEY,
				sessions JSONB NOT NULL DEFAULT '[]',
				active_session_id TEXT,
				share_token TEXT,
				share_expires_at TIMESTAMPTZ,
				version INTEGER NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
		`CREATE INDEX IF NOT EXISTS chat_histories_token_idx ON chat_histories (share_token)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// UpsertPage writes the page and replaces its chunk rows in one
// transaction; chunks are regenerated wholesale on every re-index.
func (s *Store) UpsertPage(ctx context.Context, page *models.Page) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO pages (id, url, title, raw_markup, plain_text, embedding, parent_id,
			child_ids, space_key, tags, added_by, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			raw_markup = EXCLUDED.raw_markup,
			plain_text = EXCLUDED.plain_text,
			embedding = EXCLUDED.embedding,
			parent_id = EXCLUDED.parent_id,
			child_ids = EXCLUDED.child_ids,
			space_key = EXCLUDED.space_key,
			tags = EXCLUDED.tags,
			added_by = EXCLUDED.added_by,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at`,
		page.ID, page.URL, page.Title, page.RawMarkup, page.PlainText,
		toVector(page.Embedding), nullable(page.ParentID), jsonSlice(page.ChildIDs),
		page.SpaceKey, jsonSlice(page.Tags), page.AddedBy, page.Version, page.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert page %s: %w", page.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE page_id = $1`, page.ID); err != nil {
		return fmt.Errorf("failed to clear chunks for %s: %w", page.ID, err)
	}
	for i, chunk := range page.Chunks {
		_, err = tx.Exec(ctx, `
			INSERT INTO chunks (id, page_id, page_title, header, level, content, full_context,
				embedding, parent_chunk_id, children, header_path, depth, seq)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			chunk.ID, page.ID, chunk.PageTitle, chunk.Header, chunk.Level, chunk.Content,
			chunk.FullContext, toVector(chunk.Embedding), nullable(chunk.ParentChunkID),
			jsonSlice(chunk.Children), chunk.HeaderPath, chunk.Depth, i)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit page %s: %w", page.ID, err)
	}
	return nil
}

const pageColumns = `id, url, title, plain_text, embedding, parent_id, child_ids,
	space_key, tags, added_by, version, updated_at`

func (s *Store) GetPage(ctx context.Context, id string) (*models.Page, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE id = $1`, id)
	return scanPage(row)
}

func (s *Store) GetPageByURL(ctx context.Context, url string) (*models.Page, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE url = $1`, url)
	return scanPage(row)
}

// ListPages returns every page without raw markup or chunk rows; callers
// ranking pages only need the cleaned text and the embedding.
func (s *Store) ListPages(ctx context.Context) ([]models.Page, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pageColumns+` FROM pages ORDER BY updated_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var pages []models.Page
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, *page)
	}
	return pages, rows.Err()
}

func (s *Store) ListChunks(ctx context.Context) ([]models.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, page_id, page_title, header, level, content, full_context,
			embedding, parent_chunk_id, children, header_path, depth
		FROM chunks ORDER BY page_id, seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		var embedding *pgvector.Vector
		var parent *string
		err := rows.Scan(&c.ID, &c.PageID, &c.PageTitle, &c.Header, &c.Level,
			&c.Content, &c.FullContext, &embedding, &parent, &c.Children,
			&c.HeaderPath, &c.Depth)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if embedding != nil {
			c.Embedding = embedding.Slice()
		}
		if parent != nil {
			c.ParentChunkID = *parent
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *Store) DeletePage(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM pages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete page %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetHistory(ctx context.Context, userID string) (*models.ChatHistory, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, sessions, active_session_id, share_token, share_expires_at,
			version, created_at, updated_at
		FROM chat_histories WHERE user_id = $1`, userID)
	return scanHistory(row)
}

func (s *Store) GetHistoryByShareToken(ctx context.Context, token string) (*models.ChatHistory, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, sessions, active_session_id, share_token, share_expires_at,
			version, created_at, updated_at
		FROM chat_histories WHERE share_token = $1`, token)
	return scanHistory(row)
}

// CreateHistory inserts a fresh history at version 1. A concurrent first
// write for the same user surfaces as a version conflict so the caller's
// retry loop reloads and re-applies.
func (s *Store) CreateHistory(ctx context.Context, h *models.ChatHistory) error {
	h.Version = 1
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO chat_histories (user_id, sessions, active_session_id, share_token,
			share_expires_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO NOTHING`,
		h.UserID, h.Sessions, nullable(h.ActiveSessionID), nullable(h.ShareToken),
		nullableTime(h.ShareExpiresAt), h.Version, h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create history for %s: %w", h.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrVersionConflict
	}
	return nil
}

// UpdateHistory is the optimistic write: it only lands when the stored
// version still matches the version the caller read, and bumps it by one.
func (s *Store) UpdateHistory(ctx context.Context, h *models.ChatHistory) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE chat_histories
		SET sessions = $2, active_session_id = $3, share_token = $4,
			share_expires_at = $5, version = version + 1, updated_at = $6
		WHERE user_id = $1 AND version = $7`,
		h.UserID, h.Sessions, nullable(h.ActiveSessionID), nullable(h.ShareToken),
		nullableTime(h.ShareExpiresAt), h.UpdatedAt, h.Version)
	if err != nil {
		return fmt.Errorf("failed to update history for %s: %w", h.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrVersionConflict
	}
	h.Version++
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func scanPage(row pgx.Row) (*models.Page, error) {
	var p models.Page
	var embedding *pgvector.Vector
	var parentID, addedBy *string
	err := row.Scan(&p.ID, &p.URL, &p.Title, &p.PlainText, &embedding, &parentID,
		&p.ChildIDs, &p.SpaceKey, &p.Tags, &addedBy, &p.Version, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan page: %w", err)
	}
	if embedding != nil {
		p.Embedding = embedding.Slice()
	}
	if parentID != nil {
		p.ParentID = *parentID
	}
	if addedBy != nil {
		p.AddedBy = *addedBy
	}
	return &p, nil
}

func scanHistory(row pgx.Row) (*models.ChatHistory, error) {
	var h models.ChatHistory
	var active, token *string
	var expires *time.Time
	err := row.Scan(&h.UserID, &h.Sessions, &active, &token, &expires,
		&h.Version, &h.CreatedAt, &h.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan history: %w", err)
	}
	if active != nil {
		h.ActiveSessionID = *active
	}
	if token != nil {
		h.ShareToken = *token
	}
	if expires != nil {
		h.ShareExpiresAt = *expires
	}
	return &h, nil
}

func toVector(embedding []float32) interface{} {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// jsonSlice keeps empty slices as [] instead of null in jsonb columns.
func jsonSlice(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
