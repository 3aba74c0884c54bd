package types

import (
	"context"
	"errors"

	"github.com/xhad/corpus/internal/models"
)

// ErrVersionConflict is returned by HistoryStore writes that lost an
// optimistic-concurrency race: the stored version no longer matches the
// version the caller read.
var ErrVersionConflict = errors.New("version conflict")

// DocumentSource resolves a page reference (URL or id) to its canonical
// identity and raw markup, plus the references it links to.
type DocumentSource interface {
	Fetch(ctx context.Context, ref string) (*models.Document, error)
	CanonicalURL(ref string) string
}

// EmbeddingProvider converts text to a fixed-length vector. Implementations
// degrade to a nil vector on failure instead of returning an error for
// transient provider problems; callers treat an empty vector as
// "embeddings unavailable".
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// LexicalIndex is the keyword-search collaborator used when semantic
// retrieval comes up empty.
type LexicalIndex interface {
	Index(ctx context.Context, page *models.Page) error
	Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error)
	Delete(ctx context.Context, pageID string) error
	Close() error
}

// PageStore persists pages with their chunks. Lookups return (nil, nil)
// when no page matches.
type PageStore interface {
	UpsertPage(ctx context.Context, page *models.Page) error
	GetPage(ctx context.Context, id string) (*models.Page, error)
	GetPageByURL(ctx context.Context, url string) (*models.Page, error)
	ListPages(ctx context.Context) ([]models.Page, error)
	ListChunks(ctx context.Context) ([]models.Chunk, error)
	DeletePage(ctx context.Context, id string) error
}

// HistoryStore persists per-user chat histories with optimistic version
// numbers. UpdateHistory compares against the version the caller read,
// increments it on success, and fails with ErrVersionConflict when the
// stored version has moved on. CreateHistory fails with ErrVersionConflict
// when a history for the user already exists. Lookups return (nil, nil)
// when nothing matches.
type HistoryStore interface {
	GetHistory(ctx context.Context, userID string) (*models.ChatHistory, error)
	CreateHistory(ctx context.Context, history *models.ChatHistory) error
	UpdateHistory(ctx context.Context, history *models.ChatHistory) error
	GetHistoryByShareToken(ctx context.Context, token string) (*models.ChatHistory, error)
}
