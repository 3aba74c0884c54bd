package lexical

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/xhad/corpus/internal/models"
)

// pageDocument is the shape indexed for keyword search. Title, content and
// tags are all searchable; title and url are stored so hits can be rendered
// as citations without a store round-trip.
type pageDocument struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Tags    string `json:"tags"`
	URL     string `json:"url"`
}

type IndexConfig struct {
	Path string // empty means in-memory
}

// Index wraps a Bleve full-text index over indexed pages. It is the
// fallback ranking engine when semantic retrieval yields nothing.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

func NewWithConfig(config IndexConfig) (*Index, error) {
	mapping := bleve.NewIndexMapping()

	var idx bleve.Index
	var err error
	if config.Path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		idx, err = bleve.Open(config.Path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(config.Path, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open lexical index: %w", err)
	}

	return &Index{index: idx}, nil
}

// Index adds or replaces one page in the keyword index.
func (ix *Index) Index(ctx context.Context, page *models.Page) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return fmt.Errorf("lexical index is closed")
	}

	doc := pageDocument{
		Title:   page.Title,
		Content: page.PlainText,
		Tags:    strings.Join(page.Tags, " "),
		URL:     page.URL,
	}
	if err := ix.index.Index(page.ID, doc); err != nil {
		return fmt.Errorf("failed to index page %s: %w", page.ID, err)
	}
	return nil
}

// Search returns pages matching query ranked by the engine's native
// relevance score.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	request := bleve.NewSearchRequest(matchQuery)
	request.Size = limit
	request.Fields = []string{"title", "url"}

	result, err := ix.index.SearchInContext(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}

	results := make([]models.SearchResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		r := models.SearchResult{
			PageID: hit.ID,
			Score:  hit.Score,
		}
		if title, ok := hit.Fields["title"].(string); ok {
			r.Title = title
		}
		if url, ok := hit.Fields["url"].(string); ok {
			r.URL = url
		}
		results = append(results, r)
	}
	return results, nil
}

// Delete removes one page from the keyword index.
func (ix *Index) Delete(ctx context.Context, pageID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return fmt.Errorf("lexical index is closed")
	}
	return ix.index.Delete(pageID)
}

func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return nil
	}
	ix.closed = true
	return ix.index.Close()
}
