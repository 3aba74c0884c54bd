package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/xhad/corpus/internal/models"
	"github.com/xhad/corpus/internal/types"
)

const (
	// DefaultSearchThreshold gates the standalone search endpoint.
	DefaultSearchThreshold = 0.5
	// DefaultChatThreshold gates chunks pulled in as chat context.
	DefaultChatThreshold = 0.6

	DefaultSearchLimit = 10
	DefaultChatLimit   = 3
)

// SearchOptions are call-site configuration: the standalone search path and
// the chat-context path run the same algorithm with different thresholds
// and limits.
type SearchOptions struct {
	Limit         int
	Threshold     float64
	IncludeChunks bool
}

func SearchDefaults() SearchOptions {
	return SearchOptions{Limit: DefaultSearchLimit, Threshold: DefaultSearchThreshold}
}

func ChatDefaults() SearchOptions {
	return SearchOptions{Limit: DefaultChatLimit, Threshold: DefaultChatThreshold, IncludeChunks: true}
}

// Retriever ranks stored pages and chunks against a query: vector
// similarity first, keyword search as the fallback when semantic
// retrieval is empty or embeddings are unavailable.
type Retriever struct {
	store    types.PageStore
	embedder types.EmbeddingProvider
	lexical  types.LexicalIndex
}

func New(store types.PageStore, embedder types.EmbeddingProvider, lexical types.LexicalIndex) *Retriever {
	return &Retriever{
		store:    store,
		embedder: embedder,
		lexical:  lexical,
	}
}

// Search scores all indexed content against query. Results come back in
// descending score order; equal scores keep storage order.
func (r *Retriever) Search(ctx context.Context, query string, opts SearchOptions) ([]models.SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}

	queryEmbedding, err := r.embedder.Embed(ctx, query)
	if err != nil || len(queryEmbedding) == 0 {
		slog.Debug("semantic search unavailable, falling back to lexical",
			slog.String("query", query))
		return r.lexicalSearch(ctx, query, opts.Limit)
	}

	results, err := r.semanticSearch(ctx, queryEmbedding, opts)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return r.lexicalSearch(ctx, query, opts.Limit)
	}
	return results, nil
}

func (r *Retriever) semanticSearch(ctx context.Context, queryEmbedding []float32, opts SearchOptions) ([]models.SearchResult, error) {
	pages, err := r.store.ListPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}

	urlByPage := make(map[string]string, len(pages))
	var results []models.SearchResult

	for _, page := range pages {
		urlByPage[page.ID] = page.URL
		score := CosineSimilarity(queryEmbedding, page.Embedding)
		if score > opts.Threshold {
			results = append(results, models.SearchResult{
				PageID: page.ID,
				Title:  page.Title,
				URL:    page.URL,
				Text:   page.PlainText,
				Score:  score,
			})
		}
	}

	if opts.IncludeChunks {
		chunks, err := r.store.ListChunks(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list chunks: %w", err)
		}
		for _, chunk := range chunks {
			score := CosineSimilarity(queryEmbedding, chunk.Embedding)
			if score > opts.Threshold {
				results = append(results, models.SearchResult{
					PageID:  chunk.PageID,
					ChunkID: chunk.ID,
					Title:   chunk.PageTitle,
					URL:     urlByPage[chunk.PageID],
					Text:    chunk.FullContext,
					Score:   score,
				})
			}
		}
	}

	// Stable: equal scores preserve storage order.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (r *Retriever) lexicalSearch(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	results, err := r.lexical.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical fallback failed: %w", err)
	}
	return results, nil
}

// Citations de-duplicates results by URL so the same source surfacing
// through multiple chunks is cited once, at its best score.
func Citations(results []models.SearchResult) []models.Source {
	seen := make(map[string]bool, len(results))
	var sources []models.Source
	for _, r := range results {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		sources = append(sources, models.Source{
			Title: r.Title,
			URL:   r.URL,
			Score: r.Score,
		})
	}
	return sources
}

// CosineSimilarity is dot(a,b) / (||a|| * ||b||), defined as 0 when either
// vector is empty or zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
