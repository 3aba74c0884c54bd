package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xhad/corpus/internal/models"
	"github.com/xhad/corpus/internal/types"
	"github.com/xhad/corpus/pkg/chunker"
)

type IndexerConfig struct {
	// PageEmbeddingChars caps the text used for the page-level embedding.
	PageEmbeddingChars int
	MaxDepth           int
}

// Indexer turns source pages into persisted, embedded, keyword-indexed
// Pages with their chunk trees.
type Indexer struct {
	config   IndexerConfig
	source   types.DocumentSource
	chunker  *chunker.Chunker
	embedder types.EmbeddingProvider
	store    types.PageStore
	lexical  types.LexicalIndex
}

func NewWithConfig(config IndexerConfig, source types.DocumentSource, embedder types.EmbeddingProvider,
	store types.PageStore, lexical types.LexicalIndex) *Indexer {
	if config.PageEmbeddingChars == 0 {
		config.PageEmbeddingChars = 2000
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 2
	}

	return &Indexer{
		config:   config,
		source:   source,
		chunker:  chunker.New(),
		embedder: embedder,
		store:    store,
		lexical:  lexical,
	}
}

// IndexPage fetches one page, chunks and embeds it, and persists the
// result. Re-indexing a page with the same canonical identity updates it
// in place. A fetch failure is fatal for this call; embedding failures for
// individual chunks are not, the chunk just keeps an empty vector and
// remains reachable through keyword search.
func (ix *Indexer) IndexPage(ctx context.Context, ref, addedBy string) (*models.Page, error) {
	page, _, err := ix.indexOne(ctx, ref, addedBy, "")
	return page, err
}

// IndexPageRecursive walks the page's child links sequentially up to
// maxDepth. A processed set keyed by canonical URL is shared across the
// whole walk so shared child links and cycles are indexed once. Failing to
// fetch a child is logged and skips that subtree; the page is retried if
// another link reaches it later in the walk. Only a failure on the root
// page aborts the call.
func (ix *Indexer) IndexPageRecursive(ctx context.Context, ref, addedBy string, maxDepth int) ([]*models.Page, error) {
	if maxDepth <= 0 {
		maxDepth = ix.config.MaxDepth
	}

	processed := make(map[string]bool)
	var pages []*models.Page

	var walk func(ref, parentID string, depth int) error
	walk = func(ref, parentID string, depth int) error {
		canonical := ix.source.CanonicalURL(ref)
		if processed[canonical] {
			return nil
		}

		page, children, err := ix.indexOne(ctx, ref, addedBy, parentID)
		if err != nil {
			return err
		}
		// Marked only on success so a failed page can be retried when a
		// later link reaches it.
		processed[canonical] = true
		pages = append(pages, page)

		if depth >= maxDepth {
			return nil
		}
		for _, child := range children {
			if err := walk(child, page.ID, depth+1); err != nil {
				slog.Warn("skipping child page",
					slog.String("parent", page.ID),
					slog.String("child", child),
					slog.String("error", err.Error()))
			}
		}
		return nil
	}

	if err := walk(ref, "", 0); err != nil {
		return nil, err
	}
	return pages, nil
}

func (ix *Indexer) indexOne(ctx context.Context, ref, addedBy, parentID string) (*models.Page, []string, error) {
	doc, err := ix.source.Fetch(ctx, ref)
	if err != nil {
		return nil, nil, err
	}

	page, err := ix.existingPage(ctx, doc)
	if err != nil {
		return nil, nil, err
	}
	if page == nil {
		page = &models.Page{ID: doc.CanonicalID}
	}

	plain, err := chunker.PlainText(doc.RawMarkup)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to clean page %s: %w", page.ID, err)
	}

	chunks, err := ix.chunker.Chunk(doc.RawMarkup, page.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to chunk page %s: %w", page.ID, err)
	}
	for i := range chunks {
		chunks[i].PageTitle = doc.Title
		embedding, err := ix.embedder.Embed(ctx, chunks[i].FullContext)
		if err != nil || len(embedding) == 0 {
			slog.Warn("chunk embedding unavailable, keyword search only",
				slog.String("chunk", chunks[i].ID))
			continue
		}
		chunks[i].Embedding = embedding
	}

	childRefs := canonicalize(ix.source, doc.ChildRefs)

	page.URL = doc.URL
	page.Title = doc.Title
	page.SpaceKey = doc.SpaceKey
	page.RawMarkup = doc.RawMarkup
	page.PlainText = plain
	page.Embedding, _ = ix.embedder.Embed(ctx, pageEmbeddingInput(doc.Title, plain, chunks, ix.config.PageEmbeddingChars))
	page.ChildIDs = mergeOrdered(page.ChildIDs, childRefs)
	page.Chunks = chunks
	page.Version++
	page.UpdatedAt = time.Now().UTC()
	if parentID != "" {
		page.ParentID = parentID
	}
	if addedBy != "" {
		page.AddedBy = addedBy
	}

	if err := ix.store.UpsertPage(ctx, page); err != nil {
		return nil, nil, fmt.Errorf("failed to persist page %s: %w", page.ID, err)
	}
	if err := ix.lexical.Index(ctx, page); err != nil {
		slog.Warn("failed to update lexical index",
			slog.String("page", page.ID),
			slog.String("error", err.Error()))
	}

	return page, childRefs, nil
}

// existingPage looks the page up by canonical id first, then by URL for
// sources without a stable id.
func (ix *Indexer) existingPage(ctx context.Context, doc *models.Document) (*models.Page, error) {
	page, err := ix.store.GetPage(ctx, doc.CanonicalID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up page %s: %w", doc.CanonicalID, err)
	}
	if page != nil {
		return page, nil
	}
	page, err = ix.store.GetPageByURL(ctx, doc.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to look up page by URL %s: %w", doc.URL, err)
	}
	return page, nil
}

// pageEmbeddingInput is the title plus the leading chunk text, or the
// leading plain text when the page produced no chunks.
func pageEmbeddingInput(title, plain string, chunks []models.Chunk, max int) string {
	lead := plain
	if len(chunks) > 0 {
		lead = chunks[0].FullContext
	}
	return chunker.LeadingText(title+"\n"+lead, max)
}

func canonicalize(source types.DocumentSource, refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, source.CanonicalURL(ref))
	}
	return out
}

// mergeOrdered unions extra into existing, preserving existing order and
// appending unseen entries in their own order.
func mergeOrdered(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	merged := make([]string, 0, len(existing)+len(extra))
	for _, id := range existing {
		if !seen[id] {
			seen[id] = true
			merged = append(merged, id)
		}
	}
	for _, id := range extra {
		if !seen[id] {
			seen[id] = true
			merged = append(merged, id)
		}
	}
	return merged
}
