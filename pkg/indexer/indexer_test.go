package indexer_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/corpus/internal/models"
	"github.com/xhad/corpus/pkg/indexer"
	"github.com/xhad/corpus/pkg/source"
)

type fakeSource struct {
	docs     map[string]*models.Document
	failOnce map[string]bool
	fetches  []string
}

func (f *fakeSource) CanonicalURL(ref string) string {
	return strings.TrimSuffix(strings.SplitN(ref, "#", 2)[0], "/")
}

func (f *fakeSource) Fetch(ctx context.Context, ref string) (*models.Document, error) {
	canonical := f.CanonicalURL(ref)
	f.fetches = append(f.fetches, canonical)
	if f.failOnce[canonical] {
		delete(f.failOnce, canonical)
		return nil, fmt.Errorf("%w: %s", source.ErrNotFound, canonical)
	}
	doc, ok := f.docs[canonical]
	if !ok {
		return nil, fmt.Errorf("%w: %s", source.ErrNotFound, canonical)
	}
	return doc, nil
}

type fakeEmbedder struct {
	fail  bool
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.fail {
		return nil, nil // provider degrades to an empty vector
	}
	return []float32{float32(len(text)), 1}, nil
}

type memStore struct {
	pages map[string]*models.Page
	byURL map[string]string
}

func newMemStore() *memStore {
	return &memStore{pages: map[string]*models.Page{}, byURL: map[string]string{}}
}

func (m *memStore) UpsertPage(ctx context.Context, page *models.Page) error {
	copied := *page
	m.pages[page.ID] = &copied
	m.byURL[page.URL] = page.ID
	return nil
}

func (m *memStore) GetPage(ctx context.Context, id string) (*models.Page, error) {
	if p, ok := m.pages[id]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, nil
}

func (m *memStore) GetPageByURL(ctx context.Context, url string) (*models.Page, error) {
	if id, ok := m.byURL[url]; ok {
		return m.GetPage(ctx, id)
	}
	return nil, nil
}

func (m *memStore) ListPages(ctx context.Context) ([]models.Page, error) {
	var pages []models.Page
	for _, p := range m.pages {
		pages = append(pages, *p)
	}
	return pages, nil
}

func (m *memStore) ListChunks(ctx context.Context) ([]models.Chunk, error) { return nil, nil }
func (m *memStore) DeletePage(ctx context.Context, id string) error        { return nil }

type fakeLexical struct {
	indexed []string
}

func (f *fakeLexical) Index(ctx context.Context, page *models.Page) error {
	f.indexed = append(f.indexed, page.ID)
	return nil
}
func (f *fakeLexical) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	return nil, nil
}
func (f *fakeLexical) Delete(ctx context.Context, pageID string) error { return nil }
func (f *fakeLexical) Close() error                                    { return nil }

func newTestIndexer(src *fakeSource, emb *fakeEmbedder, store *memStore, lex *fakeLexical) *indexer.Indexer {
	return indexer.NewWithConfig(indexer.IndexerConfig{}, src, emb, store, lex)
}

const rootMarkup = `<html><body>
	<h1>Overview</h1><p>The system at a glance.</p>
	<h2>Details</h2><p>More depth here.</p>
</body></html>`

func TestIndexPage(t *testing.T) {
	src := &fakeSource{docs: map[string]*models.Document{
		"https://d/root": {
			CanonicalID: "100", URL: "https://d/root", Title: "Overview",
			SpaceKey: "ENG", RawMarkup: rootMarkup,
		},
	}}
	store := newMemStore()
	lex := &fakeLexical{}

	page, err := newTestIndexer(src, &fakeEmbedder{}, store, lex).
		IndexPage(context.Background(), "https://d/root", "admin")
	require.NoError(t, err)

	assert.Equal(t, "100", page.ID)
	assert.Equal(t, "Overview", page.Title)
	assert.Equal(t, "ENG", page.SpaceKey)
	assert.Equal(t, "admin", page.AddedBy)
	assert.Equal(t, 1, page.Version)
	assert.NotEmpty(t, page.PlainText)
	assert.NotEmpty(t, page.Embedding)
	require.Len(t, page.Chunks, 2)
	assert.Equal(t, "100-chunk-0", page.Chunks[0].ID)
	assert.NotEmpty(t, page.Chunks[0].Embedding)
	assert.Equal(t, "Overview", page.Chunks[0].PageTitle)

	stored, err := store.GetPage(context.Background(), "100")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, []string{"100"}, lex.indexed)
}

func TestIndexPageIdempotent(t *testing.T) {
	src := &fakeSource{docs: map[string]*models.Document{
		"https://d/root": {CanonicalID: "100", URL: "https://d/root", Title: "Overview", RawMarkup: rootMarkup},
	}}
	store := newMemStore()
	ix := newTestIndexer(src, &fakeEmbedder{}, store, &fakeLexical{})

	first, err := ix.IndexPage(context.Background(), "https://d/root", "")
	require.NoError(t, err)
	second, err := ix.IndexPage(context.Background(), "https://d/root", "")
	require.NoError(t, err)

	// same canonical id updates in place, chunk ids are stable
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Version)
	require.Len(t, store.pages, 1)

	var firstIDs, secondIDs []string
	for _, c := range first.Chunks {
		firstIDs = append(firstIDs, c.ID)
	}
	for _, c := range second.Chunks {
		secondIDs = append(secondIDs, c.ID)
	}
	assert.Equal(t, firstIDs, secondIDs)
}

func TestIndexPageEmbeddingFailureIsNonFatal(t *testing.T) {
	src := &fakeSource{docs: map[string]*models.Document{
		"https://d/root": {CanonicalID: "100", URL: "https://d/root", Title: "Overview", RawMarkup: rootMarkup},
	}}
	store := newMemStore()

	page, err := newTestIndexer(src, &fakeEmbedder{fail: true}, store, &fakeLexical{}).
		IndexPage(context.Background(), "https://d/root", "")
	require.NoError(t, err)

	assert.Empty(t, page.Embedding)
	for _, c := range page.Chunks {
		assert.Empty(t, c.Embedding)
	}
	require.Len(t, store.pages, 1) // still persisted for lexical search
}

func TestIndexPageRootFetchFailureIsFatal(t *testing.T) {
	src := &fakeSource{docs: map[string]*models.Document{}}

	_, err := newTestIndexer(src, &fakeEmbedder{}, newMemStore(), &fakeLexical{}).
		IndexPage(context.Background(), "https://d/gone", "")
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func childMarkup(title string) string {
	return fmt.Sprintf("<h1>%s</h1><p>body of %s</p>", title, title)
}

func TestIndexPageRecursive(t *testing.T) {
	src := &fakeSource{docs: map[string]*models.Document{
		"https://d/root": {
			CanonicalID: "root", URL: "https://d/root", Title: "Root", RawMarkup: rootMarkup,
			ChildRefs: []string{"https://d/a", "https://d/b"},
		},
		"https://d/a": {
			CanonicalID: "a", URL: "https://d/a", Title: "A", RawMarkup: childMarkup("A"),
			// shared link plus a cycle back to the root
			ChildRefs: []string{"https://d/b", "https://d/root"},
		},
		"https://d/b": {CanonicalID: "b", URL: "https://d/b", Title: "B", RawMarkup: childMarkup("B")},
	}}
	store := newMemStore()

	pages, err := newTestIndexer(src, &fakeEmbedder{}, store, &fakeLexical{}).
		IndexPageRecursive(context.Background(), "https://d/root", "admin", 3)
	require.NoError(t, err)

	// every page exactly once despite the shared link and the cycle
	require.Len(t, pages, 3)
	assert.Len(t, src.fetches, 3)

	root, _ := store.GetPage(context.Background(), "root")
	require.NotNil(t, root)
	assert.Equal(t, []string{"https://d/a", "https://d/b"}, root.ChildIDs)

	a, _ := store.GetPage(context.Background(), "a")
	require.NotNil(t, a)
	assert.Equal(t, "root", a.ParentID)
}

func TestIndexPageRecursiveMaxDepth(t *testing.T) {
	src := &fakeSource{docs: map[string]*models.Document{
		"https://d/root": {CanonicalID: "root", URL: "https://d/root", Title: "Root",
			RawMarkup: rootMarkup, ChildRefs: []string{"https://d/a"}},
		"https://d/a": {CanonicalID: "a", URL: "https://d/a", Title: "A",
			RawMarkup: childMarkup("A"), ChildRefs: []string{"https://d/b"}},
		"https://d/b": {CanonicalID: "b", URL: "https://d/b", Title: "B", RawMarkup: childMarkup("B")},
	}}

	pages, err := newTestIndexer(src, &fakeEmbedder{}, newMemStore(), &fakeLexical{}).
		IndexPageRecursive(context.Background(), "https://d/root", "", 1)
	require.NoError(t, err)
	require.Len(t, pages, 2) // root and a; b is beyond maxDepth
}

func TestIndexPageRecursiveChildFailureSkipsSubtree(t *testing.T) {
	src := &fakeSource{docs: map[string]*models.Document{
		"https://d/root": {CanonicalID: "root", URL: "https://d/root", Title: "Root",
			RawMarkup: rootMarkup, ChildRefs: []string{"https://d/missing", "https://d/b"}},
		"https://d/b": {CanonicalID: "b", URL: "https://d/b", Title: "B", RawMarkup: childMarkup("B")},
	}}
	store := newMemStore()

	pages, err := newTestIndexer(src, &fakeEmbedder{}, store, &fakeLexical{}).
		IndexPageRecursive(context.Background(), "https://d/root", "", 2)
	require.NoError(t, err) // child failure never aborts the parent

	require.Len(t, pages, 2)
	assert.NotNil(t, store.pages["root"])
	assert.NotNil(t, store.pages["b"])
}

func TestIndexPageRecursiveRetriesFailedPageOnLaterLink(t *testing.T) {
	src := &fakeSource{
		docs: map[string]*models.Document{
			"https://d/root": {CanonicalID: "root", URL: "https://d/root", Title: "Root",
				RawMarkup: rootMarkup, ChildRefs: []string{"https://d/a", "https://d/b"}},
			"https://d/a": {CanonicalID: "a", URL: "https://d/a", Title: "A", RawMarkup: childMarkup("A")},
			"https://d/b": {CanonicalID: "b", URL: "https://d/b", Title: "B",
				RawMarkup: childMarkup("B"), ChildRefs: []string{"https://d/a"}},
		},
		// first fetch of a fails; the link from b reaches it again
		failOnce: map[string]bool{"https://d/a": true},
	}
	store := newMemStore()

	pages, err := newTestIndexer(src, &fakeEmbedder{}, store, &fakeLexical{}).
		IndexPageRecursive(context.Background(), "https://d/root", "", 3)
	require.NoError(t, err)

	require.Len(t, pages, 3)
	assert.NotNil(t, store.pages["a"])

	fetched := map[string]int{}
	for _, f := range src.fetches {
		fetched[f]++
	}
	assert.Equal(t, 2, fetched["https://d/a"]) // failed once, retried once
	assert.Equal(t, 1, fetched["https://d/b"])
}

func TestIndexPageMergesChildIDs(t *testing.T) {
	docs := map[string]*models.Document{
		"https://d/root": {CanonicalID: "root", URL: "https://d/root", Title: "Root",
			RawMarkup: rootMarkup, ChildRefs: []string{"https://d/a"}},
	}
	src := &fakeSource{docs: docs}
	store := newMemStore()
	ix := newTestIndexer(src, &fakeEmbedder{}, store, &fakeLexical{})

	_, err := ix.IndexPage(context.Background(), "https://d/root", "")
	require.NoError(t, err)

	// the page gained a link since the last crawl; old links are kept
	docs["https://d/root"].ChildRefs = []string{"https://d/b"}
	page, err := ix.IndexPage(context.Background(), "https://d/root", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"https://d/a", "https://d/b"}, page.ChildIDs)
}
