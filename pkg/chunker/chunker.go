package chunker

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/corpus/internal/models"
)

const maxHeadingLevel = 6

// Chunker splits hierarchical markup into header-addressed chunks and
// reconstructs the parent/child tree from heading levels.
type Chunker struct{}

func New() *Chunker {
	return &Chunker{}
}

// headerSlot remembers the most recent heading seen at one level. The
// chunk index stays -1 until the heading's chunk is actually emitted, so a
// bodyless heading can never be resolved as an ancestor.
type headerSlot struct {
	text       string
	chunkIndex int
}

// Chunk walks the block-level nodes of markup in document order and emits
// one chunk per heading that accumulated body content. Body content that
// appears before the first heading is dropped.
//
// Chunk ids are "{pageID}-chunk-{index}" with index being the 0-based
// emission position, so re-chunking unchanged content yields the same ids.
func (c *Chunker) Chunk(markup, pageID string) ([]models.Chunk, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse markup: %w", err)
	}

	var slots [maxHeadingLevel]*headerSlot
	var chunks []models.Chunk
	var open *models.Chunk
	var openSlot *headerSlot
	var body []string

	flush := func() {
		if open != nil && len(body) > 0 {
			open.Content = strings.Join(body, "\n")
			open.FullContext = open.Header + "\n" + open.Content
			chunks = append(chunks, *open)
			openSlot.chunkIndex = len(chunks) - 1
		}
		open = nil
		openSlot = nil
		body = nil
	}

	doc.Find("h1, h2, h3, h4, h5, h6, p, li, tr, pre").Each(func(_ int, sel *goquery.Selection) {
		name := goquery.NodeName(sel)

		if level, ok := headingLevel(name); ok {
			flush()

			text := collapseWhitespace(sel.Text())

			// Slot index is 0-based; clear every deeper level so stale
			// siblings cannot become ancestors. The chunk index is filled
			// in by flush only if this heading emits a chunk.
			openSlot = &headerSlot{text: text, chunkIndex: -1}
			slots[level-1] = openSlot
			for i := level; i < maxHeadingLevel; i++ {
				slots[i] = nil
			}

			open = &models.Chunk{
				PageID:        pageID,
				Header:        text,
				Level:         level,
				ParentChunkID: resolveParent(slots[:], level, pageID),
				HeaderPath:    buildHeaderPath(slots[:], level, pageID),
				Depth:         level - 1,
			}
			return
		}

		if open == nil {
			return // body before any heading is dropped
		}
		if text := extractText(sel, name); text != "" {
			body = append(body, text)
		}
	})
	flush()

	for i := range chunks {
		chunks[i].ID = fmt.Sprintf("%s-chunk-%d", pageID, i)
	}
	linkChildren(chunks)

	return chunks, nil
}

// resolveParent scans lower levels closest first and returns the id of the
// nearest emitted chunk, or "" for a root chunk. A slot whose chunk was
// never emitted (heading with no body) is skipped so the scan can still
// reach a lower-level ancestor that did emit.
func resolveParent(slots []*headerSlot, level int, pageID string) string {
	for i := level - 2; i >= 0; i-- {
		if slots[i] == nil || slots[i].chunkIndex < 0 {
			continue
		}
		return fmt.Sprintf("%s-chunk-%d", pageID, slots[i].chunkIndex)
	}
	return ""
}

// buildHeaderPath collects the emitted ancestors from root down to the
// chunk's own level, consistent with the parent chain.
func buildHeaderPath(slots []*headerSlot, level int, pageID string) []models.HeaderRef {
	var path []models.HeaderRef
	for i := 0; i < level-1; i++ {
		if slots[i] == nil || slots[i].chunkIndex < 0 {
			continue
		}
		path = append(path, models.HeaderRef{
			Level:   i + 1,
			Text:    slots[i].text,
			ChunkID: fmt.Sprintf("%s-chunk-%d", pageID, slots[i].chunkIndex),
		})
	}
	return path
}

func linkChildren(chunks []models.Chunk) {
	byID := make(map[string]int, len(chunks))
	for i := range chunks {
		byID[chunks[i].ID] = i
	}
	for i := range chunks {
		parent := chunks[i].ParentChunkID
		if parent == "" {
			continue
		}
		if j, ok := byID[parent]; ok {
			chunks[j].Children = append(chunks[j].Children, chunks[i].ID)
		}
	}
}

func headingLevel(name string) (int, bool) {
	if len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6' {
		return int(name[1] - '0'), true
	}
	return 0, false
}

// extractText pulls the text of one content node. Code blocks keep their
// internal formatting and are fenced so prose and code stay distinguishable
// downstream; table rows flatten to pipe-separated cells.
func extractText(sel *goquery.Selection, name string) string {
	switch name {
	case "pre":
		code := strings.Trim(sel.Text(), "\n")
		if strings.TrimSpace(code) == "" {
			return ""
		}
		return "```\n" + code + "\n```"
	case "tr":
		var cells []string
		sel.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, collapseWhitespace(cell.Text()))
		})
		return strings.Join(cells, " | ")
	case "li":
		// Drop nested lists so their items are not counted twice.
		clone := sel.Clone()
		clone.Find("ul, ol").Remove()
		return collapseWhitespace(clone.Text())
	default: // p
		if sel.ParentsFiltered("li, tr, pre").Length() > 0 {
			return "" // already covered by the enclosing node
		}
		return collapseWhitespace(sel.Text())
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
