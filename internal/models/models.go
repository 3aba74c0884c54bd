package models

import "time"

// Page is one indexed documentation page. The canonical external ID is
// unique across pages; when a source has no stable id the cleaned URL is
// used as the key instead.
type Page struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	RawMarkup string    `json:"-"`
	PlainText string    `json:"plain_text"`
	Embedding []float32 `json:"-"`
	ParentID  string    `json:"parent_id,omitempty"`
	ChildIDs  []string  `json:"child_ids,omitempty"`
	SpaceKey  string    `json:"space_key,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	AddedBy   string    `json:"added_by,omitempty"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Chunks    []Chunk   `json:"chunks,omitempty"`
}

// Chunk is a header-addressed fragment of a page. Chunks are regenerated
// wholesale whenever their page is re-indexed, never mutated in place.
type Chunk struct {
	ID            string      `json:"id"`
	PageID        string      `json:"page_id"`
	PageTitle     string      `json:"page_title"`
	Header        string      `json:"header"`
	Level         int         `json:"level"`
	Content       string      `json:"content"`
	FullContext   string      `json:"full_context"`
	Embedding     []float32   `json:"-"`
	ParentChunkID string      `json:"parent_chunk_id,omitempty"`
	Children      []string    `json:"children,omitempty"`
	HeaderPath    []HeaderRef `json:"header_path,omitempty"`
	Depth         int         `json:"depth"`
}

// HeaderRef is one ancestor entry in a chunk's header path, root first.
type HeaderRef struct {
	Level   int    `json:"level"`
	Text    string `json:"text"`
	ChunkID string `json:"chunk_id"`
}

const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Message is immutable once appended to a session.
type Message struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Prompt    string    `json:"prompt,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatSession struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatHistory owns one user's sessions. Version is the optimistic
// concurrency counter; a write against a stale version must fail.
type ChatHistory struct {
	UserID          string        `json:"user_id"`
	Sessions        []ChatSession `json:"sessions"`
	ActiveSessionID string        `json:"active_session_id,omitempty"`
	ShareToken      string        `json:"-"`
	ShareExpiresAt  time.Time     `json:"-"`
	Version         int           `json:"version"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Session returns the session with the given id, or nil.
func (h *ChatHistory) Session(id string) *ChatSession {
	for i := range h.Sessions {
		if h.Sessions[i].ID == id {
			return &h.Sessions[i]
		}
	}
	return nil
}

// SearchResult pairs a scored entity with the provenance needed to render
// a citation.
type SearchResult struct {
	PageID  string  `json:"page_id"`
	ChunkID string  `json:"chunk_id,omitempty"`
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Text    string  `json:"-"`
	Score   float64 `json:"score"`
}

// Source is a de-duplicated citation surfaced with a chat reply.
type Source struct {
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

// Document is the raw fetch result handed back by a document source.
type Document struct {
	CanonicalID string
	URL         string
	Title       string
	SpaceKey    string
	RawMarkup   string
	ChildRefs   []string
}
