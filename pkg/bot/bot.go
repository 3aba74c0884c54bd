package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/xhad/corpus/internal/models"
	"github.com/xhad/corpus/pkg/history"
	"github.com/xhad/corpus/pkg/retriever"
)

// Searcher ranks indexed content against a query.
type Searcher interface {
	Search(ctx context.Context, query string, opts retriever.SearchOptions) ([]models.SearchResult, error)
}

// Responder generates a grounded reply from retrieved context and the
// conversation so far.
type Responder interface {
	Chat(ctx context.Context, query string, contexts []models.SearchResult, historyTail []models.Message) (string, error)
}

// PageIndexer pulls pages from the document source into the store.
type PageIndexer interface {
	IndexPage(ctx context.Context, ref, addedBy string) (*models.Page, error)
	IndexPageRecursive(ctx context.Context, ref, addedBy string, maxDepth int) ([]*models.Page, error)
}

type BotConfig struct {
	// Apology is the reply used when the language model fails; the chat
	// endpoint never surfaces a hard error to the user for that.
	Apology string
	// ShareTTLHours is the default lifetime of share links.
	ShareTTLHours int
	// Search and Chat tune the two retrieval paths; zero values take the
	// standard thresholds and limits.
	Search retriever.SearchOptions
	Chat   retriever.SearchOptions
}

// Bot ties retrieval, generation, and history together into the
// operations the server and the CLI expose.
type Bot struct {
	config    BotConfig
	searcher  Searcher
	responder Responder
	indexer   PageIndexer
	histories *history.Store
}

func NewWithConfig(config BotConfig, searcher Searcher, responder Responder,
	indexer PageIndexer, histories *history.Store) *Bot {
	if config.Apology == "" {
		config.Apology = "Sorry, I ran into a problem answering that. Please try again."
	}
	if config.ShareTTLHours == 0 {
		config.ShareTTLHours = 24
	}
	if config.Search.Limit == 0 {
		config.Search = retriever.SearchDefaults()
	}
	if config.Chat.Limit == 0 {
		config.Chat = retriever.ChatDefaults()
	}

	return &Bot{
		config:    config,
		searcher:  searcher,
		responder: responder,
		indexer:   indexer,
		histories: histories,
	}
}

// ChatResult is one answered turn.
type ChatResult struct {
	Reply     string          `json:"reply"`
	Sources   []models.Source `json:"sources,omitempty"`
	SessionID string          `json:"session_id"`
	// Saved is false when the turn could not be recorded; the reply is
	// still valid.
	Saved bool `json:"saved"`
}

// Chat answers one user message: retrieve context, generate a reply with
// the session's recent messages, record the turn, and cite the sources.
// Retrieval, generation and persistence failures all degrade; a
// conversational query never fails outright.
func (b *Bot) Chat(ctx context.Context, userID, sessionID, message string) (*ChatResult, error) {
	priorMessages, err := b.sessionMessages(ctx, userID, sessionID)
	if err != nil {
		slog.Warn("failed to load prior history, answering without it",
			slog.String("user", userID), slog.Any("error", err))
		priorMessages = nil
	}

	contexts, err := b.searcher.Search(ctx, message, b.config.Chat)
	if err != nil {
		slog.Warn("context retrieval failed, answering without context",
			slog.String("user", userID), slog.Any("error", err))
		contexts = nil
	}

	var sources []models.Source
	reply, err := b.responder.Chat(ctx, message, contexts, priorMessages)
	if err != nil {
		slog.Warn("chat generation failed",
			slog.String("user", userID), slog.Any("error", err))
		reply = b.config.Apology
	} else {
		sources = retriever.Citations(contexts)
	}

	now := time.Now().UTC()
	userMsg := models.Message{Sender: models.SenderUser, Text: message, Timestamp: now}
	botMsg := models.Message{Sender: models.SenderBot, Text: reply, Prompt: message, Timestamp: now}

	result := &ChatResult{Reply: reply, Sources: sources, SessionID: sessionID, Saved: true}
	_, landedIn, err := b.histories.AppendTurn(ctx, userID, sessionID, userMsg, botMsg)
	if err != nil {
		slog.Warn("chat turn not recorded",
			slog.String("user", userID), slog.Any("error", err))
		result.Saved = false
		return result, nil
	}
	result.SessionID = landedIn
	return result, nil
}

// Search is the standalone search endpoint.
func (b *Bot) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	return b.searcher.Search(ctx, query, b.config.Search)
}

// Index pulls one page, or its whole link tree when depth > 0.
func (b *Bot) Index(ctx context.Context, ref, addedBy string, depth int) ([]*models.Page, error) {
	if depth <= 0 {
		page, err := b.indexer.IndexPage(ctx, ref, addedBy)
		if err != nil {
			return nil, err
		}
		return []*models.Page{page}, nil
	}
	return b.indexer.IndexPageRecursive(ctx, ref, addedBy, depth)
}

// Share issues a read-only link to the user's chat history.
func (b *Bot) Share(ctx context.Context, userID string, ttlHours int) (string, time.Time, error) {
	if ttlHours == 0 {
		ttlHours = b.config.ShareTTLHours
	}
	return b.histories.Shareable(ctx, userID, ttlHours)
}

// SharedHistory resolves a share token to the history it points at.
func (b *Bot) SharedHistory(ctx context.Context, token string) (*models.ChatHistory, error) {
	return b.histories.ResolveShareToken(ctx, token)
}

// History returns the user's full chat history, nil when none exists.
func (b *Bot) History(ctx context.Context, userID string) (*models.ChatHistory, error) {
	return b.histories.History(ctx, userID)
}

func (b *Bot) CreateSession(ctx context.Context, userID, name string) (*models.ChatSession, error) {
	return b.histories.CreateSession(ctx, userID, name)
}

func (b *Bot) SetActiveSession(ctx context.Context, userID, sessionID string) error {
	return b.histories.SetActiveSession(ctx, userID, sessionID)
}

func (b *Bot) DeleteSession(ctx context.Context, userID, sessionID string) error {
	return b.histories.DeleteSession(ctx, userID, sessionID)
}

// sessionMessages loads the prior messages of the session a turn will land
// in: the explicit session when given, otherwise the active one.
func (b *Bot) sessionMessages(ctx context.Context, userID, sessionID string) ([]models.Message, error) {
	h, err := b.histories.History(ctx, userID)
	if err != nil || h == nil {
		return nil, err
	}

	id := sessionID
	if id == "" {
		id = h.ActiveSessionID
	}
	if session := h.Session(id); session != nil {
		return session.Messages, nil
	}
	return nil, nil
}
