package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xhad/corpus/internal/models"
	"github.com/xhad/corpus/pkg/bot"
	"github.com/xhad/corpus/pkg/history"
	"github.com/xhad/corpus/pkg/source"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is the websocket envelope in both directions.
type Message struct {
	Type      string      `json:"type"`
	Content   string      `json:"content"`
	UserID    string      `json:"user_id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Server exposes the bot over JSON endpoints and a websocket chat.
type Server struct {
	bot *bot.Bot
}

func New(b *bot.Bot) *Server {
	return &Server{bot: b}
}

// Routes wires up the HTTP surface.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/index", s.handleIndex)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/share", s.handleShare)
	mux.HandleFunc("/api/shared/", s.handleShared)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

func (s *Server) Run(addr string) error {
	slog.Info("starting server", slog.String("addr", addr))
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	return srv.ListenAndServe()
}

type indexRequest struct {
	URL     string   `json:"url"`
	URLs    []string `json:"urls"`
	AddedBy string   `json:"added_by"`
	Depth   int      `json:"depth"`
}

type indexedPage struct {
	URL     string `json:"url"`
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Title   string `json:"title,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleIndex indexes one or more pages. Per-URL failures are reported in
// the result list; one bad URL does not abort the rest of the batch.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	urls := req.URLs
	if req.URL != "" {
		urls = append(urls, req.URL)
	}
	if len(urls) == 0 {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	results := make([]indexedPage, 0, len(urls))
	ok := true
	for _, u := range urls {
		pages, err := s.bot.Index(r.Context(), u, req.AddedBy, req.Depth)
		if err != nil {
			ok = false
			results = append(results, indexedPage{URL: u, Error: err.Error()})
			continue
		}
		for _, p := range pages {
			results = append(results, indexedPage{URL: p.URL, Success: true, ID: p.ID, Title: p.Title})
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": ok, "pages": results})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}

	results, err := s.bot.Search(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

type chatRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}

	result, err := s.bot.Chat(r.Context(), req.UserID, req.SessionID, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	h, err := s.bot.History(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if h == nil {
		http.Error(w, "no history", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

type sessionRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Action    string `json:"action"` // create, activate, delete
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	switch req.Action {
	case "", "create":
		session, err := s.bot.CreateSession(r.Context(), req.UserID, req.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	case "activate":
		if err := s.bot.SetActiveSession(r.Context(), req.UserID, req.SessionID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"active_session_id": req.SessionID})
	case "delete":
		if err := s.bot.DeleteSession(r.Context(), req.UserID, req.SessionID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
	}
}

type shareRequest struct {
	UserID   string `json:"user_id"`
	TTLHours int    `json:"ttl_hours"`
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req shareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	token, expiresAt, err := s.bot.Share(r.Context(), req.UserID, req.TTLHours)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt,
	})
}

// handleShared reconstructs message history for a share token. The token
// grants read access to messages only; owner and versioning fields stay
// private.
func (s *Server) handleShared(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, "/api/shared/")
	h, err := s.bot.SharedHistory(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}

	messages := []models.Message{}
	for _, session := range h.Sessions {
		messages = append(messages, session.Messages...)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("websocket closed", slog.Any("error", err))
			break
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendMessage(conn, Message{Type: "error", Content: "invalid message"})
			continue
		}
		s.handleMessage(r, conn, msg)
	}
}

func (s *Server) handleMessage(r *http.Request, conn *websocket.Conn, msg Message) {
	switch msg.Type {
	case "chat", "":
		userID := msg.UserID
		if userID == "" {
			userID = "anonymous"
		}
		result, err := s.bot.Chat(r.Context(), userID, msg.SessionID, msg.Content)
		if err != nil {
			s.sendMessage(conn, Message{Type: "error", Content: err.Error()})
			return
		}
		s.sendMessage(conn, Message{
			Type:      "response",
			Content:   result.Reply,
			SessionID: result.SessionID,
			Data:      result.Sources,
		})
	case "search":
		results, err := s.bot.Search(r.Context(), msg.Content)
		if err != nil {
			s.sendMessage(conn, Message{Type: "error", Content: err.Error()})
			return
		}
		s.sendMessage(conn, Message{Type: "results", Data: results})
	default:
		s.sendMessage(conn, Message{Type: "error", Content: "unknown message type: " + msg.Type})
	}
}

func (s *Server) sendMessage(conn *websocket.Conn, msg Message) {
	if err := conn.WriteJSON(msg); err != nil {
		slog.Error("failed to send websocket message", slog.Any("error", err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.Any("error", err))
	}
}

// writeError maps domain sentinels to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, source.ErrNotFound), errors.Is(err, history.ErrSessionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, source.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, history.ErrShareTokenInvalid):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		slog.Error("request failed", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
