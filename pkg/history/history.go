package history

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/corpus/internal/models"
	"github.com/xhad/corpus/internal/types"
)

var (
	// ErrHistoryNotSaved means every write attempt lost the optimistic
	// race; the computed reply is still valid and must be returned to the
	// user even though it was not recorded.
	ErrHistoryNotSaved = errors.New("chat history not saved")
	// ErrShareTokenInvalid covers both unknown and expired share tokens.
	ErrShareTokenInvalid = errors.New("share link not found or expired")
	// ErrSessionNotFound means the referenced session does not exist in
	// the user's history.
	ErrSessionNotFound = errors.New("session not found")
)

type StoreConfig struct {
	// MaxRetries bounds the optimistic-concurrency retry loop.
	MaxRetries int
	// DedupWindow is how close in time an identical message must be to
	// count as already appended when a conflicting write is replayed.
	DedupWindow time.Duration
	// SessionNameLength caps the name derived from the first message.
	SessionNameLength int
}

// Store tracks per-user multi-session conversations. The database's
// version counter is the only synchronization mechanism: writes are
// retried on conflict by reloading the latest history and re-applying
// only the messages not already present.
type Store struct {
	config  StoreConfig
	backend types.HistoryStore
}

func NewWithConfig(config StoreConfig, backend types.HistoryStore) *Store {
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.DedupWindow == 0 {
		config.DedupWindow = 60 * time.Second
	}
	if config.SessionNameLength == 0 {
		config.SessionNameLength = 40
	}

	return &Store{config: config, backend: backend}
}

// AppendTurn records one user message and the bot's reply in the given
// session (the active session, or a fresh one, when sessionID is empty).
// It returns the id of the session the turn landed in.
func (s *Store) AppendTurn(ctx context.Context, userID, sessionID string, userMsg, botMsg models.Message) (*models.ChatHistory, string, error) {
	var landedIn string

	h, err := s.update(ctx, userID, func(h *models.ChatHistory) error {
		session := s.locateSession(h, sessionID, userMsg.Text)
		landedIn = session.ID

		appendIfAbsent(session, userMsg, s.config.DedupWindow)
		appendIfAbsent(session, botMsg, s.config.DedupWindow)
		session.UpdatedAt = time.Now().UTC()
		h.ActiveSessionID = session.ID
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return h, landedIn, nil
}

// History returns the user's history, or nil when none exists yet.
func (s *Store) History(ctx context.Context, userID string) (*models.ChatHistory, error) {
	h, err := s.backend.GetHistory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", userID, err)
	}
	return h, nil
}

// CreateSession adds an empty named session and makes it active.
func (s *Store) CreateSession(ctx context.Context, userID, name string) (*models.ChatSession, error) {
	var created models.ChatSession

	_, err := s.update(ctx, userID, func(h *models.ChatHistory) error {
		now := time.Now().UTC()
		created = models.ChatSession{
			ID:        uuid.NewString(),
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
		}
		h.Sessions = append(h.Sessions, created)
		h.ActiveSessionID = created.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// SetActiveSession switches the active session; the target must exist.
func (s *Store) SetActiveSession(ctx context.Context, userID, sessionID string) error {
	_, err := s.update(ctx, userID, func(h *models.ChatHistory) error {
		if h.Session(sessionID) == nil {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		h.ActiveSessionID = sessionID
		return nil
	})
	return err
}

// DeleteSession removes a session. When the active session is deleted the
// most recently created remaining session becomes active, or none when no
// sessions remain.
func (s *Store) DeleteSession(ctx context.Context, userID, sessionID string) error {
	_, err := s.update(ctx, userID, func(h *models.ChatHistory) error {
		idx := -1
		for i := range h.Sessions {
			if h.Sessions[i].ID == sessionID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		h.Sessions = append(h.Sessions[:idx], h.Sessions[idx+1:]...)

		if h.ActiveSessionID == sessionID {
			h.ActiveSessionID = ""
			var latest *models.ChatSession
			for i := range h.Sessions {
				if latest == nil || h.Sessions[i].CreatedAt.After(latest.CreatedAt) {
					latest = &h.Sessions[i]
				}
			}
			if latest != nil {
				h.ActiveSessionID = latest.ID
			}
		}
		return nil
	})
	return err
}

// Shareable issues an opaque expiring token granting read-only access to
// the user's history. A ttl of zero produces a token that is already
// expired.
func (s *Store) Shareable(ctx context.Context, userID string, ttlHours int) (string, time.Time, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate share token: %w", err)
	}
	token := hex.EncodeToString(raw)
	expiresAt := time.Now().UTC().Add(time.Duration(ttlHours) * time.Hour)

	_, err := s.update(ctx, userID, func(h *models.ChatHistory) error {
		h.ShareToken = token
		h.ShareExpiresAt = expiresAt
		return nil
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ResolveShareToken returns the history a token points at. Expired tokens
// are rejected even if they have not been cleaned up yet. Tokens never
// grant write access; callers only read the returned snapshot.
func (s *Store) ResolveShareToken(ctx context.Context, token string) (*models.ChatHistory, error) {
	if token == "" {
		return nil, ErrShareTokenInvalid
	}

	h, err := s.backend.GetHistoryByShareToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve share token: %w", err)
	}
	if h == nil || h.ShareToken != token || !time.Now().Before(h.ShareExpiresAt) {
		return nil, ErrShareTokenInvalid
	}
	return h, nil
}

// update is the bounded retry combinator around one transactional
// mutation: attempt, reload on conflict, give up after MaxRetries.
// mutate sees the freshest history on every attempt and must be
// idempotent with respect to already-applied changes.
func (s *Store) update(ctx context.Context, userID string, mutate func(h *models.ChatHistory) error) (*models.ChatHistory, error) {
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		h, err := s.backend.GetHistory(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load history for %s: %w", userID, err)
		}

		fresh := h == nil
		if fresh {
			now := time.Now().UTC()
			h = &models.ChatHistory{UserID: userID, CreatedAt: now}
		}

		if err := mutate(h); err != nil {
			return nil, err
		}
		h.UpdatedAt = time.Now().UTC()

		if fresh {
			err = s.backend.CreateHistory(ctx, h)
		} else {
			err = s.backend.UpdateHistory(ctx, h)
		}
		if errors.Is(err, types.ErrVersionConflict) {
			slog.Debug("history write conflict, retrying",
				slog.String("user", userID),
				slog.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save history for %s: %w", userID, err)
		}
		return h, nil
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts", ErrHistoryNotSaved, s.config.MaxRetries)
}

// locateSession finds the target session for a turn, preferring the
// explicit id, then the active session, then a new session named after the
// first message.
func (s *Store) locateSession(h *models.ChatHistory, sessionID, firstMessage string) *models.ChatSession {
	if sessionID != "" {
		if session := h.Session(sessionID); session != nil {
			return session
		}
	}
	if sessionID == "" && h.ActiveSessionID != "" {
		if session := h.Session(h.ActiveSessionID); session != nil {
			return session
		}
	}

	now := time.Now().UTC()
	session := models.ChatSession{
		ID:        uuid.NewString(),
		Name:      sessionName(firstMessage, s.config.SessionNameLength),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sessionID != "" {
		// the referenced session vanished under a concurrent delete;
		// recreate it under the same id so the turn is not lost
		session.ID = sessionID
	}
	h.Sessions = append(h.Sessions, session)
	return &h.Sessions[len(h.Sessions)-1]
}

// appendIfAbsent appends msg unless an identical message (same sender and
// text) already landed within the dedup window, which happens when a
// conflicting write is replayed after reload.
func appendIfAbsent(session *models.ChatSession, msg models.Message, window time.Duration) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	for i := len(session.Messages) - 1; i >= 0; i-- {
		existing := session.Messages[i]
		if existing.Sender == msg.Sender && existing.Text == msg.Text {
			delta := msg.Timestamp.Sub(existing.Timestamp)
			if delta < 0 {
				delta = -delta
			}
			if delta <= window {
				return
			}
		}
	}
	session.Messages = append(session.Messages, msg)
}

func sessionName(firstMessage string, max int) string {
	if firstMessage == "" {
		return "New chat"
	}
	runes := []rune(firstMessage)
	if len(runes) <= max {
		return firstMessage
	}
	return string(runes[:max]) + "…"
}
