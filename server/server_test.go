package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/corpus/internal/models"
	"github.com/xhad/corpus/pkg/bot"
	"github.com/xhad/corpus/pkg/history"
	"github.com/xhad/corpus/pkg/retriever"
)

type stubSearcher struct {
	results []models.SearchResult
}

func (s *stubSearcher) Search(ctx context.Context, query string, opts retriever.SearchOptions) ([]models.SearchResult, error) {
	return s.results, nil
}

type stubResponder struct{ reply string }

func (s *stubResponder) Chat(ctx context.Context, query string, contexts []models.SearchResult, historyTail []models.Message) (string, error) {
	return s.reply, nil
}

type stubIndexer struct{}

func (stubIndexer) IndexPage(ctx context.Context, ref, addedBy string) (*models.Page, error) {
	return &models.Page{ID: "100", URL: ref, Title: "Indexed"}, nil
}

func (stubIndexer) IndexPageRecursive(ctx context.Context, ref, addedBy string, maxDepth int) ([]*models.Page, error) {
	return []*models.Page{{ID: "100", URL: ref, Title: "Indexed"}}, nil
}

type memBackend struct {
	histories map[string]*models.ChatHistory
}

func (m *memBackend) GetHistory(ctx context.Context, userID string) (*models.ChatHistory, error) {
	if h, ok := m.histories[userID]; ok {
		copied := *h
		return &copied, nil
	}
	return nil, nil
}

func (m *memBackend) CreateHistory(ctx context.Context, h *models.ChatHistory) error {
	h.Version = 1
	copied := *h
	m.histories[h.UserID] = &copied
	return nil
}

func (m *memBackend) UpdateHistory(ctx context.Context, h *models.ChatHistory) error {
	h.Version++
	copied := *h
	m.histories[h.UserID] = &copied
	return nil
}

func (m *memBackend) GetHistoryByShareToken(ctx context.Context, token string) (*models.ChatHistory, error) {
	for _, h := range m.histories {
		if h.ShareToken == token {
			copied := *h
			return &copied, nil
		}
	}
	return nil, nil
}

func newTestServer(results []models.SearchResult) *httptest.Server {
	histories := history.NewWithConfig(history.StoreConfig{},
		&memBackend{histories: map[string]*models.ChatHistory{}})
	b := bot.NewWithConfig(bot.BotConfig{},
		&stubSearcher{results: results}, &stubResponder{reply: "an answer"},
		stubIndexer{}, histories)
	return httptest.NewServer(New(b).Routes())
}

func TestHealth(t *testing.T) {
	ts := newTestServer(nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChatEndpoint(t *testing.T) {
	ts := newTestServer([]models.SearchResult{
		{Title: "Deploys", URL: "https://d/deploys", Score: 0.9},
	})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/chat", "application/json",
		strings.NewReader(`{"user_id":"alice","message":"how do we deploy?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result bot.ChatResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "an answer", result.Reply)
	assert.NotEmpty(t, result.SessionID)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "https://d/deploys", result.Sources[0].URL)
}

func TestChatEndpointRequiresMessage(t *testing.T) {
	ts := newTestServer(nil)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchEndpoint(t *testing.T) {
	ts := newTestServer([]models.SearchResult{
		{PageID: "1", Title: "Deploys", URL: "https://d/deploys", Score: 0.7},
	})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/search?q=deploy")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Results []models.SearchResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "Deploys", body.Results[0].Title)
}

func TestIndexEndpoint(t *testing.T) {
	ts := newTestServer(nil)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/index", "application/json",
		strings.NewReader(`{"url":"https://d/root","added_by":"admin"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Pages []struct {
			ID string `json:"id"`
		} `json:"pages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Pages, 1)
	assert.Equal(t, "100", body.Pages[0].ID)
}

func TestShareAndResolve(t *testing.T) {
	ts := newTestServer(nil)
	defer ts.Close()

	_, err := http.Post(ts.URL+"/api/chat", "application/json",
		strings.NewReader(`{"user_id":"alice","message":"hi"}`))
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/share", "application/json",
		strings.NewReader(`{"user_id":"alice","ttl_hours":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var share struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&share))
	require.NotEmpty(t, share.Token)

	shared, err := http.Get(ts.URL + "/api/shared/" + share.Token)
	require.NoError(t, err)
	defer shared.Body.Close()
	require.Equal(t, http.StatusOK, shared.StatusCode)

	// read-only projection: messages only, no owner or version fields
	var view map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(shared.Body).Decode(&view))
	require.Contains(t, view, "messages")
	assert.NotContains(t, view, "user_id")
	assert.NotContains(t, view, "version")
	assert.NotContains(t, view, "active_session_id")

	var messages []models.Message
	require.NoError(t, json.Unmarshal(view["messages"], &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, "hi", messages[0].Text)

	missing, err := http.Get(ts.URL + "/api/shared/bogus")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestSessionActions(t *testing.T) {
	ts := newTestServer(nil)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/sessions", "application/json",
		strings.NewReader(`{"user_id":"alice","name":"planning"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var session models.ChatSession
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	assert.Equal(t, "planning", session.Name)

	del, err := http.Post(ts.URL+"/api/sessions", "application/json",
		strings.NewReader(`{"user_id":"alice","action":"delete","session_id":"`+session.ID+`"}`))
	require.NoError(t, err)
	defer del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)

	activateMissing, err := http.Post(ts.URL+"/api/sessions", "application/json",
		strings.NewReader(`{"user_id":"alice","action":"activate","session_id":"gone"}`))
	require.NoError(t, err)
	defer activateMissing.Body.Close()
	assert.Equal(t, http.StatusNotFound, activateMissing.StatusCode)
}
