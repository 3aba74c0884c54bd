package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalURL(t *testing.T) {
	s, err := NewWithConfig(SourceConfig{BaseURL: "https://docs.example.com"})
	require.NoError(t, err)

	tests := []struct {
		ref      string
		expected string
	}{
		{"https://docs.example.com/display/ENG/Guide", "https://docs.example.com/display/ENG/Guide"},
		{"https://docs.example.com/display/ENG/Guide#section", "https://docs.example.com/display/ENG/Guide"},
		{"https://docs.example.com/display/ENG/Guide/", "https://docs.example.com/display/ENG/Guide"},
		{
			"https://docs.example.com/pages/viewpage.action?pageId=42&other=x",
			"https://docs.example.com/pages/viewpage.action?pageId=42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.expected, s.CanonicalURL(tt.ref))
		})
	}
}

func TestFetchWithMockServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`
			<html>
				<head><title>Test Page</title></head>
				<body>
					<h1>Test Content</h1>
					<p>This is a test paragraph.</p>
					<a href="/pages/child.html">Child</a>
					<a href="/pages/child.html#anchor">Child again</a>
					<a href="https://elsewhere.example.org/offsite">Offsite</a>
				</body>
			</html>
		`))
	}))
	defer server.Close()

	s, err := NewWithConfig(SourceConfig{BaseURL: server.URL, RateLimit: 100})
	require.NoError(t, err)

	doc, err := s.Fetch(context.Background(), server.URL+"/pages/root.html")
	require.NoError(t, err)

	assert.Equal(t, "Test Page", doc.Title)
	assert.Contains(t, doc.RawMarkup, "test paragraph")
	// same-host child deduplicated across the anchored variant, offsite dropped
	assert.Equal(t, []string{server.URL + "/pages/child.html"}, doc.ChildRefs)
}

func TestFetchErrorTaxonomy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/private":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer server.Close()

	s, err := NewWithConfig(SourceConfig{BaseURL: server.URL, RateLimit: 100})
	require.NoError(t, err)

	_, err = s.Fetch(context.Background(), server.URL+"/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Fetch(context.Background(), server.URL+"/private")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = s.Fetch(context.Background(), server.URL+"/broken")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrForbidden)
}

func TestFetchCanonicalIdentity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><head><title>ById</title></head><body><h1>x</h1></body></html>"))
	}))
	defer server.Close()

	s, err := NewWithConfig(SourceConfig{BaseURL: server.URL, RateLimit: 100})
	require.NoError(t, err)

	doc, err := s.Fetch(context.Background(), server.URL+"/pages/viewpage.action?pageId=1234")
	require.NoError(t, err)
	assert.Equal(t, "1234", doc.CanonicalID)

	doc, err = s.Fetch(context.Background(), server.URL+"/display/ENG/Some+Page")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/display/ENG/Some+Page", doc.CanonicalID)
	assert.Equal(t, "ENG", doc.SpaceKey)
}
