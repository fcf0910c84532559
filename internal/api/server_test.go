package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/crownking/assistant/internal/api"
	"github.com/crownking/assistant/internal/config"
	"github.com/crownking/assistant/internal/engine"
	"github.com/crownking/assistant/internal/provider"
)

// Mocks

type MockLLMProvider struct {
	mock.Mock
}

func (m *MockLLMProvider) Generate(ctx context.Context, query string) (string, error) {
	args := m.Called(ctx, query)
	return args.String(0), args.Error(1)
}

func (m *MockLLMProvider) Name() string {
	return "mock"
}

type fixture struct {
	server *api.Server
	llm    *MockLLMProvider
	cfg    *config.Config
	hook   *test.Hook
}

// setupServer builds a server whose factory returns the mock only when
// provider.New would accept the configuration.
func setupServer(t *testing.T, apiKey string) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Documents.Dir = filepath.Join(t.TempDir(), "documents")
	cfg.LLM.Type = "groq"
	cfg.LLM.GroqAPIKey = apiKey
	cfg.Fetcher.AllowedHosts = []string{"127.0.0.1"}

	logger, hook := test.NewNullLogger()
	entry := logger.WithField("test", "api")

	eng, err := engine.NewEngine(cfg, entry)
	require.NoError(t, err)
	eng.LoadConfig = func() (*config.Config, error) { return cfg, nil }

	llm := new(MockLLMProvider)
	eng.Factory = func(c config.LLMConfig, ctx string) (provider.LLMProvider, error) {
		if _, err := provider.New(c, ctx); err != nil {
			return nil, err
		}
		return llm, nil
	}
	_ = eng.Initialize()

	return &fixture{
		server: api.NewServer(eng, entry, cfg.Server),
		llm:    llm,
		cfg:    cfg,
		hook:   hook,
	}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.server.Router.ServeHTTP(rr, req)
	return rr
}

func detail(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Detail
}

func TestHandleHealth(t *testing.T) {
	f := setupServer(t, "")

	rr := f.do("GET", "/health", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestHandleChat(t *testing.T) {
	f := setupServer(t, "gsk-test")
	f.llm.On("Generate", mock.Anything, "Tell me about CrownKing").Return("CrownKing sells men's fashion and jewelry.", nil)

	rr := f.do("POST", "/chat", `{"query": "Tell me about CrownKing"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp api.ChatResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Answer)
	assert.NotEmpty(t, rr.Header().Get("X-Exchange-ID"))
	f.llm.AssertExpectations(t)
}

func TestHandleChatBadRequest(t *testing.T) {
	f := setupServer(t, "gsk-test")

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"query":`},
		{"missing query", `{}`},
		{"blank query", `{"query": "   "}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do("POST", "/chat", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.NotEmpty(t, detail(t, rr))
		})
	}
	f.llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestHandleChatUnavailableUntilReload(t *testing.T) {
	f := setupServer(t, "")

	rr := f.do("POST", "/chat", `{"query": "Do you ship internationally?"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, detail(t, rr), "not initialized")

	// still no credential
	rr = f.do("POST", "/reload", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, detail(t, rr), "GROQ_API_KEY")

	rr = f.do("POST", "/chat", `{"query": "Do you ship internationally?"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	f.cfg.LLM.GroqAPIKey = "gsk-rotated"
	rr = f.do("POST", "/reload", "")
	require.Equal(t, http.StatusOK, rr.Code)

	f.llm.On("Generate", mock.Anything, "Do you ship internationally?").Return("Yes, to over 50 countries.", nil)
	rr = f.do("POST", "/chat", `{"query": "Do you ship internationally?"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "50 countries")
}

func TestHandleChatGenerationError(t *testing.T) {
	f := setupServer(t, "gsk-test")
	f.llm.On("Generate", mock.Anything, "boom").Return("", errors.New("upstream exploded")).Once()
	f.llm.On("Generate", mock.Anything, "empty").Return("", nil).Once()
	f.llm.On("Generate", mock.Anything, "again").Return("Fine now", nil).Once()

	rr := f.do("POST", "/chat", `{"query": "boom"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, detail(t, rr), "upstream exploded")

	rr = f.do("POST", "/chat", `{"query": "empty"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, detail(t, rr), "no response generated")

	rr = f.do("POST", "/chat", `{"query": "again"}`)
	assert.Equal(t, http.StatusOK, rr.Code)

	var logged bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "Request failed" {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestHandleAddSampleDocument(t *testing.T) {
	f := setupServer(t, "gsk-test")

	rr := f.do("POST", "/add_sample_document", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp api.MessageResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Contains(t, resp.Message, filepath.Join(f.cfg.Documents.Dir, "product_catalog.txt"))

	data, err := os.ReadFile(filepath.Join(f.cfg.Documents.Dir, "product_catalog.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Gold Crown Ring: $249.99")

	rr = f.do("POST", "/reload", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, f.server.Engine.Pipeline().Context, "Gold Crown Ring: $249.99")
}

func TestHandleStatus(t *testing.T) {
	f := setupServer(t, "")

	rr := f.do("GET", "/status", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp api.StatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Ready)
	assert.Nil(t, resp.LoadedAt)

	f.cfg.LLM.GroqAPIKey = "gsk-test"
	require.Equal(t, http.StatusOK, f.do("POST", "/reload", "").Code)

	rr = f.do("GET", "/status", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Ready)
	assert.Equal(t, "mock", resp.Provider)
	assert.Equal(t, 0, resp.Documents)
	assert.Greater(t, resp.ContextBytes, 0)
	assert.NotNil(t, resp.LoadedAt)
}

func TestHandleImport(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		w.Write([]byte("<html><head><title>Belts</title></head><body>Crown Buckle Belt: $79.99</body></html>"))
	}))
	defer site.Close()

	f := setupServer(t, "gsk-test")

	rr := f.do("POST", "/documents/import", `{"url": "`+site.URL+`/belts", "name": "belts"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var resp api.ImportResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, filepath.Join(f.cfg.Documents.Dir, "belts.txt"), resp.Path)

	rr = f.do("POST", "/documents/import", `{"url": "`+site.URL+`/private/stock"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do("POST", "/documents/import", `{"url": "http://169.254.169.254/latest/meta-data/"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, detail(t, rr), "not allowed")

	rr = f.do("POST", "/documents/import", `{"url": "ftp://example.com/catalog"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do("POST", "/documents/import", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := setupServer(t, "gsk-test")

	req := httptest.NewRequest("OPTIONS", "/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	f.server.Router.ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest("OPTIONS", "/chat", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr = httptest.NewRecorder()
	f.server.Router.ServeHTTP(rr, req)

	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	f := setupServer(t, "")

	assert.Equal(t, http.StatusNotFound, f.do("GET", "/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do("GET", "/chat", "").Code)
}
