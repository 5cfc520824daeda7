package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/docchat/internal/chunker"
	"gwi.com/docchat/internal/core"
	"gwi.com/docchat/internal/llm"
	"gwi.com/docchat/internal/prompts"
	"gwi.com/docchat/internal/store"
	"gwi.com/docchat/internal/vectorstore"
)

// runeTokenizer makes every rune one token.
type runeTokenizer struct{}

func (runeTokenizer) Encode(text string) []int {
	out := make([]int, 0, len(text))
	for _, r := range text {
		out = append(out, int(r))
	}
	return out
}

func (runeTokenizer) Decode(tokens []int) string {
	rs := make([]rune, len(tokens))
	for i, t := range tokens {
		rs[i] = rune(t)
	}
	return string(rs)
}

type constEmbedder struct{}

func (constEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (constEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (constEmbedder) Dimension() int { return 2 }

type echoModel struct {
	fail bool
}

func (m echoModel) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	return "Title", nil
}

func (m echoModel) Stream(ctx context.Context, messages []llm.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !yield("Hello", nil) {
			return
		}
		if m.fail {
			yield("", llm.ErrModelUnavailable)
			return
		}
		yield(" world", nil)
	}
}

type testServer struct {
	*httptest.Server
	t *testing.T
}

func newTestServer(t *testing.T, model llm.Model) *testServer {
	t.Helper()
	db, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	catalog := prompts.Default()
	rag := core.NewRAGService(db, vectorstore.NewRegistry(2), constEmbedder{}, runeTokenizer{}, core.RAGConfig{
		Chunking: chunker.Config{MaxTokens: 10, Overlap: 2},
		TopK:     2,
	})
	chats := core.NewChatService(db, model, catalog)
	gen := core.NewGenerator(db, rag, model, chats, catalog, core.GeneratorConfig{
		FinalizeTimeout: 5 * time.Second,
		FinalizeBackoff: time.Millisecond,
	})
	users := core.NewUserService(db, "test-secret", time.Hour)

	h := NewHandler(users, chats, rag, gen, db, 1024)
	srv := httptest.NewServer(NewRouter(h, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, t: t}
}

func (s *testServer) do(method, path, token string, body any) *http.Response {
	s.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.Client().Do(req)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *testServer) login(username string) string {
	s.t.Helper()
	creds := map[string]string{"username": username, "password": "password1"}
	resp := s.do(http.MethodPost, "/auth/signup", "", creds)
	require.Equal(s.t, http.StatusCreated, resp.StatusCode)

	resp = s.do(http.MethodPost, "/auth/login", "", creds)
	require.Equal(s.t, http.StatusOK, resp.StatusCode)
	var tok tokenResponse
	require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&tok))
	assert.Equal(s.t, "bearer", tok.TokenType)
	return tok.AccessToken
}

func (s *testServer) createConversation(token string) store.Conversation {
	s.t.Helper()
	resp := s.do(http.MethodPost, "/conversations", token, nil)
	require.Equal(s.t, http.StatusCreated, resp.StatusCode)
	var c store.Conversation
	require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&c))
	return c
}

func (s *testServer) upload(token, conversationID, filename, content string) *http.Response {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(s.t, mw.WriteField("conversation_id", conversationID))
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(s.t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(s.t, err)
	require.NoError(s.t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, s.URL+"/upload", &buf)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.Client().Do(req)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, echoModel{})
	resp := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), `"ok"`)
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, echoModel{})
	token := s.login("alice")
	assert.NotEmpty(t, token)

	resp := s.do(http.MethodPost, "/auth/signup", "", map[string]string{"username": "alice", "password": "password1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "duplicate user")

	resp = s.do(http.MethodPost, "/auth/signup", "", map[string]string{"username": "bob", "password": "123"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "short password")

	resp = s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "wrong-one"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(http.MethodGet, "/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(http.MethodGet, "/conversations", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConversationRoutes(t *testing.T) {
	s := newTestServer(t, echoModel{})
	alice := s.login("alice")
	bob := s.login("bob")

	c := s.createConversation(alice)
	assert.Equal(t, store.DefaultTitle, c.Title)

	resp := s.do(http.MethodPatch, "/conversations/"+c.ID, alice, map[string]string{"title": "Research"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(http.MethodGet, "/conversations?query=search&limit=10", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []store.Conversation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "Research", list[0].Title)

	resp = s.do(http.MethodGet, "/conversations?limit=abc", alice, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = s.do(http.MethodGet, "/conversations?limit=500", alice, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(http.MethodGet, "/conversations/"+c.ID+"/messages", bob, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "other users get 404")

	resp = s.do(http.MethodDelete, "/conversations/"+c.ID, bob, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(http.MethodDelete, "/conversations/"+c.ID, alice, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(http.MethodGet, "/conversations/"+c.ID+"/messages", alice, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadAndGenerateStream(t *testing.T) {
	s := newTestServer(t, echoModel{})
	token := s.login("alice")
	c := s.createConversation(token)

	resp := s.upload(token, c.ID, "notes.txt", "The quick brown fox jumps over the lazy dog.")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var up uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&up))
	assert.Equal(t, "notes.txt", up.Filename)
	assert.Greater(t, up.ChunksStored, 1)

	resp = s.do(http.MethodPost, "/generate/stream", token, core.GenerateRequest{Prompt: "What jumps?", ConversationID: c.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := readBody(t, resp)
	assert.Contains(t, body, `data: {"token":"Hello"}`)
	assert.Contains(t, body, `data: {"token":" world"}`)
	assert.Contains(t, body, "event: done\n")
	assert.Less(t, strings.Index(body, "Hello"), strings.Index(body, "event: done"))

	resp = s.do(http.MethodGet, "/conversations/"+c.ID+"/messages", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs messagesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msgs))
	require.Len(t, msgs.Messages, 2)
	assert.Equal(t, "What jumps?", msgs.Messages[0].Content)
	assert.Equal(t, "Hello world", msgs.Messages[1].Content)
}

func TestGenerateStreamUpstreamError(t *testing.T) {
	s := newTestServer(t, echoModel{fail: true})
	token := s.login("alice")
	c := s.createConversation(token)

	resp := s.do(http.MethodPost, "/generate/stream", token, core.GenerateRequest{Prompt: "hi", ConversationID: c.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := readBody(t, resp)
	sentinel, err := json.Marshal(tokenEvent{Token: core.StreamErrorToken})
	require.NoError(t, err)
	assert.Contains(t, body, "data: "+string(sentinel))
	assert.Contains(t, body, "event: error\n")
	assert.NotContains(t, body, "event: done")
}

func TestGenerateStreamRejects(t *testing.T) {
	s := newTestServer(t, echoModel{})
	alice := s.login("alice")
	bob := s.login("bob")
	c := s.createConversation(alice)

	resp := s.do(http.MethodPost, "/generate/stream", alice, core.GenerateRequest{Prompt: "", ConversationID: c.ID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(http.MethodPost, "/generate/stream", bob, core.GenerateRequest{Prompt: "hi", ConversationID: c.ID})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadRejects(t *testing.T) {
	s := newTestServer(t, echoModel{})
	token := s.login("alice")
	c := s.createConversation(token)

	resp := s.upload(token, c.ID, "image.png", "binary")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "unsupported file type")

	resp = s.upload(token, c.ID, "empty.txt", "   ")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.upload(token, "missing", "notes.txt", "text")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.upload(token, c.ID, "big.txt", strings.Repeat("x", 4096))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestWriteErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrValidation, http.StatusBadRequest},
		{core.ErrUnauthorized, http.StatusUnauthorized},
		{core.ErrNotFound, http.StatusNotFound},
		{llm.ErrEmbeddingUnavailable, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}
